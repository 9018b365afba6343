package bencode

import (
	"bytes"
	"io"
	"math/big"
)

// Decode reads exactly one bencode value from r and returns it. Trailing
// bytes after the value are ignored, matching the "value + next offset"
// decode contract of the grammar: callers that need the remainder should
// use DecodeBytes directly.
func Decode(r io.Reader) (Value, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	v, _, err := DecodeBytes(data)
	return v, err
}

// DecodeBytes decodes one bencode value starting at the front of b and
// returns the value along with whatever bytes follow it.
func DecodeBytes(b []byte) (Value, []byte, error) {
	v, n, err := decodeAt(b, 0, nil)
	if err != nil {
		return nil, nil, err
	}
	return v, b[n:], nil
}

// SpanDecoder decodes while remembering the exact [start,end) byte range
// each dictionary occupied in the source buffer. The metainfo loader uses
// this to hash the original bytes of the "info" dictionary rather than
// re-encoding it, avoiding any canonicalization risk.
type SpanDecoder struct {
	spans map[*Dictionary][2]int
}

// DecodeWithSpans decodes the single top-level value in data, recording
// dictionary spans for later lookup via Span.
func (s *SpanDecoder) DecodeWithSpans(data []byte) (Value, error) {
	s.spans = make(map[*Dictionary][2]int)
	v, _, err := decodeAt(data, 0, s.spans)
	return v, err
}

// Span returns the byte range v occupied in the buffer last passed to
// DecodeWithSpans, if v is a dictionary produced by that call.
func (s *SpanDecoder) Span(v Value) (start, end int, ok bool) {
	d, isDict := v.(*Dictionary)
	if !isDict || s.spans == nil {
		return 0, 0, false
	}
	span, found := s.spans[d]
	if !found {
		return 0, 0, false
	}
	return span[0], span[1], true
}

// decodeAt decodes one value starting at offset pos in data, returning the
// value and the offset immediately after it. spans, if non-nil, collects
// the byte range of every dictionary decoded (including nested ones).
func decodeAt(data []byte, pos int, spans map[*Dictionary][2]int) (Value, int, error) {
	if pos >= len(data) {
		return nil, pos, malformedf("unexpected end of input at offset %d", pos)
	}

	switch lead := data[pos]; {
	case lead == 'i':
		return decodeInteger(data, pos)
	case lead == 'l':
		return decodeList(data, pos, spans)
	case lead == 'd':
		return decodeDictionary(data, pos, spans)
	case lead >= '0' && lead <= '9':
		return decodeString(data, pos)
	default:
		return nil, pos, malformedf("unrecognised lead byte %q at offset %d", lead, pos)
	}
}

func decodeInteger(data []byte, pos int) (Value, int, error) {
	end := bytes.IndexByte(data[pos:], 'e')
	if end < 0 {
		return nil, pos, malformedf("unterminated integer at offset %d", pos)
	}
	end += pos
	digits := data[pos+1 : end]
	if err := validateIntegerDigits(digits); err != nil {
		return nil, pos, err
	}

	n := new(big.Int)
	if _, ok := n.SetString(string(digits), 10); !ok {
		return nil, pos, malformedf("invalid integer %q at offset %d", digits, pos)
	}
	if n.IsInt64() {
		return Integer(n.Int64()), end + 1, nil
	}
	return BigInteger{n}, end + 1, nil
}

func validateIntegerDigits(digits []byte) error {
	if len(digits) == 0 {
		return malformedf("empty integer")
	}
	body := digits
	if body[0] == '-' {
		body = body[1:]
		if len(body) == 0 {
			return malformedf("bare minus sign in integer")
		}
	}
	for _, c := range body {
		if c < '0' || c > '9' {
			return malformedf("non-digit byte %q in integer", c)
		}
	}
	if len(body) > 1 && body[0] == '0' {
		return malformedf("leading zero in integer %q", digits)
	}
	if digits[0] == '-' && body[0] == '0' {
		return malformedf("negative zero is not allowed")
	}
	return nil
}

func decodeString(data []byte, pos int) (Value, int, error) {
	colon := bytes.IndexByte(data[pos:], ':')
	if colon < 0 {
		return nil, pos, malformedf("unterminated string length at offset %d", pos)
	}
	colon += pos
	lengthBytes := data[pos:colon]
	for _, c := range lengthBytes {
		if c < '0' || c > '9' {
			return nil, pos, malformedf("non-digit byte %q in string length", c)
		}
	}
	if len(lengthBytes) > 1 && lengthBytes[0] == '0' {
		return nil, pos, malformedf("leading zero in string length %q", lengthBytes)
	}

	length := 0
	for _, c := range lengthBytes {
		length = length*10 + int(c-'0')
	}

	start := colon + 1
	end := start + length
	if end > len(data) || end < start {
		return nil, pos, malformedf("string length %d overruns buffer at offset %d", length, pos)
	}
	out := make(String, length)
	copy(out, data[start:end])
	return out, end, nil
}

func decodeList(data []byte, pos int, spans map[*Dictionary][2]int) (Value, int, error) {
	cursor := pos + 1
	var out List
	for {
		if cursor >= len(data) {
			return nil, pos, malformedf("unterminated list starting at offset %d", pos)
		}
		if data[cursor] == 'e' {
			return out, cursor + 1, nil
		}
		v, next, err := decodeAt(data, cursor, spans)
		if err != nil {
			return nil, pos, err
		}
		out = append(out, v)
		cursor = next
	}
}

func decodeDictionary(data []byte, pos int, spans map[*Dictionary][2]int) (Value, int, error) {
	cursor := pos + 1
	dict := NewDictionary()
	var lastKey string
	haveLastKey := false
	for {
		if cursor >= len(data) {
			return nil, pos, malformedf("unterminated dictionary starting at offset %d", pos)
		}
		if data[cursor] == 'e' {
			end := cursor + 1
			if spans != nil {
				spans[dict] = [2]int{pos, end}
			}
			return dict, end, nil
		}

		keyVal, next, err := decodeAt(data, cursor, spans)
		if err != nil {
			return nil, pos, err
		}
		keyStr, ok := keyVal.(String)
		if !ok {
			return nil, pos, malformedf("dictionary key at offset %d is not a string", cursor)
		}
		key := string(keyStr)
		if haveLastKey {
			if key <= lastKey {
				return nil, pos, malformedf("dictionary keys out of order: %q does not follow %q", key, lastKey)
			}
		}
		lastKey = key
		haveLastKey = true

		val, next2, err := decodeAt(data, next, spans)
		if err != nil {
			return nil, pos, err
		}
		dict.Set(key, val)
		cursor = next2
	}
}
