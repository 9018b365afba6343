package bencode

import (
	"encoding/json"
	"strings"
)

// ToJSON renders a decoded bencode value the way the CLI's "decode"
// command is specified to: integers as JSON numbers, byte strings as UTF-8
// text (invalid sequences replaced), lists and dictionaries recursively.
// Dictionary keys come out in the same ascending order bencode requires,
// which happens to match encoding/json's own alphabetical map-key sort.
func ToJSON(v Value) ([]byte, error) {
	return json.Marshal(toJSONValue(v))
}

func toJSONValue(v Value) interface{} {
	switch val := v.(type) {
	case Integer:
		return int64(val)
	case BigInteger:
		return json.Number(val.String())
	case String:
		return toUTF8(val)
	case List:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toJSONValue(item)
		}
		return out
	case *Dictionary:
		out := make(map[string]interface{}, val.Len())
		for _, k := range val.Keys() {
			item, _ := val.Get(k)
			out[k] = toJSONValue(item)
		}
		return out
	default:
		return nil
	}
}

// toUTF8 replaces invalid byte sequences with the Unicode replacement
// character, since bencode strings are arbitrary bytes but JSON output
// must be valid UTF-8 text.
func toUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
