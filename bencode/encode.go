package bencode

import (
	"strconv"
)

// Encode serializes an Integer without leading zeros; negative zero cannot
// be constructed since Integer is a plain int64.
func (i Integer) Encode() []byte {
	return append([]byte{'i'}, append([]byte(strconv.FormatInt(int64(i), 10)), 'e')...)
}

// Encode serializes a BigInteger the same way as Integer, for values
// outside the int64 range.
func (b BigInteger) Encode() []byte {
	out := []byte{'i'}
	out = append(out, []byte(b.Int.String())...)
	out = append(out, 'e')
	return out
}

// Encode serializes a byte string as "<length>:<bytes>".
func (s String) Encode() []byte {
	out := []byte(strconv.Itoa(len(s)))
	out = append(out, ':')
	out = append(out, s...)
	return out
}

// Encode serializes a list as "l<items>e"; an empty list is "le".
func (l List) Encode() []byte {
	out := []byte{'l'}
	for _, v := range l {
		out = append(out, v.Encode()...)
	}
	out = append(out, 'e')
	return out
}

// Encode serializes a dictionary as "d<key><value>...e" with keys in
// strictly ascending byte order, regardless of insertion order; an empty
// dictionary is "de".
func (d *Dictionary) Encode() []byte {
	out := []byte{'d'}
	for _, k := range d.keys {
		out = append(out, String(k).Encode()...)
		out = append(out, d.values[k].Encode()...)
	}
	out = append(out, 'e')
	return out
}
