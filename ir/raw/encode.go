package raw

import (
	"math"
	"sort"
	"strconv"
)

// AppendObject appends the PDF syntax for o to dst. Dictionary keys are
// written in sorted order so output is deterministic. Streams are written as
// their dictionary only; the stream body is the writer's concern.
func AppendObject(dst []byte, o Object) []byte {
	switch v := o.(type) {
	case nil:
		return append(dst, "null"...)
	case NameObj:
		return AppendName(dst, v.Val)
	case NumberObj:
		if v.IsInt {
			return strconv.AppendInt(dst, v.I, 10)
		}
		return AppendReal(dst, v.F)
	case BoolObj:
		return strconv.AppendBool(dst, v.V)
	case NullObj:
		return append(dst, "null"...)
	case StringObj:
		if v.Hex {
			return appendHexString(dst, v.Bytes)
		}
		return AppendLiteralString(dst, v.Bytes)
	case *ArrayObj:
		dst = append(dst, '[')
		for i, it := range v.Items {
			if i > 0 {
				dst = append(dst, ' ')
			}
			dst = AppendObject(dst, it)
		}
		return append(dst, ']')
	case *DictObj:
		return appendDict(dst, v)
	case *StreamObj:
		return appendDict(dst, v.Dict)
	case RefObj:
		dst = strconv.AppendInt(dst, int64(v.R.Num), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(v.R.Gen), 10)
		return append(dst, " R"...)
	}
	return append(dst, "null"...)
}

func appendDict(dst []byte, d *DictObj) []byte {
	dst = append(dst, "<<"...)
	if d != nil {
		keys := make([]string, 0, len(d.KV))
		for k := range d.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = AppendName(dst, k)
			dst = append(dst, ' ')
			dst = AppendObject(dst, d.KV[k])
		}
	}
	return append(dst, ">>"...)
}

// AppendReal formats f without an exponent, rounded to five decimals.
func AppendReal(dst []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, '0')
	}
	f = math.Round(f*1e5) / 1e5
	if f == 0 {
		// avoid "-0"
		return append(dst, '0')
	}
	return strconv.AppendFloat(dst, f, 'f', -1, 64)
}

// AppendName writes a name with '#xx' escapes for delimiters, whitespace
// and bytes outside the printable ASCII range.
func AppendName(dst []byte, name string) []byte {
	const hexDigits = "0123456789ABCDEF"
	dst = append(dst, '/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '!' || c > '~' || c == '#' || isNameDelimiter(c) {
			dst = append(dst, '#', hexDigits[c>>4], hexDigits[c&0xF])
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

func isNameDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// AppendLiteralString writes b as a parenthesised string. Parentheses are
// always escaped so the result never depends on balancing.
func AppendLiteralString(dst []byte, b []byte) []byte {
	dst = append(dst, '(')
	for _, c := range b {
		switch c {
		case '\\', '(', ')':
			dst = append(dst, '\\', c)
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if c < 0x20 || c >= 0x7F {
				dst = append(dst, '\\', '0'+(c>>6), '0'+((c>>3)&7), '0'+(c&7))
			} else {
				dst = append(dst, c)
			}
		}
	}
	return append(dst, ')')
}

func appendHexString(dst []byte, b []byte) []byte {
	const hexDigits = "0123456789ABCDEF"
	dst = append(dst, '<')
	for _, c := range b {
		dst = append(dst, hexDigits[c>>4], hexDigits[c&0xF])
	}
	return append(dst, '>')
}
