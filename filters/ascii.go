package filters

import (
	"bytes"
	"context"
	"encoding/ascii85"
	"encoding/hex"
	"fmt"

	"github.com/wudi/scanclean/ir/raw"
)

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	src := bytes.TrimSpace(in)
	src = bytes.TrimPrefix(src, []byte("<~"))
	if i := bytes.Index(src, []byte("~>")); i >= 0 {
		src = src[:i]
	} else if i := bytes.IndexByte(src, '~'); i >= 0 {
		src = src[:i]
	}
	out := make([]byte, 4*len(src)+4)
	n, _, err := ascii85.Decode(out, src, true)
	if err != nil {
		return nil, fmt.Errorf("ascii85: %w", err)
	}
	return out[:n], nil
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	digits := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		switch c {
		case ' ', '\t', '\r', '\n', '\f', 0:
			continue
		}
		digits = append(digits, c)
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(out, digits)
	if err != nil {
		return nil, fmt.Errorf("asciihex: %w", err)
	}
	return out[:n], nil
}

type runLengthDecoder struct{ limit int64 }

func NewRunLengthDecoder(limit int64) Decoder { return runLengthDecoder{limit: limit} }

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (d runLengthDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var out []byte
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				end = len(in)
			}
			out = append(out, in[i:end]...)
			i = end
		default:
			if i >= len(in) {
				return out, nil
			}
			out = append(out, bytes.Repeat(in[i:i+1], 257-n)...)
			i++
		}
		if d.limit > 0 && int64(len(out)) > d.limit {
			return nil, ErrLimitExceeded
		}
	}
	return out, nil
}
