package filters

import (
	"bytes"
	stdlzw "compress/lzw"
	"context"
	"io"

	"golang.org/x/image/tiff/lzw"

	"github.com/wudi/scanclean/ir/raw"
)

type lzwDecoder struct{ limit int64 }

func NewLZWDecoder(limit int64) Decoder { return lzwDecoder{limit: limit} }

func (lzwDecoder) Name() string { return "LZWDecode" }

// Decode handles both code-width switching modes: EarlyChange 1 (the PDF
// default) matches TIFF's LZW variant, EarlyChange 0 matches GIF's.
func (d lzwDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var r io.ReadCloser
	if intParam(params, "EarlyChange", 1) == 0 {
		r = stdlzw.NewReader(bytes.NewReader(in), stdlzw.MSB, 8)
	} else {
		r = lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	}
	defer r.Close()
	out, err := readLimited(r, d.limit)
	if err == ErrLimitExceeded || (err != nil && len(out) == 0) {
		return nil, err
	}
	return applyPredictor(out, params)
}
