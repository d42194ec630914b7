package filters

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/image/ccitt"

	"github.com/wudi/scanclean/ir/raw"
)

type ccittDecoder struct{ limit int64 }

func NewCCITTFaxDecoder(limit int64) Decoder { return ccittDecoder{limit: limit} }

func (ccittDecoder) Name() string { return "CCITTFaxDecode" }

// Decode produces one bit per pixel, rows byte aligned, 0 meaning black
// unless BlackIs1 is set.
func (d ccittDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	k := intParam(params, "K", 0)
	columns := intParam(params, "Columns", 1728)
	rows := intParam(params, "Rows", 0)
	sf := ccitt.Group3
	switch {
	case k < 0:
		sf = ccitt.Group4
	case k > 0:
		return nil, fmt.Errorf("ccitt mixed 1D/2D encoding (K=%d): %w", k, ErrUnsupportedCodec)
	}
	height := ccitt.AutoDetectHeight
	if rows > 0 {
		height = rows
	}
	if columns <= 0 {
		return nil, fmt.Errorf("ccitt columns %d: %w", columns, ErrUnsupportedCodec)
	}
	opts := &ccitt.Options{
		Align:  boolParam(params, "EncodedByteAlign", false),
		Invert: boolParam(params, "BlackIs1", false),
	}
	r := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, sf, columns, height, opts)
	out, err := readLimited(r, d.limit)
	if err == ErrLimitExceeded || (err != nil && len(out) == 0) {
		return nil, fmt.Errorf("ccitt: %w", err)
	}
	return out, nil
}
