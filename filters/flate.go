package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"io"

	"github.com/wudi/scanclean/ir/raw"
)

type flateDecoder struct{ limit int64 }

// NewFlateDecoder returns a FlateDecode decoder. limit <= 0 means unlimited.
func NewFlateDecoder(limit int64) Decoder { return flateDecoder{limit: limit} }

func (flateDecoder) Name() string { return "FlateDecode" }

func (d flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var r io.ReadCloser
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// raw deflate without the zlib header
		r = flate.NewReader(bytes.NewReader(in))
	} else {
		r = zr
	}
	defer r.Close()
	out, err := readLimited(r, d.limit)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	if err == ErrLimitExceeded {
		return nil, err
	}
	return applyPredictor(out, params)
}

// EncodeFlate compresses data in zlib format as FlateDecode expects.
func EncodeFlate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
