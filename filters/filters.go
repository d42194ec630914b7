// Package filters decodes PDF stream filters.
package filters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wudi/scanclean/ir/raw"
)

var (
	// ErrUnsupportedCodec is returned for image codecs this package cannot
	// decode (JPXDecode, JBIG2Decode) and for unsupported filter parameters.
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrUnknownFilter    = errors.New("unknown filter")
	ErrLimitExceeded    = errors.New("decoded size exceeds limit")
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder, len(decoders)), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// NewDefaultPipeline returns a pipeline with every decoder in Standard.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline(Standard(limits), limits)
}

// Standard returns the built-in decoders. Decoders that inflate honour
// limits.MaxDecompressedSize while decoding.
func Standard(limits Limits) []Decoder {
	return []Decoder{
		NewFlateDecoder(limits.MaxDecompressedSize),
		NewLZWDecoder(limits.MaxDecompressedSize),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(limits.MaxDecompressedSize),
		NewCCITTFaxDecoder(limits.MaxDecompressedSize),
	}
}

// IsImageCodec reports whether name is a filter whose output is an image
// rather than a byte stream.
func IsImageCodec(name string) bool {
	switch CanonicalName(name) {
	case "DCTDecode", "JPXDecode", "JBIG2Decode":
		return true
	}
	return false
}

// Decode runs every filter in order. Image codecs other than CCITT are
// rejected with ErrUnsupportedCodec; use DecodeImage for image streams.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	out, codec, _, err := p.DecodeImage(ctx, input, filterNames, params)
	if err != nil {
		return nil, err
	}
	if codec != "" {
		return nil, fmt.Errorf("%s: %w", codec, ErrUnsupportedCodec)
	}
	return out, nil
}

// DecodeImage decodes up to the first terminal image codec and returns the
// remaining encoded payload together with that codec's name and parameters.
// codec is empty when every filter was applied.
func (p *Pipeline) DecodeImage(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) (data []byte, codec string, codecParams raw.Dictionary, err error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data = input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, "", nil, err
		}
		name = CanonicalName(name)
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		if IsImageCodec(name) {
			if i != len(filterNames)-1 {
				return nil, "", nil, fmt.Errorf("%s followed by further filters: %w", name, ErrUnsupportedCodec)
			}
			return data, name, param, nil
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, "", nil, fmt.Errorf("%w: %s", ErrUnknownFilter, name)
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, "", nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, "", nil, fmt.Errorf("%s: %w", name, ErrLimitExceeded)
		}
		data = out
	}
	return data, "", nil, nil
}

// DecodeStream decodes a stream object through every filter.
func (p *Pipeline) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	names, params := ExtractFilters(s.Dict)
	return p.Decode(ctx, s.Data, names, params)
}

// readLimited copies r into memory, failing once more than limit bytes are
// produced. Truncated input keeps what was decoded so far.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	var out bytes.Buffer
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	_, err := io.Copy(&out, src)
	if limit > 0 && int64(out.Len()) > limit {
		return nil, ErrLimitExceeded
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && out.Len() > 0 {
			return out.Bytes(), nil
		}
		return out.Bytes(), err
	}
	return out.Bytes(), nil
}

func intParam(params raw.Dictionary, key string, def int) int {
	if params == nil {
		return def
	}
	v, ok := params.Get(raw.NameLiteral(key))
	if !ok {
		return def
	}
	if n, ok := raw.IntValue(v); ok {
		return n
	}
	return def
}

func boolParam(params raw.Dictionary, key string, def bool) bool {
	if params == nil {
		return def
	}
	v, ok := params.Get(raw.NameLiteral(key))
	if !ok {
		return def
	}
	if b, ok := v.(raw.BoolObj); ok {
		return b.V
	}
	return def
}
