// Package writer serialises a document as a complete, garbage-collected
// rewrite.
package writer

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/observability"
)

// ErrNoRoot is returned when the trailer has no /Root.
var ErrNoRoot = errors.New("trailer has no /Root")

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF15 PDFVersion = "1.5"
	PDF17 PDFVersion = "1.7"
)

type Config struct {
	// Version of the header. Empty keeps the document's version, raised
	// to 1.5 when object streams are written.
	Version PDFVersion
	// Compress Flate-encodes streams that carry no filter.
	Compress bool
	// Compression is the zlib level used by Compress. Zero selects the
	// default level.
	Compression int
	// ObjectStreams packs non-stream objects into object streams and
	// writes a cross-reference stream.
	ObjectStreams bool
	// ObjectsPerStream bounds the members of one object stream. Defaults
	// to 100.
	ObjectsPerStream int
	Logger           observability.Logger
}

type Writer interface {
	Write(ctx context.Context, doc *semantic.Document, w io.Writer, cfg Config) error
}

// Interceptor observes every indirect object as it is written, under its
// new number.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}

func (b *WriterBuilder) Build() Writer { return &impl{interceptors: b.interceptors} }

// New returns a writer without interceptors.
func New() Writer { return &impl{} }
