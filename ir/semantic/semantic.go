// Package semantic exposes the page-level view of a parsed document.
package semantic

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
)

// Rectangle is a box in PDF user space.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

func (r Rectangle) Width() float64  { return r.URX - r.LLX }
func (r Rectangle) Height() float64 { return r.URY - r.LLY }
func (r Rectangle) Empty() bool     { return r.Width() <= 0 || r.Height() <= 0 }

// Normalize orders the corners so that LL is below and left of UR.
func (r Rectangle) Normalize() Rectangle {
	return Rectangle{
		LLX: math.Min(r.LLX, r.URX), LLY: math.Min(r.LLY, r.URY),
		URX: math.Max(r.LLX, r.URX), URY: math.Max(r.LLY, r.URY),
	}
}

// Intersect returns the overlap of r and o, empty when they are disjoint.
func (r Rectangle) Intersect(o Rectangle) Rectangle {
	out := Rectangle{
		LLX: math.Max(r.LLX, o.LLX), LLY: math.Max(r.LLY, o.LLY),
		URX: math.Min(r.URX, o.URX), URY: math.Min(r.URY, o.URY),
	}
	if out.Empty() {
		return Rectangle{}
	}
	return out
}

// Array returns the rectangle as a PDF array.
func (r Rectangle) Array() *raw.ArrayObj {
	return raw.NewArray(Number(r.LLX), Number(r.LLY), Number(r.URX), Number(r.URY))
}

// Number returns f as an integer object when it has no fractional part.
func Number(f float64) raw.NumberObj {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}

// Page is one leaf of the page tree with inherited attributes applied.
type Page struct {
	Index     int
	Ref       raw.ObjectRef
	Dict      *raw.DictObj
	MediaBox  Rectangle
	CropBox   Rectangle
	Rotate    int
	Resources *raw.DictObj
}

// Box is the visible area: the CropBox clipped to the MediaBox.
func (p *Page) Box() Rectangle {
	if p.CropBox.Empty() {
		return p.MediaBox
	}
	if box := p.CropBox.Intersect(p.MediaBox); !box.Empty() {
		return box
	}
	return p.MediaBox
}

// Document is a parsed PDF with its flattened page list.
type Document struct {
	Raw     *raw.Document
	Catalog *raw.DictObj
	Pages   []*Page

	filters *filters.Pipeline
}

// Resolve dereferences indirect objects.
func (d *Document) Resolve(obj raw.Object) raw.Object {
	if obj == nil {
		return raw.NullObj{}
	}
	return d.Raw.Resolve(obj)
}

// ResolveDict resolves obj and returns it when it is a dictionary.
func (d *Document) ResolveDict(obj raw.Object) (*raw.DictObj, bool) {
	dict, ok := d.Resolve(obj).(*raw.DictObj)
	return dict, ok
}

// Filters returns the pipeline used to decode streams.
func (d *Document) Filters() *filters.Pipeline { return d.filters }

// ContentStreams returns the page's content streams in drawing order.
func (d *Document) ContentStreams(p *Page) []*raw.StreamObj {
	contents, ok := p.Dict.Lookup("Contents")
	if !ok {
		return nil
	}
	var out []*raw.StreamObj
	switch v := d.Resolve(contents).(type) {
	case *raw.StreamObj:
		out = append(out, v)
	case *raw.ArrayObj:
		for _, item := range v.Items {
			if s, ok := d.Resolve(item).(*raw.StreamObj); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// PageContent decodes and concatenates the page's content streams,
// separated by newlines so tokens cannot merge across stream boundaries.
func (d *Document) PageContent(ctx context.Context, p *Page) ([]byte, error) {
	var buf bytes.Buffer
	for i, s := range d.ContentStreams(p) {
		data, err := d.filters.DecodeStream(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("page %d content stream %d: %w", p.Index+1, i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// DecodeStream decodes s through every filter.
func (d *Document) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	return d.filters.DecodeStream(ctx, s)
}

// NewDocument wraps an already-built page list. Used by tests and tools that
// assemble documents in memory.
func NewDocument(rawDoc *raw.Document, pipeline *filters.Pipeline) *Document {
	if pipeline == nil {
		pipeline = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &Document{Raw: rawDoc, filters: pipeline}
}
