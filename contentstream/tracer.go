package contentstream

import (
	"context"
	"errors"
	"fmt"
	"image/color"

	"github.com/wudi/scanclean/coords"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/observability"
)

// ErrFormDepth is returned when form XObjects nest deeper than the limit.
var ErrFormDepth = errors.New("form XObject nesting too deep")

type PlacementKind int

const (
	PlaceImage PlacementKind = iota
	PlaceInlineImage
	PlaceRect
)

func (k PlacementKind) String() string {
	switch k {
	case PlaceImage:
		return "image"
	case PlaceInlineImage:
		return "inline-image"
	case PlaceRect:
		return "rect"
	}
	return "unknown"
}

// Placement is something painted on the page. For images CTM maps the unit
// square to page space; for rectangles it maps Rect to page space.
type Placement struct {
	Kind PlacementKind
	CTM  coords.Matrix
	// Name is the XObject resource name for PlaceImage.
	Name      string
	Image     *raw.StreamObj
	Inline    *InlineImage
	Resources *raw.DictObj
	Rect      semantic.Rectangle
	Fill      color.RGBA
	// Depth counts enclosing form XObjects.
	Depth int
}

// Bounds returns the placement's axis-aligned box in page space.
func (p Placement) Bounds() semantic.Rectangle {
	var x0, y0, x1, y1 float64
	if p.Kind == PlaceRect {
		x0, y0, x1, y1 = coords.BoundsOf(p.CTM, p.Rect.LLX, p.Rect.LLY, p.Rect.URX, p.Rect.URY)
	} else {
		x0, y0, x1, y1 = p.CTM.Bounds()
	}
	return semantic.Rectangle{LLX: x0, LLY: y0, URX: x1, URY: y1}
}

// Resolver is the document access the tracer needs. *semantic.Document
// implements it.
type Resolver interface {
	Resolve(obj raw.Object) raw.Object
	DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error)
}

type TracerConfig struct {
	MaxFormDepth int
	Parser       *Parser
	Logger       observability.Logger
}

// Tracer walks operations tracking the graphics state and reports what is
// painted.
type Tracer struct {
	cfg TracerConfig
}

func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxFormDepth <= 0 {
		cfg.MaxFormDepth = 12
	}
	if cfg.Parser == nil {
		cfg.Parser = NewParser(nil)
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &Tracer{cfg: cfg}
}

// TracePage parses the page content and traces it from the identity CTM.
func (t *Tracer) TracePage(ctx context.Context, doc *semantic.Document, page *semantic.Page) ([]Placement, error) {
	content, err := doc.PageContent(ctx, page)
	if err != nil {
		return nil, err
	}
	ops, err := t.cfg.Parser.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index+1, err)
	}
	return t.Trace(ctx, doc, ops, page.Resources, coords.Identity())
}

// Trace walks ops starting from ctm with resources in effect.
func (t *Tracer) Trace(ctx context.Context, res Resolver, ops []Operation, resources *raw.DictObj, ctm coords.Matrix) ([]Placement, error) {
	w := &walker{
		t:     t,
		res:   res,
		ctx:   ctx,
		forms: make(map[*raw.StreamObj]bool),
	}
	err := w.run(ops, resources, graphicsState{CTM: ctm, Fill: color.RGBA{A: 255}}, 0)
	return w.out, err
}

type graphicsState struct {
	CTM  coords.Matrix
	Fill color.RGBA
}

type walker struct {
	t     *Tracer
	res   Resolver
	ctx   context.Context
	out   []Placement
	forms map[*raw.StreamObj]bool
}

func (w *walker) run(ops []Operation, resources *raw.DictObj, gs graphicsState, depth int) error {
	var (
		stack []graphicsState
		path  []semantic.Rectangle
	)
	for i, op := range ops {
		if i%256 == 0 {
			if err := w.ctx.Err(); err != nil {
				return err
			}
		}
		switch op.Operator {
		case "q":
			stack = append(stack, gs)
		case "Q":
			if n := len(stack); n > 0 {
				gs = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			if v, ok := op.Numbers(); ok && len(v) == 6 {
				m := coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
				gs.CTM = m.Multiply(gs.CTM)
			}
		case "g", "rg", "k", "sc", "scn":
			if c, ok := fillColor(op); ok {
				gs.Fill = c
			}
		case "cs":
			gs.Fill = color.RGBA{A: 255}
		case "re":
			if v, ok := op.Numbers(); ok && len(v) == 4 {
				path = append(path, semantic.Rectangle{LLX: v[0], LLY: v[1], URX: v[0] + v[2], URY: v[1] + v[3]}.Normalize())
			}
		case "f", "F", "f*", "B", "B*", "b", "b*":
			for _, r := range path {
				w.out = append(w.out, Placement{Kind: PlaceRect, CTM: gs.CTM, Rect: r, Fill: gs.Fill, Resources: resources, Depth: depth})
			}
			path = path[:0]
		case "S", "s", "n":
			path = path[:0]
		case "BI":
			if op.Inline != nil {
				w.out = append(w.out, Placement{Kind: PlaceInlineImage, CTM: gs.CTM, Inline: op.Inline, Resources: resources, Fill: gs.Fill, Depth: depth})
			}
		case "Do":
			if err := w.doXObject(op, resources, gs, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) doXObject(op Operation, resources *raw.DictObj, gs graphicsState, depth int) error {
	if len(op.Operands) != 1 {
		return nil
	}
	name, ok := raw.NameValue(op.Operands[0])
	if !ok {
		return nil
	}
	stream, ok := w.xobject(resources, name)
	if !ok {
		w.t.cfg.Logger.Debug("unknown XObject", observability.String("name", name))
		return nil
	}
	subtype, _ := raw.NameValue(w.res.Resolve(dictValue(stream.Dict, "Subtype")))
	switch subtype {
	case "Image":
		w.out = append(w.out, Placement{Kind: PlaceImage, CTM: gs.CTM, Name: name, Image: stream, Resources: resources, Fill: gs.Fill, Depth: depth})
	case "Form":
		if depth+1 > w.t.cfg.MaxFormDepth {
			return fmt.Errorf("%w: /%s", ErrFormDepth, name)
		}
		if w.forms[stream] {
			w.t.cfg.Logger.Warn("recursive form XObject skipped", observability.String("name", name))
			return nil
		}
		data, err := w.res.DecodeStream(w.ctx, stream)
		if err != nil {
			return fmt.Errorf("form /%s: %w", name, err)
		}
		ops, err := w.t.cfg.Parser.Parse(data)
		if err != nil {
			return fmt.Errorf("form /%s: %w", name, err)
		}
		inner := gs
		if m, ok := w.matrix(stream.Dict); ok {
			inner.CTM = m.Multiply(gs.CTM)
		}
		formRes := resources
		if r, ok := w.res.Resolve(dictValue(stream.Dict, "Resources")).(*raw.DictObj); ok {
			formRes = r
		}
		w.forms[stream] = true
		err = w.run(ops, formRes, inner, depth+1)
		delete(w.forms, stream)
		return err
	}
	return nil
}

func (w *walker) xobject(resources *raw.DictObj, name string) (*raw.StreamObj, bool) {
	if resources == nil {
		return nil, false
	}
	xobjs, ok := w.res.Resolve(dictValue(resources, "XObject")).(*raw.DictObj)
	if !ok {
		return nil, false
	}
	s, ok := w.res.Resolve(dictValue(xobjs, name)).(*raw.StreamObj)
	return s, ok
}

func (w *walker) matrix(d *raw.DictObj) (coords.Matrix, bool) {
	arr, ok := w.res.Resolve(dictValue(d, "Matrix")).(*raw.ArrayObj)
	if !ok || arr.Len() != 6 {
		return coords.Matrix{}, false
	}
	var m coords.Matrix
	for i, it := range arr.Items {
		f, ok := raw.NumberValue(w.res.Resolve(it))
		if !ok {
			return coords.Matrix{}, false
		}
		m[i] = f
	}
	return m, true
}

// fillColor interprets device colour operands by component count. Pattern
// and unknown operands leave the colour unchanged.
func fillColor(op Operation) (color.RGBA, bool) {
	v, ok := op.Numbers()
	if !ok {
		return color.RGBA{}, false
	}
	switch len(v) {
	case 1:
		g := unit(v[0])
		return color.RGBA{g, g, g, 255}, true
	case 3:
		return color.RGBA{unit(v[0]), unit(v[1]), unit(v[2]), 255}, true
	case 4:
		r, g, b := color.CMYKToRGB(unit(v[0]), unit(v[1]), unit(v[2]), unit(v[3]))
		return color.RGBA{r, g, b, 255}, true
	}
	return color.RGBA{}, false
}

func unit(f float64) uint8 {
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 255
	}
	return uint8(f*255 + 0.5)
}

func dictValue(d *raw.DictObj, key string) raw.Object {
	if d == nil {
		return raw.NullObj{}
	}
	v, ok := d.Lookup(key)
	if !ok {
		return raw.NullObj{}
	}
	return v
}
