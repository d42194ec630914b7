package edit

import (
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/contentstream"
	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/observability"
	"github.com/wudi/scanclean/raster"
)

// ErrNoRenderer is returned by CenterRaster when no renderer is configured.
var ErrNoRenderer = errors.New("raster centering needs a renderer")

type Config struct {
	Center CenterMode
	// MinShift is the smallest translation, in points, worth applying on
	// either axis. Defaults to 5.
	MinShift float64
	// RasterDPI is the resolution of CenterRaster images. Defaults to 144.
	RasterDPI float64
	// WhiteLevel turns pixels whose channels all exceed it white in
	// CenterRaster images. Defaults to 200.
	WhiteLevel uint8
	Renderer   *raster.Renderer
	Logger     observability.Logger
}

// PageEditor edits pages of one document. It adds objects to the document
// and is not safe for concurrent use.
type PageEditor struct {
	doc  *semantic.Document
	cfg  Config
	next int
}

var _ Editor = (*PageEditor)(nil)

func NewEditor(doc *semantic.Document, cfg Config) *PageEditor {
	if cfg.MinShift <= 0 {
		cfg.MinShift = 5
	}
	if cfg.RasterDPI <= 0 {
		cfg.RasterDPI = 144
	}
	if cfg.WhiteLevel == 0 {
		cfg.WhiteLevel = 200
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	next := 1
	for ref := range doc.Raw.Objects {
		if ref.Num >= next {
			next = ref.Num + 1
		}
	}
	return &PageEditor{doc: doc, cfg: cfg, next: next}
}

func (e *PageEditor) Apply(ctx context.Context, page *semantic.Page, a cleaner.Analysis, dpi float64) (Result, error) {
	var res Result
	if dpi <= 0 {
		return res, fmt.Errorf("invalid dpi %v", dpi)
	}
	box := page.Box()
	var rects []semantic.Rectangle
	for _, area := range a.CleanAreas {
		if r := ToUserSpace(box, area, dpi); !r.Empty() {
			rects = append(rects, r)
		}
	}
	if err := e.WhiteOut(ctx, page, rects); err != nil {
		return res, err
	}
	res.WhitedOut = len(rects)

	// Only pages that had something cleaned are centred.
	if e.cfg.Center == CenterOff || a.Fallback || !a.Modified || len(rects) == 0 || a.Bounds.Empty() {
		return res, nil
	}
	shift, ok, err := e.Center(ctx, page, ToUserSpace(box, a.Bounds, dpi))
	if err != nil {
		return res, err
	}
	res.Centered, res.Shift = ok, shift
	return res, nil
}

func (e *PageEditor) WhiteOut(ctx context.Context, page *semantic.Page, rects []semantic.Rectangle) error {
	if len(rects) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ops := []contentstream.Operation{op("q"), op("g", 1)}
	for _, r := range rects {
		ops = append(ops, op("re", r.LLX, r.LLY, r.Width(), r.Height()))
	}
	ops = append(ops, op("f"), op("Q"))

	items := e.contentItems(page)
	if len(items) == 0 {
		e.setContents(page, e.addContent(ops))
		return nil
	}
	pre := e.addContent([]contentstream.Operation{op("q")})
	post := e.addContent(append([]contentstream.Operation{op("Q")}, ops...))
	e.setContents(page, append(append([]raw.Object{pre}, items...), post)...)
	e.cfg.Logger.Debug("margins whited out", observability.Int("page", page.Index+1), observability.Int("rects", len(rects)))
	return nil
}

func (e *PageEditor) Center(ctx context.Context, page *semantic.Page, content semantic.Rectangle) (Shift, bool, error) {
	box := page.Box()
	content = content.Intersect(box)
	if e.cfg.Center == CenterOff || content.Empty() {
		return Shift{}, false, nil
	}
	shift := CenterShiftFor(box, content)
	if shift.Below(e.cfg.MinShift) {
		return shift, false, nil
	}
	var err error
	switch e.cfg.Center {
	case CenterShift:
		e.shift(page, box, content, shift)
	case CenterRaster:
		err = e.rasterize(ctx, page, box, content)
	default:
		return Shift{}, false, fmt.Errorf("unknown centering mode %v", e.cfg.Center)
	}
	if err != nil {
		return Shift{}, false, err
	}
	e.cfg.Logger.Debug("page centred",
		observability.Int("page", page.Index+1),
		observability.String("mode", e.cfg.Center.String()),
		observability.Float64("dx", shift.DX),
		observability.Float64("dy", shift.DY))
	return shift, true, nil
}

// shift wraps the content in a translation clipped to the content region,
// drawn over a white page.
func (e *PageEditor) shift(page *semantic.Page, box, content semantic.Rectangle, s Shift) {
	pre := []contentstream.Operation{
		op("q"), op("g", 1), op("re", box.LLX, box.LLY, box.Width(), box.Height()), op("f"), op("Q"),
		op("q"), op("cm", 1, 0, 0, 1, s.DX, s.DY),
		op("re", content.LLX, content.LLY, content.Width(), content.Height()), op("W"), op("n"),
		op("q"),
	}
	post := []contentstream.Operation{op("Q"), op("Q")}
	items := append([]raw.Object{e.addContent(pre)}, e.contentItems(page)...)
	e.setContents(page, append(items, e.addContent(post))...)
}

// rasterize replaces the page with an image of the content region.
func (e *PageEditor) rasterize(ctx context.Context, page *semantic.Page, box, content semantic.Rectangle) error {
	if e.cfg.Renderer == nil {
		return ErrNoRenderer
	}
	img, err := e.cfg.Renderer.RenderRegion(ctx, e.doc, page, content, e.cfg.RasterDPI)
	if err != nil {
		return fmt.Errorf("render content: %w", err)
	}
	data, cs := flattenWhite(img, e.cfg.WhiteLevel)
	enc, err := filters.EncodeFlate(data, zlib.BestCompression)
	if err != nil {
		return fmt.Errorf("compress content image: %w", err)
	}
	b := img.Bounds()
	dict := raw.Dict()
	dict.SetKey("Type", raw.NameLiteral("XObject"))
	dict.SetKey("Subtype", raw.NameLiteral("Image"))
	dict.SetKey("Width", raw.NumberInt(int64(b.Dx())))
	dict.SetKey("Height", raw.NumberInt(int64(b.Dy())))
	dict.SetKey("ColorSpace", raw.NameLiteral(cs))
	dict.SetKey("BitsPerComponent", raw.NumberInt(8))
	dict.SetKey("Filter", raw.NameLiteral("FlateDecode"))
	imgRef := e.add(raw.NewStream(dict, enc))

	w, h := content.Width(), content.Height()
	x := (box.LLX+box.URX)/2 - w/2
	y := (box.LLY+box.URY)/2 - h/2
	ops := []contentstream.Operation{
		op("q"), op("g", 1), op("re", box.LLX, box.LLY, box.Width(), box.Height()), op("f"), op("Q"),
		op("q"), op("cm", w, 0, 0, h, x, y),
		{Operator: "Do", Operands: []raw.Object{raw.NameLiteral("Im0")}},
		op("Q"),
	}
	e.setContents(page, e.addContent(ops))

	xobjects := raw.Dict()
	xobjects.SetKey("Im0", imgRef)
	resources := raw.Dict()
	resources.SetKey("XObject", xobjects)
	page.Dict.SetKey("Resources", resources)
	page.Resources = resources
	return nil
}

// flattenWhite returns 8-bit samples of img with near-white pixels set to
// white, as DeviceGray when every pixel is grey.
func flattenWhite(img *image.RGBA, level uint8) ([]byte, string) {
	b := img.Bounds()
	gray := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			if p[0] > level && p[1] > level && p[2] > level {
				p[0], p[1], p[2] = 0xff, 0xff, 0xff
			}
			if p[0] != p[1] || p[1] != p[2] {
				gray = false
			}
		}
	}
	comps := 3
	cs := "DeviceRGB"
	if gray {
		comps, cs = 1, "DeviceGray"
	}
	out := make([]byte, 0, b.Dx()*b.Dy()*comps)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			out = append(out, row[x*4:x*4+comps]...)
		}
	}
	return out, cs
}

// contentItems returns the page's content entries as stored, so that shared
// streams keep their references and are never rewritten.
func (e *PageEditor) contentItems(page *semantic.Page) []raw.Object {
	obj, ok := page.Dict.Lookup("Contents")
	if !ok {
		return nil
	}
	switch v := e.doc.Resolve(obj).(type) {
	case *raw.ArrayObj:
		return append([]raw.Object(nil), v.Items...)
	case *raw.StreamObj:
		if _, isRef := obj.(raw.RefObj); isRef {
			return []raw.Object{obj}
		}
		return []raw.Object{e.add(v)}
	}
	return nil
}

func (e *PageEditor) setContents(page *semantic.Page, items ...raw.Object) {
	if len(items) == 1 {
		page.Dict.SetKey("Contents", items[0])
		return
	}
	page.Dict.SetKey("Contents", raw.NewArray(items...))
}

func (e *PageEditor) addContent(ops []contentstream.Operation) raw.RefObj {
	return e.add(raw.NewStream(raw.Dict(), contentstream.Serialize(ops)))
}

func (e *PageEditor) add(obj raw.Object) raw.RefObj {
	ref := raw.Ref(e.next, 0)
	e.next++
	if e.doc.Raw.Objects == nil {
		e.doc.Raw.Objects = make(map[raw.ObjectRef]raw.Object)
	}
	e.doc.Raw.Objects[ref.R] = obj
	return ref
}

func op(name string, operands ...float64) contentstream.Operation {
	o := contentstream.Operation{Operator: name}
	for _, f := range operands {
		o.Operands = append(o.Operands, semantic.Number(f))
	}
	return o
}
