// Package raster renders scanned pages to bitmaps.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/wudi/scanclean/contentstream"
	"github.com/wudi/scanclean/coords"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/observability"
)

// ErrTooLarge is returned when the canvas would exceed Config.MaxPixels.
var ErrTooLarge = errors.New("raster too large")

type Config struct {
	Tracer *contentstream.Tracer
	// Interpolator resamples images onto the canvas. Defaults to
	// draw.BiLinear.
	Interpolator draw.Interpolator
	// MaxPixels bounds canvas width×height. Zero selects 200 megapixels.
	MaxPixels int64
	Logger    observability.Logger
}

type Renderer struct {
	cfg Config
}

func NewRenderer(cfg Config) *Renderer {
	if cfg.Tracer == nil {
		cfg.Tracer = contentstream.NewTracer(contentstream.TracerConfig{Logger: cfg.Logger})
	}
	if cfg.Interpolator == nil {
		cfg.Interpolator = draw.BiLinear
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 200_000_000
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &Renderer{cfg: cfg}
}

// CanvasSize returns the pixel size of box rendered at dpi.
func CanvasSize(box semantic.Rectangle, dpi float64) (int, int) {
	w := int(math.Ceil(box.Width()*dpi/72 - 1e-9))
	h := int(math.Ceil(box.Height()*dpi/72 - 1e-9))
	return max(w, 1), max(h, 1)
}

// Render draws the page's visible box at dpi in unrotated user space.
func (r *Renderer) Render(ctx context.Context, doc *semantic.Document, page *semantic.Page, dpi float64) (*image.RGBA, error) {
	return r.RenderRegion(ctx, doc, page, page.Box(), dpi)
}

// RenderRegion draws region (in user space) at dpi.
func (r *Renderer) RenderRegion(ctx context.Context, doc *semantic.Document, page *semantic.Page, region semantic.Rectangle, dpi float64) (*image.RGBA, error) {
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid dpi %v", dpi)
	}
	region = region.Normalize()
	if region.Empty() {
		return nil, fmt.Errorf("empty region %+v", region)
	}
	w, h := CanvasSize(region, dpi)
	if int64(w)*int64(h) > r.cfg.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d at %v dpi", ErrTooLarge, w, h, dpi)
	}
	placements, err := r.cfg.Tracer.TracePage(ctx, doc, page)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	s := dpi / 72
	device := coords.Matrix{s, 0, 0, -s, -region.LLX * s, region.URY * s}
	for _, p := range placements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.paint(ctx, doc, canvas, p, device); err != nil {
			return nil, err
		}
	}
	return canvas, nil
}

func (r *Renderer) paint(ctx context.Context, doc *semantic.Document, canvas *image.RGBA, p contentstream.Placement, device coords.Matrix) error {
	switch p.Kind {
	case contentstream.PlaceRect:
		fillRect(canvas, p.Rect, p.CTM.Multiply(device), p.Fill)
		return nil
	case contentstream.PlaceImage:
		img, err := DecodeImage(ctx, doc, ImageSpec{Dict: p.Image.Dict, Data: p.Image.Data, Resources: p.Resources, Fill: p.Fill})
		if err != nil {
			return fmt.Errorf("image /%s: %w", p.Name, err)
		}
		r.drawImage(canvas, img, p.CTM.Multiply(device))
	case contentstream.PlaceInlineImage:
		img, err := DecodeImage(ctx, doc, ImageSpec{Dict: ExpandInlineDict(p.Inline.Dict), Data: p.Inline.Data, Resources: p.Resources, Fill: p.Fill})
		if err != nil {
			return fmt.Errorf("inline image: %w", err)
		}
		r.drawImage(canvas, img, p.CTM.Multiply(device))
	}
	return nil
}

// drawImage maps the image onto the unit square (row 0 at the top) and then
// through toDevice.
func (r *Renderer) drawImage(canvas *image.RGBA, img image.Image, toDevice coords.Matrix) {
	b := img.Bounds()
	iw, ih := float64(b.Dx()), float64(b.Dy())
	unitSquare := coords.Matrix{1 / iw, 0, 0, -1 / ih, -float64(b.Min.X) / iw, 1 + float64(b.Min.Y)/ih}
	m := unitSquare.Multiply(toDevice)
	if math.Abs(m[0]*m[3]-m[1]*m[2]) < 1e-12 {
		return
	}
	aff := f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
	r.cfg.Interpolator.Transform(canvas, aff, img, b, draw.Over, nil)
}

// fillRect paints rect under m. Axis-aligned transforms fill a pixel box;
// others test each pixel centre against the inverse-mapped rectangle.
func fillRect(canvas *image.RGBA, rect semantic.Rectangle, m coords.Matrix, c color.RGBA) {
	x0, y0, x1, y1 := coords.BoundsOf(m, rect.LLX, rect.LLY, rect.URX, rect.URY)
	box := image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1))).Intersect(canvas.Bounds())
	if box.Empty() {
		return
	}
	src := image.NewUniform(c)
	if m[1] == 0 && m[2] == 0 {
		draw.Draw(canvas, box, src, image.Point{}, draw.Src)
		return
	}
	inv, err := m.Inverse()
	if err != nil {
		return
	}
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			q := inv.Transform(coords.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5})
			if q.X >= rect.LLX && q.X <= rect.URX && q.Y >= rect.LLY && q.Y <= rect.URY {
				canvas.SetRGBA(x, y, c)
			}
		}
	}
}
