// Package debugimg writes diagnostic PNGs of the content analysis.
package debugimg

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/observability"
)

var (
	protectedColor = color.RGBA{G: 0xc8, A: 0xff}
	areaColor      = color.RGBA{R: 0xff, A: 0xff}
	rejectedColor  = color.RGBA{R: 0xff, G: 0x8c, A: 0xff}
)

type Config struct {
	// Dir receives the images. See Dir.
	Dir string
	// Pages limits output to the first N pages. Defaults to 10.
	Pages int
	// MaxWidth downscales wider images. Zero keeps the analysis size.
	MaxWidth int
	Logger   observability.Logger
}

type Writer struct {
	cfg Config
}

// Dir returns <dir of input>/debug_output/<input name without extension>.
func Dir(input string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), "debug_output", stem)
}

func New(cfg Config) *Writer {
	if cfg.Pages <= 0 {
		cfg.Pages = 10
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &Writer{cfg: cfg}
}

func (w *Writer) Dir() string { return w.cfg.Dir }

// Want reports whether images are written for the zero-based page index.
func (w *Writer) Want(index int) bool { return index < w.cfg.Pages }

// WritePage writes page_NNN_analysis.png and page_NNN_cleaned.png for the
// zero-based page index and returns their paths.
func (w *Writer) WritePage(index int, img image.Image, a cleaner.Analysis) ([]string, error) {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}
	base := filepath.Join(w.cfg.Dir, fmt.Sprintf("page_%03d", index+1))
	outputs := []struct {
		path string
		img  image.Image
	}{
		{base + "_analysis.png", Analysis(img, a)},
		{base + "_cleaned.png", Cleaned(img, a)},
	}
	var paths []string
	for _, o := range outputs {
		if err := writePNG(o.path, w.scale(o.img)); err != nil {
			return paths, err
		}
		paths = append(paths, o.path)
	}
	w.cfg.Logger.Debug("debug images written", observability.Int("page", index+1), observability.String("dir", w.cfg.Dir))
	return paths, nil
}

// Analysis overlays the analysis on img: clean areas tinted red, rejected
// blocks outlined orange and the protected content rectangle in green.
func Analysis(img image.Image, a cleaner.Analysis) *image.RGBA {
	out := clone(img)
	tint := image.NewUniform(color.Alpha{A: 0x60})
	for _, r := range a.CleanAreas {
		draw.DrawMask(out, rect(r), image.NewUniform(areaColor), image.Point{}, tint, image.Point{}, draw.Over)
	}
	for _, b := range a.Blocks {
		if !b.Accepted() {
			outline(out, rect(b.Rect), rejectedColor, 2)
		}
	}
	if !a.Bounds.Empty() {
		outline(out, rect(a.Bounds), protectedColor, 3)
		label(out, rect(a.Bounds), "protected")
	}
	return out
}

// Cleaned paints the clean areas white.
func Cleaned(img image.Image, a cleaner.Analysis) *image.RGBA {
	out := clone(img)
	for _, r := range a.CleanAreas {
		draw.Draw(out, rect(r), image.White, image.Point{}, draw.Src)
	}
	return out
}

func (w *Writer) scale(img image.Image) image.Image {
	b := img.Bounds()
	if w.cfg.MaxWidth <= 0 || b.Dx() <= w.cfg.MaxWidth {
		return img
	}
	h := max(1, b.Dy()*w.cfg.MaxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, w.cfg.MaxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func clone(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func rect(r cleaner.Rect) image.Rectangle { return image.Rect(r.X0, r.Y0, r.X1, r.Y1) }

func outline(dst *image.RGBA, r image.Rectangle, c color.RGBA, width int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// label writes text above r, or inside it when r touches the top edge.
func label(dst *image.RGBA, r image.Rectangle, text string) {
	face := basicfont.Face7x13
	y := r.Min.Y - 4
	if y < face.Ascent {
		y = r.Min.Y + face.Ascent + 4
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(protectedColor),
		Face: face,
		Dot:  fixed.P(r.Min.X+4, y),
	}
	d.DrawString(text)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
