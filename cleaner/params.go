package cleaner

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("invalid detection parameters")

// Size is a rectangular structuring element, W columns by H rows.
type Size struct {
	W, H int
}

// Params controls content detection. Pixel sizes are tuned for 200 dpi
// scans; see Scaled.
type Params struct {
	// Threshold: grey values at or below it are ink.
	Threshold       uint8
	LineKernel      Size
	ParagraphKernel Size
	ExpandKernel    Size
	MinBlockArea    int
	MinBlockWidth   int
	MinBlockHeight  int
	MinAspect       float64
	MaxAspect       float64
	// RowDensity is the fraction of a block's width a row must cover in
	// ink to count as a text row.
	RowDensity     float64
	MinTextLines   int
	Padding        int
	FallbackMargin int
	EdgeTolerance  int
}

func DefaultParams() Params {
	return Params{
		Threshold:       200,
		LineKernel:      Size{30, 1},
		ParagraphKernel: Size{1, 10},
		ExpandKernel:    Size{15, 8},
		MinBlockArea:    2000,
		MinBlockWidth:   50,
		MinBlockHeight:  20,
		MinAspect:       0.1,
		MaxAspect:       30,
		RowDensity:      0.1,
		MinTextLines:    1,
		Padding:         8,
		FallbackMargin:  50,
		EdgeTolerance:   5,
	}
}

// ReferenceDPI is the resolution the default pixel sizes were tuned at.
const ReferenceDPI = 200

// Scaled returns p with every pixel size scaled by dpi/ReferenceDPI (areas
// by its square). Ratios and the threshold are unchanged.
func (p Params) Scaled(dpi float64) Params {
	if dpi <= 0 || dpi == ReferenceDPI {
		return p
	}
	f := dpi / ReferenceDPI
	px := func(v int) int { return max(1, int(math.Round(float64(v)*f))) }
	sz := func(s Size) Size { return Size{px(s.W), px(s.H)} }
	p.LineKernel = sz(p.LineKernel)
	p.ParagraphKernel = sz(p.ParagraphKernel)
	p.ExpandKernel = sz(p.ExpandKernel)
	p.MinBlockArea = max(1, int(math.Round(float64(p.MinBlockArea)*f*f)))
	p.MinBlockWidth = px(p.MinBlockWidth)
	p.MinBlockHeight = px(p.MinBlockHeight)
	p.Padding = px(p.Padding)
	p.FallbackMargin = px(p.FallbackMargin)
	p.EdgeTolerance = px(p.EdgeTolerance)
	return p
}

// Validate reports every out-of-range field.
func (p Params) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	kernels := []struct {
		name string
		size Size
	}{{"line", p.LineKernel}, {"paragraph", p.ParagraphKernel}, {"expand", p.ExpandKernel}}
	for _, k := range kernels {
		check(k.size.W >= 1 && k.size.H >= 1, "%s kernel %dx%d must be at least 1x1", k.name, k.size.W, k.size.H)
	}
	check(p.MinBlockArea >= 0, "min block area %d is negative", p.MinBlockArea)
	check(p.MinBlockWidth >= 0 && p.MinBlockHeight >= 0, "min block size %dx%d is negative", p.MinBlockWidth, p.MinBlockHeight)
	check(p.MinAspect >= 0 && p.MaxAspect > p.MinAspect, "aspect bounds (%v, %v] are empty", p.MinAspect, p.MaxAspect)
	check(p.RowDensity >= 0 && p.RowDensity < 1, "row density %v outside [0,1)", p.RowDensity)
	check(p.MinTextLines >= 1, "min text lines %d must be at least 1", p.MinTextLines)
	check(p.Padding >= 0, "padding %d is negative", p.Padding)
	check(p.FallbackMargin >= 0, "fallback margin %d is negative", p.FallbackMargin)
	check(p.EdgeTolerance >= 0, "edge tolerance %d is negative", p.EdgeTolerance)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidParams, errors.Join(errs...))
}
