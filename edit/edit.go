// Package edit applies cleaning results to pages: white rectangles over the
// margins and re-centring of the content.
package edit

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/ir/semantic"
)

// CenterMode selects how content is re-centred on the page.
type CenterMode int

const (
	CenterOff CenterMode = iota
	// CenterShift translates the existing content. Lossless.
	CenterShift
	// CenterRaster replaces the page with a re-rendered image of the
	// content region, placed in the middle of the page.
	CenterRaster
)

func (m CenterMode) String() string {
	switch m {
	case CenterOff:
		return "off"
	case CenterShift:
		return "shift"
	case CenterRaster:
		return "raster"
	}
	return fmt.Sprintf("CenterMode(%d)", int(m))
}

// ParseCenterMode accepts off, shift and raster, plus true/false as aliases
// for shift/off.
func ParseCenterMode(s string) (CenterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "false", "no", "none":
		return CenterOff, nil
	case "shift", "true", "yes", "on", "":
		return CenterShift, nil
	case "raster":
		return CenterRaster, nil
	}
	return CenterOff, fmt.Errorf("unknown centering mode %q", s)
}

// Editor modifies pages of a document in place.
type Editor interface {
	// WhiteOut paints rects (user space) white on top of the page content.
	WhiteOut(ctx context.Context, page *semantic.Page, rects []semantic.Rectangle) error
	// Center moves content (user space) to the middle of the page. It
	// reports the applied shift; ok is false when the page was left alone.
	Center(ctx context.Context, page *semantic.Page, content semantic.Rectangle) (shift Shift, ok bool, err error)
	// Apply converts an analysis made at dpi and applies both edits.
	Apply(ctx context.Context, page *semantic.Page, a cleaner.Analysis, dpi float64) (Result, error)
}

// Shift is a translation in points.
type Shift struct{ DX, DY float64 }

// Result describes what Apply changed.
type Result struct {
	WhitedOut int
	Centered  bool
	Shift     Shift
}

func (r Result) Changed() bool { return r.WhitedOut > 0 || r.Centered }

// ToUserSpace converts a pixel rectangle of a raster of box made at dpi
// into user space, clipped to box.
func ToUserSpace(box semantic.Rectangle, r cleaner.Rect, dpi float64) semantic.Rectangle {
	k := 72 / dpi
	out := semantic.Rectangle{
		LLX: box.LLX + float64(r.X0)*k,
		LLY: box.URY - float64(r.Y1)*k,
		URX: box.LLX + float64(r.X1)*k,
		URY: box.URY - float64(r.Y0)*k,
	}
	return out.Intersect(box)
}

// CenterShiftFor returns the translation that moves content to the middle
// of box.
func CenterShiftFor(box, content semantic.Rectangle) Shift {
	return Shift{
		DX: (box.LLX+box.URX)/2 - (content.LLX+content.URX)/2,
		DY: (box.LLY+box.URY)/2 - (content.LLY+content.URY)/2,
	}
}

// Below reports whether both components are smaller than min.
func (s Shift) Below(min float64) bool {
	return math.Abs(s.DX) < min && math.Abs(s.DY) < min
}
