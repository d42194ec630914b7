package scripting

import (
	"context"
	"fmt"
	"strings"
)

// Box is a pixel rectangle exposed to scripts as {x0, y0, x1, y1}.
type Box struct {
	X0 int `js:"x0"`
	Y0 int `js:"y0"`
	X1 int `js:"x1"`
	Y1 int `js:"y1"`
}

// PageInfo is the "page" object a selector sees. Width and height are in
// points; bounds and areas are in pixels of the analysed raster.
type PageInfo struct {
	Number   int     `js:"number"`
	Total    int     `js:"total"`
	Width    float64 `js:"width"`
	Height   float64 `js:"height"`
	Rotate   int     `js:"rotate"`
	Modified bool    `js:"modified"`
	Fallback bool    `js:"fallback"`
	Bounds   Box     `js:"bounds"`
	Areas    []Box   `js:"areas"`
}

// PageSelector evaluates a JavaScript expression against each page. An
// empty expression selects every page.
type PageSelector struct {
	src    string
	engine *Engine
	run    func(ctx context.Context, page PageInfo) (bool, error)
}

// NewPageSelector compiles expr. Compile errors wrap ErrCompile.
func NewPageSelector(expr string) (*PageSelector, error) {
	expr = strings.TrimSpace(expr)
	s := &PageSelector{src: expr, engine: NewEngine()}
	if expr == "" {
		s.run = func(context.Context, PageInfo) (bool, error) { return true, nil }
		return s, nil
	}
	prog, err := Compile("select", expr)
	if err != nil {
		return nil, err
	}
	s.run = func(ctx context.Context, page PageInfo) (bool, error) {
		val, err := s.engine.Run(ctx, prog, map[string]any{"page": page})
		if err != nil {
			return false, fmt.Errorf("select page %d: %w", page.Number, err)
		}
		return val.ToBoolean(), nil
	}
	return s, nil
}

func (s *PageSelector) String() string { return s.src }

// Select reports whether page should be edited.
func (s *PageSelector) Select(ctx context.Context, page PageInfo) (bool, error) {
	return s.run(ctx, page)
}
