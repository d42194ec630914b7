// Package cleaner finds the text content on a scanned page and the margin
// areas around it that can be painted white.
package cleaner

import (
	"context"
	"fmt"
	"image"

	"github.com/wudi/scanclean/observability"
)

// Rejection reasons recorded on candidate blocks.
const (
	ReasonAccepted = ""
	ReasonArea     = "area"
	ReasonSize     = "size"
	ReasonAspect   = "aspect"
	ReasonNotText  = "not-text"
	ReasonVerifier = "verifier"
)

// Block is a candidate content region and the outcome of filtering it.
type Block struct {
	Rect   Rect
	Reason string
}

func (b Block) Accepted() bool { return b.Reason == ReasonAccepted }

// Analysis is the result of analysing one page image.
type Analysis struct {
	Width, Height int
	Bounds        Rect
	CleanAreas    []Rect
	Blocks        []Block
	// Fallback is set when no block survived and Bounds is the fixed margin.
	Fallback bool
	Modified bool
}

// BlockVerifier gives a second opinion on blocks that passed the geometric
// and projection checks, for example with OCR.
type BlockVerifier interface {
	VerifyBlock(ctx context.Context, gray *image.Gray, block Rect) (bool, error)
}

// BatchVerifier checks every candidate block of a page in one call. The
// result holds one verdict per block, in order.
type BatchVerifier interface {
	BlockVerifier
	VerifyBlocks(ctx context.Context, gray *image.Gray, blocks []Rect) ([]bool, error)
}

// IsTextBlock reports whether the region looks like lines of text: at least
// minLines maximal runs of rows whose ink count exceeds the row density
// share of the region width.
func IsTextBlock(gray *image.Gray, r Rect, p Params, minLines int) bool {
	if r.Dx() < p.MinBlockWidth || r.Dy() < p.MinBlockHeight || r.Empty() {
		return false
	}
	origin := gray.Bounds().Min
	sub, ok := gray.SubImage(image.Rect(r.X0, r.Y0, r.X1, r.Y1).Add(origin)).(*image.Gray)
	if !ok || sub.Bounds().Empty() {
		return false
	}
	bin := Binarize(sub, p.Threshold)
	limit := float64(bin.W) * p.RowDensity
	lines := 0
	inLine := false
	for y := 0; y < bin.H; y++ {
		count := 0
		for _, v := range bin.Pix[y*bin.W : (y+1)*bin.W] {
			count += int(v)
		}
		text := float64(count) > limit
		if text && !inLine {
			lines++
		}
		inLine = text
	}
	return lines >= minLines
}

// CleanAreas returns the margins outside bounds in a w×h image. Each margin
// is emitted only when it is wider than the edge tolerance.
func CleanAreas(bounds Rect, w, h int, tolerance int) []Rect {
	var areas []Rect
	if bounds.Y0 > tolerance {
		areas = append(areas, Rect{0, 0, w, bounds.Y0})
	}
	if bounds.Y1 < h-tolerance {
		areas = append(areas, Rect{0, bounds.Y1, w, h})
	}
	if bounds.X0 > tolerance {
		areas = append(areas, Rect{0, bounds.Y0, bounds.X0, bounds.Y1})
	}
	if bounds.X1 < w-tolerance {
		areas = append(areas, Rect{bounds.X1, bounds.Y0, w, bounds.Y1})
	}
	return areas
}

type Config struct {
	Params   Params
	Verifier BlockVerifier
	Logger   observability.Logger
}

type Analyzer struct {
	params   Params
	verifier BlockVerifier
	logger   observability.Logger
}

// NewAnalyzer validates cfg.Params; a zero Params selects DefaultParams.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.Params == (Params{}) {
		cfg.Params = DefaultParams()
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{params: cfg.Params, verifier: cfg.Verifier, logger: observability.OrNop(cfg.Logger)}, nil
}

func (a *Analyzer) Params() Params { return a.params }

// Analyze finds the content bounds of img and the areas outside them.
func (a *Analyzer) Analyze(ctx context.Context, img image.Image) (Analysis, error) {
	gray := ToGray(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	res := Analysis{Width: w, Height: h}

	blocks, err := a.ContentBlocks(ctx, gray)
	if err != nil {
		return res, err
	}
	res.Blocks = blocks

	var union Rect
	for _, b := range blocks {
		if b.Accepted() {
			union = union.Union(b.Rect)
		}
	}
	if union.Empty() {
		m := a.params.FallbackMargin
		res.Bounds = Rect{min(m, w), min(m, h), max(w-m, min(m, w)), max(h-m, min(m, h))}
		res.Fallback = true
	} else {
		res.Bounds = union.Pad(a.params.Padding, w, h)
	}
	res.CleanAreas = CleanAreas(res.Bounds, w, h, a.params.EdgeTolerance)
	res.Modified = len(res.CleanAreas) > 0
	a.logger.Debug("page analysed",
		observability.Int("blocks", len(blocks)),
		observability.Int("areas", len(res.CleanAreas)),
		observability.Bool("fallback", res.Fallback))
	return res, nil
}

// ContentBounds returns the padded union of accepted blocks, or the
// fallback rectangle with fallback set.
func (a *Analyzer) ContentBounds(ctx context.Context, img image.Image) (bounds Rect, fallback bool, err error) {
	res, err := a.Analyze(ctx, img)
	return res.Bounds, res.Fallback, err
}

// ContentBlocks builds text blocks by morphology and filters them.
func (a *Analyzer) ContentBlocks(ctx context.Context, gray *image.Gray) ([]Block, error) {
	p := a.params
	bin := Binarize(gray, p.Threshold)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines := Close(bin, p.LineKernel)
	paragraphs := Close(lines, p.ParagraphKernel)
	expanded := Dilate(paragraphs, p.ExpandKernel)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rects := OuterComponents(expanded)
	blocks := make([]Block, 0, len(rects))
	var candidates []int
	for _, r := range rects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := Block{Rect: r, Reason: a.reject(gray, r)}
		if b.Accepted() {
			candidates = append(candidates, len(blocks))
		}
		blocks = append(blocks, b)
	}
	if a.verifier == nil || len(candidates) == 0 {
		return blocks, nil
	}
	verdicts, err := a.verify(ctx, gray, blocks, candidates)
	if err != nil {
		return nil, err
	}
	for i, idx := range candidates {
		if !verdicts[i] {
			blocks[idx].Reason = ReasonVerifier
		}
	}
	return blocks, nil
}

// verify asks the verifier about the candidate blocks, in one call when it
// supports batches.
func (a *Analyzer) verify(ctx context.Context, gray *image.Gray, blocks []Block, candidates []int) ([]bool, error) {
	if bv, ok := a.verifier.(BatchVerifier); ok {
		rects := make([]Rect, len(candidates))
		for i, idx := range candidates {
			rects[i] = blocks[idx].Rect
		}
		verdicts, err := bv.VerifyBlocks(ctx, gray, rects)
		if err != nil {
			return nil, fmt.Errorf("verify %d blocks: %w", len(rects), err)
		}
		if len(verdicts) != len(rects) {
			return nil, fmt.Errorf("verifier returned %d verdicts for %d blocks", len(verdicts), len(rects))
		}
		return verdicts, nil
	}
	verdicts := make([]bool, len(candidates))
	for i, idx := range candidates {
		r := blocks[idx].Rect
		ok, err := a.verifier.VerifyBlock(ctx, gray, r)
		if err != nil {
			return nil, fmt.Errorf("verify block %v: %w", r, err)
		}
		verdicts[i] = ok
	}
	return verdicts, nil
}

func (a *Analyzer) reject(gray *image.Gray, r Rect) string {
	p := a.params
	w, h := r.Dx(), r.Dy()
	if w*h < p.MinBlockArea {
		return ReasonArea
	}
	if w < p.MinBlockWidth || h < p.MinBlockHeight {
		return ReasonSize
	}
	aspect := float64(w) / float64(h)
	if aspect > p.MaxAspect || aspect < p.MinAspect {
		return ReasonAspect
	}
	if !IsTextBlock(gray, r, p, p.MinTextLines) {
		return ReasonNotText
	}
	return ReasonAccepted
}
