package cleaner

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whitePage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

func fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// textPage draws ten 12px lines 8px apart between x=200 and x=600 starting
// at y=300, a small stain near the top-left corner and a scanner edge
// shadow along the right border.
func textPage() *image.RGBA {
	img := whitePage(800, 1000)
	for i := 0; i < 10; i++ {
		y := 300 + i*20
		fill(img, image.Rect(200, y, 600, y+12), color.Gray{Y: 20})
	}
	fill(img, image.Rect(50, 50, 80, 80), color.Gray{Y: 90})
	fill(img, image.Rect(780, 0, 785, 1000), color.Gray{Y: 60})
	return img
}

func bitmapFrom(rows ...string) *Bitmap {
	b := NewBitmap(len(rows[0]), len(rows))
	for y, row := range rows {
		for x, c := range row {
			if c == '#' {
				b.Pix[y*b.W+x] = 1
			}
		}
	}
	return b
}

func (b *Bitmap) rows() []string {
	out := make([]string, b.H)
	for y := range out {
		row := make([]byte, b.W)
		for x := range row {
			row[x] = '.'
			if b.At(x, y) == 1 {
				row[x] = '#'
			}
		}
		out[y] = string(row)
	}
	return out
}

func TestDilateErode(t *testing.T) {
	src := bitmapFrom(
		".....",
		".....",
		"..#..",
		".....",
		".....",
	)
	got := Dilate(src, Size{3, 3})
	want := []string{
		".....",
		".###.",
		".###.",
		".###.",
		".....",
	}
	if diff := cmp.Diff(want, got.rows()); diff != "" {
		t.Fatalf("dilate mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(src.rows(), Erode(got, Size{3, 3}).rows()); diff != "" {
		t.Fatalf("erode mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseFillsGapsAndKeepsBorders(t *testing.T) {
	src := bitmapFrom(
		"##...##...",
		"##...##...",
	)
	got := Close(src, Size{3, 1})
	assert.Equal(t, src.rows(), got.rows(), "a 3px gap survives a 3px kernel")

	// even kernels anchor right of centre, so the closed run grows by one
	got = Close(src, Size{4, 1})
	assert.Equal(t, []string{"########..", "########.."}, got.rows())
}

func TestOuterComponentsSkipsEnclosed(t *testing.T) {
	b := bitmapFrom(
		"..........",
		".#####....",
		".#...#..#.",
		".#.#.#...#",
		".#...#....",
		".#####....",
		"..........",
	)
	got := OuterComponents(b)
	want := []Rect{
		{1, 1, 6, 6},
		{8, 2, 10, 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("components mismatch (-want +got):\n%s", diff)
	}
}

func TestIsTextBlock(t *testing.T) {
	p := DefaultParams()
	gray := ToGray(textPage())

	assert.True(t, IsTextBlock(gray, Rect{190, 290, 610, 500}, p, 10))
	assert.False(t, IsTextBlock(gray, Rect{190, 290, 610, 500}, p, 11))
	assert.False(t, IsTextBlock(gray, Rect{0, 600, 700, 900}, p, 1), "blank region")
	assert.False(t, IsTextBlock(gray, Rect{200, 300, 240, 400}, p, 1), "narrower than the minimum block width")
}

func TestCleanAreas(t *testing.T) {
	got := CleanAreas(Rect{10, 20, 90, 80}, 100, 100, 5)
	want := []Rect{
		{0, 0, 100, 20},
		{0, 80, 100, 100},
		{0, 20, 10, 80},
		{90, 20, 100, 80},
	}
	require.Equal(t, want, got)

	got = CleanAreas(Rect{3, 20, 98, 97}, 100, 100, 5)
	require.Equal(t, []Rect{{0, 0, 100, 20}}, got)
}

func TestAnalyzeFindsTextAndIgnoresStains(t *testing.T) {
	a, err := NewAnalyzer(Config{})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), textPage())
	require.NoError(t, err)

	assert.False(t, res.Fallback)
	assert.True(t, res.Modified)
	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 1000, res.Height)

	b := res.Bounds
	assert.InDelta(t, 200, b.X0, 20)
	assert.InDelta(t, 600, b.X1, 20)
	assert.InDelta(t, 300, b.Y0, 20)
	assert.InDelta(t, 492, b.Y1, 20)
	assert.Len(t, res.CleanAreas, 4)

	var accepted, rejected int
	for _, blk := range res.Blocks {
		if blk.Accepted() {
			accepted++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 2, rejected, "stain and edge shadow")
}

func TestAnalyzeBlankPageFallsBack(t *testing.T) {
	a, err := NewAnalyzer(Config{})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), whitePage(400, 600))
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, Rect{50, 50, 350, 550}, res.Bounds)
	assert.Len(t, res.CleanAreas, 4)
}

type rejectAll struct{ calls int }

func (r *rejectAll) VerifyBlock(context.Context, *image.Gray, Rect) (bool, error) {
	r.calls++
	return false, nil
}

func TestAnalyzeUsesVerifier(t *testing.T) {
	v := &rejectAll{}
	a, err := NewAnalyzer(Config{Verifier: v})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), textPage())
	require.NoError(t, err)
	assert.Equal(t, 1, v.calls, "only blocks passing the geometric checks are verified")
	assert.True(t, res.Fallback)
}

// topOnly accepts blocks in the upper half of the page, all in one call.
type topOnly struct {
	batches [][]Rect
	single  int
}

func (v *topOnly) VerifyBlock(context.Context, *image.Gray, Rect) (bool, error) {
	v.single++
	return true, nil
}

func (v *topOnly) VerifyBlocks(_ context.Context, _ *image.Gray, blocks []Rect) ([]bool, error) {
	v.batches = append(v.batches, blocks)
	out := make([]bool, len(blocks))
	for i, b := range blocks {
		out[i] = b.Y1 < 500
	}
	return out, nil
}

func TestAnalyzeBatchesVerification(t *testing.T) {
	img := whitePage(800, 1000)
	for i := 0; i < 8; i++ {
		y := 100 + i*20
		fill(img, image.Rect(200, y, 600, y+12), color.Gray{Y: 20})
		fill(img, image.Rect(200, y+500, 600, y+512), color.Gray{Y: 20})
	}
	v := &topOnly{}
	a, err := NewAnalyzer(Config{Verifier: v})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), img)
	require.NoError(t, err)
	assert.Zero(t, v.single)
	require.Len(t, v.batches, 1)
	assert.Len(t, v.batches[0], 2)

	var rejected int
	for _, b := range res.Blocks {
		if b.Reason == ReasonVerifier {
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)
	assert.False(t, res.Fallback)
	assert.Less(t, res.Bounds.Y1, 500)
}

func TestAnalyzeCancelled(t *testing.T) {
	a, err := NewAnalyzer(Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Analyze(ctx, textPage())
	require.ErrorIs(t, err, context.Canceled)
}

func TestParamsScaledAndValidate(t *testing.T) {
	p := DefaultParams().Scaled(400)
	assert.Equal(t, Size{60, 2}, p.LineKernel)
	assert.Equal(t, 8000, p.MinBlockArea)
	assert.Equal(t, 100, p.MinBlockWidth)
	assert.Equal(t, uint8(200), p.Threshold)
	assert.Equal(t, DefaultParams(), DefaultParams().Scaled(200))

	bad := DefaultParams()
	bad.LineKernel = Size{0, 1}
	bad.MinTextLines = 0
	err := bad.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "line kernel")
	assert.Contains(t, err.Error(), "min text lines")

	_, err = NewAnalyzer(Config{Params: bad})
	require.ErrorIs(t, err, ErrInvalidParams)
}
