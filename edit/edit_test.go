package edit

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/raster"
)

var letter = semantic.Rectangle{URX: 612, URY: 792}

// twoPageDoc builds a document whose pages share content stream 10.
func twoPageDoc(content string) *semantic.Document {
	objects := map[raw.ObjectRef]raw.Object{
		{Num: 10}: raw.NewStream(raw.Dict(), []byte(content)),
	}
	doc := semantic.NewDocument(&raw.Document{Objects: objects, Trailer: raw.Dict()}, nil)
	for i := 0; i < 2; i++ {
		dict := raw.Dict()
		dict.SetKey("Type", raw.NameLiteral("Page"))
		dict.SetKey("Contents", raw.Ref(10, 0))
		ref := raw.Ref(20+i, 0)
		objects[ref.R] = dict
		doc.Pages = append(doc.Pages, &semantic.Page{Index: i, Ref: ref.R, Dict: dict, MediaBox: letter, Resources: raw.Dict()})
	}
	return doc
}

func streamData(t *testing.T, doc *semantic.Document, obj raw.Object) string {
	t.Helper()
	s, ok := doc.Resolve(obj).(*raw.StreamObj)
	require.True(t, ok, "expected stream, got %T", doc.Resolve(obj))
	return string(s.Data)
}

func TestToUserSpace(t *testing.T) {
	got := ToUserSpace(letter, cleaner.Rect{X0: 0, Y0: 0, X1: 100, Y1: 200}, 144)
	assert.Equal(t, semantic.Rectangle{LLX: 0, LLY: 692, URX: 50, URY: 792}, got)

	// Rasters are rounded up, so the last pixel column may stick out.
	got = ToUserSpace(letter, cleaner.Rect{X0: 1690, Y0: 0, X1: 1701, Y1: 10}, 200)
	assert.InDelta(t, 612, got.URX, 1e-9)
}

func TestParseCenterMode(t *testing.T) {
	for in, want := range map[string]CenterMode{"off": CenterOff, "Shift": CenterShift, "raster": CenterRaster, "false": CenterOff, "": CenterShift} {
		got, err := ParseCenterMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCenterMode("sideways")
	assert.Error(t, err)
	assert.Equal(t, "raster", CenterRaster.String())
}

func TestWhiteOutKeepsSharedContent(t *testing.T) {
	doc := twoPageDoc("q 612 0 0 792 0 0 cm /Im1 Do Q")
	ed := NewEditor(doc, Config{})

	rects := []semantic.Rectangle{{URX: 612, URY: 40}, {LLY: 752, URX: 612, URY: 792}}
	require.NoError(t, ed.WhiteOut(context.Background(), doc.Pages[0], rects))

	contents, ok := doc.Pages[0].Dict.Lookup("Contents")
	require.True(t, ok)
	arr, ok := contents.(*raw.ArrayObj)
	require.True(t, ok, "contents should become an array, got %T", contents)
	require.Len(t, arr.Items, 3)
	assert.Equal(t, raw.Ref(10, 0), arr.Items[1])
	assert.Equal(t, "q\n", streamData(t, doc, arr.Items[0]))
	assert.Equal(t, "Q\nq\n1 g\n0 0 612 40 re\n0 752 612 40 re\nf\nQ\n", streamData(t, doc, arr.Items[2]))

	assert.Equal(t, "q 612 0 0 792 0 0 cm /Im1 Do Q", streamData(t, doc, raw.Ref(10, 0)))
	other, _ := doc.Pages[1].Dict.Lookup("Contents")
	assert.Equal(t, raw.Ref(10, 0), other)
}

func TestWhiteOutNothing(t *testing.T) {
	doc := twoPageDoc("")
	ed := NewEditor(doc, Config{})
	require.NoError(t, ed.WhiteOut(context.Background(), doc.Pages[0], nil))
	contents, _ := doc.Pages[0].Dict.Lookup("Contents")
	assert.Equal(t, raw.Ref(10, 0), contents)
	assert.Len(t, doc.Raw.Objects, 3)
}

func TestCenterShift(t *testing.T) {
	doc := twoPageDoc("0 g 100 400 200 300 re f")
	ed := NewEditor(doc, Config{Center: CenterShift})

	shift, ok, err := ed.Center(context.Background(), doc.Pages[0], semantic.Rectangle{LLX: 100, LLY: 400, URX: 300, URY: 700})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Shift{DX: 106, DY: -154}, shift)

	contents, _ := doc.Pages[0].Dict.Lookup("Contents")
	arr := contents.(*raw.ArrayObj)
	require.Len(t, arr.Items, 3)
	pre := streamData(t, doc, arr.Items[0])
	assert.Contains(t, pre, "0 0 612 792 re\nf\n")
	assert.Contains(t, pre, "1 0 0 1 106 -154 cm\n100 400 200 300 re\nW\nn\nq\n")
	assert.Equal(t, "Q\nQ\n", streamData(t, doc, arr.Items[2]))
}

func TestCenterSkipsSmallShift(t *testing.T) {
	doc := twoPageDoc("")
	ed := NewEditor(doc, Config{Center: CenterShift})
	_, ok, err := ed.Center(context.Background(), doc.Pages[0], semantic.Rectangle{LLX: 50, LLY: 50, URX: 566, URY: 738})
	require.NoError(t, err)
	assert.False(t, ok)
	contents, _ := doc.Pages[0].Dict.Lookup("Contents")
	assert.Equal(t, raw.Ref(10, 0), contents)
}

func TestCenterRaster(t *testing.T) {
	doc := twoPageDoc("0 g 100 400 200 300 re f")
	ed := NewEditor(doc, Config{Center: CenterRaster, Renderer: raster.NewRenderer(raster.Config{})})

	_, ok, err := ed.Center(context.Background(), doc.Pages[0], semantic.Rectangle{LLX: 100, LLY: 400, URX: 300, URY: 700})
	require.NoError(t, err)
	require.True(t, ok)

	page := doc.Pages[0]
	xobjects, ok := page.Resources.Lookup("XObject")
	require.True(t, ok)
	imgRef, ok := xobjects.(*raw.DictObj).Lookup("Im0")
	require.True(t, ok)
	img := doc.Resolve(imgRef).(*raw.StreamObj)
	w, _ := raw.IntValue(img.Dict.KV["Width"])
	h, _ := raw.IntValue(img.Dict.KV["Height"])
	assert.Equal(t, 400, w)
	assert.Equal(t, 600, h)
	cs, _ := raw.NameValue(img.Dict.KV["ColorSpace"])
	assert.Equal(t, "DeviceGray", cs)

	data, err := doc.DecodeStream(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, data, 400*600)
	assert.Equal(t, 400*600, bytes.Count(data, []byte{0}))

	contents, _ := page.Dict.Lookup("Contents")
	assert.Contains(t, streamData(t, doc, contents), "200 0 0 300 206 246 cm\n/Im0 Do\n")

	other, _ := doc.Pages[1].Dict.Lookup("Contents")
	assert.Equal(t, raw.Ref(10, 0), other)
}

func TestCenterRasterNeedsRenderer(t *testing.T) {
	doc := twoPageDoc("")
	ed := NewEditor(doc, Config{Center: CenterRaster})
	_, _, err := ed.Center(context.Background(), doc.Pages[0], semantic.Rectangle{LLX: 0, LLY: 0, URX: 100, URY: 100})
	assert.ErrorIs(t, err, ErrNoRenderer)
}

func TestApply(t *testing.T) {
	doc := twoPageDoc("0 g 100 400 200 300 re f")
	ed := NewEditor(doc, Config{Center: CenterShift})

	// At 72 dpi one pixel is one point.
	a := cleaner.Analysis{
		Width: 612, Height: 792,
		Bounds:     cleaner.Rect{X0: 100, Y0: 92, X1: 300, Y1: 392},
		CleanAreas: []cleaner.Rect{{X0: 0, Y0: 0, X1: 612, Y1: 92}, {X0: 0, Y0: 392, X1: 612, Y1: 792}},
		Modified:   true,
	}
	res, err := ed.Apply(context.Background(), doc.Pages[0], a, 72)
	require.NoError(t, err)
	assert.Equal(t, 2, res.WhitedOut)
	assert.True(t, res.Centered)
	assert.Equal(t, Shift{DX: 106, DY: -154}, res.Shift)
	assert.True(t, res.Changed())

	a.Fallback = true
	res, err = ed.Apply(context.Background(), doc.Pages[1], a, 72)
	require.NoError(t, err)
	assert.False(t, res.Centered)
}

func TestApplyLeavesUnmodifiedPages(t *testing.T) {
	doc := twoPageDoc("0 g 100 400 200 300 re f")
	ed := NewEditor(doc, Config{Center: CenterShift})
	before, _ := doc.Pages[0].Dict.Lookup("Contents")

	// Content far from the centre, but nothing outside it to clean.
	a := cleaner.Analysis{Width: 612, Height: 792, Bounds: cleaner.Rect{X0: 0, Y0: 0, X1: 300, Y1: 392}}
	res, err := ed.Apply(context.Background(), doc.Pages[0], a, 72)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	after, _ := doc.Pages[0].Dict.Lookup("Contents")
	assert.Equal(t, before, after)
}
