package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
)

func dict(kv ...any) *raw.DictObj {
	d := raw.Dict()
	for i := 0; i+1 < len(kv); i += 2 {
		d.SetKey(kv[i].(string), kv[i+1].(raw.Object))
	}
	return d
}

func buildDoc(t *testing.T, content string, xobjects *raw.DictObj, extra map[raw.ObjectRef]raw.Object) *semantic.Document {
	t.Helper()
	objs := map[raw.ObjectRef]raw.Object{
		{Num: 1}: dict("Type", raw.NameLiteral("Catalog"), "Pages", raw.Ref(2, 0)),
		{Num: 2}: dict("Type", raw.NameLiteral("Pages"), "Kids", raw.NewArray(raw.Ref(3, 0))),
		{Num: 3}: dict(
			"Type", raw.NameLiteral("Page"),
			"MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(100), raw.NumberInt(100)),
			"Contents", raw.Ref(4, 0),
			"Resources", dict("XObject", xobjects),
		),
		{Num: 4}: raw.NewStream(raw.Dict(), []byte(content)),
	}
	for k, v := range extra {
		objs[k] = v
	}
	rawDoc := &raw.Document{Objects: objs, Trailer: dict("Root", raw.Ref(1, 0)), Version: "1.7"}
	doc, err := semantic.NewBuilder(semantic.BuilderConfig{}).Build(context.Background(), rawDoc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return doc
}

func grayImage(w, h int, data []byte) *raw.StreamObj {
	return raw.NewStream(dict(
		"Type", raw.NameLiteral("XObject"),
		"Subtype", raw.NameLiteral("Image"),
		"Width", raw.NumberInt(int64(w)),
		"Height", raw.NumberInt(int64(h)),
		"BitsPerComponent", raw.NumberInt(8),
		"ColorSpace", raw.NameLiteral("DeviceGray"),
	), data)
}

func gray(img *image.RGBA, x, y int) uint8 { return img.RGBAAt(x, y).R }

func TestRenderPlacesImage(t *testing.T) {
	img := grayImage(2, 2, []byte{0, 0, 0, 0})
	doc := buildDoc(t, "q 100 0 0 50 0 50 cm /Im0 Do Q", dict("Im0", raw.Ref(5, 0)), map[raw.ObjectRef]raw.Object{{Num: 5}: img})

	canvas, err := NewRenderer(Config{}).Render(context.Background(), doc, doc.Pages[0], 72)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if b := canvas.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Fatalf("canvas size %v", b)
	}
	if v := gray(canvas, 50, 25); v != 0 {
		t.Fatalf("expected black in the top half, got %d", v)
	}
	if v := gray(canvas, 50, 75); v != 255 {
		t.Fatalf("expected white in the bottom half, got %d", v)
	}
}

func TestRenderImageOrientation(t *testing.T) {
	// first row black, second row white: the top of the placement is black
	img := grayImage(1, 2, []byte{0, 255})
	doc := buildDoc(t, "100 0 0 100 0 0 cm /Im0 Do", dict("Im0", raw.Ref(5, 0)), map[raw.ObjectRef]raw.Object{{Num: 5}: img})

	canvas, err := NewRenderer(Config{}).Render(context.Background(), doc, doc.Pages[0], 72)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if v := gray(canvas, 50, 10); v != 0 {
		t.Fatalf("top should be black, got %d", v)
	}
	if v := gray(canvas, 50, 90); v != 255 {
		t.Fatalf("bottom should be white, got %d", v)
	}
}

func TestRenderFillsRect(t *testing.T) {
	doc := buildDoc(t, "0 0 1 rg 10 10 20 20 re f", raw.Dict(), nil)
	canvas, err := NewRenderer(Config{}).Render(context.Background(), doc, doc.Pages[0], 144)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if b := canvas.Bounds(); b.Dx() != 200 || b.Dy() != 200 {
		t.Fatalf("canvas size %v", b)
	}
	if c := canvas.RGBAAt(40, 160); c != (color.RGBA{0, 0, 255, 255}) {
		t.Fatalf("expected blue fill, got %v", c)
	}
	if c := canvas.RGBAAt(40, 100); c != (color.RGBA{255, 255, 255, 255}) {
		t.Fatalf("expected white outside the fill, got %v", c)
	}
}

func TestRenderRegion(t *testing.T) {
	doc := buildDoc(t, "0 g 0 50 100 50 re f", raw.Dict(), nil)
	region := semantic.Rectangle{LLX: 0, LLY: 25, URX: 100, URY: 75}
	canvas, err := NewRenderer(Config{}).RenderRegion(context.Background(), doc, doc.Pages[0], region, 72)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if b := canvas.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("canvas size %v", b)
	}
	if v := gray(canvas, 50, 10); v != 0 {
		t.Fatalf("upper half of region should be black, got %d", v)
	}
	if v := gray(canvas, 50, 40); v != 255 {
		t.Fatalf("lower half of region should be white, got %d", v)
	}
}

func TestRenderUnsupportedCodec(t *testing.T) {
	img := grayImage(2, 2, []byte{1, 2, 3})
	img.Dict.SetKey("Filter", raw.NameLiteral("JPXDecode"))
	doc := buildDoc(t, "/Im0 Do", dict("Im0", raw.Ref(5, 0)), map[raw.ObjectRef]raw.Object{{Num: 5}: img})
	_, err := NewRenderer(Config{}).Render(context.Background(), doc, doc.Pages[0], 72)
	if !errors.Is(err, filters.ErrUnsupportedCodec) {
		t.Fatalf("expected ErrUnsupportedCodec, got %v", err)
	}
}

func TestRenderTooLarge(t *testing.T) {
	doc := buildDoc(t, "", raw.Dict(), nil)
	_, err := NewRenderer(Config{MaxPixels: 100}).Render(context.Background(), doc, doc.Pages[0], 72)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDecodeSamplesBitDepths(t *testing.T) {
	// 1 bit, 10 pixels wide: rows are byte aligned
	img, err := decodeSamples([]byte{0b10100000, 0b01000000}, 10, 1, 1, deviceGray, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g := img.(*image.Gray)
	want := []uint8{255, 0, 255, 0, 0, 0, 0, 0, 0, 255}
	for x, v := range want {
		if g.Pix[x] != v {
			t.Fatalf("pixel %d = %d, want %d", x, g.Pix[x], v)
		}
	}

	img, err = decodeSamples([]byte{0xFF, 0xFF, 0x00, 0x00}, 2, 1, 16, deviceGray, []float64{1, 0})
	if err != nil {
		t.Fatalf("decode 16: %v", err)
	}
	if p := img.(*image.Gray).Pix; p[0] != 0 || p[1] != 255 {
		t.Fatalf("16-bit inverted decode: %v", p)
	}
}

func TestDecodeSamplesIndexed(t *testing.T) {
	cs := &colorSpace{family: familyIndexed, base: deviceRGB, hival: 1, lookup: []byte{255, 0, 0, 0, 255, 0}}
	img, err := decodeSamples([]byte{0b00010000}, 2, 1, 2, cs, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rgba := img.(*image.RGBA)
	if c := rgba.RGBAAt(0, 0); c != (color.RGBA{255, 0, 0, 255}) {
		t.Fatalf("index 0 = %v", c)
	}
	if c := rgba.RGBAAt(1, 0); c != (color.RGBA{0, 255, 0, 255}) {
		t.Fatalf("index 1 = %v", c)
	}
}

func TestDecodeSamplesCMYK(t *testing.T) {
	img, err := decodeSamples([]byte{0, 0, 0, 255, 0, 0, 0, 0}, 2, 1, 8, deviceCMYK, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rgba := img.(*image.RGBA)
	if c := rgba.RGBAAt(0, 0); c != (color.RGBA{0, 0, 0, 255}) {
		t.Fatalf("K=1 should be black, got %v", c)
	}
	if c := rgba.RGBAAt(1, 0); c != (color.RGBA{255, 255, 255, 255}) {
		t.Fatalf("no ink should be white, got %v", c)
	}
}

func TestDecodeStencil(t *testing.T) {
	fill := color.RGBA{10, 20, 30, 255}
	img, err := decodeStencil([]byte{0b01000000}, 2, 1, nil, fill)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n := img.(*image.NRGBA)
	if c := n.NRGBAAt(0, 0); c != (color.NRGBA{10, 20, 30, 255}) {
		t.Fatalf("sample 0 should paint, got %v", c)
	}
	if c := n.NRGBAAt(1, 0); c.A != 0 {
		t.Fatalf("sample 1 should be transparent, got %v", c)
	}
}

func TestTruncatedImageIsPadded(t *testing.T) {
	img, err := decodeSamples([]byte{1, 2, 3, 4}, 4, 3, 8, deviceGray, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dy() != 3 {
		t.Fatalf("height %d", b.Dy())
	}
	if _, err := decodeSamples([]byte{1}, 4, 3, 8, deviceGray, nil); !errors.Is(err, ErrBadImage) {
		t.Fatalf("expected ErrBadImage, got %v", err)
	}
}
