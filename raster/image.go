package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
)

var (
	ErrBadImage = errors.New("malformed image")
)

// inlineKeys maps inline image abbreviations to their full names.
var inlineKeys = map[string]string{
	"BPC": "BitsPerComponent",
	"CS":  "ColorSpace",
	"D":   "Decode",
	"DP":  "DecodeParms",
	"F":   "Filter",
	"H":   "Height",
	"IM":  "ImageMask",
	"I":   "Interpolate",
	"W":   "Width",
}

// ExpandInlineDict rewrites abbreviated inline image keys to their full
// names.
func ExpandInlineDict(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for k, v := range d.KV {
		if full, ok := inlineKeys[k]; ok {
			k = full
		}
		out.SetKey(k, v)
	}
	return out
}

// ImageSpec describes an image to decode: its dictionary, its encoded
// bytes, the resources in effect and the fill colour for stencil masks.
type ImageSpec struct {
	Dict      *raw.DictObj
	Data      []byte
	Resources *raw.DictObj
	Fill      color.RGBA
}

// DecodeImage turns an image XObject or inline image into an image.Image.
// Stencil masks come back as *image.NRGBA with transparent background.
func DecodeImage(ctx context.Context, doc *semantic.Document, spec ImageSpec) (image.Image, error) {
	d := spec.Dict
	width, _ := raw.IntValue(doc.Resolve(lookup(d, "Width")))
	height, _ := raw.IntValue(doc.Resolve(lookup(d, "Height")))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrBadImage, width, height)
	}
	names, params := filters.ExtractFilters(d)
	data, codec, _, err := doc.Filters().DecodeImage(ctx, spec.Data, names, params)
	if err != nil {
		return nil, err
	}
	decode := numbers(doc, lookup(d, "Decode"))

	switch codec {
	case "":
	case "DCTDecode":
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
		}
		if len(decode) >= 2 && decode[0] > decode[1] {
			img = invert(img)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%s: %w", codec, filters.ErrUnsupportedCodec)
	}

	if mask, _ := doc.Resolve(lookup(d, "ImageMask")).(raw.BoolObj); mask.V {
		return decodeStencil(data, width, height, decode, spec.Fill)
	}

	bpc, ok := raw.IntValue(doc.Resolve(lookup(d, "BitsPerComponent")))
	if !ok {
		bpc = 8
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("%w: %d bits per component", ErrBadImage, bpc)
	}
	cs := deviceGray
	if csObj, ok := d.Lookup("ColorSpace"); ok {
		cs, err = parseColorSpace(ctx, doc, csObj, spec.Resources, 0)
		if err != nil {
			return nil, err
		}
	}
	return decodeSamples(data, width, height, bpc, cs, decode)
}

func numbers(doc *semantic.Document, obj raw.Object) []float64 {
	arr, ok := doc.Resolve(obj).(*raw.ArrayObj)
	if !ok {
		return nil
	}
	out := make([]float64, 0, arr.Len())
	for _, it := range arr.Items {
		f, ok := raw.NumberValue(doc.Resolve(it))
		if !ok {
			return nil
		}
		out = append(out, f)
	}
	return out
}

// rowData returns data padded to h rows of rowBytes. Truncated streams are
// common in scanner output; at least one full row must be present.
func rowData(data []byte, rowBytes, h int) ([]byte, error) {
	need := rowBytes * h
	if len(data) >= need {
		return data, nil
	}
	if len(data) < rowBytes {
		return nil, fmt.Errorf("%w: %d bytes for %d rows of %d", ErrBadImage, len(data), h, rowBytes)
	}
	padded := make([]byte, need)
	copy(padded, data)
	return padded, nil
}

func sampleAt(row []byte, i, bpc int) int {
	switch bpc {
	case 8:
		return int(row[i])
	case 16:
		return int(row[2*i])<<8 | int(row[2*i+1])
	}
	bit := i * bpc
	shift := 8 - bpc - bit%8
	return int(row[bit/8]>>shift) & (1<<bpc - 1)
}

func decodeSamples(data []byte, w, h, bpc int, cs *colorSpace, decode []float64) (image.Image, error) {
	n := cs.components()
	rowBytes := (w*n*bpc + 7) / 8
	data, err := rowData(data, rowBytes, h)
	if err != nil {
		return nil, err
	}
	if len(decode) < 2*n {
		decode = cs.defaultDecode(bpc)
	}
	maxv := float64(int(1)<<bpc - 1)
	scale := make([]float64, n)
	for k := 0; k < n; k++ {
		scale[k] = (decode[2*k+1] - decode[2*k]) / maxv
	}

	if cs.family == familyGray {
		img := image.NewGray(image.Rect(0, 0, w, h))
		var lut []uint8
		if bpc <= 8 {
			lut = make([]uint8, 1<<bpc)
			for s := range lut {
				lut[s] = unit(decode[0] + float64(s)*scale[0])
			}
		}
		for y := 0; y < h; y++ {
			row := data[y*rowBytes : (y+1)*rowBytes]
			out := img.Pix[y*img.Stride : y*img.Stride+w]
			for x := 0; x < w; x++ {
				s := sampleAt(row, x, bpc)
				if lut != nil {
					out[x] = lut[s]
				} else {
					out[x] = unit(decode[0] + float64(s)*scale[0])
				}
			}
		}
		return img, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	comps := make([]float64, n)
	var palette []color.RGBA
	if cs.family == familyIndexed {
		palette = make([]color.RGBA, cs.hival+1)
		for i := range palette {
			palette[i] = cs.rgba([]float64{float64(i)})
		}
	}
	for y := 0; y < h; y++ {
		row := data[y*rowBytes : (y+1)*rowBytes]
		for x := 0; x < w; x++ {
			for k := 0; k < n; k++ {
				comps[k] = decode[2*k] + float64(sampleAt(row, x*n+k, bpc))*scale[k]
			}
			var c color.RGBA
			if palette != nil {
				idx := int(comps[0] + 0.5)
				if idx < 0 {
					idx = 0
				}
				if idx >= len(palette) {
					idx = len(palette) - 1
				}
				c = palette[idx]
			} else {
				c = cs.rgba(comps)
			}
			off := y*img.Stride + x*4
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
		}
	}
	return img, nil
}

// decodeStencil paints sample 0 with fill (Decode [1 0] paints sample 1).
func decodeStencil(data []byte, w, h int, decode []float64, fill color.RGBA) (image.Image, error) {
	rowBytes := (w + 7) / 8
	data, err := rowData(data, rowBytes, h)
	if err != nil {
		return nil, err
	}
	paint := 0
	if len(decode) >= 2 && decode[0] > decode[1] {
		paint = 1
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := data[y*rowBytes : (y+1)*rowBytes]
		for x := 0; x < w; x++ {
			if sampleAt(row, x, 1) != paint {
				continue
			}
			off := y*img.Stride + x*4
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = fill.R, fill.G, fill.B, 255
		}
	}
	return img, nil
}

func invert(src image.Image) image.Image {
	b := src.Bounds()
	if g, ok := src.(*image.Gray); ok {
		out := image.NewGray(b)
		for i, v := range g.Pix {
			out.Pix[i] = 255 - v
		}
		return out
	}
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(src.At(x, y)).(color.RGBA)
			out.SetRGBA(x, y, color.RGBA{255 - c.R, 255 - c.G, 255 - c.B, 255})
		}
	}
	return out
}
