package raster

import (
	"context"
	"errors"
	"fmt"
	"image/color"

	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
)

// ErrUnsupportedColorSpace is returned for colour spaces the renderer does
// not convert (Lab, Pattern, multi-colorant DeviceN).
var ErrUnsupportedColorSpace = errors.New("unsupported color space")

type family int

const (
	familyGray family = iota
	familyRGB
	familyCMYK
	familyIndexed
	// familySeparation is a single tint painted as grey: tint 1 is black.
	familySeparation
)

type colorSpace struct {
	family family
	base   *colorSpace
	hival  int
	lookup []byte
}

var (
	deviceGray = &colorSpace{family: familyGray}
	deviceRGB  = &colorSpace{family: familyRGB}
	deviceCMYK = &colorSpace{family: familyCMYK}
)

func (cs *colorSpace) components() int {
	switch cs.family {
	case familyRGB:
		return 3
	case familyCMYK:
		return 4
	}
	return 1
}

// defaultDecode is the /Decode array used when an image has none.
func (cs *colorSpace) defaultDecode(bpc int) []float64 {
	if cs.family == familyIndexed {
		return []float64{0, float64(int(1)<<bpc - 1)}
	}
	out := make([]float64, 0, 2*cs.components())
	for i := 0; i < cs.components(); i++ {
		out = append(out, 0, 1)
	}
	return out
}

// rgba converts component values in [0,1] to an opaque colour. For Indexed
// spaces comps[0] is the palette index.
func (cs *colorSpace) rgba(comps []float64) color.RGBA {
	switch cs.family {
	case familyGray:
		g := unit(comps[0])
		return color.RGBA{g, g, g, 255}
	case familySeparation:
		g := unit(1 - comps[0])
		return color.RGBA{g, g, g, 255}
	case familyRGB:
		return color.RGBA{unit(comps[0]), unit(comps[1]), unit(comps[2]), 255}
	case familyCMYK:
		r, g, b := color.CMYKToRGB(unit(comps[0]), unit(comps[1]), unit(comps[2]), unit(comps[3]))
		return color.RGBA{r, g, b, 255}
	case familyIndexed:
		idx := int(comps[0] + 0.5)
		if idx < 0 {
			idx = 0
		}
		if idx > cs.hival {
			idx = cs.hival
		}
		n := cs.base.components()
		base := make([]float64, n)
		for k := 0; k < n; k++ {
			if off := idx*n + k; off < len(cs.lookup) {
				base[k] = float64(cs.lookup[off]) / 255
			}
		}
		return cs.base.rgba(base)
	}
	return color.RGBA{A: 255}
}

func unit(f float64) uint8 {
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 255
	}
	return uint8(f*255 + 0.5)
}

// parseColorSpace interprets a /ColorSpace value. Names other than the
// device families are looked up in resources.
func parseColorSpace(ctx context.Context, doc *semantic.Document, obj raw.Object, resources *raw.DictObj, depth int) (*colorSpace, error) {
	if depth > 8 {
		return nil, fmt.Errorf("%w: nesting too deep", ErrUnsupportedColorSpace)
	}
	obj = doc.Resolve(obj)
	switch v := obj.(type) {
	case raw.NameObj:
		switch v.Val {
		case "DeviceGray", "G", "CalGray":
			return deviceGray, nil
		case "DeviceRGB", "RGB", "CalRGB":
			return deviceRGB, nil
		case "DeviceCMYK", "CMYK":
			return deviceCMYK, nil
		}
		if resources != nil {
			if csDict, ok := doc.ResolveDict(lookup(resources, "ColorSpace")); ok {
				if named, ok := csDict.Lookup(v.Val); ok {
					return parseColorSpace(ctx, doc, named, nil, depth+1)
				}
			}
		}
		return nil, fmt.Errorf("%w: /%s", ErrUnsupportedColorSpace, v.Val)
	case *raw.ArrayObj:
		if v.Len() == 0 {
			return nil, fmt.Errorf("%w: empty array", ErrUnsupportedColorSpace)
		}
		head, _ := raw.NameValue(doc.Resolve(v.Items[0]))
		switch head {
		case "CalGray":
			return deviceGray, nil
		case "CalRGB":
			return deviceRGB, nil
		case "ICCBased":
			return parseICCBased(ctx, doc, v, depth)
		case "Indexed", "I":
			return parseIndexed(ctx, doc, v, resources, depth)
		case "Separation":
			return &colorSpace{family: familySeparation}, nil
		case "DeviceN":
			if v.Len() > 1 {
				if names, ok := doc.Resolve(v.Items[1]).(*raw.ArrayObj); ok && names.Len() == 1 {
					return &colorSpace{family: familySeparation}, nil
				}
			}
		default:
			if v.Len() == 1 {
				return parseColorSpace(ctx, doc, v.Items[0], resources, depth+1)
			}
		}
		return nil, fmt.Errorf("%w: [/%s ...]", ErrUnsupportedColorSpace, head)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedColorSpace, obj.Type())
}

func parseICCBased(ctx context.Context, doc *semantic.Document, arr *raw.ArrayObj, depth int) (*colorSpace, error) {
	if arr.Len() < 2 {
		return nil, fmt.Errorf("%w: ICCBased without stream", ErrUnsupportedColorSpace)
	}
	stream, ok := doc.Resolve(arr.Items[1]).(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%w: ICCBased without stream", ErrUnsupportedColorSpace)
	}
	if alt, ok := stream.Dict.Lookup("Alternate"); ok {
		if cs, err := parseColorSpace(ctx, doc, alt, nil, depth+1); err == nil {
			return cs, nil
		}
	}
	n, _ := raw.IntValue(doc.Resolve(lookup(stream.Dict, "N")))
	switch n {
	case 1:
		return deviceGray, nil
	case 3:
		return deviceRGB, nil
	case 4:
		return deviceCMYK, nil
	}
	return nil, fmt.Errorf("%w: ICCBased with N=%d", ErrUnsupportedColorSpace, n)
}

func parseIndexed(ctx context.Context, doc *semantic.Document, arr *raw.ArrayObj, resources *raw.DictObj, depth int) (*colorSpace, error) {
	if arr.Len() < 4 {
		return nil, fmt.Errorf("%w: short Indexed array", ErrUnsupportedColorSpace)
	}
	base, err := parseColorSpace(ctx, doc, arr.Items[1], resources, depth+1)
	if err != nil {
		return nil, err
	}
	if base.family == familyIndexed {
		return nil, fmt.Errorf("%w: Indexed base is Indexed", ErrUnsupportedColorSpace)
	}
	hival, _ := raw.IntValue(doc.Resolve(arr.Items[2]))
	if hival < 0 || hival > 255 {
		hival = 255
	}
	var table []byte
	switch t := doc.Resolve(arr.Items[3]).(type) {
	case raw.StringObj:
		table = t.Bytes
	case *raw.StreamObj:
		table, err = doc.DecodeStream(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("indexed lookup: %w", err)
		}
	}
	return &colorSpace{family: familyIndexed, base: base, hival: hival, lookup: table}, nil
}

func lookup(d *raw.DictObj, key string) raw.Object {
	if d == nil {
		return raw.NullObj{}
	}
	v, ok := d.Lookup(key)
	if !ok {
		return raw.NullObj{}
	}
	return v
}
