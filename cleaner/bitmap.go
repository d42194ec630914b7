package cleaner

import (
	"image"
	"image/draw"
)

// Bitmap is a binary image; Pix holds 1 for ink and 0 for background.
type Bitmap struct {
	W, H int
	Pix  []uint8
}

func NewBitmap(w, h int) *Bitmap {
	return &Bitmap{W: w, H: h, Pix: make([]uint8, w*h)}
}

func (b *Bitmap) At(x, y int) uint8 { return b.Pix[y*b.W+x] }

// Count returns the number of ink pixels.
func (b *Bitmap) Count() int {
	n := 0
	for _, v := range b.Pix {
		n += int(v)
	}
	return n
}

// ToGray converts img to 8-bit luma with BT.601 weights. *image.Gray
// inputs are returned as is.
func ToGray(img image.Image) *image.Gray {
	switch src := img.(type) {
	case *image.Gray:
		return src
	case *image.RGBA:
		b := src.Bounds()
		out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := src.Pix[off : off+4*b.Dx()]
			dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
			for x := range dst {
				r, g, bl := uint32(row[4*x]), uint32(row[4*x+1]), uint32(row[4*x+2])
				dst[x] = uint8((r*4899 + g*9617 + bl*1868 + 8192) >> 14)
			}
		}
		return out
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return ToGray(rgba)
}

// Binarize marks pixels at or below threshold as ink.
func Binarize(gray *image.Gray, threshold uint8) *Bitmap {
	b := gray.Bounds()
	out := NewBitmap(b.Dx(), b.Dy())
	for y := 0; y < out.H; y++ {
		row := gray.Pix[gray.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.W : (y+1)*out.W]
		for x := range dst {
			if row[x] <= threshold {
				dst[x] = 1
			}
		}
	}
	return out
}

// Dilate sets a pixel when any pixel under the kernel is set. The kernel
// anchor is its centre (k.W/2, k.H/2); pixels outside the image are
// background.
func Dilate(src *Bitmap, k Size) *Bitmap {
	tmp := rowPass(src, k.W, false)
	return colPass(tmp, k.H, false)
}

// Erode keeps a pixel only when every pixel under the kernel is set.
// Pixels outside the image count as set, so borders do not erode.
func Erode(src *Bitmap, k Size) *Bitmap {
	tmp := rowPass(src, k.W, true)
	return colPass(tmp, k.H, true)
}

// Close is dilation followed by erosion with the same kernel.
func Close(src *Bitmap, k Size) *Bitmap {
	return Erode(Dilate(src, k), k)
}

// rowPass applies a 1-D window [x-n/2, x-n/2+n-1] along each row. With
// erode the result is the window minimum, otherwise the maximum.
func rowPass(src *Bitmap, n int, erode bool) *Bitmap {
	if n <= 1 {
		return src
	}
	out := NewBitmap(src.W, src.H)
	for y := 0; y < src.H; y++ {
		slide(src.Pix[y*src.W:(y+1)*src.W], out.Pix[y*src.W:(y+1)*src.W], 1, src.W, n, erode)
	}
	return out
}

func colPass(src *Bitmap, n int, erode bool) *Bitmap {
	if n <= 1 {
		return src
	}
	out := NewBitmap(src.W, src.H)
	for x := 0; x < src.W; x++ {
		slide(src.Pix[x:], out.Pix[x:], src.W, src.H, n, erode)
	}
	return out
}

// slide runs a sliding window count over length elements spaced stride
// apart.
func slide(src, dst []uint8, stride, length, n int, erode bool) {
	anchor := n / 2
	var outside int
	if erode {
		outside = 1
	}
	at := func(i int) int {
		if i < 0 || i >= length {
			return outside
		}
		return int(src[i*stride])
	}
	count := 0
	for i := -anchor; i < n-anchor; i++ {
		count += at(i)
	}
	for x := 0; x < length; x++ {
		var v uint8
		if erode {
			if count == n {
				v = 1
			}
		} else if count > 0 {
			v = 1
		}
		dst[x*stride] = v
		count += at(x+n-anchor) - at(x-anchor)
	}
}
