package filters

import (
	"fmt"

	"github.com/wudi/scanclean/ir/raw"
)

// applyPredictor reverses TIFF (2) and PNG (10-15) predictors.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || columns < 1 || (bpc != 1 && bpc != 2 && bpc != 4 && bpc != 8 && bpc != 16) {
		return nil, fmt.Errorf("predictor parameters colors=%d bpc=%d columns=%d: %w", colors, bpc, columns, ErrUnsupportedCodec)
	}
	rowBytes := (colors*bpc*columns + 7) / 8
	bpp := (colors*bpc + 7) / 8

	if predictor == 2 {
		return tiffPredictor(data, rowBytes, colors, bpc), nil
	}
	if predictor < 10 {
		return nil, fmt.Errorf("predictor %d: %w", predictor, ErrUnsupportedCodec)
	}
	return pngPredictor(data, rowBytes, bpp)
}

func pngPredictor(data []byte, rowBytes, bpp int) ([]byte, error) {
	stride := rowBytes + 1
	rows := len(data) / stride
	if len(data)%stride != 0 {
		// keep a trailing partial row, zero padded
		rows++
		data = append(data, make([]byte, rows*stride-len(data))...)
	}
	out := make([]byte, rows*rowBytes)
	prev := make([]byte, rowBytes)
	for r := 0; r < rows; r++ {
		filter := data[r*stride]
		src := data[r*stride+1 : (r+1)*stride]
		cur := out[r*rowBytes : (r+1)*rowBytes]
		for i := 0; i < rowBytes; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch filter {
			case 0:
				cur[i] = src[i]
			case 1:
				cur[i] = src[i] + left
			case 2:
				cur[i] = src[i] + up
			case 3:
				cur[i] = src[i] + byte((int(left)+int(up))/2)
			case 4:
				cur[i] = src[i] + paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("png filter type %d in row %d: %w", filter, r, ErrUnsupportedCodec)
			}
		}
		prev = cur
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tiffPredictor(data []byte, rowBytes, colors, bpc int) []byte {
	out := append([]byte(nil), data...)
	for start := 0; start+rowBytes <= len(out); start += rowBytes {
		row := out[start : start+rowBytes]
		switch bpc {
		case 8:
			for i := colors; i < rowBytes; i++ {
				row[i] += row[i-colors]
			}
		case 16:
			for i := 2 * colors; i+1 < rowBytes; i += 2 {
				v := uint16(row[i])<<8 | uint16(row[i+1])
				p := uint16(row[i-2*colors])<<8 | uint16(row[i-2*colors+1])
				v += p
				row[i], row[i+1] = byte(v>>8), byte(v)
			}
		default:
			mask := byte(1<<bpc - 1)
			samples := rowBytes * 8 / bpc
			get := func(n int) byte {
				bit := n * bpc
				return (row[bit/8] >> (8 - bpc - bit%8)) & mask
			}
			set := func(n int, v byte) {
				bit := n * bpc
				shift := 8 - bpc - bit%8
				row[bit/8] = row[bit/8]&^(mask<<shift) | (v&mask)<<shift
			}
			for n := colors; n < samples; n++ {
				set(n, get(n)+get(n-colors))
			}
		}
	}
	return out
}
