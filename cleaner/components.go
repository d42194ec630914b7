package cleaner

// Rect is a half-open pixel rectangle [X0,X1)×[Y0,Y1), origin top-left.
type Rect struct {
	X0, Y0, X1, Y1 int
}

func (r Rect) Dx() int     { return r.X1 - r.X0 }
func (r Rect) Dy() int     { return r.Y1 - r.Y0 }
func (r Rect) Area() int   { return r.Dx() * r.Dy() }
func (r Rect) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{min(r.X0, o.X0), min(r.Y0, o.Y0), max(r.X1, o.X1), max(r.Y1, o.Y1)}
}

// Pad grows r by n on every side and clamps it to a w×h image.
func (r Rect) Pad(n, w, h int) Rect {
	return Rect{max(0, r.X0-n), max(0, r.Y0-n), min(w, r.X1+n), min(h, r.Y1+n)}
}

// OuterComponents returns the bounding boxes of the 8-connected ink
// components that are not enclosed by another component. A component is
// enclosed when every background pixel around it belongs to a hole, that
// is a 4-connected background region that does not reach the image border.
func OuterComponents(b *Bitmap) []Rect {
	w, h := b.W, b.H
	if w == 0 || h == 0 {
		return nil
	}
	outside := markOutside(b)

	labels := make([]int32, w*h)
	var (
		out   []Rect
		stack []int32
		next  int32
	)
	for start := range b.Pix {
		if b.Pix[start] == 0 || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], int32(start))
		box := Rect{w, h, 0, 0}
		external := false
		for len(stack) > 0 {
			p := int(stack[len(stack)-1])
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			box.X0, box.Y0 = min(box.X0, x), min(box.Y0, y)
			box.X1, box.Y1 = max(box.X1, x+1), max(box.Y1, y+1)
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				external = true
			}
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					q := ny*w + nx
					if b.Pix[q] == 0 {
						if (dx == 0 || dy == 0) && outside[q] {
							external = true
						}
						continue
					}
					if labels[q] == 0 {
						labels[q] = next
						stack = append(stack, int32(q))
					}
				}
			}
		}
		if external {
			out = append(out, box)
		}
	}
	return out
}

// markOutside flood-fills (4-connected) the background reachable from the
// image border.
func markOutside(b *Bitmap) []bool {
	w, h := b.W, b.H
	outside := make([]bool, w*h)
	var stack []int32
	push := func(p int) {
		if b.Pix[p] == 0 && !outside[p] {
			outside[p] = true
			stack = append(stack, int32(p))
		}
	}
	for x := 0; x < w; x++ {
		push(x)
		push((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		push(y * w)
		push(y*w + w - 1)
	}
	for len(stack) > 0 {
		p := int(stack[len(stack)-1])
		stack = stack[:len(stack)-1]
		x, y := p%w, p/w
		if x > 0 {
			push(p - 1)
		}
		if x < w-1 {
			push(p + 1)
		}
		if y > 0 {
			push(p - w)
		}
		if y < h-1 {
			push(p + w)
		}
	}
	return outside
}
