// Package viewport implements the normalized viewport rectangle and the
// depth-weighted parallax math every Layer uses to compute its effective
// crop on each producer tick.
package viewport

// Viewport is a normalized rectangle (x, y, w, h) in [0,1]^2 plus a zoom
// scalar >= 1. A View holds a single Viewport and hands each of its Layers
// a copy of it on every change.
type Viewport struct {
	X, Y, W, H float64
	Zoom       float64
}

// Default returns the identity viewport: full-frame, no zoom.
func Default() Viewport {
	return Viewport{X: 0, Y: 0, W: 1, H: 1, Zoom: 1}
}

// Rect is a pixel-space crop rectangle, left/top inclusive, right/bottom
// exclusive.
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Effective applies depth-weighted parallax to the given viewport snapshot.
// d == 0 is screen-locked (ignores the viewport entirely); d == 1 follows
// the viewport exactly; any other value interpolates the zoom/center toward
// the viewport proportionally to d.
func Effective(v Viewport, depth float64) Viewport {
	switch depth {
	case 0:
		return Viewport{X: 0, Y: 0, W: 1, H: 1, Zoom: 1}
	case 1:
		return v
	}

	cx := v.X + v.W/2
	cy := v.Y + v.H/2
	ex := 0.5 + (cx-0.5)*depth
	ey := 0.5 + (cy-0.5)*depth
	ez := 1 + (v.Zoom-1)*depth

	ew, eh := 1.0, 1.0
	if ez > 0 {
		ew = 1 / ez
		eh = 1 / ez
	}

	x := ex - ew/2
	y := ey - eh/2
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+ew > 1 {
		x = 1 - ew
	}
	if y+eh > 1 {
		y = 1 - eh
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}

	return Viewport{X: x, Y: y, W: ew, H: eh, Zoom: ez}
}

// CropRect projects a normalized viewport onto pixel bounds (w, h), clamping
// to a legal non-empty rectangle: degenerate spans are widened to a 1px
// minimum, per spec.md's boundary-behavior requirement.
func CropRect(v Viewport, w, h int) Rect {
	x0 := int(v.X * float64(w))
	y0 := int(v.Y * float64(h))
	x1 := int((v.X + v.W) * float64(w))
	y1 := int((v.Y + v.H) * float64(h))

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > w {
		x1 = w
	}
	if y1 > h {
		y1 = h
	}
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	if x1 > w {
		x1, x0 = w, w-1
	}
	if y1 > h {
		y1, y0 = h, h-1
	}
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// ExpandOverscan widens a crop rectangle by n pixels on every side, clamped
// to the source frame bounds, and returns the anchor (the rect's original
// center) the client uses to reconcile the overscanned image after a move.
func ExpandOverscan(r Rect, overscan, w, h int) (expanded Rect, anchorX, anchorY float64) {
	anchorX = float64(r.X0+r.X1) / 2 / float64(w)
	anchorY = float64(r.Y0+r.Y1) / 2 / float64(h)

	x0 := r.X0 - overscan
	y0 := r.Y0 - overscan
	x1 := r.X1 + overscan
	y1 := r.Y1 + overscan
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > w {
		x1 = w
	}
	if y1 > h {
		y1 = h
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}, anchorX, anchorY
}
