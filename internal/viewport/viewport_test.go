package viewport

import "testing"

func TestEffectiveDepthZeroIsIdentity(t *testing.T) {
	v := Viewport{X: 0.2, Y: 0.3, W: 0.4, H: 0.4, Zoom: 2}
	eff := Effective(v, 0)
	want := Viewport{X: 0, Y: 0, W: 1, H: 1, Zoom: 1}
	if eff != want {
		t.Fatalf("Effective(v, 0) = %+v, want %+v", eff, want)
	}
}

func TestEffectiveDepthOneIsViewport(t *testing.T) {
	v := Viewport{X: 0.2, Y: 0.3, W: 0.4, H: 0.4, Zoom: 2}
	eff := Effective(v, 1)
	if eff != v {
		t.Fatalf("Effective(v, 1) = %+v, want %+v", eff, v)
	}
}

func TestEffectiveIntermediateDepthStaysInBounds(t *testing.T) {
	v := Viewport{X: 0.8, Y: 0.8, W: 0.3, H: 0.3, Zoom: 3}
	eff := Effective(v, 0.5)
	if eff.X < 0 || eff.Y < 0 || eff.X+eff.W > 1 || eff.Y+eff.H > 1 {
		t.Fatalf("Effective(v, 0.5) out of [0,1]^2 bounds: %+v", eff)
	}
	if eff.Zoom <= 1 {
		t.Fatalf("expected intermediate zoom > 1, got %v", eff.Zoom)
	}
}

func TestCropRectClampsDegenerateSpanToOnePixel(t *testing.T) {
	v := Viewport{X: 0.5, Y: 0.5, W: 0, H: 0, Zoom: 1}
	r := CropRect(v, 100, 100)
	if r.X1-r.X0 != 1 || r.Y1-r.Y0 != 1 {
		t.Fatalf("CropRect degenerate span = %+v, want a 1x1 rect", r)
	}
}

func TestCropRectClampsToFrameBounds(t *testing.T) {
	v := Viewport{X: -0.5, Y: -0.5, W: 2, H: 2, Zoom: 1}
	r := CropRect(v, 50, 80)
	if r.X0 < 0 || r.Y0 < 0 || r.X1 > 50 || r.Y1 > 80 {
		t.Fatalf("CropRect did not clamp to frame bounds: %+v", r)
	}
}

func TestExpandOverscanClampsAndReturnsCenterAnchor(t *testing.T) {
	r := Rect{X0: 10, Y0: 10, X1: 20, Y1: 20}
	expanded, ax, ay := ExpandOverscan(r, 15, 100, 100)
	if expanded.X0 != 0 || expanded.Y0 != 0 {
		t.Fatalf("expected overscan to clamp at 0, got %+v", expanded)
	}
	wantAX, wantAY := 15.0/100, 15.0/100
	if ax != wantAX || ay != wantAY {
		t.Fatalf("anchor = (%v, %v), want (%v, %v)", ax, ay, wantAX, wantAY)
	}
}
