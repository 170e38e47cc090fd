package units

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRect_InsetOutset(t *testing.T) {
	r := Rect[MM]{X: 0, Y: 0, W: 127, H: 178}
	got := r.Inset(5)
	want := Rect[MM]{X: 5, Y: 5, W: 117, H: 168}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Inset mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Rect[MM]{X: -3, Y: -3, W: 133, H: 184}, r.Outset(3)); diff != "" {
		t.Fatalf("Outset mismatch (-want +got):\n%s", diff)
	}
}

func TestRect_Contains(t *testing.T) {
	outer := Rect[ScreenPx]{X: 10, Y: 10, W: 100, H: 100}
	tests := []struct {
		name  string
		inner Rect[ScreenPx]
		want  bool
	}{
		{"inside", Rect[ScreenPx]{X: 20, Y: 20, W: 10, H: 10}, true},
		{"same", outer, true},
		{"crosses right", Rect[ScreenPx]{X: 100, Y: 20, W: 20, H: 10}, false},
		{"above", Rect[ScreenPx]{X: 20, Y: 0, W: 10, H: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outer.Contains(tt.inner); got != tt.want {
				t.Fatalf("Contains() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRect_Intersects(t *testing.T) {
	a := Rect[PrintPx]{X: 0, Y: 0, W: 10, H: 10}
	if !a.Intersects(Rect[PrintPx]{X: 5, Y: 5, W: 10, H: 10}) {
		t.Fatal("overlapping rectangles should intersect")
	}
	if a.Intersects(Rect[PrintPx]{X: 10, Y: 0, W: 10, H: 10}) {
		t.Fatal("edge-adjacent rectangles should not intersect")
	}
}

func TestRect_IsFinite(t *testing.T) {
	if !(Rect[MM]{X: 1, Y: 2, W: 3, H: 4}).IsFinite() {
		t.Fatal("finite rect reported as non-finite")
	}
	if (Rect[MM]{X: MM(math.NaN()), W: 1, H: 1}).IsFinite() {
		t.Fatal("NaN rect reported as finite")
	}
	if (Rect[MM]{W: MM(math.Inf(1)), H: 1}).IsFinite() {
		t.Fatal("Inf rect reported as finite")
	}
}

func TestRectMMToPx(t *testing.T) {
	got := RectMMToPx(Rect[MM]{X: 3, Y: 3, W: 25.4, H: 50.8}, 300)
	if math.Abs(float64(got.W)-300) > 1e-9 || math.Abs(float64(got.H)-600) > 1e-9 {
		t.Fatalf("RectMMToPx size = %vx%v, want 300x600", got.W, got.H)
	}
	x0, y0, x1, y1 := got.PixelBounds()
	if x0 != 35 || y0 != 35 || x1 != 335 || y1 != 635 {
		t.Fatalf("PixelBounds = (%d,%d,%d,%d), want (35,35,335,635)", x0, y0, x1, y1)
	}
}

func TestRectMMToScreen(t *testing.T) {
	got := RectMMToScreen(Rect[MM]{W: 25.4, H: 12.7})
	if math.Abs(float64(got.W)-96) > 1e-9 || math.Abs(float64(got.H)-48) > 1e-9 {
		t.Fatalf("RectMMToScreen = %+v", got)
	}
}
