package kernel

import (
	"math"
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- Trace counting tests ---

func TestTraceCounts(t *testing.T) {
	tr := NewTrace()
	if !tr.IsEmpty() {
		t.Fatal("new trace should be empty")
	}
	tr.Line(v2.Vec{}, v2.Vec{X: 1})
	tr.Line(v2.Vec{}, v2.Vec{Y: 1})
	tr.Circle(v2.Vec{X: 5}, 1)
	tr.Arc(v2.Vec{}, 2, 0, math.Pi/2)
	tr.Polyline([]v2.Vec{{}, {X: 1}, {X: 1, Y: 1}}, true)

	tests := []struct {
		name string
		got  int
		want int
	}{
		{"lines", tr.Lines, 2},
		{"circles", tr.Circles, 1},
		{"arcs", tr.Arcs, 1},
		{"polylines", tr.Polylines, 1},
		{"vertices", tr.Vertices, 3},
		{"primitives", tr.Primitives(), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
			}
		})
	}
	if tr.IsEmpty() {
		t.Error("trace should not be empty after drawing")
	}
}

func TestTraceLayersAreUnique(t *testing.T) {
	tr := NewTrace()
	for _, l := range []string{"a", "b", "a"} {
		if err := tr.Layer(l); err != nil {
			t.Fatal(err)
		}
	}
	if len(tr.Layers) != 2 || tr.Layers[0] != "a" || tr.Layers[1] != "b" {
		t.Errorf("Layers = %v, want [a b]", tr.Layers)
	}
}

// --- Bounds tests ---

func TestTraceBounds(t *testing.T) {
	tests := []struct {
		name     string
		draw     func(*Trace)
		min, max v2.Vec
	}{
		{
			"circle",
			func(tr *Trace) { tr.Circle(v2.Vec{X: 1, Y: 1}, 2) },
			v2.Vec{X: -1, Y: -1}, v2.Vec{X: 3, Y: 3},
		},
		{
			"quarter arc",
			func(tr *Trace) { tr.Arc(v2.Vec{}, 1, 0, math.Pi/2) },
			v2.Vec{}, v2.Vec{X: 1, Y: 1},
		},
		{
			"arc crossing the left quadrant point",
			func(tr *Trace) { tr.Arc(v2.Vec{}, 1, math.Pi/2, 3*math.Pi/2) },
			v2.Vec{X: -1, Y: -1}, v2.Vec{X: 0, Y: 1},
		},
		{
			"lines",
			func(tr *Trace) {
				tr.Line(v2.Vec{X: -2, Y: 3}, v2.Vec{X: 4, Y: -1})
			},
			v2.Vec{X: -2, Y: -1}, v2.Vec{X: 4, Y: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTrace()
			tt.draw(tr)
			lo, hi := tr.Bounds()
			if !near(lo.X, tt.min.X) || !near(lo.Y, tt.min.Y) || !near(hi.X, tt.max.X) || !near(hi.Y, tt.max.Y) {
				t.Errorf("Bounds() = %v %v, want %v %v", lo, hi, tt.min, tt.max)
			}
		})
	}
}
