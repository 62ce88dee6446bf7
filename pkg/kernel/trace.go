package kernel

import (
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"
)

// Compile-time interface check.
var _ Kernel = (*Trace)(nil)

// Trace is a Kernel that only counts primitives and tracks their extent.
// It is used to summarize a sketch without writing a file.
type Trace struct {
	Lines     int
	Arcs      int
	Circles   int
	Polylines int
	Vertices  int // polyline vertices
	Layers    []string

	min, max v2.Vec
	empty    bool
}

// NewTrace returns an empty Trace.
func NewTrace() *Trace { return &Trace{empty: true} }

// Layer records the layer name once.
func (t *Trace) Layer(name string) error {
	for _, l := range t.Layers {
		if l == name {
			return nil
		}
	}
	t.Layers = append(t.Layers, name)
	return nil
}

func (t *Trace) include(p v2.Vec) {
	if t.empty {
		t.min, t.max, t.empty = p, p, false
		return
	}
	t.min = v2.Vec{X: math.Min(t.min.X, p.X), Y: math.Min(t.min.Y, p.Y)}
	t.max = v2.Vec{X: math.Max(t.max.X, p.X), Y: math.Max(t.max.Y, p.Y)}
}

// Line counts a line.
func (t *Trace) Line(a, b v2.Vec) error {
	t.Lines++
	t.include(a)
	t.include(b)
	return nil
}

// Arc counts an arc. Its extent is approximated by the supporting circle's
// axis-aligned points that lie on the arc plus the end points.
func (t *Trace) Arc(c v2.Vec, r, start, end float64) error {
	t.Arcs++
	sweep := math.Mod(end-start, 2*math.Pi)
	if sweep <= 0 {
		sweep += 2 * math.Pi
	}
	t.include(c.Add(v2.Vec{X: math.Cos(start), Y: math.Sin(start)}.MulScalar(r)))
	t.include(c.Add(v2.Vec{X: math.Cos(end), Y: math.Sin(end)}.MulScalar(r)))
	for q := 0; q < 4; q++ {
		a := float64(q) * math.Pi / 2
		if math.Mod(a-start+4*math.Pi, 2*math.Pi) <= sweep {
			t.include(c.Add(v2.Vec{X: math.Cos(a), Y: math.Sin(a)}.MulScalar(r)))
		}
	}
	return nil
}

// Circle counts a circle.
func (t *Trace) Circle(c v2.Vec, r float64) error {
	t.Circles++
	t.include(c.Sub(v2.Vec{X: r, Y: r}))
	t.include(c.Add(v2.Vec{X: r, Y: r}))
	return nil
}

// Polyline counts a polyline and its vertices.
func (t *Trace) Polyline(pts []v2.Vec, closed bool) error {
	t.Polylines++
	t.Vertices += len(pts)
	for _, p := range pts {
		t.include(p)
	}
	return nil
}

// Save does nothing.
func (t *Trace) Save(string) error { return nil }

// Primitives returns the number of primitives drawn.
func (t *Trace) Primitives() int { return t.Lines + t.Arcs + t.Circles + t.Polylines }

// IsEmpty returns true if nothing was drawn.
func (t *Trace) IsEmpty() bool { return t.empty }

// Bounds returns the axis-aligned extent of everything drawn.
func (t *Trace) Bounds() (min, max v2.Vec) { return t.min, t.max }
