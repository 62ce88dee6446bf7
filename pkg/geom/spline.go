package geom

import (
	"fmt"

	v2 "github.com/deadsy/sdfx/vec/v2"
)

// Spline is a (rational) B-spline curve. Weights may be nil for a
// non-rational curve. Knots has len(Control)+Degree+1 entries.
type Spline struct {
	Degree  int
	Control []v2.Vec
	Knots   []float64
	Weights []float64
}

// UniformSpline builds a clamped spline with a uniform knot vector over [0, 1].
func UniformSpline(degree int, ctrl []v2.Vec) Spline {
	n := len(ctrl)
	knots := make([]float64, n+degree+1)
	inner := n - degree
	for i := range knots {
		switch {
		case i <= degree:
			knots[i] = 0
		case i >= n:
			knots[i] = 1
		default:
			knots[i] = float64(i-degree) / float64(inner)
		}
	}
	return Spline{Degree: degree, Control: append([]v2.Vec(nil), ctrl...), Knots: knots}
}

func (Spline) Kind() Kind { return KindSpline }
func (s Spline) Transform(r Rigid) Shape {
	out := s.clone()
	for i, p := range out.Control {
		out.Control[i] = r.Apply(p)
	}
	return out
}
func (s Spline) Samples() []v2.Vec { return append([]v2.Vec(nil), s.Control...) }
func (Spline) isShape() {}

func (s Spline) clone() Spline {
	return Spline{
		Degree:  s.Degree,
		Control: append([]v2.Vec(nil), s.Control...),
		Knots:   append([]float64(nil), s.Knots...),
		Weights: append([]float64(nil), s.Weights...),
	}
}

// Validate checks the knot vector and weight counts.
func (s Spline) Validate() error {
	if s.Degree < 1 {
		return fmt.Errorf("geom: spline degree %d < 1", s.Degree)
	}
	if len(s.Control) <= s.Degree {
		return fmt.Errorf("geom: spline needs more than %d control points, got %d", s.Degree, len(s.Control))
	}
	if len(s.Knots) != len(s.Control)+s.Degree+1 {
		return fmt.Errorf("geom: spline has %d knots, want %d", len(s.Knots), len(s.Control)+s.Degree+1)
	}
	if len(s.Weights) != 0 && len(s.Weights) != len(s.Control) {
		return fmt.Errorf("geom: spline has %d weights for %d control points", len(s.Weights), len(s.Control))
	}
	return nil
}

// Domain returns the valid parameter interval.
func (s Spline) Domain() (lo, hi float64) {
	return s.Knots[s.Degree], s.Knots[len(s.Knots)-s.Degree-1]
}

// At evaluates the curve at t using de Boor's algorithm in homogeneous
// coordinates.
func (s Spline) At(t float64) v2.Vec {
	return EvalSpline(s.Degree, s.Control, s.Knots, s.Weights, t)
}

// Derivative approximates the first derivative at t by central differences.
func (s Spline) Derivative(t float64) v2.Vec {
	lo, hi := s.Domain()
	h := (hi - lo) * 1e-5
	a, b := t-h, t+h
	if a < lo {
		a = lo
	}
	if b > hi {
		b = hi
	}
	return s.At(b).Sub(s.At(a)).DivScalar(b - a)
}

// EvalSpline evaluates a rational B-spline given raw data. It is exported
// for solver backends that keep control points in their own parameter
// vectors.
func EvalSpline(degree int, ctrl []v2.Vec, knots, weights []float64, t float64) v2.Vec {
	n := len(ctrl)
	lo, hi := knots[degree], knots[len(knots)-degree-1]
	if t < lo {
		t = lo
	}
	if t > hi {
		t = hi
	}
	// Find span k with knots[k] <= t < knots[k+1].
	k := degree
	for k < n-1 && t >= knots[k+1] {
		k++
	}
	type hp struct{ x, y, w float64 }
	d := make([]hp, degree+1)
	for j := 0; j <= degree; j++ {
		i := j + k - degree
		w := 1.0
		if len(weights) == n {
			w = weights[i]
		}
		d[j] = hp{ctrl[i].X * w, ctrl[i].Y * w, w}
	}
	for r := 1; r <= degree; r++ {
		for j := degree; j >= r; j-- {
			i := j + k - degree
			den := knots[i+degree-r+1] - knots[i]
			alpha := 0.0
			if den != 0 {
				alpha = (t - knots[i]) / den
			}
			d[j] = hp{
				x: (1-alpha)*d[j-1].x + alpha*d[j].x,
				y: (1-alpha)*d[j-1].y + alpha*d[j].y,
				w: (1-alpha)*d[j-1].w + alpha*d[j].w,
			}
		}
	}
	p := d[degree]
	return v2.Vec{X: p.x / p.w, Y: p.y / p.w}
}
