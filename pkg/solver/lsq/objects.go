package lsq

import (
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/solver"
)

// object is one solver primitive and its parameter block.
type object struct {
	kind   solver.ObjectKind
	params []float64
	fixed  bool

	// Splines only: the parts that are not parameters.
	degree  int
	knots   []float64
	weights []float64

	// Rigid sets only: members and their parameters at creation.
	members []solver.Handle
	rest    [][]float64
}

// point returns the position of a point object.
func point(p []float64) v2.Vec { return v2.Vec{X: p[0], Y: p[1]} }

// lineDir returns the unit direction of a line object.
func lineDir(p []float64) v2.Vec { return geom.Polar(p[2]) }

// splineCtrl unpacks control points from a spline parameter block.
func splineCtrl(p []float64) []v2.Vec {
	ctrl := make([]v2.Vec, len(p)/2)
	for i := range ctrl {
		ctrl[i] = v2.Vec{X: p[2*i], Y: p[2*i+1]}
	}
	return ctrl
}

// curveAt evaluates a curve object at parameter t. Lines use arc length from
// the origin, circles and ellipses the (eccentric) angle, splines the knot
// parameter.
func (o *object) curveAt(p []float64, t float64) v2.Vec {
	switch o.kind {
	case solver.ObjLine:
		return point(p).Add(lineDir(p).MulScalar(t))
	case solver.ObjCircle:
		return point(p).Add(geom.Polar(t).MulScalar(p[2]))
	case solver.ObjEllipse:
		u := geom.Polar(p[2])
		s, c := math.Sincos(t)
		return point(p).Add(u.MulScalar(p[3] * c)).Add(geom.Perp(u).MulScalar(p[4] * s))
	case solver.ObjSpline:
		lo, hi := o.domain()
		t = math.Max(lo, math.Min(hi, t))
		return geom.EvalSpline(o.degree, splineCtrl(p), o.knots, o.weights, t)
	case solver.ObjPoint:
		return point(p)
	}
	return v2.Vec{}
}

func (o *object) domain() (lo, hi float64) {
	if o.kind != solver.ObjSpline {
		return math.Inf(-1), math.Inf(1)
	}
	return o.knots[o.degree], o.knots[len(o.knots)-o.degree-1]
}

// derivatives returns the first and second derivative of a curve at t by
// central differences.
func (o *object) derivatives(p []float64, t float64) (d1, d2 v2.Vec) {
	const h = 1e-5
	lo, hi := o.domain()
	t = math.Max(lo+h, math.Min(hi-h, t))
	a := o.curveAt(p, t-h)
	b := o.curveAt(p, t)
	c := o.curveAt(p, t+h)
	d1 = c.Sub(a).DivScalar(2 * h)
	d2 = c.Sub(b.MulScalar(2)).Add(a).DivScalar(h * h)
	return d1, d2
}

// curvature returns the signed curvature of a curve at t.
func (o *object) curvature(p []float64, t float64) float64 {
	switch o.kind {
	case solver.ObjLine:
		return 0
	case solver.ObjCircle:
		return 1 / p[2]
	}
	d1, d2 := o.derivatives(p, t)
	n := d1.Length()
	if n == 0 {
		return 0
	}
	return math.Abs(d1.Cross(d2)) / (n * n * n)
}

// closestParam returns the curve parameter nearest to q, used to seed
// parameter variables.
func (o *object) closestParam(p []float64, q v2.Vec) float64 {
	switch o.kind {
	case solver.ObjLine:
		return q.Sub(point(p)).Dot(lineDir(p))
	case solver.ObjCircle:
		d := q.Sub(point(p))
		return math.Atan2(d.Y, d.X)
	case solver.ObjEllipse:
		e := geom.EllipArc{Center: point(p), MajorAxis: geom.Polar(p[2]), MajorRadius: p[3], MinorRadius: p[4]}
		return e.ParamOf(q)
	case solver.ObjSpline:
		lo, hi := o.domain()
		best, bestD := lo, math.Inf(1)
		const steps = 64
		for i := 0; i <= steps; i++ {
			t := lo + (hi-lo)*float64(i)/steps
			if d := o.curveAt(p, t).Sub(q).Length(); d < bestD {
				best, bestD = t, d
			}
		}
		return best
	}
	return 0
}

// transform applies a rigid motion to an object's parameters.
func (o *object) transform(p []float64, r geom.Rigid) []float64 {
	out := append([]float64(nil), p...)
	switch o.kind {
	case solver.ObjPoint:
		q := r.Apply(point(p))
		out[0], out[1] = q.X, q.Y
	case solver.ObjLine, solver.ObjRigidSet:
		q := r.Apply(point(p))
		out[0], out[1] = q.X, q.Y
		out[2] = p[2] + r.Angle
	case solver.ObjCircle:
		q := r.Apply(point(p))
		out[0], out[1] = q.X, q.Y
	case solver.ObjEllipse:
		q := r.Apply(point(p))
		out[0], out[1] = q.X, q.Y
		out[2] = p[2] + r.Angle
	case solver.ObjSpline:
		for i := 0; i+1 < len(p); i += 2 {
			q := r.Apply(v2.Vec{X: p[i], Y: p[i+1]})
			out[i], out[i+1] = q.X, q.Y
		}
	}
	return out
}

// rigidResiduals ties a member's parameters to its creation pose moved by
// the rigid set transform (tx, ty, theta).
func rigidResiduals(member *object, rest, cur, rs []float64) []float64 {
	r := geom.Rigid{Delta: v2.Vec{X: rs[0], Y: rs[1]}, Angle: rs[2]}
	want := member.transform(rest, r)
	out := make([]float64, 0, len(cur))
	switch member.kind {
	case solver.ObjLine:
		// The origin may slide along the line.
		d := point(cur).Sub(point(want))
		out = append(out, lineDir(want).Cross(d), wrapAngle(cur[2]-want[2]))
	case solver.ObjEllipse:
		out = append(out, cur[0]-want[0], cur[1]-want[1], wrapAngle(cur[2]-want[2]), cur[3]-want[3], cur[4]-want[4])
	default:
		for i := range cur {
			out = append(out, cur[i]-want[i])
		}
	}
	return out
}

// wrapAngle maps an angle into (-pi, pi].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// wrapHalf maps an angle into (-pi/2, pi/2], identifying opposite
// directions.
func wrapHalf(a float64) float64 {
	a = math.Mod(a+math.Pi/2, math.Pi)
	if a <= 0 {
		a += math.Pi
	}
	return a - math.Pi/2
}
