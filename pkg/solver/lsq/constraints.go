package lsq

import (
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"

	"github.com/chazu/sketchgraph/pkg/solver"
)

// constraint is one residual block.
type constraint struct {
	handle solver.Handle
	cs   solver.Constraint

	// sign fixes the side of side-dependent distances and tangencies, as
	// observed when the constraint was created.
	sign float64
	// internal selects internal circle-circle distance.
	internal bool

	// Equations only.
	eq         solver.Equation
	inequality bool
}

// arity lists the expected object kinds per constraint; zero accepts any.
var arity = map[solver.ConstraintKind]int{
	solver.Incidence:        2,
	solver.Parallel:         2,
	solver.Perpendicular:    2,
	solver.Concentric:       2,
	solver.Tangent:          2,
	solver.EqualRadius:      2,
	solver.EqualDistance:    4,
	solver.EqualCurvature:   2,
	solver.Symmetric:        3,
	solver.Midpoint:         3,
	solver.CurvePoint:       2,
	solver.ControlPoint:     2,
	solver.Normal:           2,
	solver.Distance:         2,
	solver.DirectedDistance: 0,
	solver.Angle:            2,
	solver.Angle3Point:      3,
	solver.Radius:           1,
	solver.Diameter:         1,
	solver.MajorRadius:      1,
	solver.MinorRadius:      1,
}

// check validates the object kinds of a constraint and normalizes argument
// order.
func (c *Context) check(cs *solver.Constraint) error {
	want, ok := arity[cs.Kind]
	if !ok {
		return errors.Wrapf(solver.ErrUnsupported, "%s", cs.Kind)
	}
	if want > 0 && len(cs.Objects) != want {
		return errors.Wrapf(solver.ErrUnsupported, "%s takes %d objects, got %d", cs.Kind, want, len(cs.Objects))
	}
	kinds := make([]solver.ObjectKind, len(cs.Objects))
	for i, h := range cs.Objects {
		o, ok := c.objects[h]
		if !ok {
			return errors.Wrapf(solver.ErrBadHandle, "%s object %d", cs.Kind, h)
		}
		kinds[i] = o.kind
	}
	for _, h := range append(cs.Params, cs.Variable) {
		if h == 0 {
			continue
		}
		if o, ok := c.objects[h]; !ok || o.kind != solver.ObjVariable {
			return errors.Wrapf(solver.ErrBadHandle, "%s variable %d", cs.Kind, h)
		}
	}
	is := func(i int, ks ...solver.ObjectKind) bool {
		for _, k := range ks {
			if kinds[i] == k {
				return true
			}
		}
		return false
	}
	curve := []solver.ObjectKind{solver.ObjLine, solver.ObjCircle, solver.ObjEllipse, solver.ObjSpline}
	round := []solver.ObjectKind{solver.ObjCircle, solver.ObjEllipse}
	unsupported := func() error {
		return errors.Wrapf(solver.ErrUnsupported, "%s on %v", cs.Kind, kinds)
	}

	switch cs.Kind {
	case solver.Incidence, solver.Distance:
		if !is(0, solver.ObjPoint) && is(1, solver.ObjPoint) {
			cs.Objects[0], cs.Objects[1] = cs.Objects[1], cs.Objects[0]
			kinds[0], kinds[1] = kinds[1], kinds[0]
		}
		if cs.Kind == solver.Distance && is(0, solver.ObjCircle) && is(1, solver.ObjLine) {
			cs.Objects[0], cs.Objects[1] = cs.Objects[1], cs.Objects[0]
			kinds[0], kinds[1] = kinds[1], kinds[0]
		}
		if cs.Kind == solver.Incidence && !is(0, solver.ObjPoint) {
			return unsupported()
		}
		if cs.Kind == solver.Distance && (!is(0, solver.ObjPoint, solver.ObjLine, solver.ObjCircle) || !is(1, solver.ObjPoint, solver.ObjLine, solver.ObjCircle)) {
			return unsupported()
		}
	case solver.Parallel, solver.Perpendicular:
		if !is(0, solver.ObjLine) || !is(1, solver.ObjLine) {
			return unsupported()
		}
	case solver.Concentric:
		for i := range kinds {
			if !is(i, solver.ObjPoint, solver.ObjCircle, solver.ObjEllipse) {
				return unsupported()
			}
		}
	case solver.Tangent, solver.EqualCurvature:
		if !is(0, curve...) || !is(1, curve...) || len(cs.Params) != 2 {
			return unsupported()
		}
	case solver.EqualRadius:
		if !is(0, solver.ObjCircle) || !is(1, solver.ObjCircle) {
			return unsupported()
		}
	case solver.EqualDistance, solver.Midpoint, solver.Angle3Point:
		for i := range kinds {
			if !is(i, solver.ObjPoint) {
				return unsupported()
			}
		}
	case solver.Symmetric:
		if !is(2, solver.ObjLine) || kinds[0] != kinds[1] || !is(0, solver.ObjPoint, solver.ObjLine, solver.ObjCircle, solver.ObjEllipse) {
			return unsupported()
		}
	case solver.CurvePoint:
		if !is(0, solver.ObjPoint) || !is(1, curve...) || len(cs.Params) != 1 {
			return unsupported()
		}
	case solver.ControlPoint:
		if !is(0, solver.ObjPoint) || !is(1, solver.ObjSpline) {
			return unsupported()
		}
		if cs.Index < 0 || cs.Index >= len(c.objects[cs.Objects[1]].params)/2 {
			return errors.Wrapf(solver.ErrUnsupported, "control point %d", cs.Index)
		}
	case solver.Normal:
		if !is(0, solver.ObjLine) || !is(1, round...) {
			return unsupported()
		}
	case solver.DirectedDistance:
		if len(kinds) < 2 || !is(0, solver.ObjPoint) || !is(1, solver.ObjPoint) {
			return unsupported()
		}
		if cs.Direction == solver.AlongVector {
			if len(kinds) != 2 || cs.Vector.Length() == 0 {
				return unsupported()
			}
		} else if len(kinds) != 3 || !is(2, solver.ObjLine) {
			return unsupported()
		}
	case solver.Angle:
		if !is(0, solver.ObjLine) || !is(1, solver.ObjLine) {
			return unsupported()
		}
	case solver.Radius, solver.Diameter:
		if !is(0, solver.ObjCircle) {
			return unsupported()
		}
	case solver.MajorRadius, solver.MinorRadius:
		if !is(0, solver.ObjEllipse) {
			return unsupported()
		}
	}
	return nil
}

// value returns the driving value of a constraint.
func (c *Context) value(s *solver.Constraint) float64 {
	if s.Variable != 0 {
		return c.objects[s.Variable].params[0]
	}
	return s.Value
}

func (c *Context) p(h solver.Handle) []float64 { return c.objects[h].params }

// center returns the position of a point or the center of a round object.
func (c *Context) center(h solver.Handle) v2.Vec { return point(c.p(h)) }

// observe captures the side-dependent state of a new constraint.
func (c *Context) observe(k *constraint) {
	k.sign = 1
	s := &k.cs
	switch s.Kind {
	case solver.Distance:
		a, b := c.objects[s.Objects[0]], c.objects[s.Objects[1]]
		switch {
		case a.kind == solver.ObjCircle && b.kind == solver.ObjCircle:
			d := c.center(s.Objects[0]).Sub(c.center(s.Objects[1])).Length()
			k.internal = d < a.params[2]+b.params[2]
		default:
			if v := c.rawDistance(s.Objects[0], s.Objects[1]); v < 0 {
				k.sign = -1
			}
		}
	case solver.DirectedDistance:
		if c.directed(s) < 0 {
			k.sign = -1
		}
	}
}

// rawDistance is the signed distance used by Distance constraints other
// than circle-circle.
func (c *Context) rawDistance(a, b solver.Handle) float64 {
	oa, ob := c.objects[a], c.objects[b]
	pa, pb := c.p(a), c.p(b)
	switch {
	case oa.kind == solver.ObjPoint && ob.kind == solver.ObjPoint:
		return point(pb).Sub(point(pa)).Length()
	case ob.kind == solver.ObjLine:
		// point-line or line-line (the first line's origin)
		return lineDir(pb).Cross(point(pa).Sub(point(pb)))
	case oa.kind == solver.ObjPoint && ob.kind == solver.ObjCircle:
		return point(pa).Sub(point(pb)).Length() - pb[2]
	case oa.kind == solver.ObjLine && ob.kind == solver.ObjCircle:
		return lineDir(pa).Cross(point(pb).Sub(point(pa)))
	}
	return 0
}

// directed is the signed projection measured by a DirectedDistance.
func (c *Context) directed(s *solver.Constraint) float64 {
	d := c.center(s.Objects[1]).Sub(c.center(s.Objects[0]))
	switch s.Direction {
	case solver.AcrossLine:
		return d.Dot(perpOf(lineDir(c.p(s.Objects[2]))))
	case solver.AlongLine:
		return d.Dot(lineDir(c.p(s.Objects[2])))
	}
	return d.Dot(s.Vector.Normalize())
}

func perpOf(v v2.Vec) v2.Vec { return v2.Vec{X: -v.Y, Y: v.X} }

// residuals appends the residual block of one constraint.
func (c *Context) residual(k *constraint, out []float64) []float64 {
	if k.eq != nil {
		var all []float64
		for _, h := range k.cs.Objects {
			all = append(all, c.p(h)...)
		}
		v := k.eq(all)
		if k.inequality {
			v = math.Min(0, v)
		}
		return append(out, v)
	}

	s := &k.cs
	obj := func(i int) *object { return c.objects[s.Objects[i]] }
	par := func(i int) []float64 { return c.p(s.Objects[i]) }
	param := func(i int) float64 { return c.p(s.Params[i])[0] }

	switch s.Kind {
	case solver.Incidence:
		p := point(par(0))
		b := par(1)
		switch obj(1).kind {
		case solver.ObjPoint:
			d := p.Sub(point(b))
			return append(out, d.X, d.Y)
		case solver.ObjLine:
			return append(out, lineDir(b).Cross(p.Sub(point(b))))
		case solver.ObjCircle:
			return append(out, p.Sub(point(b)).Length()-b[2])
		case solver.ObjEllipse:
			u := lineDir(b)
			d := p.Sub(point(b))
			x, y := d.Dot(u)/b[3], d.Dot(perpOf(u))/b[4]
			return append(out, (math.Hypot(x, y)-1)*b[3])
		}
		return append(out, 0)

	case solver.Parallel:
		return append(out, wrapHalf(par(0)[2]-par(1)[2]))

	case solver.Perpendicular:
		return append(out, wrapHalf(par(0)[2]-par(1)[2]-math.Pi/2))

	case solver.Concentric:
		d := point(par(0)).Sub(point(par(1)))
		return append(out, d.X, d.Y)

	case solver.Tangent:
		a, b := obj(0), obj(1)
		ta, tb := param(0), param(1)
		pa, pb := a.curveAt(par(0), ta), b.curveAt(par(1), tb)
		da, _ := a.derivatives(par(0), ta)
		db, _ := b.derivatives(par(1), tb)
		d := pa.Sub(pb)
		cross := 0.0
		if n := da.Length() * db.Length(); n > 0 {
			cross = da.Cross(db) / n
		}
		return append(out, d.X, d.Y, cross)

	case solver.EqualCurvature:
		a, b := obj(0), obj(1)
		return append(out, a.curvature(par(0), param(0))-b.curvature(par(1), param(1)))

	case solver.EqualRadius:
		return append(out, par(0)[2]-par(1)[2])

	case solver.EqualDistance:
		d1 := point(par(1)).Sub(point(par(0))).Length()
		d2 := point(par(3)).Sub(point(par(2))).Length()
		return append(out, d1-d2)

	case solver.Symmetric:
		l := par(2)
		o, u := point(l), lineDir(l)
		a, b := point(par(0)), point(par(1))
		mid := a.Add(b).MulScalar(0.5)
		out = append(out, u.Cross(mid.Sub(o)))
		switch obj(0).kind {
		case solver.ObjPoint:
			return append(out, b.Sub(a).Dot(u))
		case solver.ObjLine:
			// a's origin mirrored lies on b, and the directions mirror.
			n := perpOf(u)
			ra := a.Sub(n.MulScalar(2 * a.Sub(o).Dot(n)))
			out = out[:len(out)-1]
			return append(out, lineDir(par(1)).Cross(ra.Sub(b)), wrapHalf(par(1)[2]-(2*l[2]-par(0)[2])))
		case solver.ObjCircle:
			return append(out, b.Sub(a).Dot(u), par(0)[2]-par(1)[2])
		case solver.ObjEllipse:
			return append(out, b.Sub(a).Dot(u), par(0)[3]-par(1)[3], par(0)[4]-par(1)[4])
		}
		return out

	case solver.Midpoint:
		m := point(par(1)).Add(point(par(2))).MulScalar(0.5)
		d := point(par(0)).Sub(m)
		return append(out, d.X, d.Y)

	case solver.CurvePoint:
		d := point(par(0)).Sub(obj(1).curveAt(par(1), param(0)))
		return append(out, d.X, d.Y)

	case solver.ControlPoint:
		sp := par(1)
		d := point(par(0)).Sub(v2.Vec{X: sp[2*s.Index], Y: sp[2*s.Index+1]})
		return append(out, d.X, d.Y)

	case solver.Normal:
		l := par(0)
		return append(out, lineDir(l).Cross(point(par(1)).Sub(point(l))))

	case solver.Distance:
		v := c.value(s)
		a, b := obj(0), obj(1)
		if a.kind == solver.ObjCircle && b.kind == solver.ObjCircle {
			d := point(par(0)).Sub(point(par(1))).Length()
			if k.internal {
				return append(out, math.Abs(par(0)[2]-par(1)[2])-d-v)
			}
			return append(out, d-par(0)[2]-par(1)[2]-v)
		}
		raw := k.sign * c.rawDistance(s.Objects[0], s.Objects[1])
		if a.kind == solver.ObjLine && b.kind == solver.ObjCircle {
			raw -= par(1)[2]
		}
		return append(out, raw-v)

	case solver.DirectedDistance:
		return append(out, k.sign*c.directed(s)-c.value(s))

	case solver.Angle:
		t2 := par(1)[2]
		if s.AntiParallel {
			t2 += math.Pi
		}
		target := c.value(s)
		if s.Clockwise {
			target = -target
		}
		return append(out, wrapAngle(t2-par(0)[2]-target))

	case solver.Angle3Point:
		v := point(par(0))
		a := point(par(1)).Sub(v)
		b := point(par(2)).Sub(v)
		target := c.value(s)
		if s.Clockwise {
			target = -target
		}
		return append(out, wrapAngle(math.Atan2(b.Y, b.X)-math.Atan2(a.Y, a.X)-target))

	case solver.Radius:
		return append(out, par(0)[2]-c.value(s))
	case solver.Diameter:
		return append(out, 2*par(0)[2]-c.value(s))
	case solver.MajorRadius:
		return append(out, par(0)[3]-c.value(s))
	case solver.MinorRadius:
		return append(out, par(0)[4]-c.value(s))
	}
	return out
}
