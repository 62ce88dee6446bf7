package eval

import (
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/solver"
)

// model is the solver image of one group for one attempt. Object handles
// are keyed by node id.
type model struct {
	g      *graph.Group
	ctx    solver.Context
	host   Host
	shapes map[graph.NodeID]geom.Shape
	objs   map[graph.NodeID]solver.Handle
}

// encode returns the solver parameter block of a shape.
func encode(s geom.Shape) []float64 {
	switch c := s.(type) {
	case geom.Point:
		return []float64{c.P.X, c.P.Y}
	case geom.Line:
		return []float64{c.Origin.X, c.Origin.Y, angleOf(c.Dir)}
	case geom.Ray:
		return []float64{c.Origin.X, c.Origin.Y, angleOf(c.Dir)}
	case geom.Segment:
		return []float64{c.Start.X, c.Start.Y, angleOf(c.End.Sub(c.Start))}
	case geom.CircArc:
		return []float64{c.Center.X, c.Center.Y, c.Radius}
	case geom.EllipArc:
		return []float64{c.Center.X, c.Center.Y, angleOf(c.MajorAxis), c.MajorRadius, c.MinorRadius}
	case geom.Spline:
		p := make([]float64, 0, 2*len(c.Control))
		for _, q := range c.Control {
			p = append(p, q.X, q.Y)
		}
		return p
	}
	return nil
}

func angleOf(d v2.Vec) float64 {
	if d.Length() == 0 {
		return 0
	}
	return math.Atan2(d.Y, d.X)
}

// build creates every object and constraint of the group from shapes.
func build(ctx solver.Context, g *graph.Group, host Host, shapes map[graph.NodeID]geom.Shape) (*model, error) {
	m := &model{
		g:      g,
		ctx:    ctx,
		host:   host,
		shapes: shapes,
		objs:   make(map[graph.NodeID]solver.Handle),
	}
	geoms := g.ConstrainedGeometries()
	for _, n := range geoms {
		if n.Kind == graph.KindRigidSet {
			continue
		}
		if err := m.addObject(n); err != nil {
			return nil, err
		}
	}
	for _, n := range geoms {
		if err := m.tieImplicitPoints(n); err != nil {
			return nil, err
		}
	}
	for _, n := range geoms {
		if n.Kind == graph.KindRigidSet {
			if err := m.addRigidSet(n); err != nil {
				return nil, err
			}
		}
	}
	for _, n := range g.Constraints(true) {
		if n.Kind == graph.KindComposite {
			continue
		}
		if cd := n.Constraint(); cd == nil || !cd.Enabled {
			continue
		}
		if err := m.addConstraint(n); err != nil {
			return nil, errors.Wrapf(err, "%s %s", n.Kind, n.ID)
		}
	}
	return m, nil
}

func (m *model) addObject(n *graph.Node) error {
	s := m.shapes[n.ID]
	var h solver.Handle
	switch c := s.(type) {
	case geom.Point:
		h = m.ctx.CreatePoint(c.P)
	case geom.Line:
		h = m.ctx.CreateLine(c.Origin, c.Dir)
	case geom.Ray:
		h = m.ctx.CreateLine(c.Origin, c.Dir)
	case geom.Segment:
		dir := c.End.Sub(c.Start)
		if dir.Length() == 0 {
			dir = v2.Vec{X: 1}
		}
		h = m.ctx.CreateLine(c.Start, dir)
	case geom.CircArc:
		h = m.ctx.CreateCircle(c.Center, c.Radius)
	case geom.EllipArc:
		h = m.ctx.CreateEllipse(c.Center, c.MajorAxis, c.MajorRadius, c.MinorRadius)
	case geom.Spline:
		h = m.ctx.CreateSpline(c)
	default:
		return errors.Wrapf(solver.ErrUnsupported, "%s %s has no shape", n.Kind, n.ID)
	}
	m.objs[n.ID] = h
	if n.Kind == graph.KindDatumLine {
		return m.ctx.Fix(h, true)
	}
	return nil
}

func (m *model) add(cs solver.Constraint) error {
	_, err := m.ctx.AddConstraint(cs)
	return err
}

func (m *model) point(id graph.NodeID) v2.Vec {
	if p, ok := m.shapes[id].(geom.Point); ok {
		return p.P
	}
	return v2.Vec{}
}

// tieImplicitPoints binds each implicit point of a curve to the curve.
func (m *model) tieImplicitPoints(n *graph.Node) error {
	gd := n.Geometry()
	if len(gd.Points) == 0 {
		return nil
	}
	curve := m.objs[n.ID]
	refs := make(map[geom.PointType]graph.NodeID)
	for _, pid := range gd.Points {
		refs[m.g.Node(pid).Geometry().Point.Type] = pid
	}
	h := func(t geom.PointType) solver.Handle { return m.objs[refs[t]] }

	for _, pid := range gd.Points {
		pn := m.g.Node(pid)
		ref := pn.Geometry().Point
		p := m.objs[pid]
		var err error
		switch {
		case ref.Type == geom.PointCenter:
			err = m.add(solver.Constraint{Kind: solver.Concentric, Objects: []solver.Handle{p, curve}})
		case n.Kind == graph.KindSpline && ref.Type == geom.PointDefine:
			err = m.add(solver.Constraint{Kind: solver.ControlPoint, Objects: []solver.Handle{p, curve}, Index: ref.Index})
		case n.Kind == graph.KindSpline:
			lo, hi := m.shapes[n.ID].(geom.Spline).Domain()
			t := lo
			if ref.Type == geom.PointEnd {
				t = hi
			}
			v := m.ctx.CreateVariable(t)
			if err = m.ctx.Fix(v, true); err == nil {
				err = m.add(solver.Constraint{Kind: solver.CurvePoint, Objects: []solver.Handle{p, curve}, Params: []solver.Handle{v}})
			}
		case ref.Type == geom.PointMid && n.Kind == graph.KindBoundedLine:
			err = m.add(solver.Constraint{Kind: solver.Midpoint, Objects: []solver.Handle{p, h(geom.PointStart), h(geom.PointEnd)}})
		case ref.Type == geom.PointMid:
			err = m.arcMid(curve, p, h(geom.PointStart), h(geom.PointEnd), m.point(pid), m.point(refs[geom.PointStart]), m.point(refs[geom.PointEnd]))
		default:
			err = m.add(solver.Constraint{Kind: solver.Incidence, Objects: []solver.Handle{p, curve}})
		}
		if err != nil {
			return errors.Wrapf(err, "%s point of %s", ref, n.ID)
		}
	}

	// An arc without a mid point still gets one, so it cannot flip through
	// its chord.
	if n.Kind == graph.KindArc {
		if _, ok := refs[geom.PointMid]; !ok {
			arc := m.shapes[n.ID].(geom.CircArc)
			mid := arc.At(arc.MidAngle())
			s, _ := geom.ImplicitPoint(arc, geom.PointRef{Type: geom.PointStart})
			e, _ := geom.ImplicitPoint(arc, geom.PointRef{Type: geom.PointEnd})
			if err := m.arcMid(curve, m.ctx.CreatePoint(mid), h(geom.PointStart), h(geom.PointEnd), mid, s, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// arcMid keeps mid on the circle, equidistant from both ends and on the
// side of the chord it started on.
func (m *model) arcMid(circle, mid, start, end solver.Handle, pm, ps, pe v2.Vec) error {
	if err := m.add(solver.Constraint{Kind: solver.Incidence, Objects: []solver.Handle{mid, circle}}); err != nil {
		return err
	}
	if err := m.add(solver.Constraint{Kind: solver.EqualDistance, Objects: []solver.Handle{mid, start, mid, end}}); err != nil {
		return err
	}
	side := 1.0
	if pe.Sub(ps).Cross(pm.Sub(ps)) < 0 {
		side = -1
	}
	_, err := m.ctx.AddEquation([]solver.Handle{start, end, mid}, func(v []float64) float64 {
		chord := v2.Vec{X: v[2] - v[0], Y: v[3] - v[1]}
		off := v2.Vec{X: v[4] - v[0], Y: v[5] - v[1]}
		return side * chord.Cross(off)
	}, true)
	return err
}

// addRigidSet ties members, and the implicit points of member curves.
func (m *model) addRigidSet(n *graph.Node) error {
	var hs []solver.Handle
	for _, id := range n.Geometry().Members {
		mn := m.g.Node(id)
		if mn == nil {
			continue
		}
		hs = append(hs, m.objs[id])
		for _, pid := range mn.Geometry().Points {
			hs = append(hs, m.objs[pid])
		}
	}
	h, err := m.ctx.CreateRigidSet(hs)
	if err != nil {
		return err
	}
	m.objs[n.ID] = h
	return nil
}

// value reads the current value of an explicit constraint.
func (m *model) value(dim *graph.Dimension) (float64, error) {
	d, ok := m.host.Dependency(dim.Value)
	if !ok {
		return 0, errors.Wrapf(graph.ErrNotFound, "value dependency %d", dim.Value)
	}
	v, ok := m.host.Variable(d.Variable)
	if !ok {
		return 0, errors.Wrapf(graph.ErrNotFound, "variable %d", d.Variable)
	}
	return v.Value, nil
}

// endpoint returns the implicit point handle of a curve.
func (m *model) endpoint(curve graph.NodeID, t geom.PointType) (solver.Handle, v2.Vec, error) {
	pn := m.g.ImplicitPoint(curve, geom.PointRef{Type: t})
	if pn == nil {
		return 0, v2.Vec{}, errors.Wrapf(graph.ErrBadObjectType, "%s has no %s point", curve, t)
	}
	return m.objs[pn.ID], m.point(pn.ID), nil
}

func (m *model) addConstraint(n *graph.Node) error {
	cd := n.Constraint()
	args := cd.Args
	obj := func(i int) solver.Handle { return m.objs[args[i]] }
	objs := func() []solver.Handle {
		hs := make([]solver.Handle, len(args))
		for i := range args {
			hs[i] = obj(i)
		}
		return hs
	}
	simple := func(k solver.ConstraintKind) error {
		return m.add(solver.Constraint{Kind: k, Objects: objs()})
	}

	switch n.Kind {
	case graph.KindHorizontal, graph.KindVertical, graph.KindParallel:
		return simple(solver.Parallel)
	case graph.KindPerpendicular:
		return simple(solver.Perpendicular)
	case graph.KindNormal:
		return simple(solver.Normal)
	case graph.KindCoincident:
		return simple(solver.Incidence)
	case graph.KindConcentric, graph.KindCenterPoint:
		return simple(solver.Concentric)
	case graph.KindEqualRadius:
		return simple(solver.EqualRadius)
	case graph.KindSymmetric:
		return simple(solver.Symmetric)

	case graph.KindColinear:
		if err := simple(solver.Parallel); err != nil {
			return err
		}
		_, err := m.ctx.AddEquation(objs(), func(v []float64) float64 {
			return geom.Polar(v[2]).Cross(v2.Vec{X: v[3] - v[0], Y: v[4] - v[1]})
		}, false)
		return err

	case graph.KindTangent, graph.KindEqualCurvature:
		ta, tb := m.seedPair(args[0], args[1], cd.Helpers)
		k := solver.Tangent
		if n.Kind == graph.KindEqualCurvature {
			k = solver.EqualCurvature
		}
		va, vb := m.ctx.CreateVariable(ta), m.ctx.CreateVariable(tb)
		return m.add(solver.Constraint{Kind: k, Objects: objs(), Params: []solver.Handle{va, vb}})

	case graph.KindEqualLength:
		var hs []solver.Handle
		for _, c := range args {
			s, _, err := m.endpoint(c, geom.PointStart)
			if err != nil {
				return err
			}
			e, _, err := m.endpoint(c, geom.PointEnd)
			if err != nil {
				return err
			}
			hs = append(hs, s, e)
		}
		return m.add(solver.Constraint{Kind: solver.EqualDistance, Objects: hs})

	case graph.KindFixed:
		if err := m.ctx.Fix(obj(0), true); err != nil {
			return err
		}
		for _, pid := range m.g.Node(args[0]).Geometry().Points {
			if err := m.ctx.Fix(m.objs[pid], true); err != nil {
				return err
			}
		}
		return nil

	case graph.KindPointCurve:
		if m.g.Node(args[1]).Kind == graph.KindSpline {
			sp := m.shapes[args[1]].(geom.Spline)
			t := nearestParam(sp, m.point(args[0]))
			v := m.ctx.CreateVariable(t)
			return m.add(solver.Constraint{Kind: solver.CurvePoint, Objects: objs(), Params: []solver.Handle{v}})
		}
		return simple(solver.Incidence)

	case graph.KindMidPoint:
		curve := args[1]
		s, ps, err := m.endpoint(curve, geom.PointStart)
		if err != nil {
			return err
		}
		e, pe, err := m.endpoint(curve, geom.PointEnd)
		if err != nil {
			return err
		}
		if m.g.Node(curve).Kind == graph.KindBoundedLine {
			return m.add(solver.Constraint{Kind: solver.Midpoint, Objects: []solver.Handle{obj(0), s, e}})
		}
		arc := m.shapes[curve].(geom.CircArc)
		return m.arcMid(obj(1), obj(0), s, e, arc.At(arc.MidAngle()), ps, pe)

	case graph.KindDistance, graph.KindAngle, graph.KindAngle3Point, graph.KindRadiusDiameter:
		return m.addExplicit(n.Kind, cd, objs())
	}
	return errors.Wrapf(solver.ErrUnsupported, "%s", n.Kind)
}

func (m *model) addExplicit(kind graph.NodeKind, cd *graph.ConstraintData, objs []solver.Handle) error {
	dim := cd.Explicit
	v, err := m.value(dim)
	if err != nil {
		return err
	}
	cs := solver.Constraint{Objects: objs, Value: v}
	switch kind {
	case graph.KindDistance:
		switch dim.Direction {
		case graph.NotDirected:
			cs.Kind = solver.Distance
		case graph.FixedDirection:
			cs.Kind = solver.DirectedDistance
			cs.Direction = solver.AlongVector
			cs.Vector = dim.Vector
		case graph.PerpendicularToLine:
			cs.Kind = solver.DirectedDistance
			cs.Direction = solver.AcrossLine
		case graph.ParallelToLine:
			cs.Kind = solver.DirectedDistance
			cs.Direction = solver.AlongLine
		}
	case graph.KindAngle, graph.KindAngle3Point:
		cs.Kind = solver.Angle
		if kind == graph.KindAngle3Point {
			cs.Kind = solver.Angle3Point
		}
		cs.Clockwise = dim.Sector.Clockwise()
		cs.AntiParallel = dim.Sector.AntiParallel()
	case graph.KindRadiusDiameter:
		cs.Kind = map[graph.RadiusKind]solver.ConstraintKind{
			graph.Radius:      solver.Radius,
			graph.Diameter:    solver.Diameter,
			graph.MajorRadius: solver.MajorRadius,
			graph.MinorRadius: solver.MinorRadius,
		}[dim.Radius]
	}
	return m.add(cs)
}

// ----------------------------------------------------------------------------
// Curve parameters
// ----------------------------------------------------------------------------

// sample is a curve point at solver parameter t.
type sample struct {
	t float64
	p v2.Vec
}

const sampleSteps = 64

// samples walks a bounded curve in solver parameters. Lines return nil.
func samples(s geom.Shape) []sample {
	var lo, hi float64
	var at func(float64) v2.Vec
	switch c := s.(type) {
	case geom.CircArc:
		lo, hi = c.StartAngle, c.StartAngle+geom.Sweep(c.StartAngle, c.EndAngle)
		if c.Closed {
			lo, hi = 0, geom.Tau
		}
		at = c.At
	case geom.EllipArc:
		lo, hi = c.StartParam, c.StartParam+geom.Sweep(c.StartParam, c.EndParam)
		if c.Closed {
			lo, hi = 0, geom.Tau
		}
		at = c.At
	case geom.Spline:
		lo, hi = c.Domain()
		at = c.At
	case geom.Point:
		return []sample{{0, c.P}}
	default:
		return nil
	}
	out := make([]sample, sampleSteps+1)
	for i := range out {
		t := lo + (hi-lo)*float64(i)/sampleSteps
		out[i] = sample{t, at(t)}
	}
	return out
}

// lineOf returns the origin and unit direction of a straight shape as the
// solver sees it.
func lineOf(s geom.Shape) (v2.Vec, v2.Vec, bool) {
	switch c := s.(type) {
	case geom.Line:
		return c.Origin, c.Dir.Normalize(), true
	case geom.Ray:
		return c.Origin, c.Dir.Normalize(), true
	case geom.Segment:
		return c.Start, c.Dir(), true
	}
	return v2.Vec{}, v2.Vec{}, false
}

// nearestParam returns the parameter of the curve point closest to q.
func nearestParam(s geom.Shape, q v2.Vec) float64 {
	if o, d, ok := lineOf(s); ok {
		return q.Sub(o).Dot(d)
	}
	best, bestD := 0.0, math.Inf(1)
	for _, sm := range samples(s) {
		if d := sm.p.Sub(q).Length(); d < bestD {
			best, bestD = sm.t, d
		}
	}
	return best
}

// seedPair returns starting parameters for a two-curve constraint: helper
// values where a helper pins the curve, else the closest pair of points.
func (m *model) seedPair(a, b graph.NodeID, helpers []graph.NodeID) (float64, float64) {
	sa, sb := m.shapes[a], m.shapes[b]
	pinned := make(map[graph.NodeID]float64)
	for _, h := range helpers {
		if hn := m.g.Node(h); hn != nil {
			pinned[hn.Helper().Curve] = hn.Helper().Value
		}
	}
	ta, okA := pinned[a]
	tb, okB := pinned[b]
	switch {
	case okA && okB:
		return ta, tb
	case okA:
		return ta, nearestParam(sb, m.curvePoint(sa, ta))
	case okB:
		return nearestParam(sa, m.curvePoint(sb, tb)), tb
	}

	_, _, lineA := lineOf(sa)
	_, _, lineB := lineOf(sb)
	switch {
	case lineA && lineB:
		return 0, 0
	case lineA:
		tb, _ = closestTo(samples(sb), func(p v2.Vec) float64 { return distToLine(sa, p) })
		return nearestParam(sa, m.curvePoint(sb, tb)), tb
	case lineB:
		ta, _ = closestTo(samples(sa), func(p v2.Vec) float64 { return distToLine(sb, p) })
		return ta, nearestParam(sb, m.curvePoint(sa, ta))
	}
	bestD := math.Inf(1)
	for _, x := range samples(sa) {
		for _, y := range samples(sb) {
			if d := x.p.Sub(y.p).Length(); d < bestD {
				ta, tb, bestD = x.t, y.t, d
			}
		}
	}
	return ta, tb
}

func closestTo(ss []sample, dist func(v2.Vec) float64) (float64, float64) {
	best, bestD := 0.0, math.Inf(1)
	for _, s := range ss {
		if d := dist(s.p); d < bestD {
			best, bestD = s.t, d
		}
	}
	return best, bestD
}

func distToLine(s geom.Shape, p v2.Vec) float64 {
	o, d, _ := lineOf(s)
	return math.Abs(d.Cross(p.Sub(o)))
}

// curvePoint evaluates a shape at a solver parameter.
func (m *model) curvePoint(s geom.Shape, t float64) v2.Vec {
	switch c := s.(type) {
	case geom.CircArc:
		return c.At(t)
	case geom.EllipArc:
		return c.At(t)
	case geom.Spline:
		return c.At(t)
	}
	if o, d, ok := lineOf(s); ok {
		return o.Add(d.MulScalar(t))
	}
	return v2.Vec{}
}

// ----------------------------------------------------------------------------
// Results
// ----------------------------------------------------------------------------

func (m *model) params(id graph.NodeID) []float64 {
	p, err := m.ctx.Params(m.objs[id])
	if err != nil {
		return nil
	}
	return p
}

func (m *model) solvedPoint(id graph.NodeID) v2.Vec {
	p := m.params(id)
	if len(p) < 2 {
		return m.point(id)
	}
	return v2.Vec{X: p[0], Y: p[1]}
}

func (m *model) solvedEnd(curve graph.NodeID, t geom.PointType) v2.Vec {
	if pn := m.g.ImplicitPoint(curve, geom.PointRef{Type: t}); pn != nil {
		return m.solvedPoint(pn.ID)
	}
	return v2.Vec{}
}

// oriented keeps a solved direction on the side of the built one.
func oriented(theta float64, was v2.Vec) v2.Vec {
	d := geom.Polar(theta)
	if d.Dot(was) < 0 {
		return d.Neg()
	}
	return d
}

// shape rebuilds the solved shape of a geometry node. It returns nil for
// nodes that carry no shape of their own.
func (m *model) shape(n *graph.Node) geom.Shape {
	p := m.params(n.ID)
	if p == nil {
		return nil
	}
	switch c := m.shapes[n.ID].(type) {
	case geom.Point:
		return geom.Point{P: v2.Vec{X: p[0], Y: p[1]}}
	case geom.Line:
		return geom.Line{Origin: v2.Vec{X: p[0], Y: p[1]}, Dir: oriented(p[2], c.Dir)}
	case geom.Ray:
		return geom.Ray{Origin: m.solvedEnd(n.ID, geom.PointStart), Dir: oriented(p[2], c.Dir)}
	case geom.Segment:
		return geom.Segment{Start: m.solvedEnd(n.ID, geom.PointStart), End: m.solvedEnd(n.ID, geom.PointEnd)}
	case geom.CircArc:
		c.Center = v2.Vec{X: p[0], Y: p[1]}
		c.Radius = p[2]
		if !c.Closed {
			c.StartAngle = angleOf(m.solvedEnd(n.ID, geom.PointStart).Sub(c.Center))
			c.EndAngle = angleOf(m.solvedEnd(n.ID, geom.PointEnd).Sub(c.Center))
		}
		return c
	case geom.EllipArc:
		c.Center = v2.Vec{X: p[0], Y: p[1]}
		c.MajorAxis = geom.Polar(p[2])
		c.MajorRadius, c.MinorRadius = p[3], p[4]
		if !c.Closed {
			c.StartParam = c.ParamOf(m.solvedEnd(n.ID, geom.PointStart))
			c.EndParam = c.ParamOf(m.solvedEnd(n.ID, geom.PointEnd))
		}
		return c
	case geom.Spline:
		out := geom.Spline{
			Degree:  c.Degree,
			Knots:   append([]float64(nil), c.Knots...),
			Weights: append([]float64(nil), c.Weights...),
		}
		for i := 0; i+1 < len(p); i += 2 {
			out.Control = append(out.Control, v2.Vec{X: p[i], Y: p[i+1]})
		}
		return out
	}
	return nil
}
