// Package eval classifies user edits to a constraint group and drives a
// solver to re-satisfy the group's constraints. Each evaluation tries a
// ladder of strategies, from a cheap rigid-transform replay to full
// rebuilds, and writes the first successful result back into the group and
// the host. A failed evaluation leaves the group untouched.
package eval

import (
	"context"
	"fmt"
	"sort"
	"time"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/metrics"
	"github.com/chazu/sketchgraph/pkg/network"
	"github.com/chazu/sketchgraph/pkg/solver"
)

// DefaultTolerance is the relative tolerance of edit classification and
// result comparison.
const DefaultTolerance = 1e-9

// Host is the host surface the evaluator writes results to.
type Host interface {
	graph.Host
	WriteShape(p network.Path, s geom.Shape) error
	ClearModified(owner network.ObjectID)
	MarkDimensionStale(id network.ObjectID)
}

// Strategy names one rung of the evaluation ladder.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyFastTransform
	StrategyVertexDrag
	StrategyRebuildOriginal
	StrategyRebuildCurrent
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyFastTransform:
		return "fast-transform"
	case StrategyVertexDrag:
		return "vertex-drag"
	case StrategyRebuildOriginal:
		return "rebuild-original"
	case StrategyRebuildCurrent:
		return "rebuild-current"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Status is the outcome of an evaluation.
type Status int

const (
	StatusResolved Status = iota + 1
	StatusUnresolved
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusUnresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result reports one evaluation.
type Result struct {
	Status    Status
	Strategy  Strategy // the strategy that succeeded
	Transform Transform
	Satisfied int
	Total     int
	Changed   []graph.NodeID // geometry whose shape changed
	Err       error          // last failure when unresolved
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// WithMetrics records evaluations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithTolerance sets the classification tolerance.
func WithTolerance(tol float64) Option {
	return func(e *Evaluator) { e.tol = tol }
}

// Evaluator evaluates groups of one host network.
type Evaluator struct {
	host    Host
	solver  solver.Solver
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	tol     float64
}

// New creates an evaluator.
func New(host Host, s solver.Solver, opts ...Option) *Evaluator {
	e := &Evaluator{
		host:   host,
		solver: s,
		log:    zap.NewNop(),
		tracer: otel.Tracer("sketchgraph/eval"),
		tol:    DefaultTolerance,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// edit is one modified geometry.
type edit struct {
	node *graph.Node
	orig geom.Shape
	cur  geom.Shape
}

// collect gathers the geometry whose host shape was edited since the last
// evaluation.
func (e *Evaluator) collect(g *graph.Group) ([]edit, error) {
	var out []edit
	for _, n := range g.ConstrainedGeometries() {
		gd := n.Geometry()
		if gd.Dep == 0 {
			continue
		}
		d, ok := e.host.Dependency(gd.Dep)
		if !ok || !d.Modified {
			continue
		}
		cur, err := e.host.Shape(d.Path)
		if err != nil {
			return nil, errors.Wrapf(graph.ErrNotFound, "%s: %v", d.Path, err)
		}
		out = append(out, edit{node: n, orig: gd.Shape, cur: cur})
	}
	return out, nil
}

// plan picks the strategy ladder for a set of edits.
func plan(edits []edit, t Transform) []Strategy {
	curves, points := 0, 0
	for _, ed := range edits {
		if ed.node.Kind == graph.KindPoint {
			points++
		} else {
			curves++
		}
	}
	switch {
	case len(edits) == 0:
		return []Strategy{StrategyRebuildCurrent}
	case t.Kind != Composite && curves > 0:
		return []Strategy{StrategyFastTransform, StrategyRebuildOriginal, StrategyRebuildCurrent}
	case t.Kind == Composite && curves == 1 && points == 0:
		return []Strategy{StrategyVertexDrag, StrategyRebuildOriginal, StrategyRebuildCurrent}
	}
	return []Strategy{StrategyRebuildOriginal, StrategyRebuildCurrent}
}

// Evaluate re-satisfies a group after edits. Failures are reported in the
// result; the group is only changed when a strategy succeeds.
func (e *Evaluator) Evaluate(ctx context.Context, g *graph.Group) Result {
	ctx, span := e.tracer.Start(ctx, "eval.Evaluate",
		trace.WithAttributes(attribute.Int64("group", int64(g.ID()))))
	defer span.End()

	res := e.evaluate(ctx, g)
	e.metrics.Evaluation(res.Strategy.String(), res.Status.String())
	span.SetAttributes(
		attribute.String("strategy", res.Strategy.String()),
		attribute.String("transform", res.Transform.String()),
		attribute.Int("satisfied", res.Satisfied),
		attribute.Int("total", res.Total))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res
}

func (e *Evaluator) evaluate(ctx context.Context, g *graph.Group) Result {
	res := Result{Status: StatusUnresolved}
	if g.Erased() {
		res.Err = graph.ErrErased
		return res
	}
	edits, err := e.collect(g)
	if err != nil {
		res.Err = err
		return res
	}
	es := make([]Edit, len(edits))
	for i, ed := range edits {
		es[i] = Edit{Orig: ed.orig, Cur: ed.cur}
	}
	res.Transform = Reduce(es, e.tol)
	log := e.log.With(zap.Int64("group", int64(g.ID())))
	log.Debug("edits classified",
		zap.Int("edits", len(edits)),
		zap.Stringer("transform", res.Transform))

	for _, st := range plan(edits, res.Transform) {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		run := e.strategy(st, g, edits, res.Transform)
		if run == nil {
			continue
		}
		shapes := originalShapes(g)
		if st == StrategyRebuildCurrent {
			shapes = currentShapes(g, edits)
		}
		solved, sat, total, err := e.attempt(ctx, log, st, g, shapes, run)
		res.Satisfied, res.Total = sat, total
		if err != nil {
			res.Err = err
			continue
		}
		res.Status = StatusResolved
		res.Strategy = st
		res.Err = nil
		res.Changed = e.apply(g, solved, edits)
		return res
	}
	log.Warn("evaluation unresolved", zap.Error(res.Err))
	return res
}

// attempt runs one strategy in a fresh solver context and returns the
// solved shapes. The context is closed before returning.
func (e *Evaluator) attempt(ctx context.Context, log *zap.Logger, st Strategy, g *graph.Group,
	shapes map[graph.NodeID]geom.Shape, run func(*model) error) (solved map[graph.NodeID]geom.Shape, sat, total int, err error) {

	id := uuid.New()
	log = log.With(zap.String("attempt", id.String()), zap.Stringer("strategy", st))
	_, span := e.tracer.Start(ctx, "eval.attempt",
		trace.WithAttributes(attribute.String("strategy", st.String()), attribute.String("attempt", id.String())))
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.metrics.Attempt(st.String(), outcome, time.Since(start))
		span.End()
		log.Debug("solver attempt",
			zap.String("outcome", outcome),
			zap.Int("satisfied", sat),
			zap.Int("total", total),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}()

	sctx, err := e.solver.NewContext()
	if err != nil {
		return nil, 0, 0, err
	}
	defer func() {
		if cerr := sctx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	m, err := build(sctx, g, e.host, shapes)
	if err != nil {
		return nil, 0, 0, err
	}
	if err = run(m); err != nil {
		sat, total = sctx.Status()
		return nil, sat, total, err
	}
	sat, total = sctx.Status()
	if sat < total {
		return nil, sat, total, errors.Wrapf(solver.ErrUnsatisfied, "%d of %d satisfied", sat, total)
	}
	solved = make(map[graph.NodeID]geom.Shape)
	for _, n := range g.ConstrainedGeometries() {
		switch n.Kind {
		case graph.KindImplicitPoint, graph.KindDatumLine, graph.KindRigidSet:
			continue
		}
		if s := m.shape(n); s != nil {
			solved[n.ID] = s
		}
	}
	return solved, sat, total, nil
}

// ----------------------------------------------------------------------------
// Shapes
// ----------------------------------------------------------------------------

// originalShapes maps every geometry node to its last evaluated shape.
func originalShapes(g *graph.Group) map[graph.NodeID]geom.Shape {
	out := make(map[graph.NodeID]geom.Shape)
	for _, n := range g.ConstrainedGeometries() {
		if s := n.Geometry().Shape; s != nil {
			out[n.ID] = s
		}
	}
	return out
}

// currentShapes is originalShapes with the edits applied, implicit points
// included.
func currentShapes(g *graph.Group, edits []edit) map[graph.NodeID]geom.Shape {
	out := originalShapes(g)
	for _, ed := range edits {
		out[ed.node.ID] = ed.cur
		for _, pid := range ed.node.Geometry().Points {
			if p, ok := geom.ImplicitPoint(ed.cur, g.Node(pid).Geometry().Point); ok {
				out[pid] = geom.Point{P: p}
			}
		}
	}
	return out
}

// held lists the edited nodes and their implicit points.
func held(g *graph.Group, edits []edit) []graph.NodeID {
	var ids []graph.NodeID
	for _, ed := range edits {
		ids = append(ids, ed.node.ID)
		ids = append(ids, ed.node.Geometry().Points...)
	}
	return ids
}

func sameShape(a, b geom.Shape, tol float64) bool {
	if a == nil || b == nil || a.Kind() != b.Kind() {
		return false
	}
	sa, sb := a.Samples(), b.Samples()
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if !near(sa[i], sb[i], tol) {
			return false
		}
	}
	return true
}

// ----------------------------------------------------------------------------
// Strategies
// ----------------------------------------------------------------------------

// strategy returns the solver program of one rung, or nil when it does not
// apply.
func (e *Evaluator) strategy(st Strategy, g *graph.Group, edits []edit, t Transform) func(*model) error {
	handles := func(m *model) []solver.Handle {
		ids := held(g, edits)
		hs := make([]solver.Handle, 0, len(ids))
		for _, id := range ids {
			if h, ok := m.objs[id]; ok {
				hs = append(hs, h)
			}
		}
		return hs
	}
	fixHeld := func(m *model) error {
		for _, h := range handles(m) {
			if err := m.ctx.Fix(h, true); err != nil {
				return err
			}
		}
		return nil
	}

	switch st {
	case StrategyFastTransform:
		return func(m *model) error {
			if t.Kind == Rotate {
				return m.ctx.Rotate(handles(m), t.Center, t.Angle)
			}
			return m.ctx.Move(handles(m), t.Delta)
		}

	case StrategyVertexDrag:
		if len(edits) != 1 {
			return nil
		}
		return e.vertexDrag(g, edits[0])

	case StrategyRebuildOriginal:
		return func(m *model) error {
			cur := currentShapes(g, edits)
			for _, id := range held(g, edits) {
				h, ok := m.objs[id]
				if !ok {
					continue
				}
				if err := m.ctx.SetParams(h, encode(cur[id])); err != nil {
					return err
				}
			}
			if err := fixHeld(m); err != nil {
				return err
			}
			return m.ctx.Apply()
		}

	case StrategyRebuildCurrent:
		return func(m *model) error {
			if err := fixHeld(m); err != nil {
				return err
			}
			return m.ctx.Apply()
		}
	}
	return nil
}

// vertexDrag handles a single curve whose edit moved one end point with the
// other fixed, or changed a circle's radius about a fixed center.
func (e *Evaluator) vertexDrag(g *graph.Group, ed edit) func(*model) error {
	n := ed.node
	if ed.orig == nil || ed.cur == nil || ed.orig.Kind() != ed.cur.Kind() {
		return nil
	}
	bounded := n.Kind == graph.KindArc || n.Kind == graph.KindBoundedEllipse || n.Kind == graph.KindSpline ||
		(n.Kind == graph.KindBoundedLine && !n.Geometry().Ray)
	if bounded {
		ref := func(t geom.PointType) geom.PointRef { return geom.PointRef{Type: t} }
		s0, _ := geom.ImplicitPoint(ed.orig, ref(geom.PointStart))
		s1, _ := geom.ImplicitPoint(ed.cur, ref(geom.PointStart))
		e0, _ := geom.ImplicitPoint(ed.orig, ref(geom.PointEnd))
		e1, _ := geom.ImplicitPoint(ed.cur, ref(geom.PointEnd))
		startMoved := !near(s0, s1, e.tol)
		endMoved := !near(e0, e1, e.tol)
		if startMoved != endMoved {
			moved, anchor, to := geom.PointStart, geom.PointEnd, s1
			if endMoved {
				moved, anchor, to = geom.PointEnd, geom.PointStart, e1
			}
			return func(m *model) error {
				ah, _, err := m.endpoint(n.ID, anchor)
				if err != nil {
					return err
				}
				if err := m.ctx.Fix(ah, true); err != nil {
					return err
				}
				mh, from, err := m.endpoint(n.ID, moved)
				if err != nil {
					return err
				}
				return m.ctx.Move([]solver.Handle{mh}, to.Sub(from))
			}
		}
	}

	o, ok1 := ed.orig.(geom.CircArc)
	c, ok2 := ed.cur.(geom.CircArc)
	if ok1 && ok2 && near(o.Center, c.Center, e.tol) && o.Radius != c.Radius {
		return func(m *model) error {
			h := m.objs[n.ID]
			p, err := m.ctx.Params(h)
			if err != nil {
				return err
			}
			p[2] = c.Radius
			if err := m.ctx.SetParams(h, p); err != nil {
				return err
			}
			return m.ctx.Move([]solver.Handle{h}, v2.Vec{})
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Write-back
// ----------------------------------------------------------------------------

// apply writes solved shapes into the group and the host, then flags the
// group's dimension entities for recompute.
func (e *Evaluator) apply(g *graph.Group, solved map[graph.NodeID]geom.Shape, edits []edit) []graph.NodeID {
	edited := make(map[graph.NodeID]bool, len(edits))
	for _, ed := range edits {
		edited[ed.node.ID] = true
	}
	ids := make([]graph.NodeID, 0, len(solved))
	for id := range solved {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var changed []graph.NodeID
	for _, id := range ids {
		n := g.Node(id)
		s := solved[id]
		gd := n.Geometry()
		if !edited[id] && sameShape(gd.Shape, s, e.tol) {
			continue
		}
		g.SetShape(id, s)
		changed = append(changed, id)
		if gd.Dep == 0 {
			continue
		}
		if d, ok := e.host.Dependency(gd.Dep); ok {
			if err := e.host.WriteShape(d.Path, s); err != nil {
				e.log.Warn("write back failed", zap.Stringer("path", d.Path), zap.Error(err))
				continue
			}
			d.PostEvaluate = true
		}
	}
	for _, n := range g.Constraints(true) {
		if cd := n.Constraint(); cd != nil && cd.Enabled {
			cd.Active = true
		}
		if cd := n.Composite(); cd != nil && cd.Enabled {
			cd.Active = true
		}
	}
	e.host.ClearModified(g.ID())

	// Geometry is final before dependents are flagged.
	if len(changed) > 0 {
		for _, n := range g.Constraints(false) {
			cd := n.Constraint()
			if cd == nil || cd.Explicit == nil || cd.Explicit.Dim == 0 {
				continue
			}
			if d, ok := e.host.Dependency(cd.Explicit.Dim); ok {
				e.host.MarkDimensionStale(d.Dimension)
			}
		}
	}
	return changed
}
