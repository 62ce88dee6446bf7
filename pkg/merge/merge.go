// Package merge folds one constraint group into another. Constraints are
// captured by the host paths of their geometry, the geometry is re-resolved
// in the destination, value dependencies are re-homed and the constraints
// are replayed through the destination's factory. The package also
// finishes deep clones of groups and deduplicates value variables brought
// in by a copy.
package merge

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/metrics"
	"github.com/chazu/sketchgraph/pkg/network"
)

// planeTolerance decides when two work planes are the same plane.
const planeTolerance = 1e-9

// ErrSameGroup is returned when a group is merged into itself.
var ErrSameGroup = errors.New("merge: source and destination are the same group")

// Host is the network surface the engine works against.
type Host interface {
	graph.Host
	Actions() []network.Action
	Variables() []*network.Variable
	ValueDependents(id network.ObjectID) []*network.Dependency
	RepointDependents(from, to network.ObjectID) error
	EraseVariable(id network.ObjectID)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records merges in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine merges groups of one host network.
type Engine struct {
	host    Host
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New creates a merge engine.
func New(host Host, opts ...Option) *Engine {
	e := &Engine{
		host:   host,
		log:    zap.NewNop(),
		tracer: otel.Tracer("sketchgraph/merge"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Report summarizes one merge.
type Report struct {
	Target     network.ObjectID // destination group, zero when nothing merged
	Geometry   int              // geometry dependencies re-resolved
	Replayed   int              // constraints created in the destination
	Duplicates int              // constraints the destination already had
	Dropped    int              // constraints that could not be replayed
	Removed    int              // geometry removed because its entity was not copied
}

// ----------------------------------------------------------------------------
// Capture
// ----------------------------------------------------------------------------

type captureKind int

const (
	captureSimple captureKind = iota
	captureExplicit
	captureSmoothJoin
)

// captured is a constraint detached from node ids.
type captured struct {
	how  captureKind
	kind graph.NodeKind
	args []network.Path
	dim  graph.Dimension // explicit constraints
	line network.Path    // Distance measured along or across a line
}

func (c captured) String() string {
	return fmt.Sprintf("%s%v", c.kind, c.args)
}

// capture records every standalone constraint and composite of g. Those
// that cannot be addressed by host paths are counted as dropped.
func capture(g *graph.Group, log *zap.Logger) ([]captured, int) {
	var out []captured
	dropped := 0
	paths := func(ids []graph.NodeID) ([]network.Path, bool) {
		ps := make([]network.Path, len(ids))
		for i, id := range ids {
			p, ok := g.PathOf(id)
			if !ok {
				return nil, false
			}
			ps[i] = p
		}
		return ps, true
	}

	for _, n := range g.Constraints(false) {
		var c captured
		ok := false
		switch {
		case n.Kind == graph.KindComposite:
			c, ok = captureComposite(g, n, paths)

		case n.Kind.IsExplicit():
			cd := n.Constraint()
			args := cd.Args
			c = captured{how: captureExplicit, kind: n.Kind, dim: *cd.Explicit}
			if n.Kind == graph.KindDistance && len(args) == 3 {
				var lp []network.Path
				if lp, ok = paths(args[2:]); !ok {
					break
				}
				c.line = lp[0]
				args = args[:2]
			}
			c.args, ok = paths(args)

		case n.Kind == graph.KindHorizontal || n.Kind == graph.KindVertical:
			// The second argument is the group's own datum line.
			c = captured{how: captureSimple, kind: n.Kind}
			c.args, ok = paths(n.Constraint().Args[:1])

		default:
			c = captured{how: captureSimple, kind: n.Kind}
			c.args, ok = paths(n.Constraint().Args)
		}
		if !ok {
			dropped++
			log.Debug("constraint not replayable", zap.Int32("node", int32(n.ID)), zap.Stringer("kind", n.Kind))
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

// captureComposite unpacks a smooth join into the two end points it joins.
// Composites whose parts are not anchored on implicit points are dropped.
func captureComposite(g *graph.Group, n *graph.Node, paths func([]graph.NodeID) ([]network.Path, bool)) (captured, bool) {
	cd := n.Composite()
	if cd.Kind != graph.SmoothJoin {
		return captured{}, false
	}
	for _, pid := range cd.Parts {
		p := g.Node(pid)
		if p == nil || p.Kind != graph.KindCoincident {
			continue
		}
		args := p.Constraint().Args
		for _, a := range args {
			if an := g.Node(a); an == nil || an.Kind != graph.KindImplicitPoint {
				return captured{}, false
			}
		}
		ps, ok := paths(args)
		if !ok {
			return captured{}, false
		}
		return captured{how: captureSmoothJoin, kind: n.Kind, args: ps}, true
	}
	return captured{}, false
}

// ----------------------------------------------------------------------------
// Merge
// ----------------------------------------------------------------------------

// MergeGroups moves the geometry, value dependencies and constraints of src
// into dst, then discards src. Constraints dst already has are not
// duplicated. A geometry of src that cannot resolve in dst, or a missing
// value dependency, fails the merge before either group changes.
func (e *Engine) MergeGroups(ctx context.Context, dst, src *graph.Group) (rep Report, err error) {
	_, span := e.tracer.Start(ctx, "merge.MergeGroups", trace.WithAttributes(
		attribute.Int64("dst", int64(dst.ID())),
		attribute.Int64("src", int64(src.ID()))))
	defer func() {
		outcome := "merged"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.metrics.Merge(outcome, rep.Replayed)
		span.SetAttributes(
			attribute.Int("replayed", rep.Replayed),
			attribute.Int("dropped", rep.Dropped))
		span.End()
	}()

	if dst == src || dst.ID() == src.ID() {
		return rep, ErrSameGroup
	}
	if dst.Erased() || src.Erased() {
		return rep, errors.Wrap(graph.ErrErased, "merge")
	}
	log := e.log.With(zap.Int64("dst", int64(dst.ID())), zap.Int64("src", int64(src.ID())))
	rep.Target = dst.ID()

	cs, dropped := capture(src, log)
	rep.Dropped = dropped

	// Nothing changes until every geometry resolves in dst and every
	// re-homed dependency exists.
	var geoms []network.Path
	for _, n := range src.ConstrainedGeometries() {
		gd := n.Geometry()
		if gd.Dep == 0 {
			continue
		}
		d, ok := e.host.Dependency(gd.Dep)
		if !ok || d.Kind != network.DepGeometry {
			continue
		}
		if err := dst.Resolvable(d.Path); err != nil {
			return rep, errors.Wrapf(err, "resolve %s in destination", d.Path)
		}
		geoms = append(geoms, d.Path)
	}
	var owned []network.ObjectID
	for _, c := range cs {
		if c.how != captureExplicit {
			continue
		}
		for _, id := range []network.ObjectID{c.dim.Value, c.dim.Dim} {
			if id == 0 {
				continue
			}
			if _, ok := e.host.Dependency(id); !ok {
				return rep, errors.Wrapf(graph.ErrNotFound, "dependency %d", id)
			}
			owned = append(owned, id)
		}
	}

	// Geometry is re-resolved in dst instead of moving the dependency.
	for _, p := range geoms {
		if _, err := dst.AddGeometry(p); err != nil {
			return rep, errors.Wrapf(err, "resolve %s in destination", p)
		}
		rep.Geometry++
	}
	// Value and dimension dependencies change owner.
	for _, id := range owned {
		if err := e.host.SetOwner(id, dst.ID()); err != nil {
			return rep, errors.Wrap(graph.ErrNotFound, err.Error())
		}
	}

	for _, c := range cs {
		created, err := e.replay(dst, c)
		switch {
		case err != nil:
			rep.Dropped++
			log.Warn("constraint replay failed", zap.Stringer("constraint", c), zap.Error(err))
		case created:
			rep.Replayed++
		default:
			rep.Duplicates++
		}
	}

	src.Discard()
	log.Info("groups merged",
		zap.Int("geometry", rep.Geometry),
		zap.Int("replayed", rep.Replayed),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("dropped", rep.Dropped))
	return rep, nil
}

// replay recreates one captured constraint in g and reports whether a new
// node was created. Dependencies re-homed for an explicit constraint that is
// not recreated are released.
func (e *Engine) replay(g *graph.Group, c captured) (created bool, err error) {
	if c.how == captureExplicit {
		defer func() {
			if err != nil || !created {
				e.release(c.dim)
			}
		}()
	}
	ids := make([]graph.NodeID, len(c.args))
	for i, p := range c.args {
		n, err := g.AddGeometry(p)
		if err != nil {
			return false, err
		}
		ids[i] = n.ID
	}
	before := g.Seq()

	var n *graph.Node
	switch c.how {
	case captureSmoothJoin:
		n, err = g.AddSmoothJoinAt(ids[0], ids[1])

	case captureSimple:
		n, err = g.AddConstraint(c.kind, ids...)

	case captureExplicit:
		src := graph.ValueSource{ValueDep: c.dim.Value, DimDep: c.dim.Dim}
		switch c.kind {
		case graph.KindDistance:
			opt := graph.DistanceOptions{Direction: c.dim.Direction, Vector: c.dim.Vector}
			if c.line != (network.Path{}) {
				ln, lerr := g.AddGeometry(c.line)
				if lerr != nil {
					return false, lerr
				}
				opt.Line = ln.ID
			}
			n, err = g.AddDistance(ids[0], ids[1], src, opt)
		case graph.KindAngle:
			n, err = g.AddAngle(ids[0], ids[1], c.dim.Sector, src)
		case graph.KindAngle3Point:
			n, err = g.AddAngle3Point(ids[0], ids[1], ids[2], c.dim.Sector, src)
		case graph.KindRadiusDiameter:
			n, err = g.AddRadiusDiameter(ids[0], c.dim.Radius, src)
		default:
			err = errors.Wrapf(graph.ErrNotApplicable, "explicit kind %s", c.kind)
		}
	}
	if err != nil {
		return false, err
	}
	return n.ID > before, nil
}

// release removes dependencies that were re-homed for a constraint that was
// not recreated.
func (e *Engine) release(d graph.Dimension) {
	for _, id := range []network.ObjectID{d.Dim, d.Value} {
		if id != 0 {
			e.host.RemoveDependency(id)
		}
	}
}

// ----------------------------------------------------------------------------
// Deep clone
// ----------------------------------------------------------------------------

// PostProcessAfterDeepClone finishes a group copied by the host's deep clone.
// Dependencies are remapped onto the copied entities; geometry whose entity
// was not copied is removed. When another group of the network lies on the
// same work plane, the copy is merged into it.
func (e *Engine) PostProcessAfterDeepClone(ctx context.Context, g *graph.Group, m network.IDMap) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "merge.PostProcessAfterDeepClone",
		trace.WithAttributes(attribute.Int64("group", int64(g.ID()))))
	defer span.End()

	var rep Report
	if g.Erased() {
		return rep, errors.Wrap(graph.ErrErased, "post-process clone")
	}
	log := e.log.With(zap.Int64("group", int64(g.ID())))

	var missing []network.ObjectID
	for _, id := range g.Dependencies() {
		d, ok := e.host.Dependency(id)
		if !ok {
			continue
		}
		switch d.Kind {
		case network.DepGeometry:
			dest, ok := m.Lookup(d.Path.Entity)
			if !ok {
				missing = append(missing, d.ID)
				continue
			}
			d.Path.Entity = dest
		case network.DepDimension:
			if dest, ok := m.Lookup(d.Dimension); ok {
				d.Dimension = dest
				continue
			}
			e.detachDimension(g, d.ID)
		}
	}

	// Incomplete copy.
	for _, dep := range missing {
		if g.Erased() {
			break
		}
		if g.GeometryByDep(dep) == nil {
			continue
		}
		if err := g.RemoveGeometryByDep(dep); err != nil {
			return rep, err
		}
		rep.Removed++
	}
	if g.Erased() {
		log.Info("clone erased: no copied geometry left")
		return rep, nil
	}

	target := e.planeTwin(g)
	if target == nil {
		log.Debug("clone post-processed", zap.Int("removed", rep.Removed))
		return rep, nil
	}
	mr, err := e.MergeGroups(ctx, target, g)
	mr.Removed = rep.Removed
	return mr, err
}

// CancelDeepClone rolls a cloned group back: the group releases everything
// it owns and leaves the network.
func (e *Engine) CancelDeepClone(g *graph.Group) {
	if g.Erased() {
		return
	}
	g.Discard()
	e.log.Debug("clone cancelled", zap.Int64("group", int64(g.ID())))
}

// detachDimension drops a dimension dependency whose entity stayed behind.
func (e *Engine) detachDimension(g *graph.Group, dep network.ObjectID) {
	for _, c := range g.Constraints(true) {
		if cd := c.Constraint(); cd != nil && cd.Explicit != nil && cd.Explicit.Dim == dep {
			cd.Explicit.Dim = 0
		}
	}
	e.host.RemoveDependency(dep)
}

// planeTwin returns another live group on the same work plane.
func (e *Engine) planeTwin(g *graph.Group) *graph.Group {
	for _, a := range e.host.Actions() {
		o, ok := a.(*graph.Group)
		if !ok || o == g || o.ID() == g.ID() || o.Erased() {
			continue
		}
		if o.Plane.Equals(g.Plane, planeTolerance) {
			return o
		}
	}
	return nil
}
