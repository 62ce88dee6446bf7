package merge

import (
	"context"
	"math"
	"sort"
	"strings"
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/metrics"
	"github.com/chazu/sketchgraph/pkg/network"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func vec(x, y float64) v2.Vec { return v2.Vec{X: x, Y: y} }

func seg(x0, y0, x1, y1 float64) geom.Segment {
	return geom.Segment{Start: vec(x0, y0), End: vec(x1, y1)}
}

var raised = graph.Plane{Origin: v3.Vec{Z: 5}, XAxis: v3.Vec{X: 1}, YAxis: v3.Vec{Y: 1}}

type fixture struct {
	net    *network.Network
	engine *Engine
	corner network.ObjectID // two-edge polyline
	arcs   network.ObjectID // two arcs meeting at (0,5)
	circle network.ObjectID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	net := network.New(network.Policy{EraseDimensionIfDependencyErased: true})
	return &fixture{
		net:    net,
		engine: New(net, WithLogger(zaptest.NewLogger(t))),
		corner: net.AddEntity(seg(0, 0, 10, 0), seg(10, 0, 10, 10)),
		arcs: net.AddEntity(
			geom.CircArc{Center: vec(0, 0), Radius: 5, StartAngle: 0, EndAngle: math.Pi / 2},
			geom.CircArc{Center: vec(0, 10), Radius: 5, StartAngle: -math.Pi / 2, EndAngle: 0}),
		circle: net.AddEntity(geom.Circle(vec(20, 0), 3)),
	}
}

func (f *fixture) add(t *testing.T, g *graph.Group, p network.Path) *graph.Node {
	t.Helper()
	n, err := g.AddGeometry(p)
	require.NoError(t, err)
	return n
}

func edge(e network.ObjectID, i int) network.Path { return network.Path{Entity: e, Edge: i} }

func at(p network.Path, t geom.PointType) network.Path { return p.At(geom.PointRef{Type: t}) }

// populate builds the full constraint set used by the merge tests and
// returns the value dependency of its distance.
func (f *fixture) populate(t *testing.T, g *graph.Group) network.ObjectID {
	t.Helper()
	l1 := f.add(t, g, edge(f.corner, 0))
	l2 := f.add(t, g, edge(f.corner, 1))
	_, err := g.AddConstraint(graph.KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)
	_, err = g.AddConstraint(graph.KindHorizontal, l1.ID)
	require.NoError(t, err)

	s := f.add(t, g, at(edge(f.corner, 0), geom.PointStart))
	e := f.add(t, g, at(edge(f.corner, 1), geom.PointEnd))
	dim := f.net.AddDimension(math.Hypot(10, 10))
	d, err := g.AddDistance(s.ID, e.ID, graph.ValueSource{Constant: math.Hypot(10, 10), Dimension: dim}, graph.DistanceOptions{})
	require.NoError(t, err)

	c := f.add(t, g, edge(f.circle, 0))
	_, err = g.AddRadiusDiameter(c.ID, graph.Diameter, graph.Constant(6))
	require.NoError(t, err)

	a1 := f.add(t, g, edge(f.arcs, 0))
	a2 := f.add(t, g, edge(f.arcs, 1))
	_, err = g.AddSmoothJoin(a1.ID, a2.ID)
	require.NoError(t, err)
	return d.Constraint().Explicit.Value
}

// signatures keys every standalone constraint of g by its kind and the host
// paths of its geometry.
func signatures(t *testing.T, g *graph.Group) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, c := range g.Constraints(false) {
		var ids []graph.NodeID
		switch {
		case c.Kind == graph.KindComposite:
			ids = c.Composite().Curves[:]
		case c.Kind == graph.KindHorizontal || c.Kind == graph.KindVertical:
			ids = c.Constraint().Args[:1]
		default:
			ids = c.Constraint().Args
		}
		parts := make([]string, len(ids))
		for i, id := range ids {
			p, ok := g.PathOf(id)
			require.True(t, ok, "%s argument %s has no path", c.Kind, id)
			parts[i] = p.String()
		}
		sort.Strings(parts)
		out[c.Kind.String()+"("+strings.Join(parts, ",")+")"]++
	}
	return out
}

func requireValid(t *testing.T, g *graph.Group) {
	t.Helper()
	errs := graph.Validate(g)
	require.False(t, graph.HasErrors(errs), "validation: %v", errs)
}

// ---------------------------------------------------------------------------
// MergeGroups
// ---------------------------------------------------------------------------

func TestMergeEmptySourceLeavesDestinationUnchanged(t *testing.T) {
	f := newFixture(t)
	dst := graph.NewGroup(f.net, graph.WorldXY)
	f.populate(t, dst)
	src := graph.NewGroup(f.net, graph.WorldXY)
	before := dst.Snapshot()

	rep, err := f.engine.MergeGroups(context.Background(), dst, src)
	require.NoError(t, err)
	assert.Equal(t, Report{Target: dst.ID()}, rep)
	assert.Equal(t, before, dst.Snapshot())
	assert.True(t, src.Erased())
	assert.False(t, f.net.HasAction(src.ID()))
}

func TestMergeReproducesConstraintsOnce(t *testing.T) {
	f := newFixture(t)
	dst := graph.NewGroup(f.net, graph.WorldXY)
	l1 := f.add(t, dst, edge(f.corner, 0))
	_, err := dst.AddConstraint(graph.KindHorizontal, l1.ID)
	require.NoError(t, err)

	src := graph.NewGroup(f.net, graph.WorldXY)
	value := f.populate(t, src)
	want := signatures(t, src)
	d, ok := f.net.Dependency(value)
	require.True(t, ok)
	d.DependentOn = 4242

	rep, err := f.engine.MergeGroups(context.Background(), dst, src)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Replayed)
	assert.Equal(t, 1, rep.Duplicates, "horizontal was already present")
	assert.Zero(t, rep.Dropped)

	assert.Equal(t, want, signatures(t, dst))
	requireValid(t, dst)
	assert.True(t, src.Erased())
	assert.Empty(t, f.net.Dependencies(src.ID()))

	// Value dependencies change owner and lose their back-link.
	assert.Equal(t, dst.ID(), d.Owner)
	assert.Zero(t, d.DependentOn)

	// The polyline coincidence is synthesized again in dst.
	e0 := dst.ImplicitPoint(l1.ID, geom.PointRef{Type: geom.PointEnd})
	require.NotNil(t, e0)
	implied := 0
	for _, cid := range dst.ConnectedConstraints(e0.ID) {
		if c := dst.Node(cid); c.Kind == graph.KindCoincident && c.Constraint().Implied {
			implied++
		}
	}
	assert.Equal(t, 1, implied)
}

func TestMergeTwiceAddsNothing(t *testing.T) {
	f := newFixture(t)
	dst := graph.NewGroup(f.net, graph.WorldXY)
	f.populate(t, dst)
	want := signatures(t, dst)
	count := dst.NodeCount()

	src := graph.NewGroup(f.net, graph.WorldXY)
	value := f.populate(t, src)

	rep, err := f.engine.MergeGroups(context.Background(), dst, src)
	require.NoError(t, err)
	assert.Zero(t, rep.Replayed)
	assert.Equal(t, 5, rep.Duplicates)
	assert.Equal(t, want, signatures(t, dst))
	assert.Equal(t, count, dst.NodeCount())

	// The duplicate dimension's dependency is released.
	_, ok := f.net.Dependency(value)
	assert.False(t, ok)
	requireValid(t, dst)
}

func TestMergeDropsConstraintsWithoutPaths(t *testing.T) {
	f := newFixture(t)
	dst := graph.NewGroup(f.net, raised)
	src := graph.NewGroup(f.net, raised)
	l1 := f.add(t, src, edge(f.corner, 0))
	p := f.add(t, src, at(edge(f.corner, 1), geom.PointEnd))
	f.add(t, src, edge(f.circle, 0))
	s := src.ImplicitPoint(l1.ID, geom.PointRef{Type: geom.PointStart})
	cl, err := src.AddConstructionLine(s.ID, p.ID)
	require.NoError(t, err)
	_, err = src.AddConstraint(graph.KindParallel, cl.ID, l1.ID)
	require.NoError(t, err)

	rep, err := f.engine.MergeGroups(context.Background(), dst, src)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Dropped)
	assert.Equal(t, 3, rep.Geometry)
	assert.Empty(t, signatures(t, dst))
	requireValid(t, dst)
}

func TestMergeErrors(t *testing.T) {
	f := newFixture(t)
	g := graph.NewGroup(f.net, graph.WorldXY)
	_, err := f.engine.MergeGroups(context.Background(), g, g)
	assert.ErrorIs(t, err, ErrSameGroup)

	other := graph.NewGroup(f.net, graph.WorldXY)
	other.Discard()
	_, err = f.engine.MergeGroups(context.Background(), g, other)
	assert.ErrorIs(t, err, graph.ErrErased)
}

func TestMergeFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	dst := graph.NewGroup(f.net, graph.WorldXY)
	src := graph.NewGroup(f.net, graph.WorldXY)
	val := f.populate(t, src)
	before := signatures(t, src)
	// The circle resolves after the corner edges and no longer exists.
	f.net.EraseEntity(f.circle)

	_, err := f.engine.MergeGroups(context.Background(), dst, src)
	require.ErrorIs(t, err, graph.ErrBadGeometryType)

	assert.Empty(t, dst.ConstrainedGeometries())
	assert.Empty(t, dst.Constraints(true))
	d, ok := f.net.Dependency(val)
	require.True(t, ok)
	assert.Equal(t, src.ID(), d.Owner)
	assert.False(t, src.Erased())
	assert.Equal(t, before, signatures(t, src))
}

func TestMergeRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	f := newFixture(t)
	e := New(f.net, WithMetrics(m))
	dst := graph.NewGroup(f.net, graph.WorldXY)
	src := graph.NewGroup(f.net, graph.WorldXY)
	f.populate(t, src)
	_, err = e.MergeGroups(context.Background(), dst, src)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "sketchgraph_merge_merges_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// ---------------------------------------------------------------------------
// Deep clone
// ---------------------------------------------------------------------------

func TestPostProcessRemapsClone(t *testing.T) {
	f := newFixture(t)
	g := graph.NewGroup(f.net, graph.WorldXY)
	f.populate(t, g)

	m := f.net.CloneEntities(f.corner, f.arcs, f.circle)
	c := g.Clone()
	c.Plane = raised

	rep, err := f.engine.PostProcessAfterDeepClone(context.Background(), c, m)
	require.NoError(t, err)
	assert.Zero(t, rep.Target, "no group on the raised plane")
	assert.Zero(t, rep.Removed)

	for _, d := range f.net.Dependencies(c.ID()) {
		if d.Kind != network.DepGeometry {
			continue
		}
		switch d.Path.Entity {
		case m[f.corner].Dest, m[f.arcs].Dest, m[f.circle].Dest:
		default:
			t.Errorf("dependency %d still points at %d", d.ID, d.Path.Entity)
		}
	}
	assert.Len(t, signatures(t, c), len(signatures(t, g)))
	requireValid(t, c)
}

func TestPostProcessMergesIntoPlaneTwin(t *testing.T) {
	f := newFixture(t)
	g := graph.NewGroup(f.net, graph.WorldXY)
	f.populate(t, g)
	orig := signatures(t, g)

	m := f.net.CloneEntities(f.corner, f.arcs, f.circle)
	c := g.Clone()

	rep, err := f.engine.PostProcessAfterDeepClone(context.Background(), c, m)
	require.NoError(t, err)
	assert.Equal(t, g.ID(), rep.Target)
	assert.Equal(t, 5, rep.Replayed)
	assert.True(t, c.Erased())

	got := signatures(t, g)
	assert.Len(t, got, 2*len(orig), "original and copied constraints")
	for k := range orig {
		assert.Equal(t, 1, got[k], k)
	}
	requireValid(t, g)
}

func TestPostProcessRemovesUncopiedGeometry(t *testing.T) {
	f := newFixture(t)
	g := graph.NewGroup(f.net, graph.WorldXY)
	l1 := f.add(t, g, edge(f.corner, 0))
	l2 := f.add(t, g, edge(f.corner, 1))
	c1 := f.add(t, g, edge(f.circle, 0))
	_, err := g.AddConstraint(graph.KindTangent, l1.ID, c1.ID)
	require.NoError(t, err)
	_, err = g.AddConstraint(graph.KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)

	m := f.net.CloneEntities(f.corner)
	cl := g.Clone()
	cl.Plane = raised

	rep, err := f.engine.PostProcessAfterDeepClone(context.Background(), cl, m)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Removed)
	require.False(t, cl.Erased())
	assert.Empty(t, cl.ConstraintsOfKind(graph.KindTangent))
	assert.Len(t, cl.ConstraintsOfKind(graph.KindPerpendicular), 1)
	requireValid(t, cl)
}

func TestCancelDeepClone(t *testing.T) {
	f := newFixture(t)
	g := graph.NewGroup(f.net, graph.WorldXY)
	f.populate(t, g)
	c := g.Clone()
	require.NotEmpty(t, f.net.Dependencies(c.ID()))

	f.engine.CancelDeepClone(c)
	assert.True(t, c.Erased())
	assert.Empty(t, f.net.Dependencies(c.ID()))
	assert.False(t, f.net.HasAction(c.ID()))
	assert.NotEmpty(t, f.net.Dependencies(g.ID()), "the original is untouched")
}
