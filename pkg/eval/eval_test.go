package eval

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/metrics"
	"github.com/chazu/sketchgraph/pkg/network"
	"github.com/chazu/sketchgraph/pkg/solver"
	"github.com/chazu/sketchgraph/pkg/solver/lsq"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const solveTol = 1e-6

func seg(x0, y0, x1, y1 float64) geom.Segment {
	return geom.Segment{Start: vec(x0, y0), End: vec(x1, y1)}
}

func newFixture(t *testing.T) (*network.Network, *graph.Group, *Evaluator) {
	t.Helper()
	net := network.New(network.Policy{EraseDimensionIfDependencyErased: true})
	g := graph.NewGroup(net, graph.WorldXY)
	e := New(net, lsq.New(lsq.Options{}), WithLogger(zaptest.NewLogger(t)))
	return net, g, e
}

// polyline adds a multi-edge entity and returns one line node per edge.
func polyline(t *testing.T, net *network.Network, g *graph.Group, edges ...geom.Shape) (network.ObjectID, []*graph.Node) {
	t.Helper()
	id := net.AddEntity(edges...)
	nodes := make([]*graph.Node, len(edges))
	for i := range edges {
		n, err := g.AddGeometry(network.Path{Entity: id, Edge: i})
		require.NoError(t, err)
		nodes[i] = n
	}
	return id, nodes
}

func segmentOf(t *testing.T, g *graph.Group, n *graph.Node) geom.Segment {
	t.Helper()
	s, ok := g.Node(n.ID).Geometry().Shape.(geom.Segment)
	require.True(t, ok, "shape of %s is %T", n.ID, g.Node(n.ID).Geometry().Shape)
	return s
}

func assertVec(t *testing.T, x, y float64, got any, p [2]float64) {
	t.Helper()
	assert.InDelta(t, x, p[0], solveTol, "x of %v", got)
	assert.InDelta(t, y, p[1], solveTol, "y of %v", got)
}

func xy(s geom.Segment, end bool) [2]float64 {
	if end {
		return [2]float64{s.End.X, s.End.Y}
	}
	return [2]float64{s.Start.X, s.Start.Y}
}

func distance(a, b [2]float64) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

// ---------------------------------------------------------------------------
// Strategy selection
// ---------------------------------------------------------------------------

func TestPlan(t *testing.T) {
	curve := &graph.Node{Kind: graph.KindBoundedLine}
	point := &graph.Node{Kind: graph.KindPoint}
	move := Transform{Kind: Move}

	assert.Equal(t, []Strategy{StrategyRebuildCurrent}, plan(nil, Transform{}))
	assert.Equal(t,
		[]Strategy{StrategyFastTransform, StrategyRebuildOriginal, StrategyRebuildCurrent},
		plan([]edit{{node: curve}, {node: point}}, move))
	assert.Equal(t,
		[]Strategy{StrategyRebuildOriginal, StrategyRebuildCurrent},
		plan([]edit{{node: point}}, move), "points alone have no fast path")
	assert.Equal(t,
		[]Strategy{StrategyVertexDrag, StrategyRebuildOriginal, StrategyRebuildCurrent},
		plan([]edit{{node: curve}}, Transform{}))
	assert.Equal(t,
		[]Strategy{StrategyRebuildOriginal, StrategyRebuildCurrent},
		plan([]edit{{node: curve}, {node: curve}}, Transform{}))
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

func TestMoveKeepsCornerConstraints(t *testing.T) {
	net, g, e := newFixture(t)
	ent, ls := polyline(t, net, g, seg(0, 0, 6, 0), seg(6, 0, 6, 8))
	l1, l2 := ls[0], ls[1]
	_, err := g.AddConstraint(graph.KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)
	s1 := g.ImplicitPoint(l1.ID, geom.PointRef{Type: geom.PointStart})
	e2 := g.ImplicitPoint(l2.ID, geom.PointRef{Type: geom.PointEnd})
	_, err = g.AddDistance(s1.ID, e2.ID, graph.Constant(10), graph.DistanceOptions{})
	require.NoError(t, err)

	require.NoError(t, net.SetShape(ent, 0, seg(3, 0, 9, 0)))
	res := e.Evaluate(context.Background(), g)
	require.Equal(t, StatusResolved, res.Status, "err: %v", res.Err)
	assert.Equal(t, StrategyFastTransform, res.Strategy)
	assert.Equal(t, Move, res.Transform.Kind)
	assert.InDelta(t, 3, res.Transform.Delta.X, 1e-12)
	assert.Equal(t, res.Satisfied, res.Total)

	a, b := segmentOf(t, g, l1), segmentOf(t, g, l2)
	assertVec(t, 3, 0, a, xy(a, false))
	assertVec(t, 9, 0, a, xy(a, true))
	assertVec(t, 9, 0, b, xy(b, false))
	assertVec(t, 9, 8, b, xy(b, true))
	assert.InDelta(t, 10, distance(xy(a, false), xy(b, true)), solveTol)
	assert.InDelta(t, 0, a.Dir().Dot(b.Dir()), solveTol)

	// Results reach the host and the edits are consumed.
	hs, err := net.Shape(network.Path{Entity: ent, Edge: 1})
	require.NoError(t, err)
	assert.Equal(t, b, hs)
	for _, d := range net.Dependencies(g.ID()) {
		assert.False(t, d.Modified, "dependency %d still modified", d.ID)
	}
	for _, c := range g.Constraints(false) {
		assert.True(t, c.Constraint().Active, "%s inactive", c.Kind)
	}
}

func TestFastPathMatchesRebuild(t *testing.T) {
	build := func(t *testing.T) (*network.Network, *graph.Group, *Evaluator, network.ObjectID, []*graph.Node) {
		net, g, e := newFixture(t)
		ent, ls := polyline(t, net, g, seg(0, 0, 4, 0), seg(4, 0, 4, 3), seg(4, 3, 0, 3))
		_, err := g.AddConstraint(graph.KindPerpendicular, ls[0].ID, ls[1].ID)
		require.NoError(t, err)
		_, err = g.AddConstraint(graph.KindParallel, ls[0].ID, ls[2].ID)
		require.NoError(t, err)
		_, err = g.AddConstraint(graph.KindEqualLength, ls[0].ID, ls[2].ID)
		require.NoError(t, err)
		require.NoError(t, net.SetShape(ent, 0, seg(1, 2, 5, 2)))
		return net, g, e, ent, ls
	}

	_, g1, e1, _, ls1 := build(t)
	res := e1.Evaluate(context.Background(), g1)
	require.Equal(t, StatusResolved, res.Status, "err: %v", res.Err)
	require.Equal(t, StrategyFastTransform, res.Strategy)

	_, g2, e2, _, ls2 := build(t)
	edits, err := e2.collect(g2)
	require.NoError(t, err)
	log := e2.log
	solved, sat, total, err := e2.attempt(context.Background(), log, StrategyRebuildCurrent, g2,
		currentShapes(g2, edits), e2.strategy(StrategyRebuildCurrent, g2, edits, Transform{}))
	require.NoError(t, err)
	assert.Equal(t, sat, total)

	fast := segmentOf(t, g1, ls1[0])
	full, ok := solved[ls2[0].ID].(geom.Segment)
	require.True(t, ok)
	assertVec(t, full.Start.X, full.Start.Y, fast, xy(fast, false))
	assertVec(t, full.End.X, full.End.Y, fast, xy(fast, true))

	// The rest of the fast result satisfies the constraints too.
	a, b, c := fast, segmentOf(t, g1, ls1[1]), segmentOf(t, g1, ls1[2])
	assert.InDelta(t, 0, a.Dir().Dot(b.Dir()), solveTol)
	assert.InDelta(t, 0, a.Dir().Cross(c.Dir()), solveTol)
	assert.InDelta(t, a.Length(), c.Length(), solveTol)
	assertVec(t, a.End.X, a.End.Y, b, xy(b, false))
}

func TestRotateKeepsPerpendicular(t *testing.T) {
	net, g, e := newFixture(t)
	ent, ls := polyline(t, net, g, seg(0, 0, 10, 0), seg(10, 0, 10, 5))
	_, err := g.AddConstraint(graph.KindPerpendicular, ls[0].ID, ls[1].ID)
	require.NoError(t, err)

	require.NoError(t, net.SetShape(ent, 0, seg(0, 0, 0, 10)))
	res := e.Evaluate(context.Background(), g)
	require.Equal(t, StatusResolved, res.Status, "err: %v", res.Err)
	assert.Equal(t, StrategyFastTransform, res.Strategy)
	require.Equal(t, Rotate, res.Transform.Kind)
	assert.InDelta(t, math.Pi/2, res.Transform.Angle, 1e-9)

	b := segmentOf(t, g, ls[1])
	assertVec(t, 0, 10, b, xy(b, false))
	assert.InDelta(t, b.Start.Y, b.End.Y, solveTol, "second edge is horizontal")
}

func TestVertexDragFollowsCoincidence(t *testing.T) {
	net, g, e := newFixture(t)
	ent, ls := polyline(t, net, g, seg(0, 0, 10, 0), seg(10, 0, 10, 10))

	require.NoError(t, net.SetShape(ent, 0, seg(0, 0, 12, 3)))
	res := e.Evaluate(context.Background(), g)
	require.Equal(t, StatusResolved, res.Status, "err: %v", res.Err)
	assert.Equal(t, StrategyVertexDrag, res.Strategy)
	assert.Equal(t, Composite, res.Transform.Kind)

	a, b := segmentOf(t, g, ls[0]), segmentOf(t, g, ls[1])
	assertVec(t, 0, 0, a, xy(a, false))
	assertVec(t, 12, 3, a, xy(a, true))
	assertVec(t, 12, 3, b, xy(b, false))
	assert.Contains(t, res.Changed, ls[1].ID)
}

func TestDimensionChangeResolves(t *testing.T) {
	net, g, e := newFixture(t)
	ent := net.AddEntity(geom.Circle(vec(2, 2), 5))
	c, err := g.AddGeometry(network.Path{Entity: ent})
	require.NoError(t, err)
	dim := net.AddDimension(5)
	rc, err := g.AddRadiusDiameter(c.ID, graph.Radius, graph.ValueSource{Constant: 5, Dimension: dim})
	require.NoError(t, err)

	dep, ok := net.Dependency(rc.Constraint().Explicit.Value)
	require.True(t, ok)
	v, ok := net.Variable(dep.Variable)
	require.True(t, ok)
	v.Value = 7

	res := e.Evaluate(context.Background(), g)
	require.Equal(t, StatusResolved, res.Status, "err: %v", res.Err)
	assert.Equal(t, StrategyRebuildCurrent, res.Strategy)

	arc, ok := g.Node(c.ID).Geometry().Shape.(geom.CircArc)
	require.True(t, ok)
	assert.InDelta(t, 7, arc.Radius, solveTol)
	assert.True(t, arc.Closed)

	hs, err := net.Shape(network.Path{Entity: ent})
	require.NoError(t, err)
	assert.Equal(t, arc, hs)
	de, _ := net.Entity(dim)
	assert.True(t, de.Stale)
}

func TestUnresolvedLeavesGroupUnchanged(t *testing.T) {
	net, g, e := newFixture(t)
	ent, ls := polyline(t, net, g, seg(0, 0, 10, 0), seg(10, 0, 10, 10))
	_, err := g.AddConstraint(graph.KindFixed, ls[1].ID)
	require.NoError(t, err)
	before := g.Snapshot()

	require.NoError(t, net.SetShape(ent, 0, seg(0, 0, 12, 3)))
	res := e.Evaluate(context.Background(), g)
	assert.Equal(t, StatusUnresolved, res.Status)
	assert.ErrorIs(t, res.Err, solver.ErrUnsatisfied)
	assert.Less(t, res.Satisfied, res.Total)
	assert.Equal(t, before, g.Snapshot())

	// The edit stays pending for the next evaluation.
	d, ok := net.Dependency(ls[0].Geometry().Dep)
	require.True(t, ok)
	assert.True(t, d.Modified)
}

func TestEvaluateErrors(t *testing.T) {
	t.Run("expired solver", func(t *testing.T) {
		net := network.New(network.Policy{})
		g := graph.NewGroup(net, graph.WorldXY)
		polyline(t, net, g, seg(0, 0, 1, 0))
		e := New(net, lsq.New(lsq.Options{Expires: time.Now().Add(-time.Hour)}))
		res := e.Evaluate(context.Background(), g)
		assert.Equal(t, StatusUnresolved, res.Status)
		assert.ErrorIs(t, res.Err, solver.ErrLicense)
	})

	t.Run("cancelled", func(t *testing.T) {
		net, g, e := newFixture(t)
		polyline(t, net, g, seg(0, 0, 1, 0))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := e.Evaluate(ctx, g)
		assert.Equal(t, StatusUnresolved, res.Status)
		assert.ErrorIs(t, res.Err, context.Canceled)
	})

	t.Run("erased group", func(t *testing.T) {
		net, g, e := newFixture(t)
		_, ls := polyline(t, net, g, seg(0, 0, 1, 0))
		require.NoError(t, g.RemoveGeometry(ls[0].ID))
		require.True(t, g.Erased())
		res := e.Evaluate(context.Background(), g)
		assert.ErrorIs(t, res.Err, graph.ErrErased)
	})
}

func TestEvaluateRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	net := network.New(network.Policy{})
	g := graph.NewGroup(net, graph.WorldXY)
	ent, _ := polyline(t, net, g, seg(0, 0, 1, 0), seg(1, 0, 1, 1))
	e := New(net, lsq.New(lsq.Options{}), WithMetrics(m))

	require.NoError(t, net.SetShape(ent, 1, seg(1, 0, 2, 2)))
	res := e.Evaluate(context.Background(), g)
	require.Equal(t, StatusResolved, res.Status, "err: %v", res.Err)

	n, err := testutil.GatherAndCount(reg, "sketchgraph_eval_evaluations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(reg, "sketchgraph_eval_attempt_duration_seconds")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
