package graph

import (
	"math"
	"math/rand"
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/network"
)

func TestRemoveGeometryCascadesAndErasesGroup(t *testing.T) {
	net, g := newTestGroup(t)
	l1, l2, _ := buildCorner(t, net, g)
	_, err := g.AddConstraint(KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)
	dimEntity := net.AddDimension(14.1)
	dist, err := g.AddDistance(start(t, g, l1).ID, end(t, g, l2).ID,
		ValueSource{Constant: 10, Dimension: dimEntity}, DistanceOptions{})
	require.NoError(t, err)
	valueDep := dist.Constraint().Explicit.Value
	dep, _ := net.Dependency(valueDep)
	variable := dep.Variable

	require.NoError(t, g.RemoveGeometry(l1.ID))

	assert.Zero(t, g.NodeCount())
	assert.True(t, g.Erased())
	assert.False(t, net.HasAction(g.ID()))
	assert.Empty(t, net.Dependencies(g.ID()))
	_, ok := net.Variable(variable)
	assert.False(t, ok, "anonymous value variable is erased with its last dependency")
	_, ok = net.Entity(dimEntity)
	assert.False(t, ok, "dimension entity is erased by policy")

	_, err = g.AddConstraint(KindFixed, l2.ID)
	assert.ErrorIs(t, err, ErrErased)
}

func TestRemoveGeometryErrors(t *testing.T) {
	net, g := newTestGroup(t)
	l := addShape(t, net, g, seg(0, 0, 1, 0))
	_, err := g.AddConstraint(KindFixed, l.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, g.RemoveGeometry(999), ErrNotFound)
	assert.ErrorIs(t, g.RemoveGeometryByDep(999), ErrNotFound)
	c := g.Constraints(false)[0]
	assert.ErrorIs(t, g.RemoveGeometry(c.ID), ErrNotFound)
	assert.ErrorIs(t, g.DeleteConstraints(l.ID), ErrNotFound)
}

func TestRemoveGeometryByDependency(t *testing.T) {
	net, g := newTestGroup(t)
	l1 := addShape(t, net, g, seg(0, 0, 10, 0))
	l2 := addShape(t, net, g, seg(0, 0, 0, 10))
	l3 := addShape(t, net, g, seg(5, 0, 5, 10))
	_, err := g.AddConstraint(KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)
	_, err = g.AddConstraint(KindParallel, l2.ID, l3.ID)
	require.NoError(t, err)

	require.NoError(t, g.RemoveGeometryByDep(l1.Geometry().Dep))
	assert.Nil(t, g.Node(l1.ID))
	assert.NotNil(t, g.Node(l2.ID))
	assert.NotNil(t, g.Node(l3.ID))
	assert.Len(t, g.Constraints(false), 1)
	requireValid(t, g)
}

func TestDeleteConstraintSweepsUnreferencedGeometry(t *testing.T) {
	net, g := newTestGroup(t)
	l1 := addShape(t, net, g, seg(0, 0, 10, 0))
	l2 := addShape(t, net, g, seg(0, 0, 0, 10))
	l3 := addShape(t, net, g, seg(5, 0, 5, 10))
	perp, err := g.AddConstraint(KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)
	_, err = g.AddConstraint(KindParallel, l2.ID, l3.ID)
	require.NoError(t, err)
	l1Dep := l1.Geometry().Dep

	require.NoError(t, g.DeleteConstraints(perp.ID))

	assert.Nil(t, g.Node(l1.ID))
	assert.Nil(t, g.Node(perp.ID))
	assert.NotNil(t, g.Node(l2.ID))
	assert.NotNil(t, g.Node(l3.ID))
	assert.Equal(t, 7, g.NodeCount())
	_, ok := net.Dependency(l1Dep)
	assert.False(t, ok)
	requireValid(t, g)
}

func TestDeleteExplicitConstraintReleasesDependencies(t *testing.T) {
	tests := []struct {
		name        string
		eraseDims   bool
		keepsEntity bool
	}{
		{"policy erases dimension", true, false},
		{"policy keeps dimension", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := network.New(network.Policy{EraseDimensionIfDependencyErased: tt.eraseDims})
			g := NewGroup(net, WorldXY)
			l1, l2, _ := buildCorner(t, net, g)
			_, err := g.AddConstraint(KindPerpendicular, l1.ID, l2.ID)
			require.NoError(t, err)
			dimEntity := net.AddDimension(10)
			d, err := g.AddDistance(start(t, g, l1).ID, end(t, g, l2).ID,
				ValueSource{Constant: 10, Dimension: dimEntity}, DistanceOptions{})
			require.NoError(t, err)
			dim := *d.Constraint().Explicit

			require.NoError(t, g.DeleteConstraints(d.ID))

			_, ok := net.Dependency(dim.Value)
			assert.False(t, ok)
			_, ok = net.Dependency(dim.Dim)
			assert.False(t, ok)
			_, ok = net.Entity(dimEntity)
			assert.Equal(t, tt.keepsEntity, ok)
			assert.NotNil(t, g.Node(l1.ID))
			assert.NotNil(t, g.Node(l2.ID))
			requireValid(t, g)
		})
	}
}

func TestSharedVariableSurvivesWhileReferenced(t *testing.T) {
	net, g := newTestGroup(t)
	c1 := addShape(t, net, g, geom.Circle(vec(0, 0), 2))
	c2 := addShape(t, net, g, geom.Circle(vec(5, 0), 2))
	r := net.AddVariable("R", "", 2)
	d1, err := g.AddRadiusDiameter(c1.ID, Radius, ValueSource{Variable: r.ID})
	require.NoError(t, err)
	_, err = g.AddRadiusDiameter(c2.ID, Radius, ValueSource{Variable: r.ID})
	require.NoError(t, err)

	require.NoError(t, g.DeleteConstraints(d1.ID))
	_, ok := net.Variable(r.ID)
	assert.True(t, ok)
	assert.Nil(t, g.Node(c1.ID))
	assert.NotNil(t, g.Node(c2.ID))
}

func TestCascadeRemovesEverySoleConnection(t *testing.T) {
	const n = 6
	net, g := newTestGroup(t)
	hub := addShape(t, net, g, seg(0, 0, 10, 0))
	spokes := make([]*Node, n)
	for i := range spokes {
		spokes[i] = addShape(t, net, g, seg(0, float64(i+1), 10, float64(i+1)))
		_, err := g.AddConstraint(KindParallel, hub.ID, spokes[i].ID)
		require.NoError(t, err)
	}

	require.NoError(t, g.RemoveGeometry(hub.ID))
	for _, s := range spokes {
		assert.Nil(t, g.Node(s.ID))
	}
	assert.Zero(t, g.NodeCount())
	assert.False(t, net.HasAction(g.ID()))
}

func TestCascadeKeepsIndependentConstraints(t *testing.T) {
	net, g := newTestGroup(t)
	hub := addShape(t, net, g, seg(0, 0, 10, 0))
	spoke := addShape(t, net, g, seg(0, 1, 10, 1))
	other := addShape(t, net, g, geom.Circle(vec(0, 0), 1))
	_, err := g.AddConstraint(KindParallel, hub.ID, spoke.ID)
	require.NoError(t, err)
	_, err = g.AddConstraint(KindFixed, other.ID)
	require.NoError(t, err)

	require.NoError(t, g.RemoveGeometry(hub.ID))
	assert.Nil(t, g.Node(spoke.ID))
	assert.NotNil(t, g.Node(other.ID))
	assert.True(t, net.HasAction(g.ID()))
	assert.False(t, g.Erased())
}

func TestDeletingCompositePartDeletesComposite(t *testing.T) {
	net, g := newTestGroup(t)
	a, b := arcPair(t, net, g)
	_, err := g.AddConstraint(KindFixed, a.ID)
	require.NoError(t, err)
	comp, err := g.AddSmoothJoin(a.ID, b.ID)
	require.NoError(t, err)
	parts := comp.Composite().Parts

	require.NoError(t, g.DeleteConstraints(parts[1]))

	assert.Nil(t, g.Node(comp.ID))
	for _, p := range parts {
		assert.Nil(t, g.Node(p))
	}
	assert.NotNil(t, g.Node(a.ID))
	assert.Nil(t, g.Node(b.ID), "the joined arc is no longer referenced")
	requireValid(t, g)
}

func TestDeletingCompositeRemovesHelpers(t *testing.T) {
	net, g := newTestGroup(t)
	arc := addShape(t, net, g, geom.CircArc{Center: vec(0, 0), Radius: 1, StartAngle: math.Pi / 2, EndAngle: math.Pi})
	sp := addShape(t, net, g, geom.UniformSpline(2, []v2.Vec{vec(-1, 0), vec(-1, -1), vec(0, -2)}))
	_, err := g.AddConstraint(KindFixed, arc.ID)
	require.NoError(t, err)
	_, err = g.AddConstraint(KindFixed, sp.ID)
	require.NoError(t, err)
	comp, err := g.AddSmoothJoin(arc.ID, sp.ID)
	require.NoError(t, err)
	var helpers []NodeID
	for _, p := range comp.Composite().Parts {
		helpers = append(helpers, g.Node(p).Constraint().Helpers...)
	}
	require.Len(t, helpers, 2)

	require.NoError(t, g.DeleteConstraints(comp.ID))
	for _, h := range helpers {
		assert.Nil(t, g.Node(h))
	}
	assert.NotNil(t, g.Node(arc.ID))
	assert.NotNil(t, g.Node(sp.ID))
	requireValid(t, g)
}

func TestDatumLineLivesWhileReferenced(t *testing.T) {
	net, g := newTestGroup(t)
	l1 := addShape(t, net, g, seg(0, 0, 10, 0))
	l2 := addShape(t, net, g, seg(0, 5, 10, 5))
	l3 := addShape(t, net, g, seg(0, 0, 0, 5))
	_, err := g.AddConstraint(KindFixed, l3.ID)
	require.NoError(t, err)
	h1, err := g.AddConstraint(KindHorizontal, l1.ID)
	require.NoError(t, err)
	h2, err := g.AddConstraint(KindHorizontal, l2.ID)
	require.NoError(t, err)
	datum := h1.Constraint().Args[1]

	require.NoError(t, g.DeleteConstraints(h1.ID))
	assert.NotNil(t, g.Node(datum))
	require.NoError(t, g.DeleteConstraints(h2.ID))
	assert.Nil(t, g.Node(datum))

	h3, err := g.AddConstraint(KindHorizontal, l3.ID)
	require.NoError(t, err)
	assert.NotEqual(t, datum, h3.Constraint().Args[1])
	requireValid(t, g)
}

// TestRandomEditsKeepIntegrity applies a seeded random sequence of structural
// edits and checks the group invariants after each one.
func TestRandomEditsKeepIntegrity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	net, g := newTestGroup(t)
	kinds := []NodeKind{KindParallel, KindPerpendicular, KindCoincident, KindEqualLength,
		KindFixed, KindHorizontal, KindTangent, KindConcentric, KindEqualRadius, KindPointCurve}

	randomShape := func() geom.Shape {
		x, y := rng.Float64()*10, rng.Float64()*10
		switch rng.Intn(4) {
		case 0:
			return seg(x, y, x+1+rng.Float64(), y+rng.Float64())
		case 1:
			return geom.Circle(vec(x, y), 1+rng.Float64())
		case 2:
			return geom.CircArc{Center: vec(x, y), Radius: 1, StartAngle: 0, EndAngle: 2}
		default:
			return geom.Point{P: vec(x, y)}
		}
	}
	pick := func(nodes []*Node) *Node { return nodes[rng.Intn(len(nodes))] }

	for step := 0; step < 300 && !g.Erased(); step++ {
		geoms := g.ConstrainedGeometries()
		switch op := rng.Intn(10); {
		case op < 3 || len(geoms) < 2:
			addShape(t, net, g, randomShape())
		case op < 7:
			kind := kinds[rng.Intn(len(kinds))]
			args := []NodeID{pick(geoms).ID}
			if kind != KindFixed && kind != KindHorizontal {
				args = append(args, pick(geoms).ID)
			}
			_, _ = g.AddConstraint(kind, args...)
		case op < 9:
			if cons := g.Constraints(false); len(cons) > 0 {
				require.NoError(t, g.DeleteConstraints(pick(cons).ID))
			}
		default:
			victim := pick(geoms)
			if victim.Kind != KindImplicitPoint {
				require.NoError(t, g.RemoveGeometry(victim.ID))
			}
		}
		requireValid(t, g)
		assert.Equal(t, g.NodeCount() == 0, !net.HasAction(g.ID()), "step %d", step)
	}
}
