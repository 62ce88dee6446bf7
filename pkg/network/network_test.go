package network

import (
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/sketchgraph/pkg/geom"
)

func segment(x0, y0, x1, y1 float64) geom.Segment {
	return geom.Segment{Start: v2.Vec{X: x0, Y: y0}, End: v2.Vec{X: x1, Y: y1}}
}

func TestEntitiesAndShapes(t *testing.T) {
	n := New(Policy{})
	single := n.AddEntity(segment(0, 0, 1, 0))
	poly := n.AddEntity(segment(0, 0, 1, 0), segment(1, 0, 1, 1))
	dim := n.AddDimension(5)

	assert.Equal(t, []ObjectID{single, poly, dim}, n.Entities())

	e, ok := n.Entity(poly)
	require.True(t, ok)
	assert.True(t, e.Polyline)
	e, _ = n.Entity(single)
	assert.False(t, e.Polyline)

	s, err := n.Shape(Path{Entity: poly, Edge: 1})
	require.NoError(t, err)
	assert.Equal(t, segment(1, 0, 1, 1), s)

	p, err := n.Shape(Path{Entity: poly, Edge: 1, Point: geom.PointRef{Type: geom.PointEnd}})
	require.NoError(t, err)
	assert.Equal(t, geom.Point{P: v2.Vec{X: 1, Y: 1}}, p)

	_, err = n.Shape(Path{Entity: poly, Edge: 2})
	assert.Error(t, err)
	_, err = n.Shape(Path{Entity: 999})
	assert.Error(t, err)
	_, err = n.Shape(Path{Entity: single, Point: geom.PointRef{Type: geom.PointCenter}})
	assert.Error(t, err)

	n.EraseEntity(single)
	_, ok = n.Entity(single)
	assert.False(t, ok)
}

func TestSetShapeFlagsDependencies(t *testing.T) {
	n := New(Policy{})
	owner := n.NewID()
	e := n.AddEntity(segment(0, 0, 1, 0), segment(1, 0, 1, 1))
	d0 := n.AddGeomDependency(owner, Path{Entity: e})
	d1 := n.AddGeomDependency(owner, Path{Entity: e, Edge: 1})

	require.NoError(t, n.SetShape(e, 1, segment(1, 0, 2, 2)))
	assert.False(t, d0.Modified)
	assert.True(t, d1.Modified)

	require.NoError(t, n.WriteShape(Path{Entity: e}, segment(0, 0, 3, 0)))
	assert.False(t, d0.Modified)

	n.ClearModified(owner)
	assert.False(t, d1.Modified)

	assert.Error(t, n.SetShape(e, 5, segment(0, 0, 1, 1)))
}

func TestDimensionStale(t *testing.T) {
	n := New(Policy{EraseDimensionIfDependencyErased: true})
	assert.True(t, n.ErasesDimensions())
	dim := n.AddDimension(3)
	n.MarkDimensionStale(dim)
	e, _ := n.Entity(dim)
	assert.True(t, e.Stale)
}

func TestRemoveLastReaderErasesVariable(t *testing.T) {
	n := New(Policy{})
	owner := n.NewID()
	v := n.AddVariable("", "", 4)
	d := n.AddValueDependency(owner, v.ID)

	val, err := n.Value(d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, val)

	n.RemoveDependency(d.ID)
	_, ok := n.Variable(v.ID)
	assert.False(t, ok)
	assert.False(t, n.HasAction(v.ID))
}

func TestReferencedVariableSurvives(t *testing.T) {
	n := New(Policy{})
	owner := n.NewID()
	w := n.AddVariable("width", "", 10)
	n.AddVariable("half", "(/ width 2)", 5)
	d := n.AddValueDependency(owner, w.ID)

	n.RemoveDependency(d.ID)
	_, ok := n.Variable(w.ID)
	assert.True(t, ok, "a variable named in another expression stays")
}

func TestSetOwnerClearsDependentOn(t *testing.T) {
	n := New(Policy{})
	d := n.AddGeomDependency(n.NewID(), Path{Entity: 1})
	d.DependentOn = 77
	other := n.NewID()
	require.NoError(t, n.SetOwner(d.ID, other))
	assert.Equal(t, other, d.Owner)
	assert.Zero(t, d.DependentOn)
	assert.Equal(t, []*Dependency{d}, n.Dependencies(other))
	assert.Error(t, n.SetOwner(12345, other))
}

func TestVariables(t *testing.T) {
	n := New(Policy{})
	w := n.AddVariable("Width", "", 10)
	h := n.AddVariable("height", "(* width 2)", 20)

	got, ok := n.VariableByName("WIDTH")
	require.True(t, ok)
	assert.Equal(t, w, got)
	_, ok = n.VariableByName("")
	assert.False(t, ok)

	assert.Equal(t, []*Variable{h}, n.ExpressionDependents(w.ID))

	require.NoError(t, n.RenameVariable(w.ID, "span"))
	assert.Equal(t, "(* span 2)", h.Expression)

	owner := n.NewID()
	d := n.AddValueDependency(owner, w.ID)
	other := n.AddVariable("len", "", 3)
	require.NoError(t, n.RepointDependents(w.ID, other.ID))
	assert.Equal(t, other.ID, d.Variable)
	assert.Equal(t, "(* len 2)", h.Expression)
	assert.Error(t, n.RepointDependents(w.ID, 999))
}

func TestReferences(t *testing.T) {
	assert.Equal(t, []string{"a", "B"}, References("(+ (sqrt a) (* B a) pi)"))
	assert.Equal(t, "(+ x_new xy)", ReplaceReference("(+ X xy)", "x", "x_new"))
}

func TestActionsOrdered(t *testing.T) {
	n := New(Policy{})
	a := n.AddVariable("a", "", 1)
	b := n.AddVariable("b", "", 2)
	acts := n.Actions()
	require.Len(t, acts, 2)
	assert.Equal(t, a.ID, acts[0].ActionID())
	assert.Equal(t, b.ID, acts[1].ActionID())

	n.RemoveAction(a.ID)
	_, ok := n.Action(a.ID)
	assert.False(t, ok)
}

func TestCloneEntities(t *testing.T) {
	n := New(Policy{})
	e := n.AddEntity(segment(0, 0, 1, 0), segment(1, 0, 1, 1))
	m := n.CloneEntities(e, 999)

	dst, ok := m.Lookup(e)
	require.True(t, ok)
	assert.NotEqual(t, e, dst)
	_, ok = m.Lookup(999)
	assert.False(t, ok)

	src, _ := n.Entity(e)
	cp, _ := n.Entity(dst)
	assert.Equal(t, src.Edges, cp.Edges)

	require.NoError(t, n.SetShape(dst, 0, segment(5, 5, 6, 6)))
	assert.Equal(t, segment(0, 0, 1, 0), src.Edges[0], "clone owns its edge slice")

	m[e] = IDPair{Dest: dst, Cloned: true, Erased: true}
	_, ok = m.Lookup(e)
	assert.False(t, ok)
}
