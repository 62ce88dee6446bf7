package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/sketchgraph/pkg/network"
)

// buildSample returns a group exercising every payload type.
func buildSample(t *testing.T) (*network.Network, *Group) {
	t.Helper()
	net, g := newTestGroup(t)
	l1, l2, _ := buildCorner(t, net, g)
	_, err := g.AddConstraint(KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)
	_, err = g.AddConstraint(KindHorizontal, l1.ID)
	require.NoError(t, err)
	_, err = g.AddDistance(start(t, g, l1).ID, end(t, g, l2).ID, Constant(10), DistanceOptions{})
	require.NoError(t, err)
	a, b := arcPair(t, net, g)
	_, err = g.AddSmoothJoin(a.ID, b.ID)
	require.NoError(t, err)
	requireValid(t, g)
	return net, g
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	net, g := buildSample(t)
	st := g.Snapshot()
	assert.Equal(t, g.Seq(), st.Seq)
	assert.Len(t, st.Nodes, g.NodeCount())

	restored, err := Restore(net, st)
	require.NoError(t, err)
	assert.Equal(t, st, restored.Snapshot())
	assert.True(t, net.HasAction(st.ID))
	requireValid(t, restored)

	// The datum line is found again rather than recreated.
	before := restored.NodeCount()
	l3 := addShape(t, net, restored, seg(0, 20, 5, 20))
	_, err = restored.AddConstraint(KindHorizontal, l3.ID)
	require.NoError(t, err)
	assert.Equal(t, before+4, restored.NodeCount())
}

func TestSnapshotIsDetached(t *testing.T) {
	_, g := buildSample(t)
	st := g.Snapshot()
	for _, ns := range st.Nodes {
		if cd, ok := ns.Data.(*ConstraintData); ok {
			cd.Args[0] = 999
		}
	}
	requireValid(t, g)
}

func TestRestoreRejectsCorruptState(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(st *State)
		want   error
	}{
		{"duplicate node id", func(st *State) {
			st.Nodes = append(st.Nodes, st.Nodes[0])
		}, ErrDuplicateNode},
		{"orphaned implicit point", func(st *State) {
			for i, ns := range st.Nodes {
				if ns.Kind == KindBoundedLine {
					st.Nodes = append(st.Nodes[:i], st.Nodes[i+1:]...)
					return
				}
			}
		}, ErrCorrupt},
		{"id beyond sequence", func(st *State) {
			st.Seq = 2
		}, ErrCorrupt},
		{"asymmetric connection", func(st *State) {
			for i := range st.Nodes {
				if len(st.Nodes[i].Conns) > 0 {
					st.Nodes[i].Conns = st.Nodes[i].Conns[1:]
					return
				}
			}
		}, ErrCorrupt},
		{"unknown dependency", func(st *State) {
			st.Deps = st.Deps[1:]
		}, ErrCorrupt},
		{"payload mismatch", func(st *State) {
			st.Nodes[0].Kind = KindHelperParameter
		}, ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, g := buildSample(t)
			st := g.Snapshot()
			tt.mutate(&st)

			restored, err := Restore(net, st)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, restored)
			assert.False(t, net.HasAction(st.ID))
			for _, d := range st.Deps {
				_, ok := net.Dependency(d)
				assert.False(t, ok, "dependency %d detached", d)
			}
		})
	}
}

func TestCloneCopiesDependencies(t *testing.T) {
	net, g := buildSample(t)
	c := g.Clone()

	assert.NotEqual(t, g.ID(), c.ID())
	assert.Equal(t, g.NodeCount(), c.NodeCount())
	assert.Len(t, c.Dependencies(), len(g.Dependencies()))
	assert.True(t, net.HasAction(c.ID()))
	requireValid(t, c)

	for _, n := range c.ConstrainedGeometries() {
		if n.Geometry().Dep == 0 {
			continue
		}
		orig := g.Node(n.ID)
		cp, ok := c.PathOf(n.ID)
		require.True(t, ok)
		op, ok := g.PathOf(orig.ID)
		require.True(t, ok)
		assert.Equal(t, op, cp)
		assert.NotEqual(t, orig.Geometry().Dep, n.Geometry().Dep)
	}
}
