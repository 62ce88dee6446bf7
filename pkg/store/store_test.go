package store

import (
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/network"
	"github.com/chazu/sketchgraph/pkg/record"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true, Logger: zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func cornerState(t *testing.T) graph.State {
	t.Helper()
	net := network.New(network.Policy{})
	g := graph.NewGroup(net, graph.WorldXY)
	e := net.AddEntity(
		geom.Segment{Start: v2.Vec{}, End: v2.Vec{X: 6}},
		geom.Segment{Start: v2.Vec{X: 6}, End: v2.Vec{X: 6, Y: 8}},
	)
	l1, err := g.AddGeometry(network.Path{Entity: e})
	require.NoError(t, err)
	l2, err := g.AddGeometry(network.Path{Entity: e, Edge: 1})
	require.NoError(t, err)
	_, err = g.AddConstraint(graph.KindPerpendicular, l1.ID, l2.ID)
	require.NoError(t, err)
	return g.Snapshot()
}

func TestPutGet(t *testing.T) {
	s := openInMemory(t)
	st := cornerState(t)

	require.NoError(t, s.Put("base", st))
	rec, err := s.Get("base")
	require.NoError(t, err)
	assert.Equal(t, st, rec.State)
	assert.Equal(t, record.GenDictionary, rec.Generation)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutReplaces(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.Put("base", cornerState(t)))
	require.NoError(t, s.Put("base", graph.State{Plane: graph.WorldXY}))

	rec, err := s.Get("base")
	require.NoError(t, err)
	assert.Empty(t, rec.State.Nodes)
}

func TestInvalidNames(t *testing.T) {
	s := openInMemory(t)
	for _, name := range []string{"", "a/b", "nul\x00"} {
		assert.Error(t, s.Put(name, cornerState(t)), "name %q", name)
	}
}

func TestDelete(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.Put("base", cornerState(t)))
	require.NoError(t, s.Delete("base"))
	_, err := s.Get("base")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("base"), ErrNotFound)
}

func TestListReportsPlaceholdersAndCorruptRecords(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.Put("b-corner", cornerState(t)))

	newer := msgp.AppendMapHeader(nil, 2)
	newer = msgp.AppendString(newer, "version")
	newer = msgp.AppendInt(newer, record.CurrentVersion+1)
	newer = msgp.AppendString(newer, "generation")
	newer = msgp.AppendInt(newer, int(record.GenDictionary))
	require.NoError(t, s.PutRaw("a-future", newer))
	require.NoError(t, s.PutRaw("c-broken", []byte{0xc1}))

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-future", "b-corner", "c-broken"}, names)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.True(t, entries[0].Placeholder)
	assert.NoError(t, entries[0].Err)

	assert.False(t, entries[1].Placeholder)
	assert.NoError(t, entries[1].Err)
	assert.Equal(t, record.CurrentVersion, entries[1].Version)
	assert.Greater(t, entries[1].Nodes, 0)
	assert.Greater(t, entries[1].Size, 0)

	assert.ErrorIs(t, entries[2].Err, record.ErrCorrupt)

	raw, err := s.Raw("a-future")
	require.NoError(t, err)
	assert.Equal(t, newer, raw)
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	st := cornerState(t)

	s, err := Open(Config{Path: dir, Generation: record.GenInline})
	require.NoError(t, err)
	require.NoError(t, s.Put("base", st))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get("base")
	require.NoError(t, err)
	assert.Equal(t, record.GenInline, rec.Generation)
	assert.Equal(t, st, rec.State)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
