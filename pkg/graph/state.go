package graph

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/network"
)

// State is the persistent form of a group: work plane, sequence counter,
// owned dependency ids and the node table.
type State struct {
	ID    network.ObjectID
	Plane Plane
	Seq   NodeID
	Deps  []network.ObjectID
	Nodes []NodeState
}

// NodeState is one persisted node.
type NodeState struct {
	ID    NodeID
	Kind  NodeKind
	Conns []NodeID
	Data  NodeData
}

// Snapshot captures the group as a detached State.
func (g *Group) Snapshot() State {
	st := State{
		ID:    g.id,
		Plane: g.Plane,
		Seq:   g.seq,
		Deps:  g.Dependencies(),
	}
	for _, n := range g.Nodes() {
		st.Nodes = append(st.Nodes, NodeState{
			ID:    n.ID,
			Kind:  n.Kind,
			Conns: n.Connections(),
			Data:  cloneData(n.Data),
		})
	}
	return st
}

// Restore rebuilds a group from a State and attaches it to host. A State
// that breaks the group invariants is rejected: its dependencies are
// detached, the group is removed from the network and ErrCorrupt (or
// ErrDuplicateNode) is returned.
func Restore(host Host, st State, opts ...Option) (*Group, error) {
	g := newGroup(host, st.ID, st.Plane, opts...)
	g.seq = st.Seq
	if err := g.load(st); err != nil {
		g.log.Error("discarding corrupt group", zap.Error(err))
		for _, d := range st.Deps {
			host.RemoveDependency(d)
		}
		host.RemoveAction(st.ID)
		return nil, err
	}
	host.AttachAction(g)
	return g, nil
}

func (g *Group) load(st State) error {
	g.nodes = make([]*Node, int(st.Seq)+1)
	for _, ns := range st.Nodes {
		if ns.ID <= 0 || ns.ID > st.Seq {
			return errors.Wrapf(ErrCorrupt, "node id %d outside sequence %d", ns.ID, st.Seq)
		}
		if g.nodes[ns.ID] != nil {
			return errors.Wrapf(ErrDuplicateNode, "node %s", ns.ID)
		}
		if !kindMatchesData(ns.Kind, ns.Data) {
			return errors.Wrapf(ErrCorrupt, "node %s: %s payload mismatch", ns.ID, ns.Kind)
		}
		n := &Node{ID: ns.ID, Kind: ns.Kind, Group: g.id, Data: cloneData(ns.Data)}
		n.conns = sortedIDs(ns.Conns)
		g.nodes[ns.ID] = n
		g.count++
	}

	deps := make(map[network.ObjectID]bool, len(st.Deps))
	for _, d := range st.Deps {
		deps[d] = true
	}
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, c := range n.conns {
			o := g.Node(c)
			if o == nil || !o.IsConnected(n.ID) {
				return errors.Wrapf(ErrCorrupt, "node %s: broken connection to %s", n.ID, c)
			}
		}
		gd := n.Geometry()
		if gd == nil {
			continue
		}
		if gd.Dep != 0 && !deps[gd.Dep] {
			return errors.Wrapf(ErrCorrupt, "node %s: unknown geometry dependency %d", n.ID, gd.Dep)
		}
		switch n.Kind {
		case KindImplicitPoint:
			curve := g.Node(gd.Curve)
			if curve == nil || !curve.Kind.IsCurve() {
				return errors.Wrapf(ErrCorrupt, "orphaned implicit point %s", n.ID)
			}
		case KindDatumLine:
			axis := 0
			if l, ok := gd.Shape.(geom.Line); ok && l.Dir.Y != 0 {
				axis = 1
			}
			g.datum[axis] = n.ID
		}
	}
	return nil
}

func kindMatchesData(k NodeKind, d NodeData) bool {
	switch d.(type) {
	case *GeometryData:
		return k.IsGeometry()
	case *ConstraintData:
		return k.IsConstraint()
	case *CompositeData:
		return k == KindComposite
	case *HelperData:
		return k == KindHelperParameter
	}
	return false
}

// cloneData deep-copies a node payload.
func cloneData(d NodeData) NodeData {
	switch v := d.(type) {
	case *GeometryData:
		c := *v
		c.Points = append([]NodeID(nil), v.Points...)
		c.Members = append([]NodeID(nil), v.Members...)
		return &c
	case *ConstraintData:
		c := *v
		c.Args = append([]NodeID(nil), v.Args...)
		c.Helpers = append([]NodeID(nil), v.Helpers...)
		if v.Explicit != nil {
			e := *v.Explicit
			c.Explicit = &e
		}
		return &c
	case *CompositeData:
		c := *v
		c.Parts = append([]NodeID(nil), v.Parts...)
		return &c
	case *HelperData:
		c := *v
		return &c
	}
	return d
}

// Clone copies the group into a new group of the same network, duplicating
// every dependency it owns the way the host's deep clone does: geometry
// dependencies keep their source paths until they are remapped.
func (g *Group) Clone(opts ...Option) *Group {
	st := g.Snapshot()
	c := newGroup(g.host, g.host.NewID(), g.Plane, opts...)
	depMap := make(map[network.ObjectID]network.ObjectID, len(st.Deps))
	for _, id := range st.Deps {
		d, ok := g.host.Dependency(id)
		if !ok {
			continue
		}
		var nd *network.Dependency
		switch d.Kind {
		case network.DepGeometry:
			nd = g.host.AddGeomDependency(c.id, d.Path)
		case network.DepValue:
			nd = g.host.AddValueDependency(c.id, d.Variable)
		case network.DepDimension:
			nd = g.host.AddDimDependency(c.id, d.Dimension)
		default:
			continue
		}
		depMap[id] = nd.ID
	}
	c.seq = st.Seq
	c.nodes = make([]*Node, int(st.Seq)+1)
	for _, ns := range st.Nodes {
		n := &Node{ID: ns.ID, Kind: ns.Kind, Group: c.id, Data: ns.Data, conns: ns.Conns}
		switch d := n.Data.(type) {
		case *GeometryData:
			d.Dep = depMap[d.Dep]
		case *ConstraintData:
			if d.Explicit != nil {
				d.Explicit.Value = depMap[d.Explicit.Value]
				d.Explicit.Dim = depMap[d.Explicit.Dim]
			}
		}
		c.nodes[n.ID] = n
		c.count++
	}
	c.datum = g.datum
	g.host.AttachAction(c)
	return c
}
