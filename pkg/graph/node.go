package graph

import (
	"sort"

	"github.com/chazu/sketchgraph/pkg/network"
)

// Node is the fundamental element of a constraint group.
type Node struct {
	ID    NodeID
	Kind  NodeKind
	Group network.ObjectID // owning group, a back-reference only
	Data  NodeData

	conns []NodeID // sorted, symmetric with the neighbors' lists
}

// NodeData is the interface for kind-specific node payloads.
type NodeData interface {
	nodeData() // marker method restricting implementations to this package
}

// Connections returns a copy of the node's neighbor ids in ascending order.
func (n *Node) Connections() []NodeID {
	return append([]NodeID(nil), n.conns...)
}

// ConnectionCount returns the number of neighbors.
func (n *Node) ConnectionCount() int { return len(n.conns) }

// IsConnected reports whether id is a neighbor.
func (n *Node) IsConnected(id NodeID) bool {
	i := sort.Search(len(n.conns), func(i int) bool { return n.conns[i] >= id })
	return i < len(n.conns) && n.conns[i] == id
}

func (n *Node) addConn(id NodeID) {
	i := sort.Search(len(n.conns), func(i int) bool { return n.conns[i] >= id })
	if i < len(n.conns) && n.conns[i] == id {
		return
	}
	n.conns = append(n.conns, 0)
	copy(n.conns[i+1:], n.conns[i:])
	n.conns[i] = id
}

func (n *Node) removeConn(id NodeID) {
	i := sort.Search(len(n.conns), func(i int) bool { return n.conns[i] >= id })
	if i < len(n.conns) && n.conns[i] == id {
		n.conns = append(n.conns[:i], n.conns[i+1:]...)
	}
}

// Geometry returns the geometry payload, or nil.
func (n *Node) Geometry() *GeometryData {
	d, _ := n.Data.(*GeometryData)
	return d
}

// Constraint returns the constraint payload, or nil.
func (n *Node) Constraint() *ConstraintData {
	d, _ := n.Data.(*ConstraintData)
	return d
}

// Composite returns the composite payload, or nil.
func (n *Node) Composite() *CompositeData {
	d, _ := n.Data.(*CompositeData)
	return d
}

// Helper returns the helper parameter payload, or nil.
func (n *Node) Helper() *HelperData {
	d, _ := n.Data.(*HelperData)
	return d
}

// IsInternal reports whether a constraint was inferred by the system or is
// owned by a composite.
func (n *Node) IsInternal() bool {
	switch d := n.Data.(type) {
	case *ConstraintData:
		return d.Implied || !d.Composite.IsZero()
	case *CompositeData:
		return d.Implied
	}
	return false
}
