package graph

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// cascade carries the work queues of one deletion.
type cascade struct {
	g        *Group
	pending  []NodeID // geometry queued for deletion
	queued   map[NodeID]bool
	promoted map[NodeID]bool // composites already queued
	deleted  int
}

func (g *Group) newCascade() *cascade {
	return &cascade{g: g, queued: make(map[NodeID]bool), promoted: make(map[NodeID]bool)}
}

// DeleteConstraints deletes constraints through the deletion cascade.
func (g *Group) DeleteConstraints(ids ...NodeID) error {
	return g.DeleteNodes(ids, nil)
}

// DeleteNodes is the only path that removes nodes from a group. Requested
// constraints are deleted first. Queued geometry then loses every connected
// constraint and is deleted once it has no connection left. A global sweep
// finally requeues geometry that no user constraint references, until
// nothing more qualifies. The group leaves its network when it empties.
func (g *Group) DeleteNodes(constraints, geometries []NodeID) error {
	if g.erased {
		return ErrErased
	}
	for _, id := range constraints {
		n := g.Node(id)
		if n == nil || !(n.Kind.IsConstraint() || n.Kind == KindComposite) {
			return errors.Wrapf(ErrNotFound, "constraint %s", id)
		}
	}
	for _, id := range geometries {
		n := g.Node(id)
		if n == nil || !n.Kind.IsGeometry() {
			return errors.Wrapf(ErrNotFound, "geometry %s", id)
		}
	}

	c := g.newCascade()
	if len(constraints) > 0 {
		touched := c.deleteConstraints(constraints)
		ref := g.referencedSet()
		for _, gid := range touched {
			if !ref[gid] {
				c.queue(gid)
			}
		}
	}
	for _, id := range geometries {
		c.queue(id)
	}

	for {
		before := g.count
		c.drain()
		for _, id := range g.unreferenced() {
			c.queue(id)
		}
		if len(c.pending) == 0 {
			break
		}
		c.drain()
		if g.count == before {
			// Nothing left that the sweep can remove.
			break
		}
	}

	g.log.Debug("nodes deleted", zap.Int("count", c.deleted), zap.Int("remaining", g.count))
	if g.count == 0 {
		g.erased = true
		g.host.RemoveAction(g.id)
		g.log.Debug("group erased")
	}
	return nil
}

// queue adds a geometry to the deletion queue once.
func (c *cascade) queue(id NodeID) {
	if c.queued[id] || c.g.Node(id) == nil {
		return
	}
	c.queued[id] = true
	c.pending = append(c.pending, id)
}

// drain deletes queued geometry until the queue is empty.
func (c *cascade) drain() {
	g := c.g
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		var cons []NodeID
		for _, id := range batch {
			for _, member := range g.family(id) {
				cons = append(cons, g.ConnectedConstraints(member)...)
			}
		}
		c.deleteConstraints(cons)
		for _, id := range batch {
			n := g.Node(id)
			if n == nil || g.onLiveCurve(n) {
				continue
			}
			if g.familyConnections(id) == 0 {
				c.deleteGeometry(n)
			}
		}
	}
}

// deleteConstraints deletes constraints, promoting composite parts to their
// composite. It returns geometry that lost a connection.
func (c *cascade) deleteConstraints(ids []NodeID) []NodeID {
	g := c.g
	var touched []NodeID
	work := append([]NodeID(nil), ids...)
	for len(work) > 0 {
		id := work[0]
		work = work[1:]
		n := g.Node(id)
		if n == nil {
			continue
		}
		switch d := n.Data.(type) {
		case *ConstraintData:
			if !d.Composite.IsZero() && g.Node(d.Composite) != nil {
				if !c.promoted[d.Composite] {
					c.promoted[d.Composite] = true
					work = append(work, d.Composite)
				}
				continue
			}
			if d.Explicit != nil {
				g.releaseExplicit(d.Explicit)
			}
			touched = append(touched, c.detach(n, d.Implied)...)
			c.removeNode(n)
		case *CompositeData:
			for _, p := range d.Parts {
				pn := g.Node(p)
				if pn == nil {
					continue
				}
				pn.Constraint().Composite = ZeroID
				g.disconnect(n.ID, p)
				work = append(work, p)
			}
			c.removeNode(n)
		}
	}
	return touched
}

// detach drops a constraint's connections. Geometry left without any
// connection, and construction lines that lose an implied binding, are
// queued; an implicit point stands in for its curve.
func (c *cascade) detach(n *Node, implied bool) []NodeID {
	g := c.g
	var touched []NodeID
	for _, id := range n.Connections() {
		nb := g.Node(id)
		g.disconnect(n.ID, id)
		if nb == nil {
			continue
		}
		switch {
		case nb.Kind == KindHelperParameter:
			if nb.ConnectionCount() == 0 {
				c.removeNode(nb)
			}
		case nb.Kind.IsGeometry():
			owner := nb
			if nb.Kind == KindImplicitPoint {
				if cn := g.Node(nb.Geometry().Curve); cn != nil {
					owner = cn
				}
			}
			touched = append(touched, owner.ID)
			if g.familyConnections(owner.ID) == 0 || (implied && owner.Kind == KindConstructionLine) {
				c.queue(owner.ID)
			}
		}
	}
	return touched
}

// deleteGeometry removes a geometry node with its implicit points and drops
// it from any rigid set.
func (c *cascade) deleteGeometry(n *Node) {
	g := c.g
	gd := n.Geometry()
	for _, pid := range gd.Points {
		if pn := g.Node(pid); pn != nil {
			c.removeNode(pn)
		}
	}
	for _, rs := range g.nodes {
		if rs == nil || rs.Kind != KindRigidSet || rs.ID == n.ID {
			continue
		}
		rd := rs.Geometry()
		for i, m := range rd.Members {
			if m == n.ID {
				rd.Members = append(rd.Members[:i], rd.Members[i+1:]...)
				break
			}
		}
		if len(rd.Members) == 0 {
			c.queue(rs.ID)
		}
	}
	c.removeNode(n)
}

// removeNode drops a node from the arena and releases its geometry
// dependency.
func (c *cascade) removeNode(n *Node) {
	g := c.g
	for _, id := range n.Connections() {
		g.disconnect(n.ID, id)
	}
	if gd := n.Geometry(); gd != nil && gd.Dep != 0 {
		g.host.RemoveDependency(gd.Dep)
	}
	for axis, id := range g.datum {
		if id == n.ID {
			g.datum[axis] = ZeroID
		}
	}
	g.nodes[n.ID] = nil
	g.count--
	c.deleted++
}

// releaseExplicit removes the value and dimension dependencies of an
// explicit constraint, erasing the dimension entity when the host asks to.
func (g *Group) releaseExplicit(d *Dimension) {
	if d.Dim != 0 {
		if dep, ok := g.host.Dependency(d.Dim); ok && g.host.ErasesDimensions() {
			g.host.EraseEntity(dep.Dimension)
		}
		g.host.RemoveDependency(d.Dim)
	}
	if d.Value != 0 {
		g.host.RemoveDependency(d.Value)
	}
}

// family returns a curve with its implicit points; other geometry alone.
func (g *Group) family(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	out := []NodeID{id}
	if gd := n.Geometry(); gd != nil {
		out = append(out, gd.Points...)
	}
	return out
}

// familyConnections counts the connections of a geometry and its implicit
// points.
func (g *Group) familyConnections(id NodeID) int {
	total := 0
	for _, m := range g.family(id) {
		if n := g.Node(m); n != nil {
			total += n.ConnectionCount()
		}
	}
	return total
}

// onLiveCurve reports whether n is an implicit point whose curve exists.
func (g *Group) onLiveCurve(n *Node) bool {
	if n.Kind != KindImplicitPoint {
		return false
	}
	return g.Node(n.Geometry().Curve) != nil
}

// countsAsReference reports whether a constraint keeps its geometry alive:
// it is user authored, or it belongs to a user-authored composite.
func (g *Group) countsAsReference(n *Node) bool {
	d := n.Constraint()
	if d == nil || d.Implied {
		return false
	}
	if d.Composite.IsZero() {
		return true
	}
	comp := g.Node(d.Composite)
	return comp != nil && !comp.Composite().Implied
}

// referencedSet computes the geometry referenced by user constraints. A curve
// and its implicit points share their status, as do a rigid set and its
// members.
func (g *Group) referencedSet() map[NodeID]bool {
	ref := make(map[NodeID]bool)
	for _, n := range g.nodes {
		if n == nil || !n.Kind.IsConstraint() || !g.countsAsReference(n) {
			continue
		}
		for _, a := range g.ConnectedGeometries(n.ID) {
			ref[a] = true
		}
	}
	for changed := true; changed; {
		changed = false
		mark := func(id NodeID) {
			if !ref[id] {
				ref[id] = true
				changed = true
			}
		}
		for _, n := range g.nodes {
			if n == nil || !n.Kind.IsGeometry() {
				continue
			}
			gd := n.Geometry()
			switch n.Kind {
			case KindImplicitPoint:
				if ref[n.ID] {
					mark(gd.Curve)
				} else if ref[gd.Curve] {
					mark(n.ID)
				}
			case KindRigidSet:
				for _, m := range gd.Members {
					if ref[n.ID] {
						mark(m)
					} else if ref[m] {
						mark(n.ID)
					}
				}
			}
		}
	}
	return ref
}

// unreferenced lists geometry that no user constraint keeps alive.
func (g *Group) unreferenced() []NodeID {
	ref := g.referencedSet()
	var out []NodeID
	for _, n := range g.nodes {
		if n == nil || !n.Kind.IsGeometry() || ref[n.ID] || g.onLiveCurve(n) {
			continue
		}
		out = append(out, n.ID)
	}
	return out
}
