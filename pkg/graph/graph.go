package graph

import (
	"sort"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/network"
)

// pointTolerance is the distance under which two endpoints are shared.
const pointTolerance = 1e-9

// Host is the slice of the host object model a group needs.
type Host interface {
	NewID() network.ObjectID
	AttachAction(a network.Action)
	RemoveAction(id network.ObjectID)
	HasAction(id network.ObjectID) bool

	Entity(id network.ObjectID) (*network.Entity, bool)
	EraseEntity(id network.ObjectID)
	Shape(p network.Path) (geom.Shape, error)

	AddGeomDependency(owner network.ObjectID, p network.Path) *network.Dependency
	AddValueDependency(owner, variable network.ObjectID) *network.Dependency
	AddDimDependency(owner, dimension network.ObjectID) *network.Dependency
	AddVariable(name, expr string, value float64) *network.Variable
	Variable(id network.ObjectID) (*network.Variable, bool)
	Dependency(id network.ObjectID) (*network.Dependency, bool)
	Dependencies(owner network.ObjectID) []*network.Dependency
	RemoveDependency(id network.ObjectID)
	SetOwner(id, owner network.ObjectID) error
	ErasesDimensions() bool
}

// Option configures a Group.
type Option func(*Group)

// WithLogger sets the group's logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Group) { g.log = l }
}

// Group is one constraint graph: all constrained geometry and constraints
// of one planar sketch. Nodes live in an arena indexed by NodeID.
type Group struct {
	Plane Plane

	id     network.ObjectID
	host   Host
	seq    NodeID
	nodes  []*Node // index is NodeID; nil for deleted ids
	count  int
	datum  [2]NodeID // X and Y datum lines
	erased bool
	log    *zap.Logger
}

// NewGroup creates an empty group and attaches it to the host network.
func NewGroup(host Host, plane Plane, opts ...Option) *Group {
	g := newGroup(host, host.NewID(), plane, opts...)
	host.AttachAction(g)
	return g
}

func newGroup(host Host, id network.ObjectID, plane Plane, opts ...Option) *Group {
	g := &Group{
		Plane: plane,
		id:    id,
		host:  host,
		nodes: []*Node{nil},
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.With(zap.Int64("group", int64(id)))
	return g
}

// ActionID implements network.Action.
func (g *Group) ActionID() network.ObjectID { return g.id }

// ID returns the group's object id.
func (g *Group) ID() network.ObjectID { return g.id }

// Host returns the network the group belongs to.
func (g *Group) Host() Host { return g.host }

// Logger returns the group's logger.
func (g *Group) Logger() *zap.Logger { return g.log }

// Erased reports whether the group emptied and left its network.
func (g *Group) Erased() bool { return g.erased }

// Seq returns the node sequence counter.
func (g *Group) Seq() NodeID { return g.seq }

// NodeCount returns the number of live nodes.
func (g *Group) NodeCount() int { return g.count }

// Node returns the node with the given id, or nil.
func (g *Group) Node(id NodeID) *Node {
	if id <= 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns all live nodes in id order.
func (g *Group) Nodes() []*Node {
	out := make([]*Node, 0, g.count)
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Dependencies returns the ids of the dependencies the group owns.
func (g *Group) Dependencies() []network.ObjectID {
	deps := g.host.Dependencies(g.id)
	ids := make([]network.ObjectID, len(deps))
	for i, d := range deps {
		ids[i] = d.ID
	}
	return ids
}

// tieNode allocates the next id and registers the node with the group.
func (g *Group) tieNode(kind NodeKind, data NodeData) *Node {
	g.seq++
	n := &Node{ID: g.seq, Kind: kind, Group: g.id, Data: data}
	for int(g.seq) >= len(g.nodes) {
		g.nodes = append(g.nodes, nil)
	}
	g.nodes[g.seq] = n
	g.count++
	return n
}

func (g *Group) connect(a, b NodeID) {
	g.nodes[a].addConn(b)
	g.nodes[b].addConn(a)
}

func (g *Group) disconnect(a, b NodeID) {
	if n := g.Node(a); n != nil {
		n.removeConn(b)
	}
	if n := g.Node(b); n != nil {
		n.removeConn(a)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Constraints returns constraint nodes in id order. Internal constraints
// (implied or owned by a composite) are included only on request.
func (g *Group) Constraints(includeInternal bool) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n == nil || !(n.Kind.IsConstraint() || n.Kind == KindComposite) {
			continue
		}
		if !includeInternal && n.IsInternal() {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ConstraintsOfKind returns non-internal constraints of one kind.
func (g *Group) ConstraintsOfKind(kind NodeKind) []*Node {
	var out []*Node
	for _, n := range g.Constraints(false) {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// ConstrainedGeometries returns geometry nodes in id order.
func (g *Group) ConstrainedGeometries() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n != nil && n.Kind.IsGeometry() {
			out = append(out, n)
		}
	}
	return out
}

// ConnectedConstraints returns the constraints attached to a geometry.
func (g *Group) ConnectedConstraints(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	for _, c := range n.conns {
		if cn := g.Node(c); cn != nil && cn.Kind.IsConstraint() {
			out = append(out, c)
		}
	}
	return out
}

// CommonConstraints returns the constraints connected to both a and b.
func (g *Group) CommonConstraints(a, b NodeID) []NodeID {
	ca := g.ConnectedConstraints(a)
	cb := g.ConnectedConstraints(b)
	var out []NodeID
	i, j := 0, 0
	for i < len(ca) && j < len(cb) {
		switch {
		case ca[i] == cb[j]:
			out = append(out, ca[i])
			i++
			j++
		case ca[i] < cb[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// ConnectedGeometries returns the geometry directly connected to a
// constraint.
func (g *Group) ConnectedGeometries(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	for _, c := range n.conns {
		if gn := g.Node(c); gn != nil && gn.Kind.IsGeometry() {
			out = append(out, c)
		}
	}
	return out
}

// GeometryByDep returns the geometry bound to a geometry dependency.
func (g *Group) GeometryByDep(dep network.ObjectID) *Node {
	if dep == 0 {
		return nil
	}
	for _, n := range g.nodes {
		if n != nil {
			if gd := n.Geometry(); gd != nil && gd.Dep == dep {
				return n
			}
		}
	}
	return nil
}

// PathOf returns the host path of a geometry node. Implicit points resolve
// through their curve.
func (g *Group) PathOf(id NodeID) (network.Path, bool) {
	n := g.Node(id)
	if n == nil {
		return network.Path{}, false
	}
	gd := n.Geometry()
	if gd == nil {
		return network.Path{}, false
	}
	if n.Kind == KindImplicitPoint {
		p, ok := g.PathOf(gd.Curve)
		if !ok {
			return network.Path{}, false
		}
		return p.At(gd.Point), true
	}
	if gd.Dep == 0 {
		return network.Path{}, false
	}
	d, ok := g.host.Dependency(gd.Dep)
	if !ok {
		return network.Path{}, false
	}
	return d.Path, true
}

// ImplicitPoint returns the implicit point ref of curve, or nil.
func (g *Group) ImplicitPoint(curve NodeID, ref geom.PointRef) *Node {
	c := g.Node(curve)
	if c == nil || c.Geometry() == nil {
		return nil
	}
	for _, pid := range c.Geometry().Points {
		if p := g.Node(pid); p != nil && p.Geometry().Point == ref {
			return p
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Geometry
// ---------------------------------------------------------------------------

// classifyShape maps a host shape to a geometry node kind.
func classifyShape(s geom.Shape) (NodeKind, bool, error) {
	switch c := s.(type) {
	case geom.Point:
		return KindPoint, false, nil
	case geom.Line:
		return KindLine, false, nil
	case geom.Ray:
		return KindBoundedLine, true, nil
	case geom.Segment:
		return KindBoundedLine, false, nil
	case geom.CircArc:
		if c.Closed {
			return KindCircle, false, nil
		}
		return KindArc, false, nil
	case geom.EllipArc:
		if c.Closed {
			return KindEllipse, false, nil
		}
		return KindBoundedEllipse, false, nil
	case geom.Spline:
		if err := c.Validate(); err != nil {
			return KindInvalid, false, errors.Wrap(ErrBadGeometryType, err.Error())
		}
		return KindSpline, false, nil
	}
	return KindInvalid, false, errors.Wrapf(ErrBadGeometryType, "shape kind %s", s.Kind())
}

// AddGeometry adds the geometry at a host path, deriving its implicit points
// and synthesizing internal coincidences with neighboring edges of the same
// polyline-like entity. Adding a path that is already present returns the
// existing node. Point paths add the owning curve and return the point.
func (g *Group) AddGeometry(p network.Path) (*Node, error) {
	if g.erased {
		return nil, ErrErased
	}
	if p.IsPoint() {
		curve, err := g.AddGeometry(p.Curve())
		if err != nil {
			return nil, err
		}
		return g.implicitPoint(curve, p.Point, true)
	}
	if n, err := g.Geometry(p, false); err == nil {
		return n, nil
	}
	shape, err := g.host.Shape(p)
	if err != nil {
		return nil, errors.Wrapf(ErrBadGeometryType, "resolve %s: %v", p, err)
	}
	kind, ray, err := classifyShape(shape)
	if err != nil {
		return nil, err
	}
	dep := g.host.AddGeomDependency(g.id, p)
	n := g.tieNode(kind, &GeometryData{Dep: dep.ID, Shape: shape, Ray: ray})
	for _, ref := range geom.AutoPoints(shape) {
		g.addImplicit(n, ref)
	}
	g.log.Debug("geometry added",
		zap.Int32("node", int32(n.ID)),
		zap.Stringer("kind", n.Kind),
		zap.Stringer("path", p))

	if e, ok := g.host.Entity(p.Entity); ok && e.Polyline {
		g.joinPolylineNeighbors(n, p, e)
	}
	return n, nil
}

// Resolvable reports the error AddGeometry would return for p without
// changing g.
func (g *Group) Resolvable(p network.Path) error {
	if g.erased {
		return ErrErased
	}
	var shape geom.Shape
	if n, err := g.Geometry(p.Curve(), false); err == nil {
		shape = n.Geometry().Shape
	} else {
		s, err := g.host.Shape(p.Curve())
		if err != nil {
			return errors.Wrapf(ErrBadGeometryType, "resolve %s: %v", p, err)
		}
		if _, _, err := classifyShape(s); err != nil {
			return err
		}
		shape = s
	}
	if !p.IsPoint() {
		return nil
	}
	if p.Point.Type == geom.PointMid && geom.SupportsMid(shape) {
		return nil
	}
	for _, ref := range geom.AutoPoints(shape) {
		if ref == p.Point {
			return nil
		}
	}
	return errors.Wrapf(ErrBadObjectType, "%s has no %s point", shape.Kind(), p.Point)
}

// joinPolylineNeighbors adds implied coincidences between n's end points and
// the matching end points of other edges of the same entity.
func (g *Group) joinPolylineNeighbors(n *Node, p network.Path, e *network.Entity) {
	ends := []geom.PointRef{{Type: geom.PointStart}, {Type: geom.PointEnd}}
	for edge := range e.Edges {
		if edge == p.Edge {
			continue
		}
		other, err := g.Geometry(network.Path{Entity: p.Entity, Edge: edge}, false)
		if err != nil {
			continue
		}
		for _, ra := range ends {
			pa := g.ImplicitPoint(n.ID, ra)
			if pa == nil {
				continue
			}
			for _, rb := range ends {
				pb := g.ImplicitPoint(other.ID, rb)
				if pb == nil {
					continue
				}
				if !samePosition(pa, pb) {
					continue
				}
				if _, err := g.addConstraint(KindCoincident, []NodeID{pa.ID, pb.ID}, true); err != nil {
					g.log.Warn("polyline coincidence rejected", zap.Error(err))
				}
			}
		}
	}
}

func samePosition(a, b *Node) bool {
	pa, ok1 := a.Geometry().Shape.(geom.Point)
	pb, ok2 := b.Geometry().Shape.(geom.Point)
	return ok1 && ok2 && pa.P.Sub(pb.P).Length() <= pointTolerance*(1+pa.P.Length())
}

// addImplicit creates an implicit point node on curve n.
func (g *Group) addImplicit(n *Node, ref geom.PointRef) *Node {
	cd := n.Geometry()
	pos, _ := geom.ImplicitPoint(cd.Shape, ref)
	pn := g.tieNode(KindImplicitPoint, &GeometryData{
		Shape: geom.Point{P: pos},
		Curve: n.ID,
		Point: ref,
	})
	cd.Points = append(cd.Points, pn.ID)
	return pn
}

// implicitPoint finds, and when allowed lazily creates, an implicit point.
func (g *Group) implicitPoint(curve *Node, ref geom.PointRef, create bool) (*Node, error) {
	if pn := g.ImplicitPoint(curve.ID, ref); pn != nil {
		return pn, nil
	}
	if create && ref.Type == geom.PointMid && geom.SupportsMid(curve.Geometry().Shape) {
		return g.addImplicit(curve, ref), nil
	}
	return nil, errors.Wrapf(ErrBadObjectType, "%s has no %s point", curve.Kind, ref)
}

// Geometry locates the geometry at a host path. Point paths resolve against
// the owning curve's implicit points; createMid allows a Mid point to be
// created on demand for segments and arcs.
func (g *Group) Geometry(p network.Path, createMid bool) (*Node, error) {
	var curve *Node
	want := p.Curve()
	for _, d := range g.host.Dependencies(g.id) {
		if d.Kind == network.DepGeometry && d.Path == want {
			curve = g.GeometryByDep(d.ID)
			break
		}
	}
	if curve == nil {
		return nil, errors.Wrapf(ErrBadObjectType, "no geometry at %s", p)
	}
	if !p.IsPoint() {
		return curve, nil
	}
	return g.implicitPoint(curve, p.Point, createMid)
}

// RemoveGeometry deletes a geometry node through the deletion cascade.
func (g *Group) RemoveGeometry(id NodeID) error {
	n := g.Node(id)
	if n == nil || !n.Kind.IsGeometry() {
		return errors.Wrapf(ErrNotFound, "geometry %s", id)
	}
	return g.DeleteNodes(nil, []NodeID{id})
}

// RemoveGeometryByDep deletes the geometry bound to a dependency.
func (g *Group) RemoveGeometryByDep(dep network.ObjectID) error {
	n := g.GeometryByDep(dep)
	if n == nil {
		return errors.Wrapf(ErrNotFound, "geometry dependency %d", dep)
	}
	return g.DeleteNodes(nil, []NodeID{n.ID})
}

// Discard drops the node table, detaches every dependency the group still
// owns and removes the group from its network. Drawn dimension entities are
// left in place.
func (g *Group) Discard() {
	for _, d := range g.Dependencies() {
		g.host.RemoveDependency(d)
	}
	g.nodes = nil
	g.count = 0
	g.datum = [2]NodeID{}
	g.erased = true
	g.host.RemoveAction(g.id)
	g.log.Debug("group discarded")
}

// SetShape records an evaluated shape on a geometry node and refreshes its
// implicit points.
func (g *Group) SetShape(id NodeID, s geom.Shape) {
	n := g.Node(id)
	if n == nil || n.Geometry() == nil {
		return
	}
	gd := n.Geometry()
	gd.Shape = s
	gd.PostEvaluate = true
	for _, pid := range gd.Points {
		pn := g.Node(pid)
		if pn == nil {
			continue
		}
		if pos, ok := geom.ImplicitPoint(s, pn.Geometry().Point); ok {
			pn.Geometry().Shape = geom.Point{P: pos}
			pn.Geometry().PostEvaluate = true
		}
	}
}

// datumLine returns the shared read-only X (axis 0) or Y (axis 1) datum
// line, creating it on first use.
func (g *Group) datumLine(axis int) *Node {
	if n := g.Node(g.datum[axis]); n != nil {
		return n
	}
	dir := v2.Vec{X: 1}
	if axis == 1 {
		dir = v2.Vec{Y: 1}
	}
	n := g.tieNode(KindDatumLine, &GeometryData{Shape: geom.Line{Dir: dir}})
	g.datum[axis] = n.ID
	return n
}

// AddConstructionLine adds a two-point construction line through the points
// a and b, bound to them by implied point-on-curve constraints.
func (g *Group) AddConstructionLine(a, b NodeID) (*Node, error) {
	pa, pb := g.Node(a), g.Node(b)
	if pa == nil || pb == nil {
		return nil, errors.Wrap(ErrNotFound, "construction line points")
	}
	if !pa.Kind.IsPoint() || !pb.Kind.IsPoint() {
		return nil, errors.Wrap(ErrNotApplicable, "construction line needs two points")
	}
	if a == b {
		return nil, ErrSelfConstraint
	}
	sa := pa.Geometry().Shape.(geom.Point).P
	sb := pb.Geometry().Shape.(geom.Point).P
	d := sb.Sub(sa)
	if d.Length() == 0 {
		return nil, errors.Wrap(ErrNotApplicable, "construction line points coincide")
	}
	n := g.tieNode(KindConstructionLine, &GeometryData{Shape: geom.Line{Origin: sa, Dir: d.Normalize()}})
	for _, p := range []NodeID{a, b} {
		if _, err := g.addConstraint(KindPointCurve, []NodeID{p, n.ID}, true); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// AddRigidSet groups geometry that moves as one rigid body.
func (g *Group) AddRigidSet(members ...NodeID) (*Node, error) {
	if len(members) == 0 {
		return nil, errors.Wrap(ErrNotApplicable, "empty rigid set")
	}
	seen := make(map[NodeID]bool)
	for _, m := range members {
		n := g.Node(m)
		if n == nil || !n.Kind.IsGeometry() || n.Kind == KindRigidSet || n.Kind == KindDatumLine {
			return nil, errors.Wrapf(ErrNotApplicable, "rigid set member %s", m)
		}
		if seen[m] {
			return nil, ErrSelfConstraint
		}
		seen[m] = true
	}
	ms := append([]NodeID(nil), members...)
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
	return g.tieNode(KindRigidSet, &GeometryData{Members: ms}), nil
}
