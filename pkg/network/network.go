// Package network is the host-side associativity model that constraint
// groups live in: drawing entities, the dependencies that bind actions to
// them, named value variables, and the identity map produced by copy
// operations. It stands in for the host CAD database and is not safe for
// concurrent use.
package network

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/sketchgraph/pkg/geom"
)

// ObjectID is a persistent object identity in the host database.
type ObjectID int64

// Policy holds host-level behavior switches.
type Policy struct {
	// EraseDimensionIfDependencyErased erases a drawn dimension entity when
	// the explicit constraint driving it is deleted.
	EraseDimensionIfDependencyErased bool
}

// Action is an evaluable member of the network (a constraint group or a
// value variable).
type Action interface {
	ActionID() ObjectID
}

// Entity is a drawing entity with one or more edge shapes. A polyline-like
// entity has several edges whose endpoints are shared.
type Entity struct {
	ID       ObjectID
	Edges    []geom.Shape
	Polyline bool

	// Dimension entities only.
	Dimension   bool
	Measurement float64
	Stale       bool
}

// Path addresses a curve edge of an entity, or an implicit point on it.
type Path struct {
	Entity ObjectID
	Edge   int
	Point  geom.PointRef
}

// Curve returns the path of the edge that owns the addressed point.
func (p Path) Curve() Path {
	p.Point = geom.PointRef{}
	return p
}

// IsPoint reports whether the path addresses an implicit point.
func (p Path) IsPoint() bool {
	return p.Point.Type != geom.PointNone
}

// At returns the path of an implicit point on this curve path.
func (p Path) At(ref geom.PointRef) Path {
	p.Point = ref
	return p
}

func (p Path) String() string {
	if p.IsPoint() {
		return fmt.Sprintf("%d/%d/%s", p.Entity, p.Edge, p.Point)
	}
	return fmt.Sprintf("%d/%d", p.Entity, p.Edge)
}

// Network is the container for entities, dependencies and actions.
type Network struct {
	ID     ObjectID
	Policy Policy

	next      ObjectID
	entities  map[ObjectID]*Entity
	deps      map[ObjectID]*Dependency
	actions   map[ObjectID]Action
	variables map[ObjectID]*Variable
}

// New creates an empty network.
func New(policy Policy) *Network {
	n := &Network{
		Policy:    policy,
		entities:  make(map[ObjectID]*Entity),
		deps:      make(map[ObjectID]*Dependency),
		actions:   make(map[ObjectID]Action),
		variables: make(map[ObjectID]*Variable),
	}
	n.ID = n.NewID()
	return n
}

// ErasesDimensions reports the EraseDimensionIfDependencyErased policy.
func (n *Network) ErasesDimensions() bool { return n.Policy.EraseDimensionIfDependencyErased }

// NewID allocates a fresh object identity.
func (n *Network) NewID() ObjectID {
	n.next++
	return n.next
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// AddEntity adds a drawing entity with the given edges. Entities with more
// than one edge are treated as polyline-like.
func (n *Network) AddEntity(edges ...geom.Shape) ObjectID {
	id := n.NewID()
	n.entities[id] = &Entity{ID: id, Edges: edges, Polyline: len(edges) > 1}
	return id
}

// AddDimension adds a drawn dimension entity.
func (n *Network) AddDimension(measurement float64) ObjectID {
	id := n.NewID()
	n.entities[id] = &Entity{ID: id, Dimension: true, Measurement: measurement}
	return id
}

// Entity returns the entity with the given id.
func (n *Network) Entity(id ObjectID) (*Entity, bool) {
	e, ok := n.entities[id]
	return e, ok
}

// Entities returns all entity ids in ascending order.
func (n *Network) Entities() []ObjectID {
	ids := make([]ObjectID, 0, len(n.entities))
	for id := range n.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EraseEntity removes an entity from the drawing.
func (n *Network) EraseEntity(id ObjectID) {
	delete(n.entities, id)
}

// Shape resolves a path to its current shape. Point paths resolve to a
// geom.Point at the implicit point position.
func (n *Network) Shape(p Path) (geom.Shape, error) {
	e, ok := n.entities[p.Entity]
	if !ok {
		return nil, fmt.Errorf("network: entity %d not found", p.Entity)
	}
	if p.Edge < 0 || p.Edge >= len(e.Edges) {
		return nil, fmt.Errorf("network: entity %d has no edge %d", p.Entity, p.Edge)
	}
	s := e.Edges[p.Edge]
	if !p.IsPoint() {
		return s, nil
	}
	pt, ok := geom.ImplicitPoint(s, p.Point)
	if !ok {
		return nil, fmt.Errorf("network: %s has no %s point", s.Kind(), p.Point)
	}
	return geom.Point{P: pt}, nil
}

// SetShape replaces an edge shape, as a user edit would, and flags every
// geometry dependency on that edge as modified.
func (n *Network) SetShape(entity ObjectID, edge int, s geom.Shape) error {
	e, ok := n.entities[entity]
	if !ok {
		return fmt.Errorf("network: entity %d not found", entity)
	}
	if edge < 0 || edge >= len(e.Edges) {
		return fmt.Errorf("network: entity %d has no edge %d", entity, edge)
	}
	e.Edges[edge] = s
	for _, d := range n.deps {
		if d.Kind == DepGeometry && d.Path.Entity == entity && d.Path.Edge == edge {
			d.Modified = true
		}
	}
	return nil
}

// WriteShape stores an evaluated shape without flagging it as a user edit.
func (n *Network) WriteShape(p Path, s geom.Shape) error {
	e, ok := n.entities[p.Entity]
	if !ok {
		return fmt.Errorf("network: entity %d not found", p.Entity)
	}
	if p.Edge < 0 || p.Edge >= len(e.Edges) {
		return fmt.Errorf("network: entity %d has no edge %d", p.Entity, p.Edge)
	}
	e.Edges[p.Edge] = s
	return nil
}

// MarkDimensionStale flags a dimension entity for recompute.
func (n *Network) MarkDimensionStale(id ObjectID) {
	if e, ok := n.entities[id]; ok && e.Dimension {
		e.Stale = true
	}
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// AttachAction registers an action under its own id.
func (n *Network) AttachAction(a Action) {
	n.actions[a.ActionID()] = a
}

// RemoveAction detaches an action. Dependencies it still owns are removed.
func (n *Network) RemoveAction(id ObjectID) {
	for _, d := range n.Dependencies(id) {
		n.RemoveDependency(d.ID)
	}
	delete(n.actions, id)
	delete(n.variables, id)
}

// Action returns the action with the given id.
func (n *Network) Action(id ObjectID) (Action, bool) {
	a, ok := n.actions[id]
	return a, ok
}

// HasAction reports whether an action is attached.
func (n *Network) HasAction(id ObjectID) bool {
	_, ok := n.actions[id]
	return ok
}

// Actions returns all actions ordered by id.
func (n *Network) Actions() []Action {
	out := make([]Action, 0, len(n.actions))
	for _, a := range n.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionID() < out[j].ActionID() })
	return out
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Variable is a named (or anonymous) numeric parameter. Expression, when
// set, is evaluated by the expression engine and overrides Value.
type Variable struct {
	ID         ObjectID
	Name       string
	Expression string
	Value      float64
}

// ActionID implements Action.
func (v *Variable) ActionID() ObjectID { return v.ID }

// AddVariable creates a value variable action.
func (n *Network) AddVariable(name, expr string, value float64) *Variable {
	v := &Variable{ID: n.NewID(), Name: name, Expression: expr, Value: value}
	n.variables[v.ID] = v
	n.actions[v.ID] = v
	return v
}

// Variable returns the variable with the given id.
func (n *Network) Variable(id ObjectID) (*Variable, bool) {
	v, ok := n.variables[id]
	return v, ok
}

// Variables returns all variables ordered by id.
func (n *Network) Variables() []*Variable {
	out := make([]*Variable, 0, len(n.variables))
	for _, v := range n.variables {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VariableByName looks a named variable up case-insensitively.
func (n *Network) VariableByName(name string) (*Variable, bool) {
	if name == "" {
		return nil, false
	}
	for _, v := range n.Variables() {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return nil, false
}

// ValueDependents returns the value dependencies reading a variable.
func (n *Network) ValueDependents(id ObjectID) []*Dependency {
	var out []*Dependency
	for _, d := range n.sortedDeps() {
		if d.Kind == DepValue && d.Variable == id {
			out = append(out, d)
		}
	}
	return out
}

// ExpressionDependents returns the variables whose expressions reference
// the named variable.
func (n *Network) ExpressionDependents(id ObjectID) []*Variable {
	v, ok := n.variables[id]
	if !ok || v.Name == "" {
		return nil
	}
	var out []*Variable
	for _, o := range n.Variables() {
		if o.ID == id || o.Expression == "" {
			continue
		}
		for _, ref := range References(o.Expression) {
			if strings.EqualFold(ref, v.Name) {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// RenameVariable renames a variable and rewrites every expression that
// referenced it by its old name.
func (n *Network) RenameVariable(id ObjectID, name string) error {
	v, ok := n.variables[id]
	if !ok {
		return fmt.Errorf("network: variable %d not found", id)
	}
	for _, dep := range n.ExpressionDependents(id) {
		dep.Expression = ReplaceReference(dep.Expression, v.Name, name)
	}
	v.Name = name
	return nil
}

// RepointDependents moves every dependent of variable from to variable to.
func (n *Network) RepointDependents(from, to ObjectID) error {
	src, ok := n.variables[from]
	if !ok {
		return fmt.Errorf("network: variable %d not found", from)
	}
	dst, ok := n.variables[to]
	if !ok {
		return fmt.Errorf("network: variable %d not found", to)
	}
	for _, d := range n.ValueDependents(from) {
		d.Variable = to
	}
	for _, o := range n.ExpressionDependents(from) {
		o.Expression = ReplaceReference(o.Expression, src.Name, dst.Name)
	}
	return nil
}

// EraseVariable removes a variable action.
func (n *Network) EraseVariable(id ObjectID) {
	delete(n.variables, id)
	delete(n.actions, id)
}
