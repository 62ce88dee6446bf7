package network

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DepKind distinguishes dependency flavors.
type DepKind int

const (
	DepGeometry  DepKind = iota + 1 // binds an action to an entity edge or point
	DepValue                        // reads a value variable
	DepDimension                    // drives a drawn dimension entity
)

func (k DepKind) String() string {
	switch k {
	case DepGeometry:
		return "geometry"
	case DepValue:
		return "value"
	case DepDimension:
		return "dimension"
	default:
		return fmt.Sprintf("DepKind(%d)", int(k))
	}
}

// Dependency links an owning action to a host object.
type Dependency struct {
	ID    ObjectID
	Kind  DepKind
	Owner ObjectID

	// DependentOn is an optional back-link to another dependency this one
	// was derived from. Changing Owner always clears it.
	DependentOn ObjectID

	Path     Path // DepGeometry
	Modified bool // DepGeometry: edited since the last evaluation

	Variable ObjectID // DepValue

	Dimension ObjectID // DepDimension

	// PostEvaluate is set when the owner changed the dependency's object
	// and dependent entities must be refreshed.
	PostEvaluate bool
}

func (n *Network) addDep(d *Dependency) *Dependency {
	d.ID = n.NewID()
	n.deps[d.ID] = d
	return d
}

// AddGeomDependency creates a geometry dependency owned by owner.
func (n *Network) AddGeomDependency(owner ObjectID, p Path) *Dependency {
	return n.addDep(&Dependency{Kind: DepGeometry, Owner: owner, Path: p})
}

// AddValueDependency creates a value dependency reading variable.
func (n *Network) AddValueDependency(owner, variable ObjectID) *Dependency {
	return n.addDep(&Dependency{Kind: DepValue, Owner: owner, Variable: variable})
}

// AddDimDependency creates a dimension dependency on a dimension entity.
func (n *Network) AddDimDependency(owner, dimension ObjectID) *Dependency {
	return n.addDep(&Dependency{Kind: DepDimension, Owner: owner, Dimension: dimension})
}

// Dependency returns the dependency with the given id.
func (n *Network) Dependency(id ObjectID) (*Dependency, bool) {
	d, ok := n.deps[id]
	return d, ok
}

// Dependencies returns the dependencies owned by an action, ordered by id.
func (n *Network) Dependencies(owner ObjectID) []*Dependency {
	var out []*Dependency
	for _, d := range n.sortedDeps() {
		if d.Owner == owner {
			out = append(out, d)
		}
	}
	return out
}

func (n *Network) sortedDeps() []*Dependency {
	out := make([]*Dependency, 0, len(n.deps))
	for _, d := range n.deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveDependency erases a dependency. Removing the last reader of an
// unreferenced variable erases the variable action too.
func (n *Network) RemoveDependency(id ObjectID) {
	d, ok := n.deps[id]
	if !ok {
		return
	}
	delete(n.deps, id)
	if d.Kind != DepValue {
		return
	}
	if len(n.ValueDependents(d.Variable)) == 0 && len(n.ExpressionDependents(d.Variable)) == 0 {
		n.EraseVariable(d.Variable)
	}
}

// SetOwner moves a dependency to another action. The dependent-on link is
// always cleared when group membership changes.
func (n *Network) SetOwner(id, owner ObjectID) error {
	d, ok := n.deps[id]
	if !ok {
		return fmt.Errorf("network: dependency %d not found", id)
	}
	d.Owner = owner
	d.DependentOn = 0
	return nil
}

// Value returns the current value read by a value dependency.
func (n *Network) Value(id ObjectID) (float64, error) {
	d, ok := n.deps[id]
	if !ok || d.Kind != DepValue {
		return 0, fmt.Errorf("network: value dependency %d not found", id)
	}
	v, ok := n.variables[d.Variable]
	if !ok {
		return 0, fmt.Errorf("network: variable %d of dependency %d not found", d.Variable, id)
	}
	return v.Value, nil
}

// ClearModified resets the edit flags of every geometry dependency of owner.
func (n *Network) ClearModified(owner ObjectID) {
	for _, d := range n.Dependencies(owner) {
		d.Modified = false
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// exprBuiltins are operator and function names that never name variables.
var exprBuiltins = map[string]bool{
	"sqrt": true, "sin": true, "cos": true, "tan": true, "abs": true,
	"min": true, "max": true, "pow": true, "pi": true, "mod": true,
	"float": true, "int": true, "round": true, "floor": true, "ceil": true,
}

// References lists the variable names an expression mentions.
func References(expr string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range identPattern.FindAllString(expr, -1) {
		lm := strings.ToLower(m)
		if exprBuiltins[lm] || seen[lm] {
			continue
		}
		seen[lm] = true
		out = append(out, m)
	}
	return out
}

// ReplaceReference rewrites whole-word, case-insensitive occurrences of
// name in expr.
func ReplaceReference(expr, name, replacement string) string {
	return identPattern.ReplaceAllStringFunc(expr, func(m string) string {
		if strings.EqualFold(m, name) {
			return replacement
		}
		return m
	})
}

// ---------------------------------------------------------------------------
// Identity map
// ---------------------------------------------------------------------------

// IDPair records what became of a source object during a copy.
type IDPair struct {
	Dest   ObjectID
	Cloned bool
	Erased bool
}

// IDMap maps source object ids to their copies.
type IDMap map[ObjectID]IDPair

// Lookup returns the live destination of src, if it was cloned.
func (m IDMap) Lookup(src ObjectID) (ObjectID, bool) {
	p, ok := m[src]
	if !ok || !p.Cloned || p.Erased || p.Dest == 0 {
		return 0, false
	}
	return p.Dest, true
}

// CloneEntities copies entities into new objects and records them in an
// identity map, as the host's deep-clone machinery would.
func (n *Network) CloneEntities(ids ...ObjectID) IDMap {
	m := make(IDMap)
	for _, id := range ids {
		e, ok := n.entities[id]
		if !ok {
			continue
		}
		c := *e
		c.ID = n.NewID()
		c.Edges = append(c.Edges[:0:0], e.Edges...)
		n.entities[c.ID] = &c
		m[id] = IDPair{Dest: c.ID, Cloned: true}
	}
	return m
}
