package graph

import (
	"fmt"

	"github.com/chazu/sketchgraph/pkg/network"
)

// ValidationSeverity indicates whether a finding means the group cannot be
// evaluated or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks evaluation
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	NodeID   NodeID // zero for group-level findings
	Message  string
	Severity ValidationSeverity
}

func (e ValidationError) Error() string {
	if e.NodeID.IsZero() {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.NodeID, e.Message)
}

// Validate checks the structural invariants of a group and returns every
// violation found. An empty slice means the group is consistent. It never
// mutates the group.
func Validate(g *Group) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateIdentity(g)...)
	errs = append(errs, validateConnections(g)...)
	errs = append(errs, validateImplicitPoints(g)...)
	errs = append(errs, validateConstraints(g)...)
	errs = append(errs, validateComposites(g)...)
	errs = append(errs, validateDependencies(g)...)
	return errs
}

// HasErrors reports whether any finding is error severity.
func HasErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

func errorf(id NodeID, format string, args ...any) ValidationError {
	return ValidationError{NodeID: id, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

func warnf(id NodeID, format string, args ...any) ValidationError {
	return ValidationError{NodeID: id, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

// validateIdentity checks arena slots against node ids and the live count.
func validateIdentity(g *Group) []ValidationError {
	var errs []ValidationError
	live := 0
	for i, n := range g.nodes {
		if n == nil {
			continue
		}
		live++
		if n.ID != NodeID(i) {
			errs = append(errs, errorf(n.ID, "stored in slot %d", i))
		}
		if n.ID > g.seq {
			errs = append(errs, errorf(n.ID, "id beyond sequence counter %d", g.seq))
		}
		if n.Group != g.id {
			errs = append(errs, errorf(n.ID, "owned by group %d, not %d", n.Group, g.id))
		}
	}
	if live != g.count {
		errs = append(errs, errorf(ZeroID, "node count %d, found %d live nodes", g.count, live))
	}
	return errs
}

// validateConnections checks that every connection is symmetric and points
// at a live node.
func validateConnections(g *Group) []ValidationError {
	var errs []ValidationError
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, c := range n.conns {
			other := g.Node(c)
			if other == nil {
				errs = append(errs, errorf(n.ID, "connected to missing node %s", c))
				continue
			}
			if !other.IsConnected(n.ID) {
				errs = append(errs, errorf(n.ID, "connection to %s is not symmetric", c))
			}
		}
	}
	return errs
}

// validateImplicitPoints checks that every implicit point belongs to a live
// curve that lists it.
func validateImplicitPoints(g *Group) []ValidationError {
	var errs []ValidationError
	for _, n := range g.nodes {
		if n == nil || n.Kind != KindImplicitPoint {
			continue
		}
		gd := n.Geometry()
		curve := g.Node(gd.Curve)
		if curve == nil || !curve.Kind.IsCurve() {
			errs = append(errs, errorf(n.ID, "implicit point without live curve %s", gd.Curve))
			continue
		}
		found := false
		for _, p := range curve.Geometry().Points {
			if p == n.ID {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, errorf(n.ID, "curve %s does not list its implicit point", gd.Curve))
		}
	}
	return errs
}

// validateConstraints checks that every constraint references live geometry
// it is connected to.
func validateConstraints(g *Group) []ValidationError {
	var errs []ValidationError
	for _, n := range g.nodes {
		if n == nil || !n.Kind.IsConstraint() {
			continue
		}
		cd := n.Constraint()
		if len(cd.Args) == 0 {
			errs = append(errs, errorf(n.ID, "%s has no arguments", n.Kind))
		}
		for _, a := range cd.Args {
			an := g.Node(a)
			if an == nil || !an.Kind.IsGeometry() {
				errs = append(errs, errorf(n.ID, "%s references missing geometry %s", n.Kind, a))
				continue
			}
			if !n.IsConnected(a) {
				errs = append(errs, errorf(n.ID, "%s not connected to argument %s", n.Kind, a))
			}
		}
		if n.Kind.IsExplicit() && (cd.Explicit == nil || cd.Explicit.Value == 0) {
			errs = append(errs, errorf(n.ID, "%s has no value dependency", n.Kind))
		}
		for _, h := range cd.Helpers {
			hn := g.Node(h)
			if hn == nil || hn.Kind != KindHelperParameter {
				errs = append(errs, errorf(n.ID, "missing helper parameter %s", h))
				continue
			}
			if hn.Helper().Value < 0 {
				errs = append(errs, warnf(h, "negative helper parameter %g", hn.Helper().Value))
			}
		}
		if !cd.Composite.IsZero() {
			comp := g.Node(cd.Composite)
			if comp == nil || comp.Kind != KindComposite {
				errs = append(errs, errorf(n.ID, "owned by missing composite %s", cd.Composite))
			}
		}
	}
	return errs
}

// validateComposites checks that composite parts point back at their owner.
func validateComposites(g *Group) []ValidationError {
	var errs []ValidationError
	for _, n := range g.nodes {
		if n == nil || n.Kind != KindComposite {
			continue
		}
		for _, p := range n.Composite().Parts {
			pn := g.Node(p)
			if pn == nil || pn.Constraint() == nil {
				errs = append(errs, errorf(n.ID, "missing composite part %s", p))
				continue
			}
			if pn.Constraint().Composite != n.ID {
				errs = append(errs, errorf(n.ID, "part %s is not owned by this composite", p))
			}
		}
	}
	return errs
}

// validateDependencies checks that geometry dependencies exist, are owned by
// the group and are not shared between nodes.
func validateDependencies(g *Group) []ValidationError {
	var errs []ValidationError
	seen := make(map[network.ObjectID]NodeID)
	for _, n := range g.nodes {
		if n == nil || !n.Kind.IsGeometry() {
			continue
		}
		dep := n.Geometry().Dep
		if dep == 0 {
			if n.Kind != KindImplicitPoint && n.Kind != KindDatumLine &&
				n.Kind != KindConstructionLine && n.Kind != KindRigidSet {
				errs = append(errs, errorf(n.ID, "%s has no geometry dependency", n.Kind))
			}
			continue
		}
		if prev, ok := seen[dep]; ok {
			errs = append(errs, errorf(n.ID, "geometry dependency %d shared with %s", dep, prev))
		}
		seen[dep] = n.ID
		d, ok := g.host.Dependency(dep)
		if !ok {
			errs = append(errs, errorf(n.ID, "geometry dependency %d not found", dep))
			continue
		}
		if d.Owner != g.id {
			errs = append(errs, errorf(n.ID, "geometry dependency %d owned by %d", dep, d.Owner))
		}
	}
	return errs
}
