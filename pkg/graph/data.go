package graph

import (
	"fmt"

	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/network"
)

// ---------------------------------------------------------------------------
// Geometry
// ---------------------------------------------------------------------------

// GeometryData is the payload of constrained geometry nodes.
type GeometryData struct {
	Dep   network.ObjectID // geometry dependency; zero for implicit points, datum and construction lines
	Shape geom.Shape       // last evaluated shape

	// Implicit points only.
	Curve NodeID
	Point geom.PointRef

	// Curves only: implicit points owned by this curve.
	Points []NodeID

	Ray     bool     // bounded line built from a ray
	Members []NodeID // rigid sets only

	// PostEvaluate is set when the last evaluation changed the shape.
	PostEvaluate bool
}

func (*GeometryData) nodeData() {}

// ---------------------------------------------------------------------------
// Constraints
// ---------------------------------------------------------------------------

// ConstraintData is the payload of geometric and explicit constraints.
type ConstraintData struct {
	Args      []NodeID // geometry arguments in kind-specific order
	Implied   bool     // inferred by the system, not user authored
	Composite NodeID   // owning composite; zero when standalone
	Active    bool     // satisfied by the last solve
	Enabled   bool
	Helpers   []NodeID   // helper parameters, one per disambiguated curve
	Explicit  *Dimension // non-nil for dimensional constraints
}

func (*ConstraintData) nodeData() {}

// DirectionType selects how a distance is measured.
type DirectionType int

const (
	NotDirected         DirectionType = iota
	FixedDirection                    // along Dimension.Vector
	PerpendicularToLine               // along the normal of the third argument
	ParallelToLine                    // along the third argument
)

func (d DirectionType) String() string {
	switch d {
	case NotDirected:
		return "not-directed"
	case FixedDirection:
		return "fixed-direction"
	case PerpendicularToLine:
		return "perpendicular-to-line"
	case ParallelToLine:
		return "parallel-to-line"
	default:
		return fmt.Sprintf("DirectionType(%d)", int(d))
	}
}

// SectorType selects which of the four angles between two lines is meant.
type SectorType int

const (
	ParallelAnticlockwise SectorType = iota
	ParallelClockwise
	AntiParallelAnticlockwise
	AntiParallelClockwise
)

func (s SectorType) String() string {
	switch s {
	case ParallelAnticlockwise:
		return "parallel-anticlockwise"
	case ParallelClockwise:
		return "parallel-clockwise"
	case AntiParallelAnticlockwise:
		return "antiparallel-anticlockwise"
	case AntiParallelClockwise:
		return "antiparallel-clockwise"
	default:
		return fmt.Sprintf("SectorType(%d)", int(s))
	}
}

// Clockwise reports whether the angle is measured clockwise.
func (s SectorType) Clockwise() bool { return s == ParallelClockwise || s == AntiParallelClockwise }

// AntiParallel reports whether the second line's direction is reversed.
func (s SectorType) AntiParallel() bool {
	return s == AntiParallelAnticlockwise || s == AntiParallelClockwise
}

// RadiusKind selects the measured quantity of a RadiusDiameter constraint.
type RadiusKind int

const (
	Radius RadiusKind = iota
	Diameter
	MajorRadius
	MinorRadius
)

func (r RadiusKind) String() string {
	switch r {
	case Radius:
		return "radius"
	case Diameter:
		return "diameter"
	case MajorRadius:
		return "major-radius"
	case MinorRadius:
		return "minor-radius"
	default:
		return fmt.Sprintf("RadiusKind(%d)", int(r))
	}
}

// Dimension carries the extra state of explicit constraints.
type Dimension struct {
	Value network.ObjectID // value dependency, the numeric driver
	Dim   network.ObjectID // dimension dependency, optional

	Direction DirectionType // Distance
	Vector    v2.Vec        // Distance with FixedDirection
	Sector    SectorType    // Angle, Angle3Point
	Radius    RadiusKind    // RadiusDiameter
}

// ---------------------------------------------------------------------------
// Composites and helpers
// ---------------------------------------------------------------------------

// CompositeKind names a composite constraint bundle.
type CompositeKind int

const (
	// SmoothJoin is curvature continuity: coincidence, tangency and equal
	// curvature at a shared end point.
	SmoothJoin CompositeKind = iota + 1
)

func (c CompositeKind) String() string {
	if c == SmoothJoin {
		return "smooth-join"
	}
	return fmt.Sprintf("CompositeKind(%d)", int(c))
}

// CompositeData is the payload of composite constraints.
type CompositeData struct {
	Kind    CompositeKind
	Parts   []NodeID  // constituent constraints in construction order
	Curves  [2]NodeID // joined curves
	Implied bool
	Active  bool
	Enabled bool
}

func (*CompositeData) nodeData() {}

// HelperData is the payload of helper parameters. It selects the curve
// parameter a tangency or curvature constraint binds to.
type HelperData struct {
	Value      float64
	Curve      NodeID
	Constraint NodeID
}

func (*HelperData) nodeData() {}
