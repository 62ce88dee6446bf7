// Package solver defines the interface to the external numeric constraint
// solver. A Solver hands out Contexts; a Context owns a set of primitive
// objects and constraints for one solve attempt and must be closed when the
// attempt ends. Backends (see solver/lsq) implement the interface so the
// evaluator can swap them without change.
package solver

import (
	"fmt"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"

	"github.com/chazu/sketchgraph/pkg/geom"
)

// Solver errors. The evaluator falls back to its next strategy on each.
var (
	ErrFatal       = errors.New("solver: internal error")
	ErrLicense     = errors.New("solver: evaluation period expired")
	ErrUnsatisfied = errors.New("solver: constraints left unsatisfied")
	ErrUnsupported = errors.New("solver: unsupported constraint")
	ErrBadHandle   = errors.New("solver: unknown handle")
)

// Handle is an opaque object, variable or constraint handle within one
// Context. Zero is invalid.
type Handle int

// ObjectKind identifies a solver primitive. Parameter layouts:
//
//	Point     x y
//	Line      ox oy theta
//	Circle    cx cy r
//	Ellipse   cx cy theta a b
//	Spline    x0 y0 x1 y1 ... (control points)
//	RigidSet  tx ty theta
//	Variable  v
type ObjectKind int

const (
	ObjPoint ObjectKind = iota + 1
	ObjLine
	ObjCircle
	ObjEllipse
	ObjSpline
	ObjRigidSet
	ObjVariable
)

func (k ObjectKind) String() string {
	switch k {
	case ObjPoint:
		return "point"
	case ObjLine:
		return "line"
	case ObjCircle:
		return "circle"
	case ObjEllipse:
		return "ellipse"
	case ObjSpline:
		return "spline"
	case ObjRigidSet:
		return "rigid-set"
	case ObjVariable:
		return "variable"
	default:
		return fmt.Sprintf("ObjectKind(%d)", int(k))
	}
}

// ConstraintKind identifies a solver constraint.
type ConstraintKind int

const (
	// Incidence: point-point coincidence, or a point on a line or circle.
	Incidence ConstraintKind = iota + 1
	Parallel
	Perpendicular
	Concentric       // two circles or ellipses, or a point and a circle/ellipse center
	Tangent          // two curves touching at Params[0] on the first and Params[1] on the second
	EqualRadius      // two circles
	EqualDistance    // |p0 p1| = |p2 p3|
	EqualCurvature   // curvature at Params[0] on the first equals curvature at Params[1] on the second
	Symmetric        // two points or two lines mirrored by a line
	Midpoint         // point midway between two points
	CurvePoint       // point on any curve at Params[0]
	ControlPoint     // point equal to spline control point Index
	Normal           // line through a circle center
	Distance         // point/line/circle pairs; NotDirected
	DirectedDistance // |(p1 - p0) . Vector| along a fixed vector, or along/across Objects[2]
	Angle            // line to line
	Angle3Point      // vertex, p1, p2
	Radius
	Diameter
	MajorRadius
	MinorRadius
)

var constraintNames = map[ConstraintKind]string{
	Incidence:        "incidence",
	Parallel:         "parallel",
	Perpendicular:    "perpendicular",
	Concentric:       "concentric",
	Tangent:          "tangent",
	EqualRadius:      "equal-radius",
	EqualDistance:    "equal-distance",
	EqualCurvature:   "equal-curvature",
	Symmetric:        "symmetric",
	Midpoint:         "midpoint",
	CurvePoint:       "curve-point",
	ControlPoint:     "control-point",
	Normal:           "normal",
	Distance:         "distance",
	DirectedDistance: "directed-distance",
	Angle:            "angle",
	Angle3Point:      "angle-3-point",
	Radius:           "radius",
	Diameter:         "diameter",
	MajorRadius:      "major-radius",
	MinorRadius:      "minor-radius",
}

func (k ConstraintKind) String() string {
	if s, ok := constraintNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ConstraintKind(%d)", int(k))
}

// Direction selects the measuring axis of a DirectedDistance.
type Direction int

const (
	AlongVector Direction = iota // Constraint.Vector
	AcrossLine                   // normal of Objects[2]
	AlongLine                    // direction of Objects[2]
)

// Constraint describes one constraint.
type Constraint struct {
	Kind    ConstraintKind
	Objects []Handle
	Params  []Handle // curve-parameter variables (Tangent, EqualCurvature, CurvePoint)

	Value    float64
	Variable Handle // when set, the value is read from this variable instead of Value

	Vector    v2.Vec    // DirectedDistance with AlongVector
	Direction Direction // DirectedDistance
	Index     int       // ControlPoint

	Clockwise    bool // Angle, Angle3Point
	AntiParallel bool // Angle: second line reversed
}

// Equation is a white-box relation over the concatenated parameters of a
// set of objects. Equations hold at zero; inequalities hold when >= 0.
type Equation func(params []float64) float64

// Solver creates solve contexts.
type Solver interface {
	Name() string
	NewContext() (Context, error)
}

// Context is one scoped solve attempt. Every method other than Close fails
// with ErrFatal after Close.
type Context interface {
	// Primitives
	CreatePoint(p v2.Vec) Handle
	CreateLine(origin, dir v2.Vec) Handle
	CreateCircle(center v2.Vec, r float64) Handle
	CreateEllipse(center, majorAxis v2.Vec, major, minor float64) Handle
	CreateSpline(s geom.Spline) Handle
	CreateRigidSet(members []Handle) (Handle, error)
	CreateVariable(v float64) Handle

	// Constraints
	AddConstraint(cs Constraint) (Handle, error)
	AddEquation(objects []Handle, fn Equation, inequality bool) (Handle, error)
	Fix(h Handle, fixed bool) error

	// State
	Kind(h Handle) (ObjectKind, error)
	Params(h Handle) ([]float64, error)
	SetParams(h Handle, p []float64) error

	// Batch operations
	Move(objects []Handle, d v2.Vec) error
	Rotate(objects []Handle, center v2.Vec, angle float64) error
	Apply() error
	Status() (satisfied, total int)

	Close() error
}
