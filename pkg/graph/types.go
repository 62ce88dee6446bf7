// Package graph is the constraint-group graph store for one planar sketch:
// constrained geometry, geometric and dimensional constraints, composite
// constraints and helper parameters, connected by a symmetric adjacency.
package graph

import (
	"fmt"
	"strconv"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// NodeID is the identity of a node within its group. Ids are dense, assigned
// from the group's sequence counter and never reused. Zero is invalid.
type NodeID int32

// ZeroID is the invalid node id.
const ZeroID NodeID = 0

// IsZero reports whether id is the invalid id.
func (id NodeID) IsZero() bool { return id == ZeroID }

func (id NodeID) String() string { return "#" + strconv.Itoa(int(id)) }

// NodeKind is the closed set of node variants.
type NodeKind int

const (
	KindInvalid NodeKind = iota

	// Constrained geometry.
	KindPoint
	KindImplicitPoint
	KindLine
	KindBoundedLine
	KindDatumLine
	KindConstructionLine
	KindCircle
	KindArc
	KindEllipse
	KindBoundedEllipse
	KindSpline
	KindRigidSet

	// Geometric constraints.
	KindHorizontal
	KindVertical
	KindParallel
	KindPerpendicular
	KindNormal
	KindColinear
	KindCoincident
	KindConcentric
	KindTangent
	KindEqualRadius
	KindEqualLength
	KindSymmetric
	KindFixed
	KindPointCurve
	KindCenterPoint
	KindMidPoint
	KindEqualCurvature

	// Explicit (dimensional) constraints.
	KindDistance
	KindAngle
	KindAngle3Point
	KindRadiusDiameter

	KindComposite
	KindHelperParameter

	kindCount
)

var kindNames = [...]string{
	KindInvalid:          "Invalid",
	KindPoint:            "Point",
	KindImplicitPoint:    "ImplicitPoint",
	KindLine:             "Line",
	KindBoundedLine:      "BoundedLine",
	KindDatumLine:        "DatumLine",
	KindConstructionLine: "ConstructionLine",
	KindCircle:           "Circle",
	KindArc:              "Arc",
	KindEllipse:          "Ellipse",
	KindBoundedEllipse:   "BoundedEllipse",
	KindSpline:           "Spline",
	KindRigidSet:         "RigidSet",
	KindHorizontal:       "Horizontal",
	KindVertical:         "Vertical",
	KindParallel:         "Parallel",
	KindPerpendicular:    "Perpendicular",
	KindNormal:           "Normal",
	KindColinear:         "Colinear",
	KindCoincident:       "Coincident",
	KindConcentric:       "Concentric",
	KindTangent:          "Tangent",
	KindEqualRadius:      "EqualRadius",
	KindEqualLength:      "EqualLength",
	KindSymmetric:        "Symmetric",
	KindFixed:            "Fixed",
	KindPointCurve:       "PointCurve",
	KindCenterPoint:      "CenterPoint",
	KindMidPoint:         "MidPoint",
	KindEqualCurvature:   "EqualCurvature",
	KindDistance:         "Distance",
	KindAngle:            "Angle",
	KindAngle3Point:      "Angle3Point",
	KindRadiusDiameter:   "RadiusDiameter",
	KindComposite:        "Composite",
	KindHelperParameter:  "HelperParameter",
}

func (k NodeKind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// KindByName returns the kind with the given String name.
func KindByName(name string) (NodeKind, bool) {
	for k := KindPoint; k < kindCount; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return KindInvalid, false
}

// IsGeometry reports whether k is a constrained geometry kind.
func (k NodeKind) IsGeometry() bool { return k >= KindPoint && k <= KindRigidSet }

// IsConstraint reports whether k is a geometric or explicit constraint.
func (k NodeKind) IsConstraint() bool { return k >= KindHorizontal && k <= KindRadiusDiameter }

// IsExplicit reports whether k is a dimensional constraint.
func (k NodeKind) IsExplicit() bool { return k >= KindDistance && k <= KindRadiusDiameter }

// IsPoint reports whether k is a point kind.
func (k NodeKind) IsPoint() bool { return k == KindPoint || k == KindImplicitPoint }

// IsLineFamily reports whether k is any straight-line kind.
func (k NodeKind) IsLineFamily() bool {
	switch k {
	case KindLine, KindBoundedLine, KindDatumLine, KindConstructionLine:
		return true
	}
	return false
}

// IsCircleFamily reports whether k is a circle or circular arc.
func (k NodeKind) IsCircleFamily() bool { return k == KindCircle || k == KindArc }

// IsEllipseFamily reports whether k is an ellipse or elliptical arc.
func (k NodeKind) IsEllipseFamily() bool { return k == KindEllipse || k == KindBoundedEllipse }

// IsCurve reports whether k is a non-point constrained geometry.
func (k NodeKind) IsCurve() bool {
	return k.IsLineFamily() || k.IsCircleFamily() || k.IsEllipseFamily() || k == KindSpline
}

// Plane is the sketch work plane in world coordinates.
type Plane struct {
	Origin v3.Vec
	XAxis  v3.Vec
	YAxis  v3.Vec
}

// WorldXY is the default work plane.
var WorldXY = Plane{XAxis: v3.Vec{X: 1}, YAxis: v3.Vec{Y: 1}}

// Equals reports whether two planes coincide within tol.
func (p Plane) Equals(o Plane, tol float64) bool {
	return p.Origin.Equals(o.Origin, tol) && p.XAxis.Equals(o.XAxis, tol) && p.YAxis.Equals(o.YAxis, tol)
}
