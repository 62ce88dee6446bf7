// Package geom defines the planar shape vocabulary exchanged with the host
// drawing database: points, infinite lines, rays, segments, circular and
// elliptical arcs, and NURBS curves. Shapes are immutable values.
package geom

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
)

// Tau is a full turn in radians.
const Tau = 2 * math.Pi

// Kind classifies a host shape.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPoint
	KindLine    // infinite line
	KindRay     // half-infinite line
	KindSegment // bounded line
	KindCircArc // circle when closed
	KindEllipArc
	KindSpline
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindRay:
		return "ray"
	case KindSegment:
		return "segment"
	case KindCircArc:
		return "circular-arc"
	case KindEllipArc:
		return "elliptical-arc"
	case KindSpline:
		return "spline"
	default:
		return "unsupported"
	}
}

// Shape is implemented by every shape in this package.
type Shape interface {
	Kind() Kind
	// Transform returns the shape moved by a rigid transform.
	Transform(r Rigid) Shape
	// Samples returns representative points used to compare two versions
	// of the same shape. The count and order are stable per shape value.
	Samples() []v2.Vec
	isShape() // marker restricting implementations to this package
}

// ---------------------------------------------------------------------------
// Rigid transforms
// ---------------------------------------------------------------------------

// Rigid is a planar rotation about Center by Angle followed by a
// translation by Delta.
type Rigid struct {
	Delta  v2.Vec
	Center v2.Vec
	Angle  float64 // radians, anticlockwise
}

// Translation returns a pure translation.
func Translation(d v2.Vec) Rigid {
	return Rigid{Delta: d}
}

// Rotation returns a pure rotation about c.
func Rotation(c v2.Vec, angle float64) Rigid {
	return Rigid{Center: c, Angle: angle}
}

// Matrix returns the homogeneous matrix of the transform.
func (r Rigid) Matrix() sdf.M33 {
	m := sdf.Translate2d(r.Center).Mul(sdf.Rotate2d(r.Angle)).Mul(sdf.Translate2d(r.Center.Neg()))
	return sdf.Translate2d(r.Delta).Mul(m)
}

// Apply maps a position.
func (r Rigid) Apply(p v2.Vec) v2.Vec {
	return r.Matrix().MulPosition(p)
}

// ApplyDir maps a direction (rotation only).
func (r Rigid) ApplyDir(d v2.Vec) v2.Vec {
	return Rotate(d, r.Angle)
}

// IsIdentity reports whether the transform leaves every point in place.
func (r Rigid) IsIdentity(tol float64) bool {
	return r.Delta.Length() <= tol && math.Abs(NormalizeAngle(r.Angle)) <= tol
}

// Rotate rotates a vector about the origin.
func Rotate(v v2.Vec, angle float64) v2.Vec {
	s, c := math.Sincos(angle)
	return v2.Vec{X: v.X*c - v.Y*s, Y: v.X*s + v.Y*c}
}

// Perp returns v rotated by a quarter turn anticlockwise.
func Perp(v v2.Vec) v2.Vec {
	return v2.Vec{X: -v.Y, Y: v.X}
}

// NormalizeAngle maps a to (-pi, pi].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, Tau)
	if a <= -math.Pi {
		a += Tau
	} else if a > math.Pi {
		a -= Tau
	}
	return a
}

// Sweep returns the anticlockwise sweep from start to end in (0, 2pi].
func Sweep(start, end float64) float64 {
	s := math.Mod(end-start, Tau)
	if s <= 0 {
		s += Tau
	}
	return s
}

// Polar returns the unit vector at angle a.
func Polar(a float64) v2.Vec {
	s, c := math.Sincos(a)
	return v2.Vec{X: c, Y: s}
}

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

// Point is a free point.
type Point struct {
	P v2.Vec
}

func (Point) Kind() Kind { return KindPoint }
func (p Point) Transform(r Rigid) Shape { return Point{P: r.Apply(p.P)} }
func (p Point) Samples() []v2.Vec { return []v2.Vec{p.P} }
func (Point) isShape() {}
func (p Point) String() string { return fmt.Sprintf("point(%g,%g)", p.P.X, p.P.Y) }

// Line is an infinite line through Origin along the unit vector Dir.
type Line struct {
	Origin v2.Vec
	Dir    v2.Vec
}

func (Line) Kind() Kind { return KindLine }
func (l Line) Transform(r Rigid) Shape {
	return Line{Origin: r.Apply(l.Origin), Dir: r.ApplyDir(l.Dir)}
}
func (l Line) Samples() []v2.Vec { return []v2.Vec{l.Origin, l.Origin.Add(l.Dir)} }
func (Line) isShape() {}

// Ray starts at Origin and extends along the unit vector Dir.
type Ray struct {
	Origin v2.Vec
	Dir    v2.Vec
}

func (Ray) Kind() Kind { return KindRay }
func (l Ray) Transform(r Rigid) Shape {
	return Ray{Origin: r.Apply(l.Origin), Dir: r.ApplyDir(l.Dir)}
}
func (l Ray) Samples() []v2.Vec { return []v2.Vec{l.Origin, l.Origin.Add(l.Dir)} }
func (Ray) isShape() {}

// Segment is a bounded line.
type Segment struct {
	Start v2.Vec
	End   v2.Vec
}

func (Segment) Kind() Kind { return KindSegment }
func (s Segment) Transform(r Rigid) Shape {
	return Segment{Start: r.Apply(s.Start), End: r.Apply(s.End)}
}
func (s Segment) Samples() []v2.Vec { return []v2.Vec{s.Start, s.End} }
func (Segment) isShape() {}

// Length returns the segment length.
func (s Segment) Length() float64 { return s.End.Sub(s.Start).Length() }

// Dir returns the unit direction from Start to End.
func (s Segment) Dir() v2.Vec { return s.End.Sub(s.Start).Normalize() }

// CircArc is a circular arc swept anticlockwise from StartAngle to
// EndAngle. A closed arc is a full circle and ignores the angles except as
// an orientation reference.
type CircArc struct {
	Center     v2.Vec
	Radius     float64
	StartAngle float64
	EndAngle   float64
	Closed     bool
}

// Circle returns a closed circular arc.
func Circle(c v2.Vec, r float64) CircArc {
	return CircArc{Center: c, Radius: r, Closed: true}
}

func (CircArc) Kind() Kind { return KindCircArc }
func (a CircArc) Transform(r Rigid) Shape {
	a.Center = r.Apply(a.Center)
	a.StartAngle += r.Angle
	a.EndAngle += r.Angle
	return a
}
func (a CircArc) Samples() []v2.Vec {
	if a.Closed {
		return []v2.Vec{a.Center, a.At(a.StartAngle)}
	}
	return []v2.Vec{a.Center, a.At(a.StartAngle), a.At(a.EndAngle)}
}
func (CircArc) isShape() {}

// At returns the point of the supporting circle at angle t.
func (a CircArc) At(t float64) v2.Vec {
	return a.Center.Add(Polar(t).MulScalar(a.Radius))
}

// MidAngle returns the angle halfway along the arc.
func (a CircArc) MidAngle() float64 {
	return a.StartAngle + Sweep(a.StartAngle, a.EndAngle)/2
}

// EllipArc is an elliptical arc. MajorAxis is a unit vector; the minor
// axis is its anticlockwise perpendicular. Parameters are eccentric angles.
type EllipArc struct {
	Center      v2.Vec
	MajorAxis   v2.Vec
	MajorRadius float64
	MinorRadius float64
	StartParam  float64
	EndParam    float64
	Closed      bool
}

func (EllipArc) Kind() Kind { return KindEllipArc }
func (e EllipArc) Transform(r Rigid) Shape {
	e.Center = r.Apply(e.Center)
	e.MajorAxis = r.ApplyDir(e.MajorAxis)
	return e
}
func (e EllipArc) Samples() []v2.Vec {
	if e.Closed {
		return []v2.Vec{e.Center, e.At(0), e.At(math.Pi / 2)}
	}
	return []v2.Vec{e.Center, e.At(e.StartParam), e.At(e.EndParam)}
}
func (EllipArc) isShape() {}

// At returns the point at eccentric angle t.
func (e EllipArc) At(t float64) v2.Vec {
	s, c := math.Sincos(t)
	return e.Center.Add(e.MajorAxis.MulScalar(e.MajorRadius * c)).Add(Perp(e.MajorAxis).MulScalar(e.MinorRadius * s))
}

// ParamOf returns the eccentric angle of a point near the ellipse.
func (e EllipArc) ParamOf(p v2.Vec) float64 {
	d := p.Sub(e.Center)
	lx := d.Dot(e.MajorAxis) / e.MajorRadius
	ly := d.Dot(Perp(e.MajorAxis)) / e.MinorRadius
	return math.Atan2(ly, lx)
}

// Unsupported stands in for host shapes this subsystem cannot constrain
// (text, hatches, meshes).
type Unsupported struct {
	Name string
}

func (Unsupported) Kind() Kind { return KindUnsupported }
func (u Unsupported) Transform(Rigid) Shape { return u }
func (Unsupported) Samples() []v2.Vec { return nil }
func (Unsupported) isShape() {}
