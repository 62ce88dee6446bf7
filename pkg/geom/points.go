package geom

import (
	"fmt"

	v2 "github.com/deadsy/sdfx/vec/v2"
)

// PointType names a point owned by a curve.
type PointType int

const (
	PointNone   PointType = iota
	PointStart            // start of a bounded curve
	PointEnd              // end of a bounded curve
	PointMid              // midpoint of a segment or arc
	PointCenter           // center of a circle, arc or ellipse
	PointDefine           // spline control point, indexed
)

func (t PointType) String() string {
	switch t {
	case PointNone:
		return "none"
	case PointStart:
		return "start"
	case PointEnd:
		return "end"
	case PointMid:
		return "mid"
	case PointCenter:
		return "center"
	case PointDefine:
		return "define"
	default:
		return fmt.Sprintf("PointType(%d)", int(t))
	}
}

// PointRef identifies an implicit point on a curve.
type PointRef struct {
	Type  PointType
	Index int // control point index for PointDefine
}

func (r PointRef) String() string {
	if r.Type == PointDefine {
		return fmt.Sprintf("define[%d]", r.Index)
	}
	return r.Type.String()
}

// AutoPoints lists the implicit points created together with a curve.
// Mid points are created on request only.
func AutoPoints(s Shape) []PointRef {
	switch c := s.(type) {
	case Segment:
		return []PointRef{{Type: PointStart}, {Type: PointEnd}}
	case Ray:
		return []PointRef{{Type: PointStart}}
	case CircArc:
		if c.Closed {
			return []PointRef{{Type: PointCenter}}
		}
		return []PointRef{{Type: PointStart}, {Type: PointEnd}, {Type: PointCenter}}
	case EllipArc:
		if c.Closed {
			return []PointRef{{Type: PointCenter}}
		}
		return []PointRef{{Type: PointStart}, {Type: PointEnd}, {Type: PointCenter}}
	case Spline:
		refs := []PointRef{{Type: PointStart}, {Type: PointEnd}}
		for i := range c.Control {
			refs = append(refs, PointRef{Type: PointDefine, Index: i})
		}
		return refs
	}
	return nil
}

// SupportsMid reports whether a lazily created midpoint is meaningful.
func SupportsMid(s Shape) bool {
	switch c := s.(type) {
	case Segment:
		return true
	case CircArc:
		return !c.Closed
	}
	return false
}

// ImplicitPoint returns the position of an implicit point of s.
func ImplicitPoint(s Shape, ref PointRef) (v2.Vec, bool) {
	switch c := s.(type) {
	case Segment:
		switch ref.Type {
		case PointStart:
			return c.Start, true
		case PointEnd:
			return c.End, true
		case PointMid:
			return c.Start.Add(c.End).MulScalar(0.5), true
		}
	case Ray:
		if ref.Type == PointStart {
			return c.Origin, true
		}
	case CircArc:
		switch ref.Type {
		case PointCenter:
			return c.Center, true
		case PointStart:
			if !c.Closed {
				return c.At(c.StartAngle), true
			}
		case PointEnd:
			if !c.Closed {
				return c.At(c.EndAngle), true
			}
		case PointMid:
			if !c.Closed {
				return c.At(c.MidAngle()), true
			}
		}
	case EllipArc:
		switch ref.Type {
		case PointCenter:
			return c.Center, true
		case PointStart:
			if !c.Closed {
				return c.At(c.StartParam), true
			}
		case PointEnd:
			if !c.Closed {
				return c.At(c.EndParam), true
			}
		}
	case Spline:
		lo, hi := c.Domain()
		switch ref.Type {
		case PointStart:
			return c.At(lo), true
		case PointEnd:
			return c.At(hi), true
		case PointDefine:
			if ref.Index >= 0 && ref.Index < len(c.Control) {
				return c.Control[ref.Index], true
			}
		}
	}
	return v2.Vec{}, false
}
