package eval

import (
	"fmt"
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/sketchgraph/pkg/geom"
)

// TransformKind classifies an observed edit.
type TransformKind int

const (
	Composite TransformKind = iota // general, non-rigid
	Move                           // pure translation
	Rotate                         // rotation about a center
)

func (k TransformKind) String() string {
	switch k {
	case Composite:
		return "composite"
	case Move:
		return "move"
	case Rotate:
		return "rotate"
	default:
		return fmt.Sprintf("TransformKind(%d)", int(k))
	}
}

// Transform is the classification of one or more edits.
type Transform struct {
	Kind   TransformKind
	Delta  v2.Vec // Move
	Center v2.Vec // Rotate
	Angle  float64
}

func (t Transform) String() string {
	switch t.Kind {
	case Move:
		return fmt.Sprintf("move(%g,%g)", t.Delta.X, t.Delta.Y)
	case Rotate:
		return fmt.Sprintf("rotate(%g,%g,%g)", t.Center.X, t.Center.Y, t.Angle)
	}
	return "composite"
}

// Rigid returns the transform as a rigid motion. Composite yields the
// identity.
func (t Transform) Rigid() geom.Rigid {
	switch t.Kind {
	case Move:
		return geom.Translation(t.Delta)
	case Rotate:
		return geom.Rotation(t.Center, t.Angle)
	}
	return geom.Rigid{}
}

// Fits reports whether the transform maps every orig point onto the
// matching cur point.
func (t Transform) Fits(orig, cur []v2.Vec, tol float64) bool {
	if t.Kind == Composite || len(orig) != len(cur) {
		return false
	}
	r := t.Rigid()
	for i := range orig {
		if !near(r.Apply(orig[i]), cur[i], tol) {
			return false
		}
	}
	return true
}

func near(a, b v2.Vec, tol float64) bool {
	return a.Sub(b).Length() <= tol*(1+math.Max(a.Length(), b.Length()))
}

// Classify compares two samplings of the same geometry and returns the
// rigid motion relating them, or Composite.
func Classify(orig, cur []v2.Vec, tol float64) Transform {
	if len(orig) == 0 || len(orig) != len(cur) {
		return Transform{Kind: Composite}
	}
	move := Transform{Kind: Move, Delta: cur[0].Sub(orig[0])}
	if move.Fits(orig, cur, tol) {
		return move
	}

	// Rotation: the angle from any well separated pair, the center from
	// (I - R) c = cur - R orig.
	var a, b v2.Vec
	var k int
	for k = 1; k < len(orig); k++ {
		a = orig[k].Sub(orig[0])
		if a.Length() > tol {
			b = cur[k].Sub(cur[0])
			break
		}
	}
	if k == len(orig) || math.Abs(a.Length()-b.Length()) > tol*(1+a.Length()) {
		return Transform{Kind: Composite}
	}
	angle := math.Atan2(a.Cross(b), a.Dot(b))
	s, c := math.Sincos(angle)
	det := 2 - 2*c
	if det < 1e-18 {
		return Transform{Kind: Composite}
	}
	rhs := cur[0].Sub(geom.Rotate(orig[0], angle))
	// inverse of [[1-c, s], [-s, 1-c]]
	center := v2.Vec{
		X: ((1-c)*rhs.X - s*rhs.Y) / det,
		Y: (s*rhs.X + (1-c)*rhs.Y) / det,
	}
	rot := Transform{Kind: Rotate, Center: center, Angle: angle}
	if rot.Fits(orig, cur, tol) {
		return rot
	}
	return Transform{Kind: Composite}
}

// Edit is one modified geometry: its shape before and after the user edit.
type Edit struct {
	Orig, Cur geom.Shape
}

func (e Edit) samples() ([]v2.Vec, []v2.Vec) {
	if e.Orig == nil || e.Cur == nil || e.Orig.Kind() != e.Cur.Kind() {
		return nil, nil
	}
	return e.Orig.Samples(), e.Cur.Samples()
}

// Reduce classifies every edit and folds the candidates into one common
// transform: a rotation wins when every edit fits it, otherwise the first
// candidate must be a translation every edit fits. Anything else is
// Composite.
func Reduce(edits []Edit, tol float64) Transform {
	if len(edits) == 0 {
		return Transform{Kind: Composite}
	}
	cands := make([]Transform, len(edits))
	for i, e := range edits {
		o, c := e.samples()
		cands[i] = Classify(o, c, tol)
		if cands[i].Kind == Composite {
			return cands[i]
		}
	}
	fitsAll := func(t Transform) bool {
		for _, e := range edits {
			o, c := e.samples()
			if !t.Fits(o, c, tol) {
				return false
			}
		}
		return true
	}
	for _, t := range cands {
		if t.Kind == Rotate {
			if fitsAll(t) {
				return t
			}
			break
		}
	}
	if cands[0].Kind == Move && fitsAll(cands[0]) {
		return cands[0]
	}
	return Transform{Kind: Composite}
}
