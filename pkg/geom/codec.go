package geom

import (
	"fmt"

	v2 "github.com/deadsy/sdfx/vec/v2"
)

// Flatten returns the shape kind and a flat parameter list suitable for
// serialization. Unflatten is its inverse.
func Flatten(s Shape) (Kind, []float64) {
	switch c := s.(type) {
	case Point:
		return KindPoint, []float64{c.P.X, c.P.Y}
	case Line:
		return KindLine, []float64{c.Origin.X, c.Origin.Y, c.Dir.X, c.Dir.Y}
	case Ray:
		return KindRay, []float64{c.Origin.X, c.Origin.Y, c.Dir.X, c.Dir.Y}
	case Segment:
		return KindSegment, []float64{c.Start.X, c.Start.Y, c.End.X, c.End.Y}
	case CircArc:
		return KindCircArc, []float64{c.Center.X, c.Center.Y, c.Radius, c.StartAngle, c.EndAngle, boolf(c.Closed)}
	case EllipArc:
		return KindEllipArc, []float64{c.Center.X, c.Center.Y, c.MajorAxis.X, c.MajorAxis.Y,
			c.MajorRadius, c.MinorRadius, c.StartParam, c.EndParam, boolf(c.Closed)}
	case Spline:
		out := []float64{float64(c.Degree), float64(len(c.Control)), float64(len(c.Weights))}
		for _, p := range c.Control {
			out = append(out, p.X, p.Y)
		}
		out = append(out, c.Knots...)
		return KindSpline, append(out, c.Weights...)
	}
	return KindUnsupported, nil
}

// Unflatten rebuilds a shape from Flatten output.
func Unflatten(k Kind, p []float64) (Shape, error) {
	need := func(n int) error {
		if len(p) < n {
			return fmt.Errorf("geom: %s needs %d parameters, got %d", k, n, len(p))
		}
		return nil
	}
	switch k {
	case KindPoint:
		if err := need(2); err != nil {
			return nil, err
		}
		return Point{P: v2.Vec{X: p[0], Y: p[1]}}, nil
	case KindLine, KindRay, KindSegment:
		if err := need(4); err != nil {
			return nil, err
		}
		a, b := v2.Vec{X: p[0], Y: p[1]}, v2.Vec{X: p[2], Y: p[3]}
		switch k {
		case KindLine:
			return Line{Origin: a, Dir: b}, nil
		case KindRay:
			return Ray{Origin: a, Dir: b}, nil
		}
		return Segment{Start: a, End: b}, nil
	case KindCircArc:
		if err := need(6); err != nil {
			return nil, err
		}
		return CircArc{Center: v2.Vec{X: p[0], Y: p[1]}, Radius: p[2], StartAngle: p[3], EndAngle: p[4], Closed: p[5] != 0}, nil
	case KindEllipArc:
		if err := need(9); err != nil {
			return nil, err
		}
		return EllipArc{
			Center:      v2.Vec{X: p[0], Y: p[1]},
			MajorAxis:   v2.Vec{X: p[2], Y: p[3]},
			MajorRadius: p[4],
			MinorRadius: p[5],
			StartParam:  p[6],
			EndParam:    p[7],
			Closed:      p[8] != 0,
		}, nil
	case KindSpline:
		if err := need(3); err != nil {
			return nil, err
		}
		deg, n, nw := int(p[0]), int(p[1]), int(p[2])
		if err := need(3 + 2*n + n + deg + 1 + nw); err != nil {
			return nil, err
		}
		s := Spline{Degree: deg}
		i := 3
		for j := 0; j < n; j++ {
			s.Control = append(s.Control, v2.Vec{X: p[i], Y: p[i+1]})
			i += 2
		}
		s.Knots = append([]float64(nil), p[i:i+n+deg+1]...)
		i += n + deg + 1
		if nw > 0 {
			s.Weights = append([]float64(nil), p[i:i+nw]...)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("geom: cannot decode shape kind %s", k)
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
