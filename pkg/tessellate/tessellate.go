// Package tessellate walks the entities of a shape network and draws their
// edges through a drawing kernel. Circles, arcs and segments map onto
// native kernel primitives; ellipses and splines are flattened into
// polylines. The tessellator is read-only and never mutates the network.
package tessellate

import (
	"fmt"
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/kernel"
	"github.com/chazu/sketchgraph/pkg/network"
)

// Layer names used by Draw.
const (
	LayerGeometry     = "geometry"
	LayerConstruction = "construction"
	LayerPoints       = "points"
)

// Options control how shapes are drawn.
type Options struct {
	// Segments is the number of polyline segments a full ellipse or a
	// spline span is flattened into.
	Segments int
	// Extent is the half-length drawn for infinite lines. Rays are drawn
	// this far from their origin.
	Extent float64
	// PointRadius draws free points as small circles. Zero skips them.
	PointRadius float64
}

// DefaultOptions returns 64 segments, a 1000 unit extent and no points.
func DefaultOptions() Options {
	return Options{Segments: 64, Extent: 1000}
}

// Result summarizes a Draw call.
type Result struct {
	Entities int
	Edges    int
	// Skipped counts edges with no drawable form (unsupported shapes,
	// points when PointRadius is zero).
	Skipped int
}

// Draw emits every edge of every non-dimension entity in net through k.
// Entities are visited in id order.
func Draw(net *network.Network, k kernel.Kernel, opts Options) (Result, error) {
	var res Result
	if net == nil {
		return res, nil
	}
	if opts.Segments <= 0 {
		opts.Segments = DefaultOptions().Segments
	}
	if opts.Extent <= 0 {
		opts.Extent = DefaultOptions().Extent
	}

	for _, id := range net.Entities() {
		e, ok := net.Entity(id)
		if !ok || e.Dimension {
			continue
		}
		res.Entities++
		for i, s := range e.Edges {
			drawn, err := drawShape(k, s, opts)
			if err != nil {
				return res, fmt.Errorf("tessellate: entity %d edge %d: %w", id, i, err)
			}
			if drawn {
				res.Edges++
			} else {
				res.Skipped++
			}
		}
	}
	return res, nil
}

func drawShape(k kernel.Kernel, s geom.Shape, opts Options) (bool, error) {
	switch s := s.(type) {
	case geom.Segment:
		return true, withLayer(k, LayerGeometry, func() error { return k.Line(s.Start, s.End) })
	case geom.CircArc:
		return true, withLayer(k, LayerGeometry, func() error {
			if s.Closed {
				return k.Circle(s.Center, s.Radius)
			}
			return k.Arc(s.Center, s.Radius, s.StartAngle, s.EndAngle)
		})
	case geom.EllipArc, geom.Spline:
		pts, err := Flatten(s, opts.Segments)
		if err != nil {
			return false, err
		}
		closed := false
		if e, ok := s.(geom.EllipArc); ok {
			closed = e.Closed
		}
		return true, withLayer(k, LayerGeometry, func() error { return k.Polyline(pts, closed) })
	case geom.Line:
		d := s.Dir.MulScalar(opts.Extent)
		return true, withLayer(k, LayerConstruction, func() error { return k.Line(s.Origin.Sub(d), s.Origin.Add(d)) })
	case geom.Ray:
		return true, withLayer(k, LayerConstruction, func() error {
			return k.Line(s.Origin, s.Origin.Add(s.Dir.MulScalar(opts.Extent)))
		})
	case geom.Point:
		if opts.PointRadius <= 0 {
			return false, nil
		}
		return true, withLayer(k, LayerPoints, func() error { return k.Circle(s.P, opts.PointRadius) })
	default:
		return false, nil
	}
}

func withLayer(k kernel.Kernel, layer string, draw func() error) error {
	if err := k.Layer(layer); err != nil {
		return err
	}
	return draw()
}

// Flatten approximates a curved shape by a polyline. Segments is the count
// for a full ellipse turn or for a whole spline; open elliptical arcs get a
// proportional share with a minimum of two. Segments and circular arcs
// return their defining points.
func Flatten(s geom.Shape, segments int) ([]v2.Vec, error) {
	if segments < 2 {
		segments = 2
	}
	switch s := s.(type) {
	case geom.Segment:
		return []v2.Vec{s.Start, s.End}, nil
	case geom.CircArc:
		return sample(s.At, s.StartAngle, arcSweep(s.Closed, s.StartAngle, s.EndAngle), segments, s.Closed), nil
	case geom.EllipArc:
		return sample(s.At, s.StartParam, arcSweep(s.Closed, s.StartParam, s.EndParam), segments, s.Closed), nil
	case geom.Spline:
		if err := s.Validate(); err != nil {
			return nil, err
		}
		lo, hi := s.Domain()
		pts := make([]v2.Vec, segments+1)
		for i := range pts {
			pts[i] = s.At(lo + (hi-lo)*float64(i)/float64(segments))
		}
		return pts, nil
	default:
		return nil, fmt.Errorf("cannot flatten %s", s.Kind())
	}
}

func arcSweep(closed bool, start, end float64) float64 {
	if closed {
		return geom.Tau
	}
	return geom.Sweep(start, end)
}

// sample evaluates at over [start, start+sweep]. A closed curve omits the
// repeated end point.
func sample(at func(float64) v2.Vec, start, sweep float64, segments int, closed bool) []v2.Vec {
	n := int(math.Ceil(float64(segments) * sweep / geom.Tau))
	if n < 2 {
		n = 2
	}
	count := n + 1
	if closed {
		count = n
	}
	pts := make([]v2.Vec, count)
	for i := range pts {
		pts[i] = at(start + sweep*float64(i)/float64(n))
	}
	return pts
}
