// Package kernel defines the abstract drawing kernel sketches are written
// through. Implementations (dxf, svg) turn primitive calls into a file.
package kernel

import v2 "github.com/deadsy/sdfx/vec/v2"

// Kernel is the abstract drawing kernel. Coordinates are sketch units in
// the work plane; angles are radians.
type Kernel interface {
	// Layer makes name the current layer, creating it on first use.
	Layer(name string) error

	// Primitives
	Line(a, b v2.Vec) error
	Arc(center v2.Vec, radius, start, end float64) error // anticlockwise from start to end
	Circle(center v2.Vec, radius float64) error
	Polyline(pts []v2.Vec, closed bool) error

	// Save writes the drawing to path.
	Save(path string) error
}
