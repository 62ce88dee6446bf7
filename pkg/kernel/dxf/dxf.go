// Package dxf implements kernel.Kernel on top of yofu/dxf, writing AutoCAD
// DXF drawings.
package dxf

import (
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"
	"github.com/yofu/dxf"
	"github.com/yofu/dxf/drawing"

	"github.com/chazu/sketchgraph/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*Kernel)(nil)

// Kernel draws into an in-memory DXF drawing.
type Kernel struct {
	d      *drawing.Drawing
	layers map[string]bool
}

// New creates an empty drawing.
func New() *Kernel {
	return &Kernel{d: dxf.NewDrawing(), layers: make(map[string]bool)}
}

func deg(rad float64) float64 { return rad * 180 / math.Pi }

func (k *Kernel) Layer(name string) error {
	if k.layers[name] {
		return errors.Wrapf(k.d.ChangeLayer(name), "dxf: layer %q", name)
	}
	if _, err := k.d.AddLayer(name, dxf.DefaultColor, dxf.DefaultLineType, true); err != nil {
		return errors.Wrapf(err, "dxf: add layer %q", name)
	}
	k.layers[name] = true
	return nil
}

func (k *Kernel) Line(a, b v2.Vec) error {
	_, err := k.d.Line(a.X, a.Y, 0, b.X, b.Y, 0)
	return errors.Wrap(err, "dxf: line")
}

// Arc writes an ARC entity. DXF arcs run anticlockwise in degrees.
func (k *Kernel) Arc(c v2.Vec, r, start, end float64) error {
	_, err := k.d.Arc(c.X, c.Y, 0, r, deg(start), deg(end))
	return errors.Wrap(err, "dxf: arc")
}

func (k *Kernel) Circle(c v2.Vec, r float64) error {
	_, err := k.d.Circle(c.X, c.Y, 0, r)
	return errors.Wrap(err, "dxf: circle")
}

// Polyline is written as consecutive LINE entities.
func (k *Kernel) Polyline(pts []v2.Vec, closed bool) error {
	for i := 1; i < len(pts); i++ {
		if err := k.Line(pts[i-1], pts[i]); err != nil {
			return err
		}
	}
	if closed && len(pts) > 2 {
		return k.Line(pts[len(pts)-1], pts[0])
	}
	return nil
}

func (k *Kernel) Save(path string) error {
	return errors.Wrapf(k.d.SaveAs(path), "dxf: save %s", path)
}
