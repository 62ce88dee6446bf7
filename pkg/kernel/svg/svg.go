// Package svg implements kernel.Kernel on top of ajstarks/svgo.
//
// Primitives are buffered until Save so the canvas can be sized to the
// drawing. Sketch coordinates are scaled and flipped so +Y points up.
package svg

import (
	"fmt"
	"io"
	"math"
	"os"

	svgo "github.com/ajstarks/svgo"
	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"

	"github.com/chazu/sketchgraph/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*Kernel)(nil)

// Options control the output canvas.
type Options struct {
	Scale  float64 // pixels per sketch unit
	Margin int     // pixels around the drawing
	Style  string  // applied to every layer group
}

// DefaultOptions returns 10 px per unit with a 20 px margin.
func DefaultOptions() Options {
	return Options{Scale: 10, Margin: 20, Style: "fill:none;stroke:black;stroke-width:1"}
}

type primKind int

const (
	primLine primKind = iota
	primArc
	primCircle
	primPolyline
)

type prim struct {
	kind       primKind
	pts        []v2.Vec
	r          float64
	start, end float64
	closed     bool
}

type layer struct {
	name  string
	prims []prim
}

// Kernel buffers primitives per layer and renders them on Save.
type Kernel struct {
	opts   Options
	layers []*layer
	cur    *layer
	trace  *kernel.Trace
}

// New returns an empty SVG kernel.
func New(opts Options) *Kernel {
	if opts.Scale <= 0 {
		opts.Scale = DefaultOptions().Scale
	}
	k := &Kernel{opts: opts, trace: kernel.NewTrace()}
	k.Layer("0")
	return k
}

func (k *Kernel) Layer(name string) error {
	for _, l := range k.layers {
		if l.name == name {
			k.cur = l
			return nil
		}
	}
	k.cur = &layer{name: name}
	k.layers = append(k.layers, k.cur)
	return k.trace.Layer(name)
}

func (k *Kernel) add(p prim) { k.cur.prims = append(k.cur.prims, p) }

func (k *Kernel) Line(a, b v2.Vec) error {
	k.add(prim{kind: primLine, pts: []v2.Vec{a, b}})
	return k.trace.Line(a, b)
}

func (k *Kernel) Arc(c v2.Vec, r, start, end float64) error {
	k.add(prim{kind: primArc, pts: []v2.Vec{c}, r: r, start: start, end: end})
	return k.trace.Arc(c, r, start, end)
}

func (k *Kernel) Circle(c v2.Vec, r float64) error {
	k.add(prim{kind: primCircle, pts: []v2.Vec{c}, r: r})
	return k.trace.Circle(c, r)
}

func (k *Kernel) Polyline(pts []v2.Vec, closed bool) error {
	k.add(prim{kind: primPolyline, pts: append([]v2.Vec(nil), pts...), closed: closed})
	return k.trace.Polyline(pts, closed)
}

// Save renders the drawing to path.
func (k *Kernel) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "svg: create")
	}
	if err := k.Render(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "svg: close")
}

// Render writes the drawing to w.
func (k *Kernel) Render(w io.Writer) error {
	lo, hi := k.trace.Bounds()
	if k.trace.IsEmpty() {
		lo, hi = v2.Vec{}, v2.Vec{}
	}
	s, m := k.opts.Scale, float64(k.opts.Margin)
	px := func(p v2.Vec) (int, int) {
		return int(math.Round((p.X-lo.X)*s + m)), int(math.Round((hi.Y-p.Y)*s + m))
	}
	width := int(math.Ceil((hi.X-lo.X)*s + 2*m))
	height := int(math.Ceil((hi.Y-lo.Y)*s + 2*m))

	canvas := svgo.New(w)
	canvas.Start(width, height)
	for _, l := range k.layers {
		if len(l.prims) == 0 {
			continue
		}
		canvas.Group(fmt.Sprintf(`id="%s"`, l.name), fmt.Sprintf(`style="%s"`, k.opts.Style))
		for _, p := range l.prims {
			switch p.kind {
			case primLine:
				x1, y1 := px(p.pts[0])
				x2, y2 := px(p.pts[1])
				canvas.Line(x1, y1, x2, y2)
			case primCircle:
				x, y := px(p.pts[0])
				canvas.Circle(x, y, int(math.Round(p.r*s)))
			case primArc:
				c := p.pts[0]
				sx, sy := px(c.Add(v2.Vec{X: math.Cos(p.start), Y: math.Sin(p.start)}.MulScalar(p.r)))
				ex, ey := px(c.Add(v2.Vec{X: math.Cos(p.end), Y: math.Sin(p.end)}.MulScalar(p.r)))
				sweep := math.Mod(p.end-p.start, 2*math.Pi)
				if sweep <= 0 {
					sweep += 2 * math.Pi
				}
				r := int(math.Round(p.r * s))
				// With y flipped, anticlockwise in the sketch is clockwise on screen.
				canvas.Arc(sx, sy, r, r, 0, sweep > math.Pi, false, ex, ey)
			case primPolyline:
				xs := make([]int, len(p.pts))
				ys := make([]int, len(p.pts))
				for i, q := range p.pts {
					xs[i], ys[i] = px(q)
				}
				if p.closed {
					canvas.Polygon(xs, ys)
				} else {
					canvas.Polyline(xs, ys)
				}
			}
		}
		canvas.Gend()
	}
	canvas.End()
	return nil
}
