// Package lsq is a damped least-squares (Levenberg-Marquardt) backend for
// the solver interface. Every constraint is a block of residuals over the
// parameters of the objects it names; a solve minimizes the sum of squares
// over all non-fixed parameters, starting from the current values so the
// result stays close to the input.
package lsq

import (
	"math"
	"sort"
	"time"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/solver"
)

// Options configures the backend.
type Options struct {
	// Tolerance is the largest residual treated as satisfied.
	Tolerance float64
	// MaxIterations bounds one solve.
	MaxIterations int
	// Expires, when set, makes NewContext fail with ErrLicense after it.
	Expires time.Time
	Logger  *zap.Logger
}

// DefaultOptions returns the options used by New when none are set.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-8, MaxIterations: 200}
}

// Solver is the least-squares backend.
type Solver struct {
	opts Options
	now  func() time.Time
}

var _ solver.Solver = (*Solver)(nil)

// New creates a backend. Zero fields take their defaults.
func New(opts Options) *Solver {
	def := DefaultOptions()
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Solver{opts: opts, now: time.Now}
}

// Name implements solver.Solver.
func (s *Solver) Name() string { return "lsq" }

// NewContext implements solver.Solver.
func (s *Solver) NewContext() (solver.Context, error) {
	if !s.opts.Expires.IsZero() && s.now().After(s.opts.Expires) {
		return nil, errors.Wrapf(solver.ErrLicense, "expired %s", s.opts.Expires.Format(time.RFC3339))
	}
	return &Context{
		opts:    s.opts,
		log:     s.opts.Logger,
		objects: make(map[solver.Handle]*object),
	}, nil
}

// Context is one solve attempt.
type Context struct {
	opts Options
	log  *zap.Logger

	next        solver.Handle
	objects     map[solver.Handle]*object
	constraints []*constraint
	rigid       []solver.Handle
	closed      bool
}

var _ solver.Context = (*Context)(nil)

func (c *Context) handle() solver.Handle {
	c.next++
	return c.next
}

func (c *Context) add(o *object) solver.Handle {
	h := c.handle()
	c.objects[h] = o
	return h
}

// ----------------------------------------------------------------------------
// Primitives
// ----------------------------------------------------------------------------

// CreatePoint implements solver.Context.
func (c *Context) CreatePoint(p v2.Vec) solver.Handle {
	return c.add(&object{kind: solver.ObjPoint, params: []float64{p.X, p.Y}})
}

// CreateLine implements solver.Context.
func (c *Context) CreateLine(origin, dir v2.Vec) solver.Handle {
	return c.add(&object{kind: solver.ObjLine, params: []float64{origin.X, origin.Y, math.Atan2(dir.Y, dir.X)}})
}

// CreateCircle implements solver.Context.
func (c *Context) CreateCircle(center v2.Vec, r float64) solver.Handle {
	return c.add(&object{kind: solver.ObjCircle, params: []float64{center.X, center.Y, r}})
}

// CreateEllipse implements solver.Context.
func (c *Context) CreateEllipse(center, majorAxis v2.Vec, major, minor float64) solver.Handle {
	return c.add(&object{kind: solver.ObjEllipse, params: []float64{
		center.X, center.Y, math.Atan2(majorAxis.Y, majorAxis.X), major, minor,
	}})
}

// CreateSpline implements solver.Context.
func (c *Context) CreateSpline(s geom.Spline) solver.Handle {
	p := make([]float64, 0, 2*len(s.Control))
	for _, q := range s.Control {
		p = append(p, q.X, q.Y)
	}
	return c.add(&object{
		kind:    solver.ObjSpline,
		params:  p,
		degree:  s.Degree,
		knots:   append([]float64(nil), s.Knots...),
		weights: append([]float64(nil), s.Weights...),
	})
}

// CreateRigidSet implements solver.Context. Members keep their relative
// pose as of this call.
func (c *Context) CreateRigidSet(members []solver.Handle) (solver.Handle, error) {
	if c.closed {
		return 0, solver.ErrFatal
	}
	rest := make([][]float64, len(members))
	for i, m := range members {
		o, ok := c.objects[m]
		if !ok {
			return 0, errors.Wrapf(solver.ErrBadHandle, "rigid set member %d", m)
		}
		switch o.kind {
		case solver.ObjVariable, solver.ObjRigidSet:
			return 0, errors.Wrapf(solver.ErrUnsupported, "rigid set member %s", o.kind)
		}
		rest[i] = append([]float64(nil), o.params...)
	}
	h := c.add(&object{
		kind:    solver.ObjRigidSet,
		params:  []float64{0, 0, 0},
		members: append([]solver.Handle(nil), members...),
		rest:    rest,
	})
	c.rigid = append(c.rigid, h)
	return h, nil
}

// CreateVariable implements solver.Context.
func (c *Context) CreateVariable(v float64) solver.Handle {
	return c.add(&object{kind: solver.ObjVariable, params: []float64{v}})
}

// ----------------------------------------------------------------------------
// Constraints
// ----------------------------------------------------------------------------

// AddConstraint implements solver.Context. The arguments of Incidence and
// Distance may be given in either order.
func (c *Context) AddConstraint(cs solver.Constraint) (solver.Handle, error) {
	if c.closed {
		return 0, solver.ErrFatal
	}
	cs.Objects = append([]solver.Handle(nil), cs.Objects...)
	cs.Params = append([]solver.Handle(nil), cs.Params...)
	if err := c.check(&cs); err != nil {
		return 0, err
	}
	k := &constraint{handle: c.handle(), cs: cs}
	c.observe(k)
	c.constraints = append(c.constraints, k)
	return k.handle, nil
}

// AddEquation implements solver.Context.
func (c *Context) AddEquation(objects []solver.Handle, fn solver.Equation, inequality bool) (solver.Handle, error) {
	if c.closed {
		return 0, solver.ErrFatal
	}
	if fn == nil {
		return 0, errors.Wrap(solver.ErrUnsupported, "nil equation")
	}
	for _, h := range objects {
		if _, ok := c.objects[h]; !ok {
			return 0, errors.Wrapf(solver.ErrBadHandle, "equation object %d", h)
		}
	}
	k := &constraint{
		handle:     c.handle(),
		cs:       solver.Constraint{Objects: append([]solver.Handle(nil), objects...)},
		eq:         fn,
		inequality: inequality,
	}
	c.constraints = append(c.constraints, k)
	return k.handle, nil
}

// Fix implements solver.Context.
func (c *Context) Fix(h solver.Handle, fixed bool) error {
	o, err := c.object(h)
	if err != nil {
		return err
	}
	o.fixed = fixed
	return nil
}

// ----------------------------------------------------------------------------
// State
// ----------------------------------------------------------------------------

func (c *Context) object(h solver.Handle) (*object, error) {
	if c.closed {
		return nil, solver.ErrFatal
	}
	o, ok := c.objects[h]
	if !ok {
		return nil, errors.Wrapf(solver.ErrBadHandle, "object %d", h)
	}
	return o, nil
}

// Kind implements solver.Context.
func (c *Context) Kind(h solver.Handle) (solver.ObjectKind, error) {
	o, err := c.object(h)
	if err != nil {
		return 0, err
	}
	return o.kind, nil
}

// Params implements solver.Context.
func (c *Context) Params(h solver.Handle) ([]float64, error) {
	o, err := c.object(h)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), o.params...), nil
}

// SetParams implements solver.Context.
func (c *Context) SetParams(h solver.Handle, p []float64) error {
	o, err := c.object(h)
	if err != nil {
		return err
	}
	if len(p) != len(o.params) {
		return errors.Wrapf(solver.ErrUnsupported, "%s takes %d parameters, got %d", o.kind, len(o.params), len(p))
	}
	copy(o.params, p)
	return nil
}

// ----------------------------------------------------------------------------
// Batch operations
// ----------------------------------------------------------------------------

// Move translates the listed objects, holds them in place and solves the
// rest. It returns ErrUnsatisfied if the result leaves a constraint open or
// a listed object is fixed; nothing moves in the latter case.
func (c *Context) Move(objects []solver.Handle, d v2.Vec) error {
	return c.transformSolve(objects, geom.Translation(d))
}

// Rotate rotates the listed objects about center, holds them in place and
// solves the rest.
func (c *Context) Rotate(objects []solver.Handle, center v2.Vec, angle float64) error {
	return c.transformSolve(objects, geom.Rotation(center, angle))
}

func (c *Context) transformSolve(objects []solver.Handle, r geom.Rigid) error {
	held := make(map[solver.Handle]bool, len(objects))
	for _, h := range objects {
		o, err := c.object(h)
		if err != nil {
			return err
		}
		if held[h] {
			continue
		}
		if o.fixed {
			return errors.Wrapf(solver.ErrUnsatisfied, "object %d is fixed", h)
		}
		held[h] = true
	}
	for h := range held {
		o := c.objects[h]
		o.params = o.transform(o.params, r)
	}
	if err := c.solve(held); err != nil {
		return err
	}
	if sat, total := c.Status(); sat < total {
		return errors.Wrapf(solver.ErrUnsatisfied, "%d of %d satisfied", sat, total)
	}
	return nil
}

// Apply solves with only the fixed objects held. An unsatisfied result is
// not an error; callers read Status.
func (c *Context) Apply() error {
	if c.closed {
		return solver.ErrFatal
	}
	return c.solve(nil)
}

// Status implements solver.Context. Rigid sets count as one constraint
// each.
func (c *Context) Status() (satisfied, total int) {
	if c.closed {
		return 0, 0
	}
	tol := c.opts.Tolerance * 10
	var buf []float64
	for _, k := range c.constraints {
		total++
		buf = c.residual(k, buf[:0])
		if maxAbs(buf) <= tol {
			satisfied++
		}
	}
	for _, h := range c.rigid {
		total++
		buf = c.rigidBlock(h, buf[:0])
		if maxAbs(buf) <= tol {
			satisfied++
		}
	}
	return satisfied, total
}

// Close implements solver.Context.
func (c *Context) Close() error {
	if c.closed {
		return solver.ErrFatal
	}
	c.closed = true
	c.objects = nil
	c.constraints = nil
	c.rigid = nil
	return nil
}

// ----------------------------------------------------------------------------
// Levenberg-Marquardt
// ----------------------------------------------------------------------------

type ref struct {
	h solver.Handle
	i int
}

// free lists the parameters a solve may change, in handle order.
func (c *Context) free(held map[solver.Handle]bool) []ref {
	hs := make([]int, 0, len(c.objects))
	for h, o := range c.objects {
		if !o.fixed && !held[h] {
			hs = append(hs, int(h))
		}
	}
	sort.Ints(hs)
	var refs []ref
	for _, h := range hs {
		for i := range c.objects[solver.Handle(h)].params {
			refs = append(refs, ref{solver.Handle(h), i})
		}
	}
	return refs
}

func (c *Context) get(refs []ref) []float64 {
	x := make([]float64, len(refs))
	for j, r := range refs {
		x[j] = c.objects[r.h].params[r.i]
	}
	return x
}

func (c *Context) set(refs []ref, x []float64) {
	for j, r := range refs {
		c.objects[r.h].params[r.i] = x[j]
	}
}

func (c *Context) rigidBlock(h solver.Handle, out []float64) []float64 {
	rs := c.objects[h]
	for i, m := range rs.members {
		mo := c.objects[m]
		out = append(out, rigidResiduals(mo, rs.rest[i], mo.params, rs.params)...)
	}
	return out
}

// residuals evaluates every constraint at the current parameters.
func (c *Context) residuals() []float64 {
	var out []float64
	for _, k := range c.constraints {
		out = c.residual(k, out)
	}
	for _, h := range c.rigid {
		out = c.rigidBlock(h, out)
	}
	return out
}

// jumpLimit bounds how far the forward and backward differences of one
// residual may disagree. Anything larger is a wrapped angle crossing its
// branch cut.
const jumpLimit = 1.0

// jacobian estimates d r / d x by central differences. Where a residual
// jumps across the step, the one-sided difference on the continuous side is
// used instead, so a start sitting on an angle's branch cut still gets a
// usable slope.
func (c *Context) jacobian(refs []ref, x, r0 []float64) *mat.Dense {
	m := len(r0)
	J := mat.NewDense(m, len(refs), nil)
	for j, r := range refs {
		p := c.objects[r.h].params
		h := 1e-7 * math.Max(1, math.Abs(x[j]))
		p[r.i] = x[j] + h
		plus := c.residuals()
		p[r.i] = x[j] - h
		minus := c.residuals()
		p[r.i] = x[j]
		for i := 0; i < m; i++ {
			fwd, back := plus[i]-r0[i], r0[i]-minus[i]
			d := (fwd + back) / (2 * h)
			if math.Abs(fwd-back) > jumpLimit {
				if math.Abs(fwd) <= math.Abs(back) {
					d = fwd / h
				} else {
					d = back / h
				}
			}
			J.Set(i, j, d)
		}
	}
	return J
}

func (c *Context) solve(held map[solver.Handle]bool) error {
	refs := c.free(held)
	r := c.residuals()
	if err := finite(r); err != nil {
		return err
	}
	if len(r) == 0 || len(refs) == 0 {
		return nil
	}

	n := len(refs)
	x := c.get(refs)
	cost := sumSq(r)
	lambda := 1e-3
	iter := 0
	for ; iter < c.opts.MaxIterations && maxAbs(r) > c.opts.Tolerance; iter++ {
		J := c.jacobian(refs, x, r)
		var A mat.SymDense
		A.SymOuterK(1, J.T())
		var g mat.VecDense
		g.MulVec(J.T(), mat.NewVecDense(len(r), r))

		improved := false
		var step mat.VecDense
		for try := 0; try < 12 && !improved; try++ {
			M := mat.NewSymDense(n, nil)
			M.CopySym(&A)
			// Identity damping: steps stay on the least-change path.
			for i := 0; i < n; i++ {
				M.SetSym(i, i, A.At(i, i)+lambda)
			}
			var ch mat.Cholesky
			if !ch.Factorize(M) {
				lambda *= 10
				continue
			}
			if err := ch.SolveVecTo(&step, &g); err != nil {
				lambda *= 10
				continue
			}
			xn := make([]float64, n)
			for j := range xn {
				xn[j] = x[j] - step.AtVec(j)
			}
			c.set(refs, xn)
			rn := c.residuals()
			if cn := sumSq(rn); finite(rn) == nil && cn < cost {
				x, r, cost = xn, rn, cn
				lambda = math.Max(lambda/10, 1e-10)
				improved = true
			} else {
				c.set(refs, x)
				lambda *= 10
			}
		}
		if !improved || mat.Norm(&step, math.Inf(1)) < 1e-14 {
			break
		}
	}
	c.set(refs, x)
	c.log.Debug("lsq solve",
		zap.Int("params", n),
		zap.Int("residuals", len(r)),
		zap.Int("iterations", iter),
		zap.Float64("max_residual", maxAbs(r)))
	return finite(x)
}

func finite(v []float64) error {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.Wrap(solver.ErrFatal, "non-finite value")
		}
	}
	return nil
}

func sumSq(v []float64) float64 {
	s := 0.0
	for _, f := range v {
		s += f * f
	}
	return s
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, f := range v {
		m = math.Max(m, math.Abs(f))
	}
	return m
}
