package graph

import (
	"math"
	"sort"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/network"
)

// ---------------------------------------------------------------------------
// Geometric constraints
// ---------------------------------------------------------------------------

// AddConstraint adds a user-authored geometric constraint. Horizontal and
// Vertical take one line; Symmetric takes the two mirrored geometries and
// the mirror line; every other kind takes its geometry in any order. When an
// equivalent constraint already exists it is returned instead.
func (g *Group) AddConstraint(kind NodeKind, args ...NodeID) (*Node, error) {
	if !kind.IsConstraint() || kind.IsExplicit() {
		return nil, errors.Wrapf(ErrNotApplicable, "%s is not a geometric constraint", kind)
	}
	return g.addConstraint(kind, args, false)
}

func (g *Group) addConstraint(kind NodeKind, args []NodeID, implied bool) (*Node, error) {
	if g.erased {
		return nil, ErrErased
	}
	args, err := g.checkArgs(kind, args)
	if err != nil {
		return nil, err
	}
	if dup := g.findDuplicate(kind, args, nil); dup != nil {
		if cd := dup.Constraint(); cd != nil && cd.Implied && !implied {
			cd.Implied = false
		}
		return dup, nil
	}
	n := g.tieNode(kind, &ConstraintData{Args: args, Implied: implied, Enabled: true})
	for _, a := range args {
		g.connect(n.ID, a)
	}
	g.log.Debug("constraint added",
		zap.Int32("node", int32(n.ID)),
		zap.Stringer("kind", kind),
		zap.Bool("implied", implied))
	return n, nil
}

// checkArgs validates arity and geometry applicability for a constraint kind
// and returns the stored argument list.
func (g *Group) checkArgs(kind NodeKind, args []NodeID) ([]NodeID, error) {
	nodes := make([]*Node, len(args))
	seen := make(map[NodeID]bool, len(args))
	for i, id := range args {
		n := g.Node(id)
		if n == nil || !n.Kind.IsGeometry() {
			return nil, errors.Wrapf(ErrNotFound, "%s argument %s", kind, id)
		}
		if seen[id] {
			return nil, errors.Wrapf(ErrSelfConstraint, "%s on %s", kind, id)
		}
		seen[id] = true
		nodes[i] = n
	}
	bad := func() error {
		ks := make([]string, len(nodes))
		for i, n := range nodes {
			ks[i] = n.Kind.String()
		}
		return errors.Wrapf(ErrNotApplicable, "%s on %v", kind, ks)
	}
	arity := func(want int) error {
		if len(nodes) != want {
			return errors.Wrapf(ErrNotApplicable, "%s takes %d geometries, got %d", kind, want, len(nodes))
		}
		return nil
	}

	switch kind {
	case KindHorizontal, KindVertical:
		if err := arity(1); err != nil {
			return nil, err
		}
		if !nodes[0].Kind.IsLineFamily() || nodes[0].Kind == KindDatumLine {
			return nil, bad()
		}
		axis := 0
		if kind == KindVertical {
			axis = 1
		}
		return []NodeID{args[0], g.datumLine(axis).ID}, nil

	case KindParallel, KindPerpendicular, KindColinear:
		if err := arity(2); err != nil {
			return nil, err
		}
		if !nodes[0].Kind.IsLineFamily() || !nodes[1].Kind.IsLineFamily() {
			return nil, bad()
		}

	case KindNormal:
		if err := arity(2); err != nil {
			return nil, err
		}
		if nodes[1].Kind.IsLineFamily() {
			args = []NodeID{args[1], args[0]}
			nodes[0], nodes[1] = nodes[1], nodes[0]
		}
		if !nodes[0].Kind.IsLineFamily() || !nodes[1].Kind.IsCircleFamily() {
			return nil, bad()
		}

	case KindCoincident:
		if err := arity(2); err != nil {
			return nil, err
		}
		if !nodes[0].Kind.IsPoint() || !nodes[1].Kind.IsPoint() {
			return nil, bad()
		}
		if sameCurvePoints(nodes[0], nodes[1]) {
			return nil, errors.Wrapf(ErrSelfConstraint, "points of the same curve")
		}

	case KindConcentric:
		if err := arity(2); err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if !n.Kind.IsCircleFamily() && !n.Kind.IsEllipseFamily() {
				return nil, bad()
			}
		}

	case KindTangent:
		if err := arity(2); err != nil {
			return nil, err
		}
		if !tangentPair(nodes[0].Kind, nodes[1].Kind) {
			return nil, bad()
		}

	case KindEqualRadius:
		if err := arity(2); err != nil {
			return nil, err
		}
		if !nodes[0].Kind.IsCircleFamily() || !nodes[1].Kind.IsCircleFamily() {
			return nil, bad()
		}

	case KindEqualLength:
		if err := arity(2); err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if n.Kind != KindBoundedLine || n.Geometry().Ray {
				return nil, bad()
			}
		}

	case KindSymmetric:
		if err := arity(3); err != nil {
			return nil, err
		}
		if !nodes[2].Kind.IsLineFamily() || geomClass(nodes[0].Kind) != geomClass(nodes[1].Kind) {
			return nil, bad()
		}
		if nodes[0].Kind == KindRigidSet {
			return nil, bad()
		}
		// The mirror line keeps its position; the mirrored pair is a set.
		if args[0] > args[1] {
			args = []NodeID{args[1], args[0], args[2]}
		}
		return args, nil

	case KindFixed:
		if err := arity(1); err != nil {
			return nil, err
		}
		if nodes[0].Kind == KindDatumLine {
			return nil, errors.Wrapf(ErrReadOnly, "%s", nodes[0].Kind)
		}

	case KindPointCurve:
		if err := arity(2); err != nil {
			return nil, err
		}
		if nodes[1].Kind.IsPoint() {
			args = []NodeID{args[1], args[0]}
			nodes[0], nodes[1] = nodes[1], nodes[0]
		}
		if !nodes[0].Kind.IsPoint() || !nodes[1].Kind.IsCurve() {
			return nil, bad()
		}

	case KindCenterPoint:
		if err := arity(2); err != nil {
			return nil, err
		}
		if nodes[1].Kind.IsPoint() {
			args = []NodeID{args[1], args[0]}
			nodes[0], nodes[1] = nodes[1], nodes[0]
		}
		if !nodes[0].Kind.IsPoint() || !(nodes[1].Kind.IsCircleFamily() || nodes[1].Kind.IsEllipseFamily()) {
			return nil, bad()
		}

	case KindMidPoint:
		if err := arity(2); err != nil {
			return nil, err
		}
		if nodes[1].Kind.IsPoint() {
			args = []NodeID{args[1], args[0]}
			nodes[0], nodes[1] = nodes[1], nodes[0]
		}
		if !nodes[0].Kind.IsPoint() {
			return nil, bad()
		}
		c := nodes[1]
		if !(c.Kind == KindBoundedLine && !c.Geometry().Ray) && c.Kind != KindArc {
			return nil, bad()
		}

	case KindEqualCurvature:
		if err := arity(2); err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if !n.Kind.IsCurve() || n.Kind.IsLineFamily() {
				return nil, bad()
			}
		}

	default:
		return nil, errors.Wrapf(ErrNotApplicable, "unsupported constraint kind %s", kind)
	}
	return args, nil
}

// geomClass groups geometry kinds that can mirror each other.
func geomClass(k NodeKind) int {
	switch {
	case k.IsPoint():
		return 1
	case k.IsLineFamily():
		return 2
	case k.IsCircleFamily():
		return 3
	case k.IsEllipseFamily():
		return 4
	case k == KindSpline:
		return 5
	}
	return 0
}

func tangentPair(a, b NodeKind) bool {
	if a.IsLineFamily() && b.IsLineFamily() {
		return false
	}
	if !a.IsCurve() || !b.IsCurve() {
		return false
	}
	if a == KindSpline || b == KindSpline {
		return true
	}
	// Ellipses are tangent to lines and circles, never to each other.
	return !(a.IsEllipseFamily() && b.IsEllipseFamily())
}

func sameCurvePoints(a, b *Node) bool {
	if a.Kind != KindImplicitPoint || b.Kind != KindImplicitPoint {
		return false
	}
	return a.Geometry().Curve == b.Geometry().Curve
}

// findDuplicate returns a standalone constraint of the same kind over the
// same geometry set. For explicit kinds the dimension parameters must match.
func (g *Group) findDuplicate(kind NodeKind, args []NodeID, dim *Dimension) *Node {
	want := sortedIDs(args)
	for _, cid := range g.ConnectedConstraints(args[0]) {
		c := g.Node(cid)
		if c.Kind != kind {
			continue
		}
		cd := c.Constraint()
		if !cd.Composite.IsZero() {
			continue
		}
		if kind == KindSymmetric && cd.Args[2] != args[2] {
			continue
		}
		if !equalIDs(sortedIDs(cd.Args), want) {
			continue
		}
		if dim != nil && !sameDimension(cd.Explicit, dim) {
			continue
		}
		return c
	}
	return nil
}

func sameDimension(a, b *Dimension) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Direction == b.Direction && a.Vector.Equals(b.Vector, 1e-12) &&
		a.Sector == b.Sector && a.Radius == b.Radius
}

func sortedIDs(ids []NodeID) []NodeID {
	out := append([]NodeID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Explicit constraints
// ---------------------------------------------------------------------------

// ValueSource says where an explicit constraint reads its value from.
type ValueSource struct {
	// Constant seeds an anonymous variable when Variable and ValueDep are
	// both zero.
	Constant float64
	// Variable is an existing value variable to read.
	Variable network.ObjectID
	// Dimension is a drawn dimension entity the constraint drives.
	Dimension network.ObjectID

	// ValueDep and DimDep adopt existing dependencies, as a merge does.
	ValueDep network.ObjectID
	DimDep   network.ObjectID
}

// Constant is a ValueSource holding a fixed value.
func Constant(v float64) ValueSource { return ValueSource{Constant: v} }

// DistanceOptions selects how a distance is measured.
type DistanceOptions struct {
	Direction DirectionType
	Vector    v2.Vec // FixedDirection
	Line      NodeID // PerpendicularToLine and ParallelToLine
}

// AddDistance adds a distance between two geometries.
func (g *Group) AddDistance(a, b NodeID, src ValueSource, opt DistanceOptions) (*Node, error) {
	args := []NodeID{a, b}
	dim := &Dimension{Direction: opt.Direction}
	na, nb := g.Node(a), g.Node(b)
	if na == nil || nb == nil {
		return nil, errors.Wrap(ErrNotFound, "distance argument")
	}
	for _, n := range []*Node{na, nb} {
		if !n.Kind.IsPoint() && !n.Kind.IsLineFamily() && !n.Kind.IsCircleFamily() {
			return nil, errors.Wrapf(ErrNotApplicable, "distance on %s", n.Kind)
		}
	}
	switch opt.Direction {
	case NotDirected:
	case FixedDirection:
		if opt.Vector.Length() == 0 {
			return nil, errors.Wrap(ErrNotApplicable, "distance direction is zero")
		}
		if !na.Kind.IsPoint() || !nb.Kind.IsPoint() {
			return nil, errors.Wrap(ErrNotApplicable, "directed distance needs two points")
		}
		dim.Vector = opt.Vector.Normalize()
	case PerpendicularToLine, ParallelToLine:
		ln := g.Node(opt.Line)
		if ln == nil || !ln.Kind.IsLineFamily() {
			return nil, errors.Wrap(ErrNotApplicable, "distance reference is not a line")
		}
		if !na.Kind.IsPoint() || !nb.Kind.IsPoint() {
			return nil, errors.Wrap(ErrNotApplicable, "directed distance needs two points")
		}
		args = append(args, opt.Line)
	default:
		return nil, errors.Wrapf(ErrNotApplicable, "distance direction %s", opt.Direction)
	}
	return g.addExplicit(KindDistance, args, dim, src)
}

// AddAngle adds an angle between two lines.
func (g *Group) AddAngle(a, b NodeID, sector SectorType, src ValueSource) (*Node, error) {
	for _, id := range []NodeID{a, b} {
		n := g.Node(id)
		if n == nil {
			return nil, errors.Wrapf(ErrNotFound, "angle argument %s", id)
		}
		if !n.Kind.IsLineFamily() {
			return nil, errors.Wrapf(ErrNotApplicable, "angle on %s", n.Kind)
		}
	}
	return g.addExplicit(KindAngle, []NodeID{a, b}, &Dimension{Sector: sector}, src)
}

// AddAngle3Point adds the angle at vertex between the rays to p1 and p2.
func (g *Group) AddAngle3Point(vertex, p1, p2 NodeID, sector SectorType, src ValueSource) (*Node, error) {
	for _, id := range []NodeID{vertex, p1, p2} {
		n := g.Node(id)
		if n == nil {
			return nil, errors.Wrapf(ErrNotFound, "angle argument %s", id)
		}
		if !n.Kind.IsPoint() {
			return nil, errors.Wrapf(ErrNotApplicable, "3-point angle on %s", n.Kind)
		}
	}
	return g.addExplicit(KindAngle3Point, []NodeID{vertex, p1, p2}, &Dimension{Sector: sector}, src)
}

// AddRadiusDiameter adds a radius, diameter or ellipse radius dimension.
func (g *Group) AddRadiusDiameter(curve NodeID, kind RadiusKind, src ValueSource) (*Node, error) {
	n := g.Node(curve)
	if n == nil {
		return nil, errors.Wrapf(ErrNotFound, "radius argument %s", curve)
	}
	switch kind {
	case Radius, Diameter:
		if !n.Kind.IsCircleFamily() {
			return nil, errors.Wrapf(ErrNotApplicable, "%s on %s", kind, n.Kind)
		}
	case MajorRadius, MinorRadius:
		if !n.Kind.IsEllipseFamily() {
			return nil, errors.Wrapf(ErrNotApplicable, "%s on %s", kind, n.Kind)
		}
	default:
		return nil, errors.Wrapf(ErrNotApplicable, "radius kind %s", kind)
	}
	return g.addExplicit(KindRadiusDiameter, []NodeID{curve}, &Dimension{Radius: kind}, src)
}

func (g *Group) addExplicit(kind NodeKind, args []NodeID, dim *Dimension, src ValueSource) (*Node, error) {
	if g.erased {
		return nil, ErrErased
	}
	seen := make(map[NodeID]bool)
	for _, a := range args {
		if seen[a] {
			return nil, errors.Wrapf(ErrSelfConstraint, "%s on %s", kind, a)
		}
		seen[a] = true
	}
	if dup := g.findDuplicate(kind, args, dim); dup != nil {
		return dup, nil
	}
	if err := g.bindValue(dim, src); err != nil {
		return nil, err
	}
	n := g.tieNode(kind, &ConstraintData{Args: args, Enabled: true, Explicit: dim})
	for _, a := range args {
		g.connect(n.ID, a)
	}
	g.log.Debug("dimension added",
		zap.Int32("node", int32(n.ID)),
		zap.Stringer("kind", kind),
		zap.Int64("value", int64(dim.Value)))
	return n, nil
}

// bindValue creates or adopts the value and dimension dependencies.
func (g *Group) bindValue(dim *Dimension, src ValueSource) error {
	switch {
	case src.ValueDep != 0:
		if err := g.host.SetOwner(src.ValueDep, g.id); err != nil {
			return errors.Wrap(ErrNotFound, err.Error())
		}
		dim.Value = src.ValueDep
	case src.Variable != 0:
		if _, ok := g.host.Variable(src.Variable); !ok {
			return errors.Wrapf(ErrNotFound, "variable %d", src.Variable)
		}
		dim.Value = g.host.AddValueDependency(g.id, src.Variable).ID
	default:
		v := g.host.AddVariable("", "", src.Constant)
		dim.Value = g.host.AddValueDependency(g.id, v.ID).ID
	}
	switch {
	case src.DimDep != 0:
		if err := g.host.SetOwner(src.DimDep, g.id); err != nil {
			return errors.Wrap(ErrNotFound, err.Error())
		}
		dim.Dim = src.DimDep
	case src.Dimension != 0:
		dim.Dim = g.host.AddDimDependency(g.id, src.Dimension).ID
	}
	return nil
}

// ---------------------------------------------------------------------------
// Composites
// ---------------------------------------------------------------------------

// CompositeBuilder collects the parts of a composite constraint. Ownership
// is registered on every part only when Finalize runs.
type CompositeBuilder struct {
	g      *Group
	kind   CompositeKind
	curves [2]NodeID
	parts  []NodeID
	done   bool
}

// NewComposite starts a composite over two curves.
func (g *Group) NewComposite(kind CompositeKind, a, b NodeID) *CompositeBuilder {
	return &CompositeBuilder{g: g, kind: kind, curves: [2]NodeID{a, b}}
}

// Add appends a standalone constraint as the next part.
func (b *CompositeBuilder) Add(id NodeID) error {
	if b.done {
		return errors.New("graph: composite already finalized")
	}
	n := b.g.Node(id)
	if n == nil || n.Constraint() == nil {
		return errors.Wrapf(ErrNotFound, "composite part %s", id)
	}
	if !n.Constraint().Composite.IsZero() {
		return errors.Wrapf(ErrNotApplicable, "%s already belongs to a composite", id)
	}
	for _, p := range b.parts {
		if p == id {
			return nil
		}
	}
	b.parts = append(b.parts, id)
	return nil
}

// Finalize creates the composite node and takes ownership of the parts.
func (b *CompositeBuilder) Finalize() (*Node, error) {
	if b.done {
		return nil, errors.New("graph: composite already finalized")
	}
	if len(b.parts) == 0 {
		return nil, errors.Wrap(ErrNotApplicable, "composite without parts")
	}
	b.done = true
	g := b.g
	n := g.tieNode(KindComposite, &CompositeData{
		Kind:    b.kind,
		Parts:   append([]NodeID(nil), b.parts...),
		Curves:  b.curves,
		Enabled: true,
	})
	for _, p := range b.parts {
		pd := g.Node(p).Constraint()
		pd.Composite = n.ID
		pd.Implied = false
		g.connect(n.ID, p)
	}
	return n, nil
}

// AddSmoothJoin joins two open curves with curvature continuity at their
// nearest pair of end points.
func (g *Group) AddSmoothJoin(a, b NodeID) (*Node, error) {
	na, nb := g.Node(a), g.Node(b)
	if na == nil || nb == nil {
		return nil, errors.Wrap(ErrNotFound, "smooth join curves")
	}
	if a == b {
		return nil, ErrSelfConstraint
	}
	ends := []geom.PointRef{{Type: geom.PointStart}, {Type: geom.PointEnd}}
	var pa, pb *Node
	best := math.Inf(1)
	for _, ra := range ends {
		ea := g.ImplicitPoint(a, ra)
		if ea == nil {
			continue
		}
		for _, rb := range ends {
			eb := g.ImplicitPoint(b, rb)
			if eb == nil {
				continue
			}
			d := pointOf(ea).Sub(pointOf(eb)).Length()
			if d < best {
				best, pa, pb = d, ea, eb
			}
		}
	}
	if pa == nil {
		return nil, errors.Wrap(ErrNotApplicable, "smooth join needs two open curves")
	}
	return g.AddSmoothJoinAt(pa.ID, pb.ID)
}

// AddSmoothJoinAt joins the curves owning two end points with coincidence,
// tangency and equal curvature, wrapped in one composite. Spline sides get a
// helper parameter pinning the joined end.
func (g *Group) AddSmoothJoinAt(pa, pb NodeID) (*Node, error) {
	na, nb := g.Node(pa), g.Node(pb)
	if na == nil || nb == nil || na.Kind != KindImplicitPoint || nb.Kind != KindImplicitPoint {
		return nil, errors.Wrap(ErrNotApplicable, "smooth join needs two curve end points")
	}
	ca, cb := na.Geometry().Curve, nb.Geometry().Curve
	for _, c := range g.ConstraintsOfKind(KindComposite) {
		cd := c.Composite()
		if cd.Kind == SmoothJoin && equalIDs(sortedIDs(cd.Curves[:]), sortedIDs([]NodeID{ca, cb})) {
			return c, nil
		}
	}

	// Every part must apply before any is created.
	parts := []struct {
		kind NodeKind
		args []NodeID
	}{
		{KindCoincident, []NodeID{pa, pb}},
		{KindTangent, []NodeID{ca, cb}},
		{KindEqualCurvature, []NodeID{ca, cb}},
	}
	for _, p := range parts {
		if _, err := g.checkArgs(p.kind, p.args); err != nil {
			return nil, errors.Wrap(err, "smooth join")
		}
	}

	coin, err := g.addConstraint(KindCoincident, []NodeID{pa, pb}, false)
	if err != nil {
		return nil, err
	}
	tan, err := g.addConstraint(KindTangent, []NodeID{ca, cb}, false)
	if err != nil {
		return nil, err
	}
	curv, err := g.addConstraint(KindEqualCurvature, []NodeID{ca, cb}, false)
	if err != nil {
		return nil, err
	}
	for _, side := range []*Node{na, nb} {
		curve := g.Node(side.Geometry().Curve)
		sp, ok := curve.Geometry().Shape.(geom.Spline)
		if !ok {
			continue
		}
		lo, hi := sp.Domain()
		t := lo
		if side.Geometry().Point.Type == geom.PointEnd {
			t = hi
		}
		for _, c := range []*Node{tan, curv} {
			g.addHelper(c, curve.ID, t)
		}
	}

	b := g.NewComposite(SmoothJoin, ca, cb)
	for _, p := range []*Node{coin, tan, curv} {
		if err := b.Add(p.ID); err != nil {
			return nil, err
		}
	}
	return b.Finalize()
}

// addHelper attaches a helper parameter for curve to constraint c, reusing
// one that already exists.
func (g *Group) addHelper(c *Node, curve NodeID, value float64) *Node {
	cd := c.Constraint()
	for _, h := range cd.Helpers {
		if hn := g.Node(h); hn != nil && hn.Helper().Curve == curve {
			hn.Helper().Value = value
			return hn
		}
	}
	if value < 0 {
		value = 0
	}
	h := g.tieNode(KindHelperParameter, &HelperData{Value: value, Curve: curve, Constraint: c.ID})
	g.connect(c.ID, h.ID)
	cd.Helpers = append(cd.Helpers, h.ID)
	return h
}

func pointOf(n *Node) v2.Vec {
	if p, ok := n.Geometry().Shape.(geom.Point); ok {
		return p.P
	}
	return v2.Vec{}
}
