package engine

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/eval"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/merge"
	"github.com/chazu/sketchgraph/pkg/network"
)

// ErrUnknownGroup is returned when a script names a group it never created.
var ErrUnknownGroup = errors.New("unknown group")

// Solve records one (solve ...) call of a script.
type Solve struct {
	Group  string
	Result eval.Result
}

// Sketch is the product of a script: a host network and the constraint
// groups the script created in it, by name.
type Sketch struct {
	Net    *network.Network
	Solves []Solve

	groups map[string]*graph.Group
	names  []string
	eval   *eval.Evaluator
	merge  *merge.Engine
	log    *zap.Logger
}

func (e *Engine) newSketch() *Sketch {
	net := network.New(e.policy)
	return &Sketch{
		Net:    net,
		groups: make(map[string]*graph.Group),
		eval: eval.New(net, e.solver,
			eval.WithLogger(e.log),
			eval.WithMetrics(e.metrics),
			eval.WithTolerance(e.tol)),
		merge: merge.New(net, merge.WithLogger(e.log), merge.WithMetrics(e.metrics)),
		log:   e.log,
	}
}

// Group returns a live group by name.
func (s *Sketch) Group(name string) (*graph.Group, bool) {
	g, ok := s.groups[name]
	if !ok || g.Erased() {
		return nil, false
	}
	return g, true
}

// GroupNames lists the names of the live groups in creation order.
func (s *Sketch) GroupNames() []string {
	var out []string
	for _, n := range s.names {
		if _, ok := s.Group(n); ok {
			out = append(out, n)
		}
	}
	return out
}

// Evaluator returns the evaluator bound to the sketch network.
func (s *Sketch) Evaluator() *eval.Evaluator { return s.eval }

// Merger returns the merge engine bound to the sketch network.
func (s *Sketch) Merger() *merge.Engine { return s.merge }

func (s *Sketch) addGroup(name string, g *graph.Group) error {
	if _, ok := s.Group(name); ok {
		return errors.Errorf("group %q already exists", name)
	}
	if _, seen := s.groups[name]; !seen {
		s.names = append(s.names, name)
	}
	s.groups[name] = g
	return nil
}

func (s *Sketch) lookup(name string) (*graph.Group, error) {
	g, ok := s.Group(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownGroup, "%q", name)
	}
	return g, nil
}

// nameOf returns the script name of a group id.
func (s *Sketch) nameOf(id network.ObjectID) (string, bool) {
	for _, n := range s.names {
		if g := s.groups[n]; g.ID() == id && !g.Erased() {
			return n, true
		}
	}
	return "", false
}

// solve resolves variable expressions and evaluates the named group.
func (s *Sketch) solve(ctx context.Context, name string) (eval.Result, error) {
	g, err := s.lookup(name)
	if err != nil {
		return eval.Result{}, err
	}
	if err := resolveVariables(s.Net); err != nil {
		return eval.Result{}, err
	}
	res := s.eval.Evaluate(ctx, g)
	s.Solves = append(s.Solves, Solve{Group: name, Result: res})
	s.log.Debug("group solved",
		zap.String("group", name),
		zap.Stringer("status", res.Status),
		zap.Stringer("strategy", res.Strategy))
	return res, nil
}

// copyGroup deep-clones a group the way the host copy machinery does and
// post-processes the clone. When withEntities is set the group's geometry
// entities are copied too; otherwise the clone stays bound to the source
// entities. A clone landing on the plane of a live group is merged into it,
// in which case the returned name is that group's.
func (s *Sketch) copyGroup(ctx context.Context, src, name string, withEntities bool, lift float64) (string, merge.Report, error) {
	g, err := s.lookup(src)
	if err != nil {
		return "", merge.Report{}, err
	}
	seen := make(map[network.ObjectID]bool)
	var ids []network.ObjectID
	for _, id := range g.Dependencies() {
		d, ok := s.Net.Dependency(id)
		if !ok || d.Kind != network.DepGeometry || seen[d.Path.Entity] {
			continue
		}
		seen[d.Path.Entity] = true
		ids = append(ids, d.Path.Entity)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var m network.IDMap
	if withEntities {
		m = s.Net.CloneEntities(ids...)
	} else {
		m = make(network.IDMap, len(ids))
		for _, id := range ids {
			m[id] = network.IDPair{Dest: id, Cloned: true}
		}
	}

	clone := g.Clone(graph.WithLogger(s.log))
	clone.Plane.Origin.Z += lift
	rep, err := s.merge.PostProcessAfterDeepClone(ctx, clone, m)
	if err != nil {
		s.merge.CancelDeepClone(clone)
		return "", rep, err
	}
	if rep.Target != 0 {
		target, _ := s.nameOf(rep.Target)
		return target, rep, nil
	}
	if clone.Erased() {
		return "", rep, nil
	}
	if err := s.addGroup(name, clone); err != nil {
		s.merge.CancelDeepClone(clone)
		return "", rep, err
	}
	return name, rep, nil
}
