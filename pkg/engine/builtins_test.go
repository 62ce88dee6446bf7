package engine

import (
	"math"
	"strings"
	"testing"

	"github.com/chazu/sketchgraph/pkg/eval"
	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/network"
)

// ---------------------------------------------------------------------------
// Preprocessing tests
// ---------------------------------------------------------------------------

func TestPreprocessKeywords(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "simple keyword",
			input:  `(geometry g e :edge 1)`,
			expect: `(geometry g e "__kw_edge" 1)`,
		},
		{
			name:   "keyword value",
			input:  `(geometry g e :at :start)`,
			expect: `(geometry g e "__kw_at" "__kw_start")`,
		},
		{
			name:   "keyword in string preserved",
			input:  `"thing with :keyword inside"`,
			expect: `"thing with :keyword inside"`,
		},
		{
			name:   "escaped quote in string",
			input:  `"a \" :b" :c`,
			expect: `"a \" :b" "__kw_c"`,
		},
		{
			name:   "assignment operator preserved",
			input:  `(def x := 10)`,
			expect: `(def x := 10)`,
		},
		{
			name:   "kebab-case identifier",
			input:  `(smooth-join g a b)`,
			expect: `(smooth_join g a b)`,
		},
		{
			name:   "minus operator preserved",
			input:  `(- 10 5)`,
			expect: `(- 10 5)`,
		},
		{
			name:   "hyphen before digit is a minus",
			input:  `(- x-1)`,
			expect: `(- x-1)`,
		},
		{
			name:   "comment converted to // style",
			input:  `;; comment with :keyword`,
			expect: `// comment with :keyword`,
		},
		{
			name:   "hyphen in keyword preserved",
			input:  `:perpendicular-to`,
			expect: `"__kw_perpendicular-to"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := preprocessSource(tt.input)
			if got != tt.expect {
				t.Errorf("preprocessSource(%q) = %q, want %q", tt.input, got, tt.expect)
			}
		})
	}
}

func TestSnakeName(t *testing.T) {
	for in, want := range map[string]string{
		"Perpendicular":  "perpendicular",
		"EqualRadius":    "equal_radius",
		"MidPoint":       "mid_point",
		"EqualCurvature": "equal_curvature",
	} {
		if got := snakeName(in); got != want {
			t.Errorf("snakeName(%q) = %q, want %q", in, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// DSL tests
// ---------------------------------------------------------------------------

const solveTol = 1e-6

func mustEvaluate(t *testing.T, source string) *Sketch {
	t.Helper()
	sk, evalErrs, err := NewEngine().Evaluate(source)
	if err != nil {
		t.Fatalf("fatal error: %v", err)
	}
	if len(evalErrs) > 0 {
		t.Fatalf("eval errors: %v", evalErrs)
	}
	return sk
}

func mustGroup(t *testing.T, sk *Sketch, name string) *graph.Group {
	t.Helper()
	g, ok := sk.Group(name)
	if !ok {
		t.Fatalf("expected group %q", name)
	}
	return g
}

func edge(t *testing.T, sk *Sketch, i int) geom.Shape {
	t.Helper()
	ents := sk.Net.Entities()
	if len(ents) == 0 {
		t.Fatal("expected an entity")
	}
	s, err := sk.Net.Shape(network.Path{Entity: ents[0], Edge: i})
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	return s
}

func near(a, b float64) bool { return math.Abs(a-b) < solveTol }

func TestCornerGroup(t *testing.T) {
	sk := mustEvaluate(t, `
; an L-shaped corner
(def g (group "base"))
(def corner (polyline (pt 0 0) (pt 6 0) (pt 6 8)))
(def l1 (geometry g corner))
(def l2 (geometry g corner :edge 1))
(perpendicular g l1 l2)
(horizontal g l1)
(distance g (geometry g corner :at :start) (geometry g corner :edge 1 :at :end) 10)
`)
	g := mustGroup(t, sk, "base")
	if n := len(g.ConstraintsOfKind(graph.KindPerpendicular)); n != 1 {
		t.Errorf("expected 1 perpendicular, got %d", n)
	}
	if n := len(g.ConstraintsOfKind(graph.KindDistance)); n != 1 {
		t.Errorf("expected 1 distance, got %d", n)
	}
	h := g.ConstraintsOfKind(graph.KindHorizontal)
	if len(h) != 1 {
		t.Fatalf("expected 1 horizontal, got %d", len(h))
	}
	if datum := g.Node(h[0].Constraint().Args[1]); datum.Kind != graph.KindDatumLine {
		t.Errorf("expected horizontal to reference a datum line, got %s", datum.Kind)
	}
	if errs := graph.Validate(g); graph.HasErrors(errs) {
		t.Fatalf("invalid group: %v", errs)
	}
}

func TestMoveAndSolve(t *testing.T) {
	sk := mustEvaluate(t, `
(def g (group "base"))
(def corner (polyline (pt 0 0) (pt 6 0) (pt 6 8)))
(perpendicular g (geometry g corner) (geometry g corner :edge 1))
(move corner 3 0)
(solve g)
`)
	if len(sk.Solves) != 1 {
		t.Fatalf("expected 1 solve, got %d", len(sk.Solves))
	}
	res := sk.Solves[0].Result
	if res.Status != eval.StatusResolved {
		t.Fatalf("expected resolved, got %s (%v)", res.Status, res.Err)
	}
	if res.Strategy != eval.StrategyFastTransform {
		t.Errorf("expected fast transform, got %s", res.Strategy)
	}

	s, ok := edge(t, sk, 1).(geom.Segment)
	if !ok {
		t.Fatalf("expected segment, got %T", edge(t, sk, 1))
	}
	if !near(s.Start.X, 9) || !near(s.Start.Y, 0) || !near(s.End.X, 9) || !near(s.End.Y, 8) {
		t.Errorf("unexpected second edge %v", s)
	}
}

func TestVariableDrivesRadius(t *testing.T) {
	sk := mustEvaluate(t, `
(def g (group "base"))
(def c (geometry g (entity (circle (pt 2 2) 5))))
(variable "d" 10)
(variable "r" 5 :expr "(/ d 2)")
(radius g c 5 :var "r")
(set-variable "d" 14)
(solve g)
`)
	res := sk.Solves[0].Result
	if res.Status != eval.StatusResolved {
		t.Fatalf("expected resolved, got %s (%v)", res.Status, res.Err)
	}
	arc, ok := edge(t, sk, 0).(geom.CircArc)
	if !ok {
		t.Fatalf("expected circle, got %T", edge(t, sk, 0))
	}
	if !near(arc.Radius, 7) {
		t.Errorf("expected radius 7, got %g", arc.Radius)
	}
	r, ok := sk.Net.VariableByName("R")
	if !ok || !near(r.Value, 7) {
		t.Errorf("expected r = 7, got %+v", r)
	}
}

func TestDimensionEntityGoesStale(t *testing.T) {
	sk := mustEvaluate(t, `
(def g (group "base"))
(def dim (dimension 5))
(def c (geometry g (entity (circle (pt 0 0) 5))))
(radius g c 5 :var "r" :dim dim)
(set-variable "r" 6)
(solve g)
`)
	var stale bool
	for _, id := range sk.Net.Entities() {
		if e, _ := sk.Net.Entity(id); e.Dimension {
			stale = e.Stale
		}
	}
	if !stale {
		t.Error("expected the dimension entity to be stale after the solve")
	}
}

func TestSmoothJoinAndDelete(t *testing.T) {
	sk := mustEvaluate(t, `
(def g (group "base"))
(def a1 (geometry g (entity (arc (pt 0 0) 5 0 90))))
(def a2 (geometry g (entity (arc (pt 0 10) 5 -90 0))))
(fixed g a1)
(fixed g a2)
(def j (smooth-join g a1 a2))
(delete g j)
`)
	g := mustGroup(t, sk, "base")
	if n := len(g.ConstraintsOfKind(graph.KindComposite)); n != 0 {
		t.Errorf("expected the composite to be deleted, got %d", n)
	}
	if n := len(g.ConstraintsOfKind(graph.KindFixed)); n != 2 {
		t.Errorf("expected both fixed constraints to survive, got %d", n)
	}
	if errs := graph.Validate(g); graph.HasErrors(errs) {
		t.Fatalf("invalid group: %v", errs)
	}
}

func TestMergeGroups(t *testing.T) {
	sk := mustEvaluate(t, `
(def a (group "a"))
(def b (group "b"))
(def corner (polyline (pt 0 0) (pt 6 0) (pt 6 8)))
(perpendicular b (geometry b corner) (geometry b corner :edge 1))
(def n (merge a b))
`)
	a := mustGroup(t, sk, "a")
	if _, ok := sk.Group("b"); ok {
		t.Error("expected source group to be gone")
	}
	if n := len(a.ConstraintsOfKind(graph.KindPerpendicular)); n != 1 {
		t.Errorf("expected 1 perpendicular in destination, got %d", n)
	}
	if names := sk.GroupNames(); len(names) != 1 || names[0] != "a" {
		t.Errorf("unexpected groups %v", names)
	}
}

func TestCopyGroup(t *testing.T) {
	sk := mustEvaluate(t, `
(def g (group "base"))
(def corner (polyline (pt 0 0) (pt 6 0) (pt 6 8)))
(perpendicular g (geometry g corner) (geometry g corner :edge 1))
(copy-group g "lifted" :entities 1 :z 5)
(copy-group g "twin" :entities 1)
`)
	base := mustGroup(t, sk, "base")
	lifted := mustGroup(t, sk, "lifted")
	if _, ok := sk.Group("twin"); ok {
		t.Error("expected the same-plane copy to merge into base")
	}
	if n := len(lifted.ConstraintsOfKind(graph.KindPerpendicular)); n != 1 {
		t.Errorf("expected 1 perpendicular in the lifted copy, got %d", n)
	}
	if n := len(base.ConstraintsOfKind(graph.KindPerpendicular)); n != 2 {
		t.Errorf("expected the merged copy to add a perpendicular, got %d", n)
	}
	if lifted.Plane.Origin.Z != 5 {
		t.Errorf("expected lifted plane at z=5, got %g", lifted.Plane.Origin.Z)
	}
}

func TestDSLErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown group", `(solve "nope")`, "unknown group"},
		{"duplicate group", `(group "a") (group "a")`, "already exists"},
		{"node of another group", `
(def a (group "a"))
(def b (group "b"))
(def e (polyline (pt 0 0) (pt 1 0)))
(horizontal b (geometry a e))`, "belongs to group"},
		{"bad point keyword", `
(def a (group "a"))
(geometry a (entity (segment (pt 0 0) (pt 1 0))) :at :top)`, "invalid point"},
		{"duplicate variable", `(variable "w" 1) (variable "W" 2)`, "already exists"},
		{"bad variable name", `(variable "2w" 1)`, "invalid variable name"},
		{"set missing variable", `(set-variable "w" 1)`, "no variable"},
		{"wrong arity", `(pt 1)`, "exactly 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, evalErrs, err := NewEngine().Evaluate(tt.src)
			if err != nil {
				t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
			}
			if len(evalErrs) == 0 {
				t.Fatal("expected an eval error")
			}
			if !strings.Contains(evalErrs[0].Message, tt.want) {
				t.Errorf("message = %q, want containing %q", evalErrs[0].Message, tt.want)
			}
		})
	}
}
