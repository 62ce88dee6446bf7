package engine

import (
	"context"
	"fmt"

	v2 "github.com/deadsy/sdfx/vec/v2"
	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/network"
)

// registerBuiltins installs the sketch DSL into a zygomys environment. The
// builtins operate on sk, populating its network and groups during
// evaluation.
//
// Source code must be preprocessed with preprocessSource() before evaluation
// so that :keyword tokens are converted to recognizable string literals and
// kebab-case names match the underscore names registered here.
func registerBuiltins(env *zygo.Zlisp, sk *Sketch) {
	registerShapes(env)
	registerEntities(env, sk)
	registerConstraints(env, sk)
	registerEdits(env, sk)
}

// ---------------------------------------------------------------------------
// Points and shapes
// ---------------------------------------------------------------------------

func registerShapes(env *zygo.Zlisp) {
	// (pt 3 4)
	env.AddFunction("pt", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("pt requires exactly 2 arguments, got %d", len(args))
		}
		x, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("pt: x: %w", err)
		}
		y, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("pt: y: %w", err)
		}
		return &sexpVec{v: v2.Vec{X: x, Y: y}}, nil
	})

	// (point (pt 1 2))
	env.AddFunction("point", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pts, err := vecArgs(name, args, 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpShape{shape: geom.Point{P: pts[0]}}, nil
	})

	// (segment (pt 0 0) (pt 10 0))
	env.AddFunction("segment", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pts, err := vecArgs(name, args, 2)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpShape{shape: geom.Segment{Start: pts[0], End: pts[1]}}, nil
	})

	// (line (pt 0 0) (pt 1 1)) and (ray ...): origin and direction.
	for _, kind := range []string{"line", "ray"} {
		kind := kind
		env.AddFunction(kind, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			pts, err := vecArgs(name, args, 2)
			if err != nil {
				return zygo.SexpNull, err
			}
			if pts[1].Length() == 0 {
				return zygo.SexpNull, fmt.Errorf("%s: zero direction", name)
			}
			dir := pts[1].Normalize()
			if kind == "ray" {
				return &sexpShape{shape: geom.Ray{Origin: pts[0], Dir: dir}}, nil
			}
			return &sexpShape{shape: geom.Line{Origin: pts[0], Dir: dir}}, nil
		})
	}

	// (circle (pt 0 0) 5)
	env.AddFunction("circle", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("circle requires a center and a radius")
		}
		c, err := toVec(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("circle: center: %w", err)
		}
		r, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("circle: radius: %w", err)
		}
		return &sexpShape{shape: geom.Circle(c, r)}, nil
	})

	// (arc (pt 0 0) 5 0 90): angles in degrees, swept anticlockwise.
	env.AddFunction("arc", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 4 {
			return zygo.SexpNull, fmt.Errorf("arc requires a center, a radius and two angles")
		}
		c, err := toVec(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("arc: center: %w", err)
		}
		var vals [3]float64
		for i, a := range args[1:] {
			if vals[i], err = toFloat64(a); err != nil {
				return zygo.SexpNull, fmt.Errorf("arc: argument %d: %w", i+2, err)
			}
		}
		return &sexpShape{shape: geom.CircArc{
			Center:     c,
			Radius:     vals[0],
			StartAngle: degrees(vals[1]),
			EndAngle:   degrees(vals[2]),
		}}, nil
	})

	// (ellipse (pt 0 0) (pt 1 0) 6 3 :start 0 :end 180)
	env.AddFunction("ellipse", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 4 {
			return zygo.SexpNull, fmt.Errorf("ellipse requires a center, an axis and two radii")
		}
		pts, err := vecArgs(name, pa.positional[:2], 2)
		if err != nil {
			return zygo.SexpNull, err
		}
		if pts[1].Length() == 0 {
			return zygo.SexpNull, fmt.Errorf("ellipse: zero axis")
		}
		major, err := toFloat64(pa.positional[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("ellipse: major radius: %w", err)
		}
		minor, err := toFloat64(pa.positional[3])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("ellipse: minor radius: %w", err)
		}
		e := geom.EllipArc{
			Center:      pts[0],
			MajorAxis:   pts[1].Normalize(),
			MajorRadius: major,
			MinorRadius: minor,
			EndParam:    geom.Tau,
			Closed:      true,
		}
		_, hasStart := pa.kw["start"]
		_, hasEnd := pa.kw["end"]
		if hasStart || hasEnd {
			start, err := pa.float("start", 0)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("ellipse: %w", err)
			}
			end, err := pa.float("end", 360)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("ellipse: %w", err)
			}
			e.StartParam, e.EndParam, e.Closed = degrees(start), degrees(end), false
		}
		return &sexpShape{shape: e}, nil
	})

	// (spline 3 (pt 0 0) (pt 1 2) (pt 3 2) (pt 4 0))
	env.AddFunction("spline", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 3 {
			return zygo.SexpNull, fmt.Errorf("spline requires a degree and control points")
		}
		deg, err := toInt(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("spline: degree: %w", err)
		}
		ctrl, err := vecArgs(name, args[1:], -1)
		if err != nil {
			return zygo.SexpNull, err
		}
		s := geom.UniformSpline(deg, ctrl)
		if err := s.Validate(); err != nil {
			return zygo.SexpNull, fmt.Errorf("spline: %w", err)
		}
		return &sexpShape{shape: s}, nil
	})
}

// vecArgs reads n point arguments, or any number when n is negative.
func vecArgs(name string, args []zygo.Sexp, n int) ([]v2.Vec, error) {
	if n >= 0 && len(args) != n {
		return nil, fmt.Errorf("%s requires exactly %d points, got %d arguments", name, n, len(args))
	}
	out := make([]v2.Vec, len(args))
	for i, a := range args {
		p, err := toVec(a)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", name, i+1, err)
		}
		out[i] = p
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Entities, groups and geometry
// ---------------------------------------------------------------------------

func registerEntities(env *zygo.Zlisp, sk *Sketch) {
	// (entity (segment ...) (arc ...)): edges of one drawing entity.
	env.AddFunction("entity", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) == 0 {
			return zygo.SexpNull, fmt.Errorf("entity requires at least one shape")
		}
		edges := make([]geom.Shape, len(args))
		for i, a := range args {
			s, err := toShape(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("entity: edge %d: %w", i, err)
			}
			edges[i] = s
		}
		return &sexpEntity{id: sk.Net.AddEntity(edges...)}, nil
	})

	// (polyline (pt 0 0) (pt 10 0) (pt 10 5))
	env.AddFunction("polyline", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 2 {
			return zygo.SexpNull, fmt.Errorf("polyline requires at least 2 points")
		}
		pts, err := vecArgs(name, args, -1)
		if err != nil {
			return zygo.SexpNull, err
		}
		edges := make([]geom.Shape, len(pts)-1)
		for i := range edges {
			edges[i] = geom.Segment{Start: pts[i], End: pts[i+1]}
		}
		return &sexpEntity{id: sk.Net.AddEntity(edges...)}, nil
	})

	// (dimension 10): a drawn dimension entity.
	env.AddFunction("dimension", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("dimension requires a measurement")
		}
		m, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("dimension: %w", err)
		}
		return &sexpEntity{id: sk.Net.AddDimension(m)}, nil
	})

	// (group "base" :z 0)
	env.AddFunction("group", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("group requires a name")
		}
		gname, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("group: name: %w", err)
		}
		z, err := pa.float("z", 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("group: %w", err)
		}
		if _, ok := sk.Group(gname); ok {
			return zygo.SexpNull, fmt.Errorf("group: %q already exists", gname)
		}
		plane := graph.WorldXY
		plane.Origin.Z = z
		if err := sk.addGroup(gname, graph.NewGroup(sk.Net, plane, graph.WithLogger(sk.log))); err != nil {
			return zygo.SexpNull, fmt.Errorf("group: %w", err)
		}
		return &sexpGroup{name: gname}, nil
	})

	// (geometry g ent :edge 1 :at :start)
	env.AddFunction("geometry", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("geometry requires a group and an entity")
		}
		gname, g, err := groupArg(sk, pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("geometry: %w", err)
		}
		ent, err := toEntity(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("geometry: %w", err)
		}
		p := network.Path{Entity: ent}
		if v, ok := pa.kw["edge"]; ok {
			if p.Edge, err = toInt(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("geometry: edge: %w", err)
			}
		}
		n, err := g.AddGeometry(p)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("geometry: %w", err)
		}
		if v, ok := pa.kw["at"]; ok {
			index := 0
			if iv, ok := pa.kw["index"]; ok {
				if index, err = toInt(iv); err != nil {
					return zygo.SexpNull, fmt.Errorf("geometry: index: %w", err)
				}
			}
			ref, err := toPointRef(v, index)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("geometry: at: %w", err)
			}
			if n, err = g.Geometry(p.At(ref), true); err != nil {
				return zygo.SexpNull, fmt.Errorf("geometry: %w", err)
			}
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})

	// (construction-line g p1 p2)
	env.AddFunction("construction_line", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		gname, g, ids, err := groupNodes(sk, "construction-line", args, 2)
		if err != nil {
			return zygo.SexpNull, err
		}
		n, err := g.AddConstructionLine(ids[0], ids[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("construction-line: %w", err)
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})

	// (rigid-set g a b c)
	env.AddFunction("rigid_set", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		gname, g, ids, err := groupNodes(sk, "rigid-set", args, -1)
		if err != nil {
			return zygo.SexpNull, err
		}
		n, err := g.AddRigidSet(ids...)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rigid-set: %w", err)
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})
}

// groupArg resolves a group argument.
func groupArg(sk *Sketch, s zygo.Sexp) (string, *graph.Group, error) {
	name, err := toGroupName(s)
	if err != nil {
		return "", nil, err
	}
	g, err := sk.lookup(name)
	if err != nil {
		return "", nil, err
	}
	return name, g, nil
}

// groupNodes resolves (op g n1 n2 ...) arguments. n < 0 accepts any
// positive number of nodes.
func groupNodes(sk *Sketch, op string, args []zygo.Sexp, n int) (string, *graph.Group, []graph.NodeID, error) {
	if len(args) < 2 || (n >= 0 && len(args) != n+1) {
		return "", nil, nil, fmt.Errorf("%s: wrong number of arguments (%d)", op, len(args))
	}
	gname, g, err := groupArg(sk, args[0])
	if err != nil {
		return "", nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	ids, err := toNodes(args[1:], gname)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return gname, g, ids, nil
}

// ---------------------------------------------------------------------------
// Constraints
// ---------------------------------------------------------------------------

func registerConstraints(env *zygo.Zlisp, sk *Sketch) {
	// (perpendicular g l1 l2), (horizontal g l), (equal-radius g c1 c2) ...
	for k := graph.KindHorizontal; k < graph.KindDistance; k++ {
		kind := k
		op := snakeName(kind.String())
		env.AddFunction(op, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			gname, g, ids, err := groupNodes(sk, op, args, -1)
			if err != nil {
				return zygo.SexpNull, err
			}
			n, err := g.AddConstraint(kind, ids...)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
		})
	}

	// (smooth-join g arc1 arc2)
	env.AddFunction("smooth_join", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		gname, g, ids, err := groupNodes(sk, "smooth-join", args, 2)
		if err != nil {
			return zygo.SexpNull, err
		}
		n, err := g.AddSmoothJoin(ids[0], ids[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("smooth-join: %w", err)
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})

	// (distance g a b 10 :var "w" :dim d :fixed (pt 1 0) :perpendicular-to l :parallel-to l)
	env.AddFunction("distance", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		gname, g, ids, value, err := explicitArgs(sk, name, pa.positional, 2)
		if err != nil {
			return zygo.SexpNull, err
		}
		var opt graph.DistanceOptions
		if v, ok := pa.kw["fixed"]; ok {
			if opt.Vector, err = toVec(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("distance: fixed: %w", err)
			}
			opt.Direction = graph.FixedDirection
		}
		for kw, dir := range map[string]graph.DirectionType{
			"perpendicular-to": graph.PerpendicularToLine,
			"parallel-to":      graph.ParallelToLine,
		} {
			v, ok := pa.kw[kw]
			if !ok {
				continue
			}
			if opt.Direction != graph.NotDirected {
				return zygo.SexpNull, fmt.Errorf("distance: only one direction may be given")
			}
			if opt.Line, err = toNode(v, gname); err != nil {
				return zygo.SexpNull, fmt.Errorf("distance: %s: %w", kw, err)
			}
			opt.Direction = dir
		}
		src, err := valueSource(sk, pa, value)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("distance: %w", err)
		}
		n, err := g.AddDistance(ids[0], ids[1], src, opt)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("distance: %w", err)
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})

	// (angle g l1 l2 90 :sector :parallel-clockwise): degrees.
	env.AddFunction("angle", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		gname, g, ids, value, err := explicitArgs(sk, name, pa.positional, 2)
		if err != nil {
			return zygo.SexpNull, err
		}
		sector, src, err := angleArgs(sk, pa, value)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("angle: %w", err)
		}
		n, err := g.AddAngle(ids[0], ids[1], sector, src)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("angle: %w", err)
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})

	// (angle3 g vertex p1 p2 45)
	env.AddFunction("angle3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		gname, g, ids, value, err := explicitArgs(sk, name, pa.positional, 3)
		if err != nil {
			return zygo.SexpNull, err
		}
		sector, src, err := angleArgs(sk, pa, value)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("angle3: %w", err)
		}
		n, err := g.AddAngle3Point(ids[0], ids[1], ids[2], sector, src)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("angle3: %w", err)
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})

	// (radius g c 5 :kind :diameter)
	env.AddFunction("radius", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		gname, g, ids, value, err := explicitArgs(sk, name, pa.positional, 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		kind := graph.Radius
		if v, ok := pa.kw["kind"]; ok {
			if kind, err = toRadiusKind(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("radius: kind: %w", err)
			}
		}
		src, err := valueSource(sk, pa, value)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("radius: %w", err)
		}
		n, err := g.AddRadiusDiameter(ids[0], kind, src)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("radius: %w", err)
		}
		return &sexpNode{group: gname, id: n.ID, kind: n.Kind}, nil
	})

	// (delete g n1 n2 ...): constraints and geometry in one cascade.
	env.AddFunction("delete", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		_, g, ids, err := groupNodes(sk, name, args, -1)
		if err != nil {
			return zygo.SexpNull, err
		}
		var cons, geoms []graph.NodeID
		for _, id := range ids {
			n := g.Node(id)
			switch {
			case n == nil:
				return zygo.SexpNull, fmt.Errorf("delete: node %s not found", id)
			case n.Kind.IsGeometry():
				geoms = append(geoms, id)
			default:
				cons = append(cons, id)
			}
		}
		if err := g.DeleteNodes(cons, geoms); err != nil {
			return zygo.SexpNull, fmt.Errorf("delete: %w", err)
		}
		return &zygo.SexpInt{Val: int64(g.NodeCount())}, nil
	})
}

// explicitArgs resolves (op g n1..nk value) arguments.
func explicitArgs(sk *Sketch, op string, pos []zygo.Sexp, k int) (string, *graph.Group, []graph.NodeID, float64, error) {
	if len(pos) != k+2 {
		return "", nil, nil, 0, fmt.Errorf("%s requires a group, %d geometries and a value", op, k)
	}
	gname, g, ids, err := groupNodes(sk, op, pos[:k+1], k)
	if err != nil {
		return "", nil, nil, 0, err
	}
	value, err := toFloat64(pos[k+1])
	if err != nil {
		return "", nil, nil, 0, fmt.Errorf("%s: value: %w", op, err)
	}
	return gname, g, ids, value, nil
}

func angleArgs(sk *Sketch, pa kwArgs, deg float64) (graph.SectorType, graph.ValueSource, error) {
	sector := graph.ParallelAnticlockwise
	if v, ok := pa.kw["sector"]; ok {
		s, err := toSector(v)
		if err != nil {
			return 0, graph.ValueSource{}, fmt.Errorf("sector: %w", err)
		}
		sector = s
	}
	src, err := valueSource(sk, pa, degrees(deg))
	return sector, src, err
}

// valueSource builds the value binding of an explicit constraint. :var
// names a variable, created with value when it does not exist yet; :dim
// attaches a drawn dimension entity.
func valueSource(sk *Sketch, pa kwArgs, value float64) (graph.ValueSource, error) {
	src := graph.Constant(value)
	if v, ok := pa.kw["var"]; ok {
		vname, err := toString(v)
		if err != nil {
			return src, fmt.Errorf("var: %w", err)
		}
		if err := checkVariableName(vname); err != nil {
			return src, err
		}
		vr, ok := sk.Net.VariableByName(vname)
		if !ok {
			vr = sk.Net.AddVariable(vname, "", value)
		}
		src.Variable = vr.ID
	}
	if v, ok := pa.kw["dim"]; ok {
		id, err := toEntity(v)
		if err != nil {
			return src, fmt.Errorf("dim: %w", err)
		}
		if e, ok := sk.Net.Entity(id); !ok || !e.Dimension {
			return src, fmt.Errorf("dim: entity %d is not a dimension", id)
		}
		src.Dimension = id
	}
	return src, nil
}

// ---------------------------------------------------------------------------
// Variables, edits, solving and merging
// ---------------------------------------------------------------------------

func registerEdits(env *zygo.Zlisp, sk *Sketch) {
	// (variable "w" 10 :expr "(* h 2)")
	env.AddFunction("variable", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 || len(pa.positional) > 2 {
			return zygo.SexpNull, fmt.Errorf("variable requires a name and an optional value")
		}
		vname, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("variable: name: %w", err)
		}
		if err := checkVariableName(vname); err != nil {
			return zygo.SexpNull, fmt.Errorf("variable: %w", err)
		}
		if _, ok := sk.Net.VariableByName(vname); ok {
			return zygo.SexpNull, fmt.Errorf("variable: %q already exists", vname)
		}
		var value float64
		if len(pa.positional) == 2 {
			if value, err = toFloat64(pa.positional[1]); err != nil {
				return zygo.SexpNull, fmt.Errorf("variable: value: %w", err)
			}
		}
		expr := ""
		if v, ok := pa.kw["expr"]; ok {
			if expr, err = toString(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("variable: expr: %w", err)
			}
		}
		sk.Net.AddVariable(vname, expr, value)
		return &zygo.SexpStr{S: vname}, nil
	})

	// (set-variable "w" 12) or (set-variable "w" :expr "(+ h 1)")
	env.AddFunction("set_variable", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 || len(pa.positional) > 2 {
			return zygo.SexpNull, fmt.Errorf("set-variable requires a name and a value or :expr")
		}
		vname, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("set-variable: name: %w", err)
		}
		v, ok := sk.Net.VariableByName(vname)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("set-variable: no variable named %q", vname)
		}
		if len(pa.positional) == 2 {
			f, err := toFloat64(pa.positional[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("set-variable: value: %w", err)
			}
			v.Value, v.Expression = f, ""
		}
		if e, ok := pa.kw["expr"]; ok {
			if v.Expression, err = toString(e); err != nil {
				return zygo.SexpNull, fmt.Errorf("set-variable: expr: %w", err)
			}
		}
		return &zygo.SexpStr{S: v.Name}, nil
	})

	// (edit ent 0 (segment ...)): replace one edge as a user edit would.
	env.AddFunction("edit", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("edit requires an entity, an edge index and a shape")
		}
		ent, err := toEntity(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("edit: %w", err)
		}
		edge, err := toInt(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("edit: edge: %w", err)
		}
		s, err := toShape(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("edit: %w", err)
		}
		if err := sk.Net.SetShape(ent, edge, s); err != nil {
			return zygo.SexpNull, fmt.Errorf("edit: %w", err)
		}
		return args[0], nil
	})

	// (move ent 3 0) and (rotate ent (pt 0 0) 90): rigid edits of every edge.
	env.AddFunction("move", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("move requires an entity and an offset")
		}
		dx, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("move: dx: %w", err)
		}
		dy, err := toFloat64(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("move: dy: %w", err)
		}
		return transformEntity(sk, name, args[0], geom.Translation(v2.Vec{X: dx, Y: dy}))
	})
	env.AddFunction("rotate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("rotate requires an entity, a center and an angle")
		}
		c, err := toVec(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: center: %w", err)
		}
		deg, err := toFloat64(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: angle: %w", err)
		}
		return transformEntity(sk, name, args[0], geom.Rotation(c, degrees(deg)))
	})

	// (solve g) => "resolved" or "unresolved"
	env.AddFunction("solve", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("solve requires a group")
		}
		gname, err := toGroupName(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("solve: %w", err)
		}
		res, err := sk.solve(context.Background(), gname)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("solve: %w", err)
		}
		return &zygo.SexpStr{S: res.Status.String()}, nil
	})

	// (merge dst src) => number of constraints replayed
	env.AddFunction("merge", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("merge requires a destination and a source group")
		}
		_, dst, err := groupArg(sk, args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("merge: destination: %w", err)
		}
		_, src, err := groupArg(sk, args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("merge: source: %w", err)
		}
		rep, err := sk.merge.MergeGroups(context.Background(), dst, src)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("merge: %w", err)
		}
		return &zygo.SexpInt{Val: int64(rep.Replayed)}, nil
	})

	// (copy-group g "copy" :entities 1 :z 10) => the group holding the copy
	env.AddFunction("copy_group", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("copy-group requires a source group and a name")
		}
		src, err := toGroupName(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("copy-group: %w", err)
		}
		cname, err := toString(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("copy-group: name: %w", err)
		}
		lift, err := pa.float("z", 0)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("copy-group: %w", err)
		}
		got, _, err := sk.copyGroup(context.Background(), src, cname, pa.flag("entities"), lift)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("copy-group: %w", err)
		}
		if got == "" {
			return zygo.SexpNull, nil
		}
		return &sexpGroup{name: got}, nil
	})
}

func transformEntity(sk *Sketch, op string, s zygo.Sexp, r geom.Rigid) (zygo.Sexp, error) {
	ent, err := toEntity(s)
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
	}
	e, ok := sk.Net.Entity(ent)
	if !ok {
		return zygo.SexpNull, fmt.Errorf("%s: entity %d not found", op, ent)
	}
	for i, edge := range e.Edges {
		if err := sk.Net.SetShape(ent, i, edge.Transform(r)); err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
		}
	}
	return s, nil
}
