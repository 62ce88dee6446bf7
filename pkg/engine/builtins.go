package engine

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	v2 "github.com/deadsy/sdfx/vec/v2"
	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/network"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms sketch Lisp source code before passing it to
// zygomys. It performs three transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: smooth-join -> smooth_join
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator).
//
//  3. Line comments: ; and ;; become //.
//
// All transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		switch {
		case b[i] == '"':
			j := skipQuoted(b, i, '"', true)
			result = append(result, b[i:j]...)
			i = j
			continue
		case b[i] == '`':
			j := skipQuoted(b, i, '`', false)
			result = append(result, b[i:j]...)
			i = j
			continue
		case b[i] == ';':
			result = append(result, '/', '/')
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		case b[i] == ':' && i+1 < len(b):
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				result = append(result, '"')
				result = append(result, kwPrefix...)
				result = append(result, b[i+1:j]...)
				result = append(result, '"')
				i = j
				continue
			}
		case b[i] == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			// Only a hyphen between identifier characters, never a minus.
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

// skipQuoted returns the index just past the literal opened at b[i].
func skipQuoted(b []byte, i int, quote byte, escapes bool) int {
	i++
	for i < len(b) && b[i] != quote {
		if escapes && b[i] == '\\' && i+1 < len(b) {
			i++
		}
		i++
	}
	if i < len(b) {
		i++
	}
	return i
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// snakeName turns a kind name such as EqualRadius into equal_radius.
func snakeName(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpVec wraps a 2D point or direction.
type sexpVec struct {
	v v2.Vec
}

func (p *sexpVec) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(pt %g %g)", p.v.X, p.v.Y)
}
func (p *sexpVec) Type() *zygo.RegisteredType { return nil }

// sexpShape wraps an edge shape before it is added to an entity.
type sexpShape struct {
	shape geom.Shape
}

func (s *sexpShape) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s)", s.shape.Kind())
}
func (s *sexpShape) Type() *zygo.RegisteredType { return nil }

// sexpEntity references a drawing or dimension entity of the sketch network.
type sexpEntity struct {
	id network.ObjectID
}

func (e *sexpEntity) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(entity %d)", e.id)
}
func (e *sexpEntity) Type() *zygo.RegisteredType { return nil }

// sexpGroup references a named constraint group.
type sexpGroup struct {
	name string
}

func (g *sexpGroup) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(group %q)", g.name)
}
func (g *sexpGroup) Type() *zygo.RegisteredType { return nil }

// sexpNode references a node of a named group.
type sexpNode struct {
	group string
	id    graph.NodeID
	kind  graph.NodeKind
}

func (n *sexpNode) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s %q %s)", snakeName(n.kind.String()), n.group, n.id)
}
func (n *sexpNode) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// A keyword at the end of the list is a flag and maps to SexpNull.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		if !ok {
			result.positional = append(result.positional, args[i])
			continue
		}
		if i+1 < len(args) {
			result.kw[name] = args[i+1]
			i++
		} else {
			result.kw[name] = zygo.SexpNull
		}
	}
	return result
}

// flag reports whether a keyword was given and not set to zero.
func (a kwArgs) flag(name string) bool {
	v, ok := a.kw[name]
	if !ok {
		return false
	}
	if f, err := toFloat64(v); err == nil {
		return f != 0
	}
	return true
}

// float reads an optional numeric keyword.
func (a kwArgs) float(name string, def float64) (float64, error) {
	v, ok := a.kw[name]
	if !ok {
		return def, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toInt extracts a non-negative integer.
func toInt(s zygo.Sexp) (int, error) {
	f, err := toFloat64(s)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected non-negative integer, got %g", f)
	}
	return int(f), nil
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_start) and plain strings ("start").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

// toVec extracts a point from a sexpVec.
func toVec(s zygo.Sexp) (v2.Vec, error) {
	if p, ok := s.(*sexpVec); ok {
		return p.v, nil
	}
	return v2.Vec{}, fmt.Errorf("expected point, got %T (%s)", s, s.SexpString(nil))
}

// toShape extracts an edge shape. A bare point becomes a point shape.
func toShape(s zygo.Sexp) (geom.Shape, error) {
	switch v := s.(type) {
	case *sexpShape:
		return v.shape, nil
	case *sexpVec:
		return geom.Point{P: v.v}, nil
	}
	return nil, fmt.Errorf("expected shape, got %T (%s)", s, s.SexpString(nil))
}

// toEntity extracts an entity reference.
func toEntity(s zygo.Sexp) (network.ObjectID, error) {
	if e, ok := s.(*sexpEntity); ok {
		return e.id, nil
	}
	return 0, fmt.Errorf("expected entity, got %T (%s)", s, s.SexpString(nil))
}

// toGroupName accepts a group reference or a group name.
func toGroupName(s zygo.Sexp) (string, error) {
	switch v := s.(type) {
	case *sexpGroup:
		return v.name, nil
	case *zygo.SexpStr:
		return v.S, nil
	}
	return "", fmt.Errorf("expected group, got %T (%s)", s, s.SexpString(nil))
}

// toNode extracts a node reference and checks it belongs to group.
func toNode(s zygo.Sexp, group string) (graph.NodeID, error) {
	n, ok := s.(*sexpNode)
	if !ok {
		return 0, fmt.Errorf("expected node, got %T (%s)", s, s.SexpString(nil))
	}
	if n.group != group {
		return 0, fmt.Errorf("node %s belongs to group %q, not %q", n.id, n.group, group)
	}
	return n.id, nil
}

// toNodes extracts node references of one group.
func toNodes(args []zygo.Sexp, group string) ([]graph.NodeID, error) {
	ids := make([]graph.NodeID, 0, len(args))
	for i, a := range args {
		id, err := toNode(a, group)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// toPointRef converts a keyword such as :start to a point reference.
func toPointRef(s zygo.Sexp, index int) (geom.PointRef, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return geom.PointRef{}, err
	}
	switch name {
	case "start":
		return geom.PointRef{Type: geom.PointStart}, nil
	case "end":
		return geom.PointRef{Type: geom.PointEnd}, nil
	case "mid":
		return geom.PointRef{Type: geom.PointMid}, nil
	case "center":
		return geom.PointRef{Type: geom.PointCenter}, nil
	case "define":
		return geom.PointRef{Type: geom.PointDefine, Index: index}, nil
	}
	return geom.PointRef{}, fmt.Errorf("invalid point %q, expected start, end, mid, center or define", name)
}

// toSector converts a keyword such as :antiparallel-clockwise to a sector.
func toSector(s zygo.Sexp) (graph.SectorType, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return 0, err
	}
	for _, st := range []graph.SectorType{
		graph.ParallelAnticlockwise, graph.ParallelClockwise,
		graph.AntiParallelAnticlockwise, graph.AntiParallelClockwise,
	} {
		if st.String() == name {
			return st, nil
		}
	}
	return 0, fmt.Errorf("invalid sector %q", name)
}

// toRadiusKind converts a keyword such as :diameter to a radius kind.
func toRadiusKind(s zygo.Sexp) (graph.RadiusKind, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return 0, err
	}
	for _, k := range []graph.RadiusKind{graph.Radius, graph.Diameter, graph.MajorRadius, graph.MinorRadius} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("invalid radius kind %q", name)
}

func degrees(d float64) float64 { return d * math.Pi / 180 }
