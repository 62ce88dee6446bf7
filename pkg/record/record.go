// Package record reads and writes the persistent form of a constraint group.
//
// A record holds a schema version, the group's work plane, its node-id
// sequence counter, the owned dependency ids and the node table. Every node
// is tagged with its class name (the node kind) and the version of its field
// set. Two generations of the layout exist: GenInline writes the class name
// on every node, GenDictionary writes a class-name table once and refers to
// it by index. Readers accept both.
//
// Two encodings share the layout: a binary form (MessagePack, see
// EncodeBinary) and a tagged-text form (YAML, see EncodeText).
package record

import (
	"fmt"

	v2 "github.com/deadsy/sdfx/vec/v2"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/pkg/errors"

	"github.com/chazu/sketchgraph/pkg/geom"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/network"
)

var (
	// ErrPlaceholder is returned for records written by a newer schema.
	// The caller should keep the raw bytes and treat the group as an opaque
	// placeholder rather than interpret any of its fields.
	ErrPlaceholder = errors.New("record: newer schema, read as placeholder")
	// ErrCorrupt is returned for records that cannot be trusted: unreadable
	// class names, duplicate node ids and malformed fields.
	ErrCorrupt = errors.New("record: corrupt data")
)

const (
	// CurrentVersion is the newest schema version this package understands.
	CurrentVersion = 2
	// NodeVersion is the newest node field-set version.
	NodeVersion = 1
)

// Generation selects how class names are stored.
type Generation int

const (
	// GenInline stores the class name on every node. Written by schema 1.
	GenInline Generation = iota + 1
	// GenDictionary stores each class name once. Introduced in schema 2.
	GenDictionary
)

func (g Generation) String() string {
	switch g {
	case GenInline:
		return "inline"
	case GenDictionary:
		return "dictionary"
	default:
		return fmt.Sprintf("Generation(%d)", int(g))
	}
}

// ParseGeneration maps "inline" or "dictionary" to a Generation.
func ParseGeneration(s string) (Generation, error) {
	for _, g := range []Generation{GenInline, GenDictionary} {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, errors.Errorf("record: unknown generation %q", s)
}

// Record is a decoded group record.
type Record struct {
	Version    int
	Generation Generation
	State      graph.State
}

// ---------------------------------------------------------------------------
// Wire layout shared by both encodings
// ---------------------------------------------------------------------------

type document struct {
	Version    int          `yaml:"version"`
	Generation Generation   `yaml:"generation"`
	ID         int64        `yaml:"id"`
	Plane      []float64    `yaml:"plane,flow"`
	Seq        int32        `yaml:"seq"`
	Deps       []int64      `yaml:"deps,flow,omitempty"`
	Classes    []string     `yaml:"classes,omitempty"`
	Nodes      []nodeRecord `yaml:"-"`
}

type nodeRecord struct {
	Class      string            `yaml:"class,omitempty"`
	ClassIndex *int              `yaml:"class_index,omitempty"`
	Version    int               `yaml:"v"`
	ID         int32             `yaml:"id"`
	Conns      []int32           `yaml:"conns,flow,omitempty"`
	Geometry   *geometryRecord   `yaml:"geometry,omitempty"`
	Constraint *constraintRecord `yaml:"constraint,omitempty"`
	Composite  *compositeRecord  `yaml:"composite,omitempty"`
	Helper     *helperRecord     `yaml:"helper,omitempty"`
}

type geometryRecord struct {
	Dep          int64     `yaml:"dep,omitempty"`
	Shape        int       `yaml:"shape,omitempty"`
	Params       []float64 `yaml:"params,flow,omitempty"`
	Curve        int32     `yaml:"curve,omitempty"`
	Point        int       `yaml:"point,omitempty"`
	Index        int       `yaml:"index,omitempty"`
	Points       []int32   `yaml:"points,flow,omitempty"`
	Ray          bool      `yaml:"ray,omitempty"`
	Members      []int32   `yaml:"members,flow,omitempty"`
	PostEvaluate bool      `yaml:"post_evaluate,omitempty"`
}

type constraintRecord struct {
	Args      []int32          `yaml:"args,flow"`
	Implied   bool             `yaml:"implied,omitempty"`
	Composite int32            `yaml:"composite,omitempty"`
	Active    bool             `yaml:"active,omitempty"`
	Enabled   bool             `yaml:"enabled,omitempty"`
	Helpers   []int32          `yaml:"helpers,flow,omitempty"`
	Explicit  *dimensionRecord `yaml:"explicit,omitempty"`
}

type dimensionRecord struct {
	Value     int64     `yaml:"value"`
	Dim       int64     `yaml:"dim,omitempty"`
	Direction int       `yaml:"direction,omitempty"`
	Vector    []float64 `yaml:"vector,flow,omitempty"`
	Sector    int       `yaml:"sector,omitempty"`
	Radius    int       `yaml:"radius,omitempty"`
}

type compositeRecord struct {
	Kind    int     `yaml:"kind"`
	Parts   []int32 `yaml:"parts,flow"`
	Curves  []int32 `yaml:"curves,flow"`
	Implied bool    `yaml:"implied,omitempty"`
	Active  bool    `yaml:"active,omitempty"`
	Enabled bool    `yaml:"enabled,omitempty"`
}

type helperRecord struct {
	Value      float64 `yaml:"value"`
	Curve      int32   `yaml:"curve"`
	Constraint int32   `yaml:"constraint"`
}

// ---------------------------------------------------------------------------
// State -> wire
// ---------------------------------------------------------------------------

func toDocument(st graph.State, gen Generation) (*document, error) {
	if gen != GenInline && gen != GenDictionary {
		return nil, errors.Errorf("record: cannot write generation %s", gen)
	}
	doc := &document{
		Version:    CurrentVersion,
		Generation: gen,
		ID:         int64(st.ID),
		Plane:      planeParams(st.Plane),
		Seq:        int32(st.Seq),
	}
	if gen == GenInline {
		doc.Version = 1
	}
	for _, d := range st.Deps {
		doc.Deps = append(doc.Deps, int64(d))
	}

	index := make(map[string]int)
	for _, ns := range st.Nodes {
		nr := nodeRecord{Version: NodeVersion, ID: int32(ns.ID), Conns: ids32(ns.Conns)}
		class := ns.Kind.String()
		if gen == GenDictionary {
			i, ok := index[class]
			if !ok {
				i = len(doc.Classes)
				index[class] = i
				doc.Classes = append(doc.Classes, class)
			}
			nr.ClassIndex = &i
		} else {
			nr.Class = class
		}
		if err := encodePayload(&nr, ns.Data); err != nil {
			return nil, errors.Wrapf(err, "node %s", ns.ID)
		}
		doc.Nodes = append(doc.Nodes, nr)
	}
	return doc, nil
}

func encodePayload(nr *nodeRecord, data graph.NodeData) error {
	switch d := data.(type) {
	case *graph.GeometryData:
		kind, params := geom.Flatten(d.Shape)
		if d.Shape != nil && kind == geom.KindUnsupported {
			return errors.Errorf("unsupported shape %T", d.Shape)
		}
		nr.Geometry = &geometryRecord{
			Dep:          int64(d.Dep),
			Shape:        int(kind),
			Params:       params,
			Curve:        int32(d.Curve),
			Point:        int(d.Point.Type),
			Index:        d.Point.Index,
			Points:       ids32(d.Points),
			Ray:          d.Ray,
			Members:      ids32(d.Members),
			PostEvaluate: d.PostEvaluate,
		}
	case *graph.ConstraintData:
		cr := &constraintRecord{
			Args:      ids32(d.Args),
			Implied:   d.Implied,
			Composite: int32(d.Composite),
			Active:    d.Active,
			Enabled:   d.Enabled,
			Helpers:   ids32(d.Helpers),
		}
		if e := d.Explicit; e != nil {
			cr.Explicit = &dimensionRecord{
				Value:     int64(e.Value),
				Dim:       int64(e.Dim),
				Direction: int(e.Direction),
				Sector:    int(e.Sector),
				Radius:    int(e.Radius),
			}
			if e.Vector != (v2.Vec{}) {
				cr.Explicit.Vector = []float64{e.Vector.X, e.Vector.Y}
			}
		}
		nr.Constraint = cr
	case *graph.CompositeData:
		nr.Composite = &compositeRecord{
			Kind:    int(d.Kind),
			Parts:   ids32(d.Parts),
			Curves:  ids32(d.Curves[:]),
			Implied: d.Implied,
			Active:  d.Active,
			Enabled: d.Enabled,
		}
	case *graph.HelperData:
		nr.Helper = &helperRecord{Value: d.Value, Curve: int32(d.Curve), Constraint: int32(d.Constraint)}
	default:
		return errors.Errorf("unknown payload %T", data)
	}
	return nil
}

// ---------------------------------------------------------------------------
// wire -> State
// ---------------------------------------------------------------------------

// checkHeader rejects forward-incompatible records before any node is read.
func checkHeader(version int, gen Generation) error {
	switch {
	case version > CurrentVersion:
		return errors.Wrapf(ErrPlaceholder, "schema version %d", version)
	case gen > GenDictionary:
		return errors.Wrapf(ErrPlaceholder, "generation %d", int(gen))
	case version < 1 || gen < GenInline:
		return errors.Wrapf(ErrCorrupt, "schema version %d generation %d", version, int(gen))
	case gen == GenDictionary && version < 2:
		return errors.Wrapf(ErrCorrupt, "class dictionary in schema version %d", version)
	}
	return nil
}

func fromDocument(doc *document) (Record, error) {
	if err := checkHeader(doc.Version, doc.Generation); err != nil {
		return Record{}, err
	}
	plane, err := planeFrom(doc.Plane)
	if err != nil {
		return Record{}, err
	}
	st := graph.State{
		ID:    network.ObjectID(doc.ID),
		Plane: plane,
		Seq:   graph.NodeID(doc.Seq),
	}
	for _, d := range doc.Deps {
		st.Deps = append(st.Deps, network.ObjectID(d))
	}

	seen := make(map[int32]bool, len(doc.Nodes))
	for _, nr := range doc.Nodes {
		if nr.Version > NodeVersion {
			return Record{}, errors.Wrapf(ErrPlaceholder, "node %d field version %d", nr.ID, nr.Version)
		}
		if seen[nr.ID] {
			return Record{}, errors.Wrapf(ErrCorrupt, "duplicate node id %d", nr.ID)
		}
		seen[nr.ID] = true

		kind, err := nodeClass(doc, nr)
		if err != nil {
			return Record{}, err
		}
		data, err := decodePayload(kind, nr)
		if err != nil {
			return Record{}, errors.Wrapf(err, "node %d", nr.ID)
		}
		st.Nodes = append(st.Nodes, graph.NodeState{
			ID:    graph.NodeID(nr.ID),
			Kind:  kind,
			Conns: nodeIDs(nr.Conns),
			Data:  data,
		})
	}
	return Record{Version: doc.Version, Generation: doc.Generation, State: st}, nil
}

func nodeClass(doc *document, nr nodeRecord) (graph.NodeKind, error) {
	class := nr.Class
	if doc.Generation == GenDictionary {
		if nr.ClassIndex == nil || *nr.ClassIndex < 0 || *nr.ClassIndex >= len(doc.Classes) {
			return graph.KindInvalid, errors.Wrapf(ErrCorrupt, "node %d: bad class index", nr.ID)
		}
		class = doc.Classes[*nr.ClassIndex]
	}
	kind, ok := graph.KindByName(class)
	if !ok {
		return graph.KindInvalid, errors.Wrapf(ErrCorrupt, "node %d: unreadable class name %q", nr.ID, class)
	}
	return kind, nil
}

func decodePayload(kind graph.NodeKind, nr nodeRecord) (graph.NodeData, error) {
	switch {
	case kind.IsGeometry() && nr.Geometry != nil:
		r := nr.Geometry
		d := &graph.GeometryData{
			Dep:          network.ObjectID(r.Dep),
			Curve:        graph.NodeID(r.Curve),
			Point:        geom.PointRef{Type: geom.PointType(r.Point), Index: r.Index},
			Points:       nodeIDs(r.Points),
			Ray:          r.Ray,
			Members:      nodeIDs(r.Members),
			PostEvaluate: r.PostEvaluate,
		}
		if r.Shape != int(geom.KindUnsupported) {
			s, err := geom.Unflatten(geom.Kind(r.Shape), r.Params)
			if err != nil {
				return nil, errors.Wrap(ErrCorrupt, err.Error())
			}
			d.Shape = s
		}
		return d, nil
	case kind.IsConstraint() && nr.Constraint != nil:
		r := nr.Constraint
		d := &graph.ConstraintData{
			Args:      nodeIDs(r.Args),
			Implied:   r.Implied,
			Composite: graph.NodeID(r.Composite),
			Active:    r.Active,
			Enabled:   r.Enabled,
			Helpers:   nodeIDs(r.Helpers),
		}
		if e := r.Explicit; e != nil {
			if !kind.IsExplicit() {
				return nil, errors.Wrapf(ErrCorrupt, "%s with dimension fields", kind)
			}
			d.Explicit = &graph.Dimension{
				Value:     network.ObjectID(e.Value),
				Dim:       network.ObjectID(e.Dim),
				Direction: graph.DirectionType(e.Direction),
				Sector:    graph.SectorType(e.Sector),
				Radius:    graph.RadiusKind(e.Radius),
			}
			if len(e.Vector) == 2 {
				d.Explicit.Vector = v2.Vec{X: e.Vector[0], Y: e.Vector[1]}
			}
		}
		return d, nil
	case kind == graph.KindComposite && nr.Composite != nil:
		r := nr.Composite
		if len(r.Curves) != 2 {
			return nil, errors.Wrapf(ErrCorrupt, "composite with %d curves", len(r.Curves))
		}
		return &graph.CompositeData{
			Kind:    graph.CompositeKind(r.Kind),
			Parts:   nodeIDs(r.Parts),
			Curves:  [2]graph.NodeID{graph.NodeID(r.Curves[0]), graph.NodeID(r.Curves[1])},
			Implied: r.Implied,
			Active:  r.Active,
			Enabled: r.Enabled,
		}, nil
	case kind == graph.KindHelperParameter && nr.Helper != nil:
		r := nr.Helper
		return &graph.HelperData{Value: r.Value, Curve: graph.NodeID(r.Curve), Constraint: graph.NodeID(r.Constraint)}, nil
	}
	return nil, errors.Wrapf(ErrCorrupt, "missing %s payload", kind)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func planeParams(p graph.Plane) []float64 {
	return []float64{
		p.Origin.X, p.Origin.Y, p.Origin.Z,
		p.XAxis.X, p.XAxis.Y, p.XAxis.Z,
		p.YAxis.X, p.YAxis.Y, p.YAxis.Z,
	}
}

func planeFrom(f []float64) (graph.Plane, error) {
	if len(f) != 9 {
		return graph.Plane{}, errors.Wrapf(ErrCorrupt, "plane has %d components", len(f))
	}
	return graph.Plane{
		Origin: v3.Vec{X: f[0], Y: f[1], Z: f[2]},
		XAxis:  v3.Vec{X: f[3], Y: f[4], Z: f[5]},
		YAxis:  v3.Vec{X: f[6], Y: f[7], Z: f[8]},
	}, nil
}

func ids32(ids []graph.NodeID) []int32 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

func nodeIDs(ids []int32) []graph.NodeID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]graph.NodeID, len(ids))
	for i, id := range ids {
		out[i] = graph.NodeID(id)
	}
	return out
}
