package record

import (
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"github.com/chazu/sketchgraph/pkg/graph"
)

// EncodeBinary writes st in the binary form of generation gen.
func EncodeBinary(st graph.State, gen Generation) ([]byte, error) {
	doc, err := toDocument(st, gen)
	if err != nil {
		return nil, err
	}
	return doc.MarshalMsg(nil)
}

// DecodeBinary reads a binary record of either generation.
func DecodeBinary(b []byte) (Record, error) {
	var doc document
	rest, err := doc.UnmarshalMsg(b)
	if err != nil {
		if errors.Is(err, ErrPlaceholder) {
			return Record{}, err
		}
		return Record{}, errors.Wrapf(ErrCorrupt, "%v", err)
	}
	if len(rest) != 0 {
		return Record{}, errors.Wrapf(ErrCorrupt, "%d trailing bytes", len(rest))
	}
	return fromDocument(&doc)
}

// ---------------------------------------------------------------------------
// document
// ---------------------------------------------------------------------------

// MarshalMsg implements msgp.Marshaler.
func (z *document) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendMapHeader(b, 8)
	// version and generation lead so readers can stop before the node table
	o = msgp.AppendString(o, "version")
	o = msgp.AppendInt(o, z.Version)
	o = msgp.AppendString(o, "generation")
	o = msgp.AppendInt(o, int(z.Generation))
	o = msgp.AppendString(o, "id")
	o = msgp.AppendInt64(o, z.ID)
	o = msgp.AppendString(o, "plane")
	o = appendFloats(o, z.Plane)
	o = msgp.AppendString(o, "seq")
	o = msgp.AppendInt32(o, z.Seq)
	o = msgp.AppendString(o, "deps")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Deps)))
	for _, d := range z.Deps {
		o = msgp.AppendInt64(o, d)
	}
	o = msgp.AppendString(o, "classes")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Classes)))
	for _, c := range z.Classes {
		o = msgp.AppendString(o, c)
	}
	o = msgp.AppendString(o, "nodes")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Nodes)))
	for i := range z.Nodes {
		o, err = z.Nodes[i].MarshalMsg(o)
		if err != nil {
			return o, msgp.WrapError(err, "nodes", i)
		}
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. Unknown keys are skipped.
func (z *document) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for ; sz > 0; sz-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		switch string(field) {
		case "version":
			z.Version, bts, err = msgp.ReadIntBytes(bts)
		case "generation":
			var g int
			g, bts, err = msgp.ReadIntBytes(bts)
			z.Generation = Generation(g)
		case "id":
			z.ID, bts, err = msgp.ReadInt64Bytes(bts)
		case "plane":
			z.Plane, bts, err = readFloats(bts)
		case "seq":
			z.Seq, bts, err = msgp.ReadInt32Bytes(bts)
		case "deps":
			z.Deps, bts, err = readInt64s(bts)
		case "classes":
			z.Classes, bts, err = readStrings(bts)
		case "nodes":
			if err = checkHeader(z.Version, z.Generation); err != nil {
				return bts, err
			}
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				break
			}
			if uint64(n) > uint64(len(bts)) {
				return bts, msgp.ErrShortBytes
			}
			z.Nodes = make([]nodeRecord, n)
			for i := range z.Nodes {
				if bts, err = z.Nodes[i].UnmarshalMsg(bts); err != nil {
					return bts, msgp.WrapError(err, "nodes", i)
				}
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

// ---------------------------------------------------------------------------
// nodeRecord
// ---------------------------------------------------------------------------

// MarshalMsg implements msgp.Marshaler.
func (z *nodeRecord) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendMapHeader(b, 5)
	if z.ClassIndex != nil {
		o = msgp.AppendString(o, "ci")
		o = msgp.AppendInt(o, *z.ClassIndex)
	} else {
		o = msgp.AppendString(o, "class")
		o = msgp.AppendString(o, z.Class)
	}
	o = msgp.AppendString(o, "v")
	o = msgp.AppendInt(o, z.Version)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendInt32(o, z.ID)
	o = msgp.AppendString(o, "conns")
	o = appendInt32s(o, z.Conns)
	switch {
	case z.Geometry != nil:
		o = msgp.AppendString(o, "geometry")
		o = z.Geometry.appendMsg(o)
	case z.Constraint != nil:
		o = msgp.AppendString(o, "constraint")
		o = z.Constraint.appendMsg(o)
	case z.Composite != nil:
		o = msgp.AppendString(o, "composite")
		o = z.Composite.appendMsg(o)
	case z.Helper != nil:
		o = msgp.AppendString(o, "helper")
		o = z.Helper.appendMsg(o)
	default:
		return o, errors.Errorf("node %d has no payload", z.ID)
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. Payloads of a newer field-set
// version are skipped unread.
func (z *nodeRecord) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for ; sz > 0; sz-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		key := string(field)
		switch key {
		case "class":
			z.Class, bts, err = msgp.ReadStringBytes(bts)
		case "ci":
			var i int
			i, bts, err = msgp.ReadIntBytes(bts)
			z.ClassIndex = &i
		case "v":
			z.Version, bts, err = msgp.ReadIntBytes(bts)
		case "id":
			z.ID, bts, err = msgp.ReadInt32Bytes(bts)
		case "conns":
			z.Conns, bts, err = readInt32s(bts)
		case "geometry", "constraint", "composite", "helper":
			if z.Version > NodeVersion {
				bts, err = msgp.Skip(bts)
				break
			}
			switch key {
			case "geometry":
				z.Geometry = new(geometryRecord)
				bts, err = z.Geometry.readMsg(bts)
			case "constraint":
				z.Constraint = new(constraintRecord)
				bts, err = z.Constraint.readMsg(bts)
			case "composite":
				z.Composite = new(compositeRecord)
				bts, err = z.Composite.readMsg(bts)
			default:
				z.Helper = new(helperRecord)
				bts, err = z.Helper.readMsg(bts)
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, key)
		}
	}
	return bts, nil
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

func (z *geometryRecord) appendMsg(o []byte) []byte {
	o = msgp.AppendMapHeader(o, 10)
	o = msgp.AppendString(o, "dep")
	o = msgp.AppendInt64(o, z.Dep)
	o = msgp.AppendString(o, "shape")
	o = msgp.AppendInt(o, z.Shape)
	o = msgp.AppendString(o, "params")
	o = appendFloats(o, z.Params)
	o = msgp.AppendString(o, "curve")
	o = msgp.AppendInt32(o, z.Curve)
	o = msgp.AppendString(o, "point")
	o = msgp.AppendInt(o, z.Point)
	o = msgp.AppendString(o, "index")
	o = msgp.AppendInt(o, z.Index)
	o = msgp.AppendString(o, "points")
	o = appendInt32s(o, z.Points)
	o = msgp.AppendString(o, "ray")
	o = msgp.AppendBool(o, z.Ray)
	o = msgp.AppendString(o, "members")
	o = appendInt32s(o, z.Members)
	o = msgp.AppendString(o, "post")
	return msgp.AppendBool(o, z.PostEvaluate)
}

func (z *geometryRecord) readMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	if sz, bts, err = msgp.ReadMapHeaderBytes(bts); err != nil {
		return bts, err
	}
	for ; sz > 0; sz-- {
		if field, bts, err = msgp.ReadMapKeyZC(bts); err != nil {
			return bts, err
		}
		switch string(field) {
		case "dep":
			z.Dep, bts, err = msgp.ReadInt64Bytes(bts)
		case "shape":
			z.Shape, bts, err = msgp.ReadIntBytes(bts)
		case "params":
			z.Params, bts, err = readFloats(bts)
		case "curve":
			z.Curve, bts, err = msgp.ReadInt32Bytes(bts)
		case "point":
			z.Point, bts, err = msgp.ReadIntBytes(bts)
		case "index":
			z.Index, bts, err = msgp.ReadIntBytes(bts)
		case "points":
			z.Points, bts, err = readInt32s(bts)
		case "ray":
			z.Ray, bts, err = msgp.ReadBoolBytes(bts)
		case "members":
			z.Members, bts, err = readInt32s(bts)
		case "post":
			z.PostEvaluate, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (z *constraintRecord) appendMsg(o []byte) []byte {
	o = msgp.AppendMapHeader(o, 7)
	o = msgp.AppendString(o, "args")
	o = appendInt32s(o, z.Args)
	o = msgp.AppendString(o, "implied")
	o = msgp.AppendBool(o, z.Implied)
	o = msgp.AppendString(o, "composite")
	o = msgp.AppendInt32(o, z.Composite)
	o = msgp.AppendString(o, "active")
	o = msgp.AppendBool(o, z.Active)
	o = msgp.AppendString(o, "enabled")
	o = msgp.AppendBool(o, z.Enabled)
	o = msgp.AppendString(o, "helpers")
	o = appendInt32s(o, z.Helpers)
	o = msgp.AppendString(o, "explicit")
	if z.Explicit == nil {
		return msgp.AppendNil(o)
	}
	e := z.Explicit
	o = msgp.AppendMapHeader(o, 6)
	o = msgp.AppendString(o, "value")
	o = msgp.AppendInt64(o, e.Value)
	o = msgp.AppendString(o, "dim")
	o = msgp.AppendInt64(o, e.Dim)
	o = msgp.AppendString(o, "direction")
	o = msgp.AppendInt(o, e.Direction)
	o = msgp.AppendString(o, "vector")
	o = appendFloats(o, e.Vector)
	o = msgp.AppendString(o, "sector")
	o = msgp.AppendInt(o, e.Sector)
	o = msgp.AppendString(o, "radius")
	return msgp.AppendInt(o, e.Radius)
}

func (z *constraintRecord) readMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	if sz, bts, err = msgp.ReadMapHeaderBytes(bts); err != nil {
		return bts, err
	}
	for ; sz > 0; sz-- {
		if field, bts, err = msgp.ReadMapKeyZC(bts); err != nil {
			return bts, err
		}
		switch string(field) {
		case "args":
			z.Args, bts, err = readInt32s(bts)
		case "implied":
			z.Implied, bts, err = msgp.ReadBoolBytes(bts)
		case "composite":
			z.Composite, bts, err = msgp.ReadInt32Bytes(bts)
		case "active":
			z.Active, bts, err = msgp.ReadBoolBytes(bts)
		case "enabled":
			z.Enabled, bts, err = msgp.ReadBoolBytes(bts)
		case "helpers":
			z.Helpers, bts, err = readInt32s(bts)
		case "explicit":
			if msgp.IsNil(bts) {
				bts, err = msgp.ReadNilBytes(bts)
				z.Explicit = nil
				break
			}
			z.Explicit = new(dimensionRecord)
			bts, err = z.Explicit.readMsg(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (z *dimensionRecord) readMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	if sz, bts, err = msgp.ReadMapHeaderBytes(bts); err != nil {
		return bts, err
	}
	for ; sz > 0; sz-- {
		if field, bts, err = msgp.ReadMapKeyZC(bts); err != nil {
			return bts, err
		}
		switch string(field) {
		case "value":
			z.Value, bts, err = msgp.ReadInt64Bytes(bts)
		case "dim":
			z.Dim, bts, err = msgp.ReadInt64Bytes(bts)
		case "direction":
			z.Direction, bts, err = msgp.ReadIntBytes(bts)
		case "vector":
			z.Vector, bts, err = readFloats(bts)
		case "sector":
			z.Sector, bts, err = msgp.ReadIntBytes(bts)
		case "radius":
			z.Radius, bts, err = msgp.ReadIntBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (z *compositeRecord) appendMsg(o []byte) []byte {
	o = msgp.AppendMapHeader(o, 6)
	o = msgp.AppendString(o, "kind")
	o = msgp.AppendInt(o, z.Kind)
	o = msgp.AppendString(o, "parts")
	o = appendInt32s(o, z.Parts)
	o = msgp.AppendString(o, "curves")
	o = appendInt32s(o, z.Curves)
	o = msgp.AppendString(o, "implied")
	o = msgp.AppendBool(o, z.Implied)
	o = msgp.AppendString(o, "active")
	o = msgp.AppendBool(o, z.Active)
	o = msgp.AppendString(o, "enabled")
	return msgp.AppendBool(o, z.Enabled)
}

func (z *compositeRecord) readMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	if sz, bts, err = msgp.ReadMapHeaderBytes(bts); err != nil {
		return bts, err
	}
	for ; sz > 0; sz-- {
		if field, bts, err = msgp.ReadMapKeyZC(bts); err != nil {
			return bts, err
		}
		switch string(field) {
		case "kind":
			z.Kind, bts, err = msgp.ReadIntBytes(bts)
		case "parts":
			z.Parts, bts, err = readInt32s(bts)
		case "curves":
			z.Curves, bts, err = readInt32s(bts)
		case "implied":
			z.Implied, bts, err = msgp.ReadBoolBytes(bts)
		case "active":
			z.Active, bts, err = msgp.ReadBoolBytes(bts)
		case "enabled":
			z.Enabled, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (z *helperRecord) appendMsg(o []byte) []byte {
	o = msgp.AppendMapHeader(o, 3)
	o = msgp.AppendString(o, "value")
	o = msgp.AppendFloat64(o, z.Value)
	o = msgp.AppendString(o, "curve")
	o = msgp.AppendInt32(o, z.Curve)
	o = msgp.AppendString(o, "constraint")
	return msgp.AppendInt32(o, z.Constraint)
}

func (z *helperRecord) readMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	if sz, bts, err = msgp.ReadMapHeaderBytes(bts); err != nil {
		return bts, err
	}
	for ; sz > 0; sz-- {
		if field, bts, err = msgp.ReadMapKeyZC(bts); err != nil {
			return bts, err
		}
		switch string(field) {
		case "value":
			z.Value, bts, err = msgp.ReadFloat64Bytes(bts)
		case "curve":
			z.Curve, bts, err = msgp.ReadInt32Bytes(bts)
		case "constraint":
			z.Constraint, bts, err = msgp.ReadInt32Bytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func appendInt32s(o []byte, v []int32) []byte {
	o = msgp.AppendArrayHeader(o, uint32(len(v)))
	for _, x := range v {
		o = msgp.AppendInt32(o, x)
	}
	return o
}

func appendFloats(o []byte, v []float64) []byte {
	o = msgp.AppendArrayHeader(o, uint32(len(v)))
	for _, x := range v {
		o = msgp.AppendFloat64(o, x)
	}
	return o
}

// readLen reads an array header and bounds it by the remaining input.
func readLen(bts []byte) (int, []byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return 0, bts, err
	}
	if uint64(n) > uint64(len(bts)) {
		return 0, bts, msgp.ErrShortBytes
	}
	return int(n), bts, nil
}

func readInt32s(bts []byte) ([]int32, []byte, error) {
	n, bts, err := readLen(bts)
	if err != nil || n == 0 {
		return nil, bts, err
	}
	out := make([]int32, n)
	for i := range out {
		if out[i], bts, err = msgp.ReadInt32Bytes(bts); err != nil {
			return nil, bts, err
		}
	}
	return out, bts, nil
}

func readInt64s(bts []byte) ([]int64, []byte, error) {
	n, bts, err := readLen(bts)
	if err != nil || n == 0 {
		return nil, bts, err
	}
	out := make([]int64, n)
	for i := range out {
		if out[i], bts, err = msgp.ReadInt64Bytes(bts); err != nil {
			return nil, bts, err
		}
	}
	return out, bts, nil
}

func readFloats(bts []byte) ([]float64, []byte, error) {
	n, bts, err := readLen(bts)
	if err != nil || n == 0 {
		return nil, bts, err
	}
	out := make([]float64, n)
	for i := range out {
		if out[i], bts, err = msgp.ReadFloat64Bytes(bts); err != nil {
			return nil, bts, err
		}
	}
	return out, bts, nil
}

func readStrings(bts []byte) ([]string, []byte, error) {
	n, bts, err := readLen(bts)
	if err != nil || n == 0 {
		return nil, bts, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, bts, err
		}
	}
	return out, bts, nil
}
