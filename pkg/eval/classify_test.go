package eval

import (
	"math"
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/stretchr/testify/assert"

	"github.com/chazu/sketchgraph/pkg/geom"
)

func vec(x, y float64) v2.Vec { return v2.Vec{X: x, Y: y} }

func TestClassify(t *testing.T) {
	square := []v2.Vec{vec(0, 0), vec(2, 0), vec(2, 2), vec(0, 2)}
	rot := geom.Rotation(vec(1, -1), math.Pi/3)
	rotated := make([]v2.Vec, len(square))
	for i, p := range square {
		rotated[i] = rot.Apply(p)
	}
	stretched := []v2.Vec{vec(0, 0), vec(3, 0), vec(3, 2), vec(0, 2)}

	tests := []struct {
		name string
		cur  []v2.Vec
		want TransformKind
	}{
		{"translation", []v2.Vec{vec(3, 1), vec(5, 1), vec(5, 3), vec(3, 3)}, Move},
		{"identity", square, Move},
		{"rotation", rotated, Rotate},
		{"non-rigid", stretched, Composite},
		{"count mismatch", square[:2], Composite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(square, tt.cur, DefaultTolerance)
			assert.Equal(t, tt.want, got.Kind)
			if tt.want != Composite {
				assert.True(t, got.Fits(square, tt.cur, DefaultTolerance))
			}
		})
	}

	got := Classify(square, rotated, DefaultTolerance)
	assert.InDelta(t, math.Pi/3, got.Angle, 1e-9)
	assert.InDelta(t, 1, got.Center.X, 1e-9)
	assert.InDelta(t, -1, got.Center.Y, 1e-9)

	got = Classify(square, []v2.Vec{vec(3, 1), vec(5, 1), vec(5, 3), vec(3, 3)}, DefaultTolerance)
	assert.InDelta(t, 3, got.Delta.X, 1e-12)
	assert.InDelta(t, 1, got.Delta.Y, 1e-12)
}

func TestReduce(t *testing.T) {
	seg := geom.Segment{Start: vec(0, 0), End: vec(4, 0)}
	pt := geom.Point{P: vec(4, 4)}
	move := geom.Translation(vec(1, 2))
	rot := geom.Rotation(vec(0, 0), math.Pi/2)

	tests := []struct {
		name  string
		edits []Edit
		want  TransformKind
	}{
		{"common translation", []Edit{
			{seg, seg.Transform(move)},
			{pt, pt.Transform(move)},
		}, Move},
		{"point fits the rotation", []Edit{
			// A lone point classifies as a translation, but also fits the
			// rotation found for the segment.
			{pt, pt.Transform(rot)},
			{seg, seg.Transform(rot)},
		}, Rotate},
		{"translations disagree", []Edit{
			{seg, seg.Transform(move)},
			{pt, pt.Transform(geom.Translation(vec(5, 5)))},
		}, Composite},
		{"one edit non-rigid", []Edit{
			{seg, seg.Transform(move)},
			{seg, geom.Segment{Start: vec(0, 0), End: vec(9, 0)}},
		}, Composite},
		{"kind changed", []Edit{
			{seg, geom.Circle(vec(0, 0), 1)},
		}, Composite},
		{"no edits", nil, Composite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(tt.edits, DefaultTolerance).Kind)
		})
	}
}

func TestTransformString(t *testing.T) {
	assert.Equal(t, "move(1,2)", Transform{Kind: Move, Delta: vec(1, 2)}.String())
	assert.Equal(t, "composite", Transform{}.String())
	assert.Equal(t, "rotate", Rotate.String())
}
