package geom

import (
	"math"
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(x, y float64) v2.Vec { return v2.Vec{X: x, Y: y} }

func assertVec(t *testing.T, want, got v2.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-9, "y")
}

func TestSweep(t *testing.T) {
	tests := []struct {
		name       string
		start, end float64
		want       float64
	}{
		{"quarter", 0, math.Pi / 2, math.Pi / 2},
		{"wraps", 3 * math.Pi / 2, math.Pi / 2, math.Pi},
		{"equal angles is a full turn", 1, 1, Tau},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Sweep(tt.start, tt.end), 1e-12)
		})
	}
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, math.Pi, NormalizeAngle(-math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi/2, NormalizeAngle(3*math.Pi/2), 1e-12)
	assert.InDelta(t, 0.5, NormalizeAngle(0.5+2*Tau), 1e-12)
}

func TestRigid(t *testing.T) {
	r := Rotation(vec(1, 0), math.Pi/2)
	assertVec(t, vec(1, 1), r.Apply(vec(2, 0)))
	assertVec(t, vec(0, 1), r.ApplyDir(vec(1, 0)))

	tr := Translation(vec(3, -1))
	assertVec(t, vec(3, -1), tr.Apply(vec(0, 0)))
	assert.False(t, tr.IsIdentity(1e-9))
	assert.True(t, Rotation(vec(5, 5), Tau).IsIdentity(1e-9))
}

func TestTransformShapes(t *testing.T) {
	r := Rigid{Delta: vec(1, 1), Angle: math.Pi}

	seg := Segment{Start: vec(0, 0), End: vec(2, 0)}.Transform(r).(Segment)
	assertVec(t, vec(1, 1), seg.Start)
	assertVec(t, vec(-1, 1), seg.End)

	arc := CircArc{Center: vec(1, 0), Radius: 2, StartAngle: 0, EndAngle: math.Pi / 2}.Transform(r).(CircArc)
	assertVec(t, vec(0, 1), arc.Center)
	assert.InDelta(t, math.Pi, arc.StartAngle, 1e-12)
	assert.InDelta(t, 3*math.Pi/2, arc.EndAngle, 1e-12)
}

func TestImplicitPoints(t *testing.T) {
	arc := CircArc{Center: vec(0, 0), Radius: 1, StartAngle: 0, EndAngle: math.Pi}
	spline := UniformSpline(2, []v2.Vec{vec(0, 0), vec(1, 2), vec(2, 0)})

	tests := []struct {
		name  string
		shape Shape
		ref   PointRef
		want  v2.Vec
		ok    bool
	}{
		{"segment mid", Segment{Start: vec(0, 0), End: vec(4, 2)}, PointRef{Type: PointMid}, vec(2, 1), true},
		{"ray start", Ray{Origin: vec(1, 1), Dir: vec(1, 0)}, PointRef{Type: PointStart}, vec(1, 1), true},
		{"ray has no end", Ray{Origin: vec(1, 1), Dir: vec(1, 0)}, PointRef{Type: PointEnd}, v2.Vec{}, false},
		{"arc end", arc, PointRef{Type: PointEnd}, vec(-1, 0), true},
		{"arc mid", arc, PointRef{Type: PointMid}, vec(0, 1), true},
		{"circle has no start", Circle(vec(0, 0), 1), PointRef{Type: PointStart}, v2.Vec{}, false},
		{"spline end", spline, PointRef{Type: PointEnd}, vec(2, 0), true},
		{"spline define", spline, PointRef{Type: PointDefine, Index: 1}, vec(1, 2), true},
		{"spline define out of range", spline, PointRef{Type: PointDefine, Index: 3}, v2.Vec{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ImplicitPoint(tt.shape, tt.ref)
			require.Equal(t, tt.ok, ok)
			if ok {
				assertVec(t, tt.want, got)
			}
		})
	}
}

func TestAutoPoints(t *testing.T) {
	assert.Len(t, AutoPoints(Segment{}), 2)
	assert.Len(t, AutoPoints(Circle(vec(0, 0), 1)), 1)
	assert.Len(t, AutoPoints(CircArc{Radius: 1, EndAngle: 1}), 3)
	assert.Len(t, AutoPoints(UniformSpline(2, []v2.Vec{vec(0, 0), vec(1, 1), vec(2, 0)})), 5)
	assert.Empty(t, AutoPoints(Line{Dir: vec(1, 0)}))

	assert.True(t, SupportsMid(Segment{}))
	assert.False(t, SupportsMid(Circle(vec(0, 0), 1)))
	assert.False(t, SupportsMid(Ray{}))
}

func TestFlattenUnflatten(t *testing.T) {
	rational := UniformSpline(2, []v2.Vec{vec(0, 0), vec(1, 1), vec(2, 0)})
	rational.Weights = []float64{1, 2, 1}

	shapes := []Shape{
		Point{P: vec(1, 2)},
		Line{Origin: vec(0, 1), Dir: vec(1, 0)},
		Ray{Origin: vec(0, 1), Dir: vec(0, 1)},
		Segment{Start: vec(0, 0), End: vec(3, 4)},
		CircArc{Center: vec(1, 1), Radius: 2, StartAngle: 0.5, EndAngle: 2},
		Circle(vec(1, 1), 3),
		EllipArc{Center: vec(0, 0), MajorAxis: vec(1, 0), MajorRadius: 3, MinorRadius: 1, Closed: true},
		UniformSpline(3, []v2.Vec{vec(0, 0), vec(1, 2), vec(3, 2), vec(4, 0)}),
		rational,
	}
	for _, s := range shapes {
		t.Run(s.Kind().String(), func(t *testing.T) {
			k, p := Flatten(s)
			got, err := Unflatten(k, p)
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}
}

func TestUnflattenErrors(t *testing.T) {
	_, err := Unflatten(KindSegment, []float64{1, 2})
	assert.Error(t, err)

	_, err = Unflatten(KindUnsupported, nil)
	assert.Error(t, err)

	k, p := Flatten(UniformSpline(2, []v2.Vec{vec(0, 0), vec(1, 1), vec(2, 0)}))
	_, err = Unflatten(k, p[:len(p)-1])
	assert.Error(t, err)
}

func TestSplineValidate(t *testing.T) {
	assert.NoError(t, UniformSpline(3, []v2.Vec{vec(0, 0), vec(1, 2), vec(3, 2), vec(4, 0)}).Validate())
	assert.Error(t, Spline{Degree: 0}.Validate())
	assert.Error(t, Spline{Degree: 2, Control: []v2.Vec{vec(0, 0), vec(1, 1)}}.Validate())
	s := UniformSpline(2, []v2.Vec{vec(0, 0), vec(1, 1), vec(2, 0)})
	s.Weights = []float64{1}
	assert.Error(t, s.Validate())
}
