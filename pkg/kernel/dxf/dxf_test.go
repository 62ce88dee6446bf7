package dxf

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
)

func TestSaveWritesEntities(t *testing.T) {
	k := New()
	steps := []struct {
		name string
		fn   func() error
	}{
		{"layer", func() error { return k.Layer("geometry") }},
		{"line", func() error { return k.Line(v2.Vec{}, v2.Vec{X: 10}) }},
		{"circle", func() error { return k.Circle(v2.Vec{X: 5, Y: 5}, 2) }},
		{"arc", func() error { return k.Arc(v2.Vec{}, 3, 0, math.Pi/2) }},
		{"layer again", func() error { return k.Layer("construction") }},
		{"switch back", func() error { return k.Layer("geometry") }},
		{"polyline", func() error { return k.Polyline([]v2.Vec{{}, {X: 1}, {X: 1, Y: 1}}, true) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
	}

	path := filepath.Join(t.TempDir(), "out.dxf")
	if err := k.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{"LINE", "CIRCLE", "ARC", "geometry", "construction"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestDegrees(t *testing.T) {
	if got := deg(math.Pi); math.Abs(got-180) > 1e-12 {
		t.Errorf("deg(pi) = %v, want 180", got)
	}
}
