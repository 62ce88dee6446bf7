package svg

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	v2 "github.com/deadsy/sdfx/vec/v2"
)

func draw(t *testing.T) *Kernel {
	t.Helper()
	k := New(DefaultOptions())
	if err := k.Layer("geometry"); err != nil {
		t.Fatal(err)
	}
	k.Line(v2.Vec{}, v2.Vec{X: 10})
	k.Circle(v2.Vec{X: 5, Y: 5}, 2)
	k.Arc(v2.Vec{}, 3, 0, math.Pi/2)
	k.Polyline([]v2.Vec{{}, {X: 1}, {X: 1, Y: 1}}, false)
	k.Polyline([]v2.Vec{{}, {X: 2}, {X: 2, Y: 2}}, true)
	return k
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	if err := draw(t).Render(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"<svg", "<line", "<circle", "<path", "<polyline", "<polygon", `id="geometry"`, "</svg>"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	// The default layer holds nothing and is not emitted.
	if strings.Contains(out, `id="0"`) {
		t.Error("empty layer should be omitted")
	}
}

func TestCanvasFitsDrawing(t *testing.T) {
	k := New(Options{Scale: 2, Margin: 5})
	k.Line(v2.Vec{X: -10, Y: -10}, v2.Vec{X: 10, Y: 20})
	var buf bytes.Buffer
	if err := k.Render(&buf); err != nil {
		t.Fatal(err)
	}
	// 20 units wide and 30 high at scale 2 plus margins.
	if !strings.Contains(buf.String(), `width="50"`) || !strings.Contains(buf.String(), `height="70"`) {
		t.Errorf("unexpected canvas size in %s", buf.String())
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.svg")
	if err := draw(t).Save(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("<?xml")) {
		t.Errorf("missing xml declaration: %.40s", b)
	}
}
