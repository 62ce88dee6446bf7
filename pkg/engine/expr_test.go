package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/sketchgraph/pkg/network"
)

func TestEvalExpression(t *testing.T) {
	eng := NewEngine()
	vars := map[string]float64{"W": 3, "depth": 4}

	tests := []struct {
		expr string
		want float64
	}{
		{"12", 12},
		{"2.5", 2.5},
		{" -4 ", -4},
		{"w", 3},
		{"(* w 2)", 6},
		{"(+ W depth)", 7},
		{"(sqrt (+ (* w w) (* depth depth)))", 5},
		{"(max w depth 1)", 4},
		{"(pow 2 10)", 1024},
		{"(/ w 2)", 1.5},
		{"(* pi 1)", math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := eng.EvalExpression(tt.expr, vars)
			if err != nil {
				t.Fatalf("EvalExpression(%q): %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("EvalExpression(%q) = %g, want %g", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	eng := NewEngine()
	for _, expr := range []string{"", "(+ 1", "(+ 1 unknown)", `"text"`, "(sqrt -1)", "NaN", "+Inf"} {
		if _, err := eng.EvalExpression(expr, nil); err == nil {
			t.Errorf("EvalExpression(%q): expected an error", expr)
		}
	}
	if _, err := eng.EvalExpression("(sqrt -1)", nil); !errors.Is(err, ErrBadValue) {
		t.Errorf("expected ErrBadValue for NaN, got %v", err)
	}
}

func TestResolveVariablesInDependencyOrder(t *testing.T) {
	net := network.New(network.Policy{})
	// Created out of order: total depends on later variables.
	total := net.AddVariable("total", "(+ Width margin)", 0)
	width := net.AddVariable("width", "(* base 2)", 0)
	net.AddVariable("margin", "", 1.5)
	net.AddVariable("base", "", 4)

	if err := NewEngine().ResolveVariables(net); err != nil {
		t.Fatalf("ResolveVariables: %v", err)
	}
	if width.Value != 8 {
		t.Errorf("width = %g, want 8", width.Value)
	}
	if total.Value != 9.5 {
		t.Errorf("total = %g, want 9.5", total.Value)
	}
}

func TestResolveVariablesDetectsCycles(t *testing.T) {
	net := network.New(network.Policy{})
	net.AddVariable("a", "(+ b 1)", 0)
	net.AddVariable("b", "(* c 2)", 0)
	net.AddVariable("c", "(- a 1)", 0)

	err := NewEngine().ResolveVariables(net)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}

	self := network.New(network.Policy{})
	self.AddVariable("x", "(+ x 1)", 0)
	if err := NewEngine().ResolveVariables(self); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle for self reference, got %v", err)
	}
}

func TestFloatLiteral(t *testing.T) {
	for in, want := range map[float64]string{
		3:      "3.0",
		-2:     "-2.0",
		1.25:   "1.25",
		1e21:   "1e+21",
		0.0001: "0.0001",
	} {
		if got := floatLiteral(in); got != want {
			t.Errorf("floatLiteral(%g) = %q, want %q", in, got, want)
		}
	}
}
