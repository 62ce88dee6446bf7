package engine

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/pkg/errors"

	"github.com/chazu/sketchgraph/pkg/network"
)

var (
	// ErrCycle is returned when variable expressions reference each other
	// in a loop.
	ErrCycle = errors.New("variable expressions form a cycle")
	// ErrBadValue is returned when an expression does not yield a finite number.
	ErrBadValue = errors.New("expression is not a finite number")
)

var (
	identRE        = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	variableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func checkVariableName(name string) error {
	if !variableNameRE.MatchString(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	return nil
}

// EvalExpression evaluates a variable expression in a fresh sandbox. vars
// supplies the values of referenced variables, matched case-insensitively.
// Expressions are zygomys forms such as (* w 2); an expression that is not
// a form is read as infix, e.g. w * 2.
func (e *Engine) EvalExpression(expr string, vars map[string]float64) (float64, error) {
	lower := make(map[string]float64, len(vars))
	for k, v := range vars {
		lower[strings.ToLower(k)] = v
	}
	return runBounded(e.timeout, func() (float64, error) {
		return evalExpression(expr, func(name string) (float64, bool) {
			v, ok := lower[strings.ToLower(name)]
			return v, ok
		})
	})
}

// ResolveVariables evaluates every variable expression of net in dependency
// order and stores the results as the variables' values.
func (e *Engine) ResolveVariables(net *network.Network) error {
	_, err := runBounded(e.timeout, func() (float64, error) {
		return 0, resolveVariables(net)
	})
	return err
}

func resolveVariables(net *network.Network) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[network.ObjectID]int)
	var stack []string

	var visit func(v *network.Variable) error
	visit = func(v *network.Variable) error {
		switch state[v.ID] {
		case done:
			return nil
		case visiting:
			i := 0
			for i < len(stack) && !strings.EqualFold(stack[i], v.Name) {
				i++
			}
			cycle := append(append([]string(nil), stack[i:]...), v.Name)
			return errors.Wrap(ErrCycle, strings.Join(cycle, " -> "))
		}
		if strings.TrimSpace(v.Expression) == "" {
			state[v.ID] = done
			return nil
		}
		state[v.ID] = visiting
		stack = append(stack, v.Name)
		for _, ref := range network.References(v.Expression) {
			dep, ok := net.VariableByName(ref)
			if !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]

		val, err := evalExpression(v.Expression, func(name string) (float64, bool) {
			o, ok := net.VariableByName(name)
			if !ok {
				return 0, false
			}
			return o.Value, true
		})
		if err != nil {
			return errors.Wrapf(err, "variable %q", v.Name)
		}
		v.Value = val
		state[v.ID] = done
		return nil
	}

	for _, v := range net.Variables() {
		if err := visit(v); err != nil {
			return err
		}
	}
	return nil
}

// evalExpression runs expr with every identifier lookup knows bound as a
// global.
func evalExpression(expr string, lookup func(string) (float64, bool)) (float64, error) {
	src := strings.TrimSpace(expr)
	if src == "" {
		return 0, errors.New("empty expression")
	}
	// A lone literal compiles to nothing zygomys returns from Run, so the
	// last def would win.
	if v, err := strconv.ParseFloat(src, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, errors.Wrapf(ErrBadValue, "%q = %g", expr, v)
		}
		return v, nil
	}

	var b strings.Builder
	b.WriteString("(def pi 3.141592653589793)\n")
	names := identRE.FindAllString(src, -1)
	sort.Strings(names)
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if v, ok := lookup(n); ok {
			fmt.Fprintf(&b, "(def %s %s)\n", n, floatLiteral(v))
		}
	}
	if !strings.HasPrefix(src, "(") && strings.ContainsAny(src, "+-*/%") {
		src = "{" + src + "}"
	}
	b.WriteString(src)

	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerMath(env)

	if err := env.LoadString(b.String()); err != nil {
		return 0, errors.Wrapf(err, "parse %q", expr)
	}
	res, err := env.Run()
	if err != nil {
		return 0, errors.Wrapf(err, "evaluate %q", expr)
	}
	v, err := toFloat64(res)
	if err != nil {
		return 0, errors.Wrapf(ErrBadValue, "%q: %v", expr, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Wrapf(ErrBadValue, "%q = %g", expr, v)
	}
	return v, nil
}

// floatLiteral formats v so zygomys reads it back as a float.
func floatLiteral(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// ---------------------------------------------------------------------------
// Math builtins
// ---------------------------------------------------------------------------

// registerMath installs the numeric functions expressions may call.
func registerMath(env *zygo.Zlisp) {
	unary := map[string]func(float64) float64{
		"sqrt":  math.Sqrt,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"round": math.Round,
		"float": func(x float64) float64 { return x },
	}
	for fname, fn := range unary {
		fn := fn
		env.AddFunction(fname, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 1 {
				return zygo.SexpNull, fmt.Errorf("%s requires exactly 1 argument, got %d", name, len(args))
			}
			x, err := toFloat64(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
			}
			return &zygo.SexpFloat{Val: fn(x)}, nil
		})
	}

	binary := map[string]func(float64, float64) float64{
		"pow": math.Pow,
		"mod": math.Mod,
		"min": math.Min,
		"max": math.Max,
	}
	for fname, fn := range binary {
		fn := fn
		env.AddFunction(fname, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) < 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires at least 2 arguments, got %d", name, len(args))
			}
			acc, err := toFloat64(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
			}
			for _, a := range args[1:] {
				x, err := toFloat64(a)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
				}
				acc = fn(acc, x)
			}
			return &zygo.SexpFloat{Val: acc}, nil
		})
	}

	env.AddFunction("int", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("int requires exactly 1 argument, got %d", len(args))
		}
		x, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("int: %w", err)
		}
		return &zygo.SexpInt{Val: int64(x)}, nil
	})
}
