// Package engine provides the Lisp evaluation engine for sketch scripts.
// It wraps zygomys in a sandboxed environment, builds a Sketch (a host
// network with named constraint groups) from user source code, and
// evaluates value-variable expressions.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/eval"
	"github.com/chazu/sketchgraph/pkg/metrics"
	"github.com/chazu/sketchgraph/pkg/network"
	"github.com/chazu/sketchgraph/pkg/solver"
	"github.com/chazu/sketchgraph/pkg/solver/lsq"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error or a runtime error in user code.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every group, evaluator and merge
// engine a script creates.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records evaluations and merges in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSolver replaces the default least-squares solver.
func WithSolver(s solver.Solver) Option {
	return func(e *Engine) { e.solver = s }
}

// WithTimeout sets the limit of one evaluation.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithPolicy sets the host policy of the networks scripts build.
func WithPolicy(p network.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithTolerance sets the edit classification tolerance.
func WithTolerance(tol float64) Option {
	return func(e *Engine) { e.tol = tol }
}

// Engine wraps the zygomys interpreter for sketch evaluation.
// It is safe for concurrent use; each call to Evaluate creates a fresh
// sandboxed environment and a fresh network for determinism.
type Engine struct {
	mu         sync.Mutex
	generation uint64

	log     *zap.Logger
	metrics *metrics.Metrics
	solver  solver.Solver
	policy  network.Policy
	timeout time.Duration
	tol     float64
}

// NewEngine creates a new Engine instance.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:     zap.NewNop(),
		timeout: EvalTimeout,
		tol:     eval.DefaultTolerance,
	}
	for _, o := range opts {
		o(e)
	}
	if e.solver == nil {
		e.solver = lsq.New(lsq.Options{Logger: e.log})
	}
	return e
}

// Evaluate takes Lisp source code and produces a new Sketch.
// Each call creates a fresh zygomys sandbox for deterministic evaluation.
//
// Return semantics:
//   - On success: returns sketch + nil errors + nil error
//   - On parse/eval failure: returns nil sketch + eval errors + nil error
//   - On fatal failure (timeout, panic): returns nil + nil + error
func (e *Engine) Evaluate(source string) (*Sketch, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		s, evalErrs, err := e.evaluate(source)
		ch <- evalResult{sketch: s, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, gen, &e.mu, &e.generation, e.timeout)
}

// evaluate performs the actual zygomys evaluation in a fresh sandbox.
func (e *Engine) evaluate(source string) (*Sketch, []EvalError, error) {
	sk := e.newSketch()

	// Empty source is a valid program that produces an empty sketch.
	if strings.TrimSpace(source) == "" {
		return sk, nil, nil
	}

	// Sandbox mode prevents user code from accessing the filesystem or syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerMath(env)
	registerBuiltins(env, sk)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}
	return sk, nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?is)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into one or more EvalError values.
// It attempts to extract line number information from the error message.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	// zygomys formats parse errors as "Error on line N: <details>\n"
	// Builtin failures may precede the location.
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		loc := re.FindStringSubmatchIndex(msg)
		if loc == nil {
			continue
		}
		line, _ := strconv.Atoi(msg[loc[2]:loc[3]])
		detail := strings.TrimSpace(msg[loc[4]:loc[5]])
		if prefix := strings.TrimSpace(msg[:loc[0]]); prefix != "" {
			detail = strings.TrimSpace(prefix + " " + detail)
		}
		return []EvalError{{Line: line, Message: detail}}
	}

	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
