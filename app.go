package main

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/config"
	"github.com/chazu/sketchgraph/pkg/engine"
	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/kernel"
	"github.com/chazu/sketchgraph/pkg/kernel/dxf"
	"github.com/chazu/sketchgraph/pkg/kernel/svg"
	"github.com/chazu/sketchgraph/pkg/metrics"
	"github.com/chazu/sketchgraph/pkg/solver/lsq"
	"github.com/chazu/sketchgraph/pkg/store"
	"github.com/chazu/sketchgraph/pkg/tessellate"
)

// App wires configuration, logging, metrics, the script engine and the
// record store together for the CLI commands.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	engine   *engine.Engine
}

// EvalErrorData is a script error or a validation finding.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Group   string `json:"group,omitempty"`
	Message string `json:"message"`
}

// SolveData summarizes one (solve ...) call.
type SolveData struct {
	Group     string `json:"group"`
	Status    string `json:"status"`
	Strategy  string `json:"strategy"`
	Transform string `json:"transform"`
	Satisfied int    `json:"satisfied"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

// EvalResult is the full result of evaluating a script.
type EvalResult struct {
	Sketch   *engine.Sketch  `json:"-"`
	Groups   []string        `json:"groups"`
	Solves   []SolveData     `json:"solves"`
	Errors   []EvalErrorData `json:"errors"`
	Warnings []EvalErrorData `json:"warnings"`
}

// NewApp builds an App from cfg. A nil logger disables logging.
func NewApp(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}
	eng := engine.NewEngine(
		engine.WithLogger(log),
		engine.WithMetrics(m),
		engine.WithSolver(lsq.New(cfg.SolverOptions(log.Named("solver")))),
		engine.WithTimeout(cfg.Eval.Timeout),
		engine.WithPolicy(cfg.HostPolicy()),
		engine.WithTolerance(cfg.Eval.Tolerance),
	)
	return &App{cfg: cfg, log: log, registry: reg, metrics: m, engine: eng}, nil
}

// Registry returns the registry holding the App's collectors.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Evaluate runs a script and reports its solves and the validation
// findings of every group it leaves behind.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{
		Groups:   []string{},
		Solves:   []SolveData{},
		Errors:   []EvalErrorData{},
		Warnings: []EvalErrorData{},
	}

	sk, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		a.log.Error("evaluation failed", zap.Error(err))
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{Line: e.Line, Col: e.Col, Message: e.Message})
		}
		return result
	}

	result.Sketch = sk
	result.Groups = append(result.Groups, sk.GroupNames()...)
	for _, s := range sk.Solves {
		sd := SolveData{
			Group:     s.Group,
			Status:    s.Result.Status.String(),
			Strategy:  s.Result.Strategy.String(),
			Transform: s.Result.Transform.String(),
			Satisfied: s.Result.Satisfied,
			Total:     s.Result.Total,
		}
		if s.Result.Err != nil {
			sd.Error = s.Result.Err.Error()
		}
		result.Solves = append(result.Solves, sd)
	}
	for _, name := range result.Groups {
		g, _ := sk.Group(name)
		for _, v := range graph.Validate(g) {
			d := EvalErrorData{Group: name, Message: v.Error()}
			if v.Severity == graph.SeverityError {
				result.Errors = append(result.Errors, d)
			} else {
				result.Warnings = append(result.Warnings, d)
			}
		}
	}
	return result
}

// OpenStore opens the configured record store.
func (a *App) OpenStore() (*store.Store, error) {
	opts, err := a.cfg.StoreOptions(a.log.Named("store"))
	if err != nil {
		return nil, err
	}
	return store.Open(opts)
}

// Save stores a snapshot of every live group of sk under prefix+name and
// returns the record names written.
func (a *App) Save(st *store.Store, sk *engine.Sketch, prefix string) ([]string, error) {
	var names []string
	for _, name := range sk.GroupNames() {
		g, _ := sk.Group(name)
		rec := prefix + name
		if err := st.Put(rec, g.Snapshot()); err != nil {
			return names, err
		}
		names = append(names, rec)
	}
	return names, nil
}

// newKernel picks a drawing backend from the file extension.
func newKernel(path string) (kernel.Kernel, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dxf":
		return dxf.New(), nil
	case ".svg":
		return svg.New(svg.DefaultOptions()), nil
	default:
		return nil, errors.Errorf("unsupported export format %q (want .dxf or .svg)", filepath.Ext(path))
	}
}

// Export draws the sketch network into a DXF or SVG file.
func (a *App) Export(sk *engine.Sketch, path string, opts tessellate.Options) (tessellate.Result, error) {
	k, err := newKernel(path)
	if err != nil {
		return tessellate.Result{}, err
	}
	res, err := tessellate.Draw(sk.Net, k, opts)
	if err != nil {
		return res, err
	}
	if err := k.Save(path); err != nil {
		return res, err
	}
	a.log.Info("exported sketch",
		zap.String("path", path),
		zap.Int("entities", res.Entities),
		zap.Int("edges", res.Edges))
	return res, nil
}

// Trace draws the sketch into a recording kernel without writing a file.
func (a *App) Trace(sk *engine.Sketch, opts tessellate.Options) (*kernel.Trace, tessellate.Result, error) {
	tr := kernel.NewTrace()
	res, err := tessellate.Draw(sk.Net, tr, opts)
	return tr, res, err
}
