package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/record"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sketchgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.HostPolicy().EraseDimensionIfDependencyErased)
	assert.Equal(t, "dictionary", cfg.Store.Generation)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
solver:
  tolerance: 1e-6
  maxIterations: 50
eval:
  timeout: 250ms
policy:
  eraseDimensionIfDependencyErased: false
store:
  path: /tmp/sketches
  generation: inline
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1e-6, cfg.Solver.Tolerance)
	assert.Equal(t, 50, cfg.Solver.MaxIterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Eval.Timeout)
	assert.Equal(t, Default().Eval.Tolerance, cfg.Eval.Tolerance)
	assert.False(t, cfg.HostPolicy().EraseDimensionIfDependencyErased)
	assert.Equal(t, "json", cfg.Logging.Format)

	opts := cfg.SolverOptions(zap.NewNop())
	assert.Equal(t, 50, opts.MaxIterations)

	sc, err := cfg.StoreOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sketches", sc.Path)
	assert.Equal(t, record.GenInline, sc.Generation)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "solver:\n  maxIterations: 50\n")
	t.Setenv("SKETCHGRAPH_SOLVER_MAXITERATIONS", "75")
	t.Setenv("SKETCHGRAPH_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.Solver.MaxIterations)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	tests := []struct {
		body  string
		field string
	}{
		{"solver:\n  tolerance: 0\n", "solver.tolerance"},
		{"solver:\n  maxIterations: -1\n", "solver.maxIterations"},
		{"eval:\n  timeout: 0s\n", "eval.timeout"},
		{"store:\n  generation: v9\n", "store.generation"},
		{"logging:\n  level: loud\n", "logging.level"},
		{"logging:\n  format: xml\n", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}
