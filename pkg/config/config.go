// Package config loads sketchgraph settings from a YAML file, environment
// variables (SKETCHGRAPH_*) and built-in defaults, in that order of
// precedence from last to first.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/eval"
	"github.com/chazu/sketchgraph/pkg/network"
	"github.com/chazu/sketchgraph/pkg/record"
	"github.com/chazu/sketchgraph/pkg/solver/lsq"
	"github.com/chazu/sketchgraph/pkg/store"
)

// EnvPrefix prefixes every environment override, e.g.
// SKETCHGRAPH_SOLVER_TOLERANCE.
const EnvPrefix = "SKETCHGRAPH"

// Config is the complete sketchgraph configuration.
type Config struct {
	Solver  SolverConfig  `mapstructure:"solver" yaml:"solver"`
	Eval    EvalConfig    `mapstructure:"eval" yaml:"eval"`
	Policy  PolicyConfig  `mapstructure:"policy" yaml:"policy"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// SolverConfig tunes the least-squares solver.
type SolverConfig struct {
	Tolerance     float64 `mapstructure:"tolerance" yaml:"tolerance"`
	MaxIterations int     `mapstructure:"maxIterations" yaml:"maxIterations"`
}

// EvalConfig tunes edit classification and script evaluation.
type EvalConfig struct {
	Tolerance float64       `mapstructure:"tolerance" yaml:"tolerance"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PolicyConfig holds host policies.
type PolicyConfig struct {
	EraseDimensionIfDependencyErased bool `mapstructure:"eraseDimensionIfDependencyErased" yaml:"eraseDimensionIfDependencyErased"`
}

// StoreConfig locates the record store.
type StoreConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	Generation string `mapstructure:"generation" yaml:"generation"`
	SyncWrites bool   `mapstructure:"syncWrites" yaml:"syncWrites"`
}

// LoggingConfig selects the log level and format ("console" or "json").
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	so := lsq.DefaultOptions()
	return &Config{
		Solver: SolverConfig{
			Tolerance:     so.Tolerance,
			MaxIterations: so.MaxIterations,
		},
		Eval: EvalConfig{
			Tolerance: eval.DefaultTolerance,
			Timeout:   5 * time.Second,
		},
		Policy: PolicyConfig{
			EraseDimensionIfDependencyErased: true,
		},
		Store: StoreConfig{
			Path:       ".sketchgraph",
			Generation: record.GenDictionary.String(),
			SyncWrites: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("solver.tolerance", d.Solver.Tolerance)
	v.SetDefault("solver.maxIterations", d.Solver.MaxIterations)
	v.SetDefault("eval.tolerance", d.Eval.Tolerance)
	v.SetDefault("eval.timeout", d.Eval.Timeout)
	v.SetDefault("policy.eraseDimensionIfDependencyErased", d.Policy.EraseDimensionIfDependencyErased)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.generation", d.Store.Generation)
	v.SetDefault("store.syncWrites", d.Store.SyncWrites)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load reads the configuration. An explicit path must exist; with an empty
// path sketchgraph.yaml is looked up in the working directory and its
// absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sketchgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "config: read")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Validate checks every setting.
func (c *Config) Validate() error {
	switch {
	case c.Solver.Tolerance <= 0:
		return &ConfigError{Field: "solver.tolerance", Message: "must be positive"}
	case c.Solver.MaxIterations <= 0:
		return &ConfigError{Field: "solver.maxIterations", Message: "must be positive"}
	case c.Eval.Tolerance <= 0:
		return &ConfigError{Field: "eval.tolerance", Message: "must be positive"}
	case c.Eval.Timeout <= 0:
		return &ConfigError{Field: "eval.timeout", Message: "must be positive"}
	}
	if _, err := record.ParseGeneration(c.Store.Generation); err != nil {
		return &ConfigError{Field: "store.generation", Message: err.Error()}
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return &ConfigError{Field: "logging.format", Message: "must be console or json"}
	}
	return nil
}

// SolverOptions returns the solver options the configuration selects.
func (c *Config) SolverOptions(log *zap.Logger) lsq.Options {
	return lsq.Options{
		Tolerance:     c.Solver.Tolerance,
		MaxIterations: c.Solver.MaxIterations,
		Logger:        log,
	}
}

// HostPolicy returns the network policy.
func (c *Config) HostPolicy() network.Policy {
	return network.Policy{EraseDimensionIfDependencyErased: c.Policy.EraseDimensionIfDependencyErased}
}

// StoreOptions returns the store configuration for the configured path.
func (c *Config) StoreOptions(log *zap.Logger) (store.Config, error) {
	gen, err := record.ParseGeneration(c.Store.Generation)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Path:       c.Store.Path,
		SyncWrites: c.Store.SyncWrites,
		Generation: gen,
		Logger:     log,
	}, nil
}
