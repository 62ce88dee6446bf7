package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/config"
	"github.com/chazu/sketchgraph/pkg/logging"
)

var (
	configPath string
	logLevel   string
	storePath  string
)

var rootCmd = &cobra.Command{
	Use:   "sketchgraph",
	Short: "Parametric 2D constraint sketches",
	Long: `sketchgraph evaluates sketch scripts that draw geometry, constrain it and
edit it, solving the constraint groups after every edit. Groups can be saved
to a local record store and drawings exported as DXF or SVG.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: ./sketchgraph.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "",
		"Record store directory (overrides config)")
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp loads the configuration and builds an App with its logger.
func newApp() (*App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	app, err := NewApp(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return app, log, nil
}
