package main

import (
	"fmt"
	"log/slog"

	"github.com/chazu/flicker/pkg/camera"
	"github.com/chazu/flicker/pkg/config"
	"github.com/chazu/flicker/pkg/engine"
	"github.com/chazu/flicker/pkg/logging"
	"github.com/chazu/flicker/pkg/runtime/soft"
	"github.com/chazu/flicker/pkg/transform"
	"github.com/spf13/cobra"
)

// cli holds state shared by every subcommand once the root has loaded the
// configuration.
type cli struct {
	cfgPath   string
	logLevel  string
	logFormat string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "flicker",
		Short: "Compile node-graph patches for a visual synthesis runtime",
		Long: `flicker validates node-graph patches written as YAML, JSON, HCL or Lisp,
renders them with the built-in software runtime and live-reloads them on save.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgPath, "config", "", "path to a flicker.yaml configuration file")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&c.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newOpsCmd(c),
		newValidateCmd(c),
		newConvertCmd(c),
		newRenderCmd(c),
		newWatchCmd(c),
	)
	return root
}

// setup loads the configuration and builds the logger. Flags win over the
// file.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	cmd.SetContext(logging.WithLogger(cmd.Context(), c.logger))
	return nil
}

// overrides returns the configured parameter defaults for the software
// runtime's operations.
func (c *cli) overrides() ([]transform.Spec, error) {
	specs, err := c.cfg.Overrides(soft.Declarations())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return specs, nil
}

// registry builds the registry the software runtime would publish, without
// opening one.
func (c *cli) registry() (*transform.Registry, error) {
	specs, err := c.overrides()
	if err != nil {
		return nil, err
	}
	return transform.New(soft.Declarations(), specs...)
}

// newEngine returns an engine bound to a software runtime sized by the
// configuration. onCamera may be nil.
func (c *cli) newEngine(onCamera func(camera.Change)) (*engine.Engine, error) {
	specs, err := c.overrides()
	if err != nil {
		return nil, err
	}
	rc := c.cfg.Runtime
	return engine.New(engine.Options{
		Opener: soft.Open(soft.Options{
			Outputs: rc.Outputs,
			Sources: rc.Sources,
			FPS:     rc.FPS,
			Logger:  c.logger,
		}),
		NumOutputs:     rc.Outputs,
		Overrides:      specs,
		Logger:         c.logger,
		CameraPolicy:   c.cfg.Camera,
		OnCameraChange: onCamera,
	}), nil
}
