package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/flicker/pkg/camera"
	"github.com/chazu/flicker/pkg/runtime"
	"github.com/chazu/flicker/pkg/watch"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newWatchCmd(c *cli) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch <patch>",
		Short: "Run a patch and recompile it whenever the file changes",
		Long: `watch starts the software runtime's frame loop, compiles the patch and
recompiles it on every save and every camera state change. Compile results
are logged; with --metrics-addr the Prometheus metrics are served at /metrics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = c.cfg.Metrics.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.watch(ctx, args[0], metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")
	return cmd
}

func (c *cli) watch(ctx context.Context, path, metricsAddr string) error {
	w, err := watch.New(path, c.cfg.Watch.Debounce, c.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	// Coalesces file and camera triggers; one pending compile is enough.
	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	e, err := c.newEngine(func(ch camera.Change) {
		c.logger.Info("camera state changed", "source", ch.Source, "from", ch.From, "to", ch.To)
		poke()
	})
	if err != nil {
		return err
	}
	surface := runtime.NewFixedSurface(c.cfg.Runtime.Width, c.cfg.Runtime.Height)
	if err := e.Init(ctx, surface); err != nil {
		return err
	}
	defer e.Destroy()
	if err := e.Start(); err != nil {
		return err
	}

	app := NewApp(e, c.logger)
	app.startup(ctx)
	app.SetEvalTimeout(c.cfg.Lisp.Timeout)

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler()}
		go func() {
			c.logger.Info("serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Run(ctx, func(context.Context) { poke() })
	}()

	c.logger.Info("watching patch", "path", w.Path())
	c.compile(app, w.Path())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping")
			return <-watchErr
		case err := <-watchErr:
			return err
		case <-trigger:
			c.compile(app, w.Path())
		}
	}
}

// compile loads and compiles the patch, logging the outcome.
func (c *cli) compile(app *App, path string) {
	res := app.LoadFile(path)
	if len(res.Errors) > 0 {
		for _, le := range res.Errors {
			c.logger.Error("patch not loaded", "path", path, "line", le.Line, "error", le.Message)
		}
		return
	}

	for _, is := range res.Issues {
		c.logger.Warn("patch issue", "severity", is.Severity, "kind", is.Kind, "node", is.NodeID, "message", is.Message)
	}
	c.logger.Info("compiled patch",
		"path", path,
		"generation", res.Generation,
		"nodes", len(res.Patch.Nodes),
		"issues", len(res.Issues),
		"errors", res.HasErrors(),
	)
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
