package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chazu/flicker/pkg/camera"
	"github.com/chazu/flicker/pkg/engine"
	"github.com/chazu/flicker/pkg/runtime"
	"github.com/chazu/flicker/pkg/runtime/soft"
	"github.com/spf13/cobra"
)

type renderOptions struct {
	outDir string
	start  float64
	frames int
	size   string
}

func newRenderCmd(c *cli) *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render <patch>",
		Short: "Render a patch to PNG files",
		Long: `render compiles a patch against the software runtime, renders one or more
frames and writes every attached output as out<N>.png, or out<N>-<frame>.png
when more than one frame is rendered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.render(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outDir, "out", "o", ".", "directory to write PNG files to")
	flags.Float64Var(&opts.start, "time", 0, "time in seconds of the first frame")
	flags.IntVar(&opts.frames, "frames", 1, "number of frames to render")
	flags.StringVar(&opts.size, "size", "", "frame size as WIDTHxHEIGHT (default from config)")
	return cmd
}

func (c *cli) render(cmd *cobra.Command, path string, opts renderOptions) error {
	ctx := cmd.Context()
	if opts.frames < 1 {
		return fmt.Errorf("--frames must be at least 1")
	}
	w, h := c.cfg.Runtime.Width, c.cfg.Runtime.Height
	if opts.size != "" {
		var err error
		if w, h, err = parseSize(opts.size); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return err
	}

	changes := make(chan camera.Change, 16)
	e, err := c.newEngine(func(ch camera.Change) {
		select {
		case changes <- ch:
		default:
		}
	})
	if err != nil {
		return err
	}
	if err := e.Init(ctx, runtime.NewFixedSurface(w, h)); err != nil {
		return err
	}
	defer e.Destroy()

	app := NewApp(e, c.logger)
	app.startup(ctx)
	app.SetEvalTimeout(c.cfg.Lisp.Timeout)

	res := app.LoadFile(path)
	if c.waitForCameras(ctx, e, changes) {
		res = app.LoadFile(path)
	}
	for _, le := range res.Errors {
		fmt.Fprintln(cmd.ErrOrStderr(), le.Message)
	}
	if len(res.Errors) > 0 {
		return errPatchHasErrors
	}
	printIssues(cmd.ErrOrStderr(), res.Issues)

	rt, ok := e.Runtime().(*soft.Runtime)
	if !ok {
		return fmt.Errorf("render needs the software runtime")
	}
	written := 0
	for f := 0; f < opts.frames; f++ {
		t := opts.start + float64(f)/float64(c.cfg.Runtime.FPS)
		if err := rt.Render(t); err != nil {
			return err
		}
		for i := 0; i < rt.NumOutputs(); i++ {
			if !rt.Attached(i) {
				continue
			}
			img, _ := rt.Frame(i)
			name := fmt.Sprintf("out%d.png", i)
			if opts.frames > 1 {
				name = fmt.Sprintf("out%d-%04d.png", i, f)
			}
			if err := writePNG(filepath.Join(opts.outDir, name), img); err != nil {
				return err
			}
			written++
		}
	}
	c.logger.Info("rendered patch", "path", path, "frames", opts.frames, "files", written, "dir", opts.outDir)

	if res.HasErrors() {
		return errPatchHasErrors
	}
	return nil
}

// waitForCameras blocks until no capture source is still starting, or the
// camera policy's full retry budget has elapsed. It reports whether any
// source changed state, in which case the patch should be compiled again.
func (c *cli) waitForCameras(ctx context.Context, e *engine.Engine, changes <-chan camera.Change) bool {
	p := c.cfg.Camera
	budget := time.Duration(p.Attempts) * (p.Timeout + p.Backoff)
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	changed := false
	for c.camerasStarting(e) {
		select {
		case <-changes:
			changed = true
		case <-deadline.C:
			return changed
		case <-ctx.Done():
			return changed
		}
	}
	return changed
}

func (c *cli) camerasStarting(e *engine.Engine) bool {
	for i := 0; i < c.cfg.Runtime.Sources; i++ {
		if st, err := e.CameraState(i); err == nil && st == camera.Requesting {
			return true
		}
	}
	return false
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q is not WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w < 1 {
		return 0, 0, fmt.Errorf("size %q has a bad width", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 1 {
		return 0, 0, fmt.Errorf("size %q has a bad height", s)
	}
	return w, h, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
