// Package soft is a software implementation of runtime.Runtime. Chains are
// per-pixel samplers evaluated on the CPU; shape and affine coordinate
// operations are built on the sdfx 2D distance-field library.
package soft

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/chazu/flicker/pkg/logging"
	"github.com/chazu/flicker/pkg/runtime"
	v2 "github.com/deadsy/sdfx/vec/v2"
)

// Compile-time interface check.
var _ runtime.Runtime = (*Runtime)(nil)

var errClosed = errors.New("soft: runtime closed")

// Options configures a software runtime.
type Options struct {
	Outputs int // numbered outputs, default 4
	Sources int // numbered capture sources, default 4
	FPS     int // frame loop rate, default 30
	Width   int
	Height  int
	Camera  CameraOpener // default TestPattern
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Outputs == 0 {
		o.Outputs = 4
	}
	if o.Sources == 0 {
		o.Sources = 4
	}
	if o.FPS == 0 {
		o.FPS = 30
	}
	if o.Camera == nil {
		o.Camera = TestPattern
	}
	o.Logger = logging.OrDefault(o.Logger)
	return o
}

// Open returns a runtime.Opener that sizes a new runtime to the surface.
func Open(opts Options) runtime.Opener {
	return func(ctx context.Context, s runtime.Surface) (runtime.Runtime, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts.Width, opts.Height = s.Size()
		return New(opts)
	}
}

// frame is the read-only state visible to samplers while one frame renders.
type frame struct {
	t    float64
	prev []*image.RGBA
	cams []Camera
}

// prevAt samples the previous frame of output idx with wrap-around.
func (f *frame) prevAt(idx int, p v2.Vec) rgba {
	if idx < 0 || idx >= len(f.prev) || f.prev[idx] == nil {
		return transparent
	}
	return sampleImage(f.prev[idx], p)
}

func (f *frame) camAt(idx int, p v2.Vec) rgba {
	if idx < 0 || idx >= len(f.cams) || f.cams[idx] == nil {
		return transparent
	}
	r, g, b := f.cams[idx].Sample(f.t, fract(p.X), fract(p.Y))
	return rgba{R: r, G: g, B: b, A: 1}
}

// sampleImage reads the nearest pixel. p.Y grows upward.
func sampleImage(img *image.RGBA, p v2.Vec) rgba {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return transparent
	}
	x := int(fract(p.X) * float64(w))
	y := int((1 - fract(p.Y)) * float64(h))
	x = min(max(x, 0), w-1)
	y = min(max(y, 0), h-1)
	return fromRGBA(img.RGBAAt(b.Min.X+x, b.Min.Y+y))
}

// Runtime renders attached chains into numbered output buffers.
type Runtime struct {
	opts    Options
	outputs []*output
	sources []*source

	mu       sync.Mutex
	width    int
	height   int
	attached []sampler
	prev     []*image.RGBA
	frames   uint64
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a software runtime.
func New(opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	if opts.Outputs < 0 || opts.Sources < 0 || opts.FPS < 0 {
		return nil, fmt.Errorf("soft: negative outputs, sources or fps")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("soft: invalid resolution %dx%d", opts.Width, opts.Height)
	}

	r := &Runtime{
		opts:     opts,
		width:    opts.Width,
		height:   opts.Height,
		attached: make([]sampler, opts.Outputs),
	}
	for i := 0; i < opts.Outputs; i++ {
		r.outputs = append(r.outputs, &output{rt: r, index: i})
	}
	for i := 0; i < opts.Sources; i++ {
		r.sources = append(r.sources, &source{rt: r, index: i})
	}
	r.prev = r.blankBuffers()
	return r, nil
}

func (r *Runtime) blankBuffers() []*image.RGBA {
	bufs := make([]*image.RGBA, len(r.outputs))
	for i := range bufs {
		bufs[i] = image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	}
	return bufs
}

func (r *Runtime) newChain(s sampler) *chain {
	return &chain{rt: r, sample: s}
}

// Declarations lists every user-facing operation.
func (r *Runtime) Declarations() []runtime.Declaration {
	return Declarations()
}

// Declarations lists the operations every software runtime publishes. It
// needs no runtime, so callers can build a registry before opening one.
func Declarations() []runtime.Declaration {
	decls := make([]runtime.Declaration, len(opTable))
	for i, d := range opTable {
		decls[i] = d.declaration()
	}
	return decls
}

// Generator returns a source operation, or the src primitive that reads an
// output's previous frame or a capture source.
func (r *Runtime) Generator(name string) (runtime.Func, bool) {
	if name == runtime.FeedbackGenerator {
		return r.src, true
	}
	d, ok := opIndex[name]
	if !ok || d.kind != kindSource {
		return nil, false
	}
	return func(raw ...any) (runtime.Chain, error) {
		a, err := d.bind(raw)
		if err != nil {
			return nil, err
		}
		s, err := d.source(a)
		if err != nil {
			return nil, err
		}
		return r.newChain(s), nil
	}, true
}

func (r *Runtime) src(raw ...any) (runtime.Chain, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("src: expected 1 argument, got %d", len(raw))
	}
	switch from := raw[0].(type) {
	case *output:
		if from.rt != r {
			return nil, fmt.Errorf("src: output belongs to another runtime")
		}
		idx := from.index
		return r.newChain(func(f *frame, p v2.Vec) rgba { return f.prevAt(idx, p) }), nil
	case *source:
		if from.rt != r {
			return nil, fmt.Errorf("src: source belongs to another runtime")
		}
		idx := from.index
		return r.newChain(func(f *frame, p v2.Vec) rgba { return f.camAt(idx, p) }), nil
	default:
		return nil, fmt.Errorf("src: expected an output or source, got %T", raw[0])
	}
}

func (r *Runtime) NumOutputs() int { return len(r.outputs) }

func (r *Runtime) Output(i int) (runtime.Output, bool) {
	if i < 0 || i >= len(r.outputs) {
		return nil, false
	}
	return r.outputs[i], true
}

func (r *Runtime) Source(i int) (runtime.Source, bool) {
	if i < 0 || i >= len(r.sources) {
		return nil, false
	}
	return r.sources[i], true
}

func (r *Runtime) attach(idx int, s sampler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed
	}
	r.attached[idx] = s
	return nil
}

// Attached reports whether a chain is routed to output i.
func (r *Runtime) Attached(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return i >= 0 && i < len(r.attached) && r.attached[i] != nil
}

// Resolution returns the current frame size.
func (r *Runtime) Resolution() (w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// SetResolution resizes every output and clears the previous frames.
// Non-positive sizes are ignored.
func (r *Runtime) SetResolution(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w == r.width && h == r.height {
		return
	}
	r.width, r.height = w, h
	r.prev = r.blankBuffers()
}

// Render draws one frame at time t (seconds) into every attached output.
// All outputs read the same previous frames; buffers swap afterwards.
func (r *Runtime) Render(t float64) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("soft: render panic: %v", rec)
		}
	}()

	f := &frame{t: t, prev: r.prev, cams: make([]Camera, len(r.sources))}
	for i, s := range r.sources {
		f.cams[i] = s.camera()
	}

	w, h := r.width, r.height
	next := make([]*image.RGBA, len(r.prev))
	for i, s := range r.attached {
		if s == nil {
			next[i] = r.prev[i]
			continue
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			py := 1 - (float64(y)+0.5)/float64(h)
			for x := 0; x < w; x++ {
				p := v2.Vec{X: (float64(x) + 0.5) / float64(w), Y: py}
				img.SetRGBA(x, y, s(f, p).toRGBA())
			}
		}
		next[i] = img
	}
	r.prev = next
	r.frames++
	return nil
}

// Frames returns the number of frames rendered so far.
func (r *Runtime) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Frame returns a copy of the most recent frame of output i.
func (r *Runtime) Frame(i int) (*image.RGBA, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.prev) || r.prev[i] == nil {
		return nil, false
	}
	src := r.prev[i]
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst, true
}

// Start runs the frame loop until Stop or Close. Starting twice is a no-op.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

func (r *Runtime) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(max(r.opts.FPS, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.opts.Logger.Debug("frame loop started", "fps", r.opts.FPS)
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			r.opts.Logger.Debug("frame loop stopped")
			return
		case now := <-ticker.C:
			if err := r.Render(now.Sub(start).Seconds()); err != nil {
				r.opts.Logger.Warn("render failed", "error", err)
			}
		}
	}
}

// Stop halts the frame loop and waits for it to exit.
func (r *Runtime) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether the frame loop is active.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Close stops the loop, detaches all outputs and closes open cameras.
func (r *Runtime) Close() error {
	r.Stop()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for i := range r.attached {
		r.attached[i] = nil
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range r.sources {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
