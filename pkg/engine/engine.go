// Package engine compiles patch graphs against a live visual synthesis
// runtime. ExecuteGraph validates the graph, builds one chain per
// compilable output sink, attaches it and reports structural and runtime
// issues together. The engine also owns the runtime's lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chazu/flicker/pkg/camera"
	"github.com/chazu/flicker/pkg/graph"
	"github.com/chazu/flicker/pkg/logging"
	"github.com/chazu/flicker/pkg/runtime"
	"github.com/chazu/flicker/pkg/transform"
)

// DefaultNumOutputs is the output count assumed before a runtime exists.
const DefaultNumOutputs = 4

var (
	// ErrNotInitialized is returned by lifecycle calls made before Init.
	ErrNotInitialized = errors.New("engine: runtime not initialized")
	// ErrDestroyed is returned once Destroy has been called.
	ErrDestroyed = errors.New("engine: destroyed")
	// ErrInitInProgress is returned when Init is already running.
	ErrInitInProgress = errors.New("engine: init already in progress")
)

// Options configures an Engine.
type Options struct {
	// Opener acquires the runtime during Init.
	Opener runtime.Opener
	// NumOutputs is used for validation until a runtime reports its own.
	NumOutputs int
	// Registry is used for validation until Init builds one from the
	// runtime's declarations.
	Registry *transform.Registry
	// Overrides are applied on top of the runtime's declarations.
	Overrides []transform.Spec
	Logger    *slog.Logger
	// CameraPolicy bounds camera device requests.
	CameraPolicy camera.Policy
	// OnCameraChange is called after every camera state transition. Callers
	// typically schedule a new ExecuteGraph from it; the engine never
	// recompiles on its own.
	OnCameraChange func(camera.Change)
}

// Engine is the stateful compiler around one runtime. ExecuteGraph calls
// are serialized internally; lifecycle methods may be called from any
// goroutine.
type Engine struct {
	opts     Options
	logger   *slog.Logger
	fallback *transform.Registry

	compileMu sync.Mutex // serializes ExecuteGraph and Destroy

	mu           sync.Mutex
	rt           runtime.Runtime
	reg          *transform.Registry
	cams         *camera.Manager
	stopResize   func()
	initializing bool
	destroyed    bool
	generation   uint64
}

// New returns an engine. Nothing is acquired until Init.
func New(opts Options) *Engine {
	if opts.NumOutputs <= 0 {
		opts.NumOutputs = DefaultNumOutputs
	}
	if opts.CameraPolicy == (camera.Policy{}) {
		opts.CameraPolicy = camera.DefaultPolicy()
	}
	e := &Engine{
		opts:   opts,
		logger: logging.OrDefault(opts.Logger),
	}
	// Before Init only the synthetic camera/output entries are known,
	// unless the caller supplied a registry.
	e.fallback = opts.Registry
	if e.fallback == nil {
		e.fallback = transform.MustNew(nil)
	}
	return e
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Init acquires the runtime for surface, sizes it, builds the registry from
// its declarations and keeps the runtime resolution in sync with surface
// resizes. Calling Init on an initialized engine is a no-op.
func (e *Engine) Init(ctx context.Context, surface runtime.Surface) error {
	if e.opts.Opener == nil {
		return fmt.Errorf("engine: no runtime opener configured")
	}

	e.mu.Lock()
	switch {
	case e.destroyed:
		e.mu.Unlock()
		return ErrDestroyed
	case e.rt != nil:
		e.mu.Unlock()
		return nil
	case e.initializing:
		e.mu.Unlock()
		return ErrInitInProgress
	}
	e.initializing = true
	e.mu.Unlock()

	rt, reg, err := e.open(ctx, surface)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.initializing = false
	if err != nil {
		return err
	}
	if e.destroyed {
		// Destroy ran while the runtime was being acquired.
		if cerr := rt.Close(); cerr != nil {
			e.logger.Warn("closing runtime after destroy", "error", cerr)
		}
		return ErrDestroyed
	}

	e.rt = rt
	e.reg = reg
	e.cams = camera.NewManager(e.opts.CameraPolicy, e.opts.OnCameraChange, e.logger)
	if n, ok := surface.(runtime.ResizeNotifier); ok {
		e.stopResize = n.OnResize(func(w, h int) {
			if err := e.SetResolution(w, h); err != nil {
				e.logger.Debug("resize ignored", "error", err)
			}
		})
	}

	w, h := surface.Size()
	e.logger.Info("runtime initialized",
		"outputs", rt.NumOutputs(), "operations", reg.Len(), "width", w, "height", h)
	return nil
}

func (e *Engine) open(ctx context.Context, surface runtime.Surface) (runtime.Runtime, *transform.Registry, error) {
	rt, err := e.opts.Opener(ctx, surface)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: open runtime: %w", err)
	}

	reg, err := transform.New(rt.Declarations(), e.opts.Overrides...)
	if err != nil {
		_ = rt.Close()
		return nil, nil, fmt.Errorf("engine: build registry: %w", err)
	}

	rt.SetResolution(surface.Size())
	return rt, reg, nil
}

func (e *Engine) runtime() (runtime.Runtime, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, ErrDestroyed
	}
	if e.rt == nil {
		return nil, ErrNotInitialized
	}
	return e.rt, nil
}

// Start starts the runtime's frame loop.
func (e *Engine) Start() error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	rt.Start()
	return nil
}

// Stop stops the runtime's frame loop.
func (e *Engine) Stop() error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	rt.Stop()
	return nil
}

// SetResolution resizes the runtime.
func (e *Engine) SetResolution(w, h int) error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	rt.SetResolution(w, h)
	return nil
}

// Reset blanks every output without tearing down the runtime.
func (e *Engine) Reset() error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	solid, ok := rt.Generator(runtime.SolidGenerator)
	if !ok {
		return fmt.Errorf("engine: runtime has no %q generator", runtime.SolidGenerator)
	}

	var errs []error
	for i := 0; i < rt.NumOutputs(); i++ {
		out, ok := rt.Output(i)
		if !ok {
			continue
		}
		c, err := solid(0.0, 0.0, 0.0, 1.0)
		if err == nil {
			err = c.Out(out)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("output %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Destroy unregisters the resize handler, stops the frame loop and
// releases the runtime. It is safe to call more than once and before or
// during Init.
func (e *Engine) Destroy() error {
	e.compileMu.Lock()
	defer e.compileMu.Unlock()

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	rt, cams, stopResize := e.rt, e.cams, e.stopResize
	e.rt, e.cams, e.stopResize = nil, nil, nil
	e.mu.Unlock()

	if stopResize != nil {
		stopResize()
	}
	if cams != nil {
		cams.Close()
	}
	if rt == nil {
		return nil
	}
	rt.Stop()
	if err := rt.Close(); err != nil {
		return fmt.Errorf("engine: close runtime: %w", err)
	}
	e.logger.Info("runtime destroyed")
	return nil
}

// Registry returns the registry used for validation: the runtime's after
// Init, otherwise the configured or synthetic-only fallback.
func (e *Engine) Registry() *transform.Registry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reg != nil {
		return e.reg
	}
	return e.fallback
}

// Runtime returns the live runtime, or nil before Init and after Destroy.
func (e *Engine) Runtime() runtime.Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rt
}

// NumOutputs returns the output count used for validation.
func (e *Engine) NumOutputs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rt != nil {
		return e.rt.NumOutputs()
	}
	return e.opts.NumOutputs
}

// CameraState reports the readiness of camera source idx.
func (e *Engine) CameraState(idx int) (camera.State, error) {
	e.mu.Lock()
	cams := e.cams
	e.mu.Unlock()
	if cams == nil {
		return camera.Idle, nil
	}
	return cams.State(idx)
}

// ResetCamera forgets the outcome of camera source idx so the next compile
// requests it again.
func (e *Engine) ResetCamera(idx int) {
	e.mu.Lock()
	cams := e.cams
	e.mu.Unlock()
	if cams != nil {
		cams.Reset(idx)
	}
}

// Generation returns the number of ExecuteGraph calls so far.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// ---------------------------------------------------------------------------
// Compilation
// ---------------------------------------------------------------------------

// ExecuteGraph validates the graph and compiles every output sink whose
// ancestry is free of structural errors. Runtime failures become
// RUNTIME_EXECUTION_ERROR issues scoped to the failing node and output; one
// failing sink never prevents the others from compiling.
func (e *Engine) ExecuteGraph(nodes []graph.Node, edges []graph.Edge) graph.ValidationResult {
	e.compileMu.Lock()
	defer e.compileMu.Unlock()

	start := time.Now()

	e.mu.Lock()
	e.generation++
	gen := e.generation
	rt, cams := e.rt, e.cams
	reg := e.reg
	untyped := reg == nil && e.opts.Registry == nil
	if reg == nil {
		reg = e.fallback
	}
	numOutputs := e.opts.NumOutputs
	if rt != nil {
		numOutputs = rt.NumOutputs()
	}
	e.mu.Unlock()

	structural := graph.Validate(nodes, edges, numOutputs, reg)
	if untyped {
		// Operation names cannot be checked without a runtime or a caller
		// registry; every live sink reports the missing runtime instead.
		structural = withoutKind(structural, nodes, edges, graph.IssueUnknownTransform)
	}

	b := &builder{
		rt:       rt,
		reg:      reg,
		cams:     cams,
		logger:   e.logger,
		nodes:    graph.IndexNodes(nodes),
		incoming: graph.IndexIncoming(edges),
	}
	blocked := errorScope(structural.Issues)

	var attached, skipped, failed int
	for _, sink := range graph.Sinks(nodes) {
		if len(b.incoming[sink.ID]) != 1 {
			skipped++
			continue
		}
		upNodes, upEdges := graph.Upstream(sink, b.nodes, b.incoming, reg)
		if blocked.touches(upNodes, upEdges) {
			skipped++
			continue
		}
		_, outIdx, _ := graph.OutputIndex(sink)
		if rt == nil {
			b.fail(sink.ID, outIdx, "%v", ErrNotInitialized)
			failed++
			continue
		}
		if b.compileSink(sink, outIdx) {
			attached++
		} else {
			failed++
		}
	}

	var result graph.ValidationResult
	if len(b.issues) == 0 {
		result = structural
	} else {
		merged := append(append([]graph.Issue{}, structural.Issues...), b.issues...)
		result = graph.Summarize(nodes, edges, merged, structural.ReachableNodes, structural.ReachableEdges)
	}

	e.observe(result, attached, skipped, failed, time.Since(start))
	e.logger.Debug("graph compiled",
		"generation", gen,
		"nodes", len(nodes),
		"edges", len(edges),
		"attached", attached,
		"blocked", skipped,
		"failed", failed,
		"issues", len(result.Issues),
		"elapsed", time.Since(start))
	return result
}

// withoutKind drops every issue of one kind and rebuilds the status view.
func withoutKind(r graph.ValidationResult, nodes []graph.Node, edges []graph.Edge, kind graph.IssueKind) graph.ValidationResult {
	kept := make([]graph.Issue, 0, len(r.Issues))
	for _, is := range r.Issues {
		if is.Kind != kind {
			kept = append(kept, is)
		}
	}
	if len(kept) == len(r.Issues) {
		return r
	}
	return graph.Summarize(nodes, edges, kept, r.ReachableNodes, r.ReachableEdges)
}

func (e *Engine) observe(r graph.ValidationResult, attached, skipped, failed int, elapsed time.Duration) {
	outcome := "ok"
	for _, is := range r.Issues {
		issuesTotal.WithLabelValues(string(is.Kind), is.Severity.String()).Inc()
		if is.Severity == graph.SeverityError {
			outcome = "error"
		} else if outcome == "ok" {
			outcome = "warning"
		}
	}
	compilesTotal.WithLabelValues(outcome).Inc()
	compileDuration.Observe(elapsed.Seconds())
	sinksTotal.WithLabelValues("attached").Add(float64(attached))
	sinksTotal.WithLabelValues("blocked").Add(float64(skipped))
	sinksTotal.WithLabelValues("failed").Add(float64(failed))
}

// scope is the set of nodes and edges carrying error-severity issues.
type scope struct {
	nodes map[graph.NodeID]bool
	edges map[graph.EdgeID]bool
}

func errorScope(issues []graph.Issue) scope {
	s := scope{nodes: make(map[graph.NodeID]bool), edges: make(map[graph.EdgeID]bool)}
	for _, is := range issues {
		if is.Severity != graph.SeverityError {
			continue
		}
		if is.NodeID != "" {
			s.nodes[is.NodeID] = true
		}
		if is.EdgeID != "" {
			s.edges[is.EdgeID] = true
		}
	}
	return s
}

func (s scope) touches(nodes map[graph.NodeID]bool, edges map[graph.EdgeID]bool) bool {
	for id := range nodes {
		if s.nodes[id] {
			return true
		}
	}
	for id := range edges {
		if s.edges[id] {
			return true
		}
	}
	return false
}
