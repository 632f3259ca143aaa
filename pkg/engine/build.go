package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chazu/flicker/pkg/camera"
	"github.com/chazu/flicker/pkg/graph"
	"github.com/chazu/flicker/pkg/runtime"
	"github.com/chazu/flicker/pkg/transform"
)

// builder walks one graph against a live runtime and collects the runtime
// issues it meets. It mirrors the validator's traversal: same slots, same
// feedback handling, but calling operations instead of checking them.
type builder struct {
	rt       runtime.Runtime
	reg      *transform.Registry
	cams     *camera.Manager
	logger   *slog.Logger
	nodes    map[graph.NodeID]graph.Node
	incoming map[graph.NodeID][]graph.Edge

	issues []graph.Issue
}

// built is a memo entry. A nil chain records a node that already failed.
type built struct {
	chain runtime.Chain
}

// compileSink builds the chain feeding sink and attaches it to output
// outIdx. The memo is per sink: feedback resolves to the output being
// built, so a shared ancestor may compile differently for each sink.
func (b *builder) compileSink(sink graph.Node, outIdx int) bool {
	out, ok := b.rt.Output(outIdx)
	if !ok {
		b.fail(sink.ID, outIdx, "runtime has no output %d", outIdx)
		return false
	}

	memo := make(map[graph.NodeID]built)
	c, ok := b.input(b.incoming[sink.ID][0], outIdx, memo)
	if !ok {
		return false
	}

	err := b.protect(sink.ID, outIdx, "out", func() error { return c.Out(out) })
	return err == nil
}

// input returns the chain arriving through e.
func (b *builder) input(e graph.Edge, outIdx int, memo map[graph.NodeID]built) (runtime.Chain, bool) {
	if e.Feedback {
		return b.feedback(e, outIdx)
	}
	n, ok := b.nodes[e.Source]
	if !ok {
		b.fail(e.Target, outIdx, "edge %s references missing node %s", e.ID, e.Source)
		return nil, false
	}
	return b.node(n, outIdx, memo)
}

// feedback reads the previous frame of the output being compiled, whatever
// the edge's nominal source is.
func (b *builder) feedback(e graph.Edge, outIdx int) (runtime.Chain, bool) {
	gen, ok := b.rt.Generator(runtime.FeedbackGenerator)
	if !ok {
		b.fail(e.Target, outIdx, "runtime has no %q generator for feedback", runtime.FeedbackGenerator)
		return nil, false
	}
	out, ok := b.rt.Output(outIdx)
	if !ok {
		b.fail(e.Target, outIdx, "runtime has no output %d", outIdx)
		return nil, false
	}
	return b.call(e.Target, outIdx, runtime.FeedbackGenerator, gen, out)
}

func (b *builder) node(n graph.Node, outIdx int, memo map[graph.NodeID]built) (runtime.Chain, bool) {
	if m, ok := memo[n.ID]; ok {
		return m.chain, m.chain != nil
	}
	c, ok := b.buildNode(n, outIdx, memo)
	memo[n.ID] = built{chain: c}
	return c, ok
}

func (b *builder) buildNode(n graph.Node, outIdx int, memo map[graph.NodeID]built) (runtime.Chain, bool) {
	inputs := b.incoming[n.ID]

	// An output sink used as an intermediate passes its input through.
	if n.IsOutput() {
		if len(inputs) != 1 {
			b.fail(n.ID, outIdx, "output node %s used as input has %d inputs", n.ID, len(inputs))
			return nil, false
		}
		return b.input(inputs[0], outIdx, memo)
	}

	if n.Type == graph.CameraType {
		return b.camera(n, outIdx)
	}

	spec, ok := b.reg.Lookup(n.Type)
	if !ok {
		b.fail(n.ID, outIdx, "unknown transform %q", n.Type)
		return nil, false
	}
	params := paramValues(n, spec)

	slots := graph.ResolveSlots(inputs, spec.Arity())
	if len(slots) < spec.Arity() {
		b.fail(n.ID, outIdx, "%s needs %d input(s), found %d", n.Type, spec.Arity(), len(slots))
		return nil, false
	}

	switch spec.Arity() {
	case 0:
		gen, ok := b.rt.Generator(n.Type)
		if !ok {
			b.fail(n.ID, outIdx, "runtime has no generator %q", n.Type)
			return nil, false
		}
		return b.call(n.ID, outIdx, n.Type, gen, params...)

	case 1:
		recv, ok := b.input(slots[0], outIdx, memo)
		if !ok {
			return nil, false
		}
		method, ok := recv.Method(n.Type)
		if !ok {
			b.fail(n.ID, outIdx, "runtime chain has no method %q", n.Type)
			return nil, false
		}
		return b.call(n.ID, outIdx, n.Type, method, params...)

	default:
		recv, ok := b.input(slots[0], outIdx, memo)
		if !ok {
			return nil, false
		}
		other, ok := b.input(slots[1], outIdx, memo)
		if !ok {
			return nil, false
		}
		method, ok := recv.Method(n.Type)
		if !ok {
			b.fail(n.ID, outIdx, "runtime chain has no method %q", n.Type)
			return nil, false
		}
		// The other chain goes first, then only the user parameters.
		args := append([]any{other}, params...)
		return b.call(n.ID, outIdx, n.Type, method, args...)
	}
}

// camera builds src(source) for a camera node, starting the device on
// first use. A device still starting yields a warning and a chain that
// shows nothing until frames arrive; a failed device yields its cached
// error on every compile until reset.
func (b *builder) camera(n graph.Node, outIdx int) (runtime.Chain, bool) {
	idx := 0
	if raw, ok := n.Data["index"]; ok && raw != nil {
		f, ok := toFloat(raw)
		if !ok || f != float64(int(f)) {
			b.fail(n.ID, outIdx, "camera index %v is not an integer", raw)
			return nil, false
		}
		idx = int(f)
	}

	src, ok := b.rt.Source(idx)
	if !ok {
		b.fail(n.ID, outIdx, "runtime has no camera source %d", idx)
		return nil, false
	}

	switch b.cams.Request(src) {
	case camera.Failed:
		_, err := b.cams.State(idx)
		b.fail(n.ID, outIdx, "camera source %d failed: %v", idx, err)
		return nil, false
	case camera.Requesting:
		b.warn(n.ID, outIdx, "camera source %d is starting", idx)
	}

	gen, ok := b.rt.Generator(runtime.FeedbackGenerator)
	if !ok {
		b.fail(n.ID, outIdx, "runtime has no %q generator for camera input", runtime.FeedbackGenerator)
		return nil, false
	}
	return b.call(n.ID, outIdx, runtime.FeedbackGenerator, gen, src)
}

// call invokes fn, turning returned errors and panics into issues.
func (b *builder) call(id graph.NodeID, outIdx int, name string, fn runtime.Func, args ...any) (runtime.Chain, bool) {
	var c runtime.Chain
	err := b.protect(id, outIdx, name, func() error {
		var err error
		c, err = fn(args...)
		if err == nil && c == nil {
			err = fmt.Errorf("returned no chain")
		}
		return err
	})
	return c, err == nil
}

// protect runs fn and records a runtime issue if it fails or panics.
func (b *builder) protect(id graph.NodeID, outIdx int, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			b.fail(id, outIdx, "%s: %v", name, err)
		}
	}()
	if err = fn(); err != nil {
		b.fail(id, outIdx, "%s: %v", name, err)
	}
	return err
}

func (b *builder) fail(id graph.NodeID, outIdx int, format string, args ...any) {
	b.report(graph.SeverityError, id, outIdx, format, args...)
}

func (b *builder) warn(id graph.NodeID, outIdx int, format string, args ...any) {
	b.report(graph.SeverityWarning, id, outIdx, format, args...)
}

func (b *builder) report(sev graph.Severity, id graph.NodeID, outIdx int, format string, args ...any) {
	idx := outIdx
	msg := fmt.Sprintf("Output %d: %s", outIdx, fmt.Sprintf(format, args...))
	b.issues = append(b.issues, graph.NewIssue(graph.IssueRuntimeExecutionError, sev, id, "", &idx, msg))
	if sev == graph.SeverityError {
		b.logger.Warn("runtime execution error", "node", id, "output", outIdx, "message", msg)
	}
}

// paramValues returns the node's user parameters in declared order,
// falling back to defaults for absent keys. Integers are passed as
// float64.
func paramValues(n graph.Node, spec transform.Spec) []any {
	vals := make([]any, len(spec.Params))
	for i, p := range spec.Params {
		v, ok := n.Data[p.Name]
		if !ok || v == nil {
			vals[i] = p.Default
			continue
		}
		if f, ok := toFloat(v); ok {
			vals[i] = f
			continue
		}
		vals[i] = v
	}
	return vals
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
