package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chazu/flicker/pkg/engine"
	"github.com/chazu/flicker/pkg/graph"
	"github.com/chazu/flicker/pkg/logging"
	"github.com/chazu/flicker/pkg/patch"
	"github.com/chazu/flicker/pkg/transform"
)

// App is the editor-facing binding. Every method takes and returns values
// that serialize directly to JSON for the front end.
type App struct {
	ctx    context.Context
	engine *engine.Engine
	lisp   *patch.Evaluator
	logger *slog.Logger
}

// EvalErrorData is a JSON-serializable load or evaluation error.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// EvalResult is the full result returned to the editor. The validation
// fields are empty when the patch could not be loaded at all.
type EvalResult struct {
	graph.ValidationResult
	Errors     []EvalErrorData `json:"errors"`
	Patch      *patch.Patch    `json:"patch,omitempty"`
	Generation uint64          `json:"generation"`
}

// ParamData is one parameter in the editor's operation palette.
type ParamData struct {
	Name    string `json:"name"`
	Default any    `json:"default"`
}

// OperationData is one palette entry.
type OperationData struct {
	Name   string      `json:"name"`
	Kind   string      `json:"kind"`
	Inputs int         `json:"inputs"`
	Params []ParamData `json:"params"`
}

// NewApp binds an App to an engine. The engine may not be initialized
// yet; graphs are still validated against its registry.
func NewApp(e *engine.Engine, logger *slog.Logger) *App {
	return &App{
		ctx:    context.Background(),
		engine: e,
		lisp:   patch.NewEvaluator(),
		logger: logging.OrDefault(logger),
	}
}

// startup records the context the host runs the app under.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// SetEvalTimeout bounds each Lisp evaluation.
func (a *App) SetEvalTimeout(d time.Duration) {
	a.lisp.Timeout = d
}

// ExecuteGraph compiles a patch sent by the editor as a JSON document of
// nodes and edges.
func (a *App) ExecuteGraph(doc string) EvalResult {
	p, err := patch.Parse(a.ctx, patch.FormatJSON, "editor", []byte(doc), a.engine.Registry())
	if err != nil {
		return a.failed(err)
	}
	return a.execute(p)
}

// Evaluate runs Lisp source and compiles the patch it builds. A request
// superseded by a newer one reports that as its only error.
func (a *App) Evaluate(source string) EvalResult {
	p, err := a.lisp.Evaluate(a.ctx, source, a.engine.Registry())
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		return a.failed(err)
	}
	return a.execute(p)
}

// LoadFile reads a patch from disk in whichever format its extension names
// and compiles it.
func (a *App) LoadFile(path string) EvalResult {
	p, err := patch.Load(a.ctx, path, a.engine.Registry())
	if err != nil {
		return a.failed(err)
	}
	return a.execute(p)
}

// Operations lists the operations the editor may place, in name order.
func (a *App) Operations() []OperationData {
	return operations(a.engine.Registry())
}

func operations(reg *transform.Registry) []OperationData {
	names := reg.Names()
	ops := make([]OperationData, 0, len(names))
	for _, name := range names {
		spec, _ := reg.Lookup(name)
		op := OperationData{
			Name:   name,
			Kind:   spec.Kind.String(),
			Inputs: spec.Arity(),
			Params: make([]ParamData, len(spec.Params)),
		}
		for i, p := range spec.Params {
			op.Params[i] = ParamData{Name: p.Name, Default: p.Default}
		}
		ops = append(ops, op)
	}
	return ops
}

func (a *App) execute(p *patch.Patch) EvalResult {
	res := a.engine.ExecuteGraph(p.Nodes, p.Edges)
	return EvalResult{
		ValidationResult: res,
		Errors:           []EvalErrorData{},
		Patch:            p,
		Generation:       a.engine.Generation(),
	}
}

// failed converts a load error into the editor format. Lisp errors keep
// their line and column.
func (a *App) failed(err error) EvalResult {
	a.logger.Warn("patch not loaded", "error", err)

	result := EvalResult{
		Errors:     []EvalErrorData{},
		Generation: a.engine.Generation(),
	}
	var evalErrs patch.EvalErrors
	if errors.As(err, &evalErrs) {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return result
	}
	result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
	return result
}
