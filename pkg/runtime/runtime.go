// Package runtime defines the capability surface of the external visual
// synthesis runtime. Implementations (the soft renderer, a GPU bridge)
// provide generators, chainable operators and numbered outputs behind
// these interfaces so the compiler never depends on a concrete backend.
package runtime

import "context"

// Names of runtime primitives the compiler calls directly.
const (
	FeedbackGenerator = "src"   // reads an output's previous frame or a source
	SolidGenerator    = "solid" // flat color, used to blank outputs
)

// Func is a callable operation. Generators return a fresh chain; methods
// obtained from a Chain return a new chain derived from the receiver.
type Func func(args ...any) (Chain, error)

// Chain is an opaque handle to a partially built pipeline.
// Methods never mutate the receiver, so a chain may feed several parents.
type Chain interface {
	// Method returns the named unary or binary operation bound to this chain.
	Method(name string) (Func, bool)
	// Out attaches the chain to a numbered output.
	Out(o Output) error
}

// Output is one of the runtime's numbered render targets.
type Output interface {
	Index() int
}

// Source is a numbered external input such as a camera.
type Source interface {
	Index() int
	// InitCam acquires the capture device. It blocks until the stream is
	// ready, the device is refused, or ctx ends.
	InitCam(ctx context.Context) error
}

// Input is one formal argument of a declared operation.
type Input struct {
	Name    string
	Type    string
	Default any
}

// Declaration describes one operation as the runtime publishes it.
// Type is one of "src", "coord", "color", "combine", "combineCoord".
// Combine kinds list the other chain as their first input.
type Declaration struct {
	Name   string
	Type   string
	Inputs []Input
}

// Runtime is the abstract visual synthesis engine.
type Runtime interface {
	Declarations() []Declaration
	Generator(name string) (Func, bool)

	NumOutputs() int
	Output(index int) (Output, bool)
	Source(index int) (Source, bool)

	// Frame loop
	Start()
	Stop()
	SetResolution(width, height int)

	Close() error
}

// Surface is the drawing surface a runtime binds to.
type Surface interface {
	Size() (width, height int)
}

// ResizeNotifier is implemented by surfaces that report size changes.
// The returned func unregisters the handler.
type ResizeNotifier interface {
	OnResize(fn func(width, height int)) (cancel func())
}

// Opener creates a runtime bound to a surface.
type Opener func(ctx context.Context, s Surface) (Runtime, error)
