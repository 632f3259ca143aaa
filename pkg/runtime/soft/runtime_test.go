package soft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chazu/flicker/pkg/runtime"
	"github.com/chazu/flicker/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := New(Options{Width: 8, Height: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func gen(t *testing.T, r *Runtime, name string, a ...any) runtime.Chain {
	t.Helper()
	fn, ok := r.Generator(name)
	require.True(t, ok, "generator %s", name)
	c, err := fn(a...)
	require.NoError(t, err)
	return c
}

func call(t *testing.T, c runtime.Chain, name string, a ...any) runtime.Chain {
	t.Helper()
	fn, ok := c.Method(name)
	require.True(t, ok, "method %s", name)
	out, err := fn(a...)
	require.NoError(t, err)
	return out
}

func attach(t *testing.T, r *Runtime, c runtime.Chain, idx int) {
	t.Helper()
	o, ok := r.Output(idx)
	require.True(t, ok)
	require.NoError(t, c.Out(o))
}

func pixel(t *testing.T, r *Runtime, idx, x, y int) rgba {
	t.Helper()
	img, ok := r.Frame(idx)
	require.True(t, ok)
	return fromRGBA(img.RGBAAt(x, y))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	r, err := New(Options{Width: 4, Height: 2})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 4, r.NumOutputs())
	w, h := r.Resolution()
	assert.Equal(t, [2]int{4, 2}, [2]int{w, h})
}

func TestOpen_UsesSurfaceSize(t *testing.T) {
	open := Open(Options{Outputs: 2})
	rt, err := open(context.Background(), runtime.NewFixedSurface(16, 9))
	require.NoError(t, err)
	defer rt.Close()

	r := rt.(*Runtime)
	w, h := r.Resolution()
	assert.Equal(t, 16, w)
	assert.Equal(t, 9, h)
	assert.Equal(t, 2, r.NumOutputs())
}

func TestDeclarations_BuildRegistry(t *testing.T) {
	r := newTestRuntime(t)
	reg, err := transform.New(r.Declarations())
	require.NoError(t, err)

	tests := []struct {
		name   string
		kind   transform.Kind
		params []string
	}{
		{"osc", transform.KindSource, []string{"frequency", "sync", "offset"}},
		{"rotate", transform.KindCoord, []string{"angle", "speed"}},
		{"invert", transform.KindColor, []string{"amount"}},
		{"blend", transform.KindCombine, []string{"amount"}},
		{"diff", transform.KindCombine, []string{}},
		{"modulate", transform.KindCombineCoord, []string{"amount"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := reg.KindOf(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.params, reg.OrderedParamNames(tt.name))
		})
	}

	_, ok := reg.Lookup(runtime.FeedbackGenerator)
	assert.False(t, ok, "src is a primitive, not a user operation")
}

func TestGenerator_Unknown(t *testing.T) {
	r := newTestRuntime(t)
	_, ok := r.Generator("rotate")
	assert.False(t, ok, "methods are not generators")
	_, ok = r.Generator("nope")
	assert.False(t, ok)
}

func TestSolidRender(t *testing.T) {
	r := newTestRuntime(t)
	attach(t, r, gen(t, r, "solid", 1.0, 0.0, 0.0, 1.0), 0)
	require.True(t, r.Attached(0))
	require.False(t, r.Attached(1))

	require.NoError(t, r.Render(0))
	assert.Equal(t, rgba{R: 1, A: 1}, pixel(t, r, 0, 3, 3))
	assert.Equal(t, uint64(1), r.Frames())
}

func TestDefaultsFillMissingArgs(t *testing.T) {
	r := newTestRuntime(t)
	// solid(0,0,1) with default alpha 1
	attach(t, r, gen(t, r, "solid", 0, 0, 1), 0)
	require.NoError(t, r.Render(0))
	assert.Equal(t, rgba{B: 1, A: 1}, pixel(t, r, 0, 0, 0))
}

func TestBindErrors(t *testing.T) {
	r := newTestRuntime(t)
	fn, _ := r.Generator("solid")

	_, err := fn("red")
	assert.ErrorContains(t, err, "param r")

	_, err = fn(1, 2, 3, 4, 5)
	assert.ErrorContains(t, err, "at most 4")
}

func TestOperationErrors(t *testing.T) {
	r := newTestRuntime(t)
	base := gen(t, r, "osc")

	fn, ok := base.Method("scale")
	require.True(t, ok)
	_, err := fn(0.0)
	assert.ErrorContains(t, err, "non-zero")

	fn, _ = r.Generator("osc")
	_, err = fn(0.0)
	assert.Error(t, err)
}

func TestColorChain(t *testing.T) {
	r := newTestRuntime(t)
	c := call(t, gen(t, r, "solid", 0.25, 0.5, 1.0, 1.0), "invert")
	attach(t, r, c, 0)
	require.NoError(t, r.Render(0))

	got := pixel(t, r, 0, 0, 0)
	assert.InDelta(t, 0.75, got.R, 0.01)
	assert.InDelta(t, 0.5, got.G, 0.01)
	assert.InDelta(t, 0.0, got.B, 0.01)
}

func TestBinaryTakesChainFirst(t *testing.T) {
	r := newTestRuntime(t)
	red := gen(t, r, "solid", 1, 0, 0, 1)
	blue := gen(t, r, "solid", 0, 0, 1, 1)

	attach(t, r, call(t, red, "blend", blue, 0.5), 0)
	require.NoError(t, r.Render(0))
	got := pixel(t, r, 0, 0, 0)
	assert.InDelta(t, 0.5, got.R, 0.01)
	assert.InDelta(t, 0.5, got.B, 0.01)

	fn, _ := red.Method("blend")
	_, err := fn(0.5)
	assert.ErrorContains(t, err, "texture must be a chain")
}

func TestChainsAreImmutable(t *testing.T) {
	r := newTestRuntime(t)
	base := gen(t, r, "solid", 0.2, 0.2, 0.2, 1)
	_ = call(t, base, "invert")

	attach(t, r, base, 0)
	require.NoError(t, r.Render(0))
	assert.InDelta(t, 0.2, pixel(t, r, 0, 0, 0).R, 0.01)
}

func TestFeedbackReadsPreviousFrame(t *testing.T) {
	r := newTestRuntime(t)

	attach(t, r, gen(t, r, "solid", 1, 1, 1, 1), 0)
	require.NoError(t, r.Render(0))

	o0, _ := r.Output(0)
	prev := gen(t, r, runtime.FeedbackGenerator, o0)
	attach(t, r, call(t, prev, "brightness", -0.25), 0)

	require.NoError(t, r.Render(1))
	assert.InDelta(t, 0.75, pixel(t, r, 0, 4, 4).R, 0.01)
	require.NoError(t, r.Render(2))
	assert.InDelta(t, 0.5, pixel(t, r, 0, 4, 4).R, 0.01)
}

func TestSrcRejectsForeignHandles(t *testing.T) {
	r := newTestRuntime(t)
	other := newTestRuntime(t)
	o, _ := other.Output(0)

	fn, _ := r.Generator(runtime.FeedbackGenerator)
	_, err := fn(o)
	assert.Error(t, err)
	_, err = fn(42)
	assert.ErrorContains(t, err, "expected an output or source")

	c := gen(t, r, "osc")
	assert.Error(t, c.Out(o))
}

func TestShapeIsCentered(t *testing.T) {
	r, err := New(Options{Width: 32, Height: 32})
	require.NoError(t, err)
	defer r.Close()

	attach(t, r, gen(t, r, "shape", 4, 0.5, 0), 0)
	require.NoError(t, r.Render(0))
	assert.Equal(t, 1.0, pixel(t, r, 0, 16, 16).R, "center is inside")
	assert.Equal(t, 0.0, pixel(t, r, 0, 0, 0).R, "corner is outside")

	attach(t, r, gen(t, r, "shape", 100, 0.5, 0), 1)
	require.NoError(t, r.Render(0))
	assert.Equal(t, 1.0, pixel(t, r, 1, 16, 16).R)
	assert.Equal(t, 0.0, pixel(t, r, 1, 1, 1).R)
}

func TestRotateAboutCenter(t *testing.T) {
	r, err := New(Options{Width: 16, Height: 16})
	require.NoError(t, err)
	defer r.Close()

	// A horizontal gradient rotated by pi becomes its mirror image.
	c := call(t, gen(t, r, "gradient"), "rotate", 3.141592653589793)
	attach(t, r, c, 0)
	require.NoError(t, r.Render(0))
	left := pixel(t, r, 0, 0, 8).R
	right := pixel(t, r, 0, 15, 8).R
	assert.Greater(t, left, right)
}

// opened reports whether the source holds an open camera.
func opened(s runtime.Source) bool {
	return s.(*source).camera() != nil
}

func TestCameraSource(t *testing.T) {
	calls := 0
	r, err := New(Options{Width: 4, Height: 4, Camera: func(ctx context.Context, idx int) (Camera, error) {
		calls++
		if idx == 1 {
			return nil, errors.New("permission denied")
		}
		return TestPattern(ctx, idx)
	}})
	require.NoError(t, err)
	defer r.Close()

	s0, ok := r.Source(0)
	require.True(t, ok)
	assert.False(t, opened(s0))
	require.NoError(t, s0.InitCam(context.Background()))
	require.NoError(t, s0.InitCam(context.Background()))
	assert.True(t, opened(s0))
	assert.Equal(t, 1, calls)

	s1, _ := r.Source(1)
	assert.ErrorContains(t, s1.InitCam(context.Background()), "permission denied")
	assert.False(t, opened(s1))

	attach(t, r, gen(t, r, runtime.FeedbackGenerator, s0), 0)
	require.NoError(t, r.Render(0))
	assert.Equal(t, 1.0, pixel(t, r, 0, 0, 0).A)

	_, ok = r.Source(99)
	assert.False(t, ok)
}

func TestSetResolution(t *testing.T) {
	r := newTestRuntime(t)
	r.SetResolution(3, 5)
	w, h := r.Resolution()
	assert.Equal(t, 3, w)
	assert.Equal(t, 5, h)

	r.SetResolution(0, 10)
	w, _ = r.Resolution()
	assert.Equal(t, 3, w, "invalid sizes are ignored")

	img, ok := r.Frame(0)
	require.True(t, ok)
	assert.Equal(t, 3, img.Bounds().Dx())
}

func TestFrameLoop(t *testing.T) {
	r, err := New(Options{Width: 2, Height: 2, FPS: 200})
	require.NoError(t, err)
	defer r.Close()

	r.Start()
	r.Start()
	assert.True(t, r.Running())
	assert.Eventually(t, func() bool { return r.Frames() >= 2 }, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	assert.False(t, r.Running())
	n := r.Frames()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, r.Frames())
}

func TestClose(t *testing.T) {
	r, err := New(Options{Width: 2, Height: 2})
	require.NoError(t, err)
	s, _ := r.Source(0)
	require.NoError(t, s.InitCam(context.Background()))

	c := gen(t, r, "osc")
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.False(t, opened(s))
	assert.Error(t, r.Render(0))
	o, _ := r.Output(0)
	assert.Error(t, c.Out(o))
}

// blockingOpener returns an opener that signals entered and then waits for
// release before handing out a test pattern.
func blockingOpener(entered, release chan struct{}) CameraOpener {
	return func(ctx context.Context, idx int) (Camera, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return TestPattern(ctx, idx)
	}
}

func TestCameraSource_SlowOpenKeepsRendering(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	r, err := New(Options{Width: 2, Height: 2, FPS: 200, Camera: blockingOpener(entered, release)})
	require.NoError(t, err)
	defer r.Close()

	r.Start()
	s, _ := r.Source(0)
	opening := make(chan error, 1)
	go func() { opening <- s.InitCam(context.Background()) }()
	<-entered

	n := r.Frames()
	assert.Eventually(t, func() bool { return r.Frames() >= n+2 }, 2*time.Second, 5*time.Millisecond)

	attached := make(chan error, 1)
	go func() {
		fn, _ := r.Generator("osc")
		c, err := fn()
		if err != nil {
			attached <- err
			return
		}
		o, _ := r.Output(1)
		attached <- c.Out(o)
	}()
	select {
	case err := <-attached:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("attaching an output blocked on the opening camera")
	}
	assert.True(t, r.Attached(1))
	assert.False(t, opened(s))

	close(release)
	require.NoError(t, <-opening)
	assert.True(t, opened(s))
}

func TestCameraSource_ClosedWhileOpening(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	r, err := New(Options{Width: 2, Height: 2, Camera: blockingOpener(entered, release)})
	require.NoError(t, err)

	s, _ := r.Source(0)
	opening := make(chan error, 1)
	go func() { opening <- s.InitCam(context.Background()) }()
	<-entered

	require.NoError(t, r.Close())
	close(release)
	assert.ErrorIs(t, <-opening, errClosed)
	assert.False(t, opened(s))
}
