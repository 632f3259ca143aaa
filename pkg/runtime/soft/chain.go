package soft

import (
	"context"
	"fmt"
	"sync"

	"github.com/chazu/flicker/pkg/runtime"
	v2 "github.com/deadsy/sdfx/vec/v2"
)

// Compile-time interface checks.
var (
	_ runtime.Chain  = (*chain)(nil)
	_ runtime.Output = (*output)(nil)
	_ runtime.Source = (*source)(nil)
)

// chain is an immutable sampler. Methods return new chains, so one chain
// may feed any number of parents.
type chain struct {
	rt     *Runtime
	sample sampler
}

// Method returns the non-source operation name applied to this chain.
func (c *chain) Method(name string) (runtime.Func, bool) {
	d, ok := opIndex[name]
	if !ok || d.kind == kindSource {
		return nil, false
	}
	return func(a ...any) (runtime.Chain, error) {
		return c.apply(d, a)
	}, true
}

func (c *chain) apply(d *opDef, raw []any) (runtime.Chain, error) {
	inner := c.sample

	var tex sampler
	if d.binary() {
		if len(raw) == 0 {
			return nil, fmt.Errorf("%s: missing texture argument", d.name)
		}
		other, ok := raw[0].(*chain)
		if !ok {
			return nil, fmt.Errorf("%s: texture must be a chain, got %T", d.name, raw[0])
		}
		if other.rt != c.rt {
			return nil, fmt.Errorf("%s: texture belongs to another runtime", d.name)
		}
		tex = other.sample
		raw = raw[1:]
	}

	a, err := d.bind(raw)
	if err != nil {
		return nil, err
	}

	switch d.kind {
	case kindCoord:
		warp, err := d.coord(a)
		if err != nil {
			return nil, err
		}
		return c.rt.newChain(func(f *frame, p v2.Vec) rgba {
			return inner(f, warp(f, p))
		}), nil

	case kindColor:
		tint, err := d.color(a)
		if err != nil {
			return nil, err
		}
		return c.rt.newChain(func(f *frame, p v2.Vec) rgba {
			return tint(f, inner(f, p))
		}), nil

	case kindCombine:
		mix, err := d.mix(a)
		if err != nil {
			return nil, err
		}
		return c.rt.newChain(func(f *frame, p v2.Vec) rgba {
			return mix(f, inner(f, p), tex(f, p))
		}), nil

	case kindCombineCoord:
		displace, err := d.displace(a)
		if err != nil {
			return nil, err
		}
		return c.rt.newChain(func(f *frame, p v2.Vec) rgba {
			return inner(f, displace(f, p, tex(f, p)))
		}), nil
	}
	return nil, fmt.Errorf("%s: unsupported kind %q", d.name, d.kind)
}

// Out routes the chain to a numbered output from the next rendered frame on.
func (c *chain) Out(o runtime.Output) error {
	out, ok := o.(*output)
	if !ok || out.rt != c.rt {
		return fmt.Errorf("out: output does not belong to this runtime")
	}
	return c.rt.attach(out.index, c.sample)
}

// output is a numbered render target.
type output struct {
	rt    *Runtime
	index int
}

func (o *output) Index() int { return o.index }

// source is a numbered capture input.
type source struct {
	rt    *Runtime
	index int

	mu     sync.Mutex
	cam    Camera
	closed bool
}

func (s *source) Index() int { return s.index }

// InitCam opens the capture device. Calling it again after success is a
// no-op. The opener runs without the lock held; when two calls race, the
// loser's camera is closed.
func (s *source) InitCam(ctx context.Context) error {
	if s.camera() != nil {
		return nil
	}
	cam, err := s.rt.opts.Camera(ctx, s.index)
	if err != nil {
		return fmt.Errorf("source %d: %w", s.index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		_ = cam.Close()
		return fmt.Errorf("source %d: %w", s.index, errClosed)
	case s.cam != nil:
		_ = cam.Close()
	default:
		s.cam = cam
	}
	return nil
}

func (s *source) camera() Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cam
}

func (s *source) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cam == nil {
		return nil
	}
	err := s.cam.Close()
	s.cam = nil
	return err
}
