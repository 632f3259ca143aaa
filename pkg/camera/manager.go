package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chazu/flicker/pkg/logging"
)

// Policy bounds how hard the manager tries to open a device.
type Policy struct {
	Attempts int           `yaml:"attempts" validate:"min=1,max=10"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
	Backoff  time.Duration `yaml:"backoff" validate:"min=0"`
}

// DefaultPolicy tries three times, ten seconds each, half a second apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Timeout: 10 * time.Second, Backoff: 500 * time.Millisecond}
}

// Device is a capture source that can be opened. runtime.Source satisfies
// it.
type Device interface {
	Index() int
	InitCam(ctx context.Context) error
}

// Change describes one state transition of a source.
type Change struct {
	Source int
	From   State
	To     State
	Err    error // set when To is Failed
}

type tracker struct {
	state State
	err   error
	gen   uint64 // bumps on Reset so stale attempts are discarded
}

// Manager runs device requests asynchronously and remembers their outcome.
// Callers poll State on their next compile; OnChange lets them schedule
// one.
type Manager struct {
	policy   Policy
	onChange func(Change)
	logger   *slog.Logger

	mu       sync.Mutex
	trackers map[int]*tracker
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager returns a manager. onChange may be nil; it is called from the
// goroutine that made the transition, never with the manager lock held.
func NewManager(policy Policy, onChange func(Change), logger *slog.Logger) *Manager {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		policy:   policy,
		onChange: onChange,
		logger:   logging.OrDefault(logger),
		trackers: make(map[int]*tracker),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ErrClosed is the cached error of every source once the manager is
// closed.
var ErrClosed = errors.New("camera: manager closed")

// State returns the state of source idx and, when Failed, the cached error.
// After Close every source reports Failed with ErrClosed.
func (m *Manager) State(idx int) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return Failed, ErrClosed
	}
	t, ok := m.trackers[idx]
	if !ok {
		return Idle, nil
	}
	return t.state, t.err
}

// Request starts opening dev unless an attempt already ran or is running.
// It returns the state after the call.
func (m *Manager) Request(dev Device) State {
	idx := dev.Index()

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return Failed
	}
	t, ok := m.trackers[idx]
	if !ok {
		t = &tracker{}
		m.trackers[idx] = t
	}
	if t.state != Idle {
		s := t.state
		m.mu.Unlock()
		return s
	}
	t.state, _ = Transition(Idle, Request)
	gen := t.gen
	m.wg.Add(1)
	m.mu.Unlock()

	m.notify(Change{Source: idx, From: Idle, To: Requesting})
	go m.run(dev, gen)
	return Requesting
}

func (m *Manager) run(dev Device, gen uint64) {
	defer m.wg.Done()

	var err error
	for attempt := 1; attempt <= m.policy.Attempts; attempt++ {
		err = m.attempt(dev)
		if err == nil {
			m.finish(dev.Index(), gen, Granted, nil)
			return
		}
		if m.ctx.Err() != nil {
			return
		}
		m.logger.Debug("camera attempt failed",
			"source", dev.Index(), "attempt", attempt, "error", err)

		if attempt < m.policy.Attempts && m.policy.Backoff > 0 {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.policy.Backoff):
			}
		}
	}
	m.finish(dev.Index(), gen, Denied,
		fmt.Errorf("camera source %d unavailable after %d attempt(s): %w", dev.Index(), m.policy.Attempts, err))
}

func (m *Manager) attempt(dev Device) error {
	ctx := m.ctx
	if m.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.Timeout)
		defer cancel()
	}

	err := dev.InitCam(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", m.policy.Timeout, err)
	}
	return err
}

func (m *Manager) finish(idx int, gen uint64, e Event, err error) {
	m.mu.Lock()
	t, ok := m.trackers[idx]
	if !ok || t.gen != gen || t.state != Requesting {
		m.mu.Unlock()
		return
	}
	next, terr := Transition(t.state, e)
	if terr != nil {
		m.mu.Unlock()
		m.logger.Error("camera state machine", "source", idx, "error", terr)
		return
	}
	t.state, t.err = next, err
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("camera unavailable", "source", idx, "error", err)
	} else {
		m.logger.Debug("camera ready", "source", idx)
	}
	m.notify(Change{Source: idx, From: Requesting, To: next, Err: err})
}

// Reset returns source idx to Idle so the next Request tries again.
// An attempt still in flight is discarded.
func (m *Manager) Reset(idx int) {
	m.mu.Lock()
	t, ok := m.trackers[idx]
	if !ok || t.state == Idle {
		m.mu.Unlock()
		return
	}
	from := t.state
	t.state, _ = Transition(from, Reset)
	t.err = nil
	t.gen++
	m.mu.Unlock()

	m.notify(Change{Source: idx, From: from, To: Idle})
}

// ResetAll resets every known source.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.trackers))
	for id := range m.trackers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Reset(id)
	}
}

// Close cancels attempts in flight and waits for them to return. Later
// requests report Failed and State reports ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) notify(c Change) {
	if m.onChange != nil {
		m.onChange(c)
	}
}
