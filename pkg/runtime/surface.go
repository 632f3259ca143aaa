package runtime

import "sync"

// FixedSurface is an in-memory surface with a settable size, used by
// headless callers and tests.
type FixedSurface struct {
	mu       sync.Mutex
	width    int
	height   int
	handlers map[int]func(width, height int)
	next     int
}

// NewFixedSurface returns a surface of the given size.
func NewFixedSurface(width, height int) *FixedSurface {
	return &FixedSurface{width: width, height: height, handlers: make(map[int]func(int, int))}
}

// Size returns the current size.
func (s *FixedSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// OnResize registers fn to be called after every Resize.
func (s *FixedSurface) OnResize(fn func(width, height int)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Resize changes the size and notifies registered handlers.
func (s *FixedSurface) Resize(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	fns := make([]func(int, int), 0, len(s.handlers))
	for _, fn := range s.handlers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(width, height)
	}
}

// Handlers returns the number of registered resize handlers.
func (s *FixedSurface) Handlers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}
