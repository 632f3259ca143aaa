package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var _ ResizeNotifier = (*FixedSurface)(nil)

func TestFixedSurface(t *testing.T) {
	s := NewFixedSurface(640, 480)
	w, h := s.Size()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	var got [2]int
	cancel := s.OnResize(func(w, h int) { got = [2]int{w, h} })
	assert.Equal(t, 1, s.Handlers())

	s.Resize(800, 600)
	assert.Equal(t, [2]int{800, 600}, got)

	cancel()
	assert.Equal(t, 0, s.Handlers())
	s.Resize(1, 1)
	assert.Equal(t, [2]int{800, 600}, got, "cancelled handler must not fire")
}
