package soft

import (
	"context"
	"math"
)

// Camera delivers frames from a capture device. Sample is called from the
// render goroutine with frame coordinates in [0,1].
type Camera interface {
	Sample(t, x, y float64) (r, g, b float64)
	Close() error
}

// CameraOpener opens the capture device behind a numbered source.
type CameraOpener func(ctx context.Context, index int) (Camera, error)

// TestPattern is the default opener: every source shows animated color
// bars, shifted by its index.
func TestPattern(ctx context.Context, index int) (Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &barsCamera{phase: float64(index) * 0.25}, nil
}

var bars = [...][3]float64{
	{1, 1, 1}, {1, 1, 0}, {0, 1, 1}, {0, 1, 0},
	{1, 0, 1}, {1, 0, 0}, {0, 0, 1}, {0, 0, 0},
}

type barsCamera struct {
	phase float64
}

func (c *barsCamera) Sample(t, x, _ float64) (r, g, b float64) {
	i := int(math.Floor(fract(x+c.phase+t*0.05) * float64(len(bars))))
	if i >= len(bars) {
		i = len(bars) - 1
	}
	bar := bars[i]
	return bar[0], bar[1], bar[2]
}

func (c *barsCamera) Close() error { return nil }
