package touch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ballAt returns a 20x20 ball centred on (x, y).
func ballAt(x, y, conf float64) Detection {
	return det("sports ball", conf, x-10, y-10, x+10, y+10)
}

func frame(dets ...Detection) []Detection {
	return dets
}

func TestTracker_FirstAcquisitionIsFree(t *testing.T) {
	tr := NewTracker(10, CarryForward)
	assert.Equal(t, Idle, tr.State())

	step := tr.Update(frame(ballAt(100, 100, 0.9)))
	assert.False(t, step.Counted)
	assert.Equal(t, 0, step.Touches)
	assert.Equal(t, Tracking, tr.State())
	c, ok := tr.LastCentroid()
	assert.True(t, ok)
	assert.Equal(t, Centroid{X: 100, Y: 100}, c)
}

func TestTracker_ThresholdBoundary(t *testing.T) {
	t.Run("distance equal to threshold is noise", func(t *testing.T) {
		tr := NewTracker(10, CarryForward)
		tr.Update(frame(ballAt(0, 0, 0.9)))
		step := tr.Update(frame(ballAt(10, 0, 0.9)))
		assert.False(t, step.Counted)
		assert.Equal(t, 10.0, step.Distance)
		assert.Equal(t, 0, tr.Touches())
	})

	t.Run("distance above threshold counts", func(t *testing.T) {
		tr := NewTracker(10, CarryForward)
		tr.Update(frame(ballAt(0, 0, 0.9)))
		step := tr.Update(frame(ballAt(10.001, 0, 0.9)))
		assert.True(t, step.Counted)
		assert.Equal(t, 1, tr.Touches())
	})

	t.Run("euclidean in two dimensions", func(t *testing.T) {
		tr := NewTracker(4.9, CarryForward)
		tr.Update(frame(ballAt(0, 0, 0.9)))
		step := tr.Update(frame(ballAt(3, 4, 0.9)))
		assert.InDelta(t, 5.0, step.Distance, 1e-9)
		assert.True(t, step.Counted)
	})
}

func TestTracker_ReferenceAlwaysMoves(t *testing.T) {
	tr := NewTracker(10, CarryForward)
	for _, x := range []float64{0, 8, 16} {
		tr.Update(frame(ballAt(x, 0, 0.9)))
	}
	assert.Equal(t, 0, tr.Touches())
	c, _ := tr.LastCentroid()
	assert.Equal(t, 16.0, c.X)

	// 16 -> 27 crosses the threshold against the latest reference only.
	step := tr.Update(frame(ballAt(27, 0, 0.9)))
	assert.True(t, step.Counted)
	assert.Equal(t, 1, tr.Touches())
}

func TestTracker_EmptyFramePolicy(t *testing.T) {
	t.Run("carry forward is the default policy", func(t *testing.T) {
		assert.Equal(t, CarryForward, DefaultConfig().EmptyFramePolicy)
	})

	t.Run("carry compares against the centroid before the gap", func(t *testing.T) {
		tr := NewTracker(10, CarryForward)
		tr.Update(frame(ballAt(0, 0, 0.9)))
		step := tr.Update(nil)
		assert.False(t, step.HasCentroid)
		assert.Equal(t, Tracking, tr.State())
		step = tr.Update(frame(ballAt(20, 0, 0.9)))
		assert.True(t, step.Counted)
		assert.Equal(t, 20.0, step.Distance)
		assert.Equal(t, 1, tr.Touches())
	})

	t.Run("reset drops the track on a gap", func(t *testing.T) {
		tr := NewTracker(10, ResetOnEmpty)
		tr.Update(frame(ballAt(0, 0, 0.9)))
		tr.Update(nil)
		assert.Equal(t, Idle, tr.State())
		step := tr.Update(frame(ballAt(20, 0, 0.9)))
		assert.False(t, step.Counted)
		assert.Equal(t, 0, tr.Touches())
	})

	t.Run("never leaving idle is not an error", func(t *testing.T) {
		tr := NewTracker(10, CarryForward)
		for i := 0; i < 50; i++ {
			step := tr.Update(nil)
			assert.Equal(t, Idle, step.State)
		}
		assert.Equal(t, 0, tr.Touches())
	})
}

func TestTracker_RepresentativeSelection(t *testing.T) {
	t.Run("highest confidence wins", func(t *testing.T) {
		tr := NewTracker(10, CarryForward)
		step := tr.Update(frame(ballAt(0, 0, 0.5), ballAt(200, 0, 0.9), ballAt(400, 0, 0.7)))
		assert.Equal(t, Centroid{X: 200, Y: 0}, step.Centroid)
	})

	t.Run("ties go to the earliest candidate", func(t *testing.T) {
		tr := NewTracker(10, CarryForward)
		step := tr.Update(frame(ballAt(0, 0, 0.8), ballAt(200, 0, 0.8)))
		assert.Equal(t, Centroid{X: 0, Y: 0}, step.Centroid)
	})

	t.Run("one increment per frame at most", func(t *testing.T) {
		tr := NewTracker(10, CarryForward)
		tr.Update(frame(ballAt(0, 0, 0.9)))
		step := tr.Update(frame(ballAt(100, 0, 0.9), ballAt(300, 0, 0.8), ballAt(500, 0, 0.7)))
		assert.True(t, step.Counted)
		assert.Equal(t, 1, tr.Touches())
	})
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(10, CarryForward)
	tr.Update(frame(ballAt(0, 0, 0.9)))
	tr.Update(frame(ballAt(50, 0, 0.9)))
	assert.Equal(t, 1, tr.Touches())

	tr.Reset()
	assert.Equal(t, 0, tr.Touches())
	assert.Equal(t, Idle, tr.State())

	step := tr.Update(frame(ballAt(500, 0, 0.9)))
	assert.False(t, step.Counted)
	assert.Equal(t, 0, tr.Touches())
}

func TestTracker_Monotonic(t *testing.T) {
	tr := NewTracker(5, ResetOnEmpty)
	xs := []float64{0, 3, 30, -1, 60, 61, -1, -1, 0, 90, 200, 201}
	prev := 0
	for _, x := range xs {
		var step Step
		if x < 0 {
			step = tr.Update(nil)
		} else {
			step = tr.Update(frame(ballAt(x, 0, 0.9)))
		}
		assert.GreaterOrEqual(t, step.Touches, prev)
		prev = step.Touches
	}
}
