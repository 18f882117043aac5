package main

import (
	"TouchCounter/capture"
	"TouchCounter/touch"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// scripted returns one detection list per call; a nil entry is an empty
// frame and an "err" label makes the call fail.
func scripted(frames [][]touch.Detection) func(gocv.Mat) ([]touch.Detection, error) {
	i := 0
	return func(gocv.Mat) ([]touch.Detection, error) {
		dets := frames[i]
		i++
		if len(dets) == 1 && dets[0].Label == "err" {
			return nil, errors.New("inference failed")
		}
		return dets, nil
	}
}

func ball(x float64) []touch.Detection {
	return []touch.Detection{{
		Label:      "sports ball",
		BBox:       touch.BBox{X1: x, Y1: 100, X2: x + 20, Y2: 120},
		Confidence: 0.9,
	}}
}

func playback(t *testing.T, n int) capture.Camera {
	t.Helper()
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)
	}
	t.Cleanup(func() {
		for _, f := range frames {
			f.Close()
		}
	})
	cam := capture.NewPlayback(frames)
	require.NoError(t, cam.Open())
	return cam
}

func session(t *testing.T, policy touch.EmptyFramePolicy) *touch.Session {
	t.Helper()
	cfg := touch.DefaultConfig()
	cfg.AllowedLabels = []string{"sports ball"}
	cfg.MovementThreshold = 5
	cfg.EmptyFramePolicy = policy
	sess, err := touch.NewSession(touch.DefaultSessionID, cfg)
	require.NoError(t, err)
	return sess
}

func TestCountTouches(t *testing.T) {
	t.Run("Test reset policy re-acquires after a gap", func(t *testing.T) {
		frames := [][]touch.Detection{ball(0), ball(10), nil, ball(30), ball(40)}
		sess := session(t, touch.ResetOnEmpty)
		err := countTouches(context.Background(), playback(t, len(frames)), scripted(frames), sess, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, sess.Touches())
	})

	t.Run("Test carry policy counts across a gap", func(t *testing.T) {
		frames := [][]touch.Detection{ball(0), ball(10), nil, ball(30), ball(40)}
		sess := session(t, touch.CarryForward)
		err := countTouches(context.Background(), playback(t, len(frames)), scripted(frames), sess, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, sess.Touches())
	})

	t.Run("Test detector failure leaves the track alone", func(t *testing.T) {
		frames := [][]touch.Detection{ball(0), {{Label: "err"}}, ball(10)}
		sess := session(t, touch.ResetOnEmpty)
		err := countTouches(context.Background(), playback(t, len(frames)), scripted(frames), sess, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, sess.Touches())
	})

	t.Run("Test quit key stops the loop", func(t *testing.T) {
		frames := [][]touch.Detection{ball(0), ball(10), ball(20)}
		sess := session(t, touch.CarryForward)
		shown := 0
		show := func(gocv.Mat) bool {
			shown++
			return shown == 2
		}
		err := countTouches(context.Background(), playback(t, len(frames)), scripted(frames), sess, 32, show)
		require.NoError(t, err)
		assert.Equal(t, 2, shown)
		assert.Equal(t, 1, sess.Touches())
	})

	t.Run("Test cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sess := session(t, touch.CarryForward)
		err := countTouches(ctx, playback(t, 1), scripted(nil), sess, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, sess.Touches())
	})
}
