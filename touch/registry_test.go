package touch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_All(t *testing.T) {
	r, err := NewRegistry(testConfig(10))
	require.NoError(t, err)

	var id string

	t.Run("Test Default", func(t *testing.T) {
		def, err := r.Get("")
		require.NoError(t, err)
		assert.Same(t, r.Default(), def)
		assert.Equal(t, DefaultSessionID, def.ID())
		assert.Equal(t, 1, r.Len())
	})

	t.Run("Test Open", func(t *testing.T) {
		s := r.Open()
		id = s.ID()
		assert.NotEqual(t, DefaultSessionID, id)
		got, err := r.Get(id)
		require.NoError(t, err)
		assert.Same(t, s, got)
		assert.Equal(t, 2, r.Len())
	})

	t.Run("Test sessions are independent", func(t *testing.T) {
		s, _ := r.Get(id)
		s.ProcessFrame(frame(ballAt(0, 0, 0.9)))
		s.ProcessFrame(frame(ballAt(100, 0, 0.9)))
		assert.Equal(t, 1, s.Touches())
		assert.Equal(t, 0, r.Default().Touches())
	})

	t.Run("Test Close", func(t *testing.T) {
		require.NoError(t, r.Close(id))
		_, err := r.Get(id)
		assert.True(t, errors.Is(err, ErrSessionNotFound))
		assert.True(t, errors.Is(r.Close(id), ErrSessionNotFound))
	})

	t.Run("Test Close default resets it", func(t *testing.T) {
		def := r.Default()
		def.ProcessFrame(frame(ballAt(0, 0, 0.9)))
		def.ProcessFrame(frame(ballAt(100, 0, 0.9)))
		require.NoError(t, r.Close(DefaultSessionID))
		assert.Same(t, def, r.Default())
		assert.Equal(t, 0, def.Touches())
	})

	t.Run("Test Sweep", func(t *testing.T) {
		stale := r.Open()
		time.Sleep(20 * time.Millisecond)
		fresh := r.Open()
		expired := r.Sweep(10 * time.Millisecond)
		assert.Equal(t, []string{stale.ID()}, expired)
		_, err := r.Get(fresh.ID())
		assert.NoError(t, err)
		_, err = r.Get(DefaultSessionID)
		assert.NoError(t, err)
	})
}

func TestNewRegistry_InvalidConfig(t *testing.T) {
	_, err := NewRegistry(testConfig(-3))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
