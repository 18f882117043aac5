package touch

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig is returned when a session is built from a bad configuration.
	ErrInvalidConfig = errors.New("invalid tracking config")
	// ErrStaleFrame is returned when a frame arrives out of capture order.
	ErrStaleFrame = errors.New("stale frame")
	// ErrSessionNotFound is returned by the registry for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidImage marks frames that cannot be decoded. Detectors wrap it so
	// callers can tell a bad upload from an inference failure.
	ErrInvalidImage = errors.New("invalid image format")
)
