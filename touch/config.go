package touch

import (
	"math"

	"github.com/pkg/errors"
)

// EmptyFramePolicy decides what a frame without candidates does to the tracker.
type EmptyFramePolicy string

const (
	// CarryForward keeps the last centroid so short detector dropouts do not
	// force a re-acquisition before the next touch can be counted.
	CarryForward EmptyFramePolicy = "carry"
	// ResetOnEmpty drops the track on any gap.
	ResetOnEmpty EmptyFramePolicy = "reset"
)

const (
	DefaultMinConfidence     = 0.4
	DefaultMaxBBoxSize       = 300.0
	DefaultMovementThreshold = 15.0
)

// DefaultLabels are the detector classes treated as the ball. "suitcase" is a
// frequent misclassification of a ball close to the camera; the size cap
// rejects real suitcases.
var DefaultLabels = []string{"sports ball", "suitcase"}

// FilterConfig controls which detections are plausible instances of the
// tracked object.
type FilterConfig struct {
	AllowedLabels []string `yaml:"allowedLabels" json:"allowedLabels"`
	MinConfidence float64  `yaml:"minConfidence" json:"minConfidence"`
	MaxBBoxWidth  float64  `yaml:"maxBBoxWidth" json:"maxBBoxWidth"`
	MaxBBoxHeight float64  `yaml:"maxBBoxHeight" json:"maxBBoxHeight"`
}

// Config is everything a Session needs.
type Config struct {
	FilterConfig      `yaml:",inline"`
	MovementThreshold float64          `yaml:"movementThreshold" json:"movementThreshold"`
	EmptyFramePolicy  EmptyFramePolicy `yaml:"emptyFramePolicy" json:"emptyFramePolicy"`
}

// DefaultConfig mirrors the HTTP service defaults.
func DefaultConfig() Config {
	return Config{
		FilterConfig: FilterConfig{
			AllowedLabels: append([]string(nil), DefaultLabels...),
			MinConfidence: DefaultMinConfidence,
			MaxBBoxWidth:  DefaultMaxBBoxSize,
			MaxBBoxHeight: DefaultMaxBBoxSize,
		},
		MovementThreshold: DefaultMovementThreshold,
		EmptyFramePolicy:  CarryForward,
	}
}

// Validate returns an error wrapping ErrInvalidConfig for unusable values.
func (c Config) Validate() error {
	if len(c.AllowedLabels) == 0 {
		return errors.Wrap(ErrInvalidConfig, "allowedLabels must not be empty")
	}
	for _, l := range c.AllowedLabels {
		if l == "" {
			return errors.Wrap(ErrInvalidConfig, "allowedLabels contains an empty label")
		}
	}
	if !finite(c.MinConfidence) || c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.Wrapf(ErrInvalidConfig, "minConfidence must be within [0,1], got %v", c.MinConfidence)
	}
	if !finite(c.MaxBBoxWidth) || c.MaxBBoxWidth <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "maxBBoxWidth must be positive, got %v", c.MaxBBoxWidth)
	}
	if !finite(c.MaxBBoxHeight) || c.MaxBBoxHeight <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "maxBBoxHeight must be positive, got %v", c.MaxBBoxHeight)
	}
	if !finite(c.MovementThreshold) || c.MovementThreshold < 0 {
		return errors.Wrapf(ErrInvalidConfig, "movementThreshold must be non-negative, got %v", c.MovementThreshold)
	}
	switch c.EmptyFramePolicy {
	case CarryForward, ResetOnEmpty:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown emptyFramePolicy %q", c.EmptyFramePolicy)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
