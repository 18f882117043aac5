// Package engine provides the object detectors that feed the touch pipeline.
package engine

import (
	"TouchCounter/config"
	"TouchCounter/touch"
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrEmptyImage is returned when a frame cannot be decoded into pixels. It
// matches touch.ErrInvalidImage under errors.Is.
var ErrEmptyImage = errors.Wrap(touch.ErrInvalidImage, "decoded image is empty or unsupported format")

// Detector turns an encoded image into raw detections. An empty result is a
// valid frame; failures are returned as errors.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]touch.Detection, error)
	Close() error
}

// New builds the detector selected by cfg.Backend.
func New(cfg config.DetectorConfig) (Detector, error) {
	switch cfg.Backend {
	case config.BackendGocv:
		names, err := loadNames(cfg)
		if err != nil {
			return nil, err
		}
		return NewYolo(YoloConfig{
			ModelPath:  cfg.ModelPath,
			Names:      names,
			InputSize:  cfg.InputSize,
			Confidence: cfg.Confidence,
			Iou:        cfg.Iou,
			UseGPU:     cfg.UseGPU,
		})
	case config.BackendRemote:
		return NewRemote(cfg.RemoteURL, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	default:
		return nil, errors.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

func loadNames(cfg config.DetectorConfig) ([]string, error) {
	switch {
	case len(cfg.Names) > 0:
		return cfg.Names, nil
	case cfg.NamesFile != "":
		return ReadNames(cfg.NamesFile)
	default:
		return CocoNames, nil
	}
}

// ReadNames reads one class name per line, tolerating CRLF and blank lines.
func ReadNames(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read class names")
	}
	var names []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			names = append(names, l)
		}
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no class names in %s", path)
	}
	return names, nil
}
