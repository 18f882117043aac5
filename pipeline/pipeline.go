// Package pipeline runs frames through the detector, the detection filter and
// the touch tracker of a session.
package pipeline

import (
	"TouchCounter/logger"
	"TouchCounter/monitor"
	"TouchCounter/store"
	"TouchCounter/touch"
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrDetector wraps detector failures so callers can tell them apart from a
	// frame without detections. The detector's own error stays in the chain.
	// Undecodable frames are returned as touch.ErrInvalidImage instead.
	ErrDetector = errors.New("detector failed")
	ErrClosed   = errors.New("pipeline closed")
)

// Detector is the inference collaborator. Implementations need not be safe
// for concurrent use when the pipeline runs a single worker.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]touch.Detection, error)
}

// Recorder receives touch and reset events.
type Recorder interface {
	Record(ctx context.Context, ev store.Event) error
}

// Frame is one encoded image. Seq is the capture sequence number, 0 when the
// source does not number its frames.
type Frame struct {
	Seq   uint64
	Image []byte
}

type jobResult struct {
	dets []touch.Detection
	err  error
}

type jobPackage struct {
	ctx    context.Context
	image  []byte
	result chan jobResult
}

type Pipeline struct {
	detector Detector
	recorder Recorder
	jobs     chan jobPackage
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

type Option func(*Pipeline)

// WithRecorder journals touches and resets to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// New starts workersNum inference workers (at least one).
func New(detector Detector, workersNum int, opts ...Option) *Pipeline {
	if workersNum <= 0 {
		workersNum = 1
	}
	p := &Pipeline{
		detector: detector,
		jobs:     make(chan jobPackage, workersNum),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(workersNum)
	for i := 0; i < workersNum; i++ {
		go p.runWorker(i)
	}
	return p
}

func (p *Pipeline) runWorker(workerID int) {
	defer p.wg.Done()
	// OpenCV inference state is thread-affine.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Debug("worker started", zap.Int("worker", workerID))
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			dets, err := p.safeDetect(workerID, job)
			job.result <- jobResult{dets: dets, err: err}
		}
	}
}

func (p *Pipeline) safeDetect(workerID int, job jobPackage) (dets []touch.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("detector panic", zap.Int("worker", workerID), zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := job.ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	dets, err = p.detector.Detect(job.ctx, job.image)
	monitor.InferenceSeconds.Observe(time.Since(start).Seconds())
	return dets, err
}

// Detect runs inference on a worker. The session lock is not involved.
func (p *Pipeline) Detect(ctx context.Context, image []byte) ([]touch.Detection, error) {
	job := jobPackage{ctx: ctx, image: image, result: make(chan jobResult, 1)}
	select {
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.jobs <- job:
	}
	select {
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-job.result:
		if r.err != nil {
			switch {
			case errors.Is(r.err, context.Canceled), errors.Is(r.err, context.DeadlineExceeded):
				return nil, r.err
			case errors.Is(r.err, touch.ErrInvalidImage):
				// the frame is at fault, not the detector
				return nil, r.err
			}
			monitor.DetectorErrors.Inc()
			return nil, fmt.Errorf("%w: %w", ErrDetector, r.err)
		}
		return r.dets, nil
	}
}

// Process detects objects in f and applies them to sess.
func (p *Pipeline) Process(ctx context.Context, sess *touch.Session, f Frame) (touch.FrameResult, error) {
	dets, err := p.Detect(ctx, f.Image)
	if err != nil {
		return touch.FrameResult{}, err
	}
	return p.ProcessDetections(ctx, sess, f.Seq, dets)
}

// ProcessDetections applies already detected objects to sess.
func (p *Pipeline) ProcessDetections(ctx context.Context, sess *touch.Session, seq uint64, dets []touch.Detection) (touch.FrameResult, error) {
	res, err := sess.ProcessFrameSeq(seq, dets)
	if err != nil {
		return touch.FrameResult{}, err
	}
	monitor.FramesTotal.Inc()
	if res.Step.Counted {
		monitor.TouchesTotal.Inc()
		logger.Session(sess.ID()).Info("touch counted",
			zap.Int("touches", res.Touches),
			zap.Float64("distance", res.Step.Distance),
		)
		p.record(ctx, store.Event{
			SessionID: sess.ID(),
			Kind:      store.KindTouch,
			Epoch:     res.Epoch,
			Touches:   res.Touches,
			X:         res.Step.Centroid.X,
			Y:         res.Step.Centroid.Y,
			Distance:  res.Step.Distance,
		})
	}
	return res, nil
}

// Reset clears sess and journals the reset.
func (p *Pipeline) Reset(ctx context.Context, sess *touch.Session) {
	epoch := sess.Reset()
	logger.Session(sess.ID()).Info("session reset", zap.Uint64("epoch", epoch))
	p.record(ctx, store.Event{SessionID: sess.ID(), Kind: store.KindReset, Epoch: epoch})
}

func (p *Pipeline) record(ctx context.Context, ev store.Event) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		logger.Session(ev.SessionID).Warn("journal write failed", zap.Error(err))
	}
}

// Close stops the workers. Pending and later calls return ErrClosed.
func (p *Pipeline) Close() {
	p.once.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
