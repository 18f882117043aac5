package touch

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Session is the addressable unit of tracking continuity. All methods are safe
// for concurrent use; each update runs as one critical section.
type Session struct {
	id      string
	cfg     Config
	filter  Filter
	created time.Time

	mu         sync.Mutex
	tracker    *Tracker
	epoch      uint64
	lastSeq    uint64
	lastActive time.Time
}

// NewSession validates cfg and returns a session in the IDLE state.
func NewSession(id string, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		id:         id,
		cfg:        cfg,
		filter:     NewFilter(cfg.FilterConfig),
		created:    now,
		tracker:    NewTracker(cfg.MovementThreshold, cfg.EmptyFramePolicy),
		lastActive: now,
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) Created() time.Time {
	return s.created
}

// ProcessFrame filters one frame's raw detections and updates the tracker.
func (s *Session) ProcessFrame(raw []Detection) FrameResult {
	accepted := s.filter.Apply(raw)

	s.mu.Lock()
	step := s.tracker.Update(accepted)
	epoch := s.epoch
	s.lastActive = time.Now()
	s.mu.Unlock()

	return FrameResult{Touches: step.Touches, Accepted: accepted, Step: step, Epoch: epoch}
}

// ProcessFrameSeq is ProcessFrame for streams that number their frames.
// Sequence numbers start at 1; a frame not newer than the last applied one
// returns ErrStaleFrame and leaves the state untouched.
func (s *Session) ProcessFrameSeq(seq uint64, raw []Detection) (FrameResult, error) {
	if seq == 0 {
		return s.ProcessFrame(raw), nil
	}
	accepted := s.filter.Apply(raw)

	s.mu.Lock()
	if seq <= s.lastSeq {
		last := s.lastSeq
		s.mu.Unlock()
		return FrameResult{}, errors.Wrapf(ErrStaleFrame, "frame %d arrived after frame %d", seq, last)
	}
	s.lastSeq = seq
	step := s.tracker.Update(accepted)
	epoch := s.epoch
	s.lastActive = time.Now()
	s.mu.Unlock()

	return FrameResult{Touches: step.Touches, Accepted: accepted, Step: step, Epoch: epoch}, nil
}

// Touches returns the counter without side effects.
func (s *Session) Touches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Touches()
}

// State returns the tracker state and the reference centroid, if any.
func (s *Session) State() (State, Centroid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.tracker.LastCentroid()
	return s.tracker.State(), c, ok
}

// Reset returns the session to IDLE with a zero counter, forgets the frame
// sequence watermark and starts a new epoch, which it returns.
func (s *Session) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Reset()
	s.epoch++
	s.lastSeq = 0
	s.lastActive = time.Now()
	return s.epoch
}

// IdleFor reports how long the session has gone without an update.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}
