package touch

import "gonum.org/v1/gonum/floats"

// Tracker is the per-session touch state machine. It is not safe for
// concurrent use; Session serializes access.
type Tracker struct {
	threshold float64
	policy    EmptyFramePolicy

	last     Centroid
	tracking bool
	touches  int
}

// NewTracker returns a tracker in the IDLE state.
func NewTracker(threshold float64, policy EmptyFramePolicy) *Tracker {
	return &Tracker{threshold: threshold, policy: policy}
}

// Update consumes one frame's filtered candidates.
func (t *Tracker) Update(candidates []Detection) Step {
	rep, ok := representative(candidates)
	if !ok {
		if t.policy == ResetOnEmpty {
			t.tracking = false
			t.last = Centroid{}
		}
		return Step{Touches: t.touches, State: t.State()}
	}

	c := rep.BBox.Center()
	step := Step{Centroid: c, HasCentroid: true}
	if t.tracking {
		step.Distance = distance(t.last, c)
		// Exactly the threshold is still noise.
		if step.Distance > t.threshold {
			t.touches++
			step.Counted = true
		}
	}
	t.last = c
	t.tracking = true

	step.Touches = t.touches
	step.State = Tracking
	return step
}

// Touches returns the current counter.
func (t *Tracker) Touches() int {
	return t.touches
}

// State returns IDLE or TRACKING.
func (t *Tracker) State() State {
	if t.tracking {
		return Tracking
	}
	return Idle
}

// LastCentroid returns the reference point, if any.
func (t *Tracker) LastCentroid() (Centroid, bool) {
	return t.last, t.tracking
}

// Reset returns the tracker to IDLE with a zero counter.
func (t *Tracker) Reset() {
	t.last = Centroid{}
	t.tracking = false
	t.touches = 0
}

// representative picks the highest-confidence candidate, earliest on ties.
func representative(candidates []Detection) (Detection, bool) {
	if len(candidates) == 0 {
		return Detection{}, false
	}
	best := candidates[0]
	for _, d := range candidates[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}

func distance(a, b Centroid) float64 {
	return floats.Distance([]float64{a.X, a.Y}, []float64{b.X, b.Y}, 2)
}
