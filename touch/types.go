package touch

import "math"

// BBox is an axis-aligned box in image pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns x2-x1. It is negative for malformed boxes.
func (b BBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns y2-y1. It is negative for malformed boxes.
func (b BBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Valid reports whether the box can describe a physical object.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X1 <= b.X2 && b.Y1 <= b.Y2
}

// Center returns the midpoint of the box.
func (b BBox) Center() Centroid {
	return Centroid{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Detection is one detector output for a single frame.
type Detection struct {
	Label      string  `json:"label"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Coordinates returns the box as [x1, y1, x2, y2].
func (d Detection) Coordinates() []float64 {
	return []float64{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2}
}

// Centroid is the position proxy of a detection.
type Centroid struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State of a tracker.
type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Step describes what a single tracker update did.
type Step struct {
	// Centroid of the representative candidate, valid when HasCentroid is set.
	Centroid    Centroid `json:"centroid"`
	HasCentroid bool     `json:"hasCentroid"`
	// Distance to the previous reference point; zero on first acquisition.
	Distance float64 `json:"distance"`
	Counted  bool    `json:"counted"`
	Touches  int     `json:"touches"`
	State    State   `json:"-"`
}

// FrameResult is returned for every processed frame.
type FrameResult struct {
	Touches  int         `json:"touches"`
	Accepted []Detection `json:"detections"`
	Step     Step        `json:"-"`
	// Epoch counts the resets the session had seen when the frame applied.
	// (Epoch, Touches) orders results even when callers race.
	Epoch uint64 `json:"-"`
}
