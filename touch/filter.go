package touch

import "math"

// Filter reduces one frame's raw detections to plausible candidates. It holds
// no state and is safe for concurrent use.
type Filter struct {
	allowed map[string]struct{}
	cfg     FilterConfig
}

// NewFilter builds a Filter. The config is not validated here; sessions do that.
func NewFilter(cfg FilterConfig) Filter {
	allowed := make(map[string]struct{}, len(cfg.AllowedLabels))
	for _, l := range cfg.AllowedLabels {
		allowed[l] = struct{}{}
	}
	return Filter{allowed: allowed, cfg: cfg}
}

// Accept reports whether a single detection passes.
func (f Filter) Accept(d Detection) bool {
	if !d.BBox.Valid() || math.IsNaN(d.Confidence) {
		return false
	}
	if _, ok := f.allowed[d.Label]; !ok {
		return false
	}
	if d.Confidence < f.cfg.MinConfidence {
		return false
	}
	return d.BBox.Width() <= f.cfg.MaxBBoxWidth && d.BBox.Height() <= f.cfg.MaxBBoxHeight
}

// Apply returns the accepted detections in input order. The result is never nil.
func (f Filter) Apply(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if f.Accept(d) {
			out = append(out, d)
		}
	}
	return out
}
