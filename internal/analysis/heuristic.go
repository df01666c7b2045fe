// Package analysis implements the frame-by-frame accident heuristic: two
// vehicle boxes that overlap heavily while one grows suddenly in area are
// treated as a collision signal.
package analysis

import (
	"github.com/roadwatch/roadwatch/internal/detection"
)

// areaEpsilon guards the growth-ratio division.
const areaEpsilon = 1e-6

// Heuristic holds the one-frame memory of vehicle boxes and the trigger
// thresholds. It is exclusively owned by the run driver and must not be
// shared across goroutines.
type Heuristic struct {
	// IoUThreshold is the minimum pairwise overlap for a trigger pair.
	IoUThreshold float64
	// GrowthFactor is the minimum current/previous area ratio, >= 1.
	GrowthFactor float64

	prev []detection.Vehicle
}

// NewHeuristic creates a heuristic with empty frame memory.
func NewHeuristic(iouThreshold, growthFactor float64) *Heuristic {
	return &Heuristic{
		IoUThreshold: iouThreshold,
		GrowthFactor: growthFactor,
	}
}

// Observe evaluates the current frame's vehicle boxes against the previous
// frame's and reports whether this is an event frame. It short-circuits on
// the first trigger pair; there is no preference ordering among matches.
// The frame memory is replaced wholesale regardless of the outcome, so the
// first frame of a run can never trigger.
func (h *Heuristic) Observe(curr []detection.Vehicle) bool {
	triggered := false

outer:
	for _, c := range curr {
		for _, p := range h.prev {
			if c.Box.IoU(p.Box) < h.IoUThreshold {
				continue
			}
			if p.Area <= 0 {
				continue
			}
			if c.Area/(p.Area+areaEpsilon) >= h.GrowthFactor {
				triggered = true
				break outer
			}
		}
	}

	h.prev = curr
	return triggered
}

// Reset clears the frame memory.
func (h *Heuristic) Reset() {
	h.prev = nil
}
