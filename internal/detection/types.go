// Package detection provides object detection capabilities for analysis runs.
package detection

import (
	"context"

	"github.com/roadwatch/roadwatch/internal/geometry"
	"github.com/roadwatch/roadwatch/internal/video"
)

// Detection is a single raw detector result. The box is in absolute pixel
// coordinates of the source frame.
type Detection struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Box        geometry.Box `json:"box"`
}

// Vehicle is a filtered detection normalized for the accident heuristic.
// Created fresh each frame and discarded after one frame's comparison.
type Vehicle struct {
	Box   geometry.Box `json:"box"`
	Area  float64      `json:"area"`
	Label string       `json:"label"`
}

// Detector runs object detection on a single frame. The confidence
// threshold is applied by the detector itself, not by downstream filters.
type Detector interface {
	Detect(ctx context.Context, frame *video.Frame, minConfidence float64) ([]Detection, error)
	Close() error
}

// DefaultVehicleClasses are the object classes the accident heuristic
// considers.
var DefaultVehicleClasses = []string{"car", "motorbike", "bus", "truck"}

// ClassSet builds a membership set from a class list. An empty list falls
// back to the default vehicle classes.
func ClassSet(classes []string) map[string]bool {
	if len(classes) == 0 {
		classes = DefaultVehicleClasses
	}
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return set
}
