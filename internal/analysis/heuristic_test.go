package analysis

import (
	"testing"

	"github.com/roadwatch/roadwatch/internal/detection"
	"github.com/roadwatch/roadwatch/internal/geometry"
)

func vehicle(x1, y1, x2, y2 float64) detection.Vehicle {
	box := geometry.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
	return detection.Vehicle{Box: box, Area: box.Area(), Label: "car"}
}

func TestHeuristic_FirstFrameNeverTriggers(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	if h.Observe([]detection.Vehicle{vehicle(0, 0, 100, 100)}) {
		t.Error("First frame must never trigger an event")
	}
}

func TestHeuristic_NoGrowthNoEvent(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)})
	// Same box again: IoU = 1 but growth ratio = 1.0 < 1.5.
	if h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)}) {
		t.Error("Expected no event when area does not grow")
	}
}

func TestHeuristic_OverlapAndGrowthTriggers(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)})
	// Area 169 vs 100: ratio 1.69 >= 1.5, IoU = 100/169 > 0.5.
	if !h.Observe([]detection.Vehicle{vehicle(0, 0, 13, 13)}) {
		t.Error("Expected event for overlapping box with sudden growth")
	}
}

func TestHeuristic_GrowthWithoutOverlapNoEvent(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)})
	// Bigger box far away: growth satisfied, overlap not.
	if h.Observe([]detection.Vehicle{vehicle(100, 100, 130, 130)}) {
		t.Error("Expected no event without sufficient overlap")
	}
}

func TestHeuristic_DegeneratePreviousBoxNeverTriggers(t *testing.T) {
	h := NewHeuristic(0.0, 1.0)

	// Zero-area previous box: p.Area > 0 is required.
	h.Observe([]detection.Vehicle{vehicle(5, 5, 5, 5)})
	if h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)}) {
		t.Error("Expected no event when the previous box is degenerate")
	}
}

func TestHeuristic_MemoryUpdatesOnEmptyFrames(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)})
	// Empty frame clears the memory.
	if h.Observe(nil) {
		t.Error("Empty frame must not trigger")
	}
	// The grown box now has no previous match.
	if h.Observe([]detection.Vehicle{vehicle(0, 0, 13, 13)}) {
		t.Error("Expected no event after memory was replaced by an empty frame")
	}
}

func TestHeuristic_MemoryUpdatesAfterEventFrame(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)})
	if !h.Observe([]detection.Vehicle{vehicle(0, 0, 13, 13)}) {
		t.Fatal("Expected event on second frame")
	}
	// Memory now holds the grown box; repeating it cannot trigger again.
	if h.Observe([]detection.Vehicle{vehicle(0, 0, 13, 13)}) {
		t.Error("Expected no event when the box stops growing")
	}
}

func TestHeuristic_AnyPairSuffices(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	h.Observe([]detection.Vehicle{
		vehicle(0, 0, 10, 10),
		vehicle(200, 200, 210, 210),
	})
	// Only the second current box pairs with a previous box.
	if !h.Observe([]detection.Vehicle{
		vehicle(500, 500, 510, 510),
		vehicle(200, 200, 213, 213),
	}) {
		t.Error("Expected event when any (current, previous) pair triggers")
	}
}

func TestHeuristic_Reset(t *testing.T) {
	h := NewHeuristic(0.5, 1.5)

	h.Observe([]detection.Vehicle{vehicle(0, 0, 10, 10)})
	h.Reset()
	if h.Observe([]detection.Vehicle{vehicle(0, 0, 13, 13)}) {
		t.Error("Expected no event after reset cleared the memory")
	}
}
