// Package geometry provides axis-aligned bounding box math for the
// accident heuristic.
package geometry

// epsilon guards the IoU division when both boxes are degenerate.
const epsilon = 1e-6

// Box is an axis-aligned rectangle in absolute pixel coordinates.
// Coordinates are not validated on construction; a box with X2 < X1 or
// Y2 < Y1 simply has zero area.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the clamped rectangle area. Never negative.
func (b Box) Area() float64 {
	return max(0, b.X2-b.X1) * max(0, b.Y2-b.Y1)
}

// IoU calculates Intersection over Union with another box.
// Symmetric, deterministic, and in [0, 1] up to the epsilon term.
func (b Box) IoU(other Box) float64 {
	inter := Box{
		X1: max(b.X1, other.X1),
		Y1: max(b.Y1, other.Y1),
		X2: min(b.X2, other.X2),
		Y2: min(b.Y2, other.Y2),
	}

	interArea := inter.Area()
	union := b.Area() + other.Area() - interArea + epsilon

	return interArea / union
}

// Intersects reports whether the two boxes overlap at all.
func (b Box) Intersects(other Box) bool {
	return b.IoU(other) > 0
}
