package detection

// FilterVehicles keeps only detections whose label is in the vehicle class
// set, mapping each to a Vehicle with its clamped area. Input order is
// preserved. Confidence filtering already happened inside the detector.
func FilterVehicles(dets []Detection, classes map[string]bool) []Vehicle {
	vehicles := make([]Vehicle, 0, len(dets))
	for _, d := range dets {
		if !classes[d.Label] {
			continue
		}
		vehicles = append(vehicles, Vehicle{
			Box:   d.Box,
			Area:  d.Box.Area(),
			Label: d.Label,
		})
	}
	return vehicles
}
