// Package snapshot renders annotated event frames to disk.
package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/roadwatch/roadwatch/internal/detection"
	"github.com/roadwatch/roadwatch/internal/video"
)

var (
	boxColor    = color.RGBA{G: 255, A: 255}
	bannerColor = color.RGBA{R: 255, A: 255}
)

// Annotator draws vehicle boxes and an accident banner onto event frames
// and writes them out as JPEG files.
type Annotator struct {
	logger *slog.Logger
}

// NewAnnotator creates a frame annotator.
func NewAnnotator() *Annotator {
	return &Annotator{
		logger: slog.Default().With("component", "snapshot"),
	}
}

// Save decodes the frame, draws a labeled box around every vehicle and a
// banner naming the event, and writes the result to path.
func (a *Annotator) Save(frame *video.Frame, vehicles []detection.Vehicle, eventID int, path string) error {
	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("failed to decode frame %d: %w", frame.Index, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return fmt.Errorf("frame %d decoded to an empty image", frame.Index)
	}

	for _, v := range vehicles {
		rect := image.Rect(int(v.Box.X1), int(v.Box.Y1), int(v.Box.X2), int(v.Box.Y2))
		if err := gocv.Rectangle(&mat, rect, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw vehicle box: %w", err)
		}
		if err := gocv.PutText(&mat, v.Label,
			image.Pt(int(v.Box.X1), int(v.Box.Y1)-5),
			gocv.FontHersheySimplex, 0.6, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw vehicle label: %w", err)
		}
	}

	banner := fmt.Sprintf("ACCIDENT DETECTED! #%d", eventID)
	if err := gocv.PutText(&mat, banner, image.Pt(30, 40), gocv.FontHersheySimplex, 1.0, bannerColor, 3); err != nil {
		return fmt.Errorf("failed to draw banner: %w", err)
	}

	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("failed to write snapshot %s", path)
	}

	a.logger.Debug("Snapshot written", "path", path, "vehicles", len(vehicles))
	return nil
}
