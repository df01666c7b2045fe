package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roadwatch/roadwatch/internal/detection"
	"github.com/roadwatch/roadwatch/internal/video"
)

// progressInterval is how often the runner reports progress.
const progressInterval = 50

// Snapshotter persists an annotated copy of an event frame.
type Snapshotter interface {
	Save(frame *video.Frame, vehicles []detection.Vehicle, eventID int, path string) error
}

// RunnerConfig holds the parameters of a single analysis run.
type RunnerConfig struct {
	// BaseName names the run's outputs (CSV and snapshots).
	BaseName string
	// OutputDir is the root output directory; snapshots go in a frames/
	// subdirectory.
	OutputDir string
	// MinConfidence is passed through to the detector.
	MinConfidence float64
	// IoUThreshold and GrowthFactor parameterize the heuristic.
	IoUThreshold float64
	GrowthFactor float64
	// VehicleClasses overrides the default vehicle class set when non-empty.
	VehicleClasses []string
	// MaxFrames caps the number of processed frames; 0 means unbounded.
	MaxFrames int
	// OnEvent, when set, is invoked for each event in detection order.
	OnEvent func(AccidentEvent)
}

// Result summarizes a finished run.
type Result struct {
	FramesProcessed int             `json:"frames_processed"`
	Events          []AccidentEvent `json:"events"`
	CSVPath         string          `json:"csv_path"`
	SnapshotPaths   []string        `json:"snapshot_paths"`
}

// Runner drives a single analysis run: it pulls frames from the source one
// at a time, runs detection, feeds the vehicle boxes to the heuristic, and
// records snapshots and the CSV log. Strictly sequential; event IDs and
// frame indices are monotonically increasing in emission order.
type Runner struct {
	source   video.Source
	detector detection.Detector
	snapshot Snapshotter
	cfg      RunnerConfig
	logger   *slog.Logger
}

// NewRunner creates a runner for one analysis run.
func NewRunner(source video.Source, detector detection.Detector, snapshot Snapshotter, cfg RunnerConfig) *Runner {
	return &Runner{
		source:   source,
		detector: detector,
		snapshot: snapshot,
		cfg:      cfg,
		logger:   slog.Default().With("component", "runner", "run", cfg.BaseName),
	}
}

// Run processes frames until the source is exhausted or the frame limit
// is reached, then persists the CSV log. A source that stops yielding
// mid-run ends the run gracefully; whatever accumulated so far is kept.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	framesDir := filepath.Join(r.cfg.OutputDir, "frames")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	classes := detection.ClassSet(r.cfg.VehicleClasses)
	heuristic := NewHeuristic(r.cfg.IoUThreshold, r.cfg.GrowthFactor)
	fps := r.source.FPS()

	var (
		log          EventLog
		eventCounter int
		frameIdx     int
		snapshots    []string
	)

	for r.cfg.MaxFrames <= 0 || frameIdx < r.cfg.MaxFrames {
		frame, err := r.source.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				r.logger.Warn("Frame source stopped yielding", "frame", frameIdx, "error", err)
			}
			break
		}

		frameIdx++
		if frameIdx%progressInterval == 0 {
			r.logger.Info("Processing frame", "frame", frameIdx)
		}

		dets, err := r.detector.Detect(ctx, frame, r.cfg.MinConfidence)
		if err != nil {
			r.logger.Error("Detection failed, ending run", "frame", frameIdx, "error", err)
			break
		}

		vehicles := detection.FilterVehicles(dets, classes)

		if !heuristic.Observe(vehicles) {
			continue
		}

		eventCounter++
		// The clock string keeps the whole second of the raw elapsed
		// time; rounding TimeSeconds can cross into the next second.
		raw := elapsed(frameIdx, fps)
		ts := ElapsedSeconds(frameIdx, fps)

		snapshotPath := filepath.Join(framesDir,
			fmt.Sprintf("%s_accident_%d_frame_%d.jpg", r.cfg.BaseName, eventCounter, frameIdx))

		if err := r.snapshot.Save(frame, vehicles, eventCounter, snapshotPath); err != nil {
			r.logger.Warn("Failed to save snapshot", "path", snapshotPath, "error", err)
		} else {
			snapshots = append(snapshots, snapshotPath)
		}

		ev := AccidentEvent{
			EventID:      eventCounter,
			Frame:        frameIdx,
			TimeSeconds:  ts,
			TimeHHMMSS:   FormatHHMMSS(raw),
			SnapshotPath: snapshotPath,
		}
		log.Append(ev)

		r.logger.Info("Accident detected", "event_id", eventCounter, "frame", frameIdx, "time", ev.TimeHHMMSS)

		if r.cfg.OnEvent != nil {
			r.cfg.OnEvent(ev)
		}
	}

	csvPath, err := r.persistLog(&log)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Run finished", "frames", frameIdx, "events", log.Count(), "csv", csvPath)

	return &Result{
		FramesProcessed: frameIdx,
		Events:          log.Events(),
		CSVPath:         csvPath,
		SnapshotPaths:   snapshots,
	}, nil
}

// persistLog writes the CSV log, header row included even with no events.
func (r *Runner) persistLog(log *EventLog) (string, error) {
	csvPath := filepath.Join(r.cfg.OutputDir, fmt.Sprintf("%s_accident_log.csv", r.cfg.BaseName))

	f, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV log: %w", err)
	}
	defer f.Close()

	if err := log.WriteCSV(f); err != nil {
		return "", err
	}

	return csvPath, nil
}
