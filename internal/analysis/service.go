package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/core"
	"github.com/roadwatch/roadwatch/internal/detection"
	"github.com/roadwatch/roadwatch/internal/events"
	"github.com/roadwatch/roadwatch/internal/snapshot"
	"github.com/roadwatch/roadwatch/internal/video"
)

// RunRequest describes a video source and optional parameter overrides.
// Exactly one of Video, Device, or URL selects the source.
type RunRequest struct {
	Video  string `json:"video,omitempty"`
	Device *int   `json:"device,omitempty"`
	URL    string `json:"url,omitempty"`

	ConfThreshold   float64 `json:"conf_thres,omitempty"`
	IoUThreshold    float64 `json:"accident_iou_thres,omitempty"`
	GrowthFactor    float64 `json:"area_growth_factor,omitempty"`
	MaxFrames       int     `json:"max_frames,omitempty"`
	DurationSeconds int     `json:"duration_sec,omitempty"`
}

// Service orchestrates analysis runs: it opens sources, builds detectors,
// persists run state, and publishes lifecycle events on the bus.
type Service struct {
	cfg    *config.Config
	store  *events.Store
	bus    *core.EventBus
	logger *slog.Logger
}

// NewService creates an analysis service. The store and bus may be nil for
// one-shot CLI runs that only write the CSV and snapshots.
func NewService(cfg *config.Config, store *events.Store, bus *core.EventBus) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: slog.Default().With("component", "analysis"),
	}
}

// StartRun records a new run and processes it in the background. The
// returned run already carries its assigned ID.
func (s *Service) StartRun(ctx context.Context, req RunRequest) (*events.Run, error) {
	source, baseName, sourceLabel, err := s.openSource(req)
	if err != nil {
		return nil, err
	}

	params := s.resolveParams(req, source.FPS())

	run := &events.Run{
		BaseName:      baseName,
		Source:        sourceLabel,
		FPS:           source.FPS(),
		ConfThreshold: params.MinConfidence,
		IoUThreshold:  params.IoUThreshold,
		GrowthFactor:  params.GrowthFactor,
		MaxFrames:     params.MaxFrames,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		source.Close()
		return nil, err
	}

	if s.bus != nil {
		if err := s.bus.PublishRunStarted(run.ID); err != nil {
			s.logger.Warn("Failed to publish run started", "run", run.ID, "error", err)
		}
	}

	go s.execute(run, source, params)

	return run, nil
}

// RunOnce processes a source synchronously and returns the result. Used by
// the CLI's one-shot modes; no run record is created unless a store is set.
func (s *Service) RunOnce(ctx context.Context, req RunRequest) (*Result, error) {
	source, baseName, _, err := s.openSource(req)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	params := s.resolveParams(req, source.FPS())
	params.BaseName = baseName

	detector, err := s.newDetector()
	if err != nil {
		return nil, err
	}
	defer detector.Close()

	runner := NewRunner(source, detector, snapshot.NewAnnotator(), params)
	return runner.Run(ctx)
}

// execute drives a background run to completion and records its outcome.
func (s *Service) execute(run *events.Run, source video.Source, params RunnerConfig) {
	defer source.Close()

	ctx := context.Background()

	detector, err := s.newDetector()
	if err != nil {
		s.finishRun(ctx, run.ID, events.RunFailed, nil, err)
		return
	}
	defer detector.Close()

	params.BaseName = run.BaseName
	params.OnEvent = func(ev AccidentEvent) {
		stored := &events.Event{
			RunID:        run.ID,
			EventID:      ev.EventID,
			Frame:        ev.Frame,
			TimeSeconds:  ev.TimeSeconds,
			TimeHHMMSS:   ev.TimeHHMMSS,
			SnapshotPath: ev.SnapshotPath,
		}
		if err := s.store.CreateEvent(ctx, stored); err != nil {
			s.logger.Error("Failed to persist event", "run", run.ID, "event_id", ev.EventID, "error", err)
		}
		if s.bus != nil {
			if err := s.bus.Publish(core.SubjectAccidentDetected, stored); err != nil {
				s.logger.Warn("Failed to publish accident event", "run", run.ID, "error", err)
			}
		}
	}

	runner := NewRunner(source, detector, snapshot.NewAnnotator(), params)
	result, err := runner.Run(ctx)
	if err != nil {
		s.finishRun(ctx, run.ID, events.RunFailed, nil, err)
		return
	}

	s.finishRun(ctx, run.ID, events.RunCompleted, result, nil)
}

func (s *Service) finishRun(ctx context.Context, runID string, status events.RunStatus, result *Result, cause error) {
	frames, count, csvPath := 0, 0, ""
	if result != nil {
		frames = result.FramesProcessed
		count = len(result.Events)
		csvPath = result.CSVPath
	}

	if err := s.store.FinishRun(ctx, runID, status, frames, count, csvPath); err != nil {
		s.logger.Error("Failed to record run outcome", "run", runID, "error", err)
	}

	if s.bus == nil {
		return
	}
	if status == events.RunFailed {
		if err := s.bus.PublishRunFailed(runID, cause); err != nil {
			s.logger.Warn("Failed to publish run failed", "run", runID, "error", err)
		}
		return
	}
	if err := s.bus.PublishRunFinished(runID); err != nil {
		s.logger.Warn("Failed to publish run finished", "run", runID, "error", err)
	}
}

// Indirection over the capture constructors so tests can stand in fake
// sources without camera hardware.
var (
	openFile   = func(path string) (video.Source, error) { return video.OpenFile(path) }
	openStream = func(url string) (video.Source, error) { return video.OpenStream(url) }
	openDevice = func(index int) (video.Source, error) { return video.OpenDevice(index) }
)

// openSource opens the requested video source and derives the base name
// used for the run's outputs.
func (s *Service) openSource(req RunRequest) (video.Source, string, string, error) {
	switch {
	case req.Video != "":
		source, err := openFile(req.Video)
		if err != nil {
			return nil, "", "", err
		}
		base := strings.TrimSuffix(filepath.Base(req.Video), filepath.Ext(req.Video))
		return source, base, req.Video, nil

	case req.URL != "":
		source, err := openStream(req.URL)
		if err != nil {
			return nil, "", "", err
		}
		return source, "phone_ip_cam", req.URL, nil

	case req.Device != nil:
		source, err := openDevice(*req.Device)
		if err != nil {
			return nil, "", "", err
		}
		return source, "laptop_webcam", fmt.Sprintf("device:%d", *req.Device), nil

	default:
		return nil, "", "", fmt.Errorf("no video source specified")
	}
}

// resolveParams merges request overrides onto the configured defaults.
// A duration cap is converted to a frame cap using the source frame rate.
func (s *Service) resolveParams(req RunRequest, fps float64) RunnerConfig {
	defaults := s.cfg.GetAnalysis()
	cfg := RunnerConfig{
		OutputDir:      defaults.OutputDir,
		MinConfidence:  defaults.ConfThreshold,
		IoUThreshold:   defaults.IoUThreshold,
		GrowthFactor:   defaults.AreaGrowthFactor,
		VehicleClasses: defaults.VehicleClasses,
		MaxFrames:      defaults.MaxFrames,
	}

	if req.ConfThreshold > 0 {
		cfg.MinConfidence = req.ConfThreshold
	}
	if req.IoUThreshold > 0 {
		cfg.IoUThreshold = req.IoUThreshold
	}
	if req.GrowthFactor > 0 {
		cfg.GrowthFactor = req.GrowthFactor
	}
	if req.MaxFrames > 0 {
		cfg.MaxFrames = req.MaxFrames
	}

	duration := req.DurationSeconds
	if duration == 0 {
		duration = defaults.DurationSeconds
	}
	if duration > 0 {
		frames := int(fps * float64(duration))
		if cfg.MaxFrames == 0 || frames < cfg.MaxFrames {
			cfg.MaxFrames = frames
		}
	}

	return cfg
}

// newDetector builds the configured detector backend.
func (s *Service) newDetector() (detection.Detector, error) {
	det := s.cfg.GetDetector()
	switch det.Mode {
	case "dnn":
		return detection.NewDNNDetector(detection.DNNConfig{
			ModelPath:  det.Model.ModelPath,
			ConfigPath: det.Model.ConfigPath,
			LabelsPath: det.Model.LabelsPath,
			InputSize:  det.Model.InputSize,
		})
	case "http", "":
		return detection.NewClient(detection.ClientConfig{
			Address: det.Address,
			Timeout: det.Timeout(),
		})
	default:
		return nil, fmt.Errorf("unknown detector mode: %s", det.Mode)
	}
}
