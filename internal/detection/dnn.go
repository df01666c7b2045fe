package detection

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/roadwatch/roadwatch/internal/geometry"
	"github.com/roadwatch/roadwatch/internal/video"
)

// DNNDetector runs detection in-process through the OpenCV DNN module.
// The network is loaded once at construction and shared for the lifetime
// of the detector; Detect serializes forward passes with a mutex.
type DNNDetector struct {
	mu        sync.Mutex
	net       gocv.Net
	classes   []string
	inputSize image.Point
	logger    *slog.Logger
}

// DNNConfig holds the model files for the DNN detector.
type DNNConfig struct {
	ModelPath  string
	ConfigPath string
	LabelsPath string
	InputSize  int
}

// NewDNNDetector loads the detection network and its class labels.
func NewDNNDetector(cfg DNNConfig) (*DNNDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return nil, fmt.Errorf("model config file not found: %s", cfg.ConfigPath)
		}
	}

	classes, err := loadClassLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection network from %s", cfg.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set network backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set network target: %w", err)
	}

	size := cfg.InputSize
	if size <= 0 {
		size = 300
	}

	logger := slog.Default().With("component", "dnn_detector")
	logger.Info("Detection network loaded", "model", cfg.ModelPath, "classes", len(classes))

	return &DNNDetector{
		net:       net,
		classes:   classes,
		inputSize: image.Pt(size, size),
		logger:    logger,
	}, nil
}

// Detect runs a forward pass on the frame and returns detections above
// minConfidence with boxes scaled to pixel coordinates.
func (d *DNNDetector) Detect(ctx context.Context, frame *video.Frame, minConfidence float64) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, d.inputSize, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	cols := float32(mat.Cols())
	rows := float32(mat.Rows())

	var detections []Detection

	// Output rows are [batch, class_id, confidence, x1, y1, x2, y2] with
	// normalized coordinates.
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		confidence := float64(reshaped.GetFloatAt(i, 2))
		if confidence < minConfidence {
			continue
		}

		classID := int(reshaped.GetFloatAt(i, 1))
		detections = append(detections, Detection{
			Label:      d.classLabel(classID),
			Confidence: confidence,
			Box: geometry.Box{
				X1: float64(reshaped.GetFloatAt(i, 3) * cols),
				Y1: float64(reshaped.GetFloatAt(i, 4) * rows),
				X2: float64(reshaped.GetFloatAt(i, 5) * cols),
				Y2: float64(reshaped.GetFloatAt(i, 6) * rows),
			},
		})
	}

	return detections, nil
}

func (d *DNNDetector) classLabel(id int) string {
	if id >= 0 && id < len(d.classes) {
		return d.classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// loadClassLabels reads one class name per line.
func loadClassLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer f.Close()

	var classes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			classes = append(classes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("labels file is empty: %s", path)
	}

	return classes, nil
}
