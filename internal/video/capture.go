package video

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gocv.io/x/gocv"
)

// Capture is an OpenCV-backed frame source. It wraps a single
// gocv.VideoCapture and is not safe for concurrent use; the run driver
// pulls frames from exactly one goroutine.
type Capture struct {
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	fps    float64
	index  int64
	label  string
	logger *slog.Logger
}

// OpenFile opens a video file for frame-by-frame decoding.
func OpenFile(path string) (*Capture, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file not found: %s", path)
	}

	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file %s: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("could not open video file: %s", path)
	}

	return newCapture(cap, path, false), nil
}

// OpenDevice opens a local capture device (webcam) by index.
func OpenDevice(index int) (*Capture, error) {
	cap, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", index, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("could not open capture device %d", index)
	}

	return newCapture(cap, fmt.Sprintf("device:%d", index), true), nil
}

// OpenStream opens a network camera stream (e.g. an IP Webcam URL on the
// same network, http://192.168.1.5:8080/video).
func OpenStream(url string) (*Capture, error) {
	if url == "" {
		return nil, fmt.Errorf("stream URL is empty")
	}

	cap, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera stream %s: %w", url, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("could not open camera stream: %s", url)
	}

	return newCapture(cap, url, true), nil
}

func newCapture(cap *gocv.VideoCapture, label string, live bool) *Capture {
	reported := cap.Get(gocv.VideoCaptureFPS)
	fps := NormalizeFPS(reported, live)

	logger := slog.Default().With("component", "capture")
	if fps != reported {
		logger.Info("Using fallback frame rate", "source", label, "reported", reported, "fps", fps)
	}

	return &Capture{
		cap:    cap,
		mat:    gocv.NewMat(),
		fps:    fps,
		label:  label,
		logger: logger,
	}
}

// Next reads and encodes the next frame. Returns io.EOF when the source
// stops yielding frames; a mid-stream read failure is treated the same way.
func (c *Capture) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, io.EOF
	}

	buf, err := gocv.IMEncode(".jpg", c.mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	c.index++
	return &Frame{
		Index:     c.index,
		Data:      data,
		Width:     c.mat.Cols(),
		Height:    c.mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// FPS returns the normalized nominal frame rate.
func (c *Capture) FPS() float64 {
	return c.fps
}

// Close releases the capture and its scratch buffer.
func (c *Capture) Close() error {
	if err := c.mat.Close(); err != nil {
		return err
	}
	return c.cap.Close()
}
