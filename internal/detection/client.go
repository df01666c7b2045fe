package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roadwatch/roadwatch/internal/geometry"
	"github.com/roadwatch/roadwatch/internal/video"
)

// Client is an HTTP client for an external detection service.
type Client struct {
	mu         sync.RWMutex
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	// Stats
	requestCount int64
	errorCount   int64
	totalLatency time.Duration
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	Address string
	Timeout time.Duration
}

// NewClient creates a new detection service client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("detection service address is empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: fmt.Sprintf("http://%s", cfg.Address),
		logger:  slog.Default().With("component", "detection_client"),
	}, nil
}

// Detect sends a frame for detection. The service applies the confidence
// threshold and returns boxes in absolute pixel coordinates.
func (c *Client) Detect(ctx context.Context, frame *video.Frame, minConfidence float64) ([]Detection, error) {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()

	start := time.Now()

	body := map[string]interface{}{
		"min_confidence": minConfidence,
		"image_data":     base64.StdEncoding.EncodeToString(frame.Data),
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/detect", bytes.NewReader(jsonBody))
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	c.mu.Lock()
	c.totalLatency += latency
	c.mu.Unlock()

	var result struct {
		Success    bool   `json:"success"`
		Error      string `json:"error"`
		Detections []struct {
			Label      string  `json:"label"`
			Confidence float64 `json:"confidence"`
			BBox       struct {
				X1 float64 `json:"x1"`
				Y1 float64 `json:"y1"`
				X2 float64 `json:"x2"`
				Y2 float64 `json:"y2"`
			} `json:"bbox"`
		} `json:"detections"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !result.Success && result.Error != "" {
		return nil, fmt.Errorf("detection failed: %s", result.Error)
	}

	detections := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		detections = append(detections, Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box: geometry.Box{
				X1: d.BBox.X1,
				Y1: d.BBox.Y1,
				X2: d.BBox.X2,
				Y2: d.BBox.Y2,
			},
		})
	}

	return detections, nil
}

func (c *Client) recordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// Stats returns client statistics.
func (c *Client) Stats() (requests int64, errors int64, avgLatency time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	requests = c.requestCount
	errors = c.errorCount
	if requests > 0 {
		avgLatency = c.totalLatency / time.Duration(requests)
	}
	return
}

// Close closes the client connection.
func (c *Client) Close() error {
	// HTTP client doesn't need explicit closing
	return nil
}
