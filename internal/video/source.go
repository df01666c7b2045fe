// Package video provides frame sources for analysis runs: decoded video
// files, local capture devices, and network camera streams.
package video

import (
	"context"
	"time"
)

// Default frame rates substituted when a source reports a non-positive
// or implausible rate.
const (
	DefaultFileFPS = 25.0
	DefaultLiveFPS = 15.0

	// MaxPlausibleFPS is the highest rate a source is trusted to report.
	MaxPlausibleFPS = 120.0
)

// Frame is a single decoded video frame, JPEG-encoded.
type Frame struct {
	Index     int64
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Source produces a lazy sequence of frames. Next returns io.EOF once the
// source is exhausted; a source cannot be restarted, only recreated.
type Source interface {
	// Next blocks until the next frame is available or the source ends.
	Next(ctx context.Context) (*Frame, error)

	// FPS returns the nominal frame rate, used only for timestamps.
	FPS() float64

	// Close releases the underlying capture.
	Close() error
}

// NormalizeFPS replaces a non-positive or implausibly high reported rate
// with the fallback for the source kind.
func NormalizeFPS(reported float64, live bool) float64 {
	if reported > 0 && reported <= MaxPlausibleFPS {
		return reported
	}
	if live {
		return DefaultLiveFPS
	}
	return DefaultFileFPS
}
