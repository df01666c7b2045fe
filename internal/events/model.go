// Package events persists analysis runs and their accident events
package events

import (
	"time"
)

// RunStatus represents the lifecycle state of an analysis run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run represents one analysis pass over a video source
type Run struct {
	ID              string     `json:"id"`
	BaseName        string     `json:"base_name"`
	Source          string     `json:"source"`
	FPS             float64    `json:"fps"`
	ConfThreshold   float64    `json:"conf_thres"`
	IoUThreshold    float64    `json:"iou_thres"`
	GrowthFactor    float64    `json:"growth_factor"`
	MaxFrames       int        `json:"max_frames"`
	FramesProcessed int        `json:"frames_processed"`
	EventCount      int        `json:"event_count"`
	CSVPath         string     `json:"csv_path,omitempty"`
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Event represents one detected accident within a run
type Event struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	EventID      int       `json:"event_id"`
	Frame        int       `json:"frame"`
	TimeSeconds  float64   `json:"time_seconds"`
	TimeHHMMSS   string    `json:"time_hhmmss"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListOptions represents filters for querying runs
type ListOptions struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}
