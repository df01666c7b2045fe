package analysis

import (
	"bytes"
	"strings"
	"testing"
)

func TestEventLog_WriteCSV_HeaderOnly(t *testing.T) {
	var log EventLog
	var buf bytes.Buffer

	if err := log.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected header row only, got %d lines", len(lines))
	}
	if lines[0] != "event_id,frame,time_seconds,time_hhmmss,snapshot_path" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
}

func TestEventLog_WriteCSV_Rows(t *testing.T) {
	var log EventLog
	log.Append(AccidentEvent{
		EventID:      1,
		Frame:        2,
		TimeSeconds:  0.08,
		TimeHHMMSS:   "0:00:00",
		SnapshotPath: "outputs/frames/clip_accident_1_frame_2.jpg",
	})
	log.Append(AccidentEvent{
		EventID:      2,
		Frame:        75,
		TimeSeconds:  3,
		TimeHHMMSS:   "0:00:03",
		SnapshotPath: "outputs/frames/clip_accident_2_frame_75.jpg",
	})

	var buf bytes.Buffer
	if err := log.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[1] != "1,2,0.08,0:00:00,outputs/frames/clip_accident_1_frame_2.jpg" {
		t.Errorf("Unexpected first row: %s", lines[1])
	}
	if lines[2] != "2,75,3,0:00:03,outputs/frames/clip_accident_2_frame_75.jpg" {
		t.Errorf("Unexpected second row: %s", lines[2])
	}
}

func TestEventLog_Count(t *testing.T) {
	var log EventLog
	if log.Count() != 0 {
		t.Errorf("Expected 0 events, got %d", log.Count())
	}
	log.Append(AccidentEvent{EventID: 1})
	if log.Count() != 1 {
		t.Errorf("Expected 1 event, got %d", log.Count())
	}
}

func TestElapsedSeconds(t *testing.T) {
	tests := []struct {
		name     string
		frame    int
		fps      float64
		expected float64
	}{
		{"25 fps", 2, 25, 0.08},
		{"25 fps whole second", 75, 25, 3},
		{"rounding", 1, 3, 0.33},
		{"zero fps uses frame index", 7, 0, 7},
		{"negative fps uses frame index", 7, -5, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ElapsedSeconds(tt.frame, tt.fps)
			if got != tt.expected {
				t.Errorf("ElapsedSeconds(%d, %f) = %f, want %f", tt.frame, tt.fps, got, tt.expected)
			}
		})
	}
}

func TestFormatHHMMSS(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "0:00:00"},
		{2.9, "0:00:02"},
		{59, "0:00:59"},
		{60, "0:01:00"},
		{3661, "1:01:01"},
		{7322.5, "2:02:02"},
	}

	for _, tt := range tests {
		if got := FormatHHMMSS(tt.seconds); got != tt.expected {
			t.Errorf("FormatHHMMSS(%f) = %s, want %s", tt.seconds, got, tt.expected)
		}
	}
}
