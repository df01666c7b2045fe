package analysis

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// AccidentEvent is one detected event. Immutable once created; it lives
// for the duration of the run's log.
type AccidentEvent struct {
	// EventID is a strictly increasing counter starting at 1, assigned in
	// detection order.
	EventID int `json:"event_id"`
	// Frame is the 1-based index of the event frame.
	Frame int `json:"frame"`
	// TimeSeconds is the elapsed time, rounded to 2 decimals.
	TimeSeconds float64 `json:"time_seconds"`
	// TimeHHMMSS is the elapsed time formatted H:MM:SS.
	TimeHHMMSS string `json:"time_hhmmss"`
	// SnapshotPath is where the annotated frame was written.
	SnapshotPath string `json:"snapshot_path"`
}

// csvHeader is the fixed column order of the rendered log.
var csvHeader = []string{"event_id", "frame", "time_seconds", "time_hhmmss", "snapshot_path"}

// EventLog is an append-only sequence of accident events in detection
// order. Owned by the single processing goroutine of a run.
type EventLog struct {
	events []AccidentEvent
}

// Append adds an event to the log.
func (l *EventLog) Append(ev AccidentEvent) {
	l.events = append(l.events, ev)
}

// Count returns the number of collected events.
func (l *EventLog) Count() int {
	return len(l.events)
}

// Events returns the collected events in detection order.
func (l *EventLog) Events() []AccidentEvent {
	return l.events
}

// WriteCSV renders the log as CSV. The header row is always written, even
// when no events were collected.
func (l *EventLog) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, ev := range l.events {
		record := []string{
			strconv.Itoa(ev.EventID),
			strconv.Itoa(ev.Frame),
			strconv.FormatFloat(ev.TimeSeconds, 'f', -1, 64),
			ev.TimeHHMMSS,
			ev.SnapshotPath,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// elapsed converts a 1-based frame index to raw elapsed seconds. When
// fps is non-positive the frame index itself is used instead.
func elapsed(frame int, fps float64) float64 {
	if fps > 0 {
		return float64(frame) / fps
	}
	return float64(frame)
}

// ElapsedSeconds converts a 1-based frame index to elapsed seconds,
// rounded to 2 decimals.
func ElapsedSeconds(frame int, fps float64) float64 {
	return math.Round(elapsed(frame, fps)*100) / 100
}

// FormatHHMMSS renders whole elapsed seconds as H:MM:SS.
func FormatHHMMSS(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
