package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestRingBufferAddAndGetRecent(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(LogEntry{Message: string(rune('a' + i)), Time: time.Now()})
	}

	recent := rb.GetRecent(3)
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(recent))
	}

	// Oldest two entries were overwritten
	want := []string{"c", "d", "e"}
	for i, entry := range recent {
		if entry.Message != want[i] {
			t.Errorf("Entry %d = %q, want %q", i, entry.Message, want[i])
		}
	}
}

func TestRingBufferGetRecentFewerThanRequested(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Add(LogEntry{Message: "only"})

	recent := rb.GetRecent(5)
	if len(recent) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(recent))
	}
}

func TestRingBufferSubscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	ch := rb.Subscribe()
	defer rb.Unsubscribe(ch)

	rb.Add(LogEntry{Message: "hello"})

	select {
	case entry := <-ch:
		if entry.Message != "hello" {
			t.Errorf("Unexpected entry: %q", entry.Message)
		}
	case <-time.After(time.Second):
		t.Error("Subscriber did not receive entry")
	}
}

func TestStreamHandlerCapturesComponent(t *testing.T) {
	rb := NewRingBuffer(10)
	var out bytes.Buffer
	handler := NewStreamHandler(rb, &out, slog.LevelInfo, "json")

	logger := slog.New(handler).With("component", "runner")
	logger.Info("Processing frame", "frame", 50)

	recent := rb.GetRecent(1)
	if len(recent) != 1 {
		t.Fatal("Expected a captured entry")
	}
	if recent[0].Component != "runner" {
		t.Errorf("Component = %q, want 'runner'", recent[0].Component)
	}
	if recent[0].Message != "Processing frame" {
		t.Errorf("Message = %q", recent[0].Message)
	}
	if out.Len() == 0 {
		t.Error("Fallback handler received nothing")
	}
}

func TestStreamHandlerLevelFilter(t *testing.T) {
	rb := NewRingBuffer(10)
	var out bytes.Buffer
	handler := NewStreamHandler(rb, &out, slog.LevelWarn, "json")

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("Error should be enabled at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
