// Package core provides the service's internal messaging infrastructure.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects published by the analysis pipeline
const (
	SubjectRunStarted       = "runs.lifecycle.started"
	SubjectRunFinished      = "runs.lifecycle.finished"
	SubjectRunFailed        = "runs.lifecycle.failed"
	SubjectRunLifecycle     = "runs.lifecycle.*"
	SubjectAccidentDetected = "accident.detected"
)

// RunLifecycleEvent is published when a run starts or ends
type RunLifecycleEvent struct {
	RunID     string    `json:"run_id"`
	Event     string    `json:"event"` // "started", "finished", "failed"
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// EventBus provides pub/sub messaging using an embedded NATS server
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server (default: 4222)
	Port int
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Host: "127.0.0.1",
		Port: 4222,
	}
}

// NewEventBus starts an embedded NATS server and connects to it
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 4222
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	logger.Info("Event bus started", "url", ns.ClientURL())

	return eb, nil
}

// Conn returns the NATS connection for direct use
func (eb *EventBus) Conn() *nats.Conn {
	return eb.conn
}

// ClientURL returns the NATS client URL
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish publishes a message to a subject
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// Unsubscribe removes all subscriptions for a subject
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// PublishRunStarted publishes a run started event
func (eb *EventBus) PublishRunStarted(runID string) error {
	return eb.Publish(SubjectRunStarted, RunLifecycleEvent{
		RunID:     runID,
		Event:     "started",
		Timestamp: time.Now(),
	})
}

// PublishRunFinished publishes a run finished event
func (eb *EventBus) PublishRunFinished(runID string) error {
	return eb.Publish(SubjectRunFinished, RunLifecycleEvent{
		RunID:     runID,
		Event:     "finished",
		Timestamp: time.Now(),
	})
}

// PublishRunFailed publishes a run failed event
func (eb *EventBus) PublishRunFailed(runID string, err error) error {
	return eb.Publish(SubjectRunFailed, RunLifecycleEvent{
		RunID:     runID,
		Event:     "failed",
		Timestamp: time.Now(),
		Error:     err.Error(),
	})
}

// HealthCheck verifies the bus connection is alive
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}

	_, err := eb.conn.Request("_health", []byte("ping"), 2*time.Second)
	if err == nats.ErrNoResponders {
		return nil
	}
	return err
}

// Stop shuts down the event bus
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}
