package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"

	"github.com/roadwatch/roadwatch/internal/analysis"
	"github.com/roadwatch/roadwatch/internal/core"
	"github.com/roadwatch/roadwatch/internal/database"
	"github.com/roadwatch/roadwatch/internal/events"
	"github.com/roadwatch/roadwatch/internal/logging"
)

// Server exposes runs, events, and live streams over HTTP
type Server struct {
	analysis *analysis.Service
	store    *events.Store
	db       *database.DB
	bus      *core.EventBus
	hub      *Hub
	logs     *logging.RingBuffer
	router   *chi.Mux
	logger   *slog.Logger
}

// ServerConfig holds server dependencies and settings
type ServerConfig struct {
	Analysis       *analysis.Service
	Store          *events.Store
	DB             *database.DB
	Bus            *core.EventBus
	Logs           *logging.RingBuffer
	AllowedOrigins []string
}

// NewServer creates the API server and starts the WebSocket hub
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		analysis: cfg.Analysis,
		store:    cfg.Store,
		db:       cfg.DB,
		bus:      cfg.Bus,
		hub:      NewHub(),
		logs:     cfg.Logs,
		logger:   slog.Default().With("component", "api"),
	}

	if s.logs == nil {
		s.logs = logging.GetLogBuffer()
	}

	s.setupRouter(cfg.AllowedOrigins)

	go s.hub.Run()
	go s.forwardEvents()

	if s.bus != nil {
		if _, err := s.bus.Subscribe(core.SubjectRunLifecycle, s.handleRunLifecycle); err != nil {
			s.logger.Warn("Run lifecycle subscription unavailable", "error", err)
		}
	}

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter(allowedOrigins []string) {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleStartRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/events", s.handleListEvents)
		})

		r.Get("/events/ws", s.hub.HandleWebSocket)
		r.Get("/logs/stream", s.handleLogStream)
	})

	s.router = r
}

// forwardEvents relays stored accident events to WebSocket subscribers
func (s *Server) forwardEvents() {
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for ev := range ch {
		s.hub.BroadcastToRun(ev.RunID, AccidentMessage(ev))
	}
}

// handleRunLifecycle relays bus lifecycle events to WebSocket subscribers
func (s *Server) handleRunLifecycle(msg *nats.Msg) {
	var ev core.RunLifecycleEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Warn("Dropping malformed lifecycle event", "subject", msg.Subject, "error", err)
		return
	}

	status := events.RunRunning
	switch ev.Event {
	case "finished":
		status = events.RunCompleted
	case "failed":
		status = events.RunFailed
	}

	s.hub.BroadcastToRun(ev.RunID, RunStateMessage(ev.RunID, status))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if err := s.db.Health(r.Context()); err != nil {
		status = "degraded"
	}
	if s.bus != nil {
		if err := s.bus.HealthCheck(r.Context()); err != nil {
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":%q,"clients":%d}`, status, s.hub.ClientCount())
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req analysis.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Video == "" && req.URL == "" && req.Device == nil {
		BadRequest(w, "one of video, url, or device is required")
		return
	}

	run, err := s.analysis.StartRun(r.Context(), req)
	if err != nil {
		s.logger.Error("Failed to start run", "error", err)
		BadRequest(w, err.Error())
		return
	}

	Created(w, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := events.ListOptions{
		Status: events.RunStatus(r.URL.Query().Get("status")),
	}

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	perPage := 50
	if pp, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && pp > 0 {
		perPage = pp
	}
	opts.Limit = perPage
	opts.Offset = (page - 1) * perPage

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list runs", "error", err)
		InternalError(w, "failed to list runs")
		return
	}

	List(w, runs, total, page, perPage)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, events.ErrNotFound) {
		NotFound(w, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to get run", "id", id, "error", err)
		InternalError(w, "failed to get run")
		return
	}

	OK(w, run)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, events.ErrNotFound) {
			NotFound(w, "run not found")
			return
		}
		s.logger.Error("Failed to get run", "id", id, "error", err)
		InternalError(w, "failed to get run")
		return
	}

	list, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list events", "run", id, "error", err)
		InternalError(w, "failed to list events")
		return
	}

	OK(w, list)
}

// handleLogStream provides Server-Sent Events for live log streaming
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Replay recent entries first
	for _, entry := range s.logs.GetRecent(50) {
		fmt.Fprintf(w, "data: %s\n\n", logging.LogEntryToJSON(entry))
	}
	flusher.Flush()

	ch := s.logs.Subscribe()
	defer s.logs.Unsubscribe(ch)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", logging.LogEntryToJSON(entry))
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
