// ABOUTME: HTTP API server exposing the reservation engine over JSON and SSE
// ABOUTME: Routes are registered on a chi router with request logging and panic recovery

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/coven-actuator/internal/auth"
	"github.com/2389/coven-actuator/internal/dedupe"
	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/heartbeat"
	"github.com/2389/coven-actuator/internal/reservation"
	"github.com/2389/coven-actuator/internal/store"
)

// Scheduler is the engine surface used by the handlers.
type Scheduler interface {
	RequestReservation(ctx context.Context, req reservation.Request) (reservation.Decision, error)
	CancelReservation(ctx context.Context, requesterID, id string) error
	Heartbeat(ctx context.Context, requesterID, taskID string) error
	Get(id string) (*reservation.Reservation, error)
	ListByDevice(deviceID string) []*reservation.Reservation
	ListByRequester(requesterID string) []*reservation.Reservation
	GraceDeadline(id string) (time.Time, bool)
	HeartbeatStatus(id string) (heartbeat.Status, bool)
}

// EventSource delivers live events for a device topic or events.AllDevices.
type EventSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan events.Event, string)
}

// Server is the coven-actuator HTTP API.
type Server struct {
	router      chi.Router
	logger      *slog.Logger
	scheduler   Scheduler
	events      EventSource
	ledger      store.Store
	idempotency *dedupe.Cache
	verifier    auth.TokenVerifier
	keepAlive   time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithLedger enables GET /api/ledger and the readiness check against the store.
func WithLedger(s store.Store) Option {
	return func(srv *Server) { srv.ledger = s }
}

// WithIdempotency enables Idempotency-Key handling on reservation requests.
func WithIdempotency(c *dedupe.Cache) Option {
	return func(srv *Server) { srv.idempotency = c }
}

// WithVerifier requires bearer tokens signed for the verifier.
func WithVerifier(v auth.TokenVerifier) Option {
	return func(srv *Server) { srv.verifier = v }
}

// WithKeepAlive sets the SSE keepalive comment interval.
func WithKeepAlive(d time.Duration) Option {
	return func(srv *Server) { srv.keepAlive = d }
}

// New creates a Server with all routes registered.
func New(sched Scheduler, source EventSource, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "api"),
		scheduler: sched,
		events:    source,
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(s.verifier, s.logger))

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", s.handleCreateReservation)
			r.Get("/", s.handleMyReservations)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetReservation)
				r.Delete("/", s.handleCancelReservation)
			})
		})
		r.Post("/heartbeats", s.handleHeartbeat)
		r.Get("/devices/{device}/schedule", s.handleDeviceSchedule)
		r.Get("/requesters/{requester}/reservations", s.handleRequesterReservations)
		r.Get("/events", s.handleEvents)
		r.Get("/ledger", s.handleLedger)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the ledger database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ledger != nil {
		if _, err := s.ledger.CountEvents(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("ledger unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
