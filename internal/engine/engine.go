// ABOUTME: Reservation engine composing store, resolver, heartbeat and preemption
// ABOUTME: Public request, cancel and heartbeat operations with event emission

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-actuator/internal/clock"
	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/heartbeat"
	"github.com/2389/coven-actuator/internal/preempt"
	"github.com/2389/coven-actuator/internal/reservation"
	"github.com/2389/coven-actuator/internal/resolver"
	"github.com/2389/coven-actuator/internal/schedule"
)

// Config holds the engine tunables.
type Config struct {
	HeartbeatInterval      time.Duration
	PreemptGraceTime       time.Duration
	HeartbeatMissThreshold int
}

// DefaultConfig returns the stock tunables: 20s heartbeats, 30s grace, one tolerated miss.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:      20 * time.Second,
		PreemptGraceTime:       30 * time.Second,
		HeartbeatMissThreshold: heartbeat.DefaultMissThreshold,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.PreemptGraceTime < 0 {
		return errors.New("preempt grace time must not be negative")
	}
	if c.HeartbeatMissThreshold < 0 {
		return errors.New("heartbeat miss threshold must not be negative")
	}
	return nil
}

// Engine arbitrates exclusive access to devices.
type Engine struct {
	cfg        Config
	clock      clock.Clock
	store      *schedule.Store
	heartbeats *heartbeat.Monitor
	preemption *preempt.Manager
	publisher  events.Publisher
	logger     *slog.Logger
	locks      *deviceLocks
	newID      func() string
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPublisher sets the event sink. Defaults to events.Discard.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator overrides reservation ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an Engine with its own empty schedule.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		clock:     clock.Real(),
		store:     schedule.New(),
		publisher: events.Discard,
		logger:    slog.Default(),
		locks:     newDeviceLocks(),
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	e.heartbeats = heartbeat.NewMonitor(heartbeat.Config{
		Interval:      cfg.HeartbeatInterval,
		MissThreshold: cfg.HeartbeatMissThreshold,
	})
	e.preemption = preempt.NewManager(cfg.PreemptGraceTime)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RequestReservation resolves a request against the device schedule and
// applies the outcome. Denials are returned as decisions with a nil error;
// errors are reserved for malformed requests and invariant breaches.
func (e *Engine) RequestReservation(ctx context.Context, req reservation.Request) (reservation.Decision, error) {
	if err := req.Validate(); err != nil {
		return reservation.Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return reservation.Decision{}, err
	}

	unlock := e.locks.lock(req.DeviceID)
	defer unlock()

	now := e.clock.Now()

	if existing, err := e.store.FindTask(req.TaskID); err == nil {
		return e.deny(req, reservation.Deny(reservation.DenyTaskIDExists, existing.ID), now), nil
	}
	if !req.End.After(now) {
		return e.deny(req, reservation.Deny(reservation.DenyWindowExpired), now), nil
	}

	decision := resolver.Resolve(req, e.store.QueryOverlapping(req.DeviceID, req.Start, req.End))
	if decision.Outcome == reservation.OutcomeDeny {
		return e.deny(req, decision, now), nil
	}

	r := &reservation.Reservation{
		ID:          e.newID(),
		DeviceID:    req.DeviceID,
		RequesterID: req.RequesterID,
		TaskID:      req.TaskID,
		Start:       req.Start,
		End:         req.End,
		Priority:    req.Priority,
		State:       reservation.StatePending,
		CreatedAt:   now,
	}
	if err := e.store.Add(r); err != nil {
		if reservation.IsOverlap(err) {
			e.reportInvariant(req.DeviceID, err, now)
		}
		return reservation.Decision{}, fmt.Errorf("committing reservation: %w", err)
	}

	e.emit(events.TypeGranted, r, now, func(ev *events.Event) {
		ev.Reason = string(decision.Outcome)
		ev.Related = decision.Victims
	})
	e.logger.Info("reservation granted",
		"reservation_id", r.ID,
		"device_id", r.DeviceID,
		"requester_id", r.RequesterID,
		"task_id", r.TaskID,
		"priority", r.Priority,
		"outcome", decision.Outcome,
		"victims", len(decision.Victims),
	)

	// Holders join their grace timers before any pending victim is revoked:
	// revoking a queued preemptor must not abort a timer r now waits on.
	var pending []string
	for _, victimID := range decision.Victims {
		if v, err := e.store.Get(victimID); err == nil && v.State == reservation.StatePending {
			pending = append(pending, victimID)
			continue
		}
		e.preemptLocked(victimID, r, now)
	}
	for _, victimID := range pending {
		e.preemptLocked(victimID, r, now)
	}
	e.promoteLocked(r.DeviceID, now)

	if committed, err := e.store.Get(r.ID); err == nil {
		decision.Reservation = committed
	}
	return decision, nil
}

// CancelReservation ends a reservation on behalf of its owner. A reservation
// being preempted is released voluntarily and revoked at once; pending and
// active reservations are cancelled. Cancelling an unknown or already ended
// reservation reports ErrNotFound and changes nothing.
func (e *Engine) CancelReservation(ctx context.Context, requesterID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if r.RequesterID != requesterID {
		return reservation.ErrNotOwner
	}

	unlock := e.locks.lock(r.DeviceID)
	defer unlock()

	// state may have moved while we waited for the lock
	r, err = e.store.Get(id)
	if err != nil {
		return err
	}
	now := e.clock.Now()

	switch r.State {
	case reservation.StatePreempting:
		var preemptors []string
		if g, ok := e.preemption.Get(r.ID); ok {
			preemptors = g.Preemptors
		}
		e.logger.Info("preempted reservation released early", "reservation_id", r.ID, "device_id", r.DeviceID)
		e.revokeLocked(r, reservation.ReasonPreempted, now, preemptors...)
	case reservation.StatePending, reservation.StateActive:
		e.heartbeats.Untrack(r.ID)
		e.finishLocked(r, reservation.StateCancelled, now)
		e.emit(events.TypeCancelled, r, now, nil)
		e.logger.Info("reservation cancelled", "reservation_id", r.ID, "device_id", r.DeviceID, "state", r.State)
		e.withdrawLocked(r.ID, now)
	default:
		return reservation.ErrNotFound
	}

	e.promoteLocked(r.DeviceID, now)
	return nil
}

// Heartbeat records a liveness signal for the reservation holding taskID.
// Heartbeats for reservations that are not ACTIVE are accepted and ignored.
func (e *Engine) Heartbeat(ctx context.Context, requesterID, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := e.store.FindTask(taskID)
	if err != nil {
		return err
	}
	if r.RequesterID != requesterID {
		return reservation.ErrNotOwner
	}
	if !e.heartbeats.Record(r.ID, e.clock.Now()) {
		e.logger.Debug("heartbeat for untracked reservation", "reservation_id", r.ID, "state", r.State)
	}
	return nil
}

// Get returns a reservation by ID.
func (e *Engine) Get(id string) (*reservation.Reservation, error) {
	return e.store.Get(id)
}

// ListByDevice returns the schedule of a device.
func (e *Engine) ListByDevice(deviceID string) []*reservation.Reservation {
	return e.store.ListByDevice(deviceID)
}

// ListByRequester returns the reservations held by a requester.
func (e *Engine) ListByRequester(requesterID string) []*reservation.Reservation {
	return e.store.ListByRequester(requesterID)
}

// Devices returns the devices that currently have reservations.
func (e *Engine) Devices() []string {
	return e.store.Devices()
}

// HeartbeatStatus returns the liveness record of an ACTIVE reservation.
func (e *Engine) HeartbeatStatus(id string) (heartbeat.Status, bool) {
	return e.heartbeats.Status(id)
}

// GraceDeadline returns the forced-revocation deadline of a reservation being preempted.
func (e *Engine) GraceDeadline(id string) (time.Time, bool) {
	g, ok := e.preemption.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return g.Deadline, true
}

func (e *Engine) deny(req reservation.Request, d reservation.Decision, now time.Time) reservation.Decision {
	ev := events.New(events.TypeDenied, req.DeviceID, now)
	ev.RequesterID = req.RequesterID
	ev.TaskID = req.TaskID
	ev.Priority = req.Priority
	ev.Start, ev.End = timePtr(req.Start), timePtr(req.End)
	ev.Reason = string(d.Reason)
	ev.Related = d.Conflicts
	e.publisher.Publish(ev)

	e.logger.Info("reservation denied",
		"device_id", req.DeviceID,
		"requester_id", req.RequesterID,
		"task_id", req.TaskID,
		"reason", d.Reason,
		"conflicts", d.Conflicts,
	)
	return d
}

// emit publishes an event describing r. mutate may fill type-specific fields.
func (e *Engine) emit(typ events.Type, r *reservation.Reservation, now time.Time, mutate func(*events.Event)) {
	ev := events.New(typ, r.DeviceID, now)
	ev.ReservationID = r.ID
	ev.RequesterID = r.RequesterID
	ev.TaskID = r.TaskID
	ev.Priority = r.Priority
	ev.Start, ev.End = timePtr(r.Start), timePtr(r.End)
	if mutate != nil {
		mutate(&ev)
	}
	e.publisher.Publish(ev)
}

// reportInvariant surfaces a consistency breach for operator attention. The
// offending change has already been rejected.
func (e *Engine) reportInvariant(deviceID string, err error, now time.Time) {
	e.logger.Error("schedule invariant violation", "device_id", deviceID, "error", err)

	ev := events.New(events.TypeInvariantViolation, deviceID, now)
	ev.Reason = err.Error()
	var oe *reservation.OverlapError
	if errors.As(err, &oe) {
		ev.ReservationID = oe.Reservation
		ev.Related = []string{oe.Conflicting}
	}
	e.publisher.Publish(ev)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
