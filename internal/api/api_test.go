// ABOUTME: Tests for the HTTP API handlers
// ABOUTME: Exercises reservations, heartbeats, schedules, ledger and auth with httptest

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-actuator/internal/auth"
	"github.com/2389/coven-actuator/internal/clock"
	"github.com/2389/coven-actuator/internal/dedupe"
	"github.com/2389/coven-actuator/internal/engine"
	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/store"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	server      *Server
	engine      *engine.Engine
	clock       *clock.Manual
	broadcaster *events.Broadcaster
	ledger      *store.MockStore
	idempotency *dedupe.Cache
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	clk := clock.NewManual(t0)
	ledger := store.NewMockStore()
	broadcaster := events.NewBroadcaster(logger)
	t.Cleanup(broadcaster.Close)

	persist := events.PublisherFunc(func(e events.Event) {
		le, err := store.NewLedgerEvent(e)
		if err == nil {
			_ = ledger.SaveEvent(context.Background(), le)
		}
	})

	eng, err := engine.New(engine.DefaultConfig(),
		engine.WithClock(clk),
		engine.WithLogger(logger),
		engine.WithPublisher(events.Multi(broadcaster, persist)),
	)
	require.NoError(t, err)

	cache := dedupe.New(time.Minute, 100, dedupe.WithClock(clk))
	t.Cleanup(cache.Close)

	opts = append([]Option{WithLedger(ledger), WithIdempotency(cache)}, opts...)
	srv := New(eng, broadcaster, logger, opts...)
	return &testEnv{server: srv, engine: eng, clock: clk, broadcaster: broadcaster, ledger: ledger, idempotency: cache}
}

func (e *testEnv) do(t *testing.T, method, path, requester string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if requester != "" {
		req.Header.Set(auth.RequesterHeader, requester)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func reserve(device, task string, startSec, endSec, priority int) ReservationRequest {
	return ReservationRequest{
		DeviceID: device,
		TaskID:   task,
		Start:    t0.Add(time.Duration(startSec) * time.Second),
		End:      t0.Add(time.Duration(endSec) * time.Second),
		Priority: priority,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresRequester(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/reservations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateReservation_Grant(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[DecisionResponse](t, rec)
	assert.Equal(t, "GRANT", resp.Outcome)
	require.NotNil(t, resp.Reservation)
	assert.Equal(t, "alice", resp.Reservation.RequesterID)
	assert.Equal(t, "ACTIVE", resp.Reservation.State)
	assert.Equal(t, "ALIVE", resp.Reservation.Liveness)

	rec = env.do(t, http.MethodGet, "/api/reservations/"+resp.Reservation.ID, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ReservationResponse](t, rec)
	assert.Equal(t, "t1", got.TaskID)
}

func TestCreateReservation_DenyAndPreempt(t *testing.T) {
	env := newTestEnv(t)

	first := decode[DecisionResponse](t, env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 5)))

	rec := env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D1", "t2", 10, 50, 5))
	require.Equal(t, http.StatusOK, rec.Code)
	deny := decode[DecisionResponse](t, rec)
	assert.Equal(t, "DENY", deny.Outcome)
	assert.Equal(t, "SCHEDULE_CONFLICT", deny.Reason)
	assert.Equal(t, []string{first.Reservation.ID}, deny.Conflicts)
	assert.Nil(t, deny.Reservation)

	rec = env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D1", "t3", 10, 50, 9))
	require.Equal(t, http.StatusCreated, rec.Code)
	preempt := decode[DecisionResponse](t, rec)
	assert.Equal(t, "PREEMPT_AND_GRANT", preempt.Outcome)
	assert.Equal(t, []string{first.Reservation.ID}, preempt.Victims)

	rec = env.do(t, http.MethodGet, "/api/reservations/"+first.Reservation.ID, "alice", nil)
	victim := decode[ReservationResponse](t, rec)
	assert.Equal(t, "PREEMPTING", victim.State)
	require.NotNil(t, victim.GraceDeadline)
	assert.Equal(t, t0.Add(30*time.Second), *victim.GraceDeadline)
}

func TestCreateReservation_BadInput(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reservations", bytes.NewReader([]byte("{not json")))
	req.Header.Set(auth.RequesterHeader, "alice")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 50, 10, 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "interval", body["field"])
}

func TestCreateReservation_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 1), IdempotencyHeader, "k1")
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[DecisionResponse](t, rec)

	rec = env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 1), IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, first.Reservation.ID, body["reservation_id"])

	// keys are scoped to the requester
	rec = env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D2", "t2", 0, 100, 1), IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusCreated, rec.Code)

	// a rejected request frees its key
	rec = env.do(t, http.MethodPost, "/api/reservations", "carol", reserve("D3", "", 0, 100, 1), IdempotencyHeader, "k9")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/reservations", "carol", reserve("D3", "t3", 0, 100, 1), IdempotencyHeader, "k9")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateReservation_IdempotencyKeyDenied(t *testing.T) {
	env := newTestEnv(t)

	holder := decode[DecisionResponse](t, env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 5)))

	rec := env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D1", "t2", 0, 100, 1), IdempotencyHeader, "k1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", decode[DecisionResponse](t, rec).Outcome)

	// a denial does not consume the key
	rec = env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D1", "t2", 0, 100, 1), IdempotencyHeader, "k1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", decode[DecisionResponse](t, rec).Outcome)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/reservations/"+holder.Reservation.ID, "alice", nil).Code)
	rec = env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D1", "t2", 0, 100, 1), IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateReservation_IdempotencyKeyInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.idempotency.Mark("dave:k1")

	rec := env.do(t, http.MethodPost, "/api/reservations", "dave", reserve("D1", "t1", 0, 100, 1), IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Contains(t, body["error"], "in progress")
	_, hasID := body["reservation_id"]
	assert.False(t, hasID)
	assert.Empty(t, env.engine.ListByDevice("D1"))
}

func TestCancelReservation(t *testing.T) {
	env := newTestEnv(t)

	res := decode[DecisionResponse](t, env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 1)))
	path := "/api/reservations/" + res.Reservation.ID

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, path, "bob", nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, path, "alice", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, path, "alice", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, "alice", nil).Code)
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 1))

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/heartbeats", "alice", HeartbeatRequest{TaskID: "t1"}).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/heartbeats", "bob", HeartbeatRequest{TaskID: "t1"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/heartbeats", "alice", HeartbeatRequest{TaskID: "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/heartbeats", "alice", HeartbeatRequest{}).Code)
}

func TestScheduleQueries(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 10, 1))
	env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D1", "t2", 20, 30, 1))
	env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D2", "t3", 0, 10, 1))

	sched := decode[ReservationListResponse](t, env.do(t, http.MethodGet, "/api/devices/D1/schedule", "carol", nil))
	require.Len(t, sched.Reservations, 2)
	assert.Equal(t, "t1", sched.Reservations[0].TaskID)
	assert.Equal(t, "PENDING", sched.Reservations[1].State)

	mine := decode[ReservationListResponse](t, env.do(t, http.MethodGet, "/api/reservations", "alice", nil))
	assert.Len(t, mine.Reservations, 2)

	bobs := decode[ReservationListResponse](t, env.do(t, http.MethodGet, "/api/requesters/bob/reservations", "alice", nil))
	assert.Len(t, bobs.Reservations, 1)

	empty := decode[ReservationListResponse](t, env.do(t, http.MethodGet, "/api/devices/D9/schedule", "alice", nil))
	assert.NotNil(t, empty.Reservations)
	assert.Empty(t, empty.Reservations)
}

func TestLedger(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 1))
	env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D1", "t2", 0, 100, 1))
	env.do(t, http.MethodPost, "/api/reservations", "bob", reserve("D2", "t3", 0, 100, 1))

	rec := env.do(t, http.MethodGet, "/api/ledger?device=D1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LedgerResponse](t, rec)
	// granted + activated for alice, denied for bob
	require.Len(t, resp.Events, 3)

	var ev events.Event
	require.NoError(t, json.Unmarshal(resp.Events[2], &ev))
	assert.Equal(t, events.TypeDenied, ev.Type)
	assert.Equal(t, "SCHEDULE_CONFLICT", ev.Reason)

	page := decode[LedgerResponse](t, env.do(t, http.MethodGet, "/api/ledger?limit=2", "alice", nil))
	assert.Len(t, page.Events, 2)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/ledger?limit=zero", "alice", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/ledger?since=yesterday", "alice", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/ledger?cursor=@@", "alice", nil).Code)
}

// brokenLedger fails every query the way a lost database would.
type brokenLedger struct {
	*store.MockStore
}

func (brokenLedger) GetEvents(context.Context, store.GetEventsParams) (*store.GetEventsResult, error) {
	return nil, errors.New("disk I/O error")
}

func TestLedger_StoreFailureIsServerError(t *testing.T) {
	env := newTestEnv(t, WithLedger(brokenLedger{store.NewMockStore()}))

	rec := env.do(t, http.MethodGet, "/api/ledger", "alice", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// a well-formed cursor does not turn a database failure into a client error
	cursor := base64.StdEncoding.EncodeToString([]byte("3|some-event"))
	rec = env.do(t, http.MethodGet, "/api/ledger?cursor="+url.QueryEscape(cursor), "alice", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestJWTMode(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	env := newTestEnv(t, WithVerifier(verifier))

	rec := env.do(t, http.MethodPost, "/api/reservations", "alice", reserve("D1", "t1", 0, 100, 1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "header identity is not accepted when tokens are required")

	token, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/api/reservations", "", reserve("D1", "t1", 0, 100, 1), "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", decode[DecisionResponse](t, rec).Reservation.RequesterID)
}
