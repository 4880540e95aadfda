// ABOUTME: Tests for the Gateway orchestrator
// ABOUTME: Runs the full service on an ephemeral port against an in-memory ledger

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-actuator/internal/api"
	"github.com/2389/coven-actuator/internal/auth"
	"github.com/2389/coven-actuator/internal/clock"
	"github.com/2389/coven-actuator/internal/config"
	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/reservation"
)

// testConfig creates a minimal config bound to an ephemeral port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Scheduler.TickInterval = 10 * time.Millisecond
	cfg.Scheduler.SchedulePublishInterval = time.Second
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startGateway runs g in the background and returns its base URL and a stop
// function that waits for Run to return.
func startGateway(t *testing.T, g *Gateway) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Run(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer addrCancel()
	addr, err := g.Addr(addrCtx)
	require.NoError(t, err)

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Error("gateway did not shutdown in time")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return "http://" + addr, stop
}

func TestGatewayNew(t *testing.T) {
	g, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, g.Engine())
	assert.NotNil(t, g.Handler())
	require.NoError(t, g.closeResources())
}

func TestGatewayNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.TickInterval = time.Minute
	_, err := New(cfg, testLogger())
	assert.ErrorContains(t, err, "tick_interval")

	cfg = testConfig(t)
	cfg.Auth.JWTSecret = "short"
	_, err = New(cfg, testLogger())
	assert.Error(t, err)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	g, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	base, stop := startGateway(t, g)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, stop())
}

func TestGateway_PersistsEventsToLedger(t *testing.T) {
	g, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	base, _ := startGateway(t, g)

	now := time.Now().UTC()
	body, err := json.Marshal(api.ReservationRequest{
		DeviceID: "D1", TaskID: "t1", Start: now, End: now.Add(time.Hour), Priority: 1,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, base+"/api/reservations", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(auth.RequesterHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		req, _ := http.NewRequest(http.MethodGet, base+"/api/ledger?device=D1", nil)
		req.Header.Set(auth.RequesterHeader, "alice")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var ledger api.LedgerResponse
		if json.NewDecoder(resp.Body).Decode(&ledger) != nil {
			return false
		}
		return len(ledger.Events) == 2
	}, 5*time.Second, 20*time.Millisecond, "granted and activated events reach the ledger")
}

func TestGateway_TickLoopActivatesPending(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	g, err := New(testConfig(t), testLogger(), WithClock(clk))
	require.NoError(t, err)
	startGateway(t, g)

	start := clk.Now().Add(10 * time.Second)
	d, err := g.Engine().RequestReservation(context.Background(), reservation.Request{
		DeviceID: "D1", RequesterID: "alice", TaskID: "t1", Start: start, End: start.Add(time.Minute),
	})
	require.NoError(t, err)
	require.True(t, d.Granted())
	assert.Equal(t, reservation.StatePending, d.Reservation.State)

	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		r, err := g.Engine().Get(d.Reservation.ID)
		return err == nil && r.State == reservation.StateActive
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_PublishSchedules(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	g, err := New(testConfig(t), testLogger(), WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.closeResources() })

	_, err = g.Engine().RequestReservation(context.Background(), reservation.Request{
		DeviceID: "D1", RequesterID: "alice", TaskID: "t1", Start: clk.Now(), End: clk.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := g.broadcaster.Subscribe(ctx, "D1")

	g.publishSchedules()

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeScheduleSnapshot, ev.Type)
		require.Len(t, ev.Schedule, 1)
		assert.Equal(t, "t1", ev.Schedule[0].TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}
}
