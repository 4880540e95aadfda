// ABOUTME: Background work driven by the gateway: the engine tick loop and snapshot publishing
// ABOUTME: Adapts slog to the cron logger interface

package gateway

import (
	"context"
	"log/slog"
	"time"
)

// tickLoop advances the engine every tick_interval until ctx is done.
func (g *Gateway) tickLoop(ctx context.Context) {
	interval := g.config.Scheduler.TickInterval
	g.logger.Info("starting tick loop", "tick_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Gateway) tick(ctx context.Context) {
	if err := g.engine.Tick(ctx, g.clock.Now()); err != nil && ctx.Err() == nil {
		g.logger.Error("tick failed", "error", err)
	}
}

// publishSchedules announces every device schedule; run by cron.
func (g *Gateway) publishSchedules() {
	n := g.engine.PublishSchedules(g.clock.Now())
	g.logger.Debug("published schedules", "devices", n)
}

// cronLogger routes robfig/cron diagnostics into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
