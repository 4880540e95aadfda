// Package gateway assembles and runs the coven-actuator service.
//
// # Overview
//
// New wires the components together from a config.Config:
//
//   - store.SQLiteStore: the event ledger, fed by a store.EventSink
//   - events.Broadcaster: live fan-out for the SSE endpoint
//   - engine.Engine: the reservation engine, publishing to both of the above
//   - dedupe.Cache: Idempotency-Key tracking for reservation requests
//   - api.Server: the HTTP API, optionally behind JWT auth
//
// # Background Work
//
// Run starts three loops next to the HTTP server:
//
//   - the ledger sink, writing events from a single goroutine
//   - the tick loop, calling Engine.Tick every scheduler.tick_interval
//   - a robfig/cron job publishing schedule snapshots every
//     scheduler.schedule_publish_interval
//
// # Listeners
//
// By default the API listens on server.http_addr. With tailscale.enabled the
// gateway joins the tailnet through tsnet and serves on port 80 of the node.
//
// # Shutdown
//
// Cancelling the context passed to Run stops the HTTP server (ending open
// event streams), waits for the cron job and loops, flushes the ledger sink,
// and closes the store.
package gateway
