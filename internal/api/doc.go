// Package api exposes the reservation engine over HTTP.
//
// # Endpoints
//
//	POST   /api/reservations                        request a reservation
//	GET    /api/reservations                        reservations of the caller
//	GET    /api/reservations/{id}                   one reservation
//	DELETE /api/reservations/{id}                   cancel, or release early while preempted
//	POST   /api/heartbeats                          liveness signal for a task
//	GET    /api/devices/{device}/schedule           live schedule of a device
//	GET    /api/requesters/{requester}/reservations reservations of a requester
//	GET    /api/events?device=                      Server-Sent Events
//	GET    /api/ledger                              persisted events
//	GET    /health, /health/ready
//
// Everything under /api passes through auth.HTTPAuthMiddleware, so handlers
// always find an auth.Identity in the request context.
package api
