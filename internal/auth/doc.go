// Package auth identifies the requester behind each API call.
//
// # Authentication Methods
//
//   - JWT Tokens: when auth.jwt_secret is configured, clients send
//     "Authorization: Bearer <token>". Tokens are HS256 signed and the "sub"
//     claim is the requester ID. The token command mints them.
//
//   - Requester header: without a secret the service runs in anonymous mode
//     and trusts the X-Requester-ID header. Intended for trusted networks such
//     as a tailnet.
//
// # Context
//
// HTTPAuthMiddleware stores an Identity in the request context:
//
//	id := auth.FromContext(r.Context())
//	engine.CancelReservation(ctx, id.RequesterID, reservationID)
package auth
