// Package dedupe provides a time-based cache of idempotency keys so that a
// retried reservation request is recognised within a configurable window.
package dedupe
