// Package control implements the Control Daemon: the loopback-only HTTP+SSE
// server that exposes the PTY supervisor and worktree manager behind a
// versioned JSON API, enforcing a security perimeter (loopback-only,
// cross-origin rejection, bearer auth, rate limiting, payload caps) and
// broadcasting an ordered SSE event stream.
package control

import "errors"

// Sentinel errors naming the Control Daemon's error kinds. The handlers in
// this package do not return them: each handler maps the pty/worktree
// error it receives to an HTTP status and writes the envelope directly via
// abortJSON.
var (
	ErrValidation       = errors.New("validation error")
	ErrAuth             = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrRateLimited      = errors.New("rate limited")
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
