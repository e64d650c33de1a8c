// Package ingresserr names the failure kinds from spec §7 as sentinel
// errors, so ingress pipelines can map them to HTTP status with errors.Is
// instead of string matching.
package ingresserr

import "errors"

var (
	// ErrMissingConfig: 500 to caller; log at error; no retry.
	ErrMissingConfig = errors.New("missing configuration")
	// ErrInvalidSignature: 401 to caller; event never reserved.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedPayload: 400 to caller; no reservation.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNotConnected: 500 to caller (misconfiguration post-resolve).
	ErrNotConnected = errors.New("tenant not connected")
	// ErrDuplicate: 200 to caller; not an error internally.
	ErrDuplicate = errors.New("duplicate event")
	// ErrHandlerFailure: captured per-handler; event marked failed; 200 to caller.
	ErrHandlerFailure = errors.New("handler failure")
	// ErrDeadline: event marked failed with reason=deadline; handlers cancelled.
	ErrDeadline = errors.New("deadline exceeded")
	// ErrUnknownSource: source (shop/address) not registered; 200 "not registered".
	ErrUnknownSource = errors.New("source not registered")
	// ErrMissingHeaders: required headers absent; 400.
	ErrMissingHeaders = errors.New("missing required headers")
)
