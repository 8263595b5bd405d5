package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row does not exist in the store (or the statement affected zero rows)
// - ErrConflict: unique key already taken
// - ErrUnavailable: backend handle missing, closed, or failing its probe
// - ErrLoginRequired: the session is known-lost; the operator must re-authenticate
// - ErrDevice: the capture device failed to open, capture, or close
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnavailable   = errors.New("unavailable")
	ErrLoginRequired = errors.New("login required")
	ErrDevice        = errors.New("capture device error")
)
