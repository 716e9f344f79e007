package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row does not exist (or is soft-deleted and hidden)
// - ErrConflict: a uniqueness constraint rejected the write
// - ErrVersionMismatch: optimistic lock lost; the stored version moved on
// - ErrExpired: token or idempotency record has expired
// - ErrAlreadyUsed: resource (refresh token, idempotency key) already consumed
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrExpired         = errors.New("expired")
	ErrAlreadyUsed     = errors.New("already used")
	ErrInvalidState    = errors.New("invalid state")
	ErrUnavailable     = errors.New("unavailable")
)
