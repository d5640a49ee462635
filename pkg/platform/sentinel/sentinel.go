package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the directory client
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: unique constraint violated (duplicate login, group name)
// - ErrExpired: session has passed its idle threshold
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: directory or broker temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
