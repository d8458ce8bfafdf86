package services

import "errors"

// Error kinds surfaced to callers. Services wrap them with a short reason,
// e.g. fmt.Errorf("%w: already voted", ErrConflict).
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrBadRequest      = errors.New("bad request")
	ErrElectionClosed  = errors.New("election is closed")
	ErrUnauthenticated = errors.New("unauthenticated")
)
