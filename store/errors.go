package store

import "errors"

var (
	// ErrDuplicateID is returned by Insert when the id already exists.
	ErrDuplicateID = errors.New("store: duplicate operation id")
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("store: operation not found")
	// ErrConflict is returned by UpdateStatus when the stored status does
	// not match the expected status. The caller lost a concurrent claim.
	ErrConflict = errors.New("store: status conflict")
)
