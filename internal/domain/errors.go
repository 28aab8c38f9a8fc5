package domain

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidArgument is returned for malformed requests, e.g. a missing collection id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotAccessible is returned when the user neither owns nor is a member of the collection.
	ErrNotAccessible = errors.New("collection is not accessible")

	// ErrRelational wraps failures of the store of record.
	ErrRelational = errors.New("relational store failure")

	// ErrBusy is returned when another request holds the collection lock.
	ErrBusy = errors.New("collection is being modified by another request")

	// ErrSearchIndex and ErrArtifactStore mark failures of the secondary stores.
	// They are logged, never returned to callers of a deletion.
	ErrSearchIndex   = errors.New("search index failure")
	ErrArtifactStore = errors.New("artifact store failure")
)

// StatusCode maps an error returned by the deletion service to an HTTP-style status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAccessible):
		return http.StatusForbidden
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
