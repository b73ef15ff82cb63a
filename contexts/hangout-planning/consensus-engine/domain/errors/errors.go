package errors

import "errors"

var (
	ErrPollNotFound            = errors.New("poll not found")
	ErrPollNotActive           = errors.New("poll is not active")
	ErrMultipleVotesDisallowed = errors.New("poll does not allow multiple votes")
	ErrUnauthorized            = errors.New("user is not a participant of the hangout")
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrOptionNotFound          = errors.New("poll option not found")
	ErrAbstentionDisallowed    = errors.New("poll does not allow abstention")
	ErrInvalidInput            = errors.New("invalid poll input")
	ErrInvalidTransition       = errors.New("invalid poll status transition")
	ErrNotEnoughOptions        = errors.New("poll needs at least two options")
	ErrOptionsLocked           = errors.New("poll options can no longer be changed")
	ErrIdempotencyConflict     = errors.New("idempotency key conflict")
	ErrConflict                = errors.New("poll conflict")
)
