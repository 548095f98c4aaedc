package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound     = "room_not_found"
	ErrCodeNotInRoom        = "not_in_room"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodePersistenceError = "persistence_error"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInvalidMessage   = "invalid_message"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnsupportedVer   = "unsupported_version"
)

var (
	// ErrRoomNotFound is returned when a join names a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotInRoom is returned for leave or status updates on a room the connection has not joined.
	ErrNotInRoom = errors.New("not in room")
	// ErrBadRequest is returned for malformed command arguments.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized is returned when a connection credential is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence wraps membership store failures.
	ErrPersistence = errors.New("persistence error")
	// ErrShuttingDown is returned by Start once the gateway is draining.
	ErrShuttingDown = errors.New("gateway shutting down")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ToCoreError maps an error returned by the gateway to its client-visible form.
// Persistence details are not exposed to clients.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrRoomNotFound):
		return coreError(ErrCodeRoomNotFound, "room not found")
	case errors.Is(err, ErrNotInRoom):
		return coreError(ErrCodeNotInRoom, "join room first")
	case errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return coreError(ErrCodeUnauthorized, "unauthorized")
	case errors.Is(err, ErrPersistence):
		return coreError(ErrCodePersistenceError, "storage unavailable, retry")
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
