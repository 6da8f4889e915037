package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingHomeserver is returned by New when no homeserver is configured.
	ErrMissingHomeserver = errors.New("homeserver address is required")
	// ErrNotAuthenticated is returned when a sync is attempted without a token.
	ErrNotAuthenticated = errors.New("not authenticated: login first")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("engine is already running")
	// ErrStopped is returned by Run once the engine has shut down.
	ErrStopped = errors.New("engine is stopped")
)

// AuthError is a failed login. The password is never part of it.
type AuthError struct {
	User       string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("login failed for %s: %v", e.User, e.Err)
	}
	return fmt.Sprintf("login failed for %s (HTTP %d): %v", e.User, e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SyncError is a failed sync cycle. The cursor was not advanced; Since is the
// value that was sent and will be sent again.
type SyncError struct {
	StatusCode int
	Since      string
	Err        error
}

func (e *SyncError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("sync failed: %v", e.Err)
	}
	return fmt.Sprintf("sync failed (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
