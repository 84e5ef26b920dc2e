package domain

import "fmt"

// Artwork failure reasons
const (
	ReasonMountNotConfigured = "mount not configured"
	ReasonNotFound           = "not found"
	ReasonFetchFailed        = "fetch failed"
	ReasonNoArtwork          = "no artwork"
	ReasonDecodeFailed       = "decode failed"
	ReasonUnsupportedRef     = "unsupported reference"
)

// Authentication failure reasons
const (
	ReasonNoReachableEndpoint = "no reachable endpoint"
	ReasonNoEndpoint          = "no endpoint configured"
)

// AuthError is returned when no endpoint accepted the login.
// It is fatal at startup.
type AuthError struct {
	Reason string
	// Err combines the failure of every attempted endpoint
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication failed: " + e.Reason
	}
	return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SessionError is returned when the now-playing state could not be retrieved
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ArtworkError is returned when an artwork reference could not be turned into pixels
type ArtworkError struct {
	Reason string
	Ref    ArtworkRef
	Err    error
}

func (e *ArtworkError) Error() string {
	msg := "artwork " + e.Reason
	if e.Ref != nil {
		msg += fmt.Sprintf(" (%s %s)", e.Ref.Kind(), e.Ref.String())
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArtworkError) Unwrap() error { return e.Err }

// DisplayError is returned when the panel could not be painted or cleared
type DisplayError struct {
	Op  string
	Err error
}

func (e *DisplayError) Error() string {
	return fmt.Sprintf("display %s: %v", e.Op, e.Err)
}

func (e *DisplayError) Unwrap() error { return e.Err }
