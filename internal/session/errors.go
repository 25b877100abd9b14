package session

import "errors"

var (
	// ErrMalformedToken is returned when a token is not three dot-separated
	// segments with a base64url JSON payload in the middle.
	ErrMalformedToken = errors.New("malformed token")

	// ErrIncompleteIdentity is returned when the claims carry no subject.
	ErrIncompleteIdentity = errors.New("token claims carry no subject")

	// ErrRefreshFailed is terminal: the session has been torn down.
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionSuperseded is returned when a login, signup or logout
	// replaced the session while the call was in flight.
	ErrSessionSuperseded = errors.New("session changed by a concurrent operation")
)
