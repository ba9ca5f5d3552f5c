package fishfish

import (
	"errors"
	"fmt"
	"time"
)

// Credential names which secret the remote service rejected on a 401.
const (
	CredentialAPIKey = "api key"
	CredentialToken  = "session token"
)

// ErrCacheDisabled is returned by cache accessors when caching is turned off.
var ErrCacheDisabled = errors.New("cache is disabled")

// UnauthorizedError is returned on HTTP 401 responses. Credential is
// CredentialToken when a session token was attached to the request,
// CredentialAPIKey otherwise.
type UnauthorizedError struct {
	Credential string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s rejected", e.Credential)
}

// ForbiddenError is returned when the held token lacks a required
// permission. Raised locally, before any request is sent.
type ForbiddenError struct {
	Permission Permission
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: token lacks %q permission", e.Permission)
}

// RateLimitError is returned when the service signals rate limiting (429).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// UnexpectedStatusError is returned for any non-2xx status not covered by a
// more specific error.
type UnexpectedStatusError struct {
	Code int
	Body string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// InvalidInputError is returned for malformed arguments, before any I/O.
type InvalidInputError struct {
	Msg string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Msg
}
