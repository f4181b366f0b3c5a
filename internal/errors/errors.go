// Package errors defines the typed error taxonomy for vault operations.
//
// Every error returned by the secret engine is one of the types below so
// callers can branch with errors.As instead of matching message text.
// Transport and HTTP failures are mapped onto this taxonomy by the
// backend client; raw status codes never reach callers.
package errors

import (
	"fmt"
	"time"
)

// ValidationError reports input that was rejected before any network
// call was made. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// AuthError reports a credential or token-refresh failure. The executor
// retries it at most once via a forced token refresh before surfacing it.
type AuthError struct {
	Message string
	Err     error
}

func (e AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e AuthError) Unwrap() error { return e.Err }

// NotFoundError reports a missing secret, version, or deleted item.
type NotFoundError struct {
	Kind string // "secret", "version", "deleted secret"
	Name string
}

func (e NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "secret"
	}
	return fmt.Sprintf("%s not found: %s", kind, e.Name)
}

// ConflictError reports a state conflict, including the naming-collision
// case where a stored original_name tag disagrees with the requested name.
type ConflictError struct {
	Name    string
	Message string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %q: %s", e.Name, e.Message)
}

// ForbiddenError reports an access-policy denial.
type ForbiddenError struct {
	Resource   string
	Suggestion string
	Err        error
}

func (e ForbiddenError) Error() string {
	msg := "access denied"
	if e.Resource != "" {
		msg += " to " + e.Resource
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Suggestion != "" {
		msg += "\n  Try: " + e.Suggestion
	}
	return msg
}

func (e ForbiddenError) Unwrap() error { return e.Err }

// TransientError reports a retryable failure whose retry budget has been
// exhausted. It carries the last underlying cause.
type TransientError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("backend unavailable after %d attempts over %s: %v",
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e TransientError) Unwrap() error { return e.Err }

// TagBudgetExceededError reports that reserved plus custom attributes
// would overflow the backend's fixed tag-slot budget. Encoding never
// truncates silently; it fails with the computed count and the limit.
type TagBudgetExceededError struct {
	Slots int
	Limit int
}

func (e TagBudgetExceededError) Error() string {
	return fmt.Sprintf("metadata requires %d tag slots but the vault allows %d", e.Slots, e.Limit)
}
