package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	kverrors "github.com/kvstash/kvstash/internal/errors"
	"github.com/kvstash/kvstash/internal/secure"
)

// RetryPolicy bounds the executor's retry behavior. Retries apply only
// to transport failures and transient backend responses; client errors
// are returned immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// MaxElapsed caps the total time spent across attempts and
	// backoff sleeps.
	MaxElapsed time.Duration

	// MinBackoff and MaxBackoff bound the jittered exponential delay
	// between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy matches the vault's documented throttling guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		MaxElapsed:  30 * time.Second,
		MinBackoff:  250 * time.Millisecond,
		MaxBackoff:  4 * time.Second,
	}
}

// transientError marks a failure worth retrying. It never escapes the
// executor: exhausted retries surface as kverrors.TransientError.
type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// unauthorizedError marks a 401, which is retried exactly once after a
// forced token refresh.
type unauthorizedError struct {
	err error
}

func (e unauthorizedError) Error() string { return e.err.Error() }
func (e unauthorizedError) Unwrap() error { return e.err }

// do issues one logical operation with retry. A PUT whose response is
// lost in transit may be retried and create a duplicate version; the
// backend offers no idempotency key, so this rare effect is accepted
// and documented rather than hidden.
func (c *Client) do(ctx context.Context, method, url string, body, out interface{}, resource string) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request for %s: %w", resource, err)
		}
		defer secure.Wipe(payload)
	}

	bo := &backoff.Backoff{
		Min:    c.retry.MinBackoff,
		Max:    c.retry.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	start := time.Now()
	refreshedAuth := false
	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 1 {
			if time.Since(start) >= c.retry.MaxElapsed {
				break
			}
			timer := time.NewTimer(bo.Duration())
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		attempts++
		err := c.attempt(ctx, method, url, payload, out, resource)
		if err == nil {
			return nil
		}
		lastErr = err

		var unauth unauthorizedError
		if errors.As(err, &unauth) {
			if refreshedAuth {
				return kverrors.AuthError{Message: "token rejected after refresh", Err: unauth.err}
			}
			refreshedAuth = true
			c.tokens.Invalidate(c.scope)
			c.logger.Debug("vault rejected token, forcing refresh")
			continue
		}

		var transient transientError
		if !errors.As(err, &transient) {
			return err
		}
		c.logger.Debug("transient failure on %s %s (attempt %d/%d): %v",
			method, resource, attempt, c.retry.MaxAttempts, transient.err)
	}

	var transient transientError
	if errors.As(lastErr, &transient) {
		lastErr = transient.err
	}
	var unauth unauthorizedError
	if errors.As(lastErr, &unauth) {
		return kverrors.AuthError{Message: "token rejected after refresh", Err: unauth.err}
	}
	return kverrors.TransientError{
		Attempts: attempts,
		Elapsed:  time.Since(start),
		Err:      lastErr,
	}
}

// attempt performs a single authenticated round-trip.
func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, out interface{}, resource string) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", resource, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	tok, err := c.tokens.Token(ctx, c.scope)
	if err != nil {
		return err
	}
	header := make([]byte, 0, len(bearerPrefix)+len(tok.Bytes()))
	header = append(header, bearerPrefix...)
	header = append(header, tok.Bytes()...)
	req.Header.Set("Authorization", string(header))
	secure.Wipe(header)
	tok.Close()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transientError{err: fmt.Errorf("calling vault: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transientError{err: fmt.Errorf("reading vault response: %w", err)}
	}
	defer secure.Wipe(raw)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding vault response for %s: %w", resource, err)
		}
		return nil
	}
	return c.statusError(resp.StatusCode, raw, url, resource)
}

const (
	bearerPrefix     = "Bearer "
	maxResponseBytes = 4 << 20
)

// vaultError is the backend's error envelope.
type vaultError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError maps an HTTP status onto the closed error taxonomy.
// Client errors are final; 408, 429, and 5xx are transient.
func (c *Client) statusError(status int, raw []byte, url, resource string) error {
	var ve vaultError
	_ = json.Unmarshal(raw, &ve)
	detail := ve.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	cause := fmt.Errorf("HTTP %d (%s): %s", status, ve.Error.Code, detail)

	switch status {
	case http.StatusBadRequest:
		return kverrors.ValidationError{Field: resource, Message: cause.Error()}
	case http.StatusUnauthorized:
		return unauthorizedError{err: cause}
	case http.StatusForbidden:
		return kverrors.ForbiddenError{
			Resource:   resource,
			Suggestion: "check the vault access policy: get, set, list, and delete permissions are required",
			Err:        cause,
		}
	case http.StatusNotFound:
		kind := "secret"
		if strings.Contains(url, "/deletedsecrets/") {
			kind = "deleted secret"
		}
		return kverrors.NotFoundError{Kind: kind, Name: resource}
	case http.StatusConflict:
		return kverrors.ConflictError{Name: resource, Message: cause.Error()}
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return transientError{err: cause}
	}
	if status >= 500 {
		return transientError{err: cause}
	}
	return fmt.Errorf("vault call for %s failed: %w", resource, cause)
}
