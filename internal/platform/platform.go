// Package platform holds the surface shared by all provider clients:
// the error taxonomy the orchestrator keys on, and the pagination and
// rate-limit helpers the clients build their fetch loops from.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseSize bounds provider responses (10MB).
const maxResponseSize = 10 * 1024 * 1024

// DefaultTimeout is the per-request timeout carried by every provider
// client. No overall job deadline is enforced above it.
const DefaultTimeout = 30 * time.Second

// ConnectionError marks bad or missing credentials and provider auth
// failures. It is recorded per platform and is never fatal to a job.
type ConnectionError struct {
	Platform string
	Reason   string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection failed: %s", e.Platform, e.Reason)
}

// TransientError marks network failures and rate-limit rejections. It
// aborts the current platform's fetch only and is not retried inside the
// fetch loop.
type TransientError struct {
	Platform string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Platform, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is a credential/auth failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// Wait blocks for the provider's documented inter-request spacing, or
// returns early with the context's error. A zero delay is a no-op so tests
// can run pagination loops without pauses.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DecodeJSON reads a bounded response body into out.
func DecodeJSON(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// DrainBody discards and closes a response body so the connection can be
// reused.
func DrainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
}

// ErrorBody extracts a short error string from a non-2xx response.
func ErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if len(body) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, body)
}
