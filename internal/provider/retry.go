package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxAttempts   = 4
	maxRetryAfter = 30 * time.Second
	errBodyLimit  = 4096
)

// retryBaseDelay scales the quadratic backoff; tests shrink it.
var retryBaseDelay = time.Second

// StatusError is a non-success HTTP response from a backend API.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed when repeated.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// readStatusError drains and closes resp.
func readStatusError(backend string, resp *http.Response) *StatusError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	e := &StatusError{Backend: backend, StatusCode: resp.StatusCode, Body: string(body)}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.retryAfter = min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	return e
}

// backoff is quadratic in the attempt number with up to 50% jitter, but never
// shorter than what the server asked for.
func backoff(attempt int, last error) time.Duration {
	base := time.Duration(attempt*attempt) * retryBaseDelay
	d := base + time.Duration(rand.Int64N(int64(base/2+1)))
	if se, ok := last.(*StatusError); ok && se.retryAfter > d {
		d = se.retryAfter
	}
	return d
}

// doWithRetry sends the request built by buildReq, repeating it on network
// errors, 429 and 5xx. Any other status is returned as a *StatusError; the
// caller owns the body of a 2xx response.
func doWithRetry(ctx context.Context, client *http.Client, backend string, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var last error
	for attempt := range maxAttempts {
		if attempt > 0 {
			wait := backoff(attempt, last)
			logger.Warn("retrying backend call", "backend", backend, "attempt", attempt+1, "wait", wait, "err", last)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last = err
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		se := readStatusError(backend, resp)
		if !se.Transient() {
			return nil, se
		}
		last = se
	}
	return nil, fmt.Errorf("%s: giving up after %d attempts: %w", backend, maxAttempts, last)
}
