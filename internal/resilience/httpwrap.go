package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxRetryAfter caps how long a Retry-After header may stall a retry.
const maxRetryAfter = 30 * time.Second

// HTTPClient wraps an http.Client with per-attempt timeouts, bounded retries
// and an optional circuit breaker. Transport errors and 5xx responses are
// retried and count against the breaker; 429 is retried honouring
// Retry-After but does not trip it. Any other response is returned as is.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	Target      string
	Logger      *zerolog.Logger
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Fallback    func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes req under ctx. The body is buffered so it can be replayed on
// retry. When the breaker refuses the call ErrOpenCircuit is returned unless
// Fallback is set.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	target := strings.TrimSpace(cl.Target)
	if target == "" {
		target = req.URL.Host
	}
	attempts := max(cl.MaxAttempts, 1)

	body, err := bufferBody(req)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer request body: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			HTTPAttemptsTotal.WithLabelValues(target, "rejected").Inc()
			break
		}

		resp, err := cl.attempt(ctx, req, body)
		wait, retry := cl.classify(ctx, target, resp, err)
		if !retry {
			return resp, err
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("resilience: %s responded %s", target, resp.Status)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if attempt == attempts {
			break
		}

		if wait <= 0 {
			wait = Backoff(cl.BaseBackoff, attempt, cl.Jitter)
		}
		if cl.Logger != nil {
			cl.Logger.Warn().Err(lastErr).
				Str("target", target).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("http_retry")
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

// classify reports the outcome to the breaker and decides whether to retry.
// A positive wait overrides the computed backoff.
func (cl HTTPClient) classify(ctx context.Context, target string, resp *http.Response, err error) (time.Duration, bool) {
	report := func(ok bool) {
		if cl.Breaker != nil {
			cl.Breaker.Report(ctx, ok)
		}
	}
	switch {
	case err != nil && ctx.Err() != nil:
		// The caller gave up; that says nothing about the target.
		HTTPAttemptsTotal.WithLabelValues(target, "canceled").Inc()
		report(true)
		return 0, false
	case err != nil:
		HTTPAttemptsTotal.WithLabelValues(target, "error").Inc()
		report(false)
		return 0, true
	case resp.StatusCode >= http.StatusInternalServerError:
		HTTPAttemptsTotal.WithLabelValues(target, "5xx").Inc()
		report(false)
		return 0, true
	case resp.StatusCode == http.StatusTooManyRequests:
		HTTPAttemptsTotal.WithLabelValues(target, "throttled").Inc()
		report(true)
		return retryAfter(resp.Header.Get("Retry-After")), true
	}
	HTTPAttemptsTotal.WithLabelValues(target, "ok").Inc()
	report(true)
	return 0, false
}

func (cl HTTPClient) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		resp, err := cl.Client.Do(cloneRequest(callCtx, req, body))
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return cl.Client.Do(cloneRequest(callCtx, req, body))
}

// cancelOnClose releases the attempt's timeout once the caller is done reading.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	rc := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		rc = fresh
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		clone.ContentLength = int64(len(body))
	}
	return clone
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = time.Until(at)
	}
	return min(max(d, 0), maxRetryAfter)
}
