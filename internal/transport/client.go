// Package transport wraps outbound HTTP with the resilience policy every
// remote call shares: a courtesy rate limit between requests, bounded retry
// with exponential back-off, and transient-versus-fatal error classification.
// Failures here are always scoped to the one call; nothing is fatal to a run.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// RateLevel names a courtesy delay enforced between consecutive requests.
type RateLevel string

const (
	RateLow        RateLevel = "low"         // 1000ms
	RateMedium     RateLevel = "medium"      // 2000ms
	RateMediumHigh RateLevel = "medium_high" // 3000ms
	RateHigh       RateLevel = "high"        // 5000ms
)

// ParseRateLevel maps a config string onto a level, defaulting to medium.
func ParseRateLevel(s string) RateLevel {
	switch RateLevel(s) {
	case RateLow, RateMedium, RateMediumHigh, RateHigh:
		return RateLevel(s)
	}
	return RateMedium
}

// Delay returns the minimum gap this level enforces between requests. The
// zero value means no pacing; config strings go through ParseRateLevel, which
// maps anything unrecognized to medium.
func (l RateLevel) Delay() time.Duration {
	switch l {
	case RateLow:
		return time.Second
	case RateMedium:
		return 2 * time.Second
	case RateMediumHigh:
		return 3 * time.Second
	case RateHigh:
		return 5 * time.Second
	}
	return 0
}

// Config tunes the client.
type Config struct {
	Rate          RateLevel
	MaxRetries    int // attempts, not extra retries
	TimeoutMs     int // per-attempt deadline
	BackoffBaseMs int // first back-off; doubles each retry
}

func (c Config) maxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

func (c Config) timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c Config) backoffBase() time.Duration {
	if c.BackoffBaseMs <= 0 {
		return time.Second
	}
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// Client is a retrying, rate-limited HTTP client. The last-request timestamp
// is guarded by a mutex held across the read-sleep-write sequence, which also
// serializes concurrent senders into the courtesy spacing.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time

	sleep func(context.Context, time.Duration) error
}

func New(cfg Config, log *zap.Logger) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.timeout()},
		log:   log,
		sleep: sleepCtx,
	}
}

// Do sends the request, applying the rate limit before every attempt and
// retrying transient failures with exponential back-off. The returned
// response body is the caller's to close. A non-transient HTTP status is not
// an error here; callers interpret the status.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	attempts := c.cfg.maxRetries()

	for attempt := 0; attempt < attempts; attempt++ {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}
		if err := c.applyRateLimit(req.Context()); err != nil {
			return nil, err
		}

		attemptReq, err := cloneRequest(req)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(attemptReq)
		switch {
		case err == nil && !transientStatus(resp.StatusCode):
			return resp, nil
		case err == nil:
			lastErr = fmt.Errorf("transient status %d", resp.StatusCode)
			resp.Body.Close()
		case transientErr(err):
			lastErr = err
		default:
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}

		if attempt == attempts-1 {
			break
		}
		delay := c.cfg.backoffBase() << attempt
		c.log.Warn("request failed, backing off",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		if err := c.sleep(req.Context(), delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s %s: retries exhausted: %w", req.Method, req.URL, lastErr)
}

func (c *Client) applyRateLimit(ctx context.Context) error {
	delay := c.cfg.Rate.Delay()
	if delay <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := delay - time.Since(c.lastRequest); wait > 0 && !c.lastRequest.IsZero() {
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// cloneRequest produces a fresh request per attempt so a consumed body does
// not poison retries.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replay request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// transientErr reports whether a call failure is worth retrying: timeouts,
// resets and torn connections. Everything else is fatal for the call.
func transientErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
