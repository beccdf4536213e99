package httpx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/studyowl/studyowl-backend/internal/logger"
)

// Policy is the retry behavior shared by the outbound REST clients. Transport
// failures and throttling/server statuses are retried with jittered
// exponential backoff; a Retry-After header overrides the computed delay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// StatusError carries a non-2xx response so the retry loop can decide whether
// the status is worth another attempt.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Service, e.Status, e.Body)
}

func (e *StatusError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests {
		return true
	}
	return e.Status >= 500 && e.Status <= 599
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Do invokes fn until it succeeds, the error is not retryable, or the retry
// allowance is spent. fn returns the response only so Retry-After can be read;
// the body must already be consumed.
func (p Policy) Do(ctx context.Context, log *logger.Logger, label string, fn func(attempt int) (*http.Response, error)) error {
	p = p.withDefaults()
	delay := p.BaseDelay

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := fn(attempt)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return err
		}

		wait := delay
		if hinted := retryAfter(resp); hinted > 0 {
			wait = hinted
		}
		if wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		wait = jitter(wait)

		if log != nil {
			log.Warn("request retrying",
				"label", label,
				"attempt", attempt+1,
				"max_retries", p.MaxRetries,
				"sleep", wait.String(),
				"error", err.Error(),
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// jitter spreads the delay across +-20% so clients do not retry in lockstep.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	low := float64(base) * 0.8
	span := float64(base) * 0.4
	return time.Duration(low + rand.Float64()*span)
}
