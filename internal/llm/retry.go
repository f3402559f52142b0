package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 4 * time.Second
	defaultCallTimeout = 30 * time.Second
)

// RetryConfig bounds the calls made for one Complete.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CallTimeout applies to each attempt separately.
	CallTimeout time.Duration
	Logger      *slog.Logger
	// Clock drives the waits between attempts. Defaults to the real clock.
	Clock clockwork.Clock
}

// RetryError is returned when every attempt of a Complete failed.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("completion failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retrying wraps a Service with per-attempt timeouts and exponential backoff.
// Only errors classified by IsRetryable are repeated. A rate limit that names
// a Retry-After delay waits at least that long.
type Retrying struct {
	next Service
	cfg  RetryConfig
	log  *slog.Logger
}

func NewRetrying(next Service, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Retrying{next: next, cfg: cfg, log: log}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (*Response, error) {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.cfg.BaseDelay),
		backoff.WithMaxInterval(r.cfg.MaxDelay),
		backoff.WithMaxElapsedTime(0),
	)
	hinted := &hintedBackOff{BackOff: exp}
	b := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(r.cfg.MaxAttempts-1)), ctx)

	var (
		out      *Response
		attempts int
	)
	op := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
		resp, err := r.next.Complete(callCtx, req)
		if err == nil {
			out = resp
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if callCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{After: r.cfg.CallTimeout}
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		var rl *RateLimitError
		if errors.As(err, &rl) {
			hinted.min = rl.RetryAfter
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn("llm: retrying completion", "attempt", attempts, "max_attempts", r.cfg.MaxAttempts, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: r.cfg.Clock}); err != nil {
		if attempts > 1 {
			return nil, &RetryError{Attempts: attempts, Err: err}
		}
		return nil, err
	}
	out.Attempts = attempts
	return out, nil
}

// hintedBackOff waits at least min before the next attempt, then forgets it.
type hintedBackOff struct {
	backoff.BackOff
	min time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next != backoff.Stop && next < h.min {
		next = h.min
	}
	h.min = 0
	return next
}

// clockTimer adapts a clockwork clock to the backoff timer.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.timer.Chan() }
