package provider

import (
	"context"
	"math"
	"math/rand"
	"time"

	"ctxpilot/internal/logging"
)

// RetryPolicy configures retries with exponential backoff.
type RetryPolicy struct {
	MaxRetries int           // retry attempts after the first
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on any delay
	Multiplier float64
	Jitter     bool
}

// DefaultRetryPolicy retries three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns the wait before retry attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := math.Min(float64(p.BaseDelay)*math.Pow(mult, float64(attempt)), float64(p.MaxDelay))
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// Retrying wraps an adapter so retryable failures that happen before any
// output are retried. Failures after the first text or tool call pass
// through, since partial output cannot be replayed.
type Retrying struct {
	inner  Adapter
	policy RetryPolicy
}

// WithRetries wraps inner with policy.
func WithRetries(inner Adapter, policy RetryPolicy) *Retrying {
	return &Retrying{inner: inner, policy: policy}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) Stream(ctx context.Context, prompt *Prompt) (<-chan Event, error) {
	out := make(chan Event, 16)
	go r.run(ctx, prompt, out)
	return out, nil
}

func (r *Retrying) run(ctx context.Context, prompt *Prompt, out chan<- Event) {
	defer close(out)

	for attempt := 0; ; attempt++ {
		err := r.attempt(ctx, prompt, out)
		if err == nil {
			return
		}
		if !IsRetryable(err) || attempt >= r.policy.MaxRetries {
			send(ctx, out, Event{Kind: EventError, Err: AsError(r.inner.Name(), err)})
			return
		}

		delay := r.policy.Delay(attempt)
		logging.ProviderWarn("%s attempt %d failed, retrying in %v: %v", r.inner.Name(), attempt+1, delay, err)
		select {
		case <-ctx.Done():
			send(ctx, out, Event{Kind: EventError, Err: AsError(r.inner.Name(), ctx.Err())})
			return
		case <-time.After(delay):
		}
	}
}

// attempt forwards one inner stream. It returns a retryable error only when
// nothing has been forwarded yet.
func (r *Retrying) attempt(ctx context.Context, prompt *Prompt, out chan<- Event) error {
	events, err := r.inner.Stream(ctx, prompt)
	if err != nil {
		return err
	}

	forwarded := false
	for ev := range events {
		if ev.Kind == EventError && !forwarded && IsRetryable(ev.Err) {
			drain(events)
			return ev.Err
		}
		if !send(ctx, out, ev) {
			drain(events)
			return nil
		}
		if ev.Kind == EventText || ev.Kind == EventToolCall {
			forwarded = true
		}
		if ev.Kind == EventDone || ev.Kind == EventError {
			drain(events)
			return nil
		}
	}
	return nil
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func drain(events <-chan Event) {
	go func() {
		for range events {
		}
	}()
}
