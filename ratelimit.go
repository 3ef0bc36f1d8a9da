package switchboard

import (
	"context"
	"sync"
	"time"
)

// rateLimitProvider wraps a Provider with proactive rate limiting. Calls
// block until the per-minute budgets allow them to proceed.
type rateLimitProvider struct {
	inner Provider

	mu  sync.Mutex
	now func() time.Time

	// Sliding window of request timestamps.
	rpm       int
	rpmWindow []time.Time

	// Sliding window of token spends, fed by response usage.
	tpm       int
	tpmWindow []tokenSpend
}

type tokenSpend struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM caps requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// TPM caps tokens per minute, input + output combined, as reported by
// ChatResponse.Usage. The cap is soft: the request that crosses it
// completes, and later requests wait for the window to slide.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit wraps p so calls wait for budget before reaching the
// backend. Compose with the other provider wrappers at wiring time:
//
//	llm := switchboard.WithRateLimit(provider, switchboard.RPM(60))
//	llm = switchboard.WithRateLimit(switchboard.WithRetry(provider), switchboard.RPM(60), switchboard.TPM(100000))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name delegates to the inner provider.
func (r *rateLimitProvider) Name() string { return r.inner.Name() }

// Chat implements Provider, waiting for budget before the inner call.
func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.recordUsage(resp.Usage)
	}
	return resp, err
}

// waitForBudget blocks until both windows have room. Returns ctx.Err() if
// the context ends while waiting.
func (r *rateLimitProvider) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		cutoff := now.Add(-time.Minute)

		r.rpmWindow = pruneRequests(r.rpmWindow, cutoff)
		r.tpmWindow = pruneSpends(r.tpmWindow, cutoff)

		rpmOK := r.rpm <= 0 || len(r.rpmWindow) < r.rpm

		tpmOK := true
		if r.tpm > 0 {
			var total int
			for _, e := range r.tpmWindow {
				total += e.tokens
			}
			tpmOK = total < r.tpm
		}

		if rpmOK && tpmOK {
			if r.rpm > 0 {
				r.rpmWindow = append(r.rpmWindow, now)
			}
			r.mu.Unlock()
			return nil
		}

		// Sleep until the oldest entry in the blocking window expires.
		var wait time.Duration
		if !rpmOK && len(r.rpmWindow) > 0 {
			wait = r.rpmWindow[0].Add(time.Minute).Sub(now)
		}
		if !tpmOK && len(r.tpmWindow) > 0 {
			w := r.tpmWindow[0].at.Add(time.Minute).Sub(now)
			if wait == 0 || w < wait {
				wait = w
			}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// recordUsage adds a completed call's token total to the TPM window.
func (r *rateLimitProvider) recordUsage(u Usage) {
	if r.tpm <= 0 {
		return
	}
	total := u.InputTokens + u.OutputTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tokenSpend{at: r.now(), tokens: total})
	r.mu.Unlock()
}

// pruneRequests drops timestamps older than cutoff from a sorted slice.
func pruneRequests(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

// pruneSpends drops spends older than cutoff from a sorted slice.
func pruneSpends(s []tokenSpend, cutoff time.Time) []tokenSpend {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

// compile-time check
var _ Provider = (*rateLimitProvider)(nil)
