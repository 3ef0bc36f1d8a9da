package switchboard

import (
	"sync"
	"time"
)

// HealthRecord tracks the failure state of a single handle.
type HealthRecord struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure"`
	CooldownUntil       time.Time `json:"cooldown_until"`
}

// HealthTracker quarantines handles that failed recently. One failure puts
// the handle on a fixed cooldown; there is no exponential backoff. The
// catalog is small and human-readable, so operator inspection beats
// aggressive avoidance.
type HealthTracker struct {
	mu       sync.Mutex
	cooldown time.Duration
	records  map[string]*HealthRecord
	now      func() time.Time
}

// NewHealthTracker returns a tracker with the given cooldown per failure.
func NewHealthTracker(cooldown time.Duration) *HealthTracker {
	return &HealthTracker{
		cooldown: cooldown,
		records:  make(map[string]*HealthRecord),
		now:      time.Now,
	}
}

// IsHealthy reports whether h has no failure record or its cooldown has
// elapsed.
func (t *HealthTracker) IsHealthy(h string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[h]
	if !ok {
		return true
	}
	return !t.now().Before(rec.CooldownUntil)
}

// MarkOK clears the failure record for h.
func (t *HealthTracker) MarkOK(h string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, h)
}

// MarkFail records a failure for h and starts a fresh cooldown.
func (t *HealthTracker) MarkFail(h string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[h]
	if !ok {
		rec = &HealthRecord{}
		t.records[h] = rec
	}
	now := t.now()
	rec.ConsecutiveFailures++
	rec.LastFailure = now
	rec.CooldownUntil = now.Add(t.cooldown)
}

// FilterHealthy returns the healthy subset of handles, preserving order.
func (t *HealthTracker) FilterHealthy(handles []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		rec, ok := t.records[h]
		if !ok || !now.Before(rec.CooldownUntil) {
			out = append(out, h)
		}
	}
	return out
}

// Snapshot returns a copy of every live failure record for observability.
func (t *HealthTracker) Snapshot() map[string]HealthRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]HealthRecord, len(t.records))
	for h, rec := range t.records {
		out[h] = *rec
	}
	return out
}
