package switchboard

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// metricsFileName is the fixed name of the usage log inside DataDir.
const metricsFileName = "usage_metrics.jsonl"

// recentEventsCap bounds the in-memory ring of recent usage events kept for
// the observability taps.
const recentEventsCap = 100

// HandleUsage is the aggregated view of one handle's usage history.
type HandleUsage struct {
	Successes   int   `json:"successes"`
	Failures    int   `json:"failures"`
	LastSuccess int64 `json:"last_success,omitempty"` // epoch milliseconds
}

// MetricsLog is the persistent usage log behind tool preloading. Every
// success or failure appends one JSON line to usage_metrics.jsonl; the same
// records feed an in-memory tally used for ranking. An append failure
// degrades the log to memory-only operation for that record, it never fails
// a turn.
type MetricsLog struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	tallies map[string]*HandleUsage
	order   map[string]int // catalog insertion order, for rank tie-breaks
	recent  []UsageRecord  // ring, newest last
	logger  *slog.Logger
	now     func() time.Time
}

// NewMetricsLog returns a log writing under dataDir. catalogOrder fixes the
// final ranking tie-break; handles outside it sort last.
func NewMetricsLog(dataDir string, catalogOrder []string, logger *slog.Logger) *MetricsLog {
	if logger == nil {
		logger = nopLogger
	}
	order := make(map[string]int, len(catalogOrder))
	for i, h := range catalogOrder {
		if _, ok := order[h]; !ok {
			order[h] = i
		}
	}
	return &MetricsLog{
		path:    filepath.Join(dataDir, metricsFileName),
		tallies: make(map[string]*HandleUsage),
		order:   order,
		logger:  logger.With("component", "metrics"),
		now:     time.Now,
	}
}

// Load replays the usage file into the in-memory tallies. Malformed lines
// are skipped; a single warning reports how many. A missing file is a
// normal first run.
func (m *MetricsLog) Load() error {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ErrMetricsWrite{Path: m.path, Err: err}
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	malformed := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec UsageRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Handle == "" {
			malformed++
			continue
		}
		m.apply(rec)
	}
	if err := sc.Err(); err != nil {
		return &ErrMetricsWrite{Path: m.path, Err: err}
	}
	if malformed > 0 {
		m.logger.Warn("skipped malformed metrics lines", "count", malformed, "path", m.path)
	}
	return nil
}

// Log records one outcome for handle. The in-memory tally always updates;
// a failed file append is reported as *ErrMetricsWrite for the caller to
// log.
func (m *MetricsLog) Log(handle string, outcome Outcome) error {
	rec := UsageRecord{TS: m.now().UnixMilli(), Handle: handle, Outcome: outcome}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(rec)

	if err := m.append(rec); err != nil {
		return &ErrMetricsWrite{Path: m.path, Err: err}
	}
	return nil
}

// apply folds rec into the tallies and the recent ring. Callers hold the
// lock.
func (m *MetricsLog) apply(rec UsageRecord) {
	t, ok := m.tallies[rec.Handle]
	if !ok {
		t = &HandleUsage{}
		m.tallies[rec.Handle] = t
	}
	switch rec.Outcome {
	case OutcomeSuccess:
		t.Successes++
		if rec.TS > t.LastSuccess {
			t.LastSuccess = rec.TS
		}
	case OutcomeFailure:
		t.Failures++
	}
	m.recent = append(m.recent, rec)
	if len(m.recent) > recentEventsCap {
		m.recent = m.recent[len(m.recent)-recentEventsCap:]
	}
}

// append writes one line to the usage file, opening it on first use. The
// *os.File is unbuffered, so every line is flushed as written and a crash
// loses at most the in-flight record. Callers hold the lock.
func (m *MetricsLog) append(rec UsageRecord) error {
	if m.file == nil {
		if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		m.file = f
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = m.file.Write(append(data, '\n'))
	return err
}

// RankTop returns up to n handles ordered by success count, most recent
// success, then catalog order. Handles with zero successes rank below any
// handle with one. Only handles present in the usage history are returned;
// n <= 0 returns the whole ranking.
func (m *MetricsLog) RankTop(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles := make([]string, 0, len(m.tallies))
	for h := range m.tallies {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool {
		a, b := m.tallies[handles[i]], m.tallies[handles[j]]
		if a.Successes != b.Successes {
			return a.Successes > b.Successes
		}
		if a.LastSuccess != b.LastSuccess {
			return a.LastSuccess > b.LastSuccess
		}
		oi, oj := m.orderOf(handles[i]), m.orderOf(handles[j])
		if oi != oj {
			return oi < oj
		}
		return handles[i] < handles[j]
	})
	if n > 0 && len(handles) > n {
		handles = handles[:n]
	}
	return handles
}

func (m *MetricsLog) orderOf(h string) int {
	if i, ok := m.order[h]; ok {
		return i
	}
	return int(^uint(0) >> 1) // not in catalog, sort last
}

// Totals returns a copy of the per-handle tallies.
func (m *MetricsLog) Totals() map[string]HandleUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HandleUsage, len(m.tallies))
	for h, t := range m.tallies {
		out[h] = *t
	}
	return out
}

// Recent returns up to n usage events, newest first.
func (m *MetricsLog) Recent(n int) []UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.recent) {
		n = len(m.recent)
	}
	out := make([]UsageRecord, n)
	for i := 0; i < n; i++ {
		out[i] = m.recent[len(m.recent)-1-i]
	}
	return out
}

// Close releases the underlying file. Further Log calls reopen it.
func (m *MetricsLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
