package switchboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrConfig reports invalid startup configuration. Raised during
// construction, never at runtime.
type ErrConfig struct {
	Field  string
	Reason string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ErrEmbedding reports a failure of the embedding provider. Fatal during
// Registry initialization; caught and logged inside discovery.
type ErrEmbedding struct {
	Provider string
	Err      error
}

func (e *ErrEmbedding) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Provider, e.Err)
}

func (e *ErrEmbedding) Unwrap() error { return e.Err }

// ErrTransportOpen reports that a server binding could not be opened.
type ErrTransportOpen struct {
	Handle string
	Err    error
}

func (e *ErrTransportOpen) Error() string {
	return fmt.Sprintf("open %s: %v", e.Handle, e.Err)
}

func (e *ErrTransportOpen) Unwrap() error { return e.Err }

// ErrAgent reports a failed agent execution: the executor errored, the
// deadline expired, or the step budget was exceeded. It is the only error
// kind HandleTurn surfaces to callers. Recoverable signals that the caller
// may simply retry the turn (transient provider errors, timeouts, budget
// exhaustion); contract violations are not recoverable.
type ErrAgent struct {
	Reason      string
	Recoverable bool
	Err         error
}

func (e *ErrAgent) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent: %s: %v", e.Reason, e.Err)
	}
	return "agent: " + e.Reason
}

func (e *ErrAgent) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is an *ErrAgent marked recoverable.
func IsRecoverable(err error) bool {
	var e *ErrAgent
	return errors.As(err, &e) && e.Recoverable
}

// ErrMetricsWrite reports a failed append to the metrics file. Logged by the
// router, never surfaced; the in-memory view keeps operating.
type ErrMetricsWrite struct {
	Path string
	Err  error
}

func (e *ErrMetricsWrite) Error() string {
	return fmt.Sprintf("metrics append %s: %v", e.Path, e.Err)
}

func (e *ErrMetricsWrite) Unwrap() error { return e.Err }

// ErrHTTP is a transport-level HTTP error from a provider client. Carries
// the parsed Retry-After duration so retry middleware can honor it.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value: either delay
// seconds ("120") or an HTTP date. Returns 0 when the value is absent or
// unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
