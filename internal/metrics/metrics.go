// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of an ssb invocation.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one ssb invocation.
// A nil Collector is safe to use — all methods become no-ops.
type Collector struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64
	proxyHops      atomic.Int64
	commandsTotal  atomic.Int64
	commandsFailed atomic.Int64
	bytesUploaded  atomic.Int64
	jobsSubmitted  atomic.Int64
	statusPolls    atomic.Int64
	errorsTotal    atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastPoll     time.Time
	lastState    string
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters and
// records how many bastion hops the session went through.
func (c *Collector) SessionOpened(hops int) {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
	c.proxyHops.Add(int64(hops))
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of open sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ProxyHops returns the total number of bastion hops traversed.
func (c *Collector) ProxyHops() int64 {
	if c == nil {
		return 0
	}
	return c.proxyHops.Load()
}

// ── Remote command metrics ───────────────────────────────────────────

// CommandRun records one remote command and whether it exited non-zero.
func (c *Collector) CommandRun(exitCode int) {
	if c == nil {
		return
	}
	c.commandsTotal.Add(1)
	if exitCode != 0 {
		c.commandsFailed.Add(1)
	}
}

// Commands returns the total number of remote commands executed.
func (c *Collector) Commands() int64 {
	if c == nil {
		return 0
	}
	return c.commandsTotal.Load()
}

// FailedCommands returns how many remote commands exited non-zero.
func (c *Collector) FailedCommands() int64 {
	if c == nil {
		return 0
	}
	return c.commandsFailed.Load()
}

// BytesUploaded records n bytes copied to the remote host.
func (c *Collector) BytesUploaded(n int64) {
	if c == nil {
		return
	}
	c.bytesUploaded.Add(n)
}

// TotalBytesUploaded returns total bytes uploaded.
func (c *Collector) TotalBytesUploaded() int64 {
	if c == nil {
		return 0
	}
	return c.bytesUploaded.Load()
}

// ── Job metrics ──────────────────────────────────────────────────────

// JobSubmitted records an accepted sbatch call.
func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Add(1)
}

// JobsSubmitted returns the number of accepted submissions.
func (c *Collector) JobsSubmitted() int64 {
	if c == nil {
		return 0
	}
	return c.jobsSubmitted.Load()
}

// StatusPolled records one scheduler status query and its outcome.
func (c *Collector) StatusPolled(state string) {
	if c == nil {
		return
	}
	c.statusPolls.Add(1)
	c.mu.Lock()
	c.lastPoll = time.Now()
	c.lastState = state
	c.mu.Unlock()
}

// StatusPolls returns the total number of status queries.
func (c *Collector) StatusPolls() int64 {
	if c == nil {
		return 0
	}
	return c.statusPolls.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	ProxyHops        int64  `json:"proxy_hops"`
	CommandsTotal    int64  `json:"commands_total"`
	CommandsFailed   int64  `json:"commands_failed"`
	BytesUploaded    int64  `json:"bytes_uploaded"`
	JobsSubmitted    int64  `json:"jobs_submitted"`
	StatusPolls      int64  `json:"status_polls"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastPoll         string `json:"last_poll,omitempty"`
	LastState        string `json:"last_state,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive: c.sessionsActive.Load(),
		SessionsTotal:  c.sessionsTotal.Load(),
		ProxyHops:      c.proxyHops.Load(),
		CommandsTotal:  c.commandsTotal.Load(),
		CommandsFailed: c.commandsFailed.Load(),
		BytesUploaded:  c.bytesUploaded.Load(),
		JobsSubmitted:  c.jobsSubmitted.Load(),
		StatusPolls:    c.statusPolls.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
	}
	if !c.lastPoll.IsZero() {
		s.LastPoll = c.lastPoll.Format(time.RFC3339)
		s.LastState = c.lastState
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
