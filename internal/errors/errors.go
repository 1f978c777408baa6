// Package errors provides domain-specific error types for ssb.
//
// These types carry structured context (stage, host, script path, exit
// code) so callers can tell a broken alias file from a refused bastion or a
// rejected sbatch call without parsing message strings.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected = errors.New("not connected")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrProxyLoop    = errors.New("proxy jump loop")
	ErrNoJobID      = errors.New("no job id in scheduler output")
	ErrHostNotFound = errors.New("host alias not found")
)

// ── Connection stages ────────────────────────────────────────────────

// Stage names the step of session setup that failed.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageAuth      Stage = "auth"
	StageDial      Stage = "dial"
	StageTunnel    Stage = "tunnel"
	StageHandshake Stage = "handshake"
	StageSFTP      Stage = "sftp"
	StageWorkDir   Stage = "workdir"
)

// ── Structured error types ───────────────────────────────────────────

// ConnectionError represents an auth, network, or proxy failure while
// opening a session.  Via is set when the failing hop was reached
// through a bastion.
type ConnectionError struct {
	Stage Stage
	Host  string
	Port  int
	Via   string
	Err   error
}

func (e *ConnectionError) Error() string {
	s := fmt.Sprintf("ssh %s %s:%d", e.Stage, e.Host, e.Port)
	if e.Via != "" {
		s += " via " + e.Via
	}
	return s + ": " + fmt.Sprint(e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value or a malformed
// host-alias file.  Line is set (1-based) for file errors.
type ConfigError struct {
	Field   string      // config field or file path
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
	Line    int
	Err     error
}

func (e *ConfigError) Error() string {
	var msg string
	if e.Line > 0 {
		msg = fmt.Sprintf("config: %s:%d", e.Field, e.Line)
	} else {
		msg = fmt.Sprintf("config: --%s", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError reports a remote script that failed the pre-submit
// gate (missing, unreadable, or syntactically invalid).
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s", e.Path, e.Reason)
}

// SubmissionError reports a rejected sbatch call: a non-zero exit or
// output without a parsable job id.
type SubmissionError struct {
	ExitCode int
	Output   string
	Hint     string
	Err      error
}

func (e *SubmissionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "submit: exit %d", e.ExitCode)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", firstLine(out))
	}
	if e.Hint != "" {
		b.WriteString("\n  hint: " + e.Hint)
	}
	return b.String()
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// WrapConnection creates a ConnectionError for the given stage.
func WrapConnection(stage Stage, host string, port int, err error) *ConnectionError {
	return &ConnectionError{Stage: stage, Host: host, Port: port, Err: err}
}

// StageOf returns the failing stage of a connection error, or "".
func StageOf(err error) Stage {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Stage
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
