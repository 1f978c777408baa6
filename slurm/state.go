package slurm

import (
	"fmt"
	"strings"
	"time"
)

// State is the normalized scheduler state of a job.
type State string

const (
	StateActive    State = "ACTIVE" // pending, running, or any other non-terminal token
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StateTimeout   State = "TIMEOUT"
	StateNotFound  State = "NOT_FOUND" // in neither queue nor accounting
	StateError     State = "ERROR"     // the query itself failed
)

// Terminal reports whether polling can stop.  ERROR is not terminal.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout, StateNotFound:
		return true
	}
	return false
}

// ParseState maps a squeue/sacct state token to a State.  sacct
// decorations such as "CANCELLED by 1000" or "CANCELLED+" are accepted.
func ParseState(token string) State {
	fields := strings.Fields(strings.ToUpper(token))
	if len(fields) == 0 {
		return StateNotFound
	}
	tok := strings.TrimRight(fields[0], "+")
	switch {
	case tok == "COMPLETED":
		return StateCompleted
	case tok == "FAILED", tok == "NODE_FAIL", tok == "BOOT_FAIL", tok == "OUT_OF_MEMORY", tok == "DEADLINE":
		return StateFailed
	case strings.HasPrefix(tok, "CANCELLED"):
		return StateCancelled
	case tok == "TIMEOUT":
		return StateTimeout
	}
	return StateActive
}

// Job is a submitted batch job.  Only State and RawState change after
// submission.
type Job struct {
	ID          string
	Name        string // as requested; may be empty
	State       State
	RawState    string // last token reported by the scheduler
	ScriptPath  string // remote path that was submitted
	Uploaded    bool   // ScriptPath was copied by us
	Cleanup     bool   // remove ScriptPath when done
	SubmittedAt time.Time
}

// DisplayName returns Name, or job_<id> when no name was requested.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return "job_" + j.ID
}

// ValidateJobID accepts only non-empty decimal ids.
func ValidateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("empty job id")
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid job id %q", id)
		}
	}
	return nil
}
