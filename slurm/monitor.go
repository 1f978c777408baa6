package slurm

import (
	"context"
	"time"

	"ssb/internal/metrics"
	"ssb/util"
)

// Outcome is how a Wait ended.  TimedOut means the budget ran out
// before a terminal state; the job itself keeps running.
type Outcome struct {
	State    State
	RawState string
	Polls    int
	Elapsed  time.Duration
	TimedOut bool
}

// Monitor polls job state until it is terminal or a wall-clock budget
// is spent.
type Monitor struct {
	runner  Runner
	env     *Environment
	logger  *util.Logger
	metrics *metrics.Collector

	Interval time.Duration
	Timeout  time.Duration // 0 = no budget

	// Now and Sleep are swapped out in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// OnPoll, when set, sees every observation.
	OnPoll func(job *Job, elapsed time.Duration)
}

// NewMonitor returns a Monitor with a 10s interval and no budget.
func NewMonitor(r Runner, env *Environment, logger *util.Logger, m *metrics.Collector) *Monitor {
	return &Monitor{
		runner:   r,
		env:      env,
		logger:   logger,
		metrics:  m,
		Interval: 10 * time.Second,
		Now:      time.Now,
		Sleep:    sleepContext,
	}
}

// Status asks the live queue first, then accounting.  A job in neither
// is NOT_FOUND; a failed query is ERROR.  raw is the scheduler token.
func (m *Monitor) Status(ctx context.Context, id string) (state State, raw string) {
	defer func() { m.metrics.StatusPolled(string(state)) }()

	res, err := m.runner.Execute(ctx, m.env.Wrap(m.env.Command("squeue")+" -j "+id+" -h -o %T"))
	if err != nil {
		m.logger.Warn("squeue for job %s: %v", id, err)
		return StateError, ""
	}
	if res.ExitCode == 0 {
		if tok := firstLine(commandOutput(res.Stdout)); tok != "" {
			return ParseState(tok), tok
		}
	}

	res, err = m.runner.Execute(ctx, m.env.Wrap(m.env.Command("sacct")+" -j "+id+" -n -o State"))
	if err != nil {
		m.logger.Warn("sacct for job %s: %v", id, err)
		return StateError, ""
	}
	if res.ExitCode == 0 {
		if tok := firstLine(commandOutput(res.Stdout)); tok != "" {
			return ParseState(tok), tok
		}
	}
	return StateNotFound, ""
}

// Wait polls until job reaches a terminal state or the budget runs
// out, updating job.State and job.RawState after every poll.  A
// cancelled ctx ends the wait between polls with ctx.Err().
func (m *Monitor) Wait(ctx context.Context, job *Job) (Outcome, error) {
	if err := ValidateJobID(job.ID); err != nil {
		return Outcome{}, err
	}

	start := m.Now()
	var out Outcome
	for {
		state, raw := m.Status(ctx, job.ID)
		out.Polls++
		out.State, out.RawState = state, raw
		job.State, job.RawState = state, raw
		out.Elapsed = m.Now().Sub(start)
		if m.OnPoll != nil {
			m.OnPoll(job, out.Elapsed)
		}
		m.logger.Verbose("job %s: %s (%s)", job.ID, state, raw)

		if state.Terminal() {
			return out, nil
		}
		if m.expired(start) {
			out.TimedOut = true
			return out, nil
		}
		if err := m.Sleep(ctx, m.Interval); err != nil {
			out.Elapsed = m.Now().Sub(start)
			return out, err
		}
		if m.expired(start) {
			out.Elapsed = m.Now().Sub(start)
			out.TimedOut = true
			return out, nil
		}
	}
}

func (m *Monitor) expired(start time.Time) bool {
	return m.Timeout > 0 && m.Now().Sub(start) >= m.Timeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
