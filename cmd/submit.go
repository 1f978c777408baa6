package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	ssberrors "ssb/internal/errors"
	"ssb/slurm"
)

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <script|->",
		Short: "Submit a script (\"-\" reads the script body from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSubmit(cmd.Context(), args[0])
		},
	}
}

// runSubmit is the main workflow: connect, probe, submit, monitor,
// clean up.
func (a *app) runSubmit(ctx context.Context, script string) error {
	var body string
	if script == "-" {
		b, err := io.ReadAll(a.stdin)
		if err != nil {
			return fmt.Errorf("reading script from stdin: %w", err)
		}
		if strings.TrimSpace(string(b)) == "" {
			return fmt.Errorf("empty script on stdin")
		}
		body = string(b)
	} else if !filepath.IsAbs(script) {
		if _, err := os.Stat(script); err != nil {
			return &ssberrors.ValidationError{Path: script, Reason: "local file not found"}
		}
	}

	client, env, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			a.logger.Warn("disconnect: %v", err)
		}
	}()

	sub := slurm.NewSubmitter(client, env, a.logger, a.metrics)
	var job *slurm.Job
	if script == "-" {
		job, err = sub.SubmitScript(ctx, body, a.cfg.JobName)
	} else {
		job, err = sub.SubmitFile(ctx, script, a.cfg.JobName, !a.cfg.NoCleanup)
	}
	if err != nil {
		return explainSubmitError(err, script)
	}
	// Cleanup must run even when monitoring is interrupted.
	defer sub.Cleanup(context.WithoutCancel(ctx), job)

	fmt.Fprintf(a.out, "Job submitted: %s\n", job.ID)
	if a.cfg.NoMonitor {
		return nil
	}

	mon := slurm.NewMonitor(client, env, a.logger, a.metrics)
	mon.Interval = a.cfg.PollInterval
	mon.Timeout = a.cfg.Timeout
	mon.OnPoll = a.printProgress

	a.logger.Info("monitoring job %s every %s", job.ID, a.cfg.PollInterval)
	out, err := mon.Wait(ctx, job)
	if err != nil {
		return fmt.Errorf("monitoring job %s: %w", job.ID, err)
	}
	if out.TimedOut {
		a.logger.Warn("stopped monitoring job %s after %s; it is still %s", job.ID, round(out.Elapsed), out.RawState)
		return nil
	}

	fmt.Fprintf(a.out, "Job %s finished with status: %s\n", job.ID, paintState(out.State))
	if a.fetchLogs {
		a.printLogs(ctx, client, job.ID, job.Name)
	}
	switch out.State {
	case slurm.StateFailed, slurm.StateCancelled, slurm.StateTimeout:
		return fmt.Errorf("job %s ended %s", job.ID, out.RawState)
	}
	return nil
}

// explainSubmitError adds the hint for a common mistake: an absolute
// path to a local file is taken to be on the cluster.
func explainSubmitError(err error, script string) error {
	var ve *ssberrors.ValidationError
	if errors.As(err, &ve) && ve.Reason == "not found" && filepath.IsAbs(script) {
		if _, statErr := os.Stat(script); statErr == nil {
			return fmt.Errorf("%w (a local file with that path exists; pass a relative path to upload it)", err)
		}
	}
	return err
}

func (a *app) printProgress(job *slurm.Job, elapsed time.Duration) {
	if job.State.Terminal() {
		return
	}
	raw := job.RawState
	if raw == "" {
		raw = string(job.State)
	}
	a.logger.Info("job %s (%s): %s [%s]", job.ID, job.DisplayName(), paintRaw(job.State, raw), round(elapsed))
}

var (
	stateOK   = color.New(color.FgGreen, color.Bold).SprintFunc()
	stateBad  = color.New(color.FgRed, color.Bold).SprintFunc()
	stateWait = color.New(color.FgYellow).SprintFunc()
	stateDim  = color.New(color.FgHiBlack).SprintFunc()
)

func paintState(s slurm.State) string {
	return paintRaw(s, string(s))
}

func paintRaw(s slurm.State, text string) string {
	switch s {
	case slurm.StateCompleted:
		return stateOK(text)
	case slurm.StateFailed, slurm.StateCancelled, slurm.StateTimeout:
		return stateBad(text)
	case slurm.StateActive:
		return stateWait(text)
	}
	return stateDim(text)
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Second)
}
