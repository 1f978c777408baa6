package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ssb/remote"
	"ssb/slurm"
)

func newStatusCmd(a *app) *cobra.Command {
	var wait bool
	c := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a submitted job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStatus(cmd.Context(), args[0], wait)
		},
	}
	c.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the job finishes")
	return c
}

func (a *app) runStatus(ctx context.Context, id string, wait bool) error {
	if err := slurm.ValidateJobID(id); err != nil {
		return err
	}
	client, env, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect() //nolint:errcheck

	mon := slurm.NewMonitor(client, env, a.logger, a.metrics)
	if !wait {
		state, raw := mon.Status(ctx, id)
		if raw == "" {
			raw = string(state)
		}
		fmt.Fprintf(a.out, "%s\t%s\n", id, paintRaw(state, raw))
		return nil
	}

	mon.Interval = a.cfg.PollInterval
	mon.Timeout = a.cfg.Timeout
	mon.OnPoll = a.printProgress
	job := &slurm.Job{ID: id}
	out, err := mon.Wait(ctx, job)
	if err != nil {
		return err
	}
	if out.TimedOut {
		a.logger.Warn("stopped waiting after %s", round(out.Elapsed))
	}
	fmt.Fprintf(a.out, "%s\t%s\n", id, paintState(out.State))
	if a.fetchLogs && out.State.Terminal() {
		a.printLogs(ctx, client, id, a.cfg.JobName)
	}
	return nil
}

func newLogsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Find and print a job's output and error logs",
		Long: `Searches the log directory, the home directory, /tmp and /var/log/slurm
for files named after the job.  Pass --job-name to prefer <name>_<id>.log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := slurm.ValidateJobID(id); err != nil {
				return err
			}
			t, err := a.resolveTarget()
			if err != nil {
				return err
			}
			client, err := a.connect(cmd.Context(), t)
			if err != nil {
				return err
			}
			defer client.Disconnect() //nolint:errcheck
			a.printLogs(cmd.Context(), client, id, a.cfg.JobName)
			return nil
		},
	}
}

// printLogs writes the job output to stdout and its error log to
// stderr.
func (a *app) printLogs(ctx context.Context, client *remote.Client, id, name string) {
	b := slurm.NewLogLocator(client, a.logger, a.cfg.LogDir).Fetch(ctx, id, name)
	for _, src := range b.Sources {
		a.logger.Verbose("log source: %s", src)
	}
	if b.Output == "" && b.Errors == "" {
		a.logger.Warn("no output found for job %s", id)
		return
	}
	if b.Output != "" {
		fmt.Fprint(a.out, b.Output)
	}
	if b.Errors != "" {
		fmt.Fprintln(a.errOut, stateDim("--- stderr ---"))
		fmt.Fprint(a.errOut, b.Errors)
	}
}
