// Package cmd wires up the CLI and dispatches to the job workflow.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"ssb/config"
	"ssb/internal/metrics"
	"ssb/remote"
	"ssb/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ssb/cmd.version=2.0.0"
var version = "0.3.0" //nolint:gochecknoglobals

// app carries what every command needs once flags are parsed.
type app struct {
	cfg       *config.Config
	verbosity int  // -v count
	quiet     bool // -q
	fetchLogs bool // --logs
	out       io.Writer
	errOut    io.Writer
	stdin     io.Reader
	logger    *util.Logger
	metrics   *metrics.Collector

	// Overridden in tests.
	prompt remote.PromptFunc
	lookup func(string) (string, bool)
}

func newApp(out, errOut io.Writer) *app {
	cfg := config.New()
	config.LoadFromEnv(cfg)
	return &app{
		cfg:     cfg,
		out:     out,
		errOut:  errOut,
		stdin:   os.Stdin,
		metrics: metrics.New(),
		lookup:  os.LookupEnv,
	}
}

// Execute parses args and runs the selected command.
func Execute(ctx context.Context, args []string) error {
	a := newApp(os.Stdout, os.Stderr)
	return a.execute(ctx, args)
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	err := root.ExecuteContext(ctx)
	if err != nil {
		a.metrics.RecordError(err.Error())
	}
	if a.cfg.Stats {
		fmt.Fprintln(a.errOut, a.metrics.JSON())
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ssb [flags] <script>",
		Short: "Submit and monitor SLURM jobs over SSH",
		Long: `ssb submits a batch script to a SLURM cluster over SSH, optionally through
bastion hosts, waits for it to finish, and fetches its logs.

A relative script path is uploaded first; an absolute path names a script
that already exists on the cluster.`,
		Example: `  ssb -H dgx train.sh                      Submit through an ~/.ssh/config alias
  ssb -p lab --job-name bert ./train.sh     Submit with a saved profile
  ssb --hostname gpu01 -J admin@gw run.sh   Direct host through a bastion
  ssb -H dgx /home/me/jobs/eval.sbatch      Submit a script already on the cluster
  ssb status -H dgx 4242                    One status query
  ssb logs -H dgx 4242                      Print a job's logs`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.runSubmit(cmd.Context(), args[0])
		},
	}
	root.SetVersionTemplate("ssb {{.Version}}\n")

	a.bindFlags(root.PersistentFlags())

	root.AddCommand(newSubmitCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newLogsCmd(a))
	root.AddCommand(newHostsCmd(a))
	root.AddCommand(newProfileCmd(a))
	return root
}

// bindFlags registers the shared flags.  Defaults come from cfg, which
// already carries SSB_* overrides, so flags win over the environment.
func (a *app) bindFlags(fs *flag.FlagSet) {
	cfg := a.cfg

	// ── target ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.HostAlias, "host", "H", cfg.HostAlias, "Host alias from the SSH config file")
	fs.StringVarP(&cfg.Profile, "profile", "p", cfg.Profile, "Saved profile name")
	fs.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "Direct connection hostname")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "SSH username")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "SSH port (default 22)")
	fs.StringVar(&cfg.SSHConfigPath, "ssh-config", cfg.SSHConfigPath, "SSH config file")
	fs.StringVar(&cfg.ProfilePath, "config", cfg.ProfilePath, "Profile store file")

	// ── SSH ──────────────────────────────────────────────────────
	fs.StringVarP(&cfg.JumpSpec, "jump", "J", cfg.JumpSpec, "Bastion chain [user@]host[:port][,...], overrides ProxyJump")
	fs.StringVar(&cfg.SSHKeyPath, "key-file", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "password", cfg.SSHPassword, "Prompt for an SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "agent", cfg.UseSSHAgent, "Use the SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify host keys against known_hosts")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.Var(durationValue{&cfg.ConnTimeout}, "conn-timeout", "Per-hop connection timeout (seconds or duration)")

	// ── job ──────────────────────────────────────────────────────
	fs.StringVar(&cfg.JobName, "job-name", cfg.JobName, "SLURM job name")
	fs.VarP(durationValue{&cfg.PollInterval}, "poll-interval", "i", "Status polling interval (seconds or duration)")
	fs.Var(durationValue{&cfg.Timeout}, "timeout", "Stop monitoring after this long (0 = until finished)")
	fs.BoolVar(&cfg.NoMonitor, "no-monitor", cfg.NoMonitor, "Submit without monitoring")
	fs.BoolVar(&a.fetchLogs, "logs", false, "Print the job's logs once it finishes")
	fs.BoolVar(&cfg.NoCleanup, "no-cleanup", cfg.NoCleanup, "Keep uploaded scripts on the cluster")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Remote directory searched first for job logs")
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "Remote directory for uploaded scripts")

	// ── environment ──────────────────────────────────────────────
	fs.StringArrayVar(&cfg.Env, "env", nil, "Forward KEY=VALUE to the job (repeatable)")
	fs.StringArrayVar(&cfg.EnvLocal, "env-local", nil, "Forward local variable KEY to the job (repeatable)")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&a.verbosity, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&a.quiet, "quiet", "q", false, "Only print errors and results")
	fs.BoolVar(&cfg.Stats, "stats", cfg.Stats, "Print session metrics as JSON on exit")
}

// setup finalizes the configuration and builds the logger.
func (a *app) setup() error {
	switch {
	case a.quiet:
		a.cfg.Verbose = 0
	default:
		a.cfg.Verbose += a.verbosity
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.logger = util.NewLogger(a.cfg.Verbose)
	a.logger.SetOutput(a.errOut)
	return nil
}

// durationValue is a pflag.Value accepting seconds or a Go duration.
type durationValue struct{ d *time.Duration }

func (v durationValue) String() string {
	if v.d == nil {
		return "0s"
	}
	return v.d.String()
}

func (v durationValue) Set(s string) error {
	d, ok := config.ParseDuration(s)
	if !ok {
		return fmt.Errorf("invalid duration %q", s)
	}
	*v.d = d
	return nil
}

func (durationValue) Type() string { return "duration" }
