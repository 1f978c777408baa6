package slurm

import (
	"context"
	"path"
	"strings"

	"ssb/remote"
	"ssb/util"
)

// Strategy is one way of locating the directory that holds sbatch.
// Strategies must not fail: anything unexpected means "not found".
type Strategy interface {
	Name() string
	Discover(ctx context.Context, r Runner, log *util.Logger) (binDir string, ok bool)
}

// LoginShellStrategy asks a login shell where sbatch is.
type LoginShellStrategy struct{}

func (LoginShellStrategy) Name() string { return "login-shell" }

func (LoginShellStrategy) Discover(ctx context.Context, r Runner, log *util.Logger) (string, bool) {
	if res, err := r.Execute(ctx, `bash -l -c 'echo `+outputMarker+`; echo $PATH' 2>/dev/null || echo ''`); err == nil {
		log.Debug("login PATH: %s", strings.TrimSpace(commandOutput(res.Stdout)))
	}

	res, err := r.Execute(ctx, `bash -l -c 'echo `+outputMarker+`; which sbatch' 2>/dev/null || echo 'NOT_FOUND'`)
	if err != nil || res.ExitCode != 0 {
		return "", false
	}
	loc := firstLine(commandOutput(res.Stdout))
	if loc == "" || loc == "NOT_FOUND" || !strings.HasPrefix(loc, "/") {
		return "", false
	}
	return path.Dir(loc), true
}

// DefaultSchedulerDirs are checked in order by CommonPathsStrategy.
var DefaultSchedulerDirs = []string{
	"/cm/shared/apps/slurm/current/bin",
	"/usr/bin",
	"/usr/local/bin",
	"/opt/slurm/bin",
	"/cluster/slurm/bin",
}

// CommonPathsStrategy checks well-known install directories for an
// executable sbatch.
type CommonPathsStrategy struct {
	Dirs []string // nil = DefaultSchedulerDirs
}

func (CommonPathsStrategy) Name() string { return "common-paths" }

func (s CommonPathsStrategy) Discover(ctx context.Context, r Runner, log *util.Logger) (string, bool) {
	dirs := s.Dirs
	if dirs == nil {
		dirs = DefaultSchedulerDirs
	}
	for _, dir := range dirs {
		bin := remote.ShellQuote(dir + "/sbatch")
		res, err := r.Execute(ctx, "test -f "+bin+" && test -x "+bin+" && echo 'FOUND' || echo 'NOT_FOUND'")
		if err != nil {
			log.Debug("probe %s: %v", dir, err)
			continue
		}
		if strings.TrimSpace(res.Stdout) == "FOUND" {
			return dir, true
		}
	}
	return "", false
}

// Prober discovers the remote scheduler environment.
type Prober struct {
	runner     Runner
	logger     *util.Logger
	custom     map[string]string
	strategies []Strategy
}

// NewProber returns a Prober with the default strategy order: login
// shell first, then well-known directories.
func NewProber(r Runner, logger *util.Logger, custom map[string]string) *Prober {
	return &Prober{
		runner:     r,
		logger:     logger,
		custom:     custom,
		strategies: []Strategy{LoginShellStrategy{}, CommonPathsStrategy{}},
	}
}

// WithStrategies replaces the strategy list.
func (p *Prober) WithStrategies(s ...Strategy) *Prober {
	p.strategies = s
	return p
}

// Probe runs the strategies until one locates sbatch, captures the
// scheduler-related environment, and checks that sbatch answers.  It
// never fails; an Environment with an empty BinDir relies on the
// bootstrap PATH fallbacks.
func (p *Prober) Probe(ctx context.Context) *Environment {
	env := &Environment{Custom: p.custom, Captured: map[string]string{}}

	for _, s := range p.strategies {
		dir, ok := s.Discover(ctx, p.runner, p.logger)
		if ok {
			env.BinDir = dir
			p.logger.Verbose("sbatch found in %s (%s)", dir, s.Name())
			break
		}
		p.logger.Debug("strategy %s found nothing", s.Name())
	}
	if env.BinDir == "" {
		p.logger.Warn("SLURM commands not found in standard locations, relying on login shell PATH")
	}

	res, err := p.runner.Execute(ctx, env.Wrap(`env | grep -E '^(SLURM|CLUSTER|PATH)' | head -20`))
	if err == nil && res.ExitCode == 0 {
		for _, line := range strings.Split(commandOutput(res.Stdout), "\n") {
			if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok && k != "" {
				env.Captured[k] = v
			}
		}
	}

	res, err = p.runner.Execute(ctx, env.Wrap(env.Command("sbatch")+` --version 2>/dev/null | head -1 || echo 'SLURM_NOT_AVAILABLE'`))
	version := firstLine(commandOutput(res.Stdout))
	switch {
	case err != nil:
		p.logger.Warn("SLURM verification error: %v", err)
	case res.ExitCode == 0 && version != "" && version != "SLURM_NOT_AVAILABLE":
		p.logger.Info("SLURM verified: %s", version)
	default:
		p.logger.Warn("SLURM verification failed: %s", strings.TrimSpace(res.Combined()))
	}
	return env
}

// firstLine returns the first non-empty trimmed line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
