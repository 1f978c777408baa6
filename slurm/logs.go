package slurm

import (
	"context"
	"path"
	"strings"

	"ssb/remote"
	"ssb/util"
)

// LogBundle is what could be recovered of a job's output.
type LogBundle struct {
	Output  string
	Errors  string
	Sources []string // files read, primary first
}

// LogLocator searches the remote host for a job's log files.  Matching
// is by job id only, so two files that share an id cannot be told
// apart and the first one found wins.
type LogLocator struct {
	runner Runner
	logger *util.Logger
	LogDir string // searched first; "" = ~/logs/slurm
}

// NewLogLocator returns a LogLocator that searches logDir first.
func NewLogLocator(r Runner, logger *util.Logger, logDir string) *LogLocator {
	return &LogLocator{runner: r, logger: logger, LogDir: logDir}
}

// CandidatePatterns lists file-name patterns for a job, most specific
// first.
func CandidatePatterns(id, name string) []string {
	var out []string
	if name != "" {
		out = append(out, name+"_"+id+".log")
	}
	return append(out,
		"*_"+id+".log",
		"slurm-"+id+".out",
		"slurm-"+id+".err",
		"job_"+id+".log",
		id+".log",
	)
}

// CandidateDirs lists the directories searched, logDir first.
func CandidateDirs(logDir string) []string {
	if logDir == "" {
		logDir = "~/logs/slurm"
	}
	return []string{logDir, "./", "/tmp", "/var/log/slurm"}
}

// Fetch searches every directory for every pattern, reads the first
// hit as the output, and appends later hits whose name mentions "err"
// to the error text.  With no hits it falls back to the scheduler
// default names in the home directory.  Fetch never fails; problems
// are logged.
func (l *LogLocator) Fetch(ctx context.Context, id, name string) LogBundle {
	var found []string
	seen := map[string]bool{}

	for _, dir := range CandidateDirs(l.LogDir) {
		for _, pattern := range CandidatePatterns(id, name) {
			cmd := "find " + quoteRemoteDir(dir) + " -name " + remote.ShellQuote(pattern) + " -type f 2>/dev/null | head -5"
			res, err := l.runner.Execute(ctx, cmd)
			if err != nil {
				l.logger.Warn("log search in %s: %v", dir, err)
				continue
			}
			if res.ExitCode != 0 {
				continue
			}
			for _, f := range strings.Split(res.Stdout, "\n") {
				f = strings.TrimSpace(f)
				if f == "" || seen[f] {
					continue
				}
				seen[f] = true
				found = append(found, f)
				l.logger.Debug("candidate log: %s", f)
			}
		}
	}

	var b LogBundle
	if len(found) == 0 {
		l.logger.Warn("no log files found for job %s", id)
		b.Output = l.readOptional(ctx, "slurm-"+id+".out")
		b.Errors = l.readOptional(ctx, "slurm-"+id+".err")
		return b
	}

	if out, ok := l.read(ctx, found[0]); ok {
		b.Output = out
		b.Sources = append(b.Sources, found[0])
	}
	for _, f := range found[1:] {
		if !strings.Contains(strings.ToLower(path.Base(f)), "err") {
			continue
		}
		if out, ok := l.read(ctx, f); ok {
			b.Errors += out
			b.Sources = append(b.Sources, f)
		}
	}
	l.logger.Info("found %d log file(s) for job %s", len(found), id)
	return b
}

func (l *LogLocator) read(ctx context.Context, file string) (string, bool) {
	res, err := l.runner.Execute(ctx, "cat "+remote.ShellQuote(file))
	if err != nil {
		l.logger.Warn("reading %s: %v", file, err)
		return "", false
	}
	if res.ExitCode != 0 {
		l.logger.Warn("reading %s: %s", file, strings.TrimSpace(res.Stderr))
		return "", false
	}
	return res.Stdout, true
}

// readOptional reads a file relative to the home directory, treating
// absence as empty.
func (l *LogLocator) readOptional(ctx context.Context, file string) string {
	res, err := l.runner.Execute(ctx, "cat "+remote.ShellQuote(file)+" 2>/dev/null || true")
	if err != nil {
		l.logger.Warn("reading %s: %v", file, err)
		return ""
	}
	return res.Stdout
}

// quoteRemoteDir quotes dir for the remote shell but leaves a leading
// "~/" unquoted so it still expands.
func quoteRemoteDir(dir string) string {
	switch {
	case dir == "~":
		return "~"
	case strings.HasPrefix(dir, "~/"):
		rest := strings.TrimPrefix(dir, "~/")
		if rest == "" {
			return "~/"
		}
		return "~/" + remote.ShellQuote(rest)
	}
	return remote.ShellQuote(dir)
}
