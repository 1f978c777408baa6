package slurm

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	ssberrors "ssb/internal/errors"
	"ssb/internal/metrics"
	"ssb/remote"
	"ssb/util"
)

var jobIDRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseJobID extracts the id from sbatch output.
func ParseJobID(output string) (string, bool) {
	m := jobIDRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Submitter hands batch scripts to sbatch.
type Submitter struct {
	runner  Runner
	env     *Environment
	logger  *util.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewSubmitter returns a Submitter that wraps scheduler calls in env.
func NewSubmitter(r Runner, env *Environment, logger *util.Logger, m *metrics.Collector) *Submitter {
	return &Submitter{runner: r, env: env, logger: logger, metrics: m, now: time.Now}
}

// SubmitScript feeds body to sbatch on stdin through a quoted here-doc.
func (s *Submitter) SubmitScript(ctx context.Context, body, name string) (*Job, error) {
	delim := heredocDelimiter(body)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	cmd := s.sbatchCommand(name) + " <<'" + delim + "'\n" + body + delim

	job, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	job.Name = name
	return job, nil
}

// SubmitFile submits a script by path.  A relative or local path is
// uploaded first; an absolute path is taken to be on the remote host
// and must pass Validate.  cleanup only applies to uploaded scripts.
func (s *Submitter) SubmitFile(ctx context.Context, scriptPath, name string, cleanup bool) (*Job, error) {
	var remotePath string
	uploaded := false

	if strings.HasPrefix(scriptPath, "/") {
		if err := s.Validate(ctx, scriptPath); err != nil {
			return nil, err
		}
		remotePath = scriptPath
	} else {
		if _, err := os.Stat(scriptPath); err != nil {
			return nil, &ssberrors.ValidationError{Path: scriptPath, Reason: "local file not found"}
		}
		p, err := s.runner.Upload(ctx, scriptPath, "")
		if err != nil {
			return nil, err
		}
		remotePath, uploaded = p, true
		s.logger.Info("uploaded %s to %s", scriptPath, remotePath)
	}

	job, err := s.run(ctx, s.sbatchCommand(name)+" "+remote.ShellQuote(remotePath))
	if err != nil {
		if uploaded && cleanup {
			s.runner.Remove(ctx, remotePath)
		}
		return nil, err
	}
	job.Name = name
	job.ScriptPath = remotePath
	job.Uploaded = uploaded
	job.Cleanup = uploaded && cleanup
	return job, nil
}

// Cleanup removes the uploaded script of job when it is flagged for
// removal.  Failures are only logged.
func (s *Submitter) Cleanup(ctx context.Context, job *Job) {
	if job == nil || !job.Cleanup || job.ScriptPath == "" {
		return
	}
	s.runner.Remove(ctx, job.ScriptPath)
}

func (s *Submitter) sbatchCommand(name string) string {
	cmd := s.env.Command("sbatch")
	if name != "" {
		cmd += " --job-name=" + remote.ShellQuote(name)
	}
	return cmd
}

// run executes one wrapped sbatch call and turns its output into a Job.
func (s *Submitter) run(ctx context.Context, cmd string) (*Job, error) {
	res, err := s.runner.Execute(ctx, s.env.Wrap(cmd))
	if err != nil {
		return nil, fmt.Errorf("sbatch: %w", err)
	}
	res.Stdout = commandOutput(res.Stdout)

	if res.ExitCode != 0 {
		out := res.Stderr
		if strings.TrimSpace(out) == "" {
			out = res.Stdout
		}
		binDir := ""
		if s.env != nil {
			binDir = s.env.BinDir
		}
		hint := Hint(out, binDir)
		s.logger.Error("sbatch failed with exit code %d: %s", res.ExitCode, strings.TrimSpace(out))
		return nil, &ssberrors.SubmissionError{ExitCode: res.ExitCode, Output: out, Hint: hint}
	}

	id, ok := ParseJobID(res.Stdout)
	if !ok {
		s.logger.Error("could not parse job id from: %s", strings.TrimSpace(res.Stdout))
		return nil, &ssberrors.SubmissionError{Output: res.Combined(), Err: ssberrors.ErrNoJobID}
	}

	s.metrics.JobSubmitted()
	s.logger.Info("job submitted with id %s", id)
	return &Job{ID: id, State: StateActive, SubmittedAt: s.now()}, nil
}

// heredocDelimiter returns a terminator that no line of body equals.
func heredocDelimiter(body string) string {
	lines := map[string]bool{}
	for _, l := range strings.Split(body, "\n") {
		lines[strings.TrimRight(l, "\r")] = true
	}
	for {
		d := "SSB_EOF_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		if !lines[d] && !strings.Contains(body, d) {
			return d
		}
	}
}
