package slurm

import (
	"context"
	"strings"

	ssberrors "ssb/internal/errors"
	"ssb/remote"
)

// maxScriptSize is the size above which a remote script draws a warning.
const maxScriptSize = 1 << 20

// Validate checks a remote script before submission: it must exist and
// be readable, and a .sh script must parse.  A missing executable bit
// or an odd size only warns.
func (s *Submitter) Validate(ctx context.Context, scriptPath string) error {
	q := remote.ShellQuote(scriptPath)

	ok, err := s.test(ctx, "test -f "+q)
	if err != nil {
		return err
	}
	if !ok {
		return &ssberrors.ValidationError{Path: scriptPath, Reason: "not found"}
	}

	if ok, err = s.test(ctx, "test -r "+q); err != nil {
		return err
	}
	if !ok {
		return &ssberrors.ValidationError{Path: scriptPath, Reason: "not readable"}
	}

	if ok, err = s.test(ctx, "test -x "+q); err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("%s is not executable; sbatch reads it anyway", scriptPath)
	}

	info, err := s.runner.Stat(ctx, scriptPath)
	switch {
	case err != nil:
		s.logger.Warn("could not determine size of %s: %v", scriptPath, err)
	case info.Size() == 0:
		s.logger.Warn("%s is empty", scriptPath)
	case info.Size() > maxScriptSize:
		s.logger.Warn("%s is very large (%d bytes)", scriptPath, info.Size())
	default:
		s.logger.Debug("%s is %d bytes", scriptPath, info.Size())
	}

	if strings.HasSuffix(scriptPath, ".sh") {
		res, err := s.runner.Execute(ctx, "bash -n "+q+" 2>&1")
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return &ssberrors.ValidationError{
				Path:   scriptPath,
				Reason: "syntax error: " + strings.TrimSpace(res.Combined()),
			}
		}
	}
	return nil
}

func (s *Submitter) test(ctx context.Context, cmd string) (bool, error) {
	res, err := s.runner.Execute(ctx, cmd)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}
