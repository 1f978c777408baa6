// Package slurm drives a SLURM scheduler over a remote session: it
// discovers where the scheduler binaries live, submits batch scripts,
// polls job state, and gathers job logs.
package slurm

import (
	"context"
	"os"

	"ssb/remote"
)

// Runner is the slice of a remote session this package needs.
// *remote.Client satisfies it.
type Runner interface {
	Execute(ctx context.Context, command string) (remote.Result, error)
	Upload(ctx context.Context, localPath, remotePath string) (string, error)
	Remove(ctx context.Context, remotePath string)
	Stat(ctx context.Context, remotePath string) (os.FileInfo, error)
}

var _ Runner = (*remote.Client)(nil)
