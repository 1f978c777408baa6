package slurm

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"ssb/remote"
	"ssb/util"
)

// fakeRunner records every command and answers from a handler.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	removed  []string
	uploads  []string

	respond    func(cmd string) (remote.Result, error)
	uploadTo   string
	uploadErr  error
	statResult os.FileInfo
	statErr    error
}

func newFakeRunner(respond func(cmd string) (remote.Result, error)) *fakeRunner {
	if respond == nil {
		respond = func(string) (remote.Result, error) { return remote.Result{}, nil }
	}
	return &fakeRunner{respond: respond, uploadTo: "/tmp/ssh-slurm/script_0badc0de.sh"}
}

func (f *fakeRunner) Execute(_ context.Context, cmd string) (remote.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	return f.respond(cmd)
}

func (f *fakeRunner) Upload(_ context.Context, localPath, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, localPath)
	return f.uploadTo, nil
}

func (f *fakeRunner) Remove(_ context.Context, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, p)
}

func (f *fakeRunner) Stat(context.Context, string) (os.FileInfo, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	if f.statResult != nil {
		return f.statResult, nil
	}
	return fakeInfo{size: 120}, nil
}

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// countContaining returns how many recorded commands contain sub.
func (f *fakeRunner) countContaining(sub string) int {
	n := 0
	for _, c := range f.seen() {
		if strings.Contains(c, sub) {
			n++
		}
	}
	return n
}

type fakeInfo struct {
	size int64
}

func (i fakeInfo) Name() string       { return "script" }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() os.FileMode  { return 0o644 }
func (i fakeInfo) ModTime() time.Time { return time.Time{} }
func (i fakeInfo) IsDir() bool        { return false }
func (i fakeInfo) Sys() interface{}   { return nil }

func ok(stdout string) (remote.Result, error) {
	return remote.Result{Stdout: stdout}, nil
}

func exit(code int, stderr string) (remote.Result, error) {
	return remote.Result{ExitCode: code, Stderr: stderr}, nil
}

func testLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// withBanner emulates a chatty login shell: wrapped commands get a
// greeting and the output marker ahead of their real stdout.
func withBanner(respond func(string) (remote.Result, error)) func(string) (remote.Result, error) {
	return func(cmd string) (remote.Result, error) {
		res, err := respond(cmd)
		if err == nil && strings.Contains(cmd, outputMarker) {
			res.Stdout = "Welcome to the cluster\nmodule: slurm loaded\n" + outputMarker + "\n" + res.Stdout
		}
		return res, err
	}
}
