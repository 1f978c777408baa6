package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	ssberrors "ssb/internal/errors"
)

func init() {
	color.NoColor = true
}

const testSSHConfig = `Host dgx
    HostName dgx.example.com
    User alice
    Port 2222
    ProxyJump bastion

Host bastion
    HostName gw.example.com
    User ops

Host *.internal
    User svc
`

// run executes the CLI with args and returns stdout, stderr and the
// error.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(&out, &errOut)
	a.stdin = strings.NewReader("")
	err := a.execute(context.Background(), args)
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// TestExecute_Version verifies --version prints the version string.
func TestExecute_Version(t *testing.T) {
	out, _, err := run(t, "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "ssb "+version {
		t.Errorf("version output = %q", out)
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			out, _, err := run(t, args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, "Usage:") {
				t.Errorf("help output missing usage:\n%s", out)
			}
		})
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	if _, _, err := run(t, "--nonexistent-flag"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_ConflictingFlags verifies --host and --hostname conflict
// is caught before anything connects.
func TestExecute_ConflictingFlags(t *testing.T) {
	_, _, err := run(t, "--host", "dgx", "--hostname", "gpu01", "status", "42")
	if err == nil {
		t.Fatal("expected error for --host and --hostname conflict")
	}
	var ce *ssberrors.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConfigError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("error should mention mutually exclusive: %v", err)
	}
}

func TestExecute_InvalidDurations(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"zero poll interval", []string{"--poll-interval", "0", "hosts"}},
		{"negative timeout", []string{"--timeout", "-5s", "hosts"}},
		{"unparseable", []string{"-i", "soon", "hosts"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"--ssh-config", filepath.Join(t.TempDir(), "none")}, tc.args...)
			if _, _, err := run(t, args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestExecute_BadJumpSpec(t *testing.T) {
	_, _, err := run(t, "--ssh-config", filepath.Join(t.TempDir(), "none"), "-J", "a@b:notaport", "hosts")
	var ce *ssberrors.ConfigError
	if !errors.As(err, &ce) || ce.Field != "jump" {
		t.Fatalf("want jump ConfigError, got %v", err)
	}
}

func TestDurationValue(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"15", 15 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			var d time.Duration
			v := durationValue{&d}
			err := v.Set(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Set(%q) err = %v", tc.in, err)
			}
			if !tc.wantErr && d != tc.want {
				t.Errorf("Set(%q) = %v, want %v", tc.in, d, tc.want)
			}
		})
	}
	if got := (durationValue{}).String(); got != "0s" {
		t.Errorf("nil String() = %q", got)
	}
}

func TestExecute_Hosts(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config", testSSHConfig)

	out, _, err := run(t, "--ssh-config", cfgPath, "hosts")
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	for _, want := range []string{"HOST", "dgx.example.com", "alice", "2222", "bastion", "gw.example.com", "*.internal", "svc"} {
		if !strings.Contains(out, want) {
			t.Errorf("hosts output missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 4 {
		t.Errorf("want header plus 3 rows, got %d lines:\n%s", len(lines), out)
	}
}

func TestExecute_HostsEmpty(t *testing.T) {
	out, _, err := run(t, "--ssh-config", filepath.Join(t.TempDir(), "none"), "hosts")
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if !strings.HasPrefix(out, "no hosts in ") {
		t.Errorf("output = %q", out)
	}
}

func TestExecute_HostsShow(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config", testSSHConfig)

	out, _, err := run(t, "--ssh-config", cfgPath, "hosts", "dgx")
	if err != nil {
		t.Fatalf("hosts dgx: %v", err)
	}
	for _, want := range []string{
		"Host: dgx",
		"hostname:      dgx.example.com",
		"user:          alice",
		"port:          2222",
		"proxy jump:    bastion",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, _, err = run(t, "--ssh-config", cfgPath, "hosts", "node1.internal")
	if err != nil {
		t.Fatalf("hosts node1.internal: %v", err)
	}
	if !strings.Contains(out, "user:          svc") || !strings.Contains(out, "proxy jump:    -") {
		t.Errorf("pattern host output:\n%s", out)
	}

	_, _, err = run(t, "--ssh-config", cfgPath, "hosts", "nope")
	if !errors.Is(err, ssberrors.ErrHostNotFound) {
		t.Errorf("unknown alias: want ErrHostNotFound, got %v", err)
	}
}

func TestExecute_Stats(t *testing.T) {
	_, errOut, err := run(t, "--stats", "--ssh-config", filepath.Join(t.TempDir(), "none"), "hosts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, `"sessions_total": 0`) {
		t.Errorf("stats output missing:\n%s", errOut)
	}
}

func TestExecute_StatsRecordsError(t *testing.T) {
	_, errOut, err := run(t, "--stats", "status", "not-a-job")
	if err == nil {
		t.Fatal("expected error for invalid job id")
	}
	if !strings.Contains(errOut, `"errors_total": 1`) {
		t.Errorf("error not counted:\n%s", errOut)
	}
}

// TestExecute_SubmitMissingLocal verifies a relative script path is
// checked locally before any connection is attempted.
func TestExecute_SubmitMissingLocal(t *testing.T) {
	_, _, err := run(t, "--hostname", "gpu01.invalid", "missing/train.sh")
	var ve *ssberrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ValidationError, got %T: %v", err, err)
	}
	if ve.Path != "missing/train.sh" {
		t.Errorf("Path = %q", ve.Path)
	}
}

func TestExecute_SubmitEmptyStdin(t *testing.T) {
	_, _, err := run(t, "--hostname", "gpu01.invalid", "submit", "-")
	if err == nil || !strings.Contains(err.Error(), "empty script") {
		t.Fatalf("want empty script error, got %v", err)
	}
}

func TestExecute_StatusInvalidID(t *testing.T) {
	for _, id := range []string{"abc", "42;rm -rf ~", ""} {
		if _, _, err := run(t, "--hostname", "gpu01.invalid", "status", id); err == nil {
			t.Errorf("status %q: expected error", id)
		}
	}
	if _, _, err := run(t, "--hostname", "gpu01.invalid", "logs", "$(id)"); err == nil {
		t.Error("logs: expected error for invalid id")
	}
}

func TestExplainSubmitError(t *testing.T) {
	local := writeFile(t, t.TempDir(), "train.sh", "#!/bin/bash\n")

	notFound := &ssberrors.ValidationError{Path: local, Reason: "not found"}
	err := explainSubmitError(notFound, local)
	if !strings.Contains(err.Error(), "pass a relative path") {
		t.Errorf("missing hint: %v", err)
	}
	if !errors.Is(err, notFound) {
		t.Error("hint must wrap the original error")
	}

	gone := filepath.Join(t.TempDir(), "gone.sh")
	other := &ssberrors.ValidationError{Path: gone, Reason: "not found"}
	if got := explainSubmitError(other, gone); got != error(other) {
		t.Errorf("no local file: got %v", got)
	}

	syntax := &ssberrors.ValidationError{Path: local, Reason: "syntax error"}
	if got := explainSubmitError(syntax, local); got != error(syntax) {
		t.Errorf("other reason: got %v", got)
	}
}

func TestSetupVerbosity(t *testing.T) {
	cases := []struct {
		name    string
		verbose int
		quiet   bool
		want    int
	}{
		{"default", 0, false, 1},
		{"-vv", 2, false, 3},
		{"quiet", 2, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newApp(&bytes.Buffer{}, &bytes.Buffer{})
			a.cfg.Verbose = 1
			a.verbosity = tc.verbose
			a.quiet = tc.quiet
			if err := a.setup(); err != nil {
				t.Fatal(err)
			}
			if a.cfg.Verbose != tc.want || int(a.logger.Level()) != tc.want {
				t.Errorf("verbosity = %d, logger %d, want %d", a.cfg.Verbose, a.logger.Level(), tc.want)
			}
		})
	}
}
