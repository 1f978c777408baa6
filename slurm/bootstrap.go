package slurm

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"ssb/remote"
)

// bootstrapSteps prepare a login-equivalent environment with the
// scheduler on PATH.  Every step tolerates failure and prints nothing.
var bootstrapSteps = []string{
	"cd ~",
	"source /etc/profile >/dev/null 2>&1 || true",
	"source ~/.bash_profile >/dev/null 2>&1 || true",
	"source ~/.bashrc >/dev/null 2>&1 || true",
	"source ~/.profile >/dev/null 2>&1 || true",
	"module load slurm >/dev/null 2>&1 || true",
	"module load slurm/current >/dev/null 2>&1 || true",
	`which sbatch >/dev/null 2>&1 || export PATH="$PATH:/cm/shared/apps/slurm/current/bin"`,
	`which sbatch >/dev/null 2>&1 || export PATH="$PATH:/usr/local/bin:/opt/slurm/bin:/cluster/slurm/bin"`,
}

var envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateEnvKey rejects names the shell cannot export.
func ValidateEnvKey(key string) error {
	if !envKeyRe.MatchString(key) {
		return fmt.Errorf("invalid environment variable name %q", key)
	}
	return nil
}

// Bootstrap returns the environment preparation prefix followed by one
// export per custom variable, in sorted key order, joined with " && ".
// Keys that fail ValidateEnvKey are skipped.
func Bootstrap(custom map[string]string) string {
	keys := make([]string, 0, len(custom))
	for k := range custom {
		if ValidateEnvKey(k) == nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	steps := make([]string, 0, len(bootstrapSteps)+len(keys))
	steps = append(steps, bootstrapSteps...)
	for _, k := range keys {
		steps = append(steps, fmt.Sprintf(`export %s="%s"`, k, escapeDoubleQuoted(custom[k])))
	}
	return strings.Join(steps, " && ")
}

var dqEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// escapeDoubleQuoted makes v literal inside a double-quoted shell word.
func escapeDoubleQuoted(v string) string {
	return dqEscaper.Replace(v)
}

// Environment is what probing learned about the remote host.
type Environment struct {
	BinDir   string            // "" when the scheduler binaries were not located
	Captured map[string]string // scheduler-related variables seen after bootstrap
	Custom   map[string]string // forwarded on every scheduler command
}

// Command returns the scheduler binary name, qualified with BinDir
// when known.
func (e *Environment) Command(name string) string {
	if e == nil || e.BinDir == "" {
		return name
	}
	return strings.TrimRight(e.BinDir, "/") + "/" + name
}

// outputMarker is echoed right before the wrapped command so that
// anything the login shell prints on start-up can be cut off.
const outputMarker = "__SSB_BEGIN_OUTPUT__"

// Wrap runs cmd in a login shell after the bootstrap prefix.  Read its
// stdout through commandOutput.
func (e *Environment) Wrap(cmd string) string {
	var custom map[string]string
	if e != nil {
		custom = e.Custom
	}
	return "bash -l -c " + remote.ShellQuote(Bootstrap(custom)+" && echo "+outputMarker+" && "+cmd)
}

// commandOutput returns what follows the first marker line of stdout.
// Without a marker stdout is returned unchanged.
func commandOutput(stdout string) string {
	rest := stdout
	for {
		line, tail, more := strings.Cut(rest, "\n")
		if strings.TrimRight(line, "\r") == outputMarker {
			return tail
		}
		if !more {
			return stdout
		}
		rest = tail
	}
}
