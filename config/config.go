// Package config defines the runtime configuration for ssb and provides
// helpers for parsing jump-host specifications and env assignments.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ssberrors "ssb/internal/errors"
)

// Config holds every tuneable for a single ssb invocation.
type Config struct {
	// ── Target selection ─────────────────────────────────────────────
	SSHConfigPath string // host-alias file, default ~/.ssh/config
	ProfilePath   string // profile store, default ~/.config/ssh-slurm.yaml
	Profile       string // -p: saved profile name
	HostAlias     string // -H: alias from the host-alias file
	Hostname      string // direct connection host
	Username      string
	Port          int

	// ── SSH ──────────────────────────────────────────────────────────
	JumpSpec       string // -J: [user@]host[:port][,...] overriding ProxyJump
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string
	ConnTimeout    time.Duration

	// ── Job ──────────────────────────────────────────────────────────
	JobName      string
	PollInterval time.Duration
	Timeout      time.Duration // 0 = monitor until terminal
	NoMonitor    bool
	NoCleanup    bool
	LogDir       string
	WorkDir      string

	// ── Environment forwarding ───────────────────────────────────────
	Env      []string // KEY=VALUE
	EnvLocal []string // KEY, value read from the local environment

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	Stats   bool
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		SSHConfigPath: DefaultSSHConfigPath,
		ProfilePath:   DefaultProfilePath,
		ConnTimeout:   DefaultConnTimeout,
		PollInterval:  DefaultPollInterval,
		LogDir:        DefaultLogDir,
		WorkDir:       DefaultWorkDir,
		Verbose:       1,
	}
}

// ── Jump-spec parser ─────────────────────────────────────────────────

// JumpHop is one element of a ProxyJump list.  Port is 0 when the
// spec did not name one so the hop's own alias settings can fill it.
type JumpHop struct {
	User string
	Host string
	Port int
}

func (h JumpHop) String() string {
	s := h.Host
	if h.User != "" {
		s = h.User + "@" + s
	}
	if h.Port != 0 {
		s += ":" + strconv.Itoa(h.Port)
	}
	return s
}

// jumpRe matches [user@]host[:port].
var jumpRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseJumpHop extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".
func ParseJumpHop(spec string) (JumpHop, error) {
	m := jumpRe.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return JumpHop{}, fmt.Errorf("invalid jump spec %q – expected [user@]host[:port]", spec)
	}
	hop := JumpHop{User: m[1], Host: m[2]}
	if m[3] != "" {
		port, err := strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return JumpHop{}, fmt.Errorf("invalid jump port %q", m[3])
		}
		hop.Port = port
	}
	return hop, nil
}

// ParseJumpSpec splits a comma-separated ProxyJump value into hops,
// outermost first.  "none" yields no hops.
func ParseJumpSpec(spec string) ([]JumpHop, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "none") {
		return nil, nil
	}
	var hops []JumpHop
	for _, part := range strings.Split(spec, ",") {
		hop, err := ParseJumpHop(part)
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
	}
	return hops, nil
}

// ── Env assignments ──────────────────────────────────────────────────

// ParseEnvAssignment splits "KEY=VALUE".  The value may be empty or
// contain further '=' characters.
func ParseEnvAssignment(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid env assignment %q – expected KEY=VALUE", s)
	}
	return key, value, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return &ssberrors.ConfigError{
			Field:   "poll-interval",
			Value:   c.PollInterval,
			Message: "must be positive",
			Hint:    "use a value of at least 1s",
		}
	}
	if c.Timeout < 0 {
		return &ssberrors.ConfigError{
			Field:   "timeout",
			Value:   c.Timeout,
			Message: "must not be negative",
			Hint:    "use 0 to monitor until the job finishes",
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ssberrors.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
		}
	}
	if c.HostAlias != "" && c.Hostname != "" {
		return &ssberrors.ConfigError{
			Field:   "host",
			Value:   c.HostAlias,
			Message: "--host and --hostname are mutually exclusive",
		}
	}
	if c.JumpSpec != "" {
		if _, err := ParseJumpSpec(c.JumpSpec); err != nil {
			return &ssberrors.ConfigError{
				Field:   "jump",
				Value:   c.JumpSpec,
				Message: err.Error(),
				Err:     err,
			}
		}
	}
	for _, kv := range c.Env {
		if _, _, err := ParseEnvAssignment(kv); err != nil {
			return &ssberrors.ConfigError{
				Field:   "env",
				Value:   kv,
				Message: "expected KEY=VALUE",
				Err:     err,
			}
		}
	}
	return nil
}
