package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SSB_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept a
// bare number of seconds or a Go duration string ("90s", "2h").

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("SSB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setString(v, "ssh-config", &cfg.SSHConfigPath)
	setString(v, "profiles", &cfg.ProfilePath)
	setString(v, "profile", &cfg.Profile)
	setString(v, "host", &cfg.HostAlias)
	setString(v, "hostname", &cfg.Hostname)
	setString(v, "username", &cfg.Username)
	if n := envInt(v, "port"); n > 0 {
		cfg.Port = n
	}

	// SSH
	setString(v, "jump", &cfg.JumpSpec)
	setString(v, "ssh-key", &cfg.SSHKeyPath)
	setBool(v, "ssh-password", &cfg.SSHPassword)
	setBool(v, "ssh-agent", &cfg.UseSSHAgent)
	setBool(v, "strict-hostkey", &cfg.StrictHostKey)
	setString(v, "known-hosts", &cfg.KnownHostsPath)
	setDuration(v, "conn-timeout", &cfg.ConnTimeout)

	// Job
	setString(v, "job-name", &cfg.JobName)
	setDuration(v, "poll-interval", &cfg.PollInterval)
	setDuration(v, "timeout", &cfg.Timeout)
	setBool(v, "no-monitor", &cfg.NoMonitor)
	setBool(v, "no-cleanup", &cfg.NoCleanup)
	_ = v.BindEnv("slurm-log-dir", "SLURM_LOG_DIR")
	setString(v, "slurm-log-dir", &cfg.LogDir)
	setString(v, "log-dir", &cfg.LogDir) // SSB_LOG_DIR wins over SLURM_LOG_DIR
	setString(v, "work-dir", &cfg.WorkDir)

	// Output
	if n := envInt(v, "verbose"); n > 0 {
		cfg.Verbose = n
	}
	setBool(v, "stats", &cfg.Stats)
}

// ── helpers ──────────────────────────────────────────────────────────

func setString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if envBool(v, key) {
		*dst = true
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if d, ok := ParseDuration(v.GetString(key)); ok {
		*dst = d
	}
}

func envInt(v *viper.Viper, key string) int {
	s := v.GetString(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func envBool(v *viper.Viper, key string) bool {
	s := strings.ToLower(v.GetString(key))
	return s == "1" || s == "true" || s == "yes"
}

// ParseDuration accepts a bare number of seconds or a Go duration
// string.  Negative values are rejected.
func ParseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	if sec, err := strconv.Atoi(s); err == nil {
		if sec < 0 {
			return 0, false
		}
		return time.Duration(sec) * time.Second, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
