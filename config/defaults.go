package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, the profile store, and environment variable
// loading.  Paths starting with "~" are expanded at use.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHConfigPath is the OpenSSH host-alias file.
	DefaultSSHConfigPath = "~/.ssh/config"

	// DefaultProfilePath is where saved connection profiles live.
	DefaultProfilePath = "~/.config/ssh-slurm.yaml"

	// DefaultConnTimeout is the TCP/SSH connection timeout per hop.
	DefaultConnTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between scheduler status polls.
	DefaultPollInterval = 10 * time.Second

	// DefaultWorkDir receives uploaded scripts on the remote host.
	DefaultWorkDir = "/tmp/ssh-slurm"

	// DefaultLogDir is the first directory searched for job logs.
	DefaultLogDir = "~/logs/slurm"

	// MaxProxyDepth bounds recursive ProxyJump expansion.
	MaxProxyDepth = 8
)
