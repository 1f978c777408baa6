// Package hostconfig resolves host aliases against an OpenSSH-style
// client configuration file.
//
// Only the subset of keywords ssb acts on is interpreted: HostName,
// User, Port, IdentityFile, ProxyCommand, ProxyJump and ForwardAgent.
// Everything else is accepted and ignored.
package hostconfig

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"ssb/config"
)

// Host is the accumulated attribute set for one alias.  Zero values mean
// "unset": Port 0, empty strings, and a nil ForwardAgent.
type Host struct {
	HostName     string
	User         string
	Port         int
	IdentityFile string
	ProxyCommand string
	ProxyJump    string
	ForwardAgent *bool
}

// EffectivePort returns Port, or 22 when unset.
func (h *Host) EffectivePort() int {
	if h.Port > 0 {
		return h.Port
	}
	return config.DefaultSSHPort
}

// EffectiveHostname returns HostName with %h replaced by alias, or alias
// itself when HostName is unset.
func (h *Host) EffectiveHostname(alias string) string {
	if h.HostName == "" {
		return alias
	}
	return strings.ReplaceAll(h.HostName, "%h", alias)
}

// EffectiveUser returns User, or the local login name when unset.
func (h *Host) EffectiveUser() string {
	if h.User != "" {
		return h.User
	}
	return LocalUser()
}

// EffectiveIdentityFile returns IdentityFile expanded to an absolute
// path, or "" when unset.
func (h *Host) EffectiveIdentityFile() string {
	if h.IdentityFile == "" {
		return ""
	}
	return ExpandPath(h.IdentityFile)
}

// fill copies every attribute of src that is still unset on h.
func (h *Host) fill(src *Host) {
	if h.HostName == "" {
		h.HostName = src.HostName
	}
	if h.User == "" {
		h.User = src.User
	}
	if h.Port == 0 {
		h.Port = src.Port
	}
	if h.IdentityFile == "" {
		h.IdentityFile = src.IdentityFile
	}
	if h.ProxyCommand == "" {
		h.ProxyCommand = src.ProxyCommand
	}
	if h.ProxyJump == "" {
		h.ProxyJump = src.ProxyJump
	}
	if h.ForwardAgent == nil && src.ForwardAgent != nil {
		v := *src.ForwardAgent
		h.ForwardAgent = &v
	}
}

// Connection is the fully resolved parameter set used to open one
// session.  It is passed by value and never mutated after construction.
type Connection struct {
	Alias        string
	Hostname     string
	Username     string
	Port         int
	IdentityFile string // absolute, "" = try agent and default keys
	ProxyJump    string
	ProxyCommand string
	ForwardAgent bool
}

// Address returns host:port for dialing.
func (c Connection) Address() string {
	return joinHostPort(c.Hostname, c.Port)
}

// Direct builds a Connection for a host that has no alias entry.
func Direct(hostname, username string, port int, identityFile string) Connection {
	if port <= 0 {
		port = config.DefaultSSHPort
	}
	if username == "" {
		username = LocalUser()
	}
	if identityFile != "" {
		identityFile = ExpandPath(identityFile)
	}
	return Connection{
		Alias:        hostname,
		Hostname:     hostname,
		Username:     username,
		Port:         port,
		IdentityFile: identityFile,
	}
}

// ── path helpers ─────────────────────────────────────────────────────

// ExpandPath expands a leading "~" and $VAR references and returns an
// absolute path.  On failure the expanded (possibly relative) path is
// returned unchanged.
func ExpandPath(p string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	p = os.ExpandEnv(p)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// LocalUser returns the local login name, falling back to $USER.
func LocalUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
