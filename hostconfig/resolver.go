package hostconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ssberrors "ssb/internal/errors"
)

// defaultKeyNames are probed in order when no IdentityFile is set.
var defaultKeyNames = []string{"id_rsa", "id_ecdsa", "id_ed25519", "id_dsa"}

// Resolver answers alias lookups against a parsed host-alias file.
// It is safe for concurrent use.
type Resolver struct {
	path   string
	blocks []*block
}

// Load parses the file at path.  A missing file yields an empty
// Resolver; an unreadable or malformed file yields a *ConfigError.
func Load(path string) (*Resolver, error) {
	path = ExpandPath(path)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Resolver{path: path}, nil
	}
	if err != nil {
		return nil, &ssberrors.ConfigError{
			Field:   path,
			Message: "cannot read host-alias file",
			Hint:    "check the file permissions or pass --ssh-config",
			Err:     err,
		}
	}
	defer f.Close()
	return Parse(f, path)
}

// Path returns the file the Resolver was loaded from.
func (r *Resolver) Path() string { return r.path }

// Resolve accumulates attributes for alias across every matching block
// in file order.  A later block only fills attributes that are still
// unset.  ok is false when no block matched.
func (r *Resolver) Resolve(alias string) (host *Host, ok bool) {
	if r == nil {
		return nil, false
	}
	acc := &Host{}
	for _, b := range r.blocks {
		if !b.matches(alias) {
			continue
		}
		acc.fill(&b.host)
		ok = true
	}
	if !ok {
		return nil, false
	}
	return acc, true
}

// IdentityFiles returns the configured IdentityFile for alias as an
// absolute path, or the default key files that exist locally.
func (r *Resolver) IdentityFiles(alias string) []string {
	if h, ok := r.Resolve(alias); ok && h.IdentityFile != "" {
		return []string{h.EffectiveIdentityFile()}
	}
	return DefaultIdentityFiles()
}

// DefaultIdentityFiles returns the subset of ~/.ssh/{id_rsa,id_ecdsa,
// id_ed25519,id_dsa} that exists.
func DefaultIdentityFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range defaultKeyNames {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Connection resolves alias into the parameters for one session.  It
// returns ErrHostNotFound when no block matched.
func (r *Resolver) Connection(alias string) (Connection, error) {
	h, ok := r.Resolve(alias)
	if !ok {
		return Connection{}, fmt.Errorf("%w: %q", ssberrors.ErrHostNotFound, alias)
	}
	return h.connection(alias), nil
}

// ConnectionOrDirect is Connection, except that an unknown alias is
// treated as a literal hostname on port 22.
func (r *Resolver) ConnectionOrDirect(alias string) Connection {
	if h, ok := r.Resolve(alias); ok {
		return h.connection(alias)
	}
	return Direct(alias, "", 0, "")
}

func (h *Host) connection(alias string) Connection {
	c := Connection{
		Alias:        alias,
		Hostname:     h.EffectiveHostname(alias),
		Username:     h.EffectiveUser(),
		Port:         h.EffectivePort(),
		IdentityFile: h.EffectiveIdentityFile(),
		ProxyJump:    h.ProxyJump,
		ProxyCommand: h.ProxyCommand,
	}
	if h.ForwardAgent != nil {
		c.ForwardAgent = *h.ForwardAgent
	}
	if strings.EqualFold(c.ProxyJump, "none") {
		c.ProxyJump = ""
	}
	return c
}

// Entry is one explicit Host block as written in the file.
type Entry struct {
	Patterns []string
	Host     Host
	Line     int
}

// Hosts lists the explicit Host blocks in file order.  Options that
// precede the first Host line are not listed.
func (r *Resolver) Hosts() []Entry {
	if r == nil {
		return nil
	}
	var out []Entry
	for _, b := range r.blocks {
		if b.implicit {
			continue
		}
		out = append(out, Entry{
			Patterns: append([]string(nil), b.patterns...),
			Host:     b.host,
			Line:     b.line,
		})
	}
	return out
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
