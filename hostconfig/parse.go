package hostconfig

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	ssberrors "ssb/internal/errors"
)

// block is one "Host" section.  Blocks are read-only after parsing.
type block struct {
	patterns []string
	globs    []glob.Glob
	host     Host
	implicit bool // options before the first Host line
	line     int
}

func (b *block) matches(alias string) bool {
	for _, g := range b.globs {
		if g.Match(alias) {
			return true
		}
	}
	return false
}

// Parse reads a host-alias file.  name is used in error messages only.
func Parse(r io.Reader, name string) (*Resolver, error) {
	res := &Resolver{path: name}
	var cur *block

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value := splitKeyValue(line)
		if value == "" {
			return nil, &ssberrors.ConfigError{
				Field:   name,
				Line:    lineNo,
				Message: fmt.Sprintf("missing value for %q", key),
			}
		}

		if strings.EqualFold(key, "host") {
			b, err := newBlock(strings.Fields(value), lineNo)
			if err != nil {
				return nil, &ssberrors.ConfigError{Field: name, Line: lineNo, Message: err.Error(), Err: err}
			}
			res.blocks = append(res.blocks, b)
			cur = b
			continue
		}

		if cur == nil {
			b, _ := newBlock([]string{"*"}, lineNo)
			b.implicit = true
			res.blocks = append(res.blocks, b)
			cur = b
		}
		applyOption(&cur.host, key, unquote(value))
	}
	if err := sc.Err(); err != nil {
		return nil, &ssberrors.ConfigError{Field: name, Line: lineNo, Message: "read failed", Err: err}
	}
	return res, nil
}

func newBlock(patterns []string, line int) (*block, error) {
	b := &block{line: line}
	for _, p := range patterns {
		p = unquote(p)
		if p == "" {
			continue
		}
		g, err := compilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("bad host pattern %q: %w", p, err)
		}
		b.patterns = append(b.patterns, p)
		b.globs = append(b.globs, g)
	}
	return b, nil
}

// compilePattern builds a matcher where '*' is any run, '?' is one
// character, and every other character is literal.
func compilePattern(p string) (glob.Glob, error) {
	var out, lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			out.WriteString(glob.QuoteMeta(lit.String()))
			lit.Reset()
		}
	}
	for _, r := range p {
		switch r {
		case '*', '?':
			flush()
			out.WriteRune(r)
		default:
			lit.WriteRune(r)
		}
	}
	flush()
	return glob.Compile(out.String())
}

// splitKeyValue accepts "Key value", "Key=value" and "Key = value".
func splitKeyValue(line string) (key, value string) {
	i := strings.IndexAny(line, " \t=")
	if i < 0 {
		return line, ""
	}
	key = line[:i]
	rest := strings.TrimLeft(line[i:], " \t")
	if strings.HasPrefix(rest, "=") {
		rest = strings.TrimLeft(rest[1:], " \t")
	}
	return key, strings.TrimSpace(rest)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// applyOption sets one attribute unless an earlier line of the same
// block already set it.
func applyOption(h *Host, key, value string) {
	switch strings.ToLower(key) {
	case "hostname":
		if h.HostName == "" {
			h.HostName = value
		}
	case "user":
		if h.User == "" {
			h.User = value
		}
	case "port":
		if h.Port == 0 {
			if n, err := strconv.Atoi(value); err == nil && n > 0 && n <= 65535 {
				h.Port = n
			}
		}
	case "identityfile":
		if h.IdentityFile == "" {
			h.IdentityFile = value
		}
	case "proxycommand":
		if h.ProxyCommand == "" {
			h.ProxyCommand = value
		}
	case "proxyjump":
		if h.ProxyJump == "" {
			h.ProxyJump = value
		}
	case "forwardagent":
		if h.ForwardAgent == nil {
			h.ForwardAgent = parseYesNo(value)
		}
	}
}

func parseYesNo(s string) *bool {
	var v bool
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		v = true
	case "no", "false", "0":
		v = false
	default:
		return nil
	}
	return &v
}
