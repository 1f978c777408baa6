package remote

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/term"

	"ssb/hostconfig"
)

// PromptFunc reads a secret after printing prompt.  The default reads
// from the terminal without echo.
type PromptFunc func(prompt string) ([]byte, error)

func terminalPrompt(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return pass, err
}

// buildAuthMethods assembles an ordered list of SSH authentication
// methods for one hop.  keyPath is the explicit key override and is
// fatal when unusable; the hop's configured IdentityFile only warns.
func (c *Client) buildAuthMethods(conn hostconfig.Connection, keyPath string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	// 1. Explicit or configured key file
	switch {
	case keyPath != "":
		m, err := publicKeyAuth(keyPath, c.prompt)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", keyPath, err)
		}
		methods = append(methods, m)
	case conn.IdentityFile != "":
		m, err := publicKeyAuth(conn.IdentityFile, c.prompt)
		if err != nil {
			c.logger.Warn("identity file %s for %s: %v", conn.IdentityFile, conn.Alias, err)
		} else {
			methods = append(methods, m)
		}
	}

	// 2. SSH agent (explicit flag)
	if c.opts.UseAgent {
		ag, err := c.agentClient()
		if err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
		methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
	}

	// 3. Interactive password, asked only if the server wants one
	if c.opts.PromptPass {
		who := fmt.Sprintf("%s@%s's password: ", conn.Username, conn.Hostname)
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			pass, err := c.prompt(who)
			if err != nil {
				return "", fmt.Errorf("reading password: %w", err)
			}
			return string(pass), nil
		}))
	}

	// 4. Fallback: try agent + common key files automatically.
	if len(methods) == 0 {
		methods = c.defaultAuthMethods()
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf(
			"no SSH authentication methods available – " +
				"use --key-file, --password, or --agent")
	}
	return methods, nil
}

// ── individual auth builders ─────────────────────────────────────────

func publicKeyAuth(keyPath string, prompt PromptFunc) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		// If the key is encrypted, prompt for the passphrase.
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) {
			return nil, fmt.Errorf("parsing key: %w", err)
		}
		pass, err2 := prompt(fmt.Sprintf("Enter passphrase for %s: ", keyPath))
		if err2 != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err2)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, pass)
		if err != nil {
			return nil, fmt.Errorf("decrypting key: %w", err)
		}
	}
	return ssh.PublicKeys(signer), nil
}

// agentClient dials SSH_AUTH_SOCK once per Client.  The connection is
// shared by authentication and agent forwarding and closed on
// Disconnect.
func (c *Client) agentClient() (agent.ExtendedAgent, error) {
	if c.agent != nil {
		return c.agent, nil
	}
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	c.agentConn = conn
	c.agent = agent.NewClient(conn)
	return c.agent, nil
}

// defaultAuthMethods tries the agent and the default key files without
// any explicit user configuration.
func (c *Client) defaultAuthMethods() []ssh.AuthMethod {
	var out []ssh.AuthMethod

	if ag, err := c.agentClient(); err == nil {
		out = append(out, ssh.PublicKeysCallback(ag.Signers))
	}

	for _, p := range hostconfig.DefaultIdentityFiles() {
		if m, err := publicKeyAuth(p, c.prompt); err == nil {
			out = append(out, m)
		} else {
			c.logger.Debug("skipping %s: %v", p, err)
		}
	}
	return out
}
