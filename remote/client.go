// Package remote manages one authenticated SSH session to a compute
// host, optionally reached through a chain of bastion hops, together
// with an SFTP channel for file transfer.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"ssb/config"
	"ssb/hostconfig"
	ssberrors "ssb/internal/errors"
	"ssb/internal/metrics"
	"ssb/util"
)

// Options tune how a Client opens its session.
type Options struct {
	Resolver      *hostconfig.Resolver // resolves ProxyJump aliases
	KeyPath       string               // explicit key for the target, overrides IdentityFile
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
	WorkDir       string     // remote upload directory
	Prompt        PromptFunc // nil = terminal
}

// Result is the outcome of one remote command.  A non-zero ExitCode is
// not an error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	}
	return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
}

// executableExts get the executable bits after upload.
var executableExts = map[string]bool{".sh": true, ".py": true, ".pl": true, ".r": true}

// Client owns one logical session.  Remote operations are serialized;
// a Client may be shared between goroutines but never multiplexes.
type Client struct {
	conn    hostconfig.Connection
	opts    Options
	logger  *util.Logger
	metrics *metrics.Collector
	prompt  PromptFunc

	mu        sync.Mutex
	chain     []*ssh.Client // outermost first
	target    *ssh.Client
	sftp      *sftp.Client
	agentConn net.Conn
	agent     agent.ExtendedAgent
}

// New creates a Client that is ready to [Client.Connect].
func New(conn hostconfig.Connection, opts Options, logger *util.Logger, m *metrics.Collector) *Client {
	if opts.ConnTimeout == 0 {
		opts.ConnTimeout = config.DefaultConnTimeout
	}
	if opts.WorkDir == "" {
		opts.WorkDir = config.DefaultWorkDir
	}
	if conn.Port == 0 {
		conn.Port = config.DefaultSSHPort
	}
	c := &Client{conn: conn, opts: opts, logger: logger, metrics: m, prompt: opts.Prompt}
	if c.prompt == nil {
		c.prompt = terminalPrompt
	}
	return c
}

// Connection returns the resolved target parameters.
func (c *Client) Connection() hostconfig.Connection { return c.conn }

// WorkDir returns the remote upload directory.
func (c *Client) WorkDir() string { return c.opts.WorkDir }

// Connected reports whether a session is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target != nil
}

// Connect opens the session: every bastion hop in order, then the
// target through the innermost hop, then SFTP and the work directory.
// On failure everything opened so far is closed again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target != nil {
		return nil
	}

	hops, err := expandJumps(c.conn, c.opts.Resolver)
	if err != nil {
		return ssberrors.WrapConnection(ssberrors.StageResolve, c.conn.Hostname, c.conn.Port, err)
	}
	if c.conn.ProxyCommand != "" && len(hops) == 0 {
		c.logger.Warn("ProxyCommand for %s is not supported, connecting directly", c.conn.Alias)
	}

	var chain []*ssh.Client
	var prev *ssh.Client
	for _, hop := range hops {
		keyPath := ""
		if hop.IdentityFile == "" {
			keyPath = c.opts.KeyPath
		}
		cl, err := c.dialHop(ctx, prev, hop, keyPath)
		if err != nil {
			closeAll(nil, nil, chain)
			return err
		}
		chain = append(chain, cl)
		prev = cl
	}

	target, err := c.dialHop(ctx, prev, c.conn, c.opts.KeyPath)
	if err != nil {
		closeAll(nil, nil, chain)
		return err
	}

	sc, err := sftp.NewClient(target)
	if err != nil {
		closeAll(nil, target, chain)
		return ssberrors.WrapConnection(ssberrors.StageSFTP, c.conn.Hostname, c.conn.Port, err)
	}
	if err := sc.MkdirAll(c.opts.WorkDir); err != nil {
		closeAll(sc, target, chain)
		return ssberrors.WrapConnection(ssberrors.StageWorkDir, c.conn.Hostname, c.conn.Port,
			fmt.Errorf("mkdir %s: %w", c.opts.WorkDir, err))
	}

	if c.conn.ForwardAgent {
		c.setupAgentForwarding(target)
	}

	c.chain, c.target, c.sftp = chain, target, sc
	c.metrics.SessionOpened(len(chain))
	c.logger.Verbose("connected to %s@%s:%d (%d hop(s))", c.conn.Username, c.conn.Hostname, c.conn.Port, len(chain))
	return nil
}

// dialHop reaches conn either over TCP (prev == nil) or through prev,
// then completes the SSH handshake on that stream.
func (c *Client) dialHop(ctx context.Context, prev *ssh.Client, conn hostconfig.Connection, keyPath string) (*ssh.Client, error) {
	wrap := func(stage ssberrors.Stage, via string, err error) error {
		ce := ssberrors.WrapConnection(stage, conn.Hostname, conn.Port, err)
		ce.Via = via
		return ce
	}

	authMethods, err := c.buildAuthMethods(conn, keyPath)
	if err != nil {
		return nil, wrap(ssberrors.StageAuth, "", err)
	}
	hkCallback, err := hostKeyCallback(c.opts.StrictHostKey, c.opts.KnownHosts)
	if err != nil {
		return nil, wrap(ssberrors.StageHandshake, "", err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            conn.Username,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         c.opts.ConnTimeout,
	}
	addr := conn.Address()

	var netConn net.Conn
	via := ""
	if prev == nil {
		c.logger.Debug("SSH: dialing %s as %s", addr, conn.Username)
		dialer := net.Dialer{Timeout: c.opts.ConnTimeout}
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, wrap(ssberrors.StageDial, "", err)
		}
	} else {
		via = prev.RemoteAddr().String()
		c.logger.Debug("SSH: tunnelling to %s via %s", addr, via)
		netConn, err = prev.Dial("tcp", addr)
		if err != nil {
			return nil, wrap(ssberrors.StageTunnel, via, err)
		}
	}

	// Bound the handshake; tunnelled streams ignore deadlines.
	_ = netConn.SetDeadline(time.Now().Add(c.opts.ConnTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshCfg)
	if err != nil {
		netConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, wrap(ssberrors.StageAuth, via, errors.Join(ssberrors.ErrAuthFailed, err))
		}
		return nil, wrap(ssberrors.StageHandshake, via, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *Client) setupAgentForwarding(target *ssh.Client) {
	ag, err := c.agentClient()
	if err != nil {
		c.logger.Warn("ForwardAgent requested but %v", err)
		return
	}
	if err := agent.ForwardToAgent(target, ag); err != nil {
		c.logger.Warn("agent forwarding: %v", err)
	}
}

// Execute runs command in a fresh session channel and waits for it to
// exit.  There is no client-side timeout; ctx is only checked before
// the command starts.
func (c *Client) Execute(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return Result{}, ssberrors.ErrNotConnected
	}

	session, err := c.target.NewSession()
	if err != nil {
		c.metrics.RecordError(err.Error())
		return Result{}, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	if c.conn.ForwardAgent && c.agent != nil {
		if err := agent.RequestAgentForwarding(session); err != nil {
			c.logger.Debug("agent forwarding refused: %v", err)
		}
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	c.logger.Debug("exec: %s", command)
	res := Result{}
	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			c.metrics.RecordError(err.Error())
			return Result{}, fmt.Errorf("exec: %w", err)
		}
		res.ExitCode = exitErr.ExitStatus()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	c.metrics.CommandRun(res.ExitCode)
	return res, nil
}

// Upload copies localPath to remotePath over SFTP and returns the
// remote path.  An empty remotePath picks a unique name in WorkDir.
// Script extensions (.sh .py .pl .r) are made executable.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp == nil {
		return "", ssberrors.ErrNotConnected
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	if remotePath == "" {
		remotePath = UniqueRemoteName(c.opts.WorkDir, localPath)
	}

	dst, err := c.sftp.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", remotePath, err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := c.sftp.Remove(remotePath); rerr != nil {
			c.logger.Warn("remove partial upload %s: %v", remotePath, rerr)
		}
		return "", fmt.Errorf("upload %s: %w", remotePath, err)
	}
	c.metrics.BytesUploaded(n)

	if executableExts[strings.ToLower(filepath.Ext(localPath))] {
		if err := c.sftp.Chmod(remotePath, info.Mode().Perm()|0o111); err != nil {
			c.logger.Warn("chmod %s: %v", remotePath, err)
		}
	}
	c.logger.Verbose("uploaded %s → %s (%d bytes)", localPath, remotePath, n)
	return remotePath, nil
}

// UniqueRemoteName returns dir/<stem>_<8 hex><ext> for localPath.
func UniqueRemoteName(dir, localPath string) string {
	base := filepath.Base(localPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return path.Join(dir, stem+"_"+suffix+ext)
}

// Remove deletes a remote file.  Failures are logged, never returned.
func (c *Client) Remove(ctx context.Context, remotePath string) {
	res, err := c.Execute(ctx, "rm -f "+ShellQuote(remotePath))
	switch {
	case err != nil:
		c.logger.Warn("cleanup %s: %v", remotePath, err)
	case res.ExitCode != 0:
		c.logger.Warn("cleanup %s: exit %d: %s", remotePath, res.ExitCode, strings.TrimSpace(res.Stderr))
	default:
		c.logger.Verbose("removed %s", remotePath)
	}
}

// Stat returns remote file metadata over SFTP.
func (c *Client) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp == nil {
		return nil, ssberrors.ErrNotConnected
	}
	return c.sftp.Stat(remotePath)
}

// Disconnect closes SFTP, the target, then each hop innermost first.
// Calling it again is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasOpen := c.target != nil
	var sc io.Closer
	if c.sftp != nil {
		sc = c.sftp
	}
	var target io.Closer
	if c.target != nil {
		target = c.target
	}
	err := closeAll(sc, target, c.chain)

	if c.agentConn != nil {
		c.agentConn.Close()
	}
	c.sftp, c.target, c.chain = nil, nil, nil
	c.agentConn, c.agent = nil, nil

	if wasOpen {
		c.metrics.SessionClosed()
		c.logger.Debug("disconnected from %s", c.conn.Hostname)
	}
	return err
}

// closeAll tears down in dependency order: the channel, the target,
// then the chain in reverse.  Errors from already-closed transports
// are ignored.
func closeAll[T io.Closer](sc, target io.Closer, chain []T) error {
	var errs []error
	record := func(err error) {
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}
	if sc != nil {
		record(sc.Close())
	}
	if target != nil {
		record(target.Close())
	}
	for i := len(chain) - 1; i >= 0; i-- {
		record(chain[i].Close())
	}
	return errors.Join(errs...)
}
