package cmd

import (
	"context"
	"fmt"
	"os"

	"ssb/hostconfig"
	ssberrors "ssb/internal/errors"
	"ssb/profile"
	"ssb/remote"
	"ssb/slurm"
)

// target is where the job goes and what it carries along.
type target struct {
	conn       hostconfig.Connection
	resolver   *hostconfig.Resolver
	profileEnv map[string]string
	source     string // for log lines: "host dgx", "profile lab", ...
}

// resolveTarget picks the connection in this order: --host, --profile,
// --hostname, then the current profile.
func (a *app) resolveTarget() (*target, error) {
	cfg := a.cfg
	r, err := hostconfig.Load(cfg.SSHConfigPath)
	if err != nil {
		return nil, err
	}
	t := &target{resolver: r}

	switch {
	case cfg.HostAlias != "":
		if t.conn, err = r.Connection(cfg.HostAlias); err != nil {
			return nil, fmt.Errorf("%w (in %s)", err, r.Path())
		}
		t.source = "host " + cfg.HostAlias

	case cfg.Profile != "":
		store, err := profile.Load(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		p, ok := store.Get(cfg.Profile)
		if !ok {
			return nil, fmt.Errorf("%w: %s", profile.ErrNotFound, cfg.Profile)
		}
		if t.conn, err = p.Connection(r); err != nil {
			return nil, fmt.Errorf("profile %s: %w", cfg.Profile, err)
		}
		t.profileEnv = p.EnvVars
		t.source = "profile " + cfg.Profile

	case cfg.Hostname != "":
		if cfg.SSHKeyPath != "" {
			if _, err := os.Stat(hostconfig.ExpandPath(cfg.SSHKeyPath)); err != nil {
				return nil, &ssberrors.ConfigError{
					Field:   "key-file",
					Value:   cfg.SSHKeyPath,
					Message: "SSH key file not found",
					Err:     err,
				}
			}
		}
		t.conn = hostconfig.Direct(cfg.Hostname, cfg.Username, cfg.Port, cfg.SSHKeyPath)
		t.source = "hostname " + cfg.Hostname

	default:
		store, err := profile.Load(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		name, p, ok := store.Current()
		if !ok {
			return nil, &ssberrors.ConfigError{
				Field:   "host",
				Message: "no connection method specified",
				Hint:    "use --host, --profile or --hostname, or set a current profile with 'ssb profile set'",
			}
		}
		if t.conn, err = p.Connection(r); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		t.profileEnv = p.EnvVars
		t.source = "current profile " + name
	}

	// Explicit flags refine whatever was resolved.
	if cfg.Username != "" {
		t.conn.Username = cfg.Username
	}
	if cfg.Port != 0 {
		t.conn.Port = cfg.Port
	}
	if cfg.JumpSpec != "" {
		t.conn.ProxyJump = cfg.JumpSpec
	}
	return t, nil
}

// connect opens a session to t.  The caller must Disconnect the
// returned client.
func (a *app) connect(ctx context.Context, t *target) (*remote.Client, error) {
	a.logger.Verbose("using %s: %s@%s", t.source, t.conn.Username, t.conn.Address())

	client := remote.New(t.conn, remote.Options{
		Resolver:      t.resolver,
		KeyPath:       hostconfig.ExpandPath(a.cfg.SSHKeyPath),
		PromptPass:    a.cfg.SSHPassword,
		UseAgent:      a.cfg.UseSSHAgent,
		StrictHostKey: a.cfg.StrictHostKey,
		KnownHosts:    hostconfig.ExpandPath(a.cfg.KnownHostsPath),
		ConnTimeout:   a.cfg.ConnTimeout,
		WorkDir:       a.cfg.WorkDir,
		Prompt:        a.prompt,
	}, a.logger.With("host", t.conn.Alias), a.metrics)

	if err := client.Connect(ctx); err != nil {
		if hint := connectHint(err); hint != "" {
			a.logger.Info("hint: %s", hint)
		}
		return nil, err
	}
	return client, nil
}

// connectHint suggests a next step for the stage a connection failed in.
func connectHint(err error) string {
	switch ssberrors.StageOf(err) {
	case ssberrors.StageAuth:
		return "check --key-file, the SSH agent (SSH_AUTH_SOCK), or retry with --password"
	case ssberrors.StageDial:
		return "check the hostname and port, or reach the host through --jump"
	case ssberrors.StageTunnel:
		return "the bastion refused to forward the connection; check its AllowTcpForwarding setting"
	case ssberrors.StageHandshake:
		return "check --known-hosts when --strict-hostkey is set, or raise --conn-timeout"
	case ssberrors.StageWorkDir:
		return "pick a writable remote directory with --work-dir"
	}
	return ""
}

// session resolves the target, connects, and probes the scheduler
// environment.  Forwarded variables are checked before dialing.
func (a *app) session(ctx context.Context) (*remote.Client, *slurm.Environment, error) {
	t, err := a.resolveTarget()
	if err != nil {
		return nil, nil, err
	}
	custom, err := buildJobEnv(a.cfg, t.profileEnv, a.lookup, a.logger)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.connect(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	env := slurm.NewProber(client, a.logger, custom).Probe(ctx)
	return client, env, nil
}
