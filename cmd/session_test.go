package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	ssberrors "ssb/internal/errors"
	"ssb/profile"
	"ssb/util"
)

// newTestApp returns an app with a temp SSH config and an empty
// profile store, logging into the returned buffer.
func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	a := newApp(&bytes.Buffer{}, &logs)
	dir := t.TempDir()
	a.cfg.SSHConfigPath = writeFile(t, dir, "ssh_config", testSSHConfig)
	a.cfg.ProfilePath = filepath.Join(dir, "profiles.yaml")
	a.cfg.HostAlias, a.cfg.Profile, a.cfg.Hostname = "", "", ""
	a.cfg.Username, a.cfg.Port, a.cfg.JumpSpec, a.cfg.SSHKeyPath = "", 0, "", ""
	a.logger = util.NewLogger(1)
	a.logger.SetOutput(&logs)
	return a, &logs
}

func addProfile(t *testing.T, a *app, name string, p profile.Profile, current bool) {
	t.Helper()
	s, err := profile.Load(a.cfg.ProfilePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(name, p); err != nil {
		t.Fatal(err)
	}
	if current {
		if err := s.SetCurrent(name); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolveTarget_HostAlias(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.HostAlias = "dgx"

	tg, err := a.resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	c := tg.conn
	if c.Hostname != "dgx.example.com" || c.Username != "alice" || c.Port != 2222 || c.ProxyJump != "bastion" {
		t.Errorf("conn = %+v", c)
	}
	if tg.source != "host dgx" || tg.resolver == nil {
		t.Errorf("source = %q, resolver = %v", tg.source, tg.resolver)
	}
}

func TestResolveTarget_Overrides(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.HostAlias = "dgx"
	a.cfg.Username = "carol"
	a.cfg.Port = 2022
	a.cfg.JumpSpec = "ops@jump.example.com:2200"

	tg, err := a.resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	c := tg.conn
	if c.Username != "carol" || c.Port != 2022 || c.ProxyJump != "ops@jump.example.com:2200" {
		t.Errorf("conn = %+v", c)
	}
	if c.Hostname != "dgx.example.com" {
		t.Errorf("Hostname = %q", c.Hostname)
	}
}

func TestResolveTarget_UnknownAlias(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.HostAlias = "nope"
	_, err := a.resolveTarget()
	if !errors.Is(err, ssberrors.ErrHostNotFound) {
		t.Fatalf("want ErrHostNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), a.cfg.SSHConfigPath) {
		t.Errorf("error should name the config file: %v", err)
	}
}

func TestResolveTarget_Profile(t *testing.T) {
	a, _ := newTestApp(t)
	addProfile(t, a, "lab", profile.Profile{
		SSHHost: "dgx",
		EnvVars: map[string]string{"WANDB_PROJECT": "llm"},
	}, false)
	a.cfg.Profile = "lab"

	tg, err := a.resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	if tg.conn.Hostname != "dgx.example.com" || tg.conn.Port != 2222 {
		t.Errorf("conn = %+v", tg.conn)
	}
	if tg.profileEnv["WANDB_PROJECT"] != "llm" {
		t.Errorf("profileEnv = %v", tg.profileEnv)
	}
	if tg.source != "profile lab" {
		t.Errorf("source = %q", tg.source)
	}
}

func TestResolveTarget_ProfileWinsOverHostname(t *testing.T) {
	a, _ := newTestApp(t)
	addProfile(t, a, "direct", profile.Profile{
		Hostname: "gpu01.example.com", Username: "bob", Port: 2200,
		KeyFilename: "~/.ssh/id_ed25519",
	}, false)
	a.cfg.Profile = "direct"
	a.cfg.Hostname = "ignored.example.com"

	tg, err := a.resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	if tg.conn.Hostname != "gpu01.example.com" || tg.conn.Username != "bob" || tg.conn.Port != 2200 {
		t.Errorf("conn = %+v", tg.conn)
	}
}

func TestResolveTarget_UnknownProfile(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Profile = "ghost"
	if _, err := a.resolveTarget(); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestResolveTarget_Hostname(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Hostname = "10.1.2.3"
	a.cfg.Username = "u"

	tg, err := a.resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	if tg.conn.Hostname != "10.1.2.3" || tg.conn.Port != 22 || tg.conn.Username != "u" || tg.conn.ProxyJump != "" {
		t.Errorf("conn = %+v", tg.conn)
	}
}

func TestResolveTarget_HostnameKeyMissing(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Hostname = "10.1.2.3"
	a.cfg.SSHKeyPath = filepath.Join(t.TempDir(), "id_missing")

	_, err := a.resolveTarget()
	var ce *ssberrors.ConfigError
	if !errors.As(err, &ce) || ce.Field != "key-file" {
		t.Fatalf("want key-file ConfigError, got %v", err)
	}
}

func TestResolveTarget_CurrentProfile(t *testing.T) {
	a, _ := newTestApp(t)
	addProfile(t, a, "gw", profile.Profile{SSHHost: "bastion"}, true)

	tg, err := a.resolveTarget()
	if err != nil {
		t.Fatal(err)
	}
	if tg.conn.Hostname != "gw.example.com" || tg.conn.Username != "ops" {
		t.Errorf("conn = %+v", tg.conn)
	}
	if tg.source != "current profile gw" {
		t.Errorf("source = %q", tg.source)
	}
}

func TestResolveTarget_NoMethod(t *testing.T) {
	a, _ := newTestApp(t)
	_, err := a.resolveTarget()
	var ce *ssberrors.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConfigError, got %T: %v", err, err)
	}
	if ce.Hint == "" {
		t.Error("expected a hint")
	}
}

func fakeLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestBuildJobEnv_Precedence(t *testing.T) {
	a, logs := newTestApp(t)
	local := map[string]string{
		"HF_TOKEN":      "hf_local",
		"WANDB_PROJECT": "local-project",
		"MY_VAR":        "mine",
		"UNRELATED":     "skip",
	}
	profileEnv := map[string]string{
		"WANDB_PROJECT": "profile-project",
		"EXTRA":         "1",
		"MY_VAR":        "from-profile",
	}
	a.cfg.Env = []string{"WANDB_PROJECT=flag-project", "EMPTY=", "URL=a=b"}
	a.cfg.EnvLocal = []string{"MY_VAR", "MISSING"}

	got, err := buildJobEnv(a.cfg, profileEnv, fakeLookup(local), a.logger)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"HF_TOKEN":      "hf_local",
		"WANDB_PROJECT": "flag-project",
		"EXTRA":         "1",
		"EMPTY":         "",
		"URL":           "a=b",
		"MY_VAR":        "mine",
	}
	if len(got) != len(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if gv, ok := got[k]; !ok || gv != v {
			t.Errorf("%s = %q (present %v), want %q", k, gv, ok, v)
		}
	}
	if !strings.Contains(logs.String(), "MISSING") {
		t.Errorf("missing --env-local variable not warned:\n%s", logs.String())
	}
}

func TestBuildJobEnv_Empty(t *testing.T) {
	a, _ := newTestApp(t)
	got, err := buildJobEnv(a.cfg, nil, fakeLookup(nil), a.logger)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestBuildJobEnv_Invalid(t *testing.T) {
	cases := []struct {
		name     string
		env      []string
		envLocal []string
	}{
		{"no equals", []string{"NOEQ"}, nil},
		{"empty key", []string{"=value"}, nil},
		{"dash in key", []string{"BAD-KEY=1"}, nil},
		{"injection", []string{"X;rm=1"}, nil},
		{"local leading digit", nil, []string{"1X"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newTestApp(t)
			a.cfg.Env = tc.env
			a.cfg.EnvLocal = tc.envLocal
			if _, err := buildJobEnv(a.cfg, nil, fakeLookup(nil), a.logger); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// TestSession_InvalidEnvBeforeDial verifies forwarded variables are
// rejected before any connection is attempted.
func TestSession_InvalidEnvBeforeDial(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Hostname = "gpu01.invalid"
	a.cfg.Username = "u"
	a.cfg.EnvLocal = []string{"BAD-KEY"}

	_, _, err := a.session(t.Context())
	if err == nil || !strings.Contains(err.Error(), "--env-local") {
		t.Fatalf("want --env-local error, got %v", err)
	}
	if a.metrics.Snapshot().SessionsTotal != 0 {
		t.Error("no session should have been opened")
	}
}

func TestConnectHint(t *testing.T) {
	tests := []struct {
		stage ssberrors.Stage
		want  string
	}{
		{ssberrors.StageAuth, "--key-file"},
		{ssberrors.StageDial, "--jump"},
		{ssberrors.StageTunnel, "AllowTcpForwarding"},
		{ssberrors.StageHandshake, "--known-hosts"},
		{ssberrors.StageWorkDir, "--work-dir"},
		{ssberrors.StageSFTP, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			err := fmt.Errorf("connect: %w", ssberrors.WrapConnection(tt.stage, "gpu01", 22, errors.New("boom")))
			got := connectHint(err)
			if tt.want == "" && got != "" || !strings.Contains(got, tt.want) {
				t.Errorf("connectHint(%s) = %q, want mention of %q", tt.stage, got, tt.want)
			}
		})
	}
	if got := connectHint(errors.New("plain")); got != "" {
		t.Errorf("plain error hint = %q", got)
	}
}
