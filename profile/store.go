// Package profile persists named server profiles and a current-profile
// pointer in a YAML file.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"ssb/hostconfig"
	"ssb/slurm"
)

// ErrNotFound is returned for operations on a profile that does not exist.
var ErrNotFound = errors.New("profile not found")

// Profile is one saved server.  SSHHost, when set, names an alias in the
// host-alias file and takes precedence over the direct fields.
type Profile struct {
	Hostname    string            `yaml:"hostname"`
	Username    string            `yaml:"username"`
	KeyFilename string            `yaml:"key_filename"`
	Port        int               `yaml:"port"`
	Description string            `yaml:"description,omitempty"`
	SSHHost     string            `yaml:"ssh_host,omitempty"`
	EnvVars     map[string]string `yaml:"env_vars,omitempty"`
}

// Patch carries the fields of an Update.  Nil fields are left alone.
type Patch struct {
	Hostname    *string
	Username    *string
	KeyFilename *string
	Port        *int
	Description *string
	SSHHost     *string
}

type document struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
}

// Store is the profile file loaded into memory.  Mutating methods write
// the file before returning.
type Store struct {
	path string
	doc  document
}

// Load reads the profile file at path.  A missing file yields an empty
// store; nothing is written until the first change.
func Load(path string) (*Store, error) {
	path = hostconfig.ExpandPath(path)
	s := &Store{path: path, doc: document{Profiles: map[string]*Profile{}}}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading profiles from %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &s.doc); err != nil {
		return nil, fmt.Errorf("loading profiles from %s: %w", path, err)
	}
	if s.doc.Profiles == nil {
		s.doc.Profiles = map[string]*Profile{}
	}
	for name, p := range s.doc.Profiles {
		if p == nil {
			delete(s.doc.Profiles, name)
			continue
		}
		if p.Port == 0 {
			p.Port = 22
		}
		if len(p.EnvVars) == 0 {
			p.EnvVars = nil
		}
	}
	if _, ok := s.doc.Profiles[s.doc.CurrentProfile]; !ok {
		s.doc.CurrentProfile = ""
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Save writes the store, creating the parent directory if needed.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("saving profiles: %w", err)
	}
	b, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("saving profiles: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("saving profiles to %s: %w", s.path, err)
	}
	return nil
}

// Add stores p under name, replacing any profile of that name.
func (s *Store) Add(name string, p Profile) error {
	if name == "" {
		return fmt.Errorf("profile name required")
	}
	if p.Port == 0 {
		p.Port = 22
	}
	for k := range p.EnvVars {
		if err := slurm.ValidateEnvKey(k); err != nil {
			return err
		}
	}
	if len(p.EnvVars) == 0 {
		p.EnvVars = nil
	} else {
		p.EnvVars = maps.Clone(p.EnvVars)
	}
	s.doc.Profiles[name] = &p
	return s.Save()
}

// Remove deletes a profile, clearing the current pointer if it pointed
// there.
func (s *Store) Remove(name string) error {
	if _, ok := s.doc.Profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.doc.Profiles, name)
	if s.doc.CurrentProfile == name {
		s.doc.CurrentProfile = ""
	}
	return s.Save()
}

// Get returns a copy of the named profile.
func (s *Store) Get(name string) (Profile, bool) {
	p, ok := s.doc.Profiles[name]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// List returns the profile names in sorted order.
func (s *Store) List() []string {
	names := make([]string, 0, len(s.doc.Profiles))
	for name := range s.doc.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetCurrent makes name the current profile.
func (s *Store) SetCurrent(name string) error {
	if _, ok := s.doc.Profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.doc.CurrentProfile = name
	return s.Save()
}

// Current returns the current profile and its name, if one is set.
func (s *Store) Current() (string, Profile, bool) {
	name := s.doc.CurrentProfile
	if name == "" {
		return "", Profile{}, false
	}
	p, ok := s.Get(name)
	return name, p, ok
}

// Update applies the non-nil fields of patch to the named profile.
func (s *Store) Update(name string, patch Patch) error {
	p, ok := s.doc.Profiles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if patch.Hostname != nil {
		p.Hostname = *patch.Hostname
	}
	if patch.Username != nil {
		p.Username = *patch.Username
	}
	if patch.KeyFilename != nil {
		p.KeyFilename = *patch.KeyFilename
	}
	if patch.Port != nil {
		p.Port = *patch.Port
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.SSHHost != nil {
		p.SSHHost = *patch.SSHHost
	}
	return s.Save()
}

// SetEnv sets a variable forwarded with every job run under the profile.
func (s *Store) SetEnv(name, key, value string) error {
	p, ok := s.doc.Profiles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := slurm.ValidateEnvKey(key); err != nil {
		return err
	}
	if p.EnvVars == nil {
		p.EnvVars = map[string]string{}
	}
	p.EnvVars[key] = value
	return s.Save()
}

// UnsetEnv removes a variable.  It reports whether the key was present.
func (s *Store) UnsetEnv(name, key string) (bool, error) {
	p, ok := s.doc.Profiles[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, ok := p.EnvVars[key]; !ok {
		return false, nil
	}
	delete(p.EnvVars, key)
	if len(p.EnvVars) == 0 {
		p.EnvVars = nil
	}
	return true, s.Save()
}

func (p *Profile) clone() Profile {
	c := *p
	c.EnvVars = maps.Clone(p.EnvVars)
	return c
}

// Connection turns the profile into connection parameters.  Profiles
// that name an alias are resolved through r.
func (p Profile) Connection(r *hostconfig.Resolver) (hostconfig.Connection, error) {
	if p.SSHHost != "" {
		return r.Connection(p.SSHHost)
	}
	if p.Hostname == "" {
		return hostconfig.Connection{}, fmt.Errorf("profile has neither ssh_host nor hostname")
	}
	return hostconfig.Direct(p.Hostname, p.Username, p.Port, p.KeyFilename), nil
}
