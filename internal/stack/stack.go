// Package stack models the declarative stack spec: which core services
// and channels run, how the stack is exposed, and which automations are
// scheduled. The spec is the single input to the artifact renderer.
package stack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// SpecFileName is the spec's location under the config home.
const SpecFileName = "openpalm.yaml"

// Access scopes select the bind-address policy for every service.
const (
	ScopeHost   = "host"   // loopback only
	ScopeLAN    = "lan"    // all interfaces, LAN exposure
	ScopePublic = "public" // all interfaces, internet exposure
)

// ErrInvalidIngressPort is returned by Validate for an out-of-range port.
var ErrInvalidIngressPort = errors.New("invalid_ingress_port")

// CoreServices is the fixed service set every deployment runs.
var CoreServices = []string{"assistant", "openmemory", "postgres"}

// ChannelSpec is one enabled channel instance.
type ChannelSpec struct {
	Env map[string]string `yaml:"env,omitempty"`
}

// Spec is the declarative stack configuration persisted as openpalm.yaml.
type Spec struct {
	Services    []string               `yaml:"services"`
	Channels    map[string]ChannelSpec `yaml:"channels"`
	Automations []string               `yaml:"automations,omitempty"`
	AccessScope string                 `yaml:"accessScope"`
	IngressPort int                    `yaml:"ingressPort"`
}

// Default returns the spec a fresh install starts from: core services,
// the three HTTP channels, loopback binding on port 80.
func Default() *Spec {
	return &Spec{
		Services: append([]string(nil), CoreServices...),
		Channels: map[string]ChannelSpec{
			"api":  {},
			"a2a":  {},
			"chat": {},
		},
		AccessScope: ScopeHost,
		IngressPort: 80,
	}
}

// Validate checks the invariants the renderer depends on.
func (s *Spec) Validate() error {
	switch s.AccessScope {
	case ScopeHost, ScopeLAN, ScopePublic:
	default:
		return fmt.Errorf("invalid access scope %q", s.AccessScope)
	}
	if s.IngressPort < 1 || s.IngressPort > 65535 {
		return ErrInvalidIngressPort
	}
	for name := range s.Channels {
		if name == "" {
			return fmt.Errorf("channel with empty name")
		}
	}
	return nil
}

// BindAddress returns the address every service binds per the access
// scope.
func (s *Spec) BindAddress() string {
	if s.AccessScope == ScopeHost {
		return "127.0.0.1"
	}
	return "0.0.0.0"
}

// ChannelNames returns the enabled channel names, sorted.
func (s *Spec) ChannelNames() []string {
	names := make([]string, 0, len(s.Channels))
	for name := range s.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy, used to restore the in-memory spec when a
// staged apply fails.
func (s *Spec) Clone() *Spec {
	cp := &Spec{
		Services:    append([]string(nil), s.Services...),
		Channels:    make(map[string]ChannelSpec, len(s.Channels)),
		Automations: append([]string(nil), s.Automations...),
		AccessScope: s.AccessScope,
		IngressPort: s.IngressPort,
	}
	for name, ch := range s.Channels {
		env := make(map[string]string, len(ch.Env))
		for k, v := range ch.Env {
			env[k] = v
		}
		cp.Channels[name] = ChannelSpec{Env: env}
	}
	return cp
}

// Load reads the spec from path. A missing file returns the default
// spec so first boot works without any prior state.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read stack spec: %w", err)
	}
	spec := &Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("parse stack spec: %w", err)
	}
	if spec.Channels == nil {
		spec.Channels = make(map[string]ChannelSpec)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("stack spec %s: %w", path, err)
	}
	return spec, nil
}

// Save writes the spec to path.
func Save(path string, spec *Spec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal stack spec: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save stack spec: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
