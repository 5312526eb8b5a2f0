// Package state owns the on-disk layout of the control plane: the
// config home (operator-owned inputs) and the state home (rendered
// artifacts, snapshots, backups). All mutation of live state flows
// through the staged-swap pipeline in this package.
package state

import (
	"os"
	"path/filepath"
)

// Paths locates the two persistent homes.
type Paths struct {
	ConfigHome string
	StateHome  string
}

// DefaultPaths resolves the homes from OPENPALM_CONFIG_HOME and
// OPENPALM_STATE_HOME, defaulting to the XDG-style locations.
func DefaultPaths() Paths {
	home, _ := os.UserHomeDir()
	p := Paths{
		ConfigHome: filepath.Join(home, ".config", "openpalm"),
		StateHome:  filepath.Join(home, ".local", "state", "openpalm"),
	}
	if v := os.Getenv("OPENPALM_CONFIG_HOME"); v != "" {
		p.ConfigHome = v
	}
	if v := os.Getenv("OPENPALM_STATE_HOME"); v != "" {
		p.StateHome = v
	}
	return p
}

// Config-home locations.

func (p Paths) SecretsFile() string       { return filepath.Join(p.ConfigHome, "secrets.env") }
func (p Paths) SpecFile() string          { return filepath.Join(p.ConfigHome, "openpalm.yaml") }
func (p Paths) ConfigChannelsDir() string { return filepath.Join(p.ConfigHome, "channels") }

// State-home locations.

func (p Paths) ArtifactsDir() string   { return filepath.Join(p.StateHome, "artifacts") }
func (p Paths) ChannelsDir() string    { return filepath.Join(p.StateHome, "channels") }
func (p Paths) CaddyFile() string      { return filepath.Join(p.StateHome, "caddy.json") }
func (p Paths) SnapshotsDir() string   { return filepath.Join(p.StateHome, "snapshots") }
func (p Paths) BackupsDir() string     { return filepath.Join(p.StateHome, "config-backups") }
func (p Paths) AutomationsDir() string { return filepath.Join(p.StateHome, "automations") }
func (p Paths) AuditDir() string       { return filepath.Join(p.StateHome, "audit") }

// ComposeFile is the live compose file the container runtime consumes.
func (p Paths) ComposeFile() string {
	return filepath.Join(p.ArtifactsDir(), "docker-compose.yml")
}

// ManifestFile is the live artifact manifest.
func (p Paths) ManifestFile() string {
	return filepath.Join(p.ArtifactsDir(), "manifest.json")
}

// EnsureDirs creates both homes and their fixed subdirectories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{
		p.ConfigHome,
		p.ConfigChannelsDir(),
		p.StateHome,
		p.SnapshotsDir(),
		p.BackupsDir(),
		p.AutomationsDir(),
		p.AuditDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
