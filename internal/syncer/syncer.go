// Package syncer backs up the config directory after successful admin
// mutations. Providers are best-effort: failures are audited by the
// caller, never surfaced to the mutating client.
package syncer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Provider runs after every successful mutation.
type Provider interface {
	AfterMutation(ctx context.Context, configDir, message string) error
}

// ForName selects a provider: "git", "tar", or the no-op default.
func ForName(name, stateHome string) Provider {
	switch name {
	case "git":
		return &GitProvider{}
	case "tar":
		return &TarProvider{BackupDir: filepath.Join(stateHome, "backups")}
	default:
		return NopProvider{}
	}
}

// NopProvider does nothing.
type NopProvider struct{}

func (NopProvider) AfterMutation(context.Context, string, string) error { return nil }

// GitProvider commits the config directory after each mutation. The
// directory must already be a git repository.
type GitProvider struct{}

func (GitProvider) AfterMutation(ctx context.Context, configDir, message string) error {
	if _, err := os.Stat(filepath.Join(configDir, ".git")); err != nil {
		return fmt.Errorf("git sync: %s is not a repository", configDir)
	}
	if err := runGit(ctx, configDir, "add", "-A"); err != nil {
		return err
	}
	// Nothing staged means nothing changed; not a failure.
	if err := runGit(ctx, configDir, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	return runGit(ctx, configDir, "commit", "-m", message)
}

func runGit(ctx context.Context, dir string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		return fmt.Errorf("git %s: %w: %s", args[0], err, detail)
	}
	return nil
}

// tarKeep bounds how many tarballs accumulate.
const tarKeep = 10

// TarProvider archives the config directory into timestamped tarballs,
// pruned to the newest tarKeep.
type TarProvider struct {
	BackupDir string
}

func (p *TarProvider) AfterMutation(ctx context.Context, configDir, _ string) error {
	if err := os.MkdirAll(p.BackupDir, 0o755); err != nil {
		return fmt.Errorf("tar sync: %w", err)
	}
	name := fmt.Sprintf("config-%s.tar.gz", time.Now().UTC().Format("2006-01-02T15-04-05"))

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tar",
		"-czf", filepath.Join(p.BackupDir, name),
		"-C", filepath.Dir(configDir), filepath.Base(configDir))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tar sync: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return p.prune()
}

func (p *TarProvider) prune() error {
	entries, err := os.ReadDir(p.BackupDir)
	if err != nil {
		return err
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "config-") && strings.HasSuffix(entry.Name(), ".tar.gz") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for len(names) > tarKeep {
		if err := os.Remove(filepath.Join(p.BackupDir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}
