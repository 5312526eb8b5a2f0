package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SnapshotKeep is how many snapshots survive pruning.
const SnapshotKeep = 3

// snapshotTimeFormat yields lexically sortable, filesystem-safe names.
const snapshotTimeFormat = "2006-01-02T15-04-05.000Z"

// Snapshot copies the current live artifact set (artifacts dir,
// channels dir, caddy.json) into a timestamped snapshot directory and
// returns its name. Returns "" when no manifest exists yet: there is
// nothing to roll back to before the first apply.
func Snapshot(p Paths) (string, error) {
	if _, err := os.Stat(p.ManifestFile()); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("snapshot: stat manifest: %w", err)
	}

	name := time.Now().UTC().Format(snapshotTimeFormat)
	dir := filepath.Join(p.SnapshotsDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	if err := copyDir(p.ArtifactsDir(), filepath.Join(dir, "artifacts")); err != nil {
		return "", fmt.Errorf("snapshot artifacts: %w", err)
	}
	if _, err := os.Stat(p.ChannelsDir()); err == nil {
		if err := copyDir(p.ChannelsDir(), filepath.Join(dir, "channels")); err != nil {
			return "", fmt.Errorf("snapshot channels: %w", err)
		}
	}
	if _, err := os.Stat(p.CaddyFile()); err == nil {
		if err := copyFile(p.CaddyFile(), filepath.Join(dir, "caddy.json")); err != nil {
			return "", fmt.Errorf("snapshot caddy config: %w", err)
		}
	}
	return name, nil
}

// ListSnapshots returns snapshot names, oldest first.
func ListSnapshots(p Paths) ([]string, error) {
	entries, err := os.ReadDir(p.SnapshotsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// PruneSnapshots removes all but the newest SnapshotKeep snapshots.
func PruneSnapshots(p Paths) error {
	names, err := ListSnapshots(p)
	if err != nil {
		return err
	}
	if len(names) <= SnapshotKeep {
		return nil
	}
	for _, name := range names[:len(names)-SnapshotKeep] {
		if err := os.RemoveAll(filepath.Join(p.SnapshotsDir(), name)); err != nil {
			return fmt.Errorf("prune snapshot %s: %w", name, err)
		}
	}
	return nil
}

// RestoreSnapshot replaces the live artifact set with the named
// snapshot's contents.
func RestoreSnapshot(p Paths, name string) error {
	dir := filepath.Join(p.SnapshotsDir(), name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", name, err)
	}

	if err := os.RemoveAll(p.ArtifactsDir()); err != nil {
		return fmt.Errorf("restore snapshot: clear artifacts: %w", err)
	}
	if err := copyDir(filepath.Join(dir, "artifacts"), p.ArtifactsDir()); err != nil {
		return fmt.Errorf("restore snapshot artifacts: %w", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "channels")); err == nil {
		if err := os.RemoveAll(p.ChannelsDir()); err != nil {
			return fmt.Errorf("restore snapshot: clear channels: %w", err)
		}
		if err := copyDir(filepath.Join(dir, "channels"), p.ChannelsDir()); err != nil {
			return fmt.Errorf("restore snapshot channels: %w", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "caddy.json")); err == nil {
		if err := copyFile(filepath.Join(dir, "caddy.json"), p.CaddyFile()); err != nil {
			return fmt.Errorf("restore snapshot caddy config: %w", err)
		}
	}
	return nil
}
