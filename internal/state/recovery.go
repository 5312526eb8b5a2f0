package state

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openpalm/openpalm/internal/audit"
)

// CleanupStalePending removes any *.pending and *.old entries a crashed
// apply left behind. Live directories are untouched: an interrupted
// apply either never swapped (pending is garbage) or fully swapped
// (.old is garbage).
func CleanupStalePending(p Paths) error {
	entries, err := os.ReadDir(p.StateHome)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cleanup pending: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".pending") && !strings.HasSuffix(name, ".old") {
			continue
		}
		path := filepath.Join(p.StateHome, name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("cleanup %s: %w", name, err)
		}
		slog.Info("state.cleanup_stale", "path", name)
	}
	return nil
}

// CleanupStaleConfigBackups handles uninstalls interrupted between file
// deletion and stage completion: when an uninstall intent exists but
// the channel files are gone from config, the deletion was never
// committed by a successful apply, so the files come back.
func CleanupStaleConfigBackups(p Paths, auditLog *audit.Logger) error {
	channels, err := ListBackups(p)
	if err != nil {
		return fmt.Errorf("cleanup backups: %w", err)
	}
	for _, channel := range channels {
		intent, err := ReadIntent(p, channel)
		if err != nil || intent == nil || intent.Action != "uninstall" {
			continue
		}
		if _, err := os.Stat(filepath.Join(p.ConfigChannelsDir(), channel+".yml")); err == nil {
			continue
		}
		if err := RestoreBackup(p, channel); err != nil {
			return fmt.Errorf("cleanup backups: restore %s: %w", channel, err)
		}
		if err := ClearBackup(p, channel); err != nil {
			return fmt.Errorf("cleanup backups: clear %s: %w", channel, err)
		}
		slog.Info("state.stale_backup_restored", "channel", channel)
		if auditLog != nil {
			auditLog.Append(audit.Entry{
				Actor:   "system",
				Action:  "startup.stale_backup",
				Status:  audit.StatusOK,
				Channel: channel,
			})
		}
	}
	return nil
}
