package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Intent records why a channel config backup exists. It is written
// before any destructive step so startup recovery can tell an
// interrupted uninstall from an interrupted install.
type Intent struct {
	Action    string `json:"action"` // "install" or "uninstall"
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
}

const intentFileName = "intent.json"

// channelFiles returns the config files a channel owns.
func channelFiles(p Paths, channel string) []string {
	return []string{
		filepath.Join(p.ConfigChannelsDir(), channel+".yml"),
		filepath.Join(p.ConfigChannelsDir(), channel+".caddy"),
	}
}

// RecordIntent writes the intent file for a channel mutation. For
// uninstalls it also copies the channel's about-to-be-deleted files
// into the backup directory.
func RecordIntent(p Paths, action, channel string) error {
	dir := filepath.Join(p.BackupsDir(), channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("record intent: %w", err)
	}

	intent := Intent{
		Action:    action,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(intent, "", "  ")
	if err != nil {
		return fmt.Errorf("record intent: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, intentFileName), data, 0o644); err != nil {
		return fmt.Errorf("record intent: %w", err)
	}

	if action == "uninstall" {
		for _, src := range channelFiles(p, channel) {
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
				return fmt.Errorf("backup %s: %w", src, err)
			}
		}
	}
	return nil
}

// ReadIntent loads a channel's intent, or nil when no backup exists.
func ReadIntent(p Paths, channel string) (*Intent, error) {
	data, err := os.ReadFile(filepath.Join(p.BackupsDir(), channel, intentFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read intent: %w", err)
	}
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("parse intent: %w", err)
	}
	return &intent, nil
}

// RestoreBackup copies a channel's backed-up files back into the config
// directory, byte-identical to what was backed up.
func RestoreBackup(p Paths, channel string) error {
	dir := filepath.Join(p.BackupsDir(), channel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == intentFileName {
			continue
		}
		src := filepath.Join(dir, entry.Name())
		dst := filepath.Join(p.ConfigChannelsDir(), entry.Name())
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("restore %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// ClearBackup removes a channel's backup directory after a successful
// mutation.
func ClearBackup(p Paths, channel string) error {
	return os.RemoveAll(filepath.Join(p.BackupsDir(), channel))
}

// ListBackups returns the channels that currently have a backup.
func ListBackups(p Paths) ([]string, error) {
	entries, err := os.ReadDir(p.BackupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var channels []string
	for _, entry := range entries {
		if entry.IsDir() {
			channels = append(channels, entry.Name())
		}
	}
	return channels, nil
}
