package state

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openpalm/openpalm/internal/render"
)

// Validator dry-runs a compose file before it goes live. Implemented by
// internal/runtime against `docker compose config`.
type Validator interface {
	ConfigCheck(ctx context.Context, composeFile string) error
}

// Applier runs the staged-swap pipeline. One Apply at a time; the admin
// server serializes mutations.
type Applier struct {
	Paths   Paths
	Runtime Validator
}

// Apply stages the rendered artifacts, validates them, snapshots the
// live state, and swaps the staged set into place. A failure before the
// swap leaves live state byte-identical; the swap itself is a sequence
// of atomic renames, so a crash mid-apply leaves either the old or the
// new set, never a hybrid. Returns the snapshot name ("" on first
// apply).
func (a *Applier) Apply(ctx context.Context, res *render.Result) (snapshot string, err error) {
	p := a.Paths

	pendingArtifacts := p.ArtifactsDir() + ".pending"
	pendingChannels := p.ChannelsDir() + ".pending"
	pendingCaddy := p.CaddyFile() + ".pending"

	defer func() {
		if err != nil {
			os.RemoveAll(pendingArtifacts)
			os.RemoveAll(pendingChannels)
			os.Remove(pendingCaddy)
		}
	}()

	// Stage. caddy.json lives at the state root; everything else goes
	// under artifacts/.
	if err = os.MkdirAll(pendingArtifacts, 0o755); err != nil {
		return "", fmt.Errorf("apply: stage: %w", err)
	}
	for _, artifact := range res.Artifacts {
		if artifact.Name == render.CaddyFileName {
			if err = os.WriteFile(pendingCaddy, artifact.Data, 0o644); err != nil {
				return "", fmt.Errorf("apply: stage %s: %w", artifact.Name, err)
			}
			continue
		}
		if err = os.WriteFile(filepath.Join(pendingArtifacts, artifact.Name), artifact.Data, 0o644); err != nil {
			return "", fmt.Errorf("apply: stage %s: %w", artifact.Name, err)
		}
	}
	if err = os.MkdirAll(pendingChannels, 0o755); err != nil {
		return "", fmt.Errorf("apply: stage channels: %w", err)
	}
	if _, statErr := os.Stat(p.ConfigChannelsDir()); statErr == nil {
		if err = copyDir(p.ConfigChannelsDir(), pendingChannels); err != nil {
			return "", fmt.Errorf("apply: stage channels: %w", err)
		}
	}

	// Validate before anything touches live state.
	if a.Runtime != nil {
		if err = a.Runtime.ConfigCheck(ctx, filepath.Join(pendingArtifacts, render.ComposeFileName)); err != nil {
			return "", fmt.Errorf("apply: compose validation: %w", err)
		}
	}

	// Snapshot, then swap.
	snapshot, err = Snapshot(p)
	if err != nil {
		return "", fmt.Errorf("apply: %w", err)
	}

	if err = replaceDir(pendingArtifacts, p.ArtifactsDir()); err != nil {
		return snapshot, fmt.Errorf("apply: swap artifacts: %w", err)
	}
	if err = replaceDir(pendingChannels, p.ChannelsDir()); err != nil {
		return snapshot, fmt.Errorf("apply: swap channels: %w", err)
	}
	if err = os.Rename(pendingCaddy, p.CaddyFile()); err != nil {
		return snapshot, fmt.Errorf("apply: swap caddy config: %w", err)
	}

	// Past the point of no return: the new set is live. Leftover .old
	// directories are garbage, not state.
	os.RemoveAll(p.ArtifactsDir() + ".old")
	os.RemoveAll(p.ChannelsDir() + ".old")

	if err := PruneSnapshots(p); err != nil {
		slog.Warn("state.prune_snapshots", "error", err)
	}
	return snapshot, nil
}
