package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxRawSize caps bulk secret writes.
const maxRawSize = 64 * 1024

// pathLocks serializes writers per file path so concurrent admin
// mutations on the same env file cannot interleave.
var pathLocks sync.Map // path string → *sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// MergeFile applies updates to the env file at path under the per-path
// lock. A missing file is treated as empty.
func MergeFile(path string, updates map[string]string, opts MergeOptions) error {
	if err := Validate(updates); err != nil {
		return err
	}
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	merged := Merge(string(raw), updates, opts)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return writeAtomic(path, []byte(merged), 0o600)
}

// RemoveFromFile drops keys from the env file under the per-path lock.
func RemoveFromFile(path string, keys ...string) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove from %s: %w", path, err)
	}
	return writeAtomic(path, []byte(Remove(string(raw), keys...)), 0o600)
}

// ParseFile reads and parses an env file. Missing files parse empty.
func ParseFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(string(raw)), nil
}

// ReadRaw returns the file's full contents for bulk editing.
func ReadRaw(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}

// WriteRaw replaces the file wholesale after validating the bulk-edit
// invariants: size cap, assignment shape, key shape.
func WriteRaw(path, raw string) error {
	if len(raw) > maxRawSize {
		return fmt.Errorf("secrets file exceeds %d bytes", maxRawSize)
	}
	for i, line := range splitLines(raw) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if lineKey(line, false) == "" {
			return fmt.Errorf("line %d: not a KEY=value assignment", i+1)
		}
	}

	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return writeAtomic(path, []byte(raw), 0o600)
}

// writeAtomic writes via a temp file and rename so readers never see a
// torn file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmpName, path)
}
