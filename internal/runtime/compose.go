// Package runtime invokes the container runtime as an opaque process.
// Everything goes through `docker compose` against the live compose
// file; argv is always passed as an array, never a shell string.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// composeTimeout bounds a single compose invocation. Image pulls are
// excluded; up relies on images already present or a generous window.
const composeTimeout = 120 * time.Second

// Compose runs docker compose against one project file.
type Compose struct {
	bin         string
	projectName string
}

// NewCompose builds the invoker. bin defaults to "docker".
func NewCompose(bin string) *Compose {
	if bin == "" {
		bin = "docker"
	}
	return &Compose{bin: bin, projectName: "openpalm"}
}

// run executes docker compose with the given file and args, returning
// combined output on failure for the caller's error message.
func (c *Compose) run(ctx context.Context, composeFile string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, composeTimeout)
	defer cancel()

	argv := append([]string{"compose", "-p", c.projectName, "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, c.bin, argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("runtime.compose", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return nil, fmt.Errorf("docker compose %s: %w: %s", args[0], err, detail)
	}
	return stdout.Bytes(), nil
}

// ConfigCheck dry-runs the compose file. Used as the apply validator.
func (c *Compose) ConfigCheck(ctx context.Context, composeFile string) error {
	_, err := c.run(ctx, composeFile, "config", "--quiet")
	return err
}

// Up starts the named services (all when none given), detached.
func (c *Compose) Up(ctx context.Context, composeFile string, services ...string) error {
	args := append([]string{"up", "-d"}, services...)
	_, err := c.run(ctx, composeFile, args...)
	return err
}

// Stop stops the named services without removing them.
func (c *Compose) Stop(ctx context.Context, composeFile string, services ...string) error {
	args := append([]string{"stop"}, services...)
	_, err := c.run(ctx, composeFile, args...)
	return err
}

// Down stops and removes the whole stack.
func (c *Compose) Down(ctx context.Context, composeFile string) error {
	_, err := c.run(ctx, composeFile, "down")
	return err
}

// Restart restarts the named services (all when none given).
func (c *Compose) Restart(ctx context.Context, composeFile string, services ...string) error {
	args := append([]string{"restart"}, services...)
	_, err := c.run(ctx, composeFile, args...)
	return err
}

// Container is one entry from compose ps.
type Container struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Status  string `json:"Status"`
	Image   string `json:"Image"`
}

// List returns the stack's containers. Compose emits one JSON object
// per line.
func (c *Compose) List(ctx context.Context, composeFile string) ([]Container, error) {
	out, err := c.run(ctx, composeFile, "ps", "--all", "--format", "json")
	if err != nil {
		return nil, err
	}
	var containers []Container
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ct Container
		if err := json.Unmarshal(line, &ct); err != nil {
			continue
		}
		containers = append(containers, ct)
	}
	return containers, nil
}
