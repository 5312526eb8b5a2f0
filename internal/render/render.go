// Package render compiles the stack spec into the runnable artifact
// set: compose file, reverse-proxy config, per-service env files, and
// an integrity manifest. Rendering is pure and deterministic: the same
// spec and snippets produce byte-identical artifacts (the manifest
// timestamp is fixed once per run).
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openpalm/openpalm/internal/stack"
)

// Artifact file names.
const (
	ComposeFileName  = "docker-compose.yml"
	CaddyFileName    = "caddy.json"
	ManifestFileName = "manifest.json"
)

// ChannelSnippet is the per-channel input discovered from the config
// directory: a compose service fragment and a reverse-proxy route.
type ChannelSnippet struct {
	Compose string          // service block for channel-<name>
	Route   json.RawMessage // caddy route object, empty for socket channels
}

// Artifact is one rendered file.
type Artifact struct {
	Name string
	Data []byte
}

// ManifestEntry records one artifact's integrity data.
type ManifestEntry struct {
	Name        string `json:"name"`
	SHA256      string `json:"sha256"`
	GeneratedAt string `json:"generatedAt"`
	Bytes       int    `json:"bytes"`
}

// Manifest is the integrity record written alongside the artifacts.
type Manifest struct {
	GeneratedAt string          `json:"generatedAt"`
	Artifacts   []ManifestEntry `json:"artifacts"`
}

// Result is a full render run: every artifact plus its manifest.
type Result struct {
	Artifacts []Artifact
	Manifest  Manifest
}

// Get returns the named artifact's bytes, or nil.
func (r *Result) Get(name string) []byte {
	for _, a := range r.Artifacts {
		if a.Name == name {
			return a.Data
		}
	}
	return nil
}

// Renderer holds one render run's inputs.
type Renderer struct {
	Spec     *stack.Spec
	Snippets map[string]ChannelSnippet
	Now      time.Time // fixed per run; manifest timestamps derive from it
}

// Render produces the artifact set for the spec. Spec validation runs
// first so a bad spec never yields partial output.
func (r *Renderer) Render() (*Result, error) {
	if err := r.Spec.Validate(); err != nil {
		return nil, err
	}
	now := r.Now
	if now.IsZero() {
		now = time.Now()
	}
	generatedAt := now.UTC().Format(time.RFC3339)

	var artifacts []Artifact

	compose, err := renderCompose(r.Spec, r.Snippets)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, Artifact{Name: ComposeFileName, Data: compose})

	caddy, err := renderCaddy(r.Spec, r.Snippets)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, Artifact{Name: CaddyFileName, Data: caddy})

	artifacts = append(artifacts, renderEnvFiles(r.Spec)...)

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })

	manifest := Manifest{GeneratedAt: generatedAt}
	for _, a := range artifacts {
		sum := sha256.Sum256(a.Data)
		manifest.Artifacts = append(manifest.Artifacts, ManifestEntry{
			Name:        a.Name,
			SHA256:      hex.EncodeToString(sum[:]),
			GeneratedAt: generatedAt,
			Bytes:       len(a.Data),
		})
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}
	artifacts = append(artifacts, Artifact{Name: ManifestFileName, Data: append(manifestData, '\n')})

	return &Result{Artifacts: artifacts, Manifest: manifest}, nil
}

// renderEnvFiles derives the per-service env files. Bind addresses come
// from the access scope; channel env assignments come from the spec.
// Secret values never appear here, only in compose ${VAR} references.
func renderEnvFiles(spec *stack.Spec) []Artifact {
	bind := spec.BindAddress()

	var artifacts []Artifact
	writeEnv := func(name string, pairs [][2]string) {
		var b strings.Builder
		b.WriteString("# Generated by openpalm; do not edit. Regenerated on every apply.\n")
		for _, kv := range pairs {
			fmt.Fprintf(&b, "%s=%s\n", kv[0], kv[1])
		}
		artifacts = append(artifacts, Artifact{Name: name, Data: []byte(b.String())})
	}

	writeEnv("guardian.env", [][2]string{
		{"GUARDIAN_HOST", bind},
		{"ASSISTANT_URL", "http://assistant:4096"},
	})
	writeEnv("admin.env", [][2]string{
		{"ADMIN_HOST", bind},
		{"GUARDIAN_URL", "http://guardian:8710"},
	})

	for _, name := range spec.ChannelNames() {
		pairs := [][2]string{
			{"CHANNEL_" + strings.ToUpper(name) + "_HOST", bind},
			{"GUARDIAN_URL", "http://guardian:8710"},
		}
		env := spec.Channels[name].Env
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pairs = append(pairs, [2]string{k, env[k]})
		}
		writeEnv("channel-"+name+".env", pairs)
	}
	return artifacts
}

// DiscoverSnippets loads channel snippets from the config channels
// directory: <name>.yml compose fragments and <name>.caddy routes.
func DiscoverSnippets(channelsDir string) (map[string]ChannelSnippet, error) {
	snippets := make(map[string]ChannelSnippet)
	entries, err := os.ReadDir(channelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return snippets, nil
		}
		return nil, fmt.Errorf("discover channel snippets: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		name := strings.TrimSuffix(entry.Name(), ext)
		data, err := os.ReadFile(filepath.Join(channelsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read channel snippet %s: %w", entry.Name(), err)
		}
		snippet := snippets[name]
		switch ext {
		case ".yml", ".yaml":
			snippet.Compose = string(data)
		case ".caddy":
			snippet.Route = json.RawMessage(data)
		default:
			continue
		}
		snippets[name] = snippet
	}
	return snippets, nil
}
