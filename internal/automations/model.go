// Package automations runs the scheduled jobs defined as YAML files in
// the state home. Each automation fires on a cron schedule and performs
// one action: an admin API call, an arbitrary HTTP request, or a child
// process.
package automations

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Action types.
const (
	ActionAPI   = "api"
	ActionHTTP  = "http"
	ActionShell = "shell"
)

// Action is the tagged variant an automation executes.
type Action struct {
	Type       string   `yaml:"type" json:"type"`
	Method     string   `yaml:"method,omitempty" json:"method,omitempty"`
	Path       string   `yaml:"path,omitempty" json:"path,omitempty"`
	URL        string   `yaml:"url,omitempty" json:"url,omitempty"`
	Body       string   `yaml:"body,omitempty" json:"body,omitempty"`
	Command    []string `yaml:"command,omitempty" json:"command,omitempty"`
	TimeoutSec int      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Config is one automation file.
type Config struct {
	FileName    string `yaml:"-" json:"fileName"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Schedule    string `yaml:"schedule" json:"schedule"`
	Timezone    string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Enabled     *bool  `yaml:"enabled,omitempty" json:"enabled"`
	Action      Action `yaml:"action" json:"action"`
	OnFailure   string `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
}

// IsEnabled treats a missing enabled field as true.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks the automation before it is accepted or scheduled.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := CanonicalSchedule(c.Schedule); err != nil {
		return err
	}
	switch c.Action.Type {
	case ActionAPI:
		if c.Action.Path == "" || !strings.HasPrefix(c.Action.Path, "/") {
			return fmt.Errorf("api action requires an absolute path")
		}
	case ActionHTTP:
		if c.Action.URL == "" {
			return fmt.Errorf("http action requires a url")
		}
	case ActionShell:
		if len(c.Action.Command) == 0 {
			return fmt.Errorf("shell action requires a command array")
		}
	default:
		return fmt.Errorf("unknown action type %q", c.Action.Type)
	}
	return nil
}

// cron presets resolve to canonical five-field expressions before
// validation so both forms are accepted everywhere.
var cronPresets = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

var cronFieldRe = regexp.MustCompile(`^[0-9*,/-]+$`)

type cronField struct {
	name     string
	min, max int
}

var cronFields = []cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// CanonicalSchedule resolves presets and validates the resulting
// five-field cron expression, structurally and via the cron library.
func CanonicalSchedule(schedule string) (string, error) {
	expr := strings.TrimSpace(schedule)
	if expr == "" {
		return "", fmt.Errorf("schedule is required")
	}
	if resolved, ok := cronPresets[expr]; ok {
		expr = resolved
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", fmt.Errorf("schedule must have 5 fields (minute hour day month weekday), got %d", len(fields))
	}
	for i, field := range fields {
		if err := validateCronField(field, cronFields[i]); err != nil {
			return "", err
		}
	}
	if !gronx.New().IsValid(expr) {
		return "", fmt.Errorf("schedule %q is not a valid cron expression", expr)
	}
	return expr, nil
}

// validateCronField checks one field: allowed characters, in-range
// values, ordered ranges, positive steps.
func validateCronField(field string, spec cronField) error {
	if !cronFieldRe.MatchString(field) {
		return fmt.Errorf("%s field %q contains invalid characters", spec.name, field)
	}
	for _, item := range strings.Split(field, ",") {
		base, step, hasStep := strings.Cut(item, "/")
		if hasStep {
			n, err := strconv.Atoi(step)
			if err != nil || n < 1 {
				return fmt.Errorf("%s field %q has invalid step", spec.name, field)
			}
		}
		if base == "*" {
			continue
		}
		lo, hi, isRange := strings.Cut(base, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return fmt.Errorf("%s field %q has invalid value", spec.name, field)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil {
				return fmt.Errorf("%s field %q has invalid range", spec.name, field)
			}
		}
		if a > b {
			return fmt.Errorf("%s field %q range is reversed", spec.name, field)
		}
		if a < spec.min || b > spec.max {
			return fmt.Errorf("%s field %q out of range %d-%d", spec.name, field, spec.min, spec.max)
		}
	}
	return nil
}

// LoadDir reads every *.yml automation in dir. Files that fail to parse
// or validate are logged and skipped so one bad file cannot take the
// scheduler down.
func LoadDir(dir string) ([]Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read automations dir: %w", err)
	}

	var configs []Config
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("automations.load", "file", name, "error", err)
			continue
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			slog.Warn("automations.parse", "file", name, "error", err)
			continue
		}
		cfg.FileName = name
		if err := cfg.Validate(); err != nil {
			slog.Warn("automations.invalid", "file", name, "error", err)
			continue
		}
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].FileName < configs[j].FileName })
	return configs, nil
}

// Save writes an automation file into dir.
func Save(dir string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal automation: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, cfg.FileName), data, 0o644)
}
