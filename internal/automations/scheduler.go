package automations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
)

// executionLogCap bounds the per-automation in-memory history.
const executionLogCap = 50

// ExecutionRecord is one run's outcome, kept newest-last.
type ExecutionRecord struct {
	At         string `json:"at"`
	OK         bool   `json:"ok"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// job pairs an automation with its overrun flag: a fire while the
// previous run is still executing is dropped, not queued.
type job struct {
	cfg      Config
	schedule string // canonical cron expression
	running  atomic.Bool
}

// Scheduler drives all automations off one minute-aligned ticker.
type Scheduler struct {
	dir    string
	runner *Runner
	gron   *gronx.Gronx

	mu   sync.RWMutex
	jobs map[string]*job // keyed by file name
	logs map[string][]ExecutionRecord
}

// NewScheduler creates a scheduler over the automations directory.
func NewScheduler(dir string, runner *Runner) *Scheduler {
	return &Scheduler{
		dir:    dir,
		runner: runner,
		gron:   gronx.New(),
		jobs:   make(map[string]*job),
		logs:   make(map[string][]ExecutionRecord),
	}
}

// Start loads the directory and ticks until ctx is cancelled. Ticks are
// aligned to minute boundaries so cron semantics hold.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(); err != nil {
		return err
	}

	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(next.Sub(now)):
		}
		s.tick(ctx, next)
	}
}

// Reload re-reads the automations directory, replacing the job set and
// clearing execution logs. Called at start and after any mutation.
func (s *Scheduler) Reload() error {
	configs, err := LoadDir(s.dir)
	if err != nil {
		return err
	}

	jobs := make(map[string]*job, len(configs))
	for _, cfg := range configs {
		expr, err := CanonicalSchedule(cfg.Schedule)
		if err != nil {
			// LoadDir already validated; belt and braces.
			continue
		}
		jobs[cfg.FileName] = &job{cfg: cfg, schedule: expr}
	}

	s.mu.Lock()
	s.jobs = jobs
	s.logs = make(map[string][]ExecutionRecord)
	s.mu.Unlock()

	slog.Info("scheduler.reload", "jobs", len(jobs))
	return nil
}

// tick fires every due, enabled job.
func (s *Scheduler) tick(ctx context.Context, at time.Time) {
	s.mu.RLock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !j.cfg.IsEnabled() {
			continue
		}
		ref := at
		if j.cfg.Timezone != "" {
			if loc, err := time.LoadLocation(j.cfg.Timezone); err == nil {
				ref = at.In(loc)
			}
		}
		ok, err := s.gron.IsDue(j.schedule, ref)
		if err != nil || !ok {
			continue
		}
		due = append(due, j)
	}
	s.mu.RUnlock()

	for _, j := range due {
		go s.fire(ctx, j)
	}
}

// fire runs one job with overrun protection.
func (s *Scheduler) fire(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		slog.Warn("scheduler.overrun_dropped", "automation", j.cfg.Name)
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	err := s.runner.Run(ctx, j.cfg.Action)
	record := ExecutionRecord{
		At:         start.UTC().Format(time.RFC3339),
		OK:         err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		record.Error = err.Error()
		slog.Error("scheduler.run", "automation", j.cfg.Name, "error", err)
	} else {
		slog.Info("scheduler.run", "automation", j.cfg.Name, "durationMs", record.DurationMs)
	}
	s.record(j.cfg.FileName, record)
}

func (s *Scheduler) record(fileName string, record ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.logs[fileName], record)
	if len(log) > executionLogCap {
		log = log[len(log)-executionLogCap:]
	}
	s.logs[fileName] = log
}

// RunNow executes an automation immediately, outside its schedule. The
// run still respects the overrun flag and lands in the execution log.
func (s *Scheduler) RunNow(ctx context.Context, fileName string) error {
	s.mu.RLock()
	j, ok := s.jobs[fileName]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("automation %s not found", fileName)
	}
	if !j.running.CompareAndSwap(false, true) {
		return fmt.Errorf("automation %s is already running", fileName)
	}
	defer j.running.Store(false)

	start := time.Now()
	err := s.runner.Run(ctx, j.cfg.Action)
	record := ExecutionRecord{
		At:         start.UTC().Format(time.RFC3339),
		OK:         err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	s.record(fileName, record)
	return err
}

// List returns the loaded automations, sorted by file name.
func (s *Scheduler) List() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	configs := make([]Config, 0, len(s.jobs))
	for _, j := range s.jobs {
		configs = append(configs, j.cfg)
	}
	sortConfigs(configs)
	return configs
}

// Get returns one automation by file name.
func (s *Scheduler) Get(fileName string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[fileName]
	if !ok {
		return Config{}, false
	}
	return j.cfg, true
}

// Log returns the execution history for an automation, oldest first.
func (s *Scheduler) Log(fileName string) []ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExecutionRecord(nil), s.logs[fileName]...)
}

func sortConfigs(configs []Config) {
	sort.Slice(configs, func(i, j int) bool { return configs[i].FileName < configs[j].FileName })
}
