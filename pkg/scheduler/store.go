package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"vkteamsbot/internal/coreerr"
	"vkteamsbot/internal/logx"
	"vkteamsbot/pkg/metrics"
)

// storeFile is the on-disk shape of the task store artifact: a self
// describing map of task_id -> ScheduledTask (spec §6).
type storeFile struct {
	Version int                       `json:"version"`
	Tasks   map[TaskID]*ScheduledTask `json:"tasks"`
}

const storeFileVersion = 1

// Clock abstracts wall-clock time so tests can shift the instant the store
// and engine see (the engine still sleeps on real timers), mirroring the teacher's pattern of injecting
// narrow interfaces (e.g. ShutdownHandler) for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the authoritative, crash-safe record of all scheduled tasks
// (spec §4.3). Writes serialize through a single mutex; readers take a
// brief read lock.
type Store struct {
	path string

	mu    sync.RWMutex
	tasks map[TaskID]*ScheduledTask

	clock   Clock
	logger  *logx.Logger
	metrics *metrics.Registry

	// notify, if set, is called after Add/Remove/Enable/Disable mutate the
	// store, so a driver loop (scheduler.Engine) wakes promptly instead of
	// waiting out its current sleep (spec §4.4 edge-triggered interrupt).
	notify func()
}

// SetNotifier registers fn to be called after every store mutation. nil is
// valid and simply disables the wake-up (the default).
func (s *Store) SetNotifier(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

func (s *Store) notifyLocked() {
	if s.notify != nil {
		s.notify()
	}
}

// NewStore opens (or creates) the task store at <dataDir>/scheduler_tasks.json.
func NewStore(dataDir string, clock Clock, reg *metrics.Registry) (*Store, error) {
	if clock == nil {
		clock = realClock{}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	s := &Store{
		path:    filepath.Join(dataDir, "scheduler_tasks.json"),
		tasks:   make(map[TaskID]*ScheduledTask),
		clock:   clock,
		logger:  logx.NewLogger("scheduler.store"),
		metrics: reg,
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read task store %s: %w", s.path, err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse task store %s: %w", s.path, err)
	}
	if f.Tasks != nil {
		s.tasks = f.Tasks
	}
	return nil
}

// persistLocked writes the whole map atomically (write-temp-then-rename),
// matching the task-store durability requirement in spec §4.3/§6. Caller
// must hold s.mu (read or write lock is fine; persist only reads s.tasks).
func (s *Store) persistLocked() error {
	f := storeFile{Version: storeFileVersion, Tasks: s.tasks}
	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task store: %w", err)
	}

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp task store %s: %w", tmp, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("write temp task store %s: %w", tmp, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync temp task store %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp task store %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp task store into place: %w", err)
	}
	return nil
}

// persistOrWarn attempts to persist and, on failure, logs a durability
// warning rather than rolling back the in-memory mutation (spec §4.4: "the
// in-memory mutation is retained... the next successful persistence
// subsumes it").
func (s *Store) persistOrWarn() {
	if err := s.persistLocked(); err != nil {
		s.logger.Error("durability warning: failed to persist task store: %v", err)
		s.metrics.IncDurabilityWarning()
	}
}

// Add allocates a task id, computes next_run, inserts, and persists.
func (s *Store) Add(task Task, schedule Schedule, maxRuns *uint64) (TaskID, error) {
	if err := task.Validate(); err != nil {
		return "", coreerr.Wrap(coreerr.InvalidInput, "invalid task", err)
	}
	if err := schedule.Validate(); err != nil {
		return "", err
	}

	now := s.clock.Now()
	nextRun, err := schedule.NextRun(now)
	if err != nil {
		return "", err
	}

	st := &ScheduledTask{
		ID:        TaskID(uuid.NewString()),
		Task:      task,
		Schedule:  schedule,
		CreatedAt: now,
		NextRun:   nextRun,
		Enabled:   true,
		MaxRuns:   maxRuns,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[st.ID] = st
	s.persistOrWarn()
	s.notifyLocked()
	return st.ID, nil
}

// Remove deletes a task and persists. Fails with NotFound if id is unknown.
func (s *Store) Remove(id TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return coreerr.Wrap(coreerr.NotFound, fmt.Sprintf("task %s", id), coreerr.ErrNotFound)
	}
	delete(s.tasks, id)
	s.persistOrWarn()
	s.notifyLocked()
	return nil
}

// Enable sets enabled=true and persists. Fails with NotFound if id is unknown.
func (s *Store) Enable(id TaskID) error {
	return s.setEnabled(id, true)
}

// Disable sets enabled=false and persists. Fails with NotFound if id is unknown.
func (s *Store) Disable(id TaskID) error {
	return s.setEnabled(id, false)
}

func (s *Store) setEnabled(id TaskID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return coreerr.Wrap(coreerr.NotFound, fmt.Sprintf("task %s", id), coreerr.ErrNotFound)
	}
	st.Enabled = enabled
	s.persistOrWarn()
	s.notifyLocked()
	return nil
}

// RunOnce returns a copy of the task for an out-of-schedule forced
// execution (spec §6 run_once(id)/CLI operator surface), bypassing its
// next_run eligibility check entirely. It does not itself mutate any
// schedule state; the caller executes the task and then calls
// RecordExecution exactly as a normally-ticked run would, which applies
// the usual Once/max_runs/next_run bookkeeping.
func (s *Store) RunOnce(id TaskID) (ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tasks[id]
	if !ok {
		return ScheduledTask{}, coreerr.Wrap(coreerr.NotFound, fmt.Sprintf("task %s", id), coreerr.ErrNotFound)
	}
	return *st, nil
}

// Get returns a copy of the task, if it exists.
func (s *Store) Get(id TaskID) (ScheduledTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tasks[id]
	if !ok {
		return ScheduledTask{}, false
	}
	return *st, true
}

// List returns a copy of every task in the store.
func (s *Store) List() []ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledTask, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, *st)
	}
	return out
}

// ExtractReady returns the ids of every task eligible to run at or before now.
func (s *Store) ExtractReady(now time.Time) []TaskID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []TaskID
	for id, st := range s.tasks {
		if st.Eligible(now) {
			ready = append(ready, id)
		}
	}
	return ready
}

// RecordExecution sets last_run=now, increments run_count, recomputes
// next_run, applies the Once/max_runs disable rules, and persists
// (spec §4.3). success is recorded for observability only; it does not
// change run_count or the disable rules (spec §4.4: a failed/timed-out
// task is not disabled solely for failing).
func (s *Store) RecordExecution(id TaskID, now time.Time, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return coreerr.Wrap(coreerr.NotFound, fmt.Sprintf("task %s", id), coreerr.ErrNotFound)
	}

	st.LastRun = &now
	st.RunCount++

	if st.Schedule.Kind == ScheduleOnce {
		st.Enabled = false
	} else if st.Enabled {
		next, err := st.Schedule.NextRun(st.baseInstant())
		if err != nil {
			s.logger.Error("failed to recompute next_run for task %s: %v", id, err)
		} else {
			st.NextRun = next
		}
	}

	if st.ReachedMaxRuns() {
		st.Enabled = false
	}

	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.metrics.IncTaskRun(outcome)

	s.persistOrWarn()
	return nil
}

// NextWakeup returns the minimum next_run over all enabled eligible tasks,
// or (zero, false) if no task is enabled.
func (s *Store) NextWakeup(now time.Time) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var min time.Time
	found := false
	for _, st := range s.tasks {
		if !st.Enabled || st.ReachedMaxRuns() {
			continue
		}
		if !found || st.NextRun.Before(min) {
			min = st.NextRun
			found = true
		}
	}
	_ = now
	return min, found
}
