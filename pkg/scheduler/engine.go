package scheduler

import (
	"context"
	"sync"
	"time"

	"vkteamsbot/internal/logx"
	"vkteamsbot/pkg/botapi"
	"vkteamsbot/pkg/metrics"
)

// EngineConfig bounds the engine's concurrency and per-task timeout
// (spec §4.4).
type EngineConfig struct {
	MaxConcurrentTasks  int
	DefaultTaskTimeout  time.Duration
	ShutdownGracePeriod time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 10
	}
	if c.DefaultTaskTimeout <= 0 {
		c.DefaultTaskTimeout = 5 * time.Minute
	}
	if c.ShutdownGracePeriod <= 0 {
		c.ShutdownGracePeriod = 30 * time.Second
	}
	return c
}

// Engine is the scheduler's driver loop: it sleeps until the next task is
// due (or it is interrupted by a store mutation or shutdown), extracts
// ready tasks, and executes each under a bounded-concurrency semaphore
// (spec §4.4). It is adapted from the teacher's dispatch.Dispatcher driver
// goroutine, which sleeps on a select over a ticker and a signal channel
// rather than busy-polling.
type Engine struct {
	store  *Store
	api    botapi.API
	cfg    EngineConfig
	logger *logx.Logger
	metric *metrics.Registry
	clock  Clock

	// sem is a buffered-channel counting semaphore bounding how many task
	// executions run concurrently; the teacher's pkg/exec driver uses the
	// same buffered-channel idiom for bounding concurrent subprocesses
	// rather than reaching for golang.org/x/sync/semaphore.
	sem chan struct{}

	// interruptCh is a capacity-1, non-blocking signal channel: Add/Remove/
	// Enable/Disable send a best-effort wake-up so the driver loop
	// recomputes next_wakeup immediately instead of waiting out a stale
	// sleep. A full channel means a wake-up is already pending, so the send
	// is simply dropped (edge-triggered, matching the teacher's
	// stateChangeCh convention).
	interruptCh chan struct{}
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	activeRunners int32
	runnersMu     sync.Mutex
}

// NewEngine wires a Store and a botapi.API into a driver loop.
func NewEngine(store *Store, api botapi.API, cfg EngineConfig, reg *metrics.Registry, clock Clock) *Engine {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = realClock{}
	}
	e := &Engine{
		store:       store,
		api:         api,
		cfg:         cfg,
		logger:      logx.NewLogger("scheduler.engine"),
		metric:      reg,
		clock:       clock,
		sem:         make(chan struct{}, cfg.MaxConcurrentTasks),
		interruptCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	store.SetNotifier(e.Notify)
	return e
}

// Start launches the driver loop in a background goroutine. It is safe to
// call Start exactly once per Engine.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
}

// Notify wakes the driver loop so it can react to a just-added/removed/
// toggled task without waiting for its current sleep to elapse.
func (e *Engine) Notify() {
	select {
	case e.interruptCh <- struct{}{}:
	default:
	}
}

// RunOnce forces task id to execute immediately, bypassing its next_run
// eligibility, and records the outcome exactly as a normally-ticked run
// would (spec §6 CLI operator surface run_once(id)). Returns NotFound if
// id is unknown.
func (e *Engine) RunOnce(id TaskID) error {
	if _, err := e.store.RunOnce(id); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(id)
	}()
	return nil
}

// RunForever starts the driver loop and blocks the calling goroutine until
// Shutdown is called from elsewhere (spec §6 CLI operator surface
// run_forever()) — the blocking counterpart to Start, for a caller that
// wants the scheduler to be its main loop rather than a fire-and-forget
// background task.
func (e *Engine) RunForever() {
	e.Start()
	e.wg.Wait()
}

// Shutdown stops the driver loop and waits up to ShutdownGracePeriod for
// in-flight task executions to finish (spec §4.4, §6). Idempotent.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownGracePeriod):
		e.logger.Warn("shutdown grace period elapsed with executors still running")
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		now := e.clock.Now()
		wakeup, ok := e.store.NextWakeup(now)

		var timer *time.Timer
		var timerCh <-chan time.Time
		if ok {
			d := wakeup.Sub(now)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerCh = timer.C
		}

		select {
		case <-e.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-e.interruptCh:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timerCh:
			e.dispatchReady()
		case <-time.After(time.Minute):
			// No task is currently enabled; re-check periodically in case
			// NextWakeup's "no task" state only holds because the store is
			// momentarily empty between Add calls.
		}
	}
}

func (e *Engine) dispatchReady() {
	now := e.clock.Now()
	ready := e.store.ExtractReady(now)

	for _, id := range ready {
		select {
		case <-e.stopCh:
			return
		case e.sem <- struct{}{}:
		}

		e.wg.Add(1)
		e.runnersMu.Lock()
		e.activeRunners++
		e.metric.SetActiveExecutors(int(e.activeRunners))
		e.runnersMu.Unlock()

		go func(taskID TaskID) {
			defer func() {
				<-e.sem
				e.runnersMu.Lock()
				e.activeRunners--
				e.metric.SetActiveExecutors(int(e.activeRunners))
				e.runnersMu.Unlock()
				e.wg.Done()
			}()
			e.execute(taskID)
		}(id)
	}
}

// execute resolves one due task against the botapi.API under a per-task
// timeout and records the outcome, regardless of success or failure (spec
// §4.4: task failures never crash the engine or stall other tasks).
func (e *Engine) execute(id TaskID) {
	st, ok := e.store.Get(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DefaultTaskTimeout)
	defer cancel()

	err := e.runTask(ctx, st.Task)
	if err != nil {
		e.logger.Error("task %s (%s) failed: %v", id, st.Task.Kind, err)
	}

	if recErr := e.store.RecordExecution(id, e.clock.Now(), err == nil); recErr != nil {
		e.logger.Error("failed to record execution for task %s: %v", id, recErr)
	}
}

func (e *Engine) runTask(ctx context.Context, t Task) error {
	switch t.Kind {
	case TaskSendText:
		return e.api.SendText(ctx, t.ChatID, t.Message)
	case TaskSendFile:
		return e.api.SendFile(ctx, t.ChatID, t.FilePath)
	case TaskSendVoice:
		return e.api.SendVoice(ctx, t.ChatID, t.FilePath)
	case TaskSendAction:
		return e.api.SendAction(ctx, t.ChatID, t.Action)
	default:
		return errUnknownTaskKind
	}
}
