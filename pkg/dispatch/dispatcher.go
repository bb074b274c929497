// Package dispatch implements the long-poll event dispatcher: it
// repeatedly calls botapi.API.GetEvents, persists what it receives, and
// fans each event out to a registered handler with bounded concurrency
// (spec §4.5). It is adapted from the teacher's pkg/dispatch.Dispatcher,
// which the same way separates its driver loop behind a pluggable
// runStrategy so production code runs on background goroutines while
// tests can step the loop synchronously and deterministically.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vkteamsbot/internal/logx"
	"vkteamsbot/pkg/botapi"
	"vkteamsbot/pkg/metrics"
	"vkteamsbot/pkg/storage"
)

// Handler processes one event. Handler errors are logged but never stop the dispatch loop or the rest of the batch (spec §4.5: one
// bad event must not block the others).
type Handler func(ctx context.Context, event botapi.Event) error

// Config bounds the dispatcher's polling and fan-out behavior.
type Config struct {
	PollTimeout   time.Duration
	BatchSize     int
	MaxParallel   int
	StrictCursor  bool // advance cursor only after every handler succeeds, rather than on receipt
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

// runStrategy defines how the dispatcher executes its poll loop: on
// background goroutines in production, or a single synchronous step at a
// time under test control.
type runStrategy interface {
	Run(d *Dispatcher, ctx context.Context)
}

// Dispatcher is the long-poll event loop: GetEvents -> advance cursor ->
// StoreEvent(s) -> Handler(s) by default, or GetEvents -> StoreEvent(s) ->
// Handler(s) -> advance cursor when StrictCursor is set (spec §4.5).
type Dispatcher struct {
	api     botapi.API
	store   storage.Storage
	handler Handler
	cfg     Config
	logger  *logx.Logger
	metric  *metrics.Registry

	cursor atomic.Uint64

	sem chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	runStrat runStrategy
}

// New builds a Dispatcher. handler may be nil if the caller only wants
// events persisted, not acted upon.
func New(api botapi.API, store storage.Storage, handler Handler, cfg Config, reg *metrics.Registry) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		api:      api,
		store:    store,
		handler:  handler,
		cfg:      cfg,
		logger:   logx.NewLogger("dispatch"),
		metric:   reg,
		sem:      make(chan struct{}, cfg.MaxParallel),
		stopCh:   make(chan struct{}),
		runStrat: &goroutineStrategy{},
	}
	return d
}

// Cursor returns the last event id the dispatcher has advanced past.
func (d *Dispatcher) Cursor() botapi.EventID {
	return botapi.EventID(d.cursor.Load())
}

// SeedCursor initializes the cursor from the remote API's persisted value,
// so a restart resumes rather than re-delivering already-seen events
// (spec §4.5, §9 cursor-advance-on-receipt default).
func (d *Dispatcher) SeedCursor(ctx context.Context) error {
	id, err := d.api.GetLastEventID(ctx)
	if err != nil {
		return err
	}
	d.cursor.Store(uint64(id))
	return nil
}

// Start launches the poll loop under the configured run strategy.
func (d *Dispatcher) Start(ctx context.Context) {
	d.runStrat.Run(d, ctx)
}

// Shutdown stops the poll loop and waits up to ShutdownGrace for any
// in-flight batch to finish (spec §6). Idempotent.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGrace):
		d.logger.Warn("shutdown grace period elapsed with event handlers still running")
	}
}

// PollOnce performs exactly one long-poll call, persists and dispatches
// whatever events it returns, and advances the cursor. It returns the
// number of events processed, making it directly usable from a
// synchronous test strategy or an external cron-style caller.
func (d *Dispatcher) PollOnce(ctx context.Context) (int, error) {
	pollCtx, cancel := context.WithTimeout(ctx, d.cfg.PollTimeout)
	defer cancel()

	result, err := d.api.GetEvents(pollCtx, d.Cursor(), d.cfg.PollTimeout)
	if err != nil {
		d.metric.IncPollError()
		return 0, err
	}
	if len(result.Events) == 0 {
		return 0, nil
	}

	d.metric.AddEvents(len(result.Events))

	// Default mode advances the cursor on receipt, before any handler runs.
	if !d.cfg.StrictCursor {
		d.advanceCursor(ctx, result.MaxEventID)
	}

	var chunks [][]botapi.Event
	for start := 0; start < len(result.Events); start += d.cfg.BatchSize {
		end := start + d.cfg.BatchSize
		if end > len(result.Events) {
			end = len(result.Events)
		}
		chunks = append(chunks, result.Events[start:end])
	}

	var wg sync.WaitGroup
	var failed atomic.Bool
	for _, chunk := range chunks {
		select {
		case <-d.stopCh:
			wg.Wait()
			return len(result.Events), nil
		case d.sem <- struct{}{}:
		}

		wg.Add(1)
		go func(chunk []botapi.Event) {
			defer func() {
				<-d.sem
				wg.Done()
			}()
			if !d.processChunk(ctx, chunk) {
				failed.Store(true)
			}
		}(chunk)
	}
	wg.Wait()

	// Strict mode advances only once every chunk of the batch succeeded.
	if d.cfg.StrictCursor && !failed.Load() {
		d.advanceCursor(ctx, result.MaxEventID)
	}

	return len(result.Events), nil
}

// processChunk hands every event in chunk to the handler strictly in
// order, within a single goroutine. Chunks themselves run concurrently,
// up to MaxParallel in flight at once (d.sem, acquired by the caller),
// but the events inside one chunk are never reordered or parallelized
// against each other (spec §4.5: order preserved within a chunk,
// unordered across chunks). It reports whether every event in the chunk
// was handled without error.
func (d *Dispatcher) processChunk(ctx context.Context, chunk []botapi.Event) bool {
	succeeded := true
	for _, ev := range chunk {
		if err := d.handleOne(ctx, ev); err != nil {
			succeeded = false
		}
	}
	return succeeded
}

func (d *Dispatcher) handleOne(ctx context.Context, ev botapi.Event) error {
	if d.store != nil {
		if err := d.store.StoreEvent(ctx, ev); err != nil {
			d.logger.Error("failed to store event %d: %v", ev.EventID, err)
			return err
		}
		if msg, ok := extractMessage(ev); ok {
			if err := d.store.StoreMessage(ctx, msg); err != nil {
				d.logger.Error("failed to store message for event %d: %v", ev.EventID, err)
				return err
			}
		}
	}
	if d.handler == nil {
		return nil
	}
	if err := d.handler(ctx, ev); err != nil {
		d.logger.Error("handler failed for event %d: %v", ev.EventID, err)
		return err
	}
	return nil
}

// extractMessage derives the auto-save adapter's typed message record from
// an incoming event (spec §4.5 auto-save adapter), so SearchMessages has
// something to search. Only new/edited messages carry chat text; every
// other event kind (membership, callback, pin) is stored only via
// StoreEvent, not as a message.
func extractMessage(ev botapi.Event) (storage.Message, bool) {
	if ev.Kind != botapi.EventNewMessage && ev.Kind != botapi.EventEdited {
		return storage.Message{}, false
	}
	if ev.Text == "" {
		return storage.Message{}, false
	}
	return storage.Message{
		ChatID:    ev.ChatID,
		Direction: storage.DirectionInbound,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
	}, true
}

func (d *Dispatcher) advanceCursor(ctx context.Context, id botapi.EventID) {
	if uint64(id) <= d.cursor.Load() {
		return
	}
	d.cursor.Store(uint64(id))
	d.metric.SetLastEventID(uint64(id))
	if err := d.api.SetLastEventID(ctx, id); err != nil {
		d.logger.Error("failed to persist cursor %d: %v", id, err)
	}
}
