package scheduler

import (
	"testing"
	"time"

	"vkteamsbot/pkg/botapi/fake"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestEngineRunsOnceTaskExactlyOnceThenDisables(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	id, err := store.Add(NewSendText("chat-1", "hi"), Once(clock.Now().Add(10*time.Millisecond)), nil)
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()
	defer engine.Shutdown()

	waitUntil(t, time.Second, func() bool { return api.CallCount("send_text") == 1 })

	time.Sleep(30 * time.Millisecond) // confirm it does not fire again
	if n := api.CallCount("send_text"); n != 1 {
		t.Fatalf("send_text called %d times, want exactly 1", n)
	}

	st, _ := store.Get(id)
	if st.Enabled {
		t.Error("once task should be disabled after its single run")
	}
	if st.RunCount != 1 {
		t.Errorf("run count = %d, want 1", st.RunCount)
	}
}

func TestEngineRunsIntervalTaskRepeatedly(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	period := 15 * time.Millisecond
	_, err = store.Add(NewSendText("chat-1", "tick"), Interval(period, clock.Now()), nil)
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()
	defer engine.Shutdown()

	waitUntil(t, 2*time.Second, func() bool { return api.CallCount("send_text") >= 3 })
}

func TestEngineRespectsMaxRunsCap(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	maxRuns := uint64(2)
	id, err := store.Add(NewSendText("chat-1", "capped"), Interval(10*time.Millisecond, clock.Now()), &maxRuns)
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()
	defer engine.Shutdown()

	waitUntil(t, time.Second, func() bool { return api.CallCount("send_text") == 2 })

	time.Sleep(50 * time.Millisecond)
	if n := api.CallCount("send_text"); n != 2 {
		t.Fatalf("send_text called %d times, want exactly 2 (max_runs cap)", n)
	}
	st, _ := store.Get(id)
	if st.Enabled {
		t.Error("task should disable itself once max_runs is reached")
	}
}

func TestEngineAddAfterStartWakesDriverPromptly(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()
	defer engine.Shutdown()

	// No tasks yet: the driver is parked on its idle re-check. Adding a
	// task that is due immediately and nudging it should not require
	// waiting out that idle interval.
	_, err = store.Add(NewSendText("chat-1", "fresh"), Once(clock.Now()), nil)
	if err != nil {
		t.Fatal(err)
	}
	engine.Notify()

	waitUntil(t, time.Second, func() bool { return api.CallCount("send_text") == 1 })
}

// TestStoreAddWakesDriverWithoutExplicitNotify exercises the wiring this
// test previously had to do by hand: Store.Add itself must wake the
// engine's driver loop (spec §4.4's edge-triggered interrupt), since
// NewEngine registers itself as the store's notifier.
func TestStoreAddWakesDriverWithoutExplicitNotify(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()
	defer engine.Shutdown()

	// Deliberately do NOT call engine.Notify(): Store.Add must wake the
	// driver on its own via the notifier NewEngine registered.
	if _, err := store.Add(NewSendText("chat-1", "unnotified"), Once(clock.Now()), nil); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, time.Second, func() bool { return api.CallCount("send_text") == 1 })
}

func TestEngineRunOnceForcesImmediateExecutionRegardlessOfNextRun(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	// Scheduled an hour in the future: under the normal driver loop this
	// would not fire for real minutes.
	id, err := store.Add(NewSendText("chat-1", "forced"), Once(clock.Now().Add(time.Hour)), nil)
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()
	defer engine.Shutdown()

	if err := engine.RunOnce(id); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return api.CallCount("send_text") == 1 })

	st, _ := store.Get(id)
	if st.Enabled {
		t.Error("forced run of a Once task should still disable it afterward, via the normal RecordExecution path")
	}
	if st.RunCount != 1 {
		t.Errorf("run count = %d, want 1", st.RunCount)
	}
}

func TestEngineRunOnceReturnsNotFoundForUnknownTask(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()
	defer engine.Shutdown()

	if err := engine.RunOnce("does-not-exist"); err == nil {
		t.Error("expected an error for an unknown task id")
	}
}

func TestEngineShutdownIsIdempotentAndStopsDispatch(t *testing.T) {
	clock := newFakeClock(time.Now())
	store, err := NewStore(t.TempDir(), clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	api := fake.New()

	engine := NewEngine(store, api, EngineConfig{MaxConcurrentTasks: 2}, nil, clock)
	engine.Start()

	engine.Shutdown()
	engine.Shutdown() // must not panic or block
}
