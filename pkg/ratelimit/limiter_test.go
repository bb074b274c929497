package ratelimit

import (
	"testing"
	"time"
)

func TestCheckLazilyCreatesBucketAtFullCapacity(t *testing.T) {
	l := New(Config{Capacity: 5, RefillPerTick: 5, TickPeriod: time.Hour})
	defer l.Shutdown()

	if _, ok := l.AvailableTokens("A"); ok {
		t.Fatal("bucket should not exist before first Check")
	}
	if !l.Check("A") {
		t.Fatal("first check for a new chat should succeed")
	}
	tokens, ok := l.AvailableTokens("A")
	if !ok || tokens != 4 {
		t.Fatalf("tokens = %d, ok = %v; want 4, true", tokens, ok)
	}
}

// TestRateLimitCeiling mirrors spec.md scenario 5 on a shorter tick:
// capacity=5, refill=5 every 50ms; 20 rapid checks should allow exactly 5;
// after refill ticks, 5 more.
func TestRateLimitCeiling(t *testing.T) {
	l := New(Config{Capacity: 5, RefillPerTick: 5, TickPeriod: 50 * time.Millisecond})
	defer l.Shutdown()

	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Check("A") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("first burst allowed = %d, want 5", allowed)
	}

	time.Sleep(120 * time.Millisecond)

	allowed = 0
	for i := 0; i < 20; i++ {
		if l.Check("A") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("second burst allowed = %d, want 5", allowed)
	}
}

func TestCheckWithPriorityDrawsFromReservedPoolWhenMainExhausted(t *testing.T) {
	l := New(Config{
		Capacity: 1, RefillPerTick: 0, TickPeriod: time.Hour,
		HighPriorityThreshold: 5, PriorityPoolCapacity: 1,
	})
	defer l.Shutdown()

	if !l.Check("A") {
		t.Fatal("first check should consume the only main token")
	}
	if l.Check("A") {
		t.Fatal("second low-priority check should be denied, main bucket empty")
	}
	if !l.CheckWithPriority("A", 9) {
		t.Fatal("high priority check should draw from the reserved pool")
	}
	if l.CheckWithPriority("A", 9) {
		t.Fatal("reserved pool should now be empty too")
	}
}

func TestGlobalStatsAggregateAcrossChats(t *testing.T) {
	l := New(Config{Capacity: 1, RefillPerTick: 0, TickPeriod: time.Hour})
	defer l.Shutdown()

	l.Check("A")
	l.Check("A")
	l.Check("B")

	stats := l.GlobalStats()
	if stats.Total != 3 {
		t.Fatalf("total = %d, want 3", stats.Total)
	}
	if stats.Allowed != 2 {
		t.Fatalf("allowed = %d, want 2", stats.Allowed)
	}
	if stats.RateLimited != 1 {
		t.Fatalf("rateLimited = %d, want 1", stats.RateLimited)
	}
	if stats.Buckets != 2 {
		t.Fatalf("buckets = %d, want 2", stats.Buckets)
	}
}

func TestCleanupEvictsIdleBuckets(t *testing.T) {
	l := New(Config{Capacity: 1, RefillPerTick: 1, TickPeriod: time.Hour, IdleTimeout: 10 * time.Millisecond})
	defer l.Shutdown()

	l.Check("A")
	time.Sleep(30 * time.Millisecond)
	l.cleanupOnce()

	if _, ok := l.AvailableTokens("A"); ok {
		t.Fatal("idle bucket should have been evicted")
	}
	if got := l.GlobalStats().Buckets; got != 0 {
		t.Fatalf("bucket count = %d, want 0 after eviction", got)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	l := New(Config{Capacity: 1, RefillPerTick: 1, TickPeriod: time.Millisecond})
	l.Check("A")
	l.Shutdown()
	l.Shutdown() // must not panic or block
}

func TestShutdownClearsBucketsAndDefaultModeRecreates(t *testing.T) {
	l := New(Config{Capacity: 3, RefillPerTick: 3, TickPeriod: time.Hour})
	l.Check("A")
	l.Shutdown()

	if got := l.GlobalStats().Buckets; got != 0 {
		t.Fatalf("bucket count after shutdown = %d, want 0", got)
	}
	// Default mode (PermanentShutdown=false) re-creates buckets lazily.
	if !l.Check("A") {
		t.Fatal("check after shutdown should succeed and re-create the bucket in default mode")
	}
}

func TestPermanentShutdownRejectsFutureChecks(t *testing.T) {
	l := New(Config{Capacity: 3, RefillPerTick: 3, TickPeriod: time.Hour, PermanentShutdown: true})
	l.Check("A")
	l.Shutdown()

	if l.Check("A") {
		t.Fatal("check after permanent shutdown should return false")
	}
	if _, ok := l.AvailableTokens("A"); ok {
		t.Fatal("permanent shutdown should not re-create buckets")
	}
}
