package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"vkteamsbot/internal/logx"
	"vkteamsbot/pkg/metrics"
)

// ChatID identifies a chat or user addressed by the rate limiter.
type ChatID string

// GlobalStats aggregates counters across every bucket the limiter has ever owned.
type GlobalStats struct {
	Total       uint64
	Allowed     uint64
	RateLimited uint64
	Buckets     int
}

// Config tunes a Limiter's bucket defaults and bucket-map lifecycle.
type Config struct {
	Capacity      uint32
	RefillPerTick uint32
	TickPeriod    time.Duration

	// MaxBuckets triggers proactive cleanup once the map grows beyond it.
	MaxBuckets int
	// IdleTimeout is the age past which an idle bucket is evicted.
	IdleTimeout time.Duration

	// HighPriorityThreshold is the minimum priority that may draw from the
	// reserved priority pool when the main bucket is empty.
	HighPriorityThreshold int
	// PriorityPoolCapacity sizes the reserved pool bucket created per chat.
	PriorityPoolCapacity uint32

	// PermanentShutdown, once Shutdown() has been called, makes subsequent
	// Check calls return false instead of lazily re-creating buckets.
	PermanentShutdown bool

	Metrics *metrics.Registry
}

func (c Config) withDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = 20
	}
	if c.RefillPerTick == 0 {
		c.RefillPerTick = c.Capacity
	}
	if c.TickPeriod <= 0 {
		c.TickPeriod = time.Second
	}
	if c.MaxBuckets <= 0 {
		c.MaxBuckets = 10000
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.HighPriorityThreshold == 0 {
		c.HighPriorityThreshold = 8
	}
	if c.PriorityPoolCapacity == 0 {
		c.PriorityPoolCapacity = 2
	}
	return c
}

type entry struct {
	bucket     *Bucket
	priority   *Bucket // lazily created reserved pool, nil until first high-priority use
	priorityMu sync.Mutex
}

// Limiter maps per-chat buckets, owns their background refill lifetime, and
// exposes a non-blocking allow/deny primitive. The bucket map is a sync.Map
// for lock-free concurrent reads and insertions (spec §5: "concurrent
// readers and insertions via a concurrent map").
type Limiter struct {
	cfg    Config
	logger *logx.Logger

	buckets sync.Map // ChatID -> *entry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	shutdownFlag atomic.Bool
	bucketCount  atomic.Int64

	globalTotal       atomic.Uint64
	globalAllowed     atomic.Uint64
	globalRateLimited atomic.Uint64
}

// New constructs a Limiter and starts its background refill and cleanup goroutines.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		cfg:    cfg,
		logger: logx.NewLogger("ratelimit"),
		stopCh: make(chan struct{}),
	}
	l.wg.Add(2)
	go l.refillLoop()
	go l.cleanupLoop()
	return l
}

// Check obtains (creating if absent) the bucket for chatID, then attempts to
// consume one token. Non-blocking. Returns false without creating a bucket
// if the limiter is in permanent-shutdown mode and Shutdown has been called.
func (l *Limiter) Check(chatID ChatID) bool {
	return l.CheckWithPriority(chatID, 0)
}

// CheckWithPriority behaves like Check, except that when priority is at or
// above the configured HighPriorityThreshold and the main bucket is
// exhausted, it may draw from a small reserved pool bucket instead.
func (l *Limiter) CheckWithPriority(chatID ChatID, priority int) bool {
	if l.shutdownFlag.Load() && l.cfg.PermanentShutdown {
		return false
	}

	e := l.getOrCreate(chatID)
	now := time.Now().UnixNano()
	e.bucket.Touch(now)

	l.globalTotal.Add(1)
	if e.bucket.TryConsume() {
		l.globalAllowed.Add(1)
		l.cfg.Metrics.IncAllowed(string(chatID))
		return true
	}

	if priority >= l.cfg.HighPriorityThreshold {
		pool := l.priorityBucket(e, now)
		if pool.TryConsume() {
			l.globalAllowed.Add(1)
			l.cfg.Metrics.IncAllowed(string(chatID))
			return true
		}
	}

	l.globalRateLimited.Add(1)
	l.cfg.Metrics.IncRateLimited(string(chatID))
	return false
}

func (l *Limiter) priorityBucket(e *entry, now int64) *Bucket {
	e.priorityMu.Lock()
	defer e.priorityMu.Unlock()
	if e.priority == nil {
		e.priority = NewBucket(l.cfg.PriorityPoolCapacity, l.cfg.PriorityPoolCapacity, now)
	}
	return e.priority
}

func (l *Limiter) getOrCreate(chatID ChatID) *entry {
	if v, ok := l.buckets.Load(chatID); ok {
		return v.(*entry)
	}

	now := time.Now().UnixNano()
	fresh := &entry{bucket: NewBucket(l.cfg.Capacity, l.cfg.RefillPerTick, now)}
	actual, loaded := l.buckets.LoadOrStore(chatID, fresh)
	if !loaded {
		n := l.bucketCount.Add(1)
		l.cfg.Metrics.SetBucketCount(int(n))
		if int(n) > l.cfg.MaxBuckets {
			go l.cleanupOnce()
		}
	}
	return actual.(*entry)
}

// AvailableTokens returns the current token count for chatID, if the bucket exists.
func (l *Limiter) AvailableTokens(chatID ChatID) (uint32, bool) {
	v, ok := l.buckets.Load(chatID)
	if !ok {
		return 0, false
	}
	return v.(*entry).bucket.AvailableTokens(), true
}

// ChatStats returns the per-chat bucket's counters, if the bucket exists.
func (l *Limiter) ChatStats(chatID ChatID) (Stats, bool) {
	v, ok := l.buckets.Load(chatID)
	if !ok {
		return Stats{}, false
	}
	return v.(*entry).bucket.GetStats(), true
}

// GlobalStats returns counters aggregated across the limiter's lifetime.
func (l *Limiter) GlobalStats() GlobalStats {
	return GlobalStats{
		Total:       l.globalTotal.Load(),
		Allowed:     l.globalAllowed.Load(),
		RateLimited: l.globalRateLimited.Load(),
		Buckets:     int(l.bucketCount.Load()),
	}
}

func (l *Limiter) refillLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.buckets.Range(func(_, v any) bool {
				e := v.(*entry)
				e.bucket.Refill()
				e.priorityMu.Lock()
				if e.priority != nil {
					e.priority.Refill()
				}
				e.priorityMu.Unlock()
				return true
			})
		}
	}
}

func (l *Limiter) cleanupLoop() {
	defer l.wg.Done()
	interval := l.cfg.IdleTimeout / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.cleanupOnce()
		}
	}
}

// cleanupOnce evicts buckets idle for longer than IdleTimeout.
func (l *Limiter) cleanupOnce() {
	threshold := time.Now().Add(-l.cfg.IdleTimeout).UnixNano()
	evicted := 0
	l.buckets.Range(func(k, v any) bool {
		e := v.(*entry)
		if e.bucket.LastAccessUnixNano() < threshold {
			l.buckets.Delete(k)
			evicted++
		}
		return true
	})
	if evicted > 0 {
		n := l.bucketCount.Add(int64(-evicted))
		l.cfg.Metrics.SetBucketCount(int(n))
		l.logger.Debug("cleanup evicted %d idle buckets", evicted)
	}
}

// Shutdown signals all background goroutines to terminate and clears every
// bucket. Idempotent: a second call is a no-op. If Config.PermanentShutdown
// is set, subsequent Check calls return false instead of re-creating
// buckets; otherwise buckets are lazily re-created as usual.
func (l *Limiter) Shutdown() {
	l.stopOnce.Do(func() {
		l.shutdownFlag.Store(true)
		close(l.stopCh)
		l.wg.Wait()
		l.buckets.Range(func(k, _ any) bool {
			l.buckets.Delete(k)
			return true
		})
		l.bucketCount.Store(0)
		l.cfg.Metrics.SetBucketCount(0)
	})
}
