// Package bus bounds the concurrency of relay jobs. Each job kind (process,
// retry, recall) gets its own semaphore so a backlog of one kind cannot starve
// the others.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrLimitExceeded  = errors.New("concurrency limit exceeded")
	ErrAcquireTimeout = errors.New("acquire timeout")
	ErrLimiterClosed  = errors.New("limiter is closed")
)

// Kind is a relay job kind.
type Kind string

const (
	KindProcess Kind = "process"
	KindRetry   Kind = "retry"
	KindRecall  Kind = "recall"
)

// Kinds lists every relay job kind.
var Kinds = []Kind{KindProcess, KindRetry, KindRecall}

// LimiterConfig holds configuration for a limiter.
type LimiterConfig struct {
	// MaxConcurrent is the maximum number of concurrent jobs.
	// 0 means unlimited.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// AcquireTimeout is the maximum time to wait for a permit.
	// 0 means no timeout (wait until the context ends).
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`

	// QueueSize is the maximum number of waiting jobs.
	// 0 means unlimited queue.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultLimiterConfig returns the default per-kind configuration.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxConcurrent:  8,
		AcquireTimeout: 30 * time.Second,
		QueueSize:      1000,
	}
}

// Limiter is a counting semaphore with a bounded wait queue.
type Limiter struct {
	mu      sync.Mutex
	config  LimiterConfig
	permits chan struct{}
	done    chan struct{}
	waiting int32
	active  int32
	closed  bool

	// Stats
	totalAcquired int64
	totalReleased int64
	totalRejected int64
	totalTimeouts int64
}

// NewLimiter creates a new limiter.
func NewLimiter(config LimiterConfig) *Limiter {
	l := &Limiter{
		config: config,
		done:   make(chan struct{}),
	}

	if config.MaxConcurrent > 0 {
		l.permits = make(chan struct{}, config.MaxConcurrent)
		for i := 0; i < config.MaxConcurrent; i++ {
			l.permits <- struct{}{}
		}
	}

	return l
}

// Acquire blocks until a permit is available, the context ends, the acquire
// timeout elapses or the limiter is closed.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLimiterClosed
	}

	if l.config.MaxConcurrent <= 0 {
		l.mu.Unlock()
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return nil
	}

	if l.config.QueueSize > 0 && int(atomic.LoadInt32(&l.waiting)) >= l.config.QueueSize {
		l.mu.Unlock()
		atomic.AddInt64(&l.totalRejected, 1)
		return ErrLimitExceeded
	}

	atomic.AddInt32(&l.waiting, 1)
	l.mu.Unlock()

	defer atomic.AddInt32(&l.waiting, -1)

	var timeoutCh <-chan time.Time
	if l.config.AcquireTimeout > 0 {
		timer := time.NewTimer(l.config.AcquireTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-l.permits:
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return nil
	case <-l.done:
		return ErrLimiterClosed
	case <-ctx.Done():
		atomic.AddInt64(&l.totalTimeouts, 1)
		return ctx.Err()
	case <-timeoutCh:
		atomic.AddInt64(&l.totalTimeouts, 1)
		return ErrAcquireTimeout
	}
}

// TryAcquire attempts to acquire a permit without blocking.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}

	if l.config.MaxConcurrent <= 0 {
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return true
	}

	select {
	case <-l.permits:
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return true
	default:
		atomic.AddInt64(&l.totalRejected, 1)
		return false
	}
}

// Release returns a permit to the pool.
func (l *Limiter) Release() {
	atomic.AddInt32(&l.active, -1)
	atomic.AddInt64(&l.totalReleased, 1)

	if l.permits != nil {
		select {
		case l.permits <- struct{}{}:
		default:
			// unbalanced release
		}
	}
}

// Close wakes every waiter with ErrLimiterClosed and rejects later acquires.
// Permits already held may still be released.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

// Stats holds limiter statistics.
type Stats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalReleased int64 `json:"total_released"`
	TotalRejected int64 `json:"total_rejected"`
	TotalTimeouts int64 `json:"total_timeouts"`
}

// Stats returns current statistics.
func (l *Limiter) Stats() Stats {
	return Stats{
		MaxConcurrent: l.config.MaxConcurrent,
		Active:        int(atomic.LoadInt32(&l.active)),
		Waiting:       int(atomic.LoadInt32(&l.waiting)),
		TotalAcquired: atomic.LoadInt64(&l.totalAcquired),
		TotalReleased: atomic.LoadInt64(&l.totalReleased),
		TotalRejected: atomic.LoadInt64(&l.totalRejected),
		TotalTimeouts: atomic.LoadInt64(&l.totalTimeouts),
	}
}

// Active returns the number of currently held permits.
func (l *Limiter) Active() int {
	return int(atomic.LoadInt32(&l.active))
}

// Waiting returns the number of goroutines waiting for permits.
func (l *Limiter) Waiting() int {
	return int(atomic.LoadInt32(&l.waiting))
}

// Available returns the number of available permits, or -1 when unlimited.
func (l *Limiter) Available() int {
	if l.config.MaxConcurrent <= 0 {
		return -1
	}
	return l.config.MaxConcurrent - int(atomic.LoadInt32(&l.active))
}

// Observer receives limiter gauges after every acquire and release.
type Observer interface {
	RecordRelayInFlight(kind string, count int)
	RecordRelayQueueDepth(kind string, depth int)
}

// BusLimiter manages one limiter per job kind.
type BusLimiter struct {
	mu       sync.RWMutex
	limiters map[Kind]*Limiter
	configs  map[Kind]LimiterConfig
	observer Observer
}

// NewBusLimiter creates a new limiter set.
func NewBusLimiter() *BusLimiter {
	return &BusLimiter{
		limiters: make(map[Kind]*Limiter),
		configs:  make(map[Kind]LimiterConfig),
	}
}

// SetObserver installs an observer for in-flight and queue gauges.
func (bl *BusLimiter) SetObserver(o Observer) {
	bl.mu.Lock()
	bl.observer = o
	bl.mu.Unlock()
}

// Configure sets the configuration for a job kind.
func (bl *BusLimiter) Configure(kind Kind, config LimiterConfig) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	if existing, ok := bl.limiters[kind]; ok {
		existing.Close()
	}

	bl.configs[kind] = config
	bl.limiters[kind] = NewLimiter(config)
}

func (bl *BusLimiter) get(kind Kind) (*Limiter, Observer) {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return bl.limiters[kind], bl.observer
}

func observe(o Observer, kind Kind, l *Limiter) {
	if o == nil || l == nil {
		return
	}
	o.RecordRelayInFlight(string(kind), l.Active())
	o.RecordRelayQueueDepth(string(kind), l.Waiting())
}

// Acquire acquires a permit for the job kind. Unconfigured kinds are unlimited.
func (bl *BusLimiter) Acquire(ctx context.Context, kind Kind) error {
	limiter, obs := bl.get(kind)
	if limiter == nil {
		return nil
	}
	err := limiter.Acquire(ctx)
	observe(obs, kind, limiter)
	return err
}

// TryAcquire attempts to acquire a permit without blocking.
func (bl *BusLimiter) TryAcquire(kind Kind) bool {
	limiter, obs := bl.get(kind)
	if limiter == nil {
		return true
	}
	ok := limiter.TryAcquire()
	observe(obs, kind, limiter)
	return ok
}

// Release releases a permit for the job kind.
func (bl *BusLimiter) Release(kind Kind) {
	limiter, obs := bl.get(kind)
	if limiter != nil {
		limiter.Release()
		observe(obs, kind, limiter)
	}
}

// Do runs fn while holding a permit for kind.
func (bl *BusLimiter) Do(ctx context.Context, kind Kind, fn func(context.Context) error) error {
	g, err := NewGuard(ctx, bl, kind)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// Stats returns statistics for all job kinds.
func (bl *BusLimiter) Stats() map[Kind]Stats {
	bl.mu.RLock()
	defer bl.mu.RUnlock()

	result := make(map[Kind]Stats, len(bl.limiters))
	for kind, limiter := range bl.limiters {
		result[kind] = limiter.Stats()
	}
	return result
}

// StatsFor returns statistics for a specific job kind.
func (bl *BusLimiter) StatsFor(kind Kind) (Stats, bool) {
	limiter, _ := bl.get(kind)
	if limiter == nil {
		return Stats{}, false
	}
	return limiter.Stats(), true
}

// Close closes all limiters.
func (bl *BusLimiter) Close() {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	for _, limiter := range bl.limiters {
		limiter.Close()
	}
	bl.limiters = make(map[Kind]*Limiter)
}

// Guard wraps the acquire/release pattern.
type Guard struct {
	limiter  *BusLimiter
	kind     Kind
	acquired bool
}

// NewGuard acquires a permit and returns a guard holding it.
func NewGuard(ctx context.Context, bl *BusLimiter, kind Kind) (*Guard, error) {
	if err := bl.Acquire(ctx, kind); err != nil {
		return nil, err
	}
	return &Guard{
		limiter:  bl,
		kind:     kind,
		acquired: true,
	}, nil
}

// Release releases the permit. Safe to call multiple times.
func (g *Guard) Release() {
	if g != nil && g.acquired {
		g.limiter.Release(g.kind)
		g.acquired = false
	}
}

// TryGuard creates a guard using non-blocking acquire.
// Returns nil if acquire fails.
func TryGuard(bl *BusLimiter, kind Kind) *Guard {
	if bl.TryAcquire(kind) {
		return &Guard{
			limiter:  bl,
			kind:     kind,
			acquired: true,
		}
	}
	return nil
}
