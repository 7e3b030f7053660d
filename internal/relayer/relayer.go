// Package relayer drives messages through their lifecycle. It watches the
// event log of every bridge it serves, fetches proofs from the chain that
// raised the signal and submits the next step on the other chain:
//
//	message.sent on A          -> Process on B
//	RETRIABLE on B             -> Retry on B, on the retry schedule
//	FAILED on B (auto recall)  -> Recall on A
//
// A Process that fails for a reason that may pass (missing liquidity, an
// unavailable prover, limiter timeouts) is queued for redelivery and tried
// again by the retry sweep, at most MaxRetries times.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/bridge"
	"github.com/R3E-Network/signal_bridge/internal/engine/bus"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
	"github.com/R3E-Network/signal_bridge/internal/proof"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

// Config controls relayer behaviour.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled" env:"BRIDGE_RELAYER_ENABLED"`
	// Caller is the address submitting transactions and collecting fees.
	Caller string `yaml:"caller" json:"caller" env:"BRIDGE_RELAYER_CALLER"`
	// MaxRetries is the number of Retry calls per message; the last one is
	// submitted with isLastAttempt set.
	MaxRetries    int     `yaml:"max_retries" json:"max_retries" env:"BRIDGE_RELAYER_MAX_RETRIES"`
	RetrySchedule string  `yaml:"retry_schedule" json:"retry_schedule" env:"BRIDGE_RELAYER_RETRY_SCHEDULE"`
	AutoRecall    bool    `yaml:"auto_recall" json:"auto_recall" env:"BRIDGE_RELAYER_AUTO_RECALL"`
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second" env:"BRIDGE_RELAYER_RATE"`
	Burst         int     `yaml:"burst" json:"burst" env:"BRIDGE_RELAYER_BURST"`

	Limits bus.LimiterConfig `yaml:"limits" json:"limits"`
}

// DefaultConfig returns the devnet relayer configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Caller:        "0x0000000000000000000000000000000000000e1a",
		MaxRetries:    3,
		RetrySchedule: "@every 10s",
		AutoRecall:    true,
		RatePerSecond: 50,
		Burst:         10,
		Limits:        bus.DefaultLimiterConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("relayer: max_retries must be at least 1")
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("relayer: rate_per_second must be positive")
	}
	if !common.IsHexAddress(c.Caller) {
		return fmt.Errorf("relayer: invalid caller address %q", c.Caller)
	}
	if _, err := cron.ParseStandard(c.RetrySchedule); err != nil {
		return fmt.Errorf("relayer: retry_schedule: %w", err)
	}
	return nil
}

// Endpoint is one chain the relayer serves: its bridge and a prover for the
// signals raised on it.
type Endpoint struct {
	Bridge *bridge.Bridge
	Prover proof.Prover
}

var errNoEndpoint = errors.New("no endpoint for chain")

type pending struct {
	msg      message.Message
	attempts int
}

// Relayer relays messages between the bridges of its endpoints.
type Relayer struct {
	cfg       Config
	caller    common.Address
	endpoints map[uint64]Endpoint
	limiter   *bus.BusLimiter
	pacer     *rate.Limiter
	scheduler *cron.Cron
	metrics   metrics.MetricsCollector
	log       *logger.Logger

	mu        sync.Mutex
	retries   map[common.Hash]*pending
	redeliver map[common.Hash]*pending
	unsubs    []func()
	running   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Relayer.
type Option func(*Relayer)

func WithMetrics(m metrics.MetricsCollector) Option {
	return func(r *Relayer) { r.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Relayer) { r.log = l }
}

// New creates a relayer over endpoints.
func New(cfg Config, endpoints []Endpoint, opts ...Option) (*Relayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Relayer{
		cfg:       cfg,
		caller:    common.HexToAddress(cfg.Caller),
		endpoints: make(map[uint64]Endpoint, len(endpoints)),
		limiter:   bus.NewBusLimiter(),
		pacer:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1)),
		metrics:   metrics.NewNoOpCollector(),
		retries:   make(map[common.Hash]*pending),
		redeliver: make(map[common.Hash]*pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.NewDefault("relayer")
	}
	for _, ep := range endpoints {
		id := ep.Bridge.ChainID()
		if _, dup := r.endpoints[id]; dup {
			return nil, fmt.Errorf("relayer: duplicate endpoint for chain %d", id)
		}
		r.endpoints[id] = ep
	}
	r.limiter.SetObserver(r.metrics)
	for _, kind := range bus.Kinds {
		r.limiter.Configure(kind, cfg.Limits)
	}
	return r, nil
}

// Name implements system.Service.
func (r *Relayer) Name() string { return "relayer" }

// Start subscribes to every endpoint's events and starts the retry schedule.
func (r *Relayer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.scheduler = cron.New()
	if _, err := r.scheduler.AddFunc(r.cfg.RetrySchedule, func() { r.SweepRetries(r.ctx) }); err != nil {
		r.cancel()
		return fmt.Errorf("schedule retries: %w", err)
	}

	filter := events.ByType(events.EventMessageSent, events.EventMessageStatusChanged)
	for id, ep := range r.endpoints {
		unsub := ep.Bridge.Events().SubscribeFiltered(events.All(filter, events.ByChain(id)), r.handle)
		r.unsubs = append(r.unsubs, unsub)
	}
	r.scheduler.Start()
	r.running = true
	r.log.WithField("chains", len(r.endpoints)).Info("relayer started")
	return nil
}

// Stop unsubscribes, stops the schedule and waits for in-flight jobs or ctx.
func (r *Relayer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	schedDone := r.scheduler.Stop()
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-schedDone.Done()
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.limiter.Close()
	r.log.Info("relayer stopped")
	return nil
}

// Pending returns the number of messages awaiting retry.
func (r *Relayer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retries)
}

// Redeliveries returns the number of messages whose Process is queued to be
// submitted again.
func (r *Relayer) Redeliveries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.redeliver)
}

func (r *Relayer) handle(e events.Event) {
	if e.Msg == nil {
		return
	}
	msg := e.Msg.Clone()
	h := msg.Hash()

	switch e.Type {
	case events.EventMessageSent:
		r.spawn(func(ctx context.Context) { r.relayProcess(ctx, msg, h) })
	case events.EventMessageStatusChanged:
		if e.Status == nil {
			return
		}
		switch *e.Status {
		case state.StatusRetriable:
			r.mu.Lock()
			if _, ok := r.retries[h]; !ok {
				r.retries[h] = &pending{msg: msg}
			}
			r.mu.Unlock()
		case state.StatusDone:
			r.forget(h)
		case state.StatusFailed:
			r.forget(h)
			if r.cfg.AutoRecall {
				r.spawn(func(ctx context.Context) { r.relayRecall(ctx, msg, h) })
			}
		}
	}
}

func (r *Relayer) forget(h common.Hash) {
	r.mu.Lock()
	delete(r.retries, h)
	delete(r.redeliver, h)
	r.mu.Unlock()
}

func (r *Relayer) spawn(fn func(ctx context.Context)) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn(ctx)
	}()
}

func (r *Relayer) relayProcess(ctx context.Context, msg message.Message, h common.Hash) {
	if err := r.deliver(ctx, msg, h); err != nil && redeliverable(err) {
		r.mu.Lock()
		if _, ok := r.redeliver[h]; !ok {
			r.redeliver[h] = &pending{msg: msg}
		}
		r.mu.Unlock()
	}
}

// redeliverable reports whether a failed Process may succeed later.
func redeliverable(err error) bool {
	return !errors.Is(err, bridge.ErrInvalidMessage) &&
		!errors.Is(err, bridge.ErrWrongChain) &&
		!errors.Is(err, errNoEndpoint)
}

func (r *Relayer) deliver(ctx context.Context, msg message.Message, h common.Hash) error {
	src, dst, err := r.route(msg.SrcChainID, msg.DestChainID)
	if err != nil {
		r.fail(bus.KindProcess, msg.DestChainID, h, err)
		return err
	}
	return r.run(ctx, bus.KindProcess, msg.DestChainID, h, func(ctx context.Context) error {
		p, err := src.Prover.Prove(ctx, message.SentSignal(h))
		if err != nil {
			return fmt.Errorf("prove sent: %w", err)
		}
		_, err = dst.Bridge.Process(ctx, r.caller, msg, p, true)
		return err
	})
}

func (r *Relayer) relayRecall(ctx context.Context, msg message.Message, h common.Hash) {
	src, dst, err := r.route(msg.SrcChainID, msg.DestChainID)
	if err != nil {
		r.fail(bus.KindRecall, msg.SrcChainID, h, err)
		return
	}
	_ = r.run(ctx, bus.KindRecall, msg.SrcChainID, h, func(ctx context.Context) error {
		p, err := dst.Prover.Prove(ctx, message.FailedSignal(h))
		if err != nil {
			return fmt.Errorf("prove failed: %w", err)
		}
		return src.Bridge.Recall(ctx, r.caller, msg, p, true)
	})
}

// SweepRetries submits one Retry for every message awaiting retry and one
// Process for every message queued for redelivery, and waits for them to
// finish. A message's MaxRetries-th Retry is its last attempt; a redelivery is
// dropped after MaxRetries failed attempts.
func (r *Relayer) SweepRetries(ctx context.Context) {
	r.mu.Lock()
	batch := make([]*pending, 0, len(r.retries))
	for _, p := range r.retries {
		p.attempts++
		batch = append(batch, &pending{msg: p.msg, attempts: p.attempts})
	}
	redo := make([]*pending, 0, len(r.redeliver))
	for h, p := range r.redeliver {
		if p.attempts >= r.cfg.MaxRetries {
			delete(r.redeliver, h)
			r.log.WithField("msg_hash", h.Hex()).WithField("attempts", p.attempts).Warn("giving up redelivery")
			continue
		}
		p.attempts++
		redo = append(redo, &pending{msg: p.msg, attempts: p.attempts})
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range redo {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := p.msg.Hash()
			if err := r.deliver(ctx, p.msg, h); err == nil || !redeliverable(err) {
				r.mu.Lock()
				delete(r.redeliver, h)
				r.mu.Unlock()
			}
		}()
	}
	for _, p := range batch {
		p := p
		last := p.attempts >= r.cfg.MaxRetries
		h := p.msg.Hash()
		dst, ok := r.endpoints[p.msg.DestChainID]
		if !ok {
			r.fail(bus.KindRetry, p.msg.DestChainID, h, fmt.Errorf("%w: %d", errNoEndpoint, p.msg.DestChainID))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.run(ctx, bus.KindRetry, p.msg.DestChainID, h, func(ctx context.Context) error {
				_, err := dst.Bridge.Retry(ctx, r.caller, p.msg, last)
				if errors.Is(err, bridge.ErrNotRetriable) {
					r.forget(h)
				}
				return err
			})
		}()
	}
	wg.Wait()
}

func (r *Relayer) route(src, dst uint64) (Endpoint, Endpoint, error) {
	s, ok := r.endpoints[src]
	if !ok {
		return Endpoint{}, Endpoint{}, fmt.Errorf("%w: source %d", errNoEndpoint, src)
	}
	d, ok := r.endpoints[dst]
	if !ok {
		return Endpoint{}, Endpoint{}, fmt.Errorf("%w: destination %d", errNoEndpoint, dst)
	}
	return s, d, nil
}

// run paces and bounds a relay job and records its outcome. Rejections that
// mean another relayer got there first are not failures and return nil.
func (r *Relayer) run(ctx context.Context, kind bus.Kind, chainID uint64, h common.Hash, fn func(context.Context) error) error {
	ctx = events.WithTraceID(ctx, h.Hex())
	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := r.limiter.Do(ctx, kind, fn)
	if benign(err) {
		r.log.WithField("msg_hash", h.Hex()).WithField("kind", string(kind)).WithError(err).Debug("relay skipped")
		err = nil
	}
	r.metrics.RecordRelayJob(string(kind), time.Since(start), err)
	if err != nil {
		r.fail(kind, chainID, h, err)
	}
	return err
}

func benign(err error) bool {
	return errors.Is(err, bridge.ErrAlreadyProcessed) || errors.Is(err, bridge.ErrAlreadyRecalled)
}

func (r *Relayer) fail(kind bus.Kind, chainID uint64, h common.Hash, err error) {
	r.log.WithFields(map[string]interface{}{
		"kind":     string(kind),
		"chain_id": chainID,
		"msg_hash": h.Hex(),
	}).WithError(err).Warn("relay failed")

	ep, ok := r.endpoints[chainID]
	if !ok {
		return
	}
	events.NewEvent(events.EventRelayFailed).
		Chain(chainID).
		Component("relayer").
		MsgHash(h.Hex()).
		Severity(events.SeverityError).
		ErrorFrom(err).
		Metadata("kind", string(kind)).
		Metadata("code", bridge.Code(err)).
		LogTo(ep.Bridge.Events())
}
