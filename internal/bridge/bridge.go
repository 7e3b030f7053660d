// Package bridge implements the message lifecycle of one chain: Send and
// Recall on the source side, Process and Retry on the destination side.
//
// Every operation runs as one chain transaction. A rejected precondition, a
// failing vault release or a failing recall callback reverts the whole
// operation, including store writes. Dispatch failures of the target are not
// errors: they become status transitions.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/app/storage"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
	"github.com/R3E-Network/signal_bridge/internal/resolver"
	"github.com/R3E-Network/signal_bridge/internal/signal"
	"github.com/R3E-Network/signal_bridge/internal/vault"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

// Bridge is the bridge contract of one chain.
type Bridge struct {
	chain    *chain.Chain
	address  common.Address
	store    storage.Store
	signals  *signal.Service
	resolver resolver.Resolver
	events   events.EventLogger
	metrics  metrics.MetricsCollector
	log      *logger.Logger

	mu      sync.RWMutex
	current *Context
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithEventLogger sets the event log lifecycle events are published to.
func WithEventLogger(l events.EventLogger) Option {
	return func(b *Bridge) { b.events = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New creates the bridge and deploys it at address on c. The signal service
// must belong to the same chain.
func New(c *chain.Chain, address common.Address, store storage.Store, signals *signal.Service, res resolver.Resolver, opts ...Option) (*Bridge, error) {
	if signals.ChainID() != c.ID() {
		return nil, fmt.Errorf("bridge: signal registry of chain %d used on chain %d", signals.ChainID(), c.ID())
	}
	b := &Bridge{
		chain:    c,
		address:  address,
		store:    store,
		signals:  signals,
		resolver: res,
		events:   events.NoOpLogger{},
		metrics:  metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.NewDefault("bridge")
	}
	b.log = b.log.With("chain_id", c.ID())

	if err := c.Deploy(address, b); err != nil {
		return nil, fmt.Errorf("deploy bridge: %w", err)
	}
	return b, nil
}

// Address returns the bridge contract address.
func (b *Bridge) Address() common.Address { return b.address }

// ChainID returns the local chain ID.
func (b *Bridge) ChainID() uint64 { return b.chain.ID() }

// Chain returns the chain the bridge is deployed on.
func (b *Bridge) Chain() *chain.Chain { return b.chain }

// Signals returns the local signal registry.
func (b *Bridge) Signals() *signal.Service { return b.signals }

// Events returns the event log the bridge publishes to.
func (b *Bridge) Events() events.EventLogger { return b.events }

// Invoke accepts plain value transfers to the bridge address.
func (b *Bridge) Invoke(_ context.Context, call chain.Call) error {
	if len(call.Data) > 0 {
		return fmt.Errorf("bridge: direct calls are not supported")
	}
	return nil
}

// custody resolves the vault of the local chain. A nil Releaser means no vault
// is deployed and escrow is held by the bridge itself.
func (b *Bridge) custody(ctx context.Context) (vault.Releaser, common.Address, error) {
	addr, err := b.resolver.Resolve(ctx, b.chain.ID(), resolver.NameEtherVault, true)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("resolve vault: %w", err)
	}
	if addr == (common.Address{}) {
		return nil, b.address, nil
	}
	r, err := vault.At(b.chain, addr)
	if err != nil {
		return nil, common.Address{}, err
	}
	return r, addr, nil
}

// release moves amount out of custody to to. Without a vault the bridge pays
// from its own balance.
func (b *Bridge) release(ctx context.Context, r vault.Releaser, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if r == nil {
		if to == b.address {
			return nil
		}
		return b.chain.Transfer(ctx, b.address, to, amount)
	}
	return r.ReleaseValue(ctx, b.address, to, amount)
}

// setStatus writes status and registers its compensation.
func (b *Bridge) setStatus(ctx context.Context, h common.Hash, prev, next state.Status) error {
	if prev == next {
		return nil
	}
	if err := state.Transition(prev, next); err != nil {
		return err
	}
	if err := b.store.SetStatus(ctx, h, next); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	b.chain.OnRevert(ctx, func() {
		if err := b.store.SetStatus(context.WithoutCancel(ctx), h, prev); err != nil {
			b.log.WithError(err).WithField("msg_hash", h.Hex()).Error("restore status")
		}
	})
	return nil
}

// publishTransition registers the status change event and metric for commit.
func (b *Bridge) publishTransition(ctx context.Context, h common.Hash, msg message.Message, prev, next state.Status) {
	if prev == next {
		return
	}
	traceID := events.TraceIDFrom(ctx)
	b.chain.OnCommit(ctx, func() {
		b.metrics.RecordStatusTransition(b.chain.ID(), prev.String(), next.String())
		sev := events.SeverityInfo
		if next == state.StatusFailed {
			sev = events.SeverityWarning
		}
		events.NewEvent(events.EventMessageStatusChanged).
			Chain(b.chain.ID()).
			Component("bridge").
			MsgHash(h.Hex()).
			Msg(msg).
			Transition(prev, next).
			Severity(sev).
			TraceID(traceID).
			LogTo(b.events)
		b.log.WithFields(map[string]interface{}{
			"msg_hash": h.Hex(),
			"from":     prev.String(),
			"to":       next.String(),
		}).Info("message status changed")
	})
}

var _ chain.Contract = (*Bridge)(nil)
