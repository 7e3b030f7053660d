// Package signal implements the per-chain signal registry: write-once facts
// raised locally and checked remotely through a proof verifier.
package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/storage"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/internal/proof"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

// ErrProofUnverifiable wraps verifier errors: the proof could not be evaluated.
var ErrProofUnverifiable = errors.New("proof unverifiable")

// Service is the signal registry of one chain.
type Service struct {
	chain    *chain.Chain
	store    storage.SignalStore
	verifier proof.Verifier
	events   events.EventLogger
	metrics  metrics.MetricsCollector
	log      *logger.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithEventLogger(l events.EventLogger) Option {
	return func(s *Service) { s.events = l }
}

func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates the registry for c. verifier may be nil, in which case every
// remote check fails with ErrProofUnverifiable.
func New(c *chain.Chain, store storage.SignalStore, verifier proof.Verifier, opts ...Option) *Service {
	s := &Service{
		chain:    c,
		store:    store,
		verifier: verifier,
		events:   events.NoOpLogger{},
		metrics:  metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewDefault("signal")
	}
	s.log = s.log.With("chain_id", c.ID())
	return s
}

// ChainID returns the chain this registry belongs to.
func (s *Service) ChainID() uint64 { return s.chain.ID() }

// Raise marks signal as raised. Raising an already raised signal is a no-op.
// Inside a chain transaction the write is undone if the transaction reverts,
// and the event is published only once it commits.
func (s *Service) Raise(ctx context.Context, signal common.Hash) error {
	fresh, err := s.store.RaiseSignal(ctx, signal)
	if err != nil {
		return fmt.Errorf("raise signal %s: %w", signal.Hex(), err)
	}
	if !fresh {
		return nil
	}

	s.chain.OnRevert(ctx, func() {
		if err := s.store.RetractSignal(context.WithoutCancel(ctx), signal); err != nil {
			s.log.WithError(err).WithField("signal", signal.Hex()).Error("retract signal")
		}
	})
	traceID := events.TraceIDFrom(ctx)
	s.chain.OnCommit(ctx, func() {
		s.metrics.RecordSignalRaised(s.chain.ID())
		events.NewEvent(events.EventSignalRaised).
			Chain(s.chain.ID()).
			Component("signal").
			Signal(signal.Hex()).
			TraceID(traceID).
			LogTo(s.events)
		s.log.WithField("signal", signal.Hex()).Debug("signal raised")
	})
	return nil
}

// IsRaisedLocally reports whether signal was raised on this chain.
func (s *Service) IsRaisedLocally(ctx context.Context, signal common.Hash) (bool, error) {
	raised, err := s.store.IsSignalRaised(ctx, signal)
	if err != nil {
		return false, fmt.Errorf("read signal %s: %w", signal.Hex(), err)
	}
	return raised, nil
}

// IsRaisedRemotely asks the verifier whether signal was raised on
// originChainID. It does not retry; a verifier error is returned wrapped in
// ErrProofUnverifiable.
func (s *Service) IsRaisedRemotely(ctx context.Context, signal common.Hash, originChainID uint64, p []byte) (bool, error) {
	if s.verifier == nil {
		err := fmt.Errorf("%w: no verifier configured", ErrProofUnverifiable)
		s.metrics.RecordProofCheck(s.chain.ID(), originChainID, false, err)
		return false, err
	}
	ok, err := s.verifier.Verify(ctx, signal, originChainID, p)
	s.metrics.RecordProofCheck(s.chain.ID(), originChainID, ok, err)
	if err != nil {
		s.log.WithFields(map[string]interface{}{
			"signal": signal.Hex(),
			"origin": originChainID,
		}).WithError(err).Debug("proof check failed")
		return false, fmt.Errorf("%w: %w", ErrProofUnverifiable, err)
	}
	return ok, nil
}

var _ proof.LocalSignals = (*Service)(nil)
