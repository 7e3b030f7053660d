package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

// Process delivers msg on its destination chain. With checkProof set, the
// proof must show the sent signal raised on the source chain. The target's
// failure is not an error: the message becomes RETRIABLE.
//
// The fee is paid to caller on the first Process of a message only.
func (b *Bridge) Process(ctx context.Context, caller common.Address, msg message.Message, proof []byte, checkProof bool) (state.Status, error) {
	if b.reentrant(ctx) {
		return state.StatusNew, ErrReentrantCall
	}
	if msg.DestChainID != b.chain.ID() {
		return state.StatusNew, fmt.Errorf("%w: destination chain %d, local chain %d", ErrWrongChain, msg.DestChainID, b.chain.ID())
	}
	if err := msg.Validate(); err != nil {
		return state.StatusNew, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	msg = msg.Clone()
	h := msg.Hash()

	var next state.Status
	err := b.chain.Execute(ctx, func(ctx context.Context) error {
		prev, err := b.store.GetStatus(ctx, h)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if prev.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyProcessed, h.Hex(), prev)
		}

		if checkProof {
			ok, err := b.signals.IsRaisedRemotely(ctx, message.SentSignal(h), msg.SrcChainID, proof)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrProofInvalid, err)
			}
			if !ok {
				return ErrProofInvalid
			}
		}

		r, _, err := b.custody(ctx)
		if err != nil {
			return err
		}
		delivered, err := b.dispatch(ctx, h, msg, "process")
		if err != nil {
			return err
		}

		next = state.StatusRetriable
		if delivered {
			next = state.StatusDone
		}
		if err := b.setStatus(ctx, h, prev, next); err != nil {
			return err
		}
		if prev == state.StatusNew {
			if err := b.release(ctx, r, caller, msg.FeeOrZero()); err != nil {
				return fmt.Errorf("pay fee: %w", err)
			}
		}
		b.publishTransition(ctx, h, msg, prev, next)
		return nil
	})
	if err != nil {
		return state.StatusNew, err
	}
	return next, nil
}

// Retry re-dispatches a RETRIABLE message. A failing attempt with
// isLastAttempt set moves the message to FAILED and raises its failed signal.
func (b *Bridge) Retry(ctx context.Context, caller common.Address, msg message.Message, isLastAttempt bool) (state.Status, error) {
	if b.reentrant(ctx) {
		return state.StatusNew, ErrReentrantCall
	}
	if msg.DestChainID != b.chain.ID() {
		return state.StatusNew, fmt.Errorf("%w: destination chain %d, local chain %d", ErrWrongChain, msg.DestChainID, b.chain.ID())
	}
	if err := msg.Validate(); err != nil {
		return state.StatusNew, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	msg = msg.Clone()
	h := msg.Hash()

	var next state.Status
	err := b.chain.Execute(ctx, func(ctx context.Context) error {
		prev, err := b.store.GetStatus(ctx, h)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if !prev.CanRetry() {
			return fmt.Errorf("%w: %s is %s", ErrNotRetriable, h.Hex(), prev)
		}

		delivered, err := b.dispatch(ctx, h, msg, "retry")
		if err != nil {
			return err
		}

		switch {
		case delivered:
			next = state.StatusDone
		case isLastAttempt:
			next = state.StatusFailed
		default:
			next = state.StatusRetriable
		}
		if err := b.setStatus(ctx, h, prev, next); err != nil {
			return err
		}
		if next == state.StatusFailed {
			if err := b.signals.Raise(ctx, message.FailedSignal(h)); err != nil {
				return err
			}
		}

		traceID := events.TraceIDFrom(ctx)
		b.chain.OnCommit(ctx, func() {
			events.NewEvent(events.EventMessageRetried).
				Chain(b.chain.ID()).
				Component("bridge").
				MsgHash(h.Hex()).
				Status(next).
				Metadata("caller", caller.Hex()).
				Metadata("last_attempt", fmt.Sprint(isLastAttempt)).
				TraceID(traceID).
				LogTo(b.events)
		})
		b.publishTransition(ctx, h, msg, prev, next)
		return nil
	})
	if err != nil {
		return state.StatusNew, err
	}
	return next, nil
}

// dispatch releases the message value to the bridge and calls the target with
// it. It reports whether the call succeeded. On failure the value goes back
// into custody. Only custody failures are returned as errors.
func (b *Bridge) dispatch(ctx context.Context, h common.Hash, msg message.Message, operation string) (bool, error) {
	r, custodyAddr, err := b.custody(ctx)
	if err != nil {
		return false, err
	}
	value := msg.ValueOrZero()
	if err := b.release(ctx, r, b.address, value); err != nil {
		return false, fmt.Errorf("release value: %w", err)
	}

	dctx, leave := b.enter(ctx, Context{MsgHash: h, SrcChainID: msg.SrcChainID, From: msg.From})
	start := time.Now()
	callErr := b.chain.Call(dctx, chain.Call{
		From:     b.address,
		To:       msg.To,
		Value:    value,
		Data:     msg.Data,
		GasLimit: msg.GasLimit,
	})
	leave()
	elapsed := time.Since(start)

	result := metrics.DispatchOK
	switch {
	case callErr == nil:
	case errors.Is(callErr, chain.ErrOutOfGas):
		result = metrics.DispatchOutOfGas
	default:
		result = metrics.DispatchReverted
	}
	b.chain.OnCommit(ctx, func() {
		b.metrics.RecordDispatch(b.chain.ID(), operation, result, elapsed)
	})

	if callErr != nil {
		b.log.WithFields(map[string]interface{}{
			"msg_hash":  h.Hex(),
			"to":        msg.To.Hex(),
			"operation": operation,
			"result":    result,
		}).WithError(callErr).Warn("dispatch failed")
		if custodyAddr != b.address {
			if err := b.chain.Call(ctx, chain.Call{From: b.address, To: custodyAddr, Value: value}); err != nil {
				return false, fmt.Errorf("return value to custody: %w", err)
			}
		}
		return false, nil
	}
	return true, nil
}
