package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
)

// RecallableSenderInterfaceID is declared by originator contracts that want
// recalled value delivered through OnMessageRecalled.
var RecallableSenderInterfaceID = chain.InterfaceID{0x6b, 0x1c, 0x3a, 0x9e}

// RecallableSender receives recalled messages. The recalled value has been
// credited to the contract before the call; returning an error aborts the
// recall.
type RecallableSender interface {
	OnMessageRecalled(ctx context.Context, msg message.Message, msgHash common.Hash) error
}

// refund delivers recalled value to the originator.
type refund interface {
	mode() string
	deliver(ctx context.Context, b *Bridge, h common.Hash, msg message.Message, value *big.Int) error
}

type callbackRefund struct{ handler RecallableSender }

func (callbackRefund) mode() string { return metrics.RecallCallback }

func (r callbackRefund) deliver(ctx context.Context, b *Bridge, h common.Hash, msg message.Message, value *big.Int) (err error) {
	if err := b.chain.Transfer(ctx, b.address, msg.From, value); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("recall callback panic: %v", p)
		}
	}()
	if err := r.handler.OnMessageRecalled(b.guard(ctx), msg.Clone(), h); err != nil {
		return fmt.Errorf("recall callback: %w", err)
	}
	return nil
}

type directRefund struct{}

func (directRefund) mode() string { return metrics.RecallDirect }

func (directRefund) deliver(ctx context.Context, b *Bridge, _ common.Hash, msg message.Message, value *big.Int) error {
	return b.chain.Transfer(ctx, b.address, msg.RefundAddress(), value)
}

// refundFor checks msg.From for the recallable-sender capability.
func (b *Bridge) refundFor(msg message.Message) refund {
	if !b.chain.SupportsInterface(msg.From, RecallableSenderInterfaceID) {
		return directRefund{}
	}
	contract, _ := b.chain.ContractAt(msg.From)
	handler, ok := contract.(RecallableSender)
	if !ok {
		return directRefund{}
	}
	return callbackRefund{handler: handler}
}

// Recall returns the escrowed value of a message that failed on its
// destination chain. With checkProof set, the proof must show the failed
// signal raised on the destination chain. The recalled flag is set before any
// value moves, and a message is recalled at most once.
func (b *Bridge) Recall(ctx context.Context, caller common.Address, msg message.Message, proof []byte, checkProof bool) error {
	if b.reentrant(ctx) {
		return ErrReentrantCall
	}
	if msg.SrcChainID != b.chain.ID() {
		return fmt.Errorf("%w: source chain %d, local chain %d", ErrWrongChain, msg.SrcChainID, b.chain.ID())
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	msg = msg.Clone()
	h := msg.Hash()

	return b.chain.Execute(ctx, func(ctx context.Context) error {
		recalled, err := b.store.IsRecalled(ctx, h)
		if err != nil {
			return fmt.Errorf("read recalled: %w", err)
		}
		if recalled {
			return fmt.Errorf("%w: %s", ErrAlreadyRecalled, h.Hex())
		}

		if checkProof {
			ok, err := b.signals.IsRaisedRemotely(ctx, message.FailedSignal(h), msg.DestChainID, proof)
			if err != nil {
				return fmt.Errorf("%w: %w: %w", ErrNotFailed, ErrProofInvalid, err)
			}
			if !ok {
				return ErrNotFailed
			}
		}

		first, err := b.store.MarkRecalled(ctx, h)
		if err != nil {
			return fmt.Errorf("mark recalled: %w", err)
		}
		if !first {
			return fmt.Errorf("%w: %s", ErrAlreadyRecalled, h.Hex())
		}
		b.chain.OnRevert(ctx, func() {
			if err := b.store.UnmarkRecalled(context.WithoutCancel(ctx), h); err != nil {
				b.log.WithError(err).WithField("msg_hash", h.Hex()).Error("restore recalled flag")
			}
		})

		r, _, err := b.custody(ctx)
		if err != nil {
			return err
		}
		value := msg.ValueOrZero()
		if err := b.release(ctx, r, b.address, value); err != nil {
			return fmt.Errorf("release value: %w", err)
		}

		policy := b.refundFor(msg)
		if err := policy.deliver(ctx, b, h, msg, value); err != nil {
			return err
		}

		traceID := events.TraceIDFrom(ctx)
		b.chain.OnCommit(ctx, func() {
			b.metrics.RecordRecall(b.chain.ID(), policy.mode())
			events.NewEvent(events.EventMessageRecalled).
				Chain(b.chain.ID()).
				Component("bridge").
				MsgHash(h.Hex()).
				Msg(msg).
				Metadata("mode", policy.mode()).
				Metadata("caller", caller.Hex()).
				TraceID(traceID).
				LogTo(b.events)
			b.log.WithFields(map[string]interface{}{
				"msg_hash": h.Hex(),
				"mode":     policy.mode(),
				"value":    value.String(),
			}).Info("message recalled")
		})
		return nil
	})
}
