package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
)

// SendReceipt is returned by Send.
type SendReceipt struct {
	MsgHash common.Hash     `json:"msgHash"`
	Message message.Message `json:"message"`
}

// Send escrows value and fee from caller, raises the sent signal and returns
// the message identifier. msg.From is overwritten with caller.
func (b *Bridge) Send(ctx context.Context, caller common.Address, msg message.Message) (SendReceipt, error) {
	if b.reentrant(ctx) {
		return SendReceipt{}, ErrReentrantCall
	}

	msg = msg.Clone()
	msg.From = caller
	if msg.SrcChainID != b.chain.ID() {
		return SendReceipt{}, fmt.Errorf("%w: source chain %d, local chain %d", ErrWrongChain, msg.SrcChainID, b.chain.ID())
	}
	if err := msg.Validate(); err != nil {
		return SendReceipt{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	h := msg.Hash()

	err := b.chain.Execute(ctx, func(ctx context.Context) error {
		_, custodyAddr, err := b.custody(ctx)
		if err != nil {
			return err
		}
		if err := b.chain.Call(ctx, chain.Call{
			From:  caller,
			To:    custodyAddr,
			Value: msg.EscrowAmount(),
		}); err != nil {
			return fmt.Errorf("escrow: %w", err)
		}
		if err := b.signals.Raise(ctx, message.SentSignal(h)); err != nil {
			return err
		}

		sent := msg.Clone()
		traceID := events.TraceIDFrom(ctx)
		b.chain.OnCommit(ctx, func() {
			b.metrics.RecordMessageSent(b.chain.ID())
			events.NewEvent(events.EventMessageSent).
				Chain(b.chain.ID()).
				Component("bridge").
				MsgHash(h.Hex()).
				Signal(message.SentSignal(h).Hex()).
				Msg(sent).
				MetadataUint("dest_chain_id", sent.DestChainID).
				TraceID(traceID).
				LogTo(b.events)
			b.log.WithFields(map[string]interface{}{
				"msg_hash": h.Hex(),
				"dest":     sent.DestChainID,
				"value":    sent.ValueOrZero().String(),
			}).Info("message sent")
		})
		return nil
	})
	if err != nil {
		return SendReceipt{}, err
	}
	return SendReceipt{MsgHash: h, Message: msg.Clone()}, nil
}
