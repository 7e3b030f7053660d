package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

// MessageStatus returns the destination-side status of msgHash.
func (b *Bridge) MessageStatus(ctx context.Context, msgHash common.Hash) (state.Status, error) {
	return b.store.GetStatus(ctx, msgHash)
}

// MessagesByStatus lists up to limit message identifiers in status.
func (b *Bridge) MessagesByStatus(ctx context.Context, status state.Status, limit int) ([]common.Hash, error) {
	return b.store.ListByStatus(ctx, status, limit)
}

// IsMessageRecalled reports the source-side recalled flag of msgHash.
func (b *Bridge) IsMessageRecalled(ctx context.Context, msgHash common.Hash) (bool, error) {
	return b.store.IsRecalled(ctx, msgHash)
}

// IsMessageSent reports whether msg was sent from this chain.
func (b *Bridge) IsMessageSent(ctx context.Context, msg message.Message) (bool, error) {
	if msg.SrcChainID != b.chain.ID() {
		return false, nil
	}
	h, err := msg.ID()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return b.signals.IsRaisedLocally(ctx, message.SentSignal(h))
}

// IsMessageReceived reports whether proof shows msg sent on its source chain.
func (b *Bridge) IsMessageReceived(ctx context.Context, msg message.Message, proof []byte) (bool, error) {
	if msg.DestChainID != b.chain.ID() {
		return false, nil
	}
	h, err := msg.ID()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return b.signals.IsRaisedRemotely(ctx, message.SentSignal(h), msg.SrcChainID, proof)
}

// IsMessageFailed reports whether proof shows msg failed on its destination
// chain.
func (b *Bridge) IsMessageFailed(ctx context.Context, msg message.Message, proof []byte) (bool, error) {
	if msg.SrcChainID != b.chain.ID() {
		return false, nil
	}
	h, err := msg.ID()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return b.signals.IsRaisedRemotely(ctx, message.FailedSignal(h), msg.DestChainID, proof)
}
