// Package storage defines the per-chain persistence interfaces of the bridge:
// raised signals, message statuses and recalled flags. Each Store instance
// holds the state of exactly one chain.
package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// SignalStore persists raised signals. Signals are never lowered in normal
// operation; RetractSignal exists only to compensate a reverted transaction.
type SignalStore interface {
	// RaiseSignal records signal. It reports whether the signal was newly raised.
	RaiseSignal(ctx context.Context, signal common.Hash) (bool, error)
	IsSignalRaised(ctx context.Context, signal common.Hash) (bool, error)
	RetractSignal(ctx context.Context, signal common.Hash) error
}

// StatusStore persists the destination-side status of messages.
type StatusStore interface {
	// GetStatus returns StatusNew for unknown messages.
	GetStatus(ctx context.Context, msgHash common.Hash) (state.Status, error)
	SetStatus(ctx context.Context, msgHash common.Hash, status state.Status) error
	// ListByStatus returns up to limit message identifiers currently in status.
	// StatusNew is never stored and always yields an empty list.
	ListByStatus(ctx context.Context, status state.Status, limit int) ([]common.Hash, error)
}

// RecallStore persists the source-side recalled flag.
type RecallStore interface {
	// MarkRecalled sets the flag. It reports false if it was already set.
	MarkRecalled(ctx context.Context, msgHash common.Hash) (bool, error)
	// UnmarkRecalled clears the flag; compensation for a reverted recall only.
	UnmarkRecalled(ctx context.Context, msgHash common.Hash) error
	IsRecalled(ctx context.Context, msgHash common.Hash) (bool, error)
}

// Store combines the per-chain bridge stores.
type Store interface {
	SignalStore
	StatusStore
	RecallStore
	Close() error
}
