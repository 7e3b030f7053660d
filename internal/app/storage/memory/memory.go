package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/storage"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is intended for tests and local devnets.
type Store struct {
	mu       sync.RWMutex
	closed   bool
	signals  map[common.Hash]struct{}
	statuses map[common.Hash]state.Status
	recalled map[common.Hash]struct{}
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		signals:  make(map[common.Hash]struct{}),
		statuses: make(map[common.Hash]state.Status),
		recalled: make(map[common.Hash]struct{}),
	}
}

// --- SignalStore -------------------------------------------------------------

func (s *Store) RaiseSignal(_ context.Context, signal common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	if _, ok := s.signals[signal]; ok {
		return false, nil
	}
	s.signals[signal] = struct{}{}
	return true, nil
}

func (s *Store) IsSignalRaised(_ context.Context, signal common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	_, ok := s.signals[signal]
	return ok, nil
}

func (s *Store) RetractSignal(_ context.Context, signal common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	delete(s.signals, signal)
	return nil
}

// --- StatusStore -------------------------------------------------------------

func (s *Store) GetStatus(_ context.Context, msgHash common.Hash) (state.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return state.StatusNew, storage.ErrClosed
	}
	return s.statuses[msgHash], nil
}

func (s *Store) SetStatus(_ context.Context, msgHash common.Hash, status state.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if status == state.StatusNew {
		delete(s.statuses, msgHash)
		return nil
	}
	s.statuses[msgHash] = status
	return nil
}

func (s *Store) ListByStatus(_ context.Context, status state.Status, limit int) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var out []common.Hash
	for h, st := range s.statuses {
		if st == status {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- RecallStore -------------------------------------------------------------

func (s *Store) MarkRecalled(_ context.Context, msgHash common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	if _, ok := s.recalled[msgHash]; ok {
		return false, nil
	}
	s.recalled[msgHash] = struct{}{}
	return true, nil
}

func (s *Store) UnmarkRecalled(_ context.Context, msgHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	delete(s.recalled, msgHash)
	return nil
}

func (s *Store) IsRecalled(_ context.Context, msgHash common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	_, ok := s.recalled[msgHash]
	return ok, nil
}

// Close marks the store closed. Further calls return storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
