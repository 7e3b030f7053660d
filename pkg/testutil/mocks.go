// Package testutil provides test contracts, a two-chain bridge harness and
// other shared fixtures.
package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/bridge"
	"github.com/R3E-Network/signal_bridge/internal/chain"
)

// ErrRejected is returned by rejecting targets.
var ErrRejected = errors.New("target rejected call")

// Target is a configurable destination contract. It records every call it
// accepts.
type Target struct {
	mu       sync.Mutex
	fail     error
	gas      uint64
	calls    []chain.Call
	received *big.Int

	// OnInvoke, if set, runs before the call is accepted. Its error fails the
	// call.
	OnInvoke func(ctx context.Context, call chain.Call) error
}

// NewAcceptor returns a target that accepts every call.
func NewAcceptor() *Target {
	return &Target{received: new(big.Int)}
}

// NewRejector returns a target that fails every call with err, or
// ErrRejected when err is nil.
func NewRejector(err error) *Target {
	if err == nil {
		err = ErrRejected
	}
	return &Target{fail: err, received: new(big.Int)}
}

// NewGasBurner returns a target that consumes gas on every call.
func NewGasBurner(gas uint64) *Target {
	return &Target{gas: gas, received: new(big.Int)}
}

// SetFailing makes subsequent calls fail with err. A nil err makes them
// succeed.
func (t *Target) SetFailing(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

// Invoke implements chain.Contract.
func (t *Target) Invoke(ctx context.Context, call chain.Call) error {
	t.mu.Lock()
	fail, gas, hook := t.fail, t.gas, t.OnInvoke
	t.mu.Unlock()

	if err := call.Gas.Consume(gas, "target"); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}
	if fail != nil {
		return fail
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
	if call.Value != nil {
		t.received = new(big.Int).Add(t.received, call.Value)
	}
	return nil
}

// Calls returns the accepted calls.
func (t *Target) Calls() []chain.Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]chain.Call(nil), t.calls...)
}

// Received returns the total value of accepted calls.
func (t *Target) Received() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.received)
}

// Originator is a source-side contract that takes recalled value through the
// recall callback.
type Originator struct {
	recalled *MemoryStore[common.Hash, message.Message]

	mu   sync.Mutex
	fail error

	// OnRecall, if set, runs inside the callback.
	OnRecall func(ctx context.Context, msg message.Message) error
}

// NewOriginator creates a recallable sender.
func NewOriginator() *Originator {
	return &Originator{recalled: NewMemoryStore[common.Hash, message.Message]()}
}

// SetFailing makes the callback fail with err.
func (o *Originator) SetFailing(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = err
}

// Invoke accepts plain value transfers.
func (o *Originator) Invoke(context.Context, chain.Call) error { return nil }

// SupportsInterface declares the recallable-sender capability.
func (o *Originator) SupportsInterface(id chain.InterfaceID) bool {
	return id == bridge.RecallableSenderInterfaceID
}

// OnMessageRecalled implements bridge.RecallableSender.
func (o *Originator) OnMessageRecalled(ctx context.Context, msg message.Message, msgHash common.Hash) error {
	o.mu.Lock()
	fail := o.fail
	o.mu.Unlock()
	if fail != nil {
		return fail
	}
	if o.OnRecall != nil {
		if err := o.OnRecall(ctx, msg); err != nil {
			return err
		}
	}
	o.recalled.Set(msgHash, msg)
	return nil
}

// Recalled returns the messages recalled through the callback.
func (o *Originator) Recalled() map[common.Hash]message.Message {
	return o.recalled.All()
}

// MemoryStore is a generic in-memory store for testing.
type MemoryStore[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore[K comparable, V any]() *MemoryStore[K, V] {
	return &MemoryStore[K, V]{items: make(map[K]V)}
}

// Set stores an item.
func (s *MemoryStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// Get retrieves an item.
func (s *MemoryStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// All returns all items.
func (s *MemoryStore[K, V]) All() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[K]V, len(s.items))
	for k, v := range s.items {
		result[k] = v
	}
	return result
}

// Count returns the number of items.
func (s *MemoryStore[K, V]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

var (
	_ chain.Contract           = (*Target)(nil)
	_ chain.Contract           = (*Originator)(nil)
	_ chain.InterfaceSupporter = (*Originator)(nil)
	_ bridge.RecallableSender  = (*Originator)(nil)
)
