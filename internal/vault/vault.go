// Package vault provides the escrow contract that holds value for in-flight
// messages.
//
// Value flow:
//  1. Send moves value and fee from the sender into the vault on the source chain.
//  2. Process releases value on the destination chain to the bridge, which
//     forwards it to the target; the fee goes to the processing relayer.
//  3. A dispatch that fails hands the value back to the vault.
//  4. Recall releases the escrowed value on the source chain for refund.
//
// Only authorized callers (the local bridge) may release.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

var (
	ErrUnauthorized = errors.New("caller not authorized to release")
	ErrNotVault     = errors.New("contract is not a vault")
)

// Releaser releases escrowed value.
type Releaser interface {
	ReleaseValue(ctx context.Context, caller, to common.Address, amount *big.Int) error
}

// Vault is an escrow contract deployed on a chain.
type Vault struct {
	chain   *chain.Chain
	address common.Address
	log     *logger.Logger
	metrics metrics.MetricsCollector

	mu         sync.RWMutex
	authorized map[common.Address]bool
	history    []Entry
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the vault logger.
func WithLogger(log *logger.Logger) Option {
	return func(v *Vault) { v.log = log }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(v *Vault) { v.metrics = m }
}

// Deploy creates a vault and installs it at addr on c.
func Deploy(c *chain.Chain, addr common.Address, opts ...Option) (*Vault, error) {
	v := &Vault{
		chain:      c,
		address:    addr,
		authorized: make(map[common.Address]bool),
		metrics:    metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.log == nil {
		v.log = logger.NewDefault("vault")
	}
	v.log = v.log.With("chain_id", c.ID())

	if err := c.Deploy(addr, v); err != nil {
		return nil, fmt.Errorf("deploy vault: %w", err)
	}
	return v, nil
}

// At returns the Releaser deployed at addr on c.
func At(c *chain.Chain, addr common.Address) (Releaser, error) {
	contract, ok := c.ContractAt(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no contract at %s", ErrNotVault, addr.Hex())
	}
	r, ok := contract.(Releaser)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotVault, addr.Hex())
	}
	return r, nil
}

// Address returns the vault address.
func (v *Vault) Address() common.Address { return v.address }

// Balance returns the value currently held.
func (v *Vault) Balance() *big.Int { return v.chain.BalanceOf(v.address) }

// Authorize grants or revokes release rights.
func (v *Vault) Authorize(addr common.Address, allowed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if allowed {
		v.authorized[addr] = true
	} else {
		delete(v.authorized, addr)
	}
}

// IsAuthorized reports whether addr may release.
func (v *Vault) IsAuthorized(addr common.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.authorized[addr]
}

// Invoke accepts deposits. The chain has already moved call.Value to the vault.
func (v *Vault) Invoke(ctx context.Context, call chain.Call) error {
	if call.Value == nil || call.Value.Sign() == 0 {
		return nil
	}
	v.record(ctx, EntryDeposit, call.From, common.Address{}, call.Value)
	return nil
}

// ReleaseValue sends amount from the vault to to. Only authorized callers may
// release; an unauthorized caller or an underfunded vault is an error.
func (v *Vault) ReleaseValue(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if !v.IsAuthorized(caller) {
		v.metrics.RecordVaultRelease(v.chain.ID(), amount, ErrUnauthorized)
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}

	err := v.chain.Execute(ctx, func(ctx context.Context) error {
		if err := v.chain.Transfer(ctx, v.address, to, amount); err != nil {
			return fmt.Errorf("vault release: %w", err)
		}
		v.record(ctx, EntryRelease, to, caller, amount)
		v.chain.OnCommit(ctx, func() {
			v.metrics.RecordVaultRelease(v.chain.ID(), amount, nil)
		})
		return nil
	})
	if err != nil {
		v.metrics.RecordVaultRelease(v.chain.ID(), amount, err)
		v.log.WithField("to", to.Hex()).WithError(err).Warn("release failed")
		return err
	}
	return nil
}

// History returns the most recent entries, newest first.
func (v *Vault) History(n int) []Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if n <= 0 || n > len(v.history) {
		n = len(v.history)
	}
	out := make([]Entry, 0, n)
	for i := len(v.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, v.history[i])
	}
	return out
}

// record appends an entry and removes it again if the transaction reverts.
func (v *Vault) record(ctx context.Context, kind string, counterparty, caller common.Address, amount *big.Int) {
	entry := Entry{
		ID:           uuid.New().String(),
		Kind:         kind,
		Counterparty: counterparty,
		Caller:       caller,
		Amount:       new(big.Int).Set(amount),
		BalanceAfter: v.chain.BalanceOf(v.address),
		CreatedAt:    time.Now().UTC(),
	}

	v.mu.Lock()
	v.history = append(v.history, entry)
	if len(v.history) > maxHistory {
		v.history = v.history[len(v.history)-maxHistory:]
	}
	v.mu.Unlock()

	v.chain.OnRevert(ctx, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i := len(v.history) - 1; i >= 0; i-- {
			if v.history[i].ID == entry.ID {
				v.history = append(v.history[:i], v.history[i+1:]...)
				return
			}
		}
	})

	v.log.WithFields(map[string]interface{}{
		"kind":         kind,
		"counterparty": counterparty.Hex(),
		"amount":       amount.String(),
	}).Debug("vault entry")
}

var _ Releaser = (*Vault)(nil)
var _ chain.Contract = (*Vault)(nil)
