// Package resolver maps (chain, name) pairs to contract addresses.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Well-known names.
const (
	NameBridge     = "bridge"
	NameEtherVault = "ether_vault"
)

// ErrNotResolved is returned when a name has no address and zero is not allowed.
var ErrNotResolved = errors.New("name not resolved")

// Resolver resolves a name on a chain to an address.
type Resolver interface {
	// Resolve returns the address registered for name on chainID. When nothing is
	// registered it returns the zero address if allowZero is set, and
	// ErrNotResolved otherwise.
	Resolve(ctx context.Context, chainID uint64, name string, allowZero bool) (common.Address, error)
}

type key struct {
	chainID uint64
	name    string
}

// AddressManager is an in-memory Resolver.
type AddressManager struct {
	mu    sync.RWMutex
	addrs map[key]common.Address
}

// NewAddressManager creates an empty AddressManager.
func NewAddressManager() *AddressManager {
	return &AddressManager{addrs: make(map[key]common.Address)}
}

// SetAddress registers addr for name on chainID. Setting the zero address
// removes the entry.
func (m *AddressManager) SetAddress(chainID uint64, name string, addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == (common.Address{}) {
		delete(m.addrs, key{chainID, name})
		return
	}
	m.addrs[key{chainID, name}] = addr
}

// Resolve implements Resolver.
func (m *AddressManager) Resolve(_ context.Context, chainID uint64, name string, allowZero bool) (common.Address, error) {
	m.mu.RLock()
	addr, ok := m.addrs[key{chainID, name}]
	m.mu.RUnlock()

	if ok {
		return addr, nil
	}
	if allowZero {
		return common.Address{}, nil
	}
	return common.Address{}, fmt.Errorf("%w: %q on chain %d", ErrNotResolved, name, chainID)
}
