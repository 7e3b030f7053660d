package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceOf returns the native balance of addr.
func (c *Chain) BalanceOf(addr common.Address) *big.Int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Mint credits amount to addr out of thin air. Used for genesis allocation.
func (c *Chain) Mint(ctx context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return c.Execute(ctx, func(ctx context.Context) error {
		c.stateMu.Lock()
		defer c.stateMu.Unlock()
		c.credit(addr, amount)
		return nil
	})
}

// Transfer moves amount from one account to another. A nil or zero amount is a
// no-op.
func (c *Chain) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return c.Execute(ctx, func(ctx context.Context) error {
		return c.move(from, to, amount)
	})
}

// move must run inside a transaction frame.
func (c *Chain) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	have := c.balances[from]
	if have == nil || have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bigString(have), amount)
	}
	c.balances[from] = new(big.Int).Sub(have, amount)
	c.credit(to, amount)
	return nil
}

// credit must be called with stateMu held.
func (c *Chain) credit(addr common.Address, amount *big.Int) {
	if have, ok := c.balances[addr]; ok {
		c.balances[addr] = new(big.Int).Add(have, amount)
		return
	}
	c.balances[addr] = new(big.Int).Set(amount)
}

// copyBalances returns a copy of the ledger. Balances are never mutated in
// place, so sharing the big.Int pointers is safe.
func (c *Chain) copyBalances() map[common.Address]*big.Int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make(map[common.Address]*big.Int, len(c.balances))
	for k, v := range c.balances {
		out[k] = v
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
