package vault

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// Entry kinds
	EntryDeposit = "deposit"
	EntryRelease = "release"

	maxHistory = 1000
)

// Entry is one movement of value into or out of the vault.
type Entry struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Counterparty common.Address `json:"counterparty"`
	Caller       common.Address `json:"caller,omitempty"`
	Amount       *big.Int       `json:"amount"`
	BalanceAfter *big.Int       `json:"balance_after"`
	CreatedAt    time.Time      `json:"created_at"`
}
