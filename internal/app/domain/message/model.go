// Package message defines the cross-chain message value type, its identifier
// and the signal identifiers derived from it.
package message

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid message")

const maxAmountBits = 256

// Message is an immutable cross-chain message. It is passed by value; use Clone
// before handing it to code that may retain or mutate the big-int or byte fields.
//
// There is no protocol-assigned nonce. Two messages with identical fields share one
// identifier and one lifecycle; senders that need distinct deliveries set Nonce.
type Message struct {
	Nonce       uint64         `json:"nonce"`
	SrcChainID  uint64         `json:"srcChainId"`
	DestChainID uint64         `json:"destChainId"`
	From        common.Address `json:"from"`
	Sender      common.Address `json:"sender"`
	To          common.Address `json:"to"`
	Value       *big.Int       `json:"value"`
	Fee         *big.Int       `json:"fee,omitempty"`
	GasLimit    uint64         `json:"gasLimit"`
	Data        hexutil.Bytes  `json:"data,omitempty"`
	Memo        string         `json:"memo,omitempty"`
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.Value = cloneBig(m.Value)
	out.Fee = cloneBig(m.Fee)
	if m.Data != nil {
		out.Data = append(hexutil.Bytes(nil), m.Data...)
	}
	return out
}

// Validate checks the structural invariants that do not depend on chain state.
func (m Message) Validate() error {
	if m.SrcChainID == m.DestChainID {
		return fmt.Errorf("%w: source and destination chain are both %d", ErrInvalid, m.SrcChainID)
	}
	if err := m.checkAmounts(); err != nil {
		return err
	}
	if m.To == (common.Address{}) {
		return fmt.Errorf("%w: zero destination address", ErrInvalid)
	}
	return nil
}

// checkAmounts rejects amounts that do not fit an unsigned 256-bit word.
func (m Message) checkAmounts() error {
	for _, a := range []struct {
		name string
		v    *big.Int
	}{{"value", m.Value}, {"fee", m.Fee}} {
		if a.v == nil {
			continue
		}
		if a.v.Sign() < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalid, a.name)
		}
		if a.v.BitLen() > maxAmountBits {
			return fmt.Errorf("%w: %s exceeds %d bits", ErrInvalid, a.name, maxAmountBits)
		}
	}
	return nil
}

// ValueOrZero returns Value, or zero when unset.
func (m Message) ValueOrZero() *big.Int {
	if m.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(m.Value)
}

// FeeOrZero returns Fee, or zero when unset.
func (m Message) FeeOrZero() *big.Int {
	if m.Fee == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(m.Fee)
}

// EscrowAmount is what Send takes from the caller: value plus fee.
func (m Message) EscrowAmount() *big.Int {
	return new(big.Int).Add(m.ValueOrZero(), m.FeeOrZero())
}

// RefundAddress is where a recall sends value when the originator does not take a
// callback. Falls back to From when Sender is unset.
func (m Message) RefundAddress() common.Address {
	if m.Sender == (common.Address{}) {
		return m.From
	}
	return m.Sender
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
