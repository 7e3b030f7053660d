package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrOutOfGas is returned when a call exhausts its gas budget.
var ErrOutOfGas = errors.New("out of gas")

// Call is a value-carrying invocation of the contract at To.
type Call struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64

	// Gas is set by the chain for the duration of the invocation.
	Gas *GasMeter
}

// Contract is code deployed at an address.
type Contract interface {
	Invoke(ctx context.Context, call Call) error
}

// ContractFunc adapts a function to Contract.
type ContractFunc func(ctx context.Context, call Call) error

// Invoke calls f.
func (f ContractFunc) Invoke(ctx context.Context, call Call) error {
	return f(ctx, call)
}

// InterfaceID identifies a capability a contract may declare.
type InterfaceID [4]byte

// String returns the 0x-prefixed hex form.
func (id InterfaceID) String() string {
	return fmt.Sprintf("0x%x", id[:])
}

// InterfaceSupporter is implemented by contracts that declare capabilities.
type InterfaceSupporter interface {
	SupportsInterface(id InterfaceID) bool
}

// GasMeter tracks gas consumption against a limit.
type GasMeter struct {
	limit uint64
	used  uint64
}

// NewGasMeter creates a meter with the given budget.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume charges amount. Exceeding the limit returns ErrOutOfGas and leaves the
// meter exhausted.
func (g *GasMeter) Consume(amount uint64, descriptor string) error {
	if g == nil {
		return nil
	}
	if left := g.limit - g.used; amount > left {
		g.used = g.limit
		return fmt.Errorf("%w: %s needs %d, %d left", ErrOutOfGas, descriptor, amount, left)
	}
	g.used += amount
	return nil
}

// Used returns the gas consumed so far.
func (g *GasMeter) Used() uint64 { return g.used }

// Limit returns the budget.
func (g *GasMeter) Limit() uint64 { return g.limit }

// Remaining returns the unspent budget.
func (g *GasMeter) Remaining() uint64 { return g.limit - g.used }

// Call moves call.Value from call.From to call.To and invokes the contract at
// To, if any, inside a nested frame. Any failure reverts the frame. Contract
// errors other than ErrOutOfGas are reported as ErrReverted.
func (c *Chain) Call(ctx context.Context, call Call) error {
	if call.Value != nil && call.Value.Sign() < 0 {
		return ErrNegativeAmount
	}
	if call.GasLimit == 0 {
		call.GasLimit = c.gasLimit
	}
	call.Gas = NewGasMeter(call.GasLimit)

	err := c.Execute(ctx, func(ctx context.Context) (err error) {
		if err := c.move(call.From, call.To, call.Value); err != nil {
			return err
		}
		contract, ok := c.ContractAt(call.To)
		if !ok {
			return nil
		}
		c.invoking.Add(1)
		defer c.invoking.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: panic: %v", ErrReverted, r)
			}
		}()
		return contract.Invoke(ctx, call)
	})
	if err == nil || errors.Is(err, ErrOutOfGas) || errors.Is(err, ErrReverted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrReverted, err)
}
