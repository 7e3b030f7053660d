// Package chain provides the in-process chain host the bridge runs on.
//
// A Chain keeps a native-value ledger and a set of deployed contracts, and
// executes state changes as atomic transactions. Top-level transactions are
// serialized per chain. A transaction started from inside a running one runs
// as a nested frame: its changes are reverted on error without affecting the
// enclosing frame, and folded into it on success.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

const (
	// DefaultGasLimit is the gas budget of a call that does not set one.
	DefaultGasLimit uint64 = 1_000_000
	// DefaultLockTimeout bounds how long a new transaction waits for a holder
	// that is running contract code.
	DefaultLockTimeout = time.Second
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("negative amount")
	ErrAddressInUse        = errors.New("address already has a contract")
	ErrReverted            = errors.New("execution reverted")
	// ErrChainBusy is returned when a transaction gives up waiting for a holder
	// stuck in contract code, including contract code that re-enters the chain
	// with a context that is not part of its transaction.
	ErrChainBusy = errors.New("chain busy: transaction holder is running contract code")
)

// Config holds chain configuration.
type Config struct {
	ID              uint64        `yaml:"id" json:"id"`
	Name            string        `yaml:"name" json:"name"`
	DefaultGasLimit uint64        `yaml:"default_gas_limit" json:"default_gas_limit"`
	LockTimeout     time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
}

// Chain is a single in-process chain.
type Chain struct {
	id       uint64
	name     string
	gasLimit uint64
	log      *logger.Logger

	// txSem serializes top-level transactions. invoking counts contract
	// invocations in progress; only the holder of txSem runs contracts.
	txSem       chan struct{}
	invoking    atomic.Int32
	lockTimeout time.Duration

	stateMu   sync.RWMutex
	balances  map[common.Address]*big.Int
	contracts map[common.Address]Contract
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the chain logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Chain) { c.log = log }
}

// New creates an empty chain.
func New(cfg Config, opts ...Option) *Chain {
	c := &Chain{
		id:          cfg.ID,
		name:        cfg.Name,
		gasLimit:    cfg.DefaultGasLimit,
		lockTimeout: cfg.LockTimeout,
		txSem:       make(chan struct{}, 1),
		balances:    make(map[common.Address]*big.Int),
		contracts:   make(map[common.Address]Contract),
	}
	if c.gasLimit == 0 {
		c.gasLimit = DefaultGasLimit
	}
	if c.lockTimeout <= 0 {
		c.lockTimeout = DefaultLockTimeout
	}
	if c.name == "" {
		c.name = fmt.Sprintf("chain-%d", cfg.ID)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.NewDefault("chain")
	}
	c.log = c.log.With("chain_id", c.id)
	return c
}

// ID returns the chain identifier.
func (c *Chain) ID() uint64 { return c.id }

// Name returns the human-readable chain name.
func (c *Chain) Name() string { return c.name }

// DefaultGasLimit returns the gas budget used for calls with GasLimit 0.
func (c *Chain) DefaultGasLimit() uint64 { return c.gasLimit }

// Deploy installs a contract at addr.
func (c *Chain) Deploy(addr common.Address, contract Contract) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if _, ok := c.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr.Hex())
	}
	c.contracts[addr] = contract
	c.log.WithField("address", addr.Hex()).Debug("contract deployed")
	return nil
}

// ContractAt returns the contract deployed at addr.
func (c *Chain) ContractAt(addr common.Address) (Contract, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	contract, ok := c.contracts[addr]
	return contract, ok
}

// SupportsInterface reports whether the contract at addr declares id.
func (c *Chain) SupportsInterface(addr common.Address, id InterfaceID) bool {
	contract, ok := c.ContractAt(addr)
	if !ok {
		return false
	}
	s, ok := contract.(InterfaceSupporter)
	return ok && s.SupportsInterface(id)
}

// frame is one level of transaction nesting.
type frame struct {
	parent   *frame
	root     *txRoot
	snapshot map[common.Address]*big.Int
	undo     []func()
	onCommit []func()
}

type txRoot struct {
	done atomic.Bool
}

type frameKey struct{ c *Chain }

func (c *Chain) frameFrom(ctx context.Context) *frame {
	f, _ := ctx.Value(frameKey{c}).(*frame)
	if f == nil || f.root.done.Load() {
		return nil
	}
	return f
}

// InTransaction reports whether ctx belongs to a running transaction on c.
func (c *Chain) InTransaction(ctx context.Context) bool {
	return c.frameFrom(ctx) != nil
}

// Execute runs fn as one atomic transaction. If fn returns an error or panics,
// every ledger change and every OnRevert hook registered inside it is undone.
// Called with a context of a running transaction on the same chain, fn runs as
// a nested frame without taking the chain lock.
//
// A top-level call waits for the chain lock until ctx is done. While the holder
// is running contract code the wait is bounded by the lock timeout and ends
// with ErrChainBusy, so a contract that re-enters the chain with an unrelated
// context fails instead of deadlocking it.
func (c *Chain) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if parent := c.frameFrom(ctx); parent != nil {
		f := &frame{parent: parent, root: parent.root}
		if err := c.run(ctx, f, fn); err != nil {
			return err
		}
		parent.undo = append(parent.undo, f.undo...)
		parent.onCommit = append(parent.onCommit, f.onCommit...)
		return nil
	}

	if err := c.lock(ctx); err != nil {
		return err
	}
	f := &frame{root: &txRoot{}}
	err := func() error {
		defer c.unlock()
		defer f.root.done.Store(true)
		return c.run(ctx, f, fn)
	}()
	if err != nil {
		return err
	}
	for _, hook := range f.onCommit {
		hook()
	}
	return nil
}

func (c *Chain) lock(ctx context.Context) error {
	select {
	case c.txSem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(c.lockTimeout)
	defer timer.Stop()
	for {
		select {
		case c.txSem <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if c.invoking.Load() > 0 {
				c.log.WithField("timeout", c.lockTimeout).Warn("gave up waiting for chain lock held by contract code")
				return ErrChainBusy
			}
			timer.Reset(c.lockTimeout)
		}
	}
}

func (c *Chain) unlock() { <-c.txSem }

func (c *Chain) run(ctx context.Context, f *frame, fn func(context.Context) error) error {
	f.snapshot = c.copyBalances()
	committed := false
	defer func() {
		if !committed {
			c.revert(f)
		}
	}()

	if err := fn(context.WithValue(ctx, frameKey{c}, f)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (c *Chain) revert(f *frame) {
	for i := len(f.undo) - 1; i >= 0; i-- {
		f.undo[i]()
	}
	c.stateMu.Lock()
	c.balances = f.snapshot
	c.stateMu.Unlock()
}

// OnRevert registers undo to run if the transaction ctx belongs to is reverted.
// Hooks run in reverse registration order. Outside a transaction it is a no-op.
func (c *Chain) OnRevert(ctx context.Context, undo func()) {
	if f := c.frameFrom(ctx); f != nil {
		f.undo = append(f.undo, undo)
	}
}

// OnCommit registers hook to run after the top-level transaction commits and
// the chain lock is released. Outside a transaction hook runs immediately.
func (c *Chain) OnCommit(ctx context.Context, hook func()) {
	if f := c.frameFrom(ctx); f != nil {
		f.onCommit = append(f.onCommit, hook)
		return
	}
	hook()
}
