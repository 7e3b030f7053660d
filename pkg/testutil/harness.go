package testutil

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/app/storage/memory"
	"github.com/R3E-Network/signal_bridge/internal/bridge"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/proof"
	"github.com/R3E-Network/signal_bridge/internal/resolver"
	"github.com/R3E-Network/signal_bridge/internal/signal"
	"github.com/R3E-Network/signal_bridge/internal/vault"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

// Chain IDs and well-known addresses used by the harness.
const (
	ChainA uint64 = 1
	ChainB uint64 = 2
)

var (
	BridgeAddress = common.HexToAddress("0x00000000000000000000000000000000000b1d6e")
	VaultAddress  = common.HexToAddress("0x0000000000000000000000000000000000000a17")
	Alice         = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	Relayer       = common.HexToAddress("0x0000000000000000000000000000000000000e1a")
)

// Liquidity is the genesis balance of each vault.
var Liquidity = big.NewInt(1_000_000)

// Side is one chain of the harness.
type Side struct {
	Chain    *chain.Chain
	Store    *memory.Store
	Signals  *signal.Service
	Vault    *vault.Vault
	Bridge   *bridge.Bridge
	Attestor *proof.Attestor
	Events   *events.RingBuffer
}

// Harness is a two-chain bridge wired with attestation proofs.
type Harness struct {
	A, B     *Side
	Resolver *resolver.AddressManager
}

// NewHarness builds chains A and B, each with a funded vault, a bridge and an
// attestor trusted by the other side.
func NewHarness(t testing.TB) *Harness {
	t.Helper()
	log := logger.NewDiscard()
	res := resolver.NewAddressManager()
	verifier := proof.NewAttestationVerifier()

	h := &Harness{Resolver: res}
	h.A = newSide(t, ChainA, res, verifier, log)
	h.B = newSide(t, ChainB, res, verifier, log)
	verifier.Trust(ChainA, h.A.Attestor.Address())
	verifier.Trust(ChainB, h.B.Attestor.Address())
	return h
}

func newSide(t testing.TB, id uint64, res *resolver.AddressManager, verifier proof.Verifier, log *logger.Logger) *Side {
	t.Helper()
	ctx := context.Background()
	c := chain.New(chain.Config{ID: id}, chain.WithLogger(log))
	store := memory.New()
	rb := events.NewRingBuffer(256)
	signals := signal.New(c, store, verifier, signal.WithEventLogger(rb), signal.WithLogger(log))

	v, err := vault.Deploy(c, VaultAddress, vault.WithLogger(log))
	if err != nil {
		t.Fatalf("deploy vault: %v", err)
	}
	v.Authorize(BridgeAddress, true)
	if err := c.Mint(ctx, VaultAddress, Liquidity); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	res.SetAddress(id, resolver.NameBridge, BridgeAddress)
	res.SetAddress(id, resolver.NameEtherVault, VaultAddress)

	b, err := bridge.New(c, BridgeAddress, store, signals, res, bridge.WithEventLogger(rb), bridge.WithLogger(log))
	if err != nil {
		t.Fatalf("deploy bridge: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Side{
		Chain:    c,
		Store:    store,
		Signals:  signals,
		Vault:    v,
		Bridge:   b,
		Attestor: proof.NewAttestor(id, key, signals),
		Events:   rb,
	}
}

// Fund mints amount to addr on side s.
func (s *Side) Fund(t testing.TB, addr common.Address, amount int64) {
	t.Helper()
	if err := s.Chain.Mint(context.Background(), addr, big.NewInt(amount)); err != nil {
		t.Fatalf("fund %s: %v", addr.Hex(), err)
	}
}

// Deploy installs contract at addr on side s.
func (s *Side) Deploy(t testing.TB, addr common.Address, contract chain.Contract) {
	t.Helper()
	if err := s.Chain.Deploy(addr, contract); err != nil {
		t.Fatalf("deploy %s: %v", addr.Hex(), err)
	}
}

// Balance returns the balance of addr on side s as int64.
func (s *Side) Balance(addr common.Address) int64 {
	return s.Chain.BalanceOf(addr).Int64()
}

// Message returns a message from A to B carrying value to target.
func (h *Harness) Message(to common.Address, value int64) message.Message {
	return message.Message{
		SrcChainID:  ChainA,
		DestChainID: ChainB,
		Sender:      Alice,
		To:          to,
		Value:       big.NewInt(value),
	}
}

// ProveSent returns a proof that msgHash was sent on A.
func (h *Harness) ProveSent(t testing.TB, msgHash common.Hash) []byte {
	t.Helper()
	p, err := h.A.Attestor.Prove(context.Background(), message.SentSignal(msgHash))
	if err != nil {
		t.Fatalf("prove sent: %v", err)
	}
	return p
}

// ProveFailed returns a proof that msgHash failed on B.
func (h *Harness) ProveFailed(t testing.TB, msgHash common.Hash) []byte {
	t.Helper()
	p, err := h.B.Attestor.Prove(context.Background(), message.FailedSignal(msgHash))
	if err != nil {
		t.Fatalf("prove failed: %v", err)
	}
	return p
}
