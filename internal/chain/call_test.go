package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

var testInterface = InterfaceID{0xde, 0xad, 0xbe, 0xef}

type capabilityContract struct {
	ContractFunc
}

func (capabilityContract) SupportsInterface(id InterfaceID) bool { return id == testInterface }

func TestCall_ValueToAccount(t *testing.T) {
	c := newTestChain(t)

	err := c.Call(context.Background(), Call{From: alice, To: bob, Value: big.NewInt(10)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	requireBalance(t, c, bob, 10)
}

func TestCall_ContractReceivesCall(t *testing.T) {
	c := newTestChain(t)

	var got Call
	_ = c.Deploy(bob, ContractFunc(func(ctx context.Context, call Call) error {
		got = call
		return call.Gas.Consume(100, "store")
	}))

	err := c.Call(context.Background(), Call{From: alice, To: bob, Value: big.NewInt(5), Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.From != alice || string(got.Data) != "\x01\x02" {
		t.Errorf("contract saw %+v", got)
	}
	if got.Gas.Limit() != DefaultGasLimit {
		t.Errorf("gas limit = %d, want default %d", got.Gas.Limit(), DefaultGasLimit)
	}
	if got.Gas.Used() != 100 {
		t.Errorf("gas used = %d, want 100", got.Gas.Used())
	}
}

func TestCall_FailureClassification(t *testing.T) {
	tests := []struct {
		name     string
		contract ContractFunc
		gasLimit uint64
		want     error
	}{
		{
			name:     "rejection",
			contract: func(context.Context, Call) error { return errors.New("not accepted") },
			want:     ErrReverted,
		},
		{
			name: "out of gas",
			contract: func(_ context.Context, call Call) error {
				return call.Gas.Consume(1_000, "loop")
			},
			gasLimit: 999,
			want:     ErrOutOfGas,
		},
		{
			name:     "panic",
			contract: func(context.Context, Call) error { panic("bad opcode") },
			want:     ErrReverted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestChain(t)
			_ = c.Deploy(bob, tc.contract)

			err := c.Call(context.Background(), Call{From: alice, To: bob, Value: big.NewInt(7), GasLimit: tc.gasLimit})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Call = %v, want %v", err, tc.want)
			}
			// Value moved into the failing frame is reverted.
			requireBalance(t, c, alice, 1_000)
			requireBalance(t, c, bob, 0)
		})
	}
}

func TestCall_InsideTransactionRevertsOnlyItsFrame(t *testing.T) {
	c := newTestChain(t)
	_ = c.Deploy(bob, ContractFunc(func(context.Context, Call) error { return errors.New("nope") }))

	err := c.Execute(context.Background(), func(ctx context.Context) error {
		if err := c.Transfer(ctx, alice, carol, big.NewInt(1)); err != nil {
			return err
		}
		if err := c.Call(ctx, Call{From: alice, To: bob, Value: big.NewInt(100)}); err == nil {
			t.Error("Call should fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	requireBalance(t, c, carol, 1)
	requireBalance(t, c, alice, 999)
}

func TestCall_Reentrant(t *testing.T) {
	c := newTestChain(t)

	// The contract calls back into the chain from inside its own invocation.
	_ = c.Deploy(bob, ContractFunc(func(ctx context.Context, call Call) error {
		return c.Transfer(ctx, bob, carol, call.Value)
	}))

	if err := c.Call(context.Background(), Call{From: alice, To: bob, Value: big.NewInt(3)}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	requireBalance(t, c, carol, 3)
}

func TestCall_ReentryWithUnrelatedContext(t *testing.T) {
	c := New(Config{ID: 1, LockTimeout: 50 * time.Millisecond}, WithLogger(logger.NewDiscard()))
	if err := c.Mint(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	var inner error
	_ = c.Deploy(bob, ContractFunc(func(_ context.Context, call Call) error {
		inner = c.Transfer(context.Background(), bob, carol, call.Value)
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- c.Call(context.Background(), Call{From: alice, To: bob, Value: big.NewInt(3)}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not return: chain deadlocked")
	}
	if !errors.Is(inner, ErrChainBusy) {
		t.Errorf("inner Transfer = %v, want ErrChainBusy", inner)
	}
	requireBalance(t, c, bob, 3)
	requireBalance(t, c, carol, 0)

	if err := c.Transfer(context.Background(), bob, carol, big.NewInt(1)); err != nil {
		t.Fatalf("Transfer after re-entry: %v", err)
	}
	requireBalance(t, c, carol, 1)
}

func TestExecute_WaitsForHolderOutsideContractCode(t *testing.T) {
	c := New(Config{ID: 1, LockTimeout: 20 * time.Millisecond}, WithLogger(logger.NewDiscard()))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.Execute(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan error, 1)
	go func() {
		done <- c.Execute(context.Background(), func(context.Context) error { return nil })
	}()
	time.Sleep(100 * time.Millisecond)
	close(release)
	if err := <-done; err != nil {
		t.Errorf("waiting Execute = %v, want nil", err)
	}
}

func TestSupportsInterface(t *testing.T) {
	c := newTestChain(t)
	_ = c.Deploy(bob, capabilityContract{ContractFunc: func(context.Context, Call) error { return nil }})
	_ = c.Deploy(carol, ContractFunc(func(context.Context, Call) error { return nil }))

	if !c.SupportsInterface(bob, testInterface) {
		t.Error("bob should support the test interface")
	}
	if c.SupportsInterface(bob, InterfaceID{}) {
		t.Error("bob should not support the zero interface")
	}
	if c.SupportsInterface(carol, testInterface) {
		t.Error("contract without capabilities should not support anything")
	}
	if c.SupportsInterface(alice, testInterface) {
		t.Error("account without code should not support anything")
	}
	if testInterface.String() != "0xdeadbeef" {
		t.Errorf("String() = %q", testInterface.String())
	}
}

func TestGasMeter(t *testing.T) {
	g := NewGasMeter(10)
	if err := g.Consume(4, "a"); err != nil {
		t.Fatal(err)
	}
	if g.Remaining() != 6 {
		t.Errorf("Remaining() = %d, want 6", g.Remaining())
	}
	if err := g.Consume(7, "b"); !errors.Is(err, ErrOutOfGas) {
		t.Errorf("Consume over budget = %v, want ErrOutOfGas", err)
	}
	if g.Remaining() != 0 {
		t.Errorf("Remaining() after OOG = %d, want 0", g.Remaining())
	}

	var nilMeter *GasMeter
	if err := nilMeter.Consume(1, "free"); err != nil {
		t.Errorf("nil meter Consume = %v", err)
	}
}
