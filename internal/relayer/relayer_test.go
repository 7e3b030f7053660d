package relayer_test

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
	"github.com/R3E-Network/signal_bridge/internal/proof"
	"github.com/R3E-Network/signal_bridge/internal/relayer"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
	"github.com/R3E-Network/signal_bridge/pkg/testutil"
)

var targetAddr = common.HexToAddress("0x0000000000000000000000000000000000007a67")

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func testConfig() relayer.Config {
	cfg := relayer.DefaultConfig()
	cfg.Caller = testutil.Relayer.Hex()
	cfg.MaxRetries = 2
	cfg.RetrySchedule = "@every 1h"
	cfg.RatePerSecond = 1000
	return cfg
}

func startRelayer(t *testing.T, h *testutil.Harness, cfg relayer.Config) *relayer.Relayer {
	t.Helper()
	r, err := relayer.New(cfg, []relayer.Endpoint{
		{Bridge: h.A.Bridge, Prover: h.A.Attestor},
		{Bridge: h.B.Bridge, Prover: h.B.Attestor},
	}, relayer.WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func statusOf(t *testing.T, h *testutil.Harness, msgHash common.Hash) state.Status {
	t.Helper()
	s, err := h.B.Bridge.MessageStatus(context.Background(), msgHash)
	require.NoError(t, err)
	return s
}

func TestRelayer_DeliversSentMessages(t *testing.T) {
	h := testutil.NewHarness(t)
	target := testutil.NewAcceptor()
	h.B.Deploy(t, targetAddr, target)
	h.A.Fund(t, testutil.Alice, 1000)
	startRelayer(t, h, testConfig())

	msg := h.Message(targetAddr, 100)
	msg.Fee = big.NewInt(5)
	receipt, err := h.A.Bridge.Send(context.Background(), testutil.Alice, msg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return statusOf(t, h, receipt.MsgHash) == state.StatusDone
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return h.B.Balance(testutil.Relayer) == 5
	}, waitFor, tick, "relayer collects the fee")
	assert.Equal(t, int64(100), target.Received().Int64())
}

func TestRelayer_RetriesThenRecalls(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	h.B.Deploy(t, targetAddr, testutil.NewRejector(nil))
	h.A.Fund(t, testutil.Alice, 1000)
	r := startRelayer(t, h, testConfig())

	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Pending() == 1 }, waitFor, tick)
	assert.Equal(t, state.StatusRetriable, statusOf(t, h, receipt.MsgHash))

	r.SweepRetries(ctx)
	assert.Equal(t, state.StatusRetriable, statusOf(t, h, receipt.MsgHash))
	assert.Equal(t, 1, r.Pending())

	r.SweepRetries(ctx)
	assert.Equal(t, state.StatusFailed, statusOf(t, h, receipt.MsgHash))
	assert.Equal(t, 0, r.Pending())

	require.Eventually(t, func() bool {
		return h.A.Balance(testutil.Alice) == 1000
	}, waitFor, tick, "escrow returned to sender")
	recalled, err := h.A.Bridge.IsMessageRecalled(ctx, receipt.MsgHash)
	require.NoError(t, err)
	assert.True(t, recalled)
}

func TestRelayer_RetrySucceedsAfterRecovery(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	target := testutil.NewRejector(nil)
	h.B.Deploy(t, targetAddr, target)
	h.A.Fund(t, testutil.Alice, 1000)
	r := startRelayer(t, h, testConfig())

	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, waitFor, tick)

	target.SetFailing(nil)
	r.SweepRetries(ctx)

	assert.Equal(t, state.StatusDone, statusOf(t, h, receipt.MsgHash))
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, int64(100), target.Received().Int64())
}

func TestRelayer_NoAutoRecall(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	h.B.Deploy(t, targetAddr, testutil.NewRejector(nil))
	h.A.Fund(t, testutil.Alice, 1000)
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.AutoRecall = false
	r := startRelayer(t, h, cfg)

	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, waitFor, tick)

	r.SweepRetries(ctx)
	assert.Equal(t, state.StatusFailed, statusOf(t, h, receipt.MsgHash))

	require.NoError(t, r.Stop(ctx))
	recalled, err := h.A.Bridge.IsMessageRecalled(ctx, receipt.MsgHash)
	require.NoError(t, err)
	assert.False(t, recalled)
	assert.Equal(t, int64(900), h.A.Balance(testutil.Alice))
}

func TestRelayer_ReportsUnprovableMessages(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	h.B.Deploy(t, targetAddr, testutil.NewAcceptor())
	h.A.Fund(t, testutil.Alice, 1000)

	r, err := relayer.New(testConfig(), []relayer.Endpoint{
		{Bridge: h.A.Bridge, Prover: failingProver{}},
		{Bridge: h.B.Bridge, Prover: h.B.Attestor},
	}, relayer.WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(ctx) }()

	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.B.Events.RecentByType(events.EventRelayFailed, 10)) == 1
	}, waitFor, tick)
	failed := h.B.Events.RecentByType(events.EventRelayFailed, 10)[0]
	assert.Equal(t, receipt.MsgHash.Hex(), failed.MsgHash)
	assert.Equal(t, "process", failed.Metadata["kind"])
	assert.Equal(t, state.StatusNew, statusOf(t, h, receipt.MsgHash))
}

func TestRelayer_RedeliversFailedProcess(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	target := testutil.NewAcceptor()
	h.B.Deploy(t, targetAddr, target)
	h.A.Fund(t, testutil.Alice, 1000)

	prover := &switchProver{Prover: h.A.Attestor}
	prover.down.Store(true)
	r, err := relayer.New(testConfig(), []relayer.Endpoint{
		{Bridge: h.A.Bridge, Prover: prover},
		{Bridge: h.B.Bridge, Prover: h.B.Attestor},
	}, relayer.WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(ctx) }()

	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Redeliveries() == 1 }, waitFor, tick)

	r.SweepRetries(ctx)
	assert.Equal(t, state.StatusNew, statusOf(t, h, receipt.MsgHash))
	assert.Equal(t, 1, r.Redeliveries(), "still queued while the prover is down")

	prover.down.Store(false)
	r.SweepRetries(ctx)
	assert.Equal(t, state.StatusDone, statusOf(t, h, receipt.MsgHash))
	assert.Equal(t, 0, r.Redeliveries())
	assert.Equal(t, int64(100), target.Received().Int64())
}

func TestRelayer_GivesUpRedeliveryAfterMaxRetries(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	h.B.Deploy(t, targetAddr, testutil.NewAcceptor())
	h.A.Fund(t, testutil.Alice, 1000)

	r, err := relayer.New(testConfig(), []relayer.Endpoint{
		{Bridge: h.A.Bridge, Prover: failingProver{}},
		{Bridge: h.B.Bridge, Prover: h.B.Attestor},
	}, relayer.WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(ctx) }()

	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Redeliveries() == 1 }, waitFor, tick)

	for i := 0; i < testConfig().MaxRetries; i++ {
		r.SweepRetries(ctx)
		assert.Equal(t, 1, r.Redeliveries(), "attempt %d", i+1)
	}
	r.SweepRetries(ctx)
	assert.Equal(t, 0, r.Redeliveries())
	assert.Len(t, h.B.Events.RecentByType(events.EventRelayFailed, 10), 1+testConfig().MaxRetries)
	assert.Equal(t, state.StatusNew, statusOf(t, h, receipt.MsgHash))
}

func TestRelayer_StoppedRelayerIgnoresEvents(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	h.B.Deploy(t, targetAddr, testutil.NewAcceptor())
	h.A.Fund(t, testutil.Alice, 1000)
	r := startRelayer(t, h, testConfig())

	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx), "stop is idempotent")

	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, state.StatusNew, statusOf(t, h, receipt.MsgHash))
}

func TestNew_RejectsDuplicateEndpoints(t *testing.T) {
	h := testutil.NewHarness(t)
	_, err := relayer.New(testConfig(), []relayer.Endpoint{
		{Bridge: h.A.Bridge, Prover: h.A.Attestor},
		{Bridge: h.A.Bridge, Prover: h.A.Attestor},
	})
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, relayer.DefaultConfig().Validate())

	cases := map[string]func(*relayer.Config){
		"zero retries":   func(c *relayer.Config) { c.MaxRetries = 0 },
		"zero rate":      func(c *relayer.Config) { c.RatePerSecond = 0 },
		"bad caller":     func(c *relayer.Config) { c.Caller = "relayer" },
		"bad schedule":   func(c *relayer.Config) { c.RetrySchedule = "every now and then" },
		"negative rate":  func(c *relayer.Config) { c.RatePerSecond = -1 },
		"empty schedule": func(c *relayer.Config) { c.RetrySchedule = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := relayer.DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

type failingProver struct{}

func (failingProver) Prove(context.Context, common.Hash) ([]byte, error) {
	return nil, proof.ErrSignalNotRaised
}

var _ proof.Prover = failingProver{}

// switchProver fails while down is set and defers to Prover otherwise.
type switchProver struct {
	proof.Prover
	down atomic.Bool
}

func (p *switchProver) Prove(ctx context.Context, signal common.Hash) ([]byte, error) {
	if p.down.Load() {
		return nil, proof.ErrSignalNotRaised
	}
	return p.Prover.Prove(ctx, signal)
}
