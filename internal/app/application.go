// Package app wires the chains, bridges, relayer and HTTP API of a bridge node.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/signal_bridge/internal/app/httpapi"
	"github.com/R3E-Network/signal_bridge/internal/app/storage"
	"github.com/R3E-Network/signal_bridge/internal/app/storage/backend"
	"github.com/R3E-Network/signal_bridge/internal/app/system"
	"github.com/R3E-Network/signal_bridge/internal/bridge"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/config"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/internal/middleware"
	"github.com/R3E-Network/signal_bridge/internal/proof"
	"github.com/R3E-Network/signal_bridge/internal/relayer"
	"github.com/R3E-Network/signal_bridge/internal/resolver"
	"github.com/R3E-Network/signal_bridge/internal/signal"
	"github.com/R3E-Network/signal_bridge/internal/vault"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

const eventBufferSize = 4096

// Node is everything deployed on one chain.
type Node struct {
	Chain    *chain.Chain
	Store    storage.Store
	Events   *events.RingBuffer
	Signals  *signal.Service
	Vault    *vault.Vault // nil when the bridge holds custody
	Bridge   *bridge.Bridge
	Attestor *proof.Attestor
}

// Application ties the chains, bridges and relayer together and manages
// their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	stores  []storage.Store
	server  *httpServer

	Config   *config.Config
	Metrics  *metrics.Collector
	Resolver *resolver.AddressManager
	Verifier *proof.AttestationVerifier
	Nodes    map[uint64]*Node
	Relayer  *relayer.Relayer // nil when disabled
	Handler  http.Handler
}

// New builds a fully initialised application from cfg. Stores are opened
// here; Stop closes them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	a := &Application{
		manager:  system.NewManager(),
		log:      log,
		Config:   cfg,
		Metrics:  metrics.NewCollector("bridge"),
		Resolver: resolver.NewAddressManager(),
		Verifier: proof.NewAttestationVerifier(),
		Nodes:    make(map[uint64]*Node, len(cfg.Chains)),
	}

	for _, cc := range cfg.Chains {
		node, err := a.buildNode(ctx, cc)
		if err != nil {
			a.closeStores()
			return nil, fmt.Errorf("chain %d: %w", cc.ID, err)
		}
		a.Nodes[cc.ID] = node
		a.Verifier.Trust(cc.ID, node.Attestor.Address())
	}

	if cfg.Relayer.Enabled {
		endpoints := make([]relayer.Endpoint, 0, len(a.Nodes))
		for _, id := range a.ChainIDs() {
			n := a.Nodes[id]
			endpoints = append(endpoints, relayer.Endpoint{Bridge: n.Bridge, Prover: n.Attestor})
		}
		r, err := relayer.New(cfg.Relayer, endpoints,
			relayer.WithMetrics(a.Metrics),
			relayer.WithLogger(log.Component("relayer")))
		if err != nil {
			a.closeStores()
			return nil, err
		}
		a.Relayer = r
		if err := a.manager.Register(r); err != nil {
			a.closeStores()
			return nil, err
		}
	}

	handler, limiter, err := a.buildHandler()
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.Handler = handler
	if cfg.HTTP.Enabled {
		a.server = newHTTPServer(cfg.HTTP, handler, limiter, log.Component("http"))
		if err := a.manager.Register(a.server); err != nil {
			a.closeStores()
			return nil, err
		}
	}

	log.WithField("chains", len(a.Nodes)).WithField("services", a.manager.Names()).Info("application built")
	return a, nil
}

func (a *Application) buildNode(ctx context.Context, cc config.ChainConfig) (*Node, error) {
	log := a.log.With("chain_id", cc.ID)
	c := chain.New(cc.Config, chain.WithLogger(log.Component("chain")))

	store, err := backend.Open(ctx, a.Config.Storage, cc.ID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.stores = append(a.stores, store)

	rb := events.NewRingBuffer(eventBufferSize)
	signals := signal.New(c, store, a.Verifier,
		signal.WithEventLogger(rb),
		signal.WithMetrics(a.Metrics),
		signal.WithLogger(log.Component("signal")))

	bridgeAddr := cc.BridgeAddress()
	a.Resolver.SetAddress(cc.ID, resolver.NameBridge, bridgeAddr)

	var v *vault.Vault
	if vaultAddr := cc.VaultAddress(); vaultAddr != (common.Address{}) {
		v, err = vault.Deploy(c, vaultAddr, vault.WithLogger(log.Component("vault")), vault.WithMetrics(a.Metrics))
		if err != nil {
			return nil, fmt.Errorf("deploy vault: %w", err)
		}
		v.Authorize(bridgeAddr, true)
		liquidity, _ := config.ParseAmount(cc.VaultLiquidity)
		if err := c.Mint(ctx, vaultAddr, liquidity); err != nil {
			return nil, fmt.Errorf("fund vault: %w", err)
		}
		a.Resolver.SetAddress(cc.ID, resolver.NameEtherVault, vaultAddr)
	}

	for _, g := range cc.Genesis {
		amount, _ := config.ParseAmount(g.Balance)
		if err := c.Mint(ctx, common.HexToAddress(g.Address), amount); err != nil {
			return nil, fmt.Errorf("genesis %s: %w", g.Address, err)
		}
	}

	b, err := bridge.New(c, bridgeAddr, store, signals, a.Resolver,
		bridge.WithEventLogger(rb),
		bridge.WithMetrics(a.Metrics),
		bridge.WithLogger(log.Component("bridge")))
	if err != nil {
		return nil, fmt.Errorf("deploy bridge: %w", err)
	}

	key, err := proof.ParseKey(cc.AttestorKey)
	if err != nil {
		return nil, err
	}

	return &Node{
		Chain:    c,
		Store:    store,
		Events:   rb,
		Signals:  signals,
		Vault:    v,
		Bridge:   b,
		Attestor: proof.NewAttestor(cc.ID, key, signals),
	}, nil
}

func (a *Application) buildHandler() (http.Handler, *middleware.RateLimiter, error) {
	cfg := a.Config.HTTP
	opts := []httpapi.Option{
		httpapi.WithMetrics(a.Metrics),
		httpapi.WithLogger(a.log.Component("httpapi")),
	}
	if len(cfg.CORSOrigins) > 0 {
		opts = append(opts, httpapi.WithCORS(middleware.NewCORSMiddleware(cfg.CORSOrigins)))
	}
	var rl *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		rl = middleware.NewRateLimiter(cfg.RateLimit, cfg.Burst, 0, a.log.Component("ratelimit"))
		opts = append(opts, httpapi.WithRateLimiter(rl))
	}
	if cfg.JWTSecret != "" {
		auth, err := middleware.NewAuthMiddleware([]byte(cfg.JWTSecret), cfg.JWTIssuer, a.log.Component("auth"), nil)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, httpapi.WithAuth(auth))
	}
	return httpapi.NewHandler(a.Bridges(), opts...), rl, nil
}

// ChainIDs returns the served chain IDs in ascending order.
func (a *Application) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(a.Nodes))
	for id := range a.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Bridges returns the bridges in chain ID order.
func (a *Application) Bridges() []*bridge.Bridge {
	ids := a.ChainIDs()
	out := make([]*bridge.Bridge, len(ids))
	for i, id := range ids {
		out[i] = a.Nodes[id].Bridge
	}
	return out
}

// Node returns the node serving chainID.
func (a *Application) Node(chainID uint64) (*Node, bool) {
	n, ok := a.Nodes[chainID]
	return n, ok
}

// HTTPAddr returns the address the API listens on, or "" before Start or
// when the API is disabled.
func (a *Application) HTTPAddr() string {
	if a.server == nil || a.server.Addr() == nil {
		return ""
	}
	return a.server.Addr().String()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	a.Metrics.UpdateUptime()
	return a.manager.Start(ctx)
}

// Stop stops all services and closes the stores.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	return errors.Join(err, a.closeStores())
}

func (a *Application) closeStores() error {
	var errs []error
	for _, s := range a.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.stores = nil
	return errors.Join(errs...)
}
