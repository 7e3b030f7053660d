// Package httpapi exposes the public reads of each bridge over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/bridge"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
	"github.com/R3E-Network/signal_bridge/internal/middleware"
	"github.com/R3E-Network/signal_bridge/internal/signal"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	maxBodyBytes = 1 << 20
)

// handler bundles HTTP endpoints for the bridges of a node.
type handler struct {
	bridges map[uint64]*bridge.Bridge
	chains  []uint64
	log     *logger.Logger
}

type options struct {
	collector *metrics.Collector
	log       *logger.Logger
	auth      *middleware.AuthMiddleware
	limiter   *middleware.RateLimiter
	cors      *middleware.CORSMiddleware
}

// Option configures the handler.
type Option func(*options)

// WithMetrics instruments requests and serves /metrics from c's registry.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithAuth requires bearer tokens on the /v1 routes.
func WithAuth(a *middleware.AuthMiddleware) Option {
	return func(o *options) { o.auth = a }
}

func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(o *options) { o.limiter = rl }
}

func WithCORS(c *middleware.CORSMiddleware) Option {
	return func(o *options) { o.cors = c }
}

// NewHandler returns a router exposing the read API of bridges.
func NewHandler(bridges []*bridge.Bridge, opts ...Option) http.Handler {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.NewDefault("httpapi")
	}

	h := &handler{bridges: make(map[uint64]*bridge.Bridge, len(bridges)), log: o.log}
	for _, b := range bridges {
		h.bridges[b.ChainID()] = b
		h.chains = append(h.chains, b.ChainID())
	}
	sort.Slice(h.chains, func(i, j int) bool { return h.chains[i] < h.chains[j] })

	r := mux.NewRouter()
	r.Use(middleware.Tracing(o.log))
	if o.collector != nil {
		r.Use(middleware.Metrics(o.collector))
		r.Handle("/metrics", promhttp.HandlerFor(o.collector.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if o.cors != nil {
		r.Use(o.cors.Handler)
	}
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	if o.limiter != nil {
		v1.Use(o.limiter.Handler)
	}
	if o.auth != nil {
		v1.Use(o.auth.Handler)
	}
	v1.HandleFunc("/messages/hash", h.hash).Methods(http.MethodPost, http.MethodOptions)

	chain := v1.PathPrefix("/chains/{chainID:[0-9]+}").Subrouter()
	chain.HandleFunc("/messages", h.messagesByStatus).Methods(http.MethodGet)
	chain.HandleFunc("/messages/sent", h.sent).Methods(http.MethodPost, http.MethodOptions)
	chain.HandleFunc("/messages/received", h.received).Methods(http.MethodPost, http.MethodOptions)
	chain.HandleFunc("/messages/failed", h.failed).Methods(http.MethodPost, http.MethodOptions)
	chain.HandleFunc("/messages/{msgHash}", h.messageStatus).Methods(http.MethodGet)
	chain.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	chain.HandleFunc("/events/stream", h.streamEvents).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"chains": h.chains,
	})
}

type hashResponse struct {
	MsgHash      common.Hash `json:"msgHash"`
	SentSignal   common.Hash `json:"sentSignal"`
	FailedSignal common.Hash `json:"failedSignal"`
}

func (h *handler) hash(w http.ResponseWriter, r *http.Request) {
	var msg message.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, ok := messageID(w, msg)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{
		MsgHash:      id,
		SentSignal:   message.SentSignal(id),
		FailedSignal: message.FailedSignal(id),
	})
}

func (h *handler) messageStatus(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridgeFor(w, r)
	if !ok {
		return
	}
	id, err := message.ParseHash(mux.Vars(r)["msgHash"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := b.MessageStatus(r.Context(), id)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	recalled, err := b.IsMessageRecalled(r.Context(), id)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"msgHash":  id,
		"status":   status,
		"recalled": recalled,
	})
}

func (h *handler) messagesByStatus(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridgeFor(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("status")
	if raw == "" {
		writeError(w, http.StatusBadRequest, errors.New("status query parameter is required"))
		return
	}
	status, err := state.ParseStatus(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := b.MessagesByStatus(r.Context(), status, limit)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if ids == nil {
		ids = []common.Hash{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"messages": ids,
	})
}

type proofRequest struct {
	Message message.Message `json:"message"`
	Proof   hexutil.Bytes   `json:"proof"`
}

func (h *handler) sent(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridgeFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Message message.Message `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, ok := messageID(w, req.Message)
	if !ok {
		return
	}
	sent, err := b.IsMessageSent(r.Context(), req.Message)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"msgHash": id, "sent": sent})
}

func (h *handler) received(w http.ResponseWriter, r *http.Request) {
	h.proofQuery(w, r, "received", (*bridge.Bridge).IsMessageReceived)
}

func (h *handler) failed(w http.ResponseWriter, r *http.Request) {
	h.proofQuery(w, r, "failed", (*bridge.Bridge).IsMessageFailed)
}

type proofCheck func(b *bridge.Bridge, ctx context.Context, msg message.Message, proof []byte) (bool, error)

func (h *handler) proofQuery(w http.ResponseWriter, r *http.Request, field string, check proofCheck) {
	b, ok := h.bridgeFor(w, r)
	if !ok {
		return
	}
	var req proofRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, ok := messageID(w, req.Message)
	if !ok {
		return
	}
	result, err := check(b, r.Context(), req.Message, req.Proof)
	if err != nil {
		if errors.Is(err, signal.ErrProofUnverifiable) {
			writeCodedError(w, http.StatusUnprocessableEntity, "PROOF_UNVERIFIABLE", err)
			return
		}
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"msgHash": id, field: result})
}

// messageID computes the identifier of a decoded message, answering 400 when
// its amounts cannot be encoded.
func messageID(w http.ResponseWriter, msg message.Message) (common.Hash, bool) {
	id, err := msg.ID()
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, bridge.ErrInvalidMessage.Code, err)
		return common.Hash{}, false
	}
	return id, true
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridgeFor(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	var list []events.Event
	switch {
	case q.Get("msgHash") != "":
		id, err := message.ParseHash(q.Get("msgHash"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		list = b.Events().RecentByMessage(id.Hex(), limit)
	case q.Get("type") != "":
		list = b.Events().RecentByType(events.EventType(q.Get("type")), limit)
	default:
		list = b.Events().Recent(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) bridgeFor(w http.ResponseWriter, r *http.Request) (*bridge.Bridge, bool) {
	raw := mux.Vars(r)["chainID"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid chain id %q", raw))
		return nil, false
	}
	b, ok := h.bridges[id]
	if !ok {
		writeCodedError(w, http.StatusNotFound, bridge.ErrWrongChain.Code, fmt.Errorf("chain %d is not served by this node", id))
		return nil, false
	}
	return b, true
}

func (h *handler) internal(w http.ResponseWriter, r *http.Request, err error) {
	h.log.WithFields(map[string]interface{}{
		"path":     r.URL.Path,
		"trace_id": events.TraceIDFrom(r.Context()),
	}).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, err)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeCodedError(w, status, bridge.Code(err), err)
}

func writeCodedError(w http.ResponseWriter, status int, code string, err error) {
	body := map[string]string{"error": err.Error()}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}
