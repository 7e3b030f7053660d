package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/bridge"
	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/internal/middleware"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
	"github.com/R3E-Network/signal_bridge/pkg/testutil"
)

var targetAddr = common.HexToAddress("0x0000000000000000000000000000000000007a67")

func newTestHandler(t *testing.T, opts ...Option) (*testutil.Harness, http.Handler) {
	t.Helper()
	h := testutil.NewHarness(t)
	opts = append([]Option{WithLogger(logger.NewDiscard())}, opts...)
	return h, NewHandler([]*bridge.Bridge{h.A.Bridge, h.B.Bridge}, opts...)
}

func do(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal %q: %v", resp.Body.String(), err)
	}
}

// sendAndFail sends a message from A that B fails to deliver on its last
// attempt, returning the message.
func sendAndFail(t *testing.T, h *testutil.Harness) message.Message {
	t.Helper()
	ctx := context.Background()
	h.B.Deploy(t, targetAddr, testutil.NewRejector(nil))
	h.A.Fund(t, testutil.Alice, 1000)
	receipt, err := h.A.Bridge.Send(ctx, testutil.Alice, h.Message(targetAddr, 100))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.B.Bridge.Process(ctx, testutil.Relayer, receipt.Message, h.ProveSent(t, receipt.MsgHash), true); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := h.B.Bridge.Retry(ctx, testutil.Relayer, receipt.Message, true); err != nil {
		t.Fatalf("retry: %v", err)
	}
	return receipt.Message
}

func TestHealth(t *testing.T) {
	_, handler := newTestHandler(t)
	resp := do(t, handler, http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Status string   `json:"status"`
		Chains []uint64 `json:"chains"`
	}
	decode(t, resp, &body)
	if body.Status != "ok" || len(body.Chains) != 2 || body.Chains[0] != testutil.ChainA {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestHash(t *testing.T) {
	h, handler := newTestHandler(t)
	msg := h.Message(targetAddr, 100)
	msg.From = testutil.Alice

	resp := do(t, handler, http.MethodPost, "/v1/messages/hash", msg)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body hashResponse
	decode(t, resp, &body)
	if body.MsgHash != msg.Hash() {
		t.Errorf("msgHash = %s, want %s", body.MsgHash.Hex(), msg.Hash().Hex())
	}
	if body.SentSignal != message.SentSignal(msg.Hash()) || body.FailedSignal != message.FailedSignal(msg.Hash()) {
		t.Error("signal identifiers do not match the message hash")
	}

	resp = do(t, handler, http.MethodPost, "/v1/messages/hash", map[string]string{"bogus": "field"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}

	msg.Value = new(big.Int).Add(msg.Value, new(big.Int).Lsh(big.NewInt(1), 256))
	resp = do(t, handler, http.MethodPost, "/v1/messages/hash", msg)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a value wider than 256 bits, got %d", resp.Code)
	}
	var errBody map[string]string
	decode(t, resp, &errBody)
	if errBody["code"] != "INVALID_MESSAGE" {
		t.Errorf("code = %q, want INVALID_MESSAGE", errBody["code"])
	}
}

func TestMessageLifecycleReads(t *testing.T) {
	h, handler := newTestHandler(t)
	msg := sendAndFail(t, h)
	id := msg.Hash()

	resp := do(t, handler, http.MethodGet, fmt.Sprintf("/v1/chains/%d/messages/%s", testutil.ChainB, id.Hex()), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var status struct {
		Status   string `json:"status"`
		Recalled bool   `json:"recalled"`
	}
	decode(t, resp, &status)
	if status.Status != "FAILED" || status.Recalled {
		t.Fatalf("unexpected status body: %+v", status)
	}

	resp = do(t, handler, http.MethodGet, fmt.Sprintf("/v1/chains/%d/messages?status=FAILED", testutil.ChainB), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list struct {
		Messages []common.Hash `json:"messages"`
	}
	decode(t, resp, &list)
	if len(list.Messages) != 1 || list.Messages[0] != id {
		t.Fatalf("unexpected list: %+v", list)
	}

	resp = do(t, handler, http.MethodPost, fmt.Sprintf("/v1/chains/%d/messages/sent", testutil.ChainA), map[string]interface{}{"message": msg})
	var sent struct {
		Sent bool `json:"sent"`
	}
	decode(t, resp, &sent)
	if !sent.Sent {
		t.Fatal("expected message sent on A")
	}

	resp = do(t, handler, http.MethodPost, fmt.Sprintf("/v1/chains/%d/messages/received", testutil.ChainB), proofRequest{
		Message: msg,
		Proof:   h.ProveSent(t, id),
	})
	var received struct {
		Received bool `json:"received"`
	}
	decode(t, resp, &received)
	if !received.Received {
		t.Fatalf("expected message received on B: %s", resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, fmt.Sprintf("/v1/chains/%d/messages/failed", testutil.ChainA), proofRequest{
		Message: msg,
		Proof:   h.ProveFailed(t, id),
	})
	var failed struct {
		Failed bool `json:"failed"`
	}
	decode(t, resp, &failed)
	if !failed.Failed {
		t.Fatalf("expected message failed: %s", resp.Body.String())
	}
}

func TestProofQuery_Unverifiable(t *testing.T) {
	h, handler := newTestHandler(t)
	msg := h.Message(targetAddr, 100)
	msg.From = testutil.Alice

	resp := do(t, handler, http.MethodPost, fmt.Sprintf("/v1/chains/%d/messages/received", testutil.ChainB), proofRequest{
		Message: msg,
		Proof:   hexutil.Bytes{0x01, 0x02},
	})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.Code, resp.Body.String())
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["code"] != "PROOF_UNVERIFIABLE" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestRequestValidation(t *testing.T) {
	_, handler := newTestHandler(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown chain", "/v1/chains/99/messages/0x" + strings.Repeat("00", 32), http.StatusNotFound, "WRONG_CHAIN"},
		{"bad hash", "/v1/chains/1/messages/0x1234", http.StatusBadRequest, ""},
		{"missing status", "/v1/chains/1/messages", http.StatusBadRequest, ""},
		{"bad status", "/v1/chains/1/messages?status=LOST", http.StatusBadRequest, ""},
		{"bad limit", "/v1/chains/1/messages?status=NEW&limit=-1", http.StatusBadRequest, ""},
		{"non-numeric chain", "/v1/chains/abc/events", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, handler, http.MethodGet, tt.path, nil)
			if resp.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
			if tt.code == "" {
				return
			}
			var body map[string]string
			decode(t, resp, &body)
			if body["code"] != tt.code {
				t.Errorf("code = %q, want %q", body["code"], tt.code)
			}
		})
	}
}

func TestRecentEvents(t *testing.T) {
	h, handler := newTestHandler(t)
	msg := sendAndFail(t, h)

	resp := do(t, handler, http.MethodGet, fmt.Sprintf("/v1/chains/%d/events?type=%s", testutil.ChainA, events.EventMessageSent), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []events.Event
	decode(t, resp, &list)
	if len(list) != 1 || list[0].MsgHash != msg.Hash().Hex() {
		t.Fatalf("unexpected events: %+v", list)
	}

	resp = do(t, handler, http.MethodGet, fmt.Sprintf("/v1/chains/%d/events?msgHash=%s&limit=10", testutil.ChainB, msg.Hash().Hex()), nil)
	decode(t, resp, &list)
	if len(list) == 0 {
		t.Fatal("expected events for message on B")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector("bridge")
	_, handler := newTestHandler(t, WithMetrics(collector))

	do(t, handler, http.MethodGet, "/healthz", nil)
	resp := do(t, handler, http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `bridge_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", resp.Body.String())
	}
}

func TestAuthRequiredOnV1(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	auth, err := middleware.NewAuthMiddleware(secret, "", logger.NewDiscard(), nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	_, handler := newTestHandler(t, WithAuth(auth))

	if resp := do(t, handler, http.MethodGet, "/healthz", nil); resp.Code != http.StatusOK {
		t.Fatalf("healthz should not require auth, got %d", resp.Code)
	}
	path := fmt.Sprintf("/v1/chains/%d/messages?status=NEW", testutil.ChainA)
	if resp := do(t, handler, http.MethodGet, path, nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	token, err := middleware.IssueToken(secret, middleware.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "relayer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.Code)
	}
}

func TestEventStream(t *testing.T) {
	h, handler := newTestHandler(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/v1/chains/%d/events/stream?type=%s", testutil.ChainA, events.EventMessageSent)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	h.A.Fund(t, testutil.Alice, 1000)
	receipt, err := h.A.Bridge.Send(context.Background(), testutil.Alice, h.Message(targetAddr, 100))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if e.Type != events.EventMessageSent || e.MsgHash != receipt.MsgHash.Hex() {
		t.Fatalf("unexpected event: %+v", e)
	}
}
