package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/signal_bridge/internal/engine/events"
)

const (
	streamBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS middleware and bearer auth.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and pushes the chain's events as JSON
// as they are logged. ?type= takes a comma-separated list of event types.
// Slow clients lose events rather than stall the bridge.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridgeFor(w, r)
	if !ok {
		return
	}
	filter := events.ByChain(b.ChainID())
	if raw := r.URL.Query().Get("type"); raw != "" {
		var types []events.EventType
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
		filter = events.All(filter, events.ByType(types...))
	}

	queue := make(chan events.Event, streamBuffer)
	unsubscribe := b.Events().SubscribeFiltered(filter, func(e events.Event) {
		select {
		case queue <- e:
		default:
		}
	})
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
