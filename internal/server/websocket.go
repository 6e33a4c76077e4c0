package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/scholardoc/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin browsers are allowed; the CORS origin config governs
	// the REST endpoints, progress events carry no secrets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope wraps a pipeline event for the wire.
type wsEnvelope struct {
	Type    string `json:"type"` // phase, progress, model
	Payload any    `json:"payload"`
}

// subscriberBuffer bounds the per-client backlog; events beyond it are
// dropped rather than stalling the pipeline.
const subscriberBuffer = 64

// Hub fans pipeline events out to websocket subscribers. It implements
// events.Callback so it plugs straight into a pipeline run.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a subscriber and returns its message channel plus a
// cancel function. The channel is closed on cancel or CloseAll.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// CloseAll disconnects every subscriber, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) broadcast(kind string, payload any) {
	data, err := json.Marshal(wsEnvelope{Type: kind, Payload: payload})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
			websocketMessagesTotal.WithLabelValues(kind).Inc()
		default:
			websocketMessagesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

var _ events.Callback = (*Hub)(nil)

func (h *Hub) OnPhase(e events.PhaseEvent)       { h.broadcast("phase", e) }
func (h *Hub) OnProgress(e events.ProgressEvent) { h.broadcast("progress", e) }
func (h *Hub) OnModel(e events.ModelEvent)       { h.broadcast("model", e) }

// progressWebSocketHandler streams pipeline events to a websocket client
// until the client disconnects or the server shuts down.
func (s *Server) progressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Info("websocket subscriber connected", "remote_addr", r.RemoteAddr)

	msgs, cancel := s.hub.Subscribe()
	defer cancel()

	// Read pump: the client sends nothing meaningful, but reading is what
	// surfaces disconnects and pong frames.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-msgs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
