package livefeed

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/carewire/nursecall-platform/internal/bridge"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

const subscriberBuffer = 32

// Bus fans bridge lifecycle events out to connected dashboard clients. It
// implements bridge.EventPublisher; Publish never blocks, slow subscribers
// drop events instead of stalling a call.
type Bus struct {
	logger *logging.Logger

	mu          sync.RWMutex
	subscribers map[string]chan bridge.Event
}

// NewBus creates an empty event bus.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[string]chan bridge.Event),
	}
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(event bridge.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("live feed subscriber lagging, event dropped", "subscriber_id", id, "type", event.Type)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func.
func (b *Bus) Subscribe() (string, <-chan bridge.Event, func()) {
	id := uuid.NewString()
	ch := make(chan bridge.Event, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch, func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// SubscriberCount reports the number of connected clients.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

var _ bridge.EventPublisher = (*Bus)(nil)

// inboundMessage is what a dashboard client sends.
type inboundMessage struct {
	Type string `json:"type"` // "ping"
}

// outboundMessage is what we send to a dashboard client.
type outboundMessage struct {
	Type    string        `json:"type"` // "event", "pong", "hello"
	Event   *bridge.Event `json:"event,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Handler serves the dashboard's live call feed over WebSocket.
type Handler struct {
	bus    *Bus
	logger *logging.Logger
}

// NewHandler creates a live feed handler backed by the bus.
func NewHandler(bus *Bus, logger *logging.Logger) *Handler {
	if bus == nil {
		panic("livefeed: bus cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{bus: bus, logger: logger}
}

// HandleWebSocket upgrades to WebSocket and streams bridge events.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	id, events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	_ = websocket.JSON.Send(conn, outboundMessage{Type: "hello", Message: "live feed connected"})
	h.logger.Info("live feed client connected", "subscriber_id", id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg inboundMessage
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				_ = websocket.JSON.Send(conn, outboundMessage{Type: "pong"})
			}
		}
	}()

	for {
		select {
		case <-done:
			h.logger.Debug("live feed client disconnected", "subscriber_id", id)
			return
		case <-r.Context().Done():
			return
		case event := <-events:
			if err := websocket.JSON.Send(conn, outboundMessage{Type: "event", Event: &event}); err != nil {
				h.logger.Debug("live feed send failed, closing", "subscriber_id", id, "error", err)
				return
			}
		}
	}
}
