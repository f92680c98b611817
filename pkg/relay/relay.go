package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

const DefaultBuffer = 64

// Frame types pushed to dashboard clients.
const (
	FrameHello   = "hello"
	FrameMessage = "message"
	FrameStatus  = "status"
	FrameError   = "error"
)

type Frame struct {
	Type    string    `json:"type"`
	Session string    `json:"session,omitempty"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type Client struct {
	ID   string
	Send chan Frame
}

// Hub fans frames out to every registered client. A client whose buffer
// is full misses the frame rather than stalling the others.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	buffer  int
	stopped bool
	logger  *slog.Logger
}

func New(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		buffer:  buffer,
		logger:  logger,
	}
}

// Register adds a client. It returns nil once the hub is stopped.
func (h *Hub) Register() *Client {
	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan Frame, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.clients[client.ID] = client
	telemetry.Metrics.RelayClients.Set(float64(len(h.clients)))
	return client
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		close(c.Send)
		delete(h.clients, id)
		telemetry.Metrics.RelayClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) Broadcast(f Frame) {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.Send <- f:
		default:
			telemetry.Metrics.RelayDropped.Inc()
			h.logger.Warn("relay: client send buffer full", slog.String("client", id))
		}
	}
}

// Publish wraps a decoded live message in a message frame.
func (h *Hub) Publish(msg any) {
	h.Broadcast(Frame{Type: FrameMessage, Data: msg})
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and rejects later registrations.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for id, c := range h.clients {
		close(c.Send)
		delete(h.clients, id)
	}
	telemetry.Metrics.RelayClients.Set(0)
}
