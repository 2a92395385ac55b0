// Package websocket pushes live statistics updates to the scan page.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/smartbin/internal/model"
)

const TypeWasteStatsUpdated = "waste_stats_updated"

// Message is one notification pushed to a client.
type Message struct {
	Type       string            `json:"type"`
	WasteStats *model.WasteStats `json:"waste_stats,omitempty"`
}

// Observer is told when clients come and go.
type Observer interface {
	ClientConnected()
	ClientDisconnected()
}

// Hub tracks connected clients per user.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	logger   *slog.Logger
	observer Observer
}

// NewHub creates a new Hub. observer may be nil.
func NewHub(logger *slog.Logger, observer Observer) *Hub {
	return &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		logger:   logger,
		observer: observer,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ClientConnected()
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set := h.clients[c.userID]
	_, ok := set[c]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
		close(c.send)
	}
	h.mu.Unlock()

	if ok && h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

// SendToUser delivers msg to every connection of userID.
func (h *Hub) SendToUser(userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the claim path
			h.logger.Warn("dropping message for slow client", "user_id", userID)
		}
	}
}

// NotifyStats pushes fresh totals to the user's open pages.
func (h *Hub) NotifyStats(userID string, stats model.WasteStats) {
	h.SendToUser(userID, Message{Type: TypeWasteStatsUpdated, WasteStats: &stats})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
