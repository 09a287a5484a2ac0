package realtime

import (
	"context"
	"log/slog"
	"sync"

	"schooltower/cmd/internal/events"
)

// Hub tracks live sockets per user so a revocation can reach all of them.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Join registers a client under its user.
func (h *Hub) Join(c *Client) {
	if h == nil || c == nil || c.ID == "" || c.UserID == "" {
		return
	}

	h.mu.Lock()
	set, ok := h.users[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.users[c.UserID] = set
	}
	set[c.ID] = c
	h.mu.Unlock()

	h.log.Debug("ws.client.join", "user_id", c.UserID, "client_id", c.ID)
}

// Leave removes a client and signals its shutdown.
func (h *Hub) Leave(c *Client) {
	if h == nil || c == nil {
		return
	}

	h.mu.Lock()
	if set, ok := h.users[c.UserID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.users, c.UserID)
		}
	}
	h.mu.Unlock()

	// Signal shutdown after removing from the index so KickUser never sees a dying client.
	c.Close()
	h.log.Debug("ws.client.leave", "user_id", c.UserID, "client_id", c.ID)
}

// KickUser revokes every socket of userID and returns how many were connected.
func (h *Hub) KickUser(userID, reason string) int {
	if h == nil || userID == "" {
		return 0
	}

	h.mu.Lock()
	set := h.users[userID]
	delete(h.users, userID)
	h.mu.Unlock()

	for _, c := range set {
		c.Revoke(reason)
	}
	if len(set) > 0 {
		h.log.Info("ws.user.kicked", "user_id", userID, "reason", reason, "sockets", len(set))
	}
	return len(set)
}

// Connected returns the number of live sockets for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Publish makes the hub an events.Publisher: session-revoking events kick the user.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	if ev.Type.RevokesSessions() && ev.UserID != "" {
		h.KickUser(ev.UserID, string(ev.Type))
	}
	return nil
}
