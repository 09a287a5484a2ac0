package realtime

import "sync"

// Client represents one connected websocket session of an authenticated user.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent senders.
// - done is used to signal goroutines to stop.
// - Revoke and Close are idempotent.
type Client struct {
	ID     string
	UserID string
	Send   chan Message

	done      chan struct{}
	closeOnce sync.Once

	revoked    chan struct{}
	revokeOnce sync.Once
	reason     string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, id string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 16
	}
	return &Client{
		ID:      id,
		UserID:  userID,
		Send:    make(chan Message, sendQueueSize),
		done:    make(chan struct{}),
		revoked: make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Revoke marks the session as ended by the server. The first reason wins.
func (c *Client) Revoke(reason string) {
	if c == nil {
		return
	}
	c.revokeOnce.Do(func() {
		c.reason = reason
		close(c.revoked)
	})
}

// Revoked is closed once Revoke was called.
func (c *Client) Revoked() <-chan struct{} { return c.revoked }

// Reason is only meaningful after Revoked is closed.
func (c *Client) Reason() string {
	select {
	case <-c.revoked:
		return c.reason
	default:
		return ""
	}
}
