package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit). Clients only send pings.
	maxFrameBytes = 4 << 10 // 4 KiB
)

const (
	// Heartbeat defaults (can be overridden by env).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
