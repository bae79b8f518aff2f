// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection message rate limit. High because interactive sessions
	// stream pointer moves over the same socket.
	RateLimitMessages = 240
	RateLimitWindow   = time.Second

	// JPEG quality for frame and preview payloads
	FrameJPEGQuality = 70

	// Per-connection frame write deadline. A consumer that stops reading
	// gets its pending writes dropped, never a stalled render loop.
	FrameWriteTimeout = 2 * time.Second

	// Event history returned by the REST API
	EventHistoryLimit = 50
)
