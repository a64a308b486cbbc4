// Package constants defines magic numbers and default values used throughout corehttp.
package constants

import "time"

// Connection defaults
const (
	DefaultConnTimeout = 10 * time.Second
	DefaultReadTimeout = 30 * time.Second
	DefaultIdleTimeout = 90 * time.Second
)

// HTTP limits
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
	MaxHeaderCount   = 96
	InitialReadBuf   = 4 * 1024 // 4KiB
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
)

// WebSocket defaults
const (
	DefaultWSPingInterval = 60 * time.Second
	WebSocketGUID         = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxFramePayload       = 16 * 1024 * 1024 // 16MB
)
