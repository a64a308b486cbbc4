// Package config holds the small amount of process-global mutable state the
// engine needs at request time: the JWT signing secret and the WebSocket
// idle-ping interval. Both are written rarely (at startup, or when an
// operator rotates a secret) and read on every guarded request or every
// WebSocket connection, so a sync.RWMutex is the right tool rather than
// threading a config struct through every call.
package config

import (
	"sync"
	"time"

	"github.com/corehttp/corehttp/pkg/constants"
)

type shared struct {
	mu             sync.RWMutex
	jwtSecret      []byte
	wsPingInterval time.Duration
	serverProduct  string
}

var global = &shared{
	wsPingInterval: constants.DefaultWSPingInterval,
	serverProduct:  "corehttp/1.0.0",
}

// SetJWTSecret installs the secret used to validate Bearer tokens.
func SetJWTSecret(secret []byte) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.jwtSecret = secret
}

// JWTSecret returns the currently configured signing secret.
func JWTSecret() []byte {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.jwtSecret
}

// SetWSPingInterval overrides the default WebSocket idle-ping interval.
func SetWSPingInterval(d time.Duration) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.wsPingInterval = d
}

// WSPingInterval returns the configured WebSocket idle-ping interval.
func WSPingInterval() time.Duration {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.wsPingInterval
}

// SetServerProduct overrides the Server response header value.
func SetServerProduct(name string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.serverProduct = name
}

// ServerProduct returns the Server response header value.
func ServerProduct() string {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.serverProduct
}
