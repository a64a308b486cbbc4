package websocket

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"

	"github.com/corehttp/corehttp/pkg/constants"
)

// AcceptKey computes the Sec-WebSocket-Accept value for a given
// Sec-WebSocket-Key, per RFC 6455 §1.3: SHA1(key + GUID), base64-encoded.
func AcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(constants.WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewClientKey returns a fresh, process-unique random Sec-WebSocket-Key for
// the client connector to send in its handshake request. An earlier design
// used a hardcoded constant key here; that has no protocol benefit (the key
// only guards against non-WebSocket-aware proxies caching a handshake) and
// a random key costs nothing, so this resolves that open question in favor
// of a real random value.
func NewClientKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable; a zero key still produces a
		// structurally valid handshake.
		return base64.StdEncoding.EncodeToString(buf)
	}
	return base64.StdEncoding.EncodeToString(buf)
}
