// Package stream provides a uniform, mutex-guarded read/write seam over a
// plain or TLS-wrapped net.Conn, used by both the server loop and the
// WebSocket codec. The lock serializes request reads, response writes and
// WebSocket reads; Write itself takes no lock, so WebSocket writes (which
// the WebSocket Conn serializes with its own mutex) may overlap a
// WebSocket read.
package stream

import (
	"bufio"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corehttp/corehttp/pkg/errors"
)

var nextID uint64

// Conn wraps a single accepted or dialed connection.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader
	mu  sync.Mutex
	id  uint64
}

// New wraps raw in a Conn with a buffered reader sized for a typical
// request line plus headers.
func New(raw net.Conn) *Conn {
	return &Conn{
		raw: raw,
		br:  bufio.NewReaderSize(raw, 4096),
		id:  atomic.AddUint64(&nextID, 1),
	}
}

// ID returns a process-unique identifier for this connection, used in logs.
func (c *Conn) ID() uint64 { return c.id }

// Lock acquires exclusive use of the stream. Callers must Unlock when done;
// this is the "exactly one borrower" rule enforced explicitly rather than
// implicitly via goroutine ownership, since a WebSocket upgrade hands the
// same Conn to a different reader/writer pair than the one that accepted it.
func (c *Conn) Lock()   { c.mu.Lock() }
func (c *Conn) Unlock() { c.mu.Unlock() }

// Reader returns the buffered reader backing this connection. Callers must
// hold the lock.
func (c *Conn) Reader() *bufio.Reader { return c.br }

// Raw returns the underlying net.Conn, for deadline and address operations.
func (c *Conn) Raw() net.Conn { return c.raw }

// IsTLS reports whether the connection is TLS-wrapped.
func (c *Conn) IsTLS() bool {
	_, ok := c.raw.(*tls.Conn)
	return ok
}

// TLSState returns the negotiated TLS connection state, if any.
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	tc, ok := c.raw.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// Write writes p in full, honoring the given deadline when non-zero.
func (c *Conn) Write(p []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return errors.NewIOError("setting write deadline", err)
		}
		defer c.raw.SetWriteDeadline(time.Time{})
	}
	written := 0
	for written < len(p) {
		n, err := c.raw.Write(p[written:])
		if err != nil {
			return errors.NewIOError("writing stream", err)
		}
		written += n
	}
	return nil
}

// SetReadDeadline sets (or clears, when d == 0) the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	if d == 0 {
		return c.raw.SetReadDeadline(time.Time{})
	}
	return c.raw.SetReadDeadline(time.Now().Add(d))
}

// Peek is a thin forward to the buffered reader, returning the next n
// bytes without consuming them.
func (c *Conn) Peek(n int) ([]byte, error) {
	return c.br.Peek(n)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string {
	if c.raw == nil || c.raw.RemoteAddr() == nil {
		return ""
	}
	return c.raw.RemoteAddr().String()
}
