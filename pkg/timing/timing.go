// Package timing breaks a client round trip down into its wire phases:
// name resolution, TCP connect, TLS handshake, and the wait for the first
// response byte. The transport records the connection phases, the client
// records first-byte, and the finished Metrics ride back on the Response.
package timing

import (
	"fmt"
	"time"
)

// Phase names one measured segment of a round trip.
type Phase int

const (
	PhaseDNS Phase = iota
	PhaseConnect
	PhaseTLS
	PhaseFirstByte

	numPhases
)

// String returns the phase name used in Metrics.String output.
func (p Phase) String() string {
	switch p {
	case PhaseDNS:
		return "dns"
	case PhaseConnect:
		return "connect"
	case PhaseTLS:
		return "tls"
	case PhaseFirstByte:
		return "first_byte"
	}
	return "unknown"
}

// Metrics is the finished per-request latency breakdown. A phase that never
// ran (TLS on a plain connection, DNS on a literal IP) stays zero.
type Metrics struct {
	DNS       time.Duration `json:"dns"`
	Connect   time.Duration `json:"connect"`
	TLS       time.Duration `json:"tls"`
	FirstByte time.Duration `json:"first_byte"`
	Total     time.Duration `json:"total"`
}

// Setup is the connection establishment portion: DNS + connect + TLS.
func (m Metrics) Setup() time.Duration {
	return m.DNS + m.Connect + m.TLS
}

// Wire is everything that was not spent waiting on the server.
func (m Metrics) Wire() time.Duration {
	return m.Total - m.FirstByte
}

func (m Metrics) String() string {
	return fmt.Sprintf("dns=%v connect=%v tls=%v first_byte=%v total=%v",
		m.DNS, m.Connect, m.TLS, m.FirstByte, m.Total)
}

// Stopwatch accumulates phase durations for one round trip. It is owned by
// a single goroutine for the duration of the request and is not safe for
// concurrent use.
type Stopwatch struct {
	started time.Time
	open    [numPhases]time.Time
	spent   [numPhases]time.Duration
}

// Start returns a running Stopwatch; Total counts from this moment.
func Start() *Stopwatch {
	return &Stopwatch{started: time.Now()}
}

// Begin marks the start of phase p. A second Begin before End restarts it.
func (s *Stopwatch) Begin(p Phase) {
	s.open[p] = time.Now()
}

// End closes phase p, adding the elapsed time since its Begin. An End
// without a matching Begin is ignored.
func (s *Stopwatch) End(p Phase) {
	if s.open[p].IsZero() {
		return
	}
	s.spent[p] += time.Since(s.open[p])
	s.open[p] = time.Time{}
}

// Measure runs fn inside a Begin/End pair for phase p.
func (s *Stopwatch) Measure(p Phase, fn func() error) error {
	s.Begin(p)
	defer s.End(p)
	return fn()
}

// Snapshot materializes the Metrics recorded so far. Total is the time
// since Start, so a Snapshot taken after the response is read yields the
// end-to-end figure.
func (s *Stopwatch) Snapshot() Metrics {
	return Metrics{
		DNS:       s.spent[PhaseDNS],
		Connect:   s.spent[PhaseConnect],
		TLS:       s.spent[PhaseTLS],
		FirstByte: s.spent[PhaseFirstByte],
		Total:     time.Since(s.started),
	}
}
