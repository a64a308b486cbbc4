package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/log"
)

// PoolConfig tunes the per-destination idle pool.
type PoolConfig struct {
	// MaxIdlePerHost caps parked connections per destination (default 2).
	MaxIdlePerHost int

	// MaxPerHost caps total checked-out plus idle connections per
	// destination; 0 means unlimited. When the cap is hit, Connect fails
	// rather than queueing.
	MaxPerHost int

	// IdleExpiry is how long a parked connection may sit unused before the
	// janitor closes it (default 90s).
	IdleExpiry time.Duration

	// ProbeAfter is the idle age past which a connection is liveness-probed
	// before being handed out again (default 1s). Fresher connections skip
	// the probe.
	ProbeAfter time.Duration
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdlePerHost: 2,
		IdleExpiry:     90 * time.Second,
		ProbeAfter:     time.Second,
	}
}

func (c *PoolConfig) fillDefaults() {
	if c.MaxIdlePerHost <= 0 {
		c.MaxIdlePerHost = 2
	}
	if c.IdleExpiry <= 0 {
		c.IdleExpiry = 90 * time.Second
	}
	if c.ProbeAfter <= 0 {
		c.ProbeAfter = time.Second
	}
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	Active  int
	Idle    int
	Reused  uint64
	Created uint64
	PerHost map[string]HostStats
}

// HostStats is the occupancy of one destination's pool.
type HostStats struct {
	Active int
	Idle   int
}

type idleConn struct {
	conn  net.Conn
	info  ConnInfo
	since time.Time
}

// idlePool tracks one destination: parked connections plus a count of
// checked-out ones, so MaxPerHost can be enforced.
type idlePool struct {
	mu     sync.Mutex
	idle   []idleConn
	active int
}

func (t *Transport) hostPool(key string) *idlePool {
	t.mu.Lock()
	defer t.mu.Unlock()
	hp := t.hosts[key]
	if hp == nil {
		hp = &idlePool{}
		t.hosts[key] = hp
	}
	return hp
}

// checkout hands back a parked connection for key, or (nil, nil, nil) with
// a slot reserved when the caller should dial fresh. Expired and dead
// connections found along the way are dropped.
func (t *Transport) checkout(key string) (net.Conn, *ConnInfo, error) {
	hp := t.hostPool(key)
	hp.mu.Lock()
	defer hp.mu.Unlock()

	for len(hp.idle) > 0 {
		ic := hp.idle[len(hp.idle)-1]
		hp.idle = hp.idle[:len(hp.idle)-1]

		age := time.Since(ic.since)
		if age > t.pool.IdleExpiry || (age > t.pool.ProbeAfter && !alive(ic.conn)) {
			ic.conn.Close()
			continue
		}

		hp.active++
		atomic.AddUint64(&t.reused, 1)
		info := ic.info
		info.Reused = true
		return ic.conn, &info, nil
	}

	if t.pool.MaxPerHost > 0 && hp.active >= t.pool.MaxPerHost {
		return nil, nil, errors.NewConnectionError(key, 0,
			errors.NewValidationError("connection pool exhausted"))
	}
	hp.active++
	return nil, nil, nil
}

// checkin parks conn under key, or closes it when the idle list is full.
func (t *Transport) checkin(key string, conn net.Conn, info *ConnInfo) {
	hp := t.hostPool(key)
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if hp.active > 0 {
		hp.active--
	}
	if len(hp.idle) >= t.pool.MaxIdlePerHost {
		conn.Close()
		return
	}
	hp.idle = append(hp.idle, idleConn{conn: conn, info: *info, since: time.Now()})
}

// forget releases a reserved or checked-out slot without parking anything.
func (t *Transport) forget(key string) {
	hp := t.hostPool(key)
	hp.mu.Lock()
	if hp.active > 0 {
		hp.active--
	}
	hp.mu.Unlock()
}

// alive probes a parked connection with a 1ms read. A timeout means the
// peer is still there and silent; data or any error means the connection
// is unusable for a fresh request.
func alive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})
	var probe [1]byte
	_, err := conn.Read(probe[:])
	nerr, ok := err.(net.Error)
	return ok && nerr.Timeout()
}

// Stats snapshots pool occupancy across every destination.
func (t *Transport) Stats() PoolStats {
	stats := PoolStats{
		PerHost: make(map[string]HostStats),
		Reused:  atomic.LoadUint64(&t.reused),
		Created: atomic.LoadUint64(&t.created),
	}
	t.mu.Lock()
	keys := make(map[string]*idlePool, len(t.hosts))
	for k, hp := range t.hosts {
		keys[k] = hp
	}
	t.mu.Unlock()

	for k, hp := range keys {
		hp.mu.Lock()
		hs := HostStats{Active: hp.active, Idle: len(hp.idle)}
		hp.mu.Unlock()
		stats.Active += hs.Active
		stats.Idle += hs.Idle
		stats.PerHost[k] = hs
	}
	return stats
}

// janitor sweeps expired idle connections until Close.
func (t *Transport) janitor() {
	defer close(t.done)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stop:
			return
		}
	}
}

func (t *Transport) sweep() {
	t.mu.Lock()
	pools := make(map[string]*idlePool, len(t.hosts))
	for k, hp := range t.hosts {
		pools[k] = hp
	}
	t.mu.Unlock()

	for key, hp := range pools {
		hp.mu.Lock()
		kept := hp.idle[:0]
		evicted := 0
		for _, ic := range hp.idle {
			if time.Since(ic.since) > t.pool.IdleExpiry {
				ic.conn.Close()
				evicted++
			} else {
				kept = append(kept, ic)
			}
		}
		hp.idle = kept
		hp.mu.Unlock()
		if evicted > 0 {
			log.Logger.Debug().Str("pool", key).Int("evicted", evicted).Msg("idle connections expired")
		}
	}
}
