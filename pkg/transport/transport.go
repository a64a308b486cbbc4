// Package transport owns the dial side of the wire: it turns a
// (scheme, host, port) target into a plain or TLS net.Conn, optionally
// tunneled through an upstream HTTP CONNECT, SOCKS4, or SOCKS5 proxy, and
// keeps finished connections in a per-destination idle pool so a Session
// or reverse-proxy stage talking to the same place reuses its stream.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/timing"
	"github.com/corehttp/corehttp/pkg/tlsconfig"
)

// Config describes one dial: where to connect and how to dress the
// connection up.
type Config struct {
	// Scheme is "http" or "https" and decides whether the TCP stream is
	// wrapped in a TLS client handshake.
	Scheme string
	Host   string
	Port   int

	// SNI overrides the server name sent in the TLS handshake; empty means
	// Host. Peer certificates are verified against the same name.
	SNI string

	// InsecureTLS disables certificate verification, including when a
	// custom TLSConfig is supplied.
	InsecureTLS bool

	// RootCAsPEM replaces the platform trust store for this dial.
	RootCAsPEM [][]byte

	// Client certificate for mutual TLS, inline or from files.
	ClientCertPEM, ClientKeyPEM   []byte
	ClientCertFile, ClientKeyFile string

	// TLSConfig, when set, seeds the handshake config; InsecureTLS and the
	// version bounds still apply on top, while SNI (or Host) only fills in
	// the server name when the seed config leaves it empty.
	TLSConfig                    *tls.Config
	MinTLSVersion, MaxTLSVersion uint16

	// ConnTimeout bounds the TCP dial and TLS handshake (default 10s).
	// DNSTimeout bounds name resolution (default ConnTimeout).
	ConnTimeout time.Duration
	DNSTimeout  time.Duration

	// Reuse opts this dial into the idle pool: Connect may return a kept
	// connection, and Release will park it for the next caller.
	Reuse bool

	// Proxy tunnels the connection through an upstream proxy.
	Proxy *ProxyConfig
}

// ConnInfo describes how a connection came to be. Release and Discard use
// it to find the connection's pool slot.
type ConnInfo struct {
	ID     uint64
	Addr   string // address actually dialed (proxy address when tunneled)
	Local  string
	Remote string
	Reused bool

	TLSVersion    string
	TLSCipher     string
	TLSServerName string
	TLSResumed    bool

	ProxyVia string // "socks5://proxy:1080" when tunneled, else empty

	poolKey string
}

// Transport dials connections and pools the reusable ones.
type Transport struct {
	pool     PoolConfig
	resolver *net.Resolver

	mu    sync.Mutex
	hosts map[string]*idlePool

	nextID  uint64
	reused  uint64
	created uint64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New returns a Transport with DefaultPoolConfig.
func New() *Transport {
	return NewWithConfig(DefaultPoolConfig())
}

// NewWithConfig returns a Transport whose pooling behavior follows cfg.
// Zero-valued knobs fall back to their defaults.
func NewWithConfig(cfg PoolConfig) *Transport {
	cfg.fillDefaults()
	t := &Transport{
		pool:     cfg,
		resolver: net.DefaultResolver,
		hosts:    make(map[string]*idlePool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.janitor()
	return t
}

// Connect produces a ready connection for cfg, reusing a pooled one when
// cfg.Reuse allows it. The stopwatch records the DNS, connect, and TLS
// phases.
func (t *Transport) Connect(ctx context.Context, cfg Config, sw *timing.Stopwatch) (net.Conn, *ConnInfo, error) {
	if err := validate(cfg); err != nil {
		return nil, nil, err
	}
	key := poolKey(cfg)

	if cfg.Reuse {
		conn, info, err := t.checkout(key)
		if err != nil {
			return nil, nil, err
		}
		if conn != nil {
			return conn, info, nil
		}
	}

	conn, info, err := t.dial(ctx, cfg, sw)
	if err != nil {
		if cfg.Reuse {
			t.forget(key)
		}
		return nil, nil, err
	}
	info.ID = atomic.AddUint64(&t.nextID, 1)
	if cfg.Reuse {
		info.poolKey = key
		atomic.AddUint64(&t.created, 1)
	}
	return conn, info, nil
}

// Release parks conn for reuse by the next Connect against the same
// destination. Connections dialed without Reuse are simply closed.
func (t *Transport) Release(conn net.Conn, info *ConnInfo) {
	if info == nil || info.poolKey == "" {
		conn.Close()
		return
	}
	t.checkin(info.poolKey, conn, info)
}

// Discard closes conn and gives its pool slot back.
func (t *Transport) Discard(conn net.Conn, info *ConnInfo) {
	conn.Close()
	if info != nil && info.poolKey != "" {
		t.forget(info.poolKey)
	}
}

// Close stops the idle janitor and closes every pooled connection.
func (t *Transport) Close() error {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, hp := range t.hosts {
		hp.mu.Lock()
		for _, ic := range hp.idle {
			ic.conn.Close()
		}
		hp.idle = nil
		hp.mu.Unlock()
		delete(t.hosts, key)
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Host == "" {
		return errors.NewValidationError("host must not be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return errors.NewValidationError("port out of range")
	}
	if cfg.Scheme != "http" && cfg.Scheme != "https" {
		return errors.NewValidationError("scheme must be http or https")
	}
	return nil
}

// poolKey distinguishes destinations, and destinations reached through
// different proxies, so a tunneled stream is never handed to a direct
// caller.
func poolKey(cfg Config) string {
	key := cfg.Scheme + "://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if cfg.Proxy != nil {
		key += " via " + cfg.Proxy.URL()
	}
	return key
}

func (t *Transport) dial(ctx context.Context, cfg Config, sw *timing.Stopwatch) (net.Conn, *ConnInfo, error) {
	connTimeout := cfg.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = 10 * time.Second
	}

	info := &ConnInfo{}
	var conn net.Conn
	var err error

	if cfg.Proxy != nil {
		info.ProxyVia = cfg.Proxy.URL()
		sw.Begin(timing.PhaseConnect)
		conn, err = t.dialProxied(ctx, cfg, connTimeout)
		sw.End(timing.PhaseConnect)
		if err != nil {
			return nil, nil, err
		}
		info.Addr = cfg.Proxy.addr()
	} else {
		addr, rerr := t.resolve(ctx, cfg, connTimeout, sw)
		if rerr != nil {
			return nil, nil, rerr
		}
		sw.Begin(timing.PhaseConnect)
		conn, err = (&net.Dialer{Timeout: connTimeout, KeepAlive: 30 * time.Second}).DialContext(ctx, "tcp", addr)
		sw.End(timing.PhaseConnect)
		if err != nil {
			return nil, nil, errors.NewConnectionError(cfg.Host, cfg.Port, err)
		}
		info.Addr = addr
	}

	if la := conn.LocalAddr(); la != nil {
		info.Local = la.String()
	}
	if ra := conn.RemoteAddr(); ra != nil {
		info.Remote = ra.String()
	}

	if cfg.Scheme == "https" {
		conn, err = t.handshake(ctx, conn, cfg, connTimeout, sw, info)
		if err != nil {
			return nil, nil, errors.NewTLSError(cfg.Host, cfg.Port, err)
		}
	}
	return conn, info, nil
}

// resolve maps cfg.Host to a dialable ip:port. Literal IPs skip the
// resolver entirely.
func (t *Transport) resolve(ctx context.Context, cfg Config, connTimeout time.Duration, sw *timing.Stopwatch) (string, error) {
	port := strconv.Itoa(cfg.Port)
	if ip := net.ParseIP(cfg.Host); ip != nil {
		return net.JoinHostPort(cfg.Host, port), nil
	}

	timeout := cfg.DNSTimeout
	if timeout <= 0 {
		timeout = connTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sw.Begin(timing.PhaseDNS)
	addrs, err := t.resolver.LookupIPAddr(lookupCtx, cfg.Host)
	sw.End(timing.PhaseDNS)
	if err != nil {
		return "", errors.NewDNSError(cfg.Host, err)
	}
	if len(addrs) == 0 {
		return "", errors.NewDNSError(cfg.Host, errors.NewValidationError("resolver returned no addresses"))
	}
	return net.JoinHostPort(addrs[0].IP.String(), port), nil
}

func (t *Transport) handshake(ctx context.Context, conn net.Conn, cfg Config, connTimeout time.Duration, sw *timing.Stopwatch, info *ConnInfo) (net.Conn, error) {
	serverName := cfg.SNI
	if serverName == "" {
		serverName = cfg.Host
	}
	tcfg, err := tlsconfig.NewClientConfig(tlsconfig.ClientOptions{
		ServerName: serverName,
		SkipVerify: cfg.InsecureTLS,
		RootCAsPEM: cfg.RootCAsPEM,
		CertPEM:    cfg.ClientCertPEM,
		KeyPEM:     cfg.ClientKeyPEM,
		CertFile:   cfg.ClientCertFile,
		KeyFile:    cfg.ClientKeyFile,
		MinVersion: cfg.MinTLSVersion,
		MaxVersion: cfg.MaxTLSVersion,
		Base:       cfg.TLSConfig,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	hsCtx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()

	tlsConn := tls.Client(conn, tcfg)
	sw.Begin(timing.PhaseTLS)
	err = tlsConn.HandshakeContext(hsCtx)
	sw.End(timing.PhaseTLS)
	if err != nil {
		conn.Close()
		return nil, err
	}

	state := tlsConn.ConnectionState()
	info.TLSVersion = tlsconfig.VersionName(state.Version)
	info.TLSCipher = tls.CipherSuiteName(state.CipherSuite)
	info.TLSServerName = tcfg.ServerName
	info.TLSResumed = state.DidResume
	return tlsConn, nil
}
