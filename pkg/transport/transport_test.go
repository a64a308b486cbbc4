package transport

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/corehttp/corehttp/pkg/timing"
)

// sinkListener accepts connections and silently drains them until closed.
func sinkListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()
	return ln
}

func configFor(ln net.Listener, reuse bool) Config {
	addr := ln.Addr().(*net.TCPAddr)
	return Config{
		Scheme:      "http",
		Host:        addr.IP.String(),
		Port:        addr.Port,
		ConnTimeout: 2 * time.Second,
		Reuse:       reuse,
	}
}

func TestConnectDirect(t *testing.T) {
	ln := sinkListener(t)
	defer ln.Close()
	tr := New()
	defer tr.Close()

	conn, info, err := tr.Connect(context.Background(), configFor(ln, false), timing.Start())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if info.Reused {
		t.Fatal("fresh dial reported as reused")
	}
	if info.Addr != ln.Addr().String() {
		t.Fatalf("info.Addr = %q, want %q", info.Addr, ln.Addr().String())
	}
	if info.ID == 0 {
		t.Fatal("connection ID not assigned")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tr := New()
	defer tr.Close()
	cases := []Config{
		{Scheme: "http", Host: "", Port: 80},
		{Scheme: "http", Host: "example.com", Port: 0},
		{Scheme: "http", Host: "example.com", Port: 70000},
		{Scheme: "gopher", Host: "example.com", Port: 70},
	}
	for _, cfg := range cases {
		if _, _, err := tr.Connect(context.Background(), cfg, timing.Start()); err == nil {
			t.Fatalf("Connect(%+v) succeeded, want validation error", cfg)
		}
	}
}

func TestPoolReuse(t *testing.T) {
	ln := sinkListener(t)
	defer ln.Close()
	tr := New()
	defer tr.Close()

	cfg := configFor(ln, true)
	conn, info, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	tr.Release(conn, info)

	conn2, info2, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	defer tr.Discard(conn2, info2)

	if !info2.Reused {
		t.Fatal("expected the parked connection back")
	}
	if conn2 != conn {
		t.Fatal("got a different connection than the one released")
	}
	stats := tr.Stats()
	if stats.Reused != 1 || stats.Created != 1 {
		t.Fatalf("stats = %+v, want Reused=1 Created=1", stats)
	}
}

func TestPoolExhaustion(t *testing.T) {
	ln := sinkListener(t)
	defer ln.Close()
	tr := NewWithConfig(PoolConfig{MaxPerHost: 1})
	defer tr.Close()

	cfg := configFor(ln, true)
	conn, info, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("first Connect: %v", err)
	}

	if _, _, err := tr.Connect(context.Background(), cfg, timing.Start()); err == nil {
		t.Fatal("second Connect succeeded past MaxPerHost=1")
	} else if !strings.Contains(err.Error(), "exhausted") {
		t.Fatalf("unexpected error: %v", err)
	}

	// Discard frees the slot.
	tr.Discard(conn, info)
	conn3, info3, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("Connect after Discard: %v", err)
	}
	tr.Discard(conn3, info3)
}

func TestIdleExpiryDropsStaleConnections(t *testing.T) {
	ln := sinkListener(t)
	defer ln.Close()
	tr := NewWithConfig(PoolConfig{IdleExpiry: 10 * time.Millisecond, ProbeAfter: time.Millisecond})
	defer tr.Close()

	cfg := configFor(ln, true)
	conn, info, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.Release(conn, info)
	time.Sleep(30 * time.Millisecond)

	conn2, info2, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("Connect after expiry: %v", err)
	}
	defer tr.Discard(conn2, info2)
	if info2.Reused {
		t.Fatal("expired connection was handed back out")
	}
}

func TestCheckoutSkipsDeadConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	peers := make(chan net.Conn, 1)
	go func() {
		if c, err := ln.Accept(); err == nil {
			peers <- c
		}
	}()
	tr := NewWithConfig(PoolConfig{ProbeAfter: time.Millisecond})
	defer tr.Close()

	cfg := configFor(ln, true)
	conn, info, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.Release(conn, info)

	// Kill the peer so the parked connection reads EOF on probe.
	(<-peers).Close()
	time.Sleep(20 * time.Millisecond)

	if got := alive(conn); got {
		t.Fatal("alive() = true for a connection whose peer is gone")
	}
}

func TestPoolKeySeparatesProxiedDials(t *testing.T) {
	direct := poolKey(Config{Scheme: "http", Host: "example.com", Port: 80})
	proxied := poolKey(Config{
		Scheme: "http", Host: "example.com", Port: 80,
		Proxy: &ProxyConfig{Scheme: "socks5", Host: "hop", Port: 1080},
	})
	if direct == proxied {
		t.Fatalf("proxied and direct dials share pool key %q", direct)
	}
}

func TestStatsPerHost(t *testing.T) {
	ln := sinkListener(t)
	defer ln.Close()
	tr := New()
	defer tr.Close()

	cfg := configFor(ln, true)
	conn, info, err := tr.Connect(context.Background(), cfg, timing.Start())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	stats := tr.Stats()
	if stats.Active != 1 {
		t.Fatalf("Active = %d, want 1", stats.Active)
	}
	tr.Release(conn, info)

	stats = tr.Stats()
	if stats.Active != 0 || stats.Idle != 1 {
		t.Fatalf("after release: %+v, want Active=0 Idle=1", stats)
	}
	if _, ok := stats.PerHost[poolKey(cfg)]; !ok {
		t.Fatalf("PerHost missing key %q: %v", poolKey(cfg), stats.PerHost)
	}
}
