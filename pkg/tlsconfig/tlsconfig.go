// Package tlsconfig assembles the tls.Config used on both sides of the
// wire: the listener side (single certificate, no client auth) and the
// dial side (SNI, optional custom roots, optional client certificate).
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// NewServerConfig loads one PEM certificate/key pair and returns the
// listener-side config: that single cert, no client authentication, and
// TLS 1.2 as the floor.
func NewServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}, nil
}

// ClientOptions describes the dial-side TLS surface the transport exposes.
type ClientOptions struct {
	// ServerName is the SNI value and the name the peer certificate is
	// verified against. Empty means the dialer fills in the target host.
	ServerName string

	// SkipVerify disables certificate verification. It always wins, even
	// over a Base config that enables verification.
	SkipVerify bool

	// RootCAsPEM replaces the platform root store when non-empty.
	RootCAsPEM [][]byte

	// Client certificate for mutual TLS, either inline PEM or file paths.
	CertPEM, KeyPEM   []byte
	CertFile, KeyFile string

	// MinVersion/MaxVersion bound the negotiated protocol version. Zero
	// leaves the corresponding bound at its default (min TLS 1.2).
	MinVersion, MaxVersion uint16

	// Base, when set, is cloned and used as the starting point; the other
	// options are layered on top of it.
	Base *tls.Config
}

// NewClientConfig builds the dial-side tls.Config from opts. ALPN is pinned
// to http/1.1 so a server never negotiates the connection onto a framing
// this codec does not speak.
func NewClientConfig(opts ClientOptions) (*tls.Config, error) {
	var cfg *tls.Config
	if opts.Base != nil {
		cfg = opts.Base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg.NextProtos = []string{"http/1.1"}

	if opts.SkipVerify {
		cfg.InsecureSkipVerify = true
	}
	if cfg.ServerName == "" && opts.ServerName != "" {
		cfg.ServerName = opts.ServerName
	}
	if opts.MinVersion != 0 {
		cfg.MinVersion = opts.MinVersion
	}
	if opts.MaxVersion != 0 {
		cfg.MaxVersion = opts.MaxVersion
	}

	if len(opts.RootCAsPEM) > 0 && cfg.RootCAs == nil {
		pool := x509.NewCertPool()
		for i, pem := range opts.RootCAsPEM {
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("root CA %d: no parsable certificate", i)
			}
		}
		cfg.RootCAs = pool
	}

	cert, err := clientCertificate(opts)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		cfg.Certificates = append(cfg.Certificates, *cert)
	}

	return cfg, nil
}

func clientCertificate(opts ClientOptions) (*tls.Certificate, error) {
	certPEM, keyPEM := opts.CertPEM, opts.KeyPEM
	switch {
	case len(certPEM) > 0 && len(keyPEM) > 0:
	case opts.CertFile != "" && opts.KeyFile != "":
		var err error
		if certPEM, err = os.ReadFile(opts.CertFile); err != nil {
			return nil, fmt.Errorf("reading client certificate: %w", err)
		}
		if keyPEM, err = os.ReadFile(opts.KeyFile); err != nil {
			return nil, fmt.Errorf("reading client key: %w", err)
		}
	default:
		return nil, nil
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing client certificate pair: %w", err)
	}
	return &cert, nil
}

// VersionName renders a TLS version constant for logs.
func VersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	}
	return fmt.Sprintf("0x%04x", v)
}
