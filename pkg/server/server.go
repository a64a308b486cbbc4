// Package server drives the accept loop and per-connection read/run/write
// cycle that feeds parsed requests into a pipeline.Engine. It owns nothing
// about routing or handler dispatch; that lives entirely in pkg/pipeline.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/corehttp/corehttp/pkg/codec"
	cerrors "github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/headers"
	"github.com/corehttp/corehttp/pkg/log"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/pipeline"
	"github.com/corehttp/corehttp/pkg/stream"
	"github.com/corehttp/corehttp/pkg/tlsconfig"
)

// Server accepts connections on a listener and runs each one through an
// Engine until the peer closes or a handler asks to close the connection.
type Server struct {
	Engine *pipeline.Engine

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New builds a Server around a fixed, already-configured pipeline.
func New(engine *pipeline.Engine) *Server {
	return &Server{Engine: engine}
}

// ServeHTTP accepts plaintext connections on addr until Close is called.
func (s *Server) ServeHTTP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cerrors.NewIOError("listening on "+addr, err)
	}
	return s.serve(ln)
}

// ServeHTTPS accepts TLS connections on addr, terminating TLS with the
// certificate/key pair at certFile/keyFile.
func (s *Server) ServeHTTPS(addr, certFile, keyFile string) error {
	cfg, err := tlsconfig.NewServerConfig(certFile, keyFile)
	if err != nil {
		return err
	}
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return cerrors.NewIOError("listening on "+addr, err)
	}
	return s.serve(ln)
}

// Serve runs the accept loop against an already-bound listener, matching
// the stdlib net/http.Server.Serve convention. Useful when the caller needs
// the bound address (e.g. an ephemeral ":0" port) before requests arrive.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			log.Logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConnection(conn)
	}
}

// Close stops the accept loop; connections already being served run to
// their own natural completion.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConnection runs the request/response loop for a single accepted
// connection, exiting on I/O error, an explicit "Connection: close", or
// once a stage has taken ownership of the stream (a WebSocket upgrade).
func (s *Server) handleConnection(raw net.Conn) {
	conn := stream.New(raw)
	logger := log.Conn(conn.ID(), conn.RemoteAddr())
	defer conn.Close()

	if tc, ok := raw.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			logger.Warn().Err(err).Msg("tls handshake failed")
			return
		}
	}

	for {
		keepGoing, err := s.serveOneRequest(conn)
		if err != nil {
			if !isClosedConnError(err) {
				logger.Debug().Err(err).Msg("connection ended")
			}
			return
		}
		if !keepGoing {
			return
		}
	}
}

// serveOneRequest parses, dispatches, and answers exactly one request. It
// reports whether the connection should be kept open for a further request.
func (s *Server) serveOneRequest(conn *stream.Conn) (bool, error) {
	conn.Lock()
	req, err := codec.ParseRequestHead(conn)
	if err != nil {
		conn.Unlock()
		return false, err
	}
	if err := codec.ReadRequestBody(conn, req); err != nil {
		conn.Unlock()
		if cerrors.GetErrorType(err) == cerrors.ErrorTypeProtocol {
			return false, err
		}
		_ = writeError(conn, err)
		return false, nil
	}
	conn.Unlock()

	req.Extensions.PeerAddr = conn.RemoteAddr()
	req.Extensions.Stream = conn
	acceptsGzip := codec.DetectAcceptsGzip(req)
	wantsClose := isConnectionClose(req)

	resp, err := s.Engine.Run(context.Background(), req, conn)
	if err != nil {
		if cerrors.GetErrorType(err) == cerrors.ErrorTypeProtocol {
			return false, err
		}
		_ = writeError(conn, err)
		return false, nil
	}
	if resp == nil {
		// A stage took ownership of the stream (WebSocket upgrade, proxied
		// upgrade, ...); the server loop has nothing further to write.
		return false, nil
	}

	if wantsClose {
		resp.Headers.Set("Connection", "close")
	}

	out := codec.SerializeResponse(resp, acceptsGzip)
	conn.Lock()
	writeErr := conn.Write(out, 0)
	conn.Unlock()
	if writeErr != nil {
		return false, writeErr
	}

	return !wantsClose, nil
}

func isConnectionClose(req *message.Request) bool {
	if v := req.Headers.GetKnown(headers.Connection); v != "" {
		return strings.EqualFold(strings.TrimSpace(v), "close")
	}
	return req.Version == "HTTP/1.0"
}

// writeError renders err as a best-effort response (status per the error's
// category) and writes it directly, bypassing the pipeline since no stage
// ran successfully.
func writeError(conn *stream.Conn, err error) error {
	resp := message.NewResponse(cerrors.StatusCode(err), []byte(err.Error()))
	resp.Headers.Set("Content-Type", "text/plain")
	resp.Headers.Set("Connection", "close")
	out := codec.SerializeResponse(resp, false)
	conn.Lock()
	defer conn.Unlock()
	return conn.Write(out, 0)
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
