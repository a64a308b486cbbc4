// Package log provides the engine's ambient operational logging: connection
// accept errors, TLS handshake failures, and recovered handler panics. It
// never logs request/response bodies. Built on zerolog, the same structured
// logger used across the corehttp stack's sibling proxy/auth services.
package log

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

// Logger is the package-level logger. It always writes console-formatted
// lines to stderr; there is no JSON output mode.
var Logger = newLogger(os.Stderr)

func newLogger(w io.Writer) zerolog.Logger {
	if f, ok := w.(*os.File); ok {
		w = colorable.NewColorable(f)
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Conn returns a logger scoped to a single connection, for the server loop's
// per-connection log lines (TLS handshake failure, connection end).
func Conn(id uint64, remote string) zerolog.Logger {
	return Logger.With().Uint64("conn", id).Str("remote", remote).Logger()
}
