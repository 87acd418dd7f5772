// Package listener serves a jsonrpc.Dispatcher to network clients.
//
// Both listeners bind when constructed, so address conflicts surface during
// setup, and serve once Run is called. Every accepted connection is handled
// on its own goroutine; requests on one connection are dispatched in receipt
// order. Cancelling the Run context stops accepting, waits up to the shutdown
// timeout for in-flight requests and then returns.
package listener

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/drblury/txnode/internal/runtime/logging"
)

// DefaultShutdownTimeout bounds the drain after the Run context ends.
const DefaultShutdownTimeout = 5 * time.Second

const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

type sessionKey struct{}

func withSession(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func sessionFrom(ctx context.Context) uint64 {
	id, _ := ctx.Value(sessionKey{}).(uint64)
	return id
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultShutdownTimeout
	}
	return d
}

func loggerOrDiscard(l logging.ServiceLogger) logging.ServiceLogger {
	if l == nil {
		return logging.NewDiscardLogger()
	}
	return l
}

// closeUnused releases a socket that was bound but never served. A socket
// already closed by a finished Run is not an error.
func closeUnused(ln net.Listener) error {
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func listen(addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp", addr)
}
