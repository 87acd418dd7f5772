package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	"github.com/drblury/txnode/internal/runtime/jsonrpc"
	"github.com/drblury/txnode/internal/runtime/logging"
)

const closeWriteWait = time.Second

type WSOptions struct {
	Logger logging.ServiceLogger
	// MaxMessageBytes limits one inbound frame; larger frames close the
	// connection.
	MaxMessageBytes int64
	ShutdownTimeout time.Duration
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

// WSListener keeps persistent WebSocket connections. Each connection reads,
// dispatches and answers one message at a time.
type WSListener struct {
	dispatcher *jsonrpc.Dispatcher
	logger     logging.ServiceLogger
	ln         net.Listener
	server     *http.Server
	upgrader   websocket.Upgrader
	maxMessage int64
	drain      time.Duration
	sessions   atomic.Uint64

	mu       sync.Mutex
	closing  bool
	conns    map[*websocket.Conn]struct{}
	inflight sync.WaitGroup
}

// ListenWS binds addr and prepares the server. It does not serve until Run.
func ListenWS(addr string, d *jsonrpc.Dispatcher, opts WSOptions) (*WSListener, error) {
	if d == nil {
		return nil, errspkg.ErrDispatcherRequired
	}
	ln, err := listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen ws %s: %w", addr, err)
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	l := &WSListener{
		dispatcher: d,
		logger:     loggerOrDiscard(opts.Logger),
		ln:         ln,
		upgrader:   websocket.Upgrader{CheckOrigin: checkOrigin},
		maxMessage: opts.MaxMessageBytes,
		drain:      shutdownTimeout(opts.ShutdownTimeout),
		conns:      make(map[*websocket.Conn]struct{}),
	}
	if l.maxMessage <= 0 {
		l.maxMessage = DefaultMaxBodyBytes
	}
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.handleUpgrade),
		ReadHeaderTimeout: 5 * time.Second,
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return withSession(ctx, l.sessions.Add(1))
		},
	}
	return l, nil
}

func (l *WSListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close releases the bound socket of a listener that will not be run.
func (l *WSListener) Close() error {
	return closeUnused(l.ln)
}

// Run serves until ctx is cancelled. On cancellation it stops accepting,
// lets in-flight calls finish within the shutdown timeout and closes every
// open connection.
func (l *WSListener) Run(ctx context.Context) error {
	l.logger.Info("Starting WebSocket listener", logging.LogFields{"address": l.Addr().String()})

	errCh := make(chan error, 1)
	go func() {
		err := l.server.Serve(l.ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), l.drain)
		defer cancel()
		if err := l.server.Shutdown(shutdownCtx); err != nil {
			_ = l.server.Close()
		}
		l.closeConnections(shutdownCtx)
		<-errCh
		l.logger.Info("WebSocket listener stopped", logging.LogFields{"address": l.Addr().String()})
		return nil
	case err := <-errCh:
		l.closeConnections(context.Background())
		if err != nil {
			return fmt.Errorf("serve ws %s: %w", l.Addr(), err)
		}
		return nil
	}
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("WebSocket upgrade rejected", logging.LogFields{"remote_addr": r.RemoteAddr, "error": err.Error()})
		return
	}
	if !l.track(conn) {
		_ = conn.Close()
		return
	}
	defer l.untrack(conn)

	meta := jsonrpc.Meta{
		Session:    sessionFrom(r.Context()),
		Transport:  TransportWS,
		RemoteAddr: r.RemoteAddr,
	}
	logger := l.logger.With(logging.LogFields{"session": meta.Session, "remote_addr": meta.RemoteAddr})
	logger.Debug("WebSocket connection opened", nil)
	l.serve(context.WithoutCancel(r.Context()), conn, meta, logger)
	logger.Debug("WebSocket connection closed", nil)
}

func (l *WSListener) serve(ctx context.Context, conn *websocket.Conn, meta jsonrpc.Meta, logger logging.ServiceLogger) {
	conn.SetReadLimit(l.maxMessage)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read failed", logging.LogFields{"error": err.Error()})
			}
			return
		}
		if !l.begin() {
			return
		}
		reply := l.dispatch(ctx, payload, meta, logger)
		if reply != nil {
			err = conn.WriteMessage(websocket.TextMessage, reply)
		}
		l.inflight.Done()
		if err != nil {
			logger.Debug("WebSocket write failed", logging.LogFields{"error": err.Error()})
			return
		}
	}
}

func (l *WSListener) dispatch(ctx context.Context, payload []byte, meta jsonrpc.Meta, logger logging.ServiceLogger) (reply []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("WebSocket request panicked", fmt.Errorf("panic: %v", rec), nil)
			reply = jsonrpc.InternalErrorResponse()
		}
	}()
	return l.dispatcher.Dispatch(ctx, payload, meta)
}

// begin registers an in-flight call unless the listener is shutting down.
func (l *WSListener) begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return false
	}
	l.inflight.Add(1)
	return true
}

func (l *WSListener) track(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *WSListener) untrack(conn *websocket.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	_ = conn.Close()
}

// openConnections reports how many connections are currently tracked.
func (l *WSListener) openConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *WSListener) closeConnections(ctx context.Context) {
	l.mu.Lock()
	l.closing = true
	conns := make([]*websocket.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Error("WebSocket drain incomplete", ctx.Err(), logging.LogFields{"connections": len(conns)})
	}

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		_ = c.Close()
	}
}
