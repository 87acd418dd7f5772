package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	"github.com/drblury/txnode/internal/runtime/jsonrpc"
	"github.com/drblury/txnode/internal/runtime/logging"
	"github.com/drblury/txnode/internal/runtime/metadata"
)

// DefaultMaxBodyBytes caps a request body when HTTPOptions leaves it unset.
const DefaultMaxBodyBytes int64 = 1 << 20

type HTTPOptions struct {
	Logger       logging.ServiceLogger
	MaxBodyBytes int64
	// RateLimitRPS enables a per-client token bucket when positive.
	RateLimitRPS   float64
	RateLimitBurst int
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// Handlers are mounted next to the RPC route, keyed by pattern.
	Handlers        map[string]http.Handler
	ShutdownTimeout time.Duration
}

// HTTPListener answers JSON-RPC requests POSTed to "/".
type HTTPListener struct {
	dispatcher *jsonrpc.Dispatcher
	logger     logging.ServiceLogger
	ln         net.Listener
	server     *http.Server
	maxBody    int64
	limiter    *rateLimiter
	drain      time.Duration
	sessions   atomic.Uint64
}

// ListenHTTP binds addr and prepares the server. It does not serve until Run.
func ListenHTTP(addr string, d *jsonrpc.Dispatcher, opts HTTPOptions) (*HTTPListener, error) {
	if d == nil {
		return nil, errspkg.ErrDispatcherRequired
	}
	ln, err := listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen http %s: %w", addr, err)
	}

	l := &HTTPListener{
		dispatcher: d,
		logger:     loggerOrDiscard(opts.Logger),
		ln:         ln,
		maxBody:    opts.MaxBodyBytes,
		limiter:    newRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		drain:      shutdownTimeout(opts.ShutdownTimeout),
	}
	if l.maxBody <= 0 {
		l.maxBody = DefaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", l.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	for pattern, h := range opts.Handlers {
		mux.Handle(pattern, h)
	}
	mux.HandleFunc("/", l.handleRPC)

	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return withSession(ctx, l.sessions.Add(1))
		},
	}
	return l, nil
}

// Addr reports the bound address, useful when the configured port is 0.
func (l *HTTPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close releases the bound socket of a listener that will not be run.
func (l *HTTPListener) Close() error {
	return closeUnused(l.ln)
}

// Run serves until ctx is cancelled or the server fails.
func (l *HTTPListener) Run(ctx context.Context) error {
	l.logger.Info("Starting HTTP listener", logging.LogFields{"address": l.Addr().String()})

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
			l.logger.Error("HTTP listener drain incomplete", err, logging.LogFields{"address": l.Addr().String()})
		}
		<-errCh
		l.logger.Info("HTTP listener stopped", logging.LogFields{"address": l.Addr().String()})
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http %s: %w", l.Addr(), err)
		}
		return nil
	}
}

func (l *HTTPListener) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", metadata.ContentTypeJSON)
	_ = jsoncodec.Encode(w, map[string]any{"status": "ok", "methods": len(l.dispatcher.Methods())})
}

func (l *HTTPListener) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !l.limiter.allow(clientKey(r), time.Now()) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	meta := jsonrpc.Meta{
		Session:    sessionFrom(r.Context()),
		Transport:  TransportHTTP,
		RemoteAddr: r.RemoteAddr,
	}

	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("HTTP request panicked", fmt.Errorf("panic: %v", rec), logging.LogFields{
				"session":     meta.Session,
				"remote_addr": meta.RemoteAddr,
			})
			writeJSON(w, http.StatusOK, jsonrpc.InternalErrorResponse())
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, l.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				jsonrpc.ErrorResponse(jsonrpc.NewInvalidRequest(fmt.Sprintf("request body exceeds %d bytes", l.maxBody))))
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonrpc.ErrorResponse(jsonrpc.NewParseError(err.Error())))
		return
	}

	reply := l.dispatcher.Dispatch(r.Context(), body, meta)
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", metadata.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
