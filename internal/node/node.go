// Package node assembles a txnode process from its configuration: storage,
// the commitment tree, the optional signer, the JSON-RPC method surface, the
// transport listeners and the event receivers, all supervised by one runner.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/txnode/internal/ethapi"
	configpkg "github.com/drblury/txnode/internal/runtime/config"
	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	"github.com/drblury/txnode/internal/runtime/jsonrpc"
	"github.com/drblury/txnode/internal/runtime/listener"
	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
	"github.com/drblury/txnode/internal/runtime/receivers"
	"github.com/drblury/txnode/internal/runtime/runner"
	"github.com/drblury/txnode/internal/runtime/txerrors"
	"github.com/drblury/txnode/internal/signer"
	"github.com/drblury/txnode/internal/storage/commitment"
	"github.com/drblury/txnode/internal/storage/kv"
	"github.com/drblury/txnode/internal/txpool"
	"github.com/drblury/txnode/transport"
)

// Unit names registered on the runner.
const (
	UnitHTTP        = "http"
	UnitWS          = "ws"
	UnitTxEvents    = "tx_receiver"
	UnitStateEvents = "state_receiver"
)

// Option customises New.
type Option func(*options)

type options struct {
	transports *transport.Registry
	registry   *prometheus.Registry
}

// WithTransports selects the registry event transports are built from.
// The default is transport.DefaultRegistry.
func WithTransports(r *transport.Registry) Option {
	return func(o *options) { o.transports = r }
}

// WithMetricsRegistry collects the node's metrics into r instead of a fresh
// registry. It only matters when metrics are enabled.
func WithMetricsRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// Node owns every long-lived collaborator of a running process.
type Node struct {
	cfg    configpkg.Config
	logger loggingpkg.ServiceLogger

	db         kv.Database
	pool       *txpool.Pool
	tree       *commitment.Tree
	signer     *signer.Signer
	dispatcher *jsonrpc.Dispatcher
	metrics    *prometheus.Registry

	http      *listener.HTTPListener
	ws        *listener.WSListener
	events    *transport.Transport
	delivery  transport.Capabilities
	receivers []*receivers.EventReceiver

	runner *runner.Runner
	usage  *resourceTracker

	closeOnce sync.Once
	closeErr  error
	closers   []func() error
}

// New validates cfg and wires the node. Listeners are bound before New
// returns, so address conflicts are reported here. On failure every resource
// acquired so far is released.
func New(ctx context.Context, cfg configpkg.Config, logger loggingpkg.ServiceLogger, opts ...Option) (n *Node, err error) {
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{transports: transport.DefaultRegistry}
	for _, opt := range opts {
		opt(&o)
	}

	n = &Node{
		cfg:    cfg,
		logger: logger,
		runner: runner.New(logger),
		usage:  newResourceTracker(),
	}
	defer func() {
		if err != nil {
			if cerr := n.Close(); cerr != nil {
				logger.Error("Failed to release resources after setup error", cerr, nil)
			}
			n = nil
		}
	}()

	logger.Info("Creating node", loggingpkg.LogFields{"config": cfg.String()})

	if err := n.openStorage(); err != nil {
		return n, err
	}
	if err := n.buildDispatcher(o.registry); err != nil {
		return n, err
	}
	if err := n.bindListeners(); err != nil {
		return n, err
	}
	if cfg.EventsEnabled() {
		if err := n.buildReceivers(ctx, o.transports); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (n *Node) openStorage() error {
	if dir := n.cfg.Storage.DataDir; dir != "" {
		db, err := kv.OpenLevelDB(dir)
		if err != nil {
			return fmt.Errorf("open storage %s: %w", dir, err)
		}
		n.db = db
	} else {
		n.db = kv.NewMemory()
	}
	n.closers = append(n.closers, n.db.Close)

	n.pool = txpool.New(n.db, n.cfg.RPC.MaxRange)
	n.tree = commitment.New()

	if key := n.cfg.Signer.SecretKey; key != "" {
		s, err := signer.New(key)
		if err != nil {
			return fmt.Errorf("load signer: %w", err)
		}
		n.signer = s
		n.logger.Info("Signer configured", loggingpkg.LogFields{"address": s.Address().Hex()})
	}
	return nil
}

func (n *Node) buildDispatcher(metrics *prometheus.Registry) error {
	var regOpts []jsonrpc.RegistryOption
	if n.cfg.RPC.AllowMethodOverride {
		regOpts = append(regOpts, jsonrpc.WithOverride())
	}
	reg := jsonrpc.NewRegistry(regOpts...)
	api := &ethapi.API{Pool: n.pool, Tree: n.tree, Signer: n.signer}
	if err := api.Register(reg); err != nil {
		return fmt.Errorf("register methods: %w", err)
	}

	dispatcherOpts := jsonrpc.DispatcherOptions{
		Mapper:             txerrors.NewCodes(n.cfg.RPC.ErrorCodeBase),
		ExposeInternalData: n.cfg.RPC.ExposeErrorData,
		Logger:             n.logger,
		MetricsNamespace:   n.cfg.Metrics.Namespace,
	}
	if n.cfg.Metrics.Enabled {
		if metrics == nil {
			metrics = prometheus.NewRegistry()
			metrics.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		n.metrics = metrics
		dispatcherOpts.Registerer = metrics
	}

	d, err := jsonrpc.NewDispatcher(reg, dispatcherOpts)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}
	n.dispatcher = d
	return nil
}

func (n *Node) bindListeners() error {
	httpOpts := listener.HTTPOptions{
		Logger:         n.logger,
		MaxBodyBytes:   n.cfg.RPC.MaxBodyBytes,
		RateLimitRPS:   n.cfg.RPC.RateLimitRPS,
		RateLimitBurst: n.cfg.RPC.RateLimitBurst,
		Handlers:       map[string]http.Handler{"/status": n.statusHandler()},
	}
	if n.metrics != nil {
		httpOpts.Metrics = promhttp.HandlerFor(n.metrics, promhttp.HandlerOpts{})
	}
	h, err := listener.ListenHTTP(n.cfg.HTTPServer.Address(), n.dispatcher, httpOpts)
	if err != nil {
		return err
	}
	n.http = h
	n.closers = append(n.closers, h.Close)
	if err := n.runner.RegisterListener(UnitHTTP, h); err != nil {
		return err
	}

	if !n.cfg.WSEnabled() {
		return nil
	}
	ws, err := listener.ListenWS(n.cfg.WSServer.Address(), n.dispatcher, listener.WSOptions{
		Logger:          n.logger,
		MaxMessageBytes: n.cfg.RPC.MaxBodyBytes,
	})
	if err != nil {
		return err
	}
	n.ws = ws
	n.closers = append(n.closers, ws.Close)
	return n.runner.RegisterListener(UnitWS, ws)
}

func (n *Node) buildReceivers(ctx context.Context, transports *transport.Registry) error {
	events := n.cfg.Events
	tr, err := transports.Build(ctx, &events, loggingpkg.NewWatermillAdapter(n.logger))
	if err != nil {
		return err
	}
	n.events = &tr
	n.closers = append(n.closers, tr.Close)

	n.delivery = transports.GetCapabilities(events.System)
	if !n.delivery.SupportsReliableDelivery() {
		n.logger.Info("Event transport does not redeliver; events failing after retries are lost unless a poison topic is set", loggingpkg.LogFields{
			"system":       events.System,
			"poison_topic": events.PoisonTopic,
		})
	}

	base := receivers.Options{
		Subscriber: tr.Subscriber,
		Logger:     n.logger,
		Retry: receivers.RetryConfig{
			MaxRetries:      events.RetryMaxRetries,
			InitialInterval: events.RetryInitialInterval,
			MaxInterval:     events.RetryMaxInterval,
		},
		MetricsNamespace: n.cfg.Metrics.Namespace,
	}
	if events.PoisonTopic != "" {
		base.PoisonPublisher = tr.Publisher
		base.PoisonTopic = events.PoisonTopic
	}
	if n.metrics != nil {
		base.Registerer = n.metrics
	}

	txOpts := base
	txOpts.Name = UnitTxEvents
	txOpts.Topic = events.TxTopic
	txReceiver, err := receivers.NewTxReceiver(txOpts, n.pool)
	if err != nil {
		return fmt.Errorf("build %s: %w", UnitTxEvents, err)
	}

	stateOpts := base
	stateOpts.Name = UnitStateEvents
	stateOpts.Topic = events.StateUpdateTopic
	stateReceiver, err := receivers.NewStateUpdateReceiver(stateOpts, n.tree)
	if err != nil {
		return fmt.Errorf("build %s: %w", UnitStateEvents, err)
	}

	for _, r := range []*receivers.EventReceiver{txReceiver, stateReceiver} {
		if err := n.runner.RegisterReceiver(r.Name(), r); err != nil {
			return err
		}
		n.receivers = append(n.receivers, r)
	}
	return nil
}

// Run serves until ctx is cancelled and every unit has stopped. The returned
// error joins the failures of all units.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("Starting node", loggingpkg.LogFields{"units": n.runner.Units()})
	err := n.runner.Run(ctx)
	n.logger.Info("Node stopped", nil)
	return err
}

// Close releases storage, sockets that were never served and the event
// transport, in reverse order of acquisition. It is safe to call more than
// once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		var errs []error
		for i := len(n.closers) - 1; i >= 0; i-- {
			errs = append(errs, n.closers[i]())
		}
		n.closeErr = errors.Join(errs...)
	})
	return n.closeErr
}

func (n *Node) Dispatcher() *jsonrpc.Dispatcher { return n.dispatcher }

func (n *Node) Pool() *txpool.Pool { return n.pool }

func (n *Node) Tree() *commitment.Tree { return n.tree }

// HTTPAddr returns the bound JSON-RPC HTTP address.
func (n *Node) HTTPAddr() net.Addr { return n.http.Addr() }

// WSAddr returns the bound WebSocket address, or nil when the listener is
// disabled.
func (n *Node) WSAddr() net.Addr {
	if n.ws == nil {
		return nil
	}
	return n.ws.Addr()
}

// Events returns the event transport, or nil when receivers are disabled.
func (n *Node) Events() *transport.Transport { return n.events }

// Units lists the runner units in registration order.
func (n *Node) Units() []string { return n.runner.Units() }

// Receivers returns the background event receivers.
func (n *Node) Receivers() []*receivers.EventReceiver { return n.receivers }
