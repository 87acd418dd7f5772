// Package runner supervises the node's long-running units: the transport
// listeners and the background receivers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	"github.com/drblury/txnode/internal/runtime/logging"
)

// Receiver is a background unit consuming work from outside the RPC path.
type Receiver interface {
	Run(ctx context.Context) error
}

// ReceiverFunc adapts a plain function to Receiver.
type ReceiverFunc func(ctx context.Context) error

func (f ReceiverFunc) Run(ctx context.Context) error { return f(ctx) }

// Listener is a unit serving client connections.
type Listener interface {
	Run(ctx context.Context) error
}

type unitKind string

const (
	kindListener unitKind = "listener"
	kindReceiver unitKind = "receiver"
)

type unit struct {
	name string
	kind unitKind
	run  func(ctx context.Context) error
}

// Runner starts every registered unit concurrently and waits for all of them.
type Runner struct {
	logger logging.ServiceLogger

	mu      sync.Mutex
	started bool
	units   []unit
}

func New(logger logging.ServiceLogger) *Runner {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Runner{logger: logger}
}

func (r *Runner) RegisterReceiver(name string, recv Receiver) error {
	if recv == nil {
		return errspkg.ErrReceiverRequired
	}
	return r.register(unit{name: name, kind: kindReceiver, run: recv.Run})
}

func (r *Runner) RegisterListener(name string, l Listener) error {
	if l == nil {
		return errspkg.ErrListenerRequired
	}
	return r.register(unit{name: name, kind: kindListener, run: l.Run})
}

func (r *Runner) register(u unit) error {
	if u.name == "" {
		return errspkg.ErrUnitNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errspkg.ErrRunnerStarted
	}
	r.units = append(r.units, u)
	return nil
}

// Units lists the registered unit names in registration order.
func (r *Runner) Units() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.units))
	for i, u := range r.units {
		names[i] = u.name
	}
	return names
}

// Run launches every unit in its own goroutine and returns once all of them
// have returned. A unit finishing early, failing or panicking does not stop
// the others; their errors are joined into the result. Run may be called
// once.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errspkg.ErrRunnerStarted
	}
	r.started = true
	units := append([]unit(nil), r.units...)
	r.mu.Unlock()

	r.logger.Info("Runner starting", logging.LogFields{"units": len(units)})

	errs := make([]error, len(units))
	var wg sync.WaitGroup
	for i, u := range units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.runUnit(ctx, u)
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Error("Runner stopped with errors", err, nil)
	} else {
		r.logger.Info("Runner stopped", nil)
	}
	return err
}

func (r *Runner) runUnit(ctx context.Context, u unit) (err error) {
	fields := logging.LogFields{"unit": u.name, "kind": string(u.kind)}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s %s: %w: %v", u.kind, u.name, errspkg.ErrUnitPanicked, rec)
			r.logger.Error("Unit panicked", err, logging.LogFields{
				"unit":  u.name,
				"kind":  string(u.kind),
				"stack": string(debug.Stack()),
			})
		}
	}()

	r.logger.Debug("Unit started", fields)
	if err = u.run(ctx); err != nil {
		err = fmt.Errorf("%s %s: %w", u.kind, u.name, err)
		r.logger.Error("Unit failed", err, fields)
		return err
	}
	r.logger.Debug("Unit finished", logging.LogFields{"unit": u.name, "kind": string(u.kind), "elapsed_seconds": time.Since(start).Seconds()})
	return nil
}
