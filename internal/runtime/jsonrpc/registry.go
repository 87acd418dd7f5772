package jsonrpc

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	"github.com/drblury/txnode/internal/runtime/jsoncodec"
)

// MethodsMethod is the built-in introspection method.
const MethodsMethod = "rpc_methods"

// Meta describes where a call came from. It is handed to every handler and
// middleware unchanged.
type Meta struct {
	// Session identifies the connection the call arrived on.
	Session    uint64
	Transport  string
	RemoteAddr string
}

// Handler processes the params of one call.
type Handler func(ctx context.Context, params jsoncodec.RawMessage, meta Meta) (any, error)

// Registry maps method names to handlers. It is written during startup and
// frozen when a Dispatcher is built from it.
type Registry struct {
	mu            sync.Mutex
	methods       map[string]Handler
	allowOverride bool
	frozen        bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithOverride lets a later Register replace an existing handler instead of
// failing with ErrDuplicateMethod.
func WithOverride() RegistryOption {
	return func(r *Registry) {
		r.allowOverride = true
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{methods: make(map[string]Handler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds name to h.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return errspkg.ErrMethodNameRequired
	}
	if h == nil {
		return fmt.Errorf("%w: %s", errspkg.ErrHandlerRequired, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: %s", errspkg.ErrRegistryClosed, name)
	}
	if name == MethodsMethod {
		return fmt.Errorf("%w: %s is built in", errspkg.ErrDuplicateMethod, name)
	}
	if _, exists := r.methods[name]; exists && !r.allowOverride {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateMethod, name)
	}
	r.methods[name] = h
	return nil
}

// Names returns the registered method names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedNames(r.methods)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.methods[name]
	return ok
}

// freeze closes the registry and returns a snapshot of its handlers.
func (r *Registry) freeze() map[string]Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	snapshot := make(map[string]Handler, len(r.methods)+1)
	for name, h := range r.methods {
		snapshot[name] = h
	}
	return snapshot
}

func sortedNames(methods map[string]Handler) []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Method adapts a typed function into a Handler.
//
// Params are decoded from either the named form ({...}) or the positional
// form with a single element ([p]). When *P implements jsoncodec.Unmarshaler it
// receives the params verbatim, which lets multi-argument methods define
// their own positional layout. Missing or empty params leave P at its zero
// value. Decode failures are reported as invalid params.
func Method[P any, R any](fn func(ctx context.Context, params P, meta Meta) (R, error)) Handler {
	return func(ctx context.Context, raw jsoncodec.RawMessage, meta Meta) (any, error) {
		params, err := decodeParams[P](raw)
		if err != nil {
			return nil, NewInvalidParams(err.Error())
		}
		return fn(ctx, params, meta)
	}
}

func decodeParams[P any](raw jsoncodec.RawMessage) (P, error) {
	var params P
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullID) {
		return params, nil
	}
	if _, custom := any(&params).(jsoncodec.Unmarshaler); custom {
		err := jsoncodec.Unmarshal(trimmed, &params)
		return params, err
	}
	if trimmed[0] == '[' {
		var items []jsoncodec.RawMessage
		if err := jsoncodec.Unmarshal(trimmed, &items); err != nil {
			return params, err
		}
		switch len(items) {
		case 0:
			return params, nil
		case 1:
			err := jsoncodec.Unmarshal(items[0], &params)
			return params, err
		default:
			return params, fmt.Errorf("expected at most one positional parameter, got %d", len(items))
		}
	}
	err := jsoncodec.Unmarshal(trimmed, &params)
	return params, err
}
