package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	"github.com/drblury/txnode/internal/runtime/logging"
)

// ErrorMapper turns any handler error into the wire error sent to the caller.
// Implementations must be pure: equal inputs map to equal outputs.
type ErrorMapper interface {
	MapError(err error) *WireError
}

// DispatcherOptions configures NewDispatcher.
type DispatcherOptions struct {
	Mapper ErrorMapper
	// Middlewares wrap every call; the first entry is the outermost.
	// Nil selects DefaultMiddlewares.
	Middlewares []MiddlewareRegistration
	// ExposeInternalData keeps the data member of internal errors on the
	// wire. The middleware chain always observes the full error.
	ExposeInternalData bool
	Logger             logging.ServiceLogger
	// Registerer receives the RPC metrics. Nil disables them.
	Registerer       prometheus.Registerer
	MetricsNamespace string
}

// MethodsResult is the payload returned by rpc_methods.
type MethodsResult struct {
	Version int      `json:"version"`
	Methods []string `json:"methods"`
}

// Dispatcher routes decoded calls to handlers. It is immutable after
// construction and safe for concurrent use by any number of listeners.
type Dispatcher struct {
	methods    map[string]Handler
	mapper     ErrorMapper
	chain      CallFunc
	exposeData bool
	listing    MethodsResult

	logger           logging.ServiceLogger
	registerer       prometheus.Registerer
	metricsNamespace string
}

// NewDispatcher freezes reg and builds the middleware chain around it.
func NewDispatcher(reg *Registry, opts DispatcherOptions) (*Dispatcher, error) {
	if reg == nil {
		return nil, errspkg.ErrRegistryRequired
	}

	d := &Dispatcher{
		methods:          reg.freeze(),
		mapper:           opts.Mapper,
		exposeData:       opts.ExposeInternalData,
		logger:           opts.Logger,
		registerer:       opts.Registerer,
		metricsNamespace: opts.MetricsNamespace,
	}
	if d.mapper == nil {
		d.mapper = passthroughMapper{}
	}
	if d.logger == nil {
		d.logger = logging.NewDiscardLogger()
	}
	if d.metricsNamespace == "" {
		d.metricsNamespace = "txnode"
	}

	d.listing = MethodsResult{Version: 1, Methods: sortedNames(d.methods)}
	d.methods[MethodsMethod] = func(context.Context, jsoncodec.RawMessage, Meta) (any, error) {
		return d.listing, nil
	}

	registrations := opts.Middlewares
	if registrations == nil {
		registrations = DefaultMiddlewares()
	}
	middlewares := make([]Middleware, 0, len(registrations))
	for _, reg := range registrations {
		mw, err := d.buildMiddleware(reg)
		if err != nil {
			return nil, fmt.Errorf("middleware %s: %w", reg.Name, err)
		}
		if mw != nil {
			middlewares = append(middlewares, mw)
		}
	}

	chain := CallFunc(d.invoke)
	for i := len(middlewares) - 1; i >= 0; i-- {
		chain = middlewares[i](chain)
	}
	d.chain = chain
	return d, nil
}

func (d *Dispatcher) buildMiddleware(reg MiddlewareRegistration) (Middleware, error) {
	switch {
	case reg.Middleware != nil:
		return reg.Middleware, nil
	case reg.Builder != nil:
		return reg.Builder(d)
	default:
		return nil, errors.New("middleware registration requires Middleware or Builder")
	}
}

// Methods returns the sorted names served by rpc_methods.
func (d *Dispatcher) Methods() []string {
	out := make([]string, len(d.listing.Methods))
	copy(out, d.listing.Methods)
	return out
}

// Logger returns the logger the dispatcher was built with.
func (d *Dispatcher) Logger() logging.ServiceLogger {
	return d.logger
}

func (d *Dispatcher) hasMethod(name string) bool {
	_, ok := d.methods[name]
	return ok
}

// Dispatch handles one raw payload holding a single call or a batch and
// returns the encoded reply. It returns nil when nothing must be written
// back: a lone notification or a batch made only of notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, meta Meta) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !jsoncodec.Valid(trimmed) {
		return d.encode(errorResponse(nil, NewParseError("")))
	}

	if trimmed[0] != '[' {
		resp := d.handle(ctx, trimmed, meta)
		if resp == nil {
			return nil
		}
		return d.encode(resp)
	}

	var batch []jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(trimmed, &batch); err != nil {
		return d.encode(errorResponse(nil, NewParseError(err.Error())))
	}
	if len(batch) == 0 {
		return d.encode(errorResponse(nil, NewInvalidRequest("empty batch")))
	}

	responses := make([]*Response, 0, len(batch))
	for _, item := range batch {
		if resp := d.handle(ctx, item, meta); resp != nil {
			responses = append(responses, d.wireView(resp))
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return d.marshal(responses)
}

func (d *Dispatcher) handle(ctx context.Context, raw jsoncodec.RawMessage, meta Meta) *Response {
	req, werr := parseRequest(raw)
	if werr != nil {
		var id jsoncodec.RawMessage
		if req != nil {
			id = req.ID
		}
		return errorResponse(id, werr)
	}
	return d.chain(ctx, req, meta)
}

// invoke is the innermost CallFunc: lookup, call, map.
func (d *Dispatcher) invoke(ctx context.Context, req *Request, meta Meta) *Response {
	var (
		result any
		err    error
	)
	if h, ok := d.methods[req.Method]; ok {
		result, err = h(ctx, req.Params, meta)
	} else {
		err = NewMethodNotFound(req.Method)
	}

	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return errorResponse(req.ID, d.mapper.MapError(err))
	}

	encoded, err := jsoncodec.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, d.mapper.MapError(fmt.Errorf("encode result of %s: %w", req.Method, err)))
	}
	return successResponse(req.ID, encoded)
}

// wireView applies the exposure policy to a response about to be encoded.
func (d *Dispatcher) wireView(resp *Response) *Response {
	if d.exposeData || resp.Error == nil || resp.Error.Code != CodeInternalError || resp.Error.Data == nil {
		return resp
	}
	stripped := *resp
	errCopy := *resp.Error
	errCopy.Data = nil
	stripped.Error = &errCopy
	return &stripped
}

func (d *Dispatcher) encode(resp *Response) []byte {
	return d.marshal(d.wireView(resp))
}

func (d *Dispatcher) marshal(v any) []byte {
	out, err := jsoncodec.Marshal(v)
	if err != nil {
		d.logger.Error("encode rpc response", err, nil)
		out, _ = jsoncodec.Marshal(errorResponse(nil, NewInternalError("")))
	}
	return out
}

// ErrorResponse encodes werr with a null id, for listeners that reject a
// payload before it reaches the dispatcher.
func ErrorResponse(werr *WireError) []byte {
	out, _ := jsoncodec.Marshal(errorResponse(nil, werr))
	return out
}

// InternalErrorResponse encodes a bare internal error for listeners that
// recovered from a panic outside the dispatcher.
func InternalErrorResponse() []byte {
	return ErrorResponse(NewInternalError(""))
}

type passthroughMapper struct{}

func (passthroughMapper) MapError(err error) *WireError {
	var werr *WireError
	if errors.As(err, &werr) {
		return werr
	}
	return NewInternalError(err.Error())
}
