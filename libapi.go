package txnode

import (
	"context"

	"github.com/drblury/txnode/internal/node"
	configpkg "github.com/drblury/txnode/internal/runtime/config"
	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	idspkg "github.com/drblury/txnode/internal/runtime/ids"
	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	"github.com/drblury/txnode/internal/runtime/jsonrpc"
	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
	metadatapkg "github.com/drblury/txnode/internal/runtime/metadata"
	"github.com/drblury/txnode/internal/runtime/receivers"
	"github.com/drblury/txnode/internal/runtime/txerrors"
	"github.com/drblury/txnode/internal/tx"
	"github.com/drblury/txnode/transport"
)

type (
	Config      = configpkg.Config
	ConfigKind  = configpkg.Kind
	Node        = node.Node
	NodeOption  = node.Option
	NodeStatus  = node.Status
	PoisonStats = receivers.PoisonStats

	Registry          = jsonrpc.Registry
	Dispatcher        = jsonrpc.Dispatcher
	DispatcherOptions = jsonrpc.DispatcherOptions
	Handler           = jsonrpc.Handler
	Meta              = jsonrpc.Meta
	Request           = jsonrpc.Request
	Response          = jsonrpc.Response
	WireError         = jsonrpc.WireError
	ErrorMapper       = jsonrpc.ErrorMapper
	ErrorCodes        = txerrors.Codes
	DomainError       = txerrors.DomainError
	ErrorVisitor      = txerrors.Visitor

	MissingField        = txerrors.MissingField
	InvalidRange        = txerrors.InvalidRange
	CountExceeded       = txerrors.CountExceeded
	ResourceAlreadyUsed = txerrors.ResourceAlreadyUsed
	InvalidProof        = txerrors.InvalidProof
	ClientError         = txerrors.ClientError

	TransactionRequest = tx.TransactionRequest
	Quantity           = tx.Quantity

	Metadata      = metadatapkg.Metadata
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	ConfigValidationError = errspkg.ConfigValidationError
)

const (
	ProfileTest = configpkg.KindTest
	ProfileDev  = configpkg.KindDev
	ProfileMain = configpkg.KindMain

	DefaultErrorCodeBase = txerrors.DefaultCodeBase
	MethodsMethod        = jsonrpc.MethodsMethod

	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyContentType   = metadatapkg.KeyContentType
	ContentTypeJSON          = metadatapkg.ContentTypeJSON
	ContentTypeProtobuf      = metadatapkg.ContentTypeProtobuf
)

var (
	NewNode             = node.New
	WithTransports      = node.WithTransports
	WithMetricsRegistry = node.WithMetricsRegistry

	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	LoadProfile    = configpkg.LoadProfile
	ParseProfile   = configpkg.ParseKind
	ApplyEnv       = configpkg.ApplyEnv
	ValidateConfig = configpkg.ValidateConfig

	NewRegistry    = jsonrpc.NewRegistry
	WithOverride   = jsonrpc.WithOverride
	NewDispatcher  = jsonrpc.NewDispatcher
	NewErrorCodes  = txerrors.NewCodes
	ValidateTx     = tx.Validate
	NewClientError = txerrors.Client

	DefaultTransportRegistry = transport.DefaultRegistry
	NewTransportRegistry     = transport.NewRegistry
	BuildTransport           = transport.Build

	PublishEvent     = receivers.Publish
	NewEvent         = receivers.NewMessage
	NewProtoEvent    = receivers.NewProtoMessage
	NewMetadata      = metadatapkg.New
	CreateULID       = idspkg.CreateULID
	CorrelationID    = idspkg.CorrelationID
	NewLogger        = loggingpkg.New
	NewSlogLogger    = loggingpkg.NewSlogServiceLogger
	NewDiscardLogger = loggingpkg.NewDiscardLogger

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrMethodNameRequired = errspkg.ErrMethodNameRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrDuplicateMethod    = errspkg.ErrDuplicateMethod
	ErrRegistryClosed     = errspkg.ErrRegistryClosed
	ErrRunnerStarted      = errspkg.ErrRunnerStarted
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrNotImplemented     = errspkg.ErrNotImplemented
	ErrUnknownTransport   = transport.ErrUnknownTransport
)

// Method adapts a typed function into a Handler. Named params and a single
// positional param both decode into P.
func Method[P any, R any](fn func(ctx context.Context, params P, meta Meta) (R, error)) Handler {
	return jsonrpc.Method(fn)
}
