package flowscope

import (
	runtimepkg "github.com/drblury/flowscope/internal/runtime"
	"github.com/drblury/flowscope/internal/runtime/backlog"
	ce "github.com/drblury/flowscope/internal/runtime/cloudevents"
	configpkg "github.com/drblury/flowscope/internal/runtime/config"
	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	idspkg "github.com/drblury/flowscope/internal/runtime/ids"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	metadatapkg "github.com/drblury/flowscope/internal/runtime/metadata"
	"github.com/drblury/flowscope/internal/runtime/naming"
	"github.com/drblury/flowscope/internal/runtime/registry"
	"github.com/drblury/flowscope/internal/runtime/stats"
	"github.com/drblury/flowscope/transport"
)

type (
	// Routing context
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Status              = runtimepkg.Status
	RouteBuilder        = runtimepkg.RouteBuilder
	ProducerTemplate    = runtimepkg.ProducerTemplate

	// Endpoints
	Endpoint          = runtimepkg.Endpoint
	BrowsableEndpoint = runtimepkg.BrowsableEndpoint
	MockEndpoint      = runtimepkg.MockEndpoint
	OptionSchema      = runtimepkg.OptionSchema

	// Exchanges
	Exchange = exchangepkg.Exchange
	Message  = exchangepkg.Message
	Headers  = exchangepkg.Headers

	// Error handling
	ErrorHandlerBuilder = runtimepkg.ErrorHandlerBuilder
	RedeliveryPolicy    = runtimepkg.RedeliveryPolicy

	// Data formats
	DataFormat      = runtimepkg.DataFormat
	JSONDataFormat  = runtimepkg.JSONDataFormat
	ProtoDataFormat = runtimepkg.ProtoDataFormat

	// Middleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Management
	ObjectName       = naming.ObjectName
	NamingStrategy   = naming.Strategy
	Registry         = registry.Registry
	ManagementServer = registry.Server
	Tracer           = backlog.Tracer
	Debugger         = backlog.Debugger
	TracedMessage    = backlog.TracedMessage

	// Events
	Event         = events.Event
	EventKind     = events.Kind
	EventCategory = events.Category
	EventFilter   = events.Filter
	EventNotifier = events.Notifier
	NotifierFunc  = events.NotifierFunc

	CloudEvent          = ce.Event
	CloudEventsNotifier = runtimepkg.CloudEventsNotifier

	// Statistics
	StatisticsLevel  = stats.Level
	StatisticsRecord = stats.Record

	// Monitoring
	DeadLetterMetrics         = runtimepkg.DeadLetterMetrics
	DeadLetterEndpointMetrics = runtimepkg.DeadLetterEndpointMetrics
	DeadLetterSnapshot        = runtimepkg.DeadLetterSnapshot
	ResourceUsage             = runtimepkg.ResourceUsage

	Config        = configpkg.Config
	ServiceLogger = loggingpkg.ServiceLogger
	LogFields     = loggingpkg.LogFields
	EntryLogger   = loggingpkg.EntryLogger
	Metadata      = metadatapkg.Metadata

	Transport        = transport.Transport
	TransportOptions = transport.Options
	TransportBuilder = transport.Builder
)

var (
	NewService = runtimepkg.NewService
	From       = runtimepkg.From

	DefaultErrorHandler = runtimepkg.DefaultErrorHandler
	DeadLetterChannel   = runtimepkg.DeadLetterChannel
	NoErrorHandler      = runtimepkg.NoErrorHandler

	NormalizeEndpointURI = runtimepkg.NormalizeEndpointURI
	ExplainEndpointJSON  = runtimepkg.ExplainEndpointJSON

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	NewDeadLetterMetrics = runtimepkg.NewDeadLetterMetrics

	NewCloudEventsNotifier = runtimepkg.NewCloudEventsNotifier
	ToCloudEvent           = runtimepkg.ToCloudEvent
	CloudEventType         = runtimepkg.EventType
	NewCloudEvent          = ce.New
	IsDeadLetter           = ce.IsDeadLetter
	ExchangeEventsOnly     = events.ExchangeOnly

	NewInMemoryManagementServer = registry.NewInMemoryServer
	ParseObjectName             = naming.Parse
	ParseObjectNamePattern      = naming.ParsePattern

	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewExchange = exchangepkg.New

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired     = errspkg.ErrServiceRequired
	ErrRouteIDRequired     = errspkg.ErrRouteIDRequired
	ErrDuplicateRoute      = errspkg.ErrDuplicateRoute
	ErrRouteNotFound       = errspkg.ErrRouteNotFound
	ErrDuplicateNodeID     = errspkg.ErrDuplicateNodeID
	ErrNoConsumers         = errspkg.ErrNoConsumers
	ErrEntityNotFound      = errspkg.ErrEntityNotFound
	ErrInvalidObjectName   = errspkg.ErrInvalidObjectName
	ErrUnknownOperation    = errspkg.ErrUnknownOperation
	ErrUnknownAttribute    = errspkg.ErrUnknownAttribute
	ErrReadOnlyAttribute   = errspkg.ErrReadOnlyAttribute
	ErrInvalidArgument     = errspkg.ErrInvalidArgument
	ErrInvalidRange        = errspkg.ErrInvalidRange
	ErrNoSuspendedExchange = errspkg.ErrNoSuspendedExchange
	ErrNotBrowsable        = errspkg.ErrNotBrowsable

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Service states.
const (
	StatusStopped  = runtimepkg.StatusStopped
	StatusStarting = runtimepkg.StatusStarting
	StatusStarted  = runtimepkg.StatusStarted
	StatusStopping = runtimepkg.StatusStopping
)

// Statistics levels.
const (
	StatisticsOff        = stats.LevelOff
	StatisticsRoutesOnly = stats.LevelRoutesOnly
	StatisticsDefault    = stats.LevelDefault
	StatisticsExtended   = stats.LevelExtended
)

// Error handler kinds, used in error handler object names.
const (
	KindDefaultErrorHandler = runtimepkg.KindDefaultErrorHandler
	KindDeadLetterChannel   = runtimepkg.KindDeadLetterChannel
	KindNoErrorHandler      = runtimepkg.KindNoErrorHandler
)

// RedeliverForever as MaximumRedeliveries retries a failed node until it
// succeeds or the exchange context is cancelled.
const RedeliverForever = runtimepkg.RedeliverForever

// Metadata keys set on broker and seda messages.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyExchangeID    = metadatapkg.KeyExchangeID
	MetadataKeyRouteID       = metadatapkg.KeyRouteID
)

// CloudEvents extension keys set on exported management events.
const (
	ExtAttempt       = ce.ExtAttempt
	ExtDeadLetter    = ce.ExtDeadLetter
	ExtErrorMessage  = ce.ExtErrorMessage
	ExtExchangeID    = ce.ExtExchangeID
	ExtRouteID       = ce.ExtRouteID
	ExtEndpoint      = ce.ExtEndpoint
	ExtCorrelationID = ce.ExtCorrelationID
)

func NewEntryServiceLogger[T loggingpkg.EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
