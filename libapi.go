package gnssflow

import (
	runtimepkg "github.com/drblury/gnssflow/internal/runtime"
	configpkg "github.com/drblury/gnssflow/internal/runtime/config"
	"github.com/drblury/gnssflow/internal/runtime/consumer"
	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	idspkg "github.com/drblury/gnssflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/gnssflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/gnssflow/internal/runtime/metadata"
	"github.com/drblury/gnssflow/internal/runtime/processors"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Metadata = metadatapkg.Metadata
	Envelope = processors.Envelope

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Consumer lifecycle
	ConsumerState = consumer.State
	Outcome       = consumer.Outcome

	// Status document
	StatusSnapshot = runtimepkg.StatusSnapshot
	QueueStats     = runtimepkg.QueueStats
	ReplyStats     = runtimepkg.ReplyStats
	PoolStats      = runtimepkg.PoolStats

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Error taxonomy
	ErrorKind             = errspkg.Kind
	TransportError        = errspkg.TransportError
	DecodeError           = errspkg.DecodeError
	ValidationError       = errspkg.ValidationError
	UnsupportedTypeError  = errspkg.UnsupportedTypeError
	StoreError            = errspkg.StoreError
	PoolExhaustionError   = errspkg.PoolExhaustionError
	ConfigValidationError = errspkg.ConfigValidationError
)

var (
	NewService    = runtimepkg.NewService
	LoadConfig    = configpkg.Load
	DefaultConfig = configpkg.Default

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	// Envelope helpers
	DecodeEnvelope = processors.DecodeEnvelope
	MessageTypes   = processors.Types

	// Error classification
	ClassifyError = errspkg.Classify
	IsTransient   = errspkg.IsTransient
	IsPermanent   = errspkg.IsPermanent

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrNoQueues          = errspkg.ErrNoQueues
	ErrStoreRequired     = errspkg.ErrStoreRequired
	ErrConnectorRequired = errspkg.ErrConnectorRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrMissingReplyTo    = errspkg.ErrMissingReplyTo
	ErrSessionClosed     = errspkg.ErrSessionClosed

	NewSlog              = loggingpkg.NewSlog
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Message type tags accepted by the dispatcher.
const (
	TypeGNGGA                  = processors.TypeGNGGA
	TypeNavPVT                 = processors.TypeNavPVT
	TypeDeviceRegistration     = processors.TypeDeviceRegistration
	TypeExperimentRegistration = processors.TypeExperimentRegistration
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyQueue         = metadatapkg.KeyQueue
	MetadataKeyMessageType   = metadatapkg.KeyMessageType
)

// Consumer states, in lifecycle order.
const (
	StateDisconnected = consumer.StateDisconnected
	StateConnecting   = consumer.StateConnecting
	StateSubscribed   = consumer.StateSubscribed
	StateConsuming    = consumer.StateConsuming
	StateError        = consumer.StateError
	StateClosed       = consumer.StateClosed
)

// Error kinds returned by ClassifyError.
const (
	KindUnknown         = errspkg.KindUnknown
	KindTransport       = errspkg.KindTransport
	KindDecode          = errspkg.KindDecode
	KindValidation      = errspkg.KindValidation
	KindUnsupportedType = errspkg.KindUnsupportedType
	KindStore           = errspkg.KindStore
	KindPoolExhaustion  = errspkg.KindPoolExhaustion
)
