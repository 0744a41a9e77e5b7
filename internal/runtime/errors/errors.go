package errors

import sterrors "errors"

var (
	ErrNoQueues           = sterrors.New("gnssflow: at least one queue is required")
	ErrStoreRequired      = sterrors.New("gnssflow: store is required")
	ErrConnectorRequired  = sterrors.New("gnssflow: connector is required")
	ErrDispatcherRequired = sterrors.New("gnssflow: dispatcher is required")
	ErrHandlerRequired    = sterrors.New("gnssflow: handler function is required")
	ErrPublisherRequired  = sterrors.New("gnssflow: publisher is required")
	ErrUnknownTable       = sterrors.New("gnssflow: unknown table")
	ErrUnknownColumn      = sterrors.New("gnssflow: unknown column")
	ErrEmptyRecord        = sterrors.New("gnssflow: record has no columns")
	ErrNoKeyColumns       = sterrors.New("gnssflow: conflict key columns are required")
	ErrSessionClosed      = sterrors.New("gnssflow: broker session is closed")
	ErrMissingReplyTo     = sterrors.New("gnssflow: reply destination is required")
	ErrNoRowReturned      = sterrors.New("gnssflow: statement returned no row")
)

// ConfigValidationError wraps the joined problems reported by config validation.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "gnssflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
