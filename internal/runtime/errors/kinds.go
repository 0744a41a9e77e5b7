package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

// Kind groups failures by how the consumer must react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindDecode
	KindValidation
	KindUnsupportedType
	KindStore
	KindPoolExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindUnsupportedType:
		return "unsupported_type"
	case KindStore:
		return "store"
	case KindPoolExhaustion:
		return "pool_exhaustion"
	default:
		return "unknown"
	}
}

// TransportError reports a broker connection or channel failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gnssflow: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a message body that can never be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gnssflow: decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a payload rejected by its schema. Fields lists the
// offending payload keys.
type ValidationError struct {
	Type   string
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "gnssflow: invalid " + e.Type + " payload"
	if len(e.Fields) > 0 {
		msg += " (" + strings.Join(e.Fields, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports a type tag outside the dispatch table.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Type == "" {
		return "gnssflow: message carries no type tag"
	}
	return fmt.Sprintf("gnssflow: unsupported message type %q", e.Type)
}

// StoreError reports a failed statement or transaction. Code holds the driver
// specific error code (SQLSTATE for postgres) when one is available.
type StoreError struct {
	Op        string
	Table     string
	Code      string
	Permanent bool
	Err       error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("gnssflow: store ")
	b.WriteString(e.Op)
	if e.Table != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
	}
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same statement may succeed.
func (e *StoreError) Temporary() bool { return !e.Permanent }

// PoolExhaustionError reports that no store connection could be obtained.
type PoolExhaustionError struct {
	Attempts int
	Err      error
}

func (e *PoolExhaustionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("gnssflow: store pool unavailable after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("gnssflow: store pool unavailable: %v", e.Err)
}

func (e *PoolExhaustionError) Unwrap() error { return e.Err }

// Classify maps err onto the taxonomy. Validation and decode failures win over
// wrapped store errors since they describe the message rather than the system.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		decodeErr      *DecodeError
		validationErr  *ValidationError
		unsupportedErr *UnsupportedTypeError
		poolErr        *PoolExhaustionError
		storeErr       *StoreError
		transportErr   *TransportError
	)
	switch {
	case sterrors.As(err, &decodeErr):
		return KindDecode
	case sterrors.As(err, &validationErr):
		return KindValidation
	case sterrors.As(err, &unsupportedErr):
		return KindUnsupportedType
	case sterrors.As(err, &poolErr):
		return KindPoolExhaustion
	case sterrors.As(err, &storeErr):
		return KindStore
	case sterrors.As(err, &transportErr):
		return KindTransport
	default:
		return KindUnknown
	}
}

// IsTransient reports whether redelivering the message may succeed.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindTransport, KindPoolExhaustion:
		return true
	case KindStore:
		var storeErr *StoreError
		sterrors.As(err, &storeErr)
		return storeErr.Temporary()
	default:
		return false
	}
}

// IsPermanent reports whether err can never succeed on redelivery.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case KindDecode, KindUnsupportedType:
		return true
	case KindStore:
		return !IsTransient(err)
	case KindValidation:
		return false
	case KindUnknown:
		return true
	default:
		return false
	}
}
