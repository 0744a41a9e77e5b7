package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrNoQueues", ErrNoQueues, "gnssflow: at least one queue is required"},
		{"ErrStoreRequired", ErrStoreRequired, "gnssflow: store is required"},
		{"ErrConnectorRequired", ErrConnectorRequired, "gnssflow: connector is required"},
		{"ErrUnknownTable", ErrUnknownTable, "gnssflow: unknown table"},
		{"ErrUnknownColumn", ErrUnknownColumn, "gnssflow: unknown column"},
		{"ErrSessionClosed", ErrSessionClosed, "gnssflow: broker session is closed"},
		{"ErrMissingReplyTo", ErrMissingReplyTo, "gnssflow: reply destination is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "gnssflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestClassify(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", cause, KindUnknown},
		{"transport", &TransportError{Op: "connect", Err: cause}, KindTransport},
		{"decode", &DecodeError{Err: cause}, KindDecode},
		{"validation", &ValidationError{Type: "GNGGA", Fields: []string{"device_id"}}, KindValidation},
		{"unsupported", &UnsupportedTypeError{Type: "XYZ"}, KindUnsupportedType},
		{"store", &StoreError{Op: "insert", Table: "gngga", Err: cause}, KindStore},
		{"pool", &PoolExhaustionError{Attempts: 10, Err: cause}, KindPoolExhaustion},
		{"wrapped store", fmt.Errorf("process: %w", &StoreError{Op: "upsert", Err: cause}), KindStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransientAndPermanent(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantPermanent bool
	}{
		{"temporary store", &StoreError{Op: "insert", Err: cause}, true, false},
		{"permanent store", &StoreError{Op: "insert", Code: "23503", Permanent: true, Err: cause}, false, true},
		{"pool", &PoolExhaustionError{Err: cause}, true, false},
		{"decode", &DecodeError{Err: cause}, false, true},
		{"unsupported", &UnsupportedTypeError{}, false, true},
		{"validation", &ValidationError{Type: "NAV-PVT"}, false, false},
		{"unknown", cause, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
			if got := IsPermanent(tt.err); got != tt.wantPermanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.wantPermanent)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	storeErr := &StoreError{Op: "insert", Table: "gngga", Code: "23505", Err: errors.New("duplicate")}
	if got, want := storeErr.Error(), "gnssflow: store insert gngga [23505]: duplicate"; got != want {
		t.Errorf("StoreError.Error() = %q, want %q", got, want)
	}

	validationErr := &ValidationError{Type: "GNGGA", Fields: []string{"full_time", "device_id"}}
	if got, want := validationErr.Error(), "gnssflow: invalid GNGGA payload (full_time, device_id)"; got != want {
		t.Errorf("ValidationError.Error() = %q, want %q", got, want)
	}

	if got := (&UnsupportedTypeError{}).Error(); got != "gnssflow: message carries no type tag" {
		t.Errorf("UnsupportedTypeError.Error() = %q", got)
	}
}
