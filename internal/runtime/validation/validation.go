package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	"github.com/drblury/gnssflow/internal/runtime/store"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

// FieldKind selects the coercion applied to a raw value.
type FieldKind int

const (
	KindFloat FieldKind = iota
	KindInt
	KindString
	KindBool
	KindTimestamp
	KindJSON
	// KindReference is a positive integer id of another row.
	KindReference
)

func (k FieldKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindJSON:
		return "json"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Range bounds a numeric field. Nil ends are open.
type Range struct {
	Min *float64
	Max *float64
}

func Between(lo, hi float64) *Range { return &Range{Min: &lo, Max: &hi} }
func AtLeast(lo float64) *Range     { return &Range{Min: &lo} }

func (r *Range) contains(v float64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Field describes one payload key and the column it lands in.
type Field struct {
	Key      string
	Column   string
	Kind     FieldKind
	Default  any
	Required bool
	Range    *Range
}

func (f Field) column() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Key
}

// Schema validates and normalizes the payload of one message type.
type Schema struct {
	Type   string
	Table  store.Table
	Fields []Field
	// OmitAbsent leaves absent optional fields out of the record instead of
	// writing their default, so upserts keep stored values.
	OmitAbsent bool
	// Passthrough names payload keys read by the caller outside the schema.
	Passthrough []string
}

// envelopeKeys are transport level keys that never reach a table.
var envelopeKeys = map[string]struct{}{
	"type":           {},
	"message_type":   {},
	"reply_to":       {},
	"correlation_id": {},
	"payload":        {},
}

// Validate returns the normalized record for raw. Only schema fields are
// copied, so the type tag and unknown keys are dropped. Absent optional
// fields and values that fail coercion or range checks take the field
// default. Required fields that cannot be resolved reject the whole record
// with a *errors.ValidationError.
func (s Schema) Validate(raw map[string]any, logger loggingpkg.ServiceLogger) (store.Record, error) {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	log := logger.With(loggingpkg.LogFields{"type": s.Type})

	rec := make(store.Record, len(s.Fields))
	var (
		bad  []string
		errs []error
	)
	seen := make(map[string]struct{}, len(raw))

	for _, f := range s.Fields {
		key, v, present := lookup(raw, f)
		if present {
			seen[key] = struct{}{}
		}

		if !present || isBlank(v) {
			if f.Required {
				bad = append(bad, f.Key)
				errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, f.Key))
				continue
			}
			if !s.OmitAbsent {
				rec[f.column()] = f.Default
			}
			continue
		}

		out, reason := coerce(f, v)
		if reason == "" {
			rec[f.column()] = out
			continue
		}
		if f.Required {
			bad = append(bad, f.Key)
			errs = append(errs, fmt.Errorf("%w: %s %s", ErrInvalidField, f.Key, reason))
			continue
		}
		log.Warn("value replaced by default", loggingpkg.LogFields{
			"field":   f.Key,
			"value":   v,
			"reason":  reason,
			"default": f.Default,
		})
		rec[f.column()] = f.Default
	}

	if len(bad) > 0 {
		return nil, &errspkg.ValidationError{Type: s.Type, Fields: bad, Err: errors.Join(errs...)}
	}

	for _, k := range s.Passthrough {
		seen[k] = struct{}{}
	}
	if extra := unknownKeys(raw, seen); len(extra) > 0 {
		log.Debug("ignoring unknown fields", loggingpkg.LogFields{"fields": extra})
	}
	return rec, nil
}

// Columns lists the target columns in schema order.
func (s Schema) Columns() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.column())
	}
	return out
}

// lookup finds the raw value by key, then by column name, then
// case-insensitively.
func lookup(raw map[string]any, f Field) (string, any, bool) {
	if v, ok := raw[f.Key]; ok {
		return f.Key, v, true
	}
	if col := f.column(); col != f.Key {
		if v, ok := raw[col]; ok {
			return col, v, true
		}
	}
	for k, v := range raw {
		if strings.EqualFold(k, f.Key) || strings.EqualFold(k, f.column()) {
			return k, v, true
		}
	}
	return "", nil, false
}

func coerce(f Field, v any) (any, string) {
	switch f.Kind {
	case KindFloat:
		x, ok := Float(v)
		if !ok {
			return nil, "is not a number"
		}
		if !f.Range.contains(x) {
			return nil, "is out of range"
		}
		return x, ""
	case KindInt:
		x, ok := Int(v)
		if !ok {
			return nil, "is not an integer"
		}
		if !f.Range.contains(float64(x)) {
			return nil, "is out of range"
		}
		return x, ""
	case KindReference:
		x, ok := Int(v)
		if !ok {
			return nil, "is not an integer id"
		}
		if x < 1 {
			return nil, "must be a positive id"
		}
		return x, ""
	case KindBool:
		x, ok := Bool(v)
		if !ok {
			return nil, "is not a boolean"
		}
		return x, ""
	case KindString:
		x, ok := String(v)
		if !ok {
			return nil, "is not text"
		}
		return x, ""
	case KindTimestamp:
		x, ok := Timestamp(v)
		if !ok {
			return nil, "is not a timestamp"
		}
		return x, ""
	case KindJSON:
		x, ok := JSONText(v)
		if !ok {
			return nil, "cannot be encoded"
		}
		return x, ""
	default:
		return nil, "has an unknown kind"
	}
}

func unknownKeys(raw map[string]any, seen map[string]struct{}) []string {
	var extra []string
	for k := range raw {
		if _, ok := seen[k]; ok {
			continue
		}
		if _, ok := envelopeKeys[strings.ToLower(k)]; ok {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return extra
}
