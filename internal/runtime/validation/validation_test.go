package validation

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	"github.com/drblury/gnssflow/internal/runtime/store"
)

type warnRecorder struct {
	mu    sync.Mutex
	warns []loggingpkg.LogFields
}

func (r *warnRecorder) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }
func (r *warnRecorder) Debug(string, loggingpkg.LogFields)                 {}
func (r *warnRecorder) Info(string, loggingpkg.LogFields)                  {}
func (r *warnRecorder) Error(string, error, loggingpkg.LogFields)          {}
func (r *warnRecorder) Trace(string, loggingpkg.LogFields)                 {}
func (r *warnRecorder) Warn(_ string, fields loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, fields)
}

func (r *warnRecorder) warnedAbout(field string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.warns {
		if w["field"] == field {
			return true
		}
	}
	return false
}

func TestGNGGANormalizesBlankAndNegativeValues(t *testing.T) {
	raw := map[string]any{
		"type":      "GNGGA",
		"full_time": json.Number("123456"),
		"device_id": json.Number("7"),
		"lat":       "",
		"quality":   json.Number("-3"),
	}

	rec, err := ValidateGNGGA(raw, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := rec["lat"]; !ok || v != nil {
		t.Fatalf("expected lat to be null, got %#v", rec["lat"])
	}
	if rec["quality"] != int64(0) {
		t.Fatalf("expected quality clamped to 0, got %#v", rec["quality"])
	}
	if rec["full_time"] != int64(123456) || rec["device_id"] != int64(7) {
		t.Fatalf("unexpected mandatory values: %#v", rec)
	}
	if _, ok := rec["type"]; ok {
		t.Fatal("type tag must be stripped")
	}
	for col := range rec {
		if !store.TableGNGGA.HasColumn(col) {
			t.Fatalf("column %q is not part of the gngga table", col)
		}
	}
}

func TestMissingMandatoryFieldsRejectRecord(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
		raw    map[string]any
		fields []string
	}{
		{"gngga no device", GNGGA, map[string]any{"full_time": 1}, []string{"device_id"}},
		{"gngga no time", GNGGA, map[string]any{"device_id": 3, "full_time": "  "}, []string{"full_time"}},
		{"gngga nothing", GNGGA, map[string]any{}, []string{"full_time", "device_id"}},
		{"nav-pvt no experiment", NavPVT, map[string]any{"full_time": 1, "device_id": 2}, []string{"experiment_id"}},
		{"zero device id", GNGGA, map[string]any{"full_time": 1, "device_id": 0}, []string{"device_id"}},
		{"text device id", NavPVT, map[string]any{"full_time": 1, "device_id": "rover", "experiment_id": 1}, []string{"device_id"}},
		{"garbage time", GNGGA, map[string]any{"full_time": "yesterday", "device_id": 1}, []string{"full_time"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := tt.schema.Validate(tt.raw, nil)
			if rec != nil {
				t.Fatalf("expected no record, got %#v", rec)
			}
			var vErr *errspkg.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Type != tt.schema.Type {
				t.Fatalf("unexpected type %q", vErr.Type)
			}
			if len(vErr.Fields) != len(tt.fields) {
				t.Fatalf("expected fields %v, got %v", tt.fields, vErr.Fields)
			}
			for i := range tt.fields {
				if vErr.Fields[i] != tt.fields[i] {
					t.Fatalf("expected fields %v, got %v", tt.fields, vErr.Fields)
				}
			}
			if !errors.Is(err, ErrMissingField) && !errors.Is(err, ErrInvalidField) {
				t.Fatalf("expected a field sentinel in %v", err)
			}
		})
	}
}

func TestNonNumericTextTakesDefaultAndWarns(t *testing.T) {
	logger := &warnRecorder{}
	raw := map[string]any{
		"full_time":     "1700000000",
		"device_id":     "12",
		"experiment_id": "4",
		"height":        "tall",
		"numSV":         "many",
		"lat":           "north",
		"hAcc":          "12.5",
	}

	rec, err := ValidateNavPVT(raw, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec["height"] != 0.0 || rec["numsv"] != int64(0) || rec["lat"] != nil {
		t.Fatalf("expected defaults, got height=%#v numsv=%#v lat=%#v", rec["height"], rec["numsv"], rec["lat"])
	}
	if rec["hacc"] != 12.5 {
		t.Fatalf("expected numeric text to be coerced, got %#v", rec["hacc"])
	}
	for _, field := range []string{"height", "numSV", "lat"} {
		if !logger.warnedAbout(field) {
			t.Errorf("expected a warning for %s", field)
		}
	}
	if logger.warnedAbout("hAcc") {
		t.Error("valid numeric text must not warn")
	}
}

func TestNavPVTDefaultsAndColumns(t *testing.T) {
	rec, err := ValidateNavPVT(map[string]any{
		"type":          "NAV-PVT",
		"full_time":     "2024-05-01T10:00:00Z",
		"device_id":     1,
		"experiment_id": 2,
		"validDate":     "true",
		"gnssFixOk":     json.Number("1"),
		"validTime":     "maybe",
		"month":         13,
		"fixType":       "3D",
		"unexpected":    "ignored",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec) != len(NavPVT.Fields) {
		t.Fatalf("expected %d columns, got %d", len(NavPVT.Fields), len(rec))
	}
	for _, col := range NavPVT.Columns() {
		if !store.TableNavPVT.HasColumn(col) {
			t.Fatalf("column %q is not part of nav_pvt", col)
		}
	}
	if rec["validdate"] != true || rec["gnssfixok"] != true || rec["validtime"] != false {
		t.Fatalf("unexpected flags: %v %v %v", rec["validdate"], rec["gnssfixok"], rec["validtime"])
	}
	if rec["month"] != int64(1) || rec["year"] != int64(2024) || rec["second"] != int64(0) {
		t.Fatalf("unexpected date defaults: %v %v %v", rec["year"], rec["month"], rec["second"])
	}
	if rec["fixtype"] != "3D" {
		t.Fatalf("unexpected fixtype %#v", rec["fixtype"])
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if got, ok := rec["full_time"].(time.Time); !ok || !got.Equal(want) {
		t.Fatalf("expected parsed time, got %#v", rec["full_time"])
	}
	if _, ok := rec["unexpected"]; ok {
		t.Fatal("unknown keys must not be copied")
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	rec, err := ValidateNavPVT(map[string]any{
		"FULL_TIME":     1,
		"Device_ID":     1,
		"experiment_id": 1,
		"hmsl":          "401.5",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec["hmsl"] != 401.5 {
		t.Fatalf("expected column name lookup, got %#v", rec["hmsl"])
	}
}

func TestCoercers(t *testing.T) {
	if f, ok := Float(" 3.25 "); !ok || f != 3.25 {
		t.Fatalf("Float text = %v %v", f, ok)
	}
	if _, ok := Float("NaN"); ok {
		t.Fatal("NaN must be rejected")
	}
	if _, ok := Float(true); ok {
		t.Fatal("bool is not a number")
	}
	if i, ok := Int(json.Number("9.9")); !ok || i != 9 {
		t.Fatalf("Int truncation = %v %v", i, ok)
	}
	if i, ok := Int("-4"); !ok || i != -4 {
		t.Fatalf("Int text = %v %v", i, ok)
	}
	for _, overflow := range []any{"9223372036854775808", json.Number("9223372036854775808"), 9.223372036854775808e18} {
		if i, ok := Int(overflow); ok {
			t.Fatalf("Int(%v) should overflow, got %d", overflow, i)
		}
	}
	if i, ok := Int(json.Number("-9223372036854775808")); !ok || i != math.MinInt64 {
		t.Fatalf("Int min = %v %v", i, ok)
	}
	if b, ok := Bool(0.0); !ok || b {
		t.Fatalf("Bool(0) = %v %v", b, ok)
	}
	if _, ok := Bool("yes please"); ok {
		t.Fatal("unparseable bool must fail")
	}
	if s, ok := String(json.Number("12")); !ok || s != "12" {
		t.Fatalf("String number = %q %v", s, ok)
	}
	if _, ok := String(map[string]any{}); ok {
		t.Fatal("objects are not text")
	}
	if ts, ok := Timestamp(json.Number("1700000000.5")); !ok || ts != 1700000000.5 {
		t.Fatalf("fractional epoch = %#v %v", ts, ok)
	}
	if ts, ok := Timestamp("2024-01-02 03:04:05"); !ok || !ts.(time.Time).Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("sql timestamp = %#v %v", ts, ok)
	}
	if ts, ok := Timestamp(0); !ok || ts != int64(0) {
		t.Fatalf("zero epoch = %#v %v", ts, ok)
	}
	if js, ok := JSONText(map[string]any{"band": "L1"}); !ok || js != `{"band":"L1"}` {
		t.Fatalf("JSONText = %#v %v", js, ok)
	}
}
