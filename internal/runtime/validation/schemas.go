package validation

import (
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
	"github.com/drblury/gnssflow/internal/runtime/store"
)

const (
	TypeGNGGA  = "GNGGA"
	TypeNavPVT = "NAV-PVT"
)

// GNGGA covers NMEA fix data. Coordinates stay null when the receiver has no
// fix so they are never confused with the equator or the prime meridian.
var GNGGA = Schema{
	Type:  TypeGNGGA,
	Table: store.TableGNGGA,
	Fields: []Field{
		{Key: "full_time", Kind: KindTimestamp, Required: true},
		{Key: "device_id", Kind: KindReference, Required: true},
		{Key: "lat", Kind: KindFloat},
		{Key: "ns", Kind: KindString},
		{Key: "lon", Kind: KindFloat},
		{Key: "ew", Kind: KindString},
		{Key: "quality", Kind: KindInt, Default: int64(0), Range: Between(0, 8)},
		{Key: "num_sv", Kind: KindInt, Default: int64(0), Range: AtLeast(0)},
		{Key: "hdop", Kind: KindFloat},
		{Key: "alt", Kind: KindFloat},
		{Key: "alt_unit", Kind: KindString},
		{Key: "sep", Kind: KindFloat},
		{Key: "sep_unit", Kind: KindString},
		{Key: "diff_age", Kind: KindFloat},
		{Key: "diff_station", Kind: KindString},
		{Key: "processed_time", Kind: KindTimestamp},
	},
}

// NavPVT covers u-blox UBX-NAV-PVT solutions. Payload keys follow the
// receiver naming, columns are lower case.
var NavPVT = Schema{
	Type:  TypeNavPVT,
	Table: store.TableNavPVT,
	Fields: []Field{
		{Key: "full_time", Kind: KindTimestamp, Required: true},
		{Key: "device_id", Kind: KindReference, Required: true},
		{Key: "experiment_id", Kind: KindReference, Required: true},
		{Key: "lat", Kind: KindFloat, Range: Between(-90, 90)},
		{Key: "lon", Kind: KindFloat, Range: Between(-180, 180)},
		{Key: "height", Kind: KindFloat, Default: 0.0},
		{Key: "hMSL", Column: "hmsl", Kind: KindFloat, Default: 0.0},
		{Key: "hAcc", Column: "hacc", Kind: KindFloat, Default: 0.0, Range: AtLeast(0)},
		{Key: "vAcc", Column: "vacc", Kind: KindFloat, Default: 0.0, Range: AtLeast(0)},
		{Key: "velN", Column: "veln", Kind: KindFloat, Default: 0.0},
		{Key: "velE", Column: "vele", Kind: KindFloat, Default: 0.0},
		{Key: "velD", Column: "veld", Kind: KindFloat, Default: 0.0},
		{Key: "gSpeed", Column: "gspeed", Kind: KindFloat, Default: 0.0},
		{Key: "headMot", Column: "headmot", Kind: KindFloat, Default: 0.0},
		{Key: "sAcc", Column: "sacc", Kind: KindFloat, Default: 0.0, Range: AtLeast(0)},
		{Key: "headAcc", Column: "headacc", Kind: KindFloat, Default: 0.0, Range: AtLeast(0)},
		{Key: "pDOP", Column: "pdop", Kind: KindFloat, Default: 0.0, Range: AtLeast(0)},
		{Key: "numSV", Column: "numsv", Kind: KindInt, Default: int64(0), Range: AtLeast(0)},
		{Key: "tAcc", Column: "tacc", Kind: KindInt, Default: int64(0), Range: AtLeast(0)},
		{Key: "validDate", Column: "validdate", Kind: KindBool, Default: false},
		{Key: "validTime", Column: "validtime", Kind: KindBool, Default: false},
		{Key: "gnssFixOk", Column: "gnssfixok", Kind: KindBool, Default: false},
		{Key: "fixType", Column: "fixtype", Kind: KindString, Default: ""},
		{Key: "year", Kind: KindInt, Default: int64(2024), Range: AtLeast(0)},
		{Key: "month", Kind: KindInt, Default: int64(1), Range: Between(1, 12)},
		{Key: "day", Kind: KindInt, Default: int64(1), Range: Between(1, 31)},
		{Key: "hour", Kind: KindInt, Default: int64(0), Range: Between(0, 23)},
		{Key: "min", Kind: KindInt, Default: int64(0), Range: Between(0, 59)},
		{Key: "second", Kind: KindInt, Default: int64(0), Range: Between(0, 60)},
	},
}

// ValidateGNGGA normalizes a GNGGA payload.
func ValidateGNGGA(raw map[string]any, logger loggingpkg.ServiceLogger) (store.Record, error) {
	return GNGGA.Validate(raw, logger)
}

// ValidateNavPVT normalizes a NAV-PVT payload.
func ValidateNavPVT(raw map[string]any, logger loggingpkg.ServiceLogger) (store.Record, error) {
	return NavPVT.Validate(raw, logger)
}

// Device maps a registration payload onto the hardware table. Only supplied
// fields are written so a re-registration updates what it carries.
var Device = Schema{
	Type:        "device_registration",
	Table:       store.TableHardware,
	OmitAbsent:  true,
	Passthrough: []string{"experiment_id"},
	Fields: []Field{
		{Key: "alias", Kind: KindString, Required: true},
		{Key: "region", Kind: KindString},
		{Key: "location_desc", Kind: KindString},
		{Key: "owner_name", Kind: KindString},
		{Key: "make", Kind: KindString},
		{Key: "model", Kind: KindString},
		{Key: "signals", Kind: KindJSON},
		{Key: "configuration", Kind: KindJSON},
		{Key: "attributes", Kind: KindJSON},
	},
}

// Experiment maps a registration payload onto the experiments table. The
// experiment type is read from experiment_type, falling back to type.
var Experiment = Schema{
	Type:  "experiment_registration",
	Table: store.TableExperiments,
	Fields: []Field{
		{Key: "alias", Kind: KindString, Required: true},
		{Key: "start_time", Kind: KindTimestamp},
		{Key: "end_time", Kind: KindTimestamp},
		{Key: "description", Kind: KindString},
		{Key: "configuration", Kind: KindJSON},
		{Key: "region", Kind: KindString},
		{Key: "experiment_type", Column: "type", Kind: KindString},
	},
}
