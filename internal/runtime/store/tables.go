package store

import (
	"fmt"
	"sort"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
)

// Table is a closed set of table identifiers. Message content never selects
// an identifier directly; processors pick one of these constants.
type Table string

const (
	TableGNGGA             Table = "gngga"
	TableNavPVT            Table = "nav_pvt"
	TableHardware          Table = "hardware"
	TableExperiments       Table = "experiments"
	TableExperimentDevices Table = "experiment_devices"
)

// Record maps column names onto values for a single row.
type Record map[string]any

type tableSpec struct {
	columns map[string]struct{}
	// idColumn is returned by upserts. Empty for pure association tables.
	idColumn string
}

func newTableSpec(idColumn string, columns ...string) tableSpec {
	spec := tableSpec{columns: make(map[string]struct{}, len(columns)+1), idColumn: idColumn}
	for _, c := range columns {
		spec.columns[c] = struct{}{}
	}
	if idColumn != "" {
		spec.columns[idColumn] = struct{}{}
	}
	return spec
}

var catalogue = map[Table]tableSpec{
	TableGNGGA: newTableSpec("id",
		"full_time", "lat", "ns", "lon", "ew", "quality", "num_sv", "hdop",
		"alt", "alt_unit", "sep", "sep_unit", "diff_age", "diff_station",
		"processed_time", "device_id",
	),
	TableNavPVT: newTableSpec("id",
		"full_time", "device_id", "experiment_id", "lat", "lon", "height",
		"hmsl", "hacc", "vacc", "veln", "vele", "veld", "gspeed", "headmot",
		"sacc", "headacc", "pdop", "numsv", "tacc", "validdate", "validtime",
		"gnssfixok", "fixtype", "year", "month", "day", "hour", "min", "second",
	),
	TableHardware: newTableSpec("id",
		"alias", "region", "location_desc", "owner_name", "make", "model",
		"signals", "configuration", "attributes",
	),
	TableExperiments: newTableSpec("id",
		"alias", "start_time", "end_time", "description", "configuration",
		"region", "type",
	),
	TableExperimentDevices: newTableSpec("", "experiment_id", "device_id"),
}

// Valid reports whether t is part of the catalogue.
func (t Table) Valid() bool {
	_, ok := catalogue[t]
	return ok
}

// HasColumn reports whether column belongs to t.
func (t Table) HasColumn(column string) bool {
	spec, ok := catalogue[t]
	if !ok {
		return false
	}
	_, ok = spec.columns[column]
	return ok
}

// Columns returns the known columns of t in lexical order.
func (t Table) Columns() []string {
	spec, ok := catalogue[t]
	if !ok {
		return nil
	}
	cols := make([]string, 0, len(spec.columns))
	for c := range spec.columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (t Table) spec() (tableSpec, error) {
	spec, ok := catalogue[t]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %q", errspkg.ErrUnknownTable, string(t))
	}
	return spec, nil
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
