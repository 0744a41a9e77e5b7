package store

import (
	"context"
	"fmt"
)

// sqliteSchema mirrors the Postgres tables closely enough for local runs and
// tests. Postgres schemas are managed outside this module.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS hardware (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alias TEXT NOT NULL UNIQUE,
		region TEXT,
		location_desc TEXT,
		owner_name TEXT,
		make TEXT,
		model TEXT,
		signals TEXT,
		configuration TEXT,
		attributes TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alias TEXT NOT NULL UNIQUE,
		start_time TIMESTAMP,
		end_time TIMESTAMP,
		description TEXT,
		configuration TEXT,
		region TEXT,
		type TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS experiment_devices (
		experiment_id INTEGER NOT NULL,
		device_id INTEGER NOT NULL,
		UNIQUE (experiment_id, device_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gngga (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_time NOT NULL,
		lat REAL, ns TEXT, lon REAL, ew TEXT,
		quality INTEGER, num_sv INTEGER, hdop REAL,
		alt REAL, alt_unit TEXT, sep REAL, sep_unit TEXT,
		diff_age REAL, diff_station TEXT, processed_time INTEGER,
		device_id INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nav_pvt (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_time NOT NULL,
		device_id INTEGER NOT NULL,
		experiment_id INTEGER NOT NULL,
		lat REAL, lon REAL, height REAL, hmsl REAL,
		hacc REAL, vacc REAL, veln REAL, vele REAL, veld REAL,
		gspeed REAL, headmot REAL, sacc REAL, headacc REAL, pdop REAL,
		numsv INTEGER, tacc INTEGER,
		validdate BOOLEAN, validtime BOOLEAN, gnssfixok BOOLEAN,
		fixtype TEXT,
		year INTEGER, month INTEGER, day INTEGER,
		hour INTEGER, min INTEGER, second INTEGER
	)`,
}

// EnsureSQLiteSchema creates the catalogue tables when running on sqlite. It
// is a no-op for the Postgres drivers.
func (m *Manager) EnsureSQLiteSchema(ctx context.Context) error {
	if m.driver != DriverSQLite {
		return nil
	}
	for _, ddl := range sqliteSchema {
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create schema: %w", err)
		}
	}
	return nil
}
