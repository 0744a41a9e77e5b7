package store

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

func driverName(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DriverPostgres, "postgresql", "pq":
		return DriverPostgres, nil
	case DriverPgx:
		return DriverPgx, nil
	case DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("store: unsupported driver %q", name)
	}
}

// sqliteDSN adds a busy timeout so concurrent writers wait instead of failing
// with SQLITE_BUSY.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}
