package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
)

// permanentSQLStateClasses never succeed on retry: data exceptions,
// integrity violations, syntax errors and undefined objects.
var permanentSQLStateClasses = map[string]bool{
	"22": true,
	"23": true,
	"42": true,
}

// newStoreError wraps a driver error with its code and retry classification.
func newStoreError(op string, t Table, err error) error {
	if err == nil {
		return nil
	}
	var existing *errspkg.StoreError
	if errors.As(err, &existing) {
		return err
	}
	code, permanent := classifyDriverError(err)
	return &errspkg.StoreError{
		Op:        op,
		Table:     string(t),
		Code:      code,
		Permanent: permanent,
		Err:       err,
	}
}

func classifyDriverError(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code, permanentSQLStateClasses[string(pqErr.Code.Class())]
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, len(pgErr.Code) >= 2 && permanentSQLStateClasses[pgErr.Code[:2]]
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_ERROR:
			return strconv.Itoa(code), true
		default:
			return strconv.Itoa(code), false
		}
	}

	if errors.Is(err, context.Canceled) {
		return "", false
	}
	if isBuildError(err) {
		return "", true
	}
	return "", false
}

func isBuildError(err error) bool {
	return errors.Is(err, errspkg.ErrUnknownTable) ||
		errors.Is(err, errspkg.ErrUnknownColumn) ||
		errors.Is(err, errspkg.ErrEmptyRecord) ||
		errors.Is(err, errspkg.ErrNoKeyColumns) ||
		errors.Is(err, errspkg.ErrNoRowReturned)
}
