package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
)

// UnitOfWork executes statements on one checked-out connection inside one
// transaction. It is only valid inside the WorkFunc it was passed to.
type UnitOfWork struct {
	tx  *sql.Tx
	mgr *Manager
}

// Insert writes rec into t.
func (u *UnitOfWork) Insert(ctx context.Context, t Table, rec Record) error {
	stmt, err := buildInsert(t, rec)
	if err != nil {
		return newStoreError("insert", t, err)
	}
	_, err = u.exec(ctx, stmt)
	return newStoreError("insert", t, err)
}

// Upsert inserts rec or, when keys collide, overwrites the other columns of
// the existing row. It returns the row id.
func (u *UnitOfWork) Upsert(ctx context.Context, t Table, keys []string, rec Record) (int64, error) {
	stmt, err := buildUpsert(t, keys, rec)
	if err != nil {
		return 0, newStoreError("upsert", t, err)
	}
	id, err := u.returningID(ctx, stmt)
	return id, newStoreError("upsert", t, err)
}

// InsertIfAbsent inserts rec unless keys collide and returns the id of the
// stored row. A single statement covers both outcomes.
func (u *UnitOfWork) InsertIfAbsent(ctx context.Context, t Table, keys []string, rec Record) (int64, error) {
	stmt, err := buildInsertIfAbsent(t, keys, rec)
	if err != nil {
		return 0, newStoreError("insert_if_absent", t, err)
	}
	id, err := u.returningID(ctx, stmt)
	return id, newStoreError("insert_if_absent", t, err)
}

// InsertIgnore inserts rec and silently skips key collisions. It reports
// whether a row was written.
func (u *UnitOfWork) InsertIgnore(ctx context.Context, t Table, keys []string, rec Record) (bool, error) {
	stmt, err := buildInsertIgnore(t, keys, rec)
	if err != nil {
		return false, newStoreError("insert_ignore", t, err)
	}
	res, err := u.exec(ctx, stmt)
	if err != nil {
		return false, newStoreError("insert_ignore", t, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, newStoreError("insert_ignore", t, err)
	}
	return n > 0, nil
}

// Select returns the rows of t matching where. An empty cols selects every
// catalogued column.
func (u *UnitOfWork) Select(ctx context.Context, t Table, cols []string, where Record) ([]Record, error) {
	stmt, err := buildSelect(t, cols, where)
	if err != nil {
		return nil, newStoreError("select", t, err)
	}
	if len(cols) == 0 {
		cols = t.Columns()
	}

	ctx, cancel := u.mgr.opContext(ctx)
	defer cancel()

	rows, err := u.tx.QueryContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return nil, newStoreError("select", t, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, newStoreError("select", t, err)
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("select", t, err)
	}
	return out, nil
}

func (u *UnitOfWork) exec(ctx context.Context, stmt statement) (sql.Result, error) {
	ctx, cancel := u.mgr.opContext(ctx)
	defer cancel()
	return u.tx.ExecContext(ctx, stmt.query, stmt.args...)
}

func (u *UnitOfWork) returningID(ctx context.Context, stmt statement) (int64, error) {
	ctx, cancel := u.mgr.opContext(ctx)
	defer cancel()

	var id int64
	err := u.tx.QueryRowContext(ctx, stmt.query, stmt.args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", errspkg.ErrNoRowReturned, stmt.query)
	}
	return id, err
}
