package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
)

// statement is a parameterized query. Only identifiers from the catalogue are
// written into text; every value travels in args.
type statement struct {
	query string
	args  []any
}

func quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// columnsOf validates rec against t and returns its columns in lexical order
// along with the matching values.
func columnsOf(t Table, rec Record) ([]string, []any, error) {
	if _, err := t.spec(); err != nil {
		return nil, nil, err
	}
	if len(rec) == 0 {
		return nil, nil, errspkg.ErrEmptyRecord
	}
	cols := make([]string, 0, len(rec))
	for col := range rec {
		if !t.HasColumn(col) {
			return nil, nil, fmt.Errorf("%w: %s.%s", errspkg.ErrUnknownColumn, t, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = rec[col]
	}
	return cols, args, nil
}

func checkKeys(t Table, rec Record, keys []string) error {
	if len(keys) == 0 {
		return errspkg.ErrNoKeyColumns
	}
	for _, k := range keys {
		if !t.HasColumn(k) {
			return fmt.Errorf("%w: %s.%s", errspkg.ErrUnknownColumn, t, k)
		}
		if _, ok := rec[k]; !ok {
			return fmt.Errorf("%w: key column %s missing from record", errspkg.ErrEmptyRecord, k)
		}
	}
	return nil
}

func quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

func insertPrefix(t Table, cols []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quote(string(t)))
	b.WriteString(" (")
	b.WriteString(quoteAll(cols))
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder(i + 1))
	}
	b.WriteString(")")
	return b.String()
}

func buildInsert(t Table, rec Record) (statement, error) {
	cols, args, err := columnsOf(t, rec)
	if err != nil {
		return statement{}, err
	}
	return statement{query: insertPrefix(t, cols), args: args}, nil
}

// buildUpsert overwrites every non-key column on conflict and returns the id.
// When the record only holds key columns the key is rewritten with itself so
// RETURNING still yields the existing row.
func buildUpsert(t Table, keys []string, rec Record) (statement, error) {
	return buildConflictUpdate(t, keys, rec, false)
}

// buildInsertIfAbsent leaves an existing row untouched and returns its id in
// the same statement.
func buildInsertIfAbsent(t Table, keys []string, rec Record) (statement, error) {
	return buildConflictUpdate(t, keys, rec, true)
}

func buildConflictUpdate(t Table, keys []string, rec Record, keepExisting bool) (statement, error) {
	spec, err := t.spec()
	if err != nil {
		return statement{}, err
	}
	if spec.idColumn == "" {
		return statement{}, fmt.Errorf("%w: %s has no id column", errspkg.ErrUnknownColumn, t)
	}
	cols, args, err := columnsOf(t, rec)
	if err != nil {
		return statement{}, err
	}
	if err := checkKeys(t, rec, keys); err != nil {
		return statement{}, err
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var updates []string
	if !keepExisting {
		for _, c := range cols {
			if !isKey[c] {
				updates = append(updates, quote(c)+" = EXCLUDED."+quote(c))
			}
		}
	}
	if len(updates) == 0 {
		updates = append(updates, quote(keys[0])+" = EXCLUDED."+quote(keys[0]))
	}

	query := insertPrefix(t, cols) +
		" ON CONFLICT (" + quoteAll(keys) + ") DO UPDATE SET " + strings.Join(updates, ", ") +
		" RETURNING " + quote(spec.idColumn)
	return statement{query: query, args: args}, nil
}

func buildInsertIgnore(t Table, keys []string, rec Record) (statement, error) {
	cols, args, err := columnsOf(t, rec)
	if err != nil {
		return statement{}, err
	}
	if err := checkKeys(t, rec, keys); err != nil {
		return statement{}, err
	}
	query := insertPrefix(t, cols) + " ON CONFLICT (" + quoteAll(keys) + ") DO NOTHING"
	return statement{query: query, args: args}, nil
}

func buildSelect(t Table, cols []string, where Record) (statement, error) {
	if _, err := t.spec(); err != nil {
		return statement{}, err
	}
	if len(cols) == 0 {
		cols = t.Columns()
	}
	for _, c := range cols {
		if !t.HasColumn(c) {
			return statement{}, fmt.Errorf("%w: %s.%s", errspkg.ErrUnknownColumn, t, c)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(quoteAll(cols))
	b.WriteString(" FROM ")
	b.WriteString(quote(string(t)))

	var args []any
	if len(where) > 0 {
		whereCols, whereArgs, err := columnsOf(t, where)
		if err != nil {
			return statement{}, err
		}
		b.WriteString(" WHERE ")
		for i, c := range whereCols {
			if i > 0 {
				b.WriteString(" AND ")
			}
			if whereArgs[i] == nil {
				b.WriteString(quote(c) + " IS NULL")
				continue
			}
			args = append(args, whereArgs[i])
			b.WriteString(quote(c) + " = " + placeholder(len(args)))
		}
	}
	return statement{query: b.String(), args: args}, nil
}
