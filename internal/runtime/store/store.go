package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/gnssflow/internal/runtime/logging"
)

const (
	DefaultMinConns     = 1
	DefaultMaxConns     = 10
	DefaultMaxRetries   = 10
	DefaultInitialDelay = time.Second
)

// SQLOpen opens the database handle. Tests swap it to simulate an unreachable
// store.
var SQLOpen = sql.Open

// Options configures the connection pool.
type Options struct {
	// Driver is "postgres" (lib/pq), "pgx" or "sqlite".
	Driver string
	DSN    string
	// MinConns connections are opened eagerly; MaxConns bounds open connections.
	MinConns int
	MaxConns int
	// MaxRetries is the total number of initialization attempts. Attempt n
	// waits n*InitialDelay before the next one.
	MaxRetries   int
	InitialDelay time.Duration
	// OperationTimeout bounds each statement and each pool checkout. Zero
	// leaves them bounded only by the caller's context.
	OperationTimeout time.Duration
	ConnMaxLifetime  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = DefaultMaxConns
	}
	if o.MinConns < 0 {
		o.MinConns = 0
	}
	if o.MinConns > o.MaxConns {
		o.MinConns = o.MaxConns
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	return o
}

// Manager owns the bounded connection pool. It is created once at startup
// and handed to every component needing store access.
type Manager struct {
	db     *sql.DB
	driver string
	opts   Options
	logger loggingpkg.ServiceLogger

	closeOnce sync.Once
	closeErr  error
}

// additiveBackOff waits step, 2*step, 3*step, ...
type additiveBackOff struct {
	step time.Duration
	n    int64
}

func (b *additiveBackOff) Reset() { b.n = 0 }

func (b *additiveBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

// InitializePool opens the pool and proves it usable by checking out MinConns
// connections. It retries with additive backoff and fails with a
// PoolExhaustionError once MaxRetries attempts have failed.
func InitializePool(ctx context.Context, opts Options, logger loggingpkg.ServiceLogger) (*Manager, error) {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	driver, err := driverName(opts.Driver)
	if err != nil {
		return nil, err
	}
	opts.Driver = driver
	if driver == DriverSQLite {
		opts.DSN = sqliteDSN(opts.DSN)
		// sqlite serializes writers; a single connection avoids lock churn.
		opts.MaxConns = 1
	}
	opts = opts.withDefaults()

	attempt := 0
	db, err := backoff.Retry(ctx, func() (*sql.DB, error) {
		attempt++
		db, err := openPool(ctx, driver, opts)
		if err != nil {
			logger.Error("Store pool initialization failed", err, loggingpkg.LogFields{
				"driver":       driver,
				"attempt":      attempt,
				"max_attempts": opts.MaxRetries,
			})
			return nil, err
		}
		return db, nil
	},
		backoff.WithBackOff(&additiveBackOff{step: opts.InitialDelay}),
		backoff.WithMaxTries(uint(opts.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, delay time.Duration) {
			logger.Info("Retrying store pool initialization", loggingpkg.LogFields{
				"driver": driver,
				"delay":  delay.String(),
			})
		}),
	)
	if err != nil {
		return nil, &errspkg.PoolExhaustionError{Attempts: attempt, Err: err}
	}

	logger.Info("Store pool ready", loggingpkg.LogFields{
		"driver":    driver,
		"min_conns": opts.MinConns,
		"max_conns": opts.MaxConns,
		"attempts":  attempt,
	})
	return &Manager{db: db, driver: driver, opts: opts, logger: logger}, nil
}

// NewManager wraps an already configured handle without warm-up.
func NewManager(db *sql.DB, opts Options, logger loggingpkg.ServiceLogger) *Manager {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &Manager{db: db, driver: opts.Driver, opts: opts.withDefaults(), logger: logger}
}

func openPool(ctx context.Context, driver string, opts Options) (*sql.DB, error) {
	db, err := SQLOpen(driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := warmUp(ctx, db, opts.MinConns); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func warmUp(ctx context.Context, db *sql.DB, n int) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < n; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("warm up connection %d: %w", i+1, err)
		}
		conns = append(conns, c)
	}
	return nil
}

// DB exposes the underlying handle for schema management and diagnostics.
func (m *Manager) DB() *sql.DB { return m.db }

// Driver returns the normalized driver name.
func (m *Manager) Driver() string { return m.driver }

// Stats reports pool usage.
func (m *Manager) Stats() sql.DBStats { return m.db.Stats() }

// Ping checks that a connection can be obtained.
func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.db.PingContext(ctx); err != nil {
		return &errspkg.PoolExhaustionError{Err: err}
	}
	return nil
}

// Close tears the pool down. Safe to call more than once.
func (m *Manager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		m.closeErr = m.db.Close()
	})
	return m.closeErr
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.OperationTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

// WorkFunc runs inside a unit of work.
type WorkFunc func(ctx context.Context, uow *UnitOfWork) error

// WithUnitOfWork checks a connection out of the pool, opens a transaction and
// runs fn. The transaction commits when fn succeeds and autocommit is set; it
// rolls back when fn fails or panics, or when autocommit is false. The
// connection is returned to the pool exactly once on every path.
func (m *Manager) WithUnitOfWork(ctx context.Context, autocommit bool, fn WorkFunc) (err error) {
	checkoutCtx, cancel := m.opContext(ctx)
	conn, err := m.db.Conn(checkoutCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		return &errspkg.PoolExhaustionError{Err: err}
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, sql.ErrConnDone) {
			m.logger.Error("Failed to return store connection", closeErr, nil)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return newStoreError("begin", "", err)
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			m.logger.Error("Failed to roll back unit of work", rbErr, nil)
		}
	}()

	if err := fn(ctx, &UnitOfWork{tx: tx, mgr: m}); err != nil {
		return err
	}

	if !autocommit {
		return nil
	}

	finished = true
	if err := tx.Commit(); err != nil {
		return newStoreError("commit", "", err)
	}
	return nil
}

// GenericInsert inserts rec into t in its own committed unit of work.
func (m *Manager) GenericInsert(ctx context.Context, t Table, rec Record) error {
	return m.WithUnitOfWork(ctx, true, func(ctx context.Context, uow *UnitOfWork) error {
		return uow.Insert(ctx, t, rec)
	})
}

// Upsert inserts or updates rec by keys and returns the row id.
func (m *Manager) Upsert(ctx context.Context, t Table, keys []string, rec Record) (int64, error) {
	var id int64
	err := m.WithUnitOfWork(ctx, true, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		id, err = uow.Upsert(ctx, t, keys, rec)
		return err
	})
	return id, err
}

// InsertIfAbsent inserts rec unless a row with the same keys exists, and
// returns the id of whichever row is stored.
func (m *Manager) InsertIfAbsent(ctx context.Context, t Table, keys []string, rec Record) (int64, error) {
	var id int64
	err := m.WithUnitOfWork(ctx, true, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		id, err = uow.InsertIfAbsent(ctx, t, keys, rec)
		return err
	})
	return id, err
}

// Select returns the rows of t matching every column of where.
func (m *Manager) Select(ctx context.Context, t Table, cols []string, where Record) ([]Record, error) {
	var rows []Record
	err := m.WithUnitOfWork(ctx, false, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		rows, err = uow.Select(ctx, t, cols, where)
		return err
	})
	return rows, err
}
