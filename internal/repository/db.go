package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/period"
)

const (
	sqliteDriver   = "sqlite"
	postgresDriver = "pgx"
)

type Config struct {
	// DSN is a SQLite file path (optionally "file:" prefixed) or a
	// postgres:// URL.
	DSN          string
	MaxOpenConns int
	BusyTimeout  time.Duration
	OpenTimeout  time.Duration
	// Now stamps updatedAt and backs the accounting month fallback.
	// Defaults to time.Now.
	Now func() time.Time
}

// DB is an open, migrated entry store connection.
type DB struct {
	sql     *sql.DB
	pool    *pgxpool.Pool
	dialect string
	now     func() time.Time
	deriver period.Deriver
	logger  *slog.Logger
}

func (db *DB) SQL() *sql.DB { return db.sql }

// Dialect is an ent dialect name: dialect.SQLite or dialect.Postgres.
func (db *DB) Dialect() string { return db.dialect }

func (db *DB) builder() *entsql.DialectBuilder {
	return entsql.Dialect(db.dialect)
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Available reports whether a persistence backend can be used at all with
// cfg. Callers check it before Open so an unsupported environment can be
// reported as such instead of as a runtime failure.
func Available(cfg Config) bool {
	if isPostgres(cfg.DSN) {
		return slices.Contains(sql.Drivers(), postgresDriver)
	}
	if !slices.Contains(sql.Drivers(), sqliteDriver) {
		return false
	}
	path := sqlitePath(cfg.DSN)
	if isMemory(path) {
		return true
	}
	return dirWritable(filepath.Dir(path))
}

// dirWritable reports whether dir exists and is writable, or could be
// created under its nearest existing ancestor. Nothing is left behind.
func dirWritable(dir string) bool {
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return false
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
	f, err := os.CreateTemp(dir, ".maaser-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func isMemory(path string) bool {
	return path == "" || path == ":memory:" || strings.HasPrefix(path, ":memory:")
}

// sqliteDSN adds the connection pragmas every store connection needs. Write
// transactions take the lock up front so contention shows up as a busy
// error at BEGIN rather than as a deadlock later.
func sqliteDSN(cfg Config) string {
	path := sqlitePath(cfg.DSN)
	q := url.Values{}
	if i := strings.IndexByte(cfg.DSN, '?'); i >= 0 {
		if parsed, err := url.ParseQuery(cfg.DSN[i+1:]); err == nil {
			q = parsed
		}
	}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if !isMemory(path) {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	if q.Get("_txlock") == "" {
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}

// Open connects to the configured backend and brings its schema up to the
// current version. Opening an already current store is a no-op beyond the
// version check.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if !Available(cfg) {
		return nil, common.NewStorageUnavailableError("no usable persistence backend", nil)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	db := &DB{logger: logger, now: now, deriver: period.Deriver{Now: now}}
	if isPostgres(cfg.DSN) {
		if err := db.openPostgres(ctx, cfg); err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
	} else {
		logger.Info("opening database", "backend", "sqlite", "path", sqlitePath(cfg.DSN))
		if path := sqlitePath(cfg.DSN); !isMemory(path) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, common.NewStorageUnavailableError("create database directory", err)
			}
		}
		sqldb, err := sql.Open(sqliteDriver, sqliteDSN(cfg))
		if err != nil {
			return nil, common.NewBackendError("open database", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db.sql = sqldb
		db.dialect = dialect.SQLite
	}

	if err := HealthCheck(ctx, db, cfg.OpenTimeout, logger); err != nil {
		Close(db, logger)
		return nil, common.NewBackendError("ping database", err)
	}
	if err := db.migrate(ctx); err != nil {
		Close(db, logger)
		return nil, err
	}

	logger.Info("database ready", "dialect", db.dialect, "schema_version", CurrentSchemaVersion)
	return db, nil
}

func (db *DB) openPostgres(ctx context.Context, cfg Config) error {
	db.logger.Info("connecting to database", "backend", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return common.NewBackendError("parse postgres dsn", err)
	}
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "maaser-tracker"
	if cfg.BusyTimeout > 0 {
		pc.ConnConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%d", cfg.BusyTimeout.Milliseconds())
	}

	if cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OpenTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return common.NewBackendError("connect postgres", err)
	}

	db.pool = pool
	db.sql = stdlib.OpenDBFromPool(pool)
	db.dialect = dialect.Postgres
	return nil
}

// Close closes the database connections gracefully
func Close(db *DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	logger.Info("closing database connections")
	if db.sql != nil {
		if err := db.sql.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}
	if db.pool != nil {
		db.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func HealthCheck(ctx context.Context, db *DB, timeout time.Duration, logger *slog.Logger) error {
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.sql.PingContext(ctx); err != nil {
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

// SchemaVersion reads the version recorded in schema_meta. A store without
// the table reports 0.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	exists, err := db.tableExists(ctx, tableMeta)
	if err != nil || !exists {
		return 0, err
	}
	query, args := db.builder().
		Select(colValue).
		From(entsql.Table(tableMeta)).
		Where(entsql.EQ(colKey, metaVersionKey)).
		Query()
	var raw string
	err = db.sql.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("schema version %q: %w", raw, err)
	}
	return v, nil
}
