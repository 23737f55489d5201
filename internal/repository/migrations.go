package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/maaser-tracker/internal/common"
)

const (
	tableEntries = "entries"
	tableMeta    = "schema_meta"

	colID        = "id"
	colType      = "type"
	colAmount    = "amount"
	colDate      = "date"
	colMonth     = "accounting_month"
	colMaaser    = "maaser"
	colNote      = "note"
	colUpdatedAt = "updated_at"

	colKey         = "key"
	colValue       = "value"
	metaVersionKey = "version"
)

// migrationStep moves the store from version i to i+1, where i is the step's
// index. schema runs inside one transaction and must be idempotent. backfill,
// when set, runs after the schema commit and record by record: a record that
// cannot be rewritten is logged and skipped, never fatal.
type migrationStep struct {
	name     string
	schema   func(ctx context.Context, tx *sql.Tx, db *DB) error
	backfill func(ctx context.Context, db *DB) error
}

var migrationSteps = []migrationStep{
	{name: "create entries", schema: createEntries},
	{name: "add accounting month", schema: addAccountingMonth, backfill: backfillAccountingMonth},
	{name: "add updated at", schema: addUpdatedAt, backfill: backfillUpdatedAt},
}

// CurrentSchemaVersion is the version a freshly opened store ends up at.
var CurrentSchemaVersion = len(migrationSteps)

const (
	initialRetryDelay = 50 * time.Millisecond
	maxRetryDelay     = 2 * time.Second
)

// migrate applies pending steps. Another connection holding the write lock
// is waited out with a warning; only ctx ends the wait.
func (db *DB) migrate(ctx context.Context) error {
	delay := initialRetryDelay
	for {
		err := db.applyMigrations(ctx)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return common.NewBackendError("migrate schema", err)
		}

		db.logger.Warn("store blocked by another connection, waiting", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return common.NewBackendError("migrate schema", fmt.Errorf("%w: %w", ctx.Err(), err))
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func (db *DB) applyMigrations(ctx context.Context) error {
	if err := db.ensureMeta(ctx); err != nil {
		return err
	}
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > len(migrationSteps) {
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, len(migrationSteps))
	}

	for i := version; i < len(migrationSteps); i++ {
		step := migrationSteps[i]
		target := i + 1
		db.logger.Info("applying schema migration", "from", i, "to", target, "step", step.name)

		if err := db.inTx(ctx, func(tx *sql.Tx) error { return step.schema(ctx, tx, db) }); err != nil {
			return fmt.Errorf("schema step %d (%s): %w", target, step.name, err)
		}
		if step.backfill != nil {
			if err := step.backfill(ctx, db); err != nil {
				if isBusy(err) {
					return err
				}
				db.logger.Warn("backfill incomplete", "step", step.name, "error", err)
			}
		}
		// Recorded after the backfill so a crash mid-pass re-runs the step.
		if err := db.setVersion(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *DB) ensureMeta(ctx context.Context) error {
	exists, err := db.tableExists(ctx, tableMeta)
	if err != nil || exists {
		return err
	}
	_, err = db.sql.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	return err
}

func (db *DB) setVersion(ctx context.Context, v int) error {
	query, args := db.builder().
		Insert(tableMeta).
		Columns(colKey, colValue).
		Values(metaVersionKey, strconv.Itoa(v)).
		OnConflict(entsql.ConflictColumns(colKey), entsql.ResolveWithNewValues()).
		Query()
	_, err := db.sql.ExecContext(ctx, query, args...)
	return err
}

func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var query string
	switch db.dialect {
	case dialect.Postgres:
		query = `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}
	var n int
	if err := db.sql.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, db *DB, table, column string) (bool, error) {
	var query string
	switch db.dialect {
	case dialect.Postgres:
		query = `SELECT COUNT(*) FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`
	default:
		query = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, table, column).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *DB) realType() string {
	if db.dialect == dialect.Postgres {
		return "DOUBLE PRECISION"
	}
	return "REAL"
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func createEntries(ctx context.Context, tx *sql.Tx, db *DB) error {
	return execAll(ctx, tx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entries (
			id     TEXT PRIMARY KEY,
			type   TEXT NOT NULL CHECK (type IN ('income', 'donation')),
			amount %[1]s NOT NULL CHECK (amount > 0),
			date   TEXT NOT NULL,
			maaser %[1]s,
			note   TEXT
		)`, db.realType()),
		`CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date)`,
	)
}

func addColumn(ctx context.Context, tx *sql.Tx, db *DB, column, ddl string) error {
	exists, err := columnExists(ctx, tx, db, tableEntries, column)
	if err != nil || exists {
		return err
	}
	_, err = tx.ExecContext(ctx, "ALTER TABLE entries ADD COLUMN "+column+" "+ddl)
	return err
}

func addAccountingMonth(ctx context.Context, tx *sql.Tx, db *DB) error {
	if err := addColumn(ctx, tx, db, colMonth, "TEXT"); err != nil {
		return err
	}
	return execAll(ctx, tx, `CREATE INDEX IF NOT EXISTS idx_entries_accounting_month ON entries(accounting_month)`)
}

func addUpdatedAt(ctx context.Context, tx *sql.Tx, db *DB) error {
	return addColumn(ctx, tx, db, colUpdatedAt, "TEXT")
}

func missingMonth() *entsql.Predicate {
	return entsql.Or(entsql.IsNull(colMonth), entsql.EQ(colMonth, ""))
}

// backfillAccountingMonth derives the month for every record that lacks one.
// Records already carrying a month are never touched, so re-running is a
// no-op.
func backfillAccountingMonth(ctx context.Context, db *DB) error {
	query, args := db.builder().
		Select(colID, colDate).
		From(entsql.Table(tableEntries)).
		Where(missingMonth()).
		Query()
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	type pending struct{ id, date string }
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.date); err != nil {
			_ = rows.Close()
			return err
		}
		todo = append(todo, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var updated, failed int
	for _, p := range todo {
		month := db.deriver.Derive(p.date)
		query, args := db.builder().
			Update(tableEntries).
			Set(colMonth, month).
			Where(entsql.And(entsql.EQ(colID, p.id), missingMonth())).
			Query()
		if _, err := db.sql.ExecContext(ctx, query, args...); err != nil {
			failed++
			db.logger.Warn("accounting month backfill failed", "id", p.id, "error", err)
			continue
		}
		updated++
	}
	db.logger.Info("accounting month backfill done", "updated", updated, "failed", failed)
	return nil
}

// backfillUpdatedAt stamps records written before edits were timestamped.
func backfillUpdatedAt(ctx context.Context, db *DB) error {
	query, args := db.builder().
		Update(tableEntries).
		Set(colUpdatedAt, formatTime(db.now())).
		Where(entsql.IsNull(colUpdatedAt)).
		Query()
	res, err := db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	db.logger.Info("updated_at backfill done", "updated", n)
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
