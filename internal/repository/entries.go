package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
	"github.com/joseph-ayodele/maaser-tracker/internal/period"
)

// EntryRepository is the durable store of entries. Every mutation validates
// its input first; each call is a single backend statement.
type EntryRepository interface {
	// Add inserts a new entry and returns its id. An existing id fails with a
	// duplicate key error and leaves the stored record untouched.
	Add(ctx context.Context, e entity.Entry) (string, error)
	// Update replaces the full record at the entry's id. Updating an id that
	// is not stored is a no-op that still returns the id; it never inserts.
	Update(ctx context.Context, e entity.Entry) (string, error)
	// Delete removes the entry if present. A missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Get returns the entry or a not found error.
	Get(ctx context.Context, id string) (entity.Entry, error)
	GetAll(ctx context.Context) ([]entity.Entry, error)
	GetByType(ctx context.Context, t constants.EntryType) ([]entity.Entry, error)
	// GetByDateRange matches dates in [start, end]. A date-only end covers
	// timestamps on that day. An empty bound leaves that side open.
	GetByDateRange(ctx context.Context, start, end string) ([]entity.Entry, error)
	// GetByAccountingMonth matches on the stored month only, never on date.
	GetByAccountingMonth(ctx context.Context, month string) ([]entity.Entry, error)
	Count(ctx context.Context) (int, error)
	// Clear deletes every entry.
	Clear(ctx context.Context) error
}

type entryRepository struct {
	db         *DB
	normalizer entity.Normalizer
	logger     *slog.Logger
}

func NewEntryRepository(db *DB, logger *slog.Logger) EntryRepository {
	return &entryRepository{
		db:         db,
		normalizer: entity.Normalizer{Deriver: db.deriver},
		logger:     logger,
	}
}

var entryColumns = []string{colID, colType, colAmount, colDate, colMonth, colMaaser, colNote, colUpdatedAt}

func validate(e entity.Entry) error {
	if res := entity.Validate(e); !res.Valid {
		return common.NewValidationError(res.Errors)
	}
	return nil
}

// prepare fills every derived field a stored record must carry.
func (r *entryRepository) prepare(e entity.Entry, stamp bool) entity.Entry {
	e = entity.WithMaaserSnapshot(r.normalizer.Normalize(e))
	b := e.Core()
	if stamp || b.UpdatedAt.IsZero() {
		b.UpdatedAt = r.db.now().UTC()
		e = e.WithCore(b)
	}
	return e
}

func rowValues(e entity.Entry) []any {
	b := e.Core()
	var maaser, note any
	if inc, ok := e.(entity.Income); ok {
		maaser = inc.Maaser
	}
	if b.Note != "" {
		note = b.Note
	}
	return []any{b.ID, string(e.Type()), b.Amount, b.Date, b.AccountingMonth, maaser, note, formatTime(b.UpdatedAt)}
}

func (r *entryRepository) Add(ctx context.Context, e entity.Entry) (string, error) {
	if err := validate(e); err != nil {
		return "", err
	}
	e = r.prepare(e, false)
	id := e.Core().ID

	query, args := r.db.builder().
		Insert(tableEntries).
		Columns(entryColumns...).
		Values(rowValues(e)...).
		Query()
	if _, err := r.db.sql.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return "", common.NewDuplicateKeyError(id)
		}
		r.logger.Error("entry.add failed", "id", id, "error", err)
		return "", common.NewBackendError("insert entry", err)
	}
	r.logger.Debug("entry.added", "id", id, "type", e.Type())
	return id, nil
}

func (r *entryRepository) Update(ctx context.Context, e entity.Entry) (string, error) {
	if err := validate(e); err != nil {
		return "", err
	}
	e = r.prepare(e, true)
	b := e.Core()
	vals := rowValues(e)

	upd := r.db.builder().Update(tableEntries)
	for i, col := range entryColumns {
		if col == colID {
			continue
		}
		if vals[i] == nil {
			upd.SetNull(col)
		} else {
			upd.Set(col, vals[i])
		}
	}
	query, args := upd.Where(entsql.EQ(colID, b.ID)).Query()
	res, err := r.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("entry.update failed", "id", b.ID, "error", err)
		return "", common.NewBackendError("update entry", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.logger.Debug("entry.update skipped, id not stored", "id", b.ID)
		return b.ID, nil
	}
	r.logger.Debug("entry.updated", "id", b.ID)
	return b.ID, nil
}

func (r *entryRepository) Delete(ctx context.Context, id string) error {
	query, args := r.db.builder().
		Delete(tableEntries).
		Where(entsql.EQ(colID, id)).
		Query()
	if _, err := r.db.sql.ExecContext(ctx, query, args...); err != nil {
		return common.NewBackendError("delete entry", err)
	}
	r.logger.Debug("entry.deleted", "id", id)
	return nil
}

func (r *entryRepository) selectEntries() *entsql.Selector {
	return r.db.builder().
		Select(entryColumns...).
		From(entsql.Table(tableEntries)).
		OrderBy(entsql.Asc(colDate), entsql.Asc(colID))
}

func (r *entryRepository) Get(ctx context.Context, id string) (entity.Entry, error) {
	query, args := r.db.builder().
		Select(entryColumns...).
		From(entsql.Table(tableEntries)).
		Where(entsql.EQ(colID, id)).
		Query()
	e, err := scanEntry(r.db.sql.QueryRowContext(ctx, query, args...), r.db.deriver)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError(id)
	}
	if err != nil {
		return nil, common.NewBackendError("get entry", err)
	}
	return e, nil
}

func (r *entryRepository) GetAll(ctx context.Context) ([]entity.Entry, error) {
	return r.query(ctx, "list entries", r.selectEntries())
}

func (r *entryRepository) GetByType(ctx context.Context, t constants.EntryType) ([]entity.Entry, error) {
	return r.query(ctx, "list entries by type", r.selectEntries().Where(entsql.EQ(colType, string(t))))
}

func (r *entryRepository) GetByDateRange(ctx context.Context, start, end string) ([]entity.Entry, error) {
	var preds []*entsql.Predicate
	if start != "" {
		preds = append(preds, entsql.GTE(colDate, start))
	}
	if end != "" {
		preds = append(preds, upperDateBound(end))
	}
	sel := r.selectEntries()
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	return r.query(ctx, "list entries by date", sel)
}

// upperDateBound makes a bare YYYY-MM-DD end inclusive of timestamps on that
// day, which sort after the bare date. Dates compare as strings, so the next
// day is only usable while it keeps a four-digit year.
func upperDateBound(end string) *entsql.Predicate {
	if day, err := time.Parse(time.DateOnly, end); err == nil {
		if next := day.AddDate(0, 0, 1).Format(time.DateOnly); len(next) == len(time.DateOnly) {
			return entsql.LT(colDate, next)
		}
	}
	return entsql.LTE(colDate, end+"\uffff")
}

func (r *entryRepository) GetByAccountingMonth(ctx context.Context, month string) ([]entity.Entry, error) {
	return r.query(ctx, "list entries by accounting month", r.selectEntries().Where(entsql.EQ(colMonth, month)))
}

func (r *entryRepository) Count(ctx context.Context) (int, error) {
	query, args := r.db.builder().
		Select(entsql.Count("*")).
		From(entsql.Table(tableEntries)).
		Query()
	var n int
	if err := r.db.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, common.NewBackendError("count entries", err)
	}
	return n, nil
}

func (r *entryRepository) Clear(ctx context.Context) error {
	query, args := r.db.builder().Delete(tableEntries).Query()
	res, err := r.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return common.NewBackendError("clear entries", err)
	}
	n, _ := res.RowsAffected()
	r.logger.Info("entries.cleared", "removed", n)
	return nil
}

func (r *entryRepository) query(ctx context.Context, op string, sel *entsql.Selector) ([]entity.Entry, error) {
	query, args := sel.Query()
	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewBackendError(op, err)
	}
	defer rows.Close()

	out := make([]entity.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows, r.db.deriver)
		if err != nil {
			return nil, common.NewBackendError(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewBackendError(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row in entryColumns order. A row whose type the table
// constraint should have rejected means the store is corrupt, and panics.
func scanEntry(s rowScanner, d period.Deriver) (entity.Entry, error) {
	var (
		id, typ, date          string
		amount                 float64
		month, note, updatedAt sql.NullString
		maaser                 sql.NullFloat64
	)
	if err := s.Scan(&id, &typ, &amount, &date, &month, &maaser, &note, &updatedAt); err != nil {
		return nil, err
	}

	b := entity.Base{ID: id, Amount: amount, Date: date, Note: note.String}
	if month.Valid && month.String != "" {
		b.AccountingMonth = month.String
	} else {
		// Only possible for a record whose backfill write failed.
		b.AccountingMonth = d.Derive(date)
	}
	if updatedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, updatedAt.String); err == nil {
			b.UpdatedAt = t
		}
	}

	switch constants.EntryType(typ) {
	case constants.EntryTypeIncome:
		return entity.WithMaaserSnapshot(entity.Income{Base: b, Maaser: maaser.Float64}), nil
	case constants.EntryTypeDonation:
		return entity.NewDonation(b), nil
	default:
		panic(fmt.Sprintf("repository: entry %q has unknown type %q", id, typ))
	}
}
