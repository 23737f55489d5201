// Package migration moves entries out of the legacy flat list into the entry
// store exactly once, and backs up and restores entry sets.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
	"github.com/joseph-ayodele/maaser-tracker/internal/legacy"
	"github.com/joseph-ayodele/maaser-tracker/internal/repository"
)

// Result reports one Migrate run. Per-record problems are counted and
// described in Errors; they never abort the run.
type Result struct {
	Success         bool
	AlreadyMigrated bool
	EntriesMigrated int
	EntriesSkipped  int
	EntriesFailed   int
	Errors          []string
}

// RestoreResult reports one RestoreFromBackup run. RolledBack is true when
// the store was put back to its contents from before the restore.
type RestoreResult struct {
	Success         bool
	EntriesRestored int
	EntriesFailed   int
	RolledBack      bool
	Errors          []string
}

type Service struct {
	entries repository.EntryRepository
	legacy  legacy.Store
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now for backup timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(entries repository.EntryRepository, store legacy.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		entries: entries,
		legacy:  store,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsMigrationCompleted reads the durable flag. A flag that cannot be read
// counts as not completed.
func (s *Service) IsMigrationCompleted() bool {
	v, ok, err := s.legacy.Get(constants.MigrationCompletedKey)
	if err != nil {
		s.logger.Warn("migration flag unreadable, treating as not migrated", "error", err)
		return false
	}
	return ok && v == constants.MigrationCompletedValue
}

func (s *Service) markCompleted() error {
	return s.legacy.Set(constants.MigrationCompletedKey, constants.MigrationCompletedValue)
}

// loadLegacy returns the legacy records. A missing key, malformed JSON and a
// payload that is not an array all mean there is nothing to migrate; only a
// failure to read the store at all is an error.
func (s *Service) loadLegacy() ([]any, error) {
	raw, ok, err := s.legacy.Get(constants.LegacyEntriesKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	items, ok := parseLegacyList(raw)
	if !ok {
		s.logger.Warn("legacy entries are not a JSON array, treating as empty", "bytes", len(raw))
		return nil, nil
	}
	return items, nil
}

func (s *Service) existingIDs(ctx context.Context) (map[string]struct{}, error) {
	all, err := s.entries.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(all))
	for _, e := range all {
		ids[e.Core().ID] = struct{}{}
	}
	return ids, nil
}

func invalidReason(err error) string {
	if details := common.ValidationDetails(err); len(details) > 0 {
		return strings.Join(details, "; ")
	}
	return err.Error()
}

// Migrate copies legacy records into the entry store. Once a run finishes
// without store failures the flag is set and later calls return at once
// without touching the store. Records whose id is already stored are skipped,
// so a retry after a partial run only adds what is missing.
func (s *Service) Migrate(ctx context.Context) Result {
	if s.IsMigrationCompleted() {
		return Result{Success: true, AlreadyMigrated: true, Errors: []string{}}
	}

	res := Result{Errors: []string{}}
	records, err := s.loadLegacy()
	if err != nil {
		s.logger.Error("legacy store unreadable", "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("read legacy entries: %v", err))
		return res
	}

	if len(records) == 0 {
		if err := s.markCompleted(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("set migration flag: %v", err))
			return res
		}
		s.logger.Info("no legacy entries to migrate")
		res.Success = true
		return res
	}

	existing, err := s.existingIDs(ctx)
	if err != nil {
		s.logger.Error("listing stored entries failed", "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("list stored entries: %v", err))
		return res
	}

	s.logger.Info("migrating legacy entries", "count", len(records), "already_stored", len(existing))
	for i, rec := range records {
		e, err := entity.FromValue(rec)
		if err != nil {
			res.EntriesSkipped++
			res.Errors = append(res.Errors, fmt.Sprintf("legacy entry %d is invalid: %s", i, invalidReason(err)))
			continue
		}

		id := e.Core().ID
		if _, stored := existing[id]; stored {
			res.EntriesSkipped++
			continue
		}
		if _, err := s.entries.Add(ctx, e); err != nil {
			if errors.Is(err, common.ErrDuplicateKey) {
				res.EntriesSkipped++
				continue
			}
			res.EntriesFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("legacy entry %q: %v", id, err))
			s.logger.Warn("legacy entry not migrated", "id", id, "error", err)
			continue
		}
		existing[id] = struct{}{}
		res.EntriesMigrated++
	}

	if res.EntriesFailed == 0 {
		if err := s.markCompleted(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("set migration flag: %v", err))
			s.logger.Error("migration flag not set", "error", err)
		} else {
			res.Success = true
		}
	}

	s.logger.Info("legacy migration finished",
		"success", res.Success,
		"migrated", res.EntriesMigrated,
		"skipped", res.EntriesSkipped,
		"failed", res.EntriesFailed,
	)
	return res
}

// Initialize runs the startup migration and condenses the outcome into the
// status the rest of the application is handed.
func (s *Service) Initialize(ctx context.Context) (constants.MigrationStatus, Result) {
	res := s.Migrate(ctx)
	switch {
	case res.AlreadyMigrated:
		return constants.MigrationStatusAlreadyMigrated, res
	case res.Success:
		return constants.MigrationStatusCompleted, res
	case res.EntriesMigrated > 0:
		return constants.MigrationStatusPartial, res
	default:
		return constants.MigrationStatusFailed, res
	}
}

// CreateBackup serializes the legacy list with a timestamp. ok is false when
// there is nothing to back up or the legacy store cannot be read.
func (s *Service) CreateBackup() (backup string, ok bool) {
	raw, found, err := s.legacy.Get(constants.LegacyEntriesKey)
	if err != nil {
		s.logger.Warn("legacy store unreadable, no backup created", "error", err)
		return "", false
	}
	if !found {
		return "", false
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil || len(items) == 0 {
		return "", false
	}
	out, err := encodeBackup(s.now(), items)
	if err != nil {
		s.logger.Error("backup encoding failed", "error", err)
		return "", false
	}
	return out, true
}

// ExportStore serializes the current entry store in the backup format.
func (s *Service) ExportStore(ctx context.Context) (string, error) {
	all, err := s.entries.GetAll(ctx)
	if err != nil {
		return "", err
	}
	items := make([]json.RawMessage, 0, len(all))
	for _, e := range all {
		raw, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("encode entry %q: %w", e.Core().ID, err)
		}
		items = append(items, raw)
	}
	return encodeBackup(s.now(), items)
}

// RestoreFromBackup replaces the store contents with the backup's entries.
// The current contents are captured first; if nothing from a non-empty
// backup could be restored, or clearing the store fails, they are put back.
// A partial restore is reported as unsuccessful but kept.
func (s *Service) RestoreFromBackup(ctx context.Context, backup string) (res RestoreResult) {
	res.Errors = []string{}
	items, err := parseBackup(backup)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	snapshot, err := s.entries.GetAll(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("snapshot current entries: %v", err))
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("restore aborted, rolling back", "panic", r)
			res.Success = false
			res.Errors = append(res.Errors, fmt.Sprintf("restore aborted: %v", r))
			res.RolledBack = s.rollback(ctx, snapshot)
		}
	}()

	if err := s.entries.Clear(ctx); err != nil {
		s.logger.Error("clearing store for restore failed, rolling back", "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("clear store: %v", err))
		res.RolledBack = s.rollback(ctx, snapshot)
		return res
	}

	for i, item := range items {
		e, err := entity.FromValue(item)
		if err != nil {
			res.EntriesFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("backup entry %d is invalid: %s", i, invalidReason(err)))
			continue
		}
		if _, err := s.entries.Add(ctx, e); err != nil {
			res.EntriesFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("backup entry %q: %v", e.Core().ID, err))
			continue
		}
		res.EntriesRestored++
	}

	if len(items) > 0 && res.EntriesRestored == 0 {
		s.logger.Warn("no backup entries restored, rolling back", "failed", res.EntriesFailed)
		res.RolledBack = s.rollback(ctx, snapshot)
		return res
	}

	res.Success = res.EntriesFailed == 0
	s.logger.Info("restore finished",
		"success", res.Success,
		"restored", res.EntriesRestored,
		"failed", res.EntriesFailed,
	)
	return res
}

// rollback puts snapshot back as the full store contents and reports
// whether every record made it. Failures are logged, not returned.
func (s *Service) rollback(ctx context.Context, snapshot []entity.Entry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rollback aborted", "panic", r)
			ok = false
		}
	}()

	if err := s.entries.Clear(ctx); err != nil {
		s.logger.Error("rollback could not clear store", "error", err)
		return false
	}
	ok = true
	for _, e := range snapshot {
		if _, err := s.entries.Add(ctx, e); err != nil {
			s.logger.Error("rollback could not restore entry", "id", e.Core().ID, "error", err)
			ok = false
		}
	}
	s.logger.Info("rollback finished", "entries", len(snapshot), "complete", ok)
	return ok
}

// ClearLegacyAfterMigration deletes the legacy list, but only once the
// migration flag is set. It reports whether the list was removed.
func (s *Service) ClearLegacyAfterMigration() bool {
	if !s.IsMigrationCompleted() {
		s.logger.Warn("refusing to clear legacy entries before migration completed")
		return false
	}
	if err := s.legacy.Remove(constants.LegacyEntriesKey); err != nil {
		s.logger.Error("clearing legacy entries failed", "error", err)
		return false
	}
	s.logger.Info("legacy entries cleared")
	return true
}
