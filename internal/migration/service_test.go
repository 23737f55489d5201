package migration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
	"github.com/joseph-ayodele/maaser-tracker/internal/legacy"
	"github.com/joseph-ayodele/maaser-tracker/internal/repository"
)

var fixedNow = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// faultyRepo wraps a real repository and injects failures.
type faultyRepo struct {
	repository.EntryRepository
	failAdd    map[string]bool
	panicAdd   map[string]bool
	clearFails int
	getAllErr  error
	calls      int
}

var errInjected = errors.New("injected backend failure")

func (f *faultyRepo) Add(ctx context.Context, e entity.Entry) (string, error) {
	f.calls++
	id := e.Core().ID
	if f.panicAdd[id] {
		panic("injected panic on " + id)
	}
	if f.failAdd[id] {
		return "", errInjected
	}
	return f.EntryRepository.Add(ctx, e)
}

func (f *faultyRepo) Clear(ctx context.Context) error {
	f.calls++
	if f.clearFails > 0 {
		f.clearFails--
		return errInjected
	}
	return f.EntryRepository.Clear(ctx)
}

func (f *faultyRepo) GetAll(ctx context.Context) ([]entity.Entry, error) {
	f.calls++
	if f.getAllErr != nil {
		return nil, f.getAllErr
	}
	return f.EntryRepository.GetAll(ctx)
}

// brokenLegacy fails every operation.
type brokenLegacy struct{}

func (brokenLegacy) Get(string) (string, bool, error) { return "", false, errInjected }
func (brokenLegacy) Set(string, string) error        { return errInjected }
func (brokenLegacy) Remove(string) error             { return errInjected }

// sticky stores values but cannot delete them.
type sticky struct{ *legacy.MemoryStore }

func (sticky) Remove(string) error { return errInjected }

type fixture struct {
	repo   *faultyRepo
	legacy legacy.Store
	svc    *Service
}

func newFixture(t *testing.T, store legacy.Store) *fixture {
	t.Helper()
	logger := discardLogger()
	db, err := repository.Open(context.Background(), repository.Config{
		DSN:          filepath.Join(t.TempDir(), "maaser.db"),
		MaxOpenConns: 1,
		BusyTimeout:  time.Second,
		OpenTimeout:  5 * time.Second,
		Now:          fixedNow,
	}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { repository.Close(db, logger) })

	if store == nil {
		store = legacy.NewMemoryStore()
	}
	repo := &faultyRepo{EntryRepository: repository.NewEntryRepository(db, logger)}
	return &fixture{
		repo:   repo,
		legacy: store,
		svc:    NewService(repo, store, logger, WithClock(fixedNow)),
	}
}

func (f *fixture) setLegacy(t *testing.T, raw string) {
	t.Helper()
	if err := f.legacy.Set(constants.LegacyEntriesKey, raw); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) storedIDs(t *testing.T) []string {
	t.Helper()
	all, err := f.repo.EntryRepository.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.Core().ID)
	}
	sort.Strings(ids)
	return ids
}

func (f *fixture) seed(t *testing.T, entries ...entity.Entry) {
	t.Helper()
	for _, e := range entries {
		if _, err := f.repo.EntryRepository.Add(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMigrateSkipsInvalidRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.setLegacy(t, `[
		{"id":"x","type":"income","date":"2026-01-01","amount":500},
		{"id":"y","type":"bogus","date":"2026-01-01","amount":10}
	]`)

	res := f.svc.Migrate(context.Background())
	if res.EntriesMigrated != 1 || res.EntriesSkipped != 1 || res.EntriesFailed != 0 {
		t.Fatalf("counts = %+v", res)
	}
	if !res.Success || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "type") {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"x"}, f.storedIDs(t)); diff != "" {
		t.Fatalf("stored ids (-want +got):\n%s", diff)
	}
	x, err := f.repo.Get(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if got := x.(entity.Income).Maaser; got != 50 {
		t.Fatalf("maaser = %v, want 50", got)
	}
	if !f.svc.IsMigrationCompleted() {
		t.Fatal("flag not set after clean run")
	}
}

func TestMigrateTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.setLegacy(t, `[{"id":"a","type":"donation","date":"2026-02-01","amount":18}]`)

	first := f.svc.Migrate(ctx)
	if !first.Success || first.EntriesMigrated != 1 {
		t.Fatalf("first run = %+v", first)
	}

	f.repo.calls = 0
	second := f.svc.Migrate(ctx)
	want := Result{Success: true, AlreadyMigrated: true, Errors: []string{}}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Fatalf("second run (-want +got):\n%s", diff)
	}
	if f.repo.calls != 0 {
		t.Fatalf("already migrated run touched the store %d times", f.repo.calls)
	}
	if diff := cmp.Diff([]string{"a"}, f.storedIDs(t)); diff != "" {
		t.Fatalf("stored ids (-want +got):\n%s", diff)
	}
}

func TestMigrateUntrustedPayloads(t *testing.T) {
	for name, raw := range map[string]string{
		"malformed": `[{"id":`,
		"object":    `{"id":"a"}`,
		"empty":     `[]`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.setLegacy(t, raw)
			res := f.svc.Migrate(context.Background())
			if !res.Success || res.EntriesMigrated+res.EntriesSkipped+res.EntriesFailed != 0 {
				t.Fatalf("result = %+v", res)
			}
			if !f.svc.IsMigrationCompleted() {
				t.Fatal("flag should be set when there is nothing to migrate")
			}
		})
	}
}

func TestMigrateWithoutLegacyKey(t *testing.T) {
	f := newFixture(t, nil)
	status, res := f.svc.Initialize(context.Background())
	if status != constants.MigrationStatusCompleted || !res.Success {
		t.Fatalf("status = %s, result = %+v", status, res)
	}
	status, _ = f.svc.Initialize(context.Background())
	if status != constants.MigrationStatusAlreadyMigrated {
		t.Fatalf("second status = %s", status)
	}
}

func TestMigrateUnreadableLegacyStore(t *testing.T) {
	f := newFixture(t, brokenLegacy{})
	if f.svc.IsMigrationCompleted() {
		t.Fatal("unreadable flag must read as not completed")
	}
	status, res := f.svc.Initialize(context.Background())
	if status != constants.MigrationStatusFailed || res.Success || len(res.Errors) == 0 {
		t.Fatalf("status = %s, result = %+v", status, res)
	}
}

func TestMigratePartialFailureRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.setLegacy(t, `[
		{"id":"ok","type":"income","date":"2026-01-01","amount":100},
		{"id":"flaky","type":"donation","date":"2026-01-02","amount":5},
		{"id":"ok","type":"income","date":"2026-01-01","amount":100}
	]`)
	f.repo.failAdd = map[string]bool{"flaky": true}

	status, res := f.svc.Initialize(ctx)
	if status != constants.MigrationStatusPartial {
		t.Fatalf("status = %s", status)
	}
	if res.EntriesMigrated != 1 || res.EntriesFailed != 1 || res.EntriesSkipped != 1 || res.Success {
		t.Fatalf("result = %+v", res)
	}
	if f.svc.IsMigrationCompleted() {
		t.Fatal("flag set despite a failed record")
	}

	f.repo.failAdd = nil
	res = f.svc.Migrate(ctx)
	if !res.Success || res.EntriesMigrated != 1 || res.EntriesSkipped != 2 {
		t.Fatalf("retry = %+v", res)
	}
	if diff := cmp.Diff([]string{"flaky", "ok"}, f.storedIDs(t)); diff != "" {
		t.Fatalf("stored ids (-want +got):\n%s", diff)
	}
}

func TestInitializeAllFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.setLegacy(t, `[{"id":"a","type":"income","date":"2026-01-01","amount":1}]`)
	f.repo.failAdd = map[string]bool{"a": true}

	status, _ := f.svc.Initialize(context.Background())
	if status != constants.MigrationStatusFailed {
		t.Fatalf("status = %s", status)
	}
}

func TestCreateBackup(t *testing.T) {
	f := newFixture(t, nil)
	if _, ok := f.svc.CreateBackup(); ok {
		t.Fatal("backup created with no legacy data")
	}

	f.setLegacy(t, `not json`)
	if _, ok := f.svc.CreateBackup(); ok {
		t.Fatal("backup created from unreadable legacy data")
	}

	f.setLegacy(t, `[{"id":"a","type":"income","date":"2026-01-01","amount":10,"extra":true}]`)
	raw, ok := f.svc.CreateBackup()
	if !ok {
		t.Fatal("no backup")
	}
	var b struct {
		Timestamp string           `json:"timestamp"`
		Data      []map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatal(err)
	}
	if b.Timestamp != "2026-10-17T12:00:00.000Z" {
		t.Fatalf("timestamp = %q", b.Timestamp)
	}
	if len(b.Data) != 1 || b.Data[0]["extra"] != true {
		t.Fatalf("legacy records not kept verbatim: %v", b.Data)
	}

	if _, ok := newFixture(t, brokenLegacy{}).svc.CreateBackup(); ok {
		t.Fatal("backup created from a broken legacy store")
	}
}

func sampleEntries() []entity.Entry {
	return []entity.Entry{
		entity.NewIncome(entity.Base{ID: "i1", Amount: 1000, Date: "2026-01-31", AccountingMonth: "2026-02", Note: "salary"}),
		entity.NewDonation(entity.Base{ID: "d1", Amount: 40, Date: "2026-02-03"}),
		entity.NewDonation(entity.Base{ID: "d2", Amount: 60, Date: "2026-02-20"}),
	}
}

func TestRestoreRollsBackWhenNothingRestored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(t, sampleEntries()...)
	before, err := f.repo.EntryRepository.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}

	res := f.svc.RestoreFromBackup(ctx, `{"timestamp":"2026-01-01T00:00:00.000Z","data":[
		{"id":"bad1","type":"income","date":"2026-01-01","amount":0},
		{"type":"donation"}
	]}`)
	if res.Success || !res.RolledBack || res.EntriesRestored != 0 || res.EntriesFailed != 2 {
		t.Fatalf("result = %+v", res)
	}

	after, err := f.repo.EntryRepository.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("store changed after rollback (-want +got):\n%s", diff)
	}
}

func TestRestoreReplacesStore(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t, nil)
	src.seed(t, sampleEntries()...)
	backup, err := src.svc.ExportStore(ctx)
	if err != nil {
		t.Fatal(err)
	}

	dst := newFixture(t, nil)
	dst.seed(t, entity.NewDonation(entity.Base{ID: "old", Amount: 1, Date: "2020-01-01"}))
	res := dst.svc.RestoreFromBackup(ctx, backup)
	if !res.Success || res.EntriesRestored != 3 || res.RolledBack {
		t.Fatalf("result = %+v", res)
	}

	want, _ := src.repo.EntryRepository.GetAll(ctx)
	got, _ := dst.repo.EntryRepository.GetAll(ctx)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("restored store (-want +got):\n%s", diff)
	}
}

func TestRestorePartialKeepsWhatWorked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(t, sampleEntries()...)

	res := f.svc.RestoreFromBackup(ctx, `{"timestamp":"x","data":[
		{"id":"new","type":"donation","date":"2026-03-01","amount":7},
		{"id":"broken","type":"donation","date":"2026-03-01","amount":-7}
	]}`)
	if res.Success || res.RolledBack || res.EntriesRestored != 1 || res.EntriesFailed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"new"}, f.storedIDs(t)); diff != "" {
		t.Fatalf("stored ids (-want +got):\n%s", diff)
	}
}

func TestRestoreEmptyBackupClears(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, sampleEntries()...)
	res := f.svc.RestoreFromBackup(context.Background(), `{"timestamp":"x","data":[]}`)
	if !res.Success || res.EntriesRestored != 0 || res.RolledBack {
		t.Fatalf("result = %+v", res)
	}
	if ids := f.storedIDs(t); len(ids) != 0 {
		t.Fatalf("store not cleared: %v", ids)
	}
}

func TestRestoreMalformedBackupHasNoSideEffects(t *testing.T) {
	for _, raw := range []string{`nope`, `{}`, `{"data":5}`, `[]`} {
		f := newFixture(t, nil)
		f.seed(t, sampleEntries()...)
		f.repo.calls = 0

		res := f.svc.RestoreFromBackup(context.Background(), raw)
		if res.Success || res.RolledBack || len(res.Errors) != 1 {
			t.Fatalf("%s: result = %+v", raw, res)
		}
		if f.repo.calls != 0 {
			t.Fatalf("%s: store touched %d times", raw, f.repo.calls)
		}
		if len(f.storedIDs(t)) != 3 {
			t.Fatalf("%s: store changed", raw)
		}
	}
}

func TestRestoreSnapshotFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, sampleEntries()...)
	f.repo.getAllErr = errInjected

	res := f.svc.RestoreFromBackup(context.Background(), `{"data":[{"id":"n","type":"donation","date":"2026-01-01","amount":1}]}`)
	if res.Success || res.RolledBack {
		t.Fatalf("result = %+v", res)
	}
	f.repo.getAllErr = nil
	if len(f.storedIDs(t)) != 3 {
		t.Fatal("store changed")
	}
}

func TestRestoreClearFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, sampleEntries()...)
	f.repo.clearFails = 1

	res := f.svc.RestoreFromBackup(context.Background(), `{"data":[{"id":"n","type":"donation","date":"2026-01-01","amount":1}]}`)
	if res.Success || !res.RolledBack || res.EntriesRestored != 0 {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"d1", "d2", "i1"}, f.storedIDs(t)); diff != "" {
		t.Fatalf("stored ids (-want +got):\n%s", diff)
	}
}

func TestRestorePanicRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, sampleEntries()...)
	f.repo.panicAdd = map[string]bool{"boom": true}

	res := f.svc.RestoreFromBackup(context.Background(), `{"data":[
		{"id":"fine","type":"donation","date":"2026-01-01","amount":1},
		{"id":"boom","type":"donation","date":"2026-01-01","amount":1}
	]}`)
	if res.Success || !res.RolledBack {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"d1", "d2", "i1"}, f.storedIDs(t)); diff != "" {
		t.Fatalf("stored ids (-want +got):\n%s", diff)
	}
}

func TestClearLegacyAfterMigration(t *testing.T) {
	f := newFixture(t, nil)
	f.setLegacy(t, `[{"id":"a","type":"income","date":"2026-01-01","amount":10}]`)

	if f.svc.ClearLegacyAfterMigration() {
		t.Fatal("cleared legacy data before migration")
	}
	if _, ok, _ := f.legacy.Get(constants.LegacyEntriesKey); !ok {
		t.Fatal("legacy data removed by refused clear")
	}

	f.svc.Migrate(context.Background())
	if !f.svc.ClearLegacyAfterMigration() {
		t.Fatal("clear refused after migration")
	}
	if _, ok, _ := f.legacy.Get(constants.LegacyEntriesKey); ok {
		t.Fatal("legacy data still present")
	}

	s := sticky{legacy.NewMemoryStore()}
	g := newFixture(t, s)
	g.svc.Migrate(context.Background())
	if g.svc.ClearLegacyAfterMigration() {
		t.Fatal("reported success although removal failed")
	}
}
