package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
)

var fixedNow = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DSN:          filepath.Join(t.TempDir(), "maaser.db"),
		MaxOpenConns: 1,
		BusyTimeout:  time.Second,
		OpenTimeout:  5 * time.Second,
		Now:          fixedNow,
	}
}

func openTestDB(t *testing.T, cfg Config) *DB {
	t.Helper()
	logger := discardLogger()
	db, err := Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { Close(db, logger) })
	return db
}

func newTestRepo(t *testing.T) EntryRepository {
	t.Helper()
	return NewEntryRepository(openTestDB(t, testConfig(t)), discardLogger())
}

func income(id string, amount float64, date string) entity.Income {
	return entity.NewIncome(entity.Base{ID: id, Amount: amount, Date: date})
}

func donation(id string, amount float64, date string) entity.Donation {
	return entity.NewDonation(entity.Base{ID: id, Amount: amount, Date: date})
}

func ids(entries []entity.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Core().ID)
	}
	return out
}

func TestAddDerivesMonthAndMaaser(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.Add(ctx, entity.Income{Base: entity.Base{ID: "a", Amount: 1000, Date: "2026-03-01"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != "a" {
		t.Fatalf("id = %q", id)
	}

	got, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	inc, ok := got.(entity.Income)
	if !ok {
		t.Fatalf("got %T, want Income", got)
	}
	if inc.AccountingMonth != "2026-03" || inc.Maaser != 100 {
		t.Fatalf("month=%q maaser=%v", inc.AccountingMonth, inc.Maaser)
	}
	if !inc.UpdatedAt.Equal(fixedNow()) {
		t.Fatalf("updatedAt = %v", inc.UpdatedAt)
	}

	if _, err := repo.Add(ctx, donation("d", 40, "2026-03-02")); err != nil {
		t.Fatalf("Add donation: %v", err)
	}
	incomes, err := repo.GetByType(ctx, constants.EntryTypeIncome)
	if err != nil {
		t.Fatalf("GetByType: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, ids(incomes)); diff != "" {
		t.Fatalf("GetByType mismatch (-want +got):\n%s", diff)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, err := repo.Add(ctx, entity.Income{Base: entity.Base{ID: "z", Amount: 0, Date: "2026-01-01"}})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "positive") {
		t.Fatalf("error %q does not mention positive", err)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func TestAddDuplicateKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.Add(ctx, income("x", 1000, "2026-01-01")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, err := repo.Add(ctx, income("x", 5, "2025-01-01"))
	if !errors.Is(err, common.ErrDuplicateKey) {
		t.Fatalf("err = %v, want duplicate key", err)
	}

	got, err := repo.Get(ctx, "x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Core().Amount != 1000 || got.Core().Date != "2026-01-01" {
		t.Fatalf("stored value changed: %+v", got.Core())
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	stamp := time.Date(2025, 5, 1, 8, 30, 15, 250, time.UTC)

	entries := []entity.Entry{
		entity.Income{Base: entity.Base{ID: "i1", Amount: 1234.5, Date: "2026-01-31T23:00:00Z", AccountingMonth: "2026-02", Note: "salary", UpdatedAt: stamp}, Maaser: 123.45},
		entity.Donation{Base: entity.Base{ID: "d1", Amount: 18, Date: "2026-02-03", Note: "shul", UpdatedAt: stamp}},
	}
	for _, want := range entries {
		if _, err := repo.Add(ctx, want); err != nil {
			t.Fatalf("Add %s: %v", want.Core().ID, err)
		}
		got, err := repo.Get(ctx, want.Core().ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		expected := entity.Normalize(want)
		if diff := cmp.Diff(expected, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestGetMissing(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.Get(context.Background(), "nope")
	if got != nil || !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Get = %v, %v; want nil, not found", got, err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.Add(ctx, income("u", 100, "2026-04-01")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	replacement := entity.Donation{Base: entity.Base{ID: "u", Amount: 7, Date: "2026-04-02", AccountingMonth: "2026-05"}}
	id, err := repo.Update(ctx, replacement)
	if err != nil || id != "u" {
		t.Fatalf("Update = %q, %v", id, err)
	}
	got, err := repo.Get(ctx, "u")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	d, ok := got.(entity.Donation)
	if !ok {
		t.Fatalf("got %T, want Donation after replace", got)
	}
	if d.Amount != 7 || d.AccountingMonth != "2026-05" || d.Note != "" {
		t.Fatalf("record not fully replaced: %+v", d)
	}
}

func TestUpdateMissingIDIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.Update(ctx, income("ghost", 10, "2026-01-01"))
	if err != nil || id != "ghost" {
		t.Fatalf("Update = %q, %v", id, err)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatalf("update inserted a record; count = %d", n)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if _, err := repo.Add(ctx, income("v", 10, "2026-01-01")); err != nil {
		t.Fatal(err)
	}
	_, err := repo.Update(ctx, entity.Income{Base: entity.Base{ID: "v", Amount: -1, Date: "2026-01-01"}})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.Delete(ctx, "absent"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
	for _, e := range []entity.Entry{income("a", 1, "2026-01-01"), donation("b", 2, "2026-01-02"), donation("c", 3, "2026-01-03")} {
		if _, err := repo.Add(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "c"}, ids(all)); diff != "" {
		t.Fatalf("after delete (-want +got):\n%s", diff)
	}

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatalf("count after clear = %d", n)
	}
}

func TestGetByAccountingMonthIgnoresDate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	late := entity.NewIncome(entity.Base{ID: "salary", Amount: 5000, Date: "2026-02-28", AccountingMonth: "2026-03"})
	if _, err := repo.Add(ctx, late); err != nil {
		t.Fatal(err)
	}

	feb, err := repo.GetByAccountingMonth(ctx, "2026-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(feb) != 0 {
		t.Fatalf("date month leaked into accounting month index: %v", ids(feb))
	}
	mar, err := repo.GetByAccountingMonth(ctx, "2026-03")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"salary"}, ids(mar)); diff != "" {
		t.Fatalf("GetByAccountingMonth mismatch (-want +got):\n%s", diff)
	}
}

func TestGetByDateRangeInclusive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for _, e := range []entity.Entry{
		donation("before", 1, "2024-01-14"),
		donation("start", 1, "2024-01-15T10:00:00Z"),
		income("end", 1, "2024-01-31"),
		donation("end-later", 1, "2024-01-31T18:00:00Z"),
		income("after", 1, "2024-02-01"),
	} {
		if _, err := repo.Add(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	got, err := repo.GetByDateRange(ctx, "2024-01-15", "2024-01-31")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"start", "end", "end-later"}, ids(got)); diff != "" {
		t.Fatalf("range mismatch (-want +got):\n%s", diff)
	}
}

func TestGetByDateRangeFarAndOpenBounds(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for _, e := range []entity.Entry{
		donation("old", 1, "2023-12-31"),
		income("a", 100, "2026-03-01"),
		donation("b", 5, "2026-03-02T08:00:00Z"),
	} {
		if _, err := repo.Add(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name       string
		start, end string
		want       []string
	}{
		{"last representable day", "2026-01-01", "9999-12-31", []string{"a", "b"}},
		{"no upper bound", "2026-01-01", "", []string{"a", "b"}},
		{"no lower bound", "", "2026-03-01", []string{"old", "a"}},
		{"unbounded", "", "", []string{"old", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetByDateRange(ctx, tt.start, tt.end)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Fatalf("range mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
