package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
	"github.com/joseph-ayodele/maaser-tracker/internal/entries"
	"github.com/joseph-ayodele/maaser-tracker/internal/summary"
)

// Lister is the read side of the entry façade.
type Lister interface {
	List(ctx context.Context, f entries.Filter) ([]entity.Entry, error)
}

// Service is a tiny façade over the entry list that produces XLSX and CSV exports.
type Service struct {
	entries Lister
	logger  *slog.Logger
}

func NewService(l Lister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{entries: l, logger: logger}
}

const (
	entriesSheet = "Entries"
	monthlySheet = "Monthly"
)

// CSVHeader is the first record of every CSV export.
var CSVHeader = []string{"id", "type", "date", "accounting_month", "amount", "maaser", "note", "updated_at"}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func record(e entity.Entry) []string {
	b := e.Core()
	maaser := ""
	if inc, ok := e.(entity.Income); ok {
		maaser = formatAmount(inc.Maaser)
	}
	updated := ""
	if !b.UpdatedAt.IsZero() {
		updated = b.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return []string{b.ID, string(e.Type()), b.Date, b.AccountingMonth, formatAmount(b.Amount), maaser, b.Note, updated}
}

// EntriesCSV writes the filtered entries as CSV to w.
func (s *Service) EntriesCSV(ctx context.Context, w io.Writer, f entries.Filter) error {
	list, err := s.entries.List(ctx, f)
	if err != nil {
		return fmt.Errorf("query entries: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, e := range list {
		if err := cw.Write(record(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}

	s.logger.Info("export.csv.ok", "rows", len(list))
	return nil
}

// EntriesXLSX returns a workbook (as bytes) with the filtered entries on one
// sheet and their per-accounting-month totals on another.
func (s *Service) EntriesXLSX(ctx context.Context, f entries.Filter) ([]byte, error) {
	start := time.Now()
	list, err := s.entries.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}

	x := excelize.NewFile()
	defer func() { _ = x.Close() }()
	if err := x.SetSheetName(x.GetSheetName(0), entriesSheet); err != nil {
		return nil, err
	}
	if _, err := x.NewSheet(monthlySheet); err != nil {
		return nil, err
	}
	activeIndex, _ := x.GetSheetIndex(entriesSheet)
	x.SetActiveSheet(activeIndex)

	writeRow(x, entriesSheet, 1, "Date", "Accounting Month", "Type", "Amount", "Ma'aser", "Note", "ID", "Updated")
	for i, e := range list {
		b := e.Core()
		var maaser any
		if inc, ok := e.(entity.Income); ok {
			maaser = inc.Maaser
		}
		writeRow(x, entriesSheet, i+2, b.Date, b.AccountingMonth, string(e.Type()), b.Amount, maaser, truncate(b.Note, 140), b.ID, record(e)[7])
	}
	_ = x.SetColWidth(entriesSheet, "A", "B", 16)
	_ = x.SetColWidth(entriesSheet, "C", "E", 12)
	_ = x.SetColWidth(entriesSheet, "F", "F", 48)
	_ = x.SetColWidth(entriesSheet, "G", "H", 38)

	months := summary.ByMonth(list)
	writeRow(x, monthlySheet, 1, "Month", "Income", "Donations", "Ma'aser", "Balance", "Entries")
	for i, m := range months {
		writeRow(x, monthlySheet, i+2,
			m.Month,
			m.Income.InexactFloat64(),
			m.Donations.InexactFloat64(),
			m.Maaser.InexactFloat64(),
			m.Balance.InexactFloat64(),
			m.Count,
		)
	}
	_ = x.SetColWidth(monthlySheet, "A", "F", 14)

	buf, err := x.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(list),
		"months", len(months),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(x *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = x.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
