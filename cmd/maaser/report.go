package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/entries"
	"github.com/joseph-ayodele/maaser-tracker/internal/summary"
)

func newSummaryCmd(a *app) *cobra.Command {
	var (
		month string
		year  int
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show income, donations and ma'aser owed per accounting month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := a.entries.List(cmd.Context(), entries.Filter{})
			if err != nil {
				return err
			}

			var rows []summary.MonthSummary
			switch {
			case month != "":
				rows = []summary.MonthSummary{summary.ForMonth(all, month)}
			case year != 0:
				months, total := summary.ForYear(all, year)
				rows = append(months, total)
			default:
				rows = append(summary.ByMonth(all), summary.Overall(all))
				rows[len(rows)-1].Month = "total"
			}

			table := tablewriter.NewWriter(a.out)
			table.SetHeader([]string{"Month", "Income", "Donations", "Ma'aser", "Still owed", "Entries"})
			for _, m := range rows {
				table.Append([]string{
					m.Month,
					m.Income.StringFixed(2),
					m.Donations.StringFixed(2),
					m.Maaser.StringFixed(2),
					m.Balance.StringFixed(2),
					fmt.Sprint(m.Count),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "one accounting month YYYY-MM")
	cmd.Flags().IntVar(&year, "year", 0, "all twelve months of a year")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		f      filterFlags
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export entries as xlsx or csv (use export-json for a restorable backup)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format = constants.NormalizeExt(format)
			if out == "" {
				out = filepath.Join(a.cfg.Export.Dir, fmt.Sprintf("maaser-%s.%s", time.Now().Format("20060102-150405"), format))
			}

			switch constants.AllowedExtensions[format] {
			case "xlsx":
				raw, err := a.exporter.EntriesXLSX(ctx, f.filter())
				if err != nil {
					return err
				}
				if err := writeFile(out, raw); err != nil {
					return err
				}
			case "csv":
				if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
					return err
				}
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := a.exporter.EntriesCSV(ctx, file, f.filter()); err != nil {
					_ = file.Close()
					return err
				}
				if err := file.Close(); err != nil {
					return err
				}
			case "json":
				return fmt.Errorf("use export-json for JSON backups")
			default:
				return fmt.Errorf("--format must be one of %v", constants.ExportFormats)
			}
			fmt.Fprintln(a.out, out)
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or csv")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: export dir)")
	return cmd
}
