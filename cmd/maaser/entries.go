package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
	"github.com/joseph-ayodele/maaser-tracker/internal/entries"
)

type entryFlags struct {
	id     string
	amount float64
	date   string
	month  string
	note   string
}

func (f *entryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "entry id (default: a new UUID)")
	cmd.Flags().Float64Var(&f.amount, "amount", 0, "amount, must be positive")
	cmd.Flags().StringVar(&f.date, "date", "", "payment date, YYYY-MM-DD or RFC 3339 (default: today)")
	cmd.Flags().StringVar(&f.month, "month", "", "accounting month YYYY-MM (default: month of --date)")
	cmd.Flags().StringVar(&f.note, "note", "", "free-form note, up to 500 characters")
}

func (f *entryFlags) request() entries.CreateRequest {
	date := f.date
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	return entries.CreateRequest{ID: f.id, Amount: f.amount, Date: date, AccountingMonth: f.month, Note: f.note}
}

func newAddCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record income or a donation",
	}

	var inc entryFlags
	income := &cobra.Command{
		Use:   "income",
		Short: "Record income; its ma'aser is computed now and kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.entries.CreateIncome(cmd.Context(), inc.request())
			if err != nil {
				return err
			}
			return printEntry(a, e)
		},
	}
	inc.bind(income)

	var don entryFlags
	donation := &cobra.Command{
		Use:   "donation",
		Short: "Record a donation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.entries.CreateDonation(cmd.Context(), don.request())
			if err != nil {
				return err
			}
			return printEntry(a, e)
		},
	}
	don.bind(donation)

	cmd.AddCommand(income, donation)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		f       entryFlags
		typeArg string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace fields of an existing entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			current, err := a.entries.Get(ctx, args[0])
			if err != nil {
				return err
			}

			b := current.Core()
			flags := cmd.Flags()
			if flags.Changed("amount") {
				b.Amount = f.amount
			}
			if flags.Changed("date") {
				b.Date = f.date
			}
			if flags.Changed("month") {
				b.AccountingMonth = f.month
			}
			if flags.Changed("note") {
				b.Note = f.note
			}

			kind := current.Type()
			if typeArg != "" {
				kind = constants.EntryType(typeArg)
			}
			var next entity.Entry
			switch kind {
			case constants.EntryTypeIncome:
				inc, wasIncome := current.(entity.Income)
				if wasIncome && !flags.Changed("amount") {
					next = entity.Income{Base: b, Maaser: inc.Maaser}
				} else {
					next = entity.NewIncome(b)
				}
			case constants.EntryTypeDonation:
				next = entity.NewDonation(b)
			default:
				return fmt.Errorf("--type must be one of %v", constants.EntryTypesAsStrings())
			}

			updated, err := a.entries.Update(ctx, next)
			if err != nil {
				return err
			}
			return printEntry(a, updated)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&typeArg, "type", "", "change the entry type (income|donation)")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry; deleting a missing id succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.entries.Delete(cmd.Context(), args[0])
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.entries.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printEntry(a, e)
		},
	}
}

type filterFlags struct {
	typ   string
	from  string
	to    string
	month string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.typ, "type", "", "only income or donation entries")
	cmd.Flags().StringVar(&f.from, "from", "", "first date, inclusive")
	cmd.Flags().StringVar(&f.to, "to", "", "last date, inclusive")
	cmd.Flags().StringVar(&f.month, "month", "", "accounting month YYYY-MM")
}

func (f *filterFlags) filter() entries.Filter {
	return entries.Filter{Type: constants.EntryType(f.typ), From: f.from, To: f.to, Month: f.month}
}

func newListCmd(a *app) *cobra.Command {
	var (
		f      filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries ordered by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.entries.List(cmd.Context(), f.filter())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			table := tablewriter.NewWriter(a.out)
			table.SetHeader([]string{"Date", "Month", "Type", "Amount", "Ma'aser", "Note", "ID"})
			for _, e := range list {
				b := e.Core()
				maaser := ""
				if inc, ok := e.(entity.Income); ok {
					maaser = fmt.Sprintf("%.2f", inc.Maaser)
				}
				table.Append([]string{b.Date, b.AccountingMonth, string(e.Type()), fmt.Sprintf("%.2f", b.Amount), maaser, b.Note, b.ID})
			}
			table.Render()
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printEntry(a *app, e entity.Entry) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
