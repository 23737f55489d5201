package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/migration"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Show the outcome of the legacy data migration, retrying it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := common.MigrationStatusFromContext(cmd.Context())
			res := a.startup
			fmt.Fprintf(a.out, "status: %s\n", status)
			printMigration(a, res)
			if !res.Success {
				return errors.New("legacy migration incomplete")
			}
			return nil
		},
	}
}

func printMigration(a *app, res migration.Result) {
	fmt.Fprintf(a.out, "migrated: %d  skipped: %d  failed: %d\n", res.EntriesMigrated, res.EntriesSkipped, res.EntriesFailed)
	for _, e := range res.Errors {
		fmt.Fprintln(a.out, "  -", e)
	}
}

// backupPath names a backup file in the export directory.
func backupPath(a *app, kind string) string {
	name := fmt.Sprintf("maaser-%s-%s-%s.json", kind, time.Now().Format("20060102"), uuid.NewString()[:8])
	return filepath.Join(a.cfg.Export.Dir, name)
}

// writeFile creates missing parent directories, then writes data readable
// only by the user.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func newBackupCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write the legacy entry list to a backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backup, ok := a.migration.CreateBackup()
			if !ok {
				fmt.Fprintln(a.out, "no legacy data to back up")
				return nil
			}
			if out == "" {
				out = backupPath(a, "legacy-backup")
			}
			if err := writeFile(out, []byte(backup)); err != nil {
				return err
			}
			fmt.Fprintln(a.out, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func newExportJSONCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-json",
		Short: "Write every stored entry to a backup file restore accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backup, err := a.migration.ExportStore(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" {
				out = backupPath(a, "backup")
			}
			if err := writeFile(out, []byte(backup)); err != nil {
				return err
			}
			fmt.Fprintln(a.out, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup.json>",
		Short: "Replace all stored entries with the contents of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res := a.migration.RestoreFromBackup(cmd.Context(), string(raw))
			a.entries.Invalidate()

			fmt.Fprintf(a.out, "restored: %d  failed: %d  rolled back: %t\n", res.EntriesRestored, res.EntriesFailed, res.RolledBack)
			for _, e := range res.Errors {
				fmt.Fprintln(a.out, "  -", e)
			}
			switch {
			case res.Success:
				return nil
			case res.RolledBack:
				return errors.New("nothing restored; previous entries kept")
			default:
				return errors.New("restore incomplete")
			}
		},
	}
}

func newClearLegacyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-legacy",
		Short: "Delete the legacy entry list once migration has completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.migration.ClearLegacyAfterMigration() {
				return errors.New("legacy data not cleared: migration has not completed")
			}
			fmt.Fprintln(a.out, "legacy data cleared")
			return nil
		},
	}
}
