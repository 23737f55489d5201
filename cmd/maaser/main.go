package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/entries"
	"github.com/joseph-ayodele/maaser-tracker/internal/export"
	"github.com/joseph-ayodele/maaser-tracker/internal/legacy"
	"github.com/joseph-ayodele/maaser-tracker/internal/migration"
	repo "github.com/joseph-ayodele/maaser-tracker/internal/repository"
)

const (
	exitFailure     = 1
	exitUnsupported = 3
)

// app is everything a command needs once startup has finished.
type app struct {
	configPath string
	dsn        string

	cfg       *common.Config
	logger    *slog.Logger
	db        *repo.DB
	repo      repo.EntryRepository
	entries   *entries.Service
	migration *migration.Service
	exporter  *export.Service
	startup   migration.Result

	out io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.stop()
	if err == nil {
		return
	}
	if errors.Is(err, common.ErrStorageUnavailable) {
		fmt.Fprintln(os.Stderr, "storage unavailable: this environment is not supported")
		os.Exit(exitUnsupported)
	}
	for _, d := range common.ValidationDetails(err) {
		fmt.Fprintln(os.Stderr, "  -", d)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(exitFailure)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "maaser",
		Short:         "Track income, donations and the ma'aser owed on them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.start(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&a.dsn, "db", "", "database path or postgres:// URL (overrides config)")

	root.AddCommand(
		newAddCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newSummaryCmd(a),
		newExportCmd(a),
		newMigrateCmd(a),
		newBackupCmd(a),
		newExportJSONCmd(a),
		newRestoreCmd(a),
		newClearLegacyCmd(a),
	)
	return root
}

// start loads config, probes and opens the store, and runs the legacy
// migration once. Its outcome travels in the command context.
func (a *app) start(cmd *cobra.Command) error {
	cfg, err := common.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.dsn != "" {
		cfg.Database.DSN = a.dsn
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	runID := uuid.NewString()
	a.logger = common.NewLogger(cfg.Log, os.Stderr).With("run_id", runID)
	ctx := cmd.Context()

	dbCfg := repo.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
		OpenTimeout:  cfg.Database.OpenTimeout,
	}
	if !repo.Available(dbCfg) {
		return common.NewStorageUnavailableError("no usable persistence backend", nil)
	}
	db, err := repo.Open(ctx, dbCfg, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.repo = repo.NewEntryRepository(db, a.logger)
	a.entries = entries.NewService(a.repo, a.logger)
	a.exporter = export.NewService(a.entries, a.logger)
	a.migration = migration.NewService(a.repo, legacy.NewFileStore(cfg.Legacy.Path), a.logger)

	status, res := a.migration.Initialize(ctx)
	a.startup = res
	switch status {
	case constants.MigrationStatusPartial, constants.MigrationStatusFailed:
		reason := "unknown"
		if len(res.Errors) > 0 {
			reason = res.Errors[0]
		}
		a.logger.Warn("legacy migration incomplete", "status", status, "reason", reason)
		fmt.Fprintf(os.Stderr, "legacy data was not fully migrated (%s). Run `maaser backup` to save a copy.\n", reason)
	}

	cmd.SetContext(common.WithMigrationStatus(ctx, status))
	return nil
}

func (a *app) stop() {
	if a.db != nil {
		repo.Close(a.db, a.logger)
		a.db = nil
	}
}
