package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	repo "github.com/joseph-ayodele/maaser-tracker/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "config file (YAML)")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := common.NewLogger(cfg.Log, os.Stderr)
	dbCfg := repo.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
		OpenTimeout:  cfg.Database.OpenTimeout,
	}
	if !repo.Available(dbCfg) {
		log.Println("ERROR: no usable persistence backend for", cfg.Database.DSN)
		log.Println("  point MAASER_DATABASE_DSN at a writable path or a postgres:// URL")
		os.Exit(3)
	}

	// Open runs pending migrations
	db, err := repo.Open(ctx, dbCfg, logger)
	if err != nil {
		log.Fatalf("opening DB: %v", err)
	}
	defer repo.Close(db, logger)

	if err := repo.HealthCheck(ctx, db, 1*time.Second, logger); err != nil {
		log.Fatalf("DB health: FAIL (%v)", err)
	}
	log.Printf("DB health: OK (%s)", db.Dialect())

	qctx, cancel := common.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	version, err := db.SchemaVersion(qctx)
	if err != nil {
		log.Fatalf("reading schema version: %v", err)
	}
	log.Printf("schema version: %d (current %d)", version, repo.CurrentSchemaVersion)

	entries := repo.NewEntryRepository(db, logger)
	total, err := entries.Count(qctx)
	if err != nil {
		log.Fatalf("counting entries: %v", err)
	}
	log.Printf("entries count: %d", total)
	for _, t := range constants.EntryTypesAsStrings() {
		list, err := entries.GetByType(qctx, constants.EntryType(t))
		if err != nil {
			log.Fatalf("listing %s entries: %v", t, err)
		}
		log.Printf("- %s: %d", t, len(list))
	}
}
