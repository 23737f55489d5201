package constants

// MigrationStatus is the outcome of the startup legacy migration, threaded through
// the application instead of being re-read from the durable flag.
type MigrationStatus string

const (
	MigrationStatusCompleted       MigrationStatus = "COMPLETED"        // this run moved everything
	MigrationStatusAlreadyMigrated MigrationStatus = "ALREADY_MIGRATED" // flag was set before this run
	MigrationStatusPartial         MigrationStatus = "PARTIAL"          // some records failed, flag left unset
	MigrationStatusFailed          MigrationStatus = "FAILED"           // nothing could be moved
)

// Well-known keys in the legacy key-value store.
const (
	LegacyEntriesKey        = "maaser-tracker-entries"
	MigrationCompletedKey   = "maaser-tracker-migrated-to-db"
	MigrationCompletedValue = "true"
)
