package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amats/amats/internal/database"
)

// CheckStoreDatabaseJob verifies integrity of the local store database
type CheckStoreDatabaseJob struct {
	log zerolog.Logger
	db  *database.DB
}

// NewCheckStoreDatabaseJob creates a new CheckStoreDatabaseJob
func NewCheckStoreDatabaseJob(db *database.DB, log zerolog.Logger) *CheckStoreDatabaseJob {
	return &CheckStoreDatabaseJob{
		log: log.With().Str("job", "check_store_database").Logger(),
		db:  db,
	}
}

// Name returns the job name
func (j *CheckStoreDatabaseJob) Name() string {
	return "check_store_database"
}

// Run executes the integrity check
func (j *CheckStoreDatabaseJob) Run() error {
	if j.db == nil {
		j.log.Warn().Msg("Database not initialized, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		// Corruption of the trade ledger cannot be repaired automatically
		j.log.Error().
			Err(err).
			Str("database", j.db.Name()).
			Msg("Store database integrity check failed")
		return fmt.Errorf("database %s is corrupted: %w", j.db.Name(), err)
	}

	j.log.Info().Str("database", j.db.Name()).Msg("Store database integrity check passed")
	return nil
}
