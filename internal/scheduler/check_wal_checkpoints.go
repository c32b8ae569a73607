package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/amats/amats/internal/database"
)

// walWarnFrames is the WAL size, in frames, above which a warning is logged
const walWarnFrames = 1000

// CheckWALCheckpointsJob runs a passive WAL checkpoint on the store database
type CheckWALCheckpointsJob struct {
	log zerolog.Logger
	db  *database.DB

	// last checkpoint result, for tests and diagnostics
	lastFrames       int
	lastCheckpointed int
}

// NewCheckWALCheckpointsJob creates a new CheckWALCheckpointsJob
func NewCheckWALCheckpointsJob(db *database.DB, log zerolog.Logger) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		log: log.With().Str("job", "check_wal_checkpoints").Logger(),
		db:  db,
	}
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run executes the check WAL checkpoints job. Failures are logged, not returned:
// a busy database simply gets checkpointed on the next run.
func (j *CheckWALCheckpointsJob) Run() error {
	if j.db == nil {
		return nil
	}

	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, log, checkpointed int
	err := j.db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &log, &checkpointed)
	if err != nil {
		j.log.Warn().
			Err(err).
			Str("database", j.db.Name()).
			Msg("Failed to check WAL checkpoint")
		return nil
	}

	j.lastFrames = log
	j.lastCheckpointed = checkpointed

	if log > walWarnFrames {
		j.log.Warn().
			Str("database", j.db.Name()).
			Int("wal_frames", log).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, checkpoint may be needed")
	} else {
		j.log.Debug().
			Str("database", j.db.Name()).
			Int("wal_frames", log).
			Msg("WAL checkpoint status OK")
	}

	return nil
}
