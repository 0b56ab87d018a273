package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// ArchiveJobName is the scheduler name of the archive job.
const ArchiveJobName = "archive"

// archiveLockTTL bounds how long a crashed run can keep other instances from
// archiving.
const archiveLockTTL = 10 * time.Minute

// Archiver moves closed positions older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	locks        domain.LockManager
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		logger:       logger.With(slog.String("component", "archiver")),
		now:          time.Now,
	}
}

// SetLockManager makes every run take the archive lock first, so only one
// instance sharing the store archives at a time.
func (a *Archiver) SetLockManager(locks domain.LockManager) {
	a.locks = locks
}

// Name implements scheduler.Job.
func (a *Archiver) Name() string { return ArchiveJobName }

// Run executes a single archive pass with cut-off now minus retention. When
// another instance holds the archive lock the pass is skipped.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, ArchiveJobName, archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archiver: skipped, lock held elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "archiver: run started",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blobArchiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive positions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "archiver: run complete", slog.Int64("positions_archived", n))
	return nil
}
