// Package pipeline runs scheduled background jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// DefaultArchiveCron fires at 03:00 UTC on the first of every month.
const DefaultArchiveCron = "0 3 1 * *"

// Archiver moves authorization history older than the retention window to
// cold storage on a schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	running       sync.Mutex
	logger        *slog.Logger
}

// NewArchiver creates an Archiver keeping retentionDays of history hot.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Cutoff is the creation time before which records are archived.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().AddDate(0, 0, -a.retentionDays)
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveAuthorizations(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("pipeline: archive authorizations before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("authorizations", n))
	return n, nil
}

// ParseSchedule validates a standard five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// runOnce runs a pass unless one is already in progress.
func (a *Archiver) runOnce(ctx context.Context, reason string) {
	if !a.running.TryLock() {
		a.logger.InfoContext(ctx, "archive run already in progress, skipping", slog.String("reason", reason))
		return
	}
	defer a.running.Unlock()

	if _, err := a.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "archive run failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// RunCron runs the archiver on expr, evaluated in UTC, until ctx is
// cancelled. Each receive on trigger (which may be nil) requests an extra
// pass. Overlapping runs are skipped.
func (a *Archiver) RunCron(ctx context.Context, expr string, trigger <-chan struct{}) error {
	if expr == "" {
		expr = DefaultArchiveCron
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(sched, cron.FuncJob(func() { a.runOnce(ctx, "schedule") }))

	a.logger.InfoContext(ctx, "archiver cron started",
		slog.String("cron", expr),
		slog.Time("next_run", sched.Next(a.now().UTC())),
	)
	c.Start()

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-trigger:
			a.runOnce(ctx, "trigger")
		}
	}
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
