// Package pipeline contains the long-running background jobs: the retention
// archiver and the orchestrator that supervises the feed, the aggregation
// scheduler, and the archiver together.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pattarap/tickbar/internal/domain"
)

// Archiver moves old ticks from the database to S3 cold storage and then
// deletes them. A tick is only eligible once it is both past the retention
// window and below every series watermark, so the aggregator can never lose
// rows it has not folded into a bar yet.
type Archiver struct {
	blobArchiver  domain.Archiver
	ticks         domain.TickStore
	marks         domain.WatermarkStore
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	blobArchiver domain.Archiver,
	ticks domain.TickStore,
	marks domain.WatermarkStore,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		ticks:         ticks,
		marks:         marks,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run executes a single archive run: compute the cutoff, upload every tick
// older than it, and delete the uploaded rows. Deletion only happens after
// the upload succeeded.
func (a *Archiver) Run(ctx context.Context) error {
	retentionCutoff := time.Now().UTC().
		Add(-time.Duration(a.retentionDays) * 24 * time.Hour).Unix()

	floor, err := a.marks.Floor(ctx)
	if err != nil {
		return fmt.Errorf("querying watermark floor: %w", err)
	}

	cutoff := retentionCutoff
	if floor < cutoff {
		cutoff = floor
	}
	if cutoff <= 0 {
		a.logger.Info("archive run skipped, nothing aggregated yet")
		return nil
	}

	a.logger.Info("starting archive run",
		slog.Int64("cutoff", cutoff),
		slog.Int64("watermark_floor", floor),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveTicks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving ticks before %d: %w", cutoff, err)
	}
	if archived == 0 {
		a.logger.Info("archive run complete, no eligible ticks")
		return nil
	}

	deleted, err := a.ticks.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("deleting archived ticks before %d: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("ticks_archived", archived),
		slog.Int64("ticks_deleted", deleted),
	)

	return nil
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 * * *" runs every day at 3:00 AM.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		waitDuration := time.Until(next)
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

// matches returns true if the given value matches this cron field.
func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single cron field (e.g. "0", "*", "1,15").
func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime returns true if the given time matches all five cron fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression into a parsedCron struct.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minute, err := parseCronField(fields[0])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing minute field: %w", err)
	}
	hour, err := parseCronField(fields[1])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing hour field: %w", err)
	}
	dayOfMonth, err := parseCronField(fields[2])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-month field: %w", err)
	}
	month, err := parseCronField(fields[3])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing month field: %w", err)
	}
	dayOfWeek, err := parseCronField(fields[4])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-week field: %w", err)
	}

	return parsedCron{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

// nextCronTime calculates the next time after 'after' that matches the given
// cron expression. It searches minute-by-minute up to one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	// Start from the next minute boundary.
	candidate := after.Truncate(time.Minute).Add(time.Minute)

	// Search up to one year ahead to avoid infinite loops.
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
