package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// Scheduler fires cron-bound templates. Next run times live on the persisted
// row, never in an in-memory timer, so restarts and multiple executors are
// safe: the optimistic version check makes sure a due schedule fires at most
// once, and a stretch of missed ticks collapses into a single fire.
type Scheduler struct {
	engine    *Engine
	schedules ScheduleRepo
	clock     core.Clock
	batchSize int
}

func NewScheduler(engine *Engine, schedules ScheduleRepo, clock core.Clock) *Scheduler {
	return &Scheduler{engine: engine, schedules: schedules, clock: clock, batchSize: 50}
}

// Register binds a cron expression to an existing template and computes the
// first run time.
func (s *Scheduler) Register(_ context.Context, req models.RegisterScheduleRequest) (*domain.WorkflowSchedule, error) {
	if _, err := s.engine.templates.FindByID(req.TemplateID); err != nil {
		return nil, err
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	now := s.clock.Now().UTC()
	next, err := NextRun(req.CronExpr, tz, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	sched := &domain.WorkflowSchedule{
		TemplateID: req.TemplateID,
		CronExpr:   req.CronExpr,
		Timezone:   tz,
		Enabled:    true,
		NextRun:    sql.NullTime{Time: next, Valid: true},
		Created:    now,
		Modified:   now,
	}
	if _, err := s.schedules.Save(sched); err != nil {
		return nil, fmt.Errorf("saving schedule: %w", err)
	}
	return sched, nil
}

// Get loads one schedule by id.
func (s *Scheduler) Get(id int64) (*domain.WorkflowSchedule, error) {
	return s.schedules.FindByID(id)
}

// Run polls for due schedules until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Scheduler started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce fires every due schedule exactly once and advances its next run
// strictly into the future.
func (s *Scheduler) RunOnce(ctx context.Context) {
	due, err := s.schedules.FindDue(s.batchSize)
	if err != nil {
		slog.Error("Scheduler failed to list due schedules", "error", err)
		return
	}
	now := s.clock.Now().UTC()

	for i := range *due {
		sched := &(*due)[i]

		next, nextErr := NextRun(sched.CronExpr, sched.Timezone, now)
		if nextErr != nil {
			// The expression was valid at registration; a parse failure now
			// means bad data. Disable rather than spin on it every tick.
			slog.Error("Schedule has unparseable cron expression, disabling",
				"schedule_id", sched.ID, "expr", sched.CronExpr, "error", nextErr)
			sched.Enabled = false
			sched.ErrorCount++
			if err := s.schedules.Update(sched); err != nil && err != domain.ErrConcurrentModification {
				slog.Error("Failed to disable schedule", "schedule_id", sched.ID, "error", err)
			}
			continue
		}

		// Claim the tick first: losing the version race means another
		// executor already fired this schedule.
		sched.LastRun = sql.NullTime{Time: now, Valid: true}
		sched.NextRun = sql.NullTime{Time: next, Valid: true}
		sched.FireCount++
		if err := s.schedules.Update(sched); err != nil {
			if err == domain.ErrConcurrentModification {
				continue
			}
			slog.Error("Failed to advance schedule", "schedule_id", sched.ID, "error", err)
			continue
		}

		inst, err := s.engine.CreateInstance(ctx, sched.TemplateID, "", nil, domain.SystemActor)
		if err != nil {
			slog.Warn("Scheduled fire failed", "schedule_id", sched.ID, "template_id", sched.TemplateID, "error", err)
			sched.FireCount--
			sched.ErrorCount++
			if err := s.schedules.Update(sched); err != nil {
				slog.Error("Failed to record schedule error", "schedule_id", sched.ID, "error", err)
			}
			continue
		}
		slog.Info("Schedule fired", "schedule_id", sched.ID, "instance_id", inst.ID, "next_run", next)
	}
}

// NextRun parses a standard five-field cron expression in the given timezone
// and returns the first run time strictly after the reference time.
func NextRun(expr, timezone string, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return schedule.Next(after.In(loc)).UTC(), nil
}
