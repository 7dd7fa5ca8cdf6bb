// Package schedule starts flow runs on cron expressions. A published flow
// opts in by carrying a "schedule" key in its metadata.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// MetadataKey is the flow metadata key holding the cron expression.
const MetadataKey = "schedule"

// RunStarter starts scheduled runs. Implemented by runner.Executor.
type RunStarter interface {
	StartRun(ctx context.Context, flowID string, trigger models.RunTrigger, entityID string, input map[string]any) (*models.Run, error)
}

type Scheduler struct {
	persistence persistence.Persistence
	starter     RunStarter
	logger      *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func NewScheduler(p persistence.Persistence, starter RunStarter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		persistence: p,
		starter:     starter,
		logger:      logger.With("module", "schedule"),
		entries:     make(map[string]cron.EntryID),
	}
}

// Start loads schedules from published flows and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	err := s.load(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "entries", len(s.entries))

	return nil
}

// Refresh re-reads flow schedules, picking up newly published versions.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	for flowID, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, flowID)
	}

	return s.load(ctx)
}

// Entries returns the flow IDs currently scheduled.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}

	return ids
}

func (s *Scheduler) load(ctx context.Context) error {
	flows, err := s.persistence.Flows().All(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	for _, flow := range flows {
		if flow.Status != models.FlowStatusPublished {
			continue
		}

		expr, ok := flow.Metadata[MetadataKey].(string)
		if !ok || expr == "" {
			continue
		}

		err := s.add(flow.ID, expr)
		if err != nil {
			// A bad expression disables that flow's schedule, not the
			// scheduler.
			s.logger.WarnContext(ctx, "Skipping flow with invalid schedule",
				"flow_id", flow.ID, "schedule", expr, "error", err)
		}
	}

	return nil
}

func (s *Scheduler) add(flowID, expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	entryID, err := s.cron.AddFunc(expr, func() { s.fire(flowID, expr) })
	if err != nil {
		return err
	}

	s.entries[flowID] = entryID

	return nil
}

func (s *Scheduler) fire(flowID, expr string) {
	ctx := context.Background()

	run, err := s.starter.StartRun(ctx, flowID, models.RunTrigger{
		Kind:   models.TriggerKindSchedule,
		Source: expr,
	}, "", nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to start scheduled run",
			"flow_id", flowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Scheduled run started", "flow_id", flowID, "run_id", run.ID)
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}

	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}
