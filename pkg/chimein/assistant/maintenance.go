package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/chimein/pkg/chimein/memory"
)

// memoryMaintainer is the part of the memory store the maintenance job uses.
type memoryMaintainer interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	DecayKeywords(ctx context.Context, factor float64) error
}

// Maintenance periodically prunes old memory rows and decays keyword counts
// so the memory block follows what the chat talks about now.
type Maintenance struct {
	store  memoryMaintainer
	cfg    memory.Config
	logger *slog.Logger
	now    func() time.Time

	cron *cron.Cron
}

// NewMaintenance creates the maintenance job. It does nothing until Start.
func NewMaintenance(store memoryMaintainer, cfg memory.Config, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "maintenance"),
		now:    time.Now,
	}
}

// Start schedules the job. An empty schedule disables maintenance.
func (m *Maintenance) Start(ctx context.Context) error {
	if m.cfg.MaintenanceSchedule == "" {
		m.logger.Info("memory maintenance disabled")
		return nil
	}

	m.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := m.cron.AddFunc(m.cfg.MaintenanceSchedule, func() { m.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", m.cfg.MaintenanceSchedule, err)
	}
	m.cron.Start()
	m.logger.Info("memory maintenance scheduled", "schedule", m.cfg.MaintenanceSchedule)
	return nil
}

// Stop waits for a running job to finish, up to 10 seconds.
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	select {
	case <-m.cron.Stop().Done():
	case <-time.After(10 * time.Second):
		m.logger.Warn("maintenance stop timed out")
	}
}

// RunOnce prunes and decays immediately.
func (m *Maintenance) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := m.now()

	if m.cfg.RetentionDays > 0 {
		cutoff := start.AddDate(0, 0, -m.cfg.RetentionDays)
		n, err := m.store.Prune(ctx, cutoff)
		if err != nil {
			m.logger.Error("memory prune failed", "error", err)
		} else {
			m.logger.Info("memory pruned", "rows", n, "cutoff", cutoff.Format(time.DateOnly))
		}
	}

	if m.cfg.KeywordDecay > 0 && m.cfg.KeywordDecay < 1 {
		if err := m.store.DecayKeywords(ctx, m.cfg.KeywordDecay); err != nil {
			m.logger.Error("keyword decay failed", "error", err)
		}
	}
}
