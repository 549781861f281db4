package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const cleanupSpec = "@daily"

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

// Scheduler drains every managed queue on a cron schedule and purges old
// results once a day.
type Scheduler struct {
	cron      *cron.Cron
	managers  []*Manager
	retention time.Duration
	logger    *slog.Logger
}

func NewScheduler(spec string, retention time.Duration, logger *slog.Logger, managers ...*Manager) (*Scheduler, error) {
	cl := cronLogger{l: logger.With("component", "scheduler")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		managers:  managers,
		retention: retention,
		logger:    cl.l,
	}

	for _, m := range managers {
		if _, err := s.cron.AddFunc(spec, func() { s.drain(m) }); err != nil {
			return nil, fmt.Errorf("schedule %s drain %q: %w", m.Family(), spec, err)
		}
	}
	if _, err := s.cron.AddFunc(cleanupSpec, s.cleanup); err != nil {
		return nil, fmt.Errorf("schedule cleanup: %w", err)
	}
	return s, nil
}

func (s *Scheduler) drain(m *Manager) {
	results, err := m.DrainAndProcess(context.Background())
	if err != nil {
		s.logger.Error("scheduled drain failed", "family", m.Family(), "error", err)
		return
	}
	if len(results) > 0 {
		s.logger.Info("scheduled drain finished", "family", m.Family(), "processed", len(results))
	}
}

func (s *Scheduler) cleanup() {
	for _, m := range s.managers {
		if _, err := m.CleanupResults(context.Background(), s.retention); err != nil {
			s.logger.Error("scheduled cleanup failed", "family", m.Family(), "error", err)
		}
	}
}

// RunNow drains every queue immediately, outside the schedule.
func (s *Scheduler) RunNow() {
	for _, m := range s.managers {
		s.drain(m)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
