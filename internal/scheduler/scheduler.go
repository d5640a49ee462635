// Package scheduler drives the periodic work: per-source synchronization
// pulls and the session idle sweep.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"warden/internal/session"
	"warden/internal/source/pull"
	"warden/pkg/audit"
)

// Scheduler manages cron-based pull and sweep execution.
type Scheduler struct {
	cron     *cron.Cron
	pulls    *pull.Manager
	sessions *session.Manager
	auditor  *audit.Publisher
	logger   *slog.Logger
}

func New(pulls *pull.Manager, sessions *session.Manager, auditor *audit.Publisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		pulls:    pulls,
		sessions: sessions,
		auditor:  auditor,
		logger:   logger,
	}
}

// AddSource schedules periodic pulls for a source. The puller's own interval
// check keeps an overlapping manual pull from doubling the work; scheduled
// passes are non-forced and tolerate row errors.
func (s *Scheduler) AddSource(name string, every time.Duration) {
	s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		ctx := context.Background()
		stats, err := s.pulls.Pull(ctx, name, false, false)
		if err != nil {
			s.logger.Error("scheduled pull failed",
				slog.String("source", name),
				slog.String("error", err.Error()),
			)
			e := audit.NewEvent(audit.EventPullFailed)
			e.Source = name
			e.Detail["error"] = err.Error()
			s.emit(ctx, e)
			return
		}
		if stats.Skipped {
			return
		}
		if errCount := len(stats.Errors); errCount > 0 {
			s.logger.Warn("scheduled pull finished with row errors",
				slog.String("source", name),
				slog.Int("errors", errCount),
			)
		}
		e := audit.NewEvent(audit.EventPullCompleted)
		e.Source = name
		for kind, count := range stats.Counts() {
			e.Detail[kind] = strconv.Itoa(count)
		}
		s.emit(ctx, e)
	}))
}

// AddSessionSweep schedules the idle-session sweep.
func (s *Scheduler) AddSessionSweep(every time.Duration) {
	s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		ctx := context.Background()
		closed, remaining := s.sessions.Clean(ctx)
		if closed == 0 {
			return
		}
		e := audit.NewEvent(audit.EventSessionsSwept)
		e.Detail["closed"] = strconv.Itoa(closed)
		e.Detail["remaining"] = strconv.Itoa(remaining)
		s.emit(ctx, e)
	}))
}

func (s *Scheduler) emit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Emit(ctx, e)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
