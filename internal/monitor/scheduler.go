package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Handle identifies a recurring job registered with a TickScheduler.
type Handle struct {
	id cron.EntryID
}

// TickScheduler runs functions at a fixed interval until cancelled.
type TickScheduler interface {
	Schedule(fn func()) Handle
	Cancel(h Handle)
}

// CronScheduler is the TickScheduler used in production, backed by robfig/cron.
// Panicking jobs are recovered and a job that is still running when its next
// activation comes due is skipped for that activation.
type CronScheduler struct {
	cron     *cron.Cron
	interval time.Duration
}

// NewCronScheduler creates a scheduler firing every interval (rounded down to
// whole seconds, minimum one second).
func NewCronScheduler(interval time.Duration) *CronScheduler {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)
	return &CronScheduler{cron: c, interval: interval}
}

// Start begins firing scheduled jobs in the background.
func (s *CronScheduler) Start() {
	s.cron.Start()
}

// Stop stops firing jobs and waits for running ones until ctx is done.
func (s *CronScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running ticks: %w", ctx.Err())
	}
}

func (s *CronScheduler) Schedule(fn func()) Handle {
	id := s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(fn))
	return Handle{id: id}
}

func (s *CronScheduler) Cancel(h Handle) {
	s.cron.Remove(h.id)
}

// Len returns the number of registered recurring jobs.
func (s *CronScheduler) Len() int {
	return len(s.cron.Entries())
}

// cronLogger bridges robfig/cron logging into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	slog.Error("cron: "+msg, args...)
}
