// Package scheduler wires up the cron job that periodically fails discovery
// jobs which stopped making progress.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StaleJobMessage is recorded on jobs failed by the sweeper.
const StaleJobMessage = "job timed out: no progress recorded"

// JobStore fails pending or running jobs last updated before cutoff.
type JobStore interface {
	FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) (int64, error)
}

// Scheduler wraps robfig/cron and manages the sweep loop.
type Scheduler struct {
	cron   *cron.Cron
	store  JobStore
	log    *slog.Logger
	maxAge time.Duration
	spec   string // cron spec, e.g. "@every 5m"
	now    func() time.Time
}

// New creates a Scheduler that sweeps every intervalMinutes minutes and
// fails jobs idle for longer than maxAge.
func New(store JobStore, log *slog.Logger, intervalMinutes int, maxAge time.Duration) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if intervalMinutes < 1 {
		intervalMinutes = 1
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{log}))),
		store:  store,
		log:    log,
		maxAge: maxAge,
		spec:   fmt.Sprintf("@every %dm", intervalMinutes),
		now:    time.Now,
	}
}

// Start registers the job and starts the scheduler. Also runs one sweep
// immediately so jobs orphaned by a restart are closed without waiting for
// the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info("stale job sweeper started", "spec", s.spec, "maxAge", s.maxAge)

	go s.Sweep(ctx)

	return nil
}

// Stop shuts down the scheduler and waits for a running sweep.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("stale job sweeper stopped")
}

// Sweep fails every job idle for longer than maxAge and returns how many.
func (s *Scheduler) Sweep(ctx context.Context) int64 {
	cutoff := s.now().UTC().Add(-s.maxAge)
	n, err := s.store.FailStaleJobs(ctx, cutoff, StaleJobMessage)
	if err != nil {
		s.log.Error("stale job sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		s.log.Warn("stale discovery jobs failed", "count", n, "cutoff", cutoff)
	}
	return n
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
