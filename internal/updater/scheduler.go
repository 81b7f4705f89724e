package updater

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"github.com/zulandar/gitdeploy/internal/config"
)

// Scheduler runs CheckForUpdates on a cron schedule. A sweep that is still
// running when the next one is due causes that run to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	checker *Checker
	log     logr.Logger
	ctx     context.Context
	sweeps  atomic.Int64
}

// NewScheduler parses schedule with config.ScheduleParser.
func NewScheduler(schedule string, checker *Checker, log logr.Logger) (*Scheduler, error) {
	log = log.WithName("scheduler")
	s := &Scheduler{checker: checker, log: log, ctx: context.Background()}
	cronLog := log.V(1)
	s.cron = cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("updater: schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) sweep() {
	defer s.sweeps.Add(1)
	if _, err := s.checker.CheckForUpdates(s.ctx); err != nil {
		s.log.Error(err, "update sweep failed")
	}
}

// Sweeps returns how many sweeps have completed.
func (s *Scheduler) Sweeps() int64 {
	return s.sweeps.Load()
}

// Run starts the schedule and blocks until ctx is cancelled, then waits
// for a running sweep to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("scheduler started", "next", s.cron.Entries()[0].Next)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
