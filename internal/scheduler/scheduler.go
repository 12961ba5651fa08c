// Package scheduler drives the periodic market jobs: price ticks, daily
// dividends and decay.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"ch3fx/internal/exchange"
)

type Engine interface {
	Tick(ctx context.Context, now time.Time) (exchange.TickReport, error)
	DistributeDividends(ctx context.Context, now time.Time) (exchange.DividendReport, error)
	LastDividendDate(ctx context.Context) (string, error)
	ApplyDecay(ctx context.Context, now time.Time) ([]exchange.DecayChange, error)
	Today(now time.Time) string
}

// Schedules are cron specs (standard five fields or @every descriptors)
// evaluated in the reference timezone.
type Schedules struct {
	Tick      string
	Dividends string
	Decay     string
}

type Scheduler struct {
	cron   *cron.Cron
	engine Engine
	log    *slog.Logger
	now    func() time.Time

	jobTimeout time.Duration
}

func New(engine Engine, loc *time.Location, sched Schedules, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		engine:     engine,
		log:        logger,
		now:        time.Now,
		jobTimeout: 2 * time.Minute,
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{name: "tick", spec: sched.Tick, run: s.RunTick},
		{name: "dividends", spec: sched.Dividends, run: func(ctx context.Context) error {
			_, err := s.RunDividends(ctx)
			return err
		}},
		{name: "decay", spec: sched.Decay, run: s.RunDecay},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	runID := uuid.NewString()
	start := time.Now()
	if err := run(ctx); err != nil {
		s.log.Error("scheduled job failed", "job", name, "run_id", runID, "err", err)
		return
	}
	s.log.Info("scheduled job finished", "job", name, "run_id", runID, "took_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) RunTick(ctx context.Context) error {
	report, err := s.engine.Tick(ctx, s.now())
	if err != nil {
		return err
	}
	if n := len(report.Bankruptcies); n > 0 {
		s.log.Warn("tick bankrupted stocks", "count", n)
	}
	return nil
}

// RunDividends pays dividends unless they were already paid today. It
// reports whether a run happened.
func (s *Scheduler) RunDividends(ctx context.Context) (bool, error) {
	now := s.now()
	last, err := s.engine.LastDividendDate(ctx)
	if err != nil {
		return false, err
	}
	if today := s.engine.Today(now); last == today {
		s.log.Info("dividends already paid today", "date", today)
		return false, nil
	}
	report, err := s.engine.DistributeDividends(ctx, now)
	if err != nil {
		return false, err
	}
	s.log.Info("dividends distributed", "date", report.Date, "users", len(report.Totals))
	return true, nil
}

func (s *Scheduler) RunDecay(ctx context.Context) error {
	changes, err := s.engine.ApplyDecay(ctx, s.now())
	if err != nil {
		return err
	}
	if len(changes) > 0 {
		s.log.Info("decay run", "decayed", len(changes))
	}
	return nil
}
