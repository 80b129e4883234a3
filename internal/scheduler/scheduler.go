package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	approvaldomain "github.com/smallbiznis/fieldclock/internal/approval/domain"
	"github.com/smallbiznis/fieldclock/internal/clock"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	"github.com/smallbiznis/fieldclock/internal/ratelimit"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// maxBatchesPerRun caps one job run so a backlog cannot starve the others.
const maxBatchesPerRun = 20

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      Config `optional:"true"`
	TimeEntries timeentrydomain.Service
	Approvals   approvaldomain.Service
	Idempotency idempotencydomain.Service
	Locker      *ratelimit.Locker `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	timeEntries timeentrydomain.Service
	approvals   approvaldomain.Service
	idem        idempotencydomain.Service
	locker      *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.TimeEntries == nil || p.Approvals == nil || p.Idempotency == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		timeEntries: p.TimeEntries,
		approvals:   p.Approvals,
		idem:        p.Idempotency,
		locker:      p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := metrics.Scheduler()

	acquired, err := s.withLock(ctx, name, func(ctx context.Context) error {
		if owner {
			s.logJobStart(ctx, run)
		}
		schedMetrics.IncJobRun(name)
		return fn(ctx)
	})
	if !acquired && err == nil {
		schedMetrics.IncJobError(name, metrics.ErrSchedulerLockHeld)
		log.Debug("job skipped, lock held elsewhere")
		return nil
	}

	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick resumes the sweep
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// withLock runs fn under the job's Redis lock when one is configured.
// Without Redis, or when Redis is unreachable, fn runs unlocked: every job
// re-checks row state inside its own transaction.
func (s *Scheduler) withLock(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	if s.locker == nil {
		return true, fn(ctx)
	}
	var ran bool
	acquired, err := s.locker.Do(ctx, "fieldclock:scheduler:"+name, s.cfg.LockTTL, func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	if err != nil && !ran {
		s.logger(ctx).Warn("scheduler lock unavailable, running unlocked",
			zap.String("job", name),
			zap.Error(err),
		)
		return true, fn(ctx)
	}
	return acquired, err
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobAutoClockOut, s.AutoClockOutJob},
		{JobAutoApprove, s.AutoApproveJob},
		{JobIdempotencyGC, s.IdempotencyGCJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := metrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// AutoClockOutJob closes shifts that ran past their company's maximum.
func (s *Scheduler) AutoClockOutJob(ctx context.Context) error {
	return s.sweep(ctx, JobAutoClockOut, "time_entry", func(ctx context.Context, limit int) (int, error) {
		return s.timeEntries.AutoClockOut(ctx, limit)
	})
}

// AutoApproveJob approves clean pending entries for companies that opted in.
func (s *Scheduler) AutoApproveJob(ctx context.Context) error {
	return s.sweep(ctx, JobAutoApprove, "time_entry", func(ctx context.Context, limit int) (int, error) {
		return s.approvals.AutoApprove(ctx, limit)
	})
}

// IdempotencyGCJob removes expired idempotency records.
func (s *Scheduler) IdempotencyGCJob(ctx context.Context) error {
	return s.sweep(ctx, JobIdempotencyGC, "idempotency_record", func(ctx context.Context, limit int) (int, error) {
		purged, err := s.idem.PurgeExpired(ctx, limit)
		return int(purged), err
	})
}

// sweep calls batch until it comes back short, fails, or the run cap is hit.
func (s *Scheduler) sweep(ctx context.Context, job, resource string, batch func(context.Context, int) (int, error)) error {
	ctx, run, owner := s.ensureJobRun(ctx, job, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := metrics.Scheduler()

	var jobErr error
	for i := 0; i < maxBatchesPerRun; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		processed, err := batch(ctx, s.cfg.BatchSize)
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(job, resource, processed)
		if err != nil {
			s.logJobError(ctx, run, "scheduler batch failed", err, zap.Int("processed", processed))
			jobErr = errors.Join(jobErr, err)
			break
		}
		if processed < s.cfg.BatchSize {
			break
		}
	}
	return jobErr
}
