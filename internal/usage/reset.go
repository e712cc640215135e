package usage

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/postgres"
)

const resetBatchSize = 500

// ResetRepo is the reset slice of the usage repository.
type ResetRepo interface {
	ListDueReset(ctx context.Context, cutoff time.Time, limit int) ([]postgres.UsageProfile, error)
	AdvanceReset(ctx context.Context, userID string, to time.Time) error
}

// ResetJob advances stale quota anchors on a schedule. It is the only
// writer of last_usage_reset_at: profiles whose anchor is more than one
// calendar month old are moved to now, which shifts their quota window
// forward.
type ResetJob struct {
	repo   ResetRepo
	logger *logging.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewResetJob creates the job.
func NewResetJob(repo ResetRepo, logger *logging.Logger) (*ResetJob, error) {
	if repo == nil {
		return nil, errors.New("repo is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &ResetJob{
		repo:   repo,
		logger: logger.Named("usage.reset"),
		cron:   cron.New(),
		now:    time.Now,
	}, nil
}

// Start schedules the job. An empty schedule runs hourly.
func (j *ResetJob) Start(schedule string) error {
	if schedule == "" {
		schedule = "@hourly"
	}
	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		j.Run(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *ResetJob) Stop() {
	<-j.cron.Stop().Done()
}

// Run performs one sweep.
func (j *ResetJob) Run(ctx context.Context) {
	now := j.now().UTC()
	cutoff := now.AddDate(0, -1, 0)

	advanced := 0
	for {
		profiles, err := j.repo.ListDueReset(ctx, cutoff, resetBatchSize)
		if err != nil {
			j.logger.Error(ctx, "listing stale quota anchors failed", zap.Error(err))
			return
		}
		if len(profiles) == 0 {
			break
		}

		for _, p := range profiles {
			if err := j.repo.AdvanceReset(ctx, p.UserID, now); err != nil {
				j.logger.Error(ctx, "advancing quota anchor failed",
					zap.String("user_id", p.UserID),
					zap.Error(err))
				return
			}
			advanced++
		}
		if len(profiles) < resetBatchSize {
			break
		}
	}

	if advanced > 0 {
		j.logger.Info(ctx, "quota anchors advanced", zap.Int("count", advanced))
	}
}
