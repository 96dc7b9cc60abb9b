package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	// Published rows that needed at least this many attempts are kept for
	// inspection.
	defaultOutboxNoisyAttempts = 5
)

type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	DB            db.TxRunner
	Repository    outboxPurger
	Retention     time.Duration
	NoisyAttempts int
	Every         time.Duration
	Clock         func() time.Time
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:          params.Logger,
		db:            params.DB,
		repo:          params.Repository,
		retention:     params.Retention,
		noisyAttempts: params.NoisyAttempts,
		every:         params.Every,
		now:           params.Clock,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.noisyAttempts <= 0 {
		job.noisyAttempts = defaultOutboxNoisyAttempts
	}
	if job.every <= 0 {
		job.every = 24 * time.Hour
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg          *logger.Logger
	db            db.TxRunner
	repo          outboxPurger
	retention     time.Duration
	noisyAttempts int
	every         time.Duration
	now           func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Every() time.Duration { return j.every }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.noisyAttempts)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("purge published outbox rows: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "outbox retention complete")
	return nil
}
