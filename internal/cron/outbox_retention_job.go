package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/logger"
)

const (
	outboxRetentionDays  = 30
	outboxRetentionBatch = 1000
)

type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    outboxRetentionRepo
	RetentionDays int
	BatchSize     int
	Clock         func() time.Time
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes published outbox rows in bounded batches.
// Pending and dead-lettered rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: params.RetentionDays,
		batch:     params.BatchSize,
		now:       params.Clock,
	}
	if job.retention <= 0 {
		job.retention = outboxRetentionDays
	}
	if job.batch <= 0 {
		job.batch = outboxRetentionBatch
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	retention int
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes one batch per transaction until a short batch signals the
// backlog is drained.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	var total int64
	for batches := 0; ; batches++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.batch)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		total += deleted
		if deleted < int64(j.batch) {
			j.logg.Info(j.logg.WithFields(ctx, map[string]any{
				"cutoff":         cutoff,
				"retention_days": j.retention,
				"rows_deleted":   total,
				"batches":        batches + 1,
			}), "outbox retention cleanup complete")
			return nil
		}
	}
}
