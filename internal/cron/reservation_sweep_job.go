package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/vcledger/internal/reservation"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const defaultReservationTTL = 30 * time.Minute

type reservationSweeper interface {
	SweepExpired(ctx context.Context, ttl time.Duration) (*reservation.SweepResult, error)
}

type ReservationSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper reservationSweeper
	TTL     time.Duration
}

// NewReservationSweepJob releases holds older than the reservation TTL.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("reservation engine required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	return &reservationSweepJob{logg: params.Logger, sweeper: params.Sweeper, ttl: ttl}, nil
}

type reservationSweepJob struct {
	logg    *logger.Logger
	sweeper reservationSweeper
	ttl     time.Duration
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

// Run reports partial failures as an error after the whole sweep finished.
func (j *reservationSweepJob) Run(ctx context.Context) error {
	res, err := j.sweeper.SweepExpired(ctx, j.ttl)
	if res != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"ttl":      j.ttl.String(),
			"carts":    res.Carts,
			"released": res.Released,
			"failed":   res.Failed,
		})
		j.logg.Info(logCtx, "reservation sweep finished")
	}
	if err != nil {
		return fmt.Errorf("reservation sweep: %w", err)
	}
	return nil
}
