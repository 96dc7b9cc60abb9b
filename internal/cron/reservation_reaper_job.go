package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/stockledger/pkg/logger"
)

type reservationReaper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

type ReservationReaperJobParams struct {
	Logger *logger.Logger
	Reaper reservationReaper
}

// NewReservationReaperJob closes expired holds on every scheduler tick.
func NewReservationReaperJob(params ReservationReaperJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reaper == nil {
		return nil, fmt.Errorf("reservation reaper required")
	}
	return &reservationReaperJob{logg: params.Logger, reaper: params.Reaper}, nil
}

type reservationReaperJob struct {
	logg   *logger.Logger
	reaper reservationReaper
}

func (j *reservationReaperJob) Name() string { return "reservation-reaper" }

func (j *reservationReaperJob) Run(ctx context.Context) error {
	closed, err := j.reaper.CleanupExpired(ctx)
	if err != nil {
		// Batches that committed before the failure stay closed.
		return fmt.Errorf("cleanup expired reservations (closed %d): %w", closed, err)
	}
	if closed == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithField(ctx, "reservations_closed", closed), "expired reservations released")
	return nil
}
