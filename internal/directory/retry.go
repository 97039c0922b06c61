package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/playperu/adventure/internal/unlock"
)

// RetryRecorder retries failed visit recordings with exponential backoff.
// Client errors other than 429 are not retried.
type RetryRecorder struct {
	next     unlock.Recorder
	logger   *slog.Logger
	MaxTries uint
	Initial  time.Duration
	Max      time.Duration
}

func NewRetryRecorder(next unlock.Recorder, logger *slog.Logger) *RetryRecorder {
	return &RetryRecorder{
		next:     next,
		logger:   logger,
		MaxTries: 5,
		Initial:  500 * time.Millisecond,
		Max:      30 * time.Second,
	}
}

// visitSteps is a recorder whose RecordVisit is two remote calls. They are
// retried one at a time so a committed step is not sent again.
type visitSteps interface {
	CountVisit(ctx context.Context, locationID string) error
	AddTracking(ctx context.Context, projectID, locationID, requestID string) error
}

func (r *RetryRecorder) RecordVisit(ctx context.Context, projectID, locationID string) error {
	steps, ok := r.next.(visitSteps)
	if !ok {
		return r.retry(ctx, projectID, locationID, func() error {
			return r.next.RecordVisit(ctx, projectID, locationID)
		})
	}

	err := r.retry(ctx, projectID, locationID, func() error {
		return steps.CountVisit(ctx, locationID)
	})
	if err != nil {
		return err
	}
	// One id for every attempt lets the backend drop replays whose first
	// response was lost.
	requestID := uuid.NewString()
	return r.retry(ctx, projectID, locationID, func() error {
		return steps.AddTracking(ctx, projectID, locationID, requestID)
	})
}

func (r *RetryRecorder) retry(ctx context.Context, projectID, locationID string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	b.MaxInterval = r.Max

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug("retrying visit recording",
				"project_id", projectID,
				"location_id", locationID,
				"error", err,
				"retry_in_ms", next.Milliseconds(),
			)
		}),
	)
	return err
}
