package credential

import (
	"context"
	"log/slog"
	"time"
)

// Refresher renews the credential ahead of expiry so request paths rarely
// pay for a token call.
type Refresher struct {
	service   *Service
	threshold time.Duration
	logger    *slog.Logger
}

func NewRefresher(service *Service, threshold time.Duration, logger *slog.Logger) *Refresher {
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	return &Refresher{service: service, threshold: threshold, logger: logger}
}

func (r *Refresher) Run(ctx context.Context) error {
	left, err := r.service.Remaining(ctx)
	if err != nil {
		return err
	}
	if left > r.threshold {
		r.logger.Debug("vendor credential still fresh", "remaining", left.String())
		return nil
	}
	_, err = r.service.Get(ctx, true)
	return err
}
