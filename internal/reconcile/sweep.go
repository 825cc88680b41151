package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdg-garage/confreg/internal/models"
	"github.com/gdg-garage/confreg/internal/registration"
	"go.uber.org/zap"
)

const defaultSweepBatch = 100

type SweepResult struct {
	Expired   int `json:"expired"`
	Confirmed int `json:"confirmed"`
}

// Sweeper fails registrations left pending past the TTL, which frees their
// seats, and retries confirmations that could not be sent earlier.
type Sweeper struct {
	store     *registration.Store
	confirmer *registration.Confirmer
	ttl       time.Duration
	batch     int
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(store *registration.Store, confirmer *registration.Confirmer, ttl time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		confirmer: confirmer,
		ttl:       ttl,
		batch:     defaultSweepBatch,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces time.Now. Used by tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		result SweepResult
		errs   []error
	)

	cutoff := s.now().UTC().Add(-s.ttl)
	stale, err := s.store.ListStalePending(ctx, cutoff, s.batch)
	if err != nil {
		return result, err
	}

	for _, reg := range stale {
		_, err := s.store.Apply(ctx, reg.ID, registration.Transition{
			From:   models.PaymentPending,
			To:     models.PaymentFailed,
			Source: registration.SourceSweep,
			Reason: fmt.Sprintf("payment not completed within %s", s.ttl),
		})
		switch {
		case err == nil:
			result.Expired++
			s.logger.Info("expired pending registration",
				zap.String("registration_id", reg.ID),
				zap.String("conference_id", reg.ConferenceID))
		case errors.Is(err, registration.ErrStaleTransition):
			// settled by a webhook in the meantime
		default:
			errs = append(errs, err)
		}
	}

	unconfirmed, err := s.store.ListConfirmationPending(ctx, s.batch)
	if err != nil {
		errs = append(errs, err)
	}
	for i := range unconfirmed {
		sent, err := s.confirmer.Dispatch(ctx, &unconfirmed[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sent {
			result.Confirmed++
		}
	}

	return result, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep finished with errors", zap.Error(err))
			}
			if result.Expired > 0 || result.Confirmed > 0 {
				s.logger.Info("sweep finished",
					zap.Int("expired", result.Expired),
					zap.Int("confirmed", result.Confirmed))
			}
		}
	}
}
