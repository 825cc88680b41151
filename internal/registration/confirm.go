package registration

import (
	"context"
	"fmt"

	"github.com/gdg-garage/confreg/internal/models"
	"github.com/gdg-garage/confreg/internal/notifier"
	"go.uber.org/zap"
)

const sideEffectConfirmation = "confirmation"

// Confirmer sends the confirmation for a paid registration at most once. The
// guard is a claim in the side-effect log, independent of the status change,
// so replayed webhooks and repeated sweeps cannot send it twice.
type Confirmer struct {
	store    *Store
	notifier notifier.Notifier
	logger   *zap.Logger
}

func NewConfirmer(store *Store, n notifier.Notifier, logger *zap.Logger) *Confirmer {
	return &Confirmer{store: store, notifier: n, logger: logger}
}

func ConfirmationKey(registrationID string) string {
	return sideEffectConfirmation + ":" + registrationID
}

// Dispatch returns true when this call sent the confirmation.
func (c *Confirmer) Dispatch(ctx context.Context, reg *models.Registration) (bool, error) {
	if reg.PaymentStatus != models.PaymentPaid {
		return false, nil
	}

	key := ConfirmationKey(reg.ID)
	claimed, err := c.store.ClaimSideEffect(ctx, key, reg.ID, sideEffectConfirmation)
	if err != nil {
		return false, err
	}
	if !claimed {
		c.logger.Debug("confirmation already dispatched", zap.String("registration_id", reg.ID))
		return false, c.store.ClearConfirmationPending(ctx, reg.ID)
	}

	if err := c.notifier.NotifyConfirmation(*reg); err != nil {
		// Give the claim back so the next sweep retries.
		if relErr := c.store.ReleaseSideEffect(ctx, key); relErr != nil {
			c.logger.Error("failed to release confirmation claim",
				zap.String("registration_id", reg.ID), zap.Error(relErr))
		}
		return false, fmt.Errorf("send confirmation: %w", err)
	}

	if err := c.store.ClearConfirmationPending(ctx, reg.ID); err != nil {
		return true, err
	}

	c.logger.Info("confirmation dispatched", zap.String("registration_id", reg.ID))
	return true, nil
}

// Alert tells operators that a registration needs a human. Failures are logged only.
func (c *Confirmer) Alert(reg *models.Registration, reason string) {
	if err := c.notifier.NotifyNeedsAttention(*reg, reason); err != nil {
		c.logger.Error("failed to alert operators",
			zap.String("registration_id", reg.ID), zap.Error(err))
	}
}
