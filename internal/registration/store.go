package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdg-garage/confreg/internal/capacity"
	"github.com/gdg-garage/confreg/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("registration not found")
	// ErrStaleTransition means the record was no longer in the expected
	// status when the conditional update ran.
	ErrStaleTransition = errors.New("registration status changed concurrently")
	// ErrInvalidTransition means the requested edge is not in the state machine.
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// Who moved a registration. Recorded in the history table.
const (
	SourceRegistration = "registration"
	SourceWebhook      = "webhook"
	SourceSweep        = "sweep"
	SourceOperator     = "operator"
)

// Transition describes one edge of the payment state machine plus the fields
// written alongside it.
type Transition struct {
	From   models.PaymentStatus
	To     models.PaymentStatus
	Source string
	Reason string

	ExternalTransactionID string
	ReceiptURL            string
	ConfirmationPending   bool
}

// Store persists registrations. Payment status only changes through Apply,
// which is a compare-and-set on the current status.
type Store struct {
	db     *gorm.DB
	ledger *capacity.Ledger
}

func NewStore(db *gorm.DB, ledger *capacity.Ledger) *Store {
	return &Store{db: db, ledger: ledger}
}

func (s *Store) Ledger() *capacity.Ledger {
	return s.ledger
}

// CreatePending reserves a seat and inserts reg as pending in one transaction.
// Either both happen or neither does.
func (s *Store) CreatePending(ctx context.Context, reg *models.Registration) (capacity.Reservation, error) {
	var reservation capacity.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.ledger.WithTx(tx).Reserve(ctx, reg.ConferenceID)
		if err != nil {
			return err
		}
		reservation = r

		reg.PaymentStatus = models.PaymentPending
		if err := tx.Create(reg).Error; err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}

		history := models.RegistrationHistory{
			RegistrationID: reg.ID,
			ToStatus:       models.PaymentPending,
			Source:         SourceRegistration,
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		return capacity.Reservation{}, err
	}
	return reservation, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).First(&reg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &reg, nil
}

// AttachPaymentLink stores the gateway link identifiers. It never touches the
// payment status.
func (s *Store) AttachPaymentLink(ctx context.Context, id string, ref models.PaymentReference) error {
	res := s.db.WithContext(ctx).Model(&models.Registration{}).Where("id = ?", id).Updates(map[string]any{
		"payment_payment_url":       ref.PaymentURL,
		"payment_external_link_id":  ref.ExternalLinkID,
		"payment_external_order_id": ref.ExternalOrderID,
		"updated_at":                time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("attach payment link: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Apply moves a registration along one edge of the state machine. The update
// only matches while the stored status equals t.From, so of two concurrent
// callers exactly one wins and the other gets ErrStaleTransition. Moving to
// failed frees the seat in the same transaction.
func (s *Store) Apply(ctx context.Context, id string, t Transition) (*models.Registration, error) {
	if !t.From.CanTransitionTo(t.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}

	var updated models.Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"payment_status":       t.To,
			"status_reason":        t.Reason,
			"confirmation_pending": t.ConfirmationPending,
			"updated_at":           time.Now().UTC(),
		}
		if t.ExternalTransactionID != "" {
			updates["payment_external_transaction_id"] = t.ExternalTransactionID
		}
		if t.ReceiptURL != "" {
			updates["payment_receipt_url"] = t.ReceiptURL
		}

		res := tx.Model(&models.Registration{}).
			Where("id = ? AND payment_status = ?", id, t.From).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update registration status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Registration{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrStaleTransition
		}

		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return err
		}

		if !t.To.HoldsCapacity() {
			err := s.ledger.WithTx(tx).Release(ctx, capacity.Reservation{ConferenceID: updated.ConferenceID, Token: id})
			if err != nil {
				return err
			}
		}

		history := models.RegistrationHistory{
			RegistrationID: id,
			FromStatus:     t.From,
			ToStatus:       t.To,
			Source:         t.Source,
			Reason:         t.Reason,
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListStalePending returns pending registrations created before cutoff.
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Registration, error) {
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("list stale registrations: %w", err)
	}
	return regs, nil
}

// ListConfirmationPending returns paid registrations whose confirmation has
// not been dispatched yet.
func (s *Store) ListConfirmationPending(ctx context.Context, limit int) ([]models.Registration, error) {
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND confirmation_pending = ?", models.PaymentPaid, true).
		Order("updated_at asc").
		Limit(limit).
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed registrations: %w", err)
	}
	return regs, nil
}

func (s *Store) ListByConference(ctx context.Context, conferenceID string) ([]models.Registration, error) {
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("conference_id = ?", conferenceID).
		Order("created_at asc").
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// History returns status changes oldest first.
func (s *Store) History(ctx context.Context, id string) ([]models.RegistrationHistory, error) {
	var history []models.RegistrationHistory
	err := s.db.WithContext(ctx).
		Where("registration_id = ?", id).
		Order("id asc").
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return history, nil
}

// ClaimSideEffect records key as done. It returns false if someone already
// claimed it.
func (s *Store) ClaimSideEffect(ctx context.Context, key, registrationID, kind string) (bool, error) {
	effect := models.SideEffect{EffectKey: key, RegistrationID: registrationID, Kind: kind}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&effect)
	if res.Error != nil {
		return false, fmt.Errorf("claim side effect %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseSideEffect drops a claim so the action can be retried.
func (s *Store) ReleaseSideEffect(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Unscoped().Where("effect_key = ?", key).Delete(&models.SideEffect{}).Error
	if err != nil {
		return fmt.Errorf("release side effect %s: %w", key, err)
	}
	return nil
}

func (s *Store) ClearConfirmationPending(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.Registration{}).
		Where("id = ?", id).
		Updates(map[string]any{"confirmation_pending": false, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("clear confirmation flag: %w", err)
	}
	return nil
}
