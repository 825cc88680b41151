package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gdg-garage/confreg/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventLog keeps one row per provider event. It is an audit trail only and
// never decides whether a delivery is processed.
type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Record(ctx context.Context, ev models.WebhookEvent) error {
	now := time.Now().UTC()
	ev.Deliveries = 1
	ev.CreatedAt = now
	ev.UpdatedAt = now

	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_event_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"deliveries": gorm.Expr("webhook_events.deliveries + 1"),
			"outcome":    ev.Outcome,
			"updated_at": now,
		}),
	}).Create(&ev).Error
	if err != nil {
		return fmt.Errorf("record webhook event %s: %w", ev.ProviderEventID, err)
	}
	return nil
}

func (l *EventLog) Get(ctx context.Context, providerEventID string) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	if err := l.db.WithContext(ctx).First(&ev, "provider_event_id = ?", providerEventID).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (l *EventLog) ListForRegistration(ctx context.Context, registrationID string) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := l.db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Order("id asc").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	return events, nil
}
