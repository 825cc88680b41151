package models

import (
	"gorm.io/gorm"
)

// WebhookEvent records each authenticated gateway delivery. Redeliveries of the
// same provider event bump Deliveries instead of adding rows.
type WebhookEvent struct {
	gorm.Model
	ProviderEventID string `json:"provider_event_id" gorm:"uniqueIndex;size:191;not null"`
	EventType       string `json:"event_type" gorm:"index"`
	PaymentID       string `json:"payment_id" gorm:"index"`
	RegistrationID  string `json:"registration_id" gorm:"index;size:36"`
	Outcome         string `json:"outcome"`
	Deliveries      int    `json:"deliveries" gorm:"not null;default:1"`
}

// SideEffect marks a one-time action (such as a confirmation message) as done.
// EffectKey is unique, so only one caller can claim it.
type SideEffect struct {
	gorm.Model
	EffectKey      string `json:"effect_key" gorm:"uniqueIndex;size:191;not null"`
	RegistrationID string `json:"registration_id" gorm:"index;size:36"`
	Kind           string `json:"kind"`
}
