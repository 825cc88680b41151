package models

import (
	"gorm.io/gorm"
)

// RegistrationHistory is one row per payment status change.
type RegistrationHistory struct {
	gorm.Model
	RegistrationID string        `json:"registration_id" gorm:"index;size:36"`
	FromStatus     PaymentStatus `json:"from_status"`
	ToStatus       PaymentStatus `json:"to_status"`
	Source         string        `json:"source"`
	Reason         string        `json:"reason"`
}
