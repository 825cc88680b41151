package models

import (
	"time"
)

type MembershipStatus string

const (
	MembershipMember    MembershipStatus = "member"
	MembershipNonMember MembershipStatus = "non_member"
	MembershipStudent   MembershipStatus = "student"
)

func (m MembershipStatus) Valid() bool {
	switch m {
	case MembershipMember, MembershipNonMember, MembershipStudent:
		return true
	}
	return false
}

// RegistrationType is the pricing category fixed when a registration is created.
type RegistrationType string

const (
	TypeRegular   RegistrationType = "regular"
	TypeEarlyBird RegistrationType = "early_bird"
	TypeStudent   RegistrationType = "student"
	TypeSpeaker   RegistrationType = "speaker"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentError   PaymentStatus = "error"
)

// CanTransitionTo reports whether next is reachable from s. Paid and failed
// are final. Error waits for an operator to settle it as paid or failed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentPaid || next == PaymentFailed || next == PaymentError
	case PaymentError:
		return next == PaymentPaid || next == PaymentFailed
	}
	return false
}

func (s PaymentStatus) IsFinal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// HoldsCapacity reports whether a registration in this status occupies a seat.
func (s PaymentStatus) HoldsCapacity() bool {
	return s != PaymentFailed
}

type Participant struct {
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Institution string           `json:"institution"`
	Membership  MembershipStatus `json:"membership_status"`
}

type PaymentReference struct {
	PaymentURL            string `json:"payment_url,omitempty"`
	ExternalLinkID        string `json:"external_link_id,omitempty"`
	ExternalOrderID       string `json:"external_order_id,omitempty"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
	ReceiptURL            string `json:"receipt_url,omitempty"`
}

type Registration struct {
	ID                  string           `json:"id" gorm:"primaryKey;size:36"`
	ConferenceID        string           `json:"conference_id" gorm:"index;not null"`
	Participant         Participant      `json:"participant" gorm:"embedded;embeddedPrefix:participant_"`
	RegistrationType    RegistrationType `json:"registration_type" gorm:"not null"`
	FeeAmount           int64            `json:"fee_amount"`
	Currency            string           `json:"currency" gorm:"size:3"`
	PaymentStatus       PaymentStatus    `json:"payment_status" gorm:"index;not null;default:pending"`
	PaymentReference    PaymentReference `json:"payment_reference" gorm:"embedded;embeddedPrefix:payment_"`
	StatusReason        string           `json:"status_reason,omitempty"`
	ConfirmationPending bool             `json:"confirmation_pending" gorm:"index"`
	CreatedAt           time.Time        `json:"created_at" gorm:"index"`
	UpdatedAt           time.Time        `json:"updated_at"`
}
