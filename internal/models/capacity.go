package models

import "time"

// ConferenceCapacity is the seat counter for one conference. Reserved counts
// registrations that are not failed.
type ConferenceCapacity struct {
	ConferenceID string    `json:"conference_id" gorm:"primaryKey;size:64"`
	Capacity     int       `json:"capacity"`
	Reserved     int       `json:"reserved"`
	UpdatedAt    time.Time `json:"updated_at"`
}
