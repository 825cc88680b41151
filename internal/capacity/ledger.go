// Package capacity tracks seat reservations per conference.
//
// Reserve and Release are single conditional UPDATE statements
// (reserved < capacity, reserved > 0), so concurrent callers can never push
// the counter past the limit. There is no separate read before the write.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdg-garage/confreg/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCapacityExceeded is returned by Reserve when every seat is taken.
	ErrCapacityExceeded = errors.New("conference capacity exceeded")
	// ErrUnknownConference is returned when no capacity row exists for the conference.
	ErrUnknownConference = errors.New("conference has no capacity configured")
)

// Reservation identifies one reserved seat.
type Reservation struct {
	ConferenceID string
	Token        string
}

type Snapshot struct {
	ConferenceID string `json:"conference_id"`
	Capacity     int    `json:"capacity"`
	Reserved     int    `json:"reserved"`
}

func (s Snapshot) Available() int {
	if s.Reserved >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Reserved
}

type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger bound to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Sync creates or updates the capacity row for a conference. The reserved
// count is left untouched so restarts keep existing reservations.
func (l *Ledger) Sync(ctx context.Context, conferenceID string, capacity int) error {
	row := models.ConferenceCapacity{
		ConferenceID: conferenceID,
		Capacity:     capacity,
		UpdatedAt:    time.Now().UTC(),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conference_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"capacity", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sync capacity for %s: %w", conferenceID, err)
	}
	return nil
}

func (l *Ledger) Reserve(ctx context.Context, conferenceID string) (Reservation, error) {
	res := l.db.WithContext(ctx).
		Model(&models.ConferenceCapacity{}).
		Where("conference_id = ? AND reserved < capacity", conferenceID).
		UpdateColumn("reserved", gorm.Expr("reserved + ?", 1))
	if res.Error != nil {
		return Reservation{}, fmt.Errorf("reserve seat: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		if _, err := l.Snapshot(ctx, conferenceID); err != nil {
			return Reservation{}, err
		}
		return Reservation{}, ErrCapacityExceeded
	}

	return Reservation{ConferenceID: conferenceID, Token: uuid.NewString()}, nil
}

// Release frees a seat. It never drives the counter below zero.
func (l *Ledger) Release(ctx context.Context, r Reservation) error {
	res := l.db.WithContext(ctx).
		Model(&models.ConferenceCapacity{}).
		Where("conference_id = ? AND reserved > 0", r.ConferenceID).
		UpdateColumn("reserved", gorm.Expr("reserved - ?", 1))
	if res.Error != nil {
		return fmt.Errorf("release seat: %w", res.Error)
	}
	return nil
}

func (l *Ledger) Snapshot(ctx context.Context, conferenceID string) (Snapshot, error) {
	var row models.ConferenceCapacity
	err := l.db.WithContext(ctx).First(&row, "conference_id = ?", conferenceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, ErrUnknownConference
		}
		return Snapshot{}, fmt.Errorf("load capacity: %w", err)
	}
	return Snapshot{ConferenceID: row.ConferenceID, Capacity: row.Capacity, Reserved: row.Reserved}, nil
}

func (l *Ledger) Available(ctx context.Context, conferenceID string) (int, error) {
	snap, err := l.Snapshot(ctx, conferenceID)
	if err != nil {
		return 0, err
	}
	return snap.Available(), nil
}
