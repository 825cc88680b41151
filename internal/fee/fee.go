// Package fee decides a registrant's pricing category and the amount owed.
// Everything here is pure: the same inputs always give the same answer.
package fee

import (
	"time"

	"github.com/gdg-garage/confreg/internal/conference"
	"github.com/gdg-garage/confreg/internal/models"
)

// DetermineRegistrationType applies the pricing rules in priority order:
// students are always student, then early bird while now <= earlyBirdDeadline,
// otherwise regular. A zero earlyBirdDeadline means no early bird is offered.
func DetermineRegistrationType(membership models.MembershipStatus, earlyBirdDeadline, now time.Time) models.RegistrationType {
	if membership == models.MembershipStudent {
		return models.TypeStudent
	}
	if !earlyBirdDeadline.IsZero() && !now.After(earlyBirdDeadline) {
		return models.TypeEarlyBird
	}
	return models.TypeRegular
}

// CalculateFee returns the amount owed, in minor units, for a registration type.
func CalculateFee(regType models.RegistrationType, membership models.MembershipStatus, schedule conference.FeeSchedule) int64 {
	switch regType {
	case models.TypeStudent:
		return schedule.Student
	case models.TypeSpeaker:
		return schedule.Speaker
	case models.TypeEarlyBird:
		if schedule.EarlyBird != nil {
			return schedule.EarlyBird.Amount
		}
	}
	if membership == models.MembershipMember {
		return schedule.Member
	}
	return schedule.NonMember
}

// Quote combines both steps against a conference's fee schedule.
func Quote(schedule conference.FeeSchedule, membership models.MembershipStatus, now time.Time) (models.RegistrationType, int64) {
	var deadline time.Time
	if schedule.EarlyBird != nil {
		deadline = schedule.EarlyBird.Deadline
	}
	regType := DetermineRegistrationType(membership, deadline, now)
	return regType, CalculateFee(regType, membership, schedule)
}

// QuoteSpeaker prices an invited speaker. Speakers bypass the other rules.
func QuoteSpeaker(schedule conference.FeeSchedule) (models.RegistrationType, int64) {
	return models.TypeSpeaker, schedule.Speaker
}
