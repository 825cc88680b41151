package notifier

import (
	"github.com/gdg-garage/confreg/internal/models"
	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log. Used when Discord is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyConfirmation(registration models.Registration) error {
	n.logger.Info("registration confirmed",
		zap.String("registration_id", registration.ID),
		zap.String("conference_id", registration.ConferenceID),
		zap.String("email", registration.Participant.Email),
		zap.String("amount", FormatAmount(registration.FeeAmount, registration.Currency)))
	return nil
}

func (n *LogNotifier) NotifyNeedsAttention(registration models.Registration, reason string) error {
	n.logger.Warn("registration needs attention",
		zap.String("registration_id", registration.ID),
		zap.String("conference_id", registration.ConferenceID),
		zap.String("status", string(registration.PaymentStatus)),
		zap.String("reason", reason))
	return nil
}
