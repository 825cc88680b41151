package notifier

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/gdg-garage/confreg/internal/models"
	"go.uber.org/zap"
)

// Notifier delivers messages about registrations. NotifyConfirmation is the
// one-time confirmation for a paid registration; NotifyNeedsAttention alerts
// operators to a registration that needs manual follow-up.
type Notifier interface {
	NotifyConfirmation(registration models.Registration) error
	NotifyNeedsAttention(registration models.Registration, reason string) error
}

type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

func NewDiscordNotifier(session *discordgo.Session, channelID string, logger *zap.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}
}

func (n *DiscordNotifier) NotifyConfirmation(registration models.Registration) error {
	message := fmt.Sprintf("🎉 **Registration Confirmed**\n**Name:** %s\n**Email:** %s\n**Conference:** %s\n**Type:** %s\n**Paid:** %s\n**Registration ID:** `%s`",
		registration.Participant.Name,
		registration.Participant.Email,
		registration.ConferenceID,
		registration.RegistrationType,
		FormatAmount(registration.FeeAmount, registration.Currency),
		registration.ID,
	)
	if registration.PaymentReference.ReceiptURL != "" {
		message += fmt.Sprintf("\n**Receipt:** %s", registration.PaymentReference.ReceiptURL)
	}
	return n.send(message)
}

func (n *DiscordNotifier) NotifyNeedsAttention(registration models.Registration, reason string) error {
	message := fmt.Sprintf("⚠️ **Registration needs attention**\n**Registration ID:** `%s`\n**Conference:** %s\n**Status:** %s\n**Reason:** %s",
		registration.ID,
		registration.ConferenceID,
		registration.PaymentStatus,
		reason,
	)
	return n.send(message)
}

func (n *DiscordNotifier) send(message string) error {
	if n.session == nil {
		return fmt.Errorf("discord session is nil")
	}
	if n.channelID == "" {
		return fmt.Errorf("discord channel ID is empty")
	}

	_, err := n.session.ChannelMessageSend(n.channelID, message)
	if err != nil {
		n.logger.Error("failed to send discord message", zap.Error(err))
		return err
	}

	return nil
}

// FormatAmount renders minor units as "60.00 USD".
func FormatAmount(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}
