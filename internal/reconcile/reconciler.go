// Package reconcile applies the gateway's asynchronous payment events to
// registrations.
//
// Deliveries are at-least-once and may arrive out of order. Every transition
// is a conditional update on the stored status, so a replayed or concurrent
// delivery finds the record already moved and becomes a no-op. Signature
// verification always runs before the body is parsed.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gdg-garage/confreg/internal/models"
	"github.com/gdg-garage/confreg/internal/notifier"
	"github.com/gdg-garage/confreg/internal/registration"
	"go.uber.org/zap"
)

// ErrReconciliation wraps store failures. The delivery should be retried.
var ErrReconciliation = errors.New("reconciliation failed")

type Outcome string

const (
	OutcomePaid         Outcome = "paid"
	OutcomeFailed       Outcome = "failed"
	OutcomeError        Outcome = "error"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeOrphaned     Outcome = "orphaned"
	OutcomeUncorrelated Outcome = "uncorrelated"
	OutcomeReplayed     Outcome = "replayed"
	OutcomeNoop         Outcome = "noop"
	OutcomeMalformed    Outcome = "malformed"
)

type Delivery struct {
	Signature string
	Body      []byte
}

type Ack struct {
	EventID        string
	RegistrationID string
	Outcome        Outcome
}

type Reconciler struct {
	verifier  *Verifier
	store     *registration.Store
	confirmer *registration.Confirmer
	events    *EventLog
	logger    *zap.Logger
}

func New(verifier *Verifier, store *registration.Store, confirmer *registration.Confirmer, events *EventLog, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		verifier:  verifier,
		store:     store,
		confirmer: confirmer,
		events:    events,
		logger:    logger,
	}
}

// Handle verifies and applies one webhook delivery. It returns
// ErrInvalidSignature for unauthenticated deliveries and ErrReconciliation
// when the store failed; every other outcome is acknowledged.
func (r *Reconciler) Handle(ctx context.Context, d Delivery) (Ack, error) {
	if err := r.verifier.Verify(d.Body, d.Signature); err != nil {
		r.logger.Warn("rejected webhook with invalid signature")
		return Ack{}, err
	}

	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		r.logger.Warn("malformed webhook body", zap.Error(err))
		return Ack{Outcome: OutcomeMalformed}, nil
	}

	ack, err := r.process(ctx, ev)
	if err != nil {
		r.logger.Error("webhook reconciliation failed",
			zap.String("event_id", ev.EventID),
			zap.String("registration_id", ack.RegistrationID),
			zap.Error(err))
		return ack, err
	}

	r.record(ctx, ev, ack)
	return ack, nil
}

func (r *Reconciler) process(ctx context.Context, ev Event) (Ack, error) {
	ack := Ack{EventID: ev.EventID}
	log := r.logger.With(zap.String("event_id", ev.EventID), zap.String("event_type", ev.Type))

	if ev.Type != EventPaymentCreated && ev.Type != EventPaymentUpdated {
		log.Debug("ignoring webhook event type")
		ack.Outcome = OutcomeIgnored
		return ack, nil
	}

	p := ev.Data.Object.Payment
	if p == nil {
		log.Warn("payment event without payment object")
		ack.Outcome = OutcomeMalformed
		return ack, nil
	}
	log = log.With(zap.String("payment_id", p.ID), zap.String("status", p.Status))

	id, err := p.CorrelationToken()
	if err != nil {
		log.Warn("payment event without usable registration id", zap.String("note", p.Note), zap.Error(err))
		ack.Outcome = OutcomeUncorrelated
		return ack, nil
	}
	ack.RegistrationID = id
	log = log.With(zap.String("registration_id", id))

	reg, err := r.store.Get(ctx, id)
	if errors.Is(err, registration.ErrNotFound) {
		log.Warn("orphaned payment event")
		ack.Outcome = OutcomeOrphaned
		return ack, nil
	}
	if err != nil {
		return ack, fmt.Errorf("%w: %w", ErrReconciliation, err)
	}

	if reg.PaymentStatus != models.PaymentPending {
		return r.replay(ctx, ack, reg, p, log)
	}

	switch p.Status {
	case StatusCompleted:
		if reason := amountMismatch(reg, p); reason != "" {
			log.Error("payment amount mismatch", zap.String("reason", reason))
			return r.transition(ctx, ack, reg.ID, registration.Transition{
				From:                  models.PaymentPending,
				To:                    models.PaymentError,
				Source:                registration.SourceWebhook,
				Reason:                reason,
				ExternalTransactionID: p.ID,
				ReceiptURL:            p.ReceiptURL,
			}, OutcomeError, log)
		}
		return r.transition(ctx, ack, reg.ID, registration.Transition{
			From:                  models.PaymentPending,
			To:                    models.PaymentPaid,
			Source:                registration.SourceWebhook,
			ExternalTransactionID: p.ID,
			ReceiptURL:            p.ReceiptURL,
			ConfirmationPending:   true,
		}, OutcomePaid, log)

	case StatusFailed, StatusCanceled:
		return r.transition(ctx, ack, reg.ID, registration.Transition{
			From:                  models.PaymentPending,
			To:                    models.PaymentFailed,
			Source:                registration.SourceWebhook,
			Reason:                "payment " + strings.ToLower(p.Status),
			ExternalTransactionID: p.ID,
		}, OutcomeFailed, log)
	}

	log.Debug("payment not settled yet")
	ack.Outcome = OutcomeNoop
	return ack, nil
}

func (r *Reconciler) transition(ctx context.Context, ack Ack, id string, t registration.Transition, outcome Outcome, log *zap.Logger) (Ack, error) {
	updated, err := r.store.Apply(ctx, id, t)
	switch {
	case errors.Is(err, registration.ErrStaleTransition):
		log.Info("registration moved by a concurrent delivery")
		ack.Outcome = OutcomeReplayed
		return ack, nil
	case err != nil:
		return ack, fmt.Errorf("%w: %w", ErrReconciliation, err)
	}

	ack.Outcome = outcome
	log.Info("registration reconciled", zap.String("payment_status", string(updated.PaymentStatus)))

	switch updated.PaymentStatus {
	case models.PaymentPaid:
		r.confirm(ctx, updated, log)
	case models.PaymentError:
		r.confirmer.Alert(updated, t.Reason)
	}
	return ack, nil
}

// replay handles events for registrations that already left pending.
func (r *Reconciler) replay(ctx context.Context, ack Ack, reg *models.Registration, p *Payment, log *zap.Logger) (Ack, error) {
	ack.Outcome = OutcomeReplayed
	log.Info("registration already settled", zap.String("payment_status", string(reg.PaymentStatus)))

	switch {
	case reg.PaymentStatus == models.PaymentPaid && reg.ConfirmationPending:
		r.confirm(ctx, reg, log)
	case reg.PaymentStatus == models.PaymentFailed && p.Status == StatusCompleted:
		// Money arrived after the registration expired or failed.
		r.confirmer.Alert(reg, fmt.Sprintf("payment %s completed for a %s registration", p.ID, reg.PaymentStatus))
	}
	return ack, nil
}

func (r *Reconciler) confirm(ctx context.Context, reg *models.Registration, log *zap.Logger) {
	if _, err := r.confirmer.Dispatch(ctx, reg); err != nil {
		log.Warn("confirmation deferred to sweep", zap.Error(err))
	}
}

func (r *Reconciler) record(ctx context.Context, ev Event, ack Ack) {
	if r.events == nil {
		return
	}
	entry := models.WebhookEvent{
		ProviderEventID: ev.DeliveryKey(),
		EventType:       ev.Type,
		RegistrationID:  ack.RegistrationID,
		Outcome:         string(ack.Outcome),
	}
	if p := ev.Data.Object.Payment; p != nil {
		entry.PaymentID = p.ID
	}
	if err := r.events.Record(ctx, entry); err != nil {
		r.logger.Warn("failed to record webhook event", zap.String("event_id", ev.EventID), zap.Error(err))
	}
}

func amountMismatch(reg *models.Registration, p *Payment) string {
	if p.AmountMoney == nil {
		return "completed payment has no amount"
	}
	if p.AmountMoney.Amount != reg.FeeAmount || !strings.EqualFold(p.AmountMoney.Currency, reg.Currency) {
		return fmt.Sprintf("paid %s, expected %s",
			notifier.FormatAmount(p.AmountMoney.Amount, strings.ToUpper(p.AmountMoney.Currency)),
			notifier.FormatAmount(reg.FeeAmount, reg.Currency))
	}
	return ""
}

// Resolution is an operator's manual settlement of a registration.
type Resolution struct {
	Status   models.PaymentStatus
	Note     string
	Operator string
}

// Resolve settles a pending or error registration by hand. It follows the
// same state machine as webhook deliveries.
func (r *Reconciler) Resolve(ctx context.Context, id string, res Resolution) (*models.Registration, error) {
	if res.Status != models.PaymentPaid && res.Status != models.PaymentFailed {
		return nil, fmt.Errorf("%w: cannot resolve to %s", registration.ErrInvalidTransition, res.Status)
	}

	reg, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(res.Note)
	if res.Operator != "" {
		reason = strings.TrimSpace(fmt.Sprintf("%s (by %s)", reason, res.Operator))
	}

	updated, err := r.store.Apply(ctx, id, registration.Transition{
		From:                reg.PaymentStatus,
		To:                  res.Status,
		Source:              registration.SourceOperator,
		Reason:              reason,
		ConfirmationPending: res.Status == models.PaymentPaid,
	})
	if err != nil {
		return nil, err
	}

	log := r.logger.With(zap.String("registration_id", id), zap.String("operator", res.Operator))
	log.Info("registration resolved manually",
		zap.String("from", string(reg.PaymentStatus)),
		zap.String("to", string(updated.PaymentStatus)))

	if updated.PaymentStatus == models.PaymentPaid {
		r.confirm(ctx, updated, log)
	}
	return updated, nil
}
