// Package registration owns the registration record: creating it together with
// its capacity reservation, requesting the payment link, and the guarded status
// transitions used by every later writer.
package registration

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gdg-garage/confreg/internal/capacity"
	"github.com/gdg-garage/confreg/internal/conference"
	"github.com/gdg-garage/confreg/internal/fee"
	"github.com/gdg-garage/confreg/internal/gateway"
	"github.com/gdg-garage/confreg/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrCapacityExceeded   = capacity.ErrCapacityExceeded
	ErrRegistrationClosed = errors.New("registration is closed for this conference")
	// ErrIdempotencyConflict means an idempotency key was reused for a different conference.
	ErrIdempotencyConflict = errors.New("idempotency key already used for another registration")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem with a submitted registration.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid registration: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// PaymentSetupError means the registration was recorded but no payment link
// could be created. The record is kept in the error state for operators.
type PaymentSetupError struct {
	RegistrationID string
	Err            error
}

func (e *PaymentSetupError) Error() string {
	return fmt.Sprintf("payment setup failed for registration %s: %v", e.RegistrationID, e.Err)
}

func (e *PaymentSetupError) Unwrap() error {
	return e.Err
}

// PaymentLinker is the part of the gateway client the service needs.
type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, req gateway.LinkRequest) (*gateway.PaymentLink, error)
}

type Request struct {
	ConferenceID   string
	IdempotencyKey string
	Participant    models.Participant
	SpeakerCode    string
	AgreedToTerms  bool
}

type Result struct {
	Registration *models.Registration
	PaymentURL   string
	// Replayed is set when the idempotency key matched an earlier submission.
	Replayed bool
}

type Service struct {
	store     *Store
	catalog   *conference.Catalog
	gateway   PaymentLinker
	confirmer *Confirmer
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store *Store, catalog *conference.Catalog, gw PaymentLinker, confirmer *Confirmer, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		catalog:   catalog,
		gateway:   gw,
		confirmer: confirmer,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register runs the creation half of the lifecycle: price the registrant,
// reserve a seat and persist a pending record in one transaction, then ask the
// gateway for a payment link keyed by the registration id.
func (s *Service) Register(ctx context.Context, req Request) (*Result, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}

	conf, err := s.catalog.Get(req.ConferenceID)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.Get(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			return s.replay(ctx, conf, existing)
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	if req.SpeakerCode != "" && !conf.IsSpeakerCode(req.SpeakerCode) {
		return nil, &ValidationError{Fields: []FieldError{{Field: "speaker_code", Message: "is not a valid speaker code"}}}
	}

	now := s.now().UTC()
	if !conf.Window.Contains(now) {
		return nil, ErrRegistrationClosed
	}

	regType, amount := fee.Quote(conf.Fees, req.Participant.Membership, now)
	if req.SpeakerCode != "" {
		regType, amount = fee.QuoteSpeaker(conf.Fees)
	}

	id := req.IdempotencyKey
	if id == "" {
		id = uuid.NewString()
	}

	reg := &models.Registration{
		ID:               id,
		ConferenceID:     conf.ID,
		Participant:      req.Participant,
		RegistrationType: regType,
		FeeAmount:        amount,
		Currency:         conf.Currency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if _, err := s.store.CreatePending(ctx, reg); err != nil {
		if errors.Is(err, capacity.ErrCapacityExceeded) {
			s.logger.Info("registration rejected: conference full", zap.String("conference_id", conf.ID))
			return nil, ErrCapacityExceeded
		}
		if req.IdempotencyKey != "" {
			// A concurrent submission with the same key may have won the insert.
			if existing, getErr := s.store.Get(ctx, id); getErr == nil {
				return s.replay(ctx, conf, existing)
			}
		}
		return nil, fmt.Errorf("create registration: %w", err)
	}

	s.logger.Info("registration created",
		zap.String("registration_id", reg.ID),
		zap.String("conference_id", conf.ID),
		zap.String("registration_type", string(regType)),
		zap.Int64("fee_amount", amount))

	if amount == 0 {
		return s.confirmFree(ctx, reg)
	}
	return s.issueLink(ctx, conf, reg)
}

func (s *Service) confirmFree(ctx context.Context, reg *models.Registration) (*Result, error) {
	paid, err := s.store.Apply(ctx, reg.ID, Transition{
		From:                models.PaymentPending,
		To:                  models.PaymentPaid,
		Source:              SourceRegistration,
		Reason:              "no payment due",
		ConfirmationPending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("confirm free registration: %w", err)
	}

	if _, err := s.confirmer.Dispatch(ctx, paid); err != nil {
		s.logger.Warn("confirmation deferred", zap.String("registration_id", paid.ID), zap.Error(err))
	}
	return &Result{Registration: paid}, nil
}

// issueLink asks the gateway for a payment link. The registration id is the
// idempotency key, so calling this again for the same record is safe.
func (s *Service) issueLink(ctx context.Context, conf conference.Conference, reg *models.Registration) (*Result, error) {
	link, err := s.gateway.CreatePaymentLink(ctx, gateway.LinkRequest{
		RegistrationID: reg.ID,
		Amount:         reg.FeeAmount,
		Currency:       reg.Currency,
		ItemName:       fmt.Sprintf("%s registration (%s)", displayName(conf), reg.RegistrationType),
		BuyerEmail:     reg.Participant.Email,
		Metadata: map[string]string{
			"conference":        conf.ID,
			"registration_type": string(reg.RegistrationType),
		},
	})
	if err != nil {
		s.logger.Error("payment link creation failed",
			zap.String("registration_id", reg.ID),
			zap.Bool("retryable", gateway.IsRetryable(err)),
			zap.Error(err))

		failed, applyErr := s.store.Apply(ctx, reg.ID, Transition{
			From:   models.PaymentPending,
			To:     models.PaymentError,
			Source: SourceRegistration,
			Reason: "payment link creation failed: " + err.Error(),
		})
		if applyErr != nil {
			s.logger.Error("failed to record payment setup error",
				zap.String("registration_id", reg.ID), zap.Error(applyErr))
		} else {
			s.confirmer.Alert(failed, failed.StatusReason)
		}
		return nil, &PaymentSetupError{RegistrationID: reg.ID, Err: err}
	}

	ref := models.PaymentReference{
		PaymentURL:      link.URL,
		ExternalLinkID:  link.ExternalLinkID,
		ExternalOrderID: link.OrderID,
	}
	if err := s.store.AttachPaymentLink(ctx, reg.ID, ref); err != nil {
		// The link is live and carries the id in its note, so the webhook can
		// still reconcile this payment.
		s.logger.Error("failed to store payment link",
			zap.String("registration_id", reg.ID), zap.Error(err))
	}
	reg.PaymentReference.PaymentURL = ref.PaymentURL
	reg.PaymentReference.ExternalLinkID = ref.ExternalLinkID
	reg.PaymentReference.ExternalOrderID = ref.ExternalOrderID

	return &Result{Registration: reg, PaymentURL: link.URL}, nil
}

func (s *Service) replay(ctx context.Context, conf conference.Conference, existing *models.Registration) (*Result, error) {
	if existing.ConferenceID != conf.ID {
		return nil, ErrIdempotencyConflict
	}

	switch existing.PaymentStatus {
	case models.PaymentError:
		return nil, &PaymentSetupError{RegistrationID: existing.ID, Err: errors.New(existing.StatusReason)}
	case models.PaymentPending:
		if existing.PaymentReference.PaymentURL == "" && existing.FeeAmount > 0 {
			res, err := s.issueLink(ctx, conf, existing)
			if err != nil {
				return nil, err
			}
			res.Replayed = true
			return res, nil
		}
	}

	return &Result{
		Registration: existing,
		PaymentURL:   existing.PaymentReference.PaymentURL,
		Replayed:     true,
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Registration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

func (s *Service) Availability(ctx context.Context, conferenceID string) (capacity.Snapshot, error) {
	if _, err := s.catalog.Get(conferenceID); err != nil {
		return capacity.Snapshot{}, err
	}
	return s.store.Ledger().Snapshot(ctx, conferenceID)
}

func normalize(req *Request) error {
	verr := &ValidationError{}

	req.ConferenceID = strings.TrimSpace(req.ConferenceID)
	if req.ConferenceID == "" {
		verr.add("conference_id", "is required")
	}

	p := &req.Participant
	p.Name = strings.TrimSpace(p.Name)
	p.Institution = strings.TrimSpace(p.Institution)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	if p.Name == "" {
		verr.add("name", "is required")
	} else if len(p.Name) > 200 {
		verr.add("name", "must be at most 200 characters")
	}

	if p.Email == "" {
		verr.add("email", "is required")
	} else if addr, err := mail.ParseAddress(p.Email); err != nil || addr.Address != p.Email {
		verr.add("email", "is not a valid email address")
	}

	if len(p.Institution) > 200 {
		verr.add("institution", "must be at most 200 characters")
	}

	if !p.Membership.Valid() {
		verr.add("membership_status", "must be one of member, non_member, student")
	}

	if !req.AgreedToTerms {
		verr.add("agreed_to_terms", "must be accepted")
	}

	req.SpeakerCode = strings.TrimSpace(req.SpeakerCode)

	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(strings.TrimSpace(req.IdempotencyKey))
		if err != nil {
			verr.add("idempotency_key", "must be a UUID")
		} else {
			req.IdempotencyKey = key.String()
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func displayName(conf conference.Conference) string {
	if conf.Name != "" {
		return conf.Name
	}
	return conf.ID
}
