package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/confreg/internal/capacity"
	"github.com/gdg-garage/confreg/internal/conference"
	"github.com/gdg-garage/confreg/internal/models"
	"github.com/gdg-garage/confreg/internal/registration"
	"go.uber.org/zap"
)

type RegistrationHandler struct {
	service *registration.Service
	logger  *zap.Logger
}

func NewRegistrationHandler(service *registration.Service, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{service: service, logger: logger}
}

type CreateRegistrationRequest struct {
	ConferenceID   string `path:"conferenceId" doc:"Conference identifier"`
	IdempotencyKey string `header:"Idempotency-Key" required:"false" doc:"Client generated UUID. Resubmitting with the same key returns the original registration"`
	Body           struct {
		Name             string `json:"name" doc:"Participant full name"`
		Email            string `json:"email" doc:"Participant email address"`
		Institution      string `json:"institution,omitempty" required:"false" doc:"Affiliation"`
		MembershipStatus string `json:"membershipStatus" doc:"member, non_member or student"`
		AgreedToTerms    bool   `json:"agreedToTerms" doc:"Participant accepted the terms"`
		SpeakerCode      string `json:"speakerCode,omitempty" required:"false" doc:"Invited speaker code"`
	}
}

type CreateRegistrationResponse struct {
	Status int
	Body   struct {
		Success          bool   `json:"success"`
		RegistrationID   string `json:"registrationId"`
		RegistrationType string `json:"registrationType"`
		FeeAmount        int64  `json:"feeAmount"`
		Currency         string `json:"currency"`
		PaymentStatus    string `json:"paymentStatus"`
		PaymentURL       string `json:"paymentUrl,omitempty"`
	}
}

func (h *RegistrationHandler) HandleCreate(ctx context.Context, input *CreateRegistrationRequest) (*CreateRegistrationResponse, error) {
	res, err := h.service.Register(ctx, registration.Request{
		ConferenceID:   input.ConferenceID,
		IdempotencyKey: input.IdempotencyKey,
		Participant: models.Participant{
			Name:        input.Body.Name,
			Email:       input.Body.Email,
			Institution: input.Body.Institution,
			Membership:  models.MembershipStatus(input.Body.MembershipStatus),
		},
		SpeakerCode:   input.Body.SpeakerCode,
		AgreedToTerms: input.Body.AgreedToTerms,
	})
	if err != nil {
		return nil, h.registrationError(input.ConferenceID, err)
	}

	reg := res.Registration
	resp := &CreateRegistrationResponse{Status: http.StatusCreated}
	if res.Replayed {
		resp.Status = http.StatusOK
	}
	resp.Body.Success = true
	resp.Body.RegistrationID = reg.ID
	resp.Body.RegistrationType = string(reg.RegistrationType)
	resp.Body.FeeAmount = reg.FeeAmount
	resp.Body.Currency = reg.Currency
	resp.Body.PaymentStatus = string(reg.PaymentStatus)
	resp.Body.PaymentURL = res.PaymentURL
	return resp, nil
}

func (h *RegistrationHandler) registrationError(conferenceID string, err error) error {
	var (
		verr  *registration.ValidationError
		setup *registration.PaymentSetupError
	)
	switch {
	case errors.As(err, &verr):
		return &ErrorBody{status: http.StatusBadRequest, Message: "Invalid registration", Errors: verr.Fields}
	case errors.Is(err, conference.ErrUnknownConference), errors.Is(err, capacity.ErrUnknownConference):
		return huma.Error404NotFound("Conference not found")
	case errors.Is(err, registration.ErrCapacityExceeded):
		return conflict("This conference is full", "capacity_full")
	case errors.Is(err, registration.ErrRegistrationClosed):
		return conflict("Registration is closed for this conference", "registration_closed")
	case errors.Is(err, registration.ErrIdempotencyConflict):
		return conflict("Idempotency key already used for another conference", "idempotency_conflict")
	case errors.As(err, &setup):
		return &ErrorBody{
			status:         http.StatusBadGateway,
			Message:        "Your registration was recorded but payment could not be set up. Our team has been notified.",
			Reason:         "payment_setup_failed",
			RegistrationID: setup.RegistrationID,
		}
	}

	h.logger.Error("registration failed", zap.String("conference_id", conferenceID), zap.Error(err))
	return huma.Error500InternalServerError("Failed to process registration")
}

type AvailabilityRequest struct {
	ConferenceID string `path:"conferenceId"`
}

type AvailabilityResponse struct {
	Body struct {
		ConferenceID string `json:"conferenceId"`
		Capacity     int    `json:"capacity"`
		Reserved     int    `json:"reserved"`
		Available    int    `json:"available"`
	}
}

func (h *RegistrationHandler) HandleAvailability(ctx context.Context, input *AvailabilityRequest) (*AvailabilityResponse, error) {
	snap, err := h.service.Availability(ctx, input.ConferenceID)
	if err != nil {
		return nil, h.registrationError(input.ConferenceID, err)
	}

	resp := &AvailabilityResponse{}
	resp.Body.ConferenceID = snap.ConferenceID
	resp.Body.Capacity = snap.Capacity
	resp.Body.Reserved = snap.Reserved
	resp.Body.Available = snap.Available()
	return resp, nil
}

type GetRegistrationRequest struct {
	RegistrationID string `path:"registrationId"`
}

// RegistrationView is the public projection of a registration.
type RegistrationView struct {
	ID               string    `json:"id"`
	ConferenceID     string    `json:"conferenceId"`
	RegistrationType string    `json:"registrationType"`
	FeeAmount        int64     `json:"feeAmount"`
	Currency         string    `json:"currency"`
	PaymentStatus    string    `json:"paymentStatus"`
	PaymentURL       string    `json:"paymentUrl,omitempty"`
	ReceiptURL       string    `json:"receiptUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func newRegistrationView(reg *models.Registration) RegistrationView {
	view := RegistrationView{
		ID:               reg.ID,
		ConferenceID:     reg.ConferenceID,
		RegistrationType: string(reg.RegistrationType),
		FeeAmount:        reg.FeeAmount,
		Currency:         reg.Currency,
		PaymentStatus:    string(reg.PaymentStatus),
		ReceiptURL:       reg.PaymentReference.ReceiptURL,
		CreatedAt:        reg.CreatedAt,
		UpdatedAt:        reg.UpdatedAt,
	}
	if reg.PaymentStatus == models.PaymentPending {
		view.PaymentURL = reg.PaymentReference.PaymentURL
	}
	return view
}

type GetRegistrationResponse struct {
	Body RegistrationView
}

func (h *RegistrationHandler) HandleGet(ctx context.Context, input *GetRegistrationRequest) (*GetRegistrationResponse, error) {
	reg, err := h.service.Get(ctx, input.RegistrationID)
	if errors.Is(err, registration.ErrNotFound) {
		return nil, huma.Error404NotFound("Registration not found")
	}
	if err != nil {
		h.logger.Error("failed to load registration", zap.String("registration_id", input.RegistrationID), zap.Error(err))
		return nil, huma.Error500InternalServerError("Failed to load registration")
	}
	return &GetRegistrationResponse{Body: newRegistrationView(reg)}, nil
}
