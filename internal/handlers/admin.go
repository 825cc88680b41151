package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/confreg/internal/auth"
	"github.com/gdg-garage/confreg/internal/models"
	"github.com/gdg-garage/confreg/internal/reconcile"
	"github.com/gdg-garage/confreg/internal/registration"
	"go.uber.org/zap"
)

// AdminHandler serves the operator endpoints: manual resolution, audit trail
// and an on-demand sweep.
type AdminHandler struct {
	reconciler *reconcile.Reconciler
	sweeper    *reconcile.Sweeper
	store      *registration.Store
	events     *reconcile.EventLog
	logger     *zap.Logger
}

func NewAdminHandler(reconciler *reconcile.Reconciler, sweeper *reconcile.Sweeper, store *registration.Store, events *reconcile.EventLog, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		sweeper:    sweeper,
		store:      store,
		events:     events,
		logger:     logger,
	}
}

type ResolveRequest struct {
	RegistrationID string `path:"registrationId"`
	Body           struct {
		Status string `json:"status" enum:"paid,failed" doc:"Final payment status"`
		Note   string `json:"note,omitempty" required:"false" maxLength:"500" doc:"Why the registration was resolved by hand"`
	}
}

// AdminRegistration is the full registration record for operators.
type AdminRegistration struct {
	RegistrationView
	Participant           models.Participant `json:"participant"`
	StatusReason          string             `json:"statusReason,omitempty"`
	ExternalLinkID        string             `json:"externalLinkId,omitempty"`
	ExternalOrderID       string             `json:"externalOrderId,omitempty"`
	ExternalTransactionID string             `json:"externalTransactionId,omitempty"`
	ConfirmationPending   bool               `json:"confirmationPending"`
}

func newAdminRegistration(reg *models.Registration) AdminRegistration {
	return AdminRegistration{
		RegistrationView:      newRegistrationView(reg),
		Participant:           reg.Participant,
		StatusReason:          reg.StatusReason,
		ExternalLinkID:        reg.PaymentReference.ExternalLinkID,
		ExternalOrderID:       reg.PaymentReference.ExternalOrderID,
		ExternalTransactionID: reg.PaymentReference.ExternalTransactionID,
		ConfirmationPending:   reg.ConfirmationPending,
	}
}

type ResolveResponse struct {
	Body AdminRegistration
}

func (h *AdminHandler) HandleResolve(ctx context.Context, input *ResolveRequest) (*ResolveResponse, error) {
	operator, _ := auth.OperatorFrom(ctx)

	reg, err := h.reconciler.Resolve(ctx, input.RegistrationID, reconcile.Resolution{
		Status:   models.PaymentStatus(input.Body.Status),
		Note:     input.Body.Note,
		Operator: operator,
	})
	switch {
	case errors.Is(err, registration.ErrNotFound):
		return nil, huma.Error404NotFound("Registration not found")
	case errors.Is(err, registration.ErrInvalidTransition):
		return nil, conflict("Registration is already settled", "invalid_transition")
	case errors.Is(err, registration.ErrStaleTransition):
		return nil, conflict("Registration changed while resolving, try again", "stale_transition")
	case err != nil:
		h.logger.Error("manual resolution failed", zap.String("registration_id", input.RegistrationID), zap.Error(err))
		return nil, huma.Error500InternalServerError("Failed to resolve registration")
	}

	return &ResolveResponse{Body: newAdminRegistration(reg)}, nil
}

type HistoryRequest struct {
	RegistrationID string `path:"registrationId"`
}

type HistoryEntry struct {
	FromStatus string    `json:"fromStatus,omitempty"`
	ToStatus   string    `json:"toStatus"`
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type WebhookEntry struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	PaymentID  string    `json:"paymentId,omitempty"`
	Outcome    string    `json:"outcome"`
	Deliveries int       `json:"deliveries"`
	LastSeen   time.Time `json:"lastSeen"`
}

type HistoryResponse struct {
	Body struct {
		Registration AdminRegistration `json:"registration"`
		History      []HistoryEntry    `json:"history"`
		Webhooks     []WebhookEntry    `json:"webhooks"`
	}
}

func (h *AdminHandler) HandleHistory(ctx context.Context, input *HistoryRequest) (*HistoryResponse, error) {
	reg, err := h.store.Get(ctx, input.RegistrationID)
	if errors.Is(err, registration.ErrNotFound) {
		return nil, huma.Error404NotFound("Registration not found")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load registration")
	}

	history, err := h.store.History(ctx, reg.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load history")
	}
	events, err := h.events.ListForRegistration(ctx, reg.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load webhook events")
	}

	resp := &HistoryResponse{}
	resp.Body.Registration = newAdminRegistration(reg)
	resp.Body.History = make([]HistoryEntry, 0, len(history))
	for _, entry := range history {
		resp.Body.History = append(resp.Body.History, HistoryEntry{
			FromStatus: string(entry.FromStatus),
			ToStatus:   string(entry.ToStatus),
			Source:     entry.Source,
			Reason:     entry.Reason,
			At:         entry.CreatedAt,
		})
	}
	resp.Body.Webhooks = make([]WebhookEntry, 0, len(events))
	for _, ev := range events {
		resp.Body.Webhooks = append(resp.Body.Webhooks, WebhookEntry{
			EventID:    ev.ProviderEventID,
			EventType:  ev.EventType,
			PaymentID:  ev.PaymentID,
			Outcome:    ev.Outcome,
			Deliveries: ev.Deliveries,
			LastSeen:   ev.UpdatedAt,
		})
	}
	return resp, nil
}

type ListRegistrationsRequest struct {
	ConferenceID string `path:"conferenceId"`
	Status       string `query:"status" required:"false" enum:"pending,paid,failed,error" doc:"Only return registrations in this status"`
}

type ListRegistrationsResponse struct {
	Body struct {
		Registrations []AdminRegistration `json:"registrations"`
	}
}

func (h *AdminHandler) HandleList(ctx context.Context, input *ListRegistrationsRequest) (*ListRegistrationsResponse, error) {
	regs, err := h.store.ListByConference(ctx, input.ConferenceID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list registrations")
	}

	resp := &ListRegistrationsResponse{}
	resp.Body.Registrations = make([]AdminRegistration, 0, len(regs))
	for i := range regs {
		if input.Status != "" && string(regs[i].PaymentStatus) != input.Status {
			continue
		}
		resp.Body.Registrations = append(resp.Body.Registrations, newAdminRegistration(&regs[i]))
	}
	return resp, nil
}

type SweepResponse struct {
	Body reconcile.SweepResult
}

func (h *AdminHandler) HandleSweep(ctx context.Context, _ *struct{}) (*SweepResponse, error) {
	result, err := h.sweeper.Sweep(ctx)
	if err != nil {
		h.logger.Error("manual sweep finished with errors", zap.Error(err))
		return nil, huma.Error500InternalServerError("Sweep finished with errors")
	}
	return &SweepResponse{Body: result}, nil
}
