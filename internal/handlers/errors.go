package handlers

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/confreg/internal/registration"
)

// ErrorBody is the error envelope returned by every endpoint.
type ErrorBody struct {
	status         int
	Success        bool                      `json:"success"`
	Message        string                    `json:"message"`
	Reason         string                    `json:"reason,omitempty"`
	RegistrationID string                    `json:"registrationId,omitempty"`
	Errors         []registration.FieldError `json:"errors,omitempty"`
}

func (e *ErrorBody) Error() string {
	return e.Message
}

func (e *ErrorBody) GetStatus() int {
	return e.status
}

func newErrorBody(status int, msg string, errs ...error) huma.StatusError {
	// Request validation failures are reported as plain bad requests.
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}

	body := &ErrorBody{status: status, Message: msg}
	for _, err := range errs {
		var detail *huma.ErrorDetail
		if errors.As(err, &detail) {
			body.Errors = append(body.Errors, registration.FieldError{Field: detail.Location, Message: detail.Message})
			continue
		}
		if err != nil {
			body.Errors = append(body.Errors, registration.FieldError{Message: err.Error()})
		}
	}
	return body
}

func init() {
	huma.NewError = newErrorBody
}

func conflict(msg, reason string) huma.StatusError {
	return &ErrorBody{status: http.StatusConflict, Message: msg, Reason: reason}
}
