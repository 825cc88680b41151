package reconcile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	EventPaymentCreated = "payment.created"
	EventPaymentUpdated = "payment.updated"
)

// Payment statuses reported by the gateway.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCanceled  = "CANCELED"
	StatusApproved  = "APPROVED"
	StatusPending   = "PENDING"
)

type Event struct {
	MerchantID string    `json:"merchant_id"`
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	CreatedAt  string    `json:"created_at"`
	Data       EventData `json:"data"`
}

type EventData struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Object struct {
		Payment *Payment `json:"payment"`
	} `json:"object"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Payment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountMoney *Money `json:"amount_money"`
	Note        string `json:"note"`
	ReferenceID string `json:"reference_id"`
	ReceiptURL  string `json:"receipt_url"`
	OrderID     string `json:"order_id"`
}

// DeliveryKey identifies the event for the audit log. Events without an id
// fall back to the payment id and status.
func (e Event) DeliveryKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	var paymentID, status string
	if p := e.Data.Object.Payment; p != nil {
		paymentID, status = p.ID, p.Status
	}
	return fmt.Sprintf("%s:%s:%s", e.Type, paymentID, status)
}

var (
	ErrNoCorrelationToken        = errors.New("no registration id found")
	ErrMalformedCorrelationToken = errors.New("malformed registration id")
)

var correlationPattern = regexp.MustCompile(`(?i)registration\s*id\s*[:#=]\s*([^\s,;]+)`)

// ParseCorrelationToken extracts the registration id from free text of the
// form "Registration ID: <uuid>". Matching is case-insensitive and tolerates
// surrounding text.
func ParseCorrelationToken(text string) (string, error) {
	m := correlationPattern.FindStringSubmatch(text)
	if m == nil {
		return "", ErrNoCorrelationToken
	}
	raw := strings.Trim(m[1], `"'()[]<>.`)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedCorrelationToken, raw)
	}
	return id.String(), nil
}

// CorrelationToken returns the registration id carried by the payment. The
// reference id wins over the note when both are present.
func (p Payment) CorrelationToken() (string, error) {
	if ref := strings.TrimSpace(p.ReferenceID); ref != "" {
		if id, err := uuid.Parse(ref); err == nil {
			return id.String(), nil
		}
		if id, err := ParseCorrelationToken(ref); err == nil {
			return id, nil
		}
	}
	return ParseCorrelationToken(p.Note)
}
