// Package gateway creates hosted payment links with the payment provider's
// checkout API.
//
// The registration id is sent as the provider's idempotency key, so retrying a
// request that timed out returns the original link instead of opening a second
// charge. The same id is written into the payment note, which is the only
// field the provider echoes back on payment webhooks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	paymentLinksPath = "/v2/online-checkout/payment-links"
	apiVersion       = "2024-10-17"
)

// NotePrefix precedes the registration id in the payment note.
const NotePrefix = "Registration ID: "

// PaymentNote renders the correlation note for a registration.
func PaymentNote(registrationID string) string {
	return NotePrefix + registrationID
}

type LinkRequest struct {
	RegistrationID string
	Amount         int64
	Currency       string
	ItemName       string
	BuyerEmail     string
	Metadata       map[string]string
}

type PaymentLink struct {
	URL            string
	ExternalLinkID string
	OrderID        string
}

type Config struct {
	BaseURL     string
	AccessToken string
	LocationID  string
	MaxRetries  int
	Timeout     time.Duration
	// RetryBaseDelay is the first backoff interval. Zero uses the backoff default.
	RetryBaseDelay time.Duration
}

type Client struct {
	http       *http.Client
	baseURL    string
	locationID string
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		locationID: cfg.LocationID,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		logger:     logger,
	}
}

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type quickPay struct {
	Name       string `json:"name"`
	PriceMoney money  `json:"price_money"`
	LocationID string `json:"location_id"`
}

type prePopulatedData struct {
	BuyerEmail string `json:"buyer_email,omitempty"`
}

type createLinkBody struct {
	IdempotencyKey   string            `json:"idempotency_key"`
	QuickPay         quickPay          `json:"quick_pay"`
	PaymentNote      string            `json:"payment_note"`
	Description      string            `json:"description,omitempty"`
	PrePopulatedData *prePopulatedData `json:"pre_populated_data,omitempty"`
}

type apiError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

type createLinkResponse struct {
	PaymentLink *struct {
		ID      string `json:"id"`
		URL     string `json:"url"`
		OrderID string `json:"order_id"`
	} `json:"payment_link"`
	Errors []apiError `json:"errors"`
}

// CreatePaymentLink requests a hosted checkout link. Retryable failures are
// retried up to MaxRetries times with exponential backoff.
func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest) (*PaymentLink, error) {
	if req.RegistrationID == "" {
		return nil, &Error{Code: "MISSING_IDEMPOTENCY_KEY", Detail: "registration id is required"}
	}
	if req.Amount <= 0 {
		return nil, &Error{Code: "INVALID_AMOUNT", Detail: "amount must be positive"}
	}

	body, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("encode payment link request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	if c.baseDelay > 0 {
		bo.InitialInterval = c.baseDelay
		bo.MaxInterval = 10 * c.baseDelay
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.maxRetries, 0))), ctx)

	attempt := 0
	link, err := backoff.RetryWithData(func() (*PaymentLink, error) {
		attempt++
		link, err := c.createOnce(ctx, body)
		if err == nil {
			return link, nil
		}
		if !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		c.logger.Warn("payment link attempt failed",
			zap.String("registration_id", req.RegistrationID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}, policy)
	if err != nil {
		return nil, err
	}

	c.logger.Info("payment link created",
		zap.String("registration_id", req.RegistrationID),
		zap.String("payment_link_id", link.ExternalLinkID),
		zap.Int("attempts", attempt))
	return link, nil
}

func (c *Client) buildBody(req LinkRequest) createLinkBody {
	name := req.ItemName
	if name == "" {
		name = "Conference registration"
	}

	body := createLinkBody{
		IdempotencyKey: req.RegistrationID,
		QuickPay: quickPay{
			Name:       name,
			PriceMoney: money{Amount: req.Amount, Currency: req.Currency},
			LocationID: c.locationID,
		},
		PaymentNote: PaymentNote(req.RegistrationID),
	}
	if req.BuyerEmail != "" {
		body.PrePopulatedData = &prePopulatedData{BuyerEmail: req.BuyerEmail}
	}
	if len(req.Metadata) > 0 {
		parts := make([]string, 0, len(req.Metadata))
		for _, k := range slices.Sorted(maps.Keys(req.Metadata)) {
			parts = append(parts, k+": "+req.Metadata[k])
		}
		body.Description = strings.Join(parts, "; ")
	}
	return body
}

func (c *Client) createOnce(ctx context.Context, body []byte) (*PaymentLink, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+paymentLinksPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment link request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Square-Version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Detail: "request cancelled", Err: ctx.Err()}
		}
		return nil, &Error{Retryable: true, Detail: "transport failure", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Retryable: true, Detail: "read response", Err: err}
	}

	var decoded createLinkResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= 300 {
		e := &Error{StatusCode: resp.StatusCode, Retryable: retryableStatus(resp.StatusCode)}
		if decodeErr == nil && len(decoded.Errors) > 0 {
			e.Code = decoded.Errors[0].Code
			e.Detail = decoded.Errors[0].Detail
		} else {
			e.Detail = http.StatusText(resp.StatusCode)
		}
		return nil, e
	}

	if decodeErr != nil || decoded.PaymentLink == nil || decoded.PaymentLink.URL == "" {
		return nil, &Error{StatusCode: resp.StatusCode, Retryable: true, Detail: "malformed payment link response", Err: decodeErr}
	}

	return &PaymentLink{
		URL:            decoded.PaymentLink.URL,
		ExternalLinkID: decoded.PaymentLink.ID,
		OrderID:        decoded.PaymentLink.OrderID,
	}, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
