package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks the gateway's webhook signature: base64(HMAC-SHA256(key,
// notificationURL + body)).
type Verifier struct {
	key             []byte
	notificationURL string
}

func NewVerifier(key, notificationURL string) (*Verifier, error) {
	if key == "" {
		return nil, errors.New("webhook signature key is required")
	}
	return &Verifier{key: []byte(key), notificationURL: notificationURL}, nil
}

func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(v.notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(v.Sign(body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
