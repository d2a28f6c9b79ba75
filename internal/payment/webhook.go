package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// Outcome is the internal reading of a gateway status string
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "pending"
	}
}

// MapStatus translates the gateway status vocabulary. Unknown strings are pending.
func MapStatus(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "successful", "success", "completed", "paid":
		return OutcomeSuccess
	case "failed", "unsuccessful", "cancelled", "canceled", "declined", "error":
		return OutcomeFailure
	default:
		return OutcomePending
	}
}

// WebhookData is the charge carried by a webhook delivery.
// Amount is invalid when the delivery does not report one.
type WebhookData struct {
	ID       int64               `json:"id"`
	TxRef    string              `json:"tx_ref"`
	Status   string              `json:"status"`
	Amount   decimal.NullDecimal `json:"amount"`
	Currency string              `json:"currency"`
}

// WebhookPayload is the body of a webhook delivery
type WebhookPayload struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the webhook signature header against the raw body
func (c *Client) VerifySignature(body []byte, signature string) bool {
	return VerifySignature(c.webhookSecret, body, signature)
}

// VerifySignature checks signature against body in constant time.
// An empty secret or signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
