package payment

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/transport"
)

// x402 metadata keys.
const (
	MetaStatus   = "x402.payment.status"
	MetaRequired = "x402.payment.required"
	MetaPayload  = "x402.payment.payload"
	MetaReceipts = "x402.payment.receipts"
	MetaError    = "x402.payment.error"
)

// Status is the x402 payment status carried in message metadata.
type Status string

const (
	StatusRequired  Status = "payment-required"
	StatusSubmitted Status = "payment-submitted"
	StatusRejected  Status = "payment-rejected"
	StatusVerified  Status = "payment-verified"
	StatusCompleted Status = "payment-completed"
	StatusFailed    Status = "payment-failed"
)

const (
	x402Version       = 1
	schemeExact       = "exact"
	maxTimeoutSeconds = 600
)

// Requirements is one accepted way to pay.
type Requirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	PayTo             string         `json:"payTo"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// RequiredResponse is the x402.payment.required value.
type RequiredResponse struct {
	X402Version int            `json:"x402Version"`
	Accepts     []Requirements `json:"accepts"`
}

// Amount returns the amount of the first accepted requirement.
func (r RequiredResponse) Amount() (int, error) {
	if len(r.Accepts) == 0 {
		return 0, fmt.Errorf("payment: no payment options offered")
	}
	n, err := strconv.Atoi(r.Accepts[0].MaxAmountRequired)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("payment: bad maxAmountRequired %q", r.Accepts[0].MaxAmountRequired)
	}
	return n, nil
}

// Payload is the x402.payment.payload value a client submits.
type Payload struct {
	X402Version int            `json:"x402Version"`
	Network     string         `json:"network"`
	Scheme      string         `json:"scheme"`
	Payload     map[string]any `json:"payload"`
}

// SettleResponse is one entry of x402.payment.receipts.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Network     string `json:"network"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// StatusOf returns the x402 status of m, or "".
func StatusOf(m transport.Message) Status {
	s, _ := m.Meta(MetaStatus).(string)
	return Status(s)
}

// IsPaymentRequired reports whether m asks the caller to pay.
func IsPaymentRequired(m transport.Message) bool {
	return StatusOf(m) == StatusRequired
}

// RequiredMessage builds the server's payment-required reply. resource is
// the URL of the service being paid for.
func RequiredMessage(agentID, resource string, charge int, text string, cfg config.PaymentConfig) transport.Message {
	m := transport.NewMessage(transport.RoleAgent, fmt.Sprintf("Payment is required for %s. Cost: %d points.", text, charge), "")
	m.SetMeta(MetaStatus, string(StatusRequired))
	m.SetMeta(MetaRequired, RequiredResponse{
		X402Version: x402Version,
		Accepts: []Requirements{{
			Scheme:            schemeExact,
			Network:           cfg.Network,
			Asset:             cfg.Asset,
			PayTo:             cfg.PayTo,
			MaxAmountRequired: strconv.Itoa(charge),
			Resource:          resource,
			Description:       "Service from " + agentID,
			MaxTimeoutSeconds: maxTimeoutSeconds,
		}},
	})
	return m
}

// SubmittedMessage builds the client's proof-of-payment message.
func SubmittedMessage(original, transactionID, network string) transport.Message {
	m := transport.NewMessage(transport.RoleUser, "Payment submitted for: "+original, "")
	m.SetMeta(MetaStatus, string(StatusSubmitted))
	m.SetMeta(MetaPayload, Payload{
		X402Version: x402Version,
		Network:     network,
		Scheme:      schemeExact,
		Payload:     map[string]any{"transaction_id": transactionID},
	})
	return m
}

// CompletedMessage marks m as served after a verified payment.
func CompletedMessage(m transport.Message, transactionID, network, payer string) transport.Message {
	m.SetMeta(MetaStatus, string(StatusCompleted))
	m.SetMeta(MetaReceipts, []SettleResponse{{
		Success:     true,
		Network:     network,
		Transaction: transactionID,
		Payer:       payer,
	}})
	return m
}

// FailedMessage builds a payment-failed reply for failure sub-kind s.
func FailedMessage(s State, reason, network, transactionID string) transport.Message {
	m := transport.NewMessage(transport.RoleAgent, FailureText(s, reason), "")
	m.SetMeta(MetaStatus, string(StatusFailed))
	m.SetMeta(MetaError, reason)
	m.SetMeta(MetaReceipts, []SettleResponse{{
		Success:     false,
		Network:     network,
		ErrorReason: reason,
		Transaction: transactionID,
	}})
	return m
}

// RequiredFrom extracts the payment requirements from m. The metadata value
// may be a RequiredResponse or its decoded JSON form.
func RequiredFrom(m transport.Message) (RequiredResponse, error) {
	var r RequiredResponse
	if err := metaInto(m, MetaRequired, &r); err != nil {
		return r, err
	}
	return r, nil
}

// PayloadFrom extracts the submitted payment payload from m.
func PayloadFrom(m transport.Message) (Payload, error) {
	var p Payload
	err := metaInto(m, MetaPayload, &p)
	return p, err
}

// TransactionFrom returns the first successful transaction in a completed
// message's receipts.
func TransactionFrom(m transport.Message) (string, bool) {
	if StatusOf(m) != StatusCompleted {
		return "", false
	}
	var receipts []SettleResponse
	if err := metaInto(m, MetaReceipts, &receipts); err != nil {
		return "", false
	}
	for _, r := range receipts {
		if r.Success && r.Transaction != "" {
			return r.Transaction, true
		}
	}
	return "", false
}

func metaInto(m transport.Message, key string, out any) error {
	v := m.Meta(key)
	if v == nil {
		return fmt.Errorf("payment: message has no %s", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("payment: encode %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("payment: decode %s: %w", key, err)
	}
	return nil
}
