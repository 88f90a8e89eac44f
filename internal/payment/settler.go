package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zulandar/junction/internal/tools"
)

// SettleRequest asks the settlement service to move funds.
type SettleRequest struct {
	Amount int
	From   string
	To     string
	Task   string
}

// SettleResult is the settlement service's answer to a SettleRequest.
type SettleResult struct {
	OK            bool
	Insufficient  bool
	TransactionID string
	ReceiptID     string
	Amount        int
	Reason        string
}

// ReceiptResult is the settlement service's record of a receipt.
type ReceiptResult struct {
	Valid     bool
	ReceiptID string
	Amount    int
	Reason    string
}

// Settler is the external settlement service. It is the source of truth for
// receipts; the Gate never trusts a receipt id without asking it.
type Settler interface {
	Settle(ctx context.Context, req SettleRequest) (SettleResult, error)
	Receipt(ctx context.Context, receiptID string) (ReceiptResult, error)
}

// MCP tool names exposed by the settlement server.
const (
	toolProcessPayment = "process_payment"
	toolGetReceipt     = "get_receipt"
)

// MCPSettler reaches a settlement service exposed as an MCP server.
type MCPSettler struct {
	URL       string
	Transport string
	Dialer    tools.Dialer
}

// NewMCPSettler returns a settler for the MCP server at url.
func NewMCPSettler(url string, d tools.Dialer) (*MCPSettler, error) {
	if url == "" {
		return nil, fmt.Errorf("payment: settlement url is required")
	}
	if d == nil {
		d = tools.MCPDialer{}
	}
	return &MCPSettler{URL: url, Dialer: d}, nil
}

type processPaymentResponse struct {
	TransactionID string      `json:"transaction_id"`
	ReceiptID     string      `json:"receipt_id"`
	Amount        json.Number `json:"amount"`
	Status        string      `json:"status"`
	Error         string      `json:"error"`
}

func (s *MCPSettler) Settle(ctx context.Context, req SettleRequest) (SettleResult, error) {
	sess, err := s.Dialer.Dial(ctx, s.URL, s.Transport)
	if err != nil {
		return SettleResult{}, fmt.Errorf("payment: connect settlement: %w", err)
	}
	defer sess.Close()

	text, err := sess.Call(ctx, toolProcessPayment, map[string]any{
		"amount":     req.Amount,
		"from_agent": req.From,
		"to_agent":   req.To,
		"task":       req.Task,
	})
	if err != nil {
		if isInsufficient(err.Error()) {
			return SettleResult{Insufficient: true, Reason: err.Error()}, nil
		}
		return SettleResult{}, fmt.Errorf("payment: %s: %w", toolProcessPayment, err)
	}

	var resp processPaymentResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		if isInsufficient(text) {
			return SettleResult{Insufficient: true, Reason: strings.TrimSpace(text)}, nil
		}
		return SettleResult{Reason: "invalid settlement response"}, nil
	}
	status := strings.ToLower(resp.Status)
	switch {
	case status == "insufficient_balance" || isInsufficient(resp.Error):
		return SettleResult{Insufficient: true, Reason: firstNonEmpty(resp.Error, "insufficient balance")}, nil
	case resp.Error != "" || status == "failed" || resp.TransactionID == "":
		return SettleResult{Reason: firstNonEmpty(resp.Error, "settlement returned status "+firstNonEmpty(resp.Status, "unknown"))}, nil
	}

	amount := req.Amount
	if n, err := resp.Amount.Int64(); err == nil {
		amount = int(n)
	}
	return SettleResult{
		OK:            true,
		TransactionID: resp.TransactionID,
		ReceiptID:     firstNonEmpty(resp.ReceiptID, resp.TransactionID),
		Amount:        amount,
	}, nil
}

type receiptResponse struct {
	ReceiptID string      `json:"receipt_id"`
	Amount    json.Number `json:"amount"`
	Status    string      `json:"status"`
	Error     string      `json:"error"`
}

func (s *MCPSettler) Receipt(ctx context.Context, receiptID string) (ReceiptResult, error) {
	sess, err := s.Dialer.Dial(ctx, s.URL, s.Transport)
	if err != nil {
		return ReceiptResult{}, fmt.Errorf("payment: connect settlement: %w", err)
	}
	defer sess.Close()

	var resp receiptResponse
	if err := tools.CallJSON(ctx, sess, toolGetReceipt, map[string]any{"receipt_id": receiptID}, &resp); err != nil {
		return ReceiptResult{ReceiptID: receiptID, Reason: fmt.Sprintf("receipt %s not found or invalid", receiptID)}, nil
	}
	if resp.Error != "" || strings.EqualFold(resp.Status, "not_found") {
		return ReceiptResult{ReceiptID: receiptID, Reason: firstNonEmpty(resp.Error, "receipt not found")}, nil
	}
	n, err := resp.Amount.Int64()
	if err != nil {
		return ReceiptResult{ReceiptID: receiptID, Reason: "receipt has no amount"}, nil
	}
	return ReceiptResult{Valid: true, ReceiptID: firstNonEmpty(resp.ReceiptID, receiptID), Amount: int(n)}, nil
}

func isInsufficient(s string) bool {
	return strings.Contains(strings.ToLower(s), "insufficient")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
