package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/metrics"
	"github.com/zulandar/junction/internal/transport"
)

// DefaultTimeout bounds one settlement call.
const DefaultTimeout = 30 * time.Second

// Quote is the outcome of CheckRequirement.
type Quote struct {
	State  State
	Agent  string
	Amount int
}

// Settlement is the outcome of Settle.
type Settlement struct {
	State         State
	ReceiptID     string
	TransactionID string
	Amount        int
	Reason        string
}

// Verification is the outcome of ValidateReceipt.
type Verification struct {
	State     State
	ReceiptID string
	Amount    int
	Reason    string
}

// GateOpts holds the collaborators for NewGate.
type GateOpts struct {
	Directory directory.Directory
	Settler   Settler
	// AgentID is this agent; it pays as the client and is paid as the server.
	AgentID string
	// PublicURL prefixes the resource named in payment requirements.
	PublicURL string
	Config    config.PaymentConfig
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// Gate runs the payment negotiation for both sides of a paid call.
type Gate struct {
	dir       directory.Directory
	settler   Settler
	agentID   string
	publicURL string
	cfg       config.PaymentConfig
	timeout   time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	redeemed *expirable.LRU[string, time.Time]
}

// NewGate validates opts and returns a Gate.
func NewGate(opts GateOpts) (*Gate, error) {
	if opts.Directory == nil {
		return nil, fmt.Errorf("payment: directory is required")
	}
	if opts.Settler == nil {
		return nil, fmt.Errorf("payment: settler is required")
	}
	if opts.AgentID == "" {
		return nil, fmt.Errorf("payment: agent id is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	size := opts.Config.ReplayCache
	if size <= 0 {
		size = 4096
	}
	ttl := opts.Config.ReplayTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Gate{
		dir:       opts.Directory,
		settler:   opts.Settler,
		agentID:   opts.AgentID,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		cfg:       opts.Config,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		redeemed:  expirable.NewLRU[string, time.Time](size, nil, ttl),
	}, nil
}

// CheckRequirement reports whether calling agent costs anything. Unknown
// agents and lookup errors are treated as free; routing reports the miss.
func (g *Gate) CheckRequirement(ctx context.Context, agent string) Quote {
	e, ok, err := g.dir.GetInfo(ctx, agent)
	if err != nil {
		g.log.Warn().Err(err).Str("agent", agent).Msg("payment: directory lookup failed")
		return Quote{State: NotRequired, Agent: agent}
	}
	if !ok || e.Free() {
		return Quote{State: NotRequired, Agent: agent}
	}
	return Quote{State: Required, Agent: agent, Amount: e.ServiceCharge}
}

// Settle pays amount from one agent to another through the settlement
// service.
func (g *Gate) Settle(ctx context.Context, amount int, from, to, description string) Settlement {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.settler.Settle(ctx, SettleRequest{Amount: amount, From: from, To: to, Task: description})
	var out Settlement
	switch {
	case err != nil:
		out = Settlement{State: Failed, Amount: amount, Reason: err.Error()}
	case res.Insufficient:
		out = Settlement{State: InsufficientBalance, Amount: amount, Reason: firstNonEmpty(res.Reason, "insufficient balance")}
	case !res.OK:
		out = Settlement{State: Failed, Amount: amount, Reason: firstNonEmpty(res.Reason, "settlement failed")}
	default:
		out = Settlement{
			State:         Completed,
			ReceiptID:     firstNonEmpty(res.ReceiptID, res.TransactionID),
			TransactionID: res.TransactionID,
			Amount:        res.Amount,
		}
	}
	metrics.PaymentStates.WithLabelValues(out.State.String()).Inc()
	g.log.Info().
		Str("from", from).
		Str("to", to).
		Int("amount", amount).
		Str("state", out.State.String()).
		Str("transaction", out.TransactionID).
		Str("reason", out.Reason).
		Msg("payment: settle")
	return out
}

// ValidateReceipt asks the settlement service whether receiptID is real.
// Receipts already redeemed by this process are rejected.
func (g *Gate) ValidateReceipt(ctx context.Context, receiptID string) Verification {
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return Verification{State: InvalidReceipt, Reason: "empty receipt"}
	}
	if g.redeemed.Contains(receiptID) {
		return Verification{State: InvalidReceipt, ReceiptID: receiptID, Reason: fmt.Sprintf("receipt %s was already used", receiptID)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.settler.Receipt(ctx, receiptID)
	if err != nil {
		return Verification{State: InvalidReceipt, ReceiptID: receiptID, Reason: err.Error()}
	}
	if !res.Valid {
		return Verification{State: InvalidReceipt, ReceiptID: receiptID, Reason: firstNonEmpty(res.Reason, "receipt not found")}
	}
	return Verification{State: Verified, ReceiptID: receiptID, Amount: res.Amount}
}

// redeem marks receiptID used, reporting false if it already was.
func (g *Gate) redeem(receiptID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.redeemed.Contains(receiptID) {
		return false
	}
	g.redeemed.Add(receiptID, time.Now())
	return true
}

// AuthRequest describes an inbound paid request.
type AuthRequest struct {
	From      string
	Text      string
	ReceiptID string
	Charge    int
}

// Authorization is the server-side verdict on an inbound request.
type Authorization struct {
	Flow    *Flow
	Allowed bool
	// Reply is the message to return instead of serving when not Allowed.
	Reply         transport.Message
	TransactionID string
	Network       string
}

// Authorize decides whether an inbound request may be served. Without a
// receipt the caller gets an x402 payment-required reply; with one, the
// receipt is validated and redeemed before any work is done.
func (g *Gate) Authorize(ctx context.Context, req AuthRequest) Authorization {
	flow := NewFlow()
	if req.Charge <= 0 {
		return Authorization{Flow: flow, Allowed: true}
	}
	flow.To(Required)

	if strings.TrimSpace(req.ReceiptID) == "" {
		g.log.Info().Str("from", req.From).Int("charge", req.Charge).Msg("payment: required")
		return Authorization{
			Flow:  flow,
			Reply: RequiredMessage(g.agentID, g.publicURL+"/service/"+g.agentID, req.Charge, req.Text, g.cfg),
		}
	}

	v := g.ValidateReceipt(ctx, req.ReceiptID)
	if v.State == Verified && v.Amount < req.Charge {
		v = Verification{State: InvalidReceipt, ReceiptID: v.ReceiptID, Reason: fmt.Sprintf("receipt %s covers %d, %d required", v.ReceiptID, v.Amount, req.Charge)}
	}
	if v.State == Verified && !g.redeem(v.ReceiptID) {
		v = Verification{State: InvalidReceipt, ReceiptID: v.ReceiptID, Reason: fmt.Sprintf("receipt %s was already used", v.ReceiptID)}
	}
	metrics.PaymentStates.WithLabelValues(v.State.String()).Inc()

	if v.State != Verified {
		flow.To(Submitted)
		flow.To(InvalidReceipt)
		g.log.Warn().Str("from", req.From).Str("receipt", req.ReceiptID).Str("reason", v.Reason).Msg("payment: receipt rejected")
		return Authorization{
			Flow:  flow,
			Reply: FailedMessage(InvalidReceipt, v.Reason, g.cfg.Network, v.ReceiptID),
		}
	}
	flow.To(Verified)
	g.log.Info().Str("from", req.From).Str("receipt", v.ReceiptID).Int("amount", v.Amount).Msg("payment: receipt verified")
	return Authorization{Flow: flow, Allowed: true, TransactionID: v.ReceiptID, Network: g.cfg.Network}
}

// Payment is the client-side outcome of answering a payment-required reply.
type Payment struct {
	Flow      *Flow
	State     State
	ReceiptID string
	Amount    int
	Network   string
	// Text is the user-facing failure message when State is not Completed.
	Text string
}

// Pay answers a peer's payment-required reply by settling the amount it
// names. On Completed the receipt is ready for one retry.
func (g *Gate) Pay(ctx context.Context, reply transport.Message, to, original string) Payment {
	flow := NewFlow()
	flow.To(Required)

	req, err := RequiredFrom(reply)
	amount := 0
	if err == nil {
		amount, err = req.Amount()
	}
	if err != nil {
		flow.To(Submitted)
		flow.To(Failed)
		return Payment{Flow: flow, State: Failed, Text: FailureText(Failed, err.Error())}
	}

	flow.To(Submitted)
	s := g.Settle(ctx, amount, g.agentID, to, "Payment for: "+original)
	flow.To(s.State)
	p := Payment{Flow: flow, State: s.State, ReceiptID: s.ReceiptID, Amount: amount, Network: req.Accepts[0].Network}
	if s.State != Completed {
		p.Text = FailureText(s.State, s.Reason)
	}
	return p
}

// FailureText is the user-facing message for a failed payment sub-kind.
func FailureText(s State, reason string) string {
	switch s {
	case InsufficientBalance:
		return "Payment failed: insufficient balance (" + reason + "). Add funds and try again."
	case InvalidReceipt:
		return "Payment failed: invalid receipt (" + reason + ")."
	default:
		return "Payment failed: " + reason
	}
}

// RequiredText is the message returned to a caller who must pay before a
// paid agent is contacted.
func RequiredText(q Quote) string {
	return fmt.Sprintf("402-PAYMENT-REQUIRED: Agent '%s' requires %d NP per request. Please include payment receipt in your message.", q.Agent, q.Amount)
}
