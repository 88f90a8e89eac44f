package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/convlog"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/envelope"
	"github.com/zulandar/junction/internal/llm"
	"github.com/zulandar/junction/internal/metrics"
	"github.com/zulandar/junction/internal/payment"
	"github.com/zulandar/junction/internal/tools"
	"github.com/zulandar/junction/internal/transport"
)

// System prompts for LLM calls made by the dispatcher.
const (
	defaultSystemPrompt = "You are a helpful agent. Answer the user's message directly and concisely."
	querySystemPrompt   = "Provide a direct, helpful response to the user's question. Treat it as a private request for guidance and respond only to the user."
)

// Improver rewrites an outbound message body. On failure it returns the
// original text along with the error.
type Improver interface {
	Improve(ctx context.Context, text string) (string, error)
}

// ToolInvoker answers a tool query against a registered server.
type ToolInvoker interface {
	Query(ctx context.Context, provider, server, query string) (string, error)
}

// PaymentGate is the part of payment.Gate the dispatcher drives.
type PaymentGate interface {
	CheckRequirement(ctx context.Context, agent string) payment.Quote
	Pay(ctx context.Context, reply transport.Message, to, original string) payment.Payment
	Authorize(ctx context.Context, req payment.AuthRequest) payment.Authorization
}

// DispatcherOpts holds the collaborators for NewDispatcher. Config,
// Directory and Sender are required; the rest are optional.
type DispatcherOpts struct {
	Config    *config.Config
	Directory directory.Directory
	Sender    transport.Sender
	Completer llm.Completer
	Improver  Improver
	Gate      PaymentGate
	Tools     ToolInvoker
	ConvLog   convlog.Logger
	// OnEnvelope is called for every well-formed inbound peer envelope.
	OnEnvelope func(env *envelope.Envelope)
	Logger     zerolog.Logger
}

// Dispatcher routes text for one agent.
type Dispatcher struct {
	agentID     string
	maxDepth    int
	charge      int
	system      string
	sendTimeout time.Duration

	dir        directory.Directory
	sender     transport.Sender
	completer  llm.Completer
	improver   Improver
	gate       PaymentGate
	tools      ToolInvoker
	convlog    convlog.Logger
	onEnvelope func(env *envelope.Envelope)
	log        zerolog.Logger
}

// NewDispatcher validates opts and returns a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("router: config is required")
	}
	if opts.Config.Agent.ID == "" {
		return nil, fmt.Errorf("router: agent id is required")
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("router: directory is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("router: sender is required")
	}
	system := opts.Config.Agent.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	cl := opts.ConvLog
	if cl == nil {
		cl = convlog.Nop{}
	}
	timeout := opts.Config.Server.SendTimeout
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	return &Dispatcher{
		agentID:     opts.Config.Agent.ID,
		maxDepth:    opts.Config.Agent.MaxDepth,
		charge:      opts.Config.Agent.ServiceCharge,
		system:      system,
		sendTimeout: timeout,
		dir:         opts.Directory,
		sender:      opts.Sender,
		completer:   opts.Completer,
		improver:    opts.Improver,
		gate:        opts.Gate,
		tools:       opts.Tools,
		convlog:     cl,
		onEnvelope:  opts.OnEnvelope,
		log:         opts.Logger,
	}, nil
}

// AgentID returns the identity this dispatcher routes for.
func (d *Dispatcher) AgentID() string {
	return d.agentID
}

// say prefixes a reply with this agent's id.
func (d *Dispatcher) say(format string, args ...any) string {
	return "[" + d.agentID + "] " + fmt.Sprintf(format, args...)
}

// Route handles one line of text at the given hop depth and returns the
// reply. It never fails; every problem is reported in the text.
func (d *Dispatcher) Route(ctx context.Context, text, conversationID string, depth int) string {
	d.logEntry(ctx, conversationID, convlog.SourceUser, strings.TrimSpace(text), nil)
	dec := Classify(text)
	metrics.RoutesTotal.WithLabelValues(dec.Kind().String()).Inc()
	d.log.Debug().Str("kind", dec.Kind().String()).Str("conversation", conversationID).Int("depth", depth).Msg("router: route")

	switch r := dec.(type) {
	case AgentMessage:
		return d.routeAgent(ctx, r, conversationID, depth)
	case ToolQuery:
		return d.routeTool(ctx, r)
	case Command:
		return d.runCommand(ctx, r)
	case PlainPrompt:
		if r.Body == "" {
			return d.HelpText()
		}
		return d.complete(ctx, r.Body, d.system)
	case Malformed:
		if r.Syntax == KindTool {
			return d.say("Invalid format. Use '#registry_provider:mcp_server_name query'")
		}
		return d.say("Invalid format. Use '@agent_id message'")
	default:
		return d.say("Unroutable message")
	}
}

func (d *Dispatcher) routeAgent(ctx context.Context, m AgentMessage, conversationID string, depth int) string {
	if depth >= d.maxDepth {
		metrics.SendsTotal.WithLabelValues("max_depth").Inc()
		return d.say("Maximum depth reached (depth=%d)", depth)
	}

	addr, ok, err := d.dir.Lookup(ctx, m.Target)
	if err != nil {
		metrics.SendsTotal.WithLabelValues("error").Inc()
		return d.say("Error looking up agent '%s': %v", m.Target, err)
	}
	if !ok {
		metrics.SendsTotal.WithLabelValues("not_found").Inc()
		return d.say("Agent '%s' not found in registry", m.Target)
	}

	// Only a paid target's body is searched for a receipt reference; every
	// other body goes out as typed.
	body := m.Body
	receipt := ""
	if d.gate != nil {
		q := d.gate.CheckRequirement(ctx, m.Target)
		if q.State == payment.Required {
			receipt, body = payment.ExtractReceipt(body)
			if receipt == "" {
				metrics.SendsTotal.WithLabelValues("payment_required").Inc()
				return d.say("%s", payment.RequiredText(q))
			}
		}
	}

	if d.improver != nil {
		improved, err := d.improver.Improve(ctx, body)
		if err != nil {
			d.log.Warn().Err(err).Str("target", m.Target).Msg("router: improver failed, sending original")
		} else if strings.TrimSpace(improved) != "" {
			body = improved
		}
	}

	env, err := envelope.New(d.agentID, m.Target, body, envelope.Opts{
		ConversationID: conversationID,
		Depth:          depth,
		MaxDepth:       d.maxDepth,
		Type:           envelope.TypeQuery,
		ReceiptID:      receipt,
	})
	if err != nil {
		return d.say("Error sending to %s: %v", m.Target, err)
	}

	reply, err := d.send(ctx, addr, env, nil)
	if err != nil {
		return d.say("Error sending to %s: %v", m.Target, err)
	}

	if payment.IsPaymentRequired(reply) {
		if d.gate == nil {
			return d.say("%s: %s", m.Target, reply.Text())
		}
		p := d.gate.Pay(ctx, reply, m.Target, body)
		if p.State != payment.Completed {
			d.log.Warn().Str("target", m.Target).Str("flow", p.Flow.String()).Msg("router: payment failed")
			return d.say("%s", p.Text)
		}
		d.log.Info().Str("target", m.Target).Int("amount", p.Amount).Str("receipt", p.ReceiptID).Msg("router: paid, retrying")

		env.ReceiptID = p.ReceiptID
		proof := payment.SubmittedMessage(body, p.ReceiptID, p.Network)
		reply, err = d.send(ctx, addr, env, proof.Metadata)
		if err != nil {
			return d.say("Error sending to %s: %v", m.Target, err)
		}
	}

	d.logEntry(ctx, conversationID, convlog.SourcePeer, reply.Text(), map[string]any{"from_agent": m.Target})
	return d.say("%s: %s", m.Target, reply.Text())
}

// send delivers env to addr, bounded by the send timeout.
func (d *Dispatcher) send(ctx context.Context, addr string, env *envelope.Envelope, meta map[string]any) (transport.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	msg := transport.NewMessage(transport.RoleUser, envelope.Format(env), env.ConversationID)
	for k, v := range meta {
		msg.SetMeta(k, v)
	}
	d.logEntry(ctx, env.ConversationID, convlog.SourceAgent, env.Text, map[string]any{"to_agent": env.ToAgent, "depth": env.Depth})

	start := time.Now()
	reply, err := d.sender.Send(ctx, addr, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SendsTotal.WithLabelValues("error").Inc()
		d.log.Warn().Err(err).Str("target", env.ToAgent).Str("address", addr).Msg("router: send failed")
		return transport.Message{}, err
	}
	metrics.SendsTotal.WithLabelValues("ok").Inc()
	d.log.Info().Str("target", env.ToAgent).Int("depth", env.Depth).Bool("receipt", env.ReceiptID != "").Msg("router: sent")
	return reply, nil
}

func (d *Dispatcher) routeTool(ctx context.Context, q ToolQuery) string {
	if d.tools == nil {
		return d.say("Tool queries are not configured")
	}
	out, err := d.tools.Query(ctx, q.Provider, q.Server, q.Body)
	if errors.Is(err, tools.ErrServerNotFound) {
		return d.say("MCP server '%s' not found in registry", q.Server)
	}
	if err != nil {
		d.log.Warn().Err(err).Str("provider", q.Provider).Str("server", q.Server).Msg("router: tool query failed")
		return d.say("Error querying %s:%s: %v", q.Provider, q.Server, err)
	}
	return d.say("%s", out)
}

func (d *Dispatcher) runCommand(ctx context.Context, c Command) string {
	switch c.Name {
	case "help":
		return d.HelpText()
	case "query":
		if c.Args == "" {
			return d.say("Usage: /query <question>")
		}
		return d.complete(ctx, c.Args, querySystemPrompt)
	default:
		return d.say("Unknown command '%s'. Try /help", c.Name)
	}
}

func (d *Dispatcher) complete(ctx context.Context, prompt, system string) string {
	if d.completer == nil {
		return d.say("LLM handler not configured")
	}
	res := d.completer.Complete(ctx, prompt, system)
	if !res.OK() {
		d.log.Warn().Err(res.Err).Msg("router: completion failed")
		return d.say("Error querying LLM: %v", res.Err)
	}
	return d.say("%s", res.Text)
}

// HelpText lists the text commands.
func (d *Dispatcher) HelpText() string {
	return d.say(`Available commands:
  /help - Show this message
  /query <question> - Ask the LLM directly (no agent routing)
  @<agent_id> <message> - Send message to another agent
  #<provider>:<server> <query> - Query a registered MCP server

Examples:
  @agent_b What is the capital of France?
  /query Explain the A2A protocol
  #smithery:weather Forecast for Oslo
  /help`)
}

func (d *Dispatcher) logEntry(ctx context.Context, conversationID, source, text string, meta map[string]any) {
	if conversationID == "" {
		return
	}
	err := d.convlog.Log(ctx, convlog.Entry{
		AgentID:        d.agentID,
		ConversationID: conversationID,
		Source:         source,
		Message:        text,
		Metadata:       meta,
	})
	if err != nil {
		d.log.Warn().Err(err).Msg("router: conversation log")
	}
}
