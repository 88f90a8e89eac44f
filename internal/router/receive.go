package router

import (
	"context"
	"fmt"

	"github.com/zulandar/junction/internal/convlog"
	"github.com/zulandar/junction/internal/envelope"
	"github.com/zulandar/junction/internal/metrics"
	"github.com/zulandar/junction/internal/payment"
	"github.com/zulandar/junction/internal/transport"
)

// peerPromptFormat frames a peer's message for the LLM.
const peerPromptFormat = "Another agent, %s, sent you this message. Reply to it directly.\n\n%s"

// Receive answers an inbound A2A message. Peer envelopes go through the
// depth and payment checks; any other text is routed at depth 0.
func (d *Dispatcher) Receive(ctx context.Context, msg transport.Message) transport.Message {
	text := msg.Text()
	conversationID := msg.ConversationID

	env, ok := envelope.Parse(text)
	if !ok {
		if conversationID == "" {
			conversationID = transport.NewConversationID()
		}
		msg.ConversationID = conversationID
		if envelope.IsEnvelope(text) {
			d.log.Warn().Str("conversation", conversationID).Msg("router: malformed envelope")
			return msg.Reply(d.say("Malformed message envelope"))
		}
		return msg.Reply(d.Route(ctx, text, conversationID, 0))
	}

	if conversationID == "" {
		conversationID = env.ConversationID
	}
	if conversationID == "" {
		conversationID = transport.NewConversationID()
	}
	env.ConversationID = conversationID
	msg.ConversationID = conversationID

	d.logEntry(ctx, conversationID, convlog.SourcePeer, env.Text, map[string]any{
		"from_agent": env.FromAgent,
		"depth":      env.Depth,
		"type":       string(env.Type),
	})
	d.log.Info().Str("from", env.FromAgent).Int("depth", env.Depth).Int("max_depth", env.MaxDepth).Msg("router: envelope received")
	if d.onEnvelope != nil {
		d.onEnvelope(env)
	}

	if env.AtCeiling() {
		metrics.EnvelopesReceived.WithLabelValues("max_depth").Inc()
		return d.peerReply(msg, env, d.say("Response logged (max depth %d reached)", env.MaxDepth))
	}

	var auth payment.Authorization
	if d.gate != nil && d.charge > 0 {
		auth = d.gate.Authorize(ctx, payment.AuthRequest{
			From:      env.FromAgent,
			Text:      env.Text,
			ReceiptID: env.ReceiptID,
			Charge:    d.charge,
		})
		if !auth.Allowed {
			disposition := "payment_required"
			if payment.StatusOf(auth.Reply) == payment.StatusFailed {
				disposition = "payment_failed"
			}
			metrics.EnvelopesReceived.WithLabelValues(disposition).Inc()
			r := auth.Reply
			r.ConversationID = conversationID
			r.ParentMessageID = msg.MessageID
			return r
		}
	}

	metrics.EnvelopesReceived.WithLabelValues("answered").Inc()
	reply := d.peerReply(msg, env, d.answerPeer(ctx, env))
	if auth.TransactionID != "" {
		reply = payment.CompletedMessage(reply, auth.TransactionID, auth.Network, env.FromAgent)
	}
	return reply
}

// answerPeer produces this agent's answer to a peer. Commands in the body
// are routed one hop deeper.
func (d *Dispatcher) answerPeer(ctx context.Context, env *envelope.Envelope) string {
	if dec := Classify(env.Text); dec.Kind() != KindPrompt {
		return d.Route(ctx, env.Text, env.ConversationID, env.Depth+1)
	}
	if d.completer == nil {
		return d.say("Received from %s: %s", env.FromAgent, env.Text)
	}
	res := d.completer.Complete(ctx, fmt.Sprintf(peerPromptFormat, env.FromAgent, env.Text), d.system)
	if !res.OK() {
		d.log.Warn().Err(res.Err).Str("from", env.FromAgent).Msg("router: completion for peer failed")
		return d.say("Received from %s: %s", env.FromAgent, env.Text)
	}
	d.logEntry(ctx, env.ConversationID, convlog.SourceLLM, res.Text, nil)
	return res.Text
}

func (d *Dispatcher) peerReply(msg transport.Message, env *envelope.Envelope, text string) transport.Message {
	r := msg.Reply(text)
	r.SetMeta("from_agent", d.agentID)
	r.SetMeta("to_agent", env.FromAgent)
	r.SetMeta("depth", env.Depth+1)
	return r
}
