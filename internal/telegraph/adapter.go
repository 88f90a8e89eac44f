// Package telegraph bridges an agent to a chat platform (Slack, Discord).
// Chat text is routed like any other input and the reply is posted back to
// the same thread; inbound peer envelopes are announced on the channel.
package telegraph

import (
	"context"
	"time"
)

// Adapter is one chat platform connection. Listen is valid only after
// Connect; its channel closes when the adapter is closed.
type Adapter interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context) (<-chan InboundMessage, error)
	Send(ctx context.Context, msg OutboundMessage) error
	Close() error
}

// InboundMessage is a chat message addressed to the agent.
type InboundMessage struct {
	Platform  string // "slack" or "discord"
	ChannelID string
	// ThreadID is the thread a reply belongs in. Adapters set it to the
	// message itself for top-level messages on platforms that thread by
	// message (Slack).
	ThreadID  string
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}

// ConversationID is the conversation a chat message belongs to: one per
// platform thread.
func (m InboundMessage) ConversationID() string {
	id := m.Platform + ":" + m.ChannelID
	if m.ThreadID != "" {
		id += ":" + m.ThreadID
	}
	return id
}

// OutboundMessage is a reply or announcement. Empty ChannelID means the
// adapter's default channel; empty ThreadID posts at top level.
type OutboundMessage struct {
	ChannelID string
	ThreadID  string
	Text      string
}

// BotUserIDer is implemented by adapters that know the bot's own user id,
// so the bridge can ignore the bot's messages.
type BotUserIDer interface {
	BotUserID() string
}
