package telegraph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/envelope"
)

// announceQueue bounds envelope announcements waiting to be posted.
const announceQueue = 64

// sendTimeout bounds one post to the chat platform.
const sendTimeout = 15 * time.Second

// Router is the part of the dispatcher the bridge drives.
type Router interface {
	Route(ctx context.Context, text, conversationID string, depth int) string
	AgentID() string
}

// BridgeOpts holds parameters for NewBridge.
type BridgeOpts struct {
	Adapter Adapter
	Router  Router
	// ChannelID receives envelope announcements. Empty uses the adapter's
	// default channel.
	ChannelID string
	Logger    zerolog.Logger
}

// Bridge connects a chat platform to a Router.
type Bridge struct {
	adapter   Adapter
	router    Router
	channelID string
	log       zerolog.Logger
	announce  chan OutboundMessage
	wg        sync.WaitGroup
}

// NewBridge validates opts and returns a Bridge.
func NewBridge(opts BridgeOpts) (*Bridge, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("telegraph: router is required")
	}
	return &Bridge{
		adapter:   opts.Adapter,
		router:    opts.Router,
		channelID: opts.ChannelID,
		log:       opts.Logger,
		announce:  make(chan OutboundMessage, announceQueue),
	}, nil
}

// Announce queues an inbound peer envelope for posting as
// "FROM <agent>: <text>". It never blocks; when the queue is full the
// announcement is dropped.
func (b *Bridge) Announce(env *envelope.Envelope) {
	msg := OutboundMessage{
		ChannelID: b.channelID,
		Text:      "FROM " + env.FromAgent + ": " + env.Text,
	}
	select {
	case b.announce <- msg:
	default:
		b.log.Warn().Str("from", env.FromAgent).Msg("telegraph: announce queue full, dropping")
	}
}

// Run connects the adapter and pumps messages until ctx is cancelled or the
// adapter closes its inbound channel. In-flight replies finish before Run
// returns.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID string
	if bui, ok := b.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	inbound, err := b.adapter.Listen(ctx)
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}
	b.log.Info().Str("agent", b.router.AgentID()).Msg("telegraph: online")

	defer func() {
		b.wg.Wait()
		if err := b.adapter.Close(); err != nil {
			b.log.Warn().Err(err).Msg("telegraph: close adapter")
		}
		b.log.Info().Msg("telegraph: stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case out := <-b.announce:
			b.send(ctx, out)

		case msg, ok := <-inbound:
			if !ok {
				b.log.Info().Msg("telegraph: inbound channel closed")
				return nil
			}
			if botUserID != "" && msg.UserID == botUserID {
				continue
			}
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			b.wg.Add(1)
			go func(msg InboundMessage) {
				defer b.wg.Done()
				b.handle(ctx, msg)
			}(msg)
		}
	}
}

// handle routes one chat message and posts the reply in its thread.
func (b *Bridge) handle(ctx context.Context, msg InboundMessage) {
	b.log.Debug().Str("platform", msg.Platform).Str("user", msg.UserName).Str("channel", msg.ChannelID).Msg("telegraph: inbound")
	reply := b.router.Route(ctx, msg.Text, msg.ConversationID(), 0)
	b.send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Text:      reply,
	})
}

func (b *Bridge) send(ctx context.Context, out OutboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := b.adapter.Send(ctx, out); err != nil {
		b.log.Warn().Err(err).Str("channel", out.ChannelID).Msg("telegraph: send")
	}
}
