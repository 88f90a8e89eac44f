// Package discord connects the chat bridge to Discord over the Gateway.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/telegraph"
)

const (
	platform = "discord"

	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 2 * time.Minute
	// maxMessageLen is Discord's per-message content limit.
	maxMessageLen = 2000

	intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
)

// session is the subset of *discordgo.Session the adapter calls.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// gatewaySession adapts *discordgo.Session; channel lookups use the state
// cache rather than a REST call.
type gatewaySession struct{ *discordgo.Session }

func (g gatewaySession) Channel(channelID string) (*discordgo.Channel, error) {
	return g.State.Channel(channelID)
}

// Adapter is a telegraph.Adapter for one Discord bot.
type Adapter struct {
	sess      session
	botToken  string
	channelID string
	log       zerolog.Logger
	retry     telegraph.RetryPolicy

	mu            sync.RWMutex
	botUserID     string
	connected     bool
	closed        bool
	removeHandler func()
	inbound       chan telegraph.InboundMessage
	done          chan struct{}
	closeOnce     sync.Once
}

// AdapterOpts holds parameters for New. Session replaces the real gateway
// session in tests.
type AdapterOpts struct {
	BotToken  string
	ChannelID string // default channel for replies without one
	Logger    zerolog.Logger
	Session   session
}

// New validates opts and returns an unconnected Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	a := &Adapter{
		sess:      opts.Session,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		log:       opts.Logger,
		inbound:   make(chan telegraph.InboundMessage, 100),
		done:      make(chan struct{}),
	}
	a.retry = telegraph.RetryPolicy{
		Retries:    maxRetries,
		Base:       baseBackoff,
		Max:        maxBackoff,
		RetryAfter: tooManyRequests,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			a.log.Warn().Int("attempt", attempt).Dur("wait", wait).Msg("discord: rate limited")
		},
	}
	return a, nil
}

// tooManyRequests matches REST 429 responses. discordgo does not surface a
// retry hint, so the policy's backoff applies.
func tooManyRequests(err error) (time.Duration, bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return 0, false
	}
	return 0, restErr.Response.StatusCode == http.StatusTooManyRequests
}

// Connect opens the Gateway. discordgo handles reconnects after that.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return fmt.Errorf("discord: adapter already closed")
	case a.connected:
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = intents
		a.sess = gatewaySession{dg}
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.SetBotUserID(r.User.ID)
		a.log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("discord: connected")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.log.Warn().Msg("discord: gateway disconnected")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Listen subscribes to message events and returns the inbound stream.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	a.removeHandler = a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	return a.inbound, nil
}

// Send posts msg.Text in parts no longer than Discord allows.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return fmt.Errorf("discord: not connected")
	}

	channelID := a.target(msg)
	if channelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}
	for _, part := range telegraph.SplitText(msg.Text, maxMessageLen) {
		err := telegraph.Retry(ctx, a.retry, func() error {
			_, err := a.sess.ChannelMessageSend(channelID, part)
			return err
		})
		if err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// target picks where a reply goes. Threads are channels in Discord, so a
// thread id wins over its parent.
func (a *Adapter) target(msg telegraph.OutboundMessage) string {
	for _, id := range []string{msg.ThreadID, msg.ChannelID, a.channelID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// Close closes the gateway and the inbound stream. Safe to call more than
// once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed, a.connected = true, false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's user id once Ready has arrived.
func (a *Adapter) BotUserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botUserID
}

// SetBotUserID records the bot's own id for self-message filtering.
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// handleMessage delivers one gateway message. The read lock is held across
// the send so Close cannot close the stream underneath it.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || m.Author == nil || m.Author.Bot || m.Author.ID == a.botUserID {
		return
	}

	channelID, threadID := m.ChannelID, ""
	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		channelID, threadID = ch.ParentID, m.ChannelID
	}
	mention := ""
	if a.botUserID != "" {
		mention = "<@" + a.botUserID + ">"
	}
	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	msg := telegraph.InboundMessage{
		Platform:  platform,
		ChannelID: channelID,
		ThreadID:  threadID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      telegraph.StripMention(m.Content, mention),
		Timestamp: ts,
	}
	select {
	case a.inbound <- msg:
	case <-a.done:
	}
}
