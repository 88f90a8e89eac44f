// Package slack connects the chat bridge to Slack over Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/junction/internal/telegraph"
)

const (
	platform = "slack"

	maxRetries           = 3
	baseBackoff          = 2 * time.Second
	maxBackoff           = 2 * time.Minute
	maxReconnectAttempts = 10

	userCacheSize = 512
	userCacheTTL  = time.Hour
)

// slackClient is the subset of the Web API the adapter calls.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient is the subset of the Socket Mode client the adapter drives.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

type socketModeClient struct{ *socketmode.Client }

func (c socketModeClient) EventsChan() chan socketmode.Event { return c.Events }

// Adapter is a telegraph.Adapter for one Slack workspace.
type Adapter struct {
	client    slackClient
	socket    socketClient
	appToken  string
	botToken  string
	channelID string
	log       zerolog.Logger
	users     *expirable.LRU[string, string]

	retry        telegraph.RetryPolicy
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int

	mu        sync.Mutex
	botUserID string
	connected bool
	closed    bool
	stop      context.CancelFunc
	inbound   chan telegraph.InboundMessage
}

// AdapterOpts holds parameters for New. Client and Socket replace the real
// Slack clients in tests.
type AdapterOpts struct {
	AppToken  string // xapp-... app-level token for Socket Mode
	BotToken  string // xoxb-... bot token
	ChannelID string // default channel for replies without one
	Logger    zerolog.Logger
	Client    slackClient
	Socket    socketClient
}

// New validates opts and returns an unconnected Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	a := &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		channelID:    opts.ChannelID,
		log:          opts.Logger,
		users:        expirable.NewLRU[string, string](userCacheSize, nil, userCacheTTL),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
		inbound:      make(chan telegraph.InboundMessage, 100),
	}
	a.retry = telegraph.RetryPolicy{
		Retries:    maxRetries,
		Base:       time.Second,
		Max:        maxBackoff,
		RetryAfter: rateLimited,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			a.log.Warn().Int("attempt", attempt).Dur("wait", wait).Msg("slack: rate limited")
		},
	}
	return a, nil
}

// rateLimited reports Slack's Retry-After hint for rate-limit errors.
func rateLimited(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if !errors.As(err, &rle) {
		return 0, false
	}
	return rle.RetryAfter, true
}

// Connect runs auth.test to learn the bot's user id.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return fmt.Errorf("slack: adapter already closed")
	case a.connected:
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = socketModeClient{socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	a.log.Debug().Str("bot", auth.UserID).Str("team", auth.Team).Msg("slack: authenticated")
	return nil
}

// Listen starts Socket Mode and returns the inbound message stream.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	ctx, a.stop = context.WithCancel(ctx)
	go a.runWithReconnect(ctx)
	go a.pumpEvents(ctx)
	return a.inbound, nil
}

// Send posts msg.Text, threaded under msg.ThreadID when set.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("slack: not connected")
	}
	channelID := msg.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.ThreadID != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ThreadID))
	}
	err := telegraph.Retry(ctx, a.retry, func() error {
		_, _, err := a.client.PostMessage(channelID, options...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close stops the event pump and closes the inbound stream. Safe to call
// more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed, a.connected = true, false
	if a.stop != nil {
		a.stop()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's user id once connected.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// runWithReconnect restarts Socket Mode with exponential backoff until it
// exits cleanly, ctx ends or the attempts run out.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil || ctx.Err() != nil {
			return
		}
		wait := telegraph.Backoff(attempt, a.baseBackoff, a.maxBackoff)
		a.log.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("slack: socket mode disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error().Int("attempts", a.maxReconnect).Msg("slack: socket mode reconnection exhausted")
}

func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		api, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if api.Type != slackevents.CallbackEvent {
			return
		}
		if msg, ok := a.inboundFrom(api.InnerEvent.Data); ok {
			select {
			case a.inbound <- msg:
			case <-ctx.Done():
			}
		}

	case socketmode.EventTypeConnected:
		a.log.Info().Msg("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		a.log.Warn().Interface("data", evt.Data).Msg("slack: connection error")
	}
}

// inboundFrom converts a callback event into an InboundMessage. Plain
// messages that mention the bot are skipped: Slack delivers them again as
// app_mention, which is where the mention is stripped.
func (a *Adapter) inboundFrom(data interface{}) (telegraph.InboundMessage, bool) {
	botID := a.BotUserID()
	mention := ""
	if botID != "" {
		mention = "<@" + botID + ">"
	}

	var channel, thread, ts, user, text string
	switch ev := data.(type) {
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" {
			return telegraph.InboundMessage{}, false
		}
		if mention != "" && strings.Contains(ev.Text, mention) {
			return telegraph.InboundMessage{}, false
		}
		channel, thread, ts, user, text = ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text
	case *slackevents.AppMentionEvent:
		channel, thread, ts, user = ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User
		text = telegraph.StripMention(ev.Text, mention)
	default:
		return telegraph.InboundMessage{}, false
	}
	if user == botID {
		return telegraph.InboundMessage{}, false
	}

	// A top-level message roots its own thread so the reply lands under it.
	if thread == "" {
		thread = ts
	}
	return telegraph.InboundMessage{
		Platform:  platform,
		ChannelID: channel,
		ThreadID:  thread,
		UserID:    user,
		UserName:  a.userName(user),
		Text:      text,
		Timestamp: parseSlackTimestamp(ts),
	}, true
}

// userName resolves a display name through a small expiring cache. Lookup
// failures fall back to the id and are not cached.
func (a *Adapter) userName(userID string) string {
	if userID == "" {
		return ""
	}
	if name, ok := a.users.Get(userID); ok {
		return name
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}
	a.users.Add(userID, name)
	return name
}

// parseSlackTimestamp reads the seconds part of "1234567890.123456".
func parseSlackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
