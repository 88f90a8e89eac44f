package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/junction/internal/telegraph"
)

// Compile-time interface compliance checks.
var _ telegraph.Adapter = (*Adapter)(nil)
var _ telegraph.BotUserIDer = (*Adapter)(nil)

// --- Mock session ---

type mockSession struct {
	mu          sync.Mutex
	opened      bool
	closeCalled bool
	openErr     error
	sent        []sentMessage
	sendErrs    []error // returned in order, then nil
	handlers    []interface{}
	removed     int
	channels    map[string]*discordgo.Channel
}

type sentMessage struct {
	channelID string
	content   string
}

func newMockSession() *mockSession {
	return &mockSession{channels: make(map[string]*discordgo.Channel)}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) Channel(channelID string) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("channel not found: %s", channelID)
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		return nil, err
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: content}, nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removed++
	}
}

// fireReady invokes the registered Ready handler.
func (m *mockSession) fireReady(userID string) {
	m.mu.Lock()
	hs := append([]interface{}(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range hs {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.Ready)); ok {
			fn(nil, &discordgo.Ready{User: &discordgo.User{ID: userID, Username: "junction"}})
		}
	}
}

// --- Helpers ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()
	a, err := New(AdapterOpts{Session: sess, ChannelID: "C_DEFAULT"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, sess
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

// --- New / Connect tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestConnect_OpensAndCapturesBotID(t *testing.T) {
	a, sess := newTestAdapter(t)
	if !sess.opened {
		t.Error("session not opened")
	}
	sess.fireReady("BOT1")
	if a.BotUserID() != "BOT1" {
		t.Errorf("bot id = %q", a.BotUserID())
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Errorf("second connect: %v", err)
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = errors.New("bad token")
	a, _ := New(AdapterOpts{Session: sess})
	if err := a.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "open gateway") {
		t.Errorf("err = %v", err)
	}
}

// --- Listen / handleMessage tests ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandleMessage_ChannelAndThread(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.SetBotUserID("BOT1")
	sess.channels["T9"] = &discordgo.Channel{ID: "T9", ParentID: "C1", Type: discordgo.ChannelTypeGuildPublicThread}
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "C1", Content: "<@BOT1> @agent_b hi", Author: &discordgo.User{ID: "U1", Username: "alice"},
	}})
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "T9", Content: "in thread", Author: &discordgo.User{ID: "U1", Username: "alice"},
	}})

	first, second := <-ch, <-ch
	if first.ChannelID != "C1" || first.ThreadID != "" || first.Text != "@agent_b hi" || first.UserName != "alice" {
		t.Errorf("first = %+v", first)
	}
	if second.ChannelID != "C1" || second.ThreadID != "T9" {
		t.Errorf("second = %+v", second)
	}
	if first.ConversationID() != "discord:C1" || second.ConversationID() != "discord:C1:T9" {
		t.Errorf("conversations = %q, %q", first.ConversationID(), second.ConversationID())
	}
}

func TestHandleMessage_Filters(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.SetBotUserID("BOT1")
	ch, _ := a.Listen(context.Background())

	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "1", Content: "no author"}})
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "2", Content: "self", Author: &discordgo.User{ID: "BOT1"}}})
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "3", Content: "bot", Author: &discordgo.User{ID: "B2", Bot: true}}})
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "4", ChannelID: "C1", Content: "kept", Author: &discordgo.User{ID: "U1"}}})

	select {
	case msg := <-ch:
		if msg.Text != "kept" {
			t.Errorf("delivered %q, want kept", msg.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing delivered")
	}
	if len(ch) != 0 {
		t.Errorf("%d extra messages delivered", len(ch))
	}
}

// --- Send tests ---

func TestSend_ThreadWinsOverChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	ctx := context.Background()
	a.Send(ctx, telegraph.OutboundMessage{ChannelID: "C1", ThreadID: "T9", Text: "a"})
	a.Send(ctx, telegraph.OutboundMessage{ChannelID: "C1", Text: "b"})
	a.Send(ctx, telegraph.OutboundMessage{Text: "c"})

	want := []string{"T9", "C1", "C_DEFAULT"}
	for i, w := range want {
		if sess.sent[i].channelID != w {
			t.Errorf("send %d went to %q, want %q", i, sess.sent[i].channelID, w)
		}
	}
}

func TestSend_SplitsLongMessages(t *testing.T) {
	a, sess := newTestAdapter(t)
	long := strings.Repeat("x", maxMessageLen) + "\n" + "tail"
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: long}); err != nil {
		t.Fatal(err)
	}
	if len(sess.sent) != 2 || sess.sent[1].content != "tail" {
		t.Errorf("sent %d parts", len(sess.sent))
	}
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.retry.Base = time.Millisecond
	sess.sendErrs = []error{rateLimited(), rateLimited()}
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(sess.sent))
	}
}

func TestSend_Errors(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1"}); err == nil {
		t.Error("expected error when not connected")
	}

	b, sess := newTestAdapter(t)
	sess.sendErrs = []error{errors.New("missing access")}
	if err := b.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}); err == nil {
		t.Error("expected non rate-limit error to surface")
	}
}

// --- rate limit tests ---

func TestTooManyRequests(t *testing.T) {
	if _, ok := tooManyRequests(errors.New("missing access")); ok {
		t.Error("plain error treated as rate limit")
	}
	if _, ok := tooManyRequests(&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}); ok {
		t.Error("403 treated as rate limit")
	}
	if _, ok := tooManyRequests(fmt.Errorf("send: %w", rateLimited())); !ok {
		t.Error("wrapped 429 not recognised")
	}
}

func TestTarget(t *testing.T) {
	a, _ := newTestAdapter(t)
	tests := []struct {
		msg  telegraph.OutboundMessage
		want string
	}{
		{telegraph.OutboundMessage{ChannelID: "C1", ThreadID: "T1"}, "T1"},
		{telegraph.OutboundMessage{ChannelID: "C1"}, "C1"},
		{telegraph.OutboundMessage{}, "C_DEFAULT"},
	}
	for _, tt := range tests {
		if got := a.target(tt.msg); got != tt.want {
			t.Errorf("target(%+v) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

// --- Close tests ---

func TestClose(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Listen(context.Background())
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if !sess.closeCalled || sess.removed != 1 {
		t.Errorf("closeCalled=%v removed=%d", sess.closeCalled, sess.removed)
	}
	if err := a.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}
