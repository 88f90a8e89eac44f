package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/payment"
	"github.com/zulandar/junction/internal/server"
	"github.com/zulandar/junction/internal/transport"
)

type pongReceiver struct{}

func (pongReceiver) Receive(ctx context.Context, msg transport.Message) transport.Message {
	return msg.Reply("pong: " + msg.Text())
}

func (pongReceiver) AgentID() string { return "agent_b" }

type nopSettler struct{}

func (nopSettler) Settle(ctx context.Context, req payment.SettleRequest) (payment.SettleResult, error) {
	return payment.SettleResult{}, nil
}

func (nopSettler) Receipt(ctx context.Context, id string) (payment.ReceiptResult, error) {
	return payment.ReceiptResult{}, nil
}

// --- send tests ---

func TestSendCmd_Help(t *testing.T) {
	out, err := run(t, "send", "/help", "-c", writeConfig(t, ""))
	if err != nil {
		t.Fatalf("send /help: %v", err)
	}
	if !strings.HasPrefix(out, "[agent_a] Available commands:") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSendCmd_RequiresText(t *testing.T) {
	if _, err := run(t, "send"); err == nil {
		t.Error("expected error without text")
	}
}

func TestSendCmd_MissingConfig(t *testing.T) {
	_, err := run(t, "send", "hi", "-c", "/nonexistent/junction.yaml")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("expected load config error, got: %v", err)
	}
}

func TestSendCmd_ToPeer(t *testing.T) {
	handler, err := server.NewHandler(server.StartOpts{Receiver: pongReceiver{}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	peer := httptest.NewServer(handler)
	defer peer.Close()

	cfg := writeConfig(t, "")
	if out, err := run(t, "directory", "register", "agent_b", peer.URL, "-c", cfg); err != nil {
		t.Fatalf("register: %v\n%s", err, out)
	}

	out, err := run(t, "send", "@agent_b", "hello", "there", "-c", cfg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "[agent_a] agent_b:") || !strings.Contains(out, "pong:") {
		t.Errorf("unexpected reply: %s", out)
	}
}

func TestSendCmd_UnknownPeer(t *testing.T) {
	out, err := run(t, "send", "@ghost", "hello", "-c", writeConfig(t, ""))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "ghost") {
		t.Errorf("expected reply naming the unknown agent, got: %s", out)
	}
}

// --- agent assembly tests ---

func TestBuildAgent_Minimal(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	a, err := buildAgent(context.Background(), agentOpts{Config: cfg, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("buildAgent: %v", err)
	}
	defer a.Close()

	if a.dispatcher.AgentID() != "agent_a" {
		t.Errorf("AgentID = %q", a.dispatcher.AgentID())
	}
	if a.stores.File == nil {
		t.Error("expected file store for file backend")
	}
}

func TestBuildAgent_WithPayment(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "payment:\n  enabled: true\n  settlement_url: http://127.0.0.1:1/mcp\n"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	a, err := buildAgent(context.Background(), agentOpts{Config: cfg, Logger: zerolog.Nop(), Settler: nopSettler{}})
	if err != nil {
		t.Fatalf("buildAgent: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestBuildAgent_DBSinkNeedsSQLBackend(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Log.Sink = "db"
	if _, err := buildAgent(context.Background(), agentOpts{Config: cfg, Logger: zerolog.Nop()}); err == nil {
		t.Error("expected error for db sink on file backend")
	}
}

// --- serve tests ---

func TestServeCmd_Help(t *testing.T) {
	out, err := run(t, "serve", "--help")
	if err != nil {
		t.Fatalf("serve --help: %v", err)
	}
	for _, want := range []string{"--listen", "--registry", "--config"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q: %s", want, out)
		}
	}
}

func TestRunServe_HeartbeatAndShutdown(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: 127.0.0.1:0\nheartbeat:\n  enabled: true\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	if err := runServe(ctx, cmd, cfg); err != nil {
		t.Fatalf("runServe: %v", err)
	}
	if !strings.Contains(buf.String(), "Agent agent_a stopped") {
		t.Errorf("expected stop line, got: %s", buf.String())
	}

	out, err := run(t, "directory", "lookup", "agent_a", "-c", path)
	if err != nil {
		t.Fatalf("heartbeat did not register the agent: %v", err)
	}
	if !strings.Contains(out, "URL:     http://127.0.0.1:0") {
		t.Errorf("unexpected lookup output: %s", out)
	}
}

func TestCreateAdapter_Unsupported(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Chat.Platform = "irc"
	if _, err := createAdapter(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for unsupported platform")
	}
}
