package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
agent:
  id: agent_a
  name: Agent A
  public_url: http://10.0.0.5:7000/
  service_charge: 10
  max_depth: 2
  system_prompt: "You are terse."

server:
  listen: ":7000"
  send_timeout: 5s
  registry: true

directory:
  backend: redis
  redis_url: redis://localhost:6379/0
  cache_ttl: 1m

llm:
  provider: anthropic
  model: claude-test
  max_tokens: 256
  api_key: sk-test
  improve: true

payment:
  enabled: true
  settlement_url: https://pay.example/mcp

log:
  level: debug
  format: json
  sink: db

heartbeat:
  enabled: true
  schedule: "*/1 * * * *"
`

const minimalYAML = `
agent:
  id: agent_b
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Agent.ID != "agent_a" {
		t.Errorf("Agent.ID = %q, want %q", cfg.Agent.ID, "agent_a")
	}
	if cfg.Agent.ServiceCharge != 10 {
		t.Errorf("Agent.ServiceCharge = %d, want 10", cfg.Agent.ServiceCharge)
	}
	if cfg.Agent.MaxDepth != 2 {
		t.Errorf("Agent.MaxDepth = %d, want 2", cfg.Agent.MaxDepth)
	}
	if cfg.AgentURL() != "http://10.0.0.5:7000" {
		t.Errorf("AgentURL() = %q, want trailing slash trimmed", cfg.AgentURL())
	}
	if cfg.Server.SendTimeout != 5*time.Second {
		t.Errorf("Server.SendTimeout = %v, want 5s", cfg.Server.SendTimeout)
	}
	if !cfg.Server.Registry {
		t.Error("Server.Registry = false, want true")
	}
	if cfg.Directory.Backend != BackendRedis {
		t.Errorf("Directory.Backend = %q, want redis", cfg.Directory.Backend)
	}
	if cfg.Directory.CacheTTL != time.Minute {
		t.Errorf("Directory.CacheTTL = %v, want 1m", cfg.Directory.CacheTTL)
	}
	if cfg.LLM.Model != "claude-test" || cfg.LLM.MaxTokens != 256 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Payment.Network != "base" {
		t.Errorf("Payment.Network = %q, want base (default)", cfg.Payment.Network)
	}
	if cfg.Log.Format != "json" || cfg.Log.Sink != "db" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Heartbeat.Schedule != "*/1 * * * *" {
		t.Errorf("Heartbeat.Schedule = %q", cfg.Heartbeat.Schedule)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Agent.Name != "agent_b" {
		t.Errorf("Agent.Name = %q, want %q (derived from id)", cfg.Agent.Name, "agent_b")
	}
	if cfg.Agent.MaxDepth != 1 {
		t.Errorf("Agent.MaxDepth = %d, want 1 (default)", cfg.Agent.MaxDepth)
	}
	if cfg.Server.Listen != ":6000" {
		t.Errorf("Server.Listen = %q, want :6000", cfg.Server.Listen)
	}
	if cfg.Server.SendTimeout != 30*time.Second {
		t.Errorf("Server.SendTimeout = %v, want 30s", cfg.Server.SendTimeout)
	}
	if cfg.Tools.Timeout != 2*time.Minute {
		t.Errorf("Tools.Timeout = %v, want 2m", cfg.Tools.Timeout)
	}
	if cfg.AgentURL() != "http://localhost:6000" {
		t.Errorf("AgentURL() = %q, want http://localhost:6000", cfg.AgentURL())
	}
	if cfg.Directory.Backend != BackendFile || cfg.Directory.Path != "registry.json" {
		t.Errorf("Directory = %+v, want file backend at registry.json", cfg.Directory)
	}
	if cfg.LLM.Provider != "none" {
		t.Errorf("LLM.Provider = %q, want none", cfg.LLM.Provider)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" || cfg.Log.Sink != "jsonl" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Heartbeat.Schedule != "*/5 * * * *" {
		t.Errorf("Heartbeat.Schedule = %q, want */5 * * * *", cfg.Heartbeat.Schedule)
	}
}

func TestParse_SQLiteDefaultPath(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  id: a\ndirectory:\n  backend: sqlite\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Directory.Path != "junction.db" {
		t.Errorf("Directory.Path = %q, want junction.db", cfg.Directory.Path)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"JUNCTION_AGENT_ID":       "from_env",
		"ANTHROPIC_API_KEY":       "sk-env",
		"SMITHERY_API_KEY":        "smith",
		"JUNCTION_SERVICE_CHARGE": "7",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg, err := parse([]byte("agent:\n  id: from_yaml\nllm:\n  provider: anthropic\n"), lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.ID != "from_env" {
		t.Errorf("Agent.ID = %q, want from_env", cfg.Agent.ID)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("LLM.APIKey = %q, want sk-env", cfg.LLM.APIKey)
	}
	if cfg.Tools.SmitheryAPIKey != "smith" {
		t.Errorf("Tools.SmitheryAPIKey = %q, want smith", cfg.Tools.SmitheryAPIKey)
	}
	if cfg.Agent.ServiceCharge != 7 {
		t.Errorf("Agent.ServiceCharge = %d, want 7", cfg.Agent.ServiceCharge)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing id", "agent:\n  name: x\n", "agent.id is required"},
		{"routing char in id", "agent:\n  id: \"a@b\"\n", "routing characters"},
		{"negative charge", "agent:\n  id: a\n  service_charge: -1\n", "service_charge must be non-negative"},
		{"unknown backend", "agent:\n  id: a\ndirectory:\n  backend: etcd\n", `directory.backend "etcd"`},
		{"redis without url", "agent:\n  id: a\ndirectory:\n  backend: redis\n", "redis_url is required"},
		{"http without url", "agent:\n  id: a\ndirectory:\n  backend: http\n", "directory.url is required"},
		{"llm without key", "agent:\n  id: a\nllm:\n  provider: openai\n", "llm.api_key is required"},
		{"unknown llm", "agent:\n  id: a\nllm:\n  provider: llama\n", `llm.provider "llama"`},
		{"improve without llm", "agent:\n  id: a\nllm:\n  improve: true\n", "llm.improve requires"},
		{"payment without url", "agent:\n  id: a\npayment:\n  enabled: true\n", "settlement_url is required"},
		{"bad log format", "agent:\n  id: a\nlog:\n  format: xml\n", `log.format "xml"`},
		{"slack without tokens", "agent:\n  id: a\nchat:\n  platform: slack\n  channel_id: C1\n", "slack requires"},
		{"chat without channel", "agent:\n  id: a\nchat:\n  platform: discord\n  bot_token: t\n", "chat.channel_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "config: validation failed") {
				t.Errorf("error = %q, want validation prefix", err.Error())
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParse_MultipleErrorsJoined(t *testing.T) {
	_, err := Parse([]byte("directory:\n  backend: nope\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected joined errors, got %q", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("agent: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junction.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JUNCTION_AGENT_ID", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.ID != "agent_b" {
		t.Errorf("Agent.ID = %q, want agent_b", cfg.Agent.ID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Fatalf("expected read error, got %v", err)
	}
}
