package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/llm"
)

// --- fakes ---

type fakeToolDir struct {
	servers map[string]directory.ToolServer
	err     error
}

func (f *fakeToolDir) RegisterTool(ctx context.Context, s directory.ToolServer) error {
	f.servers[s.Key()] = s
	return nil
}

func (f *fakeToolDir) LookupTool(ctx context.Context, provider, name string) (directory.ToolServer, bool, error) {
	if f.err != nil {
		return directory.ToolServer{}, false, f.err
	}
	s, ok := f.servers[provider+":"+name]
	return s, ok, nil
}

func (f *fakeToolDir) ListTools(ctx context.Context) ([]directory.ToolServer, error) {
	var out []directory.ToolServer
	for _, s := range f.servers {
		out = append(out, s)
	}
	return out, nil
}

type fakeSession struct {
	tools  []llm.Tool
	calls  []string
	closed bool
}

func (s *fakeSession) Tools(ctx context.Context) ([]llm.Tool, error) { return s.tools, nil }

func (s *fakeSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	s.calls = append(s.calls, name)
	return "sunny in " + args["city"].(string), nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	sess     *fakeSession
	endpoint string
	err      error
	hang     bool // block until ctx ends
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint, transport string) (Session, error) {
	d.endpoint = endpoint
	if d.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

// scriptedRunner calls the first tool once and reports what it returned.
type scriptedRunner struct{}

func (scriptedRunner) RunTools(ctx context.Context, prompt string, tools []llm.Tool, call llm.ToolCaller) llm.Result {
	if len(tools) == 0 {
		return llm.Fail(errors.New("no tools"))
	}
	out, err := call(ctx, tools[0].Name, json.RawMessage(`{"city":"Lima"}`))
	if err != nil {
		return llm.Fail(err)
	}
	return llm.Ok(prompt + " -> " + out)
}

func newInvoker(t *testing.T, dir *fakeToolDir, d Dialer) *Invoker {
	t.Helper()
	inv, err := NewInvoker(InvokerOpts{Tools: dir, Dialer: d, Runner: scriptedRunner{}, SmitheryAPIKey: "sk", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

// --- Endpoint tests ---

func TestEndpoint_Plain(t *testing.T) {
	got, err := Endpoint(directory.ToolServer{Provider: "local", Name: "x", Endpoint: "http://localhost:9000/mcp"}, "sk")
	if err != nil || got != "http://localhost:9000/mcp" {
		t.Errorf("Endpoint = %q, %v", got, err)
	}
}

func TestEndpoint_Smithery(t *testing.T) {
	s := directory.ToolServer{
		Provider: ProviderSmithery,
		Name:     "weather",
		Endpoint: "https://server.smithery.ai/weather/mcp",
		Config:   map[string]any{"units": "metric"},
	}
	got, err := Endpoint(s, "sk-123")
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("api_key") != "sk-123" {
		t.Errorf("api_key = %q", u.Query().Get("api_key"))
	}
	raw, err := base64.StdEncoding.DecodeString(u.Query().Get("config"))
	if err != nil {
		t.Fatalf("config is not base64: %v", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil || cfg["units"] != "metric" {
		t.Errorf("config = %s, %v", raw, err)
	}
	if !strings.HasPrefix(got, "https://server.smithery.ai/weather/mcp?") {
		t.Errorf("Endpoint = %q", got)
	}
}

func TestEndpoint_SmitheryEmptyConfig(t *testing.T) {
	got, _ := Endpoint(directory.ToolServer{Provider: ProviderSmithery, Endpoint: "https://s.example/mcp"}, "")
	u, _ := url.Parse(got)
	if u.Query().Has("api_key") {
		t.Error("api_key should be omitted without a key")
	}
	raw, _ := base64.StdEncoding.DecodeString(u.Query().Get("config"))
	if string(raw) != "{}" {
		t.Errorf("config = %s, want {}", raw)
	}
}

// --- Invoker tests ---

func TestNewInvoker_Validation(t *testing.T) {
	if _, err := NewInvoker(InvokerOpts{Runner: scriptedRunner{}}); err == nil {
		t.Error("expected error without tool directory")
	}
	if _, err := NewInvoker(InvokerOpts{Tools: &fakeToolDir{}}); err == nil {
		t.Error("expected error without runner")
	}
}

func TestInvoker_Query(t *testing.T) {
	dir := &fakeToolDir{servers: map[string]directory.ToolServer{
		"local:weather": {Provider: "local", Name: "weather", Endpoint: "http://tools.local/mcp"},
	}}
	sess := &fakeSession{tools: []llm.Tool{{Name: "forecast"}}}
	d := &fakeDialer{sess: sess}

	got, err := newInvoker(t, dir, d).Query(context.Background(), "local", "weather", "forecast?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "forecast? -> sunny in Lima" {
		t.Errorf("Query = %q", got)
	}
	if d.endpoint != "http://tools.local/mcp" {
		t.Errorf("dialed %q", d.endpoint)
	}
	if len(sess.calls) != 1 || sess.calls[0] != "forecast" {
		t.Errorf("calls = %v", sess.calls)
	}
	if !sess.closed {
		t.Error("session should be closed")
	}
}

func TestInvoker_NotFound(t *testing.T) {
	dir := &fakeToolDir{servers: map[string]directory.ToolServer{}}
	d := &fakeDialer{}
	_, err := newInvoker(t, dir, d).Query(context.Background(), "smithery", "nope", "q")
	if !errors.Is(err, ErrServerNotFound) {
		t.Errorf("err = %v, want ErrServerNotFound", err)
	}
	if d.endpoint != "" {
		t.Error("should not dial on a miss")
	}
}

func TestInvoker_DialError(t *testing.T) {
	dir := &fakeToolDir{servers: map[string]directory.ToolServer{
		"local:x": {Provider: "local", Name: "x", Endpoint: "http://down"},
	}}
	_, err := newInvoker(t, dir, &fakeDialer{err: errors.New("refused")}).Query(context.Background(), "local", "x", "q")
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Errorf("err = %v", err)
	}
}

func TestInvoker_Timeout(t *testing.T) {
	dir := &fakeToolDir{servers: map[string]directory.ToolServer{
		"local:slow": {Provider: "local", Name: "slow", Endpoint: "http://slow"},
	}}
	inv, err := NewInvoker(InvokerOpts{Tools: dir, Dialer: &fakeDialer{hang: true}, Runner: scriptedRunner{}, Timeout: 20 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, err = inv.Query(context.Background(), "local", "slow", "q")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Query took %v", elapsed)
	}
}

func TestNewInvoker_DefaultTimeout(t *testing.T) {
	inv := newInvoker(t, &fakeToolDir{}, &fakeDialer{})
	if inv.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", inv.timeout, DefaultTimeout)
	}
}

// --- MCP session tests ---

func newWeatherServer(t *testing.T) string {
	t.Helper()
	s := server.NewMCPServer("weather", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("forecast",
			mcp.WithDescription("Forecast for a city"),
			mcp.WithString("city", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			city := req.GetString("city", "")
			if city == "" {
				return mcp.NewToolResultError("city is required"), nil
			}
			return mcp.NewToolResultText("sunny in " + city), nil
		},
	)
	srv := server.NewTestStreamableHTTPServer(s)
	t.Cleanup(srv.Close)
	return srv.URL + "/mcp"
}

func TestMCPDialer_ListAndCall(t *testing.T) {
	ctx := context.Background()
	sess, err := MCPDialer{}.Dial(ctx, newWeatherServer(t), directory.TransportHTTP)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	tools, err := sess.Tools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0].Name != "forecast" {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].Schema["type"] != "object" {
		t.Errorf("schema = %v", tools[0].Schema)
	}

	got, err := sess.Call(ctx, "forecast", map[string]any{"city": "Quito"})
	if err != nil || got != "sunny in Quito" {
		t.Errorf("Call = %q, %v", got, err)
	}

	if _, err := sess.Call(ctx, "forecast", map[string]any{}); err == nil {
		t.Error("expected tool error to surface")
	}
}

func TestCallJSON(t *testing.T) {
	var out struct{ Status string }
	s := &jsonSession{text: `{"status":"completed"}`}
	if err := CallJSON(context.Background(), s, "x", nil, &out); err != nil || out.Status != "completed" {
		t.Errorf("CallJSON = %+v, %v", out, err)
	}
	s.text = "not json"
	if err := CallJSON(context.Background(), s, "x", nil, &out); err == nil {
		t.Error("expected decode error")
	}
}

func TestMCPDialer_UnknownTransport(t *testing.T) {
	if _, err := (MCPDialer{}).Dial(context.Background(), "http://x", "carrier-pigeon"); err == nil {
		t.Fatal("expected error")
	}
}

type jsonSession struct{ text string }

func (s *jsonSession) Tools(ctx context.Context) ([]llm.Tool, error) { return nil, nil }
func (s *jsonSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	return s.text, nil
}
func (s *jsonSession) Close() error { return nil }
