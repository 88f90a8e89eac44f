package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/llm"
)

// ErrServerNotFound is returned when provider:server is not registered.
var ErrServerNotFound = errors.New("tools: server not found")

// DefaultTimeout bounds one Query when InvokerOpts.Timeout is unset.
const DefaultTimeout = 2 * time.Minute

// Runner drives a model through a tool-use conversation.
type Runner interface {
	RunTools(ctx context.Context, prompt string, tools []llm.Tool, call llm.ToolCaller) llm.Result
}

// InvokerOpts holds the collaborators for NewInvoker.
type InvokerOpts struct {
	Tools          directory.ToolDirectory
	Dialer         Dialer
	Runner         Runner
	SmitheryAPIKey string
	// Timeout bounds the dial, tool listing and the whole model run.
	Timeout        time.Duration
	Logger         zerolog.Logger
}

// Invoker answers tool queries by letting a model call a server's tools.
type Invoker struct {
	tools   directory.ToolDirectory
	dialer  Dialer
	runner  Runner
	key     string
	timeout time.Duration
	log     zerolog.Logger
}

// NewInvoker validates opts and returns an Invoker.
func NewInvoker(opts InvokerOpts) (*Invoker, error) {
	if opts.Tools == nil {
		return nil, fmt.Errorf("tools: tool directory is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("tools: runner is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = MCPDialer{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Invoker{
		tools:   opts.Tools,
		dialer:  opts.Dialer,
		runner:  opts.Runner,
		key:     opts.SmitheryAPIKey,
		timeout: opts.Timeout,
		log:     opts.Logger,
	}, nil
}

// Query resolves provider:server, connects, and runs query against the
// server's tools, all within the invoker's timeout. The returned error wraps
// ErrServerNotFound on a miss.
func (inv *Invoker) Query(ctx context.Context, provider, server, query string) (string, error) {
	ts, ok, err := inv.tools.LookupTool(ctx, provider, server)
	if err != nil {
		return "", fmt.Errorf("tools: lookup %s:%s: %w", provider, server, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s:%s", ErrServerNotFound, provider, server)
	}
	endpoint, err := Endpoint(ts, inv.key)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	sess, err := inv.dialer.Dial(ctx, endpoint, ts.Transport)
	if err != nil {
		return "", fmt.Errorf("tools: connect %s: %w", ts.Key(), err)
	}
	defer sess.Close()

	available, err := sess.Tools(ctx)
	if err != nil {
		return "", err
	}
	inv.log.Debug().Str("server", ts.Key()).Int("tools", len(available)).Msg("tools: session open")

	call := func(ctx context.Context, name string, input json.RawMessage) (string, error) {
		var args map[string]any
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return "", fmt.Errorf("tools: decode arguments for %s: %w", name, err)
			}
		}
		inv.log.Info().Str("server", ts.Key()).Str("tool", name).Msg("tools: call")
		return sess.Call(ctx, name, args)
	}
	res := inv.runner.RunTools(ctx, query, available, call)
	if !res.OK() {
		return "", res.Err
	}
	return res.Text, nil
}
