package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic completes prompts with Claude models.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicOpts holds parameters for NewAnthropic.
type AnthropicOpts struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
}

// maxToolRounds bounds the tool-use loop in RunTools.
const maxToolRounds = 5

// NewAnthropic creates a Claude completer.
func NewAnthropic(opts AnthropicOpts) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic: api key is required")
	}
	if opts.Model == "" {
		opts.Model = "claude-3-5-sonnet-20241022"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}, nil
}

func (a *Anthropic) params(system string, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return p
}

func (a *Anthropic) Complete(ctx context.Context, prompt, system string) (res Result) {
	defer guard(&res)

	msg, err := a.client.Messages.New(ctx, a.params(system, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}))
	if err != nil {
		return Fail(fmt.Errorf("llm: anthropic: %w", err))
	}
	return textOrEmpty(messageText(msg))
}

// Tool describes a callable tool offered to the model.
type Tool struct {
	Name        string
	Description string
	// Schema is a JSON schema object with "properties" and "required".
	Schema map[string]any
}

// ToolCaller executes one tool call and returns its textual result.
type ToolCaller func(ctx context.Context, name string, input json.RawMessage) (string, error)

// RunTools answers prompt, letting the model call tools through call for up
// to five rounds. Tool errors are fed back to the model as error results.
func (a *Anthropic) RunTools(ctx context.Context, prompt string, tools []Tool, call ToolCaller) (res Result) {
	defer guard(&res)

	params := a.params("", []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
	params.Tools = toolParams(tools)

	for round := 0; round < maxToolRounds; round++ {
		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return Fail(fmt.Errorf("llm: anthropic: %w", err))
		}

		var results []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			tu, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			out, err := call(ctx, tu.Name, tu.Input)
			if err != nil {
				results = append(results, anthropic.NewToolResultBlock(tu.ID, err.Error(), true))
				continue
			}
			results = append(results, anthropic.NewToolResultBlock(tu.ID, out, false))
		}
		if len(results) == 0 {
			return textOrEmpty(messageText(msg))
		}
		params.Messages = append(params.Messages, msg.ToParam(), anthropic.NewUserMessage(results...))
	}
	return Fail(fmt.Errorf("llm: anthropic: tool loop exceeded %d rounds", maxToolRounds))
}

func toolParams(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Schema["properties"],
					Required:   requiredFields(t.Schema),
				},
			},
		}
	}
	return out
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func messageText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tb.Text)
		}
	}
	return b.String()
}
