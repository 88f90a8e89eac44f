package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI completes prompts with OpenAI chat models.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// OpenAIOpts holds parameters for NewOpenAI.
type OpenAIOpts struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
}

// NewOpenAI creates an OpenAI chat completer.
func NewOpenAI(opts OpenAIOpts) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: openai: api key is required")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAI{
		client:    openai.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, prompt, system string) (res Result) {
	defer guard(&res)

	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		return Fail(fmt.Errorf("llm: openai: %w", err))
	}
	if len(resp.Choices) == 0 {
		return Fail(ErrEmpty)
	}
	return textOrEmpty(resp.Choices[0].Message.Content)
}
