// Package anthropic provides an llm.Client backed by the Anthropic Claude
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/taskmesh/llm"
)

// Options configures the Anthropic adapter (profile to model mapping,
// temperature, thinking budget, API key). Extend via functional options to
// preserve stability.
type Options struct {
	FastModel      anthropic.Model
	PowerfulModel  anthropic.Model
	Temperature    float64
	MaxTokens      int64
	ThinkingBudget int64
	APIKey         string
}

// Client wraps the Anthropic Messages API behind the llm.Client interface.
type Client struct {
	client *anthropic.Client
	opts   Options
}

var _ llm.Client = (*Client)(nil)

// New creates a new Anthropic client using the official SDK.
func New(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Client{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic adapter from an existing SDK client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		FastModel:      anthropic.ModelClaude3_5Haiku20241022,
		PowerfulModel:  anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:    0.7,
		MaxTokens:      4096,
		ThinkingBudget: 2048,
	}
}

// Chat implements llm.Client.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model(req.Profile),
		Messages:  buildMessages(req.Messages),
		MaxTokens: c.maxTokens(req),
	}

	system := req.System
	if req.JSONMode {
		system = appendJSONInstruction(system)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if req.Thinking {
		// The API mandates temperature 1 when extended thinking is on, so
		// the configured temperature is not applied here.
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(c.opts.ThinkingBudget)
	} else {
		params.Temperature = anthropic.Float(c.opts.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("anthropic api error: %w", err))
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	return &llm.ChatResponse{
		Content: text,
		TokenUsage: llm.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (c *Client) model(p llm.Profile) anthropic.Model {
	if p == llm.ProfilePowerful {
		return c.opts.PowerfulModel
	}
	return c.opts.FastModel
}

func (c *Client) maxTokens(req llm.ChatRequest) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	return c.opts.MaxTokens
}

func buildMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func appendJSONInstruction(system string) string {
	const instruction = "Respond with a single valid JSON object and nothing else. No markdown fences, no prose."
	if system == "" {
		return instruction
	}
	return system + "\n\n" + instruction
}

// classify tags retryable transport failures so callers can distinguish
// them from permanent request errors.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 || apierr.StatusCode >= 500 {
			return llm.MarkTransient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return llm.MarkTransient(err)
	}
	return err
}
