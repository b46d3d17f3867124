// Package openai provides an llm.Client backed by the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/taskmesh/llm"
)

// Options configure the OpenAI adapter. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	FastModel           string
	PowerfulModel       string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Client wraps the OpenAI Chat Completions API behind the llm.Client interface.
type Client struct {
	client *openai.Client
	opts   Options
}

var _ llm.Client = (*Client)(nil)

// New creates a new OpenAI client using the official SDK.
func New(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Client{client: &client, opts: opts}
}

// NewFromClient creates a new OpenAI adapter from an existing SDK client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		FastModel:           openai.ChatModelGPT4oMini,
		PowerfulModel:       openai.ChatModelGPT4o,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// Chat implements llm.Client.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               c.model(req.Profile),
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens(req)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("openai api error: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	return &llm.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		TokenUsage: llm.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (c *Client) model(p llm.Profile) string {
	if p == llm.ProfilePowerful {
		return c.opts.PowerfulModel
	}
	return c.opts.FastModel
}

func (c *Client) maxTokens(req llm.ChatRequest) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	return c.opts.MaxCompletionTokens
}

func buildMessages(req llm.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	system := req.System
	if req.JSONMode {
		const instruction = "Respond with a single valid JSON object and nothing else. No markdown fences, no prose."
		if system == "" {
			system = instruction
		} else {
			system += "\n\n" + instruction
		}
	}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

// classify tags retryable transport failures so callers can distinguish
// them from permanent request errors.
func classify(err error) error {
	var apierr *openai.Error
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
