// Package ai wraps the model-call collaborator. It is the engine's only
// outbound dependency and is treated as unreliable: every call carries a
// timeout and retries with exponential backoff, and nothing on the live-turn
// path ever waits on it.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"
)

// InstructionKind selects the system instruction for an invocation.
type InstructionKind string

const (
	InstructionSummarize         InstructionKind = "summarize"
	InstructionExtractFacts      InstructionKind = "extract_facts"
	InstructionReactivationBrief InstructionKind = "reactivation_brief"
)

// Config holds the AI provider configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		APIKey:     "",
		ChatModel:  "gpt-4o-mini",
		MaxRetries: 3,
		Timeout:    60 * time.Second,
	}
}

// Usage reports token consumption for one invocation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the result of one model invocation.
type Completion struct {
	Text  string
	Usage Usage
}

// Invoker is the model-call contract consumed by the background engines.
type Invoker interface {
	Invoke(ctx context.Context, kind InstructionKind, prompt string) (*Completion, error)
}

// Provider implements Invoker against an OpenAI-compatible endpoint.
type Provider struct {
	client *openai.Client
	config *Config
}

// NewProvider creates a new AI provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Invoke performs a chat completion with the system instruction selected by
// kind.
func (p *Provider) Invoke(ctx context.Context, kind InstructionKind, prompt string) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	var result *Completion
	err := p.doWithRetry(ctx, func() error {
		req := openai.ChatCompletionRequest{
			Model: p.config.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemInstruction(kind)},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		}
		if kind == InstructionExtractFacts {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = &Completion{
			Text: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke model (%s): %w", kind, err)
	}

	slog.Debug("model invocation completed",
		"kind", kind,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens)
	return result, nil
}

func systemInstruction(kind InstructionKind) string {
	switch kind {
	case InstructionSummarize:
		return `You summarize sales conversations. Produce a compact summary covering: what the contact wants, decisions made, open questions, commitments on both sides, and overall tone. Keep it under 200 words. Output plain text only.`
	case InstructionExtractFacts:
		return `You extract facts from sales conversations. Only extract facts the contact stated explicitly; never infer. Respond with a JSON object {"facts": [...]} where each fact has: type, category (preference|pain_point|objection|product|stage|next_step), value, confidence (0..1), source_text (the exact quote), suggest_remember (bool). Never set suggest_remember for confidence below 0.7.`
	case InstructionReactivationBrief:
		return `A conversation is resuming after a long pause. Given the prior summary, the contact profile, and operator notes, write a short re-entry brief: who this is, where things left off, and the single most useful next step. Under 120 words, plain text.`
	default:
		return `You are a helpful assistant.`
	}
}

// doWithRetry executes a function with exponential backoff retry.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < p.config.MaxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("AI request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}

// Ensure Provider implements Invoker.
var _ Invoker = (*Provider)(nil)
