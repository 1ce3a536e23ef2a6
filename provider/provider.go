package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/viralforge/config"
	openai_provider "github.com/mohammad-safakhou/viralforge/provider/openai"
)

// Options control a single generation request.
type Options struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Usage reports resource consumption for a single generation call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Latency      time.Duration
}

// Provider is the boundary to the external generative-text service. The
// engine only assumes it returns text that is supposed to be JSON.
type Provider interface {
	// Generate performs one request/response cycle and reports token usage.
	Generate(ctx context.Context, prompt string, model string, opts Options) (string, Usage, error)

	// CalculateCost calculates the cost for a given number of tokens.
	CalculateCost(inputTokens, outputTokens int64, model string) float64

	// AvailableModels returns the configured model keys.
	AvailableModels() []string
}

// NewProvider creates an LLM provider based on configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	for _, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			return newOpenAIAdapter(p), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}

	return nil, fmt.Errorf("no valid LLM providers found")
}

// openaiAdapter maps the engine-facing Provider interface onto the OpenAI client.
type openaiAdapter struct {
	client *openai_provider.Client
	models map[string]config.LLMModel
}

func newOpenAIAdapter(cfg config.LLMProvider) *openaiAdapter {
	return &openaiAdapter{
		client: openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout),
		models: cfg.Models,
	}
}

func (a *openaiAdapter) Generate(ctx context.Context, prompt string, model string, opts Options) (string, Usage, error) {
	m, ok := a.models[model]
	if !ok {
		return "", Usage{}, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}
	temperature := m.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := m.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	start := time.Now()
	text, in, out, err := a.client.Complete(ctx, openai_provider.Request{
		Model:       apiModel,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSONMode:    opts.JSONMode,
	})
	if err != nil {
		return "", Usage{}, err
	}
	return text, Usage{
		InputTokens:  in,
		OutputTokens: out,
		Cost:         a.CalculateCost(in, out, model),
		Latency:      time.Since(start),
	}, nil
}

func (a *openaiAdapter) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	m, ok := a.models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*m.CostPer1K + float64(outputTokens)/1000*m.CostPer1KOutput
}

func (a *openaiAdapter) AvailableModels() []string {
	keys := make([]string, 0, len(a.models))
	for k := range a.models {
		keys = append(keys, k)
	}
	return keys
}
