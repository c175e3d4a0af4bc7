// Package llm wraps langchaingo models behind the streaming interface the
// turn runner consumes.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/nova/internal/config"
	"github.com/raphaelgruber/nova/internal/memory"
	"github.com/raphaelgruber/nova/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// systemPrompt is the fixed assistant persona, including the directive
// vocabulary the response pipeline understands.
const systemPrompt = `You are NOVA, a capable voice assistant. Be concise, warm and direct.

When the user asks for an action you cannot perform in text, embed a command
token in your reply using this exact syntax: [CMD:type] or [CMD:type:argument].
Available commands:
  [CMD:time]                     current time and date
  [CMD:weather:City]             current weather for a city
  [CMD:news:category]            headlines (general, technology, science, business, sports, health)
  [CMD:open_url:example.com]     open a website
  [CMD:search:query]             web search
  [CMD:system:action]            system control (lock, sleep, volume_up, system_info, ...)
  [CMD:file:action:path]         file operation (open, create, delete, list)
Write your reply naturally around the token; it is removed before display.`

// Request carries one model invocation.
type Request struct {
	Messages []memory.ContextMessage
	// Images are base64-encoded frames attached to the last user message.
	Images []string
	// Personalization is appended to the system prompt when non-empty.
	Personalization string
}

// Model wraps a langchaingo LLM for turn generation.
type Model struct {
	llm       llms.Model
	modelName string
	provider  string
	collector *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI-compatible API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, cfgErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
		if cfgErr != nil {
			return nil, fmt.Errorf("load AWS config: %w", cfgErr)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
		provider:  cfg.LLMProvider,
		collector: collector,
	}, nil
}

// ModelName returns the configured model name.
func (m *Model) ModelName() string { return m.modelName }

// Provider returns the configured provider name.
func (m *Model) Provider() string { return m.provider }

// Stream generates a response, invoking onDelta for every text delta in
// arrival order, and returns the full accumulated text.
func (m *Model) Stream(ctx context.Context, req Request, onDelta func(ctx context.Context, delta string) error) (string, error) {
	start := time.Now()

	var acc strings.Builder
	resp, err := m.llm.GenerateContent(ctx, m.buildMessages(req),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			acc.Write(chunk)
			return onDelta(ctx, string(chunk))
		}),
	)
	if err != nil {
		m.record(metrics.OpLLMStream, start, true)
		return "", fmt.Errorf("stream generate: %w", err)
	}
	m.record(metrics.OpLLMStream, start, false)

	if acc.Len() > 0 {
		return acc.String(), nil
	}
	// Providers that ignore the streaming option still return the text.
	return firstChoice(resp)
}

// Generate produces a full response without streaming.
func (m *Model) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, m.buildMessages(req))
	if err != nil {
		m.record(metrics.OpLLMGenerate, start, true)
		return "", fmt.Errorf("generate: %w", err)
	}
	m.record(metrics.OpLLMGenerate, start, false)
	return firstChoice(resp)
}

func (m *Model) record(op string, start time.Time, failed bool) {
	if m.collector == nil {
		return
	}
	if failed {
		m.collector.RecordFailure(op, time.Since(start))
		return
	}
	m.collector.RecordTiming(op, time.Since(start))
}

func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Content, nil
}

// buildMessages converts stored context into langchaingo message contents,
// prefixing the system prompt and attaching images to the last user message.
func (m *Model) buildMessages(req Request) []llms.MessageContent {
	system := systemPrompt
	if req.Personalization != "" {
		system += "\n\nPersonalization Instructions:\n" + req.Personalization
	}

	out := make([]llms.MessageContent, 0, len(req.Messages)+1)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))

	lastUser := -1
	for i, msg := range req.Messages {
		role := llms.ChatMessageTypeHuman
		switch msg.Role {
		case memory.RoleAssistant:
			role = llms.ChatMessageTypeAI
		case memory.RoleSystem:
			role = llms.ChatMessageTypeSystem
		}
		out = append(out, llms.TextParts(role, msg.Content))
		if msg.Role == memory.RoleUser {
			lastUser = i + 1 // offset by system prompt
		}
	}

	if len(req.Images) > 0 && lastUser >= 0 {
		for _, img := range req.Images {
			data, err := base64.StdEncoding.DecodeString(img)
			if err != nil {
				continue // drop undecodable frames
			}
			out[lastUser].Parts = append(out[lastUser].Parts, llms.BinaryPart("image/jpeg", data))
		}
	}

	return out
}
