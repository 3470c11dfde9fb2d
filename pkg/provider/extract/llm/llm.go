// Package llm provides an [extract.Extractor] backed by
// github.com/mozilla-ai/any-llm-go, which multiplexes OpenAI, Anthropic,
// Gemini, Ollama and other chat backends behind one interface.
package llm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/provider/extract"
)

const systemPrompt = "You are a precise information extraction engine. " +
	"You reply with exactly one JSON object and nothing else."

// extractionTemperature keeps the model deterministic enough that the same
// entry yields the same graph.
const extractionTemperature = 0.1

var _ extract.Extractor = (*Extractor)(nil)

// Extractor runs the extraction prompt against one chat model.
type Extractor struct {
	backend anyllmlib.Provider
	model   string
}

// New constructs an Extractor for the given provider name and model.
//
// providerName is one of: openai, anthropic, gemini, ollama, deepseek,
// mistral, groq. API keys come from opts or the provider's usual
// environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, …).
func New(providerName, model string, opts ...anyllmlib.Option) (*Extractor, error) {
	if model == "" {
		return nil, fmt.Errorf("llm extractor: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm extractor: create %q backend: %w", providerName, err)
	}
	return &Extractor{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// Extract sends the extraction prompt and parses the reply tolerantly.
func (e *Extractor) Extract(ctx context.Context, text string, contextEntities []memory.GraphNode, processingDate string) (memory.Extraction, error) {
	temp := extractionTemperature
	resp, err := e.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: e.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: extract.BuildPrompt(text, contextEntities, processingDate)},
		},
		Temperature: &temp,
	})
	if err != nil {
		return memory.Extraction{}, fmt.Errorf("llm extractor: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return memory.Extraction{}, fmt.Errorf("llm extractor: empty choices in response")
	}

	ex, err := extract.ParseResponse(resp.Choices[0].Message.ContentString())
	if err != nil {
		return memory.Extraction{}, fmt.Errorf("llm extractor: %w", err)
	}
	return ex, nil
}
