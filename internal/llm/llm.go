// Package llm is the streaming LLM adapter contract (§6.3) and its default
// implementation over the openai-agents-go SDK, grounded on the teacher's
// AgentLLM: one provider per engine ("groq", "openai"), resolved from
// Localisation.Provider(), with model fallback when the caller doesn't
// pin one.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/answersvc/internal/router"
)

// Message is one chat-history turn, or the system/current-turn message
// the orchestrator constructs for generation.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// FragmentCallback receives each streamed text fragment as it arrives.
type FragmentCallback func(fragment string)

// Result summarizes a completed generation.
type Result struct {
	Text               string
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// Client is the LLM adapter contract: streaming generate(model, messages).
type Client interface {
	Generate(ctx context.Context, engine, model string, messages []Message, onFragment FragmentCallback) (*Result, error)
}

// AgentClient routes generation across providers registered by engine name
// ("groq", "openai", ...) using the openai-agents-go SDK.
type AgentClient struct {
	providers *router.Router[agents.ModelProvider]
	models    map[string]string
	maxTokens int
}

// NewAgentClient constructs an AgentClient. fallback names the engine used
// when a requested engine has no registered provider.
func NewAgentClient(fallback string, maxTokens int) *AgentClient {
	return &AgentClient{
		providers: router.New(map[string]agents.ModelProvider{}, fallback),
		models:    make(map[string]string),
		maxTokens: maxTokens,
	}
}

// Register adds a provider and its default model for engine.
func (a *AgentClient) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.providers.Set(engine, provider)
	a.models[engine] = defaultModel
}

// Generate streams a completion, invoking onFragment for every text delta.
func (a *AgentClient) Generate(ctx context.Context, engine, model string, messages []Message, onFragment FragmentCallback) (*Result, error) {
	provider, err := a.providers.Route(engine)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	useModel := model
	if useModel == "" {
		useModel = a.models[engine]
	}

	systemPrompt, userMessage := flatten(messages)

	agent := agents.New("assistant").
		WithInstructions(systemPrompt).
		WithModel(useModel).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	events, errCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
	if err != nil {
		return nil, fmt.Errorf("llm stream start: %w", err)
	}

	var text strings.Builder
	var ttft time.Time
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		if onFragment != nil {
			onFragment(raw.Data.Delta)
		}
		text.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("llm stream: %w", streamErr)
	}

	latency := time.Since(start)
	var ttftMs float64
	if !ttft.IsZero() {
		ttftMs = float64(ttft.Sub(start).Milliseconds())
	}

	return &Result{
		Text:               text.String(),
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMs,
	}, nil
}

// flatten collapses the message list into the single instructions/input
// pair the SDK's one-turn Runner expects: the system message becomes the
// agent's instructions, everything else is joined into the user turn in
// order, matching the teacher's one-shot (MaxTurns: 1) usage.
func flatten(messages []Message) (systemPrompt, userMessage string) {
	var body strings.Builder
	for _, m := range messages {
		if m.Role == "system" && systemPrompt == "" {
			systemPrompt = m.Content
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString(strings.ToUpper(m.Role[:1]) + m.Role[1:] + ": " + m.Content)
	}
	return systemPrompt, body.String()
}
