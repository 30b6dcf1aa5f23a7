package localisation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProvider_GroqPrefix(t *testing.T) {
	l := Localisation{GeneratorModel: "groq/llama-3.1-70b"}
	provider, model := l.Provider()
	require.Equal(t, "groq", provider)
	require.Equal(t, "llama-3.1-70b", model)
}

func TestProvider_DefaultsToOpenAI(t *testing.T) {
	l := Localisation{GeneratorModel: "gpt-4.1-mini"}
	provider, model := l.Provider()
	require.Equal(t, "openai", provider)
	require.Equal(t, "gpt-4.1-mini", model)
}

func TestRegistry_ResolveExactOrFallback(t *testing.T) {
	reg := NewRegistry(map[string]Localisation{
		"en-US": {Language: "en-US", SystemPrompt: "english"},
		"fr-FR": {Language: "fr-FR", SystemPrompt: "french"},
	}, "en-US")

	l, ok := reg.Resolve("fr-FR")
	require.True(t, ok)
	require.Equal(t, "french", l.SystemPrompt)

	l, ok = reg.Resolve("de-DE")
	require.True(t, ok)
	require.Equal(t, "english", l.SystemPrompt, "unknown language falls back to default primary")
}

func TestRegistry_ResolveFailsWhenNothingConfigured(t *testing.T) {
	reg := NewRegistry(map[string]Localisation{}, "en-US")
	_, ok := reg.Resolve("de-DE")
	require.False(t, ok)
}
