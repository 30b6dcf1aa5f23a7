package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate_UnknownEngineWithNoFallbackReturnsError(t *testing.T) {
	client := NewAgentClient("groq", 1024)
	_, err := client.Generate(context.Background(), "openai", "", []Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hi"},
	}, nil)
	require.Error(t, err)
}

func TestFlatten_SystemMessageBecomesInstructions(t *testing.T) {
	system, user := flatten([]Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "What is the capital of France?"},
	})
	require.Equal(t, "You are a helpful assistant.", system)
	require.Equal(t, "User: What is the capital of France?", user)
}

func TestFlatten_OnlyFirstSystemMessageUsedAsInstructions(t *testing.T) {
	system, user := flatten([]Message{
		{Role: "system", Content: "first"},
		{Role: "system", Content: "second"},
		{Role: "user", Content: "question"},
	})
	require.Equal(t, "first", system)
	require.Equal(t, "System: second\n\nUser: question", user)
}

func TestFlatten_JoinsMultiTurnHistoryInOrder(t *testing.T) {
	_, user := flatten([]Message{
		{Role: "user", Content: "turn one"},
		{Role: "assistant", Content: "reply one"},
		{Role: "user", Content: "turn two"},
	})
	require.Equal(t, "User: turn one\n\nAssistant: reply one\n\nUser: turn two", user)
}

func TestAgentClient_RegisterMakesEngineAvailable(t *testing.T) {
	client := NewAgentClient("groq", 1024)
	require.False(t, client.providers.Has("openai"))
	client.Register("openai", nil, "gpt-4.1-mini")
	require.True(t, client.providers.Has("openai"))
	require.Equal(t, "gpt-4.1-mini", client.models["openai"])
}
