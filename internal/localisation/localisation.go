// Package localisation resolves the per-language bundle of prompts, model
// choices, and voice settings a request needs, replacing the teacher's
// Ollama-model-lifecycle package with the spec's Localisation data model.
package localisation

import "strings"

// TTSModel is the voice configuration carried by a Localisation.
type TTSModel struct {
	Voice      string
	Pitch      string
	PhonemeURL string
}

// Localisation is the per-language bundle described in the data model.
type Localisation struct {
	Language                             string
	AssistantID                          string
	AssistantKey                         string
	GeneratorModel                       string // prefix "groq/" selects the Groq provider, else OpenAI-compatible
	SystemPrompt                         string
	GeneratorFormatTextPromptURL         string
	ValidatorSystemPromptTemplateURL     string
	ValidatorTranscriptPromptTemplateURL string
	TTS                                  TTSModel
}

const groqPrefix = "groq/"

// Provider reports the LLM provider this localisation's GeneratorModel
// resolves to, and the bare model name with any provider prefix stripped.
func (l Localisation) Provider() (provider, model string) {
	if strings.HasPrefix(l.GeneratorModel, groqPrefix) {
		return "groq", strings.TrimPrefix(l.GeneratorModel, groqPrefix)
	}
	return "openai", l.GeneratorModel
}

// Registry resolves a Localisation by language, falling back to a
// configured default primary language.
type Registry struct {
	byLanguage             map[string]Localisation
	defaultPrimaryLanguage string
}

// NewRegistry builds a Registry. defaultPrimaryLanguage must have an entry
// in byLanguage for the "fallback always resolves" invariant to hold.
func NewRegistry(byLanguage map[string]Localisation, defaultPrimaryLanguage string) *Registry {
	return &Registry{byLanguage: byLanguage, defaultPrimaryLanguage: defaultPrimaryLanguage}
}

// Resolve returns the Localisation for language, or the default primary
// language's Localisation if language has none configured. ok is false
// only if neither exists, which a correctly configured registry never
// allows in production.
func (r *Registry) Resolve(language string) (Localisation, bool) {
	if l, ok := r.byLanguage[language]; ok {
		return l, true
	}
	l, ok := r.byLanguage[r.defaultPrimaryLanguage]
	return l, ok
}
