package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/answersvc/internal/answerflow"
	"github.com/hubenschmidt/answersvc/internal/audiocache"
	"github.com/hubenschmidt/answersvc/internal/env"
	"github.com/hubenschmidt/answersvc/internal/httpclient"
	"github.com/hubenschmidt/answersvc/internal/km"
	"github.com/hubenschmidt/answersvc/internal/llm"
	"github.com/hubenschmidt/answersvc/internal/localisation"
	"github.com/hubenschmidt/answersvc/internal/phoneme"
	"github.com/hubenschmidt/answersvc/internal/request"
	"github.com/hubenschmidt/answersvc/internal/templatecache"
	"github.com/hubenschmidt/answersvc/internal/trace"
	"github.com/hubenschmidt/answersvc/internal/ttsbuffer"
	"github.com/hubenschmidt/answersvc/internal/ttsclient"
	"github.com/hubenschmidt/answersvc/internal/validator"
)

// tuning holds knobs loaded from answersvc.json. These are values that may
// eventually move to a database; for now a JSON file keeps them out of env vars.
type tuning struct {
	LLMMaxTokens       int                            `json:"llm_max_tokens"`
	HTTPPoolSize       int                            `json:"http_pool_size"`
	TTSBufferMinWords  int                             `json:"tts_buffer_min_words"`
	TTSBufferMaxWaitMs int                             `json:"tts_buffer_max_wait_ms"`
	Sectioned          bool                            `json:"sectioned_output"`
	KMCollection       string                          `json:"km_collection"`
	KMTopK             int                             `json:"km_top_k"`
	KMScoreThreshold   float64                         `json:"km_score_threshold"`
	DefaultLanguage    string                          `json:"default_language"`
	Localisations      map[string]localisationTuning   `json:"localisations"`
}

type localisationTuning struct {
	SystemPrompt                         string `json:"system_prompt"`
	GeneratorModel                       string `json:"generator_model"`
	GeneratorFormatTextPromptURL         string `json:"generator_format_text_prompt_url"`
	ValidatorSystemPromptTemplateURL     string `json:"validator_system_prompt_template_url"`
	ValidatorTranscriptPromptTemplateURL string `json:"validator_transcript_prompt_template_url"`
	TTSVoice                             string `json:"tts_voice"`
	TTSPitch                             string `json:"tts_pitch"`
	TTSPhonemeURL                        string `json:"tts_phoneme_url"`
}

// defaultTuning returns sensible defaults matching answersvc.json.
func defaultTuning() tuning {
	return tuning{
		LLMMaxTokens:       2048,
		HTTPPoolSize:       50,
		TTSBufferMinWords:  3,
		TTSBufferMaxWaitMs: 2000,
		Sectioned:          false,
		KMCollection:       "answers",
		KMTopK:             5,
		KMScoreThreshold:   0.5,
		DefaultLanguage:    "en-US",
		Localisations: map[string]localisationTuning{
			"en-US": {
				SystemPrompt:   "You are a helpful assistant. Answer concisely and conversationally.",
				GeneratorModel: "gpt-4.1-nano",
			},
		},
	}
}

// loadTuning reads answersvc.json if present, otherwise returns defaults.
func loadTuning(path string) tuning {
	t := defaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no config file, using defaults", "path", path)
		return t
	}
	if err = json.Unmarshal(data, &t); err != nil {
		slog.Warn("bad config file, using defaults", "path", path, "error", err)
		return defaultTuning()
	}
	slog.Info("loaded config", "path", path)
	return t
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	t := loadTuning("answersvc.json")

	port := env.Str("ANSWERSVC_PORT", "8000")
	ollamaURL := env.Str("OLLAMA_URL", "http://localhost:11434")
	ollamaModel := env.Str("OLLAMA_MODEL", "llama3.2:3b")
	groqURL := env.Str("GROQ_URL", "https://api.groq.com/openai")
	groqAPIKey := env.Str("GROQ_API_KEY", "")
	openaiURL := env.Str("OPENAI_URL", "https://api.openai.com")
	openaiAPIKey := env.Str("OPENAI_API_KEY", "")
	validatorURL := env.Str("VALIDATOR_URL", "")
	ttsVendorURL := env.Str("TTS_VENDOR_URL", "")
	ttsAuthKey := env.Str("TTS_AUTH_KEY", "")
	qdrantURL := env.Str("QDRANT_URL", "")
	embeddingModel := env.Str("OLLAMA_EMBED_MODEL", "nomic-embed-text")
	postgresURL := env.Str("POSTGRES_URL", "")

	pooledClient := httpclient.New(t.HTTPPoolSize, 30*time.Second)

	templates := templatecache.New(pooledClient)

	llmClient := initLLM(ollamaURL, ollamaModel, groqURL, groqAPIKey, openaiURL, openaiAPIKey, t.LLMMaxTokens)

	var validatorClient *validator.Client
	if validatorURL != "" {
		validatorClient = validator.New(validatorURL, pooledClient)
	}

	var kmSearcher km.Searcher
	if qdrantURL != "" {
		qdrant := km.NewQdrantClient(qdrantURL, pooledClient)
		embedder := km.NewEmbeddingClient(ollamaURL, embeddingModel, pooledClient)
		kmSearcher = km.New(km.Config{
			Embedder:       embedder,
			Qdrant:         qdrant,
			Collection:     t.KMCollection,
			TopK:           t.KMTopK,
			ScoreThreshold: t.KMScoreThreshold,
		})
	}

	var ttsClient *ttsclient.Client
	if ttsVendorURL != "" {
		ttsClient = ttsclient.New(ttsVendorURL, pooledClient, audiocache.New())
	}

	var traceStore *trace.Store
	if postgresURL != "" {
		var traceErr error
		traceStore, traceErr = trace.Open(postgresURL)
		if traceErr != nil {
			slog.Error("trace store open failed", "error", traceErr)
		} else {
			slog.Info("tracing enabled", "postgres", postgresURL)
		}
	}

	localisations := buildLocalisations(t.Localisations)
	phonemeTables := loadPhonemeTables(context.Background(), templates, localisations)
	registry := localisation.NewRegistry(localisations, t.DefaultLanguage)

	bufferCfg := ttsbuffer.Config{
		MinWords: t.TTSBufferMinWords,
		MaxWait:  time.Duration(t.TTSBufferMaxWaitMs) * time.Millisecond,
	}

	flowConfigFor := func(l localisation.Localisation) answerflow.Config {
		voices := map[string]ttsclient.VoiceModel{}
		if l.TTS.Voice != "" {
			voices[l.Language] = ttsclient.VoiceModel{
				Name:         l.TTS.Voice,
				Pitch:        l.TTS.Pitch,
				PhonemeTable: phonemeTables[l.Language],
			}
		}
		return answerflow.Config{
			Localisation: l,
			ValidatorPrompts: validator.Prompts{
				SystemPromptTemplate:     l.ValidatorSystemPromptTemplateURL,
				TranscriptPromptTemplate: l.ValidatorTranscriptPromptTemplateURL,
			},
			Validator:       validatorClient,
			KM:              kmSearcher,
			LLM:             llmClient,
			TTS:             ttsClient,
			TTSAuth:         ttsclient.Auth{Key: ttsAuthKey},
			Templates:       templates,
			Voices:          voices,
			TTSBufferConfig: bufferCfg,
			Sectioned:       t.Sectioned,
		}
	}

	adapter := request.New(registry, flowConfigFor).WithTraceStore(traceStore)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		answerAdapter: adapter,
		traceStore:    traceStore,
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, traceStore)

	slog.Info("answersvc starting", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("answersvc stopped")
}

// loadPhonemeTables fetches and decodes each localisation's phoneme table
// once at startup via A, so E never pays the fetch cost per request.
func loadPhonemeTables(ctx context.Context, templates *templatecache.Fetcher, localisations map[string]localisation.Localisation) map[string]phoneme.Table {
	tables := make(map[string]phoneme.Table, len(localisations))
	for lang, l := range localisations {
		if l.TTS.PhonemeURL == "" {
			continue
		}
		body, err := templates.Fetch(ctx, l.TTS.PhonemeURL)
		if err != nil {
			slog.Warn("phoneme table fetch failed, TTS will render without substitutions", "language", lang, "error", err)
			continue
		}
		var rules []phoneme.Rule
		if err := json.Unmarshal(body, &rules); err != nil {
			slog.Warn("phoneme table decode failed, TTS will render without substitutions", "language", lang, "error", err)
			continue
		}
		tables[lang] = phoneme.Table(rules)
	}
	return tables
}

func buildLocalisations(cfg map[string]localisationTuning) map[string]localisation.Localisation {
	out := make(map[string]localisation.Localisation, len(cfg))
	for lang, lt := range cfg {
		out[lang] = localisation.Localisation{
			Language:                             lang,
			GeneratorModel:                       lt.GeneratorModel,
			SystemPrompt:                         lt.SystemPrompt,
			GeneratorFormatTextPromptURL:         lt.GeneratorFormatTextPromptURL,
			ValidatorSystemPromptTemplateURL:     lt.ValidatorSystemPromptTemplateURL,
			ValidatorTranscriptPromptTemplateURL: lt.ValidatorTranscriptPromptTemplateURL,
			TTS: localisation.TTSModel{
				Voice:      lt.TTSVoice,
				Pitch:      lt.TTSPitch,
				PhonemeURL: lt.TTSPhonemeURL,
			},
		}
	}
	return out
}

// awaitShutdown blocks until SIGINT/SIGTERM, then gracefully drains
// in-flight streams and closes the trace store.
func awaitShutdown(srv *http.Server, traceStore *trace.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.Shutdown(ctx)

	if traceStore != nil {
		if err := traceStore.Close(); err != nil {
			slog.Warn("trace store close", "error", err)
		}
	}
}

func initLLM(ollamaURL, ollamaModel, groqURL, groqAPIKey, openaiURL, openaiAPIKey string, maxTokens int) *llm.AgentClient {
	client := llm.NewAgentClient("ollama", maxTokens)
	client.Register("ollama", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(ollamaURL + "/v1/"),
		APIKey:       param.NewOpt("ollama"),
		UseResponses: param.NewOpt(false),
	}), ollamaModel)
	if groqAPIKey != "" {
		client.Register("groq", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(groqURL + "/v1/"),
			APIKey:       param.NewOpt(groqAPIKey),
			UseResponses: param.NewOpt(false),
		}), "llama-3.3-70b-versatile")
	}
	if openaiAPIKey != "" {
		client.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(openaiURL + "/v1/"),
			APIKey:       param.NewOpt(openaiAPIKey),
			UseResponses: param.NewOpt(true),
		}), "gpt-4.1-nano")
	}
	return client
}
