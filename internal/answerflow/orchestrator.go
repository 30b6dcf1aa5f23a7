// Package answerflow is the answer-flow orchestrator (Component I): it
// runs validation → retrieval → generation → finalise, pushing events onto
// the event sink (H) and forwarding answer text into the TTS streamer (G).
// Grounded on the teacher's Pipeline.runFullPipeline/streamLLMWithTTS
// producer/consumer shape in pipeline/pipeline.go, generalized from the
// ASR→LLM→TTS voice pipeline to this service's validate→retrieve→generate
// text pipeline.
package answerflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/answersvc/internal/eventsink"
	"github.com/hubenschmidt/answersvc/internal/km"
	"github.com/hubenschmidt/answersvc/internal/llm"
	"github.com/hubenschmidt/answersvc/internal/localisation"
	"github.com/hubenschmidt/answersvc/internal/metrics"
	"github.com/hubenschmidt/answersvc/internal/templatecache"
	"github.com/hubenschmidt/answersvc/internal/trace"
	"github.com/hubenschmidt/answersvc/internal/ttsbuffer"
	"github.com/hubenschmidt/answersvc/internal/ttsclient"
	"github.com/hubenschmidt/answersvc/internal/ttsstreamer"
	"github.com/hubenschmidt/answersvc/internal/validator"
)

// Config wires the orchestrator's collaborators for one localisation.
type Config struct {
	Localisation     localisation.Localisation
	ValidatorPrompts validator.Prompts
	Validator        *validator.Client
	KM               km.Searcher
	LLM              llm.Client
	TTS              *ttsclient.Client
	TTSAuth          ttsclient.Auth
	Templates        *templatecache.Fetcher
	Voices           map[string]ttsclient.VoiceModel
	TTSBufferConfig  ttsbuffer.Config
	Sectioned        bool
	Tracer           *trace.Tracer
}

// Flow runs one request through the five stages of §4.I.
type Flow struct {
	cfg Config
}

// New constructs a Flow.
func New(cfg Config) *Flow {
	return &Flow{cfg: cfg}
}

// Run executes the orchestrator's stages against req, pushing every event
// onto sink. The orchestrator never closes sink itself (§4.I) — closure is
// driven solely by the completion registry.
func (f *Flow) Run(ctx context.Context, req Request, sink *eventsink.Sink) {
	start := time.Now()
	runID := f.cfg.Tracer.StartRun()
	status := "ok"
	var answer strings.Builder
	defer func() {
		metrics.E2EDuration.Observe(time.Since(start).Seconds())
		f.cfg.Tracer.EndRun(runID, float64(time.Since(start).Milliseconds()), req.Transcript, answer.String(), status)
	}()

	sink.Emit(eventsink.Event{Type: "status", Message: "Starting answer pipeline"})
	sink.RegisterComponent("text_generation")

	streamer := f.buildStreamer(sink)
	if streamer != nil {
		sink.RegisterComponent("tts_processing")
	}

	result, ok := f.runValidation(ctx, runID, req, sink)
	if !ok {
		status = "failed"
		f.finalise(sink, streamer)
		return
	}

	docs := f.runRetrieval(ctx, runID, result.Correction, result.Keywords, sink)

	if err := f.runGeneration(ctx, runID, req, result.Correction, docs, sink, streamer, &answer); err != nil {
		status = "failed"
	}

	f.finalise(sink, streamer)
}

// buildStreamer constructs G iff TTS is configured and at least one voice
// model is available, per §4.I stage 1.
func (f *Flow) buildStreamer(sink *eventsink.Sink) *ttsstreamer.Streamer {
	if len(f.cfg.Voices) == 0 || f.cfg.TTS == nil {
		return nil
	}

	cfg := f.cfg.TTSBufferConfig
	if cfg == (ttsbuffer.Config{}) {
		cfg = ttsbuffer.DefaultConfig()
	}

	render := func(ctx context.Context, text, language string, voice ttsclient.VoiceModel) ([]byte, string, error) {
		return f.cfg.TTS.Render(ctx, text, language, voice, f.cfg.TTSAuth)
	}
	onAudio := func(language, text string, audio []byte, mediaType string) {
		sink.Emit(eventsink.Event{Type: "tts_audio", Data: map[string]any{
			"language":     language,
			"text":         text,
			"audio_size":   len(audio),
			"audio_data":   audio, // encoding/json base64-encodes []byte
			"audio_format": mediaType,
		}})
	}
	onError := func(language string, err error) {
		sink.Error("TTSFailed", fmt.Sprintf("%s: %v", language, err))
	}

	s := ttsstreamer.New(f.cfg.Voices, f.cfg.Localisation.Language, cfg, render, onAudio, onError, func() {
		sink.MarkComponentComplete("tts_processing")
	})
	return s
}

// runValidation executes stage 2, returning the validation result and
// whether the flow should continue. Every validator failure is treated as
// recoverable (identity fallback), so the flag is currently always true.
func (f *Flow) runValidation(ctx context.Context, runID string, req Request, sink *eventsink.Sink) (validator.Result, bool) {
	start := time.Now()
	errMsg := ""
	defer func() {
		metrics.StageDuration.WithLabelValues("validation").Observe(time.Since(start).Seconds())
		f.cfg.Tracer.RecordSpan(runID, "validate", start, float64(time.Since(start).Milliseconds()), req.Transcript, "", spanStatus(errMsg), errMsg)
	}()

	if req.KeywordsProvided {
		sink.Emit(eventsink.Event{Type: "status", Message: "Skipping validation – using provided keywords"})
		result := validator.Result{Correction: req.Transcript, Keywords: req.Keywords}
		sink.Emit(eventsink.Event{Type: "validation_result", Data: result})
		return result, true
	}

	var audio []byte
	if len(req.Audio) > 0 {
		audio = req.Audio
	}

	history := make([]validator.Turn, 0, len(req.ChatHistory))
	for _, t := range req.ChatHistory {
		history = append(history, validator.Turn{Role: t.Role, Content: t.Content})
	}

	if f.cfg.Validator == nil {
		result := validator.Identity(req.Transcript)
		sink.Emit(eventsink.Event{Type: "validation_result", Data: result})
		return result, true
	}

	result, err := f.cfg.Validator.Validate(ctx, f.cfg.ValidatorPrompts, req.Language, req.Transcript, audio, history)
	if err != nil {
		sink.Emit(eventsink.Event{Type: "status", Message: "Validator unavailable, falling back to identity validation"})
		metrics.Errors.WithLabelValues("validation", "ValidatorFailed").Inc()
		errMsg = err.Error()
		result = validator.Identity(req.Transcript)
	}
	sink.Emit(eventsink.Event{Type: "validation_result", Data: result})
	return result, true
}

func spanStatus(errMsg string) string {
	if errMsg == "" {
		return "ok"
	}
	return "failed"
}

// runRetrieval executes stage 3. A KM failure is recoverable: continue
// with an empty document set (§7 KMFailed).
func (f *Flow) runRetrieval(ctx context.Context, runID string, correction string, keywords []string, sink *eventsink.Sink) []km.Hit {
	start := time.Now()
	errMsg := ""
	defer func() {
		metrics.StageDuration.WithLabelValues("retrieval").Observe(time.Since(start).Seconds())
		f.cfg.Tracer.RecordSpan(runID, "retrieve", start, float64(time.Since(start).Milliseconds()), correction, "", spanStatus(errMsg), errMsg)
	}()

	if f.cfg.KM == nil {
		result := km.Result{}
		sink.Emit(eventsink.Event{Type: "km_result", Data: result})
		return nil
	}

	result, err := f.cfg.KM.Search(ctx, correction, keywords)
	if err != nil {
		sink.Emit(eventsink.Event{Type: "status", Message: "Knowledge retrieval failed, continuing without documents"})
		metrics.Errors.WithLabelValues("retrieval", "KMFailed").Inc()
		errMsg = err.Error()
		result = km.Result{}
	}
	sink.Emit(eventsink.Event{Type: "km_result", Data: result})
	return result.Data
}

// runGeneration executes stage 4: streaming LLM generation, with
// incremental section routing and metadata marker extraction. Extracted
// markers are held back and emitted as `metadata` events once the LLM
// stream has ended, after every answer_chunk.
func (f *Flow) runGeneration(ctx context.Context, runID string, req Request, correction string, docs []km.Hit, sink *eventsink.Sink, streamer *ttsstreamer.Streamer, answer *strings.Builder) error {
	start := time.Now()
	errMsg := ""
	defer func() {
		metrics.StageDuration.WithLabelValues("generation").Observe(time.Since(start).Seconds())
		f.cfg.Tracer.RecordSpan(runID, "generate", start, float64(time.Since(start).Milliseconds()), correction, answer.String(), spanStatus(errMsg), errMsg)
	}()

	messages := f.buildMessages(ctx, req, correction, docs, sink)
	if messages == nil {
		return nil
	}

	var extractor MetadataExtractor
	var router SectionRouter
	var markers []*Metadata

	onFragment := func(fragment string) {
		for _, seg := range extractor.Feed(fragment) {
			if seg.Marker != nil {
				markers = append(markers, seg.Marker)
				continue
			}
			clean := seg.Text
			answer.WriteString(clean)

			if !f.cfg.Sectioned {
				sink.Emit(eventsink.Event{Type: "answer_chunk", Data: map[string]any{"content": clean}})
				if streamer != nil {
					streamer.AddTextChunk(clean, req.Language)
				}
				continue
			}

			for _, chunk := range router.Feed(clean) {
				sink.Emit(eventsink.Event{Type: chunk.Kind, Data: map[string]any{"content": chunk.Text}})
				if chunk.Kind == "answer_chunk" && streamer != nil {
					streamer.AddTextChunk(chunk.Text, req.Language)
				}
			}
		}
	}

	provider, model := f.cfg.Localisation.Provider()
	_, err := f.cfg.LLM.Generate(ctx, provider, model, messages, onFragment)
	for _, m := range markers {
		sink.Emit(eventsink.Event{Type: "metadata", Data: map[string]any{"doc_ids": strings.Join(m.DocIDs, ",")}})
	}
	if err != nil {
		sink.Error("LLMFailed", err.Error())
		metrics.Errors.WithLabelValues("generation", "LLMFailed").Inc()
		errMsg = err.Error()
		return err
	}
	return nil
}

// buildMessages assembles the system prompt (optionally augmented by
// generatorFormatTextPromptUrl content), the chat history, and the current
// user turn built from the validated transcript plus retrieved documents.
func (f *Flow) buildMessages(ctx context.Context, req Request, correction string, docs []km.Hit, sink *eventsink.Sink) []llm.Message {
	systemPrompt := f.cfg.Localisation.SystemPrompt
	if url := f.cfg.Localisation.GeneratorFormatTextPromptURL; url != "" && f.cfg.Templates != nil {
		body, err := f.cfg.Templates.Fetch(ctx, url)
		if err != nil {
			if errors.Is(err, templatecache.ErrUpstreamUnavailable) {
				sink.Fatal("UpstreamUnavailable", err.Error())
				return nil
			}
			slog.Warn("answerflow: generator format text fetch failed, continuing without it", "error", err)
		} else {
			systemPrompt = systemPrompt + "\n\n" + string(body)
		}
	}

	messages := make([]llm.Message, 0, len(req.ChatHistory)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, t := range req.ChatHistory {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: buildUserTurn(correction, docs)})
	return messages
}

func buildUserTurn(correction string, docs []km.Hit) string {
	if len(docs) == 0 {
		return correction
	}
	var b strings.Builder
	b.WriteString(correction)
	b.WriteString("\n\nRelevant documents:\n")
	for _, d := range docs {
		b.WriteString("- ")
		b.WriteString(d.Document.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// finalise executes stage 5: drain and close G, then mark text_generation
// complete. The sink closes on its own once the registry is all-true.
func (f *Flow) finalise(sink *eventsink.Sink, streamer *ttsstreamer.Streamer) {
	if streamer != nil {
		streamer.FlushAll()
		streamer.Close()
	}
	sink.MarkComponentComplete("text_generation")
}
