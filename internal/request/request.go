// Package request is the request adapter (Component J): it validates the
// inbound JSON body against a generated JSON Schema, resolves the
// localisation for the request's language, and constructs the event sink
// (H) and answer-flow orchestrator (I) for one connection. Grounded on the
// teacher's cmd/gateway/routes.go HTTP handler style (json.NewDecoder,
// http.Error on bad input) generalized to schema validation and SSE.
package request

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/hubenschmidt/answersvc/internal/answerflow"
	"github.com/hubenschmidt/answersvc/internal/eventsink"
	"github.com/hubenschmidt/answersvc/internal/localisation"
	"github.com/hubenschmidt/answersvc/internal/metrics"
	"github.com/hubenschmidt/answersvc/internal/trace"
)

// maxBodyBytes bounds the request body net/http will read before giving up,
// guarding against an unbounded audio payload exhausting memory.
const maxBodyBytes = 32 << 20 // 32 MiB

// WireTurn is one chat-history entry on the wire.
type WireTurn struct {
	Role    string `json:"role" jsonschema:"required,enum=user,enum=assistant"`
	Content string `json:"content" jsonschema:"required"`
}

// WireRequest is the inbound JSON body for POST /api/v1/answer-sse (§3).
// Keywords is a pointer so the schema and decoder can distinguish "field
// absent" from "field present and empty" — presence alone skips validation.
type WireRequest struct {
	Transcript           string     `json:"transcript" jsonschema:"required"`
	Language             string     `json:"language" jsonschema:"required"`
	Audio                string     `json:"audio,omitempty"` // base64
	OrgID                string     `json:"org_id" jsonschema:"required"`
	ConfigID             string     `json:"config_id" jsonschema:"required"`
	ChatHistory          []WireTurn `json:"chat_history,omitempty"`
	Keywords             *[]string  `json:"keywords,omitempty"`
	TranscriptConfidence *float64   `json:"transcript_confidence,omitempty"`
	GenerateAnswer       *bool      `json:"generate_answer,omitempty"`
}

var schemaLoader = gojsonschema.NewBytesLoader(mustMarshalSchema())

func mustMarshalSchema() []byte {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&WireRequest{})
	body, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("request: marshal generated schema: %v", err))
	}
	return body
}

// FlowConfigFunc builds the per-request answerflow.Config once the
// request's localisation has been resolved.
type FlowConfigFunc func(l localisation.Localisation) answerflow.Config

// Adapter is Component J.
type Adapter struct {
	localisations *localisation.Registry
	flowConfigFor FlowConfigFunc
	traceStore    *trace.Store
}

// New constructs the request adapter.
func New(localisations *localisation.Registry, flowConfigFor FlowConfigFunc) *Adapter {
	return &Adapter{localisations: localisations, flowConfigFor: flowConfigFor}
}

// WithTraceStore attaches a trace store; each accepted connection becomes
// one Session and each answer-flow run becomes one Run (§2a).
func (a *Adapter) WithTraceStore(store *trace.Store) *Adapter {
	a.traceStore = store
	return a
}

// ServeHTTP implements POST /api/v1/answer-sse.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}
	if !result.Valid() {
		writeBadRequest(w, formatValidationErrors(result))
		return
	}

	var wire WireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}
	if wire.Language == "" {
		writeBadRequest(w, "language must be non-empty")
		return
	}

	loc, ok := a.localisations.Resolve(wire.Language)
	if !ok {
		writeBadRequest(w, fmt.Sprintf("no localisation for language %q and no default configured", wire.Language))
		return
	}

	req, err := toAnswerFlowRequest(wire)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sink, err := eventsink.New(w, cancel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.RequestsTotal.Inc()
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	go func() {
		select {
		case <-r.Context().Done():
			cancel()
		case <-sink.Done():
		}
	}()

	var tracer *trace.Tracer
	if a.traceStore != nil {
		sessionID := uuid.NewString()
		if err := a.traceStore.CreateSession(sessionID, fmt.Sprintf("language=%s", wire.Language)); err != nil {
			slog.Warn("request: create trace session failed", "error", err)
		}
		tracer = trace.NewTracer(a.traceStore, sessionID)
		defer func() {
			tracer.Close()
			if err := a.traceStore.EndSession(sessionID); err != nil {
				slog.Warn("request: end trace session failed", "error", err)
			}
		}()
	}

	cfg := a.flowConfigFor(loc)
	cfg.Tracer = tracer
	flow := answerflow.New(cfg)
	flow.Run(ctx, req, sink)
	<-sink.Done()
}

func toAnswerFlowRequest(wire WireRequest) (answerflow.Request, error) {
	var audio []byte
	if wire.Audio != "" {
		decoded, err := base64.StdEncoding.DecodeString(wire.Audio)
		if err != nil {
			return answerflow.Request{}, fmt.Errorf("audio: invalid base64: %w", err)
		}
		audio = decoded
	}

	history := make([]answerflow.ChatTurn, 0, len(wire.ChatHistory))
	for _, t := range wire.ChatHistory {
		history = append(history, answerflow.ChatTurn{Role: t.Role, Content: t.Content})
	}

	req := answerflow.Request{
		Transcript:           wire.Transcript,
		Language:             wire.Language,
		Audio:                audio,
		OrgID:                wire.OrgID,
		ConfigID:             wire.ConfigID,
		ChatHistory:          history,
		TranscriptConfidence: wire.TranscriptConfidence,
		GenerateAnswer:       wire.GenerateAnswer,
	}
	if wire.Keywords != nil {
		req.KeywordsProvided = true
		req.Keywords = *wire.Keywords
	}
	return req, nil
}

func formatValidationErrors(result *gojsonschema.Result) string {
	if len(result.Errors()) == 0 {
		return "request failed validation"
	}
	return result.Errors()[0].String()
}

// writeBadRequest surfaces a BadRequest (§7) as an SSE stream carrying one
// error event and an immediate complete, with HTTP 400 — the one error
// kind reported before any registry component exists.
func writeBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusBadRequest)

	now := time.Now().Format(time.RFC3339)
	writeEvent(w, eventsink.Event{Type: "error", Timestamp: now, Message: "BadRequest: " + message})
	writeEvent(w, eventsink.Event{Type: "complete", Timestamp: now, Message: "done"})

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	slog.Warn("request: rejected bad request", "reason", message)
}

func writeEvent(w http.ResponseWriter, event eventsink.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
}
