package answerflow

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/answersvc/internal/audiocache"
	"github.com/hubenschmidt/answersvc/internal/eventsink"
	"github.com/hubenschmidt/answersvc/internal/km"
	"github.com/hubenschmidt/answersvc/internal/llm"
	"github.com/hubenschmidt/answersvc/internal/localisation"
	"github.com/hubenschmidt/answersvc/internal/ttsclient"
)

type stubKM struct {
	result km.Result
	err    error
}

func (s stubKM) Search(ctx context.Context, query string, keywords []string) (km.Result, error) {
	return s.result, s.err
}

type stubLLM struct {
	fragments []string
	err       error
}

func (s stubLLM) Generate(ctx context.Context, engine, model string, messages []llm.Message, onFragment llm.FragmentCallback) (*llm.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	var full strings.Builder
	for _, f := range s.fragments {
		onFragment(f)
		full.WriteString(f)
	}
	return &llm.Result{Text: full.String()}, nil
}

func runFlow(t *testing.T, cfg Config, req Request) []eventsink.Event {
	t.Helper()
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink, err := eventsink.New(rec, cancel)
	require.NoError(t, err)

	New(cfg).Run(ctx, req, sink)

	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("flow never closed the sink")
	}

	var events []eventsink.Event
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e eventsink.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	return events
}

func TestFlow_PlainModeEmitsAnswerChunksAndCompletes(t *testing.T) {
	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM:           stubKM{result: km.Result{Data: []km.Hit{{DocumentID: "doc-1", Document: km.Document{ID: "doc-1", Content: "some fact"}}}, Total: 1}},
		LLM:          stubLLM{fragments: []string{"Hello", " world"}},
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true, Keywords: []string{}}

	events := runFlow(t, cfg, req)

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	require.Contains(t, types, "validation_result")
	require.Contains(t, types, "km_result")
	require.Contains(t, types, "answer_chunk")
	require.Equal(t, "complete", events[len(events)-1].Type)
}

func TestFlow_SectionedModeSeparatesThinkingFromAnswer(t *testing.T) {
	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM:           stubKM{},
		LLM: stubLLM{fragments: []string{
			"<sectionA>", "the answer", "<thinking>reasoning</thinking>", "</sectionA>",
			"<sectionB>", "formatted", "</sectionB>",
		}},
		Sectioned: true,
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true}

	events := runFlow(t, cfg, req)

	var sawThinking, sawFormatted, sawAnswer bool
	for _, e := range events {
		switch e.Type {
		case "thinking":
			sawThinking = true
		case "formatted_answer":
			sawFormatted = true
		case "answer_chunk":
			sawAnswer = true
		}
	}
	require.True(t, sawThinking)
	require.True(t, sawFormatted)
	require.True(t, sawAnswer)
}

func TestFlow_KMFailureContinuesWithEmptyDocuments(t *testing.T) {
	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM:           stubKM{err: errors.New("qdrant unreachable")},
		LLM:          stubLLM{fragments: []string{"fine"}},
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true}

	events := runFlow(t, cfg, req)

	var sawKMResult, sawComplete bool
	for _, e := range events {
		if e.Type == "km_result" {
			sawKMResult = true
		}
		if e.Type == "complete" {
			sawComplete = true
		}
	}
	require.True(t, sawKMResult)
	require.True(t, sawComplete)
}

func TestFlow_LLMFailureEmitsErrorButStillCompletes(t *testing.T) {
	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM:           stubKM{},
		LLM:          stubLLM{err: errors.New("provider timeout")},
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true}

	events := runFlow(t, cfg, req)

	var sawError, sawComplete bool
	for _, e := range events {
		if e.Type == "error" {
			sawError = true
		}
		if e.Type == "complete" {
			sawComplete = true
		}
	}
	require.True(t, sawError)
	require.True(t, sawComplete)
}

func TestFlow_MetadataMarkerEmittedAndStrippedFromAnswerChunk(t *testing.T) {
	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM:           stubKM{},
		LLM:          stubLLM{fragments: []string{"the answer [meta:docs doc-1,doc-2] done"}},
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true}

	events := runFlow(t, cfg, req)

	var sawMetadata bool
	for _, e := range events {
		if e.Type == "metadata" {
			sawMetadata = true
			data := e.Data.(map[string]any)
			require.Equal(t, "doc-1,doc-2", data["doc_ids"])
		}
		if e.Type == "answer_chunk" {
			data := e.Data.(map[string]any)
			require.NotContains(t, data["content"], "meta:docs")
		}
	}
	require.True(t, sawMetadata)
}

// TestFlow_AnswerChunkBeforeMarkerPrecedesMetadataEvent guards §9's fixed
// ordering: text that streamed in before a "[meta:docs …]" marker must be
// emitted as its own answer_chunk before that marker's metadata event.
func TestFlow_AnswerChunkBeforeMarkerPrecedesMetadataEvent(t *testing.T) {
	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM:           stubKM{},
		LLM:          stubLLM{fragments: []string{"the answer [meta:docs doc-1] done"}},
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true}

	events := runFlow(t, cfg, req)

	var answerChunkIdx, metadataIdx = -1, -1
	for i, e := range events {
		if e.Type == "answer_chunk" && answerChunkIdx == -1 {
			data := e.Data.(map[string]any)
			require.Equal(t, "the answer ", data["content"])
			answerChunkIdx = i
		}
		if e.Type == "metadata" && metadataIdx == -1 {
			metadataIdx = i
		}
	}
	require.GreaterOrEqual(t, answerChunkIdx, 0)
	require.GreaterOrEqual(t, metadataIdx, 0)
	require.Less(t, answerChunkIdx, metadataIdx)
}

func TestFlow_KMResultPayloadMatchesWireShape(t *testing.T) {
	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM: stubKM{result: km.Result{
			Data: []km.Hit{{
				DocumentID: "doc-1",
				Document: km.Document{
					ID:              "doc-1",
					Content:         "some fact",
					PublicID:        "pub-1",
					SampleQuestions: []string{"what is it"},
				},
				RerankerScore: 0.95,
				Score:         0.90,
			}},
			Total: 1,
		}},
		LLM: stubLLM{fragments: []string{"fine"}},
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true}

	events := runFlow(t, cfg, req)

	var kmEvent *eventsink.Event
	for i := range events {
		if events[i].Type == "km_result" {
			kmEvent = &events[i]
			break
		}
	}
	require.NotNil(t, kmEvent)

	raw, err := json.Marshal(kmEvent.Data)
	require.NoError(t, err)

	var decoded struct {
		Data []struct {
			DocumentID string `json:"documentId"`
			Document   struct {
				ID              string   `json:"id"`
				PublicID        string   `json:"publicId"`
				SampleQuestions []string `json:"sampleQuestions"`
				Content         string   `json:"content"`
			} `json:"document"`
			RerankerScore float64 `json:"rerankerScore"`
			Score         float64 `json:"score"`
		} `json:"data"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Equal(t, 1, decoded.Total)
	require.Equal(t, "doc-1", decoded.Data[0].DocumentID)
	require.Equal(t, "some fact", decoded.Data[0].Document.Content)
	require.Equal(t, "pub-1", decoded.Data[0].Document.PublicID)
	require.Equal(t, []string{"what is it"}, decoded.Data[0].Document.SampleQuestions)
	require.Equal(t, 0.95, decoded.Data[0].RerankerScore)
	require.Equal(t, 0.90, decoded.Data[0].Score)
}

func TestFlow_TTSAudioPayloadMatchesWireShape(t *testing.T) {
	const audioBody = "riff-audio-bytes"
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte(audioBody))
	}))
	defer vendor.Close()

	cfg := Config{
		Localisation: localisation.Localisation{Language: "en-US", SystemPrompt: "be helpful"},
		KM:           stubKM{},
		LLM:          stubLLM{fragments: []string{"a short reply"}},
		TTS:          ttsclient.New(vendor.URL, vendor.Client(), audiocache.New()),
		Voices:       map[string]ttsclient.VoiceModel{"en-US": {Name: "jenny"}},
	}
	req := Request{Transcript: "hi", Language: "en-US", KeywordsProvided: true}

	events := runFlow(t, cfg, req)

	var ttsEvent *eventsink.Event
	for i := range events {
		if events[i].Type == "tts_audio" {
			ttsEvent = &events[i]
			break
		}
	}
	require.NotNil(t, ttsEvent)

	data := ttsEvent.Data.(map[string]any)
	require.Equal(t, "en-US", data["language"])
	require.EqualValues(t, len(audioBody), data["audio_size"])
	require.Equal(t, "audio/wav", data["audio_format"])
	require.NotEmpty(t, data["audio_data"])
	require.NotContains(t, data, "audio")
	require.NotContains(t, data, "media_type")
}
