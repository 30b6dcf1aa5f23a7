package request

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/answersvc/internal/answerflow"
	"github.com/hubenschmidt/answersvc/internal/km"
	"github.com/hubenschmidt/answersvc/internal/llm"
	"github.com/hubenschmidt/answersvc/internal/localisation"
)

type stubKM struct{}

func (stubKM) Search(ctx context.Context, query string, keywords []string) (km.Result, error) {
	return km.Result{}, nil
}

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, engine, model string, messages []llm.Message, onFragment llm.FragmentCallback) (*llm.Result, error) {
	onFragment("hello")
	return &llm.Result{Text: "hello"}, nil
}

func testAdapter() *Adapter {
	reg := localisation.NewRegistry(map[string]localisation.Localisation{
		"en-US": {Language: "en-US", SystemPrompt: "be helpful"},
	}, "en-US")
	return New(reg, func(l localisation.Localisation) answerflow.Config {
		return answerflow.Config{Localisation: l, KM: stubKM{}, LLM: stubLLM{}}
	})
}

func TestServeHTTP_MissingRequiredFieldReturns400(t *testing.T) {
	adapter := testAdapter()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-sse", bytes.NewBufferString(`{"language":"en-US"}`))
	rec := httptest.NewRecorder()

	adapter.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"type":"error"`)
	require.Contains(t, rec.Body.String(), `"type":"complete"`)
}

func TestServeHTTP_MissingOrgOrConfigIDReturns400(t *testing.T) {
	adapter := testAdapter()

	// Raw JSON with the key entirely absent, not merely empty — jsonschema's
	// "required" only rejects absence, so a struct-marshaled empty string
	// would not exercise it.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-sse", bytes.NewBufferString(
		`{"transcript":"hi","language":"en-US","config_id":"cfg-1"}`))
	rec := httptest.NewRecorder()
	adapter.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/answer-sse", bytes.NewBufferString(
		`{"transcript":"hi","language":"en-US","org_id":"org-1"}`))
	rec = httptest.NewRecorder()
	adapter.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTP_MalformedJSONReturns400(t *testing.T) {
	adapter := testAdapter()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-sse", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()

	adapter.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTP_UnknownLanguageWithNoDefaultReturns400(t *testing.T) {
	reg := localisation.NewRegistry(map[string]localisation.Localisation{}, "en-US")
	adapter := New(reg, func(l localisation.Localisation) answerflow.Config {
		return answerflow.Config{Localisation: l}
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-sse", bytes.NewBufferString(`{"transcript":"hi","language":"fr-FR","org_id":"o","config_id":"c"}`))
	rec := httptest.NewRecorder()

	adapter.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTP_ValidRequestStreamsUntilComplete(t *testing.T) {
	adapter := testAdapter()
	body, err := json.Marshal(WireRequest{
		Transcript: "what time is it",
		Language:   "en-US",
		OrgID:      "org-1",
		ConfigID:   "cfg-1",
		Keywords:   &[]string{},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer-sse", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		adapter.ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP never returned")
	}

	require.Contains(t, rec.Body.String(), `"type":"answer_chunk"`)
	require.Contains(t, rec.Body.String(), `"type":"complete"`)
}

func TestToAnswerFlowRequest_KeywordsPointerDistinguishesAbsentFromEmpty(t *testing.T) {
	withKeywords, err := toAnswerFlowRequest(WireRequest{Transcript: "hi", Language: "en-US", Keywords: &[]string{}})
	require.NoError(t, err)
	require.True(t, withKeywords.KeywordsProvided)

	withoutKeywords, err := toAnswerFlowRequest(WireRequest{Transcript: "hi", Language: "en-US"})
	require.NoError(t, err)
	require.False(t, withoutKeywords.KeywordsProvided)
}

func TestToAnswerFlowRequest_DecodesBase64Audio(t *testing.T) {
	req, err := toAnswerFlowRequest(WireRequest{Transcript: "hi", Language: "en-US", Audio: "aGVsbG8="})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), req.Audio)
}
