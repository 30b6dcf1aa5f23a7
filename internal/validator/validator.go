// Package validator calls the upstream validator adapter (§6.3): given the
// chat history plus either a transcript or an audio payload, it returns a
// corrected transcript and a list of keywords. Grounded on the teacher's
// sidecar-HTTP pattern in pipeline/classify.go, generalized from a fixed
// emotion-classifier endpoint to the validator's JSON contract.
package validator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hubenschmidt/answersvc/internal/metrics"
)

// ErrValidatorFailed is wrapped around any error returned by Validate,
// covering the ValidatorFailed error kind (§7): callers fall back to
// identity validation and continue rather than treat this as fatal.
var ErrValidatorFailed = errors.New("validator: call failed")

const callTimeout = 10 * time.Second

// Prompts are the localisation's validator prompt templates, already
// resolved (fetched from validatorSystemPromptTemplateUrl /
// validatorTranscriptPromptTemplateUrl) by the caller.
type Prompts struct {
	SystemPromptTemplate     string
	TranscriptPromptTemplate string
}

// Turn is one chat-history message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is the validator's corrected transcript plus extracted keywords.
type Result struct {
	Correction string   `json:"correction"`
	Keywords   []string `json:"keywords"`
}

type request struct {
	SystemPrompt     string `json:"system_prompt"`
	TranscriptPrompt string `json:"transcript_prompt"`
	Language         string `json:"language"`
	Transcript       string `json:"transcript,omitempty"`
	AudioBase64      string `json:"audio_base64,omitempty"`
	ChatHistory      []Turn `json:"chat_history"`
}

// Client calls a single upstream validator endpoint.
type Client struct {
	url  string
	http *http.Client
}

// New constructs a Client. httpClient is normally built via
// internal/httpclient.New so connection pooling is shared across adapters.
func New(url string, httpClient *http.Client) *Client {
	return &Client{url: url, http: httpClient}
}

// Validate sends the chat history plus a transcript or raw audio bytes to
// the validator and returns its correction and keywords. audio may be nil
// for text-only validation.
func (c *Client) Validate(ctx context.Context, prompts Prompts, language, transcript string, audio []byte, history []Turn) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("validation").Observe(time.Since(start).Seconds())
	}()

	req := request{
		SystemPrompt:     prompts.SystemPromptTemplate,
		TranscriptPrompt: prompts.TranscriptPromptTemplate,
		Language:         language,
		Transcript:       transcript,
		ChatHistory:      history,
	}
	if audio != nil {
		req.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
	}

	result, err := c.call(ctx, req)
	if err != nil {
		metrics.Errors.WithLabelValues("validation", "ValidatorFailed").Inc()
		return Result{}, fmt.Errorf("%w: %w", ErrValidatorFailed, err)
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, req request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("validator request encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/validate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("validator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("validator http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("validator status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("validator decode: %w", err)
	}
	return result, nil
}

// Identity returns the fallback result used when no validator is
// configured, or when a ValidatorFailed error occurs: the transcript
// passes through unchanged with no keywords.
func Identity(transcript string) Result {
	return Result{Correction: transcript, Keywords: []string{}}
}
