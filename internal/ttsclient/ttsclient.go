// Package ttsclient is the TTS vendor adapter: it renders plain text to
// audio with cache read-through and write-behind in front of the vendor.
package ttsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/answersvc/internal/audiocache"
	"github.com/hubenschmidt/answersvc/internal/metrics"
	"github.com/hubenschmidt/answersvc/internal/phoneme"
	"github.com/hubenschmidt/answersvc/internal/ssml"
)

// ErrTTSFailed is returned when the vendor call fails; the result is not
// cached on this path.
var ErrTTSFailed = errors.New("ttsclient: synthesis failed")

const vendorTimeout = 20 * time.Second

// VoiceModel is the localisation-resolved voice configuration for one
// language, grounded on Localisation.ttsModel in the data model.
type VoiceModel struct {
	Name            string
	Pitch           string
	CaseInsensitive bool
	PhonemeTable    phoneme.Table
}

// Auth carries organisation-scoped vendor credentials.
type Auth struct {
	Key string
}

// Client renders SSML to audio via the TTS vendor, with D as a read-through
// and write-behind cache.
type Client struct {
	vendorURL string
	http      *http.Client
	cache     *audiocache.Cache
}

// New constructs a Client pointed at the vendor endpoint, backed by cache.
func New(vendorURL string, httpClient *http.Client, cache *audiocache.Cache) *Client {
	return &Client{vendorURL: vendorURL, http: httpClient, cache: cache}
}

// Render implements Component E's render operation: build the cache key,
// consult the cache, and on miss run the phoneme transformer + SSML builder
// and call the vendor.
func (c *Client) Render(ctx context.Context, plainText, language string, voice VoiceModel, auth Auth) ([]byte, string, error) {
	normalised := Normalize(plainText, voice.CaseInsensitive)
	key := audiocache.NewKey(normalised, language, voice.Name, "audio/wav")

	if entry, ok := c.cache.Lookup(key); ok {
		metrics.AudioCacheHits.WithLabelValues("hit").Inc()
		return entry.Audio, entry.MediaType, nil
	}
	metrics.AudioCacheHits.WithLabelValues("miss").Inc()

	transformed := ssml.EscapeText(normalised)
	transformed = phoneme.Transform(transformed, voice.PhonemeTable, nil)
	doc := ssml.Build(transformed, ssml.Voice{Model: voice.Name, Language: language, Pitch: voice.Pitch})

	audio, mediaType, err := c.callVendor(ctx, doc, voice.Name, auth)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "vendor").Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	go c.cache.Store(key, audio, mediaType)

	return audio, mediaType, nil
}

// Normalize strips trailing whitespace, collapses internal whitespace to
// single spaces, and lowercases only when the voice is case-insensitive.
// The per-model case choice must be applied consistently so the same
// fragment always normalises to the same cache key.
func Normalize(text string, caseInsensitive bool) string {
	fields := strings.Fields(text)
	normalised := strings.Join(fields, " ")
	if caseInsensitive {
		normalised = strings.ToLower(normalised)
	}
	return normalised
}

type vendorRequest struct {
	SSML  string `json:"ssml"`
	Voice string `json:"voice"`
}

func (c *Client) callVendor(ctx context.Context, ssmlDoc, voice string, auth Auth) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, vendorTimeout)
	defer cancel()

	body, err := json.Marshal(vendorRequest{SSML: ssmlDoc, Voice: voice})
	if err != nil {
		return nil, "", fmt.Errorf("marshal vendor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.vendorURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create vendor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	if auth.Key != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("vendor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("vendor status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read vendor response: %w", err)
	}

	mediaType := resp.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "audio/wav"
	}
	return audio, mediaType, nil
}
