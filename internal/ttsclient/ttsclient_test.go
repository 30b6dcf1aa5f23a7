package ttsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/answersvc/internal/audiocache"
)

func TestRender_CacheMissThenHit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("riff-audio"))
	}))
	defer srv.Close()

	cache := audiocache.New()
	client := New(srv.URL, srv.Client(), cache)

	voice := VoiceModel{Name: "jenny"}
	audio, mediaType, err := client.Render(context.Background(), "hello world", "en-US", voice, Auth{})
	require.NoError(t, err)
	require.Equal(t, "riff-audio", string(audio))
	require.Equal(t, "audio/wav", mediaType)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	audio2, _, err := client.Render(context.Background(), "hello   world  ", "en-US", voice, Auth{})
	require.NoError(t, err)
	require.Equal(t, audio, audio2)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "normalised-equal text should hit the cache")
}

func TestRender_VendorFailureNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, srv.Client(), audiocache.New())
	_, _, err := client.Render(context.Background(), "hi", "en-US", VoiceModel{Name: "jenny"}, Auth{})
	require.ErrorIs(t, err, ErrTTSFailed)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "hello world", Normalize("  hello   world  ", false))
	require.Equal(t, "hello world", Normalize("Hello World", true))
	require.Equal(t, "Hello World", Normalize("Hello World", false))
}
