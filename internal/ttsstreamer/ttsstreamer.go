// Package ttsstreamer owns one per-language TTS buffer (Component F) per
// language seen in a request and coordinates their shared lifecycle.
package ttsstreamer

import (
	"context"
	"sync"

	"github.com/hubenschmidt/answersvc/internal/ttsbuffer"
	"github.com/hubenschmidt/answersvc/internal/ttsclient"
)

// RenderFunc performs Component E's render for one flushed prefix, already
// resolved to a specific voice.
type RenderFunc func(ctx context.Context, text, language string, voice ttsclient.VoiceModel) (audio []byte, mediaType string, err error)

// AudioCallback fires, per buffer in extraction order, once a flushed
// prefix has been rendered.
type AudioCallback func(language, text string, audio []byte, mediaType string)

// ErrorCallback fires when a render fails for a given language's buffer.
type ErrorCallback func(language string, err error)

// Streamer is Component G.
type Streamer struct {
	cfg             ttsbuffer.Config
	voices          map[string]ttsclient.VoiceModel
	defaultLanguage string
	render          RenderFunc
	onAudio         AudioCallback
	onError         ErrorCallback

	mu        sync.Mutex
	buffers   map[string]*ttsbuffer.Buffer
	closed    bool
	total     int
	completed int

	inert      bool
	onAllDone  func()
	doneOnce   sync.Once
}

// New constructs a Streamer. It is inert — every AddTextChunk is a no-op
// and Close completes immediately — when voices is empty or render is nil,
// which models "no TTS vendor configured" without ever hanging the
// "tts_processing" completion the caller registers on H.
func New(voices map[string]ttsclient.VoiceModel, defaultLanguage string, cfg ttsbuffer.Config, render RenderFunc, onAudio AudioCallback, onError ErrorCallback, onAllDone func()) *Streamer {
	return &Streamer{
		cfg:             cfg,
		voices:          voices,
		defaultLanguage: defaultLanguage,
		render:          render,
		onAudio:         onAudio,
		onError:         onError,
		buffers:         make(map[string]*ttsbuffer.Buffer),
		inert:           len(voices) == 0 || render == nil,
		onAllDone:       onAllDone,
	}
}

// AddTextChunk lazily constructs the buffer for language (falling back to
// defaultLanguage's voice if language has none configured) and routes the
// fragment to it.
func (s *Streamer) AddTextChunk(text, language string) {
	if s.inert {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	buf, ok := s.buffers[language]
	if !ok {
		voice, resolvedLang, ok := s.resolveVoice(language)
		if !ok {
			s.mu.Unlock()
			return
		}
		buf = s.newBufferLocked(language, resolvedLang, voice)
		s.buffers[language] = buf
		s.total++
	}
	s.mu.Unlock()
	buf.Append(text)
}

func (s *Streamer) resolveVoice(language string) (ttsclient.VoiceModel, string, bool) {
	if v, ok := s.voices[language]; ok {
		return v, language, true
	}
	if v, ok := s.voices[s.defaultLanguage]; ok {
		return v, s.defaultLanguage, true
	}
	return ttsclient.VoiceModel{}, "", false
}

func (s *Streamer) newBufferLocked(requestedLanguage, resolvedLanguage string, voice ttsclient.VoiceModel) *ttsbuffer.Buffer {
	renderFn := func(ctx context.Context, text string) ([]byte, string, error) {
		return s.render(ctx, text, resolvedLanguage, voice)
	}
	audioFn := func(text string, audio []byte, mediaType string) {
		s.onAudio(requestedLanguage, text, audio, mediaType)
	}
	errorFn := func(err error) {
		s.onError(requestedLanguage, err)
	}
	doneFn := func() {
		s.bufferDone()
	}
	return ttsbuffer.New(s.cfg, renderFn, audioFn, errorFn, doneFn)
}

func (s *Streamer) bufferDone() {
	s.mu.Lock()
	s.completed++
	allDone := s.closed && s.completed == s.total
	s.mu.Unlock()
	if allDone {
		s.fireAllDone()
	}
}

// FlushAll flushes every buffer's pending text without closing them.
func (s *Streamer) FlushAll() {
	if s.inert {
		return
	}
	s.mu.Lock()
	snapshot := make([]*ttsbuffer.Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		snapshot = append(snapshot, b)
	}
	s.mu.Unlock()
	for _, b := range snapshot {
		b.Flush()
	}
}

// Close closes every buffer and arranges for onAllDone to fire once every
// buffer has finished draining (or immediately, if inert or no buffer was
// ever created).
func (s *Streamer) Close() {
	if s.inert {
		s.fireAllDone()
		return
	}
	s.mu.Lock()
	s.closed = true
	snapshot := make([]*ttsbuffer.Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		snapshot = append(snapshot, b)
	}
	allDoneAlready := s.completed == s.total
	s.mu.Unlock()

	for _, b := range snapshot {
		b.Close()
	}
	if allDoneAlready {
		s.fireAllDone()
	}
}

func (s *Streamer) fireAllDone() {
	s.doneOnce.Do(func() {
		if s.onAllDone != nil {
			s.onAllDone()
		}
	})
}
