// Package audiocache is the content-addressed, process-wide cache of
// rendered TTS audio blobs in front of the TTS vendor.
package audiocache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Key identifies a cached audio blob. Two keys with equal Hash were built
// from equal (normalised text, language, voice model) tuples.
type Key struct {
	Language string
	Model    string
	Hash     string
	Ext      string
}

// String renders the key as the flat-namespace path used for logging and,
// were this backed by blob storage instead of memory, for the object name.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s.%s", k.Language, k.Model, k.Hash, k.Ext)
}

// NewKey derives a Key deterministically from the already-normalised plain
// text, language, and voice model.
func NewKey(normalisedText, language, voiceModel, mediaType string) Key {
	sum := sha256.Sum256([]byte(normalisedText + "|" + language + "|" + voiceModel))
	return Key{
		Language: language,
		Model:    voiceModel,
		Hash:     hex.EncodeToString(sum[:]),
		Ext:      extFor(mediaType),
	}
}

func extFor(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "wav"):
		return "wav"
	case strings.Contains(mediaType, "mpeg"), strings.Contains(mediaType, "mp3"):
		return "mp3"
	case strings.Contains(mediaType, "ogg"):
		return "ogg"
	default:
		return "bin"
	}
}

// Entry is a cached audio blob plus its media type.
type Entry struct {
	Audio     []byte
	MediaType string
}

// Cache is a concurrent content-addressed cache. The zero value is not
// usable; use New.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]Entry)}
}

// Lookup is a non-blocking read.
func (c *Cache) Lookup(key Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Store writes audio behind the caller (write-behind): call it from its own
// goroutine. Store never returns an error to the caller; failures are
// logged. Concurrent stores of the same key are idempotent because the key
// is content-derived, so last-writer-wins is safe.
func (c *Cache) Store(key Key, audio []byte, mediaType string) {
	c.mu.Lock()
	c.entries[key] = Entry{Audio: audio, MediaType: mediaType}
	c.mu.Unlock()
	slog.Debug("audiocache: stored", "key", key.String(), "bytes", len(audio))
}
