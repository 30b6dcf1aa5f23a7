// Package ttsbuffer implements the per-language TTS text accumulator: it
// batches streamed answer fragments into synthesis-sized chunks under a
// word-count-or-timeout flush predicate, generalizing the sentence-only
// cut-on-punctuation approach into a word-boundary-aware one.
package ttsbuffer

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RenderFunc performs Component E's render operation for one flushed prefix.
type RenderFunc func(ctx context.Context, plainText string) (audio []byte, mediaType string, err error)

// AudioCallback is invoked, in extraction order, once a flushed prefix has
// been rendered to audio.
type AudioCallback func(text string, audio []byte, mediaType string)

// ErrorCallback is invoked when a render fails; the prefix is dropped.
type ErrorCallback func(err error)

// Config holds the buffer's flush thresholds.
type Config struct {
	MinWords int
	MaxWait  time.Duration
}

// DefaultConfig matches the spec's defaults: min_words=3, max_wait=2s.
func DefaultConfig() Config {
	return Config{MinWords: 3, MaxWait: 2 * time.Second}
}

type task struct {
	text string
}

// Buffer is one per-language TTS text accumulator. Use New; the zero value
// is not usable.
type Buffer struct {
	cfg      Config
	render   RenderFunc
	onAudio  AudioCallback
	onError  ErrorCallback
	onDone   func()

	mu           sync.Mutex
	pending      strings.Builder
	firstArrival time.Time
	timer        *time.Timer
	closed       bool
	inFlight     int
	doneFired    bool

	queue chan task
	wg    sync.WaitGroup

	now func() time.Time
}

// New constructs a Buffer. onDone fires exactly once, after close() and
// pending_text=="" and in_flight_count==0.
func New(cfg Config, render RenderFunc, onAudio AudioCallback, onError ErrorCallback, onDone func()) *Buffer {
	b := &Buffer{
		cfg:     cfg,
		render:  render,
		onAudio: onAudio,
		onError: onError,
		onDone:  onDone,
		queue:   make(chan task, 64),
		now:     time.Now,
	}
	b.wg.Add(1)
	go b.drain()
	return b
}

// Append adds fragment to pending_text and evaluates the flush predicate.
func (b *Buffer) Append(fragment string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.pending.Len() == 0 && fragment != "" {
		b.firstArrival = b.now()
		b.armTimerLocked()
	}
	b.pending.WriteString(fragment)
	b.maybeFlushLocked(false)
	b.mu.Unlock()
}

// Flush unconditionally flushes whatever is pending, used on "no more
// input" (end of an LLM stream section) without closing the buffer.
func (b *Buffer) Flush() {
	b.mu.Lock()
	b.maybeFlushLocked(true)
	b.mu.Unlock()
}

// Close marks the buffer closed, flushes pending text, and arranges for
// onDone to fire once every in-flight render has finished.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.maybeFlushLocked(true)
	done := b.checkDoneLockedNoFire()
	b.mu.Unlock()
	if done {
		b.fireDoneOnce()
	}
}

func (b *Buffer) armTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.cfg.MaxWait, func() {
		b.mu.Lock()
		b.maybeFlushLocked(true)
		b.mu.Unlock()
	})
}

func (b *Buffer) disarmTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.firstArrival = time.Time{}
}

// maybeFlushLocked must be called with mu held. force covers both
// flush()/close() (whole-buffer cut) and the timer firing.
func (b *Buffer) maybeFlushLocked(force bool) {
	text := b.pending.String()
	if text == "" {
		return
	}
	if !force && wordCount(text) < b.cfg.MinWords {
		return
	}

	var cut int
	if force {
		cut = len(text)
	} else {
		cut = cutPoint(text, b.cfg.MinWords)
	}

	prefix := text[:cut]
	remainder := text[cut:]

	b.pending.Reset()
	b.pending.WriteString(remainder)
	if b.pending.Len() == 0 {
		b.disarmTimerLocked()
	}

	if prefix == "" {
		return
	}

	b.inFlight++
	b.queue <- task{text: prefix}
}

// drain is the single worker consuming this buffer's flush queue. Running
// one worker per buffer dispatches renders sequentially, which is the
// simplest way to satisfy the per-buffer ordering guarantee: audio
// callbacks fire in extraction order even though synthesis itself could, in
// principle, complete out of order.
func (b *Buffer) drain() {
	defer b.wg.Done()
	for t := range b.queue {
		audio, mediaType, err := b.render(context.Background(), t.text)
		b.mu.Lock()
		b.inFlight--
		done := b.checkDoneLockedNoFire()
		b.mu.Unlock()

		if err != nil {
			b.onError(err)
		} else {
			b.onAudio(t.text, audio, mediaType)
		}

		if done {
			b.fireDoneOnce()
		}
	}
}

// checkDoneLockedNoFire must be called with mu held; it reports whether
// onDone should fire without firing it, so callers can unlock before
// invoking fireDoneOnce.
func (b *Buffer) checkDoneLockedNoFire() bool {
	return b.closed && b.pending.Len() == 0 && b.inFlight == 0 && !b.doneFired
}

func (b *Buffer) fireDoneOnce() {
	b.mu.Lock()
	if b.doneFired {
		b.mu.Unlock()
		return
	}
	b.doneFired = true
	close(b.queue)
	b.mu.Unlock()
	if b.onDone != nil {
		b.onDone()
	}
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// cutPoint returns the largest index <= len(text) that ends on a word
// boundary (whitespace or sentence terminator) and yields at least
// minWords words. Falls back to the whole text when the accumulated word
// count only reaches minWords mid-word (no boundary yet covers it).
func cutPoint(text string, minWords int) int {
	best := -1
	for _, idx := range boundaries(text) {
		if wordCount(text[:idx]) >= minWords {
			best = idx
		}
	}
	if best == -1 {
		return len(text)
	}
	return best
}

// boundaries returns, in increasing order, every index right after a
// word-boundary byte (space, tab, newline, '.', '!' or '?'), advanced past
// any spaces that directly follow it.
func boundaries(text string) []int {
	var pts []int
	i := 0
	for i < len(text) {
		if isBoundaryByte(text[i]) {
			j := i + 1
			for j < len(text) && text[j] == ' ' {
				j++
			}
			pts = append(pts, j)
			i = j
			continue
		}
		i++
	}
	return pts
}

func isBoundaryByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '.' || c == '!' || c == '?'
}
