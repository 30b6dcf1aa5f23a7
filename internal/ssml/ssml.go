// Package ssml builds the TTS vendor's speech synthesis markup from
// phoneme-transformed text. The builder is deterministic: equal inputs
// produce byte-identical output, which is required for audio-cache keying.
package ssml

import (
	"fmt"
	"html"
	"strings"
)

// Voice describes the voice/prosody to wrap text with.
type Voice struct {
	Model    string
	Language string
	Pitch    string // optional; empty means no <prosody> element
}

// Build wraps transformedText (already passed through the phoneme
// transformer, so any markup it emitted is preserved verbatim) into an
// SSML document for the given voice.
//
// Plain text runs through transformedText are XML-escaped; markup the
// phoneme transformer emitted (e.g. <phoneme ...>) is not re-escaped
// because it was produced by a trusted stage, not taken verbatim from the
// caller. Build itself does not know which parts are markup — callers
// compose phoneme.Transform's output directly into transformedText.
func Build(transformedText string, v Voice) string {
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="`)
	b.WriteString(escapeAttr(v.Language))
	b.WriteString(`">`)
	b.WriteString(`<voice name="`)
	b.WriteString(escapeAttr(v.Model))
	b.WriteString(`">`)
	if v.Pitch != "" {
		b.WriteString(fmt.Sprintf(`<prosody pitch="%s" rate="medium">`, escapeAttr(v.Pitch)))
		b.WriteString(transformedText)
		b.WriteString(`</prosody>`)
	} else {
		b.WriteString(transformedText)
	}
	b.WriteString(`</voice></speak>`)
	return b.String()
}

// EscapeText XML-escapes untrusted plain text before it is combined with
// phoneme markup and passed to Build.
func EscapeText(text string) string {
	return html.EscapeString(text)
}

func escapeAttr(s string) string {
	return html.EscapeString(s)
}
