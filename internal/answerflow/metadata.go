package answerflow

import "strings"

const markerPrefix = "[meta:"

// Metadata is one extracted "[meta:docs …]" marker.
type Metadata struct {
	DocIDs []string
	Raw    string
}

// Segment is one ordered piece of a fed fragment: either a run of clean
// text or a completed metadata marker, in the order they appeared in the
// stream. Preserving this order matters because text preceding a marker
// must be emitted as its own answer_chunk before that marker's metadata
// event (§9), not batched with text that arrived after it.
type Segment struct {
	Text   string
	Marker *Metadata
}

// MetadataExtractor strips "[meta:docs …]" markers out of an incrementally
// streamed LLM text fragment, returning the text/marker segments in
// stream order. A marker split across two Feed calls is held in an
// internal carry buffer until it closes.
type MetadataExtractor struct {
	carry string
}

// Feed processes one more fragment of streamed text.
func (m *MetadataExtractor) Feed(fragment string) []Segment {
	text := m.carry + fragment
	m.carry = ""

	var segments []Segment
	for {
		idx := strings.Index(text, markerPrefix)
		if idx == -1 {
			break
		}
		closeOffset := strings.IndexByte(text[idx:], ']')
		if closeOffset == -1 {
			segments = appendText(segments, text[:idx])
			m.carry = text[idx:]
			return segments
		}
		segments = appendText(segments, text[:idx])
		raw := text[idx+1 : idx+closeOffset]
		marker := parseMarker(raw)
		segments = append(segments, Segment{Marker: &marker})
		text = text[idx+closeOffset+1:]
	}

	if cut := partialSuffixIndex(text, markerPrefix); cut >= 0 {
		segments = appendText(segments, text[:cut])
		m.carry = text[cut:]
		return segments
	}

	return appendText(segments, text)
}

func appendText(segments []Segment, text string) []Segment {
	if text == "" {
		return segments
	}
	return append(segments, Segment{Text: text})
}

// partialSuffixIndex returns the index at which text ends with a non-empty
// proper prefix of marker, or -1 if it doesn't.
func partialSuffixIndex(text, marker string) int {
	maxLen := len(marker) - 1
	if maxLen > len(text) {
		maxLen = len(text)
	}
	for l := maxLen; l > 0; l-- {
		if strings.HasSuffix(text, marker[:l]) {
			return len(text) - l
		}
	}
	return -1
}

func parseMarker(raw string) Metadata {
	rest := strings.TrimSpace(strings.TrimPrefix(raw, "meta:docs"))
	var ids []string
	if rest != "" {
		for _, id := range strings.Split(rest, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return Metadata{DocIDs: ids, Raw: raw}
}
