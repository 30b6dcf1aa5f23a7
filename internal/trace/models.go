package trace

import "time"

// Session represents one accepted HTTP connection to /api/v1/answer-sse.
type Session struct {
	ID        string    `json:"id"`
	Metadata  string    `json:"metadata"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	RunCount  int       `json:"run_count,omitempty"`
}

// Run represents one answer-flow execution (validate → retrieve → generate → finalise).
type Run struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMs float64    `json:"duration_ms,omitempty"`
	Transcript string     `json:"transcript,omitempty"`
	Response   string     `json:"response,omitempty"`
	Status     string     `json:"status"`
	SpanCount  int        `json:"span_count,omitempty"`
}

// Span represents one orchestrator stage (validate/retrieve/generate).
// Finalise and TTS flushes are not recorded as spans.
type Span struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
