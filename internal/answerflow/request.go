package answerflow

// ChatTurn is one entry of the request's prior conversation.
type ChatTurn struct {
	Role    string // "user" | "assistant"
	Content string
}

// Request is the answer-generation request's data model (§3). Keywords and
// KeywordsProvided are separate because presence of an (even empty)
// keywords list is itself a control signal: skip validation entirely.
type Request struct {
	Transcript           string
	Language             string
	Audio                []byte
	OrgID                string
	ConfigID             string
	ChatHistory          []ChatTurn
	Keywords             []string
	KeywordsProvided     bool
	TranscriptConfidence *float64
	GenerateAnswer       *bool
}
