package km

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hubenschmidt/answersvc/internal/metrics"
)

// Document is the passage payload nested inside a km_result hit (§6.1):
// its own identity and content, independent of this search's scoring.
type Document struct {
	ID              string         `json:"id"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	PublicID        string         `json:"publicId,omitempty"`
	SampleQuestions []string       `json:"sampleQuestions,omitempty"`
	Content         string         `json:"content"`
}

// Hit is one retrieved result, shaped exactly as the orchestrator's
// km_result event reports it (§6.1).
type Hit struct {
	DocumentID    string   `json:"documentId"`
	Document      Document `json:"document"`
	RerankerScore float64  `json:"rerankerScore"`
	Score         float64  `json:"score"`
}

// Result is the KM search adapter's return value (§6.3).
type Result struct {
	Data  []Hit `json:"data"`
	Total int   `json:"total"`
}

// Searcher is the KM search adapter contract: search(query, keywords) →
// {data, total}.
type Searcher interface {
	Search(ctx context.Context, query string, keywords []string) (Result, error)
}

// Config configures the default Qdrant + Ollama implementation.
type Config struct {
	Embedder       *EmbeddingClient
	Qdrant         *QdrantClient
	Collection     string
	TopK           int
	ScoreThreshold float64
}

// Client is the default pluggable KM backend, grounded on the teacher's
// RAGClient: embed the query (augmented with keywords), search Qdrant,
// shape the hits into documents.
type Client struct {
	embedder       *EmbeddingClient
	qdrant         *QdrantClient
	collection     string
	topK           int
	scoreThreshold float64
}

// New constructs the default KM client.
func New(cfg Config) *Client {
	return &Client{
		embedder:       cfg.Embedder,
		qdrant:         cfg.Qdrant,
		collection:     cfg.Collection,
		topK:           cfg.TopK,
		scoreThreshold: cfg.ScoreThreshold,
	}
}

// Search embeds query+keywords, searches the knowledge base, and returns
// the ranked documents. An empty result (no hits) is not an error — the
// orchestrator's generation stage must handle "no documents" itself (§4.I).
func (c *Client) Search(ctx context.Context, query string, keywords []string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.KMDuration.Observe(time.Since(start).Seconds())
	}()

	embedInput := query
	if len(keywords) > 0 {
		embedInput = query + " " + strings.Join(keywords, " ")
	}

	vector, err := c.embedder.Embed(ctx, embedInput)
	if err != nil {
		return Result{}, fmt.Errorf("km embed query: %w", err)
	}

	hits, err := c.qdrant.Search(ctx, c.collection, vector, c.topK, c.scoreThreshold, keywords)
	if err != nil {
		return Result{}, fmt.Errorf("km qdrant search: %w", err)
	}

	return shapeResult(hits), nil
}

// shapeResult converts raw Qdrant hits into the km_result hit list (§6.1),
// reading each hit's free-form payload via gjson rather than a brittle
// type assertion on map[string]any. Only "text" is required; "metadata",
// "public_id" and "sample_questions" are populated when the seeded
// document payload carries them (cmd/seed only sets "text" and "source"
// today, so these are typically absent on freshly seeded data).
func shapeResult(hits []SearchResult) Result {
	out := make([]Hit, 0, len(hits))
	for _, hit := range hits {
		body, err := sjson.Set("{}", "payload", hit.Payload)
		if err != nil {
			body = "{}"
		}

		doc := Document{
			ID:       hit.ID,
			Content:  gjson.Get(body, "payload.text").String(),
			PublicID: gjson.Get(body, "payload.public_id").String(),
		}
		if meta := gjson.Get(body, "payload.metadata"); meta.Exists() {
			if m, ok := meta.Value().(map[string]any); ok {
				doc.Metadata = m
			}
		}
		for _, q := range gjson.Get(body, "payload.sample_questions").Array() {
			doc.SampleQuestions = append(doc.SampleQuestions, q.String())
		}

		out = append(out, Hit{
			DocumentID:    hit.ID,
			Document:      doc,
			RerankerScore: hit.RerankerScore,
			Score:         hit.Score,
		})
	}
	return Result{Data: out, Total: len(out)}
}
