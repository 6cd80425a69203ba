package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Vendor limits enforced before a request ever leaves the process
// (spec.md §4.I).
const (
	DefaultMaxCandidates  = 100
	DefaultMaxCharsPerDoc = 4000
	DefaultTimeout        = 10 * time.Second
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	Endpoint       string
	Model          string
	Timeout        time.Duration
	MaxCandidates  int
	MaxCharsPerDoc int
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	if c.MaxCharsPerDoc <= 0 {
		c.MaxCharsPerDoc = DefaultMaxCharsPerDoc
	}
	return c
}

// HTTPProvider calls a cross-encoder reranking endpoint over HTTP, the
// same wire shape a local MLX or TEI reranker server exposes.
type HTTPProvider struct {
	client *http.Client
	cfg    HTTPConfig
}

// NewHTTPProvider builds an HTTPProvider against endpoint.
func NewHTTPProvider(endpoint string, cfg HTTPConfig) *HTTPProvider {
	cfg.Endpoint = endpoint
	cfg = cfg.withDefaults()
	return &HTTPProvider{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Rerank truncates each document to MaxCharsPerDoc and keeps only the
// first MaxCandidates candidates before calling the vendor endpoint;
// candidates past that cap are not sent and do not appear in the result.
func (p *HTTPProvider) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error) {
	batch := candidates
	if len(batch) > p.cfg.MaxCandidates {
		batch = batch[:p.cfg.MaxCandidates]
	}

	docs := make([]string, len(batch))
	for i, c := range batch {
		docs[i] = truncate(c.Text, p.cfg.MaxCharsPerDoc)
	}

	reqBody, err := json.Marshal(rerankRequest{Query: query, Documents: docs, Model: p.cfg.Model, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("building rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank vendor returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	out := make([]Scored, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.Index < 0 || r.Index >= len(batch) {
			continue
		}
		out = append(out, Scored{ChunkID: batch[r.Index].ChunkID, Score: r.Score})
	}
	return out, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
