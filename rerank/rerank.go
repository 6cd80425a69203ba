// Package rerank implements the cross-encoder reranking stage: given a
// query and a fused candidate list, it asks a reranking provider to
// rescore and reorder them, falling back to the incoming order on
// vendor failure (spec.md §4.I).
package rerank

import (
	"context"
	"log/slog"
)

// Candidate is the reranker's input unit: the text to score plus its
// chunk_id, so the caller can map scored hits back to their retrieval
// metadata.
type Candidate struct {
	ChunkID string
	Text    string
}

// Scored is one reranked candidate.
type Scored struct {
	ChunkID string
	Score   float64
}

// Provider reranks candidates by relevance to query. Implementations
// must enforce their own vendor limits (max candidate count, max
// characters per document) by truncating or batching internally.
type Provider interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error)
}

// Rerank calls provider.Rerank and, on vendor failure, falls back to
// the candidates' incoming order (their fused score ranking) so
// retrieval always proceeds. applied reports whether the vendor call
// actually succeeded, for the response's rerank_applied tag.
func Rerank(ctx context.Context, provider Provider, query string, candidates []Candidate, topK int) (results []Scored, applied bool) {
	if len(candidates) == 0 {
		return nil, true
	}
	if provider == nil {
		return fallback(candidates, topK), false
	}

	scored, err := provider.Rerank(ctx, query, candidates, topK)
	if err != nil {
		slog.Warn("rerank_fallback", slog.String("error", err.Error()), slog.Int("candidates", len(candidates)))
		return fallback(candidates, topK), false
	}
	return scored, true
}

// fallback assigns decreasing scores that preserve the candidates'
// incoming order, so downstream consumers see a consistent Scored
// shape whether or not reranking actually ran.
func fallback(candidates []Candidate, topK int) []Scored {
	n := len(candidates)
	if topK > 0 && topK < n {
		n = topK
	}
	out := make([]Scored, n)
	for i := 0; i < n; i++ {
		out[i] = Scored{ChunkID: candidates[i].ChunkID, Score: 1.0 - float64(i)*0.001}
	}
	return out
}
