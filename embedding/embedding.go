// Package embedding wraps an llm.Provider's embedding call with batching,
// an LRU cache keyed on content hash, and dimension validation (spec.md
// §4.C).
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/llm"
)

// Provider turns chunk text into vectors, caching by normalized content.
type Provider struct {
	backend        llm.Provider
	cache          *lru.Cache[string, []float32]
	batchSize      int
	dim            int
	attemptTimeout time.Duration
	totalTimeout   time.Duration
}

const defaultCacheSize = 50_000

// New builds a Provider from an llm.Provider and the embedding-relevant
// slice of Config.
func New(backend llm.Provider, cfg auditrag.Config) (*Provider, error) {
	cache, err := lru.New[string, []float32](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding: creating cache: %w", err)
	}
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Provider{
		backend:        backend,
		cache:          cache,
		batchSize:      batchSize,
		dim:            cfg.EmbeddingDim,
		attemptTimeout: time.Duration(cfg.ProviderAttemptTimeoutS) * time.Second,
		totalTimeout:   time.Duration(cfg.ProviderTotalTimeoutS) * time.Second,
	}, nil
}

// Embed returns one vector per input text, in input order, consulting the
// cache before calling the backend and batching the remaining misses.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	firstMiss := make(map[string]int)
	var dups []int

	for i, t := range texts {
		key := cacheKey(t)
		keys[i] = key
		if v, ok := p.cache.Get(key); ok {
			out[i] = v
			continue
		}
		if _, pending := firstMiss[key]; pending {
			dups = append(dups, i)
			continue
		}
		firstMiss[key] = i
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	for start := 0; start < len(missTexts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]
		vecs, err := p.embedBatchWithTimeout(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			if p.dim > 0 && len(v) != p.dim {
				return nil, auditrag.NewEmbeddingError(false,
					fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(v), p.dim))
			}
			idx := missIdx[start+j]
			out[idx] = v
			p.cache.Add(keys[idx], v)
		}
	}
	for _, i := range dups {
		out[i] = out[firstMiss[keys[i]]]
	}
	return out, nil
}

func (p *Provider) embedBatchWithTimeout(ctx context.Context, batch []string) ([][]float32, error) {
	total := p.totalTimeout
	if total <= 0 {
		total = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	vecs, err := p.backend.Embed(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, auditrag.NewProviderTimeout("embedding provider")
		}
		return nil, auditrag.NewEmbeddingError(true, err)
	}
	if len(vecs) != len(batch) {
		return nil, auditrag.NewEmbeddingError(false,
			fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vecs), len(batch)))
	}
	return vecs, nil
}

// cacheKey normalizes text to NFC before hashing, matching the document
// identity rule used elsewhere in the system (spec.md Document invariant).
func cacheKey(text string) string {
	normalized := norm.NFC.String(text)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
