package embedding

import (
	"context"
	"errors"
	"testing"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/llm"
)

type fakeBackend struct {
	calls    int
	lastSize int
	dim      int
	err      error
}

func (f *fakeBackend) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	return nil, nil
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.lastSize = len(texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func testConfig(dim, batch int) auditrag.Config {
	cfg := auditrag.DefaultConfig()
	cfg.EmbeddingDim = dim
	cfg.EmbedBatchSize = batch
	return cfg
}

func TestEmbed_CachesRepeatedText(t *testing.T) {
	backend := &fakeBackend{dim: 4}
	p, err := New(backend, testConfig(4, 10))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := []string{"alpha", "beta", "alpha"}
	vecs, err := p.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	if backend.lastSize != 2 {
		t.Errorf("backend called with %d distinct texts, want 2", backend.lastSize)
	}

	// Second call should be fully served from cache.
	backend.calls = 0
	if _, err := p.Embed(context.Background(), texts); err != nil {
		t.Fatalf("Embed (cached): %v", err)
	}
	if backend.calls != 0 {
		t.Errorf("expected no backend calls on fully cached input, got %d", backend.calls)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	backend := &fakeBackend{dim: 3}
	p, err := New(backend, testConfig(8, 10))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if !auditrag.IsKind(err, auditrag.KindEmbeddingError) {
		t.Errorf("expected KindEmbeddingError, got %v", err)
	}
}

func TestEmbed_Batching(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	p, err := New(backend, testConfig(2, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	texts := []string{"a", "b", "c", "d", "e"}
	if _, err := p.Embed(context.Background(), texts); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if backend.calls != 3 {
		t.Errorf("expected 3 batches of size<=2 for 5 inputs, got %d calls", backend.calls)
	}
}
