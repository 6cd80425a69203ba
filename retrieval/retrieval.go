// Package retrieval implements the Hybrid Retriever: it fuses Vector
// Store and Graph Store results with α-linear score fusion and enforces
// candidate caps ahead of reranking (spec.md §4.H).
package retrieval

import (
	"context"
	"sort"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/embedding"
	"github.com/zaozao66/audit-rag/graph"
	"github.com/zaozao66/audit-rag/vectorstore"
)

// DefaultHybridAlpha is the Open Question (ii) binding decision: the
// fused score weights vector recall at 0.65 and graph recall at 0.35.
const DefaultHybridAlpha = 0.65

// DefaultHopBudget bounds graph expansion when the caller leaves
// RetrievalOptions.Hops unset; the node cap is graph.DefaultNodeCap.
const (
	DefaultHopBudget  = 2
	DefaultCandidateK = 50
)

// Result is one fused, ranked hit.
type Result struct {
	ChunkID     string
	Score       float64
	VectorScore float64
	GraphScore  float64
	Metadata    vectorstore.Metadata
}

// Trace records the breakdown of one hybrid search, for diagnostics and
// testing the α-boundary behavior.
type Trace struct {
	Mode          string
	Alpha         float64
	VectorResults int
	GraphResults  int
	FusedResults  int
}

// Engine performs retrieval across the vector store and the graph
// store according to an intent-selected mode.
type Engine struct {
	vectors  *vectorstore.Store
	embedder *embedding.Provider
	graphs   *graph.Store
	alpha    float64
}

// New builds an Engine. alpha <= 0 falls back to DefaultHybridAlpha.
func New(vectors *vectorstore.Store, embedder *embedding.Provider, graphs *graph.Store, alpha float64) *Engine {
	if alpha <= 0 {
		alpha = DefaultHybridAlpha
	}
	return &Engine{vectors: vectors, embedder: embedder, graphs: graphs, alpha: alpha}
}

// Retrieve runs vector search, graph expansion, or both per
// opts.Mode, fuses scores for hybrid mode, and truncates to
// opts.RerankTopK (spec.md §4.H).
func (e *Engine) Retrieve(ctx context.Context, query string, opts auditrag.RetrievalOptions) ([]Result, *Trace, error) {
	mode := opts.Mode
	if mode == "" {
		mode = auditrag.RetrievalModeHybrid
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	rerankTopK := opts.RerankTopK
	if rerankTopK <= 0 {
		rerankTopK = topK * 3
	}
	alpha := opts.Alpha
	if alpha <= 0 {
		alpha = e.alpha
	}

	trace := &Trace{Mode: string(mode), Alpha: alpha}
	filter := vectorstore.Filter{
		DocTypes:       opts.DocTypeFilter,
		DocIDs:         opts.DocIDFilter,
		TitleSubstring: opts.TitleSubstring,
	}

	var vecResults []vectorstore.Result
	var graphResults []graph.RetrievalResult

	if mode == auditrag.RetrievalModeVector || mode == auditrag.RetrievalModeHybrid {
		var err error
		vecResults, err = e.searchVector(ctx, query, rerankTopK, filter)
		if err != nil {
			return nil, nil, err
		}
		trace.VectorResults = len(vecResults)
	}

	if mode == auditrag.RetrievalModeGraph || mode == auditrag.RetrievalModeHybrid {
		hops := opts.Hops
		if hops <= 0 {
			hops = DefaultHopBudget
		}
		graphResults = e.graphs.Retrieve(query, hops, graph.DefaultNodeCap)
		trace.GraphResults = len(graphResults)
	}

	var results []Result
	switch mode {
	case auditrag.RetrievalModeVector:
		results = fromVector(vecResults)
	case auditrag.RetrievalModeGraph:
		results = e.fromGraph(graphResults, filter)
	default:
		results = e.fuse(vecResults, graphResults, alpha, filter)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if rerankTopK > 0 && len(results) > rerankTopK {
		results = results[:rerankTopK]
	}
	trace.FusedResults = len(results)
	return results, trace, nil
}

func (e *Engine) searchVector(ctx context.Context, query string, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return e.vectors.Search(vecs[0], topK, filter)
}

func fromVector(vecResults []vectorstore.Result) []Result {
	out := make([]Result, 0, len(vecResults))
	for _, r := range vecResults {
		out = append(out, Result{ChunkID: r.ChunkID, Score: normalizeCosine(r.Score), VectorScore: normalizeCosine(r.Score), Metadata: r.Metadata})
	}
	return out
}

func (e *Engine) fromGraph(graphResults []graph.RetrievalResult, filter vectorstore.Filter) []Result {
	out := make([]Result, 0, len(graphResults))
	for _, r := range graphResults {
		meta, _ := e.vectors.MetadataByChunkID(r.ChunkID)
		if !filter.matches(meta) {
			continue
		}
		out = append(out, Result{ChunkID: r.ChunkID, Score: r.Score, GraphScore: r.Score, Metadata: meta})
	}
	return out
}

// fuse implements spec.md §4.H's hybrid mode: normalize each score list
// to [0,1], fuse final = α·vector + (1−α)·graph, missing side
// contributes 0, deduplicate by chunk_id keeping the max contribution
// per side.
func (e *Engine) fuse(vecResults []vectorstore.Result, graphResults []graph.RetrievalResult, alpha float64, filter vectorstore.Filter) []Result {
	byChunk := make(map[string]*Result)

	for _, r := range vecResults {
		byChunk[r.ChunkID] = &Result{ChunkID: r.ChunkID, VectorScore: normalizeCosine(r.Score), Metadata: r.Metadata}
	}
	for _, r := range graphResults {
		if existing, ok := byChunk[r.ChunkID]; ok {
			if r.Score > existing.GraphScore {
				existing.GraphScore = r.Score
			}
			continue
		}
		meta, _ := e.vectors.MetadataByChunkID(r.ChunkID)
		if !filter.matches(meta) {
			continue
		}
		byChunk[r.ChunkID] = &Result{ChunkID: r.ChunkID, GraphScore: r.Score, Metadata: meta}
	}

	out := make([]Result, 0, len(byChunk))
	for _, r := range byChunk {
		r.Score = alpha*r.VectorScore + (1-alpha)*r.GraphScore
		out = append(out, *r)
	}
	return out
}

// normalizeCosine maps cosine similarity's [-1,1] range to [0,1] so
// vector and graph contributions share the same scale before fusion.
func normalizeCosine(score float64) float64 {
	return (score + 1) / 2
}
