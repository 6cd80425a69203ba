// Package orchestrator implements the Orchestrator: it wires every
// other component into the ingest and ask pipelines, owns the
// registry and the two indices, and serialises mutations through a
// single write lane (spec.md §4.M, §5).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/answerer"
	"github.com/zaozao66/audit-rag/embedding"
	"github.com/zaozao66/audit-rag/graph"
	"github.com/zaozao66/audit-rag/intent"
	"github.com/zaozao66/audit-rag/llm"
	"github.com/zaozao66/audit-rag/parser"
	"github.com/zaozao66/audit-rag/registry"
	"github.com/zaozao66/audit-rag/rerank"
	"github.com/zaozao66/audit-rag/retrieval"
	"github.com/zaozao66/audit-rag/session"
	"github.com/zaozao66/audit-rag/vectorstore"
)

// Orchestrator aggregates every subsystem and drives the ingest and
// ask flows named in spec.md §4.M.
type Orchestrator struct {
	cfg      auditrag.Config
	dataRoot string

	registry     *registry.Registry
	vectors      *vectorstore.Store
	graphs       *graph.Store
	graphBuilder *graph.Builder
	embedder     *embedding.Provider
	retriever    *retrieval.Engine
	rerankProv   rerank.Provider
	intentRouter *intent.Router
	answerer     *answerer.Answerer
	sessions     *session.Store
	parsers      *parser.Registry

	metrics *metrics

	// writeMu serialises every mutation to the registry, the vector
	// store, and the graph store — the "write lane" spec.md §5 names.
	// Parsing, chunking, and embedding run outside it; only the
	// decision+commit phase of an ingest unit, and a graph rebuild,
	// acquire it.
	writeMu sync.Mutex

	cfgMu   sync.RWMutex
	watcher *fsnotify.Watcher
}

// New builds an Orchestrator against the process-wide default
// Prometheus registry.
func New(cfg auditrag.Config, chatLLM, embedLLM llm.Provider, rerankProv rerank.Provider) (*Orchestrator, error) {
	return NewWithRegistry(cfg, chatLLM, embedLLM, rerankProv, prometheus.DefaultRegisterer)
}

// NewWithRegistry builds an Orchestrator against an explicit
// Registerer, so tests can supply a throwaway registry instead of
// polluting the global default.
func NewWithRegistry(cfg auditrag.Config, chatLLM, embedLLM llm.Provider, rerankProv rerank.Provider, reg prometheus.Registerer) (*Orchestrator, error) {
	dataRoot := cfg.ResolveDataRoot()

	embedder, err := embedding.New(embedLLM, cfg)
	if err != nil {
		return nil, fmt.Errorf("building embedding provider: %w", err)
	}

	reg_ := registry.New(dataRoot)
	vectors := vectorstore.New(dataRoot, cfg.EmbeddingDim)
	graphs := graph.New(dataRoot)
	graphBuilder := graph.NewBuilder(graphs, cfg.GraphConcurrency)
	retriever := retrieval.New(vectors, embedder, graphs, cfg.HybridAlpha)
	intentRouter := intent.New(chatLLM, cfg.Chat.Model, auditrag.RetrievalModeHybrid)
	ans := answerer.New(chatLLM, cfg.Chat.Model)
	sessions := session.New(cfg.MaxSessionTurns, time.Duration(cfg.SessionMaxAgeS)*time.Second)

	return &Orchestrator{
		cfg:          cfg,
		dataRoot:     dataRoot,
		registry:     reg_,
		vectors:      vectors,
		graphs:       graphs,
		graphBuilder: graphBuilder,
		embedder:     embedder,
		retriever:    retriever,
		rerankProv:   rerankProv,
		intentRouter: intentRouter,
		answerer:     ans,
		sessions:     sessions,
		parsers:      parser.NewRegistry(),
		metrics:      newMetrics(reg),
	}, nil
}

// Start loads the four persisted artifacts from the data root,
// reconciles the vector store against the registry's live chunk set,
// and triggers a graph rebuild if the graph store is missing or was
// written by an incompatible schema version (spec.md §6).
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.registry.Load(); err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}
	if err := o.vectors.Load(); err != nil {
		return fmt.Errorf("loading vector store: %w", err)
	}

	needsRebuild := false
	if err := o.graphs.Load(); err != nil {
		slog.Warn("orchestrator: graph store needs rebuild", "error", err)
		needsRebuild = true
	}

	if dropped := o.vectors.Reconcile(o.registry.LiveChunkIDs()); dropped > 0 {
		slog.Info("orchestrator: reconciled vector store", "dropped_orphans", dropped)
	}

	if needsRebuild {
		if err := o.RebuildGraph(ctx); err != nil {
			return fmt.Errorf("rebuilding graph store: %w", err)
		}
	}

	o.watchConfig()
	return nil
}

// Stop persists every mutable store and releases the config watcher.
func (o *Orchestrator) Stop() error {
	if o.watcher != nil {
		o.watcher.Close()
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	return o.saveAllLocked()
}

// saveAllLocked persists the registry, vector store, and graph store.
// Callers must already hold writeMu.
func (o *Orchestrator) saveAllLocked() error {
	if err := o.registry.Save(); err != nil {
		return err
	}
	if err := o.vectors.Save(); err != nil {
		return err
	}
	if err := o.graphs.Save(); err != nil {
		return err
	}
	return nil
}

// RebuildGraph replays every active document's chunks through the
// graph builder. It is exclusive: it holds the write lane for its
// entire duration, per spec.md §5's shared-resource policy, so ask
// requests keep serving from the prior graph snapshot until it commits.
func (o *Orchestrator) RebuildGraph(ctx context.Context) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	docs := o.registry.List("", "", false)
	return graph.Rebuild(ctx, o.graphs, o.graphBuilder, docs, o.registry.GetChunks)
}

// Stats summarises registry state for /info.
func (o *Orchestrator) Stats() registry.Stats { return o.registry.Stats() }

// VectorCount reports the vector store's live row count for /info.
func (o *Orchestrator) VectorCount() int { return o.vectors.Len() }

// GraphCounts reports the graph store's node/edge counts for /info.
func (o *Orchestrator) GraphCounts() (nodes, edges int) {
	return o.graphs.NodeCount(), o.graphs.EdgeCount()
}

// GetDocument exposes a single registry document lookup for /documents/{id}.
func (o *Orchestrator) GetDocument(docID string) (registry.Document, bool) {
	return o.registry.Get(docID)
}

// GetChunks exposes a document's ordered chunks for /documents/{id}/chunks.
func (o *Orchestrator) GetChunks(docID string) ([]registry.Chunk, bool) {
	return o.registry.GetChunks(docID)
}

// ClearAll logically deletes every active document and resets the two
// indices, for DELETE /documents.
func (o *Orchestrator) ClearAll() error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	for _, doc := range o.registry.List("", "", false) {
		if err := o.registry.LogicalDelete(doc.DocID); err != nil {
			return err
		}
	}
	o.vectors.Reconcile(map[string]bool{})
	o.graphs.Reset()
	return nil
}

// ListDocuments exposes the registry's document listing for /documents.
func (o *Orchestrator) ListDocuments(docType, keyword string, includeDeleted bool) []registry.Document {
	return o.registry.List(docType, keyword, includeDeleted)
}

// DeleteDocument logically deletes a document, drops its vector rows,
// and prunes its graph evidence: every node and edge whose evidence
// list is left empty by the prune is removed along with it (spec.md
// §8 testable property 8).
func (o *Orchestrator) DeleteDocument(docID string) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	if err := o.registry.LogicalDelete(docID); err != nil {
		return err
	}
	if _, err := o.vectors.DeleteByDoc(docID); err != nil {
		return err
	}
	nodesDropped, edgesDropped := o.graphs.DeleteDocument(docID)
	slog.Info("orchestrator: pruned graph on document delete", "doc_id", docID,
		"nodes_dropped", nodesDropped, "edges_dropped", edgesDropped)
	return nil
}

// watchConfig optionally watches the AUDITRAG_CONFIG profile file for
// live reload of the handful of knobs safe to change without a
// restart (ambient, not core-gated — DOMAIN STACK table).
func (o *Orchestrator) watchConfig() {
	path := envConfigPath()
	if path == "" {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("orchestrator: config watch disabled", "error", err)
		return
	}
	if err := w.Add(path); err != nil {
		slog.Warn("orchestrator: config watch disabled", "path", path, "error", err)
		w.Close()
		return
	}
	o.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					slog.Info("orchestrator: config file changed, reloading profile", "path", ev.Name)
					o.reloadConfig()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("orchestrator: config watch error", "error", err)
			}
		}
	}()
}

// reloadConfig re-reads the profile and updates the subset of Config
// fields that are safe to change on a live Orchestrator. HybridAlpha
// is bound into the retrieval Engine at construction, so this only
// updates the Orchestrator's own Config copy; no request path reads the
// reloaded values, and they take effect on next restart.
func (o *Orchestrator) reloadConfig() {
	cfg := auditrag.LoadConfig(o.cfg.Profile)
	o.cfgMu.Lock()
	o.cfg.HybridAlpha = cfg.HybridAlpha
	o.cfg.DefaultTopK = cfg.DefaultTopK
	o.cfg.RerankTopKMult = cfg.RerankTopKMult
	o.cfgMu.Unlock()
}

func (o *Orchestrator) snapshotConfig() auditrag.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

func envConfigPath() string {
	return strings.TrimSpace(os.Getenv("AUDITRAG_CONFIG"))
}

// chunkText resolves a chunk_id back to its registry chunk. Chunk ids
// are assigned at commit time as "<doc_id>:<ordinal>" (see
// registerChunkID), matching spec.md §3's data model, so the lookup
// never needs a secondary index.
func (o *Orchestrator) chunkText(chunkID string) (registry.Chunk, bool) {
	docID, ordinal, ok := parseChunkID(chunkID)
	if !ok {
		return registry.Chunk{}, false
	}
	chunks, ok := o.registry.GetChunks(docID)
	if !ok || ordinal < 0 || ordinal >= len(chunks) {
		return registry.Chunk{}, false
	}
	return chunks[ordinal], true
}

func registerChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", docID, ordinal)
}

func parseChunkID(chunkID string) (docID string, ordinal int, ok bool) {
	idx := strings.LastIndex(chunkID, ":")
	if idx < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(chunkID[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return chunkID[:idx], n, true
}
