package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zaozao66/audit-rag/registry"
)

// defaultConcurrency is the semaphore size for parallel chunk processing.
const defaultConcurrency = 16

// perChunkTimeout caps how long a single chunk's extraction pipeline may
// run before it is abandoned.
const perChunkTimeout = 5 * time.Second

// Builder runs the ordered extractor pipeline over a document's chunks
// and merges the results into a Store.
type Builder struct {
	store       *Store
	extractors  []Extractor
	concurrency int
}

// NewBuilder returns a Builder writing into store, running the fixed
// extractor pipeline spec.md §4.F names.
func NewBuilder(store *Store, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Builder{store: store, extractors: defaultExtractors(), concurrency: concurrency}
}

// Build extracts entities and relationships from a document's chunks
// and merges them into the store. It is safe to call repeatedly for
// the same document — UpsertNode/UpsertEdge coalesce on (type, name)
// and (source, target, relation) respectively.
func (b *Builder) Build(ctx context.Context, doc registry.Document, chunks []registry.Chunk) error {
	docNodeID := NodeID(NodeDocument, doc.DocID)
	b.store.UpsertNode(Node{ID: docNodeID, Type: NodeDocument, Name: doc.Title, Attrs: map[string]string{
		"doc_id": doc.DocID, "filename": doc.Filename, "doc_type": doc.DocType,
	}})

	if len(chunks) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		sem  = make(chan struct{}, b.concurrency)
		errs []string
	)

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk registry.Chunk) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Sprintf("chunk %s: %v", chunk.ChunkID, ctx.Err()))
				mu.Unlock()
				return
			}

			chunkCtx, cancel := context.WithTimeout(ctx, perChunkTimeout)
			defer cancel()

			if err := b.processChunk(chunkCtx, doc.DocID, docNodeID, chunk); err != nil {
				slog.Warn("graph: chunk failed", "chunk_id", chunk.ChunkID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Sprintf("chunk %s: %v", chunk.ChunkID, err))
				mu.Unlock()
			}
		}(chunk)
	}

	wg.Wait()

	if len(errs) == len(chunks) {
		return fmt.Errorf("graph.Build: all %d chunks failed; first error: %s", len(chunks), errs[0])
	}
	if len(errs) > 0 {
		slog.Warn("graph: build completed with failures", "failed", len(errs), "total", len(chunks))
	}
	chunkNodeID := func(c registry.Chunk) string { return NodeID(NodeChunk, c.ChunkID) }
	for _, c := range chunks {
		b.store.UpsertNode(Node{ID: chunkNodeID(c), Type: NodeChunk, Name: c.ChunkID, Attrs: map[string]string{"doc_id": doc.DocID}})
	}
	return nil
}

// processChunk runs every extractor over chunk and cross-links the
// per-chunk results: departments found alongside an issue row link
// `responsible_for`, rectification status/action found alongside an
// issue row link `has_status`/`has_action` (spec.md §4.F).
func (b *Builder) processChunk(ctx context.Context, docID, docNodeID string, chunk registry.Chunk) error {
	var issue *Node
	var departments, statuses, actions []Node

	for _, ex := range b.extractors {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nodes, edges := ex.Extract(docID, docNodeID, chunk)
		for _, n := range nodes {
			b.store.UpsertNode(n)
			switch n.Type {
			case NodeIssue:
				nc := n
				issue = &nc
			case NodeDepartment:
				departments = append(departments, n)
			case NodeRectificationStatus:
				statuses = append(statuses, n)
			case NodeRectificationAction:
				actions = append(actions, n)
			}
		}
		for _, e := range edges {
			b.store.UpsertEdge(e)
		}
	}

	if issue == nil {
		return nil
	}
	ev := evidenceFor("graph-builder", docID, chunk.ChunkID, 0.8)
	for _, d := range departments {
		b.store.UpsertEdge(Edge{Source: d.ID, Target: issue.ID, Relation: "responsible_for", Weight: 1.0, Evidence: ev})
	}
	for _, st := range statuses {
		b.store.UpsertEdge(Edge{Source: issue.ID, Target: st.ID, Relation: "has_status", Weight: 1.0, Evidence: ev})
	}
	for _, ac := range actions {
		b.store.UpsertEdge(Edge{Source: issue.ID, Target: ac.ID, Relation: "has_action", Weight: 1.0, Evidence: ev})
	}
	return nil
}

// Rebuild clears store and replays every active document's chunks
// through the builder — the authoritative recovery operation named in
// spec.md §4.F, idempotent because Upsert* always coalesces.
func Rebuild(ctx context.Context, store *Store, builder *Builder, docs []registry.Document, chunksOf func(docID string) ([]registry.Chunk, bool)) error {
	store.Reset()
	for _, doc := range docs {
		if doc.Status != registry.StatusActive {
			continue
		}
		chunks, ok := chunksOf(doc.DocID)
		if !ok {
			continue
		}
		if err := builder.Build(ctx, doc, chunks); err != nil {
			return err
		}
	}
	return nil
}
