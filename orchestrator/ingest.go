package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/chunker"
	"github.com/zaozao66/audit-rag/registry"
	"github.com/zaozao66/audit-rag/vectorstore"
)

// maxEmbedChars bounds the text handed to the embedding model per
// chunk, matching the teacher's truncateForEmbed budget.
const maxEmbedChars = 24000

// Outcome is one ingest unit's result, per spec.md §4.M.
type Outcome string

const (
	OutcomeNew     Outcome = "new"
	OutcomeSkipped Outcome = "skipped"
	OutcomeUpdated Outcome = "updated"
	OutcomeFailed  Outcome = "failed"
)

// IngestResult is one file's outcome within an Ingest request.
type IngestResult struct {
	File    string
	Outcome Outcome
	DocID   string
	Chunks  int
	Err     error
}

// Ingest runs parse → chunk → dedup → embed → commit independently for
// each file. Units run concurrently up to cfg.IngestConcurrency, but
// results are reported at the file's original index so the caller
// observes submission order regardless of completion order (spec.md
// §5's ordering guarantee).
func (o *Orchestrator) Ingest(ctx context.Context, files []string, opts auditrag.IngestOptions) []IngestResult {
	results := make([]IngestResult, len(files))

	concurrency := o.cfg.IngestConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = IngestResult{File: file, Outcome: OutcomeFailed, Err: auditrag.NewCancelled()}
				return
			}
			results[i] = o.ingestOne(ctx, file, opts)
		}(i, file)
	}
	wg.Wait()

	for _, r := range results {
		o.metrics.ingestUnitsTotal.WithLabelValues(string(r.Outcome)).Inc()
	}
	return results
}

func (o *Orchestrator) ingestOne(ctx context.Context, file string, opts auditrag.IngestOptions) IngestResult {
	filename := filepath.Base(file)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file), "."))
	start := time.Now()

	p, err := o.parsers.Get(ext)
	if err != nil {
		return IngestResult{File: file, Outcome: OutcomeFailed, Err: auditrag.NewParseError(file, err)}
	}

	parsed, err := p.Parse(ctx, file)
	if err != nil {
		return IngestResult{File: file, Outcome: OutcomeFailed, Err: auditrag.NewParseError(file, err)}
	}

	chunks, err := chunker.New(opts.Chunker).Chunk(parsed.Blocks)
	if err != nil {
		return IngestResult{File: file, Outcome: OutcomeFailed, Err: err}
	}

	var fullText strings.Builder
	for _, c := range chunks {
		fullText.WriteString(c.Text)
		fullText.WriteString("\n")
	}
	contentHash := registry.ContentHash(fullText.String())

	// Fast-path duplicate check before the (potentially slow) embedding
	// call. This is an optimization only — the authoritative check
	// happens again under the write lane right before commit, since a
	// concurrent unit could commit the same hash in between.
	if d := o.registry.IngestDecision(contentHash, filename); d.Kind == registry.DecisionDuplicate {
		slog.Info("ingest: duplicate, skipping", "file", filename, "doc_id", d.ExistingDocID)
		return IngestResult{File: file, Outcome: OutcomeSkipped, DocID: d.ExistingDocID, Chunks: len(chunks)}
	}

	docID := registry.DocID(contentHash)
	title := opts.Title
	if title == "" {
		title = filename
	}
	var fileSize int64
	if info, statErr := os.Stat(file); statErr == nil {
		fileSize = info.Size()
	}

	doc := registry.Document{
		DocID:       docID,
		Filename:    filename,
		DocType:     string(opts.DocType),
		Title:       title,
		ContentHash: contentHash,
		FileSize:    fileSize,
	}

	regChunks := make([]registry.Chunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		regChunks[i] = registry.Chunk{
			ChunkID:          registerChunkID(docID, i),
			DocID:            docID,
			Ordinal:          c.Ordinal,
			Text:             c.Text,
			CharCount:        c.CharCount,
			PageNumbers:      c.PageNumbers,
			Header:           c.Header,
			SectionPath:      c.SectionPath,
			SemanticBoundary: c.SemanticBoundary,
		}
		prefix := ""
		if c.Header != "" {
			prefix = c.Header + ": "
		}
		texts[i] = truncateForEmbed(prefix + c.Text)
	}

	slog.Info("ingest: embedding chunks", "file", filename, "chunks", len(texts))
	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return IngestResult{File: file, Outcome: OutcomeFailed, Err: auditrag.NewEmbeddingError(true, err)}
	}

	// The decision+commit phase must be atomic to avoid two concurrent
	// units racing the same filename or content hash; parsing,
	// chunking, and embedding above ran outside the write lane.
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	decision := o.registry.IngestDecision(contentHash, filename)
	if decision.Kind == registry.DecisionDuplicate {
		slog.Info("ingest: duplicate detected at commit, skipping", "file", filename, "doc_id", decision.ExistingDocID)
		return IngestResult{File: file, Outcome: OutcomeSkipped, DocID: decision.ExistingDocID, Chunks: len(chunks)}
	}

	metas := make([]vectorstore.Metadata, len(regChunks))
	for i, c := range regChunks {
		metas[i] = vectorstore.Metadata{
			ChunkID:     c.ChunkID,
			DocID:       docID,
			DocType:     string(opts.DocType),
			Title:       title,
			Filename:    filename,
			PageNos:     c.PageNumbers,
			Header:      c.Header,
			SectionPath: c.SectionPath,
		}
	}

	outcome := OutcomeNew
	if decision.Kind == registry.DecisionUpdate {
		if old, ok := o.registry.Get(decision.ExistingDocID); ok {
			if _, err := o.vectors.DeleteByDoc(old.DocID); err != nil {
				return IngestResult{File: file, Outcome: OutcomeFailed, Err: auditrag.NewVectorStoreError("delete-by-doc", err)}
			}
		}
		if err := o.registry.CommitUpdate(decision.ExistingDocID, doc, regChunks); err != nil {
			return IngestResult{File: file, Outcome: OutcomeFailed, Err: err}
		}
		outcome = OutcomeUpdated
	} else {
		if err := o.registry.CommitNew(doc, regChunks); err != nil {
			return IngestResult{File: file, Outcome: OutcomeFailed, Err: err}
		}
	}

	if _, _, err := o.vectors.Add(vectors, metas); err != nil {
		return IngestResult{File: file, Outcome: OutcomeFailed, DocID: docID, Err: auditrag.NewVectorStoreError("add", err)}
	}

	if o.graphBuilder != nil {
		if err := o.graphBuilder.Build(ctx, doc, regChunks); err != nil {
			slog.Warn("ingest: graph build had errors (non-fatal)", "file", filename, "doc_id", docID, "error", err)
		}
	}

	if opts.SaveAfter {
		if err := o.saveAllLocked(); err != nil {
			slog.Warn("ingest: persist failed", "file", filename, "error", err)
		}
	}

	slog.Info("ingest: unit complete", "file", filename, "doc_id", docID, "outcome", outcome,
		"chunks", len(regChunks), "elapsed", time.Since(start).Round(time.Millisecond))
	return IngestResult{File: file, Outcome: outcome, DocID: docID, Chunks: len(regChunks)}
}

// truncateForEmbed truncates text to maxEmbedChars on a word boundary,
// matching the teacher's embedding-context-limit guard.
func truncateForEmbed(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := strings.LastIndex(text[:maxEmbedChars], " ")
	if cut <= 0 {
		cut = maxEmbedChars
	}
	return text[:cut] + fmt.Sprintf(" ...[truncated %d chars]", len(text)-cut)
}
