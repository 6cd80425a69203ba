package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/orchestrator"
)

type handler struct {
	orch *orchestrator.Orchestrator
}

func newHandler(o *orchestrator.Orchestrator) *handler {
	return &handler{orch: o}
}

// POST /upload_store
// Multipart: files[] (repeated), chunker_type, doc_type, title,
// save_after_processing. Returns a per-batch summary, per spec.md §6.
func (h *handler) handleUploadStore(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(512 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with files[]")
		return
	}

	uploaded := r.MultipartForm.File["files[]"]
	if len(uploaded) == 0 {
		uploaded = r.MultipartForm.File["files"]
	}
	if len(uploaded) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	chunkerMode := auditrag.ChunkerMode(r.FormValue("chunker_type"))
	docType := auditrag.DocType(r.FormValue("doc_type"))
	title := r.FormValue("title")
	saveAfter := r.FormValue("save_after_processing") == "true"

	tmpDir, err := os.MkdirTemp("", "auditrag-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	defer os.RemoveAll(tmpDir)

	var paths []string
	for _, fh := range uploaded {
		safeName := filepath.Base(fh.Filename)
		path := filepath.Join(tmpDir, safeName)
		if err := stageUpload(fh, path); err != nil {
			slog.Error("staging upload", "request_id", requestIDFromContext(r.Context()), "file", safeName, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		writeError(w, http.StatusBadRequest, "no files could be staged")
		return
	}

	results := h.orch.Ingest(ctx, paths, auditrag.IngestOptions{
		Chunker:   auditrag.ChunkerOptions{Mode: chunkerMode},
		DocType:   docType,
		Title:     title,
		SaveAfter: saveAfter,
	})

	summary := struct {
		Processed   int    `json:"processed"`
		Skipped     int    `json:"skipped"`
		Updated     int    `json:"updated"`
		Failed      int    `json:"failed"`
		TotalChunks int    `json:"total_chunks"`
		ChunkerUsed string `json:"chunker_used"`
	}{ChunkerUsed: string(chunkerMode)}
	if summary.ChunkerUsed == "" {
		summary.ChunkerUsed = string(auditrag.ChunkerModeSmart)
	}

	for _, res := range results {
		summary.TotalChunks += res.Chunks
		switch res.Outcome {
		case orchestrator.OutcomeNew:
			summary.Processed++
		case orchestrator.OutcomeSkipped:
			summary.Skipped++
		case orchestrator.OutcomeUpdated:
			summary.Updated++
		case orchestrator.OutcomeFailed:
			summary.Failed++
			slog.Error("ingest unit failed", "request_id", requestIDFromContext(r.Context()), "file", res.File, "error", res.Err)
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

func stageUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

// POST /search_with_intent
func (h *handler) handleSearchWithIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query         string  `json:"query"`
		RetrievalMode string  `json:"retrieval_mode,omitempty"`
		GraphHops     int     `json:"graph_hops,omitempty"`
		HybridAlpha   float64 `json:"hybrid_alpha,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, ir, err := h.orch.SearchWithIntent(ctx, req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search_with_intent error", "request_id", requestIDFromContext(r.Context()), "query", req.Query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intent":          ir.Intent,
		"intent_reason":   ir.IntentReason,
		"suggested_top_k": ir.TopK,
		"retrieval_mode":  ir.RetrievalMode,
		"results":         results,
	})
}

// POST /ask (non-streaming): drains the full event stream and returns
// the final answer text plus citations, per spec.md §6.
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req struct {
		Query         string `json:"query"`
		SessionID     string `json:"session_id,omitempty"`
		RetrievalMode string `json:"retrieval_mode,omitempty"`
		UseGraph      bool   `json:"use_graph,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := auditrag.RetrievalOptions{
		Mode:     auditrag.RetrievalMode(req.RetrievalMode),
		UseGraph: req.UseGraph,
	}

	events, err := h.orch.Ask(ctx, req.Query, opts, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ask failed")
		return
	}

	var answerText, sessionID string
	var citations []interface{}
	for e := range events {
		switch e.Type {
		case orchestrator.EventSession:
			sessionID = e.SessionID
		case orchestrator.EventGenerationDone:
			answerText = e.Text
		case orchestrator.EventCitations:
			for _, c := range e.Citations {
				citations = append(citations, c)
			}
		case orchestrator.EventError:
			writeError(w, http.StatusInternalServerError, "ask failed")
			slog.Error("ask error", "request_id", requestIDFromContext(r.Context()), "query", req.Query, "error", e.Err)
			return
		}
	}
	if sessionID == "" {
		sessionID = req.SessionID
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":     answerText,
		"session_id": sessionID,
		"citations":  citations,
	})
}

// POST /v1/chat/completions
// OpenAI-shaped chat endpoint streamed as SSE (spec.md §6): progress,
// session, citations, delta.content events, terminated by [DONE].
func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Stream        bool   `json:"stream,omitempty"`
		SessionID     string `json:"session_id,omitempty"`
		RetrievalMode string `json:"retrieval_mode,omitempty"`
		UseGraph      bool   `json:"use_graph,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var query string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			query = req.Messages[i].Content
			break
		}
	}
	if query == "" {
		writeError(w, http.StatusBadRequest, "no user message found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	opts := auditrag.RetrievalOptions{
		Mode:     auditrag.RetrievalMode(req.RetrievalMode),
		UseGraph: req.UseGraph,
	}

	events, err := h.orch.Ask(ctx, query, opts, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ask failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for e := range events {
		switch e.Type {
		case orchestrator.EventSession:
			writeSSE(w, flusher, "session", map[string]string{"session_id": e.SessionID})
		case orchestrator.EventIntentRunning, orchestrator.EventRetrievalRunning:
			writeSSE(w, flusher, "progress", map[string]string{"stage": string(e.Type)})
		case orchestrator.EventIntentDone:
			writeSSE(w, flusher, "progress", map[string]interface{}{"stage": string(e.Type), "intent": e.Intent})
		case orchestrator.EventRetrievalDone:
			writeSSE(w, flusher, "progress", map[string]interface{}{"stage": string(e.Type), "hits": e.Hits})
		case orchestrator.EventGenerationDelta:
			writeSSE(w, flusher, "delta.content", map[string]string{"content": e.Delta})
		case orchestrator.EventCitations:
			writeSSE(w, flusher, "citations", map[string]interface{}{"citations": e.Citations})
		case orchestrator.EventError:
			writeSSE(w, flusher, "error", map[string]string{"error": e.Err.Error()})
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// GET /info
func (h *handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := h.orch.Stats()
	nodes, edges := h.orch.GraphCounts()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_documents":  stats.ActiveDocuments,
		"deleted_documents": stats.DeletedDocuments,
		"total_chunks":      stats.TotalChunks,
		"vector_count":      h.orch.VectorCount(),
		"graph_nodes":       nodes,
		"graph_edges":       edges,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /documents[?doc_type&keyword&include_deleted]
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeDeleted := q.Get("include_deleted") == "true"
	docs := h.orch.ListDocuments(q.Get("doc_type"), q.Get("keyword"), includeDeleted)
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// GET /documents/stats
func (h *handler) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Stats())
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, ok := h.orch.GetDocument(id)
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GET /documents/{id}/chunks[?include_text]
func (h *handler) handleGetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chunks, ok := h.orch.GetChunks(id)
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	includeText := r.URL.Query().Get("include_text") == "true"
	if !includeText {
		for i := range chunks {
			chunks[i].Text = ""
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orch.DeleteDocument(id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete document error", "request_id", requestIDFromContext(r.Context()), "doc_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DELETE /documents (clear all)
func (h *handler) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ClearAll(); err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed")
		slog.Error("clear documents error", "request_id", requestIDFromContext(r.Context()), "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// POST /graph/rebuild
func (h *handler) handleGraphRebuild(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := h.orch.RebuildGraph(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		slog.Error("graph rebuild error", "request_id", requestIDFromContext(r.Context()), "error", err)
		return
	}
	nodes, edges := h.orch.GraphCounts()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "rebuilt", "nodes": nodes, "edges": edges})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
