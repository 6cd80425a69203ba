package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/llm"
	"github.com/zaozao66/audit-rag/orchestrator"
	"github.com/zaozao66/audit-rag/rerank"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	profile := flag.String("profile", "", "Config profile name")
	flag.Parse()

	if *profile != "" {
		os.Setenv("AUDITRAG_PROFILE", *profile)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := auditrag.LoadConfig(os.Getenv("AUDITRAG_PROFILE"))

	chatLLM, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		slog.Error("building chat provider", "error", err)
		os.Exit(1)
	}
	embedLLM, err := llm.NewProvider(llm.Config(cfg.Embedding))
	if err != nil {
		slog.Error("building embedding provider", "error", err)
		os.Exit(1)
	}

	var rerankProv rerank.Provider
	if cfg.Rerank.BaseURL != "" {
		rerankProv = rerank.NewHTTPProvider(cfg.Rerank.BaseURL, rerank.HTTPConfig{Model: cfg.Rerank.Model})
	}

	orch, err := orchestrator.New(cfg, chatLLM, embedLLM, rerankProv)
	if err != nil {
		slog.Error("creating orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := orch.Start(ctx); err != nil {
		cancelStart()
		slog.Error("starting orchestrator", "error", err)
		os.Exit(1)
	}
	cancelStart()

	apiKey := os.Getenv("AUDITRAG_API_KEY")
	corsOrigins := os.Getenv("AUDITRAG_CORS_ORIGINS")

	h := newHandler(orch)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload_store", h.handleUploadStore)
	mux.HandleFunc("POST /search_with_intent", h.handleSearchWithIntent)
	mux.HandleFunc("POST /ask", h.handleAsk)
	mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	mux.HandleFunc("GET /info", h.handleInfo)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /documents/stats", h.handleDocumentStats)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("GET /documents/{id}/chunks", h.handleGetDocumentChunks)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("DELETE /documents", h.handleClearDocuments)
	mux.HandleFunc("POST /graph/rebuild", h.handleGraphRebuild)

	// Middleware chain: recovery -> cors -> auth -> request ID -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (ask, chat completions)
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := orch.Stop(); err != nil {
		slog.Error("orchestrator stop error", "error", err)
	}

	slog.Info("server stopped")
}
