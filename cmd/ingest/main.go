// Command ingest batch-loads documents into an audit-rag data root
// without running the HTTP server, for scripted/offline ingestion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/llm"
	"github.com/zaozao66/audit-rag/orchestrator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		chunkerType string
		docType     string
		title       string
		profile     string
		save        bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest documents into an audit-rag data root",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, args, chunkerType, docType, title, profile, save)
		},
	}

	cmd.Flags().StringVar(&chunkerType, "chunker-type", "", "Chunker mode (regulation|audit_report|audit_issue|default|smart)")
	cmd.Flags().StringVar(&docType, "doc-type", "", "Document type (internal_regulation|external_regulation|internal_report|external_report|audit_issue)")
	cmd.Flags().StringVar(&title, "title", "", "Title applied to every file in this batch")
	cmd.Flags().StringVar(&profile, "profile", "", "Config profile name (AUDITRAG_PROFILE)")
	cmd.Flags().BoolVar(&save, "save", true, "Persist the registry/vector/graph stores after the batch completes")

	return cmd
}

func runIngest(ctx context.Context, files []string, chunkerType, docType, title, profile string, save bool) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := auditrag.LoadConfig(profile)

	chatLLM, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		return fmt.Errorf("building chat provider: %w", err)
	}
	embedLLM, err := llm.NewProvider(llm.Config(cfg.Embedding))
	if err != nil {
		return fmt.Errorf("building embedding provider: %w", err)
	}

	orch, err := orchestrator.New(cfg, chatLLM, embedLLM, nil)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	err = orch.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	defer orch.Stop()

	opts := auditrag.IngestOptions{
		Chunker:   auditrag.ChunkerOptions{Mode: auditrag.ChunkerMode(chunkerType)},
		DocType:   auditrag.DocType(docType),
		Title:     title,
		SaveAfter: save,
	}

	results := orch.Ingest(ctx, files, opts)

	var failed int
	for _, r := range results {
		fmt.Printf("%-40s %-8s doc_id=%s chunks=%d", r.File, r.Outcome, r.DocID, r.Chunks)
		if r.Err != nil {
			fmt.Printf(" error=%v", r.Err)
			failed++
		}
		fmt.Println()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", failed, len(results))
	}
	return nil
}
