package orchestrator

import (
	"context"
	"strings"
	"time"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/answerer"
	"github.com/zaozao66/audit-rag/intent"
	"github.com/zaozao66/audit-rag/llm"
	"github.com/zaozao66/audit-rag/rerank"
	"github.com/zaozao66/audit-rag/retrieval"
	"github.com/zaozao66/audit-rag/session"
)

// Ask runs one ask request per spec.md §4.M: a single logical task,
// internally sequential across stages, each stage emitting exactly one
// running and one done event before the answerer streams generation.
// If sessionID is empty a new session is minted and announced via a
// session event before anything else.
func (o *Orchestrator) Ask(ctx context.Context, query string, opts auditrag.RetrievalOptions, sessionID string) (<-chan Event, error) {
	events := make(chan Event, 8)

	newSession := sessionID == ""
	if newSession {
		sessionID = o.sessions.NewSession()
	}

	go o.runAsk(ctx, query, opts, sessionID, newSession, events)

	return events, nil
}

func (o *Orchestrator) runAsk(ctx context.Context, query string, opts auditrag.RetrievalOptions, sessionID string, newSession bool, events chan<- Event) {
	defer close(events)

	if newSession {
		events <- Event{Type: EventSession, SessionID: sessionID}
	}

	history := o.sessions.History(sessionID, 0)

	events <- Event{Type: EventIntentRunning}
	intentStart := time.Now()
	ir := o.intentRouter.Classify(ctx, query, summarizeHistory(history))
	o.metrics.askStageSeconds.WithLabelValues("intent").Observe(time.Since(intentStart).Seconds())
	events <- Event{Type: EventIntentDone, Intent: toIntentSummary(ir)}

	if err := ctx.Err(); err != nil {
		events <- Event{Type: EventError, Err: auditrag.NewCancelled()}
		return
	}

	retrievalOpts := mergeRetrievalOptions(opts, ir)

	events <- Event{Type: EventRetrievalRunning}
	retrievalStart := time.Now()
	results, _, err := o.retriever.Retrieve(ctx, query, retrievalOpts)
	if err != nil {
		o.metrics.askStageSeconds.WithLabelValues("retrieval").Observe(time.Since(retrievalStart).Seconds())
		events <- Event{Type: EventError, Err: err}
		return
	}

	rerankApplied := true
	if retrievalOpts.UseRerank && o.rerankProv != nil && len(results) > 0 {
		results, rerankApplied = o.applyRerank(ctx, query, results)
	}
	o.metrics.askStageSeconds.WithLabelValues("retrieval").Observe(time.Since(retrievalStart).Seconds())
	events <- Event{Type: EventRetrievalDone, Hits: len(results), RerankApplied: rerankApplied}

	if err := ctx.Err(); err != nil {
		events <- Event{Type: EventError, Err: auditrag.NewCancelled()}
		return
	}

	sources := o.toSources(results)
	answerEvents, err := o.answerer.Answer(ctx, query, sources, toMessages(history))
	if err != nil {
		events <- Event{Type: EventError, Err: err}
		return
	}

	var finalText string
	genStart := time.Now()
	for e := range answerEvents {
		switch e.Type {
		case answerer.EventGenerationRunning:
			events <- Event{Type: EventGenerationRunning}
		case answerer.EventGenerationDelta:
			events <- Event{Type: EventGenerationDelta, Delta: e.Delta}
		case answerer.EventGenerationDone:
			finalText = e.Text
			events <- Event{Type: EventGenerationDone, Text: e.Text}
		case answerer.EventCitations:
			events <- Event{Type: EventCitations, Citations: e.Citations}
		}
	}
	o.metrics.askStageSeconds.WithLabelValues("generation").Observe(time.Since(genStart).Seconds())

	o.sessions.Append(sessionID, "user", query)
	if finalText != "" {
		o.sessions.Append(sessionID, "assistant", finalText)
	}
}

// SearchWithIntent runs intent classification and retrieval without
// streaming generation, for the non-conversational search_with_intent
// operation spec.md §4.M names.
func (o *Orchestrator) SearchWithIntent(ctx context.Context, query string) ([]retrieval.Result, intent.Result, error) {
	ir := o.intentRouter.Classify(ctx, query, "")
	opts := mergeRetrievalOptions(auditrag.RetrievalOptions{}, ir)

	results, _, err := o.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, ir, err
	}
	if opts.UseRerank && o.rerankProv != nil && len(results) > 0 {
		results, _ = o.applyRerank(ctx, query, results)
	}
	return results, ir, nil
}

// applyRerank reorders results through the rerank provider, falling
// back (per rerank.Rerank's own contract) to the incoming fused order
// on vendor failure. Candidate text is pulled from the registry since
// retrieval.Result only carries filterable metadata, not chunk text.
func (o *Orchestrator) applyRerank(ctx context.Context, query string, results []retrieval.Result) ([]retrieval.Result, bool) {
	candidates := make([]rerank.Candidate, 0, len(results))
	byID := make(map[string]retrieval.Result, len(results))
	for _, r := range results {
		text := ""
		if chunk, ok := o.chunkText(r.ChunkID); ok {
			text = chunk.Text
		}
		candidates = append(candidates, rerank.Candidate{ChunkID: r.ChunkID, Text: text})
		byID[r.ChunkID] = r
	}

	scored, applied := rerank.Rerank(ctx, o.rerankProv, query, candidates, len(results))
	out := make([]retrieval.Result, 0, len(scored))
	for _, s := range scored {
		if r, ok := byID[s.ChunkID]; ok {
			r.Score = s.Score
			out = append(out, r)
		}
	}
	return out, applied
}

// toSources resolves each result's chunk text from the registry and
// shapes it into the answerer's ranked source list.
func (o *Orchestrator) toSources(results []retrieval.Result) []answerer.Source {
	sources := make([]answerer.Source, 0, len(results))
	for _, r := range results {
		text := ""
		if chunk, ok := o.chunkText(r.ChunkID); ok {
			text = chunk.Text
		}
		sources = append(sources, answerer.Source{
			ChunkID:     r.ChunkID,
			DocID:       r.Metadata.DocID,
			Filename:    r.Metadata.Filename,
			SectionPath: r.Metadata.SectionPath,
			Text:        text,
			PageNumbers: r.Metadata.PageNos,
			Score:       r.Score,
			VectorScore: r.VectorScore,
			GraphScore:  r.GraphScore,
		})
	}
	return sources
}

// mergeRetrievalOptions layers caller-supplied overrides over the
// intent router's resolved profile: an explicit Mode/TopK/DocTypeFilter
// from the caller wins, everything left unset takes the intent's value.
func mergeRetrievalOptions(caller auditrag.RetrievalOptions, ir intent.Result) auditrag.RetrievalOptions {
	out := caller
	if out.Mode == "" {
		out.Mode = ir.RetrievalMode
	}
	if out.TopK <= 0 {
		out.TopK = ir.TopK
	}
	if len(out.DocTypeFilter) == 0 {
		out.DocTypeFilter = ir.DocTypeFilter
	}
	out.UseRerank = caller.UseRerank || ir.UseRerank
	return out
}

func toIntentSummary(r intent.Result) *IntentSummary {
	return &IntentSummary{
		Intent:        string(r.Intent),
		IntentReason:  r.IntentReason,
		TopK:          r.TopK,
		DocTypeFilter: r.DocTypeFilter,
		RetrievalMode: string(r.RetrievalMode),
		UseRerank:     r.UseRerank,
	}
}

func toMessages(turns []session.Turn) []llm.Message {
	if len(turns) == 0 {
		return nil
	}
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		out[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return out
}

// summarizeHistory gives the intent classifier a short digest of prior
// turns rather than the full transcript, keeping the classification
// prompt small.
func summarizeHistory(turns []session.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	const maxTurns = 4
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
