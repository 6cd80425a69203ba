// Package intent implements the Intent Router: it classifies an
// incoming query into a retrieval profile (doc type filter, top_k,
// retrieval mode, rerank on/off) via an LLM classification call, with
// a deterministic keyword fallback when the LLM is unavailable or
// returns something unparseable (spec.md §4.J).
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/llm"
)

// Kind enumerates the query intents spec.md §4.J names.
type Kind string

const (
	KindRegulation Kind = "regulation_query"
	KindAudit      Kind = "audit_query"
	KindIssue      Kind = "issue_query"
	KindGeneral    Kind = "general"
)

const (
	topKFactual    = 5
	topKAnalytical = 20
)

// Result is the router's output: a fully-resolved retrieval profile
// plus the reasoning behind the classification, for the ask event
// stream's intent.done payload.
type Result struct {
	Intent        Kind
	IntentReason  string
	TopK          int
	DocTypeFilter []string
	RetrievalMode auditrag.RetrievalMode
	UseRerank     bool
}

// Router classifies queries using an LLM, falling back to a
// deterministic keyword match on failure.
type Router struct {
	chat        llm.Provider
	model       string
	defaultMode auditrag.RetrievalMode
}

// New builds a Router. defaultMode is used unless the caller overrides
// retrieval_mode explicitly (handled by the orchestrator, not here).
func New(chat llm.Provider, model string, defaultMode auditrag.RetrievalMode) *Router {
	if defaultMode == "" {
		defaultMode = auditrag.RetrievalModeHybrid
	}
	return &Router{chat: chat, model: model, defaultMode: defaultMode}
}

// Classify routes query (with an optional session summary for
// follow-up context) to a Result. It never fails: on any LLM error or
// malformed response it falls back to classifyByKeyword so retrieval
// always proceeds.
func (r *Router) Classify(ctx context.Context, query, sessionSummary string) Result {
	if r.chat != nil {
		if result, ok := r.classifyWithLLM(ctx, query, sessionSummary); ok {
			return result
		}
	}
	return r.classifyByKeyword(query)
}

type classification struct {
	Intent string `json:"intent"`
	Reason string `json:"reason"`
}

const classificationPrompt = `Classify the user's question into exactly one of:
- regulation_query: asks about a rule, policy, clause, or requirement in internal or external regulations.
- audit_query: asks about audit findings, reports, or compliance status in general.
- issue_query: asks about a specific audit issue, finding, rectification status, or responsible department.
- general: anything else, or a question spanning multiple document types.

Respond with a JSON object only: {"intent": "<one of the above>", "reason": "<one short sentence>"}`

func (r *Router) classifyWithLLM(ctx context.Context, query, sessionSummary string) (Result, bool) {
	userContent := query
	if sessionSummary != "" {
		userContent = "Prior conversation summary: " + sessionSummary + "\n\nQuestion: " + query
	}

	resp, err := r.chat.Chat(ctx, llm.ChatRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: classificationPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("intent_classification_fallback", slog.String("error", err.Error()))
		return Result{}, false
	}

	var parsed classification
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		slog.Warn("intent_classification_unparseable", slog.String("content", resp.Content))
		return Result{}, false
	}

	kind := Kind(parsed.Intent)
	switch kind {
	case KindRegulation, KindAudit, KindIssue, KindGeneral:
	default:
		return Result{}, false
	}

	return r.resolve(kind, parsed.Reason), true
}

// classifyByKeyword is the deterministic fallback: it never fails and
// always returns a usable retrieval profile.
func (r *Router) classifyByKeyword(query string) Result {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, "条款", "规定", "制度", "clause", "policy", "regulation"):
		return r.resolve(KindRegulation, "keyword match on regulation-related terms")
	case containsAny(lower, "整改", "问题", "发现", "finding", "issue", "rectif"):
		return r.resolve(KindIssue, "keyword match on audit-issue-related terms")
	case containsAny(lower, "审计", "报告", "audit", "report"):
		return r.resolve(KindAudit, "keyword match on audit-report-related terms")
	default:
		return r.resolve(KindGeneral, "no keyword matched, defaulting to general")
	}
}

func (r *Router) resolve(kind Kind, reason string) Result {
	result := Result{
		Intent:        kind,
		IntentReason:  reason,
		RetrievalMode: r.defaultMode,
		UseRerank:     true,
	}

	switch kind {
	case KindRegulation:
		result.TopK = topKFactual
		result.DocTypeFilter = []string{
			string(auditrag.DocTypeInternalRegulation),
			string(auditrag.DocTypeExternalRegulation),
		}
	case KindAudit:
		result.TopK = topKAnalytical
		result.DocTypeFilter = []string{
			string(auditrag.DocTypeInternalReport),
			string(auditrag.DocTypeExternalReport),
		}
	case KindIssue:
		result.TopK = topKAnalytical
		result.DocTypeFilter = []string{string(auditrag.DocTypeAuditIssue)}
	default:
		result.TopK = topKFactual
	}
	return result
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractJSON trims any surrounding prose the model might add despite
// json_object mode, returning the first {...} span found.
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}
