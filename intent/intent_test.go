package intent

import (
	"context"
	"testing"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/llm"
)

func TestClassifyByKeyword_Regulation(t *testing.T) {
	r := New(nil, "", auditrag.RetrievalModeHybrid)
	result := r.Classify(context.Background(), "公司的采购制度是什么？", "")
	if result.Intent != KindRegulation {
		t.Errorf("intent = %q, want regulation_query", result.Intent)
	}
	if result.TopK != topKFactual {
		t.Errorf("top_k = %d, want %d for a factual intent", result.TopK, topKFactual)
	}
	if len(result.DocTypeFilter) == 0 {
		t.Error("expected a doc type filter restricted to regulations")
	}
}

func TestClassifyByKeyword_Issue(t *testing.T) {
	r := New(nil, "", auditrag.RetrievalModeHybrid)
	result := r.Classify(context.Background(), "这个审计问题的整改状态是什么？", "")
	if result.Intent != KindIssue {
		t.Errorf("intent = %q, want issue_query", result.Intent)
	}
	if result.TopK != topKAnalytical {
		t.Errorf("top_k = %d, want %d for an analytical intent", result.TopK, topKAnalytical)
	}
}

func TestClassifyByKeyword_GeneralDefaultsWhenNothingMatches(t *testing.T) {
	r := New(nil, "", auditrag.RetrievalModeHybrid)
	result := r.Classify(context.Background(), "你好", "")
	if result.Intent != KindGeneral {
		t.Errorf("intent = %q, want general", result.Intent)
	}
	if len(result.DocTypeFilter) != 0 {
		t.Error("general intent should leave doc_type_filter unrestricted")
	}
}

func TestClassify_UsesKeywordFallbackWhenNoProviderConfigured(t *testing.T) {
	r := New(nil, "", auditrag.RetrievalModeVector)
	result := r.Classify(context.Background(), "审计报告里有什么发现", "")
	if result.RetrievalMode != auditrag.RetrievalModeVector {
		t.Errorf("retrieval mode = %q, want the configured default", result.RetrievalMode)
	}
}

type failingProvider struct{ llm.Provider }

func (failingProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errFail
}

var errFail = &chatError{"llm unavailable"}

type chatError struct{ msg string }

func (e *chatError) Error() string { return e.msg }

func TestClassify_FallsBackOnLLMFailure(t *testing.T) {
	r := New(failingProvider{}, "test-model", auditrag.RetrievalModeHybrid)
	result := r.Classify(context.Background(), "采购审批流程的规定是什么", "")
	if result.Intent != KindRegulation {
		t.Errorf("expected fallback classification to still resolve intent, got %q", result.Intent)
	}
}

func TestExtractJSON_StripsSurroundingProse(t *testing.T) {
	content := "Here is the result:\n{\"intent\": \"general\", \"reason\": \"x\"}\nThanks."
	got := extractJSON(content)
	want := `{"intent": "general", "reason": "x"}`
	if got != want {
		t.Errorf("extractJSON = %q, want %q", got, want)
	}
}
