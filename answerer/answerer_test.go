package answerer

import (
	"context"
	"testing"
	"time"

	"github.com/zaozao66/audit-rag/llm"
)

type stubStreamProvider struct {
	deltas []string
}

func (s *stubStreamProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}

func (s *stubStreamProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk, len(s.deltas)+1)
	errc := make(chan error)
	for _, d := range s.deltas {
		chunks <- llm.StreamChunk{Delta: d}
	}
	chunks <- llm.StreamChunk{Done: true}
	close(chunks)
	close(errc)
	return chunks, errc
}

func (s *stubStreamProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestAnswer_NoSourcesReturnsInsufficientContext(t *testing.T) {
	a := New(&stubStreamProvider{}, "test-model")
	events, err := a.Answer(context.Background(), "question?", nil, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	got := collect(t, events)

	var citationsEvent *Event
	for i := range got {
		if got[i].Type == EventCitations {
			citationsEvent = &got[i]
		}
	}
	if citationsEvent == nil {
		t.Fatal("expected a citations event")
	}
	if len(citationsEvent.Citations) != 0 {
		t.Errorf("expected empty citations for insufficient context, got %v", citationsEvent.Citations)
	}
}

func TestAnswer_ResolvesCitationTokensInFirstAppearanceOrder(t *testing.T) {
	provider := &stubStreamProvider{deltas: []string{"采购超标，依据[S2]。另见", "[S1]关于审批流程的规定。"}}
	a := New(provider, "test-model")
	sources := []Source{
		{ChunkID: "c1", Filename: "审批制度.pdf", Text: "审批流程应逐级签字确认。"},
		{ChunkID: "c2", Filename: "审计报告.pdf", Text: "采购金额超出预算50万元，未履行审批。"},
	}

	events, err := a.Answer(context.Background(), "采购问题是什么？", sources, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	got := collect(t, events)

	var citations []Citation
	for _, e := range got {
		if e.Type == EventCitations {
			citations = e.Citations
		}
	}
	if len(citations) != 2 {
		t.Fatalf("expected 2 resolved citations, got %d: %+v", len(citations), citations)
	}
	if citations[0].SourceID != "S2" || citations[1].SourceID != "S1" {
		t.Errorf("expected first-appearance order S2 then S1, got %s then %s", citations[0].SourceID, citations[1].SourceID)
	}
}

func TestResolveCitations_StripsUnresolvedTokens(t *testing.T) {
	sources := []Source{{ChunkID: "c1", Filename: "a.pdf", Text: "内容"}}
	text, citations := resolveCitations("根据[S1]和[S9]的内容。", sources)
	if containsToken(text, "[S9]") {
		t.Errorf("expected unresolved [S9] stripped, got %q", text)
	}
	if !containsToken(text, "[S1]") {
		t.Errorf("expected resolved [S1] kept, got %q", text)
	}
	if len(citations) != 1 || citations[0].SourceID != "S1" {
		t.Errorf("expected exactly one citation for S1, got %+v", citations)
	}
}

func containsToken(s, tok string) bool {
	for i := 0; i+len(tok) <= len(s); i++ {
		if s[i:i+len(tok)] == tok {
			return true
		}
	}
	return false
}
