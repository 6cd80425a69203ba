// Package answerer implements the Answerer: it builds a cited prompt
// from ranked chunks, streams the LLM's response, and resolves inline
// [S<n>] citation tokens against the chunks actually offered
// (spec.md §4.K).
package answerer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zaozao66/audit-rag/llm"
)

// Source is one ranked chunk offered to the model as SN, in the order
// it should be presented (first = S1).
type Source struct {
	ChunkID     string
	DocID       string
	Filename    string
	SectionPath []string
	Text        string
	PageNumbers []int
	Score       float64
	VectorScore float64
	GraphScore  float64
}

// Citation is one resolved [S<n>] reference, in first-appearance order
// in the final answer text.
type Citation struct {
	SourceID    string
	ChunkID     string
	Filename    string
	Preview     string
	PageNumbers []int
	Score       float64
	VectorScore float64
	GraphScore  float64
}

// EventType enumerates the staged progress events spec.md §4.K names
// for the generation phase. Intent and retrieval stage events are
// emitted by the orchestrator, which wraps those components directly.
type EventType string

const (
	EventGenerationRunning EventType = "generation.running"
	EventGenerationDelta   EventType = "generation.delta"
	EventGenerationDone    EventType = "generation.done"
	EventCitations         EventType = "citations"
)

// Event is one item on the Answer stream.
type Event struct {
	Type      EventType
	Delta     string
	Text      string
	Citations []Citation
}

const insufficientContextReply = "抱歉，现有检索结果不足以回答这个问题，无法找到相关依据。"

var citationToken = regexp.MustCompile(`\[S(\d+)\]`)

// Answerer streams LLM-generated answers grounded in a ranked source
// list, with citation resolution per spec.md §4.K's guarantees.
type Answerer struct {
	chat  llm.Provider
	model string
}

// New builds an Answerer.
func New(chat llm.Provider, model string) *Answerer {
	return &Answerer{chat: chat, model: model}
}

// Answer streams the model's response to question given sources (the
// reranked, ordered chunk list) and history (bounded prior turns from
// Session Memory). If sources is empty it short-circuits to the fixed
// "insufficient context" reply without calling the model, per
// guarantee (c).
func (a *Answerer) Answer(ctx context.Context, question string, sources []Source, history []llm.Message) (<-chan Event, error) {
	events := make(chan Event, 8)

	if len(sources) == 0 {
		go func() {
			defer close(events)
			events <- Event{Type: EventGenerationRunning}
			events <- Event{Type: EventGenerationDelta, Delta: insufficientContextReply}
			events <- Event{Type: EventGenerationDone, Text: insufficientContextReply}
			events <- Event{Type: EventCitations, Citations: []Citation{}}
		}()
		return events, nil
	}

	messages := buildMessages(question, sources, history)
	chunks, errc := a.chat.StreamChat(ctx, llm.ChatRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: 0,
	})

	go func() {
		defer close(events)
		events <- Event{Type: EventGenerationRunning}

		var full strings.Builder
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					break
				}
				if chunk.Delta != "" {
					full.WriteString(chunk.Delta)
					events <- Event{Type: EventGenerationDelta, Delta: chunk.Delta}
				}
				if chunk.Done {
					chunks = nil
				}
			case err, ok := <-errc:
				if ok && err != nil {
					events <- Event{Type: EventGenerationDone, Text: full.String()}
					events <- Event{Type: EventCitations, Citations: []Citation{}}
					return
				}
				errc = nil
			}
			if chunks == nil && errc == nil {
				break
			}
		}

		finalText, citations := resolveCitations(full.String(), sources)
		events <- Event{Type: EventGenerationDone, Text: finalText}
		events <- Event{Type: EventCitations, Citations: citations}
	}()

	return events, nil
}

const systemInstructions = `You are an audit and compliance assistant. Answer strictly from the numbered sources provided below.

Rules:
1. Every factual claim must carry an inline citation token of the form [S<n>], where n is the source number it came from.
2. Never invent a source number that was not provided.
3. If the sources do not contain enough information to answer, say so plainly instead of guessing.
4. Preserve exact clause numbers, department names, and amounts as they appear in the sources.`

func buildMessages(question string, sources []Source, history []llm.Message) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: systemInstructions}}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: buildUserPrompt(question, sources)})
	return messages
}

func buildUserPrompt(question string, sources []Source) string {
	var b strings.Builder
	b.WriteString("Sources:\n\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "[S%d] %s", i+1, s.Filename)
		if len(s.SectionPath) > 0 {
			fmt.Fprintf(&b, " | %s", strings.Join(s.SectionPath, " > "))
		}
		if len(s.PageNumbers) > 0 {
			fmt.Fprintf(&b, " | p.%d", s.PageNumbers[0])
		}
		b.WriteString("\n")
		b.WriteString(s.Text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

// resolveCitations strips any [S<n>] token that doesn't resolve to a
// provided source and builds the citation table in first-appearance
// order, satisfying guarantees (a) and (b).
func resolveCitations(text string, sources []Source) (string, []Citation) {
	answerWords := significantWords(text)
	seen := make(map[int]bool)
	var citations []Citation

	cleaned := citationToken.ReplaceAllStringFunc(text, func(tok string) string {
		m := citationToken.FindStringSubmatch(tok)
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(sources) {
			return ""
		}
		if !seen[n] {
			seen[n] = true
			s := sources[n-1]
			citations = append(citations, Citation{
				SourceID:    fmt.Sprintf("S%d", n),
				ChunkID:     s.ChunkID,
				Filename:    s.Filename,
				Preview:     preview(s.Text, answerWords),
				PageNumbers: s.PageNumbers,
				Score:       s.Score,
				VectorScore: s.VectorScore,
				GraphScore:  s.GraphScore,
			})
		}
		return tok
	})

	if citations == nil {
		citations = []Citation{}
	}
	return cleaned, citations
}
