package orchestrator

import "github.com/zaozao66/audit-rag/answerer"

// EventType enumerates the full staged event sequence an ask request
// emits: the orchestrator's own session/intent/retrieval stages,
// followed by the generation/citations stages the Answerer emits
// directly (spec.md §4.K, §4.M).
type EventType string

const (
	EventSession           EventType = "session"
	EventIntentRunning     EventType = "intent.running"
	EventIntentDone        EventType = "intent.done"
	EventRetrievalRunning  EventType = "retrieval.running"
	EventRetrievalDone     EventType = "retrieval.done"
	EventGenerationRunning EventType = answerer.EventType(answerer.EventGenerationRunning)
	EventGenerationDelta   EventType = answerer.EventType(answerer.EventGenerationDelta)
	EventGenerationDone    EventType = answerer.EventType(answerer.EventGenerationDone)
	EventCitations         EventType = answerer.EventType(answerer.EventCitations)
	EventError             EventType = "error"
)

// Event is one item on an Ask response stream.
type Event struct {
	Type EventType

	SessionID string

	Intent *IntentSummary

	Hits          int
	RerankApplied bool

	Delta string
	Text  string

	Citations []answerer.Citation

	Err error
}

// IntentSummary is the intent.done payload: enough of intent.Result for
// a caller to render without importing the intent package directly.
type IntentSummary struct {
	Intent        string
	IntentReason  string
	TopK          int
	DocTypeFilter []string
	RetrievalMode string
	UseRerank     bool
}
