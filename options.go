package auditrag

// RetrievalMode selects which side(s) of the dual index a query uses.
type RetrievalMode string

const (
	RetrievalModeVector RetrievalMode = "vector"
	RetrievalModeGraph  RetrievalMode = "graph"
	RetrievalModeHybrid RetrievalMode = "hybrid"
)

// RetrievalOptions replaces the dynamic kwargs the original took for a
// search call. Zero values mean "use the deployment default".
type RetrievalOptions struct {
	Mode           RetrievalMode
	Hops           int
	Alpha          float64
	TopK           int
	RerankTopK     int
	UseGraph       bool
	UseRerank      bool
	DocTypeFilter  []string
	DocIDFilter    []string
	TitleSubstring string
}

// ChunkerMode selects the structural splitter.
type ChunkerMode string

const (
	ChunkerModeRegulation  ChunkerMode = "regulation"
	ChunkerModeAuditReport ChunkerMode = "audit_report"
	ChunkerModeAuditIssue  ChunkerMode = "audit_issue"
	ChunkerModeDefault     ChunkerMode = "default"
	ChunkerModeSmart       ChunkerMode = "smart"
)

// ChunkerOptions configures a single chunking operation.
type ChunkerOptions struct {
	Mode    ChunkerMode
	Size    int
	Overlap int
}

// DocType enumerates the registry's normalised document types.
type DocType string

const (
	DocTypeInternalRegulation DocType = "internal_regulation"
	DocTypeExternalRegulation DocType = "external_regulation"
	DocTypeInternalReport     DocType = "internal_report"
	DocTypeExternalReport     DocType = "external_report"
	DocTypeAuditIssue         DocType = "audit_issue"
)

// IngestOptions configures a single file's ingest unit.
type IngestOptions struct {
	Chunker         ChunkerOptions
	DocType         DocType
	SaveAfter       bool
	Title           string
}
