// Package registry implements the Document Registry: content-hash
// dedup, version history, logical delete, and the chunk-range mapping
// that ties a Document to the chunk records derived from it (spec.md
// §4.E).
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/text/unicode/norm"

	auditrag "github.com/zaozao66/audit-rag"
)

// Status is a Document's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Document is one row of the registry's document table (spec.md §3).
type Document struct {
	DocID       string   `json:"doc_id"`
	Filename    string   `json:"filename"`
	DocType     string   `json:"doc_type"`
	Title       string   `json:"title"`
	ContentHash string   `json:"content_hash"`
	FileSize    int64    `json:"file_size"`
	UploadedAt  string   `json:"uploaded_at"`
	Version     int      `json:"version"`
	Status      Status   `json:"status"`
	ChunkCount  int      `json:"chunk_count"`
	Tags        []string `json:"tags,omitempty"`
}

// Chunk is the registry's authoritative per-chunk record, carrying the
// full text alongside the structural metadata the vector store also
// mirrors for filtering.
type Chunk struct {
	ChunkID          string   `json:"chunk_id"`
	DocID            string   `json:"doc_id"`
	Ordinal          int      `json:"ordinal"`
	Text             string   `json:"text"`
	CharCount        int      `json:"char_count"`
	PageNumbers      []int    `json:"page_numbers"`
	Header           string   `json:"header"`
	SectionPath      []string `json:"section_path"`
	SemanticBoundary string   `json:"semantic_boundary"`
}

// Decision is the outcome of ingest_decision for a candidate upload.
type Decision struct {
	Kind          DecisionKind
	ExistingDocID string
	NewVersion    int
}

// DecisionKind enumerates the three ingest_decision outcomes.
type DecisionKind string

const (
	DecisionNew       DecisionKind = "new"
	DecisionDuplicate DecisionKind = "duplicate"
	DecisionUpdate    DecisionKind = "update"
)

// Stats summarizes the registry's current state for /info and
// /documents/stats.
type Stats struct {
	ActiveDocuments int
	DeletedDocuments int
	TotalChunks     int
}

// Registry holds documents and chunks in memory, persisted to
// registry.json.
type Registry struct {
	mu       sync.RWMutex
	docs     map[string]*Document         // doc_id -> document
	chunks   map[string][]Chunk           // doc_id -> ordered chunks
	byFile   map[string]string            // filename -> doc_id of the active doc
	dir      string
	lock     *flock.Flock
}

func registryPath(dir string) string { return filepath.Join(dir, "registry.json") }
func lockPath(dir string) string     { return filepath.Join(dir, ".registry.lock") }

// New returns an empty Registry rooted at dir. Call Load to populate it.
func New(dir string) *Registry {
	return &Registry{
		docs:   make(map[string]*Document),
		chunks: make(map[string][]Chunk),
		byFile: make(map[string]string),
		dir:    dir,
		lock:   flock.New(lockPath(dir)),
	}
}

// ContentHash normalizes text (Unicode NFC, LF line endings, trimmed
// trailing whitespace per line) and returns its SHA-256 hex digest,
// matching the Document identity rule in spec.md §3.
func ContentHash(text string) string {
	normalized := normalizeForHash(text)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeForHash(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

// DocID derives the 16-hex-digit document identity from its content
// hash (spec.md §3: "doc_id = deterministic 16-hex digest of
// canonicalised content").
func DocID(contentHash string) string {
	if len(contentHash) < 16 {
		return contentHash
	}
	return contentHash[:16]
}

// IngestDecision classifies a candidate upload per spec.md §4.E:
// duplicate iff an active document shares the same content hash;
// update iff an active document with the same filename has a different
// hash; new otherwise.
func (r *Registry) IngestDecision(contentHash, filename string) Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.docs {
		if d.Status != StatusActive {
			continue
		}
		if d.ContentHash == contentHash {
			return Decision{Kind: DecisionDuplicate, ExistingDocID: d.DocID}
		}
	}
	if existingID, ok := r.byFile[filename]; ok {
		if d, ok2 := r.docs[existingID]; ok2 && d.Status == StatusActive {
			return Decision{Kind: DecisionUpdate, ExistingDocID: d.DocID, NewVersion: d.Version + 1}
		}
	}
	return Decision{Kind: DecisionNew}
}

// CommitNew inserts a brand-new document and its chunks.
func (r *Registry) CommitNew(doc Document, chunks []Chunk) error {
	if len(chunks) == 0 {
		return auditrag.NewChunkError(doc.Filename, fmt.Errorf("document produced zero chunks"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc.Status = StatusActive
	doc.Version = 1
	doc.ChunkCount = len(chunks)
	if doc.UploadedAt == "" {
		doc.UploadedAt = time.Now().UTC().Format(time.RFC3339)
	}
	r.docs[doc.DocID] = &doc
	r.chunks[doc.DocID] = chunks
	r.byFile[doc.Filename] = doc.DocID
	return nil
}

// CommitUpdate atomically swaps an existing document's chunk set for a
// new version: the old chunk set is dropped in the same mutation that
// installs the new one, so a reader never observes a mixed state
// (spec.md §4.E's "atomic swap").
func (r *Registry) CommitUpdate(oldDocID string, newDoc Document, chunks []Chunk) error {
	if len(chunks) == 0 {
		return auditrag.NewChunkError(newDoc.Filename, fmt.Errorf("document produced zero chunks"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.docs[oldDocID]
	if !ok {
		return auditrag.NewNotFound("document %s not found", oldDocID)
	}

	newDoc.Status = StatusActive
	newDoc.Version = old.Version + 1
	newDoc.ChunkCount = len(chunks)
	if newDoc.UploadedAt == "" {
		newDoc.UploadedAt = time.Now().UTC().Format(time.RFC3339)
	}

	delete(r.chunks, oldDocID)
	if newDoc.DocID != oldDocID {
		delete(r.docs, oldDocID)
	}
	r.docs[newDoc.DocID] = &newDoc
	r.chunks[newDoc.DocID] = chunks
	r.byFile[newDoc.Filename] = newDoc.DocID
	return nil
}

// LogicalDelete marks a document deleted and drops its chunk rows while
// retaining the document row for audit history.
func (r *Registry) LogicalDelete(docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[docID]
	if !ok {
		return auditrag.NewNotFound("document %s not found", docID)
	}
	d.Status = StatusDeleted
	delete(r.chunks, docID)
	if r.byFile[d.Filename] == docID {
		delete(r.byFile, d.Filename)
	}
	return nil
}

// List returns documents matching docType/keyword/include_deleted
// filters, sorted by upload time descending.
func (r *Registry) List(docType, keyword string, includeDeleted bool) []Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Document
	for _, d := range r.docs {
		if !includeDeleted && d.Status != StatusActive {
			continue
		}
		if docType != "" && d.DocType != docType {
			continue
		}
		if keyword != "" && !strings.Contains(d.Title, keyword) && !strings.Contains(d.Filename, keyword) {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt > out[j].UploadedAt })
	return out
}

// Get returns a single document by id.
func (r *Registry) Get(docID string) (Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[docID]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// GetChunks returns a document's chunks in ordinal order.
func (r *Registry) GetChunks(docID string) ([]Chunk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.chunks[docID]
	if !ok {
		return nil, false
	}
	out := make([]Chunk, len(cs))
	copy(out, cs)
	return out, true
}

// LiveChunkIDs returns the set of chunk_ids belonging to active
// documents, used by the vector store's startup reconciliation pass.
func (r *Registry) LiveChunkIDs() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live := make(map[string]bool)
	for docID, d := range r.docs {
		if d.Status != StatusActive {
			continue
		}
		for _, c := range r.chunks[docID] {
			live[c.ChunkID] = true
		}
	}
	return live
}

// Stats summarizes registry state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	for _, d := range r.docs {
		if d.Status == StatusActive {
			s.ActiveDocuments++
			s.TotalChunks += d.ChunkCount
		} else {
			s.DeletedDocuments++
		}
	}
	return s
}

type registryFile struct {
	Documents []Document       `json:"documents"`
	Chunks    map[string][]Chunk `json:"chunks"`
}

// Save atomically persists the registry as registry.json, guarded by an
// advisory file lock.
func (r *Registry) Save() error {
	locked, err := r.lock.TryLock()
	if err != nil {
		return auditrag.NewRegistryError("acquiring registry lock", err)
	}
	if !locked {
		return auditrag.NewRegistryError("registry is locked by another process", nil)
	}
	defer r.lock.Unlock()

	r.mu.RLock()
	file := registryFile{Chunks: make(map[string][]Chunk, len(r.chunks))}
	for _, d := range r.docs {
		file.Documents = append(file.Documents, *d)
	}
	for id, cs := range r.chunks {
		file.Chunks[id] = cs
	}
	r.mu.RUnlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return auditrag.NewRegistryError("creating data root", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return auditrag.NewRegistryError("marshalling registry", err)
	}
	tmp := registryPath(r.dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return auditrag.NewRegistryError("writing registry.json", err)
	}
	if err := os.Rename(tmp, registryPath(r.dir)); err != nil {
		return auditrag.NewRegistryError("renaming registry.json into place", err)
	}
	return nil
}

// Load reads registry.json from disk. A missing file is not an error —
// it means a fresh data root.
func (r *Registry) Load() error {
	data, err := os.ReadFile(registryPath(r.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return auditrag.NewRegistryError("reading registry.json", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return auditrag.NewRegistryError("parsing registry.json", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[string]*Document, len(file.Documents))
	r.byFile = make(map[string]string, len(file.Documents))
	for i := range file.Documents {
		d := file.Documents[i]
		r.docs[d.DocID] = &d
		if d.Status == StatusActive {
			r.byFile[d.Filename] = d.DocID
		}
	}
	r.chunks = file.Chunks
	if r.chunks == nil {
		r.chunks = make(map[string][]Chunk)
	}
	return nil
}
