// Package vectorstore implements the flat vector index: a dense matrix of
// embeddings with parallel per-chunk metadata, persisted as a paired
// (.index, .docs) file on disk (spec.md §4.D).
package vectorstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	auditrag "github.com/zaozao66/audit-rag"
)

// Metadata is the filterable, per-row sidecar stored in .docs.
type Metadata struct {
	ChunkID     string   `json:"chunk_id"`
	DocID       string   `json:"doc_id"`
	DocType     string   `json:"doc_type"`
	Title       string   `json:"title"`
	Filename    string   `json:"filename"`
	PageNos     []int    `json:"page_nos"`
	Header      string   `json:"header"`
	SectionPath []string `json:"section_path"`
}

// Filter is an AND of optional constraints applied during Search.
type Filter struct {
	DocTypes       []string
	DocIDs         []string
	TitleSubstring string
}

func (f Filter) matches(m Metadata) bool {
	if len(f.DocTypes) > 0 && !contains(f.DocTypes, m.DocType) {
		return false
	}
	if len(f.DocIDs) > 0 && !contains(f.DocIDs, m.DocID) {
		return false
	}
	if f.TitleSubstring != "" && !strings.Contains(m.Title, f.TitleSubstring) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Result is one ranked search hit.
type Result struct {
	ChunkID  string
	Score    float64
	Metadata Metadata
}

// Store holds the flat matrix and its parallel metadata, guarded by a
// single RWMutex (multi-reader / single-writer per spec.md §5).
type Store struct {
	mu     sync.RWMutex
	dim    int
	rows   [][]float32
	metas  []Metadata
	dir    string
	lock   *flock.Flock
}

func indexPath(dir string) string { return filepath.Join(dir, "vector.index") }
func docsPath(dir string) string  { return filepath.Join(dir, "vector.docs") }
func lockPath(dir string) string  { return filepath.Join(dir, ".vector.lock") }

// New returns an empty Store rooted at dir, for the declared embedding
// dimension. Call Load to populate it from disk.
func New(dir string, dim int) *Store {
	return &Store{
		dim:  dim,
		dir:  dir,
		lock: flock.New(lockPath(dir)),
	}
}

// Add appends vectors and their metadata, returning the assigned
// [start, end) ordinal range. Vector store mutation is append-only; a
// document's prior chunks must be removed first by DeleteByDoc to
// implement the registry's update-by-swap semantics.
func (s *Store) Add(vectors [][]float32, metas []Metadata) (start, end int, err error) {
	if len(vectors) != len(metas) {
		return 0, 0, auditrag.NewVectorStoreError("vectors and metadata length mismatch", nil)
	}
	for _, v := range vectors {
		if len(v) != s.dim {
			return 0, 0, auditrag.NewVectorStoreError(
				fmt.Sprintf("vector has dimension %d, store expects %d", len(v), s.dim), nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	start = len(s.rows)
	s.rows = append(s.rows, vectors...)
	s.metas = append(s.metas, metas...)
	end = len(s.rows)
	return start, end, nil
}

// Search returns the top_k entries by cosine similarity to queryVec,
// restricted to entries matching filter, sorted by score descending.
func (s *Store) Search(queryVec []float32, topK int, filter Filter) ([]Result, error) {
	if len(queryVec) != s.dim {
		return nil, auditrag.NewVectorStoreError(
			fmt.Sprintf("query vector has dimension %d, store expects %d", len(queryVec), s.dim), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	qNorm := norm(queryVec)
	results := make([]Result, 0, len(s.rows))
	for i, row := range s.rows {
		m := s.metas[i]
		if !filter.matches(m) {
			continue
		}
		score := cosine(queryVec, row, qNorm)
		results = append(results, Result{ChunkID: m.ChunkID, Score: score, Metadata: m})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDoc removes every entry whose metadata.doc_id matches docID and
// compacts the matrix, preserving row order of the survivors.
func (s *Store) DeleteByDoc(docID string) (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newRows := s.rows[:0:0]
	newMetas := s.metas[:0:0]
	for i, m := range s.metas {
		if m.DocID == docID {
			removed++
			continue
		}
		newRows = append(newRows, s.rows[i])
		newMetas = append(newMetas, m)
	}
	s.rows = newRows
	s.metas = newMetas
	return removed, nil
}

// Reconcile drops any entry whose chunk_id is not present in live, per
// spec.md §6's startup consistency check and §4.D's orphan-removal
// invariant.
func (s *Store) Reconcile(live map[string]bool) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newRows := s.rows[:0:0]
	newMetas := s.metas[:0:0]
	for i, m := range s.metas {
		if !live[m.ChunkID] {
			dropped++
			continue
		}
		newRows = append(newRows, s.rows[i])
		newMetas = append(newMetas, m)
	}
	s.rows = newRows
	s.metas = newMetas
	return dropped
}

// MetadataByChunkID looks up a single entry's metadata, used by the
// graph retriever to resolve a chunk found via graph traversal back to
// its filterable metadata without re-deriving it.
func (s *Store) MetadataByChunkID(chunkID string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.metas {
		if m.ChunkID == chunkID {
			return m, true
		}
	}
	return Metadata{}, false
}

// Len reports the number of live vector entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Save atomically persists the matrix and metadata as a write-temp +
// rename pair, guarded by an advisory file lock so two processes never
// interleave writes to the same data root.
func (s *Store) Save() error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return auditrag.NewVectorStoreError("acquiring vector store lock", err)
	}
	if !locked {
		return auditrag.NewVectorStoreError("vector store is locked by another process", nil)
	}
	defer s.lock.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return auditrag.NewVectorStoreError("creating data root", err)
	}

	if err := writeIndexAtomic(indexPath(s.dir), s.rows, s.dim); err != nil {
		return auditrag.NewVectorStoreError("writing vector.index", err)
	}
	if err := writeDocsAtomic(docsPath(s.dir), s.metas); err != nil {
		return auditrag.NewVectorStoreError("writing vector.docs", err)
	}
	return nil
}

// Load reads the paired files from disk, rejecting a mismatched pair
// (length disagreement between rows decoded from .index and entries in
// .docs) per spec.md §4.D.
func (s *Store) Load() error {
	idxPath, dPath := indexPath(s.dir), docsPath(s.dir)
	if _, err := os.Stat(idxPath); os.IsNotExist(err) {
		return nil // fresh data root, nothing to load
	}

	rows, err := readIndex(idxPath, s.dim)
	if err != nil {
		return auditrag.NewVectorStoreError("reading vector.index", err)
	}
	metas, err := readDocs(dPath)
	if err != nil {
		return auditrag.NewVectorStoreError("reading vector.docs", err)
	}
	if len(rows) != len(metas) {
		return auditrag.NewVectorStoreError(
			fmt.Sprintf("vector.index has %d rows but vector.docs has %d entries", len(rows), len(metas)), nil)
	}

	s.mu.Lock()
	s.rows = rows
	s.metas = metas
	s.mu.Unlock()
	return nil
}

func writeIndexAtomic(path string, rows [][]float32, dim int) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, row := range rows {
		for _, v := range row {
			if err := binary.Write(f, binary.LittleEndian, v); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readIndex(path string, dim int) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	const floatSize = 4
	if dim <= 0 || len(data)%(dim*floatSize) != 0 {
		return nil, fmt.Errorf("vector.index size %d is not a multiple of dim %d", len(data), dim)
	}
	n := len(data) / (dim * floatSize)
	rows := make([][]float32, n)
	offset := 0
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits := binary.LittleEndian.Uint32(data[offset : offset+floatSize])
			row[j] = math.Float32frombits(bits)
			offset += floatSize
		}
		rows[i] = row
	}
	return rows, nil
}

func writeDocsAtomic(path string, metas []Metadata) error {
	tmp := path + ".tmp"
	data, err := json.Marshal(metas)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readDocs(path string) ([]Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var metas []Metadata
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, aNorm float64) float64 {
	var dot, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bSq)
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	return dot / (aNorm * bNorm)
}
