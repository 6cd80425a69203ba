package graph

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	auditrag "github.com/zaozao66/audit-rag"
)

// SchemaVersion is bumped whenever the gob-encoded layout of Store
// changes incompatibly; a mismatch at Load triggers the same
// automatic-rebuild path as a missing file (spec.md §6).
const SchemaVersion = 1

// ErrNeedsRebuild is returned by Load when graph.bin is absent or was
// written by an incompatible schema version. The caller (the
// Orchestrator) responds by calling Rebuild over the registry.
var ErrNeedsRebuild = errors.New("graph store needs rebuild")

type edgeKey struct {
	Source, Target, Relation string
}

// Store holds the in-memory multigraph, persisted to graph.bin.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[edgeKey]*Edge
	dir   string
	lock  *flock.Flock
}

func graphPath(dir string) string { return filepath.Join(dir, "graph.bin") }
func lockPath(dir string) string  { return filepath.Join(dir, ".graph.lock") }

// New returns an empty Store rooted at dir.
func New(dir string) *Store {
	return &Store{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*Edge),
		dir:   dir,
		lock:  flock.New(lockPath(dir)),
	}
}

// UpsertNode merges n into the store: nodes with identical
// (type, canonical_name) — i.e. identical ID — coalesce, unioning
// evidence and overlaying attrs (spec.md §4.F merge rule).
func (s *Store) UpsertNode(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.nodes[n.ID]; ok {
		existing.Attrs = mergeAttrs(existing.Attrs, n.Attrs)
		existing.Evidence = mergeEvidence(existing.Evidence, n.Evidence)
		return
	}
	cp := n
	s.nodes[n.ID] = &cp
}

// UpsertEdge merges e into the store: edges of the same
// (source, target, relation) merge weights by capped sum and union
// evidence (spec.md §4.F merge rule).
func (s *Store) UpsertEdge(e Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{e.Source, e.Target, e.Relation}
	if existing, ok := s.edges[key]; ok {
		existing.Weight = math.Min(existing.Weight+e.Weight, MaxEdgeWeight)
		existing.Evidence = mergeEvidence(existing.Evidence, e.Evidence)
		existing.EvidenceCount = len(existing.Evidence)
		return
	}
	cp := e
	cp.EvidenceCount = len(cp.Evidence)
	s.edges[key] = &cp
}

// Node looks up a node by ID.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns a snapshot of all nodes.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	return out
}

// Edges returns a snapshot of all edges.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, *e)
	}
	return out
}

// NodeCount and EdgeCount report the current graph size.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Reset clears the graph in memory, used by Rebuild before replaying
// the registry's documents through the builder.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*Node)
	s.edges = make(map[edgeKey]*Edge)
}

// DeleteDocument prunes every evidence tuple attributed to docID from
// every node and edge, then drops any node or edge whose evidence list
// becomes empty as a result — document and chunk nodes for docID are
// dropped outright since they carry no independent evidence (spec.md
// §8 testable property 8).
func (s *Store) DeleteDocument(docID string) (nodesDropped, edgesDropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range s.nodes {
		if n.Type.structural() && n.Attrs["doc_id"] == docID {
			delete(s.nodes, id)
			nodesDropped++
			continue
		}
		n.Evidence = filterEvidence(n.Evidence, docID)
		if !n.Type.structural() && len(n.Evidence) == 0 {
			delete(s.nodes, id)
			nodesDropped++
		}
	}

	for key, e := range s.edges {
		e.Evidence = filterEvidence(e.Evidence, docID)
		e.EvidenceCount = len(e.Evidence)
		if len(e.Evidence) == 0 {
			delete(s.edges, key)
			edgesDropped++
		}
	}

	return nodesDropped, edgesDropped
}

func filterEvidence(ev []Evidence, docID string) []Evidence {
	out := ev[:0]
	for _, e := range ev {
		if e.DocID != docID {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type persisted struct {
	SchemaVersion int
	Nodes         []Node
	Edges         []Edge
}

// Save atomically persists the graph as graph.bin via encoding/gob,
// guarded by an advisory file lock (spec.md §6, §5.F supplement).
func (s *Store) Save() error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return auditrag.NewGraphStoreError("acquiring graph lock", err)
	}
	if !locked {
		return auditrag.NewGraphStoreError("graph store is locked by another process", nil)
	}
	defer s.lock.Unlock()

	s.mu.RLock()
	p := persisted{SchemaVersion: SchemaVersion}
	for _, n := range s.nodes {
		p.Nodes = append(p.Nodes, *n)
	}
	for _, e := range s.edges {
		p.Edges = append(p.Edges, *e)
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return auditrag.NewGraphStoreError("creating data root", err)
	}
	tmp := graphPath(s.dir) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return auditrag.NewGraphStoreError("creating graph.bin.tmp", err)
	}
	if err := gob.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		os.Remove(tmp)
		return auditrag.NewGraphStoreError("encoding graph.bin", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return auditrag.NewGraphStoreError("syncing graph.bin.tmp", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return auditrag.NewGraphStoreError("closing graph.bin.tmp", err)
	}
	if err := os.Rename(tmp, graphPath(s.dir)); err != nil {
		return auditrag.NewGraphStoreError("renaming graph.bin into place", err)
	}
	return nil
}

// Load reads graph.bin from disk. A missing file or a schema-version
// mismatch returns ErrNeedsRebuild rather than a hard failure, per
// spec.md §6's automatic-rebuild path.
func (s *Store) Load() error {
	f, err := os.Open(graphPath(s.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNeedsRebuild
		}
		return auditrag.NewGraphStoreError("opening graph.bin", err)
	}
	defer f.Close()

	var p persisted
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return fmt.Errorf("%w: decoding graph.bin: %v", ErrNeedsRebuild, err)
	}
	if p.SchemaVersion != SchemaVersion {
		return ErrNeedsRebuild
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*Node, len(p.Nodes))
	for i := range p.Nodes {
		n := p.Nodes[i]
		s.nodes[n.ID] = &n
	}
	s.edges = make(map[edgeKey]*Edge, len(p.Edges))
	for i := range p.Edges {
		e := p.Edges[i]
		s.edges[edgeKey{e.Source, e.Target, e.Relation}] = &e
	}
	return nil
}
