package graph

import (
	"os"
	"testing"
)

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not a valid gob stream"), 0o644)
}

func TestUpsertNode_MergesEvidenceAndAttrs(t *testing.T) {
	s := New(t.TempDir())
	id := NodeID(NodeClause, "第十条")
	s.UpsertNode(Node{ID: id, Type: NodeClause, Name: "第十条",
		Attrs:    map[string]string{"source_doc": "d1"},
		Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0", Extractor: "clause", Confidence: 0.9}},
	})
	s.UpsertNode(Node{ID: id, Type: NodeClause, Name: "第十条",
		Evidence: []Evidence{{DocID: "d2", ChunkID: "d2:3", Extractor: "clause", Confidence: 0.9}},
	})

	n, ok := s.Node(id)
	if !ok {
		t.Fatal("node missing")
	}
	if len(n.Evidence) != 2 {
		t.Errorf("evidence count = %d, want 2 (union, not replace)", len(n.Evidence))
	}
	if n.Attrs["source_doc"] != "d1" {
		t.Errorf("attrs lost on merge: %+v", n.Attrs)
	}
}

func TestUpsertEdge_CapsWeightSum(t *testing.T) {
	s := New(t.TempDir())
	e := Edge{Source: "a", Target: "b", Relation: "references", Weight: MaxEdgeWeight - 1}
	s.UpsertEdge(e)
	s.UpsertEdge(e)
	s.UpsertEdge(e)

	edges := s.Edges()
	if len(edges) != 1 {
		t.Fatalf("expected edges of identical (s,t,relation) to merge into one, got %d", len(edges))
	}
	if edges[0].Weight != MaxEdgeWeight {
		t.Errorf("weight = %v, want capped at %v", edges[0].Weight, MaxEdgeWeight)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	s.UpsertNode(Node{ID: "n1", Type: NodeIssue, Name: "issue one", Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0"}}})
	s.UpsertNode(Node{ID: "n2", Type: NodeDepartment, Name: "财务部", Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0"}}})
	s.UpsertEdge(Edge{Source: "n2", Target: "n1", Relation: "responsible_for", Weight: 1})

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(dir)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NodeCount() != 2 || loaded.EdgeCount() != 1 {
		t.Errorf("loaded %d nodes, %d edges, want 2 and 1", loaded.NodeCount(), loaded.EdgeCount())
	}
}

func TestDeleteDocument_PrunesEvidenceAndDropsEmptiedNodes(t *testing.T) {
	s := New(t.TempDir())

	// n1 carries evidence from both d1 and d2, so it should survive
	// d1's deletion with only d2's evidence left.
	n1 := NodeID(NodeIssue, "shared issue")
	s.UpsertNode(Node{ID: n1, Type: NodeIssue, Name: "shared issue", Evidence: []Evidence{
		{DocID: "d1", ChunkID: "d1:0", Extractor: "issue"},
		{DocID: "d2", ChunkID: "d2:0", Extractor: "issue"},
	}})
	// n2 carries evidence only from d1, so it should be dropped entirely.
	n2 := NodeID(NodeDepartment, "财务部")
	s.UpsertNode(Node{ID: n2, Type: NodeDepartment, Name: "财务部", Evidence: []Evidence{
		{DocID: "d1", ChunkID: "d1:0", Extractor: "department"},
	}})
	// Document and chunk nodes for d1 are structural and keyed by Attrs.
	docNode := NodeID(NodeDocument, "d1")
	s.UpsertNode(Node{ID: docNode, Type: NodeDocument, Name: "doc one", Attrs: map[string]string{"doc_id": "d1"}})
	chunkNode := NodeID(NodeChunk, "d1:0")
	s.UpsertNode(Node{ID: chunkNode, Type: NodeChunk, Name: "d1:0", Attrs: map[string]string{"doc_id": "d1"}})

	s.UpsertEdge(Edge{Source: n2, Target: n1, Relation: "responsible_for", Weight: 1,
		Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0", Extractor: "department"}}})

	nodesDropped, edgesDropped := s.DeleteDocument("d1")

	if nodesDropped != 3 { // n2, docNode, chunkNode
		t.Errorf("nodesDropped = %d, want 3", nodesDropped)
	}
	if edgesDropped != 1 {
		t.Errorf("edgesDropped = %d, want 1", edgesDropped)
	}

	n, ok := s.Node(n1)
	if !ok {
		t.Fatal("node with remaining d2 evidence should survive")
	}
	if len(n.Evidence) != 1 || n.Evidence[0].DocID != "d2" {
		t.Errorf("surviving node evidence = %+v, want only d2", n.Evidence)
	}
	if _, ok := s.Node(n2); ok {
		t.Error("node with only d1 evidence should have been dropped")
	}
	if _, ok := s.Node(docNode); ok {
		t.Error("document node for deleted doc should have been dropped")
	}
	if _, ok := s.Node(chunkNode); ok {
		t.Error("chunk node for deleted doc should have been dropped")
	}
	if len(s.Edges()) != 0 {
		t.Errorf("expected the responsible_for edge to be pruned, got %d edges", len(s.Edges()))
	}
}

func TestLoad_MissingFileNeedsRebuild(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Load(); err != ErrNeedsRebuild {
		t.Fatalf("Load on fresh data root = %v, want ErrNeedsRebuild", err)
	}
}

func TestLoad_CorruptFileFailsToDecode(t *testing.T) {
	dir := t.TempDir()
	if err := writeGarbage(graphPath(dir)); err != nil {
		t.Fatalf("writeGarbage: %v", err)
	}
	loaded := New(dir)
	if err := loaded.Load(); err == nil {
		t.Fatal("expected an error decoding a corrupt graph.bin")
	}
}
