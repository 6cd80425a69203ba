package graph

import "testing"

func TestRetrieve_SeedAndExpand(t *testing.T) {
	s := New(t.TempDir())

	issue := Node{ID: "issue1", Type: NodeIssue, Name: "采购超标问题",
		Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0"}}}
	dept := Node{ID: "dept1", Type: NodeDepartment, Name: "财务部",
		Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0"}}}
	unrelated := Node{ID: "issue2", Type: NodeIssue, Name: "人事变动记录",
		Evidence: []Evidence{{DocID: "d2", ChunkID: "d2:0"}}}

	s.UpsertNode(issue)
	s.UpsertNode(dept)
	s.UpsertNode(unrelated)
	s.UpsertEdge(Edge{Source: dept.ID, Target: issue.ID, Relation: "responsible_for", Weight: 1.0})

	results := s.Retrieve("财务部采购问题", 2, DefaultNodeCap)
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	top := results[0]
	if top.ChunkID != "d1:0" {
		t.Errorf("top hit = %q, want d1:0", top.ChunkID)
	}
	for _, r := range results {
		if r.ChunkID == "d2:0" {
			t.Error("unrelated chunk should not be reached by the seed's neighborhood")
		}
	}
}

func TestRetrieve_NoSeedsReturnsEmpty(t *testing.T) {
	s := New(t.TempDir())
	s.UpsertNode(Node{ID: "n1", Type: NodeTopic, Name: "完全无关主题",
		Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0"}}})

	results := s.Retrieve("zzz nonexistent query", 2, DefaultNodeCap)
	if len(results) != 0 {
		t.Errorf("expected no results for a query matching nothing, got %d", len(results))
	}
}

func TestRetrieve_ScoresAreNormalized(t *testing.T) {
	s := New(t.TempDir())
	s.UpsertNode(Node{ID: "n1", Type: NodeTopic, Name: "合规检查",
		Evidence: []Evidence{{DocID: "d1", ChunkID: "d1:0"}}})

	results := s.Retrieve("合规检查", 1, DefaultNodeCap)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score != 1.0 {
		t.Errorf("single-result score = %v, want 1.0 (max-normalized)", results[0].Score)
	}
}
