package vectorstore

import (
	"os"
	"testing"
)

func TestAddAndSearch(t *testing.T) {
	s := New(t.TempDir(), 3)
	_, _, err := s.Add(
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
		[]Metadata{
			{ChunkID: "d1:0", DocID: "d1", DocType: "internal_regulation"},
			{ChunkID: "d1:1", DocID: "d1", DocType: "internal_regulation"},
			{ChunkID: "d2:0", DocID: "d2", DocType: "audit_issue"},
		},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Search([]float32{1, 0, 0}, 2, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkID != "d1:0" {
		t.Errorf("top hit = %q, want d1:0", results[0].ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not sorted descending by score")
	}
}

func TestSearch_FilterByDocType(t *testing.T) {
	s := New(t.TempDir(), 2)
	s.Add([][]float32{{1, 0}, {1, 0}}, []Metadata{
		{ChunkID: "a", DocID: "d1", DocType: "audit_issue"},
		{ChunkID: "b", DocID: "d2", DocType: "internal_regulation"},
	})

	results, err := s.Search([]float32{1, 0}, 10, Filter{DocTypes: []string{"audit_issue"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "a" {
		t.Fatalf("expected only chunk 'a', got %+v", results)
	}
}

func TestDeleteByDoc_Compacts(t *testing.T) {
	s := New(t.TempDir(), 2)
	s.Add([][]float32{{1, 0}, {0, 1}, {1, 1}}, []Metadata{
		{ChunkID: "d1:0", DocID: "d1"},
		{ChunkID: "d2:0", DocID: "d2"},
		{ChunkID: "d1:1", DocID: "d1"},
	})

	removed, err := s.DeleteByDoc("d1")
	if err != nil {
		t.Fatalf("DeleteByDoc: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if s.Len() != 1 {
		t.Errorf("remaining len = %d, want 1", s.Len())
	}
}

func TestReconcile_DropsOrphans(t *testing.T) {
	s := New(t.TempDir(), 2)
	s.Add([][]float32{{1, 0}, {0, 1}}, []Metadata{
		{ChunkID: "live", DocID: "d1"},
		{ChunkID: "orphan", DocID: "d2"},
	})

	dropped := s.Reconcile(map[string]bool{"live": true})
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if s.Len() != 1 {
		t.Errorf("remaining len = %d, want 1", s.Len())
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 3)
	s.Add([][]float32{{1, 2, 3}, {4, 5, 6}}, []Metadata{
		{ChunkID: "a", DocID: "d1", PageNos: []int{1, 2}},
		{ChunkID: "b", DocID: "d2", SectionPath: []string{"第一章", "第一条"}},
	})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(dir, 3)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded len = %d, want 2", loaded.Len())
	}
	results, _ := loaded.Search([]float32{1, 2, 3}, 1, Filter{})
	if len(results) != 1 || results[0].ChunkID != "a" {
		t.Fatalf("unexpected loaded content: %+v", results)
	}
}

func TestLoad_RejectsMismatchedPairLengths(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	s.Add([][]float32{{1, 2}, {3, 4}}, []Metadata{
		{ChunkID: "a"},
		{ChunkID: "b"},
	})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Corrupt vector.docs to disagree in length with vector.index.
	if err := os.WriteFile(dir+"/vector.docs", []byte(`[{"chunk_id":"a"}]`), 0o644); err != nil {
		t.Fatalf("corrupting docs file: %v", err)
	}

	loaded := New(dir, 2)
	if err := loaded.Load(); err == nil {
		t.Fatal("expected error on length-mismatched pair")
	}
}

func TestLoad_MissingFilesIsNoop(t *testing.T) {
	s := New(t.TempDir(), 4)
	if err := s.Load(); err != nil {
		t.Fatalf("Load on fresh data root should not error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", s.Len())
	}
}
