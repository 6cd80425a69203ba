package registry

import (
	"testing"

	auditrag "github.com/zaozao66/audit-rag"
)

func sampleChunks(docID string, n int) []Chunk {
	out := make([]Chunk, n)
	for i := 0; i < n; i++ {
		out[i] = Chunk{
			ChunkID:   docID + ":" + string(rune('0'+i)),
			DocID:     docID,
			Ordinal:   i,
			Text:      "chunk text",
			CharCount: 10,
		}
	}
	return out
}

func TestContentHash_NormalizesLineEndingsAndTrailingWhitespace(t *testing.T) {
	a := ContentHash("line one  \r\nline two\r\n")
	b := ContentHash("line one\nline two\n")
	if a != b {
		t.Errorf("hashes differ for equivalent content: %s vs %s", a, b)
	}
}

func TestIngestDecision_NewDocument(t *testing.T) {
	r := New(t.TempDir())
	d := r.IngestDecision(ContentHash("hello"), "a.pdf")
	if d.Kind != DecisionNew {
		t.Errorf("decision = %v, want new", d.Kind)
	}
}

func TestIngestDecision_DuplicateByHash(t *testing.T) {
	r := New(t.TempDir())
	hash := ContentHash("hello")
	docID := DocID(hash)
	if err := r.CommitNew(Document{DocID: docID, Filename: "a.pdf", ContentHash: hash}, sampleChunks(docID, 2)); err != nil {
		t.Fatalf("CommitNew: %v", err)
	}

	d := r.IngestDecision(hash, "different-name.pdf")
	if d.Kind != DecisionDuplicate || d.ExistingDocID != docID {
		t.Errorf("decision = %+v, want duplicate of %s", d, docID)
	}
}

func TestIngestDecision_UpdateBySameFilename(t *testing.T) {
	r := New(t.TempDir())
	hash1 := ContentHash("version one")
	docID := DocID(hash1)
	if err := r.CommitNew(Document{DocID: docID, Filename: "policy.pdf", ContentHash: hash1}, sampleChunks(docID, 1)); err != nil {
		t.Fatalf("CommitNew: %v", err)
	}

	hash2 := ContentHash("version two")
	d := r.IngestDecision(hash2, "policy.pdf")
	if d.Kind != DecisionUpdate || d.ExistingDocID != docID || d.NewVersion != 2 {
		t.Errorf("decision = %+v, want update to version 2 of %s", d, docID)
	}
}

func TestCommitNew_RejectsZeroChunks(t *testing.T) {
	r := New(t.TempDir())
	err := r.CommitNew(Document{DocID: "x", Filename: "empty.pdf"}, nil)
	if err == nil || !auditrag.IsKind(err, auditrag.KindChunkError) {
		t.Fatalf("expected KindChunkError, got %v", err)
	}
}

func TestCommitUpdate_AtomicSwap(t *testing.T) {
	r := New(t.TempDir())
	hash1 := ContentHash("v1")
	docID := DocID(hash1)
	r.CommitNew(Document{DocID: docID, Filename: "f.pdf", ContentHash: hash1}, sampleChunks(docID, 3))

	hash2 := ContentHash("v2")
	if err := r.CommitUpdate(docID, Document{DocID: docID, Filename: "f.pdf", ContentHash: hash2}, sampleChunks(docID, 2)); err != nil {
		t.Fatalf("CommitUpdate: %v", err)
	}

	doc, ok := r.Get(docID)
	if !ok {
		t.Fatal("document not found after update")
	}
	if doc.Version != 2 || doc.ContentHash != hash2 {
		t.Errorf("doc = %+v, want version 2 with new hash", doc)
	}
	chunks, _ := r.GetChunks(docID)
	if len(chunks) != 2 {
		t.Errorf("got %d chunks after update, want 2 (old set fully replaced)", len(chunks))
	}
}

func TestCommitUpdate_UnknownDocReturnsNotFound(t *testing.T) {
	r := New(t.TempDir())
	err := r.CommitUpdate("missing", Document{DocID: "missing"}, sampleChunks("missing", 1))
	if err == nil || !auditrag.IsKind(err, auditrag.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestLogicalDelete_RetainsRowDropsChunks(t *testing.T) {
	r := New(t.TempDir())
	hash := ContentHash("content")
	docID := DocID(hash)
	r.CommitNew(Document{DocID: docID, Filename: "f.pdf", ContentHash: hash}, sampleChunks(docID, 2))

	if err := r.LogicalDelete(docID); err != nil {
		t.Fatalf("LogicalDelete: %v", err)
	}

	doc, ok := r.Get(docID)
	if !ok {
		t.Fatal("deleted document should still be retrievable by Get")
	}
	if doc.Status != StatusDeleted {
		t.Errorf("status = %v, want deleted", doc.Status)
	}
	if _, ok := r.GetChunks(docID); ok {
		t.Error("expected chunks to be dropped after logical delete")
	}

	active := r.List("", "", false)
	if len(active) != 0 {
		t.Errorf("deleted doc should not appear in active list, got %d", len(active))
	}
	all := r.List("", "", true)
	if len(all) != 1 {
		t.Errorf("deleted doc should appear with includeDeleted=true, got %d", len(all))
	}
}

func TestDeletedDocumentAllowsReingestUnderSameFilename(t *testing.T) {
	r := New(t.TempDir())
	hash := ContentHash("content")
	docID := DocID(hash)
	r.CommitNew(Document{DocID: docID, Filename: "f.pdf", ContentHash: hash}, sampleChunks(docID, 1))
	r.LogicalDelete(docID)

	d := r.IngestDecision(hash, "f.pdf")
	if d.Kind != DecisionNew {
		t.Errorf("decision after delete = %v, want new (no active doc shares the hash or filename)", d.Kind)
	}
}

func TestLiveChunkIDs_ExcludesDeleted(t *testing.T) {
	r := New(t.TempDir())
	h1, h2 := ContentHash("a"), ContentHash("b")
	d1, d2 := DocID(h1), DocID(h2)
	r.CommitNew(Document{DocID: d1, Filename: "a.pdf", ContentHash: h1}, sampleChunks(d1, 2))
	r.CommitNew(Document{DocID: d2, Filename: "b.pdf", ContentHash: h2}, sampleChunks(d2, 1))
	r.LogicalDelete(d2)

	live := r.LiveChunkIDs()
	if len(live) != 2 {
		t.Errorf("live chunk count = %d, want 2", len(live))
	}
	if !live[d1+":0"] {
		t.Error("expected chunk from active document to be live")
	}
}

func TestStats(t *testing.T) {
	r := New(t.TempDir())
	h1, h2 := ContentHash("a"), ContentHash("b")
	d1, d2 := DocID(h1), DocID(h2)
	r.CommitNew(Document{DocID: d1, Filename: "a.pdf", ContentHash: h1}, sampleChunks(d1, 3))
	r.CommitNew(Document{DocID: d2, Filename: "b.pdf", ContentHash: h2}, sampleChunks(d2, 2))
	r.LogicalDelete(d2)

	stats := r.Stats()
	if stats.ActiveDocuments != 1 || stats.DeletedDocuments != 1 || stats.TotalChunks != 3 {
		t.Errorf("stats = %+v, want {1 1 3}", stats)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	hash := ContentHash("content")
	docID := DocID(hash)
	r.CommitNew(Document{DocID: docID, Filename: "f.pdf", ContentHash: hash, DocType: "audit_issue"}, sampleChunks(docID, 2))

	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(dir)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc, ok := loaded.Get(docID)
	if !ok {
		t.Fatal("document missing after round-trip")
	}
	if doc.DocType != "audit_issue" {
		t.Errorf("doc_type = %q, want audit_issue", doc.DocType)
	}
	chunks, ok := loaded.GetChunks(docID)
	if !ok || len(chunks) != 2 {
		t.Fatalf("chunks after round-trip = %v, ok=%v", chunks, ok)
	}
}

func TestLoad_MissingFileIsNoop(t *testing.T) {
	r := New(t.TempDir())
	if err := r.Load(); err != nil {
		t.Fatalf("Load on fresh data root should not error: %v", err)
	}
	if len(r.List("", "", true)) != 0 {
		t.Error("expected empty registry")
	}
}
