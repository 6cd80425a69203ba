package graph

import (
	"context"
	"testing"

	"github.com/zaozao66/audit-rag/registry"
)

func TestBuild_CreatesDocumentNode(t *testing.T) {
	s := New(t.TempDir())
	b := NewBuilder(s, 2)
	doc := registry.Document{DocID: "doc1", Title: "某规定", Filename: "a.pdf", DocType: "internal_regulation"}
	chunks := []registry.Chunk{{ChunkID: "doc1:0", DocID: "doc1", Text: "第十条 本规定适用于全体员工。", Header: "第十条"}}

	if err := b.Build(context.Background(), doc, chunks); err != nil {
		t.Fatalf("Build: %v", err)
	}

	docNodeID := NodeID(NodeDocument, "doc1")
	n, ok := s.Node(docNodeID)
	if !ok || n.Name != "某规定" {
		t.Fatalf("document node = %+v, ok=%v", n, ok)
	}
}

func TestBuild_ClauseLinksToDocument(t *testing.T) {
	s := New(t.TempDir())
	b := NewBuilder(s, 2)
	doc := registry.Document{DocID: "doc1", Title: "规定"}
	chunks := []registry.Chunk{{ChunkID: "doc1:0", DocID: "doc1", Text: "第十条 员工应遵守规定。"}}

	if err := b.Build(context.Background(), doc, chunks); err != nil {
		t.Fatalf("Build: %v", err)
	}

	clauseID := NodeID(NodeClause, "第十条")
	if _, ok := s.Node(clauseID); !ok {
		t.Fatal("expected clause node to be extracted")
	}
	found := false
	for _, e := range s.Edges() {
		if e.Source == clauseID && e.Relation == "belongs_to" {
			found = true
		}
	}
	if !found {
		t.Error("expected clause -> document belongs_to edge")
	}
}

func TestBuild_IssueRowLinksDepartmentAndStatus(t *testing.T) {
	s := New(t.TempDir())
	b := NewBuilder(s, 2)
	doc := registry.Document{DocID: "doc1", Title: "审计报告", DocType: "audit_issue"}
	chunks := []registry.Chunk{{
		ChunkID:          "doc1:0",
		DocID:            "doc1",
		Header:           "2023年度采购审计问题",
		Text:             "2023年 财务部 采购未按流程审批，金额50万元。整改措施：建立审批台账。已整改",
		SemanticBoundary: "row",
	}}

	if err := b.Build(context.Background(), doc, chunks); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var issueID, deptID, statusID, actionID string
	for _, n := range s.Nodes() {
		switch n.Type {
		case NodeIssue:
			issueID = n.ID
		case NodeDepartment:
			deptID = n.ID
		case NodeRectificationStatus:
			statusID = n.ID
		case NodeRectificationAction:
			actionID = n.ID
		}
	}
	if issueID == "" || deptID == "" || statusID == "" || actionID == "" {
		t.Fatalf("expected issue, department, status and action nodes; got issue=%q dept=%q status=%q action=%q",
			issueID, deptID, statusID, actionID)
	}

	rel := make(map[string]bool)
	for _, e := range s.Edges() {
		rel[e.Source+">"+e.Relation+">"+e.Target] = true
	}
	if !rel[deptID+">responsible_for>"+issueID] {
		t.Error("expected department -> responsible_for -> issue edge")
	}
	if !rel[issueID+">has_status>"+statusID] {
		t.Error("expected issue -> has_status -> status edge")
	}
	if !rel[issueID+">has_action>"+actionID] {
		t.Error("expected issue -> has_action -> action edge")
	}
}

func TestBuild_IsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	b := NewBuilder(s, 2)
	doc := registry.Document{DocID: "doc1", Title: "规定"}
	chunks := []registry.Chunk{{ChunkID: "doc1:0", DocID: "doc1", Text: "第十条 规定内容。"}}

	b.Build(context.Background(), doc, chunks)
	nodesAfterOne := s.NodeCount()
	edgesAfterOne := s.EdgeCount()

	b.Build(context.Background(), doc, chunks)
	if s.NodeCount() != nodesAfterOne || s.EdgeCount() != edgesAfterOne {
		t.Errorf("rebuild changed graph size: nodes %d->%d, edges %d->%d",
			nodesAfterOne, s.NodeCount(), edgesAfterOne, s.EdgeCount())
	}
}

func TestRebuild_ReplaysOnlyActiveDocuments(t *testing.T) {
	s := New(t.TempDir())
	b := NewBuilder(s, 2)

	docs := []registry.Document{
		{DocID: "d1", Title: "active doc", Status: registry.StatusActive},
		{DocID: "d2", Title: "deleted doc", Status: registry.StatusDeleted},
	}
	chunksByDoc := map[string][]registry.Chunk{
		"d1": {{ChunkID: "d1:0", DocID: "d1", Text: "第一条 内容"}},
		"d2": {{ChunkID: "d2:0", DocID: "d2", Text: "第二条 内容"}},
	}

	err := Rebuild(context.Background(), s, b, docs, func(docID string) ([]registry.Chunk, bool) {
		c, ok := chunksByDoc[docID]
		return c, ok
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if _, ok := s.Node(NodeID(NodeDocument, "d1")); !ok {
		t.Error("expected active document node to survive rebuild")
	}
	if _, ok := s.Node(NodeID(NodeDocument, "d2")); ok {
		t.Error("deleted document should not be replayed by rebuild")
	}
}
