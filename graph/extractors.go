package graph

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zaozao66/audit-rag/chunker"
	"github.com/zaozao66/audit-rag/registry"
)

// Extractor is one stage of the builder's ordered pipeline: given a
// chunk, it emits the nodes and edges it can support with evidence
// drawn from that chunk (spec.md §4.F's extractor palette).
type Extractor interface {
	Name() string
	Extract(docID, docNodeID string, chunk registry.Chunk) ([]Node, []Edge)
}

func evidenceFor(extractor, docID, chunkID string, confidence float64) []Evidence {
	return []Evidence{{DocID: docID, ChunkID: chunkID, Extractor: extractor, Confidence: confidence}}
}

// ---------------------------------------------------------------------------
// Clause extractor: regex on 第X章/节/条, links clause -> document.
// ---------------------------------------------------------------------------

var clauseMarker = regexp.MustCompile(`第[一二三四五六七八九十百千0-9]+条`)

type clauseExtractor struct{}

func (clauseExtractor) Name() string { return "clause" }

func (clauseExtractor) Extract(docID, docNodeID string, chunk registry.Chunk) ([]Node, []Edge) {
	matches := clauseMarker.FindAllString(chunk.Text, -1)
	if len(matches) == 0 {
		matches = clauseMarker.FindAllString(chunk.Header, -1)
	}

	// Clause attrs shared by every clause node this chunk produces:
	// defined terms (legal.ExtractDefinitions) and external standards
	// (engineering.DetectStandardsReferences) grounded in the chunk.
	clauseAttrs := map[string]string{}
	if defs := chunker.ExtractDefinitions(chunk.Text); len(defs) > 0 {
		terms := make([]string, len(defs))
		for i, d := range defs {
			terms[i] = d.Term
		}
		clauseAttrs["defines"] = strings.Join(terms, "; ")
	}
	if refs := chunker.DetectStandardsReferences(chunk.Text); len(refs) > 0 {
		names := make([]string, len(refs))
		for i, r := range refs {
			names[i] = r.Standard
		}
		clauseAttrs["standards"] = strings.Join(names, "; ")
	}
	if len(clauseAttrs) == 0 {
		clauseAttrs = nil
	}

	crossRefs := chunker.DetectCrossReferences(chunk.Text)

	seen := make(map[string]string) // clause name -> node ID
	var nodes []Node
	var edges []Edge
	var names []string
	emit := func(name string, attrs map[string]string, confidence float64) string {
		if id, ok := seen[name]; ok {
			return id
		}
		ev := evidenceFor("clause", docID, chunk.ChunkID, confidence)
		id := NodeID(NodeClause, name)
		seen[name] = id
		names = append(names, name)
		nodes = append(nodes, Node{ID: id, Type: NodeClause, Name: name, Attrs: attrs, Evidence: ev})
		edges = append(edges, Edge{Source: id, Target: docNodeID, Relation: "belongs_to", Weight: 1.0, Evidence: ev})
		return id
	}

	for _, m := range matches {
		emit(m, clauseAttrs, 0.9)
	}

	// Arabic dotted-numbering clauses ("1.2.3") alongside the CJK 第X条
	// markers above, for engineering specs and translated standards
	// referenced within an audit report.
	for _, line := range strings.Split(chunk.Text, "\n") {
		num, ok := chunker.ExtractClauseNumber(line)
		if !ok {
			continue
		}
		attrs := map[string]string{"depth": strconv.Itoa(chunker.ClauseDepth(num))}
		for k, v := range clauseAttrs {
			attrs[k] = v
		}
		emit(num, attrs, 0.9)
	}

	// Cross-references to other numbered clauses or sections become
	// "references" edges from every clause this chunk emitted to the
	// referenced clause node.
	for _, ref := range crossRefs {
		if ref.Type != "clause" && ref.Type != "section" {
			continue
		}
		targetID := NodeID(NodeClause, ref.Target)
		for _, name := range names {
			sourceID := seen[name]
			if sourceID == targetID {
				continue
			}
			ev := evidenceFor("clause", docID, chunk.ChunkID, 0.6)
			edges = append(edges, Edge{Source: sourceID, Target: targetID, Relation: "references", Weight: 0.5, Evidence: ev})
		}
	}

	return nodes, edges
}

// ---------------------------------------------------------------------------
// Department extractor: dictionary of organisational units.
// ---------------------------------------------------------------------------

var departmentDictionary = []string{
	"财务部", "人事部", "审计部", "质量部", "生产部", "技术部",
	"法务部", "采购部", "销售部", "工程部", "安全部", "运营部",
}

type departmentExtractor struct{}

func (departmentExtractor) Name() string { return "department" }

func (departmentExtractor) Extract(docID, docNodeID string, chunk registry.Chunk) ([]Node, []Edge) {
	if !isTabularChunk(chunk) {
		return nil, nil
	}
	var nodes []Node
	for _, dept := range departmentDictionary {
		if !strings.Contains(chunk.Text, dept) {
			continue
		}
		ev := evidenceFor("department", docID, chunk.ChunkID, 0.85)
		id := NodeID(NodeDepartment, dept)
		nodes = append(nodes, Node{ID: id, Type: NodeDepartment, Name: dept, Evidence: ev})
	}
	return nodes, nil
}

// ---------------------------------------------------------------------------
// Issue extractor: audit-issue rows -> issue node.
// ---------------------------------------------------------------------------

var (
	yearPattern   = regexp.MustCompile(`(19|20)\d{2}年?`)
	amountPattern = regexp.MustCompile(`[\d,，]+(?:\.\d+)?\s*(?:万元|元|万)`)
)

type issueExtractor struct{}

func (issueExtractor) Name() string { return "issue" }

func (issueExtractor) Extract(docID, docNodeID string, chunk registry.Chunk) ([]Node, []Edge) {
	if !isTabularChunk(chunk) {
		return nil, nil
	}
	summary := chunk.Header
	if summary == "" {
		summary = firstCell(chunk.Text)
	}
	if summary == "" {
		return nil, nil
	}
	attrs := map[string]string{"summary": summary}
	if y := yearPattern.FindString(chunk.Text); y != "" {
		attrs["year"] = strings.TrimSuffix(y, "年")
	}
	if a := amountPattern.FindString(chunk.Text); a != "" {
		attrs["amount"] = a
	}
	ev := evidenceFor("issue", docID, chunk.ChunkID, 0.8)
	id := NodeID(NodeIssue, chunk.ChunkID)
	return []Node{{ID: id, Type: NodeIssue, Name: summary, Attrs: attrs, Evidence: ev}}, nil
}

// isTabularChunk reports whether a chunk should be treated as a table
// row by the row-oriented extractors: either the chunker already
// tagged it "row" (audit_issue/audit_report modes), or structure.go's
// layout heuristic classifies its text as a table independent of the
// chunker mode that produced it.
func isTabularChunk(chunk registry.Chunk) bool {
	return chunk.SemanticBoundary == "row" || chunker.ContentType(chunk.Text) == "table"
}

func firstCell(text string) string {
	cells := strings.Split(text, "\t")
	if len(cells) == 0 {
		return ""
	}
	cell := strings.TrimSpace(cells[0])
	if len(cell) > 60 {
		r := []rune(cell)
		if len(r) > 60 {
			cell = string(r[:60])
		}
	}
	return cell
}

// ---------------------------------------------------------------------------
// Rectification extractor: status keywords + action phrases.
// ---------------------------------------------------------------------------

var rectificationStatusKeywords = []string{"已整改", "整改中", "未整改"}
var rectificationActionPattern = regexp.MustCompile(`整改措施[:：]?\s*([^\n。]{1,80})`)

type rectificationExtractor struct{}

func (rectificationExtractor) Name() string { return "rectification" }

func (rectificationExtractor) Extract(docID, docNodeID string, chunk registry.Chunk) ([]Node, []Edge) {
	if !isTabularChunk(chunk) {
		return nil, nil
	}
	var nodes []Node
	for _, kw := range rectificationStatusKeywords {
		if strings.Contains(chunk.Text, kw) {
			ev := evidenceFor("rectification", docID, chunk.ChunkID, 0.85)
			id := NodeID(NodeRectificationStatus, kw)
			nodes = append(nodes, Node{ID: id, Type: NodeRectificationStatus, Name: kw, Evidence: ev})
		}
	}
	if m := rectificationActionPattern.FindStringSubmatch(chunk.Text); len(m) > 1 {
		action := strings.TrimSpace(m[1])
		if action != "" {
			ev := evidenceFor("rectification", docID, chunk.ChunkID, 0.75)
			id := NodeID(NodeRectificationAction, action)
			nodes = append(nodes, Node{ID: id, Type: NodeRectificationAction, Name: action, Evidence: ev})
		}
	}

	// Normative requirement language ("应" is covered by the status
	// keywords above; SHALL/MUST-style language appears in audit
	// reports that embed translated engineering standards) becomes a
	// rectification action too, tagged with its normative level.
	for _, req := range chunker.DetectRequirements(chunk.Text) {
		action := req.Text
		if r := []rune(action); len(r) > 80 {
			action = string(r[:80])
		}
		ev := evidenceFor("rectification", docID, chunk.ChunkID, requirementConfidence(req.Level))
		id := NodeID(NodeRectificationAction, action)
		nodes = append(nodes, Node{
			ID: id, Type: NodeRectificationAction, Name: action,
			Attrs: map[string]string{"level": req.Level, "keyword": req.Keyword}, Evidence: ev,
		})
	}
	return nodes, nil
}

func requirementConfidence(level string) float64 {
	switch level {
	case "mandatory":
		return 0.8
	case "recommended":
		return 0.6
	default:
		return 0.4
	}
}

// ---------------------------------------------------------------------------
// Topic extractor: keyphrase on headings.
// ---------------------------------------------------------------------------

var topicNumberingPrefix = regexp.MustCompile(`^[\s　]*(?:第[一二三四五六七八九十百千0-9]+[章节条]|[一二三四五六七八九十]+、|（[一二三四五六七八九十]+）|\d+(?:\.\d+)*\.?)\s*`)

type topicExtractor struct{}

func (topicExtractor) Name() string { return "topic" }

func (topicExtractor) Extract(docID, docNodeID string, chunk registry.Chunk) ([]Node, []Edge) {
	header := strings.TrimSpace(chunk.Header)
	if header == "" {
		return nil, nil
	}
	topic := strings.TrimSpace(topicNumberingPrefix.ReplaceAllString(header, ""))
	if topic == header && !chunker.IsHeading(header) {
		// Neither CJK/Arabic numbering nor a recognized heading style
		// (markdown, uppercase, Article/Appendix/Annex) — an ordinary
		// sentence doesn't make a topic.
		return nil, nil
	}
	if topic == "" {
		return nil, nil
	}
	ev := evidenceFor("topic", docID, chunk.ChunkID, 0.6)
	id := NodeID(NodeTopic, topic)
	node := Node{ID: id, Type: NodeTopic, Name: topic, Evidence: ev}
	edge := Edge{Source: docNodeID, Target: id, Relation: "about", Weight: 1.0, Evidence: ev}
	return []Node{node}, []Edge{edge}
}

// defaultExtractors returns the fixed ordered pipeline spec.md §4.F
// names: clause, department, issue, rectification, topic.
func defaultExtractors() []Extractor {
	return []Extractor{
		clauseExtractor{},
		departmentExtractor{},
		issueExtractor{},
		rectificationExtractor{},
		topicExtractor{},
	}
}
