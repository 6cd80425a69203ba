package graph

import (
	"math"
	"sort"
	"strings"
)

// Defaults for the Graph Retriever (spec.md §4.G).
const (
	DefaultSeedCap  = 10
	DefaultNodeCap  = 200
	DefaultHopDecay = 0.5
)

// RetrievalResult is one ranked hit returned by Retrieve.
type RetrievalResult struct {
	ChunkID string
	Score   float64
	Path    []string // node names along the best path that reached this chunk
}

type seedHit struct {
	id    string
	score float64
}

// tokenize splits on whitespace/punctuation and lowercases, good enough
// for both Latin tokens and CJK substrings (CJK queries fall back to
// the substring-match branch below since CJK has no whitespace).
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 0x4e00 && r <= 0x9fff))
	})
	return fields
}

// seedMatches finds up to K_SEED nodes whose name overlaps the query by
// token or substring match (spec.md §4.G step 1).
func (s *Store) seedMatches(query string, seedCap int) []seedHit {
	tokens := tokenize(query)
	queryLower := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []seedHit
	for id, n := range s.nodes {
		if n.Type.structural() {
			continue
		}
		nameLower := strings.ToLower(n.Name)
		var score float64
		if strings.Contains(queryLower, nameLower) || strings.Contains(nameLower, queryLower) {
			score += 1.0
		}
		nameTokens := tokenize(n.Name)
		if len(nameTokens) > 0 {
			overlap := 0
			nameSet := make(map[string]bool, len(nameTokens))
			for _, t := range nameTokens {
				nameSet[t] = true
			}
			for _, t := range tokens {
				if nameSet[t] {
					overlap++
				}
			}
			if overlap > 0 {
				score += float64(overlap) / float64(len(nameTokens))
			}
		}
		if score > 0 {
			hits = append(hits, seedHit{id: id, score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if seedCap > 0 && len(hits) > seedCap {
		hits = hits[:seedCap]
	}
	return hits
}

type neighbor struct {
	nodeID string
	weight float64
}

func (s *Store) adjacency() map[string][]neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	adj := make(map[string][]neighbor)
	for _, e := range s.edges {
		adj[e.Source] = append(adj[e.Source], neighbor{e.Target, e.Weight})
		adj[e.Target] = append(adj[e.Target], neighbor{e.Source, e.Weight})
	}
	for id := range adj {
		sort.Slice(adj[id], func(i, j int) bool { return adj[id][i].weight > adj[id][j].weight })
	}
	return adj
}

// Retrieve implements spec.md §4.G: seed matching, bounded-hop BFS
// expansion preferring higher-weight edges, evidence collection, and
// chunk scoring by summed decayed path weight, normalized to [0,1].
func (s *Store) Retrieve(query string, hopBudget, nodeCap int) []RetrievalResult {
	if hopBudget <= 0 {
		hopBudget = 2
	}
	if nodeCap <= 0 {
		nodeCap = DefaultNodeCap
	}

	seeds := s.seedMatches(query, DefaultSeedCap)
	if len(seeds) == 0 {
		return nil
	}

	adj := s.adjacency()

	type visit struct {
		hop         int
		pathScore   float64
		path        []string
	}
	visited := make(map[string]visit, nodeCap)
	frontier := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		n, _ := s.Node(seed.id)
		visited[seed.id] = visit{hop: 0, pathScore: seed.score, path: []string{n.Name}}
		frontier = append(frontier, seed.id)
	}

	for hop := 1; hop <= hopBudget && len(visited) < nodeCap; hop++ {
		var next []string
		for _, id := range frontier {
			cur := visited[id]
			for _, nb := range adj[id] {
				if len(visited) >= nodeCap {
					break
				}
				if _, seen := visited[nb.nodeID]; seen {
					continue
				}
				n, _ := s.Node(nb.nodeID)
				score := cur.pathScore * math.Pow(DefaultHopDecay, float64(hop-cur.hop)) * nb.weight
				path := append(append([]string{}, cur.path...), n.Name)
				visited[nb.nodeID] = visit{hop: hop, pathScore: score, path: path}
				next = append(next, nb.nodeID)
			}
		}
		frontier = next
	}

	chunkScores := make(map[string]float64)
	chunkPath := make(map[string][]string)
	chunkBest := make(map[string]float64)
	for id, v := range visited {
		n, ok := s.Node(id)
		if !ok || n.Type.structural() {
			continue
		}
		for _, ev := range n.Evidence {
			if ev.ChunkID == "" {
				continue
			}
			chunkScores[ev.ChunkID] += v.pathScore
			if _, have := chunkPath[ev.ChunkID]; !have || v.pathScore > chunkBest[ev.ChunkID] {
				chunkPath[ev.ChunkID] = v.path
				chunkBest[ev.ChunkID] = v.pathScore
			}
		}
	}

	if len(chunkScores) == 0 {
		return nil
	}
	maxScore := 0.0
	for _, sc := range chunkScores {
		if sc > maxScore {
			maxScore = sc
		}
	}

	results := make([]RetrievalResult, 0, len(chunkScores))
	for chunkID, sc := range chunkScores {
		norm := sc
		if maxScore > 0 {
			norm = sc / maxScore
		}
		results = append(results, RetrievalResult{ChunkID: chunkID, Score: norm, Path: chunkPath[chunkID]})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
