package kgroot

import (
	"context"
	"sort"
)

// Edge is a directed relation between two events in the fault
// propagation graph. Source always precedes Target chronologically.
type Edge struct {
	Source     string   `json:"source"` // event ID
	Target     string   `json:"target"` // event ID
	Relation   Relation `json:"relation"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Method     Method   `json:"method"`
	Pattern    string   `json:"pattern,omitempty"`
}

// FPG is the fault propagation graph: events as nodes, classified
// causal/sequential relations as edges.
type FPG struct {
	Nodes []*Event `json:"nodes"`
	Edges []Edge   `json:"edges"`

	byID     map[string]*Event
	incoming map[string][]int // event ID -> indexes into Edges
	outgoing map[string][]int
}

// edgeConfidenceFloor: candidate relations at or below this confidence
// are not added to the graph.
const edgeConfidenceFloor = 0.5

// DefaultCandidateLimit is K: the number of predecessors considered per
// incoming event. O(N*K) classifications total.
const DefaultCandidateLimit = 5

// FPGBuilder constructs fault propagation graphs using a correlation engine.
type FPGBuilder struct {
	engine         *CorrelationEngine
	candidateLimit int
}

// NewFPGBuilder creates a builder. candidateLimit <= 0 selects the default.
func NewFPGBuilder(engine *CorrelationEngine, candidateLimit int) *FPGBuilder {
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &FPGBuilder{engine: engine, candidateLimit: candidateLimit}
}

// Build constructs the FPG for the given events. Events are processed in
// chronological order; each new event is linked to at most one
// predecessor (the highest-confidence classified relation above the
// floor). Every event becomes a node regardless of edges.
func (b *FPGBuilder) Build(ctx context.Context, events []*Event) *FPG {
	sorted := make([]*Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	g := &FPG{
		byID:     make(map[string]*Event, len(sorted)),
		incoming: make(map[string][]int),
		outgoing: make(map[string][]int),
	}

	for i, incoming := range sorted {
		candidates := selectCandidates(sorted[:i], incoming, b.candidateLimit)

		var bestFrom *Event
		var best Classification
		for _, cand := range candidates {
			if ctx.Err() != nil {
				break
			}
			cls := b.engine.Classify(ctx, cand, incoming)
			if cls.Relation == RelationNone {
				continue
			}
			if bestFrom == nil || cls.Confidence > best.Confidence {
				bestFrom, best = cand, cls
			}
		}

		g.addNode(incoming)
		if bestFrom != nil && best.Confidence > edgeConfidenceFloor {
			g.addEdge(Edge{
				Source:     bestFrom.ID,
				Target:     incoming.ID,
				Relation:   best.Relation,
				Confidence: best.Confidence,
				Reasoning:  best.Reasoning,
				Method:     best.Method,
				Pattern:    best.Pattern,
			})
		}
	}

	return g
}

// selectCandidates returns up to limit predecessors for an incoming
// event: co-located events first (nearest in time), then the remaining
// nearest-in-time events.
func selectCandidates(prior []*Event, incoming *Event, limit int) []*Event {
	if len(prior) == 0 {
		return nil
	}

	// prior is chronologically ascending; walk backwards so nearest
	// events are considered first.
	sameLoc := make([]*Event, 0, limit)
	others := make([]*Event, 0, limit)
	for i := len(prior) - 1; i >= 0; i-- {
		if SameLocation(prior[i], incoming) {
			sameLoc = append(sameLoc, prior[i])
		} else {
			others = append(others, prior[i])
		}
	}

	candidates := make([]*Event, 0, limit)
	candidates = append(candidates, sameLoc...)
	candidates = append(candidates, others...)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func (g *FPG) addNode(e *Event) {
	if _, ok := g.byID[e.ID]; ok {
		return
	}
	g.Nodes = append(g.Nodes, e)
	g.byID[e.ID] = e
}

func (g *FPG) addEdge(e Edge) {
	idx := len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.incoming[e.Target] = append(g.incoming[e.Target], idx)
	g.outgoing[e.Source] = append(g.outgoing[e.Source], idx)
}

// Node returns the event with the given ID, or nil.
func (g *FPG) Node(id string) *Event { return g.byID[id] }

// CausalInDegree counts incoming causal edges for a node.
func (g *FPG) CausalInDegree(id string) int {
	n := 0
	for _, idx := range g.incoming[id] {
		if g.Edges[idx].Relation == RelationCausal {
			n++
		}
	}
	return n
}

// RootCauses returns the nodes with no incoming causal edge, in
// chronological order.
func (g *FPG) RootCauses() []*Event {
	roots := make([]*Event, 0)
	for _, n := range g.Nodes {
		if g.CausalInDegree(n.ID) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// LongestCausalChain returns the longest path over causal edges, as an
// ordered event slice. Edges always point forward in time, so the causal
// subgraph is a DAG and a single forward pass suffices.
func (g *FPG) LongestCausalChain() []*Event {
	if len(g.Nodes) == 0 {
		return nil
	}

	// Nodes were appended in chronological order by Build.
	bestLen := make(map[string]int, len(g.Nodes))
	prev := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		bestLen[n.ID] = 1
	}
	for _, n := range g.Nodes {
		for _, idx := range g.outgoing[n.ID] {
			e := g.Edges[idx]
			if e.Relation != RelationCausal {
				continue
			}
			if bestLen[n.ID]+1 > bestLen[e.Target] {
				bestLen[e.Target] = bestLen[n.ID] + 1
				prev[e.Target] = n.ID
			}
		}
	}

	endID, maxLen := "", 0
	for id, l := range bestLen {
		if l > maxLen {
			endID, maxLen = id, l
		}
	}

	chain := make([]*Event, 0, maxLen)
	for id := endID; id != ""; id = prev[id] {
		chain = append(chain, g.byID[id])
		if _, ok := prev[id]; !ok {
			break
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// ShortestCausalPathLength returns the number of causal edges on the
// shortest path from source to target, or -1 when unreachable.
func (g *FPG) ShortestCausalPathLength(sourceID, targetID string) int {
	if sourceID == targetID {
		return 0
	}
	type item struct {
		id   string
		dist int
	}
	visited := map[string]bool{sourceID: true}
	queue := []item{{sourceID, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, idx := range g.outgoing[cur.id] {
			e := g.Edges[idx]
			if e.Relation != RelationCausal || visited[e.Target] {
				continue
			}
			if e.Target == targetID {
				return cur.dist + 1
			}
			visited[e.Target] = true
			queue = append(queue, item{e.Target, cur.dist + 1})
		}
	}
	return -1
}

// MaxOutgoingCausalConfidence returns the strongest outgoing causal edge
// confidence for a node, or 0.5 when the node has none. Used as the
// node-level confidence during ranking tie-breaks.
func (g *FPG) MaxOutgoingCausalConfidence(id string) float64 {
	best := 0.5
	for _, idx := range g.outgoing[id] {
		e := g.Edges[idx]
		if e.Relation == RelationCausal && e.Confidence > best {
			best = e.Confidence
		}
	}
	return best
}
