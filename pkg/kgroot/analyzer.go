package kgroot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Analysis method values reported in the final result.
const (
	MethodHybridHeuristic = "hybrid_heuristic"
	MethodHybridLLM       = "hybrid_llm"
)

// RankedCause is one scored root-cause candidate.
type RankedCause struct {
	Event        *Event  `json:"event"`
	Score        float64 `json:"score"`
	TimeRank     float64 `json:"time_rank"`
	DistanceRank float64 `json:"distance_rank"`
	Confidence   float64 `json:"confidence"`
}

// PatternMatch describes the best library pattern for the propagation chain.
type PatternMatch struct {
	Pattern     *FailurePattern `json:"pattern"`
	Similarity  float64         `json:"similarity"`
	LLMVerified bool            `json:"llm_verified"`
}

// Analysis is the analyzer's final output.
type Analysis struct {
	RankedCauses            []RankedCause `json:"ranked_causes"`
	PrimaryPropagationChain []*Event      `json:"primary_propagation_chain"`
	MatchedPattern          *PatternMatch `json:"matched_pattern,omitempty"`
	Recommendations         []string      `json:"recommendations"`
	Confidence              float64       `json:"confidence"`
	Method                  string        `json:"method"`
}

// Jaccard similarity thresholds for pattern matching.
const (
	patternMatchFloor   = 0.3 // matches at or below this are discarded
	patternVerifyCeling = 0.7 // matches below this may be LLM-verified
)

// Analyzer runs the full KGroot pipeline: FPG construction, pattern
// matching, and root-cause ranking.
type Analyzer struct {
	builder *FPGBuilder
	llm     StructuredLLM // nil = heuristic-only
}

// NewAnalyzer creates an analyzer over the given correlation engine.
// llm may be nil, disabling LLM verification and tier-3 correlation.
func NewAnalyzer(engine *CorrelationEngine, candidateLimit int, llm StructuredLLM) *Analyzer {
	return &Analyzer{
		builder: NewFPGBuilder(engine, candidateLimit),
		llm:     llm,
	}
}

// Analyze builds the FPG for the events and produces ranked causes with
// recommendations. Zero events yields an empty ranking with a generic
// recommendation, not an error.
func (a *Analyzer) Analyze(ctx context.Context, events []*Event) (*Analysis, *FPG) {
	g := a.builder.Build(ctx, events)

	if len(g.Nodes) == 0 {
		return &Analysis{
			RankedCauses:    nil,
			Recommendations: append([]string(nil), genericRecommendations...),
			Confidence:      0,
			Method:          MethodHybridHeuristic,
		}, g
	}

	chain := g.LongestCausalChain()
	match, llmUsed := a.matchPattern(ctx, chain, g.Nodes)
	ranked := rankRootCauses(g)

	method := MethodHybridHeuristic
	if llmUsed || usedLLMEdges(g) {
		method = MethodHybridLLM
	}

	return &Analysis{
		RankedCauses:            ranked,
		PrimaryPropagationChain: chain,
		MatchedPattern:          match,
		Recommendations:         buildRecommendations(match, ranked),
		Confidence:              analysisConfidence(match, ranked),
		Method:                  method,
	}, g
}

// matchPattern compares the chain's abstract-type set against the named
// pattern library via Jaccard similarity. Low-similarity matches may be
// escalated to LLM verification. Returns the match (or nil) and whether
// the LLM was consulted.
func (a *Analyzer) matchPattern(ctx context.Context, chain, allNodes []*Event) (*PatternMatch, bool) {
	source := chain
	if len(source) == 0 {
		source = allNodes
	}
	observed := abstractSet(source)
	if len(observed) == 0 {
		return nil, false
	}

	var best *PatternMatch
	for i := range failurePatterns {
		p := &failurePatterns[i]
		sim := jaccard(observed, abstractSetOf(p.Sequence))
		if best == nil || sim > best.Similarity {
			best = &PatternMatch{Pattern: p, Similarity: sim}
		}
	}
	if best == nil || best.Similarity <= patternMatchFloor {
		return nil, false
	}

	if best.Similarity < patternVerifyCeling && a.llm != nil {
		verified, err := a.verifyPattern(ctx, best, source)
		if err != nil {
			slog.Debug("Pattern verification failed, keeping heuristic match",
				"pattern", best.Pattern.Name, "error", err)
			return best, false
		}
		if !verified {
			return nil, true
		}
		best.LLMVerified = true
		return best, true
	}

	return best, false
}

type llmVerifyResponse struct {
	Matches   bool   `json:"matches"`
	Reasoning string `json:"reasoning"`
}

const verifySystemPrompt = `You verify whether an observed Kubernetes failure sequence matches a known failure pattern.
Respond with JSON only: {"matches": true|false, "reasoning": "..."}`

func (a *Analyzer) verifyPattern(ctx context.Context, match *PatternMatch, events []*Event) (bool, error) {
	seq := make([]string, len(events))
	for i, e := range events {
		seq[i] = string(e.AbstractType)
	}
	user := fmt.Sprintf("Observed sequence: %v\nCandidate pattern %s: %v\nPattern description: %s",
		seq, match.Pattern.Name, match.Pattern.Sequence, match.Pattern.Description)

	var resp llmVerifyResponse
	if err := a.llm.CompleteStructured(ctx, verifySystemPrompt, user, &resp); err != nil {
		return false, err
	}
	return resp.Matches, nil
}

// rankRootCauses implements the ranking equation: the alarm is the
// latest event; each root cause scores 0.5*time_rank + 0.5*distance_rank
// where time_rank = 1/(1+|dt|) and distance_rank = 1/(1+path_len).
// Ties break by descending confidence, then earliest timestamp.
func rankRootCauses(g *FPG) []RankedCause {
	roots := g.RootCauses()
	if len(roots) == 0 {
		return nil
	}

	alarm := g.Nodes[0]
	for _, n := range g.Nodes[1:] {
		if n.Timestamp.After(alarm.Timestamp) {
			alarm = n
		}
	}

	ranked := make([]RankedCause, 0, len(roots))
	for _, root := range roots {
		dt := math.Abs(alarm.Timestamp.Sub(root.Timestamp).Seconds())
		timeRank := 1 / (1 + dt)

		distanceRank := 0.0
		if pathLen := g.ShortestCausalPathLength(root.ID, alarm.ID); pathLen >= 0 {
			distanceRank = 1 / (1 + float64(pathLen))
		}

		ranked = append(ranked, RankedCause{
			Event:        root,
			Score:        0.5*timeRank + 0.5*distanceRank,
			TimeRank:     timeRank,
			DistanceRank: distanceRank,
			Confidence:   g.MaxOutgoingCausalConfidence(root.ID),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].Event.Timestamp.Before(ranked[j].Event.Timestamp)
	})
	return ranked
}

// buildRecommendations combines the matched pattern's playbook with
// abstract-type fallbacks for the top-ranked cause. Always non-empty.
func buildRecommendations(match *PatternMatch, ranked []RankedCause) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 4)
	add := func(recs []string) {
		for _, r := range recs {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}

	if match != nil {
		add(match.Pattern.Recommendations)
	}
	if len(ranked) > 0 {
		add(typeRecommendations[ranked[0].Event.AbstractType])
	}
	if len(out) == 0 {
		add(genericRecommendations)
	}
	return out
}

// analysisConfidence blends pattern similarity with the top cause's
// edge confidence.
func analysisConfidence(match *PatternMatch, ranked []RankedCause) float64 {
	if len(ranked) == 0 {
		return 0
	}
	conf := ranked[0].Confidence
	if match != nil {
		conf = (conf + match.Similarity) / 2
	}
	return conf
}

func usedLLMEdges(g *FPG) bool {
	for _, e := range g.Edges {
		if e.Method == MethodLLM {
			return true
		}
	}
	return false
}

func abstractSet(events []*Event) map[AbstractType]bool {
	set := make(map[AbstractType]bool, len(events))
	for _, e := range events {
		set[e.AbstractType] = true
	}
	return set
}

func abstractSetOf(types []AbstractType) map[AbstractType]bool {
	set := make(map[AbstractType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

func jaccard(a, b map[AbstractType]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
