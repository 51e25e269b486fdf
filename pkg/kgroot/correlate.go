package kgroot

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Relation classifies how an ordered event pair is connected.
type Relation string

const (
	RelationCausal     Relation = "causal"
	RelationSequential Relation = "sequential"
	RelationNone       Relation = "none"
)

// Method records which tier produced a classification.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodPattern   Method = "pattern"
	MethodLLM       Method = "llm"
)

// Classification is the result of classifying an ordered pair (A, B)
// with A.Timestamp <= B.Timestamp.
type Classification struct {
	Relation   Relation `json:"relation"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Method     Method   `json:"method"`
	Pattern    string   `json:"pattern,omitempty"` // pattern name when Method == pattern
}

// StructuredLLM is the constrained-output LLM capability the correlation
// engine escalates to. Implemented by pkg/llm; nil disables tier 3.
type StructuredLLM interface {
	CompleteStructured(ctx context.Context, system, user string, out any) error
}

// CorrelationConfig holds the tier policy parameters.
type CorrelationConfig struct {
	// TImmediate is the co-located window treated as causal by tier 1.
	TImmediate time.Duration
	// TShort is the co-located window treated as sequential by tier 1.
	TShort time.Duration
	// LLMThreshold: when the best tier-1/2 confidence is below this,
	// tier 3 is consulted.
	LLMThreshold float64
	// LLMTimeout bounds each tier-3 call.
	LLMTimeout time.Duration
}

// DefaultCorrelationConfig returns the standard tier policy.
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		TImmediate:   5 * time.Second,
		TShort:       30 * time.Second,
		LLMThreshold: 0.6,
		LLMTimeout:   20 * time.Second,
	}
}

// CorrelationEngine classifies pairwise event relations using the
// three-tier policy: deterministic heuristics, the curated pattern
// library, then (only below threshold) a constrained LLM call.
type CorrelationEngine struct {
	cfg CorrelationConfig
	llm StructuredLLM // nil = tier 3 disabled
}

// NewCorrelationEngine creates an engine. llm may be nil.
func NewCorrelationEngine(cfg CorrelationConfig, llm StructuredLLM) *CorrelationEngine {
	return &CorrelationEngine{cfg: cfg, llm: llm}
}

// Classify classifies the ordered pair (a, b). Tiers 1 and 2 are pure;
// the best of the two wins. Tier 3 is consulted only when that best
// confidence is below the threshold, and any tier-3 failure falls back
// to the deterministic result.
func (e *CorrelationEngine) Classify(ctx context.Context, a, b *Event) Classification {
	// Identical observations never form a causal edge. The extractor
	// dedupes these, but the engine guards independently.
	if a.AbstractType == b.AbstractType && SameLocation(a, b) && a.Timestamp.Equal(b.Timestamp) {
		return Classification{
			Relation:   RelationNone,
			Confidence: 1,
			Reasoning:  "duplicate observation of the same failure",
			Method:     MethodHeuristic,
		}
	}

	best := e.classifyHeuristic(a, b)
	if patternResult, ok := classifyPattern(a, b); ok && patternResult.Confidence > best.Confidence {
		best = patternResult
	}

	if best.Confidence >= e.cfg.LLMThreshold || e.llm == nil {
		return best
	}

	llmResult, err := e.classifyLLM(ctx, a, b)
	if err != nil {
		slog.Debug("LLM correlation failed, using heuristic result",
			"a", a.AbstractType, "b", b.AbstractType, "error", err)
		return best
	}
	return llmResult
}

// classifyHeuristic is tier 1: co-location plus temporal proximity.
func (e *CorrelationEngine) classifyHeuristic(a, b *Event) Classification {
	gap := Gap(a, b)
	if SameLocation(a, b) {
		if gap <= e.cfg.TImmediate {
			return Classification{
				Relation:   RelationCausal,
				Confidence: 0.75,
				Reasoning:  fmt.Sprintf("same location %s within %s", a.Location, e.cfg.TImmediate),
				Method:     MethodHeuristic,
			}
		}
		if gap <= e.cfg.TShort {
			return Classification{
				Relation:   RelationSequential,
				Confidence: 0.6,
				Reasoning:  fmt.Sprintf("same location %s within %s", a.Location, e.cfg.TShort),
				Method:     MethodHeuristic,
			}
		}
	}
	return Classification{
		Relation:   RelationNone,
		Confidence: 0.3,
		Reasoning:  "no co-location or temporal proximity",
		Method:     MethodHeuristic,
	}
}

// classifyPattern is tier 2: the curated cause/effect library.
func classifyPattern(a, b *Event) (Classification, bool) {
	p := MatchPattern(a, b)
	if p == nil {
		return Classification{}, false
	}
	return Classification{
		Relation:   RelationCausal,
		Confidence: p.Confidence,
		Reasoning:  fmt.Sprintf("matches known pattern %s (%s -> %s)", p.Name, p.Cause, p.Effect),
		Method:     MethodPattern,
		Pattern:    p.Name,
	}, true
}

// llmRelationResponse is the constrained response shape for tier 3.
type llmRelationResponse struct {
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

const correlationSystemPrompt = `You are a Kubernetes failure analysis expert.
Given two cluster events, decide whether the first plausibly caused the second.
Respond with JSON only: {"relation": "causal"|"sequential"|"none", "confidence": 0.0-1.0, "reasoning": "..."}`

// classifyLLM is tier 3: a time- and shape-bounded LLM call.
func (e *CorrelationEngine) classifyLLM(ctx context.Context, a, b *Event) (Classification, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()

	user := fmt.Sprintf(
		"Event A: %s at %s (%s): %s\nEvent B: %s at %s (%s): %s\nTime between events: %s",
		a.AbstractType, a.Location, a.Timestamp.Format(time.RFC3339), a.RawMessage,
		b.AbstractType, b.Location, b.Timestamp.Format(time.RFC3339), b.RawMessage,
		Gap(a, b),
	)

	var resp llmRelationResponse
	if err := e.llm.CompleteStructured(callCtx, correlationSystemPrompt, user, &resp); err != nil {
		return Classification{}, err
	}

	relation := Relation(resp.Relation)
	switch relation {
	case RelationCausal, RelationSequential, RelationNone:
	default:
		return Classification{}, fmt.Errorf("invalid relation %q from LLM", resp.Relation)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return Classification{}, fmt.Errorf("confidence %v out of range", resp.Confidence)
	}

	return Classification{
		Relation:   relation,
		Confidence: resp.Confidence,
		Reasoning:  resp.Reasoning,
		Method:     MethodLLM,
	}, nil
}
