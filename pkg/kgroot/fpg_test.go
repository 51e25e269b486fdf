package kgroot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestFPG(t *testing.T, events []*Event) *FPG {
	t.Helper()
	engine := NewCorrelationEngine(DefaultCorrelationConfig(), nil)
	return NewFPGBuilder(engine, 0).Build(context.Background(), events)
}

func TestBuild_EveryEventBecomesANode(t *testing.T) {
	events := []*Event{
		testEvent("a", MemoryPressure, "pod:api-1", 0),
		testEvent("b", OOMKilled, "pod:api-1", 30*time.Second),
		testEvent("c", Unknown, "node:far-away", 2*time.Hour),
	}
	g := buildTestFPG(t, events)
	assert.Len(t, g.Nodes, 3, "unrelated events still appear as nodes")
}

func TestBuild_SingleBestPredecessorPerNode(t *testing.T) {
	// CrashLoop has two plausible causes; only the strongest edge is kept.
	events := []*Event{
		testEvent("mem", MemoryPressure, "pod:api-1", 0),
		testEvent("oom", OOMKilled, "pod:api-1", 30*time.Second),
		testEvent("crash", PodCrashLoop, "pod:api-1", 60*time.Second),
	}
	g := buildTestFPG(t, events)

	require.Len(t, g.incoming["crash"], 1)
	edge := g.Edges[g.incoming["crash"][0]]
	assert.Equal(t, "oom", edge.Source)
	assert.Equal(t, 0.98, edge.Confidence)
	assert.Equal(t, "OOM_TO_CRASH_LOOP", edge.Pattern)
}

func TestBuild_EdgeConfidenceFloor(t *testing.T) {
	// 20s apart, co-located: sequential at 0.6, above the 0.5 floor.
	near := buildTestFPG(t, []*Event{
		testEvent("a", Unknown, "pod:api-1", 0),
		testEvent("b", DeadlineExceeded, "pod:api-1", 20*time.Second),
	})
	assert.Len(t, near.Edges, 1)

	// Minutes apart across locations: nothing classifies above the floor.
	far := buildTestFPG(t, []*Event{
		testEvent("a", Unknown, "pod:api-1", 0),
		testEvent("b", DeadlineExceeded, "node:worker-3", 5*time.Minute),
	})
	assert.Empty(t, far.Edges)
}

func TestBuild_UnsortedInputHandled(t *testing.T) {
	events := []*Event{
		testEvent("crash", PodCrashLoop, "pod:api-1", 60*time.Second),
		testEvent("mem", MemoryPressure, "pod:api-1", 0),
		testEvent("oom", OOMKilled, "pod:api-1", 30*time.Second),
	}
	g := buildTestFPG(t, events)

	// Chronological node order regardless of input order.
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, "mem", g.Nodes[0].ID)
	assert.Equal(t, "crash", g.Nodes[2].ID)
	assert.Len(t, g.Edges, 2)
}

func TestSelectCandidates_SameLocationFirst(t *testing.T) {
	prior := []*Event{
		testEvent("other1", Unknown, "node:w1", 0),
		testEvent("same1", Unknown, "pod:api-1", 10*time.Second),
		testEvent("other2", Unknown, "node:w2", 20*time.Second),
		testEvent("same2", Unknown, "pod:api-1", 30*time.Second),
	}
	incoming := testEvent("in", PodCrashLoop, "pod:api-1", 40*time.Second)

	got := selectCandidates(prior, incoming, 3)
	require.Len(t, got, 3)
	// Co-located first, nearest in time first within each group.
	assert.Equal(t, "same2", got[0].ID)
	assert.Equal(t, "same1", got[1].ID)
	assert.Equal(t, "other2", got[2].ID)
}

func TestRootCauses_ZeroCausalInDegree(t *testing.T) {
	events := []*Event{
		testEvent("mem", MemoryPressure, "pod:api-1", 0),
		testEvent("oom", OOMKilled, "pod:api-1", 30*time.Second),
		testEvent("crash", PodCrashLoop, "pod:api-1", 60*time.Second),
	}
	g := buildTestFPG(t, events)

	roots := g.RootCauses()
	require.Len(t, roots, 1)
	assert.Equal(t, "mem", roots[0].ID)

	// The invariant both ways: every root has in-degree 0, every
	// non-root has in-degree > 0.
	rootIDs := map[string]bool{}
	for _, r := range roots {
		rootIDs[r.ID] = true
	}
	for _, n := range g.Nodes {
		if rootIDs[n.ID] {
			assert.Zero(t, g.CausalInDegree(n.ID))
		} else {
			assert.Positive(t, g.CausalInDegree(n.ID))
		}
	}
}

func TestLongestCausalChain(t *testing.T) {
	events := []*Event{
		testEvent("mem", MemoryPressure, "pod:api-1", 0),
		testEvent("oom", OOMKilled, "pod:api-1", 30*time.Second),
		testEvent("crash", PodCrashLoop, "pod:api-1", 60*time.Second),
		testEvent("stray", Unknown, "node:far", 3*time.Hour),
	}
	g := buildTestFPG(t, events)

	chain := g.LongestCausalChain()
	require.Len(t, chain, 3)
	assert.Equal(t, "mem", chain[0].ID)
	assert.Equal(t, "oom", chain[1].ID)
	assert.Equal(t, "crash", chain[2].ID)
}

func TestShortestCausalPathLength(t *testing.T) {
	events := []*Event{
		testEvent("mem", MemoryPressure, "pod:api-1", 0),
		testEvent("oom", OOMKilled, "pod:api-1", 30*time.Second),
		testEvent("crash", PodCrashLoop, "pod:api-1", 60*time.Second),
	}
	g := buildTestFPG(t, events)

	assert.Equal(t, 0, g.ShortestCausalPathLength("mem", "mem"))
	assert.Equal(t, 1, g.ShortestCausalPathLength("mem", "oom"))
	assert.Equal(t, 2, g.ShortestCausalPathLength("mem", "crash"))
	assert.Equal(t, -1, g.ShortestCausalPathLength("crash", "mem"))
}
