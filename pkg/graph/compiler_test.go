package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/models"
)

func testFlow() *models.Flow {
	return &models.Flow{
		ID:   "flow-1",
		Name: "Lead qualification",
		Nodes: []*models.FlowNode{
			{ID: "enrich", Kind: models.NodeKindWorker, WorkerType: "http-call", Name: "Enrich", PositionX: 10, PositionY: 20},
			{ID: "split", Kind: models.NodeKindSplitter, Name: "Split", Style: map[string]any{"color": "#fff"}},
			{ID: "score", Kind: models.NodeKindWorker, WorkerType: "http-call", Name: "Score"},
			{ID: "collect", Kind: models.NodeKindCollector, Name: "Collect"},
		},
		Edges: []*models.FlowEdge{
			{ID: "e3", Source: "score", Target: "collect", Type: models.EdgeTypeJourney},
			{ID: "e1", Source: "enrich", Target: "split", Type: models.EdgeTypeJourney, Label: "next"},
			{ID: "e2", Source: "split", Target: "score", Type: models.EdgeTypeJourney},
			{ID: "s1", Source: "enrich", Target: "collect", Type: models.EdgeTypeSystem},
		},
	}
}

func TestCompile_BuildsIndexes(t *testing.T) {
	compiled, err := Compile(testFlow())
	require.NoError(t, err)

	assert.Len(t, compiled.Nodes, 4)
	assert.Equal(t, []string{"split"}, compiled.Adjacency["enrich"])
	assert.Equal(t, []string{"score"}, compiled.Adjacency["split"])
	assert.Equal(t, []string{"collect"}, compiled.Adjacency["score"])

	// System edge appears only in the outbound index.
	assert.NotContains(t, compiled.Adjacency["enrich"], "collect")
	require.Len(t, compiled.OutboundEdges["enrich"], 2)
	assert.Equal(t, "e1", compiled.OutboundEdges["enrich"][0].ID)
	assert.Equal(t, "s1", compiled.OutboundEdges["enrich"][1].ID)

	assert.Equal(t, []string{"enrich"}, compiled.EntryNodes)
	assert.Equal(t, []string{"collect"}, compiled.TerminalNodes)
}

func TestCompile_StripsCanvasFields(t *testing.T) {
	compiled, err := Compile(testFlow())
	require.NoError(t, err)

	data, err := json.Marshal(compiled)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "position_x")
	assert.NotContains(t, string(data), "style")
	assert.NotContains(t, string(data), "label")
}

func TestCompile_Deterministic(t *testing.T) {
	first, err := Compile(testFlow())
	require.NoError(t, err)

	// Same flow with edges listed in a different order.
	reordered := testFlow()
	reordered.Edges = []*models.FlowEdge{
		reordered.Edges[3], reordered.Edges[2], reordered.Edges[0], reordered.Edges[1],
	}

	second, err := Compile(reordered)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestCompile_DanglingReferences(t *testing.T) {
	flow := testFlow()
	flow.Edges = append(flow.Edges,
		&models.FlowEdge{ID: "bad1", Source: "enrich", Target: "ghost", Type: models.EdgeTypeJourney},
		&models.FlowEdge{ID: "bad2", Source: "phantom", Target: "score", Type: models.EdgeTypeSystem},
	)

	compiled, err := Compile(flow)
	assert.Nil(t, compiled)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "flow-1", validationErr.FlowID)
	require.Len(t, validationErr.Dangling, 2)
	assert.Equal(t, DanglingReference{EdgeID: "bad1", NodeID: "ghost", Role: "target"}, validationErr.Dangling[0])
	assert.Equal(t, DanglingReference{EdgeID: "bad2", NodeID: "phantom", Role: "source"}, validationErr.Dangling[1])
}

func TestCompile_MultipleEntryAndTerminalNodes(t *testing.T) {
	flow := &models.Flow{
		ID: "flow-2",
		Nodes: []*models.FlowNode{
			{ID: "a", Kind: models.NodeKindWorker, Name: "A"},
			{ID: "b", Kind: models.NodeKindWorker, Name: "B"},
			{ID: "c", Kind: models.NodeKindCollector, Name: "C"},
			{ID: "d", Kind: models.NodeKindWorker, Name: "D"},
		},
		Edges: []*models.FlowEdge{
			{ID: "e1", Source: "a", Target: "c", Type: models.EdgeTypeJourney},
			{ID: "e2", Source: "b", Target: "c", Type: models.EdgeTypeJourney},
		},
	}

	compiled, err := Compile(flow)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "d"}, compiled.EntryNodes)
	assert.Equal(t, []string{"c", "d"}, compiled.TerminalNodes)
	assert.Equal(t, 2, compiled.InboundJourneyCount("c"))
	assert.ElementsMatch(t, []string{"a", "b"}, compiled.Predecessors("c"))
}

func TestCompile_SystemOnlyTargetsExcludedFromEntryAndTerminal(t *testing.T) {
	flow := &models.Flow{
		ID: "flow-3",
		Nodes: []*models.FlowNode{
			{ID: "main", Kind: models.NodeKindWorker, Name: "Main"},
			{ID: "audit", Kind: models.NodeKindWorker, Name: "Audit"},
			{ID: "end", Kind: models.NodeKindWorker, Name: "End"},
		},
		Edges: []*models.FlowEdge{
			{ID: "e1", Source: "main", Target: "end", Type: models.EdgeTypeJourney},
			{ID: "s1", Source: "main", Target: "audit", Type: models.EdgeTypeSystem},
		},
	}

	compiled, err := Compile(flow)
	require.NoError(t, err)

	// audit is reachable only through a system edge: it runs as a detached
	// side effect and must neither fire at run start nor gate completion.
	assert.Equal(t, []string{"main"}, compiled.EntryNodes)
	assert.Equal(t, []string{"end"}, compiled.TerminalNodes)
	assert.True(t, compiled.HasNode("audit"))
}
