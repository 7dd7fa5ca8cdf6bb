package runner_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/graph"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
	"github.com/flowion/flowion/pkg/persistence/file"
	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/registry"
	"github.com/flowion/flowion/pkg/runner"
)

type stubWorker struct {
	fn func(ctx context.Context, request protocol.WorkerRequest) (any, error)
}

func (w stubWorker) Execute(ctx context.Context, request protocol.WorkerRequest, _ *slog.Logger) (any, error) {
	return w.fn(ctx, request)
}

func (w stubWorker) Validate(_ context.Context) error { return nil }

type stubFactory struct {
	id         string
	convention models.CallingConvention
	fn         func(ctx context.Context, request protocol.WorkerRequest) (any, error)
}

func (f stubFactory) Create(_ context.Context, _ map[string]any) (protocol.Worker, error) {
	return stubWorker{fn: f.fn}, nil
}

func (f stubFactory) ID() string                           { return f.id }
func (f stubFactory) Name() string                         { return f.id }
func (f stubFactory) Description() string                  { return "" }
func (f stubFactory) Schema() map[string]any               { return nil }
func (f stubFactory) Convention() models.CallingConvention { return f.convention }

func echoFactory(id string) stubFactory {
	return stubFactory{
		id:         id,
		convention: models.ConventionSync,
		fn: func(_ context.Context, request protocol.WorkerRequest) (any, error) {
			return request.Input, nil
		},
	}
}

func newTestExecutor(t *testing.T, factories ...protocol.WorkerFactory) (*runner.Executor, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(slog.Default())
	for _, factory := range factories {
		reg.RegisterWorker(factory)
	}

	executor := runner.NewExecutor(p, reg, nil, nil, slog.Default(), "http://localhost:9091")
	t.Cleanup(executor.Close)

	return executor, p
}

func saveFlow(t *testing.T, p persistence.Persistence, flow *models.Flow) {
	t.Helper()
	require.NoError(t, p.Flows().Save(context.Background(), flow))
}

func workerNode(id, workerType string) *models.FlowNode {
	return &models.FlowNode{
		ID:         id,
		Kind:       models.NodeKindWorker,
		WorkerType: workerType,
		Name:       id,
	}
}

func journeyEdge(id, source, target string) *models.FlowEdge {
	return &models.FlowEdge{ID: id, Source: source, Target: target, Type: models.EdgeTypeJourney}
}

func waitForStatus(t *testing.T, p persistence.Persistence, flow *models.Flow, runID string, want models.RunStatus) *models.Run {
	t.Helper()

	compiled, err := graph.Compile(flow)
	require.NoError(t, err)

	var run *models.Run

	require.Eventually(t, func() bool {
		run, err = p.Runs().GetByID(context.Background(), runID)
		if err != nil {
			return false
		}

		return run.Status(compiled) == want
	}, 5*time.Second, 10*time.Millisecond)

	return run
}

func waitForNodeStatus(t *testing.T, p persistence.Persistence, runID, nodeID string, want models.NodeStatus) {
	t.Helper()

	require.Eventually(t, func() bool {
		run, err := p.Runs().GetByID(context.Background(), runID)
		if err != nil {
			return false
		}

		state := run.State(nodeID)

		return state != nil && state.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartRun_SyncChainCompletes(t *testing.T) {
	executor, p := newTestExecutor(t, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "sync chain",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			workerNode("a", "echo"),
			workerNode("b", "echo"),
		},
		Edges: []*models.FlowEdge{journeyEdge("e1", "a", "b")},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", map[string]any{"x": 1.0})
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)

	assert.Equal(t, models.NodeStatusCompleted, final.State("a").Status)
	assert.Equal(t, models.NodeStatusCompleted, final.State("b").Status)
	assert.Equal(t, map[string]any{"x": 1.0}, final.State("b").Output)
}

func TestStartRun_EveryNodeStartsPending(t *testing.T) {
	dispatcher := stubFactory{
		id:         "remote",
		convention: models.ConventionAsync,
		fn: func(_ context.Context, _ protocol.WorkerRequest) (any, error) {
			return nil, nil
		},
	}

	executor, p := newTestExecutor(t, dispatcher, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "pending flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			workerNode("remote", "remote"),
			workerNode("mid", "echo"),
			workerNode("last", "echo"),
		},
		Edges: []*models.FlowEdge{
			journeyEdge("e1", "remote", "mid"),
			journeyEdge("e2", "mid", "last"),
		},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	// The persisted run carries a state for every compiled node from the
	// start, not just the ones that have fired.
	saved, err := p.Runs().GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, saved.NodeStates, 3)

	for _, id := range []string{"mid", "last"} {
		state := saved.State(id)
		require.NotNil(t, state)
		assert.Equal(t, models.NodeStatusPending, state.Status)
	}
}

func TestStartRun_RejectsUnpublishedForWebhookTrigger(t *testing.T) {
	executor, p := newTestExecutor(t, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "draft flow",
		Status: models.FlowStatusDraft,
		Nodes:  []*models.FlowNode{workerNode("a", "echo")},
	}
	saveFlow(t, p, flow)

	_, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindWebhook}, "", nil)
	require.ErrorIs(t, err, runner.ErrFlowNotPublished)

	_, err = executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)
}

func TestStartRun_ValidatesInputSchema(t *testing.T) {
	executor, p := newTestExecutor(t, echoFactory("echo"))

	entry := workerNode("a", "echo")
	entry.InputSchema = map[string]any{
		"type":     "object",
		"required": []any{"email"},
		"properties": map[string]any{
			"email": map[string]any{"type": "string"},
		},
	}

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "schema flow",
		Status: models.FlowStatusPublished,
		Nodes:  []*models.FlowNode{entry},
	}
	saveFlow(t, p, flow)

	_, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", map[string]any{"name": "no email"})
	require.ErrorIs(t, err, runner.ErrInputInvalid)

	_, err = executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", map[string]any{"email": "a@b.com"})
	require.NoError(t, err)
}

func TestCallback_CompletesAsyncNode(t *testing.T) {
	dispatcher := stubFactory{
		id:         "remote",
		convention: models.ConventionAsync,
		fn: func(_ context.Context, _ protocol.WorkerRequest) (any, error) {
			return map[string]any{"dispatched": true}, nil
		},
	}

	executor, p := newTestExecutor(t, dispatcher, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "async flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			workerNode("remote", "remote"),
			workerNode("after", "echo"),
		},
		Edges: []*models.FlowEdge{journeyEdge("e1", "remote", "after")},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	// The node stays running until the callback arrives.
	waitForNodeStatus(t, p, run.ID, "remote", models.NodeStatusRunning)

	err = executor.Callback(context.Background(), run.ID, "remote", protocol.CallbackPayload{
		Status: protocol.CallbackCompleted,
		Output: map[string]any{"score": 10.0},
	})
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)
	assert.Equal(t, map[string]any{"score": 10.0}, final.State("remote").Output)
	assert.Equal(t, map[string]any{"score": 10.0}, final.State("after").Output)
}

func TestCallback_DuplicateIsDiscarded(t *testing.T) {
	dispatcher := stubFactory{
		id:         "remote",
		convention: models.ConventionAsync,
		fn: func(_ context.Context, _ protocol.WorkerRequest) (any, error) {
			return nil, nil
		},
	}

	var fires sync.Map

	counter := stubFactory{
		id:         "counter",
		convention: models.ConventionSync,
		fn: func(_ context.Context, request protocol.WorkerRequest) (any, error) {
			count, _ := fires.LoadOrStore(request.NodeID, new(int))
			*count.(*int)++

			return map[string]any{}, nil
		},
	}

	executor, p := newTestExecutor(t, dispatcher, counter)

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "dup flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			workerNode("remote", "remote"),
			workerNode("down", "counter"),
		},
		Edges: []*models.FlowEdge{journeyEdge("e1", "remote", "down")},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	waitForNodeStatus(t, p, run.ID, "remote", models.NodeStatusRunning)

	payload := protocol.CallbackPayload{Status: protocol.CallbackCompleted, Output: map[string]any{}}

	require.NoError(t, executor.Callback(context.Background(), run.ID, "remote", payload))

	// Same callback again: accepted as a duplicate, no second downstream fire.
	err = executor.Callback(context.Background(), run.ID, "remote", payload)
	require.True(t, runner.IsDuplicateCallback(err))

	waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)

	count, ok := fires.Load("down")
	require.True(t, ok)
	assert.Equal(t, 1, *count.(*int))
}

func TestCallback_RacingRunFinishAlwaysReturns(t *testing.T) {
	dispatcher := stubFactory{
		id:         "remote",
		convention: models.ConventionAsync,
		fn: func(_ context.Context, _ protocol.WorkerRequest) (any, error) {
			return nil, nil
		},
	}

	executor, p := newTestExecutor(t, dispatcher)

	// The winning callback finishes the run while the loser may already be
	// queued behind it. The loser must still get an answer.
	for i := 0; i < 5; i++ {
		flow := &models.Flow{
			ID:     fmt.Sprintf("flow-%d", i),
			Name:   "race flow",
			Status: models.FlowStatusPublished,
			Nodes:  []*models.FlowNode{workerNode("remote", "remote")},
		}
		saveFlow(t, p, flow)

		run, err := executor.StartRun(context.Background(), flow.ID,
			models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
		require.NoError(t, err)

		waitForNodeStatus(t, p, run.ID, "remote", models.NodeStatusRunning)

		payload := protocol.CallbackPayload{Status: protocol.CallbackCompleted, Output: map[string]any{}}

		results := make(chan error, 2)
		for j := 0; j < 2; j++ {
			go func() {
				results <- executor.Callback(context.Background(), run.ID, "remote", payload)
			}()
		}

		var completed int

		for j := 0; j < 2; j++ {
			select {
			case err := <-results:
				if err == nil {
					completed++
					continue
				}

				require.True(t, runner.IsDuplicateCallback(err) || runner.IsRunFinished(err),
					"unexpected callback error: %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("callback blocked on a finishing run")
			}
		}

		assert.Equal(t, 1, completed)
	}
}

func TestCallback_UnknownRunAndNode(t *testing.T) {
	executor, p := newTestExecutor(t, echoFactory("echo"))

	payload := protocol.CallbackPayload{Status: protocol.CallbackCompleted}

	err := executor.Callback(context.Background(), "no-such-run", "a", payload)
	require.ErrorIs(t, err, persistence.ErrRunNotFound)

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "known flow",
		Status: models.FlowStatusPublished,
		Nodes:  []*models.FlowNode{workerNode("a", "echo")},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	err = executor.Callback(context.Background(), run.ID, "no-such-node", payload)
	require.ErrorIs(t, err, persistence.ErrNodeNotFound)
}

func TestSplitterFanOutCollectorFanIn(t *testing.T) {
	double := stubFactory{
		id:         "double",
		convention: models.ConventionSync,
		fn: func(_ context.Context, request protocol.WorkerRequest) (any, error) {
			value, _ := request.Input["item"].(float64)

			return map[string]any{"doubled": value * 2}, nil
		},
	}

	executor, p := newTestExecutor(t, double, echoFactory("echo"))

	splitter := &models.FlowNode{
		ID:     "split",
		Kind:   models.NodeKindSplitter,
		Name:   "split",
		Config: map[string]any{"items_field": "items"},
	}
	collector := &models.FlowNode{
		ID:     "collect",
		Kind:   models.NodeKindCollector,
		Name:   "collect",
		Config: map[string]any{"flatten_outputs": true},
	}

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "fan flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			splitter,
			workerNode("work", "double"),
			collector,
		},
		Edges: []*models.FlowEdge{
			journeyEdge("e1", "split", "work"),
			journeyEdge("e2", "work", "collect"),
		},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "",
		map[string]any{"items": []any{1.0, 2.0, 3.0}})
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)

	collectState := final.State("collect")
	require.NotNil(t, collectState)
	assert.Equal(t, 3, collectState.ExpectedUpstream)
	assert.Equal(t, 3, collectState.UpstreamCompleted)

	flat, ok := collectState.Output.([]any)
	require.True(t, ok)
	require.Len(t, flat, 3)

	doubled := make([]float64, 0, 3)
	for _, item := range flat {
		m, ok := item.(map[string]any)
		require.True(t, ok)
		doubled = append(doubled, m["doubled"].(float64))
	}

	assert.Equal(t, []float64{2, 4, 6}, doubled)
}

func TestSplitter_EmptyArrayResolvesCollector(t *testing.T) {
	executor, p := newTestExecutor(t, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "empty fan",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			{ID: "split", Kind: models.NodeKindSplitter, Name: "split", Config: map[string]any{"items_field": "items"}},
			workerNode("work", "echo"),
			{ID: "collect", Kind: models.NodeKindCollector, Name: "collect"},
		},
		Edges: []*models.FlowEdge{
			journeyEdge("e1", "split", "work"),
			journeyEdge("e2", "work", "collect"),
		},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "",
		map[string]any{"items": []any{}})
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)
	assert.Equal(t, models.NodeStatusCompleted, final.State("collect").Status)
	assert.Equal(t, 0, final.State("collect").ExpectedUpstream)
}

func TestSplitter_CollectorQuotaSetAtFanOut(t *testing.T) {
	release := make(chan struct{})

	hold := stubFactory{
		id:         "hold",
		convention: models.ConventionSync,
		fn: func(ctx context.Context, request protocol.WorkerRequest) (any, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			return request.Input, nil
		},
	}

	executor, p := newTestExecutor(t, hold)

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "quota flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			{ID: "split", Kind: models.NodeKindSplitter, Name: "split", Config: map[string]any{"items_field": "items"}},
			workerNode("work", "hold"),
			{ID: "collect", Kind: models.NodeKindCollector, Name: "collect"},
		},
		Edges: []*models.FlowEdge{
			journeyEdge("e1", "split", "work"),
			journeyEdge("e2", "work", "collect"),
		},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "",
		map[string]any{"items": []any{1.0, 2.0, 3.0}})
	require.NoError(t, err)

	// While every branch instance is still in flight, the persisted
	// collector counters already show the real fan-in quota.
	require.Eventually(t, func() bool {
		current, err := p.Runs().GetByID(context.Background(), run.ID)
		if err != nil {
			return false
		}

		state := current.State("collect")

		return state != nil && state.ExpectedUpstream == 3 && state.UpstreamCompleted == 0
	}, 5*time.Second, 10*time.Millisecond)

	close(release)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)
	assert.Equal(t, 3, final.State("collect").UpstreamCompleted)
	assert.Equal(t, 3, final.State("collect").ExpectedUpstream)
}

func TestCollector_WaitsForAllUpstreamBranches(t *testing.T) {
	release := make(chan struct{})

	slow := stubFactory{
		id:         "slow",
		convention: models.ConventionSync,
		fn: func(ctx context.Context, _ protocol.WorkerRequest) (any, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			return map[string]any{"branch": "slow"}, nil
		},
	}

	executor, p := newTestExecutor(t, slow, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "join flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			workerNode("fast", "echo"),
			workerNode("slow", "slow"),
			{ID: "join", Kind: models.NodeKindCollector, Name: "join"},
		},
		Edges: []*models.FlowEdge{
			journeyEdge("e1", "fast", "join"),
			journeyEdge("e2", "slow", "join"),
		},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	waitForNodeStatus(t, p, run.ID, "fast", models.NodeStatusCompleted)

	current, err := p.Runs().GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, current.State("join"))
	assert.Equal(t, models.NodeStatusPending, current.State("join").Status)
	assert.Equal(t, 1, current.State("join").UpstreamCompleted)
	assert.Equal(t, 2, current.State("join").ExpectedUpstream)

	close(release)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)
	assert.Equal(t, models.NodeStatusCompleted, final.State("join").Status)
	assert.Equal(t, 2, final.State("join").UpstreamCompleted)
}

func TestGateNode_WaitsAndResumes(t *testing.T) {
	executor, p := newTestExecutor(t, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "gate flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			{ID: "approve", Kind: models.NodeKindGate, Name: "approve", Config: map[string]any{"prompt": "approve?"}},
			workerNode("after", "echo"),
		},
		Edges: []*models.FlowEdge{journeyEdge("e1", "approve", "after")},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	waitForNodeStatus(t, p, run.ID, "approve", models.NodeStatusWaitingForInput)

	// Resuming a node that is not waiting is rejected.
	err = executor.Resume(context.Background(), run.ID, "after", map[string]any{})
	require.ErrorIs(t, err, runner.ErrNotWaiting)

	err = executor.Resume(context.Background(), run.ID, "approve", map[string]any{"approved": true})
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)
	assert.Equal(t, map[string]any{"approved": true}, final.State("after").Output)
}

func TestFailedBranchIsolatedFromSibling(t *testing.T) {
	failing := stubFactory{
		id:         "boom",
		convention: models.ConventionSync,
		fn: func(_ context.Context, _ protocol.WorkerRequest) (any, error) {
			return nil, assert.AnError
		},
	}

	executor, p := newTestExecutor(t, failing, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "branch flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			workerNode("bad", "boom"),
			workerNode("bad-next", "echo"),
			workerNode("good", "echo"),
			workerNode("good-next", "echo"),
		},
		Edges: []*models.FlowEdge{
			journeyEdge("e1", "bad", "bad-next"),
			journeyEdge("e2", "good", "good-next"),
		},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusFailed)

	// The healthy branch ran to completion before the run settled failed.
	assert.Equal(t, models.NodeStatusCompleted, final.State("good-next").Status)
	assert.Equal(t, models.NodeStatusFailed, final.State("bad").Status)
	assert.Equal(t, models.NodeStatusPending, final.State("bad-next").Status)
	assert.Contains(t, final.FailedNodes(), "bad")
}

func TestSystemEdgeFailureIsolated(t *testing.T) {
	var systemCalls sync.Map

	sideEffect := stubFactory{
		id:         "notify",
		convention: models.ConventionSync,
		fn: func(_ context.Context, request protocol.WorkerRequest) (any, error) {
			systemCalls.Store(request.NodeID, true)

			return nil, assert.AnError
		},
	}

	executor, p := newTestExecutor(t, sideEffect, echoFactory("echo"))

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "system flow",
		Status: models.FlowStatusPublished,
		Nodes: []*models.FlowNode{
			workerNode("main", "echo"),
			workerNode("side", "notify"),
			workerNode("end", "echo"),
		},
		Edges: []*models.FlowEdge{
			journeyEdge("e1", "main", "end"),
			{ID: "e2", Source: "main", Target: "side", Type: models.EdgeTypeSystem},
		},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", map[string]any{"x": 1.0})
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)

	// The system edge ran and failed; the run never noticed.
	require.Eventually(t, func() bool {
		_, ok := systemCalls.Load("side")

		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.NodeStatusPending, final.State("side").Status)
	assert.Equal(t, models.NodeStatusCompleted, final.State("end").Status)
}

func TestAsyncTimeout_FailsNode(t *testing.T) {
	dispatcher := stubFactory{
		id:         "remote",
		convention: models.ConventionAsync,
		fn: func(_ context.Context, _ protocol.WorkerRequest) (any, error) {
			return nil, nil
		},
	}

	executor, p := newTestExecutor(t, dispatcher)

	node := workerNode("remote", "remote")
	node.Config = map[string]any{"timeout_seconds": 1}

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "timeout flow",
		Status: models.FlowStatusPublished,
		Nodes:  []*models.FlowNode{node},
	}
	saveFlow(t, p, flow)

	run, err := executor.StartRun(context.Background(), "flow-1",
		models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
	require.NoError(t, err)

	final := waitForStatus(t, p, flow, run.ID, models.RunStatusFailed)
	assert.Equal(t, models.NodeStatusFailed, final.State("remote").Status)
	assert.Contains(t, final.State("remote").Error, "no callback")
}

func TestCallbackOrderIndependence(t *testing.T) {
	dispatcher := stubFactory{
		id:         "remote",
		convention: models.ConventionAsync,
		fn: func(_ context.Context, _ protocol.WorkerRequest) (any, error) {
			return nil, nil
		},
	}

	runOnce := func(t *testing.T, order []string) map[string]models.NodeStatus {
		t.Helper()

		executor, p := newTestExecutor(t, dispatcher)

		flow := &models.Flow{
			ID:     "flow-1",
			Name:   "order flow",
			Status: models.FlowStatusPublished,
			Nodes: []*models.FlowNode{
				workerNode("left", "remote"),
				workerNode("right", "remote"),
				{ID: "join", Kind: models.NodeKindCollector, Name: "join"},
			},
			Edges: []*models.FlowEdge{
				journeyEdge("e1", "left", "join"),
				journeyEdge("e2", "right", "join"),
			},
		}
		saveFlow(t, p, flow)

		run, err := executor.StartRun(context.Background(), "flow-1",
			models.RunTrigger{Kind: models.TriggerKindManual}, "", nil)
		require.NoError(t, err)

		waitForNodeStatus(t, p, run.ID, "left", models.NodeStatusRunning)
		waitForNodeStatus(t, p, run.ID, "right", models.NodeStatusRunning)

		for _, nodeID := range order {
			err = executor.Callback(context.Background(), run.ID, nodeID, protocol.CallbackPayload{
				Status: protocol.CallbackCompleted,
				Output: map[string]any{"from": nodeID},
			})
			require.NoError(t, err)
		}

		final := waitForStatus(t, p, flow, run.ID, models.RunStatusCompleted)

		statuses := make(map[string]models.NodeStatus)
		for id, state := range final.NodeStates {
			statuses[id] = state.Status
		}

		return statuses
	}

	leftFirst := runOnce(t, []string{"left", "right"})
	rightFirst := runOnce(t, []string{"right", "left"})

	assert.Equal(t, leftFirst, rightFirst)
}
