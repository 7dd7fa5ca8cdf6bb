// Package runner implements the edge-walking executor: the state machine that
// advances a run by firing ready nodes, applying splitter fan-out and
// collector fan-in, and deciding what runs next after each completion.
//
// Each active run is owned by a single coordinator goroutine. Every state
// change, including inbound worker callbacks, is delivered to that goroutine
// through a mailbox channel, so node states have exactly one writer and
// out-of-order or duplicated completions are serialized before they touch
// anything.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/flowion/flowion/pkg/eventbus"
	"github.com/flowion/flowion/pkg/events"
	"github.com/flowion/flowion/pkg/graph"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/registry"
)

// EntityMover is the journey-tracker hook the executor calls when a node with
// an entity movement rule finishes. Implemented by journey.Tracker.
type EntityMover interface {
	ApplyMovement(ctx context.Context, entityID, runID string, target *models.MovementTarget, success bool) error
}

// Executor starts runs and owns their coordinators.
type Executor struct {
	persistence  persistence.Persistence
	registry     *registry.Registry
	eventBus     eventbus.EventPublisher
	mover        EntityMover
	logger       *slog.Logger
	callbackBase string

	mu           sync.RWMutex
	coordinators map[string]*coordinator
}

func NewExecutor(
	p persistence.Persistence,
	reg *registry.Registry,
	bus eventbus.EventPublisher,
	mover EntityMover,
	logger *slog.Logger,
	callbackBase string,
) *Executor {
	return &Executor{
		persistence:  p,
		registry:     reg,
		eventBus:     bus,
		mover:        mover,
		logger:       logger.With("module", "runner"),
		callbackBase: callbackBase,
		coordinators: make(map[string]*coordinator),
	}
}

// StartRun compiles the flow, validates the input against entry node schemas,
// persists a fresh run, and fires the entry nodes.
func (e *Executor) StartRun(
	ctx context.Context,
	flowID string,
	trigger models.RunTrigger,
	entityID string,
	input map[string]any,
) (*models.Run, error) {
	flow, err := e.persistence.Flows().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	// Manual runs may exercise drafts; every other trigger requires a
	// published version.
	if trigger.Kind != models.TriggerKindManual && flow.Status != models.FlowStatusPublished {
		return nil, fmt.Errorf("flow %s: %w", flowID, ErrFlowNotPublished)
	}

	compiled, err := graph.Compile(flow)
	if err != nil {
		return nil, err
	}

	err = validateRunInput(compiled, input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// Every compiled node starts out pending, so a persisted run always
	// carries the full picture of what has not executed yet.
	states := make(map[string]*models.NodeState, len(compiled.Nodes))
	for id := range compiled.Nodes {
		states[id] = &models.NodeState{Status: models.NodeStatusPending}
	}

	run := &models.Run{
		ID:          uuid.New().String(),
		FlowID:      flowGroup(flow),
		FlowVersion: flow.ID,
		EntityID:    entityID,
		NodeStates:  states,
		Trigger:     trigger,
		Input:       input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = e.persistence.Runs().Save(ctx, run)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, run.ID, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent),
		RunID:     run.ID,
		FlowID:    run.FlowID,
		EntityID:  entityID,
		Trigger:   trigger,
	})

	c := e.newCoordinator(run, compiled)

	e.mu.Lock()
	e.coordinators[run.ID] = c
	e.mu.Unlock()

	c.start()

	err = c.submit(ctx, mailboxMsg{kind: msgStart})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// Callback applies an inbound completion for a node. Unknown runs or nodes
// are rejected with a not-found error; callbacks for nodes that are not
// running are discarded as duplicates.
func (e *Executor) Callback(ctx context.Context, runID, nodeID string, payload protocol.CallbackPayload) error {
	c, err := e.coordinator(ctx, runID)
	if err != nil {
		return err
	}

	if !c.graph.HasNode(nodeID) {
		return persistence.NewRunError("callback", runID, persistence.ErrNodeNotFound)
	}

	return c.submit(ctx, mailboxMsg{
		kind:     msgCompletion,
		nodeID:   nodeID,
		instance: noInstance,
		external: true,
		payload:  payload,
	})
}

// Resume completes a gate node that is waiting for human input, using the
// provided input as the node's output.
func (e *Executor) Resume(ctx context.Context, runID, nodeID string, input map[string]any) error {
	c, err := e.coordinator(ctx, runID)
	if err != nil {
		return err
	}

	if !c.graph.HasNode(nodeID) {
		return persistence.NewRunError("resume", runID, persistence.ErrNodeNotFound)
	}

	return c.submit(ctx, mailboxMsg{
		kind:   msgResume,
		nodeID: nodeID,
		input:  input,
	})
}

// GetRun loads a run with its current node states.
func (e *Executor) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return e.persistence.Runs().GetByID(ctx, runID)
}

// Close stops all live coordinators and waits for them to drain.
func (e *Executor) Close() {
	e.mu.Lock()
	coordinators := make([]*coordinator, 0, len(e.coordinators))
	for _, c := range e.coordinators {
		coordinators = append(coordinators, c)
	}
	e.mu.Unlock()

	for _, c := range coordinators {
		c.stop()
	}
}

// coordinator returns the live coordinator for a run, rehydrating one from
// persisted state when the run is still open but has no goroutine, as after
// a long async wait.
func (e *Executor) coordinator(ctx context.Context, runID string) (*coordinator, error) {
	e.mu.RLock()
	c, ok := e.coordinators[runID]
	e.mu.RUnlock()

	if ok {
		return c, nil
	}

	run, err := e.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	flow, err := e.persistence.Flows().GetByID(ctx, run.FlowVersion)
	if err != nil {
		return nil, err
	}

	compiled, err := graph.Compile(flow)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.coordinators[runID]; ok {
		return c, nil
	}

	c = e.newCoordinator(run, compiled)
	c.rehydrate()

	e.coordinators[runID] = c
	c.start()

	return c, nil
}

func (e *Executor) remove(runID string) {
	e.mu.Lock()
	delete(e.coordinators, runID)
	e.mu.Unlock()
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

// validateRunInput checks the run input against the declared input schema of
// every entry node that has one.
func validateRunInput(compiled *models.ExecutionGraph, input map[string]any) error {
	for _, id := range compiled.EntryNodes {
		node := compiled.Node(id)
		if node == nil || len(node.InputSchema) == 0 {
			continue
		}

		schemaLoader := gojsonschema.NewGoLoader(node.InputSchema)

		documentLoader := gojsonschema.NewGoLoader(input)
		if input == nil {
			documentLoader = gojsonschema.NewGoLoader(map[string]any{})
		}

		result, err := gojsonschema.Validate(schemaLoader, documentLoader)
		if err != nil {
			return fmt.Errorf("input schema for node %s: %w", id, err)
		}

		if !result.Valid() {
			details := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				details = append(details, desc.String())
			}

			return fmt.Errorf("node %s: %v: %w", id, details, ErrInputInvalid)
		}
	}

	return nil
}

func flowGroup(flow *models.Flow) string {
	if flow.FlowGroupID != "" {
		return flow.FlowGroupID
	}

	return flow.ID
}

// IsDuplicateCallback reports whether an error is the expected duplicate
// delivery case, which callers surface as accepted-but-ignored.
func IsDuplicateCallback(err error) bool {
	return errors.Is(err, ErrDuplicateCallback)
}
