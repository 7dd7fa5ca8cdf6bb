// Package journey maintains each tracked entity's graph position and its
// append-only journey log. Position changes arrive from two independent
// directions, executor side effects and inbound webhook events, so every
// update runs under a per-entity lock and persists position and log together.
// That update-and-log sequence is the serialization boundary protecting the
// position invariant.
package journey

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowion/flowion/pkg/eventbus"
	"github.com/flowion/flowion/pkg/events"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

const lockStripes = 64

// errSkipSave aborts a withEntity update without persisting or publishing.
var errSkipSave = errors.New("journey: skip save")

type Tracker struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	locks       [lockStripes]sync.Mutex
}

func NewTracker(p persistence.Persistence, bus eventbus.EventPublisher, logger *slog.Logger) *Tracker {
	return &Tracker{
		persistence: p,
		eventBus:    bus,
		logger:      logger.With("module", "journey"),
	}
}

// ApplyMovement moves an entity per a node's movement rule after the node
// finished. Implements the executor's movement hook.
func (t *Tracker) ApplyMovement(ctx context.Context, entityID, runID string, target *models.MovementTarget, success bool) error {
	run, err := t.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return err
	}

	flow, err := t.persistence.Flows().GetByID(ctx, run.FlowVersion)
	if err != nil {
		return err
	}

	if !flow.HasNode(target.NodeID) {
		return fmt.Errorf("movement target %q: %w", target.NodeID, persistence.ErrNodeNotFound)
	}

	kind := models.JourneyEventNodeComplete
	if !success {
		kind = models.JourneyEventNodeFailure
	}

	metadata := map[string]any{"outcome": outcomeLabel(success)}
	if target.Classification != "" {
		metadata["classification"] = target.Classification
	}

	return t.withEntity(ctx, entityID, func(entity *models.Entity) error {
		entity.MoveToNode(target.NodeID)

		if target.ReclassifyAs != nil {
			entity.Type = *target.ReclassifyAs
		}

		t.appendEvent(entity, &models.JourneyEvent{
			Kind:     kind,
			NodeID:   target.NodeID,
			RunID:    runID,
			Metadata: metadata,
		})

		return nil
	})
}

// MoveToNode positions an entity on a node and records the transition.
func (t *Tracker) MoveToNode(ctx context.Context, entityID, nodeID, runID string, kind models.JourneyEventKind) error {
	return t.withEntity(ctx, entityID, func(entity *models.Entity) error {
		entity.MoveToNode(nodeID)

		t.appendEvent(entity, &models.JourneyEvent{
			Kind:   kind,
			NodeID: nodeID,
			RunID:  runID,
		})

		return nil
	})
}

// MoveToEdge positions an entity on an edge. A move onto the edge the entity
// already occupies records progress; a move onto a new edge records the start.
func (t *Tracker) MoveToEdge(ctx context.Context, entityID, edgeID string, progress float64, runID string) error {
	return t.withEntity(ctx, entityID, func(entity *models.Entity) error {
		kind := models.JourneyEventEdgeStart
		if entity.CurrentEdgeID != nil && *entity.CurrentEdgeID == edgeID {
			kind = models.JourneyEventEdgeProgress
		}

		entity.MoveToEdge(edgeID, progress)

		t.appendEvent(entity, &models.JourneyEvent{
			Kind:     kind,
			EdgeID:   edgeID,
			Progress: entity.EdgeProgress,
			RunID:    runID,
		})

		return nil
	})
}

// ManualMove repositions an entity by operator action.
func (t *Tracker) ManualMove(ctx context.Context, entityID, nodeID, actor string) error {
	return t.withEntity(ctx, entityID, func(entity *models.Entity) error {
		entity.MoveToNode(nodeID)

		t.appendEvent(entity, &models.JourneyEvent{
			Kind:     models.JourneyEventManualMove,
			NodeID:   nodeID,
			Metadata: map[string]any{"actor": actor},
		})

		return nil
	})
}

// ExternalMove is a normalized entity-mapping instruction produced by the
// webhook adapter layer.
type ExternalMove struct {
	ScopeID       string
	FlowID        string // Flow the movement targets; empty means any published flow
	Email         string
	Name          string
	EntityType    models.EntityType
	Metadata      map[string]any
	TargetNodeID  string
	EntryEdgeID   string
	SourceEventID string
}

// MoveExternal finds or creates the entity for an inbound external event and
// applies the movement instruction. Creation is serialized by natural key;
// the move itself goes through the same per-entity lock as internal movement,
// so a webhook and an executor side effect can never interleave on one
// entity. A repeated delivery of the same source event is recognized by its
// ID and applied exactly once.
func (t *Tracker) MoveExternal(ctx context.Context, move ExternalMove) (*models.Entity, error) {
	if move.Email == "" {
		return nil, fmt.Errorf("external move for scope %s has no email", move.ScopeID)
	}

	err := t.validateTarget(ctx, move)
	if err != nil {
		return nil, err
	}

	entity, err := t.findOrCreate(ctx, move)
	if err != nil {
		return nil, err
	}

	duplicate := false

	err = t.withEntity(ctx, entity.ID, func(entity *models.Entity) error {
		if move.SourceEventID != "" && t.alreadyApplied(entity, move.SourceEventID) {
			duplicate = true

			return errSkipSave
		}

		if move.Name != "" {
			entity.Name = move.Name
		}

		if move.EntityType != "" {
			entity.Type = move.EntityType
		}

		if len(move.Metadata) > 0 {
			if entity.Metadata == nil {
				entity.Metadata = make(map[string]any)
			}

			for k, v := range move.Metadata {
				entity.Metadata[k] = v
			}
		}

		event := &models.JourneyEvent{
			Metadata: map[string]any{"source_event_id": move.SourceEventID},
		}

		switch {
		case move.TargetNodeID != "":
			entity.MoveToNode(move.TargetNodeID)
			event.Kind = models.JourneyEventNodeArrival
			event.NodeID = move.TargetNodeID
		case move.EntryEdgeID != "":
			entity.MoveToEdge(move.EntryEdgeID, 0)
			event.Kind = models.JourneyEventEdgeStart
			event.EdgeID = move.EntryEdgeID
			event.Progress = entity.EdgeProgress
		default:
			return errSkipSave
		}

		t.appendEvent(entity, event)

		return nil
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		t.logger.InfoContext(ctx, "Duplicate external event ignored",
			"entity_id", entity.ID, "source_event_id", move.SourceEventID)
	}

	return t.persistence.Entities().GetByID(ctx, entity.ID)
}

// validateTarget checks the movement instruction against the graph it targets
// before any entity is created or moved. A pinned flow is authoritative; an
// unpinned move may land anywhere a published flow has the element.
func (t *Tracker) validateTarget(ctx context.Context, move ExternalMove) error {
	if move.TargetNodeID == "" && move.EntryEdgeID == "" {
		return nil
	}

	var flows []*models.Flow

	if move.FlowID != "" {
		flow, err := t.persistence.Flows().GetByID(ctx, move.FlowID)
		if err != nil {
			return err
		}

		flows = append(flows, flow)
	} else {
		all, err := t.persistence.Flows().All(ctx)
		if err != nil {
			return err
		}

		for _, flow := range all {
			if flow.Status == models.FlowStatusPublished {
				flows = append(flows, flow)
			}
		}
	}

	if move.TargetNodeID != "" {
		for _, flow := range flows {
			if flow.HasNode(move.TargetNodeID) {
				return nil
			}
		}

		return fmt.Errorf("external move target %q: %w", move.TargetNodeID, persistence.ErrNodeNotFound)
	}

	for _, flow := range flows {
		if flow.HasEdge(move.EntryEdgeID) {
			return nil
		}
	}

	return fmt.Errorf("external move entry edge %q: %w", move.EntryEdgeID, persistence.ErrEdgeNotFound)
}

// Entity loads one entity with its current position and journey log.
func (t *Tracker) Entity(ctx context.Context, entityID string) (*models.Entity, error) {
	return t.persistence.Entities().GetByID(ctx, entityID)
}

// Journey returns an entity's journey log, oldest first.
func (t *Tracker) Journey(ctx context.Context, entityID string) ([]*models.JourneyEvent, error) {
	return t.persistence.Entities().JourneyEvents(ctx, entityID)
}

// withEntity runs an update under the entity's lock and persists position and
// journey log in one save.
func (t *Tracker) withEntity(ctx context.Context, entityID string, update func(*models.Entity) error) error {
	lock := t.lockFor(entityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := t.persistence.Entities().GetByID(ctx, entityID)
	if err != nil {
		return err
	}

	err = update(entity)
	if errors.Is(err, errSkipSave) {
		return nil
	}

	if err != nil {
		return err
	}

	err = t.save(ctx, entity)
	if err != nil {
		return err
	}

	last := entity.Journey[len(entity.Journey)-1]

	t.publish(ctx, entity.ID, events.EntityMoved{
		BaseEvent: events.NewBaseEvent(events.EntityMovedEvent),
		EntityID:  entity.ID,
		Kind:      last.Kind,
		NodeID:    last.NodeID,
		EdgeID:    last.EdgeID,
		RunID:     last.RunID,
	})

	return nil
}

// findOrCreate resolves an entity by its natural key, creating and persisting
// it when absent. The natural-key lock only guards creation; it never nests
// with a per-entity lock.
func (t *Tracker) findOrCreate(ctx context.Context, move ExternalMove) (*models.Entity, error) {
	entity, err := t.persistence.Entities().FindByEmail(ctx, move.ScopeID, move.Email)
	if err == nil {
		return entity, nil
	}

	if !persistence.IsEntityNotFound(err) {
		return nil, err
	}

	lock := t.lockFor(move.ScopeID + "/" + move.Email)
	lock.Lock()
	defer lock.Unlock()

	entity, err = t.persistence.Entities().FindByEmail(ctx, move.ScopeID, move.Email)
	if err == nil {
		return entity, nil
	}

	if !persistence.IsEntityNotFound(err) {
		return nil, err
	}

	entityType := move.EntityType
	if entityType == "" {
		entityType = models.EntityTypeLead
	}

	now := time.Now().UTC()
	entity = &models.Entity{
		ID:        uuid.New().String(),
		Email:     move.Email,
		Name:      move.Name,
		Type:      entityType,
		ScopeID:   move.ScopeID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = t.persistence.Entities().Save(ctx, entity)
	if err != nil {
		return nil, err
	}

	t.publish(ctx, entity.ID, events.EntityCreated{
		BaseEvent: events.NewBaseEvent(events.EntityCreatedEvent),
		EntityID:  entity.ID,
		Email:     entity.Email,
		ScopeID:   entity.ScopeID,
		Type:      entity.Type,
	})

	return entity, nil
}

func (t *Tracker) alreadyApplied(entity *models.Entity, sourceEventID string) bool {
	for _, event := range entity.Journey {
		if event.Metadata == nil {
			continue
		}

		if id, ok := event.Metadata["source_event_id"].(string); ok && id == sourceEventID {
			return true
		}
	}

	return false
}

func (t *Tracker) appendEvent(entity *models.Entity, event *models.JourneyEvent) {
	event.ID = uuid.New().String()
	event.EntityID = entity.ID
	event.CreatedAt = time.Now().UTC()

	entity.Journey = append(entity.Journey, event)
}

func (t *Tracker) save(ctx context.Context, entity *models.Entity) error {
	err := entity.ValidatePosition()
	if err != nil {
		return err
	}

	entity.UpdatedAt = time.Now().UTC()

	return t.persistence.Entities().Save(ctx, entity)
}

func (t *Tracker) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))

	return &t.locks[h.Sum32()%lockStripes]
}

func (t *Tracker) publish(ctx context.Context, key string, event eventbus.Event) {
	if t.eventBus == nil {
		return
	}

	err := t.eventBus.Publish(ctx, key, event)
	if err != nil {
		t.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}
