package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowion/flowion/pkg/eventbus"
	"github.com/flowion/flowion/pkg/events"
	"github.com/flowion/flowion/pkg/journey"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/otelhelper"
	"github.com/flowion/flowion/pkg/persistence"
)

// EntityMover is the journey-tracker surface the processor hands normalized
// moves to. Implemented by journey.Tracker.
type EntityMover interface {
	MoveExternal(ctx context.Context, move journey.ExternalMove) (*models.Entity, error)
}

// RunStarter starts a flow run for configs that trigger one. Implemented by
// runner.Executor.
type RunStarter interface {
	StartRun(ctx context.Context, flowID string, trigger models.RunTrigger, entityID string, input map[string]any) (*models.Run, error)
}

// Result reports what one inbound request produced.
type Result struct {
	EventID  string
	EntityID string
	RunID    string
}

// Processor runs the inbound pipeline: resolve config, verify, validate,
// extract, move the entity, optionally start a run. Every request leaves an
// immutable WebhookEvent record regardless of outcome.
type Processor struct {
	persistence persistence.Persistence
	mover       EntityMover
	starter     RunStarter
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	adapters    map[string]Adapter
	generic     *GenericAdapter
}

func NewProcessor(p persistence.Persistence, mover EntityMover, starter RunStarter, bus eventbus.EventPublisher, logger *slog.Logger) *Processor {
	processor := &Processor{
		persistence: p,
		mover:       mover,
		starter:     starter,
		eventBus:    bus,
		logger:      logger.With("module", "webhooks"),
		tracer:      otel.Tracer("flowion.webhooks"),
		adapters:    make(map[string]Adapter),
		generic:     NewGenericAdapter(),
	}

	processor.RegisterAdapter(processor.generic)
	processor.RegisterAdapter(NewHMACAdapter())
	processor.RegisterAdapter(NewStaticTokenAdapter())

	return processor
}

func (p *Processor) RegisterAdapter(adapter Adapter) {
	p.adapters[adapter.ID()] = adapter
}

// Process handles one inbound request for the given endpoint slug.
func (p *Processor) Process(ctx context.Context, slug string, headers map[string]string, body []byte) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "webhooks.processor process",
		attribute.String(otelhelper.WebhookSlugKey, slug),
	)
	defer span.End()

	result, err := p.process(ctx, slug, headers, body)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

func (p *Processor) process(ctx context.Context, slug string, headers map[string]string, body []byte) (*Result, error) {
	config, err := p.persistence.Webhooks().ConfigBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if !config.Active {
		return nil, fmt.Errorf("slug %s: %w", slug, ErrConfigInactive)
	}

	var payload map[string]any

	decodeErr := json.Unmarshal(body, &payload)

	event := &models.WebhookEvent{
		ID:         uuid.New().String(),
		ConfigID:   config.ID,
		Slug:       slug,
		Payload:    payload,
		Status:     models.WebhookEventReceived,
		ReceivedAt: time.Now().UTC(),
	}

	err = p.persistence.Webhooks().SaveEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	if decodeErr != nil {
		return p.reject(ctx, event, fmt.Errorf("decode body: %v: %w", decodeErr, ErrPayloadInvalid))
	}

	adapter, err := p.adapter(config.AdapterID)
	if err != nil {
		return p.fail(ctx, event, err)
	}

	err = adapter.Verify(config, headers, body)
	if err != nil {
		return p.reject(ctx, event, err)
	}

	err = p.validatePayload(config, payload)
	if err != nil {
		return p.reject(ctx, event, err)
	}

	extraction, err := p.extract(adapter, config, payload)
	if err != nil {
		return p.fail(ctx, event, err)
	}

	entity, err := p.mover.MoveExternal(ctx, journey.ExternalMove{
		ScopeID:       config.ScopeID,
		FlowID:        config.FlowID,
		Email:         extraction.Email,
		Name:          extraction.Name,
		EntityType:    extraction.EntityType,
		Metadata:      extraction.Metadata,
		TargetNodeID:  config.TargetNodeID,
		EntryEdgeID:   config.EntryEdgeID,
		SourceEventID: sourceEventID(extraction, event),
	})
	if err != nil {
		return p.fail(ctx, event, err)
	}

	event.EntityID = entity.ID

	if config.FlowID != "" {
		run, err := p.starter.StartRun(ctx, config.FlowID, models.RunTrigger{
			Kind:    models.TriggerKindWebhook,
			Source:  slug,
			EventID: event.ID,
		}, entity.ID, payload)
		if err != nil {
			return p.fail(ctx, event, fmt.Errorf("start run for flow %s: %w", config.FlowID, err))
		}

		event.RunID = run.ID
	}

	event.Status = models.WebhookEventProcessed
	p.saveEvent(ctx, event)
	p.publish(ctx, event)

	p.logger.InfoContext(ctx, "Webhook processed",
		"slug", slug, "event_id", event.ID, "entity_id", event.EntityID, "run_id", event.RunID,
		"event_type", adapter.EventType(payload))

	return &Result{EventID: event.ID, EntityID: event.EntityID, RunID: event.RunID}, nil
}

func (p *Processor) adapter(id string) (Adapter, error) {
	if id == "" {
		return p.generic, nil
	}

	adapter, ok := p.adapters[id]
	if !ok {
		return nil, fmt.Errorf("adapter %s: %w", id, ErrAdapterUnknown)
	}

	return adapter, nil
}

// extract runs the config's adapter and falls back to the generic mapping
// when the adapter yields no email.
func (p *Processor) extract(adapter Adapter, config *models.WebhookConfig, payload map[string]any) (*Extraction, error) {
	extraction, err := adapter.Extract(config, payload)
	if err != nil || extraction.Email == "" {
		fallback, fallbackErr := p.generic.Extract(config, payload)
		if fallbackErr == nil && fallback.Email != "" {
			return fallback, nil
		}

		if err != nil {
			return nil, err
		}

		return nil, fmt.Errorf("slug %s: %w", config.Slug, ErrEmailMissing)
	}

	return extraction, nil
}

func (p *Processor) validatePayload(config *models.WebhookConfig, payload map[string]any) error {
	if len(config.PayloadSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(config.PayloadSchema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("payload schema for %s: %w", config.Slug, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("slug %s: %v: %w", config.Slug, details, ErrPayloadInvalid)
	}

	return nil
}

// reject records an authentication or validation refusal.
func (p *Processor) reject(ctx context.Context, event *models.WebhookEvent, cause error) (*Result, error) {
	event.Status = models.WebhookEventRejected
	event.Error = cause.Error()
	p.saveEvent(ctx, event)
	p.publish(ctx, event)

	return nil, cause
}

// fail records a processing error past the validation stage.
func (p *Processor) fail(ctx context.Context, event *models.WebhookEvent, cause error) (*Result, error) {
	event.Status = models.WebhookEventFailed
	event.Error = cause.Error()
	p.saveEvent(ctx, event)
	p.publish(ctx, event)

	return nil, cause
}

func (p *Processor) saveEvent(ctx context.Context, event *models.WebhookEvent) {
	err := p.persistence.Webhooks().SaveEvent(ctx, event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to save webhook event",
			"event_id", event.ID, "slug", event.Slug, "error", err)
	}
}

func (p *Processor) publish(ctx context.Context, event *models.WebhookEvent) {
	if p.eventBus == nil {
		return
	}

	err := p.eventBus.Publish(ctx, event.ID, events.WebhookReceived{
		BaseEvent: events.NewBaseEvent(events.WebhookReceivedEvent),
		EventID:   event.ID,
		Slug:      event.Slug,
		Status:    string(event.Status),
		EntityID:  event.EntityID,
		RunID:     event.RunID,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", events.WebhookReceivedEvent, "error", err)
	}
}

func sourceEventID(extraction *Extraction, event *models.WebhookEvent) string {
	if extraction.EventID != "" {
		return extraction.EventID
	}

	return event.ID
}
