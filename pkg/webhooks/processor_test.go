package webhooks_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/journey"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
	"github.com/flowion/flowion/pkg/persistence/file"
	"github.com/flowion/flowion/pkg/webhooks"
)

type stubStarter struct {
	flowID   string
	entityID string
	trigger  models.RunTrigger
	err      error
}

func (s *stubStarter) StartRun(_ context.Context, flowID string, trigger models.RunTrigger, entityID string, _ map[string]any) (*models.Run, error) {
	s.flowID = flowID
	s.entityID = entityID
	s.trigger = trigger

	if s.err != nil {
		return nil, s.err
	}

	return &models.Run{ID: "run-1", FlowID: flowID, EntityID: entityID}, nil
}

func newTestProcessor(t *testing.T) (*webhooks.Processor, *file.Persistence, *stubStarter) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	tracker := journey.NewTracker(p, nil, slog.Default())
	starter := &stubStarter{}
	processor := webhooks.NewProcessor(p, tracker, starter, nil, slog.Default())

	// Inbound moves land on a published graph; seed one carrying the nodes
	// the configs below target.
	flow := &models.Flow{
		ID:     "flow-7",
		Name:   "webhook flow",
		Status: models.FlowStatusPublished,
	}
	for _, id := range []string{"item-demo-call", "paid", "welcome"} {
		flow.Nodes = append(flow.Nodes, &models.FlowNode{
			ID: id, Kind: models.NodeKindWorker, WorkerType: "noop", Name: id,
		})
	}

	require.NoError(t, p.Flows().Save(context.Background(), flow))

	return processor, p, starter
}

func saveConfig(t *testing.T, p *file.Persistence, config *models.WebhookConfig) *models.WebhookConfig {
	t.Helper()

	if config.ID == "" {
		config.ID = uuid.New().String()
	}

	config.CreatedAt = time.Now().UTC()
	config.UpdatedAt = config.CreatedAt

	require.NoError(t, p.Webhooks().SaveConfig(context.Background(), config))

	return config
}

func lastEvent(t *testing.T, p *file.Persistence, configID string) *models.WebhookEvent {
	t.Helper()

	events, err := p.Webhooks().Events(context.Background(), configID)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	return events[len(events)-1]
}

func TestProcess_CreatesEntityAndRecordsEvent(t *testing.T) {
	processor, p, _ := newTestProcessor(t)
	ctx := context.Background()

	config := saveConfig(t, p, &models.WebhookConfig{
		Slug:         "signup",
		Active:       true,
		ScopeID:      "scope-1",
		TargetNodeID: "item-demo-call",
		Mapping:      models.EntityMapping{"email": "$.email"},
	})

	result, err := processor.Process(ctx, "signup", nil, []byte(`{"email":"a@x.com"}`))
	require.NoError(t, err)
	require.NotEmpty(t, result.EntityID)
	assert.Empty(t, result.RunID)

	entity, err := p.Entities().GetByID(ctx, result.EntityID)
	require.NoError(t, err)
	require.NotNil(t, entity.CurrentNodeID)
	assert.Equal(t, "item-demo-call", *entity.CurrentNodeID)

	event := lastEvent(t, p, config.ID)
	assert.Equal(t, models.WebhookEventProcessed, event.Status)
	assert.Equal(t, result.EntityID, event.EntityID)
	assert.Equal(t, "a@x.com", event.Payload["email"])
}

func TestProcess_SecondCallReusesEntity(t *testing.T) {
	processor, p, _ := newTestProcessor(t)
	ctx := context.Background()

	saveConfig(t, p, &models.WebhookConfig{
		Slug:         "signup",
		Active:       true,
		ScopeID:      "scope-1",
		TargetNodeID: "item-demo-call",
		Mapping:      models.EntityMapping{"email": "$.email"},
	})

	first, err := processor.Process(ctx, "signup", nil, []byte(`{"email":"a@x.com"}`))
	require.NoError(t, err)

	second, err := processor.Process(ctx, "signup", nil, []byte(`{"email":"a@x.com"}`))
	require.NoError(t, err)

	assert.Equal(t, first.EntityID, second.EntityID)

	journeyLog, err := p.Entities().JourneyEvents(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Len(t, journeyLog, 2)
}

func TestProcess_DuplicateSourceEventAppliedOnce(t *testing.T) {
	processor, p, _ := newTestProcessor(t)
	ctx := context.Background()

	saveConfig(t, p, &models.WebhookConfig{
		Slug:         "signup",
		Active:       true,
		ScopeID:      "scope-1",
		TargetNodeID: "item-demo-call",
		Mapping:      models.EntityMapping{"email": "$.email"},
	})

	body := []byte(`{"email":"a@x.com","event_id":"evt-1"}`)

	first, err := processor.Process(ctx, "signup", nil, body)
	require.NoError(t, err)

	second, err := processor.Process(ctx, "signup", nil, body)
	require.NoError(t, err)

	assert.Equal(t, first.EntityID, second.EntityID)

	journeyLog, err := p.Entities().JourneyEvents(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Len(t, journeyLog, 1)
}

func TestProcess_RejectsBadSignature(t *testing.T) {
	processor, p, _ := newTestProcessor(t)
	ctx := context.Background()

	config := saveConfig(t, p, &models.WebhookConfig{
		Slug:      "billing",
		Active:    true,
		ScopeID:   "scope-1",
		AdapterID: "hmac-sha256",
		Secret:    "s3cret",
		Mapping:   models.EntityMapping{"email": "$.email"},
	})

	body := []byte(`{"email":"a@x.com"}`)

	_, err := processor.Process(ctx, "billing", map[string]string{
		"X-Signature-256": webhooks.Sign("wrong", body),
	}, body)
	require.ErrorIs(t, err, webhooks.ErrSignatureInvalid)

	event := lastEvent(t, p, config.ID)
	assert.Equal(t, models.WebhookEventRejected, event.Status)
	assert.NotEmpty(t, event.Error)
}

func TestProcess_AcceptsValidSignature(t *testing.T) {
	processor, p, _ := newTestProcessor(t)
	ctx := context.Background()

	saveConfig(t, p, &models.WebhookConfig{
		Slug:         "billing",
		Active:       true,
		ScopeID:      "scope-1",
		AdapterID:    "hmac-sha256",
		Secret:       "s3cret",
		TargetNodeID: "paid",
		Mapping:      models.EntityMapping{"email": "$.email"},
	})

	body := []byte(`{"email":"a@x.com"}`)

	result, err := processor.Process(ctx, "billing", map[string]string{
		"X-Signature-256": webhooks.Sign("s3cret", body),
	}, body)
	require.NoError(t, err)
	assert.NotEmpty(t, result.EntityID)
}

func TestProcess_UnknownSlug(t *testing.T) {
	processor, _, _ := newTestProcessor(t)

	_, err := processor.Process(context.Background(), "nope", nil, []byte(`{}`))
	require.True(t, persistence.IsWebhookConfigNotFound(err))
}

func TestProcess_InactiveConfig(t *testing.T) {
	processor, p, _ := newTestProcessor(t)

	saveConfig(t, p, &models.WebhookConfig{
		Slug:    "paused",
		Active:  false,
		ScopeID: "scope-1",
	})

	_, err := processor.Process(context.Background(), "paused", nil, []byte(`{}`))
	require.ErrorIs(t, err, webhooks.ErrConfigInactive)
}

func TestProcess_InvalidJSONRecorded(t *testing.T) {
	processor, p, _ := newTestProcessor(t)

	config := saveConfig(t, p, &models.WebhookConfig{
		Slug:    "signup",
		Active:  true,
		ScopeID: "scope-1",
		Mapping: models.EntityMapping{"email": "$.email"},
	})

	_, err := processor.Process(context.Background(), "signup", nil, []byte(`{not json`))
	require.ErrorIs(t, err, webhooks.ErrPayloadInvalid)

	event := lastEvent(t, p, config.ID)
	assert.Equal(t, models.WebhookEventRejected, event.Status)
}

func TestProcess_PayloadSchemaEnforced(t *testing.T) {
	processor, p, _ := newTestProcessor(t)
	ctx := context.Background()

	config := saveConfig(t, p, &models.WebhookConfig{
		Slug:    "signup",
		Active:  true,
		ScopeID: "scope-1",
		Mapping: models.EntityMapping{"email": "$.email"},
		PayloadSchema: map[string]any{
			"type":     "object",
			"required": []any{"email"},
		},
	})

	_, err := processor.Process(ctx, "signup", nil, []byte(`{"name":"no email"}`))
	require.ErrorIs(t, err, webhooks.ErrPayloadInvalid)

	event := lastEvent(t, p, config.ID)
	assert.Equal(t, models.WebhookEventRejected, event.Status)
}

func TestProcess_MissingEmailFails(t *testing.T) {
	processor, p, _ := newTestProcessor(t)

	config := saveConfig(t, p, &models.WebhookConfig{
		Slug:    "signup",
		Active:  true,
		ScopeID: "scope-1",
		Mapping: models.EntityMapping{"email": "$.email"},
	})

	_, err := processor.Process(context.Background(), "signup", nil, []byte(`{"name":"anonymous"}`))
	require.ErrorIs(t, err, webhooks.ErrEmailMissing)

	event := lastEvent(t, p, config.ID)
	assert.Equal(t, models.WebhookEventFailed, event.Status)
}

func TestProcess_UnknownTargetNodeRejected(t *testing.T) {
	processor, p, _ := newTestProcessor(t)
	ctx := context.Background()

	config := saveConfig(t, p, &models.WebhookConfig{
		Slug:         "signup",
		Active:       true,
		ScopeID:      "scope-1",
		TargetNodeID: "node-that-no-flow-contains",
		Mapping:      models.EntityMapping{"email": "$.email"},
	})

	_, err := processor.Process(ctx, "signup", nil, []byte(`{"email":"a@x.com"}`))
	require.Error(t, err)
	assert.True(t, persistence.IsNodeNotFound(err))

	// The move never happened: no entity exists for the sender.
	_, err = p.Entities().FindByEmail(ctx, "scope-1", "a@x.com")
	assert.True(t, persistence.IsEntityNotFound(err))

	event := lastEvent(t, p, config.ID)
	assert.Equal(t, models.WebhookEventFailed, event.Status)
}

func TestProcess_StartsRunWhenFlowConfigured(t *testing.T) {
	processor, p, starter := newTestProcessor(t)
	ctx := context.Background()

	config := saveConfig(t, p, &models.WebhookConfig{
		Slug:         "signup",
		Active:       true,
		ScopeID:      "scope-1",
		TargetNodeID: "welcome",
		FlowID:       "flow-7",
		Mapping:      models.EntityMapping{"email": "$.email"},
	})

	result, err := processor.Process(ctx, "signup", nil, []byte(`{"email":"a@x.com"}`))
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, "flow-7", starter.flowID)
	assert.Equal(t, result.EntityID, starter.entityID)
	assert.Equal(t, models.TriggerKindWebhook, starter.trigger.Kind)
	assert.Equal(t, "signup", starter.trigger.Source)

	event := lastEvent(t, p, config.ID)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, models.WebhookEventProcessed, event.Status)
}
