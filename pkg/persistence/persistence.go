// Package persistence provides the data storage abstraction for flows, runs,
// entities, and webhook records.
package persistence

import (
	"context"

	"github.com/flowion/flowion/pkg/models"
)

type Persistence interface {
	Flows() FlowRepository
	Runs() RunRepository
	Entities() EntityRepository
	Webhooks() WebhookRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores editable flows and their published versions.
type FlowRepository interface {
	All(ctx context.Context) ([]*models.Flow, error)
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error

	// PublishedByGroup returns the currently published version for a flow
	// group, or ErrPublishedFlowNotFound.
	PublishedByGroup(ctx context.Context, groupID string) (*models.Flow, error)
}

// RunRepository stores runs and their node states.
type RunRepository interface {
	GetByID(ctx context.Context, id string) (*models.Run, error)
	Save(ctx context.Context, run *models.Run) error
	Delete(ctx context.Context, id string) error
	ByFlow(ctx context.Context, flowID string) ([]*models.Run, error)
}

// EntityRepository stores tracked entities together with their append-only
// journey logs. Saving an entity persists its position and journey atomically.
type EntityRepository interface {
	GetByID(ctx context.Context, id string) (*models.Entity, error)

	// FindByEmail looks an entity up by natural key within one scope.
	// Returns ErrEntityNotFound when absent.
	FindByEmail(ctx context.Context, scopeID, email string) (*models.Entity, error)

	Save(ctx context.Context, entity *models.Entity) error

	// JourneyEvents returns the entity's journey log, oldest first.
	JourneyEvents(ctx context.Context, entityID string) ([]*models.JourneyEvent, error)
}

// WebhookRepository stores webhook endpoint configs and the immutable event
// records of inbound requests.
type WebhookRepository interface {
	ConfigBySlug(ctx context.Context, slug string) (*models.WebhookConfig, error)
	SaveConfig(ctx context.Context, config *models.WebhookConfig) error
	Configs(ctx context.Context) ([]*models.WebhookConfig, error)

	SaveEvent(ctx context.Context, event *models.WebhookEvent) error
	Events(ctx context.Context, configID string) ([]*models.WebhookEvent, error)
}
