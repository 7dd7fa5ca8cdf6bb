package file

import (
	"context"
	"sort"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// WebhookRepository handles webhook config and event storage on the file
// system. Configs are keyed by slug; events are append-only.
type WebhookRepository struct {
	configs *store
	events  *store
}

func NewWebhookRepository(root string) *WebhookRepository {
	return &WebhookRepository{
		configs: newStore(root, "webhooks/configs"),
		events:  newStore(root, "webhooks/events"),
	}
}

func (r *WebhookRepository) ConfigBySlug(_ context.Context, slug string) (*models.WebhookConfig, error) {
	var config models.WebhookConfig

	err := r.configs.read(slug, &config)
	if notExist(err) {
		return nil, persistence.ErrWebhookConfigNotFound
	}

	if err != nil {
		return nil, err
	}

	return &config, nil
}

func (r *WebhookRepository) SaveConfig(_ context.Context, config *models.WebhookConfig) error {
	return r.configs.write(config.Slug, config)
}

func (r *WebhookRepository) Configs(ctx context.Context) ([]*models.WebhookConfig, error) {
	slugs, err := r.configs.ids()
	if err != nil {
		return nil, err
	}

	configs := make([]*models.WebhookConfig, 0, len(slugs))

	for _, slug := range slugs {
		config, err := r.ConfigBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}

		configs = append(configs, config)
	}

	return configs, nil
}

func (r *WebhookRepository) SaveEvent(_ context.Context, event *models.WebhookEvent) error {
	return r.events.write(event.ID, event)
}

func (r *WebhookRepository) Events(_ context.Context, configID string) ([]*models.WebhookEvent, error) {
	ids, err := r.events.ids()
	if err != nil {
		return nil, err
	}

	events := make([]*models.WebhookEvent, 0)

	for _, id := range ids {
		var event models.WebhookEvent
		if err := r.events.read(id, &event); err != nil {
			return nil, err
		}

		if event.ConfigID == configID {
			events = append(events, &event)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})

	return events, nil
}
