package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// WebhookRepository handles webhook config and event storage in PostgreSQL.
type WebhookRepository struct {
	db *sql.DB
}

const webhookConfigColumns = `id, slug, adapter_id, secret, active, scope_id,
	target_node_id, flow_id, entry_edge_id, mapping, payload_schema, created_at, updated_at`

func (r *WebhookRepository) ConfigBySlug(ctx context.Context, slug string) (*models.WebhookConfig, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+webhookConfigColumns+" FROM webhook_configs WHERE slug = $1", slug)

	config, err := scanWebhookConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWebhookConfigNotFound
	}

	if err != nil {
		return nil, err
	}

	return config, nil
}

func (r *WebhookRepository) SaveConfig(ctx context.Context, config *models.WebhookConfig) error {
	mapping, err := jsonbValue(config.Mapping)
	if err != nil {
		return err
	}

	schema, err := jsonbValue(config.PayloadSchema)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_configs (id, slug, adapter_id, secret, active, scope_id,
			target_node_id, flow_id, entry_edge_id, mapping, payload_schema, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (slug) DO UPDATE SET
			adapter_id = EXCLUDED.adapter_id,
			secret = EXCLUDED.secret,
			active = EXCLUDED.active,
			target_node_id = EXCLUDED.target_node_id,
			flow_id = EXCLUDED.flow_id,
			entry_edge_id = EXCLUDED.entry_edge_id,
			mapping = EXCLUDED.mapping,
			payload_schema = EXCLUDED.payload_schema,
			updated_at = EXCLUDED.updated_at`,
		config.ID, config.Slug, config.AdapterID, config.Secret, config.Active,
		config.ScopeID, nullString(config.TargetNodeID), nullString(config.FlowID),
		nullString(config.EntryEdgeID), mapping, schema, config.CreatedAt, config.UpdatedAt)

	return err
}

func (r *WebhookRepository) Configs(ctx context.Context) ([]*models.WebhookConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+webhookConfigColumns+" FROM webhook_configs ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.WebhookConfig

	for rows.Next() {
		config, err := scanWebhookConfig(rows)
		if err != nil {
			return nil, err
		}

		configs = append(configs, config)
	}

	return configs, rows.Err()
}

func (r *WebhookRepository) SaveEvent(ctx context.Context, event *models.WebhookEvent) error {
	payload, err := jsonbValue(event.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, config_id, slug, payload, entity_id, run_id,
			status, error, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			error = EXCLUDED.error`,
		event.ID, event.ConfigID, event.Slug, payload,
		nullString(event.EntityID), nullString(event.RunID),
		event.Status, event.Error, event.ReceivedAt)

	return err
}

func (r *WebhookRepository) Events(ctx context.Context, configID string) ([]*models.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, config_id, slug, payload, entity_id, run_id, status, error, received_at
		FROM webhook_events WHERE config_id = $1 ORDER BY received_at`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WebhookEvent

	for rows.Next() {
		var (
			event            models.WebhookEvent
			payload          []byte
			entityID, runID  sql.NullString
		)

		err := rows.Scan(&event.ID, &event.ConfigID, &event.Slug, &payload,
			&entityID, &runID, &event.Status, &event.Error, &event.ReceivedAt)
		if err != nil {
			return nil, err
		}

		event.EntityID = entityID.String
		event.RunID = runID.String

		if err := scanJSONB(payload, &event.Payload); err != nil {
			return nil, err
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

func scanWebhookConfig(row rowScanner) (*models.WebhookConfig, error) {
	var (
		config                        models.WebhookConfig
		targetNodeID, flowID, edgeID  sql.NullString
		mapping, schema               []byte
	)

	err := row.Scan(&config.ID, &config.Slug, &config.AdapterID, &config.Secret,
		&config.Active, &config.ScopeID, &targetNodeID, &flowID, &edgeID,
		&mapping, &schema, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}

	config.TargetNodeID = targetNodeID.String
	config.FlowID = flowID.String
	config.EntryEdgeID = edgeID.String

	if err := scanJSONB(mapping, &config.Mapping); err != nil {
		return nil, err
	}

	if err := scanJSONB(schema, &config.PayloadSchema); err != nil {
		return nil, err
	}

	return &config, nil
}
