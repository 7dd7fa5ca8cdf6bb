// Package postgres provides PostgreSQL persistence for flows, runs, entities,
// and webhook records.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/flowion/flowion/pkg/persistence"
	"github.com/flowion/flowion/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	flowRepo    *FlowRepository
	runRepo     *RunRepository
	entityRepo  *EntityRepository
	webhookRepo *WebhookRepository
}

// NewPersistence connects to PostgreSQL and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		flowRepo:    &FlowRepository{db: database},
		runRepo:     &RunRepository{db: database},
		entityRepo:  &EntityRepository{db: database},
		webhookRepo: &WebhookRepository{db: database},
	}, nil
}

func (p *Persistence) Flows() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) Runs() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) Entities() persistence.EntityRepository {
	return p.entityRepo
}

func (p *Persistence) Webhooks() persistence.WebhookRepository {
	return p.webhookRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flows (
				id TEXT PRIMARY KEY,
				flow_group_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				owner TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);
			CREATE INDEX IF NOT EXISTS idx_flows_group_status ON flows (flow_group_id, status);

			CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				flow_id TEXT NOT NULL,
				flow_version TEXT NOT NULL DEFAULT '',
				entity_id TEXT,
				trigger_info JSONB NOT NULL DEFAULT '{}',
				input JSONB,
				node_states JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_runs_flow ON runs (flow_id);

			CREATE TABLE IF NOT EXISTS entities (
				id TEXT PRIMARY KEY,
				scope_id TEXT NOT NULL,
				email TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				entity_type TEXT NOT NULL,
				current_node_id TEXT,
				current_edge_id TEXT,
				edge_progress DOUBLE PRECISION,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (scope_id, email)
			);

			CREATE TABLE IF NOT EXISTS journey_events (
				id TEXT PRIMARY KEY,
				entity_id TEXT NOT NULL REFERENCES entities (id),
				kind TEXT NOT NULL,
				node_id TEXT,
				edge_id TEXT,
				progress DOUBLE PRECISION,
				run_id TEXT,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_journey_events_entity ON journey_events (entity_id, created_at);

			CREATE TABLE IF NOT EXISTS webhook_configs (
				id TEXT PRIMARY KEY,
				slug TEXT NOT NULL UNIQUE,
				adapter_id TEXT NOT NULL DEFAULT '',
				secret TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				scope_id TEXT NOT NULL,
				target_node_id TEXT,
				flow_id TEXT,
				entry_edge_id TEXT,
				mapping JSONB,
				payload_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS webhook_events (
				id TEXT PRIMARY KEY,
				config_id TEXT NOT NULL,
				slug TEXT NOT NULL,
				payload JSONB,
				entity_id TEXT,
				run_id TEXT,
				status TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				received_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_webhook_events_config ON webhook_events (config_id, received_at);
		`,
	}
}
