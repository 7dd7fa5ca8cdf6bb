package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// EntityRepository handles entity and journey event storage in PostgreSQL.
// Saving an entity writes its record and any new journey events in one
// transaction, so position and journey stay consistent.
type EntityRepository struct {
	db *sql.DB
}

const entityColumns = `id, scope_id, email, name, entity_type, current_node_id,
	current_edge_id, edge_progress, metadata, created_at, updated_at`

func (r *EntityRepository) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = $1", id)

	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", id, persistence.ErrEntityNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", id, err)
	}

	entity.Journey, err = r.JourneyEvents(ctx, id)
	if err != nil {
		return nil, err
	}

	return entity, nil
}

func (r *EntityRepository) FindByEmail(ctx context.Context, scopeID, email string) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE scope_id = $1 AND LOWER(email) = LOWER($2)",
		scopeID, email)

	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("FindByEmail", email, persistence.ErrEntityNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("FindByEmail", email, err)
	}

	entity.Journey, err = r.JourneyEvents(ctx, entity.ID)
	if err != nil {
		return nil, err
	}

	return entity, nil
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	if err := entity.ValidatePosition(); err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	metadata, err := jsonbValue(entity.Metadata)
	if err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO entities (id, scope_id, email, name, entity_type, current_node_id,
			current_edge_id, edge_progress, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			entity_type = EXCLUDED.entity_type,
			current_node_id = EXCLUDED.current_node_id,
			current_edge_id = EXCLUDED.current_edge_id,
			edge_progress = EXCLUDED.edge_progress,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		entity.ID, entity.ScopeID, entity.Email, entity.Name, entity.Type,
		entity.CurrentNodeID, entity.CurrentEdgeID, entity.EdgeProgress,
		metadata, entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewEntityError("Save", entity.ID, err)
	}

	// Journey events are append-only: existing rows are never updated.
	for _, event := range entity.Journey {
		eventMeta, err := jsonbValue(event.Metadata)
		if err != nil {
			_ = transaction.Rollback()

			return persistence.NewEntityError("Save", entity.ID, err)
		}

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO journey_events (id, entity_id, kind, node_id, edge_id,
				progress, run_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			event.ID, event.EntityID, event.Kind,
			nullString(event.NodeID), nullString(event.EdgeID),
			event.Progress, nullString(event.RunID), eventMeta, event.CreatedAt)
		if err != nil {
			_ = transaction.Rollback()

			return persistence.NewEntityError("Save", entity.ID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	return nil
}

func (r *EntityRepository) JourneyEvents(ctx context.Context, entityID string) ([]*models.JourneyEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, kind, node_id, edge_id, progress, run_id, metadata, created_at
		FROM journey_events WHERE entity_id = $1 ORDER BY created_at`, entityID)
	if err != nil {
		return nil, persistence.NewEntityError("JourneyEvents", entityID, err)
	}
	defer rows.Close()

	var events []*models.JourneyEvent

	for rows.Next() {
		var (
			event                 models.JourneyEvent
			nodeID, edgeID, runID sql.NullString
			metadata              []byte
		)

		err := rows.Scan(&event.ID, &event.EntityID, &event.Kind, &nodeID, &edgeID,
			&event.Progress, &runID, &metadata, &event.CreatedAt)
		if err != nil {
			return nil, persistence.NewEntityError("JourneyEvents", entityID, err)
		}

		event.NodeID = nodeID.String
		event.EdgeID = edgeID.String
		event.RunID = runID.String

		if err := scanJSONB(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode journey event metadata: %w", err)
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		entity   models.Entity
		metadata []byte
	)

	err := row.Scan(&entity.ID, &entity.ScopeID, &entity.Email, &entity.Name,
		&entity.Type, &entity.CurrentNodeID, &entity.CurrentEdgeID,
		&entity.EdgeProgress, &metadata, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := scanJSONB(metadata, &entity.Metadata); err != nil {
		return nil, err
	}

	return &entity, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
