package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// FlowRepository handles flow storage in PostgreSQL.
type FlowRepository struct {
	db *sql.DB
}

const flowColumns = `id, flow_group_id, name, description, status, owner,
	nodes, edges, metadata, created_at, updated_at, published_at, deleted_at`

func (r *FlowRepository) All(ctx context.Context) ([]*models.Flow, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+flowColumns+" FROM flows WHERE deleted_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, persistence.NewFlowError("All", "", err)
	}
	defer rows.Close()

	var flows []*models.Flow

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, persistence.NewFlowError("All", "", err)
		}

		flows = append(flows, flow)
	}

	return flows, rows.Err()
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+flowColumns+" FROM flows WHERE id = $1 AND deleted_at IS NULL", id)

	flow, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return flow, nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	nodes, err := jsonbValue(flow.Nodes)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	edges, err := jsonbValue(flow.Edges)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	metadata, err := jsonbValue(flow.Metadata)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flows (id, flow_group_id, name, description, status, owner,
			nodes, edges, metadata, created_at, updated_at, published_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			flow_group_id = EXCLUDED.flow_group_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			owner = EXCLUDED.owner,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			deleted_at = EXCLUDED.deleted_at`,
		flow.ID, flow.FlowGroupID, flow.Name, flow.Description, flow.Status, flow.Owner,
		nodes, edges, metadata, flow.CreatedAt, flow.UpdatedAt, flow.PublishedAt, flow.DeletedAt)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE flows SET deleted_at = NOW() WHERE id = $1", id)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	return nil
}

func (r *FlowRepository) PublishedByGroup(ctx context.Context, groupID string) (*models.Flow, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+flowColumns+" FROM flows WHERE flow_group_id = $1 AND status = $2 AND deleted_at IS NULL",
		groupID, models.FlowStatusPublished)

	flow, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("PublishedByGroup", groupID, persistence.ErrPublishedFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("PublishedByGroup", groupID, err)
	}

	return flow, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow                  models.Flow
		nodes, edges,rawMeta []byte
	)

	err := row.Scan(&flow.ID, &flow.FlowGroupID, &flow.Name, &flow.Description,
		&flow.Status, &flow.Owner, &nodes, &edges, &rawMeta,
		&flow.CreatedAt, &flow.UpdatedAt, &flow.PublishedAt, &flow.DeletedAt)
	if err != nil {
		return nil, err
	}

	if err := scanJSONB(nodes, &flow.Nodes); err != nil {
		return nil, err
	}

	if err := scanJSONB(edges, &flow.Edges); err != nil {
		return nil, err
	}

	if err := scanJSONB(rawMeta, &flow.Metadata); err != nil {
		return nil, err
	}

	return &flow, nil
}
