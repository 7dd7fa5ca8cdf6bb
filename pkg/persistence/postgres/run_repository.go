package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// RunRepository handles run storage in PostgreSQL.
type RunRepository struct {
	db *sql.DB
}

const runColumns = `id, flow_id, flow_version, entity_id, trigger_info, input,
	node_states, created_at, updated_at`

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = $1", id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return run, nil
}

func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	trigger, err := jsonbValue(run.Trigger)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	input, err := jsonbValue(run.Input)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	states, err := jsonbValue(run.NodeStates)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	entityID := sql.NullString{String: run.EntityID, Valid: run.EntityID != ""}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, flow_id, flow_version, entity_id, trigger_info, input,
			node_states, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			node_states = EXCLUDED.node_states,
			updated_at = EXCLUDED.updated_at`,
		run.ID, run.FlowID, run.FlowVersion, entityID, trigger, input,
		states, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (r *RunRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", id)
	if err != nil {
		return persistence.NewRunError("Delete", id, err)
	}

	return nil
}

func (r *RunRepository) ByFlow(ctx context.Context, flowID string) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE flow_id = $1 ORDER BY created_at", flowID)
	if err != nil {
		return nil, persistence.NewRunError("ByFlow", flowID, err)
	}
	defer rows.Close()

	var runs []*models.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, persistence.NewRunError("ByFlow", flowID, err)
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run                    models.Run
		entityID               sql.NullString
		trigger, input, states []byte
	)

	err := row.Scan(&run.ID, &run.FlowID, &run.FlowVersion, &entityID,
		&trigger, &input, &states, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.EntityID = entityID.String

	if err := scanJSONB(trigger, &run.Trigger); err != nil {
		return nil, err
	}

	if err := scanJSONB(input, &run.Input); err != nil {
		return nil, err
	}

	run.NodeStates = make(map[string]*models.NodeState)
	if err := scanJSONB(states, &run.NodeStates); err != nil {
		return nil, err
	}

	return &run, nil
}
