package file

import (
	"context"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// RunRepository handles run storage on the file system.
type RunRepository struct {
	store *store
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{store: newStore(root, "runs")}
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	var run models.Run

	err := r.store.read(id, &run)
	if notExist(err) {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

func (r *RunRepository) Save(_ context.Context, run *models.Run) error {
	if err := r.store.write(run.ID, run); err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (r *RunRepository) Delete(_ context.Context, id string) error {
	if err := r.store.remove(id); err != nil {
		return persistence.NewRunError("Delete", id, err)
	}

	return nil
}

func (r *RunRepository) ByFlow(ctx context.Context, flowID string) ([]*models.Run, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, persistence.NewRunError("ByFlow", flowID, err)
	}

	runs := make([]*models.Run, 0)

	for _, id := range ids {
		run, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if run.FlowID == flowID {
			runs = append(runs, run)
		}
	}

	return runs, nil
}
