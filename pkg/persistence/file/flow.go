package file

import (
	"context"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// FlowRepository handles flow storage on the file system.
type FlowRepository struct {
	store *store
}

func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{store: newStore(root, "flows")}
}

func (r *FlowRepository) All(ctx context.Context) ([]*models.Flow, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, persistence.NewFlowError("All", "", err)
	}

	flows := make([]*models.Flow, 0, len(ids))

	for _, id := range ids {
		flow, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	return flows, nil
}

func (r *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	var flow models.Flow

	err := r.store.read(id, &flow)
	if notExist(err) {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return &flow, nil
}

func (r *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	if err := r.store.write(flow.ID, flow); err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) Delete(_ context.Context, id string) error {
	if err := r.store.remove(id); err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	return nil
}

func (r *FlowRepository) PublishedByGroup(ctx context.Context, groupID string) (*models.Flow, error) {
	flows, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	for _, flow := range flows {
		if flow.FlowGroupID == groupID && flow.Status == models.FlowStatusPublished {
			return flow, nil
		}
	}

	return nil, persistence.NewFlowError("PublishedByGroup", groupID, persistence.ErrPublishedFlowNotFound)
}
