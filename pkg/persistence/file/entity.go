package file

import (
	"context"
	"strings"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// EntityRepository handles entity storage on the file system. The journey log
// is embedded in the entity record, so one write persists position and
// journey together.
type EntityRepository struct {
	store *store
}

func NewEntityRepository(root string) *EntityRepository {
	return &EntityRepository{store: newStore(root, "entities")}
}

func (r *EntityRepository) GetByID(_ context.Context, id string) (*models.Entity, error) {
	var entity models.Entity

	err := r.store.read(id, &entity)
	if notExist(err) {
		return nil, persistence.NewEntityError("GetByID", id, persistence.ErrEntityNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", id, err)
	}

	return &entity, nil
}

func (r *EntityRepository) FindByEmail(ctx context.Context, scopeID, email string) (*models.Entity, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, persistence.NewEntityError("FindByEmail", email, err)
	}

	for _, id := range ids {
		entity, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if entity.ScopeID == scopeID && strings.EqualFold(entity.Email, email) {
			return entity, nil
		}
	}

	return nil, persistence.NewEntityError("FindByEmail", email, persistence.ErrEntityNotFound)
}

func (r *EntityRepository) Save(_ context.Context, entity *models.Entity) error {
	if err := entity.ValidatePosition(); err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	if err := r.store.write(entity.ID, entity); err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	return nil
}

func (r *EntityRepository) JourneyEvents(ctx context.Context, entityID string) ([]*models.JourneyEvent, error) {
	entity, err := r.GetByID(ctx, entityID)
	if err != nil {
		return nil, err
	}

	return entity.Journey, nil
}
