package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// Flow manages the editable flow graphs. Only drafts are mutable; published
// and unpublished versions are frozen history.
type Flow struct {
	persistence persistence.Persistence
}

func NewFlow(persistence persistence.Persistence) *Flow {
	return &Flow{persistence: persistence}
}

// HealthCheck checks the health of the persistence layer.
func (s *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (s *Flow) List(ctx context.Context) ([]*models.Flow, error) {
	return s.persistence.Flows().All(ctx)
}

func (s *Flow) FetchByID(ctx context.Context, id string) (*models.Flow, error) {
	return s.persistence.Flows().GetByID(ctx, id)
}

// Create stores a new draft. The flow group ID defaults to the flow's own ID
// so later published versions share a stable group.
func (s *Flow) Create(ctx context.Context, flow *models.Flow) (*models.Flow, error) {
	if flow.Name == "" {
		return nil, fmt.Errorf("create flow: %w", ErrFlowNameRequired)
	}

	now := time.Now().UTC()

	flow.ID = uuid.New().String()
	if flow.FlowGroupID == "" {
		flow.FlowGroupID = flow.ID
	}

	flow.Status = models.FlowStatusDraft
	flow.CreatedAt = now
	flow.UpdatedAt = now

	err := s.persistence.Flows().Save(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// Update replaces a draft's editable fields. Published and unpublished
// versions reject modification.
func (s *Flow) Update(ctx context.Context, id string, flow *models.Flow) (*models.Flow, error) {
	existing, err := s.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = mutable(existing)
	if err != nil {
		return nil, fmt.Errorf("update flow %s: %w", id, err)
	}

	flow.ID = existing.ID
	flow.FlowGroupID = existing.FlowGroupID
	flow.Status = existing.Status
	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now().UTC()

	err = s.persistence.Flows().Save(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

func (s *Flow) Delete(ctx context.Context, id string) error {
	existing, err := s.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if existing.Status == models.FlowStatusPublished {
		return fmt.Errorf("delete flow %s: %w", id, ErrCannotModifyPublished)
	}

	return s.persistence.Flows().Delete(ctx, id)
}

func mutable(flow *models.Flow) error {
	switch flow.Status {
	case models.FlowStatusPublished:
		return ErrCannotModifyPublished
	case models.FlowStatusUnpublished:
		return ErrCannotModifyUnpublished
	case models.FlowStatusDraft:
		return nil
	}

	return nil
}
