package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowion/flowion/pkg/graph"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence"
)

// Publishing handles flow version transitions. Publishing a draft freezes it
// and demotes the group's previously published version to history.
type Publishing struct {
	persistence persistence.Persistence
}

func NewPublishing(persistence persistence.Persistence) *Publishing {
	return &Publishing{persistence: persistence}
}

// Publish promotes a draft to the group's published version. The flow must
// compile; publishing an uncompilable graph would leave runs nothing valid
// to execute.
func (p *Publishing) Publish(ctx context.Context, flowID string) (*models.Flow, error) {
	flow, err := p.persistence.Flows().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.Status == models.FlowStatusPublished {
		return nil, fmt.Errorf("publish flow %s: %w", flowID, ErrAlreadyPublished)
	}

	if flow.Status == models.FlowStatusUnpublished {
		return nil, fmt.Errorf("publish flow %s: %w", flowID, ErrCannotModifyUnpublished)
	}

	if len(flow.Nodes) == 0 {
		return nil, fmt.Errorf("publish flow %s: %w", flowID, ErrNodesRequired)
	}

	_, err = graph.Compile(flow)
	if err != nil {
		return nil, fmt.Errorf("publish flow %s: %w", flowID, err)
	}

	err = p.demoteCurrent(ctx, flow.FlowGroupID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	flow.Status = models.FlowStatusPublished
	flow.PublishedAt = &now
	flow.UpdatedAt = now

	err = p.persistence.Flows().Save(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// GetPublished returns the group's currently published version.
func (p *Publishing) GetPublished(ctx context.Context, groupID string) (*models.Flow, error) {
	return p.persistence.Flows().PublishedByGroup(ctx, groupID)
}

// CreateDraftFromPublished copies the group's published version into a fresh
// editable draft.
func (p *Publishing) CreateDraftFromPublished(ctx context.Context, groupID string) (*models.Flow, error) {
	published, err := p.persistence.Flows().PublishedByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	draft := *published
	draft.ID = uuid.New().String()
	draft.Status = models.FlowStatusDraft
	draft.PublishedAt = nil
	draft.CreatedAt = now
	draft.UpdatedAt = now

	err = p.persistence.Flows().Save(ctx, &draft)
	if err != nil {
		return nil, err
	}

	return &draft, nil
}

// demoteCurrent moves the group's published version, if any, to unpublished.
func (p *Publishing) demoteCurrent(ctx context.Context, groupID string) error {
	current, err := p.persistence.Flows().PublishedByGroup(ctx, groupID)
	if persistence.IsPublishedFlowNotFound(err) {
		return nil
	}

	if err != nil {
		return err
	}

	current.Status = models.FlowStatusUnpublished
	current.UpdatedAt = time.Now().UTC()

	return p.persistence.Flows().Save(ctx, current)
}
