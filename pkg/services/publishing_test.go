package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence/file"
)

func newPublishingService(t *testing.T) (*Publishing, *Flow, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return NewPublishing(p), NewFlow(p), p
}

func TestPublish_PromotesDraftAndDemotesPrevious(t *testing.T) {
	publishing, flows, p := newPublishingService(t)
	ctx := context.Background()

	first, err := flows.Create(ctx, draftFlow("Onboarding"))
	require.NoError(t, err)

	published, err := publishing.Publish(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	second, err := publishing.CreateDraftFromPublished(ctx, first.FlowGroupID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.FlowGroupID, second.FlowGroupID)
	assert.Equal(t, models.FlowStatusDraft, second.Status)

	_, err = publishing.Publish(ctx, second.ID)
	require.NoError(t, err)

	demoted, err := p.Flows().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusUnpublished, demoted.Status)

	current, err := publishing.GetPublished(ctx, first.FlowGroupID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestPublish_AlreadyPublished(t *testing.T) {
	publishing, flows, _ := newPublishingService(t)
	ctx := context.Background()

	created, err := flows.Create(ctx, draftFlow("Onboarding"))
	require.NoError(t, err)

	_, err = publishing.Publish(ctx, created.ID)
	require.NoError(t, err)

	_, err = publishing.Publish(ctx, created.ID)
	require.ErrorIs(t, err, ErrAlreadyPublished)
	assert.True(t, IsConflictError(err))
}

func TestPublish_RejectsUncompilableFlow(t *testing.T) {
	publishing, flows, _ := newPublishingService(t)
	ctx := context.Background()

	flow := draftFlow("Broken")
	flow.Edges = []*models.FlowEdge{
		{ID: "e1", Source: "start", Target: "ghost", Type: models.EdgeTypeJourney},
	}

	created, err := flows.Create(ctx, flow)
	require.NoError(t, err)

	_, err = publishing.Publish(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestPublish_RequiresNodes(t *testing.T) {
	publishing, flows, _ := newPublishingService(t)
	ctx := context.Background()

	created, err := flows.Create(ctx, &models.Flow{Name: "Empty"})
	require.NoError(t, err)

	_, err = publishing.Publish(ctx, created.ID)
	require.ErrorIs(t, err, ErrNodesRequired)
}
