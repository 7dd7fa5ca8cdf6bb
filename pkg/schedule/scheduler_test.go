package schedule

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/persistence/file"
)

type nopStarter struct{}

func (nopStarter) StartRun(_ context.Context, flowID string, _ models.RunTrigger, _ string, _ map[string]any) (*models.Run, error) {
	return &models.Run{ID: "run", FlowID: flowID}, nil
}

func saveScheduledFlow(t *testing.T, p *file.Persistence, status models.FlowStatus, expr string) *models.Flow {
	t.Helper()

	flow := &models.Flow{
		ID:     uuid.New().String(),
		Name:   "Scheduled Flow",
		Status: status,
	}
	flow.FlowGroupID = flow.ID

	if expr != "" {
		flow.Metadata = map[string]any{MetadataKey: expr}
	}

	require.NoError(t, p.Flows().Save(context.Background(), flow))

	return flow
}

func TestScheduler_LoadsPublishedFlowsOnly(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	scheduler := NewScheduler(p, nopStarter{}, slog.Default())

	published := saveScheduledFlow(t, p, models.FlowStatusPublished, "*/5 * * * *")
	saveScheduledFlow(t, p, models.FlowStatusDraft, "*/5 * * * *")
	saveScheduledFlow(t, p, models.FlowStatusPublished, "")
	saveScheduledFlow(t, p, models.FlowStatusPublished, "not a cron expr")

	require.NoError(t, scheduler.Start(context.Background()))
	defer func() { _ = scheduler.Stop(context.Background()) }()

	entries := scheduler.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, published.ID, entries[0])
}

func TestScheduler_Refresh(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	scheduler := NewScheduler(p, nopStarter{}, slog.Default())

	require.NoError(t, scheduler.Start(context.Background()))
	defer func() { _ = scheduler.Stop(context.Background()) }()

	assert.Empty(t, scheduler.Entries())

	saveScheduledFlow(t, p, models.FlowStatusPublished, "0 9 * * 1-5")

	require.NoError(t, scheduler.Refresh(context.Background()))
	assert.Len(t, scheduler.Entries(), 1)
}

func TestScheduler_FiresRun(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	fired := make(chan string, 1)
	scheduler := NewScheduler(p, starterFunc(func(flowID string) {
		select {
		case fired <- flowID:
		default:
		}
	}), slog.Default())

	flow := saveScheduledFlow(t, p, models.FlowStatusPublished, "* * * * *")

	require.NoError(t, scheduler.Start(context.Background()))
	defer func() { _ = scheduler.Stop(context.Background()) }()

	scheduler.fire(flow.ID, "* * * * *")

	select {
	case got := <-fired:
		assert.Equal(t, flow.ID, got)
	case <-time.After(time.Second):
		t.Fatal("scheduled run never started")
	}
}

type starterFunc func(flowID string)

func (f starterFunc) StartRun(_ context.Context, flowID string, _ models.RunTrigger, _ string, _ map[string]any) (*models.Run, error) {
	f(flowID)

	return &models.Run{ID: "run", FlowID: flowID}, nil
}
