// Package file provides file-based persistence for flows, runs, entities, and
// webhook records. Intended for development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/flowion/flowion/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root        string
	flowRepo    *FlowRepository
	runRepo     *RunRepository
	entityRepo  *EntityRepository
	webhookRepo *WebhookRepository
}

// NewPersistence creates a new instance of Persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:        cleanRoot,
		flowRepo:    NewFlowRepository(cleanRoot),
		runRepo:     NewRunRepository(cleanRoot),
		entityRepo:  NewEntityRepository(cleanRoot),
		webhookRepo: NewWebhookRepository(cleanRoot),
	}
}

func (fp *Persistence) Flows() persistence.FlowRepository {
	return fp.flowRepo
}

func (fp *Persistence) Runs() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) Entities() persistence.EntityRepository {
	return fp.entityRepo
}

func (fp *Persistence) Webhooks() persistence.WebhookRepository {
	return fp.webhookRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
