// Package registry holds the worker factories available to the executor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/protocol"
)

// ErrWorkerNotRegistered is returned when a node references a worker type no
// factory was registered for.
var ErrWorkerNotRegistered = errors.New("worker type not registered")

type Registry struct {
	logger          *slog.Logger
	workerFactories map[string]protocol.WorkerFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		workerFactories: make(map[string]protocol.WorkerFactory),
	}
}

func (r *Registry) RegisterWorker(factory protocol.WorkerFactory) {
	r.workerFactories[factory.ID()] = factory
}

// CreateWorker instantiates a worker for the given type and node config.
func (r *Registry) CreateWorker(ctx context.Context, workerType string, config map[string]any) (protocol.Worker, error) {
	factory, ok := r.workerFactories[workerType]
	if !ok {
		return nil, fmt.Errorf("worker type '%s': %w", workerType, ErrWorkerNotRegistered)
	}

	return factory.Create(ctx, config)
}

// Convention reports the calling convention of a worker type, so the executor
// knows whether to expect an inline completion or a later callback.
func (r *Registry) Convention(workerType string) (models.CallingConvention, error) {
	factory, ok := r.workerFactories[workerType]
	if !ok {
		return "", fmt.Errorf("worker type '%s': %w", workerType, ErrWorkerNotRegistered)
	}

	return factory.Convention(), nil
}

// WorkerFactories returns the registered factories sorted by ID, for the API
// worker catalog.
func (r *Registry) WorkerFactories() []protocol.WorkerFactory {
	factories := make([]protocol.WorkerFactory, 0, len(r.workerFactories))
	for _, factory := range r.workerFactories {
		factories = append(factories, factory)
	}

	sort.Slice(factories, func(i, j int) bool {
		return factories[i].ID() < factories[j].ID()
	})

	return factories
}

// LoadWorkerPlugins loads worker factories from .so files under
// pluginsPath/workers, each exporting a "Worker" symbol.
func (r *Registry) LoadWorkerPlugins(pluginsPath string) ([]protocol.WorkerFactory, error) {
	rootPath := pluginsPath + "/workers"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := r.logger.With(slog.String("path", rootPath))
	l.Info("Loading worker plugins")

	factories := make([]protocol.WorkerFactory, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		symbol, err := plg.Lookup("Worker")
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no Worker symbol: %w", p, err)
		}

		factory, ok := symbol.(protocol.WorkerFactory)
		if !ok {
			return nil, fmt.Errorf("plugin %s: Worker symbol is not a WorkerFactory", p)
		}

		factories = append(factories, factory)

		l.Info("Loaded worker plugin", slog.String("plugin", p))
	}

	return factories, nil
}
