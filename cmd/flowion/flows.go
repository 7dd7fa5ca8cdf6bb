package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/flowion/flowion/pkg/cmd"
	"github.com/flowion/flowion/pkg/graph"
	"github.com/flowion/flowion/pkg/models"
)

func validateFlow(path string) error {
	if path == "" {
		return errors.New("flow definition file is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read flow definition: %w", err)
	}

	var flow models.Flow

	err = json.Unmarshal(data, &flow)
	if err != nil {
		return fmt.Errorf("parse flow definition: %w", err)
	}

	compiled, err := graph.Compile(&flow)
	if err != nil {
		var validationErr *graph.ValidationError
		if errors.As(err, &validationErr) {
			for _, ref := range validationErr.Dangling {
				fmt.Printf("edge %s: %s references unknown node %s\n", ref.EdgeID, ref.Role, ref.NodeID)
			}
		}

		return err
	}

	fmt.Printf("%s: %d nodes, %d entry, %d terminal\n",
		flow.Name, len(compiled.Nodes), len(compiled.EntryNodes), len(compiled.TerminalNodes))

	return nil
}

func listFlows(ctx context.Context, logger *slog.Logger, databaseURL string) error {
	persistence := cmd.NewPersistence(ctx, logger, databaseURL)
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	flows, err := persistence.Flows().All(ctx)
	if err != nil {
		return err
	}

	for _, flow := range flows {
		fmt.Printf("%s\t%s\t%s\t%d nodes\n", flow.ID, flow.Status, flow.Name, len(flow.Nodes))
	}

	return nil
}

func listWorkers(logger *slog.Logger, pluginsPath string) error {
	registry := cmd.NewRegistry(logger, pluginsPath, nil)

	for _, factory := range registry.WorkerFactories() {
		fmt.Printf("%s\t%s\t%s\n", factory.ID(), factory.Convention(), factory.Description())
	}

	return nil
}
