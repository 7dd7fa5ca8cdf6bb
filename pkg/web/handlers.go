package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowion/flowion/pkg/journey"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/registry"
	"github.com/flowion/flowion/pkg/runner"
	"github.com/flowion/flowion/pkg/services"
	"github.com/flowion/flowion/pkg/webhooks"
)

type APIHandlers struct {
	flowService *services.Flow
	publishing  *services.Publishing
	executor    *runner.Executor
	processor   *webhooks.Processor
	tracker     *journey.Tracker
	registry    *registry.Registry
	validator   *validator.Validate
}

func NewAPIHandlers(
	flowService *services.Flow,
	publishing *services.Publishing,
	executor *runner.Executor,
	processor *webhooks.Processor,
	tracker *journey.Tracker,
	registry *registry.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowService: flowService,
		publishing:  publishing,
		executor:    executor,
		processor:   processor,
		tracker:     tracker,
		registry:    registry,
		validator:   validator,
	}
}

// RegisterRoutes mounts every endpoint on the app. Shared between the API
// command and the handler tests so the route table cannot drift.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	flows := app.Group("/flows")
	flows.Get("/", h.GetFlows)
	flows.Post("/", h.CreateFlow)
	flows.Get("/:id", h.GetFlow)
	flows.Patch("/:id", h.UpdateFlow)
	flows.Delete("/:id", h.DeleteFlow)
	flows.Post("/:id/publish", h.PublishFlow)
	flows.Post("/:id/runs", h.StartRun)
	flows.Post("/groups/:groupId/create-draft", h.CreateDraftFromPublished)

	runs := app.Group("/runs")
	runs.Get("/:id", h.GetRun)
	runs.Post("/:id/nodes/:nodeId/resume", h.ResumeRun)

	app.Post("/callback/:runId/:nodeId", h.Callback)
	app.Post("/webhooks/:slug", h.Webhook)

	entities := app.Group("/entities")
	entities.Get("/:id", h.GetEntity)
	entities.Get("/:id/journey", h.GetEntityJourney)
	entities.Post("/:id/move", h.MoveEntity)

	app.Get("/workers", h.GetWorkers)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.flowService.List(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(flows)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.Flow{
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Metadata:    req.Metadata,
	}

	created, err := h.flowService.Create(c.Context(), flow)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.Flow{
		Name:        req.Name,
		Description: req.Description,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Metadata:    req.Metadata,
	}

	updated, err := h.flowService.Update(c.Context(), c.Params("id"), flow)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	err := h.flowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	published, err := h.publishing.Publish(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) CreateDraftFromPublished(c fiber.Ctx) error {
	draft, err := h.publishing.CreateDraftFromPublished(c.Context(), c.Params("groupId"))
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	run, err := h.executor.StartRun(c.Context(), c.Params("id"), models.RunTrigger{
		Kind: models.TriggerKindManual,
	}, req.EntityID, req.Input)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.executor.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	var req ResumeRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	err := h.executor.Resume(c.Context(), c.Params("id"), c.Params("nodeId"), req.Input)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"status": "resumed"})
}

// Callback receives a worker completion. Duplicates are acknowledged without
// effect: at-least-once delivery makes them an expected condition, not a
// caller error.
func (h *APIHandlers) Callback(c fiber.Ctx) error {
	var payload protocol.CallbackPayload
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(payload); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.executor.Callback(c.Context(), c.Params("runId"), c.Params("nodeId"), payload)

	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "accepted"})
	case runner.IsDuplicateCallback(err), runner.IsRunFinished(err):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "duplicate"})
	default:
		return handleError(c, err)
	}
}

func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	result, err := h.processor.Process(c.Context(), c.Params("slug"), headers, c.Body())

	switch {
	case err == nil:
		return c.JSON(WebhookResponse{Success: true, EntityID: result.EntityID, RunID: result.RunID})
	case errors.Is(err, webhooks.ErrSignatureInvalid):
		return unauthorized(c, "signature verification failed")
	case errors.Is(err, webhooks.ErrConfigInactive):
		return notFound(c, "webhook config not found")
	case errors.Is(err, webhooks.ErrPayloadInvalid), errors.Is(err, webhooks.ErrEmailMissing):
		return badRequest(c, err.Error())
	default:
		return handleError(c, err)
	}
}

func (h *APIHandlers) GetEntity(c fiber.Ctx) error {
	entity, err := h.tracker.Entity(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(entity)
}

func (h *APIHandlers) GetEntityJourney(c fiber.Ctx) error {
	events, err := h.tracker.Journey(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(events)
}

func (h *APIHandlers) MoveEntity(c fiber.Ctx) error {
	var req MoveEntityRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.tracker.ManualMove(c.Context(), c.Params("id"), req.NodeID, req.Actor)
	if err != nil {
		return handleError(c, err)
	}

	entity, err := h.tracker.Entity(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(entity)
}

func (h *APIHandlers) GetWorkers(c fiber.Ctx) error {
	factories := h.registry.WorkerFactories()
	workers := make([]WorkerResponse, 0, len(factories))

	for _, factory := range factories {
		workers = append(workers, WorkerResponse{
			ID:          factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Convention:  factory.Convention(),
			Schema:      factory.Schema(),
		})
	}

	return c.JSON(workers)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
