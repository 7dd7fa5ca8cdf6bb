// Package main provides the Flowion API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/flowion/flowion/pkg/eventbus"
	"github.com/flowion/flowion/pkg/journey"
	"github.com/flowion/flowion/pkg/persistence"
	"github.com/flowion/flowion/pkg/registry"
	"github.com/flowion/flowion/pkg/runner"
	"github.com/flowion/flowion/pkg/services"
	"github.com/flowion/flowion/pkg/web"
	"github.com/flowion/flowion/pkg/webhooks"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger       *slog.Logger
	persistence  persistence.Persistence
	registry     *registry.Registry
	eventBus     eventbus.EventBus
	validate     *validator.Validate
	callbackBase string

	executor *runner.Executor
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	callbackBase string,
) *API {
	return &API{
		persistence:  persistence,
		logger:       logger,
		registry:     registry,
		eventBus:     eventBus,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		callbackBase: callbackBase,
	}
}

// Executor exposes the run executor after App has been built. The queue
// consumer feeds worker completions into it.
func (a *API) Executor() *runner.Executor {
	return a.executor
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlow(a.persistence)
	publishingService := services.NewPublishing(a.persistence)
	tracker := journey.NewTracker(a.persistence, a.eventBus, a.logger)

	a.executor = runner.NewExecutor(a.persistence, a.registry, a.eventBus, tracker, a.logger, a.callbackBase)
	processor := webhooks.NewProcessor(a.persistence, tracker, a.executor, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(flowService, publishingService, a.executor, processor, tracker, a.registry, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowion API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(app *fiber.App, port int) error {
	return app.Listen(":" + strconv.Itoa(port))
}
