package main

import (
	"log/slog"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/services"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	manager  *services.Manager
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, manager *services.Manager) *API {
	return &API{
		logger:   logger,
		manager:  manager,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.manager, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Agent Store review worker")
	})

	handlers.Register(app)

	return app
}
