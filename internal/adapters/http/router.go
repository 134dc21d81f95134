package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-runner/internal/logging"
)

type RouterConfig struct {
	AllowedOrigins []string
}

type Handlers struct {
	Containers *ContainerHandler
	Scenarios  *ScenarioHandler
	Settings   *SettingsHandler
}

// accessLog writes one logrus entry per request. Errors are rendered here so
// the logged status matches what the client receives.
func accessLog(log *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		entry := log.WithFields(logrus.Fields{
			"request_id": c.Locals("requestid"),
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency":    time.Since(start).String(),
		})
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
		return nil
	}
}

// NewRouter builds the Fiber application with every route mounted.
func NewRouter(cfg RouterConfig, h Handlers) *fiber.App {
	log := logging.Component("http")

	app := fiber.New(fiber.Config{
		AppName:               "lighthouse-runner",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})

	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ",")
	}
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(accessLog(log))
	app.Use(cors.New(cors.Config{AllowOrigins: origins}))

	api := app.Group("/api")

	scenarios := api.Group("/scenarios")
	scenarios.Get("/", h.Scenarios.ListScenarios)
	scenarios.Get("/:id", h.Scenarios.GetScenario)
	scenarios.Get("/:id/settings/:username", h.Settings.GetScenarioSettings)
	scenarios.Post("/:id/settings/:username", h.Settings.SaveScenarioSettings)

	docker := api.Group("/docker")
	docker.Post("/start", h.Containers.StartContainer)
	docker.Get("/status/:id", h.Containers.GetContainerStatus)
	docker.Get("/logs/:id", h.Containers.GetContainerLogs)
	docker.Get("/output/:id", h.Containers.GetContainerOutput)
	docker.Get("/list/:username", h.Containers.ListContainers)
	docker.Post("/state", h.Containers.ChangeState)
	docker.Post("/cleanup", h.Containers.Cleanup)

	settings := api.Group("/user-settings")
	settings.Post("/", h.Settings.SaveSettings)
	settings.Get("/:username/:scenarioId", h.Settings.GetSettings)

	return app
}
