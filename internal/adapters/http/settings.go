package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-runner/internal/adapters/scenario"
	"github.com/melih/lighthouse-runner/internal/core/ports"
)

type SettingsHandler struct {
	service ports.SettingsService
}

func NewSettingsHandler(service ports.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

type SaveSettingsRequest struct {
	Username   string         `json:"username" validate:"required"`
	ScenarioID string         `json:"scenarioId" validate:"required"`
	Settings   map[string]any `json:"settings" validate:"required"`
}

func (h *SettingsHandler) save(c *fiber.Ctx, req SaveSettingsRequest) error {
	if err := scenario.ValidateID(req.ScenarioID); err != nil {
		return err
	}
	if err := h.service.Save(c.UserContext(), req.Username, req.ScenarioID, req.Settings); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "settings saved",
	})
}

func (h *SettingsHandler) get(c *fiber.Ctx, username, scenarioID string) error {
	if err := scenario.ValidateID(scenarioID); err != nil {
		return err
	}
	value, err := h.service.Get(c.UserContext(), username, scenarioID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"value":   value,
	})
}

// SaveSettings handles POST /api/user-settings.
func (h *SettingsHandler) SaveSettings(c *fiber.Ctx) error {
	var req SaveSettingsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return h.save(c, req)
}

// GetSettings handles GET /api/user-settings/:username/:scenarioId.
func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	username, err := pathParam(c, "username")
	if err != nil {
		return err
	}
	scenarioID, err := pathParam(c, "scenarioId")
	if err != nil {
		return err
	}
	return h.get(c, username, scenarioID)
}

type scenarioSettingsBody struct {
	Settings map[string]any `json:"settings" validate:"required"`
}

// SaveScenarioSettings handles POST /api/scenarios/:id/settings/:username.
func (h *SettingsHandler) SaveScenarioSettings(c *fiber.Ctx) error {
	var body scenarioSettingsBody
	if err := parseBody(c, &body); err != nil {
		return err
	}
	username, err := pathParam(c, "username")
	if err != nil {
		return err
	}
	scenarioID, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	return h.save(c, SaveSettingsRequest{Username: username, ScenarioID: scenarioID, Settings: body.Settings})
}

// GetScenarioSettings handles GET /api/scenarios/:id/settings/:username.
func (h *SettingsHandler) GetScenarioSettings(c *fiber.Ctx) error {
	username, err := pathParam(c, "username")
	if err != nil {
		return err
	}
	scenarioID, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	return h.get(c, username, scenarioID)
}
