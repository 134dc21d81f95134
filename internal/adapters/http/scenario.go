package http

import (
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/core/ports"
)

type ScenarioHandler struct {
	repo ports.ScenarioRepository
}

func NewScenarioHandler(repo ports.ScenarioRepository) *ScenarioHandler {
	return &ScenarioHandler{repo: repo}
}

// pathParam returns the decoded route parameter so that encoded separators
// are seen by the identifier checks.
func pathParam(c *fiber.Ctx, name string) (string, error) {
	v, err := url.PathUnescape(c.Params(name))
	if err != nil {
		return "", fmt.Errorf("%w: malformed %s", domain.ErrInvalidIdentifier, name)
	}
	return v, nil
}

func (h *ScenarioHandler) ListScenarios(c *fiber.Ctx) error {
	return respond(c, fiber.StatusOK, h.repo.List())
}

func (h *ScenarioHandler) GetScenario(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	sc, err := h.repo.Get(id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, sc.Content)
}
