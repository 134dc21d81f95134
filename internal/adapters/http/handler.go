package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-runner/internal/adapters/scenario"
	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/core/ports"
)

type ContainerHandler struct {
	service ports.ContainerService
}

func NewContainerHandler(service ports.ContainerService) *ContainerHandler {
	return &ContainerHandler{service: service}
}

type StartContainerRequest struct {
	DockerName string       `json:"dockerName" validate:"required"`
	Username   string       `json:"username" validate:"required"`
	ScenarioID string       `json:"scenarioId"`
	Options    StartOptions `json:"options"`
}

type StartOptions struct {
	Settings map[string]any `json:"settings"`
	// Inputs is either a JSON string (used verbatim) or any other JSON value.
	Inputs json.RawMessage `json:"inputs"`
}

// flattenSettings turns the settings object into the string map that
// becomes the container environment. Nested values are rejected.
func flattenSettings(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("%w: setting %q must be a string, number or boolean", domain.ErrInvalidArgument, k)
		}
	}
	return out, nil
}

func decodeInputs(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: inputs: %v", domain.ErrInvalidArgument, err)
		}
		return []byte(s), nil
	}
	return trimmed, nil
}

type startedView struct {
	ContainerID string    `json:"containerId"`
	Status      string    `json:"status"`
	Name        string    `json:"name"`
	StartedAt   time.Time `json:"startedAt"`
	Username    string    `json:"username"`
	ScenarioID  string    `json:"scenarioId,omitempty"`
}

func (h *ContainerHandler) StartContainer(c *fiber.Ctx) error {
	var req StartContainerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.ScenarioID != "" {
		if err := scenario.ValidateID(req.ScenarioID); err != nil {
			return err
		}
	}
	settings, err := flattenSettings(req.Options.Settings)
	if err != nil {
		return err
	}
	inputs, err := decodeInputs(req.Options.Inputs)
	if err != nil {
		return err
	}

	container, err := h.service.Start(c.UserContext(), domain.StartRequest{
		Image:      req.DockerName,
		Owner:      req.Username,
		ScenarioID: req.ScenarioID,
		Settings:   settings,
		Inputs:     inputs,
	})
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusCreated, startedView{
		ContainerID: container.ID,
		Status:      container.Status.String(),
		Name:        container.Name,
		StartedAt:   container.StartedAt,
		Username:    container.Owner,
		ScenarioID:  container.ScenarioID,
	})
}

type statusView struct {
	ID           string     `json:"id"`
	ContainerID  string     `json:"containerId"`
	Status       string     `json:"status"`
	Name         string     `json:"name"`
	Owner        string     `json:"owner"`
	StartedAt    time.Time  `json:"startedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	ExitCode     int        `json:"exitCode"`
	ExitStatus   string     `json:"exitStatus"`
	Reason       string     `json:"reason,omitempty"`
	ScenarioID   string     `json:"scenarioId,omitempty"`
	ScenarioName string     `json:"scenarioName,omitempty"`
}

func (h *ContainerHandler) GetContainerStatus(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	details, err := h.service.Status(c.UserContext(), id)
	if err != nil {
		return err
	}
	ct := details.Container
	return respond(c, fiber.StatusOK, statusView{
		ID:           ct.ID,
		ContainerID:  ct.ID,
		Status:       ct.Status.String(),
		Name:         ct.Name,
		Owner:        ct.Owner,
		StartedAt:    ct.StartedAt,
		UpdatedAt:    ct.UpdatedAt,
		FinishedAt:   ct.FinishedAt,
		ExitCode:     ct.ExitCode,
		ExitStatus:   ct.ExitStatus(),
		Reason:       ct.Reason,
		ScenarioID:   ct.ScenarioID,
		ScenarioName: details.ScenarioName,
	})
}

func (h *ContainerHandler) GetContainerLogs(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	logs, err := h.service.Logs(c.UserContext(), id, c.Query("logFile"))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, string(logs))
}

func (h *ContainerHandler) GetContainerOutput(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	out, err := h.service.Output(c.UserContext(), id, c.Query("outputFile"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"data":            out.Data,
		"warning":         out.Warning,
		"scenarioOutputs": out.ScenarioOutputs,
	})
}

type listItemView struct {
	Name        string    `json:"name"`
	ContainerID string    `json:"containerId"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	ExitCode    int       `json:"exitCode"`
	ExitStatus  string    `json:"exitStatus"`
	ScenarioID  string    `json:"scenarioId,omitempty"`
}

func (h *ContainerHandler) ListContainers(c *fiber.Ctx) error {
	username, err := pathParam(c, "username")
	if err != nil {
		return err
	}
	containers, err := h.service.List(c.UserContext(), username)
	if err != nil {
		return err
	}
	items := make([]listItemView, 0, len(containers))
	for _, ct := range containers {
		items = append(items, listItemView{
			Name:        ct.Name,
			ContainerID: ct.ID,
			Status:      ct.Status.String(),
			StartedAt:   ct.StartedAt,
			ExitCode:    ct.ExitCode,
			ExitStatus:  ct.ExitStatus(),
			ScenarioID:  ct.ScenarioID,
		})
	}
	return respond(c, fiber.StatusOK, items)
}

type ChangeStateRequest struct {
	DockerID string `json:"dockerId" validate:"required"`
	Action   string `json:"action" validate:"required"`
	Username string `json:"username" validate:"required"`
}

func (h *ContainerHandler) ChangeState(c *fiber.Ctx) error {
	var req ChangeStateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	container, err := h.service.SetState(c.UserContext(), req.DockerID, req.Action, req.Username)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fiber.Map{
		"action":      req.Action,
		"containerId": container.ID,
		"status":      container.Status.String(),
	})
}

type CleanupRequest struct {
	MaxAgeInDays float64 `json:"maxAgeInDays" validate:"gt=0"`
}

func (h *ContainerHandler) Cleanup(c *fiber.Ctx) error {
	req := CleanupRequest{MaxAgeInDays: 1}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	report, err := h.service.Cleanup(c.UserContext(), time.Duration(req.MaxAgeInDays*float64(24*time.Hour)))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, report)
}
