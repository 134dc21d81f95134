package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-runner/internal/core/domain"
)

// errorResponse is the failure envelope shared by every route.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func respond(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// classify maps an error onto an HTTP status and a machine readable code.
func classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.Is(err, domain.ErrLogTimeout):
		return fiber.StatusGatewayTimeout, "log_timeout"
	case errors.Is(err, domain.ErrLogUnavailable):
		return fiber.StatusNotFound, "log_unavailable"
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return fiber.StatusBadRequest, "invalid_identifier"
	case errors.Is(err, domain.ErrInvalidArgument):
		return fiber.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return fiber.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrInvalidState):
		return fiber.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		return fiber.StatusServiceUnavailable, "runtime_unavailable"
	case errors.Is(err, domain.ErrResourceExhausted):
		return fiber.StatusInternalServerError, "resource_exhausted"
	case errors.As(err, &fe):
		return fe.Code, strings.ReplaceAll(strings.ToLower(utils.StatusMessage(fe.Code)), " ", "_")
	}
	return fiber.StatusInternalServerError, "internal"
}

// errorHandler renders every error returned by a handler, including
// Fiber's own (unknown route, bad body), in the failure envelope.
func errorHandler(log *logrus.Entry) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code := classify(err)
		if status >= fiber.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
			}).Error("request failed")
		}
		return c.Status(status).JSON(errorResponse{Error: err.Error(), Code: code})
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateBody turns validator failures into InvalidArgument.
func validateBody(body any) error {
	err := validate.Struct(body)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.Join(msgs, ", "))
}

// parseBody decodes the JSON body into dst and validates it.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidArgument, err)
	}
	return validateBody(dst)
}
