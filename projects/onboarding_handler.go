package projects

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/klarnow/tracker/common/errors"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/httputil"
	"github.com/klarnow/tracker/pkg/middleware"
	"github.com/klarnow/tracker/projects/models"
)

// OnboardingHandler handles the onboarding questionnaire endpoints
type OnboardingHandler struct {
	service *Service
}

// NewOnboardingHandler creates a new onboarding handler
func NewOnboardingHandler(service *Service) *OnboardingHandler {
	return &OnboardingHandler{service: service}
}

// SaveStepRequest represents one save of an onboarding step
type SaveStepRequest struct {
	KitType                 string         `json:"kit_type"`
	Fields                  map[string]any `json:"fields"`
	RequiredFieldsCompleted int            `json:"required_fields_completed"`
	RequiredFieldsTotal     int            `json:"required_fields_total"`
	StartedAt               *time.Time     `json:"started_at"`
}

// CompleteOnboardingRequest represents the onboarding completion request
type CompleteOnboardingRequest struct {
	KitType string `json:"kit_type"`
}

// requiredKit resolves a kit from the body, falling back to ?kit_type= and
// then LAUNCH
func requiredKit(c *fiber.Ctx, body string) (commonModels.KitType, error) {
	raw := body
	if raw == "" {
		raw = c.Query("kit_type")
	}
	if raw == "" {
		return commonModels.KitLaunch, nil
	}
	kit, ok := commonModels.ParseKitType(raw)
	if !ok {
		return "", errors.ErrInvalidKitType
	}
	return kit, nil
}

func identity(c *fiber.Ctx) (Identity, error) {
	userID, err := middleware.RequireUser(c)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Email: middleware.GetEmail(c)}, nil
}

// ListSteps returns the steps saved so far
func (h *OnboardingHandler) ListSteps(c *fiber.Ctx) error {
	who, err := identity(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}
	kit, err := requiredKit(c, "")
	if err != nil {
		return httputil.Error(c, err)
	}

	steps, err := h.service.Steps(c.UserContext(), who.UserID, kit)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, steps)
}

// SaveStep saves one onboarding step
func (h *OnboardingHandler) SaveStep(c *fiber.Ctx) error {
	who, err := identity(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}

	stepNumber, err := c.ParamsInt("step_number")
	if err != nil {
		return httputil.Error(c, errors.ErrInvalidStep)
	}

	var req SaveStepRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.BadRequest(c, "invalid request body")
	}
	kit, err := requiredKit(c, req.KitType)
	if err != nil {
		return httputil.Error(c, err)
	}

	step, err := h.service.SaveStep(c.UserContext(), who, kit, models.StepSave{
		StepNumber:              stepNumber,
		Fields:                  req.Fields,
		RequiredFieldsCompleted: req.RequiredFieldsCompleted,
		RequiredFieldsTotal:     req.RequiredFieldsTotal,
		StartedAt:               req.StartedAt,
	})
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, step)
}

// Complete finishes onboarding and sets up the project's phases
func (h *OnboardingHandler) Complete(c *fiber.Ctx) error {
	who, err := identity(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}

	var req CompleteOnboardingRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return httputil.BadRequest(c, "invalid request body")
		}
	}
	kit, err := requiredKit(c, req.KitType)
	if err != nil {
		return httputil.Error(c, err)
	}

	project, err := h.service.CompleteOnboarding(c.UserContext(), who, kit)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, project)
}
