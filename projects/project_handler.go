package projects

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/klarnow/tracker/common/errors"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/httputil"
	"github.com/klarnow/tracker/pkg/middleware"
)

// ProjectHandler handles the client's own project endpoints
type ProjectHandler struct {
	service *Service
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(service *Service) *ProjectHandler {
	return &ProjectHandler{service: service}
}

// ToggleChecklistRequest represents a checklist toggle
type ToggleChecklistRequest struct {
	PhaseID        string `json:"phase_id"`
	ChecklistLabel string `json:"checklist_label"`
	IsDone         *bool  `json:"is_done"`
}

func (r *ToggleChecklistRequest) validate(requirePhase bool) error {
	fields := make(map[string]string)
	if requirePhase && strings.TrimSpace(r.PhaseID) == "" {
		fields["phase_id"] = "required"
	}
	if r.ChecklistLabel == "" {
		fields["checklist_label"] = "required"
	}
	if r.IsDone == nil {
		fields["is_done"] = "required"
	}
	if len(fields) > 0 {
		return errors.ValidationError("validation failed", fields)
	}
	return nil
}

// kitQuery parses the optional ?kit_type= filter
func kitQuery(c *fiber.Ctx) (*commonModels.KitType, error) {
	raw := c.Query("kit_type")
	if raw == "" {
		return nil, nil
	}
	kit, ok := commonModels.ParseKitType(raw)
	if !ok {
		return nil, errors.ErrInvalidKitType
	}
	return &kit, nil
}

// MyProject returns the caller's project with its merged phases
func (h *ProjectHandler) MyProject(c *fiber.Ctx) error {
	userID, err := middleware.RequireUser(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}
	kit, err := kitQuery(c)
	if err != nil {
		return httputil.Error(c, err)
	}

	view, err := h.service.MyProject(c.UserContext(), userID, kit)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, view)
}

// ToggleChecklist ticks or unticks one checklist item of the caller's project
func (h *ProjectHandler) ToggleChecklist(c *fiber.Ctx) error {
	userID, err := middleware.RequireUser(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}
	kit, err := kitQuery(c)
	if err != nil {
		return httputil.Error(c, err)
	}

	var req ToggleChecklistRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.BadRequest(c, "invalid request body")
	}
	if err := req.validate(true); err != nil {
		return httputil.Error(c, err)
	}

	project, err := h.service.ProjectForUser(c.UserContext(), userID, kit)
	if err != nil {
		return httputil.Error(c, err)
	}

	view, err := h.service.ToggleChecklist(c.UserContext(), project, req.PhaseID, req.ChecklistLabel, *req.IsDone)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, view)
}

// Progress returns the caller's progress summary
func (h *ProjectHandler) Progress(c *fiber.Ctx) error {
	userID, err := middleware.RequireUser(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}
	kit, err := kitQuery(c)
	if err != nil {
		return httputil.Error(c, err)
	}

	report, err := h.service.Progress(c.UserContext(), userID, kit)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, report)
}
