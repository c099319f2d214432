package projects

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/klarnow/tracker/common/errors"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/httputil"
	"github.com/klarnow/tracker/projects/models"
	"github.com/klarnow/tracker/projects/phases"
)

// AdminHandler handles the administrator endpoints
type AdminHandler struct {
	service *Service
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service *Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// patchBody keeps the raw JSON of a PATCH so an explicit null can be told
// apart from an absent field
type patchBody map[string]json.RawMessage

func parsePatch(c *fiber.Ctx) (patchBody, error) {
	body := patchBody{}
	if len(bytes.TrimSpace(c.Body())) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return nil, err
	}
	return body, nil
}

func (b patchBody) has(key string) bool {
	_, ok := b[key]
	return ok
}

func (b patchBody) isNull(key string) bool {
	v, ok := b[key]
	return ok && bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (b patchBody) decode(key string, dst interface{}) error {
	return json.Unmarshal(b[key], dst)
}

func projectIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, errors.BadRequest("invalid project id")
	}
	return id, nil
}

// ListClients lists every client project with its progress
func (h *AdminHandler) ListClients(c *fiber.Ctx) error {
	kit, err := kitQuery(c)
	if err != nil {
		return httputil.Error(c, err)
	}

	filter := models.ProjectFilter{KitType: kit}
	if raw := c.Query("onboarding_finished"); raw != "" {
		finished, err := strconv.ParseBool(raw)
		if err != nil {
			return httputil.ValidationError(c, "validation failed", map[string]string{
				"onboarding_finished": "must be true or false",
			})
		}
		filter.OnboardingFinished = &finished
	}

	pagination := httputil.ParsePagination(c)
	filter.Limit = pagination.PageSize
	filter.Offset = pagination.Offset()

	clients, total, err := h.service.ListClients(c.UserContext(), filter)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.SuccessWithMeta(c, clients, pagination.Meta(total))
}

// GetProject returns any project with its merged phases
func (h *AdminHandler) GetProject(c *fiber.Ctx) error {
	id, err := projectIDParam(c)
	if err != nil {
		return httputil.Error(c, err)
	}

	view, err := h.service.ProjectByID(c.UserContext(), id)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, view)
}

// UpdateProject updates the timeline day and the next-action texts
func (h *AdminHandler) UpdateProject(c *fiber.Ctx) error {
	id, err := projectIDParam(c)
	if err != nil {
		return httputil.Error(c, err)
	}
	body, err := parsePatch(c)
	if err != nil {
		return httputil.BadRequest(c, "invalid request body")
	}

	var upd models.ProjectUpdate
	fields := make(map[string]string)

	switch {
	case body.isNull("current_day_of_14"):
		upd.ClearCurrentDay = true
	case body.has("current_day_of_14"):
		var day int
		if err := body.decode("current_day_of_14", &day); err != nil {
			fields["current_day_of_14"] = "must be an integer"
		} else {
			upd.CurrentDayOf14 = &day
		}
	}
	switch {
	case body.isNull("next_from_us"):
		upd.ClearNextFromUs = true
	case body.has("next_from_us"):
		var s string
		if err := body.decode("next_from_us", &s); err != nil {
			fields["next_from_us"] = "must be a string"
		} else {
			upd.NextFromUs = &s
		}
	}
	switch {
	case body.isNull("next_from_you"):
		upd.ClearNextFromYou = true
	case body.has("next_from_you"):
		var s string
		if err := body.decode("next_from_you", &s); err != nil {
			fields["next_from_you"] = "must be a string"
		} else {
			upd.NextFromYou = &s
		}
	}
	if len(fields) > 0 {
		return httputil.ValidationError(c, "validation failed", fields)
	}

	project, err := h.service.UpdateProject(c.UserContext(), id, upd)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, project)
}

// UpdatePhaseStatus changes a phase's status and timestamps
func (h *AdminHandler) UpdatePhaseStatus(c *fiber.Ctx) error {
	id, err := projectIDParam(c)
	if err != nil {
		return httputil.Error(c, err)
	}
	body, err := parsePatch(c)
	if err != nil {
		return httputil.BadRequest(c, "invalid request body")
	}

	var change phases.StatusChange
	fields := make(map[string]string)

	if body.has("status") && !body.isNull("status") {
		var status commonModels.PhaseStatus
		if err := body.decode("status", &status); err != nil {
			fields["status"] = "must be a string"
		} else {
			change.Status = &status
		}
	}
	switch {
	case body.isNull("started_at"):
		change.ClearStartedAt = true
	case body.has("started_at"):
		var t time.Time
		if err := body.decode("started_at", &t); err != nil {
			fields["started_at"] = "must be an RFC 3339 timestamp"
		} else {
			change.StartedAt = &t
		}
	}
	switch {
	case body.isNull("completed_at"):
		change.ClearCompletedAt = true
	case body.has("completed_at"):
		var t time.Time
		if err := body.decode("completed_at", &t); err != nil {
			fields["completed_at"] = "must be an RFC 3339 timestamp"
		} else {
			change.CompletedAt = &t
		}
	}
	if len(fields) > 0 {
		return httputil.ValidationError(c, "validation failed", fields)
	}

	view, err := h.service.UpdatePhaseStatus(c.UserContext(), id, c.Params("phase_id"), change)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, view)
}

// ToggleChecklist toggles a checklist item on behalf of a client
func (h *AdminHandler) ToggleChecklist(c *fiber.Ctx) error {
	id, err := projectIDParam(c)
	if err != nil {
		return httputil.Error(c, err)
	}

	var req ToggleChecklistRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.BadRequest(c, "invalid request body")
	}
	if err := req.validate(false); err != nil {
		return httputil.Error(c, err)
	}

	view, err := h.service.AdminToggleChecklist(c.UserContext(), id, c.Params("phase_id"), req.ChecklistLabel, *req.IsDone)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.Success(c, view)
}
