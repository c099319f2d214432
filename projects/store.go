package projects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/projects/models"
	"github.com/klarnow/tracker/projects/phases"
)

// PhaseStateFunc computes a project's next phase state from its current one.
// Returning an error aborts the update and leaves the stored state alone.
type PhaseStateFunc func(current phases.StateMap) (phases.StateMap, error)

// Store persists projects, their phase state and onboarding steps.
//
// Lookups of a missing project return errors.ErrProjectNotFound.
// UpdatePhaseState serialises concurrent read-modify-write cycles on the
// same project, so two toggles never lose each other's changes.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	// FindProject returns the user's project for kit, or the most recently
	// updated one when kit is nil.
	FindProject(ctx context.Context, userID uuid.UUID, kit *commonModels.KitType) (*models.Project, error)
	UpdateProject(ctx context.Context, id uuid.UUID, upd models.ProjectUpdate) (*models.Project, error)
	ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, int64, error)

	// PhaseState returns nil when the project has no recorded progress
	PhaseState(ctx context.Context, projectID uuid.UUID) (phases.StateMap, error)
	PhaseStates(ctx context.Context, projectIDs []uuid.UUID) (map[uuid.UUID]phases.StateMap, error)
	UpdatePhaseState(ctx context.Context, projectID uuid.UUID, fn PhaseStateFunc) (phases.StateMap, error)

	ListSteps(ctx context.Context, projectID uuid.UUID) ([]*models.OnboardingStep, error)
	// SaveStep upserts step and records the project's onboarding percent
	SaveStep(ctx context.Context, step *models.OnboardingStep, onboardingPercent int) error
	// FinishOnboarding marks the project finished at 100%, sets its name and
	// writes initial as the phase state unless one already exists.
	FinishOnboarding(ctx context.Context, projectID uuid.UUID, name string, initial phases.StateMap) (*models.Project, error)

	Ping(ctx context.Context) error
	Close()
}

const projectColumns = `id, user_id, email, name, kit_type, onboarding_percent, onboarding_finished,
	current_day_of_14, next_from_us, next_from_you, created_at, updated_at`

const stepColumns = `id, project_id, step_number, step_id, title, time_estimate, status,
	required_fields_total, required_fields_completed, fields, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalState(state phases.StateMap) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode phases_state: %w", err)
	}
	return data, nil
}

func unmarshalState(data []byte) (phases.StateMap, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var state phases.StateMap
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode phases_state: %w", err)
	}
	return state, nil
}

func marshalFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return nil, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode step fields: %w", err)
	}
	return data, nil
}

func unmarshalFields(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode step fields: %w", err)
	}
	return fields, nil
}
