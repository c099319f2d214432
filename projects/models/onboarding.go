package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/klarnow/tracker/common/models"
)

// OnboardingStepCount is the number of onboarding steps for every kit
const OnboardingStepCount = 3

// OnboardingStep is a client's saved answers for one onboarding step
type OnboardingStep struct {
	ID                      uuid.UUID         `json:"id" db:"id"`
	ProjectID               uuid.UUID         `json:"project_id" db:"project_id"`
	StepNumber              int               `json:"step_number" db:"step_number"`
	StepID                  string            `json:"step_id" db:"step_id"`
	Title                   string            `json:"title" db:"title"`
	TimeEstimate            string            `json:"time_estimate" db:"time_estimate"`
	Status                  models.StepStatus `json:"status" db:"status"`
	RequiredFieldsTotal     int               `json:"required_fields_total" db:"required_fields_total"`
	RequiredFieldsCompleted int               `json:"required_fields_completed" db:"required_fields_completed"`
	Fields                  map[string]any    `json:"fields" db:"fields"`
	StartedAt               *time.Time        `json:"started_at" db:"started_at"`
	CompletedAt             *time.Time        `json:"completed_at" db:"completed_at"`
	CreatedAt               time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at" db:"updated_at"`
}

// IsComplete reports whether every required field is filled in. A step
// with no required fields is complete on its first save.
func (s *OnboardingStep) IsComplete() bool {
	return s.RequiredFieldsCompleted >= s.RequiredFieldsTotal
}

type stepInfo struct {
	title    string
	estimate string
}

var stepCatalog = map[models.KitType][OnboardingStepCount]stepInfo{
	models.KitLaunch: {
		{"Tell us who you are", "About 5 minutes"},
		{"Show us your brand", "About 8 minutes"},
		{"Switch on the site", "About 5 minutes"},
	},
	models.KitGrowth: {
		{"Snapshot and main offer", "About 8 minutes"},
		{"Clients, proof and content fuel", "About 10 minutes"},
		{"Systems and launch", "About 7 minutes"},
	},
}

// ValidStepNumber reports whether n names an onboarding step
func ValidStepNumber(n int) bool {
	return n >= 1 && n <= OnboardingStepCount
}

// StepTitle returns the title and time estimate of step n for kit
func StepTitle(kit models.KitType, n int) (title, estimate string) {
	steps, ok := stepCatalog[kit]
	if !ok || !ValidStepNumber(n) {
		return "", ""
	}
	s := steps[n-1]
	return s.title, s.estimate
}

// StepSave is one save of an onboarding step's form
type StepSave struct {
	StepNumber              int
	Fields                  map[string]any
	RequiredFieldsCompleted int
	RequiredFieldsTotal     int
	StartedAt               *time.Time
}


// ApplyStepSave folds a save into the existing step (nil for a first save)
// and returns the new row. A save that omits required_fields_total keeps the
// stored total. A complete save marks the step DONE and stamps
// completed_at; otherwise the step is IN_PROGRESS. started_at is kept from
// the first save.
func ApplyStepSave(existing *OnboardingStep, projectID uuid.UUID, kit models.KitType, save StepSave, now time.Time) *OnboardingStep {
	var step OnboardingStep
	if existing != nil {
		step = *existing
	} else {
		title, estimate := StepTitle(kit, save.StepNumber)
		step = OnboardingStep{
			ID:           uuid.New(),
			ProjectID:    projectID,
			StepNumber:   save.StepNumber,
			StepID:       fmt.Sprintf("STEP_%d", save.StepNumber),
			Title:        title,
			TimeEstimate: estimate,
			CreatedAt:    now,
		}
	}

	step.Fields = save.Fields
	step.RequiredFieldsCompleted = save.RequiredFieldsCompleted
	if save.RequiredFieldsTotal > 0 || existing == nil {
		step.RequiredFieldsTotal = save.RequiredFieldsTotal
	}
	step.UpdatedAt = now

	if step.StartedAt == nil {
		started := now
		if save.StartedAt != nil {
			started = *save.StartedAt
		}
		step.StartedAt = &started
	}

	if step.IsComplete() {
		step.Status = models.StepDone
		completed := now
		step.CompletedAt = &completed
	} else {
		step.Status = models.StepInProgress
		step.CompletedAt = nil
	}
	return &step
}

// OnboardingPercent returns round(100 * done / OnboardingStepCount)
func OnboardingPercent(steps []*OnboardingStep) int {
	done := 0
	for _, s := range steps {
		if s.Status == models.StepDone {
			done++
		}
	}
	return int(math.Floor(float64(done)*100/OnboardingStepCount + 0.5))
}

// StepUnlocked reports whether step n may be saved given the saved steps:
// step 1 always, step n+1 only once step n is DONE.
func StepUnlocked(steps []*OnboardingStep, n int) bool {
	if n <= 1 {
		return true
	}
	for _, s := range steps {
		if s.StepNumber == n-1 {
			return s.Status == models.StepDone
		}
	}
	return false
}

// AllStepsDone reports whether every onboarding step is DONE
func AllStepsDone(steps []*OnboardingStep) bool {
	done := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s.Status == models.StepDone {
			done[s.StepNumber] = true
		}
	}
	for n := 1; n <= OnboardingStepCount; n++ {
		if !done[n] {
			return false
		}
	}
	return true
}

// ClientName extracts the client's name from step 1's name_and_role field
func ClientName(steps []*OnboardingStep) string {
	for _, s := range steps {
		if s.StepNumber != 1 || s.Fields == nil {
			continue
		}
		if v, ok := s.Fields["name_and_role"].(string); ok {
			return v
		}
	}
	return ""
}
