package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klarnow/tracker/common/models"
)

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestStepTitle(t *testing.T) {
	title, estimate := StepTitle(models.KitGrowth, 2)
	assert.Equal(t, "Clients, proof and content fuel", title)
	assert.Equal(t, "About 10 minutes", estimate)

	title, _ = StepTitle(models.KitLaunch, 4)
	assert.Empty(t, title)
}

func TestApplyStepSave_FirstPartialSave(t *testing.T) {
	projectID := uuid.New()

	step := ApplyStepSave(nil, projectID, models.KitLaunch, StepSave{
		StepNumber:              1,
		Fields:                  map[string]any{"name_and_role": "Ada, founder"},
		RequiredFieldsCompleted: 2,
		RequiredFieldsTotal:     5,
	}, now)

	assert.Equal(t, projectID, step.ProjectID)
	assert.Equal(t, "STEP_1", step.StepID)
	assert.Equal(t, "Tell us who you are", step.Title)
	assert.Equal(t, models.StepInProgress, step.Status)
	require.NotNil(t, step.StartedAt)
	assert.Equal(t, now, *step.StartedAt)
	assert.Nil(t, step.CompletedAt)
}

func TestApplyStepSave_CompletesAndKeepsStart(t *testing.T) {
	first := ApplyStepSave(nil, uuid.New(), models.KitLaunch, StepSave{StepNumber: 2, RequiredFieldsTotal: 3}, now)
	later := now.Add(10 * time.Minute)

	step := ApplyStepSave(first, first.ProjectID, models.KitLaunch, StepSave{StepNumber: 2, RequiredFieldsCompleted: 3}, later)

	assert.Equal(t, first.ID, step.ID)
	assert.Equal(t, models.StepDone, step.Status)
	assert.Equal(t, 3, step.RequiredFieldsTotal)
	assert.Equal(t, now, *step.StartedAt)
	require.NotNil(t, step.CompletedAt)
	assert.Equal(t, later, *step.CompletedAt)
	assert.Equal(t, models.StepInProgress, first.Status)
}

func steps(statuses ...models.StepStatus) []*OnboardingStep {
	out := make([]*OnboardingStep, len(statuses))
	for i, s := range statuses {
		out[i] = &OnboardingStep{StepNumber: i + 1, Status: s}
	}
	return out
}

func TestOnboardingPercent(t *testing.T) {
	assert.Equal(t, 0, OnboardingPercent(nil))
	assert.Equal(t, 33, OnboardingPercent(steps(models.StepDone, models.StepInProgress)))
	assert.Equal(t, 67, OnboardingPercent(steps(models.StepDone, models.StepDone)))
	assert.Equal(t, 100, OnboardingPercent(steps(models.StepDone, models.StepDone, models.StepDone)))
}

func TestStepUnlocked(t *testing.T) {
	saved := steps(models.StepDone, models.StepInProgress)

	assert.True(t, StepUnlocked(nil, 1))
	assert.False(t, StepUnlocked(nil, 2))
	assert.True(t, StepUnlocked(saved, 2))
	assert.False(t, StepUnlocked(saved, 3))
}

func TestAllStepsDone(t *testing.T) {
	assert.False(t, AllStepsDone(steps(models.StepDone, models.StepDone)))
	assert.False(t, AllStepsDone(steps(models.StepDone, models.StepInProgress, models.StepDone)))
	assert.True(t, AllStepsDone(steps(models.StepDone, models.StepDone, models.StepDone)))
}

func TestClientNameAndDisplayName(t *testing.T) {
	s := []*OnboardingStep{{StepNumber: 1, Fields: map[string]any{"name_and_role": "Ada Lovelace"}}}
	assert.Equal(t, "Ada Lovelace", ClientName(s))
	assert.Empty(t, ClientName(nil))

	p := NewProject(uuid.New(), " Ada@Example.com ", models.KitLaunch)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "ada", p.DisplayName())
}

func TestProjectUpdate_Apply(t *testing.T) {
	day := 3
	us := "Homepage draft"
	p := &Project{NextFromYou: &us}

	ProjectUpdate{CurrentDayOf14: &day, NextFromUs: &us, ClearNextFromYou: true}.Apply(p)

	require.NotNil(t, p.CurrentDayOf14)
	assert.Equal(t, 3, *p.CurrentDayOf14)
	assert.Equal(t, "Homepage draft", *p.NextFromUs)
	assert.Nil(t, p.NextFromYou)
}
