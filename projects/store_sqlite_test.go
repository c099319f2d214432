package projects

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klarnow/tracker/common/errors"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/projects/models"
	"github.com/klarnow/tracker/projects/phases"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func seedProject(t *testing.T, store Store, kit commonModels.KitType) *models.Project {
	t.Helper()
	p := models.NewProject(uuid.New(), fmt.Sprintf("%s@example.com", uuid.NewString()[:8]), kit)
	require.NoError(t, store.CreateProject(context.Background(), p))
	return p
}

func TestSQLiteStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := seedProject(t, store, commonModels.KitLaunch)

	got, err := store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, commonModels.KitLaunch, got.KitType)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.CurrentDayOf14)

	kit := commonModels.KitLaunch
	byUser, err := store.FindProject(ctx, p.UserID, &kit)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byUser.ID)

	latest, err := store.FindProject(ctx, p.UserID, nil)
	require.NoError(t, err)
	assert.Equal(t, p.ID, latest.ID)

	growth := commonModels.KitGrowth
	_, err = store.FindProject(ctx, p.UserID, &growth)
	assert.ErrorIs(t, err, errors.ErrProjectNotFound)
}

func TestSQLiteStore_OneProjectPerUserAndKit(t *testing.T) {
	store := newTestStore(t)
	p := seedProject(t, store, commonModels.KitLaunch)

	dup := models.NewProject(p.UserID, p.Email, commonModels.KitLaunch)
	assert.ErrorIs(t, store.CreateProject(context.Background(), dup), errors.ErrAlreadyExists)

	other := models.NewProject(p.UserID, p.Email, commonModels.KitGrowth)
	assert.NoError(t, store.CreateProject(context.Background(), other))
}

func TestSQLiteStore_MissingProject(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetProject(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.ErrProjectNotFound)

	_, err = store.PhaseState(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.ErrProjectNotFound)

	_, err = store.UpdatePhaseState(ctx, uuid.New(), func(s phases.StateMap) (phases.StateMap, error) { return s, nil })
	assert.ErrorIs(t, err, errors.ErrProjectNotFound)
}

func TestSQLiteStore_UpdateProject(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := seedProject(t, store, commonModels.KitGrowth)

	day := 6
	next := "Review homepage copy"
	got, err := store.UpdateProject(ctx, p.ID, models.ProjectUpdate{CurrentDayOf14: &day, NextFromYou: &next})
	require.NoError(t, err)
	assert.Equal(t, 6, *got.CurrentDayOf14)

	reloaded, err := store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.NextFromYou)
	assert.Equal(t, next, *reloaded.NextFromYou)
	assert.Nil(t, reloaded.NextFromUs)
}

func TestSQLiteStore_PhaseStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := seedProject(t, store, commonModels.KitLaunch)

	state, err := store.PhaseState(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, state)

	started := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	_, err = store.UpdatePhaseState(ctx, p.ID, func(current phases.StateMap) (phases.StateMap, error) {
		assert.Nil(t, current)
		return phases.StateMap{"PHASE_1": {
			Status:    commonModels.PhaseInProgress,
			StartedAt: &started,
			Checklist: map[string]bool{"Onboarding steps completed": true},
		}}, nil
	})
	require.NoError(t, err)

	state, err = store.PhaseState(ctx, p.ID)
	require.NoError(t, err)
	require.Contains(t, state, "PHASE_1")
	assert.Equal(t, commonModels.PhaseInProgress, state["PHASE_1"].Status)
	assert.True(t, started.Equal(*state["PHASE_1"].StartedAt))
	assert.True(t, state["PHASE_1"].Checklist["Onboarding steps completed"])

	all, err := store.PhaseStates(ctx, []uuid.UUID{p.ID})
	require.NoError(t, err)
	assert.Equal(t, state, all[p.ID])
}

func TestSQLiteStore_UpdatePhaseStateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := seedProject(t, store, commonModels.KitLaunch)

	_, err := store.UpdatePhaseState(ctx, p.ID, func(phases.StateMap) (phases.StateMap, error) {
		return phases.StateMap{"PHASE_1": phases.DefaultState()}, errors.ErrInvalidPhase
	})
	assert.ErrorIs(t, err, errors.ErrInvalidPhase)

	state, err := store.PhaseState(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSQLiteStore_ConcurrentTogglesKeepEveryItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := seedProject(t, store, commonModels.KitLaunch)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdatePhaseState(ctx, p.ID, func(current phases.StateMap) (phases.StateMap, error) {
				return phases.ApplyChecklistToggle(current, "PHASE_1", fmt.Sprintf("item %d", i), true), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state, err := store.PhaseState(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, state["PHASE_1"].Checklist, n)
}

func TestSQLiteStore_ListProjects(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		seedProject(t, store, commonModels.KitLaunch)
	}
	growth := seedProject(t, store, commonModels.KitGrowth)
	_, err := store.FinishOnboarding(ctx, growth.ID, "", nil)
	require.NoError(t, err)

	all, total, err := store.ListProjects(ctx, models.ProjectFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, all, 2)

	kit := commonModels.KitLaunch
	launch, total, err := store.ListProjects(ctx, models.ProjectFilter{KitType: &kit, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, launch, 3)

	finished := true
	done, total, err := store.ListProjects(ctx, models.ProjectFilter{OnboardingFinished: &finished, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, growth.ID, done[0].ID)
}

func TestSQLiteStore_StepsAndFinish(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := seedProject(t, store, commonModels.KitLaunch)
	now := time.Now().UTC()

	step := models.ApplyStepSave(nil, p.ID, p.KitType, models.StepSave{
		StepNumber:              1,
		Fields:                  map[string]any{"name_and_role": "Ada, founder"},
		RequiredFieldsCompleted: 4,
		RequiredFieldsTotal:     4,
	}, now)
	require.NoError(t, store.SaveStep(ctx, step, 33))

	// A second save of the same step updates in place
	again := models.ApplyStepSave(step, p.ID, p.KitType, models.StepSave{StepNumber: 1, Fields: step.Fields, RequiredFieldsCompleted: 4}, now.Add(time.Minute))
	require.NoError(t, store.SaveStep(ctx, again, 33))

	steps, err := store.ListSteps(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, commonModels.StepDone, steps[0].Status)
	assert.Equal(t, "Ada, founder", steps[0].Fields["name_and_role"])
	assert.Equal(t, "Tell us who you are", steps[0].Title)

	reloaded, err := store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, reloaded.OnboardingPercent)

	existing := phases.StateMap{"PHASE_1": {Status: commonModels.PhaseInProgress, Checklist: map[string]bool{}}}
	_, err = store.UpdatePhaseState(ctx, p.ID, func(phases.StateMap) (phases.StateMap, error) { return existing, nil })
	require.NoError(t, err)

	finished, err := store.FinishOnboarding(ctx, p.ID, "Ada, founder", phases.InitialState(phases.DefaultRegistry().Templates(p.KitType)))
	require.NoError(t, err)
	assert.True(t, finished.OnboardingFinished)
	assert.Equal(t, 100, finished.OnboardingPercent)
	assert.Equal(t, "Ada, founder", *finished.Name)

	state, err := store.PhaseState(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, state, 1, "existing phase state is not overwritten")
}
