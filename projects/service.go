package projects

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/klarnow/tracker/common/errors"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/email"
	"github.com/klarnow/tracker/projects/models"
	"github.com/klarnow/tracker/projects/phases"
)

// Identity is the authenticated caller
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// ProjectView is a project with its merged phases. Project is nil when the
// caller has no project yet; Phases then show the bare template.
type ProjectView struct {
	Project        *models.Project      `json:"project"`
	KitType        commonModels.KitType `json:"kit_type"`
	Phases         []phases.MergedPhase `json:"phases"`
	CurrentPhaseID *string              `json:"current_phase_id"`
}

// CurrentPhaseSummary describes the phase a client should look at now
type CurrentPhaseSummary struct {
	PhaseID             string                     `json:"phase_id"`
	PhaseNumber         int                        `json:"phase_number"`
	Title               string                     `json:"title"`
	Status              commonModels.PhaseStatus   `json:"status"`
	DayRange            string                     `json:"day_range"`
	ChecklistCompletion phases.ChecklistCompletion `json:"checklist_completion"`
}

// NextActions are the free-text next steps set by the team
type NextActions struct {
	FromUs  *string `json:"from_us"`
	FromYou *string `json:"from_you"`
}

// ProgressReport is the client dashboard's progress summary
type ProgressReport struct {
	ProjectID         uuid.UUID                `json:"project_id"`
	KitType           commonModels.KitType     `json:"kit_type"`
	OverallProgress   phases.OverallProgress   `json:"overall_progress"`
	ChecklistProgress phases.ChecklistProgress `json:"checklist_progress"`
	CurrentPhase      *CurrentPhaseSummary     `json:"current_phase"`
	NextActions       NextActions              `json:"next_actions"`
	Timeline          phases.TimelineProgress  `json:"timeline"`
}

// Mailer sends client e-mails. *email.Client implements it.
type Mailer interface {
	SendActionNeeded(ctx context.Context, msg email.ActionNeeded) error
}

// Service implements the project use cases on top of a Store
type Service struct {
	store        Store
	registry     *phases.Registry
	notifier     Notifier
	metrics      *Metrics
	mailer       Mailer
	dashboardURL string
	now          func() time.Time
}

// NewService creates a service. metrics may be nil.
func NewService(store Store, registry *phases.Registry, notifier Notifier, metrics *Metrics) *Service {
	return &Service{
		store:    store,
		registry: registry,
		notifier: notifier,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetMailer enables "action needed" e-mails to clients, linking to
// dashboardURL when set
func (s *Service) SetMailer(m Mailer, dashboardURL string) {
	s.mailer = m
	s.dashboardURL = dashboardURL
}

func (s *Service) buildView(p *models.Project, kit commonModels.KitType, state phases.StateMap) *ProjectView {
	merged := phases.Merge(s.registry.Templates(kit), state)
	view := &ProjectView{Project: p, KitType: kit, Phases: merged}
	if cur := phases.CurrentPhase(merged); cur != nil {
		id := cur.PhaseID
		view.CurrentPhaseID = &id
	}
	return view
}

func (s *Service) viewOf(ctx context.Context, p *models.Project) (*ProjectView, error) {
	state, err := s.store.PhaseState(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return s.buildView(p, p.KitType, state), nil
}

func (s *Service) publish(ctx context.Context, projectID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, projectID); err != nil {
		log.Warn().Err(err).Str("project_id", projectID.String()).Msg("publish project change")
	}
}

// MyProject returns the caller's project view. Without a project it returns
// the template for kit (LAUNCH when kit is nil).
func (s *Service) MyProject(ctx context.Context, userID uuid.UUID, kit *commonModels.KitType) (*ProjectView, error) {
	p, err := s.store.FindProject(ctx, userID, kit)
	if errors.Is(err, errors.ErrProjectNotFound) {
		k := commonModels.KitLaunch
		if kit != nil {
			k = *kit
		}
		return s.buildView(nil, k, nil), nil
	}
	if err != nil {
		return nil, err
	}
	return s.viewOf(ctx, p)
}

// ProjectByID returns any project's view, for administrators
func (s *Service) ProjectByID(ctx context.Context, projectID uuid.UUID) (*ProjectView, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.viewOf(ctx, p)
}

// ProjectForUser returns the caller's project or errors.ErrProjectNotFound
func (s *Service) ProjectForUser(ctx context.Context, userID uuid.UUID, kit *commonModels.KitType) (*models.Project, error) {
	return s.store.FindProject(ctx, userID, kit)
}

func (s *Service) validateToggle(kit commonModels.KitType, phaseID, label string) error {
	if !s.registry.ValidatePhaseID(kit, phaseID) {
		return errors.ErrInvalidPhase
	}
	if !s.registry.ValidateChecklistLabel(kit, phaseID, label) {
		return errors.ErrInvalidChecklistLabel
	}
	return nil
}

// ToggleChecklist sets one checklist item of p and applies the start rule:
// ticking an item of a NOT_STARTED phase moves it to IN_PROGRESS.
func (s *Service) ToggleChecklist(ctx context.Context, p *models.Project, phaseID, label string, isDone bool) (*ProjectView, error) {
	if err := s.validateToggle(p.KitType, phaseID, label); err != nil {
		return nil, err
	}

	var started bool
	state, err := s.store.UpdatePhaseState(ctx, p.ID, func(current phases.StateMap) (phases.StateMap, error) {
		next, changed := phases.ToggleChecklist(current, phaseID, label, isDone, s.now())
		started = changed
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.toggled(p.KitType, isDone)
	if started {
		s.metrics.transitioned(p.KitType, commonModels.PhaseInProgress)
		log.Info().
			Str("project_id", p.ID.String()).
			Str("phase_id", phaseID).
			Msg("phase started by checklist")
	}
	s.publish(ctx, p.ID)
	return s.buildView(p, p.KitType, state), nil
}

// AdminToggleChecklist toggles an item on any project
func (s *Service) AdminToggleChecklist(ctx context.Context, projectID uuid.UUID, phaseID, label string, isDone bool) (*ProjectView, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.ToggleChecklist(ctx, p, phaseID, label, isDone)
}

// UpdatePhaseStatus applies an administrator's status change to one phase
func (s *Service) UpdatePhaseStatus(ctx context.Context, projectID uuid.UUID, phaseID string, change phases.StatusChange) (*ProjectView, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !s.registry.ValidatePhaseID(p.KitType, phaseID) {
		return nil, errors.ErrInvalidPhase
	}

	var previous commonModels.PhaseStatus
	state, err := s.store.UpdatePhaseState(ctx, p.ID, func(current phases.StateMap) (phases.StateMap, error) {
		previous = current.Get(phaseID).Status
		return phases.ApplyStatusChange(current, phaseID, change, s.now())
	})
	if err != nil {
		return nil, err
	}

	if change.Status != nil {
		s.metrics.transitioned(p.KitType, *change.Status)
		log.Info().
			Str("project_id", p.ID.String()).
			Str("phase_id", phaseID).
			Str("status", string(*change.Status)).
			Msg("phase status updated")

		if *change.Status == commonModels.PhaseWaitingOnClient && previous != commonModels.PhaseWaitingOnClient {
			go s.sendActionNeeded(context.WithoutCancel(ctx), p, phaseID)
		}
	}
	s.publish(ctx, p.ID)
	return s.buildView(p, p.KitType, state), nil
}

func (s *Service) sendActionNeeded(ctx context.Context, p *models.Project, phaseID string) {
	if s.mailer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	msg := email.ActionNeeded{
		To:           p.Email,
		ClientName:   p.DisplayName(),
		DashboardURL: s.dashboardURL,
	}
	if t, ok := s.registry.Template(p.KitType, phaseID); ok {
		msg.PhaseTitle = t.Title
	}
	// Re-read so the e-mail carries the latest next step text
	if fresh, err := s.store.GetProject(ctx, p.ID); err == nil && fresh.NextFromYou != nil {
		msg.NextFromYou = *fresh.NextFromYou
	}

	if err := s.mailer.SendActionNeeded(ctx, msg); err != nil {
		log.Warn().Err(err).Str("project_id", p.ID.String()).Msg("send action needed email")
		return
	}
	log.Info().Str("project_id", p.ID.String()).Str("phase_id", phaseID).Msg("action needed email sent")
}

// UpdateProject applies the admin editable fields
func (s *Service) UpdateProject(ctx context.Context, projectID uuid.UUID, upd models.ProjectUpdate) (*models.Project, error) {
	if upd.CurrentDayOf14 != nil && (*upd.CurrentDayOf14 < 0 || *upd.CurrentDayOf14 > phases.TotalDays) {
		return nil, errors.ValidationError("validation failed", map[string]string{
			"current_day_of_14": "must be between 0 and 14",
		})
	}
	p, err := s.store.UpdateProject(ctx, projectID, upd)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, p.ID)
	return p, nil
}

// Progress summarises the caller's project
func (s *Service) Progress(ctx context.Context, userID uuid.UUID, kit *commonModels.KitType) (*ProgressReport, error) {
	p, err := s.store.FindProject(ctx, userID, kit)
	if err != nil {
		return nil, err
	}
	view, err := s.viewOf(ctx, p)
	if err != nil {
		return nil, err
	}

	report := &ProgressReport{
		ProjectID:         p.ID,
		KitType:           p.KitType,
		OverallProgress:   phases.Overall(view.Phases),
		ChecklistProgress: phases.ChecklistTotals(view.Phases),
		NextActions:       NextActions{FromUs: p.NextFromUs, FromYou: p.NextFromYou},
		Timeline:          phases.Timeline(p.CurrentDayOf14),
	}
	if cur := phases.CurrentPhase(view.Phases); cur != nil {
		report.CurrentPhase = &CurrentPhaseSummary{
			PhaseID:             cur.PhaseID,
			PhaseNumber:         cur.PhaseNumber,
			Title:               cur.Title,
			Status:              cur.Status,
			DayRange:            cur.DayRange,
			ChecklistCompletion: phases.Completion(*cur),
		}
	}
	return report, nil
}

// ListClients returns the admin client listing with per-project progress
func (s *Service) ListClients(ctx context.Context, f models.ProjectFilter) ([]models.ClientSummary, int64, error) {
	projects, total, err := s.store.ListProjects(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]uuid.UUID, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}
	states, err := s.store.PhaseStates(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	out := make([]models.ClientSummary, len(projects))
	for i, p := range projects {
		view := s.buildView(p, p.KitType, states[p.ID])
		out[i] = models.ClientSummary{
			Project:         *p,
			OverallProgress: phases.Overall(view.Phases).PhaseCompletionPercent,
			CurrentPhaseID:  view.CurrentPhaseID,
		}
	}
	return out, total, nil
}

// Steps returns the caller's saved onboarding steps for kit
func (s *Service) Steps(ctx context.Context, userID uuid.UUID, kit commonModels.KitType) ([]*models.OnboardingStep, error) {
	p, err := s.store.FindProject(ctx, userID, &kit)
	if errors.Is(err, errors.ErrProjectNotFound) {
		return []*models.OnboardingStep{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, p.ID)
}

func (s *Service) findOrCreateProject(ctx context.Context, who Identity, kit commonModels.KitType) (*models.Project, error) {
	p, err := s.store.FindProject(ctx, who.UserID, &kit)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, errors.ErrProjectNotFound) {
		return nil, err
	}

	p = models.NewProject(who.UserID, who.Email, kit)
	err = s.store.CreateProject(ctx, p)
	if errors.Is(err, errors.ErrAlreadyExists) {
		// Lost a race with a concurrent first save
		return s.store.FindProject(ctx, who.UserID, &kit)
	}
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("project_id", p.ID.String()).
		Str("kit_type", string(kit)).
		Msg("project created")
	return p, nil
}

// SaveStep saves one onboarding step, creating the project on first save.
// Step n+1 is locked until step n is DONE.
func (s *Service) SaveStep(ctx context.Context, who Identity, kit commonModels.KitType, save models.StepSave) (*models.OnboardingStep, error) {
	if !models.ValidStepNumber(save.StepNumber) {
		return nil, errors.ErrInvalidStep
	}
	if save.RequiredFieldsCompleted < 0 || save.RequiredFieldsTotal < 0 {
		return nil, errors.ValidationError("validation failed", map[string]string{
			"required_fields": "must not be negative",
		})
	}

	p, err := s.findOrCreateProject(ctx, who, kit)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !models.StepUnlocked(steps, save.StepNumber) {
		return nil, errors.ErrStepLocked
	}

	var existing *models.OnboardingStep
	rest := make([]*models.OnboardingStep, 0, len(steps)+1)
	for _, st := range steps {
		if st.StepNumber == save.StepNumber {
			existing = st
			continue
		}
		rest = append(rest, st)
	}

	step := models.ApplyStepSave(existing, p.ID, kit, save, s.now())
	percent := models.OnboardingPercent(append(rest, step))
	if p.OnboardingFinished {
		percent = 100
	}
	if err := s.store.SaveStep(ctx, step, percent); err != nil {
		return nil, err
	}
	return step, nil
}

// CompleteOnboarding finishes onboarding once every step is DONE and
// initialises the project's phase state.
func (s *Service) CompleteOnboarding(ctx context.Context, who Identity, kit commonModels.KitType) (*models.Project, error) {
	p, err := s.store.FindProject(ctx, who.UserID, &kit)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !models.AllStepsDone(steps) {
		return nil, errors.New(errors.ErrOnboardingIncomplete, "complete all onboarding steps first", http.StatusConflict)
	}

	name := models.ClientName(steps)
	if name == "" {
		name = p.DisplayName()
	}

	finished, err := s.store.FinishOnboarding(ctx, p.ID, name, phases.InitialState(s.registry.Templates(kit)))
	if err != nil {
		return nil, err
	}
	if !p.OnboardingFinished {
		s.metrics.onboarded(kit)
		log.Info().
			Str("project_id", p.ID.String()).
			Str("kit_type", string(kit)).
			Msg("onboarding completed")
	}
	s.publish(ctx, p.ID)
	return finished, nil
}
