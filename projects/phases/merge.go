package phases

import (
	"time"

	"github.com/klarnow/tracker/common/models"
)

// ChecklistItem is one rendered checklist entry of a merged phase
type ChecklistItem struct {
	Label  string `json:"label"`
	IsDone bool   `json:"is_done"`
}

// MergedPhase is a template combined with its persisted state, ready to be
// rendered. It is derived on every read and never stored.
type MergedPhase struct {
	PhaseID     string             `json:"phase_id"`
	PhaseNumber int                `json:"phase_number"`
	Title       string             `json:"title"`
	Subtitle    *string            `json:"subtitle"`
	DayRange    string             `json:"day_range"`
	Status      models.PhaseStatus `json:"status"`
	StartedAt   *time.Time         `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at"`
	Checklist   []ChecklistItem    `json:"checklist"`
	Links       []Link             `json:"links"`
}

// Merge combines templates with state, one MergedPhase per template in
// template order. Phases missing from state get DefaultState. Checklist
// labels follow the template exactly: labels missing from the state are
// not done, labels only present in the state are dropped.
func Merge(templates []PhaseTemplate, state StateMap) []MergedPhase {
	merged := make([]MergedPhase, 0, len(templates))
	for _, t := range templates {
		s := state.Get(t.PhaseID)

		checklist := make([]ChecklistItem, len(t.Checklist))
		for i, label := range t.Checklist {
			checklist[i] = ChecklistItem{Label: label, IsDone: s.Checklist[label]}
		}

		status := s.Status
		if status == "" {
			status = models.PhaseNotStarted
		}

		tc := t.clone()
		merged = append(merged, MergedPhase{
			PhaseID:     tc.PhaseID,
			PhaseNumber: tc.PhaseNumber,
			Title:       tc.Title,
			Subtitle:    tc.Subtitle,
			DayRange:    tc.DayRange,
			Status:      status,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
			Checklist:   checklist,
			Links:       tc.Links,
		})
	}
	return merged
}

// StateFromMerged converts merged phases back into a state map. Merging the
// result against the same templates reproduces the input.
func StateFromMerged(merged []MergedPhase) StateMap {
	state := make(StateMap, len(merged))
	for _, p := range merged {
		checklist := make(map[string]bool, len(p.Checklist))
		for _, item := range p.Checklist {
			checklist[item.Label] = item.IsDone
		}
		state[p.PhaseID] = PhaseState{
			Status:      p.Status,
			StartedAt:   p.StartedAt,
			CompletedAt: p.CompletedAt,
			Checklist:   checklist,
		}
	}
	return state
}

// Find returns the merged phase with the given id
func Find(merged []MergedPhase, phaseID string) (MergedPhase, bool) {
	for _, p := range merged {
		if p.PhaseID == phaseID {
			return p, true
		}
	}
	return MergedPhase{}, false
}
