package phases

import (
	"time"

	"github.com/klarnow/tracker/common/models"
)

// PhaseState is the persisted progress of one phase of one project
type PhaseState struct {
	Status      models.PhaseStatus `json:"status"`
	StartedAt   *time.Time         `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at"`
	Checklist   map[string]bool    `json:"checklist"`
}

// StateMap maps phase_id to its persisted state. A nil map means the
// project has no recorded progress yet.
type StateMap map[string]PhaseState

// DefaultState is the state of a phase nobody has touched yet
func DefaultState() PhaseState {
	return PhaseState{
		Status:    models.PhaseNotStarted,
		Checklist: map[string]bool{},
	}
}

// Clone returns a deep copy of the phase state
func (s PhaseState) Clone() PhaseState {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	out.Checklist = make(map[string]bool, len(s.Checklist))
	for k, v := range s.Checklist {
		out.Checklist[k] = v
	}
	return out
}

// Clone returns a deep copy of the map. Cloning nil yields an empty map.
func (m StateMap) Clone() StateMap {
	out := make(StateMap, len(m))
	for id, s := range m {
		out[id] = s.Clone()
	}
	return out
}

// Get returns the state for phaseID, or DefaultState when absent
func (m StateMap) Get(phaseID string) PhaseState {
	if s, ok := m[phaseID]; ok {
		return s.Clone()
	}
	return DefaultState()
}

// InitialState returns a NOT_STARTED state with an all-false checklist for
// every template, as written when a client finishes onboarding.
func InitialState(templates []PhaseTemplate) StateMap {
	state := make(StateMap, len(templates))
	for _, t := range templates {
		checklist := make(map[string]bool, len(t.Checklist))
		for _, label := range t.Checklist {
			checklist[label] = false
		}
		state[t.PhaseID] = PhaseState{
			Status:    models.PhaseNotStarted,
			Checklist: checklist,
		}
	}
	return state
}
