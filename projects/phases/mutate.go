package phases

import (
	"time"

	apperrors "github.com/klarnow/tracker/common/errors"
	"github.com/klarnow/tracker/common/models"
)

// ApplyChecklistToggle returns a copy of state with checklist[label] of
// phaseID set to isDone. A missing phase starts from DefaultState. Status
// and timestamps are left alone; see ToggleChecklist for the call-site rule.
func ApplyChecklistToggle(state StateMap, phaseID, label string, isDone bool) StateMap {
	out := state.Clone()
	s := out.Get(phaseID)
	s.Checklist[label] = isDone
	out[phaseID] = s
	return out
}

// ToggleChecklist applies the toggle plus the client business rule: ticking
// an item on a NOT_STARTED phase moves it to IN_PROGRESS and stamps
// started_at when unset. Unticking never reverts status or timestamps, and
// a full checklist never implies DONE. The bool reports a status change.
func ToggleChecklist(state StateMap, phaseID, label string, isDone bool, now time.Time) (StateMap, bool) {
	out := ApplyChecklistToggle(state, phaseID, label, isDone)
	s := out[phaseID]

	if !isDone || (s.Status != models.PhaseNotStarted && s.Status != "") {
		return out, false
	}

	s.Status = models.PhaseInProgress
	if s.StartedAt == nil {
		t := now
		s.StartedAt = &t
	}
	out[phaseID] = s
	return out, true
}

// StatusChange is an administrator's update of a phase's status. Nil
// timestamp fields mean "derive from the status"; ClearStartedAt and
// ClearCompletedAt null a timestamp explicitly.
type StatusChange struct {
	Status           *models.PhaseStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ClearStartedAt   bool
	ClearCompletedAt bool
}

// ApplyStatusChange returns a copy of state with change applied to phaseID.
//
// Moving to IN_PROGRESS stamps started_at when unset, DONE stamps
// completed_at, and NOT_STARTED clears both. Explicit timestamps in the
// change win over the derived ones.
func ApplyStatusChange(state StateMap, phaseID string, change StatusChange, now time.Time) (StateMap, error) {
	if change.Status != nil && !change.Status.IsValid() {
		return nil, apperrors.ErrInvalidStatus
	}

	out := state.Clone()
	s := out.Get(phaseID)

	if change.Status != nil {
		s.Status = *change.Status
		switch s.Status {
		case models.PhaseInProgress:
			if s.StartedAt == nil {
				t := now
				s.StartedAt = &t
			}
		case models.PhaseDone:
			t := now
			s.CompletedAt = &t
		case models.PhaseNotStarted:
			s.StartedAt = nil
			s.CompletedAt = nil
		}
	}

	if change.ClearStartedAt {
		s.StartedAt = nil
	} else if change.StartedAt != nil {
		t := *change.StartedAt
		s.StartedAt = &t
	}
	if change.ClearCompletedAt {
		s.CompletedAt = nil
	} else if change.CompletedAt != nil {
		t := *change.CompletedAt
		s.CompletedAt = &t
	}

	out[phaseID] = s
	return out, nil
}
