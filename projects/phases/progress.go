package phases

import (
	"math"

	"github.com/klarnow/tracker/common/models"
)

// TotalDays is the length of a kit's delivery timeline
const TotalDays = 14

// ChecklistCompletion summarises one phase's checklist
type ChecklistCompletion struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// OverallProgress counts phases per status
type OverallProgress struct {
	TotalPhases            int `json:"total_phases"`
	CompletedPhases        int `json:"completed_phases"`
	InProgressPhases       int `json:"in_progress_phases"`
	WaitingOnClientPhases  int `json:"waiting_on_client_phases"`
	NotStartedPhases       int `json:"not_started_phases"`
	PhaseCompletionPercent int `json:"phase_completion_percent"`
}

// ChecklistProgress summarises checklist items across all phases
type ChecklistProgress struct {
	TotalItems        int     `json:"total_items"`
	CompletedItems    int     `json:"completed_items"`
	RemainingItems    int     `json:"remaining_items"`
	CompletionPercent float64 `json:"completion_percent"`
}

// TimelineProgress places a project on its 14 day timeline
type TimelineProgress struct {
	CurrentDay      int     `json:"current_day"`
	TotalDays       int     `json:"total_days"`
	DaysRemaining   int     `json:"days_remaining"`
	PercentComplete float64 `json:"percent_complete"`
}

// roundHalfUp rounds to the nearest integer, halves towards +Inf
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// percentOneDecimal returns part/whole as a percentage with one decimal,
// or 0 when whole is 0.
func percentOneDecimal(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return roundHalfUp(float64(part)/float64(whole)*1000) / 10
}

// Completion counts the done items of a merged phase
func Completion(p MergedPhase) ChecklistCompletion {
	done := 0
	for _, item := range p.Checklist {
		if item.IsDone {
			done++
		}
	}
	return ChecklistCompletion{
		Completed: done,
		Total:     len(p.Checklist),
		Percent:   percentOneDecimal(done, len(p.Checklist)),
	}
}

// Overall counts merged phases by status
func Overall(merged []MergedPhase) OverallProgress {
	out := OverallProgress{TotalPhases: len(merged)}
	for _, p := range merged {
		switch p.Status {
		case models.PhaseDone:
			out.CompletedPhases++
		case models.PhaseInProgress:
			out.InProgressPhases++
		case models.PhaseWaitingOnClient:
			out.WaitingOnClientPhases++
		default:
			out.NotStartedPhases++
		}
	}
	if out.TotalPhases > 0 {
		out.PhaseCompletionPercent = int(roundHalfUp(100 * float64(out.CompletedPhases) / float64(out.TotalPhases)))
	}
	return out
}

// ChecklistTotals sums checklist items over every merged phase
func ChecklistTotals(merged []MergedPhase) ChecklistProgress {
	var out ChecklistProgress
	for _, p := range merged {
		c := Completion(p)
		out.TotalItems += c.Total
		out.CompletedItems += c.Completed
	}
	out.RemainingItems = out.TotalItems - out.CompletedItems
	out.CompletionPercent = percentOneDecimal(out.CompletedItems, out.TotalItems)
	return out
}

// CurrentPhase picks the phase a client should land on: the first
// IN_PROGRESS phase, else the first WAITING_ON_CLIENT phase, else the
// highest numbered DONE phase, else the first phase. It returns nil only
// for an empty sequence.
func CurrentPhase(merged []MergedPhase) *MergedPhase {
	if len(merged) == 0 {
		return nil
	}
	for i := range merged {
		if merged[i].Status == models.PhaseInProgress {
			return &merged[i]
		}
	}
	for i := range merged {
		if merged[i].Status == models.PhaseWaitingOnClient {
			return &merged[i]
		}
	}
	var latestDone *MergedPhase
	for i := range merged {
		if merged[i].Status != models.PhaseDone {
			continue
		}
		if latestDone == nil || merged[i].PhaseNumber > latestDone.PhaseNumber {
			latestDone = &merged[i]
		}
	}
	if latestDone != nil {
		return latestDone
	}
	return &merged[0]
}

// Timeline computes timeline progress from the admin-maintained current
// day. A nil day counts as day 0.
func Timeline(currentDay *int) TimelineProgress {
	day := 0
	if currentDay != nil {
		day = *currentDay
	}
	remaining := TotalDays - day
	if remaining < 0 {
		remaining = 0
	}
	return TimelineProgress{
		CurrentDay:      day,
		TotalDays:       TotalDays,
		DaysRemaining:   remaining,
		PercentComplete: percentOneDecimal(day, TotalDays),
	}
}
