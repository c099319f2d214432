// Package phases holds the delivery phase templates for each kit and the
// progress engine that merges them with a project's persisted state.
//
// Everything in this package is pure: no I/O, no package level mutable
// state. Callers own persistence and serialise writes to it.
package phases

import (
	"fmt"

	"github.com/klarnow/tracker/common/models"
)

// Link is a labelled URL shown under a phase
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// PhaseTemplate is the immutable definition of one delivery phase
type PhaseTemplate struct {
	PhaseID     string   `json:"phase_id"`
	PhaseNumber int      `json:"phase_number"`
	Title       string   `json:"title"`
	Subtitle    *string  `json:"subtitle"`
	DayRange    string   `json:"day_range"`
	Checklist   []string `json:"checklist"`
	Links       []Link   `json:"links"`
}

// HasLabel reports whether label is one of the phase's checklist items
func (t PhaseTemplate) HasLabel(label string) bool {
	for _, l := range t.Checklist {
		if l == label {
			return true
		}
	}
	return false
}

func (t PhaseTemplate) clone() PhaseTemplate {
	out := t
	if t.Subtitle != nil {
		s := *t.Subtitle
		out.Subtitle = &s
	}
	out.Checklist = make([]string, len(t.Checklist))
	copy(out.Checklist, t.Checklist)
	out.Links = make([]Link, len(t.Links))
	copy(out.Links, t.Links)
	return out
}

// Registry supplies the ordered phase templates for each kit type.
// A Registry is immutable once built; it is safe for concurrent use.
type Registry struct {
	kits map[models.KitType][]PhaseTemplate
}

// NewRegistry validates and copies the given template sequences.
//
// Each sequence must have unique phase ids, phase numbers 1..n in order,
// and unique labels within each phase.
func NewRegistry(kits map[models.KitType][]PhaseTemplate) (*Registry, error) {
	r := &Registry{kits: make(map[models.KitType][]PhaseTemplate, len(kits))}
	for kit, templates := range kits {
		if !kit.IsValid() {
			return nil, fmt.Errorf("unknown kit type %q", kit)
		}
		if err := validateSequence(templates); err != nil {
			return nil, fmt.Errorf("kit %s: %w", kit, err)
		}
		copied := make([]PhaseTemplate, len(templates))
		for i, t := range templates {
			copied[i] = t.clone()
		}
		r.kits[kit] = copied
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry but panics on invalid templates
func MustNewRegistry(kits map[models.KitType][]PhaseTemplate) *Registry {
	r, err := NewRegistry(kits)
	if err != nil {
		panic(err)
	}
	return r
}

func validateSequence(templates []PhaseTemplate) error {
	seen := make(map[string]struct{}, len(templates))
	for i, t := range templates {
		if t.PhaseID == "" {
			return fmt.Errorf("phase %d has an empty phase_id", i+1)
		}
		if _, dup := seen[t.PhaseID]; dup {
			return fmt.Errorf("duplicate phase_id %q", t.PhaseID)
		}
		seen[t.PhaseID] = struct{}{}

		if t.PhaseNumber != i+1 {
			return fmt.Errorf("phase %q has phase_number %d, want %d", t.PhaseID, t.PhaseNumber, i+1)
		}

		labels := make(map[string]struct{}, len(t.Checklist))
		for _, l := range t.Checklist {
			if _, dup := labels[l]; dup {
				return fmt.Errorf("phase %q has duplicate checklist label %q", t.PhaseID, l)
			}
			labels[l] = struct{}{}
		}
	}
	return nil
}

// Templates returns the ordered templates for kit. Unknown kits yield an
// empty sequence; kit types are validated before they reach the engine.
func (r *Registry) Templates(kit models.KitType) []PhaseTemplate {
	src := r.kits[kit]
	out := make([]PhaseTemplate, len(src))
	for i, t := range src {
		out[i] = t.clone()
	}
	return out
}

// Template looks up a single phase template by id
func (r *Registry) Template(kit models.KitType, phaseID string) (PhaseTemplate, bool) {
	for _, t := range r.kits[kit] {
		if t.PhaseID == phaseID {
			return t.clone(), true
		}
	}
	return PhaseTemplate{}, false
}

// ValidatePhaseID reports whether phaseID belongs to kit's template
func (r *Registry) ValidatePhaseID(kit models.KitType, phaseID string) bool {
	_, ok := r.Template(kit, phaseID)
	return ok
}

// ValidateChecklistLabel reports whether label is a checklist item of the
// phase phaseID in kit's template. Labels of other phases do not count.
func (r *Registry) ValidateChecklistLabel(kit models.KitType, phaseID, label string) bool {
	for _, t := range r.kits[kit] {
		if t.PhaseID == phaseID {
			return t.HasLabel(label)
		}
	}
	return false
}
