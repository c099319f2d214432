package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klarnow/tracker/common/models"
)

// Project is one client's delivery project for one kit
type Project struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	UserID             uuid.UUID      `json:"user_id" db:"user_id"`
	Email              string         `json:"email" db:"email"`
	Name               *string        `json:"name" db:"name"`
	KitType            models.KitType `json:"kit_type" db:"kit_type"`
	OnboardingPercent  int            `json:"onboarding_percent" db:"onboarding_percent"`
	OnboardingFinished bool           `json:"onboarding_finished" db:"onboarding_finished"`
	CurrentDayOf14     *int           `json:"current_day_of_14" db:"current_day_of_14"`
	NextFromUs         *string        `json:"next_from_us" db:"next_from_us"`
	NextFromYou        *string        `json:"next_from_you" db:"next_from_you"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// NewProject creates an unfinished project for a user and kit
func NewProject(userID uuid.UUID, email string, kit models.KitType) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		KitType:   kit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOwner checks if a user owns the project
func (p *Project) IsOwner(userID uuid.UUID) bool {
	return p.UserID == userID
}

// DisplayName returns the client name, falling back to the e-mail local part
func (p *Project) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	if at := strings.IndexByte(p.Email, '@'); at > 0 {
		return p.Email[:at]
	}
	return p.Email
}

// ProjectUpdate carries the admin editable project fields. Nil fields are
// left unchanged; the Clear flags null a field explicitly.
type ProjectUpdate struct {
	CurrentDayOf14   *int
	NextFromUs       *string
	NextFromYou      *string
	ClearCurrentDay  bool
	ClearNextFromUs  bool
	ClearNextFromYou bool
}

// Apply writes the update onto p
func (u ProjectUpdate) Apply(p *Project) {
	switch {
	case u.ClearCurrentDay:
		p.CurrentDayOf14 = nil
	case u.CurrentDayOf14 != nil:
		d := *u.CurrentDayOf14
		p.CurrentDayOf14 = &d
	}
	switch {
	case u.ClearNextFromUs:
		p.NextFromUs = nil
	case u.NextFromUs != nil:
		s := *u.NextFromUs
		p.NextFromUs = &s
	}
	switch {
	case u.ClearNextFromYou:
		p.NextFromYou = nil
	case u.NextFromYou != nil:
		s := *u.NextFromYou
		p.NextFromYou = &s
	}
}

// ProjectFilter narrows the admin client listing
type ProjectFilter struct {
	KitType            *models.KitType
	OnboardingFinished *bool
	Limit              int
	Offset             int
}

// ClientSummary is one row of the admin client listing
type ClientSummary struct {
	Project
	OverallProgress int     `json:"overall_progress"`
	CurrentPhaseID  *string `json:"current_phase_id"`
}
