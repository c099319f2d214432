package models

import "strings"

// KitType represents the product tier a client bought
type KitType string

const (
	KitLaunch KitType = "LAUNCH"
	KitGrowth KitType = "GROWTH"
)

// IsValid checks if the kit type is valid
func (k KitType) IsValid() bool {
	switch k {
	case KitLaunch, KitGrowth:
		return true
	}
	return false
}

// ParseKitType normalises user input ("launch", " Growth ") into a KitType.
// The second return value is false when the input names no known kit.
func ParseKitType(s string) (KitType, bool) {
	k := KitType(strings.ToUpper(strings.TrimSpace(s)))
	return k, k.IsValid()
}

// AllKitTypes returns every kit in display order
func AllKitTypes() []KitType {
	return []KitType{KitLaunch, KitGrowth}
}

// PhaseStatus represents the delivery status of a phase
type PhaseStatus string

const (
	PhaseNotStarted      PhaseStatus = "NOT_STARTED"
	PhaseInProgress      PhaseStatus = "IN_PROGRESS"
	PhaseWaitingOnClient PhaseStatus = "WAITING_ON_CLIENT"
	PhaseDone            PhaseStatus = "DONE"
)

// IsValid checks if the phase status is valid
func (s PhaseStatus) IsValid() bool {
	switch s {
	case PhaseNotStarted, PhaseInProgress, PhaseWaitingOnClient, PhaseDone:
		return true
	}
	return false
}

// AllPhaseStatuses returns the four legal phase statuses
func AllPhaseStatuses() []PhaseStatus {
	return []PhaseStatus{PhaseNotStarted, PhaseInProgress, PhaseWaitingOnClient, PhaseDone}
}

// StepStatus represents the status of an onboarding step
type StepStatus string

const (
	StepNotStarted StepStatus = "NOT_STARTED"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepDone       StepStatus = "DONE"
)

// IsValid checks if the step status is valid
func (s StepStatus) IsValid() bool {
	switch s {
	case StepNotStarted, StepInProgress, StepDone:
		return true
	}
	return false
}

// Role represents the caller's role, carried in the access token
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleAdmin:
		return true
	}
	return false
}
