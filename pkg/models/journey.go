package models

import (
	"time"

	"github.com/google/uuid"
)

// JourneyStatus is the lifecycle status of a journey definition
type JourneyStatus string

const (
	JourneyStatusDraft     JourneyStatus = "draft"
	JourneyStatusActive    JourneyStatus = "active"
	JourneyStatusPaused    JourneyStatus = "paused"
	JourneyStatusCompleted JourneyStatus = "completed"
)

// JourneyType tags a journey with its business purpose
type JourneyType string

const (
	JourneyTypeOnboarding     JourneyType = "onboarding"
	JourneyTypeAdoption       JourneyType = "adoption"
	JourneyTypeRenewal        JourneyType = "renewal"
	JourneyTypeExpansion      JourneyType = "expansion"
	JourneyTypeRiskMitigation JourneyType = "risk_mitigation"
	JourneyTypeAdvocacy       JourneyType = "advocacy"
	JourneyTypeWinBack        JourneyType = "win_back"
	JourneyTypeCustom         JourneyType = "custom"
)

// Journey is a multi-step workflow definition applied to enrolled accounts.
type Journey struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description" db:"description"`
	Type        JourneyType   `json:"type" db:"type"`
	Status      JourneyStatus `json:"status" db:"status"`

	// ExitCriteria and GoalCriteria are serialized rule trees; nil when unset.
	ExitCriteria []byte `json:"exit_criteria,omitempty" db:"exit_criteria"`
	GoalCriteria []byte `json:"goal_criteria,omitempty" db:"goal_criteria"`

	TotalEnrolled  int `json:"total_enrolled" db:"total_enrolled"`
	ActiveEnrolled int `json:"active_enrolled" db:"active_enrolled"`
	CompletedCount int `json:"completed_count" db:"completed_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StepType is the closed set of journey step variants. The orchestrator
// matches these exhaustively; adding a variant is a compile-time change.
type StepType string

const (
	StepTypeWait            StepType = "wait"
	StepTypeCondition       StepType = "condition"
	StepTypeEmail           StepType = "email"
	StepTypeTask            StepType = "task"
	StepTypeWebhook         StepType = "webhook"
	StepTypeHumanTouchpoint StepType = "human_touchpoint"
	StepTypeUpdateField     StepType = "update_field"
	StepTypeTriggerPlaybook StepType = "trigger_playbook"
)

// Valid reports whether t is a known step type
func (t StepType) Valid() bool {
	switch t {
	case StepTypeWait, StepTypeCondition, StepTypeEmail, StepTypeTask,
		StepTypeWebhook, StepTypeHumanTouchpoint, StepTypeUpdateField,
		StepTypeTriggerPlaybook:
		return true
	}
	return false
}

// JourneyStep is one node in a journey. Condition steps carry explicit
// true/false successor references; every other type falls through to the
// next step by order index.
type JourneyStep struct {
	ID        uuid.UUID `json:"id" db:"id"`
	JourneyID uuid.UUID `json:"journey_id" db:"journey_id"`
	Order     int       `json:"order" db:"step_order"`
	Name      string    `json:"name" db:"name"`
	Type      StepType  `json:"type" db:"type"`

	// Config is type-specific configuration (template id, task title,
	// webhook url, field/value pair, playbook id...).
	Config map[string]any `json:"config" db:"-"`

	// WaitHours applies to wait steps only.
	WaitHours int `json:"wait_hours,omitempty" db:"wait_hours"`

	// Condition branching; condition steps only.
	ConditionRules  []byte     `json:"condition_rules,omitempty" db:"condition_rules"`
	TrueNextStepID  *uuid.UUID `json:"true_next_step_id,omitempty" db:"true_next_step_id"`
	FalseNextStepID *uuid.UUID `json:"false_next_step_id,omitempty" db:"false_next_step_id"`

	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EnrollmentStatus is the lifecycle status of one account's enrollment
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusPaused    EnrollmentStatus = "paused"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
)

// Terminal reports whether the enrollment can no longer progress
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusExited
}

// JourneyEnrollment tracks one account's progress through one journey.
type JourneyEnrollment struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	JourneyID uuid.UUID        `json:"journey_id" db:"journey_id"`
	AccountID uuid.UUID        `json:"account_id" db:"account_id"`
	Status    EnrollmentStatus `json:"status" db:"status"`

	CurrentStepID    *uuid.UUID `json:"current_step_id,omitempty" db:"current_step_id"`
	CurrentStepOrder int        `json:"current_step_order" db:"current_step_order"`
	StepsCompleted   int        `json:"steps_completed" db:"steps_completed"`
	StepsTotal       int        `json:"steps_total" db:"steps_total"`

	GoalAchieved   bool       `json:"goal_achieved" db:"goal_achieved"`
	GoalAchievedAt *time.Time `json:"goal_achieved_at,omitempty" db:"goal_achieved_at"`

	EnrolledAt  time.Time  `json:"enrolled_at" db:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ExitedAt    *time.Time `json:"exited_at,omitempty" db:"exited_at"`
	ExitReason  string     `json:"exit_reason,omitempty" db:"exit_reason"`

	EnrolledBy       string `json:"enrolled_by,omitempty" db:"enrolled_by"`
	EnrollmentReason string `json:"enrollment_reason,omitempty" db:"enrollment_reason"`

	// Lease fields enforce at-most-one in-flight progression per enrollment.
	LeaseToken *uuid.UUID `json:"-" db:"lease_token"`
	LeaseUntil *time.Time `json:"-" db:"lease_until"`
}

// ExecutionStatus is the state of a single step execution attempt
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
)

// JourneyStepExecution records one attempt to execute a step for an
// enrollment. A pending execution with a future ScheduledFor is the signal
// that the enrollment is not yet ready to advance.
type JourneyStepExecution struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	EnrollmentID uuid.UUID       `json:"enrollment_id" db:"enrollment_id"`
	StepID       uuid.UUID       `json:"step_id" db:"step_id"`
	Status       ExecutionStatus `json:"status" db:"status"`

	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`

	Outcome        string         `json:"outcome,omitempty" db:"outcome"`
	OutcomeDetails map[string]any `json:"outcome_details,omitempty" db:"-"`

	ConditionResult *bool `json:"condition_result,omitempty" db:"condition_result"`

	Attempts     int    `json:"attempts" db:"attempts"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
