package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies lifecycle events published to the event bus
type EventType string

const (
	EventTypeHealthScoreChanged EventType = "health.score_changed"
	EventTypeSegmentJoined      EventType = "segment.joined"
	EventTypeSegmentExited      EventType = "segment.exited"
	EventTypeJourneyEnrolled    EventType = "journey.enrolled"
	EventTypeJourneyStepRun     EventType = "journey.step_executed"
	EventTypeJourneyCompleted   EventType = "journey.completed"
	EventTypeJourneyExited      EventType = "journey.exited"
	EventTypeJourneyGoalReached EventType = "journey.goal_achieved"

	// EventTypeTouchpointRecorded is consumed, not published: outside
	// systems announce new account activity with it.
	EventTypeTouchpointRecorded EventType = "activity.touchpoint_recorded"
)

// BaseEvent is the envelope for all published lifecycle events
type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	AccountID uuid.UUID      `json:"account_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HealthScoreChangedEvent is published when a recalculation moves the
// overall score
type HealthScoreChangedEvent struct {
	BaseEvent
	OldScore  int          `json:"old_score"`
	NewScore  int          `json:"new_score"`
	OldStatus HealthStatus `json:"old_status,omitempty"`
	NewStatus HealthStatus `json:"new_status"`
}

// SegmentMembershipEvent is published for each membership join or exit
type SegmentMembershipEvent struct {
	BaseEvent
	SegmentID   uuid.UUID `json:"segment_id"`
	SegmentName string    `json:"segment_name"`
	Reason      string    `json:"reason"`
}

// JourneyEvent is published for enrollment lifecycle transitions
type JourneyEvent struct {
	BaseEvent
	JourneyID    uuid.UUID `json:"journey_id"`
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	StepID       *uuid.UUID `json:"step_id,omitempty"`
	StepType     string    `json:"step_type,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// ActionRequest is the structured request handed to action dispatch
// collaborators for non-wait, non-condition journey steps.
type ActionRequest struct {
	ID           uuid.UUID      `json:"id"`
	Type         StepType       `json:"type"`
	Config       map[string]any `json:"config"`
	EnrollmentID uuid.UUID      `json:"enrollment_id"`
	AccountID    uuid.UUID      `json:"account_id"`
	RequestedAt  time.Time      `json:"requested_at"`
}

// ActionOutcome is the token a dispatcher returns; the step execution
// record stores it. Completion of the external action is the dispatching
// collaborator's problem.
type ActionOutcome struct {
	RequestID uuid.UUID      `json:"request_id"`
	Status    string         `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
}
