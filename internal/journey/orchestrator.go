// Package journey runs multi-step customer journeys: it enrolls accounts,
// advances enrollments step by step on scheduler ticks, evaluates condition
// branches and exit/goal criteria, and hands action steps to dispatch
// collaborators. Progression is serialized per enrollment with a lease so
// overlapping ticks never double-advance the same enrollment.
package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/clock"
	"github.com/fieldpulse/lifecycle/internal/dispatch"
	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/internal/rules"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

var (
	// ErrJourneyNotActive is returned when enrolling into a draft, paused
	// or completed journey.
	ErrJourneyNotActive = errors.New("journey is not active")
	// ErrAlreadyEnrolled is returned when the account already has an
	// active enrollment in the journey.
	ErrAlreadyEnrolled = errors.New("account already has an active enrollment")
	// ErrEnrollmentNotActive is returned by progression calls on paused or
	// terminal enrollments.
	ErrEnrollmentNotActive = errors.New("enrollment is not active")
)

// Store persists journeys, steps, enrollments and step executions. Lease
// acquisition must be atomic: AcquireLease succeeds only if no unexpired
// lease is held by another token.
type Store interface {
	GetJourney(ctx context.Context, id uuid.UUID) (*models.Journey, error)
	UpdateJourney(ctx context.Context, journey *models.Journey) error
	ListSteps(ctx context.Context, journeyID uuid.UUID) ([]*models.JourneyStep, error)
	GetStep(ctx context.Context, id uuid.UUID) (*models.JourneyStep, error)

	CreateEnrollment(ctx context.Context, enrollment *models.JourneyEnrollment) error
	GetEnrollment(ctx context.Context, id uuid.UUID) (*models.JourneyEnrollment, error)
	GetActiveEnrollment(ctx context.Context, journeyID, accountID uuid.UUID) (*models.JourneyEnrollment, error)
	ListActiveEnrollments(ctx context.Context) ([]*models.JourneyEnrollment, error)
	ListActiveEnrollmentsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.JourneyEnrollment, error)
	UpdateEnrollment(ctx context.Context, enrollment *models.JourneyEnrollment) error

	LatestExecution(ctx context.Context, enrollmentID uuid.UUID) (*models.JourneyStepExecution, error)
	CreateExecution(ctx context.Context, execution *models.JourneyStepExecution) error
	UpdateExecution(ctx context.Context, execution *models.JourneyStepExecution) error

	AcquireLease(ctx context.Context, enrollmentID, token uuid.UUID, until, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, enrollmentID, token uuid.UUID) error
}

// EnrollmentError pairs a failed enrollment with its error inside a tick
type EnrollmentError struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	Err          error     `json:"-"`
	Message      string    `json:"error"`
}

// TickResult summarizes one processEnrollments pass
type TickResult struct {
	Processed int               `json:"processed"`
	Advanced  int               `json:"advanced"`
	Completed int               `json:"completed"`
	Errors    []EnrollmentError `json:"errors,omitempty"`
}

// Orchestrator drives enrollments through journey steps
type Orchestrator struct {
	store      Store
	accounts   rules.AccountSource
	evaluator  *rules.Evaluator
	dispatcher dispatch.Dispatcher
	publisher  events.Publisher
	clock      clock.Clock
	leaseTTL   time.Duration
	logger     zerolog.Logger
}

// NewOrchestrator creates an orchestrator over the given collaborators
func NewOrchestrator(store Store, accounts rules.AccountSource, health rules.HealthSource, dispatcher dispatch.Dispatcher, publisher events.Publisher, clk clock.Clock, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		accounts:   accounts,
		evaluator:  rules.NewEvaluator(accounts, health),
		dispatcher: dispatcher,
		publisher:  publisher,
		clock:      clk,
		leaseTTL:   5 * time.Minute,
		logger:     logger.With().Str("component", "journey").Logger(),
	}
}

// ProcessEnrollments is the per-tick pass: every active, ready enrollment
// is advanced by one step under a per-enrollment lease. Errors on one
// enrollment are collected and never abort the batch.
func (o *Orchestrator) ProcessEnrollments(ctx context.Context) (*TickResult, error) {
	enrollments, err := o.store.ListActiveEnrollments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active enrollments: %w", err)
	}

	result := &TickResult{}
	for _, enrollment := range enrollments {
		ready, err := o.ready(ctx, enrollment)
		if err != nil {
			result.Errors = append(result.Errors, EnrollmentError{
				EnrollmentID: enrollment.ID, Err: err, Message: err.Error(),
			})
			continue
		}
		if !ready {
			continue
		}

		outcome, err := o.withLease(ctx, enrollment, func() (progressOutcome, error) {
			return o.progress(ctx, enrollment)
		})
		if err != nil {
			result.Errors = append(result.Errors, EnrollmentError{
				EnrollmentID: enrollment.ID, Err: err, Message: err.Error(),
			})
			continue
		}

		result.Processed++
		switch outcome {
		case progressAdvanced:
			result.Advanced++
		case progressCompleted:
			result.Completed++
		}
	}

	if len(result.Errors) > 0 {
		o.logger.Warn().Int("errors", len(result.Errors)).Msg("tick finished with enrollment errors")
	}
	return result, nil
}

// AdvanceEnrollment manually progresses one enrollment by a single step.
// It bypasses the readiness wait (a pending wait is treated as elapsed)
// but still respects step semantics and the per-enrollment lease.
func (o *Orchestrator) AdvanceEnrollment(ctx context.Context, enrollmentID uuid.UUID) error {
	enrollment, err := o.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return ErrEnrollmentNotActive
	}

	_, err = o.withLease(ctx, enrollment, func() (progressOutcome, error) {
		return o.progress(ctx, enrollment)
	})
	return err
}

// CheckExitCriteria evaluates the journey's exit rule tree against the
// enrollment's account and exits the enrollment on a match. It reports
// whether the criteria matched.
func (o *Orchestrator) CheckExitCriteria(ctx context.Context, enrollmentID uuid.UUID) (bool, error) {
	enrollment, err := o.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	if enrollment.Status.Terminal() {
		return false, nil
	}

	journey, err := o.store.GetJourney(ctx, enrollment.JourneyID)
	if err != nil {
		return false, err
	}
	tree, err := rules.Parse(journey.ExitCriteria)
	if err != nil {
		return false, fmt.Errorf("parse exit criteria: %w", err)
	}
	if tree == nil {
		return false, nil
	}

	matched, err := o.evaluator.EvaluateAccount(ctx, tree, enrollment.AccountID)
	if err != nil || !matched {
		return false, err
	}

	if err := o.exitEnrollment(ctx, journey, enrollment, "exit_criteria_met"); err != nil {
		return false, err
	}
	return true, nil
}

// CheckGoalAchieved evaluates the journey's goal rule tree and, on the
// first match, persists the achieved flag and timestamp. Subsequent calls
// keep reporting true without rewriting.
func (o *Orchestrator) CheckGoalAchieved(ctx context.Context, enrollmentID uuid.UUID) (bool, error) {
	enrollment, err := o.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	if enrollment.GoalAchieved {
		return true, nil
	}

	journey, err := o.store.GetJourney(ctx, enrollment.JourneyID)
	if err != nil {
		return false, err
	}
	tree, err := rules.Parse(journey.GoalCriteria)
	if err != nil {
		return false, fmt.Errorf("parse goal criteria: %w", err)
	}
	if tree == nil {
		return false, nil
	}

	matched, err := o.evaluator.EvaluateAccount(ctx, tree, enrollment.AccountID)
	if err != nil || !matched {
		return false, err
	}

	now := o.clock.Now()
	enrollment.GoalAchieved = true
	enrollment.GoalAchievedAt = &now
	if err := o.store.UpdateEnrollment(ctx, enrollment); err != nil {
		return false, fmt.Errorf("persist goal achievement: %w", err)
	}
	o.publishJourneyEvent(ctx, models.EventTypeJourneyGoalReached, journey.ID, enrollment, nil, "")
	return true, nil
}

// ready reports whether an enrollment can progress this tick: it must be
// active and either have no pending execution or have one whose scheduled
// resume time has elapsed.
func (o *Orchestrator) ready(ctx context.Context, enrollment *models.JourneyEnrollment) (bool, error) {
	if enrollment.Status != models.EnrollmentStatusActive {
		return false, nil
	}
	latest, err := o.store.LatestExecution(ctx, enrollment.ID)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.Status != models.ExecutionStatusPending {
		return true, nil
	}
	if latest.ScheduledFor == nil {
		return true, nil
	}
	return !latest.ScheduledFor.After(o.clock.Now()), nil
}

type progressOutcome int

const (
	progressNone progressOutcome = iota
	progressAdvanced
	progressCompleted
)

// withLease claims the enrollment, runs fn, and releases the claim. A held
// lease means another worker is progressing this enrollment; the call is
// silently skipped.
func (o *Orchestrator) withLease(ctx context.Context, enrollment *models.JourneyEnrollment, fn func() (progressOutcome, error)) (progressOutcome, error) {
	now := o.clock.Now()
	token := uuid.New()
	acquired, err := o.store.AcquireLease(ctx, enrollment.ID, token, now.Add(o.leaseTTL), now)
	if err != nil {
		return progressNone, fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		return progressNone, nil
	}
	defer func() {
		if err := o.store.ReleaseLease(ctx, enrollment.ID, token); err != nil {
			o.logger.Error().Err(err).Str("enrollment_id", enrollment.ID.String()).Msg("lease release failed")
		}
	}()
	return fn()
}

// progress advances one enrollment by one step. A due pending execution is
// closed out first; otherwise the current step is executed.
func (o *Orchestrator) progress(ctx context.Context, enrollment *models.JourneyEnrollment) (progressOutcome, error) {
	now := o.clock.Now()

	latest, err := o.store.LatestExecution(ctx, enrollment.ID)
	if err != nil {
		return progressNone, err
	}
	if latest != nil && latest.Status == models.ExecutionStatusPending {
		// A wait step whose timer elapsed: close the execution and move
		// past the wait.
		latest.Status = models.ExecutionStatusCompleted
		latest.CompletedAt = &now
		latest.Outcome = "wait_elapsed"
		if err := o.store.UpdateExecution(ctx, latest); err != nil {
			return progressNone, fmt.Errorf("complete wait execution: %w", err)
		}
		step, err := o.store.GetStep(ctx, latest.StepID)
		if err != nil {
			return progressNone, err
		}
		next, err := o.nextByOrder(ctx, enrollment.JourneyID, step.Order)
		if err != nil {
			return progressNone, err
		}
		return o.advance(ctx, enrollment, step, next)
	}

	if enrollment.CurrentStepID == nil {
		first, err := o.firstStep(ctx, enrollment.JourneyID)
		if err != nil {
			return progressNone, err
		}
		if first == nil {
			return o.completeEnrollment(ctx, enrollment)
		}
		enrollment.CurrentStepID = &first.ID
		enrollment.CurrentStepOrder = first.Order
	}

	step, err := o.store.GetStep(ctx, *enrollment.CurrentStepID)
	if err != nil {
		return progressNone, err
	}
	return o.executeStep(ctx, enrollment, step)
}

// advance records one completed step and either moves the enrollment to
// next or completes the journey when no next step exists.
func (o *Orchestrator) advance(ctx context.Context, enrollment *models.JourneyEnrollment, executed *models.JourneyStep, next *models.JourneyStep) (progressOutcome, error) {
	enrollment.StepsCompleted++

	if next == nil {
		return o.completeEnrollment(ctx, enrollment)
	}

	enrollment.CurrentStepID = &next.ID
	enrollment.CurrentStepOrder = next.Order
	if err := o.store.UpdateEnrollment(ctx, enrollment); err != nil {
		return progressNone, fmt.Errorf("advance enrollment: %w", err)
	}

	o.publishJourneyEvent(ctx, models.EventTypeJourneyStepRun, enrollment.JourneyID, enrollment, &executed.ID, string(executed.Type))
	return progressAdvanced, nil
}

func (o *Orchestrator) completeEnrollment(ctx context.Context, enrollment *models.JourneyEnrollment) (progressOutcome, error) {
	now := o.clock.Now()
	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &now
	enrollment.CurrentStepID = nil
	if err := o.store.UpdateEnrollment(ctx, enrollment); err != nil {
		return progressNone, fmt.Errorf("complete enrollment: %w", err)
	}

	journey, err := o.store.GetJourney(ctx, enrollment.JourneyID)
	if err != nil {
		return progressNone, err
	}
	journey.ActiveEnrolled--
	if journey.ActiveEnrolled < 0 {
		journey.ActiveEnrolled = 0
	}
	journey.CompletedCount++
	if err := o.store.UpdateJourney(ctx, journey); err != nil {
		return progressNone, fmt.Errorf("update journey counters: %w", err)
	}

	o.publishJourneyEvent(ctx, models.EventTypeJourneyCompleted, journey.ID, enrollment, nil, "")
	o.logger.Info().
		Str("enrollment_id", enrollment.ID.String()).
		Str("journey_id", journey.ID.String()).
		Int("steps_completed", enrollment.StepsCompleted).
		Msg("enrollment completed")
	return progressCompleted, nil
}

func (o *Orchestrator) exitEnrollment(ctx context.Context, journey *models.Journey, enrollment *models.JourneyEnrollment, reason string) error {
	now := o.clock.Now()
	enrollment.Status = models.EnrollmentStatusExited
	enrollment.ExitedAt = &now
	enrollment.ExitReason = reason
	if err := o.store.UpdateEnrollment(ctx, enrollment); err != nil {
		return fmt.Errorf("exit enrollment: %w", err)
	}

	journey.ActiveEnrolled--
	if journey.ActiveEnrolled < 0 {
		journey.ActiveEnrolled = 0
	}
	if err := o.store.UpdateJourney(ctx, journey); err != nil {
		return fmt.Errorf("update journey counters: %w", err)
	}

	o.publishJourneyEvent(ctx, models.EventTypeJourneyExited, journey.ID, enrollment, nil, reason)
	return nil
}

// firstStep returns the lowest-ordered active step, or nil for an empty
// journey.
func (o *Orchestrator) firstStep(ctx context.Context, journeyID uuid.UUID) (*models.JourneyStep, error) {
	steps, err := o.store.ListSteps(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	var first *models.JourneyStep
	for _, step := range steps {
		if !step.IsActive {
			continue
		}
		if first == nil || step.Order < first.Order {
			first = step
		}
	}
	return first, nil
}

// nextByOrder returns the lowest-ordered active step strictly after order,
// or nil when the journey has no further steps.
func (o *Orchestrator) nextByOrder(ctx context.Context, journeyID uuid.UUID, order int) (*models.JourneyStep, error) {
	steps, err := o.store.ListSteps(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	var next *models.JourneyStep
	for _, step := range steps {
		if !step.IsActive || step.Order <= order {
			continue
		}
		if next == nil || step.Order < next.Order {
			next = step
		}
	}
	return next, nil
}

func (o *Orchestrator) publishJourneyEvent(ctx context.Context, eventType models.EventType, journeyID uuid.UUID, enrollment *models.JourneyEnrollment, stepID *uuid.UUID, detail string) {
	event := models.JourneyEvent{
		BaseEvent: models.BaseEvent{
			ID:        uuid.NewString(),
			Type:      eventType,
			Timestamp: o.clock.Now(),
			Source:    "journey-orchestrator",
			AccountID: enrollment.AccountID,
		},
		JourneyID:    journeyID,
		EnrollmentID: enrollment.ID,
		StepID:       stepID,
		Detail:       detail,
	}
	if stepID != nil {
		event.StepType = detail
		event.Detail = ""
	}
	if err := o.publisher.Publish(ctx, events.TopicJourneyEvents, enrollment.AccountID.String(), event); err != nil {
		o.logger.Error().Err(err).
			Str("enrollment_id", enrollment.ID.String()).
			Str("event_type", string(eventType)).
			Msg("journey event publish failed")
	}
}
