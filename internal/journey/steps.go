package journey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldpulse/lifecycle/internal/rules"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// executeStep runs the enrollment's current step and advances past it when
// the step semantics allow. The switch over step types is exhaustive; an
// unknown type is a data corruption error, not a silent skip.
func (o *Orchestrator) executeStep(ctx context.Context, enrollment *models.JourneyEnrollment, step *models.JourneyStep) (progressOutcome, error) {
	switch step.Type {
	case models.StepTypeWait:
		return o.executeWait(ctx, enrollment, step)
	case models.StepTypeCondition:
		return o.executeCondition(ctx, enrollment, step)
	case models.StepTypeEmail, models.StepTypeTask, models.StepTypeWebhook,
		models.StepTypeHumanTouchpoint, models.StepTypeUpdateField,
		models.StepTypeTriggerPlaybook:
		return o.executeAction(ctx, enrollment, step)
	default:
		return progressNone, fmt.Errorf("enrollment %s: unknown step type %q", enrollment.ID, step.Type)
	}
}

// executeWait parks the enrollment behind a pending execution whose
// scheduled resume is the wait duration from now. Resumption is at least
// once, never early.
func (o *Orchestrator) executeWait(ctx context.Context, enrollment *models.JourneyEnrollment, step *models.JourneyStep) (progressOutcome, error) {
	now := o.clock.Now()
	resume := now.Add(time.Duration(step.WaitHours) * time.Hour)

	execution := &models.JourneyStepExecution{
		ID:           uuid.New(),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		Status:       models.ExecutionStatusPending,
		StartedAt:    &now,
		ScheduledFor: &resume,
		Attempts:     1,
		CreatedAt:    now,
	}
	if err := o.store.CreateExecution(ctx, execution); err != nil {
		return progressNone, fmt.Errorf("create wait execution: %w", err)
	}

	o.logger.Debug().
		Str("enrollment_id", enrollment.ID.String()).
		Int("wait_hours", step.WaitHours).
		Time("resume_at", resume).
		Msg("enrollment waiting")
	return progressNone, nil
}

// executeCondition evaluates the step's rule tree against the account and
// branches on the result. An absent branch reference ends the journey on
// that branch.
func (o *Orchestrator) executeCondition(ctx context.Context, enrollment *models.JourneyEnrollment, step *models.JourneyStep) (progressOutcome, error) {
	tree, err := rules.Parse(step.ConditionRules)
	if err != nil {
		return progressNone, fmt.Errorf("parse condition rules: %w", err)
	}

	matched := false
	if tree != nil {
		matched, err = o.evaluator.EvaluateAccount(ctx, tree, enrollment.AccountID)
		if err != nil {
			return progressNone, fmt.Errorf("evaluate condition: %w", err)
		}
	}

	now := o.clock.Now()
	result := matched
	execution := &models.JourneyStepExecution{
		ID:              uuid.New(),
		EnrollmentID:    enrollment.ID,
		StepID:          step.ID,
		Status:          models.ExecutionStatusCompleted,
		StartedAt:       &now,
		CompletedAt:     &now,
		Outcome:         "condition_evaluated",
		ConditionResult: &result,
		Attempts:        1,
		CreatedAt:       now,
	}
	if err := o.store.CreateExecution(ctx, execution); err != nil {
		return progressNone, fmt.Errorf("create condition execution: %w", err)
	}

	branch := step.FalseNextStepID
	if matched {
		branch = step.TrueNextStepID
	}
	var next *models.JourneyStep
	if branch != nil {
		next, err = o.store.GetStep(ctx, *branch)
		if err != nil {
			return progressNone, err
		}
	}
	return o.advance(ctx, enrollment, step, next)
}

// executeAction hands the step to the dispatch collaborator and records
// the returned outcome token. A failed dispatch leaves a failed execution
// and the enrollment parked at the current step; re-drive policy belongs
// to the scheduler.
func (o *Orchestrator) executeAction(ctx context.Context, enrollment *models.JourneyEnrollment, step *models.JourneyStep) (progressOutcome, error) {
	now := o.clock.Now()
	request := models.ActionRequest{
		ID:           uuid.New(),
		Type:         step.Type,
		Config:       step.Config,
		EnrollmentID: enrollment.ID,
		AccountID:    enrollment.AccountID,
		RequestedAt:  now,
	}

	// A re-drive of a step that already failed carries the attempt count
	// forward so the audit trail shows how often the action was tried.
	attempts := 1
	latest, err := o.store.LatestExecution(ctx, enrollment.ID)
	if err != nil {
		return progressNone, err
	}
	if latest != nil && latest.StepID == step.ID && latest.Status == models.ExecutionStatusFailed {
		attempts = latest.Attempts + 1
	}

	execution := &models.JourneyStepExecution{
		ID:           uuid.New(),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		Status:       models.ExecutionStatusInProgress,
		StartedAt:    &now,
		Attempts:     attempts,
		CreatedAt:    now,
	}

	outcome, dispatchErr := o.dispatcher.Dispatch(ctx, request)
	if dispatchErr != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.Outcome = outcome.Status
		execution.ErrorMessage = dispatchErr.Error()
		if err := o.store.CreateExecution(ctx, execution); err != nil {
			return progressNone, fmt.Errorf("record failed execution: %w", err)
		}
		return progressNone, dispatchErr
	}

	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now
	execution.Outcome = outcome.Status
	execution.OutcomeDetails = outcome.Detail
	if err := o.store.CreateExecution(ctx, execution); err != nil {
		return progressNone, fmt.Errorf("record execution: %w", err)
	}

	next, err := o.nextByOrder(ctx, enrollment.JourneyID, step.Order)
	if err != nil {
		return progressNone, err
	}
	return o.advance(ctx, enrollment, step, next)
}
