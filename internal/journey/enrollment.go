package journey

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

// Enroll puts an account into an active journey at its first step. The
// journey must be active, the account must exist, and the account must not
// already hold an active enrollment in this journey.
func (o *Orchestrator) Enroll(ctx context.Context, journeyID, accountID uuid.UUID, enrolledBy, reason string) (*models.JourneyEnrollment, error) {
	journey, err := o.store.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if journey.Status != models.JourneyStatusActive {
		return nil, ErrJourneyNotActive
	}

	if _, err := o.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	existing, err := o.store.GetActiveEnrollment(ctx, journeyID, accountID)
	if err != nil {
		return nil, fmt.Errorf("check existing enrollment: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyEnrolled
	}

	steps, err := o.store.ListSteps(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("list journey steps: %w", err)
	}
	var first *models.JourneyStep
	total := 0
	for _, step := range steps {
		if !step.IsActive {
			continue
		}
		total++
		if first == nil || step.Order < first.Order {
			first = step
		}
	}

	now := o.clock.Now()
	enrollment := &models.JourneyEnrollment{
		ID:               uuid.New(),
		JourneyID:        journeyID,
		AccountID:        accountID,
		Status:           models.EnrollmentStatusActive,
		StepsTotal:       total,
		EnrolledAt:       now,
		EnrolledBy:       enrolledBy,
		EnrollmentReason: reason,
	}
	if first != nil {
		enrollment.CurrentStepID = &first.ID
		enrollment.CurrentStepOrder = first.Order
	}

	if err := o.store.CreateEnrollment(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	journey.TotalEnrolled++
	journey.ActiveEnrolled++
	if err := o.store.UpdateJourney(ctx, journey); err != nil {
		return nil, fmt.Errorf("update journey counters: %w", err)
	}

	o.publishJourneyEvent(ctx, models.EventTypeJourneyEnrolled, journeyID, enrollment, nil, reason)
	o.logger.Info().
		Str("journey_id", journeyID.String()).
		Str("account_id", accountID.String()).
		Str("enrollment_id", enrollment.ID.String()).
		Msg("account enrolled")
	return enrollment, nil
}

// Exit terminates an enrollment with the given reason. Terminal enrollments
// are left untouched.
func (o *Orchestrator) Exit(ctx context.Context, enrollmentID uuid.UUID, reason string) error {
	enrollment, err := o.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.Status.Terminal() {
		return nil
	}

	journey, err := o.store.GetJourney(ctx, enrollment.JourneyID)
	if err != nil {
		return err
	}
	return o.exitEnrollment(ctx, journey, enrollment, reason)
}

// Pause suspends an active enrollment. Paused enrollments are skipped by
// the tick loop until resumed.
func (o *Orchestrator) Pause(ctx context.Context, enrollmentID uuid.UUID) error {
	enrollment, err := o.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return ErrEnrollmentNotActive
	}
	enrollment.Status = models.EnrollmentStatusPaused
	return o.store.UpdateEnrollment(ctx, enrollment)
}

// Resume reactivates a paused enrollment.
func (o *Orchestrator) Resume(ctx context.Context, enrollmentID uuid.UUID) error {
	enrollment, err := o.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.Status != models.EnrollmentStatusPaused {
		return fmt.Errorf("enrollment %s is %s, not paused", enrollmentID, enrollment.Status)
	}
	enrollment.Status = models.EnrollmentStatusActive
	return o.store.UpdateEnrollment(ctx, enrollment)
}
