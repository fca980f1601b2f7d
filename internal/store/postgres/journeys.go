package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

const (
	getJourneyQuery = `
		SELECT id, name, description, type, status, exit_criteria, goal_criteria,
		       total_enrolled, active_enrolled, completed_count, created_at, updated_at
		FROM journeys WHERE id = $1`

	listJourneysQuery = `
		SELECT id, name, description, type, status, exit_criteria, goal_criteria,
		       total_enrolled, active_enrolled, completed_count, created_at, updated_at
		FROM journeys ORDER BY created_at DESC`

	createJourneyQuery = `
		INSERT INTO journeys (id, name, description, type, status,
		        exit_criteria, goal_criteria, total_enrolled, active_enrolled,
		        completed_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, $8, $8)`

	updateJourneyQuery = `
		UPDATE journeys SET name = $2, description = $3, type = $4, status = $5,
		       exit_criteria = $6, goal_criteria = $7, total_enrolled = $8,
		       active_enrolled = $9, completed_count = $10, updated_at = $11
		WHERE id = $1`

	listStepsQuery = `
		SELECT id, journey_id, step_order, name, type, config, wait_hours,
		       condition_rules, true_next_step_id, false_next_step_id,
		       is_active, created_at
		FROM journey_steps WHERE journey_id = $1 ORDER BY step_order`

	getStepQuery = `
		SELECT id, journey_id, step_order, name, type, config, wait_hours,
		       condition_rules, true_next_step_id, false_next_step_id,
		       is_active, created_at
		FROM journey_steps WHERE id = $1`

	createStepQuery = `
		INSERT INTO journey_steps (id, journey_id, step_order, name, type,
		        config, wait_hours, condition_rules, true_next_step_id,
		        false_next_step_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	createEnrollmentQuery = `
		INSERT INTO journey_enrollments (id, journey_id, account_id, status,
		        current_step_id, current_step_order, steps_completed, steps_total,
		        goal_achieved, enrolled_at, enrolled_by, enrollment_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getEnrollmentQuery = `
		SELECT id, journey_id, account_id, status, current_step_id,
		       current_step_order, steps_completed, steps_total,
		       goal_achieved, goal_achieved_at, enrolled_at, completed_at,
		       exited_at, exit_reason, enrolled_by, enrollment_reason,
		       lease_token, lease_until
		FROM journey_enrollments WHERE id = $1`

	getActiveEnrollmentQuery = `
		SELECT id, journey_id, account_id, status, current_step_id,
		       current_step_order, steps_completed, steps_total,
		       goal_achieved, goal_achieved_at, enrolled_at, completed_at,
		       exited_at, exit_reason, enrolled_by, enrollment_reason,
		       lease_token, lease_until
		FROM journey_enrollments
		WHERE journey_id = $1 AND account_id = $2 AND status IN ('active', 'paused')
		LIMIT 1`

	listActiveEnrollmentsQuery = `
		SELECT id, journey_id, account_id, status, current_step_id,
		       current_step_order, steps_completed, steps_total,
		       goal_achieved, goal_achieved_at, enrolled_at, completed_at,
		       exited_at, exit_reason, enrolled_by, enrollment_reason,
		       lease_token, lease_until
		FROM journey_enrollments WHERE status = 'active' ORDER BY enrolled_at`

	listActiveEnrollmentsByAccountQuery = `
		SELECT id, journey_id, account_id, status, current_step_id,
		       current_step_order, steps_completed, steps_total,
		       goal_achieved, goal_achieved_at, enrolled_at, completed_at,
		       exited_at, exit_reason, enrolled_by, enrollment_reason,
		       lease_token, lease_until
		FROM journey_enrollments WHERE account_id = $1 AND status = 'active'`

	updateEnrollmentQuery = `
		UPDATE journey_enrollments
		SET status = $2, current_step_id = $3, current_step_order = $4,
		    steps_completed = $5, goal_achieved = $6, goal_achieved_at = $7,
		    completed_at = $8, exited_at = $9, exit_reason = $10
		WHERE id = $1`

	latestExecutionQuery = `
		SELECT id, enrollment_id, step_id, status, started_at, completed_at,
		       scheduled_for, outcome, outcome_details, condition_result,
		       attempts, error_message, created_at
		FROM journey_step_executions
		WHERE enrollment_id = $1 ORDER BY created_at DESC LIMIT 1`

	createExecutionQuery = `
		INSERT INTO journey_step_executions (id, enrollment_id, step_id, status,
		        started_at, completed_at, scheduled_for, outcome, outcome_details,
		        condition_result, attempts, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	updateExecutionQuery = `
		UPDATE journey_step_executions
		SET status = $2, started_at = $3, completed_at = $4, scheduled_for = $5,
		    outcome = $6, outcome_details = $7, condition_result = $8,
		    attempts = $9, error_message = $10
		WHERE id = $1`

	acquireLeaseQuery = `
		UPDATE journey_enrollments
		SET lease_token = $2, lease_until = $3
		WHERE id = $1 AND (lease_token IS NULL OR lease_until <= $4 OR lease_token = $2)`

	releaseLeaseQuery = `
		UPDATE journey_enrollments
		SET lease_token = NULL, lease_until = NULL
		WHERE id = $1 AND lease_token = $2`
)

// stepRow carries the jsonb config column for the step model
type stepRow struct {
	models.JourneyStep
	ConfigRaw []byte `db:"config"`
}

func (r *stepRow) toModel() (*models.JourneyStep, error) {
	step := r.JourneyStep
	if len(r.ConfigRaw) > 0 {
		if err := json.Unmarshal(r.ConfigRaw, &step.Config); err != nil {
			return nil, fmt.Errorf("decode step config: %w", err)
		}
	}
	return &step, nil
}

// executionRow carries the jsonb outcome details column
type executionRow struct {
	models.JourneyStepExecution
	OutcomeDetailsRaw []byte `db:"outcome_details"`
}

func (r *executionRow) toModel() (*models.JourneyStepExecution, error) {
	execution := r.JourneyStepExecution
	if len(r.OutcomeDetailsRaw) > 0 {
		if err := json.Unmarshal(r.OutcomeDetailsRaw, &execution.OutcomeDetails); err != nil {
			return nil, fmt.Errorf("decode outcome details: %w", err)
		}
	}
	return &execution, nil
}

func marshalJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// JourneyStore persists journeys, steps, enrollments and step executions
type JourneyStore struct {
	db *sqlx.DB
}

// NewJourneyStore creates a journey store over db
func NewJourneyStore(db *sqlx.DB) *JourneyStore {
	return &JourneyStore{db: db}
}

func (s *JourneyStore) GetJourney(ctx context.Context, id uuid.UUID) (*models.Journey, error) {
	var journey models.Journey
	if err := s.db.GetContext(ctx, &journey, getJourneyQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("journey", id.String())
		}
		return nil, fmt.Errorf("get journey: %w", err)
	}
	return &journey, nil
}

func (s *JourneyStore) ListJourneys(ctx context.Context) ([]models.Journey, error) {
	var journeys []models.Journey
	if err := s.db.SelectContext(ctx, &journeys, listJourneysQuery); err != nil {
		return nil, fmt.Errorf("list journeys: %w", err)
	}
	return journeys, nil
}

func (s *JourneyStore) CreateJourney(ctx context.Context, journey *models.Journey) error {
	if journey.ID == uuid.Nil {
		journey.ID = uuid.New()
	}
	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, createJourneyQuery,
		journey.ID, journey.Name, journey.Description, journey.Type,
		journey.Status, journey.ExitCriteria, journey.GoalCriteria,
		journey.CreatedAt)
	if err != nil {
		return fmt.Errorf("create journey: %w", err)
	}
	return nil
}

func (s *JourneyStore) UpdateJourney(ctx context.Context, journey *models.Journey) error {
	journey.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, updateJourneyQuery,
		journey.ID, journey.Name, journey.Description, journey.Type,
		journey.Status, journey.ExitCriteria, journey.GoalCriteria,
		journey.TotalEnrolled, journey.ActiveEnrolled, journey.CompletedCount,
		journey.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update journey: %w", err)
	}
	return nil
}

func (s *JourneyStore) ListSteps(ctx context.Context, journeyID uuid.UUID) ([]*models.JourneyStep, error) {
	var rows []stepRow
	if err := s.db.SelectContext(ctx, &rows, listStepsQuery, journeyID); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	steps := make([]*models.JourneyStep, 0, len(rows))
	for i := range rows {
		step, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (s *JourneyStore) GetStep(ctx context.Context, id uuid.UUID) (*models.JourneyStep, error) {
	var row stepRow
	if err := s.db.GetContext(ctx, &row, getStepQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("journey step", id.String())
		}
		return nil, fmt.Errorf("get step: %w", err)
	}
	return row.toModel()
}

func (s *JourneyStore) CreateStep(ctx context.Context, step *models.JourneyStep) error {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	config, err := marshalJSONMap(step.Config)
	if err != nil {
		return fmt.Errorf("encode step config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, createStepQuery,
		step.ID, step.JourneyID, step.Order, step.Name, step.Type,
		config, step.WaitHours, step.ConditionRules,
		step.TrueNextStepID, step.FalseNextStepID, step.IsActive, step.CreatedAt)
	if err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	return nil
}

func (s *JourneyStore) CreateEnrollment(ctx context.Context, enrollment *models.JourneyEnrollment) error {
	if enrollment.ID == uuid.Nil {
		enrollment.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, createEnrollmentQuery,
		enrollment.ID, enrollment.JourneyID, enrollment.AccountID,
		enrollment.Status, enrollment.CurrentStepID, enrollment.CurrentStepOrder,
		enrollment.StepsCompleted, enrollment.StepsTotal, enrollment.GoalAchieved,
		enrollment.EnrolledAt, enrollment.EnrolledBy, enrollment.EnrollmentReason)
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

func (s *JourneyStore) GetEnrollment(ctx context.Context, id uuid.UUID) (*models.JourneyEnrollment, error) {
	var enrollment models.JourneyEnrollment
	if err := s.db.GetContext(ctx, &enrollment, getEnrollmentQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("enrollment", id.String())
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &enrollment, nil
}

func (s *JourneyStore) GetActiveEnrollment(ctx context.Context, journeyID, accountID uuid.UUID) (*models.JourneyEnrollment, error) {
	var enrollment models.JourneyEnrollment
	if err := s.db.GetContext(ctx, &enrollment, getActiveEnrollmentQuery, journeyID, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active enrollment: %w", err)
	}
	return &enrollment, nil
}

func (s *JourneyStore) ListActiveEnrollments(ctx context.Context) ([]*models.JourneyEnrollment, error) {
	var enrollments []*models.JourneyEnrollment
	if err := s.db.SelectContext(ctx, &enrollments, listActiveEnrollmentsQuery); err != nil {
		return nil, fmt.Errorf("list active enrollments: %w", err)
	}
	return enrollments, nil
}

func (s *JourneyStore) ListActiveEnrollmentsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.JourneyEnrollment, error) {
	var enrollments []*models.JourneyEnrollment
	if err := s.db.SelectContext(ctx, &enrollments, listActiveEnrollmentsByAccountQuery, accountID); err != nil {
		return nil, fmt.Errorf("list enrollments by account: %w", err)
	}
	return enrollments, nil
}

func (s *JourneyStore) UpdateEnrollment(ctx context.Context, enrollment *models.JourneyEnrollment) error {
	_, err := s.db.ExecContext(ctx, updateEnrollmentQuery,
		enrollment.ID, enrollment.Status, enrollment.CurrentStepID,
		enrollment.CurrentStepOrder, enrollment.StepsCompleted,
		enrollment.GoalAchieved, enrollment.GoalAchievedAt,
		enrollment.CompletedAt, enrollment.ExitedAt, enrollment.ExitReason)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	return nil
}

func (s *JourneyStore) LatestExecution(ctx context.Context, enrollmentID uuid.UUID) (*models.JourneyStepExecution, error) {
	var row executionRow
	if err := s.db.GetContext(ctx, &row, latestExecutionQuery, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest execution: %w", err)
	}
	return row.toModel()
}

func (s *JourneyStore) CreateExecution(ctx context.Context, execution *models.JourneyStepExecution) error {
	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	details, err := marshalJSONMap(execution.OutcomeDetails)
	if err != nil {
		return fmt.Errorf("encode outcome details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, createExecutionQuery,
		execution.ID, execution.EnrollmentID, execution.StepID, execution.Status,
		execution.StartedAt, execution.CompletedAt, execution.ScheduledFor,
		execution.Outcome, details, execution.ConditionResult,
		execution.Attempts, execution.ErrorMessage, execution.CreatedAt)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *JourneyStore) UpdateExecution(ctx context.Context, execution *models.JourneyStepExecution) error {
	details, err := marshalJSONMap(execution.OutcomeDetails)
	if err != nil {
		return fmt.Errorf("encode outcome details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, updateExecutionQuery,
		execution.ID, execution.Status, execution.StartedAt,
		execution.CompletedAt, execution.ScheduledFor, execution.Outcome,
		details, execution.ConditionResult, execution.Attempts,
		execution.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// AcquireLease claims the progression lease for an enrollment. The guard in
// the UPDATE makes the claim atomic; a held unexpired lease under another
// token leaves zero rows affected.
func (s *JourneyStore) AcquireLease(ctx context.Context, enrollmentID, token uuid.UUID, until, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, acquireLeaseQuery, enrollmentID, token, until, now)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease result: %w", err)
	}
	return n > 0, nil
}

func (s *JourneyStore) ReleaseLease(ctx context.Context, enrollmentID, token uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, releaseLeaseQuery, enrollmentID, token)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
