package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fieldpulse/lifecycle/pkg/models"
)

const (
	getAccountQuery = `
		SELECT id, name, email, account_type, is_active, state, city, tags,
		       lead_source, prospect_stage, billing_customer_id, created_at
		FROM accounts WHERE id = $1`

	getAccountByBillingCustomerQuery = `
		SELECT id, name, email, account_type, is_active, state, city, tags,
		       lead_source, prospect_stage, billing_customer_id, created_at
		FROM accounts WHERE billing_customer_id = $1`

	listAccountIDsQuery = `SELECT id FROM accounts WHERE is_active ORDER BY created_at`
)

// accountRow mirrors the accounts table; tags need the pq array adapter.
type accountRow struct {
	ID                uuid.UUID      `db:"id"`
	Name              string         `db:"name"`
	Email             string         `db:"email"`
	AccountType       string         `db:"account_type"`
	IsActive          bool           `db:"is_active"`
	State             string         `db:"state"`
	City              string         `db:"city"`
	Tags              pq.StringArray `db:"tags"`
	LeadSource        string         `db:"lead_source"`
	ProspectStage     string         `db:"prospect_stage"`
	BillingCustomerID sql.NullString `db:"billing_customer_id"`
	CreatedAt         sql.NullTime   `db:"created_at"`
}

func (r accountRow) toModel() *models.Account {
	account := &models.Account{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		AccountType:   models.AccountType(r.AccountType),
		IsActive:      r.IsActive,
		State:         r.State,
		City:          r.City,
		Tags:          []string(r.Tags),
		LeadSource:    r.LeadSource,
		ProspectStage: r.ProspectStage,
	}
	if r.BillingCustomerID.Valid {
		account.BillingCustomerID = r.BillingCustomerID.String
	}
	if r.CreatedAt.Valid {
		account.CreatedAt = r.CreatedAt.Time
	}
	return account
}

// AccountStore reads account records
type AccountStore struct {
	db *sqlx.DB
}

// NewAccountStore creates an account store over db
func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, getAccountQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("account", id.String())
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return row.toModel(), nil
}

// GetAccountByBillingCustomerID resolves the billing provider's customer id
// to an account; the billing webhook uses it to attribute invoice events.
func (s *AccountStore) GetAccountByBillingCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, getAccountByBillingCustomerQuery, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("account", customerID)
		}
		return nil, fmt.Errorf("get account by billing customer: %w", err)
	}
	return row.toModel(), nil
}

func (s *AccountStore) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, listAccountIDsQuery); err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	return ids, nil
}
