package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountType categorizes tracked accounts by contract tier
type AccountType string

const (
	AccountTypeStandard   AccountType = "standard"
	AccountTypePremium    AccountType = "premium"
	AccountTypeEnterprise AccountType = "enterprise"
	AccountTypeVIP        AccountType = "vip"
)

// IsPremiumTier reports whether the account type carries a financial score boost
func (t AccountType) IsPremiumTier() bool {
	return t == AccountTypeEnterprise || t == AccountTypeVIP
}

// Account is a tracked customer record. Accounts are owned by the external
// customer-record collaborator; this engine only reads them.
type Account struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	Name              string         `json:"name" db:"name"`
	Email             string         `json:"email" db:"email"`
	AccountType       AccountType    `json:"account_type" db:"account_type"`
	IsActive          bool           `json:"is_active" db:"is_active"`
	State             string         `json:"state" db:"state"`
	City              string         `json:"city" db:"city"`
	Tags              []string       `json:"tags" db:"-"`
	LeadSource        string         `json:"lead_source" db:"lead_source"`
	ProspectStage     string         `json:"prospect_stage" db:"prospect_stage"`
	BillingCustomerID string         `json:"billing_customer_id,omitempty" db:"billing_customer_id"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// Touchpoint is a single recorded interaction or activity event for an
// account, keyed by type and timestamp. The health calculator reads these in
// trailing time windows.
type Touchpoint struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	AccountID          uuid.UUID  `json:"account_id" db:"account_id"`
	Type               string     `json:"type" db:"type"`
	WasPositive        bool       `json:"was_positive" db:"was_positive"`
	ContactIsExecutive bool       `json:"contact_is_executive" db:"contact_is_executive"`
	ContactIsChampion  bool       `json:"contact_is_champion" db:"contact_is_champion"`
	NPSScore           *int       `json:"nps_score,omitempty" db:"nps_score"`
	CSATScore          *float64   `json:"csat_score,omitempty" db:"csat_score"`
	OccurredAt         time.Time  `json:"occurred_at" db:"occurred_at"`
}

// Touchpoint types the scoring components query for.
var (
	AdoptionTouchpointTypes = []string{
		"product_login", "feature_usage", "feature_adoption", "training_completed",
	}
	EngagementTouchpointTypes = []string{
		"email_replied", "meeting_held", "call_inbound", "chat_session", "video_call",
	}
)

const (
	TouchpointPaymentIssue      = "payment_issue"
	TouchpointInvoicePaid       = "invoice_paid"
	TouchpointSupportTicket     = "support_ticket_opened"
	TouchpointSupportEscalation = "support_escalation"
)
