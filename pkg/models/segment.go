package models

import (
	"time"

	"github.com/google/uuid"
)

// SegmentType distinguishes rule-driven segments from hand-curated ones
type SegmentType string

const (
	SegmentTypeDynamic SegmentType = "dynamic"
	SegmentTypeStatic  SegmentType = "static"
)

// Segment is a named group of accounts, optionally defined by a rule tree.
// Static segments keep a hand-managed membership and are never recomputed.
type Segment struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	Type        SegmentType `json:"type" db:"type"`

	// Rules is the serialized rule tree; nil for static segments.
	Rules []byte `json:"rules,omitempty" db:"rules"`

	MemberCount     int        `json:"member_count" db:"member_count"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty" db:"last_evaluated_at"`
	Priority        int        `json:"priority" db:"priority"`
	Color           string     `json:"color" db:"color"`
	Icon            string     `json:"icon" db:"icon"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// SegmentMembership is the edge between an account and a segment. Removed
// members are soft-exited rather than deleted, preserving history.
type SegmentMembership struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	SegmentID   uuid.UUID  `json:"segment_id" db:"segment_id"`
	AccountID   uuid.UUID  `json:"account_id" db:"account_id"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	EnteredAt   time.Time  `json:"entered_at" db:"entered_at"`
	EntryReason string     `json:"entry_reason" db:"entry_reason"`
	ExitedAt    *time.Time `json:"exited_at,omitempty" db:"exited_at"`
	ExitReason  string     `json:"exit_reason,omitempty" db:"exit_reason"`
}
