// Package billing ingests payment provider webhooks and turns them into
// account touchpoints. A paid invoice becomes an invoice_paid touchpoint and
// a failed payment or cancelled subscription becomes a payment_issue
// touchpoint; both feed the financial health component on the next
// recalculation.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/fieldpulse/lifecycle/internal/clock"
	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// AccountResolver maps a payment provider customer id to an account
type AccountResolver interface {
	GetAccountByBillingCustomerID(ctx context.Context, customerID string) (*models.Account, error)
}

// TouchpointWriter records ingested billing touchpoints
type TouchpointWriter interface {
	InsertTouchpoint(ctx context.Context, tp *models.Touchpoint) error
}

// Service verifies and processes billing webhook events
type Service struct {
	accounts      AccountResolver
	touchpoints   TouchpointWriter
	publisher     events.Publisher
	webhookSecret string
	clock         clock.Clock
	logger        zerolog.Logger
}

// NewService creates a billing ingestion service. An empty webhook secret
// skips signature verification; only use that in local development.
func NewService(accounts AccountResolver, touchpoints TouchpointWriter, publisher events.Publisher, webhookSecret string, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		accounts:      accounts,
		touchpoints:   touchpoints,
		publisher:     publisher,
		webhookSecret: webhookSecret,
		clock:         clk,
		logger:        logger.With().Str("component", "billing").Logger(),
	}
}

// HandleWebhook verifies and processes one webhook delivery. Event types
// without a lifecycle meaning are acknowledged and dropped.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.constructEvent(payload, signature)
	if err != nil {
		return err
	}

	switch event.Type {
	case "invoice.payment_succeeded":
		return s.handleInvoice(ctx, event, models.TouchpointInvoicePaid, true)
	case "invoice.payment_failed":
		return s.handleInvoice(ctx, event, models.TouchpointPaymentIssue, false)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		s.logger.Debug().Str("event_type", string(event.Type)).Msg("ignoring billing event")
		return nil
	}
}

func (s *Service) constructEvent(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret != "" {
		event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
		if err != nil {
			return stripe.Event{}, fmt.Errorf("webhook signature verification failed: %w", err)
		}
		return event, nil
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	return event, nil
}

func (s *Service) handleInvoice(ctx context.Context, event stripe.Event, touchpointType string, positive bool) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	if invoice.Customer == nil || invoice.Customer.ID == "" {
		s.logger.Warn().Str("event_id", event.ID).Msg("invoice event without customer")
		return nil
	}
	return s.recordTouchpoint(ctx, invoice.Customer.ID, touchpointType, positive, map[string]any{
		"invoice_id":    invoice.ID,
		"amount_due":    invoice.AmountDue,
		"billing_event": string(event.Type),
	})
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if subscription.Customer == nil || subscription.Customer.ID == "" {
		s.logger.Warn().Str("event_id", event.ID).Msg("subscription event without customer")
		return nil
	}
	return s.recordTouchpoint(ctx, subscription.Customer.ID, models.TouchpointPaymentIssue, false, map[string]any{
		"subscription_id": subscription.ID,
		"billing_event":   string(event.Type),
	})
}

// recordTouchpoint resolves the customer, persists the touchpoint and
// announces it on the activity topic so health is recalculated. An unknown
// customer id is logged and dropped rather than failing the delivery; the
// provider would otherwise retry forever.
func (s *Service) recordTouchpoint(ctx context.Context, customerID, touchpointType string, positive bool, metadata map[string]any) error {
	account, err := s.accounts.GetAccountByBillingCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Str("customer_id", customerID).Msg("billing event for unknown customer")
			return nil
		}
		return fmt.Errorf("resolve billing customer: %w", err)
	}

	now := s.clock.Now()
	tp := &models.Touchpoint{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Type:        touchpointType,
		WasPositive: positive,
		OccurredAt:  now,
	}
	if err := s.touchpoints.InsertTouchpoint(ctx, tp); err != nil {
		return fmt.Errorf("record billing touchpoint: %w", err)
	}

	announcement := models.BaseEvent{
		ID:        uuid.NewString(),
		Type:      models.EventTypeTouchpointRecorded,
		Timestamp: now,
		Source:    "billing",
		AccountID: account.ID,
		Metadata:  metadata,
	}
	if err := s.publisher.Publish(ctx, events.TopicActivityEvents, account.ID.String(), announcement); err != nil {
		s.logger.Error().Err(err).Str("account_id", account.ID.String()).Msg("publish touchpoint event failed")
	}

	s.logger.Info().
		Str("account_id", account.ID.String()).
		Str("touchpoint_type", touchpointType).
		Time("occurred_at", now).
		Msg("billing touchpoint recorded")
	return nil
}
