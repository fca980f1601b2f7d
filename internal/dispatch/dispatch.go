// Package dispatch hands journey step actions to external collaborators.
// Dispatches are fire-and-forget: the orchestrator records the returned
// outcome token and never waits for the external action to finish.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// Outcome statuses recorded on step executions.
const (
	StatusDispatched = "dispatched"
	StatusFailed     = "failed"
)

// Dispatcher hands an action request to whatever executes it
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.ActionRequest) (models.ActionOutcome, error)
}

// BusDispatcher publishes action requests to the action topic, where the
// notification, task and playbook workers consume them. Webhook actions are
// additionally POSTed directly so receivers without a bus consumer still
// get called.
type BusDispatcher struct {
	publisher events.Publisher
	client    *http.Client
	logger    zerolog.Logger
}

// NewBusDispatcher creates a dispatcher over the event bus
func NewBusDispatcher(publisher events.Publisher, logger zerolog.Logger) *BusDispatcher {
	return &BusDispatcher{
		publisher: publisher,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With().Str("component", "dispatch").Logger(),
	}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, req models.ActionRequest) (models.ActionOutcome, error) {
	if err := d.publisher.Publish(ctx, events.TopicActions, req.AccountID.String(), req); err != nil {
		return models.ActionOutcome{RequestID: req.ID, Status: StatusFailed},
			&models.DispatchError{Action: string(req.Type), Err: err}
	}

	if req.Type == models.StepTypeWebhook {
		d.fireWebhook(req)
	}

	return models.ActionOutcome{
		RequestID: req.ID,
		Status:    StatusDispatched,
		Detail:    map[string]any{"topic": events.TopicActions},
	}, nil
}

// fireWebhook POSTs the request payload without blocking the caller. A
// failed call is the receiver's problem; it is logged and dropped.
func (d *BusDispatcher) fireWebhook(req models.ActionRequest) {
	url, _ := req.Config["url"].(string)
	if url == "" {
		d.logger.Warn().Str("request_id", req.ID.String()).Msg("webhook step without url config")
		return
	}

	go func() {
		body, err := json.Marshal(req)
		if err != nil {
			d.logger.Error().Err(err).Msg("webhook payload marshal failed")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			d.logger.Error().Err(err).Str("url", url).Msg("webhook request build failed")
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(httpReq)
		if err != nil {
			d.logger.Warn().Err(err).Str("url", url).Msg("webhook call failed")
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			d.logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("webhook rejected")
		}
	}()
}

// Capture is an in-memory dispatcher for tests. It records every request
// and can be made to fail on demand.
type Capture struct {
	mu       sync.Mutex
	requests []models.ActionRequest
	failWith error
}

// NewCapture creates an empty capture dispatcher
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Dispatch(_ context.Context, req models.ActionRequest) (models.ActionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return models.ActionOutcome{RequestID: req.ID, Status: StatusFailed},
			&models.DispatchError{Action: string(req.Type), Err: c.failWith}
	}
	c.requests = append(c.requests, req)
	return models.ActionOutcome{RequestID: req.ID, Status: StatusDispatched}, nil
}

// FailWith makes every subsequent dispatch fail with err; nil restores
// normal behavior.
func (c *Capture) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

// Requests returns a copy of all dispatched requests
func (c *Capture) Requests() []models.ActionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ActionRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

var _ Dispatcher = (*BusDispatcher)(nil)
var _ Dispatcher = (*Capture)(nil)
