// Package events publishes lifecycle events (health score changes, segment
// joins/exits, journey transitions) and action requests to the event bus.
package events

import (
	"context"
	"errors"
	"sync"
)

// Topic names for everything the engine publishes.
const (
	TopicHealthEvents  = "lifecycle.health.events"
	TopicSegmentEvents = "lifecycle.segment.events"
	TopicJourneyEvents = "lifecycle.journey.events"
	TopicActions       = "lifecycle.actions"
)

// ErrPublisherClosed is returned when publishing after Close
var ErrPublisherClosed = errors.New("event publisher is closed")

// Publisher is the interface the engines publish through
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload any) error
	Close() error
}

// Capture is an in-memory Publisher that records everything published.
// Tests assert against it; it is also the default when no brokers are
// configured.
type Capture struct {
	mu     sync.Mutex
	events []Captured
}

// Captured is one recorded publication
type Captured struct {
	Topic   string
	Key     string
	Payload any
}

// NewCapture creates an empty capturing publisher
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Publish(_ context.Context, topic string, key string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Captured{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (c *Capture) Close() error { return nil }

// Events returns a copy of everything published so far
func (c *Capture) Events() []Captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Captured, len(c.events))
	copy(out, c.events)
	return out
}

// ByTopic returns the recorded publications for one topic
func (c *Capture) ByTopic(topic string) []Captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Captured
	for _, e := range c.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
