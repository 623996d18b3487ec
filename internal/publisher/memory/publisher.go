// Package memory contains an in-process publisher that records task events.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

var _ crawler.Publisher = (*Publisher)(nil)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// TaskEvents returns the recorded task events for one task in publish order.
func (p *Publisher) TaskEvents(taskID int64) []crawler.TaskEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []crawler.TaskEvent
	for _, msg := range p.messages {
		if event, ok := msg.Payload.(crawler.TaskEvent); ok && event.TaskID == taskID {
			out = append(out, event)
		}
	}
	return out
}
