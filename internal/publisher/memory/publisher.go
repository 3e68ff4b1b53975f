// Package memory keeps published phase summaries in process. It backs the
// "memory" publisher setting and the dispatcher tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

type attributer interface {
	Attributes() map[string]string
}

// Publisher records every payload it is handed.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	err      error
}

// Message captures one publish call.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.err)
	}
	msg := Message{
		ID:      fmt.Sprintf("memory-%d", len(p.messages)+1),
		Topic:   topic,
		Payload: payload,
	}
	if a, ok := payload.(attributer); ok {
		msg.Attributes = a.Attributes()
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
