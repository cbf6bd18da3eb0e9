package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// TestMessage is a simple test message type
type TestMessage struct {
	ID      string
	Content string
}

func (m *TestMessage) Type() string {
	return "test"
}

// ErrorMessage makes TestActor return an error.
type ErrorMessage struct{}

func (m *ErrorMessage) Type() string {
	return "error"
}

// TestActor records what it receives.
type TestActor struct {
	id           string
	mu           sync.Mutex
	received     []Message
	startCalled  atomic.Bool
	stopCalled   atomic.Bool
	blockReceive chan struct{}
}

func NewTestActor(id string) *TestActor {
	return &TestActor{id: id}
}

func (a *TestActor) ID() string { return a.id }

func (a *TestActor) Start(ctx context.Context) error {
	a.startCalled.Store(true)
	return nil
}

func (a *TestActor) Stop(ctx context.Context) error {
	a.stopCalled.Store(true)
	return nil
}

func (a *TestActor) Receive(ctx context.Context, msg Message) error {
	if block := a.blockReceive; block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if _, ok := msg.(*ErrorMessage); ok {
		return errors.New("test error")
	}
	a.mu.Lock()
	a.received = append(a.received, msg)
	a.mu.Unlock()
	return nil
}

func (a *TestActor) Received() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.received...)
}
