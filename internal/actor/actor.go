// Package actor provides a mailbox runtime: each ActorRef owns one Actor and
// feeds it messages one at a time, so the actor's state needs no locking.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/slackline/internal/logger"
)

// ErrStopped is returned when sending to an actor that has been stopped.
var ErrStopped = errors.New("actor stopped")

// Message represents a message sent to an actor
type Message interface {
	Type() string
}

// Actor processes messages delivered by its ActorRef.
type Actor interface {
	// Receive processes one message. It is never called concurrently.
	Receive(ctx context.Context, msg Message) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ID() string
}

// ActorRef is a reference to an actor for sending messages
type ActorRef struct {
	id         string
	mailbox    chan Message
	actor      Actor
	log        *logger.Logger
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	mu         sync.RWMutex
	stopped    bool
	sequential bool
	sequenceMu sync.Mutex
	ctx        context.Context
	done       chan struct{}
}

// ActorRefOption configures an ActorRef.
type ActorRefOption func(*ActorRef)

// WithSequentialProcessing forces the actor to process messages synchronously
// when sent. This disables the internal run loop and makes Send block until
// Receive returns.
func WithSequentialProcessing() ActorRefOption {
	return func(ref *ActorRef) {
		ref.sequential = true
	}
}

// NewActorRef creates a new actor reference with the given ID, actor implementation,
// mailbox size, and optional configuration options.
func NewActorRef(id string, actor Actor, mailboxSize int, opts ...ActorRefOption) *ActorRef {
	ref := &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
		log:     logger.Global().WithPrefix("actor:" + id),
		ctx:     context.Background(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ref)
	}
	return ref
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// MailboxDepth returns the number of queued messages.
func (ref *ActorRef) MailboxDepth() int {
	return len(ref.mailbox)
}

// Done is closed once the actor has been stopped.
func (ref *ActorRef) Done() <-chan struct{} {
	return ref.done
}

// Send enqueues msg without blocking. It fails if the mailbox is full.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	if ref.stopped {
		ref.mu.RUnlock()
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}
	sequential := ref.sequential
	ctx := ref.ctx
	ref.mu.RUnlock()

	if sequential {
		ref.receiveNow(ctx, msg)
		return nil
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("actor %s mailbox is full", ref.id)
	}
}

// SendContext enqueues msg, waiting for mailbox space until ctx is done or
// the actor stops. Producers that must not drop messages use this.
func (ref *ActorRef) SendContext(ctx context.Context, msg Message) error {
	ref.mu.RLock()
	if ref.stopped {
		ref.mu.RUnlock()
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}
	sequential := ref.sequential
	actorCtx := ref.ctx
	ref.mu.RUnlock()

	if sequential {
		ref.receiveNow(actorCtx, msg)
		return nil
	}

	select {
	case ref.mailbox <- msg:
		return nil
	case <-ref.done:
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ref *ActorRef) receiveNow(ctx context.Context, msg Message) {
	ref.sequenceMu.Lock()
	defer ref.sequenceMu.Unlock()
	if err := ref.actor.Receive(ctx, msg); err != nil {
		ref.log.Error("error processing %s: %v", msg.Type(), err)
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}

	ref.mu.Lock()
	ref.cancel = cancel
	ref.ctx = ctx
	ref.mu.Unlock()

	if ref.sequential {
		return nil
	}

	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop stops the actor gracefully. Messages still queued are dropped.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	cancel := ref.cancel
	ref.mu.Unlock()

	close(ref.done)
	if cancel != nil {
		cancel()
	}

	// Wait for actor to finish processing
	finished := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the actor's main message processing loop
func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			if err := ref.actor.Receive(ctx, msg); err != nil {
				// Log error but continue processing
				ref.log.Error("error processing %s: %v", msg.Type(), err)
			}
		}
	}
}
