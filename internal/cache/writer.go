package cache

import (
	"context"
	"fmt"

	"github.com/codefionn/slackline/internal/actor"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/metrics"
	"github.com/codefionn/slackline/internal/model"
)

// Writer persists messages off the engine goroutine. Store never blocks;
// when the mailbox is full the message is dropped from the cache only, the
// next sync fetches it again.
type Writer struct {
	ref *actor.ActorRef
	log *logger.Logger
}

// NewWriter creates a writer storing messages of teamID into c.
func NewWriter(c *Cache, teamID string, m *metrics.Metrics, mailboxSize int) *Writer {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	log := logger.Global().WithPrefix("cache")
	w := &writer{id: "cache:" + teamID, cache: c, teamID: teamID, metrics: m, log: log}
	return &Writer{
		ref: actor.NewActorRef(w.id, w, mailboxSize),
		log: log,
	}
}

func (w *Writer) Start(ctx context.Context) error { return w.ref.Start(ctx) }

func (w *Writer) Stop(ctx context.Context) error { return w.ref.Stop(ctx) }

// Store queues a message for persistence.
func (w *Writer) Store(msg model.Message) {
	if err := w.ref.Send(storeMsg{msgs: []model.Message{msg.Clone()}}); err != nil {
		w.log.Debug("not caching %s/%s: %v", msg.ChannelID, msg.Timestamp, err)
	}
}

// Flush waits until everything stored before it has been written.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	if err := w.ref.SendContext(ctx, flushMsg{done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type storeMsg struct {
	msgs []model.Message
}

func (storeMsg) Type() string { return "store" }

type flushMsg struct {
	done chan error
}

func (flushMsg) Type() string { return "flush" }

type writer struct {
	id      string
	cache   *Cache
	teamID  string
	metrics *metrics.Metrics
	log     *logger.Logger
	lastErr error
}

func (w *writer) ID() string                      { return w.id }
func (w *writer) Start(ctx context.Context) error { return nil }
func (w *writer) Stop(ctx context.Context) error  { return nil }

func (w *writer) Receive(ctx context.Context, msg actor.Message) error {
	switch m := msg.(type) {
	case storeMsg:
		if err := w.cache.Save(ctx, w.teamID, m.msgs); err != nil {
			w.lastErr = err
			return err
		}
		w.metrics.CacheWrites(len(m.msgs))
	case flushMsg:
		m.done <- w.lastErr
		w.lastErr = nil
	default:
		return fmt.Errorf("unexpected message %s", msg.Type())
	}
	return nil
}
