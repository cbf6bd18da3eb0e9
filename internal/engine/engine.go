// Package engine is the single owner of the normalized workspace model.
// Every mutation enters through the engine's mailbox and is applied in
// arrival order by one goroutine; observers receive copies.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/codefionn/slackline/internal/actor"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/model"
)

// Fetcher resolves stub entities. The action client satisfies it.
type Fetcher interface {
	FetchUser(ctx context.Context, userID string) (model.User, error)
	FetchChannel(ctx context.Context, channelID string) (model.Channel, error)
}

// Config holds engine configuration
type Config struct {
	// MailboxSize bounds queued events; producers block when it is full.
	MailboxSize int
	// Sequential applies every event before Submit returns. Tests use it.
	Sequential bool
	// OnChange receives one Change per applied mutation, from the engine
	// goroutine.
	OnChange func(Change)
	// OnNewMessage receives messages that arrived live from someone other
	// than the signed-in user. It feeds the notification boundary.
	OnNewMessage func(msg model.Message, channel model.Channel, sender model.User)
	// OnAuthFailure is called from the engine goroutine when a background
	// enrichment of the current session is rejected.
	OnAuthFailure func(error)
	// EnrichTimeout bounds a single enrichment fetch.
	EnrichTimeout time.Duration
	Logger        *logger.Logger
}

// Engine is the SyncEngine.
type Engine struct {
	cfg    Config
	log    *logger.Logger
	ref    *actor.ActorRef
	dir    *Directory
	flight singleflight.Group

	// owned by the actor goroutine
	st *state
}

// New creates an engine. Call Start before submitting.
func New(cfg Config) *Engine {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 1024
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().WithPrefix("engine")
	}
	e := &Engine{
		cfg: cfg,
		log: log,
		dir: newDirectory(),
	}
	e.st = newState(e)

	var opts []actor.ActorRefOption
	if cfg.Sequential {
		opts = append(opts, actor.WithSequentialProcessing())
	}
	e.ref = actor.NewActorRef("engine", e.st, cfg.MailboxSize, opts...)
	return e
}

// Start starts the engine goroutine.
func (e *Engine) Start(ctx context.Context) error {
	return e.ref.Start(ctx)
}

// Stop stops the engine. Queued events are dropped.
func (e *Engine) Stop(ctx context.Context) error {
	return e.ref.Stop(ctx)
}

// Backlog returns the number of events waiting to be applied.
func (e *Engine) Backlog() int {
	return e.ref.MailboxDepth()
}

// Directory returns the name index used to render references.
func (e *Engine) Directory() *Directory {
	return e.dir
}

// Submit queues a stream event. Stream events always belong to the current
// session: the stream of a superseded session is closed before the new one
// is installed.
func (e *Engine) Submit(ctx context.Context, ev model.Event) error {
	return e.ref.SendContext(ctx, ev)
}

// SubmitFor queues an event produced by an action of sess. It is dropped if
// sess is no longer current when it is applied.
func (e *Engine) SubmitFor(ctx context.Context, sess *model.Session, ev model.Event) error {
	return e.ref.SendContext(ctx, scopedMsg{session: sessionID(sess), event: ev})
}

// SetSession installs the current session and the fetcher used for stub
// enrichment. A nil session detaches the engine; the model is kept.
func (e *Engine) SetSession(ctx context.Context, sess *model.Session, f Fetcher) error {
	return e.ref.SendContext(ctx, sessionMsg{session: sess, fetcher: f})
}

// LoadListing merges a full channel and user listing of sess.
func (e *Engine) LoadListing(ctx context.Context, sess *model.Session, channels []model.Channel, users []model.User) error {
	return e.ref.SendContext(ctx, listingMsg{session: sessionID(sess), channels: channels, users: users})
}

// MergeHistory merges a page of history of sess with the same dedup rule as
// live messages. Re-merging a page is a no-op.
func (e *Engine) MergeHistory(ctx context.Context, sess *model.Session, page model.HistoryPage) error {
	return e.ref.SendContext(ctx, historyMsg{session: sessionID(sess), page: page})
}

// Hydrate merges messages read from the local cache.
func (e *Engine) Hydrate(ctx context.Context, messages []model.Message) error {
	return e.ref.SendContext(ctx, hydrateMsg{messages: messages})
}

// query runs fn on the engine goroutine and waits for it.
func (e *Engine) query(ctx context.Context, fn func(st *state)) error {
	done := make(chan struct{})
	if err := e.ref.SendContext(ctx, queryMsg{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ref.Done():
		return actor.ErrStopped
	}
}

// Channel returns a copy of one channel.
func (e *Engine) Channel(ctx context.Context, id string) (model.Channel, bool, error) {
	var (
		ch model.Channel
		ok bool
	)
	err := e.query(ctx, func(st *state) {
		if cs, found := st.channels[id]; found {
			ch, ok = cs.channel.Clone(), true
		}
	})
	return ch, ok, err
}

// Channels returns copies of all channels ordered by name.
func (e *Engine) Channels(ctx context.Context) ([]model.Channel, error) {
	var out []model.Channel
	err := e.query(ctx, func(st *state) {
		out = st.sortedChannels()
	})
	return out, err
}

// Messages returns copies of a channel's messages in ascending timestamp
// order.
func (e *Engine) Messages(ctx context.Context, channelID string) ([]model.Message, error) {
	var out []model.Message
	err := e.query(ctx, func(st *state) {
		cs, ok := st.channels[channelID]
		if !ok {
			return
		}
		out = make([]model.Message, len(cs.messages))
		for i, m := range cs.messages {
			out[i] = m.Clone()
		}
	})
	return out, err
}

// User returns a copy of one user.
func (e *Engine) User(ctx context.Context, id string) (model.User, bool, error) {
	var (
		u  model.User
		ok bool
	)
	err := e.query(ctx, func(st *state) {
		if found, exists := st.users[id]; exists {
			u, ok = *found, true
		}
	})
	return u, ok, err
}

// Users returns copies of all users.
func (e *Engine) Users(ctx context.Context) ([]model.User, error) {
	var out []model.User
	err := e.query(ctx, func(st *state) {
		out = make([]model.User, 0, len(st.users))
		for _, u := range st.users {
			out = append(out, *u)
		}
	})
	return out, err
}

// Positions returns, for every channel the user is a member of, the newest
// known message timestamp (zero if none). Delta re-sync fetches history
// after these positions.
func (e *Engine) Positions(ctx context.Context) (map[string]model.Timestamp, error) {
	out := make(map[string]model.Timestamp)
	err := e.query(ctx, func(st *state) {
		for id, cs := range st.channels {
			if !cs.channel.IsMember {
				continue
			}
			out[id] = cs.newest()
		}
	})
	return out, err
}

// Oldest returns the oldest known message timestamp of a channel, the
// cursor for backward pagination.
func (e *Engine) Oldest(ctx context.Context, channelID string) (model.Timestamp, error) {
	var ts model.Timestamp
	err := e.query(ctx, func(st *state) {
		if cs, ok := st.channels[channelID]; ok && len(cs.messages) > 0 {
			ts = cs.messages[0].Timestamp
		}
	})
	return ts, err
}

type scopedMsg struct {
	session uuid.UUID
	event   model.Event
}

func (scopedMsg) Type() string { return "scoped" }

type sessionMsg struct {
	session *model.Session
	fetcher Fetcher
}

func (sessionMsg) Type() string { return "session" }

type listingMsg struct {
	session  uuid.UUID
	channels []model.Channel
	users    []model.User
}

func (listingMsg) Type() string { return "listing" }

type historyMsg struct {
	session uuid.UUID
	page    model.HistoryPage
}

func (historyMsg) Type() string { return "history" }

type hydrateMsg struct {
	messages []model.Message
}

func (hydrateMsg) Type() string { return "hydrate" }

type authFailureMsg struct {
	session uuid.UUID
	err     error
}

func (authFailureMsg) Type() string { return "auth-failure" }

type queryMsg struct {
	fn   func(st *state)
	done chan struct{}
}

func (queryMsg) Type() string { return "query" }

func sessionID(sess *model.Session) uuid.UUID {
	if sess == nil {
		return uuid.Nil
	}
	return sess.ID
}
