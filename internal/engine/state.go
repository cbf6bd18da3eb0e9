package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/codefionn/slackline/internal/actor"
	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/model"
)

type channelState struct {
	channel model.Channel
	// messages is kept sorted by timestamp, oldest first.
	messages []model.Message
}

func (cs *channelState) newest() model.Timestamp {
	if len(cs.messages) == 0 {
		return ""
	}
	return cs.messages[len(cs.messages)-1].Timestamp
}

// state is the model itself and the actor that owns it. Only Receive and
// the functions it calls touch its fields.
type state struct {
	e   *Engine
	ctx context.Context

	session *model.Session
	fetcher Fetcher
	// team is the team the model holds data of. It outlives a detach.
	team string

	channels map[string]*channelState
	users    map[string]*model.User
}

func newState(e *Engine) *state {
	return &state{
		e:        e,
		ctx:      context.Background(),
		channels: make(map[string]*channelState),
		users:    make(map[string]*model.User),
	}
}

func (st *state) ID() string { return "engine" }

func (st *state) Start(ctx context.Context) error {
	st.ctx = ctx
	return nil
}

func (st *state) Stop(ctx context.Context) error { return nil }

func (st *state) Receive(ctx context.Context, msg actor.Message) error {
	switch m := msg.(type) {
	case queryMsg:
		m.fn(st)
		close(m.done)
	case sessionMsg:
		st.setSession(m.session, m.fetcher)
	case scopedMsg:
		if !st.isCurrent(m.session) {
			st.e.log.Debug("dropping %s from superseded session", m.event.Type())
			return nil
		}
		st.apply(m.event, false)
	case listingMsg:
		if !st.isCurrent(m.session) {
			return nil
		}
		st.applyListing(m.channels, m.users)
	case historyMsg:
		if !st.isCurrent(m.session) {
			return nil
		}
		for _, msg := range m.page.Messages {
			if msg.ChannelID == "" {
				msg.ChannelID = m.page.ChannelID
			}
			st.mergeMessage(msg, false)
		}
	case hydrateMsg:
		for _, msg := range m.messages {
			st.mergeMessage(msg, false)
		}
	case authFailureMsg:
		// a superseded session's token may already be wiped
		if st.isCurrent(m.session) && st.e.cfg.OnAuthFailure != nil {
			st.e.cfg.OnAuthFailure(m.err)
		}
	case model.Event:
		st.apply(m, true)
	default:
		return fmt.Errorf("unexpected message %s", msg.Type())
	}
	return nil
}

func (st *state) isCurrent(id uuid.UUID) bool {
	return st.session != nil && st.session.ID == id
}

func (st *state) selfID() string {
	if st.session == nil {
		return ""
	}
	return st.session.UserID
}

func (st *state) emit(c Change) {
	if st.e.cfg.OnChange != nil {
		st.e.cfg.OnChange(c)
	}
}

func (st *state) setSession(sess *model.Session, f Fetcher) {
	st.session = sess
	st.fetcher = f
	if sess == nil {
		return
	}
	if st.team != "" && sess.TeamID != st.team {
		st.reset()
	}
	st.team = sess.TeamID
	if sess.UserID != "" {
		st.ensureUser(sess.UserID)
	}
	for id, cs := range st.channels {
		if cs.channel.Stub {
			st.enrichChannel(id)
		}
	}
	for id, u := range st.users {
		if u.Stub {
			st.enrichUser(id)
		}
	}
}

// reset forgets everything known about the previous team.
func (st *state) reset() {
	st.e.log.Info("team changed from %s, clearing the model", st.team)
	st.channels = make(map[string]*channelState)
	st.users = make(map[string]*model.User)
	st.e.dir.reset()
	st.emit(Change{Kind: ModelReset})
}

func (st *state) apply(ev model.Event, live bool) {
	switch ev := ev.(type) {
	case model.MessageEvent:
		st.mergeMessage(ev.Message, live)
	case model.ChannelUpdateEvent:
		st.updateChannel(ev.Update, ev.Full)
	case model.ChannelJoinedEvent:
		st.joinChannel(ev.Channel)
	case model.ChannelLeftEvent:
		if cs, ok := st.channels[ev.ChannelID]; ok && cs.channel.IsMember {
			cs.channel.IsMember = false
			st.emitChannel(ChannelLeft, cs)
		}
	case model.ChatOpenedEvent:
		st.openChat(ev.ChannelID, ev.UserID)
	case model.ChatClosedEvent:
		if cs, ok := st.channels[ev.ChannelID]; ok && cs.channel.IsMember {
			cs.channel.IsMember = false
			st.emitChannel(ChatClosed, cs)
		}
	case model.UserUpdateEvent:
		st.updateUser(ev.Update, ev.Full)
	case model.PresenceChangeEvent:
		ids := ev.UserIDs
		if ev.Self {
			ids = []string{st.selfID()}
		}
		for _, id := range ids {
			if id == "" {
				continue
			}
			presence := ev.Presence
			st.updateUser(model.UserUpdate{ID: id, Presence: &presence}, false)
		}
	case model.ErrorEvent:
		st.e.log.Warn("stream error %d: %s", ev.Code, ev.Message)
	case model.StreamStartEvent, model.StreamEndEvent, model.UnknownEvent:
		// connection lifecycle is the supervisor's business
	default:
		st.e.log.Debug("ignoring %s", ev.Type())
	}
}

func (st *state) applyListing(channels []model.Channel, users []model.User) {
	for _, u := range users {
		st.updateUser(u.AsUpdate(), true)
	}
	for _, ch := range channels {
		st.updateChannel(ch.AsUpdate(), true)
	}
}

// mergeMessage inserts msg or, if a message with the same timestamp is
// already in the channel, replaces it in place.
func (st *state) mergeMessage(msg model.Message, live bool) {
	if msg.ChannelID == "" || msg.Timestamp.IsZero() {
		st.e.log.Debug("dropping message without channel or timestamp")
		return
	}
	msg = msg.Clone()
	cs := st.ensureChannel(msg.ChannelID)
	if msg.UserID != "" {
		st.ensureUser(msg.UserID)
	}
	for _, id := range msg.Mentions {
		st.ensureUser(id)
	}

	i := sort.Search(len(cs.messages), func(i int) bool {
		return cs.messages[i].Timestamp.Compare(msg.Timestamp) >= 0
	})
	if i < len(cs.messages) && cs.messages[i].Timestamp.Compare(msg.Timestamp) == 0 {
		if reflect.DeepEqual(cs.messages[i], msg) {
			return
		}
		cs.messages[i] = msg
		st.emitMessage(MessageUpdated, msg, live)
		return
	}

	cs.messages = append(cs.messages, model.Message{})
	copy(cs.messages[i+1:], cs.messages[i:])
	cs.messages[i] = msg
	st.emitMessage(MessageAdded, msg, live)

	if live && !msg.Edited && msg.UserID != st.selfID() && st.e.cfg.OnNewMessage != nil {
		sender := model.User{ID: msg.UserID, Name: msg.Username}
		if u, ok := st.users[msg.UserID]; ok && !u.Stub {
			sender = *u
		}
		st.e.cfg.OnNewMessage(msg.Clone(), cs.channel.Clone(), sender)
	}
}

func (st *state) emitMessage(kind ChangeKind, msg model.Message, live bool) {
	c := msg.Clone()
	st.emit(Change{
		Kind:      kind,
		ChannelID: msg.ChannelID,
		MessageTS: msg.Timestamp,
		UserID:    msg.UserID,
		Message:   &c,
		Live:      live,
	})
}

func (st *state) emitChannel(kind ChangeKind, cs *channelState) {
	c := cs.channel.Clone()
	st.emit(Change{Kind: kind, ChannelID: c.ID, Channel: &c})
}

func (st *state) emitUser(kind ChangeKind, u *model.User) {
	c := *u
	st.emit(Change{Kind: kind, UserID: c.ID, User: &c})
}

// kindFromID guesses the kind of a channel known only by id.
func kindFromID(id string) model.ChannelKind {
	switch {
	case strings.HasPrefix(id, "D"):
		return model.KindDirect
	case strings.HasPrefix(id, "G"):
		return model.KindPrivate
	default:
		return model.KindPublic
	}
}

// ensureChannel returns the channel, creating and enriching a stub if it is
// not known yet.
func (st *state) ensureChannel(id string) *channelState {
	if cs, ok := st.channels[id]; ok {
		return cs
	}
	cs := &channelState{channel: model.Channel{ID: id, Kind: kindFromID(id), Stub: true}}
	st.channels[id] = cs
	st.emitChannel(ChannelAdded, cs)
	st.enrichChannel(id)
	return cs
}

func (st *state) ensureUser(id string) *model.User {
	if u, ok := st.users[id]; ok {
		return u
	}
	u := &model.User{ID: id, Stub: true}
	st.users[id] = u
	st.emitUser(UserAdded, u)
	st.enrichUser(id)
	return u
}

func (st *state) updateChannel(up model.ChannelUpdate, full bool) {
	if up.ID == "" {
		return
	}
	cs, known := st.channels[up.ID]
	if !known {
		if full {
			cs = &channelState{channel: model.Channel{ID: up.ID}}
			mergeChannel(&cs.channel, up)
			st.channels[up.ID] = cs
			st.e.dir.setChannel(up.ID, cs.channel.Name)
			st.emitChannel(ChannelAdded, cs)
			return
		}
		cs = st.ensureChannel(up.ID)
	}

	before := cs.channel.Clone()
	mergeChannel(&cs.channel, up)
	if full {
		cs.channel.Stub = false
	}
	if reflect.DeepEqual(before, cs.channel) {
		return
	}
	st.e.dir.setChannel(up.ID, cs.channel.Name)
	st.emitChannel(ChannelUpdated, cs)
}

func mergeChannel(ch *model.Channel, up model.ChannelUpdate) {
	if up.Name != nil {
		ch.Name = *up.Name
	}
	if up.Kind != nil {
		ch.Kind = *up.Kind
	}
	if up.IsMember != nil {
		ch.IsMember = *up.IsMember
	}
	if up.Unread != nil {
		ch.Unread = *up.Unread
	}
	if up.LastRead != nil {
		ch.LastRead = *up.LastRead
	}
	if up.Participants != nil {
		ch.Participants = append([]string(nil), up.Participants...)
	}
}

func (st *state) joinChannel(ch model.Channel) {
	if ch.ID == "" {
		return
	}
	cs, known := st.channels[ch.ID]
	if known && cs.channel.IsMember {
		return
	}
	ch.IsMember = true
	if !known {
		cs = &channelState{channel: ch.Clone()}
		st.channels[ch.ID] = cs
		if ch.Stub {
			st.enrichChannel(ch.ID)
		}
	} else {
		mergeChannel(&cs.channel, ch.AsUpdate())
		if !ch.Stub {
			cs.channel.Stub = false
		}
	}
	st.e.dir.setChannel(ch.ID, cs.channel.Name)
	st.emitChannel(ChannelJoined, cs)
}

func (st *state) openChat(channelID, userID string) {
	if channelID == "" {
		return
	}
	cs, known := st.channels[channelID]
	if known && cs.channel.IsMember {
		return
	}
	if !known {
		cs = &channelState{channel: model.Channel{
			ID:   channelID,
			Name: userID,
			Kind: model.KindDirect,
			Stub: true,
		}}
		if userID != "" {
			cs.channel.Participants = []string{userID}
		}
		st.channels[channelID] = cs
		st.enrichChannel(channelID)
	}
	if userID != "" {
		st.ensureUser(userID)
	}
	cs.channel.IsMember = true
	st.emitChannel(ChatOpened, cs)
}

func (st *state) updateUser(up model.UserUpdate, full bool) {
	if up.ID == "" {
		return
	}
	u, known := st.users[up.ID]
	if !known {
		if full {
			u = &model.User{ID: up.ID}
			mergeUser(u, up)
			st.users[up.ID] = u
			st.e.dir.setUser(u.ID, u.Name)
			st.emitUser(UserAdded, u)
			return
		}
		u = st.ensureUser(up.ID)
	}

	before := *u
	mergeUser(u, up)
	if full {
		u.Stub = false
	}
	if before == *u {
		return
	}
	st.e.dir.setUser(u.ID, u.Name)
	st.emitUser(UserUpdated, u)
}

func mergeUser(u *model.User, up model.UserUpdate) {
	if up.Name != nil {
		u.Name = *up.Name
	}
	if up.Avatar != nil {
		u.Avatar = *up.Avatar
	}
	if up.Presence != nil {
		u.Presence = *up.Presence
	}
}

func (st *state) sortedChannels() []model.Channel {
	out := make([]model.Channel, 0, len(st.channels))
	for _, cs := range st.channels {
		out = append(out, cs.channel.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// enrichChannel fetches a stub channel in the background. The result comes
// back through the mailbox as a full update scoped to the current session.
func (st *state) enrichChannel(id string) {
	if st.fetcher == nil || st.session == nil {
		return
	}
	f := st.fetcher
	st.enrich("channel:"+id, func(ctx context.Context) (model.Event, error) {
		ch, err := f.FetchChannel(ctx, id)
		if err != nil {
			return nil, err
		}
		return model.ChannelUpdateEvent{Update: ch.AsUpdate(), Full: true}, nil
	})
}

func (st *state) enrichUser(id string) {
	if st.fetcher == nil || st.session == nil || id == "" {
		return
	}
	f := st.fetcher
	st.enrich("user:"+id, func(ctx context.Context) (model.Event, error) {
		u, err := f.FetchUser(ctx, id)
		if err != nil {
			return nil, err
		}
		return model.UserUpdateEvent{Update: u.AsUpdate(), Full: true}, nil
	})
}

func (st *state) enrich(key string, fetch func(ctx context.Context) (model.Event, error)) {
	e := st.e
	sess := st.session
	parent := st.ctx
	go func() {
		v, err, _ := e.flight.Do(sess.ID.String()+"/"+key, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(parent, e.cfg.EnrichTimeout)
			defer cancel()
			return fetch(ctx)
		})
		if err != nil {
			e.log.Warn("enriching %s: %v", key, err)
			if errs.IsFatal(err) {
				if err := e.ref.SendContext(parent, authFailureMsg{session: sess.ID, err: err}); err != nil {
					e.log.Debug("auth failure for %s dropped: %v", key, err)
				}
			}
			return
		}
		if err := e.SubmitFor(parent, sess, v.(model.Event)); err != nil {
			e.log.Debug("enrichment result for %s dropped: %v", key, err)
		}
	}()
}
