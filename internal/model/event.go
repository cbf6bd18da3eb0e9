package model

// Event type tags. Every stream event and every internal notification the
// sync engine consumes carries one of these.
const (
	TypeMessage        = "message"
	TypeChannelUpdate  = "channel-update"
	TypeChannelJoined  = "channel-joined"
	TypeChannelLeft    = "channel-left"
	TypeUserUpdate     = "user-update"
	TypePresenceChange = "presence-change"
	TypeChatOpened     = "chat-opened"
	TypeChatClosed     = "chat-closed"
	TypeStreamStart    = "stream-start"
	TypeStreamEnd      = "stream-end"
	TypeError          = "error"
	TypeUnknown        = "unknown"
)

// Event is a decoded stream event. The set of implementations is closed;
// anything the codec does not recognise becomes an UnknownEvent.
type Event interface {
	Type() string
}

// MessageEvent carries a new or edited message.
type MessageEvent struct {
	Message Message
}

func (MessageEvent) Type() string { return TypeMessage }

// ChannelUpdate holds the fields of a channel that changed. Nil pointers are
// left untouched by a merge.
type ChannelUpdate struct {
	ID           string
	Name         *string
	Kind         *ChannelKind
	IsMember     *bool
	Unread       *int
	LastRead     *Timestamp
	Participants []string
}

// ChannelUpdateEvent merges fields into a channel.
type ChannelUpdateEvent struct {
	Update ChannelUpdate
	// Full is set when the update carries a complete channel object, as
	// from a listing or an info lookup. It clears the stub flag.
	Full bool
}

func (ChannelUpdateEvent) Type() string { return TypeChannelUpdate }

// ChannelJoinedEvent marks the user as a member of Channel.
type ChannelJoinedEvent struct {
	Channel Channel
}

func (ChannelJoinedEvent) Type() string { return TypeChannelJoined }

// ChannelLeftEvent marks the user as no longer a member.
type ChannelLeftEvent struct {
	ChannelID string
}

func (ChannelLeftEvent) Type() string { return TypeChannelLeft }

// UserUpdate holds the fields of a user that changed.
type UserUpdate struct {
	ID       string
	Name     *string
	Avatar   *string
	Presence *Presence
}

// UserUpdateEvent merges fields into a user.
type UserUpdateEvent struct {
	Update UserUpdate
	Full   bool
}

func (UserUpdateEvent) Type() string { return TypeUserUpdate }

// PresenceChangeEvent sets the presence of one or more users. Self is set
// for manual presence changes of the signed-in user, whose id the stream
// does not repeat.
type PresenceChangeEvent struct {
	UserIDs  []string
	Presence Presence
	Self     bool
}

func (PresenceChangeEvent) Type() string { return TypePresenceChange }

// ChatOpenedEvent marks a direct chat as open.
type ChatOpenedEvent struct {
	ChannelID string
	UserID    string
}

func (ChatOpenedEvent) Type() string { return TypeChatOpened }

// ChatClosedEvent marks a direct chat as closed.
type ChatClosedEvent struct {
	ChannelID string
	UserID    string
}

func (ChatClosedEvent) Type() string { return TypeChatClosed }

// StreamStartEvent is observed when the event stream opens.
type StreamStartEvent struct{}

func (StreamStartEvent) Type() string { return TypeStreamStart }

// StreamEndEvent is observed when the server announces the end of the stream.
type StreamEndEvent struct {
	Reason string
}

func (StreamEndEvent) Type() string { return TypeStreamEnd }

// ErrorEvent is an error frame sent by the server over the stream.
type ErrorEvent struct {
	Code    int
	Message string
}

func (ErrorEvent) Type() string { return TypeError }

// UnknownEvent is any frame whose type tag is not recognised. It is ignored.
type UnknownEvent struct {
	RawType string
}

func (UnknownEvent) Type() string { return TypeUnknown }

// AsUpdate expresses a complete channel as a merge.
func (c Channel) AsUpdate() ChannelUpdate {
	c = c.Clone()
	u := ChannelUpdate{
		ID:           c.ID,
		Kind:         &c.Kind,
		IsMember:     &c.IsMember,
		Unread:       &c.Unread,
		Participants: c.Participants,
	}
	if c.Name != "" {
		u.Name = &c.Name
	}
	if !c.LastRead.IsZero() {
		u.LastRead = &c.LastRead
	}
	return u
}

// AsUpdate expresses a complete user as a merge. Unknown presence is left
// out so a profile change does not reset a known presence.
func (u User) AsUpdate() UserUpdate {
	up := UserUpdate{ID: u.ID, Name: &u.Name, Avatar: &u.Avatar}
	if u.Presence != PresenceUnknown {
		up.Presence = &u.Presence
	}
	return up
}
