// Package model holds the normalized chat workspace entities shared by the
// codec, the sync engine and the presentation boundary.
package model

import (
	"github.com/google/uuid"

	"github.com/codefionn/slackline/internal/securemem"
)

// ChannelKind distinguishes public channels, private groups and direct chats.
type ChannelKind int

const (
	KindPublic ChannelKind = iota
	KindPrivate
	KindDirect
)

func (k ChannelKind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindPrivate:
		return "private"
	case KindDirect:
		return "directMessage"
	default:
		return "unknown"
	}
}

// Presence is a user's activity state.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceActive
	PresenceAway
)

func (p Presence) String() string {
	switch p {
	case PresenceActive:
		return "active"
	case PresenceAway:
		return "away"
	default:
		return "unknown"
	}
}

// ParsePresence maps the wire presence string.
func ParsePresence(s string) Presence {
	switch s {
	case "active":
		return PresenceActive
	case "away":
		return PresenceAway
	default:
		return PresenceUnknown
	}
}

// Session identifies one authenticated connection to a workspace. It is
// replaced wholesale on re-authentication; ID distinguishes generations so
// that responses belonging to an old session can be discarded.
type Session struct {
	ID        uuid.UUID
	TeamID    string
	UserID    string
	Token     *securemem.Token
	StreamURL string
}

// NewSession creates a session with a fresh identity.
func NewSession(teamID, userID string, token *securemem.Token) *Session {
	return &Session{
		ID:     uuid.New(),
		TeamID: teamID,
		UserID: userID,
		Token:  token,
	}
}

// Same reports whether both sessions are the same generation.
func (s *Session) Same(other *Session) bool {
	if s == nil || other == nil {
		return false
	}
	return s.ID == other.ID
}

// Channel is a conversation the user can see.
type Channel struct {
	ID       string
	Name     string
	Kind     ChannelKind
	IsMember bool
	// Unread is the server's display unread count.
	Unread   int
	LastRead Timestamp
	// Participants lists user ids of a direct or group chat in server order.
	Participants []string
	// Stub is set while only the id is known and enrichment is pending.
	Stub bool
}

// Clone returns a deep copy.
func (c Channel) Clone() Channel {
	c.Participants = append([]string(nil), c.Participants...)
	return c
}

// User is a workspace member.
type User struct {
	ID       string
	Name     string
	Avatar   string
	Presence Presence
	Stub     bool
}

// DisplayName falls back to the id while the user is a stub.
func (u User) DisplayName() string {
	if u.Name == "" {
		return u.ID
	}
	return u.Name
}

// AttachmentField is one title/value pair of an attachment.
type AttachmentField struct {
	Title string
	Value string
	Short bool
}

// Attachment is the flattened form of message attachments and image files.
type Attachment struct {
	Color     string
	Title     string
	TitleLink string
	Pretext   string
	Text      string
	Fields    []AttachmentField
	ImageURL  string
	ImageW    int
	ImageH    int
}

// Message is a chat message. (ChannelID, Timestamp) identifies it.
type Message struct {
	ChannelID string
	Timestamp Timestamp
	UserID    string
	// Username is set for bot messages that carry no user id.
	Username string
	// Text is the raw markup as received.
	Text string
	// Body is Text rendered for display.
	Body        string
	Attachments []Attachment
	Edited      bool
	// Mentions lists user ids referenced in Text.
	Mentions []string
}

// Key returns the dedup key of the message.
func (m Message) Key() MessageKey {
	return MessageKey{ChannelID: m.ChannelID, Timestamp: m.Timestamp}
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		attachments := make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Fields = append([]AttachmentField(nil), a.Fields...)
			attachments[i] = a
		}
		m.Attachments = attachments
	}
	m.Mentions = append([]string(nil), m.Mentions...)
	return m
}

// MessageKey is the dedup key of a message.
type MessageKey struct {
	ChannelID string
	Timestamp Timestamp
}

// HistoryPage is one page of channel history, oldest message first.
type HistoryPage struct {
	ChannelID  string
	Messages   []Message
	HasMore    bool
	NextCursor string
}
