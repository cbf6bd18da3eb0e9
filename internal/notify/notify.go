// Package notify decides which incoming messages become user notifications
// and shapes them for the OS-level delivery, which lives outside the client.
package notify

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/codefionn/slackline/internal/htmlconv"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/model"
)

// maxBodyRunes bounds the notification preview.
const maxBodyRunes = 200

// Notification is one (channel, sender, body) tuple handed to the sink.
type Notification struct {
	// ID is stable per channel so a newer notification replaces the
	// previous one of the same channel.
	ID          uint64
	ChannelID   string
	ChannelName string
	Kind        model.ChannelKind
	Sender      string
	Body        string
	Timestamp   model.Timestamp
}

// Title is what a notification popup shows as heading.
func (n Notification) Title() string {
	if n.Kind == model.KindDirect || n.ChannelName == "" {
		return n.Sender
	}
	return n.Sender + " in #" + n.ChannelName
}

// Sink delivers notifications. Notify is called from the sync engine's
// goroutine and must not block.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Notifier filters new messages by focus and mute state.
type Notifier struct {
	sink Sink
	log  *logger.Logger

	mu            sync.Mutex
	enabled       bool
	appActive     bool
	activeChannel string
	muted         map[string]bool
}

// New creates an enabled notifier. The app starts out inactive.
func New(sink Sink) *Notifier {
	return &Notifier{
		sink:    sink,
		log:     logger.Global().WithPrefix("notify"),
		enabled: true,
		muted:   make(map[string]bool),
	}
}

// SetEnabled turns all notifications on or off.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	n.enabled = enabled
	n.mu.Unlock()
}

// SetMuted replaces the set of muted channel ids.
func (n *Notifier) SetMuted(channelIDs []string) {
	muted := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		muted[id] = true
	}
	n.mu.Lock()
	n.muted = muted
	n.mu.Unlock()
}

// SetAppActive records whether the consuming surface has focus.
func (n *Notifier) SetAppActive(active bool) {
	n.mu.Lock()
	n.appActive = active
	n.mu.Unlock()
}

// SetActiveChannel records the channel the user is looking at. Empty means
// none.
func (n *Notifier) SetActiveChannel(channelID string) {
	n.mu.Lock()
	n.activeChannel = channelID
	n.mu.Unlock()
}

// Suppressed reports whether a message in channelID would be dropped.
func (n *Notifier) Suppressed(channelID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case !n.enabled:
		return true
	case n.muted[channelID]:
		return true
	case n.appActive && n.activeChannel == channelID:
		return true
	default:
		return false
	}
}

// MessageReceived is the engine's new-message hook.
func (n *Notifier) MessageReceived(msg model.Message, channel model.Channel, sender model.User) {
	if n.sink == nil || n.Suppressed(msg.ChannelID) {
		return
	}
	note := Build(msg, channel, sender)
	n.log.Debug("notifying for %s/%s", note.ChannelID, note.Timestamp)
	n.sink.Notify(note)
}

// Build shapes a notification without applying any filter.
func Build(msg model.Message, channel model.Channel, sender model.User) Notification {
	name := sender.Name
	if name == "" {
		name = msg.Username
	}
	if name == "" {
		name = sender.ID
	}

	return Notification{
		ID:          ID(msg.ChannelID),
		ChannelID:   msg.ChannelID,
		ChannelName: channel.Name,
		Kind:        channel.Kind,
		Sender:      name,
		Body:        htmlconv.Truncate(preview(msg), maxBodyRunes),
		Timestamp:   msg.Timestamp,
	}
}

// ID returns the stable notification id of a channel.
func ID(channelID string) uint64 {
	return xxhash.Sum64String(channelID)
}

func preview(msg model.Message) string {
	if body := htmlconv.ToPlainText(msg.Body); body != "" {
		return body
	}
	for _, a := range msg.Attachments {
		switch {
		case a.Title != "":
			return a.Title
		case a.Text != "":
			return htmlconv.ToPlainText(a.Text)
		case a.ImageURL != "":
			return "[image]"
		}
	}
	return ""
}
