package engine

import "github.com/codefionn/slackline/internal/model"

// ChangeKind tells the presentation boundary what to refresh.
type ChangeKind int

const (
	MessageAdded ChangeKind = iota
	MessageUpdated
	ChannelAdded
	ChannelUpdated
	ChannelJoined
	ChannelLeft
	ChatOpened
	ChatClosed
	UserAdded
	UserUpdated
	// ModelReset means the model was cleared because another team signed
	// in. Everything shown before is gone.
	ModelReset
)

func (k ChangeKind) String() string {
	switch k {
	case MessageAdded:
		return "message-added"
	case MessageUpdated:
		return "message-updated"
	case ChannelAdded:
		return "channel-added"
	case ChannelUpdated:
		return "channel-updated"
	case ChannelJoined:
		return "channel-joined"
	case ChannelLeft:
		return "channel-left"
	case ChatOpened:
		return "chat-opened"
	case ChatClosed:
		return "chat-closed"
	case UserAdded:
		return "user-added"
	case UserUpdated:
		return "user-updated"
	case ModelReset:
		return "model-reset"
	default:
		return "unknown"
	}
}

// Change describes one applied mutation. It holds copies; mutating them
// does not affect the model.
type Change struct {
	Kind      ChangeKind
	ChannelID string
	MessageTS model.Timestamp
	UserID    string

	Channel *model.Channel
	User    *model.User
	Message *model.Message
	// Live is set for messages that arrived over the stream, as opposed to
	// history, cache hydration or an action response.
	Live bool
}
