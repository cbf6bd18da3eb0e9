// Package wire translates between the chat service's JSON payloads and the
// normalized model. Decoding is stateless apart from the injected name
// Resolver.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/model"
)

// Codec decodes stream frames and action responses.
type Codec struct {
	resolver Resolver
}

// NewCodec creates a codec that resolves inline references with r. r may
// be nil.
func NewCodec(r Resolver) *Codec {
	return &Codec{resolver: r}
}

// frame is the union of the fields used by the stream frame types.
type frame struct {
	Type     string          `json:"type"`
	Subtype  string          `json:"subtype"`
	Channel  json.RawMessage `json:"channel"`
	User     json.RawMessage `json:"user"`
	Users    []string        `json:"users"`
	TS       string          `json:"ts"`
	Presence string          `json:"presence"`
	Unread   *int            `json:"unread_count_display"`
	Error    json.RawMessage `json:"error"`
}

type frameError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

const streamMethod = "stream"

// knownFrames lists the frame types DecodeEvent understands.
var knownFrames = map[string]bool{
	"hello": true, "goodbye": true, "error": true, "message": true,
	"channel_marked": true, "group_marked": true, "im_marked": true, "mpim_marked": true,
	"channel_rename": true, "group_rename": true, "channel_created": true,
	"channel_joined": true, "group_joined": true, "channel_left": true, "group_left": true,
	"im_open": true, "group_open": true, "im_close": true, "group_close": true,
	"user_change": true, "team_join": true,
	"presence_change": true, "manual_presence_change": true,
}

// DecodeEvent decodes one stream frame. Frames with an unrecognised type
// decode to model.UnknownEvent; only malformed JSON or a known frame
// missing its identifying fields is an error.
func (c *Codec) DecodeEvent(raw []byte) (model.Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, errs.Decode(streamMethod, err)
	}
	if !knownFrames[head.Type] {
		return model.UnknownEvent{RawType: head.Type}, nil
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.Decode(streamMethod, fmt.Errorf("%s: %w", head.Type, err))
	}

	switch f.Type {
	case "hello":
		return model.StreamStartEvent{}, nil

	case "goodbye":
		return model.StreamEndEvent{Reason: "goodbye"}, nil

	case "error":
		var fe frameError
		if len(f.Error) > 0 {
			if err := json.Unmarshal(f.Error, &fe); err != nil {
				return nil, errs.Decode(streamMethod, fmt.Errorf("error: %w", err))
			}
		}
		return model.ErrorEvent{Code: fe.Code, Message: fe.Msg}, nil

	case "message":
		return c.decodeMessage(raw)

	case "channel_marked", "group_marked", "im_marked", "mpim_marked":
		id, err := stringField(f.Type, "channel", f.Channel)
		if err != nil {
			return nil, err
		}
		ts := model.Timestamp(f.TS)
		update := model.ChannelUpdate{ID: id, LastRead: &ts, Unread: f.Unread}
		if f.Unread == nil {
			zero := 0
			update.Unread = &zero
		}
		return model.ChannelUpdateEvent{Update: update}, nil

	case "channel_rename", "group_rename":
		ch, err := objectField[wireChannel](f.Type, "channel", f.Channel)
		if err != nil {
			return nil, err
		}
		return model.ChannelUpdateEvent{Update: model.ChannelUpdate{ID: ch.ID, Name: &ch.Name}}, nil

	case "channel_created":
		ch, err := objectField[wireChannel](f.Type, "channel", f.Channel)
		if err != nil {
			return nil, err
		}
		return model.ChannelUpdateEvent{Update: c.channel(ch).AsUpdate(), Full: true}, nil

	case "channel_joined", "group_joined":
		ch, err := objectField[wireChannel](f.Type, "channel", f.Channel)
		if err != nil {
			return nil, err
		}
		if f.Type == "group_joined" && !ch.IsMPIM {
			ch.IsGroup = true
		}
		channel := c.channel(ch)
		channel.IsMember = true
		return model.ChannelJoinedEvent{Channel: channel}, nil

	case "channel_left", "group_left":
		id, err := stringField(f.Type, "channel", f.Channel)
		if err != nil {
			return nil, err
		}
		return model.ChannelLeftEvent{ChannelID: id}, nil

	case "im_open", "group_open", "im_close", "group_close":
		id, err := stringField(f.Type, "channel", f.Channel)
		if err != nil {
			return nil, err
		}
		userID, _ := optionalString(f.User)
		if f.Type == "im_open" || f.Type == "group_open" {
			return model.ChatOpenedEvent{ChannelID: id, UserID: userID}, nil
		}
		return model.ChatClosedEvent{ChannelID: id, UserID: userID}, nil

	case "user_change", "team_join":
		u, err := objectField[wireUser](f.Type, "user", f.User)
		if err != nil {
			return nil, err
		}
		return model.UserUpdateEvent{Update: user(u).AsUpdate(), Full: true}, nil

	case "presence_change":
		presence := model.ParsePresence(f.Presence)
		ids := f.Users
		if id, ok := optionalString(f.User); ok && id != "" {
			ids = append([]string{id}, ids...)
		}
		if len(ids) == 0 {
			return nil, errs.Decode(streamMethod, fmt.Errorf("%s: missing user", f.Type))
		}
		return model.PresenceChangeEvent{UserIDs: ids, Presence: presence}, nil

	case "manual_presence_change":
		return model.PresenceChangeEvent{Presence: model.ParsePresence(f.Presence), Self: true}, nil

	default:
		return model.UnknownEvent{RawType: f.Type}, nil
	}
}

func (c *Codec) decodeMessage(raw []byte) (model.Event, error) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Decode(streamMethod, err)
	}

	switch m.Subtype {
	case "message_deleted", "message_replied":
		return model.UnknownEvent{RawType: "message/" + m.Subtype}, nil
	case "message_changed":
		if m.Message == nil {
			return nil, errs.Decode(streamMethod, fmt.Errorf("message_changed: missing message"))
		}
		if m.Channel == "" || m.Message.TS == "" {
			return nil, errs.Decode(streamMethod, fmt.Errorf("message_changed: missing channel or ts"))
		}
		msg := c.message(m.Channel, m.Message)
		msg.Edited = true
		return model.MessageEvent{Message: msg}, nil
	}

	if m.Hidden {
		return model.UnknownEvent{RawType: "message/" + m.Subtype}, nil
	}
	if m.Channel == "" || m.TS == "" {
		return nil, errs.Decode(streamMethod, fmt.Errorf("message: missing channel or ts"))
	}
	return model.MessageEvent{Message: c.message(m.Channel, &m)}, nil
}

// stringField reads a field that carries a plain id.
func stringField(frameType, name string, raw json.RawMessage) (string, error) {
	s, ok := optionalString(raw)
	if !ok || s == "" {
		return "", errs.Decode(streamMethod, fmt.Errorf("%s: missing %s", frameType, name))
	}
	return s, nil
}

func optionalString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// objectField reads a field that carries a full object with an id.
func objectField[T wireChannel | wireUser](frameType, name string, raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		return nil, errs.Decode(streamMethod, fmt.Errorf("%s: missing %s", frameType, name))
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, errs.Decode(streamMethod, fmt.Errorf("%s: %w", frameType, err))
	}
	var id string
	switch obj := any(v).(type) {
	case *wireChannel:
		id = obj.ID
	case *wireUser:
		id = obj.ID
	}
	if id == "" {
		return nil, errs.Decode(streamMethod, fmt.Errorf("%s: %s without id", frameType, name))
	}
	return v, nil
}
