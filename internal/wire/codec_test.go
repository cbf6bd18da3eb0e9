package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/model"
)

func TestDecodeEventTypes(t *testing.T) {
	codec := NewCodec(nil)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"hello", `{"type":"hello"}`, model.TypeStreamStart},
		{"goodbye", `{"type":"goodbye","source":"gateway_server"}`, model.TypeStreamEnd},
		{"error", `{"type":"error","error":{"code":1,"msg":"Socket URL has expired"}}`, model.TypeError},
		{"message", `{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"100.1"}`, model.TypeMessage},
		{"marked", `{"type":"im_marked","channel":"D1","ts":"100.1"}`, model.TypeChannelUpdate},
		{"rename", `{"type":"group_rename","channel":{"id":"G1","name":"secret"}}`, model.TypeChannelUpdate},
		{"created", `{"type":"channel_created","channel":{"id":"C2","name":"new","creator":"U1"}}`, model.TypeChannelUpdate},
		{"joined", `{"type":"channel_joined","channel":{"id":"C1","name":"general","is_channel":true}}`, model.TypeChannelJoined},
		{"left", `{"type":"group_left","channel":"G1"}`, model.TypeChannelLeft},
		{"im open", `{"type":"im_open","user":"U1","channel":"D1"}`, model.TypeChatOpened},
		{"im close", `{"type":"im_close","user":"U1","channel":"D1"}`, model.TypeChatClosed},
		{"user change", `{"type":"user_change","user":{"id":"U1","name":"al"}}`, model.TypeUserUpdate},
		{"team join", `{"type":"team_join","user":{"id":"U9","name":"new"}}`, model.TypeUserUpdate},
		{"presence", `{"type":"presence_change","user":"U1","presence":"away"}`, model.TypePresenceChange},
		{"manual presence", `{"type":"manual_presence_change","presence":"active"}`, model.TypePresenceChange},
		{"typing is ignored", `{"type":"user_typing","channel":"C1","user":"U1"}`, model.TypeUnknown},
		{"future type is ignored", `{"type":"huddle_changed","huddle":{"weird":[1,2]}}`, model.TypeUnknown},
		{"reply ack is ignored", `{"ok":true,"reply_to":1,"ts":"1.0","text":"x"}`, model.TypeUnknown},
		{"deletion is ignored", `{"type":"message","subtype":"message_deleted","channel":"C1","deleted_ts":"1.0","ts":"2.0"}`, model.TypeUnknown},
		{"hidden is ignored", `{"type":"message","subtype":"message_replied","hidden":true,"channel":"C1","ts":"2.0"}`, model.TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := codec.DecodeEvent([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type())
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	codec := NewCodec(nil)

	tests := []struct {
		name  string
		frame string
	}{
		{"truncated", `{"type":`},
		{"not an object", `[1,2,3]`},
		{"message without ts", `{"type":"message","channel":"C1","text":"x"}`},
		{"message without channel", `{"type":"message","ts":"1.0","text":"x"}`},
		{"edit without nested message", `{"type":"message","subtype":"message_changed","channel":"C1"}`},
		{"marked without channel", `{"type":"channel_marked","ts":"1.0"}`},
		{"joined without id", `{"type":"channel_joined","channel":{"name":"x"}}`},
		{"presence without user", `{"type":"presence_change","presence":"away"}`},
		{"wrong field type", `{"type":"presence_change","users":"U1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := codec.DecodeEvent([]byte(tt.frame))
			require.Error(t, err)
			assert.Nil(t, ev)
			assert.Equal(t, errs.KindDecode, errs.KindOf(err))
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	codec := NewCodec(mapResolver{users: map[string]string{"U2": "bob"}})

	ev, err := codec.DecodeEvent([]byte(`{
		"type": "message",
		"channel": "C1",
		"user": "U1",
		"text": "ping <@U2>",
		"ts": "100.1",
		"attachments": [{
			"color": "36a64f",
			"title": "Build",
			"title_link": "https://ci/1",
			"text": "*passed*",
			"fields": [{"title": "Branch", "value": "main", "short": true}]
		}, {
			"fallback": "only a fallback"
		}],
		"files": [
			{"name": "cat.png", "mimetype": "image/png", "url_private": "https://f/cat.png", "thumb_360": "https://f/cat_360.png", "thumb_360_w": 360, "thumb_360_h": 200},
			{"name": "doc.pdf", "mimetype": "application/pdf", "url_private": "https://f/doc.pdf"}
		]
	}`))
	require.NoError(t, err)

	msg := ev.(model.MessageEvent).Message
	assert.Equal(t, "C1", msg.ChannelID)
	assert.Equal(t, model.Timestamp("100.1"), msg.Timestamp)
	assert.Equal(t, "U1", msg.UserID)
	assert.Equal(t, "ping <@U2>", msg.Text)
	assert.Equal(t, "ping @bob", msg.Body)
	assert.Equal(t, []string{"U2"}, msg.Mentions)
	assert.False(t, msg.Edited)

	require.Len(t, msg.Attachments, 3)
	assert.Equal(t, model.Attachment{
		Color:     "36a64f",
		Title:     "Build",
		TitleLink: "https://ci/1",
		Text:      "<b>passed</b>",
		Fields:    []model.AttachmentField{{Title: "Branch", Value: "main", Short: true}},
	}, msg.Attachments[0])
	assert.Equal(t, "only a fallback", msg.Attachments[1].Text)
	assert.Equal(t, model.Attachment{
		Title:     "cat.png",
		TitleLink: "https://f/cat.png",
		ImageURL:  "https://f/cat_360.png",
		ImageW:    360,
		ImageH:    200,
	}, msg.Attachments[2])
}

func TestDecodeMessageChanged(t *testing.T) {
	codec := NewCodec(nil)

	ev, err := codec.DecodeEvent([]byte(`{
		"type": "message",
		"subtype": "message_changed",
		"channel": "C1",
		"ts": "101.0",
		"message": {"type": "message", "user": "U1", "text": "hi edited", "ts": "100.1", "edited": {"user": "U1", "ts": "101.0"}}
	}`))
	require.NoError(t, err)

	msg := ev.(model.MessageEvent).Message
	assert.Equal(t, "C1", msg.ChannelID)
	assert.Equal(t, model.Timestamp("100.1"), msg.Timestamp)
	assert.Equal(t, "hi edited", msg.Body)
	assert.True(t, msg.Edited)
}

func TestDecodeChannelEvents(t *testing.T) {
	codec := NewCodec(mapResolver{users: map[string]string{"U1": "alice"}})

	ev, err := codec.DecodeEvent([]byte(`{"type":"channel_marked","channel":"C1","ts":"100.1","unread_count_display":2}`))
	require.NoError(t, err)
	update := ev.(model.ChannelUpdateEvent).Update
	assert.Equal(t, "C1", update.ID)
	require.NotNil(t, update.LastRead)
	assert.Equal(t, model.Timestamp("100.1"), *update.LastRead)
	require.NotNil(t, update.Unread)
	assert.Equal(t, 2, *update.Unread)
	assert.Nil(t, update.Name)

	ev, err = codec.DecodeEvent([]byte(`{"type":"group_joined","channel":{"id":"G1","name":"ops","members":["U1","U2"]}}`))
	require.NoError(t, err)
	joined := ev.(model.ChannelJoinedEvent).Channel
	assert.Equal(t, model.KindPrivate, joined.Kind)
	assert.True(t, joined.IsMember)

	ev, err = codec.DecodeEvent([]byte(`{"type":"channel_joined","channel":{"id":"D1","is_im":true,"user":"U1","is_open":true}}`))
	require.NoError(t, err)
	im := ev.(model.ChannelJoinedEvent).Channel
	assert.Equal(t, model.KindDirect, im.Kind)
	assert.Equal(t, "alice", im.Name)
	assert.Equal(t, []string{"U1"}, im.Participants)
}

func TestDecodePresence(t *testing.T) {
	codec := NewCodec(nil)

	ev, err := codec.DecodeEvent([]byte(`{"type":"presence_change","users":["U1","U2"],"presence":"away"}`))
	require.NoError(t, err)
	assert.Equal(t, model.PresenceChangeEvent{UserIDs: []string{"U1", "U2"}, Presence: model.PresenceAway}, ev)

	ev, err = codec.DecodeEvent([]byte(`{"type":"manual_presence_change","presence":"away"}`))
	require.NoError(t, err)
	assert.Equal(t, model.PresenceChangeEvent{Presence: model.PresenceAway, Self: true}, ev)
}

func TestDecodeUserChange(t *testing.T) {
	codec := NewCodec(nil)

	ev, err := codec.DecodeEvent([]byte(`{"type":"user_change","user":{"id":"U1","name":"al","real_name":"Alice A","profile":{"display_name":"alice","image_48":"https://img/48"}}}`))
	require.NoError(t, err)

	uev := ev.(model.UserUpdateEvent)
	assert.True(t, uev.Full)
	assert.Equal(t, "U1", uev.Update.ID)
	assert.Equal(t, "alice", *uev.Update.Name)
	assert.Equal(t, "https://img/48", *uev.Update.Avatar)
	assert.Nil(t, uev.Update.Presence)
}
