package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/slackline/internal/model"
)

type collect struct {
	got []Notification
}

func (c *collect) Notify(n Notification) { c.got = append(c.got, n) }

var general = model.Channel{ID: "C1", Name: "general", Kind: model.KindPublic, IsMember: true}

func incoming(channel, body string) model.Message {
	return model.Message{ChannelID: channel, Timestamp: "100.1", UserID: "U1", Body: body}
}

func TestSuppression(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(n *Notifier)
		channel   string
		delivered bool
	}{
		{"inactive app", func(n *Notifier) {}, "C1", true},
		{"active app, other channel", func(n *Notifier) {
			n.SetAppActive(true)
			n.SetActiveChannel("C2")
		}, "C1", true},
		{"active app, same channel", func(n *Notifier) {
			n.SetAppActive(true)
			n.SetActiveChannel("C1")
		}, "C1", false},
		{"inactive app, same channel", func(n *Notifier) {
			n.SetActiveChannel("C1")
		}, "C1", true},
		{"muted", func(n *Notifier) {
			n.SetMuted([]string{"C1"})
		}, "C1", false},
		{"disabled", func(n *Notifier) {
			n.SetEnabled(false)
		}, "C1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &collect{}
			n := New(sink)
			tt.setup(n)

			n.MessageReceived(incoming(tt.channel, "hi"), general, model.User{ID: "U1", Name: "alice"})
			assert.Equal(t, tt.delivered, len(sink.got) == 1)
		})
	}
}

func TestBuild(t *testing.T) {
	note := Build(incoming("C1", "look at <b>this</b> &amp; <a href=\"https://x.io\">that</a>"),
		general, model.User{ID: "U1", Name: "alice"})

	assert.Equal(t, ID("C1"), note.ID)
	assert.Equal(t, "alice", note.Sender)
	assert.Equal(t, "look at this & that", note.Body)
	assert.Equal(t, "alice in #general", note.Title())
	assert.NotEqual(t, ID("C1"), ID("C2"))
}

func TestBuildFallbacks(t *testing.T) {
	msg := incoming("D1", "")
	msg.UserID = ""
	msg.Username = "deploy-bot"
	msg.Attachments = []model.Attachment{{ImageURL: "https://files.example.com/a.png"}}

	note := Build(msg, model.Channel{ID: "D1", Kind: model.KindDirect}, model.User{})
	assert.Equal(t, "deploy-bot", note.Sender)
	assert.Equal(t, "[image]", note.Body)
	assert.Equal(t, "deploy-bot", note.Title())
}

func TestSinkFunc(t *testing.T) {
	var got []Notification
	n := New(SinkFunc(func(note Notification) { got = append(got, note) }))
	n.MessageReceived(incoming("C1", "hello"), general, model.User{ID: "U1", Name: "alice"})
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Body)
}
