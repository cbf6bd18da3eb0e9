package client

import (
	"context"

	"github.com/codefionn/slackline/internal/api"
	"github.com/codefionn/slackline/internal/model"
	"github.com/codefionn/slackline/internal/wire"
)

// Every action surfaces its failure to the caller only. Results are applied
// to the model through the engine, scoped to the session that issued them.

// PostMessage sends text to a channel. The posted message is applied right
// away; the stream's echo of it is deduplicated.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) (model.Message, error) {
	sess, err := c.currentSession()
	if err != nil {
		return model.Message{}, err
	}
	msg, err := sess.PostMessage(ctx, channelID, text)
	if err != nil {
		return model.Message{}, c.check(err)
	}
	return msg, c.engine.SubmitFor(ctx, sess.Identity(), model.MessageEvent{Message: msg})
}

// PostImage uploads a file into a channel. The resulting message arrives
// over the stream.
func (c *Client) PostImage(ctx context.Context, up wire.Upload) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	return c.check(sess.PostImage(ctx, up))
}

// MarkChannel moves the read marker of a channel to ts.
func (c *Client) MarkChannel(ctx context.Context, channelID string, ts model.Timestamp) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	if err := sess.MarkChannel(ctx, channelID, ts); err != nil {
		return c.check(err)
	}
	unread := 0
	return c.engine.SubmitFor(ctx, sess.Identity(), model.ChannelUpdateEvent{Update: model.ChannelUpdate{
		ID:       channelID,
		LastRead: &ts,
		Unread:   &unread,
	}})
}

// JoinChannel joins a public channel.
func (c *Client) JoinChannel(ctx context.Context, channelID string) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	ch, err := sess.JoinChannel(ctx, channelID)
	if err != nil {
		return c.check(err)
	}
	return c.engine.SubmitFor(ctx, sess.Identity(), model.ChannelJoinedEvent{Channel: ch})
}

// LeaveChannel leaves a channel, using the private-group variant when the
// channel is known to be private.
func (c *Client) LeaveChannel(ctx context.Context, channelID string) error {
	ch, ok, err := c.engine.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	if ok && ch.Kind == model.KindPrivate {
		return c.leave(ctx, channelID, (*api.Session).LeaveGroup)
	}
	return c.leave(ctx, channelID, (*api.Session).LeaveChannel)
}

// LeaveGroup leaves a private group.
func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	return c.leave(ctx, groupID, (*api.Session).LeaveGroup)
}

func (c *Client) leave(ctx context.Context, channelID string, call func(*api.Session, context.Context, string) error) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	if err := call(sess, ctx, channelID); err != nil {
		return c.check(err)
	}
	return c.engine.SubmitFor(ctx, sess.Identity(), model.ChannelLeftEvent{ChannelID: channelID})
}

// OpenChat opens the direct chat with a user and returns its channel id.
func (c *Client) OpenChat(ctx context.Context, userID string) (string, error) {
	sess, err := c.currentSession()
	if err != nil {
		return "", err
	}
	channelID, err := sess.OpenChat(ctx, userID)
	if err != nil {
		return "", c.check(err)
	}
	return channelID, c.engine.SubmitFor(ctx, sess.Identity(), model.ChatOpenedEvent{ChannelID: channelID, UserID: userID})
}

// CloseChat closes a direct chat.
func (c *Client) CloseChat(ctx context.Context, channelID string) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	if err := sess.CloseChat(ctx, channelID); err != nil {
		return c.check(err)
	}
	return c.engine.SubmitFor(ctx, sess.Identity(), model.ChatClosedEvent{ChannelID: channelID})
}

// LoadMessages fetches the newest page of a channel. It reports whether
// older messages exist.
func (c *Client) LoadMessages(ctx context.Context, channelID string) (bool, error) {
	return c.history(ctx, api.HistoryQuery{ChannelID: channelID, Limit: c.cfg.HistoryPageSize})
}

// LoadHistory fetches the page before the oldest known message of a
// channel. Repeating the call for the same position is harmless.
func (c *Client) LoadHistory(ctx context.Context, channelID string) (bool, error) {
	oldest, err := c.engine.Oldest(ctx, channelID)
	if err != nil {
		return false, err
	}
	return c.history(ctx, api.HistoryQuery{ChannelID: channelID, Latest: oldest, Limit: c.cfg.HistoryPageSize})
}

func (c *Client) history(ctx context.Context, q api.HistoryQuery) (bool, error) {
	sess, err := c.currentSession()
	if err != nil {
		return false, err
	}
	page, err := sess.FetchHistory(ctx, q)
	if err != nil {
		return false, c.check(err)
	}
	return page.HasMore, c.engine.MergeHistory(ctx, sess.Identity(), page)
}

// TestLogin checks that the held session is still accepted.
func (c *Client) TestLogin(ctx context.Context) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	_, err = sess.TestLogin(ctx)
	return c.check(err)
}
