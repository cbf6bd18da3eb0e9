package api

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/codefionn/slackline/internal/model"
	"github.com/codefionn/slackline/internal/securemem"
	"github.com/codefionn/slackline/internal/wire"
)

// Session is the action client bound to one authenticated session. It never
// touches the shared model; callers apply results themselves.
type Session struct {
	client   *Client
	identity *model.Session
}

// Login verifies token and returns a Session for it. The token is owned by
// the returned Session from here on.
func (c *Client) Login(ctx context.Context, token *securemem.Token) (*Session, error) {
	info, err := c.testLogin(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Session{
		client:   c,
		identity: model.NewSession(info.TeamID, info.UserID, token),
	}, nil
}

// Identity returns the session identity the responses of this Session
// belong to.
func (s *Session) Identity() *model.Session {
	return s.identity
}

func (s *Session) token() *securemem.Token {
	return s.identity.Token
}

func (c *Client) testLogin(ctx context.Context, token *securemem.Token) (wire.AuthInfo, error) {
	req, err := form(wire.MethodAuthTest, nil)
	if err != nil {
		return wire.AuthInfo{}, err
	}
	var info wire.AuthInfo
	err = c.call(ctx, token, req, func(body []byte) error {
		info, err = wire.DecodeAuth(body)
		return err
	})
	return info, err
}

// TestLogin re-checks that the session token is still accepted.
func (s *Session) TestLogin(ctx context.Context) (wire.AuthInfo, error) {
	return s.client.testLogin(ctx, s.token())
}

// ConnectStream issues a fresh single-use stream endpoint. It must be
// dialed promptly.
func (s *Session) ConnectStream(ctx context.Context) (wire.StreamEndpoint, error) {
	req, err := form(wire.MethodStreamConnect, nil)
	if err != nil {
		return wire.StreamEndpoint{}, err
	}
	var ep wire.StreamEndpoint
	err = s.client.call(ctx, s.token(), req, func(body []byte) error {
		ep, err = wire.DecodeStreamEndpoint(body)
		return err
	})
	return ep, err
}

// FetchChannelList returns every conversation visible to the user,
// following the pagination cursor until it is exhausted.
func (s *Session) FetchChannelList(ctx context.Context) ([]model.Channel, error) {
	var channels []model.Channel
	cursor := ""
	for {
		params := url.Values{
			"types":            {"public_channel,private_channel,mpim,im"},
			"exclude_archived": {"true"},
			"limit":            {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		req, err := form(wire.MethodChannelList, params)
		if err != nil {
			return nil, err
		}
		var page wire.ChannelPage
		err = s.client.call(ctx, s.token(), req, func(body []byte) error {
			page, err = s.client.codec.DecodeChannelList(body)
			return err
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, page.Channels...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return channels, nil
		}
		cursor = page.NextCursor
	}
}

// FetchUserList returns every workspace member, following the cursor.
func (s *Session) FetchUserList(ctx context.Context) ([]model.User, error) {
	var users []model.User
	cursor := ""
	for {
		params := url.Values{"limit": {"200"}, "presence": {"true"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		req, err := form(wire.MethodUserList, params)
		if err != nil {
			return nil, err
		}
		var page wire.UserPage
		err = s.client.call(ctx, s.token(), req, func(body []byte) error {
			page, err = wire.DecodeUserList(body)
			return err
		})
		if err != nil {
			return nil, err
		}
		users = append(users, page.Users...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return users, nil
		}
		cursor = page.NextCursor
	}
}

// FetchUser looks up a single user for stub enrichment.
func (s *Session) FetchUser(ctx context.Context, userID string) (model.User, error) {
	req, err := form(wire.MethodUserInfo, url.Values{"user": {userID}})
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	err = s.client.call(ctx, s.token(), req, func(body []byte) error {
		u, err = wire.DecodeUser(body)
		return err
	})
	return u, err
}

// FetchChannel looks up a single conversation for stub enrichment.
func (s *Session) FetchChannel(ctx context.Context, channelID string) (model.Channel, error) {
	req, err := form(wire.MethodChannelInfo, url.Values{"channel": {channelID}})
	if err != nil {
		return model.Channel{}, err
	}
	var ch model.Channel
	err = s.client.call(ctx, s.token(), req, func(body []byte) error {
		ch, err = s.client.codec.DecodeChannel(wire.MethodChannelInfo, body)
		return err
	})
	return ch, err
}

// HistoryQuery selects a page of channel history. Latest and Oldest are
// exclusive bounds; empty means unbounded.
type HistoryQuery struct {
	ChannelID string
	Latest    model.Timestamp
	Oldest    model.Timestamp
	Limit     int
	Cursor    string
}

// FetchHistory returns one page of history, oldest message first.
func (s *Session) FetchHistory(ctx context.Context, q HistoryQuery) (model.HistoryPage, error) {
	params := url.Values{"channel": {q.ChannelID}}
	if !q.Latest.IsZero() {
		params.Set("latest", q.Latest.String())
	}
	if !q.Oldest.IsZero() {
		params.Set("oldest", q.Oldest.String())
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	req, err := form(wire.MethodHistory, params)
	if err != nil {
		return model.HistoryPage{}, err
	}
	var page model.HistoryPage
	err = s.client.call(ctx, s.token(), req, func(body []byte) error {
		page, err = s.client.codec.DecodeHistoryPage(q.ChannelID, body)
		return err
	})
	return page, err
}

// PostMessage sends text to a channel and returns the stored message.
func (s *Session) PostMessage(ctx context.Context, channelID, text string) (model.Message, error) {
	req, err := form(wire.MethodPostMessage, url.Values{"channel": {channelID}, "text": {text}})
	if err != nil {
		return model.Message{}, err
	}
	var msg model.Message
	err = s.client.call(ctx, s.token(), req, func(body []byte) error {
		msg, err = s.client.codec.DecodePostedMessage(body)
		return err
	})
	return msg, err
}

// PostImage uploads a file into a channel as a multipart request.
func (s *Session) PostImage(ctx context.Context, up wire.Upload) error {
	var buf bytes.Buffer
	contentType, err := wire.EncodeUpload(&buf, up)
	if err != nil {
		return err
	}
	req := request{method: wire.MethodUpload, contentType: contentType, body: buf.Bytes()}
	return s.client.call(ctx, s.token(), req, func(body []byte) error {
		return wire.DecodeResponse(wire.MethodUpload, body, nil)
	})
}

// MarkChannel moves the read marker of a channel to ts.
func (s *Session) MarkChannel(ctx context.Context, channelID string, ts model.Timestamp) error {
	return s.simple(ctx, wire.MethodMark, url.Values{"channel": {channelID}, "ts": {ts.String()}})
}

// JoinChannel joins a public channel and returns it as the server sees it.
func (s *Session) JoinChannel(ctx context.Context, channelID string) (model.Channel, error) {
	req, err := form(wire.MethodJoin, url.Values{"channel": {channelID}})
	if err != nil {
		return model.Channel{}, err
	}
	var ch model.Channel
	err = s.client.call(ctx, s.token(), req, func(body []byte) error {
		ch, err = s.client.codec.DecodeChannel(wire.MethodJoin, body)
		return err
	})
	if err == nil {
		ch.IsMember = true
	}
	return ch, err
}

// LeaveChannel leaves a public channel.
func (s *Session) LeaveChannel(ctx context.Context, channelID string) error {
	return s.simple(ctx, wire.MethodLeave, url.Values{"channel": {channelID}})
}

// LeaveGroup leaves a private channel. Both kinds share one endpoint.
func (s *Session) LeaveGroup(ctx context.Context, groupID string) error {
	return s.simple(ctx, wire.MethodLeave, url.Values{"channel": {groupID}})
}

// OpenChat opens (or reopens) a direct chat with userID and returns its
// channel id.
func (s *Session) OpenChat(ctx context.Context, userID string) (string, error) {
	req, err := form(wire.MethodOpenChat, url.Values{"users": {userID}, "return_im": {"true"}})
	if err != nil {
		return "", err
	}
	var id string
	err = s.client.call(ctx, s.token(), req, func(body []byte) error {
		id, err = wire.DecodeOpenChat(body)
		return err
	})
	return id, err
}

// CloseChat closes a direct chat.
func (s *Session) CloseChat(ctx context.Context, channelID string) error {
	return s.simple(ctx, wire.MethodCloseChat, url.Values{"channel": {channelID}})
}

func (s *Session) simple(ctx context.Context, method wire.Method, params url.Values) error {
	req, err := form(method, params)
	if err != nil {
		return err
	}
	if err := s.client.call(ctx, s.token(), req, func(body []byte) error {
		return wire.DecodeResponse(method, body, nil)
	}); err != nil {
		return fmt.Errorf("%s %s: %w", method, params.Get("channel"), err)
	}
	return nil
}
