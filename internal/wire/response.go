package wire

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/model"
)

// envelope is shared by every action response.
type envelope struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Warning  string `json:"warning"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// DecodeResponse checks the success flag of an action response and, if v
// is not nil, decodes the payload into it.
func DecodeResponse(method Method, raw []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.Decode(string(method), err)
	}
	if !env.OK {
		code := env.Error
		if code == "" {
			code = "unknown_error"
		}
		return errs.FromCode(string(method), code)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Decode(string(method), err)
	}
	return nil
}

// AuthInfo is the identity behind a token.
type AuthInfo struct {
	UserID string `json:"user_id"`
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	Team   string `json:"team"`
	URL    string `json:"url"`
}

// DecodeAuth decodes an auth.test response.
func DecodeAuth(raw []byte) (AuthInfo, error) {
	var info AuthInfo
	if err := DecodeResponse(MethodAuthTest, raw, &info); err != nil {
		return AuthInfo{}, err
	}
	if info.UserID == "" {
		return AuthInfo{}, errs.Decode(string(MethodAuthTest), fmt.Errorf("missing user_id"))
	}
	return info, nil
}

// StreamEndpoint is the single-use stream URL plus the identity it was
// issued for.
type StreamEndpoint struct {
	URL    string
	UserID string
	TeamID string
}

// DecodeStreamEndpoint decodes an rtm.connect response.
func DecodeStreamEndpoint(raw []byte) (StreamEndpoint, error) {
	var resp struct {
		URL  string `json:"url"`
		Self struct {
			ID string `json:"id"`
		} `json:"self"`
		Team struct {
			ID string `json:"id"`
		} `json:"team"`
	}
	if err := DecodeResponse(MethodStreamConnect, raw, &resp); err != nil {
		return StreamEndpoint{}, err
	}
	if resp.URL == "" {
		return StreamEndpoint{}, errs.Decode(string(MethodStreamConnect), fmt.Errorf("missing url"))
	}
	return StreamEndpoint{URL: resp.URL, UserID: resp.Self.ID, TeamID: resp.Team.ID}, nil
}

// ChannelPage is one page of a channel listing.
type ChannelPage struct {
	Channels   []model.Channel
	NextCursor string
}

// DecodeChannelList decodes a conversations.list response.
func (c *Codec) DecodeChannelList(raw []byte) (ChannelPage, error) {
	var resp struct {
		Channels []wireChannel `json:"channels"`
		envelope
	}
	if err := DecodeResponse(MethodChannelList, raw, &resp); err != nil {
		return ChannelPage{}, err
	}
	page := ChannelPage{NextCursor: resp.Metadata.NextCursor}
	for i := range resp.Channels {
		if resp.Channels[i].ID == "" || resp.Channels[i].IsArchived {
			continue
		}
		page.Channels = append(page.Channels, c.channel(&resp.Channels[i]))
	}
	return page, nil
}

// DecodeChannel decodes a single channel response (conversations.info,
// conversations.join).
func (c *Codec) DecodeChannel(method Method, raw []byte) (model.Channel, error) {
	var resp struct {
		Channel wireChannel `json:"channel"`
	}
	if err := DecodeResponse(method, raw, &resp); err != nil {
		return model.Channel{}, err
	}
	if resp.Channel.ID == "" {
		return model.Channel{}, errs.Decode(string(method), fmt.Errorf("missing channel"))
	}
	return c.channel(&resp.Channel), nil
}

// UserPage is one page of a user listing.
type UserPage struct {
	Users      []model.User
	NextCursor string
}

// DecodeUserList decodes a users.list response.
func DecodeUserList(raw []byte) (UserPage, error) {
	var resp struct {
		Members []wireUser `json:"members"`
		envelope
	}
	if err := DecodeResponse(MethodUserList, raw, &resp); err != nil {
		return UserPage{}, err
	}
	page := UserPage{NextCursor: resp.Metadata.NextCursor}
	for i := range resp.Members {
		if resp.Members[i].ID == "" {
			continue
		}
		page.Users = append(page.Users, user(&resp.Members[i]))
	}
	return page, nil
}

// DecodeUser decodes a users.info response.
func DecodeUser(raw []byte) (model.User, error) {
	var resp struct {
		User wireUser `json:"user"`
	}
	if err := DecodeResponse(MethodUserInfo, raw, &resp); err != nil {
		return model.User{}, err
	}
	if resp.User.ID == "" {
		return model.User{}, errs.Decode(string(MethodUserInfo), fmt.Errorf("missing user"))
	}
	return user(&resp.User), nil
}

// DecodeOpenChat returns the channel id of a conversations.open response.
func DecodeOpenChat(raw []byte) (string, error) {
	var resp struct {
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	if err := DecodeResponse(MethodOpenChat, raw, &resp); err != nil {
		return "", err
	}
	if resp.Channel.ID == "" {
		return "", errs.Decode(string(MethodOpenChat), fmt.Errorf("missing channel"))
	}
	return resp.Channel.ID, nil
}

// DecodePostedMessage decodes a chat.postMessage response into the message
// as stored by the server.
func (c *Codec) DecodePostedMessage(raw []byte) (model.Message, error) {
	var resp struct {
		Channel string      `json:"channel"`
		TS      string      `json:"ts"`
		Message wireMessage `json:"message"`
	}
	if err := DecodeResponse(MethodPostMessage, raw, &resp); err != nil {
		return model.Message{}, err
	}
	if resp.Channel == "" || resp.TS == "" {
		return model.Message{}, errs.Decode(string(MethodPostMessage), fmt.Errorf("missing channel or ts"))
	}
	if resp.Message.TS == "" {
		resp.Message.TS = resp.TS
	}
	return c.message(resp.Channel, &resp.Message), nil
}

// DecodeHistoryPage decodes a conversations.history response. The server
// returns newest first; the page is returned oldest first. Hidden entries
// and deletions are skipped. HasMore is derived from the pagination cursor,
// falling back to the has_more flag when the server sends no cursor.
func (c *Codec) DecodeHistoryPage(channelID string, raw []byte) (model.HistoryPage, error) {
	var resp struct {
		Messages []wireMessage `json:"messages"`
		HasMore  bool          `json:"has_more"`
		envelope
	}
	if err := DecodeResponse(MethodHistory, raw, &resp); err != nil {
		return model.HistoryPage{}, err
	}

	page := model.HistoryPage{
		ChannelID:  channelID,
		NextCursor: resp.Metadata.NextCursor,
		HasMore:    resp.Metadata.NextCursor != "" || resp.HasMore,
	}
	for i := range resp.Messages {
		m := &resp.Messages[i]
		if m.TS == "" || m.Hidden || m.Subtype == "message_deleted" {
			continue
		}
		page.Messages = append(page.Messages, c.message(channelID, m))
	}
	sort.SliceStable(page.Messages, func(i, j int) bool {
		return page.Messages[i].Timestamp.Before(page.Messages[j].Timestamp)
	})
	return page, nil
}
