package wire

import (
	"strings"

	"github.com/codefionn/slackline/internal/model"
)

type wireAttachmentField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type wireAttachment struct {
	Color       string                `json:"color"`
	Title       string                `json:"title"`
	TitleLink   string                `json:"title_link"`
	Pretext     string                `json:"pretext"`
	Text        string                `json:"text"`
	Fallback    string                `json:"fallback"`
	Fields      []wireAttachmentField `json:"fields"`
	ImageURL    string                `json:"image_url"`
	ImageWidth  int                   `json:"image_width"`
	ImageHeight int                   `json:"image_height"`
}

type wireFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Mimetype   string `json:"mimetype"`
	URLPrivate string `json:"url_private"`
	Thumb360   string `json:"thumb_360"`
	Thumb360W  int    `json:"thumb_360_w"`
	Thumb360H  int    `json:"thumb_360_h"`
}

type wireEdited struct {
	User string `json:"user"`
	TS   string `json:"ts"`
}

type wireMessage struct {
	Type        string           `json:"type"`
	Subtype     string           `json:"subtype"`
	Channel     string           `json:"channel"`
	User        string           `json:"user"`
	Username    string           `json:"username"`
	BotID       string           `json:"bot_id"`
	Text        string           `json:"text"`
	TS          string           `json:"ts"`
	Hidden      bool             `json:"hidden"`
	Edited      *wireEdited      `json:"edited"`
	Attachments []wireAttachment `json:"attachments"`
	Files       []wireFile       `json:"files"`
	Message     *wireMessage     `json:"message"`
}

type wireChannel struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	IsChannel   bool     `json:"is_channel"`
	IsGroup     bool     `json:"is_group"`
	IsIM        bool     `json:"is_im"`
	IsMPIM      bool     `json:"is_mpim"`
	IsPrivate   bool     `json:"is_private"`
	IsMember    bool     `json:"is_member"`
	IsOpen      bool     `json:"is_open"`
	IsArchived  bool     `json:"is_archived"`
	User        string   `json:"user"`
	Members     []string `json:"members"`
	LastRead    string   `json:"last_read"`
	UnreadCount int      `json:"unread_count_display"`
}

type wireProfile struct {
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
	Image48     string `json:"image_48"`
	Image72     string `json:"image_72"`
}

type wireUser struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	RealName string      `json:"real_name"`
	Deleted  bool        `json:"deleted"`
	Presence string      `json:"presence"`
	Profile  wireProfile `json:"profile"`
}

// message converts a wire message. The channel id of history entries and
// nested edits is supplied by the caller.
func (c *Codec) message(channelID string, m *wireMessage) model.Message {
	rendered := Render(m.Text, c.resolver)
	msg := model.Message{
		ChannelID: channelID,
		Timestamp: model.Timestamp(m.TS),
		UserID:    m.User,
		Username:  m.Username,
		Text:      m.Text,
		Body:      rendered.Body,
		Edited:    m.Edited != nil,
		Mentions:  rendered.Mentions,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, c.attachment(a))
	}
	for _, f := range m.Files {
		if a, ok := fileAttachment(f); ok {
			msg.Attachments = append(msg.Attachments, a)
		}
	}
	return msg
}

func (c *Codec) attachment(a wireAttachment) model.Attachment {
	out := model.Attachment{
		Color:     a.Color,
		Title:     normalizeEntities(a.Title),
		TitleLink: a.TitleLink,
		Pretext:   Render(a.Pretext, c.resolver).Body,
		Text:      Render(a.Text, c.resolver).Body,
		ImageURL:  a.ImageURL,
		ImageW:    a.ImageWidth,
		ImageH:    a.ImageHeight,
	}
	if out.Text == "" && out.Pretext == "" && out.Title == "" {
		out.Text = Render(a.Fallback, c.resolver).Body
	}
	for _, f := range a.Fields {
		out.Fields = append(out.Fields, model.AttachmentField{
			Title: normalizeEntities(f.Title),
			Value: Render(f.Value, c.resolver).Body,
			Short: f.Short,
		})
	}
	return out
}

// fileAttachment turns a shared image into an attachment. Other files are
// not shown inline.
func fileAttachment(f wireFile) (model.Attachment, bool) {
	if !strings.HasPrefix(f.Mimetype, "image/") {
		return model.Attachment{}, false
	}
	title := f.Title
	if title == "" {
		title = f.Name
	}
	a := model.Attachment{
		Title:     normalizeEntities(title),
		TitleLink: f.URLPrivate,
		ImageURL:  f.Thumb360,
		ImageW:    f.Thumb360W,
		ImageH:    f.Thumb360H,
	}
	if a.ImageURL == "" {
		a.ImageURL = f.URLPrivate
	}
	return a, true
}

func channelKind(ch *wireChannel) model.ChannelKind {
	switch {
	case ch.IsIM || ch.IsMPIM:
		return model.KindDirect
	case ch.IsPrivate || ch.IsGroup:
		return model.KindPrivate
	default:
		return model.KindPublic
	}
}

func (c *Codec) channel(ch *wireChannel) model.Channel {
	out := model.Channel{
		ID:       ch.ID,
		Name:     ch.Name,
		Kind:     channelKind(ch),
		IsMember: ch.IsMember,
		Unread:   ch.UnreadCount,
		LastRead: model.Timestamp(ch.LastRead),
	}
	switch {
	case ch.IsIM:
		// Direct chats have no membership flag; an open chat is a joined one.
		out.IsMember = ch.IsOpen
		if ch.User != "" {
			out.Participants = []string{ch.User}
		}
		if out.Name == "" {
			out.Name = ch.User
			if c.resolver != nil {
				if name, ok := c.resolver.UserName(ch.User); ok && name != "" {
					out.Name = name
				}
			}
		}
	case ch.IsMPIM:
		out.IsMember = ch.IsMember || ch.IsOpen
		out.Participants = append([]string(nil), ch.Members...)
	}
	return out
}

func user(u *wireUser) model.User {
	out := model.User{
		ID:       u.ID,
		Presence: model.ParsePresence(u.Presence),
		Avatar:   u.Profile.Image48,
	}
	for _, name := range []string{u.Profile.DisplayName, u.Profile.RealName, u.RealName, u.Name} {
		if name != "" {
			out.Name = name
			break
		}
	}
	if out.Avatar == "" {
		out.Avatar = u.Profile.Image72
	}
	return out
}
