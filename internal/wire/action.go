package wire

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
)

// Method is an action endpoint name.
type Method string

const (
	MethodAuthTest      Method = "auth.test"
	MethodStreamConnect Method = "rtm.connect"
	MethodChannelList   Method = "conversations.list"
	MethodChannelInfo   Method = "conversations.info"
	MethodHistory       Method = "conversations.history"
	MethodMark          Method = "conversations.mark"
	MethodJoin          Method = "conversations.join"
	MethodLeave         Method = "conversations.leave"
	MethodOpenChat      Method = "conversations.open"
	MethodCloseChat     Method = "conversations.close"
	MethodUserList      Method = "users.list"
	MethodUserInfo      Method = "users.info"
	MethodPostMessage   Method = "chat.postMessage"
	MethodUpload        Method = "files.upload"
)

// ErrMissingParam is returned by EncodeAction before any request is made.
var ErrMissingParam = errors.New("missing required parameter")

var requiredParams = map[Method][]string{
	MethodAuthTest:      nil,
	MethodStreamConnect: nil,
	MethodChannelList:   nil,
	MethodChannelInfo:   {"channel"},
	MethodHistory:       {"channel"},
	MethodMark:          {"channel", "ts"},
	MethodJoin:          {"channel"},
	MethodLeave:         {"channel"},
	MethodOpenChat:      {"users"},
	MethodCloseChat:     {"channel"},
	MethodUserList:      nil,
	MethodUserInfo:      {"user"},
	MethodPostMessage:   {"channel", "text"},
	MethodUpload:        {"channels"},
}

// EncodeAction validates params for method and returns the form-encoded
// request body.
func EncodeAction(method Method, params url.Values) ([]byte, error) {
	required, ok := requiredParams[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	for _, name := range required {
		if params.Get(name) == "" {
			return nil, fmt.Errorf("%s: %w %q", method, ErrMissingParam, name)
		}
	}
	if method == MethodPostMessage {
		params = cloneValues(params)
		params.Set("as_user", "true")
	}
	if params == nil {
		return []byte{}, nil
	}
	return []byte(params.Encode()), nil
}

// Upload is a file shared into a channel.
type Upload struct {
	ChannelID string
	Filename  string
	Title     string
	Comment   string
	Content   io.Reader
}

// EncodeUpload writes the multipart body of a files.upload call to w and
// returns its content type.
func EncodeUpload(w io.Writer, up Upload) (string, error) {
	if up.ChannelID == "" {
		return "", fmt.Errorf("%s: %w %q", MethodUpload, ErrMissingParam, "channels")
	}
	if up.Content == nil || up.Filename == "" {
		return "", fmt.Errorf("%s: %w %q", MethodUpload, ErrMissingParam, "file")
	}

	mw := multipart.NewWriter(w)
	fields := [][2]string{
		{"channels", up.ChannelID},
		{"filename", up.Filename},
		{"title", up.Title},
		{"initial_comment", up.Comment},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	part, err := mw.CreateFormFile("file", up.Filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
