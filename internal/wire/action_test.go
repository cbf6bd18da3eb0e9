package wire

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeActionValidates(t *testing.T) {
	tests := []struct {
		name    string
		method  Method
		params  url.Values
		wantErr bool
	}{
		{"auth needs nothing", MethodAuthTest, nil, false},
		{"post needs text", MethodPostMessage, url.Values{"channel": {"C1"}}, true},
		{"post ok", MethodPostMessage, url.Values{"channel": {"C1"}, "text": {"hi"}}, false},
		{"mark needs ts", MethodMark, url.Values{"channel": {"C1"}}, true},
		{"open needs users", MethodOpenChat, url.Values{}, true},
		{"unknown method", Method("chat.delete"), url.Values{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeAction(tt.method, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeActionPostsAsUser(t *testing.T) {
	params := url.Values{"channel": {"C1"}, "text": {"a & b"}}
	body, err := EncodeAction(MethodPostMessage, params)
	require.NoError(t, err)

	decoded, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Equal(t, "true", decoded.Get("as_user"))
	assert.Equal(t, "a & b", decoded.Get("text"))
	assert.Empty(t, params.Get("as_user"), "caller params must not be modified")
}

func TestEncodeActionMissingParam(t *testing.T) {
	_, err := EncodeAction(MethodJoin, url.Values{})
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestEncodeUpload(t *testing.T) {
	var buf bytes.Buffer
	contentType, err := EncodeUpload(&buf, Upload{
		ChannelID: "C1",
		Filename:  "cat.png",
		Title:     "A cat",
		Content:   strings.NewReader("PNGDATA"),
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(&buf, params["boundary"])
	fields := map[string]string{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		fields[part.FormName()] = string(data)
	}

	assert.Equal(t, "C1", fields["channels"])
	assert.Equal(t, "A cat", fields["title"])
	assert.Equal(t, "PNGDATA", fields["file"])
	_, hasComment := fields["initial_comment"]
	assert.False(t, hasComment)
}

func TestEncodeUploadNeedsFile(t *testing.T) {
	var buf bytes.Buffer
	_, err := EncodeUpload(&buf, Upload{ChannelID: "C1"})
	assert.ErrorIs(t, err, ErrMissingParam)
}
