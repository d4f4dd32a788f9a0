package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func testMessage() *Message {
	return &Message{
		To:      []string{"ops@example.com"},
		Subject: "[Waiver Signed] Jane Doe",
		Body:    "A new waiver has been signed by Jane Doe (jane@example.com).",
		Attachments: []Attachment{{
			Filename:    "Waiver_Jane_Doe_5f3e9a1c.pdf",
			ContentType: "application/pdf",
			Data:        []byte("%PDF-1.3 test"),
		}},
	}
}

func TestRaw(t *testing.T) {
	raw, err := Raw(From{Name: "Songbird Waiver Bot", Address: "bot@example.com"}, testMessage())
	require.NoError(t, err)

	out := string(raw)
	assert.Contains(t, out, "Subject: [Waiver Signed] Jane Doe")
	assert.Contains(t, out, "ops@example.com")
	assert.Contains(t, out, "Songbird Waiver Bot")
	assert.Contains(t, out, "application/pdf")
	assert.Contains(t, out, "Waiver_Jane_Doe_5f3e9a1c.pdf")
	assert.Contains(t, out, base64.StdEncoding.EncodeToString([]byte("%PDF-1.3 test")))
}

func TestBuild_RequiresRecipient(t *testing.T) {
	msg := testMessage()
	msg.To = nil
	_, err := Build(From{Address: "bot@example.com"}, msg)
	assert.ErrorIs(t, err, ErrNoRecipients)

	msg.To = []string{"not an address"}
	_, err = Build(From{Address: "bot@example.com"}, msg)
	assert.Error(t, err)
}

func TestGmailSender_Send(t *testing.T) {
	var got gmail.Message
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	sender := NewGmailSenderWithService(svc, From{Name: "Songbird Waiver Bot", Address: "bot@example.com"})
	require.NoError(t, sender.Send(context.Background(), testMessage()))

	assert.Equal(t, "/gmail/v1/users/me/messages/send", path)
	raw, err := base64.URLEncoding.DecodeString(got.Raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: [Waiver Signed] Jane Doe")
}

func TestGmailSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	err = NewGmailSenderWithService(svc, From{Address: "bot@example.com"}).Send(context.Background(), testMessage())
	assert.ErrorContains(t, err, "gmail send")
}
