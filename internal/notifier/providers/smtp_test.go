package providers

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  []byte
}

func newTestSender(user string, sent *sentMail, sendErr error) *SMTPSender {
	s := NewSMTPSender("smtp.example.com", 587, user, "app-password", "alerts@example.com")
	s.now = func() time.Time { return time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC) }
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*sent = sentMail{addr: addr, auth: a, from: from, to: to, msg: msg}
		return sendErr
	}
	return s
}

func TestSMTPSender_send(t *testing.T) {
	var sent sentMail
	s := newTestSender("alerts@example.com", &sent, nil)

	err := s.Send("me@example.com", "[qckeepalive] login timed_out", "<p>html body</p>", "plain body")
	require.NoError(t, err)

	require.Equal(t, "smtp.example.com:587", sent.addr)
	require.NotNil(t, sent.auth)
	require.Equal(t, "alerts@example.com", sent.from)
	require.Equal(t, []string{"me@example.com"}, sent.to)

	m, err := mail.ReadMessage(bytes.NewReader(sent.msg))
	require.NoError(t, err)
	require.Equal(t, "me@example.com", m.Header.Get("To"))
	require.Equal(t, "[qckeepalive] login timed_out", decodeHeader(t, m.Header.Get("Subject")))
	require.Equal(t, "Mon, 01 Jun 2026 09:30:00 +0000", m.Header.Get("Date"))

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])
	var bodies []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		bodies = append(bodies, p.Header.Get("Content-Type")+"|"+string(b))
	}
	require.Equal(t, []string{
		"text/plain; charset=utf-8|plain body",
		"text/html; charset=utf-8|<p>html body</p>",
	}, bodies)
}

func TestSMTPSender_noAuthWithoutUser(t *testing.T) {
	var sent sentMail
	s := newTestSender("", &sent, nil)

	require.NoError(t, s.Send("me@example.com", "subject", "", "body"))
	require.Nil(t, sent.auth)
}

func TestSMTPSender_sendError(t *testing.T) {
	var sent sentMail
	s := newTestSender("alerts@example.com", &sent, errors.New("535 authentication failed"))

	err := s.Send("me@example.com", "subject", "", "body")
	require.ErrorContains(t, err, "535 authentication failed")
}

func decodeHeader(t *testing.T, v string) string {
	t.Helper()
	s, err := new(mime.WordDecoder).DecodeHeader(v)
	require.NoError(t, err)
	return s
}
