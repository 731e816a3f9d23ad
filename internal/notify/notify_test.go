package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var testCfg = SMTPConfig{
	Host:     "smtp.example.com",
	Port:     587,
	Username: "reports@example.com",
	Password: "hunter2",
	From:     "reports@example.com",
	To:       []string{"manager@example.com", "ops@example.com"},
}

func testMessage() Message {
	return Message{
		Subject: Subject("2026-03-02"),
		HTML:    "<h1>Security Report - 2026-03-02</h1><p>Total Events: 5</p>",
		Attachments: []Attachment{
			{Filename: "hourly.png", ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nfake")},
		},
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Daily Office Usage Report - 2026-03-02", Subject("2026-03-02"))
}

func TestSMTPConfig_Validate(t *testing.T) {
	require.NoError(t, testCfg.Validate())

	for name, mutate := range map[string]func(c *SMTPConfig){
		"host": func(c *SMTPConfig) { c.Host = "" },
		"port": func(c *SMTPConfig) { c.Port = 0 },
		"from": func(c *SMTPConfig) { c.From = "" },
		"to":   func(c *SMTPConfig) { c.To = nil },
	} {
		t.Run(name, func(t *testing.T) {
			c := testCfg
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrNotConfigured)
			_, err := NewSMTPNotifier(c)
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestCompose_ParsesAsMIME(t *testing.T) {
	date := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	raw, err := Compose(testCfg.From, testCfg.To, testMessage(), date)
	require.NoError(t, err)

	m, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Daily Office Usage Report - 2026-03-02", m.Header.Get("Subject"))
	assert.Equal(t, "manager@example.com, ops@example.com", m.Header.Get("To"))
	assert.NotEmpty(t, m.Header.Get("Message-ID"))
	gotDate, err := m.Header.Date()
	require.NoError(t, err)
	assert.True(t, gotDate.Equal(date))

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])

	htmlPart, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=UTF-8", htmlPart.Header.Get("Content-Type"))
	// multipart.Reader decodes quoted-printable parts transparently.
	body, err := io.ReadAll(htmlPart)
	require.NoError(t, err)
	assert.Equal(t, testMessage().HTML, string(body))

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "hourly.png", att.FileName())
	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, testMessage().Attachments[0].Data, data)

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCompose_LongHTMLIsWrapped(t *testing.T) {
	long := bytes.Repeat([]byte("<p>x</p>"), 200)
	raw, err := Compose("a@b", []string{"c@d"}, Message{Subject: "s", HTML: string(long)}, time.Now())
	require.NoError(t, err)
	for _, line := range bytes.Split(raw, []byte("\r\n")) {
		assert.LessOrEqual(t, len(line), 998)
	}
}

func TestSMTPNotifier_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth

	clock := timeutil.NewMockClock(time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))
	n, err := NewSMTPNotifier(testCfg)
	require.NoError(t, err)
	n.WithClock(clock).WithSendFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	})

	require.NoError(t, n.Send(context.Background(), testMessage()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, testCfg.From, gotFrom)
	assert.Equal(t, testCfg.To, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Daily Office Usage Report - 2026-03-02")
}

func TestSMTPNotifier_NoAuthWithoutUsername(t *testing.T) {
	cfg := testCfg
	cfg.Username = ""
	n, err := NewSMTPNotifier(cfg)
	require.NoError(t, err)

	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	n.WithSendFunc(func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		gotAuth = a
		return nil
	})
	require.NoError(t, n.Send(context.Background(), testMessage()))
	assert.Nil(t, gotAuth)
}

func TestSMTPNotifier_Errors(t *testing.T) {
	n, err := NewSMTPNotifier(testCfg)
	require.NoError(t, err)

	boom := errors.New("535 authentication failed")
	n.WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error { return boom })
	assert.ErrorIs(t, n.Send(context.Background(), testMessage()), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Send(ctx, testMessage()), context.Canceled)

	block := make(chan struct{})
	defer close(block)
	n.WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	})
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Send(ctx, testMessage()), context.DeadlineExceeded)
}

func TestDirNotifier_Send(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	n := DirNotifier{Dir: dir}

	msg := testMessage()
	msg.Attachments = append(msg.Attachments, Attachment{Filename: "../../escape.png", Data: []byte("x")})
	require.NoError(t, n.Send(context.Background(), msg))

	html, err := os.ReadFile(filepath.Join(dir, "2026-03-02.html"))
	require.NoError(t, err)
	assert.Equal(t, msg.HTML, string(html))

	chart, err := os.ReadFile(filepath.Join(dir, "2026-03-02-hourly.png"))
	require.NoError(t, err)
	assert.Equal(t, msg.Attachments[0].Data, chart)

	_, err = os.Stat(filepath.Join(dir, "2026-03-02-escape.png"))
	assert.NoError(t, err, "traversal in attachment name should be flattened")
}
