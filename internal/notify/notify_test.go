package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type capturedMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func TestSMTPNotifierSend(t *testing.T) {
	var got capturedMail
	n := NewSMTPNotifier(SMTPConfig{
		Host: "smtp.example.com", Port: "587",
		Username: "mailer", Password: "pw", From: "noreply@example.com",
	}, quietLogger())
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		got = capturedMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)}
		return nil
	}

	err := n.Send(context.Background(), Message{
		To:      "a@b.com",
		Subject: "Reset code\r\nBcc: evil@x.com",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", got.addr)
	assert.NotNil(t, got.auth)
	assert.Equal(t, "noreply@example.com", got.from)
	assert.Equal(t, []string{"a@b.com"}, got.to)
	assert.Contains(t, got.msg, "Subject: Reset codeBcc: evil@x.com\r\n")
	assert.NotContains(t, got.msg, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(got.msg, "\r\n\r\nline one\r\nline two\r\n"))
}

func TestSMTPNotifierWithoutAuth(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: "1025", From: "dev@example.com"}, quietLogger())
	var auth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	n.sendMail = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		auth = a
		return nil
	}

	require.NoError(t, n.Send(context.Background(), Message{To: "a@b.com", Subject: "s", Body: "b"}))
	assert.Nil(t, auth)
}

func TestSMTPNotifierErrors(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: "25", From: "dev@example.com"}, quietLogger())
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := n.Send(context.Background(), Message{To: "a@b.com"})
	assert.ErrorContains(t, err, "connection refused")

	assert.Error(t, n.Send(context.Background(), Message{To: " \r\n"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Send(ctx, Message{To: "a@b.com"}), context.Canceled)
}

func TestLogNotifierWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	err := NewLogNotifier(logger).Send(context.Background(), Message{To: "a@b.com", Subject: "Code", Body: "123456"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"to":"a@b.com"`)
	assert.Contains(t, buf.String(), `"body":"123456"`)
}
