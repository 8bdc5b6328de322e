package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	cfg      SMTPConfig
	logger   *logrus.Logger
	sendMail sendMailFunc
}

func NewSMTPNotifier(cfg SMTPConfig, logger *logrus.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:      cfg,
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to := headerValue(msg.To)
	if to == "" {
		return fmt.Errorf("notify: empty recipient")
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)
	if err := n.sendMail(addr, auth, n.cfg.From, []string{to}, n.compose(to, msg)); err != nil {
		n.logger.WithError(err).WithField("to", to).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.WithField("to", to).Info("Email sent")
	return nil
}

func (n *SMTPNotifier) compose(to string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerValue(n.cfg.From) + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + headerValue(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// headerValue strips line breaks so user data cannot add headers.
func headerValue(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(s))
}
