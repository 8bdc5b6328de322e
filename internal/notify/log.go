package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes messages to the log instead of sending them. It is
// meant for local development only.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	}).Info("Email delivery skipped (log mail driver)")
	return nil
}
