package sms

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogSender logs messages instead of dispatching them. Used in development
// so the flow can be exercised without a gateway account.
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender returns a Sender that only logs.
func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message and returns a synthetic message ID.
func (s *LogSender) Send(_ context.Context, to, message string) (string, error) {
	s.logger.WithFields(logrus.Fields{
		"to":      to,
		"message": message,
	}).Info("SMS dispatch (development sender, not delivered)")
	return uuid.New().String(), nil
}
