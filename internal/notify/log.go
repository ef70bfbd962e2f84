package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogNotifier only writes messages to the log. Used when no transport is
// configured (local development).
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	log.WithFields(log.Fields{
		"kind":    msg.Kind,
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Notification (log only)")
	return nil
}
