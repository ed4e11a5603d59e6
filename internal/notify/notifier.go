// Package notify implements the stateful notifier: successive analysis
// outputs are diffed by fingerprint so users only hear about new findings
// that meet the severity threshold.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// Alert is one finding a user could be notified about. The fingerprint is a
// canonical lowercase string (e.g. "erc20-<token>-<spender>") used to diff
// against the wallet's previous analysis state.
type Alert struct {
	Fingerprint string
	Severity    types.Severity
	Title       string
	Body        string
}

// Sink delivers a rendered notification. Delivery failures are logged and
// never retried; they must not block the pipeline.
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ChatResolver maps a user to their bound Telegram chat, zero when unbound
type ChatResolver interface {
	ChatID(ctx context.Context, userID string) (int64, error)
}

// Notifier diffs analyzer output against previous state and pushes the new,
// sufficiently severe subset to the sink.
type Notifier struct {
	sink  Sink
	chats ChatResolver
	log   *logrus.Entry
}

// New creates a notifier
func New(sink Sink, chats ChatResolver) *Notifier {
	return &Notifier{sink: sink, chats: chats, log: logging.Component("notifier")}
}

// Diff returns the alerts whose fingerprints are not in the previous set
func Diff(previous []string, alerts []Alert) []Alert {
	seen := make(map[string]struct{}, len(previous))
	for _, fp := range previous {
		seen[fp] = struct{}{}
	}

	var fresh []Alert
	for _, alert := range alerts {
		if _, ok := seen[alert.Fingerprint]; !ok {
			fresh = append(fresh, alert)
		}
	}
	return fresh
}

// Publish diffs the alerts against the previous fingerprint set and sends
// the new ones that meet the threshold. The caller persists the current
// fingerprint set atomically with its other writes; publishing twice with an
// updated state therefore emits nothing.
func (n *Notifier) Publish(ctx context.Context, userID string, previous []string, alerts []Alert, threshold types.Severity) {
	fresh := Diff(previous, alerts)
	if len(fresh) == 0 {
		return
	}

	chatID, err := n.chats.ChatID(ctx, userID)
	if err != nil {
		n.log.WithError(err).WithField("userId", userID).Warn("chat resolution failed")
		return
	}
	if chatID == 0 {
		return
	}

	for _, alert := range fresh {
		if !alert.Severity.AtLeast(threshold) {
			continue
		}
		text := alert.Title
		if alert.Body != "" {
			text += "\n" + alert.Body
		}
		if err := n.sink.Send(ctx, chatID, text); err != nil {
			// Never retried and never blocks the pipeline
			n.log.WithError(err).WithFields(logrus.Fields{
				"userId":      userID,
				"fingerprint": alert.Fingerprint,
			}).Warn("notification delivery failed")
		}
	}
}
