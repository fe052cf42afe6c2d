// Package notify carries user-facing notifications: every transport error,
// guard trip and square-off summary produces exactly one message through a
// TextNotifier.
package notify

import "merq/internal/logger"

// TextNotifier is the minimal notification surface. It is intentionally
// small so components can depend on it without importing a concrete
// transport.
type TextNotifier interface {
	SendText(text string) error
}

// LogNotifier writes notifications to the application log. It is the
// default sink when no external channel is configured.
type LogNotifier struct{}

func (LogNotifier) SendText(text string) error {
	logger.Infof("[notify] %s", text)
	return nil
}

// Multi fans one message out to several notifiers. Delivery is
// best-effort per sink; the first error is returned after all sinks ran.
type Multi []TextNotifier

func (m Multi) SendText(text string) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendText(text); err != nil && first == nil {
			first = err
		}
	}
	return first
}
