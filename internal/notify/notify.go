// Package notify provides a minimal, logging-only Notifier. Outbound
// chat/webhook integrations are out of scope; this exists so the
// engine always has a real, non-blocking implementation to call into.
package notify

import (
	"market_maker/internal/core"
)

const channelCapacity = 64

type notification struct {
	title string
	body  string
}

// LogNotifier buffers notifications on a channel and drains them on
// its own goroutine, so a slow or stuck sink can never block a
// trade-path caller. Once the buffer is full, further notifications
// are dropped and logged at Warn instead of blocking.
type LogNotifier struct {
	logger core.ILogger
	ch     chan notification
}

// New starts a LogNotifier's drain goroutine and returns it.
func New(logger core.ILogger) *LogNotifier {
	n := &LogNotifier{
		logger: logger,
		ch:     make(chan notification, channelCapacity),
	}
	go n.drain()
	return n
}

// Notify enqueues a notification without blocking the caller.
func (n *LogNotifier) Notify(title, body string) {
	select {
	case n.ch <- notification{title: title, body: body}:
	default:
		n.logger.Warn("notification dropped, buffer full", "title", title)
	}
}

func (n *LogNotifier) drain() {
	for note := range n.ch {
		n.logger.Warn("notification", "title", note.title, "body", note.body)
	}
}

var _ core.Notifier = (*LogNotifier)(nil)
