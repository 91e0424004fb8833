// Package chat abstracts the conversation surface: inbound human messages
// and outbound posts. Implementations: Slack Socket Mode (full duplex), a
// Slack incoming webhook (post only), and a console transport for the chat
// command and tests.
package chat

import (
	"context"
	"time"
)

// Message is one inbound human message.
type Message struct {
	Channel string
	Sender  string
	Text    string
	At      time.Time
}

// Transport is the conversation surface the daemon consumes. Events carries
// inbound messages until the transport shuts down; Post delivers text to a
// channel, splitting oversized messages transparently.
type Transport interface {
	Events() <-chan Message
	Post(ctx context.Context, channel, text string) error
}
