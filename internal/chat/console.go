package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Console is a line-oriented transport over an io.Reader/io.Writer pair,
// used by the chat command and as the in-memory fake in tests.
type Console struct {
	In      io.Reader
	Out     io.Writer
	Channel string
	Sender  string

	once   sync.Once
	events chan Message

	mu    sync.Mutex
	posts []Message
}

// NewConsole binds stdin-style input to a fixed channel and sender.
func NewConsole(in io.Reader, out io.Writer, channel, sender string) *Console {
	return &Console{In: in, Out: out, Channel: channel, Sender: sender}
}

func (c *Console) init() {
	c.once.Do(func() { c.events = make(chan Message, 16) })
}

// Events returns the inbound message stream. Run must be started for
// anything to arrive.
func (c *Console) Events() <-chan Message {
	c.init()
	return c.events
}

// Run reads lines until EOF or ctx cancellation, emitting one Message per
// non-empty line, then closes the event stream.
func (c *Console) Run(ctx context.Context) error {
	c.init()
	defer close(c.events)
	scanner := bufio.NewScanner(c.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := Message{Channel: c.Channel, Sender: c.Sender, Text: line, At: time.Now().UTC()}
		select {
		case c.events <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// Post writes the text to Out, prefixed with the channel when it differs
// from the console's own, and records it for test inspection.
func (c *Console) Post(_ context.Context, channel, text string) error {
	c.mu.Lock()
	c.posts = append(c.posts, Message{Channel: channel, Text: text, At: time.Now().UTC()})
	c.mu.Unlock()
	if c.Out == nil {
		return nil
	}
	if channel != "" && channel != c.Channel {
		_, err := fmt.Fprintf(c.Out, "[%s] %s\n", channel, text)
		return err
	}
	_, err := fmt.Fprintln(c.Out, text)
	return err
}

// Posts returns a copy of everything posted so far.
func (c *Console) Posts() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.posts))
	copy(out, c.posts)
	return out
}

// Inject delivers a message directly to the event stream, for tests that do
// not want to drive Run through a reader.
func (c *Console) Inject(msg Message) {
	c.init()
	c.events <- msg
}
