// Package slack delivers outbound messages to Slack through an async
// worker pool with rate limiting and retry.
package slack

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("slack disabled")
	ErrQueueFull = errors.New("slack queue full")
	ErrStopped   = errors.New("slack sender stopped")
)

// Field is one title/value pair of a structured attachment.
type Field struct {
	Title string
	Value string
	Short bool
}

// Attachment is a rich block appended to a message.
type Attachment struct {
	Pretext string
	Color   string
	Fields  []Field
}

// Message is an outbound Slack message. Channel takes a channel ID or a
// user ID; user IDs open a direct message.
type Message struct {
	Channel     string
	Text        string
	Attachments []Attachment
}

// Notifier is the delivery surface handlers depend on.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// Config configures the sender.
type Config struct {
	Enabled    bool
	Token      string
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
}
