// Package channels defines the interfaces and types for chimein chat
// platforms. Each platform (Discord, the local console) implements the
// Channel interface so the assistant can receive and send messages in a
// unified way.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel defines the interface that every chat platform must implement.
type Channel interface {
	// Name returns the platform identifier (e.g. "discord", "console").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with media capabilities.
type MediaChannel interface {
	Channel

	// SendMedia posts a media reference (e.g. a GIF URL) to the chat.
	SendMedia(ctx context.Context, to string, media *MediaMessage) error
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat. Platforms expire
	// the indicator on their own, so callers refresh it while work is ongoing.
	SendTyping(ctx context.Context, to string) error
}

// LatencyChannel is implemented by platforms that can report the round trip
// to their gateway.
type LatencyChannel interface {
	Channel

	// Latency returns the last measured heartbeat round trip.
	Latency() time.Duration
}

// IncomingMessage represents a message received from any platform.
type IncomingMessage struct {
	// ID is the unique message identifier in the source platform.
	ID string

	// Channel identifies the source platform (e.g. "discord").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name.
	FromName string

	// ChatID is the platform channel (room) identifier.
	ChatID string

	// IsGroup indicates whether the message is from a multi-user chat.
	IsGroup bool

	// Content is the text content of the message.
	Content string

	// Mentioned is true when the message explicitly addresses the bot
	// (a mention, or a reply to one of the bot's messages).
	Mentioned bool

	// IsAdmin is true when the sender holds administrative rights in the chat.
	IsAdmin bool

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Metadata contains additional platform-specific data.
	Metadata map[string]any
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// MediaMessage represents a media item to be posted.
type MediaMessage struct {
	// URL points at the media. Platforms that unfurl links (Discord) post it
	// as-is.
	URL string

	// Caption is optional text accompanying the media.
	Caption string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	LatencyMs     int64
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrChannelNotFound     = errors.New("channel not registered")
)
