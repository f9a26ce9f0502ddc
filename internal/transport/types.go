// Package transport defines the chat-platform-neutral types the rest of the
// bot is written against. The Telegram adapter lives in a subpackage and is
// the only code that knows about the concrete platform.
package transport

import "context"

// UpdateKind discriminates Update payloads.
type UpdateKind string

const UpdateMessage UpdateKind = "message"

// Update is one event received from the platform.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an incoming chat message, already reduced to the fields the
// router and command handlers care about.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic id, 0 outside forums
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses outgoing messages.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a message that was sent.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// SendOptions tweaks a single send. The zero value sends plain text.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the surface a chat platform must provide. Start feeds updates
// into out until ctx is cancelled; Stop tears the connection down.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one entry in the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters whose platform has a command
// menu worth keeping in sync with the registry.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
