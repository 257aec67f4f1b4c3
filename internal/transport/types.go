package transport

import (
	"context"
	"errors"

	"ghwatch/internal/notification"
)

var (
	// ErrChannelNotFound is returned by ResolveChannel when the id does not name a reachable chat.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelKind is returned by ResolveChannel when the chat cannot receive notifications.
	ErrChannelKind = errors.New("channel kind not supported")
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Channel is a resolved destination handle.
//
// Handles are compared by pointer: a sink that keeps a *Channel across
// reconfigurations keeps the same handle.
type Channel struct {
	ID     string // configured identifier, as written in config
	Target ChatTarget
	Kind   string
	Title  string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// ResolveChannel maps a configured identifier to a live handle.
	// Errors wrap ErrChannelNotFound or ErrChannelKind.
	ResolveChannel(ctx context.Context, id string) (*Channel, error)
	// Send renders and delivers one notification payload.
	Send(ctx context.Context, ch *Channel, p notification.Payload) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
