// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ghwatch/internal/notification"
	"ghwatch/internal/transport"
)

// Sent records one delivered payload.
type Sent struct {
	Channel string
	Payload notification.Payload
}

// Text records one plain text message.
type Text struct {
	To   transport.ChatTarget
	Text string
}

// Adapter resolves ids listed in Channels and records every send.
type Adapter struct {
	mu sync.Mutex

	// Channels maps resolvable ids to their kind ("group", "private", ...).
	Channels map[string]string
	// FailSend makes Send fail for these channel ids.
	FailSend map[string]bool

	Resolved int
	Sent     []Sent
	Texts    []Text

	out chan<- transport.Update
}

func New(ids ...string) *Adapter {
	a := &Adapter{Channels: map[string]string{}, FailSend: map[string]bool{}}
	for _, id := range ids {
		a.Channels[id] = "group"
	}
	return a
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) ResolveChannel(ctx context.Context, id string) (*transport.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Resolved++
	kind, ok := a.Channels[id]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", id, transport.ErrChannelNotFound)
	}
	if kind == "private" {
		return nil, fmt.Errorf("resolve %s: %w", id, transport.ErrChannelKind)
	}
	return &transport.Channel{ID: id, Kind: kind}, nil
}

func (a *Adapter) Send(ctx context.Context, ch *transport.Channel, p notification.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailSend[ch.ID] {
		return errors.New("send failed")
	}
	a.Sent = append(a.Sent, Sent{Channel: ch.ID, Payload: p})
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Texts = append(a.Texts, Text{To: to, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(a.Texts)}, nil
}

// Push delivers an inbound update as if it came from the chat platform.
func (a *Adapter) Push(ctx context.Context, u transport.Update) error {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return errors.New("adapter not started")
	}
	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns copies of the recorded sends.
func (a *Adapter) Snapshot() ([]Sent, []Text) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.Sent...), append([]Text(nil), a.Texts...)
}

func (a *Adapter) ResolveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Resolved
}
