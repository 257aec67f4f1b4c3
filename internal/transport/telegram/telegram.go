// Package telegram implements transport.Adapter on top of telebot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"ghwatch/internal/notification"
	rtsup "ghwatch/internal/runtime/supervisor"
	kit "ghwatch/internal/transport"
	logx "ghwatch/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// URL overrides the Bot API endpoint.
	URL string
	// Offline skips the getMe call on construction.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// dropped counts updates lost because the consumer fell behind.
	dropped atomic.Uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: []string{"message"}},
		Offline: cfg.Offline,
		// Long polls hold the request for PollTimeout; anything past that
		// plus a margin is a stuck connection.
		Client: &http.Client{Timeout: cfg.PollTimeout + 10*time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	a.forward(toUpdate(m))
	return nil
}

func toUpdate(m *tele.Message) kit.Update {
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}
}

func (a *Adapter) forward(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling. Updates are delivered to out without blocking;
// when out is full they are dropped and counted.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until Stop; an early return is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("telebot poller exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop never blocks shutdown for more than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	was := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !was || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// ResolveChannel looks the chat up by numeric id. Private chats are rejected.
func (a *Adapter) ResolveChannel(ctx context.Context, id string) (*kit.Channel, error) {
	raw := strings.TrimSpace(id)
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", id, kit.ErrChannelNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w: %v", raw, kit.ErrChannelNotFound, err)
	}
	if !deliverable(chat.Type) {
		return nil, fmt.Errorf("resolve %s (%s): %w", raw, chat.Type, kit.ErrChannelKind)
	}
	return &kit.Channel{
		ID:     raw,
		Target: kit.ChatTarget{ChatID: chat.ID},
		Kind:   string(chat.Type),
		Title:  chat.Title,
	}, nil
}

func deliverable(t tele.ChatType) bool {
	switch t {
	case tele.ChatGroup, tele.ChatSuperGroup, tele.ChatChannel, tele.ChatChannelPrivate:
		return true
	}
	return false
}

// Send renders p as HTML and posts it to ch.
func (a *Adapter) Send(ctx context.Context, ch *kit.Channel, p notification.Payload) error {
	if ch == nil {
		return errors.New("telegram: nil channel")
	}
	_, err := a.SendText(ctx, ch.Target, Render(p), &kit.SendOptions{ParseMode: tele.ModeHTML})
	return err
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.send(ctx, chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// send runs bot.Send but returns as soon as ctx is done. telebot takes no
// context, so an abandoned request finishes in the background, bounded by
// the http client timeout.
func (a *Adapter) send(ctx context.Context, to tele.Recipient, what any, opts *tele.SendOptions) (*tele.Message, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := a.bot.Send(to, what, opts)
		done <- result{msg, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.msg, r.err
	}
}
