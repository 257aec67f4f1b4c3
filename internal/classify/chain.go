// Package classify turns GitHub events into notification payloads through an
// ordered rule chain. The first matching rule wins; events no rule matches
// produce no payload and a diagnostic.
package classify

import (
	"fmt"

	"ghwatch/internal/eventbus"
	"ghwatch/internal/feed"
	"ghwatch/internal/notification"
	logx "ghwatch/pkg/logx"
)

// Rule converts the events it matches.
type Rule struct {
	Name    string
	Match   func(ev *feed.Event) bool
	Convert func(ev *feed.Event) ([]notification.Payload, error)
}

// Result is the outcome of classifying one event.
type Result struct {
	Rule         string
	Payloads     []notification.Payload
	Unclassified bool
	Err          error
}

type Chain struct {
	rules []Rule
	log   logx.Logger
	bus   eventbus.Bus
}

type Option func(*Chain)

func WithRules(rules ...Rule) Option { return func(c *Chain) { c.rules = rules } }
func WithBus(b eventbus.Bus) Option  { return func(c *Chain) { c.bus = b } }

func New(log logx.Logger, opts ...Option) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Chain{rules: DefaultRules(), log: log}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify runs ev through the rules. It never panics on malformed payloads.
func (c *Chain) Classify(ev *feed.Event) (res Result) {
	if ev == nil {
		return Result{Unclassified: true}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Rule: res.Rule, Err: fmt.Errorf("%s: convert panicked: %v", ev.Type, r)}
			c.log.Error("event conversion panicked", logx.String("event_id", ev.ID), logx.String("type", ev.Type), logx.Any("panic", r))
		}
	}()

	for _, r := range c.rules {
		if !r.Match(ev) {
			continue
		}
		res.Rule = r.Name
		payloads, err := r.Convert(ev)
		if err != nil {
			c.log.Warn("event payload malformed", logx.String("rule", r.Name), logx.String("event_id", ev.ID), logx.Err(err))
			res.Err = err
			return res
		}
		res.Payloads = payloads
		return res
	}
	return c.fallback(ev)
}

func (c *Chain) fallback(ev *feed.Event) Result {
	c.log.Warn("unknown event", logx.String("type", ev.Type), logx.String("event_id", ev.ID), logx.String("repo", ev.Repo.Name), logx.String("actor", ev.Actor.Login))
	eventbus.Emit(c.bus, eventbus.ClassifyUnclassified, map[string]any{"type": ev.Type, "event_id": ev.ID})
	return Result{Unclassified: true}
}
