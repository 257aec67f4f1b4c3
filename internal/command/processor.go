// Package command interprets admin commands against the tracked-entity store.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ghwatch/internal/classify"
	"ghwatch/internal/eventbus"
	"ghwatch/internal/metrics"
	"ghwatch/internal/reconf"
	"ghwatch/internal/storage"
	"ghwatch/internal/tracking"
	logx "ghwatch/pkg/logx"
)

// ExistenceChecker reports whether an account exists upstream.
type ExistenceChecker interface {
	Exists(ctx context.Context, user string) (bool, error)
}

// Auditor receives one entry per handled command.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Response is what the processor answers in the command channel.
// Changed is set when the tracked set was mutated.
type Response struct {
	Text    string
	Changed bool
}

type Processor struct {
	store   *tracking.Store
	exists  ExistenceChecker
	reconf  *reconf.Bus
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	audit   Auditor

	// mu makes command handling strictly sequential.
	mu sync.Mutex
}

type Option func(*Processor)

func WithBus(b eventbus.Bus) Option         { return func(p *Processor) { p.bus = b } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithAuditor records every handled command. A nil Auditor disables auditing.
func WithAuditor(a Auditor) Option { return func(p *Processor) { p.audit = a } }

func New(store *tracking.Store, exists ExistenceChecker, rb *reconf.Bus, log logx.Logger, opts ...Option) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Processor{store: store, exists: exists, reconf: rb, log: log}
	for _, o := range opts {
		o(p)
	}
	return p
}

const emptyPrompt = "Please supply a command. Available: add <username>, remove <username>, list."

// Handle runs one command to completion. Concurrent calls are serialized.
func (p *Processor) Handle(ctx context.Context, c Command) Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	var resp Response
	switch c.Name {
	case "":
		resp = Response{Text: emptyPrompt}
	case "add":
		resp = p.add(ctx, c.Args)
	case "remove":
		resp = p.remove(ctx, c.Args)
	case "list":
		resp = p.list()
	default:
		resp = Response{Text: fmt.Sprintf("Unknown command %q", classify.Truncate(c.Name, classify.DefaultCap))}
	}
	took := time.Since(started)

	name := c.Name
	switch name {
	case "add", "remove", "list", "":
	default:
		name = "unknown"
	}
	p.metrics.Command(name)
	p.log.Debug("command handled",
		logx.String("command", name),
		logx.Strs("args", c.Args),
		logx.Int64("from", c.FromID),
		logx.Bool("changed", resp.Changed),
		logx.Duration("took", took),
	)
	eventbus.Emit(p.bus, eventbus.CommandHandled, map[string]any{"command": name, "changed": resp.Changed})

	if p.audit != nil {
		e := storage.AuditEntry{
			At:            started,
			ActorID:       c.FromID,
			ActorUsername: c.FromUsername,
			ChatID:        c.ChatID,
			Command:       name,
			Args:          c.Args,
			Result:        resp.Text,
			Changed:       resp.Changed,
			TookMS:        took.Milliseconds(),
		}
		if err := p.audit.AppendAudit(ctx, e); err != nil {
			p.log.Warn("audit append failed", logx.Err(err))
		}
	}
	return resp
}

func argCount(name string, want int, args []string) (string, bool) {
	if len(args) == want {
		return "", true
	}
	return fmt.Sprintf("Command %s expects %d argument, got %d", name, want, len(args)), false
}

func (p *Processor) add(ctx context.Context, args []string) Response {
	if msg, ok := argCount("add", 1, args); !ok {
		return Response{Text: msg}
	}
	name := strings.TrimSpace(args[0])
	if !tracking.ValidUsername(name) {
		return Response{Text: fmt.Sprintf("%q is not a valid GitHub username", classify.Truncate(name, classify.DefaultCap))}
	}
	if p.store.Contains(name) {
		return Response{Text: fmt.Sprintf("%s is already tracked", name)}
	}

	ok, err := p.exists.Exists(ctx, name)
	if err != nil {
		p.log.Warn("existence check failed", logx.String("entity", name), logx.Err(err))
		return Response{Text: fmt.Sprintf("Could not verify %s on GitHub, try again later", name)}
	}
	if !ok {
		return Response{Text: fmt.Sprintf("GitHub user %s does not exist", name)}
	}

	if err := p.store.Add(name); err != nil {
		// Lost a race with a config reload.
		if errors.Is(err, tracking.ErrAlreadyTracked) {
			return Response{Text: fmt.Sprintf("%s is already tracked", name)}
		}
		return Response{Text: fmt.Sprintf("Could not track %s: %v", name, err)}
	}
	p.log.Info("account tracked", logx.String("entity", name), logx.Int("tracked", p.store.Len()))
	p.reconf.Emit(ctx, reconf.TrackedSetChanged)
	return Response{Text: fmt.Sprintf("Started tracking %s", name), Changed: true}
}

func (p *Processor) remove(ctx context.Context, args []string) Response {
	if msg, ok := argCount("remove", 1, args); !ok {
		return Response{Text: msg}
	}
	name := strings.TrimSpace(args[0])
	if err := p.store.Remove(name); err != nil {
		return Response{Text: fmt.Sprintf("%s is not tracked", classify.Truncate(name, classify.DefaultCap))}
	}
	p.log.Info("account untracked", logx.String("entity", name), logx.Int("tracked", p.store.Len()))
	p.reconf.Emit(ctx, reconf.TrackedSetChanged)
	return Response{Text: fmt.Sprintf("Stopped tracking %s", name), Changed: true}
}

func (p *Processor) list() Response {
	ids := p.store.IDs()
	if len(ids) == 0 {
		return Response{Text: "No accounts are tracked."}
	}
	var b strings.Builder
	b.WriteString("Tracked accounts:")
	for _, id := range ids {
		b.WriteString("\n• ")
		b.WriteString(id)
	}
	return Response{Text: b.String()}
}
