// Package reconf propagates runtime configuration changes to the components
// that cache derived state, then persists them.
package reconf

import (
	"context"
	"fmt"
	"sync"

	logx "ghwatch/pkg/logx"
)

// Change tags one kind of configuration change.
type Change string

const (
	TrackedSetChanged     Change = "tracked_set"
	DestinationSetChanged Change = "destination_set"
	CommandChannelChanged Change = "command_channel"
	IntervalChanged       Change = "interval"
)

// Observer reacts to a change. Observers run synchronously on the emitting goroutine.
type Observer func(ctx context.Context, c Change) error

type entry struct {
	name string
	fn   Observer
}

// Bus is a synchronous, ordered observer list with a persistence hook that always runs last.
type Bus struct {
	log logx.Logger

	mu        sync.RWMutex
	observers []entry
	persister Observer

	// emitMu serializes Emit so only one change propagates at a time.
	emitMu sync.Mutex
}

func New(log logx.Logger) *Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{log: log}
}

// Subscribe appends an observer. Observers are called in registration order.
func (b *Bus) Subscribe(name string, fn Observer) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, entry{name: name, fn: fn})
	b.mu.Unlock()
}

// SetPersister installs the write-back hook.
func (b *Bus) SetPersister(fn Observer) {
	b.mu.Lock()
	b.persister = fn
	b.mu.Unlock()
}

// Emit notifies every observer, then the persister. A failing or panicking
// observer is logged and does not stop the others.
func (b *Bus) Emit(ctx context.Context, c Change) {
	if b == nil {
		return
	}
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.RLock()
	obs := append([]entry(nil), b.observers...)
	persist := b.persister
	b.mu.RUnlock()

	for _, o := range obs {
		if err := call(ctx, o.fn, c); err != nil {
			b.log.Warn("reconfiguration observer failed", logx.String("observer", o.name), logx.String("change", string(c)), logx.Err(err))
		}
	}
	if persist != nil {
		if err := call(ctx, persist, c); err != nil {
			b.log.Error("configuration write-back failed", logx.String("change", string(c)), logx.Err(err))
		}
	}
	b.log.Debug("reconfiguration emitted", logx.String("change", string(c)), logx.Int("observers", len(obs)))
}

func call(ctx context.Context, fn Observer, c Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, c)
}
