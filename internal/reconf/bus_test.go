package reconf

import (
	"context"
	"errors"
	"reflect"
	"testing"

	logx "ghwatch/pkg/logx"
)

func TestEmitRunsObserversInOrderThenPersister(t *testing.T) {
	b := New(logx.Nop())
	var calls []string
	record := func(name string) Observer {
		return func(ctx context.Context, c Change) error {
			calls = append(calls, name+":"+string(c))
			return nil
		}
	}
	b.SetPersister(record("persist"))
	b.Subscribe("scheduler", record("scheduler"))
	b.Subscribe("sink", record("sink"))

	b.Emit(context.Background(), DestinationSetChanged)

	want := []string{"scheduler:destination_set", "sink:destination_set", "persist:destination_set"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestEmitSurvivesFailingObservers(t *testing.T) {
	b := New(logx.Nop())
	persisted := 0
	reached := false
	b.Subscribe("err", func(ctx context.Context, c Change) error { return errors.New("boom") })
	b.Subscribe("panic", func(ctx context.Context, c Change) error { panic("bad observer") })
	b.Subscribe("ok", func(ctx context.Context, c Change) error { reached = true; return nil })
	b.SetPersister(func(ctx context.Context, c Change) error { persisted++; return nil })

	b.Emit(context.Background(), TrackedSetChanged)

	if !reached {
		t.Fatalf("later observer was not called")
	}
	if persisted != 1 {
		t.Fatalf("persisted = %d, want 1", persisted)
	}
}

func TestEmitWithoutPersister(t *testing.T) {
	b := New(logx.Nop())
	n := 0
	b.Subscribe("count", func(ctx context.Context, c Change) error { n++; return nil })
	b.Emit(context.Background(), IntervalChanged)
	b.Emit(context.Background(), CommandChannelChanged)
	if n != 2 {
		t.Fatalf("n = %d", n)
	}
}
