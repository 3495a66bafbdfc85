package event_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minhtp/drawdash/internal/event"
)

type fakeEvent struct {
	name string
}

func (e fakeEvent) Name() string { return e.name }

func TestBus(t *testing.T) {
	b := event.NewBus()

	var roundStarted, roundFinished atomic.Int32

	b.Subscribe("round.started", func(ctx context.Context, e event.Event) error {
		roundStarted.Add(1)
		return nil
	})
	b.Subscribe("round.started", func(ctx context.Context, e event.Event) error {
		roundStarted.Add(1)
		return nil
	})
	b.Subscribe("round.finished", func(ctx context.Context, e event.Event) error {
		roundFinished.Add(1)
		return nil
	})

	ctx := context.Background()
	b.Publish(ctx, fakeEvent{name: "round.started"})
	b.Publish(ctx, fakeEvent{name: "round.started"})
	b.Publish(ctx, fakeEvent{name: "game.ended"})

	b.Stop()

	assert.EqualValues(t, 4, roundStarted.Load(), "each handler runs per publish")
	assert.EqualValues(t, 0, roundFinished.Load(), "unrelated handlers stay idle")
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	b := event.NewBus()

	var handled atomic.Int32

	b.Subscribe("round.started", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe("round.started", func(ctx context.Context, e event.Event) error {
		handled.Add(1)
		return nil
	})

	b.Publish(context.Background(), fakeEvent{name: "round.started"})
	b.Stop()

	assert.EqualValues(t, 1, handled.Load(), "a panicking handler does not take down the rest")
}
