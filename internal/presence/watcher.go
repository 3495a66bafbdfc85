package presence

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/store"
)

// Watcher observes the presence subtree of one session and recomputes
// the online predicate for every player on each snapshot.
type Watcher struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	records map[string]domain.PresenceRecord

	updates chan map[string]bool
	sub     *store.Subscription
}

type WatchConfig struct {
	Store     store.Store
	Code      string
	Staleness time.Duration
	Now       func() time.Time
}

func Watch(ctx context.Context, c WatchConfig) (*Watcher, error) {
	w := &Watcher{
		window:  c.Staleness,
		now:     c.Now,
		records: make(map[string]domain.PresenceRecord),
		updates: make(chan map[string]bool, 16),
	}

	if w.window <= 0 {
		w.window = DefaultStaleness
	}
	if w.now == nil {
		w.now = time.Now
	}

	tree := domain.PresenceTreePath(c.Code)

	// Subscribe before the initial read so no write is missed between
	// the two; a duplicate observation of the same record is harmless.
	sub, err := c.Store.Subscribe(ctx, tree)
	if err != nil {
		return nil, err
	}
	w.sub = sub

	children, err := c.Store.List(ctx, tree)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	for name, snap := range children {
		var rec domain.PresenceRecord
		if err := snap.Decode(&rec); err != nil {
			slog.ErrorContext(ctx, "presence: bad record", "path", snap.Path, "error", err)
			continue
		}
		w.records[name] = rec
	}

	go w.run(ctx, tree)

	return w, nil
}

func (w *Watcher) run(ctx context.Context, tree string) {
	defer close(w.updates)

	for ev := range w.sub.Events() {
		playerID := strings.TrimPrefix(ev.Path, tree+"/")
		if playerID == ev.Path || strings.Contains(playerID, "/") {
			continue
		}

		w.mu.Lock()
		if ev.Data == nil {
			delete(w.records, playerID)
		} else {
			var rec domain.PresenceRecord
			if err := store.NewSnapshot(ev.Path, ev.Data).Decode(&rec); err != nil {
				slog.ErrorContext(ctx, "presence: bad record", "path", ev.Path, "error", err)
				w.mu.Unlock()
				continue
			}
			w.records[playerID] = rec
		}
		w.mu.Unlock()

		// Drop rather than block: the next event carries a full
		// recomputation anyway.
		select {
		case w.updates <- w.Snapshot():
		default:
		}
	}
}

// Updates delivers the recomputed online map after each observed write.
func (w *Watcher) Updates() <-chan map[string]bool {
	return w.updates
}

// Snapshot classifies every currently known record against the
// staleness window.
func (w *Watcher) Snapshot() map[string]bool {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	online := make(map[string]bool, len(w.records))
	for id, rec := range w.records {
		online[id] = Online(rec, now, w.window)
	}

	return online
}

func (w *Watcher) Close() error {
	return w.sub.Close()
}
