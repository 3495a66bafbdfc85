// Package presence tracks per-player liveness with heartbeats against
// the shared store plus a disconnect hook as the crash fallback.
// Staleness is advisory: a silent player is shown offline but never
// removed from the session.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/store"
)

const (
	DefaultHeartbeat = 10 * time.Second

	// DefaultStaleness is three missed heartbeats.
	DefaultStaleness = 30 * time.Second
)

// Online is the liveness predicate every observer applies: the record
// must say online and must have been refreshed within the window. The
// second clause catches crashed clients whose disconnect hook never
// fired.
func Online(rec domain.PresenceRecord, now time.Time, window time.Duration) bool {
	if !rec.Online {
		return false
	}

	return now.Sub(time.UnixMilli(rec.LastSeen)) < window
}

type Config struct {
	Store      store.Store
	Code       string
	PlayerID   string
	PlayerName string
	Heartbeat  time.Duration
	Now        func() time.Time
}

// Tracker maintains one player's presence record for the lifetime of
// their session membership.
type Tracker struct {
	st         store.Store
	code       string
	playerID   string
	playerName string
	heartbeat  time.Duration
	now        func() time.Time

	mu     sync.Mutex
	hook   *store.DisconnectHook
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(c Config) *Tracker {
	t := &Tracker{
		st:         c.Store,
		code:       c.Code,
		playerID:   c.PlayerID,
		playerName: c.PlayerName,
		heartbeat:  c.Heartbeat,
		now:        c.Now,
	}

	if t.heartbeat <= 0 {
		t.heartbeat = DefaultHeartbeat
	}
	if t.now == nil {
		t.now = time.Now
	}

	return t
}

func (t *Tracker) path() string {
	return domain.PresencePath(t.code, t.playerID)
}

// Start establishes the presence record, arms the disconnect hook and
// begins heartbeating until Stop is called or ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) error {
	now := t.now().UnixMilli()

	err := t.st.Set(ctx, t.path(), domain.PresenceRecord{
		Online:     true,
		LastSeen:   now,
		PlayerName: t.playerName,
		JoinedAt:   now,
	})
	if err != nil {
		return err
	}

	if err := t.arm(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Lock()
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.loop(loopCtx)

	return nil
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A failed beat degrades this player to "unknown" for
			// observers once the window passes; the next beat heals it.
			if err := t.Beat(ctx); err != nil {
				slog.ErrorContext(ctx, "presence: heartbeat failed",
					"session", t.code, "player", t.playerID, "error", err)
			}
		}
	}
}

// Beat refreshes the record and re-arms the disconnect hook. A fired
// hook is consumed by the store, so every refresh re-arms.
func (t *Tracker) Beat(ctx context.Context) error {
	err := t.st.Update(ctx, t.path(), map[string]any{
		"online":   true,
		"lastSeen": t.now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	return t.arm(ctx)
}

func (t *Tracker) arm(ctx context.Context) error {
	hook, err := t.st.OnDisconnectSet(ctx, t.path(), map[string]any{
		"online":   false,
		"lastSeen": t.now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.hook = hook
	t.mu.Unlock()

	return nil
}

// Stop is the graceful exit: the hook is disarmed first so it cannot
// fire late, then the offline write the hook would have done runs
// synchronously.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel, done, hook := t.cancel, t.done, t.hook
	t.cancel, t.done, t.hook = nil, nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if hook != nil {
		if err := hook.Cancel(ctx); err != nil {
			return err
		}
	}

	return t.st.Update(ctx, t.path(), map[string]any{
		"online":   false,
		"lastSeen": t.now().UnixMilli(),
	})
}
