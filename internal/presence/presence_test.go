package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/presence"
	"github.com/minhtp/drawdash/internal/store"
)

func TestOnline(t *testing.T) {
	now := time.UnixMilli(1_000_000_000)
	window := 30 * time.Second

	tests := map[string]struct {
		rec  domain.PresenceRecord
		want bool
	}{
		"fresh heartbeat": {
			rec:  domain.PresenceRecord{Online: true, LastSeen: now.Add(-5 * time.Second).UnixMilli()},
			want: true,
		},
		"explicitly offline": {
			rec:  domain.PresenceRecord{Online: false, LastSeen: now.UnixMilli()},
			want: false,
		},
		"stale true flag past the window": {
			// The client crashed before its hook fired; the flag still
			// says online but the silence gives it away.
			rec:  domain.PresenceRecord{Online: true, LastSeen: now.Add(-40 * time.Second).UnixMilli()},
			want: false,
		},
		"exactly at the window boundary": {
			rec:  domain.PresenceRecord{Online: true, LastSeen: now.Add(-30 * time.Second).UnixMilli()},
			want: false,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, presence.Online(tt.rec, now, window))
		})
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	_, st := makeStore(t)
	ctx := context.Background()

	clock := time.UnixMilli(1_000_000)
	tr := presence.NewTracker(presence.Config{
		Store:      st,
		Code:       "AB12",
		PlayerID:   "p1",
		PlayerName: "ana",
		Now:        func() time.Time { return clock },
	})

	require.NoError(t, tr.Start(ctx))

	rec := readRecord(t, st, "AB12", "p1")
	require.True(t, rec.Online)
	require.Equal(t, clock.UnixMilli(), rec.LastSeen)
	require.Equal(t, "ana", rec.PlayerName)

	clock = clock.Add(10 * time.Second)
	require.NoError(t, tr.Beat(ctx))

	rec = readRecord(t, st, "AB12", "p1")
	require.Equal(t, clock.UnixMilli(), rec.LastSeen, "heartbeat refreshes lastSeen")

	require.NoError(t, tr.Stop(ctx))

	rec = readRecord(t, st, "AB12", "p1")
	require.False(t, rec.Online, "graceful stop writes offline synchronously")
}

func TestTracker_StopDisarmsHook(t *testing.T) {
	mr, st := makeStore(t)
	ctx := context.Background()

	tr := presence.NewTracker(presence.Config{
		Store:    st,
		Code:     "AB12",
		PlayerID: "p1",
	})

	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Stop(ctx))

	// Simulate the player coming back before the old lease expires. A
	// leftover hook would knock them offline again.
	require.NoError(t, st.Update(ctx, domain.PresencePath("AB12", "p1"), map[string]any{
		"online": true,
	}))

	mr.FastForward(time.Minute)
	require.NoError(t, st.Sweep(ctx))

	require.True(t, readRecord(t, st, "AB12", "p1").Online)
}

func TestTracker_CrashFiresHook(t *testing.T) {
	mr, st := makeStore(t)
	ctx := context.Background()

	tr := presence.NewTracker(presence.Config{
		Store:    st,
		Code:     "AB12",
		PlayerID: "p1",
	})

	require.NoError(t, tr.Start(ctx))
	// No Stop: the client vanishes and only the lease expiry tells.

	mr.FastForward(time.Minute)
	require.NoError(t, st.Sweep(ctx))

	require.False(t, readRecord(t, st, "AB12", "p1").Online)
}

func TestWatcher(t *testing.T) {
	_, st := makeStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.UnixMilli(10_000_000)

	require.NoError(t, st.Set(ctx, domain.PresencePath("AB12", "p1"), domain.PresenceRecord{
		Online:   true,
		LastSeen: now.Add(-5 * time.Second).UnixMilli(),
	}))
	require.NoError(t, st.Set(ctx, domain.PresencePath("AB12", "p2"), domain.PresenceRecord{
		Online:   true,
		LastSeen: now.Add(-45 * time.Second).UnixMilli(),
	}))

	w, err := presence.Watch(ctx, presence.WatchConfig{
		Store: st,
		Code:  "AB12",
		Now:   func() time.Time { return now },
	})
	require.NoError(t, err)
	defer w.Close()

	online := w.Snapshot()
	require.True(t, online["p1"])
	require.False(t, online["p2"], "stale heartbeat classifies offline despite online flag")

	require.NoError(t, st.Update(ctx, domain.PresencePath("AB12", "p2"), map[string]any{
		"lastSeen": now.UnixMilli(),
	}))

	select {
	case online = <-w.Updates():
		require.True(t, online["p2"], "refreshed heartbeat flips the classification")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence update")
	}
}

func readRecord(t *testing.T, st *store.Redis, code, playerID string) domain.PresenceRecord {
	t.Helper()

	snap, err := st.Get(context.Background(), domain.PresencePath(code, playerID))
	require.NoError(t, err)
	require.True(t, snap.Exists())

	var rec domain.PresenceRecord
	require.NoError(t, snap.Decode(&rec))
	return rec
}

func makeStore(t *testing.T) (*miniredis.Miniredis, *store.Redis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")

	return mr, store.New(store.Config{
		Redis:    rc,
		Prefix:   "test",
		LeaseTTL: 10 * time.Second,
	})
}
