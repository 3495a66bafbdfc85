package lobby_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/errors"
	"github.com/minhtp/drawdash/internal/event"
	"github.com/minhtp/drawdash/internal/lobby"
	"github.com/minhtp/drawdash/internal/store"
)

func TestService_CreateSession(t *testing.T) {
	st, s := makeService(t)

	session, err := s.CreateSession(context.Background(), domain.ModeRace, lobby.Profile{Name: "ana", Avatar: "🦊"})
	require.NoError(t, err)

	require.Len(t, session.Code, 4)
	require.Equal(t, domain.StatusWaiting, session.Status)
	require.Equal(t, 6, session.MaxRounds)

	host := session.Players[session.HostID]
	require.True(t, host.IsHost)
	require.Equal(t, "ana", host.Name)

	stored := readSession(t, st, session.Code)
	require.Equal(t, session.HostID, stored.HostID)
}

func TestService_JoinSession(t *testing.T) {
	tests := map[string]struct {
		arrange  func(t *testing.T, st *store.Redis, s *lobby.Service) string
		wantCode errors.Code
	}{
		"joins a waiting session": {
			arrange: func(t *testing.T, st *store.Redis, s *lobby.Service) string {
				return createSession(t, s, domain.ModeRace)
			},
		},

		"unknown code is NotFound": {
			arrange: func(t *testing.T, st *store.Redis, s *lobby.Service) string {
				return "ZZZZ"
			},
			wantCode: errors.CodeNotFound,
		},

		"started session refuses admission": {
			arrange: func(t *testing.T, st *store.Redis, s *lobby.Service) string {
				code := createSession(t, s, domain.ModeRace)
				require.NoError(t, st.Update(context.Background(), domain.SessionPath(code), map[string]any{
					"status": domain.StatusPlaying,
				}))
				return code
			},
			wantCode: errors.CodeAlreadyStarted,
		},

		"full session refuses admission": {
			arrange: func(t *testing.T, st *store.Redis, s *lobby.Service) string {
				code := createSession(t, s, domain.ModeRace)
				for i := 0; i < 7; i++ {
					_, err := s.JoinSession(context.Background(), code, lobby.Profile{Name: fmt.Sprintf("p%d", i)})
					require.NoError(t, err)
				}
				return code
			},
			wantCode: errors.CodeFull,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			st, s := makeService(t)
			code := tt.arrange(t, st, s)

			player, err := s.JoinSession(context.Background(), code, lobby.Profile{Name: "late"})
			if tt.wantCode != 0 {
				require.Error(t, err)
				require.True(t, errors.Is(err, tt.wantCode), "got %v", err)
				return
			}

			require.NoError(t, err)
			require.False(t, readSession(t, st, code).Players[player.ID].IsHost)
		})
	}
}

func TestService_ListJoinable(t *testing.T) {
	st, s := makeService(t)
	ctx := context.Background()

	race := createSession(t, s, domain.ModeRace)
	team := createSession(t, s, domain.ModeTeam)
	started := createSession(t, s, domain.ModeRace)
	require.NoError(t, st.Update(ctx, domain.SessionPath(started), map[string]any{
		"status": domain.StatusPlaying,
	}))

	list, err := s.ListJoinable(ctx, domain.ModeRace)
	require.NoError(t, err)

	require.Len(t, list, 1)
	require.Equal(t, race, list[0].Code)
	require.Equal(t, 1, list[0].PlayerCount)
	require.NotEqual(t, team, list[0].Code)
}

func TestService_WatchJoinable(t *testing.T) {
	_, s := makeService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, stop, err := s.WatchJoinable(ctx, domain.ModeRace)
	require.NoError(t, err)
	defer stop()

	code := createSession(t, s, domain.ModeRace)

	select {
	case list := <-updates:
		require.Len(t, list, 1)
		require.Equal(t, code, list[0].Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for joinable update")
	}
}

func TestService_Leave_LastPlayerDeletesSession(t *testing.T) {
	st, s := makeService(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, domain.ModeRace, lobby.Profile{Name: "ana"})
	require.NoError(t, err)

	require.NoError(t, s.Leave(ctx, session.Code, session.HostID))

	snap, err := st.Get(ctx, domain.SessionPath(session.Code))
	require.NoError(t, err)
	require.False(t, snap.Exists())
}

func TestService_Leave_HostMigration(t *testing.T) {
	st, s := makeService(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, domain.ModeRace, lobby.Profile{Name: "ana"})
	require.NoError(t, err)

	p2, err := s.JoinSession(ctx, session.Code, lobby.Profile{Name: "bo"})
	require.NoError(t, err)
	p3, err := s.JoinSession(ctx, session.Code, lobby.Profile{Name: "cy"})
	require.NoError(t, err)

	require.NoError(t, s.Leave(ctx, session.Code, session.HostID))

	got := readSession(t, st, session.Code)

	// Host role hands off to the lowest remaining id so every client
	// that replays this migration picks the same player.
	wantHost := p2.ID
	if p3.ID < p2.ID {
		wantHost = p3.ID
	}
	require.Equal(t, wantHost, got.HostID)
	require.True(t, got.Players[wantHost].IsHost)
	require.NotContains(t, got.Players, session.HostID)

	hosts := 0
	for _, p := range got.Players {
		if p.IsHost {
			hosts++
		}
	}
	require.Equal(t, 1, hosts, "exactly one host after migration")
}

func TestService_Leave_ReassignsDrawer(t *testing.T) {
	st, s := makeService(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, domain.ModeTeam, lobby.Profile{Name: "ana"})
	require.NoError(t, err)

	_, err = s.JoinSession(ctx, session.Code, lobby.Profile{Name: "bo"})
	require.NoError(t, err)
	_, err = s.JoinSession(ctx, session.Code, lobby.Profile{Name: "cy"})
	require.NoError(t, err)

	// Put the host mid-round as the drawer with a drawing up.
	require.NoError(t, st.Update(ctx, domain.SessionPath(session.Code), map[string]any{
		"status":          domain.StatusPlaying,
		"roundStatus":     domain.StatusPlaying,
		"currentDrawerId": session.HostID,
		"currentDrawing":  "data:image/png;base64,xxxx",
	}))

	require.NoError(t, s.Leave(ctx, session.Code, session.HostID))

	got := readSession(t, st, session.Code)
	require.NotEmpty(t, got.CurrentDrawerID)
	require.NotEqual(t, session.HostID, got.CurrentDrawerID)
	require.Contains(t, got.Players, got.CurrentDrawerID)
	require.Empty(t, got.CurrentDrawing, "shared drawing cleared with the drawer gone")
	require.NotEmpty(t, got.HostID, "session keeps a host while players remain")
}

func createSession(t *testing.T, s *lobby.Service, mode domain.Mode) string {
	t.Helper()

	session, err := s.CreateSession(context.Background(), mode, lobby.Profile{Name: "host"})
	require.NoError(t, err)
	return session.Code
}

func readSession(t *testing.T, st *store.Redis, code string) domain.Session {
	t.Helper()

	snap, err := st.Get(context.Background(), domain.SessionPath(code))
	require.NoError(t, err)
	require.True(t, snap.Exists())

	var session domain.Session
	require.NoError(t, snap.Decode(&session))
	return session
}

func makeService(t *testing.T) (*store.Redis, *lobby.Service) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")

	st := store.New(store.Config{Redis: rc, Prefix: "test"})

	return st, lobby.NewService(lobby.Config{
		Store:    st,
		EventBus: event.NewBus(),
	})
}
