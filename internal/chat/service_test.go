package chat_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/minhtp/drawdash/internal/arbiter"
	"github.com/minhtp/drawdash/internal/chat"
	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/event"
	"github.com/minhtp/drawdash/internal/store"
)

func TestService_Post(t *testing.T) {
	st, s := makeService(t, 50)
	ctx := context.Background()

	writeTeamSession(t, st, "CD34")

	msg, err := s.Post(ctx, "CD34", "p2", "bo", "a boat?", false)
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, "p2", msg.SenderID)

	log, err := s.Messages(ctx, "CD34")
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, "a boat?", log[0].Text)

	require.Empty(t, readSession(t, st, "CD34").RoundWinner, "a wrong guess resolves nothing")
}

func TestService_Post_KeepsOnlyTrailingMessages(t *testing.T) {
	st, s := makeService(t, 5)
	ctx := context.Background()

	writeTeamSession(t, st, "CD34")

	for i := 0; i < 8; i++ {
		_, err := s.Post(ctx, "CD34", "p2", "bo", fmt.Sprintf("guess %d", i), false)
		require.NoError(t, err)
	}

	log, err := s.Messages(ctx, "CD34")
	require.NoError(t, err)
	require.Len(t, log, 5)
	require.Equal(t, "guess 3", log[0].Text, "oldest messages fall off")
	require.Equal(t, "guess 7", log[4].Text)
}

func TestService_Post_CorrectGuessEndsTheRound(t *testing.T) {
	st, s := makeService(t, 50)
	ctx := context.Background()

	writeTeamSession(t, st, "CD34")

	_, err := s.Post(ctx, "CD34", "p2", "bo", "house", true)
	require.NoError(t, err)

	got := readSession(t, st, "CD34")
	require.Equal(t, "p2", got.RoundWinner)
	require.Equal(t, domain.WinnerHuman, got.RoundWinnerKind)
	require.Equal(t, domain.StatusFinished, got.RoundStatus)
	require.Equal(t, 100, got.Players["p2"].Score)
	require.Equal(t, 50, got.Players["p1"].Score, "drawer shares the win")

	// A second correct guess still posts but no longer changes scores.
	_, err = s.Post(ctx, "CD34", "p3", "cy", "house", true)
	require.NoError(t, err)

	got = readSession(t, st, "CD34")
	require.Equal(t, "p2", got.RoundWinner)
	require.Zero(t, got.Players["p3"].Score)
}

func TestService_Post_AISenderDoesNotScoreAsHuman(t *testing.T) {
	st, s := makeService(t, 50)
	ctx := context.Background()

	writeTeamSession(t, st, "CD34")

	_, err := s.Post(ctx, "CD34", domain.AIPlayerID, "AI", "house", true)
	require.NoError(t, err)

	got := readSession(t, st, "CD34")
	require.Empty(t, got.RoundWinner, "the AI announcement is just a message")
	for id, p := range got.Players {
		require.Zero(t, p.Score, "no scores move: %s", id)
	}
}

func TestService_Watch(t *testing.T) {
	st, s := makeService(t, 50)
	ctx := context.Background()

	writeTeamSession(t, st, "CD34")

	updates, stop, err := s.Watch(ctx, "CD34")
	require.NoError(t, err)
	defer stop()

	_, err = s.Post(ctx, "CD34", "p2", "bo", "a boat?", false)
	require.NoError(t, err)

	select {
	case log := <-updates:
		require.Len(t, log, 1)
		require.Equal(t, "a boat?", log[0].Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no chat update observed")
	}
}

func TestService_Clear(t *testing.T) {
	st, s := makeService(t, 50)
	ctx := context.Background()

	writeTeamSession(t, st, "CD34")

	_, err := s.Post(ctx, "CD34", "p2", "bo", "a boat?", false)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "CD34"))

	log, err := s.Messages(ctx, "CD34")
	require.NoError(t, err)
	require.Empty(t, log)
}

func writeTeamSession(t *testing.T, st *store.Redis, code string) {
	t.Helper()

	require.NoError(t, st.Set(context.Background(), domain.SessionPath(code), domain.Session{
		Code:            code,
		Mode:            domain.ModeTeam,
		Status:          domain.StatusPlaying,
		HostID:          "p1",
		CurrentRound:    1,
		MaxRounds:       6,
		CurrentWord:     "house",
		CurrentDrawerID: "p1",
		RoundStatus:     domain.StatusPlaying,
		RoundDurationMS: (90 * time.Second).Milliseconds(),
		AIThreshold:     0.85,
		Players: map[string]domain.Player{
			"p1": {ID: "p1", Name: "ana", IsHost: true},
			"p2": {ID: "p2", Name: "bo"},
			"p3": {ID: "p3", Name: "cy"},
		},
	}))
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

func makeService(t *testing.T, limit int) (*store.Redis, *chat.Service) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")

	st := store.New(store.Config{Redis: rc, Prefix: "test"})
	eb := event.NewBus()

	return st, chat.NewService(chat.Config{
		Store:    st,
		EventBus: eb,
		Arbiter:  arbiter.NewService(arbiter.Config{Store: st, EventBus: eb}),
		Limit:    limit,
	})
}
