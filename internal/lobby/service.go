// Package lobby admits players into sessions and owns session
// membership: creation, joining, the joinable listing and leaving,
// including host migration when the host departs.
package lobby

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/errors"
	"github.com/minhtp/drawdash/internal/event"
	"github.com/minhtp/drawdash/internal/store"
)

const (
	DefaultMaxPlayers = 8
	DefaultMaxRounds  = 6

	DefaultRaceRoundDuration = 20 * time.Second
	DefaultTeamRoundDuration = 90 * time.Second
	DefaultAIThreshold       = 0.85

	// codeAlphabet drops glyphs that read ambiguously (0/O, 1/I/L).
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 4

	createAttempts = 5
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus

	MaxPlayers        int
	MaxRounds         int
	RaceRoundDuration time.Duration
	TeamRoundDuration time.Duration
	AIThreshold       float64

	Now         func() time.Time
	NewCode     func() string
	NewPlayerID func() string
}

type Service struct {
	st store.Store
	eb *event.Bus

	maxPlayers  int
	maxRounds   int
	raceRound   time.Duration
	teamRound   time.Duration
	aiThreshold float64

	now         func() time.Time
	newCode     func() string
	newPlayerID func() string
}

func NewService(c Config) *Service {
	s := &Service{
		st:          c.Store,
		eb:          c.EventBus,
		maxPlayers:  c.MaxPlayers,
		maxRounds:   c.MaxRounds,
		raceRound:   c.RaceRoundDuration,
		teamRound:   c.TeamRoundDuration,
		aiThreshold: c.AIThreshold,
		now:         c.Now,
		newCode:     c.NewCode,
		newPlayerID: c.NewPlayerID,
	}

	if s.maxPlayers <= 0 {
		s.maxPlayers = DefaultMaxPlayers
	}
	if s.maxRounds <= 0 {
		s.maxRounds = DefaultMaxRounds
	}
	if s.raceRound <= 0 {
		s.raceRound = DefaultRaceRoundDuration
	}
	if s.teamRound <= 0 {
		s.teamRound = DefaultTeamRoundDuration
	}
	if s.aiThreshold <= 0 {
		s.aiThreshold = DefaultAIThreshold
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newCode == nil {
		s.newCode = NewCode
	}
	if s.newPlayerID == nil {
		s.newPlayerID = uuid.NewString
	}

	return s
}

// NewCode generates a 4-character session code.
func NewCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			panic(err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}

	return string(code)
}

// Profile is what a joining client tells us about its player.
type Profile struct {
	Name   string
	Avatar string
}

// CreateSession opens a new waiting session with the creator as host.
func (s *Service) CreateSession(ctx context.Context, mode domain.Mode, profile Profile) (*domain.Session, error) {
	playerID := s.newPlayerID()
	now := s.now().UnixMilli()

	duration := s.raceRound
	if mode == domain.ModeTeam {
		duration = s.teamRound
	}

	session := &domain.Session{
		Mode:            mode,
		Status:          domain.StatusWaiting,
		HostID:          playerID,
		MaxRounds:       s.maxRounds,
		RoundDurationMS: duration.Milliseconds(),
		AIThreshold:     s.aiThreshold,
		CreatedAt:       now,
		Players: map[string]domain.Player{
			playerID: {
				ID:       playerID,
				Name:     profile.Name,
				Avatar:   profile.Avatar,
				IsHost:   true,
				IsOnline: true,
				LastSeen: now,
			},
		},
	}

	// Codes are short, so collide occasionally; probe before claiming.
	for i := 0; i < createAttempts; i++ {
		code := s.newCode()

		snap, err := s.st.Get(ctx, domain.SessionPath(code))
		if err != nil {
			return nil, err
		}
		if snap.Exists() {
			continue
		}

		session.Code = code
		if err := s.st.Set(ctx, domain.SessionPath(code), session); err != nil {
			return nil, err
		}

		s.eb.Publish(ctx, domain.EventSessionCreated{
			Code:   code,
			Mode:   mode,
			HostID: playerID,
		})

		return session, nil
	}

	return nil, errors.New(errors.CodeInternal,
		errors.WithMessagef("lobby: could not find a free session code"))
}

// JoinSession admits a player into a waiting session.
func (s *Service) JoinSession(ctx context.Context, code string, profile Profile) (*domain.Player, error) {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return nil, err
	}

	if session.Status != domain.StatusWaiting {
		return nil, errors.New(errors.CodeAlreadyStarted,
			errors.WithMessagef("lobby: session %s already started", code))
	}

	if len(session.Players) >= s.maxPlayers {
		return nil, errors.New(errors.CodeFull,
			errors.WithMessagef("lobby: session %s is full", code))
	}

	player := domain.Player{
		ID:       s.newPlayerID(),
		Name:     profile.Name,
		Avatar:   profile.Avatar,
		IsOnline: true,
		LastSeen: s.now().UnixMilli(),
	}

	err = s.st.Update(ctx, domain.SessionPath(code), map[string]any{
		"players/" + player.ID: player,
	})
	if err != nil {
		return nil, err
	}

	return &player, nil
}

// Summary is the joinable-list view of a session.
type Summary struct {
	Code        string      `json:"code"`
	Mode        domain.Mode `json:"mode"`
	HostName    string      `json:"hostName"`
	PlayerCount int         `json:"playerCount"`
	MaxPlayers  int         `json:"maxPlayers"`
}

// ListJoinable returns the waiting, below-capacity sessions of a mode.
func (s *Service) ListJoinable(ctx context.Context, mode domain.Mode) ([]Summary, error) {
	children, err := s.st.List(ctx, "sessions")
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(children))
	for _, snap := range children {
		var session domain.Session
		if err := snap.Decode(&session); err != nil {
			slog.ErrorContext(ctx, "lobby: bad session document", "path", snap.Path, "error", err)
			continue
		}

		if session.Status != domain.StatusWaiting || session.Mode != mode {
			continue
		}
		if len(session.Players) >= s.maxPlayers {
			continue
		}

		summaries = append(summaries, Summary{
			Code:        session.Code,
			Mode:        session.Mode,
			HostName:    session.Players[session.HostID].Name,
			PlayerCount: len(session.Players),
			MaxPlayers:  s.maxPlayers,
		})
	}

	return summaries, nil
}

// WatchJoinable keeps a live joinable listing: the full list is
// recomputed after every observed write under sessions/ and delivered
// on the returned channel. Close the returned func to stop.
func (s *Service) WatchJoinable(ctx context.Context, mode domain.Mode) (<-chan []Summary, func() error, error) {
	sub, err := s.st.Subscribe(ctx, "sessions")
	if err != nil {
		return nil, nil, err
	}

	updates := make(chan []Summary, 16)

	go func() {
		defer close(updates)

		for range sub.Events() {
			list, err := s.ListJoinable(ctx, mode)
			if err != nil {
				slog.ErrorContext(ctx, "lobby: refresh joinable list failed", "error", err)
				continue
			}

			select {
			case updates <- list:
			default:
			}
		}
	}()

	return updates, sub.Close, nil
}

// Leave removes a player. The last player leaving deletes the session.
// A departing host hands the role to the lowest remaining player id in
// the same write that removes them, so no observed snapshot is ever
// hostless while players remain; a departing drawer mid-round is
// replaced and the shared drawing cleared.
func (s *Service) Leave(ctx context.Context, code, playerID string) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if _, ok := session.Players[playerID]; !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("lobby: player %s not in session %s", playerID, code))
	}

	if len(session.Players) <= 1 {
		if err := s.st.Delete(ctx, domain.SessionPath(code)); err != nil {
			return err
		}
		return s.st.Delete(ctx, domain.PresenceTreePath(code))
	}

	fields := map[string]any{
		"players/" + playerID: nil,
	}

	remaining := make([]string, 0, len(session.Players)-1)
	for _, id := range session.PlayerIDs() {
		if id != playerID {
			remaining = append(remaining, id)
		}
	}

	if session.HostID == playerID {
		newHost := remaining[0]
		fields["hostId"] = newHost
		fields[domain.PlayerField(newHost, "isHost")] = true
	}

	if session.Mode == domain.ModeTeam && session.CurrentDrawerID == playerID {
		fields["currentDrawerId"] = nextAfter(remaining, playerID)
		fields["currentDrawing"] = nil
	}

	if err := s.st.Update(ctx, domain.SessionPath(code), fields); err != nil {
		return err
	}

	return s.st.Delete(ctx, domain.PresencePath(code, playerID))
}

// nextAfter picks the first id that sorts after the departed one,
// wrapping, so every client reassigns to the same player.
func nextAfter(ids []string, departed string) string {
	for _, id := range ids {
		if id > departed {
			return id
		}
	}

	return ids[0]
}

func (s *Service) getSession(ctx context.Context, code string) (*domain.Session, error) {
	snap, err := s.st.Get(ctx, domain.SessionPath(code))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("lobby: session %s not found", code))
	}

	var session domain.Session
	if err := snap.Decode(&session); err != nil {
		return nil, errors.Internal(err)
	}

	return &session, nil
}
