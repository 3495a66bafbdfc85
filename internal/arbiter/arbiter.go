// Package arbiter resolves the race between concurrent completion
// claims into exactly one winner per round. Every resolution path
// re-reads the session immediately before writing and backs off with a
// StaleWrite when another claim already won; the guards are
// check-then-act, not compare-and-swap, which the store cannot offer.
package arbiter

import (
	"context"
	"time"

	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/errors"
	"github.com/minhtp/drawdash/internal/event"
	"github.com/minhtp/drawdash/internal/predict"
	"github.com/minhtp/drawdash/internal/scoring"
	"github.com/minhtp/drawdash/internal/store"
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Now      func() time.Time
}

type Service struct {
	st  store.Store
	eb  *event.Bus
	now func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		st:  c.Store,
		eb:  c.EventBus,
		now: c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Claim is a player's assertion of having completed the round.
type Claim struct {
	Success       bool
	Confidence    float64
	TimeRemaining time.Duration
}

// ResolveRaceClaim records the first successful RACE claim as the round
// winner and applies the winner's score using their own claim values.
// Later claims for an already-won round return StaleWrite.
func (s *Service) ResolveRaceClaim(ctx context.Context, code, playerID string, claim Claim) error {
	if !claim.Success {
		return nil
	}

	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if session.Mode != domain.ModeRace {
		return nil
	}
	if session.RoundStatus != domain.StatusPlaying || session.RoundWinner != "" {
		return staleWrite(code, "race winner already recorded")
	}

	player, ok := session.Players[playerID]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("arbiter: player %s not in session %s", playerID, code))
	}

	points := scoring.RaceScore(claim.TimeRemaining, session.RoundDuration(), claim.Confidence)

	err = s.st.Update(ctx, domain.SessionPath(code), map[string]any{
		"roundWinner":     playerID,
		"roundWinnerKind": domain.WinnerHuman,
		"roundStatus":     domain.StatusFinished,
		domain.PlayerField(playerID, "score"):     player.Score + points,
		domain.PlayerField(playerID, "roundsWon"): player.RoundsWon + 1,
	})
	if err != nil {
		return err
	}

	s.publishFinished(ctx, session, playerID, domain.WinnerHuman)

	return nil
}

// ResolveHumanGuess ends a TEAM round in favor of the humans: the
// guesser and the current drawer are rewarded and the round finishes.
func (s *Service) ResolveHumanGuess(ctx context.Context, code, playerID string) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if session.Mode != domain.ModeTeam {
		return nil
	}
	if session.RoundStatus != domain.StatusPlaying || session.RoundWinner != "" {
		return staleWrite(code, "round not open for guesses")
	}

	guesser, ok := session.Players[playerID]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("arbiter: player %s not in session %s", playerID, code))
	}

	fields := map[string]any{
		"roundWinner":     playerID,
		"roundWinnerKind": domain.WinnerHuman,
		"roundStatus":     domain.StatusFinished,
		domain.PlayerField(playerID, "score"):     guesser.Score + scoring.GuesserPoints,
		domain.PlayerField(playerID, "roundsWon"): guesser.RoundsWon + 1,
	}

	if drawer, ok := session.Players[session.CurrentDrawerID]; ok && drawer.ID != playerID {
		fields[domain.PlayerField(drawer.ID, "score")] = drawer.Score + scoring.DrawerPoints
	}

	if err := s.st.Update(ctx, domain.SessionPath(code), fields); err != nil {
		return err
	}

	s.publishFinished(ctx, session, playerID, domain.WinnerHuman)

	return nil
}

// ResolveAIGuess ends a TEAM round in favor of the model once a single
// observation names the current word above the session's confidence
// threshold. Human scores are untouched.
func (s *Service) ResolveAIGuess(ctx context.Context, code string, guess predict.Guess) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if session.Mode != domain.ModeTeam {
		return nil
	}
	if !guess.Matches(session.CurrentWord) || !guess.Confident(session.AIThreshold) {
		return nil
	}
	if session.RoundStatus != domain.StatusPlaying || session.RoundWinner != "" {
		return staleWrite(code, "round not open for guesses")
	}

	err = s.st.Update(ctx, domain.SessionPath(code), map[string]any{
		"roundWinner":     domain.AIPlayerID,
		"roundWinnerKind": domain.WinnerAI,
		"roundStatus":     domain.StatusFinished,
		"aiScore":         session.AIScore + scoring.AIPoints,
	})
	if err != nil {
		return err
	}

	s.publishFinished(ctx, session, domain.AIPlayerID, domain.WinnerAI)

	return nil
}

func (s *Service) publishFinished(ctx context.Context, session *domain.Session, winnerID string, kind domain.WinnerKind) {
	s.eb.Publish(ctx, domain.EventRoundFinished{
		Code:       session.Code,
		Round:      session.CurrentRound,
		WinnerID:   winnerID,
		WinnerKind: kind,
	})
}

func (s *Service) getSession(ctx context.Context, code string) (*domain.Session, error) {
	snap, err := s.st.Get(ctx, domain.SessionPath(code))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("arbiter: session %s not found", code))
	}

	var session domain.Session
	if err := snap.Decode(&session); err != nil {
		return nil, errors.Internal(err)
	}

	return &session, nil
}

func staleWrite(code, reason string) error {
	return errors.New(errors.CodeStaleWrite,
		errors.WithMessagef("arbiter: %s: %s", code, reason))
}
