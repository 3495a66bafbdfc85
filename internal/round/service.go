// Package round owns the round lifecycle: readying up, the
// waiting -> playing -> finished transitions, advancing to the next
// round and game-over. There is no authoritative process, so every
// transition is written optimistically and designed to be a safe no-op
// when another client already performed it.
package round

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/minhtp/drawdash/internal/arbiter"
	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/errors"
	"github.com/minhtp/drawdash/internal/event"
	"github.com/minhtp/drawdash/internal/scoring"
	"github.com/minhtp/drawdash/internal/store"
	"github.com/minhtp/drawdash/internal/words"
)

// DefaultGrace is how long a round stays in waiting before any client
// may force-start it past unready players.
const DefaultGrace = 5 * time.Second

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Arbiter  *arbiter.Service

	Grace    time.Duration
	Now      func() time.Time
	PickWord func(categories []string, previous string) string
}

type Service struct {
	st  store.Store
	eb  *event.Bus
	arb *arbiter.Service

	grace time.Duration
	now   func() time.Time
	pick  func([]string, string) string
}

func NewService(c Config) *Service {
	s := &Service{
		st:    c.Store,
		eb:    c.EventBus,
		arb:   c.Arbiter,
		grace: c.Grace,
		now:   c.Now,
		pick:  c.PickWord,
	}

	if s.grace <= 0 {
		s.grace = DefaultGrace
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pick == nil {
		s.pick = words.Pick
	}

	return s
}

// Start begins the game: host-only, session must still be waiting.
// Round 1 enters the waiting (ready-up) phase.
func (s *Service) Start(ctx context.Context, code, playerID string, categories []string) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if session.HostID != playerID {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("round: only the host can start session %s", code))
	}
	if session.Status != domain.StatusWaiting {
		return errors.New(errors.CodeAlreadyStarted,
			errors.WithMessagef("round: session %s already started", code))
	}

	fields := map[string]any{
		"status":          domain.StatusPlaying,
		"currentRound":    1,
		"currentWord":     s.pick(categories, session.PreviousWord),
		"previousWord":    "",
		"roundStatus":     domain.StatusWaiting,
		"roundWaitingAt":  s.now().UnixMilli(),
		"roundStartTime":  nil,
		"roundWinner":     nil,
		"roundWinnerKind": nil,
		"currentDrawing":  nil,
	}

	if session.Mode == domain.ModeTeam {
		ids := session.PlayerIDs()
		fields["currentDrawerId"] = ids[randIndex(len(ids))]
	}

	resetPlayers(session, fields)

	if err := s.st.Update(ctx, domain.SessionPath(code), fields); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventGameStarted{Code: code, Mode: session.Mode})

	return nil
}

// MarkReady records the player's readiness, then transitions the round
// to playing once every known player is ready. Several clients may
// observe "all ready" at once; the transition write is idempotent.
func (s *Service) MarkReady(ctx context.Context, code, playerID string) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if _, ok := session.Players[playerID]; !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("round: player %s not in session %s", playerID, code))
	}

	err = s.st.Update(ctx, domain.SessionPath(code), map[string]any{
		domain.PlayerField(playerID, "isReady"): true,
	})
	if err != nil {
		return err
	}

	// Fresh read: other ready writes may have landed in the meantime.
	session, err = s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if session.AllReady() && session.RoundStatus == domain.StatusWaiting {
		return s.beginPlaying(ctx, session)
	}

	return nil
}

// ForceStart begins the round past unready players. Calls that land
// before the grace period has elapsed since the round entered waiting
// are rejected; it is a no-op once another actor has advanced the
// status.
func (s *Service) ForceStart(ctx context.Context, code string) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if session.Status != domain.StatusPlaying || session.RoundStatus != domain.StatusWaiting {
		return nil
	}

	if waited := s.now().Sub(time.UnixMilli(session.RoundWaitingAt)); waited < s.grace {
		return errors.New(errors.CodeStaleWrite,
			errors.WithMessagef("round: session %s is %s into a %s ready-up grace period", code, waited, s.grace))
	}

	return s.beginPlaying(ctx, session)
}

func (s *Service) beginPlaying(ctx context.Context, session *domain.Session) error {
	err := s.st.Update(ctx, domain.SessionPath(session.Code), map[string]any{
		"roundStatus":    domain.StatusPlaying,
		"roundStartTime": s.now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventRoundStarted{
		Code:  session.Code,
		Round: session.CurrentRound,
	})

	return nil
}

// SubmitResult records a player's completion claim. The player's own
// fields are written unconditionally; a successful claim then contends
// for the RACE round win. Out-of-range claim values are clamped.
func (s *Service) SubmitResult(ctx context.Context, code, playerID string, success bool, confidence float64, timeRemaining time.Duration) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if _, ok := session.Players[playerID]; !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("round: player %s not in session %s", playerID, code))
	}

	confidence = scoring.ClampConfidence(confidence)
	timeRemaining = scoring.ClampTimeRemaining(timeRemaining, session.RoundDuration())

	err = s.st.Update(ctx, domain.SessionPath(code), map[string]any{
		domain.PlayerField(playerID, "hasFinishedRound"): true,
		domain.PlayerField(playerID, "finishTime"):       s.now().UnixMilli(),
		domain.PlayerField(playerID, "confidence"):       confidence,
	})
	if err != nil {
		return err
	}

	err = s.arb.ResolveRaceClaim(ctx, code, playerID, arbiter.Claim{
		Success:       success,
		Confidence:    confidence,
		TimeRemaining: timeRemaining,
	})
	if errors.IsStaleWrite(err) {
		// Losing the race is the expected outcome for all but one claim.
		return nil
	}

	return err
}

// Advance moves the session past the round the caller observed ending,
// or to game-over past maxRounds. Callable by any client; fromRound is
// the round number the caller saw finish. The duplicate guard re-reads
// the session immediately before writing and aborts with StaleWrite
// when another client already advanced the same round. Still
// check-then-act: under true simultaneity two advances can both pass,
// costing one cosmetic extra transition, never corrupted state.
func (s *Service) Advance(ctx context.Context, code string, fromRound int, categories []string) error {
	next := fromRound + 1

	// Fresh read for the duplicate-advance check.
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}
	if session.CurrentRound == next && session.RoundStatus == domain.StatusWaiting {
		return errors.New(errors.CodeStaleWrite,
			errors.WithMessagef("round: session %s already advanced to round %d", code, next))
	}

	if next > session.MaxRounds {
		if session.Status == domain.StatusFinished {
			return errors.New(errors.CodeStaleWrite,
				errors.WithMessagef("round: session %s already finished", code))
		}

		err := s.st.Update(ctx, domain.SessionPath(code), map[string]any{
			"status": domain.StatusFinished,
		})
		if err != nil {
			return err
		}

		s.eb.Publish(ctx, domain.EventGameEnded{Code: code})

		return nil
	}

	fields := map[string]any{
		"currentRound":    next,
		"currentWord":     s.pick(categories, session.CurrentWord),
		"previousWord":    session.CurrentWord,
		"roundStatus":     domain.StatusWaiting,
		"roundWaitingAt":  s.now().UnixMilli(),
		"roundStartTime":  nil,
		"roundWinner":     nil,
		"roundWinnerKind": nil,
		"currentDrawing":  nil,
	}

	if session.Mode == domain.ModeTeam {
		fields["currentDrawerId"] = session.NextDrawer()
	}

	resetPlayers(session, fields)

	if err := s.st.Update(ctx, domain.SessionPath(code), fields); err != nil {
		return err
	}

	if session.Mode == domain.ModeTeam {
		if err := s.st.Set(ctx, domain.ChatPath(code), []domain.ChatMessage{}); err != nil {
			return err
		}
	}

	s.eb.Publish(ctx, domain.EventRoundAdvanced{Code: code, Round: next})

	return nil
}

// Timeout is the endpoint every client's local countdown races into
// when it hits zero. The first caller finishes the round with no
// winner and advances; the rest no-op.
func (s *Service) Timeout(ctx context.Context, code string, categories []string) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	// A waiting round has no running timer; a stale timeout that lands
	// after another client already advanced must not advance again.
	if session.RoundStatus == domain.StatusWaiting {
		return nil
	}

	if session.RoundStatus == domain.StatusPlaying {
		err := s.st.Update(ctx, domain.SessionPath(code), map[string]any{
			"roundStatus":     domain.StatusFinished,
			"roundWinnerKind": domain.WinnerNone,
		})
		if err != nil {
			return err
		}

		s.eb.Publish(ctx, domain.EventRoundFinished{
			Code:       code,
			Round:      session.CurrentRound,
			WinnerKind: domain.WinnerNone,
		})
	}

	err = s.Advance(ctx, code, session.CurrentRound, categories)
	if errors.IsStaleWrite(err) {
		return nil
	}

	return err
}

// UpdateDrawing publishes the drawer's canvas to the session (TEAM
// mode). Cleared on advance and on drawer reassignment.
func (s *Service) UpdateDrawing(ctx context.Context, code, playerID, dataURL string) error {
	session, err := s.getSession(ctx, code)
	if err != nil {
		return err
	}

	if session.Mode != domain.ModeTeam {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("round: session %s has no shared canvas", code))
	}
	if session.CurrentDrawerID != playerID {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("round: player %s is not the drawer in session %s", playerID, code))
	}

	return s.st.Update(ctx, domain.SessionPath(code), map[string]any{
		"currentDrawing":    dataURL,
		"lastDrawingUpdate": s.now().UnixMilli(),
	})
}

// resetPlayers clears every player's per-round fields.
func resetPlayers(session *domain.Session, fields map[string]any) {
	for id := range session.Players {
		fields[domain.PlayerField(id, "isReady")] = false
		fields[domain.PlayerField(id, "hasFinishedRound")] = false
		fields[domain.PlayerField(id, "finishTime")] = nil
		fields[domain.PlayerField(id, "confidence")] = 0
	}
}

func randIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(err)
	}

	return int(i.Int64())
}

func (s *Service) getSession(ctx context.Context, code string) (*domain.Session, error) {
	snap, err := s.st.Get(ctx, domain.SessionPath(code))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("round: session %s not found", code))
	}

	var session domain.Session
	if err := snap.Decode(&session); err != nil {
		return nil, errors.Internal(err)
	}

	return &session, nil
}
