// Package chat keeps the per-session guess log: an append-only,
// bounded array document in the store. In TEAM mode a correct human
// guess posted here is what ends the round.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/minhtp/drawdash/internal/arbiter"
	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/errors"
	"github.com/minhtp/drawdash/internal/event"
	"github.com/minhtp/drawdash/internal/store"
)

// DefaultLimit is how many trailing messages the log retains.
const DefaultLimit = 50

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Arbiter  *arbiter.Service

	Limit int
	Now   func() time.Time
	NewID func() string
}

type Service struct {
	st  store.Store
	eb  *event.Bus
	arb *arbiter.Service

	limit int
	now   func() time.Time
	newID func() string
}

func NewService(c Config) *Service {
	s := &Service{
		st:    c.Store,
		eb:    c.EventBus,
		arb:   c.Arbiter,
		limit: c.Limit,
		now:   c.Now,
		newID: c.NewID,
	}

	if s.limit <= 0 {
		s.limit = DefaultLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	return s
}

// Post appends a message to the session's log. A message flagged as a
// correct guess from a human sender additionally resolves the round in
// favor of the humans; losing that race is silently absorbed.
func (s *Service) Post(ctx context.Context, code, playerID, name, text string, isCorrect bool) (*domain.ChatMessage, error) {
	msg := domain.ChatMessage{
		ID:        s.newID(),
		SenderID:  playerID,
		Name:      name,
		Text:      text,
		IsCorrect: isCorrect,
		Timestamp: s.now().UnixMilli(),
	}

	log, err := s.Messages(ctx, code)
	if err != nil {
		return nil, err
	}

	log = append(log, msg)
	if len(log) > s.limit {
		log = log[len(log)-s.limit:]
	}

	if err := s.st.Set(ctx, domain.ChatPath(code), log); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventChatPosted{Code: code, Message: msg})

	if isCorrect && playerID != domain.AIPlayerID {
		err := s.arb.ResolveHumanGuess(ctx, code, playerID)
		if err != nil && !errors.IsStaleWrite(err) {
			return nil, err
		}
	}

	return &msg, nil
}

// Messages reads the current log; a session with no chat yet yields an
// empty slice.
func (s *Service) Messages(ctx context.Context, code string) ([]domain.ChatMessage, error) {
	snap, err := s.st.Get(ctx, domain.ChatPath(code))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return []domain.ChatMessage{}, nil
	}

	var log []domain.ChatMessage
	if err := snap.Decode(&log); err != nil {
		return nil, errors.Internal(err)
	}

	return log, nil
}

// Watch streams the full log after every observed write.
func (s *Service) Watch(ctx context.Context, code string) (<-chan []domain.ChatMessage, func() error, error) {
	sub, err := s.st.Subscribe(ctx, domain.ChatPath(code))
	if err != nil {
		return nil, nil, err
	}

	updates := make(chan []domain.ChatMessage, 16)

	go func() {
		defer close(updates)

		for ev := range sub.Events() {
			var log []domain.ChatMessage
			if ev.Data != nil {
				if err := store.NewSnapshot(ev.Path, ev.Data).Decode(&log); err != nil {
					continue
				}
			}

			select {
			case updates <- log:
			default:
			}
		}
	}()

	return updates, sub.Close, nil
}

// Clear empties the log, done at each TEAM round rollover.
func (s *Service) Clear(ctx context.Context, code string) error {
	return s.st.Set(ctx, domain.ChatPath(code), []domain.ChatMessage{})
}
